package onlinelstm

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gorgonia/onlinelstm/bitfile"
	"github.com/gorgonia/onlinelstm/posit"
)

// A weight file has no header. Fields are visited in this order: the output
// projection of the most recent epoch, then every layer bottom up, each
// layer's tensors in Weights order, rows in order.
//
// Raw files are little endian float32 values. Quantized files start with the
// shared scale as an 8 bit posit<9,1>, followed by every weight divided by the
// scale as a BitWidth wide posit<BitWidth, Exponent>, packed MSB first and
// zero padded to a whole byte.

func (l *LSTM) rows() [][]float32 {
	retVal := append([][]float32(nil), l.weights[l.lastEpoch()]...)
	for _, layer := range l.layers {
		for _, t := range layer.Weights() {
			retVal = append(retVal, t...)
		}
	}
	return retVal
}

func countFields(rows [][]float32) (n int) {
	for _, row := range rows {
		n += len(row)
	}
	return n
}

// quantScale is the smallest posit<9,1> not below max(1, maxAbs/span).
func quantScale(rows [][]float32, q Quantization) float32 {
	var maxW float32
	for _, row := range rows {
		for _, w := range row {
			if a := math32.Abs(w); a > maxW {
				maxW = a
			}
		}
	}
	return posit.Scale.Decode(posit.Scale.Ceil(math32.Max(1, maxW/q.span())))
}

// Save writes every weight to w.
func (l *LSTM) Save(w io.Writer, q Quantization) error {
	bw := bitfile.NewWriter(w)
	if err := l.save(bw, q); err != nil {
		return err
	}
	return bw.Flush()
}

// SaveToDisk writes every weight to the file at path, replacing it.
func (l *LSTM) SaveToDisk(path string, q Quantization) error {
	bw, err := bitfile.Create(path)
	if err != nil {
		return err
	}
	if err = l.save(bw, q); err != nil {
		bw.Close()
		return errors.WithMessage(err, path)
	}
	if err = bw.Close(); err != nil {
		return errors.WithMessage(err, path)
	}
	l.log.WithFields(logrus.Fields{"path": path, "bits": q.BitWidth, "exp": q.Exponent}).Info("saved weights")
	return nil
}

func (l *LSTM) save(bw *bitfile.Writer, q Quantization) error {
	rows := l.rows()
	if q.Raw() {
		var buf [4]byte
		for _, row := range rows {
			for _, v := range row {
				binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
				if err := bw.BlockWrite(buf[:]); err != nil {
					return err
				}
			}
		}
		return nil
	}

	scale := quantScale(rows, q)
	if err := bw.PutBits(posit.Scale.Encode(scale), 8); err != nil {
		return errors.WithMessage(err, "scale")
	}
	f := q.format()
	for _, row := range rows {
		for _, v := range row {
			if err := bw.PutBits(f.Encode(v/scale), q.BitWidth); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load reads weights written by Save with the same Quantization and the same
// sizes. A file that ends early is not an error: the weights past the end keep
// their value and a warning is logged.
func (l *LSTM) Load(r io.Reader, q Quantization) error {
	return l.load(bitfile.NewReader(r), q, "")
}

// LoadFromDisk reads weights from the file at path.
func (l *LSTM) LoadFromDisk(path string, q Quantization) error {
	br, err := bitfile.Open(path)
	if err != nil {
		return err
	}
	defer br.Close()
	if err = l.load(br, q, path); err != nil {
		return errors.WithMessage(err, path)
	}
	l.log.WithFields(logrus.Fields{"path": path, "bits": q.BitWidth, "exp": q.Exponent}).Info("loaded weights")
	return nil
}

func truncated(err error) bool {
	err = errors.Cause(err)
	return err == io.EOF || err == io.ErrUnexpectedEOF
}

func (l *LSTM) load(br *bitfile.Reader, q Quantization, name string) error {
	rows := l.rows()
	var read int
	var err error
	if q.Raw() {
		read, err = loadRaw(br, rows)
	} else {
		read, err = loadQuantized(br, rows, q)
	}
	switch {
	case err == nil:
	case truncated(err):
		l.log.WithFields(logrus.Fields{
			"path":    name,
			"read":    read,
			"missing": countFields(rows) - read,
		}).Warn("weight file ended early")
	default:
		return err
	}

	// every epoch starts from the loaded projection
	src := l.weights[l.lastEpoch()]
	for e, m := range l.weights {
		if e == l.lastEpoch() {
			continue
		}
		for i := range m {
			copy(m[i], src[i])
		}
	}
	return nil
}

func loadRaw(br *bitfile.Reader, rows [][]float32) (read int, err error) {
	var buf [4]byte
	for _, row := range rows {
		for j := range row {
			if _, err = br.BlockRead(buf[:]); err != nil {
				return read, err
			}
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[:]))
			read++
		}
	}
	return read, nil
}

func loadQuantized(br *bitfile.Reader, rows [][]float32, q Quantization) (read int, err error) {
	p, err := br.GetBits(8)
	if err != nil {
		return 0, err
	}
	scale := posit.Scale.Decode(p)
	f := q.format()
	for _, row := range rows {
		for j := range row {
			if p, err = br.GetBits(q.BitWidth); err != nil {
				return read, err
			}
			row[j] = f.Decode(p) * scale
			read++
		}
	}
	return read, nil
}

// GobEncode encodes every weight losslessly. The sizes are not encoded.
func (l *LSTM) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := l.Save(&buf, Raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode restores weights encoded by GobEncode into a predictor built by New
// with the same Config. Unlike Load, a short payload is an error.
func (l *LSTM) GobDecode(p []byte) error {
	if want := 4 * countFields(l.rows()); len(p) != want {
		return errors.Errorf("gob payload has %d bytes, want %d", len(p), want)
	}
	return l.Load(bytes.NewReader(p), Raw)
}
