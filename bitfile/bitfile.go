// Package bitfile reads and writes fields of arbitrary bit width, packed MSB
// first with no padding between fields, as well as raw byte blocks.
package bitfile

import (
	"bufio"
	"io"
	"os"

	"github.com/icza/bitio"
	"github.com/pkg/errors"
)

// Writer packs bit fields into an underlying writer.
type Writer struct {
	buf *bufio.Writer
	bw  *bitio.Writer
	c   io.Closer
}

// Create truncates or creates the file at path and returns a Writer over it.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	w := NewWriter(f)
	w.c = f
	return w, nil
}

// NewWriter returns a Writer over w. Closing the returned Writer flushes it but
// does not close w.
func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	return &Writer{
		buf: buf,
		bw:  bitio.NewWriter(buf),
	}
}

// PutBits writes the n low bits of v, most significant first.
func (w *Writer) PutBits(v uint32, n uint) error {
	if n == 0 {
		return nil
	}
	if n > 32 {
		return errors.Errorf("cannot write %d bits from a 32 bit value", n)
	}
	v64 := uint64(v) & (uint64(1)<<n - 1)
	if err := w.bw.WriteBits(v64, uint8(n)); err != nil {
		return errors.Wrapf(err, "write %d bits", n)
	}
	return nil
}

// BlockWrite writes p as whole bytes.
func (w *Writer) BlockWrite(p []byte) error {
	if _, err := w.bw.Write(p); err != nil {
		return errors.Wrapf(err, "write block of %d bytes", len(p))
	}
	return nil
}

// Flush pads the pending bits with zeros up to a byte boundary and flushes
// them to the underlying writer.
func (w *Writer) Flush() error {
	if _, err := w.bw.Align(); err != nil {
		return errors.Wrap(err, "align")
	}
	if err := w.buf.Flush(); err != nil {
		return errors.Wrap(err, "flush")
	}
	return nil
}

// Close flushes the writer and closes the file if it was opened by Create.
func (w *Writer) Close() error {
	err := w.Flush()
	if w.c != nil {
		if cerr := w.c.Close(); err == nil && cerr != nil {
			err = errors.WithStack(cerr)
		}
	}
	return err
}

// Reader unpacks bit fields from an underlying reader.
type Reader struct {
	br *bitio.Reader
	c  io.Closer
}

// Open opens the file at path for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	r := NewReader(f)
	r.c = f
	return r, nil
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bitio.NewReader(bufio.NewReader(r))}
}

// GetBits reads an n bit field. At the end of the input it returns io.EOF or
// io.ErrUnexpectedEOF.
func (r *Reader) GetBits(n uint) (uint32, error) {
	if n == 0 {
		return 0, nil
	}
	if n > 32 {
		return 0, errors.Errorf("cannot read %d bits into a 32 bit value", n)
	}
	v, err := r.br.ReadBits(uint8(n))
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// BlockRead fills p and returns the number of bytes read. A short read returns
// the count together with io.ErrUnexpectedEOF or io.EOF.
func (r *Reader) BlockRead(p []byte) (int, error) {
	return io.ReadFull(r.br, p)
}

// Close closes the file if the Reader was opened by Open.
func (r *Reader) Close() error {
	if r.c == nil {
		return nil
	}
	return errors.WithStack(r.c.Close())
}
