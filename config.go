package onlinelstm

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gorgonia/onlinelstm/cell"
	"github.com/gorgonia/onlinelstm/kernels"
	"github.com/gorgonia/onlinelstm/posit"
)

// Config configures the predictor. Every size is fixed for the lifetime of an *LSTM.
type Config struct {
	InputSize  int // external features per step, set with SetInput
	OutputSize int // alphabet size
	Cells      int // memory cells per layer
	Layers     int
	Horizon    int // timesteps per truncated BPTT sweep

	LearningRate float32
	GradientClip float32 // 0 disables clipping in the layers
	Seed         int64   // weight initialization
}

// DefaultConf returns a configuration for an alphabet of the given size with no
// external features.
func DefaultConf(alphabet int) Config {
	return Config{
		OutputSize:   alphabet,
		Cells:        32,
		Layers:       2,
		Horizon:      40,
		LearningRate: 0.02,
		GradientClip: 2,
		Seed:         1337,
	}
}

func (conf Config) IsValid() bool {
	return conf.InputSize >= 0 &&
		conf.OutputSize >= 2 &&
		conf.Cells >= 1 &&
		conf.Layers >= 1 &&
		conf.Horizon >= 1 &&
		conf.LearningRate > 0 &&
		conf.GradientClip >= 0
}

// hiddenSize is the length of the hidden vector: every layer's output and a bias unit.
func (conf Config) hiddenSize() int { return conf.Cells*conf.Layers + 1 }

// recordSize is the length of the input record of layer i:
// features, own previous output, output of the layer below (i > 0), bias.
func (conf Config) recordSize(i int) int {
	n := conf.InputSize + conf.Cells + 1
	if i > 0 {
		n += conf.Cells
	}
	return n
}

func (conf Config) layerConf(i int) cell.Config {
	return cell.Config{
		InputSize:    conf.recordSize(i),
		AuxInputSize: conf.InputSize,
		OutputSize:   conf.OutputSize,
		Cells:        conf.Cells,
		Horizon:      conf.Horizon,
		LearningRate: conf.LearningRate,
		GradientClip: conf.GradientClip,
	}
}

// ConsOpt is a construction option for New.
type ConsOpt func(l *LSTM)

// WithKernel overrides the kernel picked by kernels.Detect.
func WithKernel(k kernels.Kernel) ConsOpt {
	return func(l *LSTM) { l.k = k }
}

// WithLayers replaces the recurrent layer constructor.
func WithLayers(f LayerFactory) ConsOpt {
	return func(l *LSTM) { l.newLayer = f }
}

// WithLogger sets the logger. The default is logrus.StandardLogger().
func WithLogger(log logrus.FieldLogger) ConsOpt {
	return func(l *LSTM) { l.log = log }
}

// WithOutputEncoder registers an encoder that receives every completed horizon cycle.
func WithOutputEncoder(enc OutputEncoder) ConsOpt {
	return func(l *LSTM) { l.outEnc = enc }
}

// WithStatistics keeps a per-cycle history in l.Statistics in addition to the running totals.
func WithStatistics() ConsOpt {
	return func(l *LSTM) { l.Statistics.perCycle = true }
}

// Quantization selects the weight file encoding. A zero BitWidth or one above
// 16 writes raw float32 values; anything else writes posit<BitWidth, Exponent>
// fields relative to a shared scale.
type Quantization struct {
	BitWidth uint
	Exponent uint
}

// Raw is the lossless float32 encoding.
var Raw = Quantization{}

// NewQuantization validates a bit width and exponent pair.
func NewQuantization(bits, exp uint) (Quantization, error) {
	q := Quantization{BitWidth: bits, Exponent: exp}
	if q.Raw() {
		return q, nil
	}
	if bits == 1 {
		return Quantization{}, errors.New("a 1 bit field cannot hold a posit")
	}
	if _, err := posit.NewFormat(bits, exp); err != nil {
		return Quantization{}, errors.Wrapf(err, "quantization %d/%d", bits, exp)
	}
	return q, nil
}

// Raw reports whether weights are stored as plain float32.
func (q Quantization) Raw() bool { return q.BitWidth == 0 || q.BitWidth > 16 }

func (q Quantization) format() posit.Format { return posit.MustFormat(q.BitWidth, q.Exponent) }

// span is the largest magnitude a field can take before the shared scale is raised above 1.
func (q Quantization) span() float32 { return q.format().MaxPos() }
