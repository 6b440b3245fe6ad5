package onlinelstm

import (
	"math/rand"

	"github.com/gorgonia/onlinelstm/cell"
	"github.com/gorgonia/onlinelstm/kernels"
)

// Predictor is anything that predicts a distribution over the next symbol and
// learns from the symbol that actually occurred.
type Predictor interface {
	// Predict runs a forward step fed with symbol and returns the distribution for the next one.
	Predict(symbol int) []float32
	// Perceive learns from the observed symbol and returns the next distribution.
	Perceive(observed int) []float32
}

// Layer is one recurrent layer of the stack. *cell.Layer is the default implementation.
type Layer interface {
	// ForwardPass writes the layer output into hidden[offset:offset+cells].
	ForwardPass(input []float32, symbol int, hidden []float32, offset int)
	// BackwardPass consumes the error at the layer output for one epoch of a sweep.
	BackwardPass(input []float32, epoch, layer, symbol int, hiddenError []float32)
	// Weights lists the layer's weight tensors in a stable order, used for persistence.
	Weights() [][][]float32
	UpdateSteps() uint64
	SetUpdateSteps(n uint64)
}

// LayerFactory builds the layer at the given depth. Layers are built bottom up
// from one random source.
type LayerFactory func(depth int, conf cell.Config, k kernels.Kernel, r *rand.Rand) (Layer, error)

func newCellLayer(depth int, conf cell.Config, k kernels.Kernel, r *rand.Rand) (Layer, error) {
	l, err := cell.New(conf, k, r)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Cycle is a completed horizon of predictions. The slices alias the ring
// buffer and are only valid during the call to OutputEncoder.Encode.
type Cycle struct {
	Sweep   int         // 1-based index of the sweep that closed the cycle
	Outputs [][]float32 // distribution predicted at each epoch
	Targets []int       // symbol observed at each epoch
}

// OutputEncoder consumes completed horizon cycles.
//
// An example OutputEncoder is heatmap.Encoder. Another example would be a logger.
type OutputEncoder interface {
	Encode(c Cycle) error
	Flush() error
}
