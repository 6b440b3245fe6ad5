// Package cell implements a single LSTM layer for online sequence prediction.
//
// The forget gate f is coupled to the input gate (input = 1-f). Every gate row
// carries one extra weight per symbol of the alphabet, which acts as a one-hot
// embedding of the symbol fed alongside the input record.
package cell

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/gorgonia/onlinelstm/internal/horizon"
	"github.com/gorgonia/onlinelstm/kernels"
)

// Layer is one LSTM layer. It keeps the activations of the last Horizon
// forward passes so that BackwardPass can walk them in reverse.
type Layer struct {
	conf Config
	k    kernels.Kernel

	forget, node, output *gate

	state      []float32   // live cell state
	lastState  [][]float32 // cell state before each epoch's forward pass
	tanhState  [][]float32
	inputGate  [][]float32
	stateError []float32
	stored     []float32 // error flowing into the layer output, carried to the previous epoch

	epoch horizon.Epoch
	steps uint64
}

// New creates a layer. The weights are drawn from r, so layers built from the
// same source in the same order are identical.
func New(conf Config, k kernels.Kernel, r *rand.Rand) (*Layer, error) {
	if !conf.IsValid() {
		return nil, errors.Errorf("invalid layer config %+v", conf)
	}
	if k == nil {
		k = kernels.Scalar
	}
	l := &Layer{
		conf:       conf,
		k:          k,
		state:      make([]float32, conf.Cells),
		lastState:  perEpoch(conf.Horizon, conf.Cells),
		tanhState:  perEpoch(conf.Horizon, conf.Cells),
		inputGate:  perEpoch(conf.Horizon, conf.Cells),
		stateError: make([]float32, conf.Cells),
		stored:     make([]float32, conf.Cells),
		epoch:      horizon.Start(conf.Horizon),
	}
	var err error
	if l.forget, err = newGate(conf, sigmoid, r); err != nil {
		return nil, errors.WithMessage(err, "forget gate")
	}
	if l.node, err = newGate(conf, tanh, r); err != nil {
		return nil, errors.WithMessage(err, "input node")
	}
	if l.output, err = newGate(conf, sigmoid, r); err != nil {
		return nil, errors.WithMessage(err, "output gate")
	}
	return l, nil
}

func perEpoch(h, n int) [][]float32 {
	backing := make([]float32, h*n)
	retVal := make([][]float32, h)
	for e := range retVal {
		retVal[e] = backing[e*n : (e+1)*n]
	}
	return retVal
}

// Config returns the configuration the layer was built with.
func (l *Layer) Config() Config { return l.conf }

// ForwardPass runs one timestep on input and writes the layer output into
// hidden[offset : offset+Cells].
func (l *Layer) ForwardPass(input []float32, symbol int, hidden []float32, offset int) {
	l.check(input, symbol)
	e := l.epoch.Index()
	copy(l.lastState[e], l.state)

	l.forget.forward(l.k, input, symbol, e)
	l.node.forward(l.k, input, symbol, e)
	l.output.forward(l.k, input, symbol, e)

	f, n, o := l.forget.state[e], l.node.state[e], l.output.state[e]
	ig, ts := l.inputGate[e], l.tanhState[e]
	for i := range l.state {
		ig[i] = 1 - f[i]
		l.state[i] = l.state[i]*f[i] + n[i]*ig[i]
		ts[i] = tanh(l.state[i])
		hidden[offset+i] = o[i] * ts[i]
	}
	l.epoch = l.epoch.Next()
}

// BackwardPass consumes hiddenError, the error at this layer's output for the
// given epoch. The slots it reads are zeroed. For layer > 0 the error routed
// to the layer below is added into hiddenError.
//
// Epochs must be visited from Horizon-1 down to 0. Gradients are accumulated
// over the sweep and applied with Adam at epoch 0.
func (l *Layer) BackwardPass(input []float32, epoch, layer, symbol int, hiddenError []float32) {
	l.check(input, symbol)
	if len(hiddenError) != l.conf.Cells {
		panic(errors.Errorf("hidden error has %d slots, want %d", len(hiddenError), l.conf.Cells))
	}
	last := epoch == l.conf.Horizon-1

	f, n, o := l.forget.state[epoch], l.node.state[epoch], l.output.state[epoch]
	ig, ts, prev := l.inputGate[epoch], l.tanhState[epoch], l.lastState[epoch]
	for i := range l.stored {
		if last {
			l.stored[i] = hiddenError[i]
			l.stateError[i] = 0
		} else {
			l.stored[i] += hiddenError[i]
		}
		l.output.err[i] = ts[i] * l.stored[i] * o[i] * (1 - o[i])
		l.stateError[i] += l.stored[i] * o[i] * (1 - ts[i]*ts[i])
		l.node.err[i] = l.stateError[i] * ig[i] * (1 - n[i]*n[i])
		l.forget.err[i] = (prev[i] - n[i]) * l.stateError[i] * f[i] * (1 - f[i])

		hiddenError[i] = 0
		if epoch > 0 {
			l.stateError[i] *= f[i]
			l.stored[i] = 0
		}
	}

	if epoch == 0 {
		l.steps++
	}
	for _, g := range l.gates() {
		g.clip(l.conf.GradientClip)
		g.backward(l.conf, input, epoch, layer, symbol, hiddenError, l.stored)
		if epoch == 0 {
			g.adam(l.conf.LearningRate, l.steps)
		}
	}
}

func (l *Layer) gates() [3]*gate { return [3]*gate{l.forget, l.node, l.output} }

// Weights returns the gate weight matrices in a fixed order: forget gate,
// input node, output gate. The rows alias the layer's storage.
func (l *Layer) Weights() [][][]float32 {
	return [][][]float32{l.forget.weights, l.node.weights, l.output.weights}
}

// UpdateSteps is the number of Adam updates applied so far.
func (l *Layer) UpdateSteps() uint64 { return l.steps }

// SetUpdateSteps overwrites the Adam step counter.
func (l *Layer) SetUpdateSteps(n uint64) { l.steps = n }

func (l *Layer) check(input []float32, symbol int) {
	if len(input) != l.conf.InputSize {
		panic(errors.Errorf("input record has %d values, want %d", len(input), l.conf.InputSize))
	}
	if symbol < 0 || symbol >= l.conf.OutputSize {
		panic(errors.Errorf("symbol %d out of range [0, %d)", symbol, l.conf.OutputSize))
	}
}
