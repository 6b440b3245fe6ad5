// Package onlinelstm is a streaming LSTM symbol predictor that learns online.
//
// Every step the caller feeds the observed symbol to Perceive, which adapts the
// output projection, runs a truncated backpropagation sweep through the layers
// once per horizon, and returns the distribution for the next symbol.
package onlinelstm

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
	"gorgonia.org/tensor/native"

	"github.com/gorgonia/onlinelstm/internal/horizon"
	"github.com/gorgonia/onlinelstm/kernels"
)

// LSTM is the predictor. It is not safe for concurrent use.
type LSTM struct {
	Statistics

	conf   Config
	layers []Layer

	// ring buffer, indexed by epoch
	records [][][]float32 // epoch × layer × record
	weights [][][]float32 // epoch × output × hidden; one projection matrix per epoch
	outputs [][]float32   // epoch × output
	history []int         // observed symbol per epoch

	hidden      []float32 // live output of every layer plus a bias unit
	hiddenError []float32

	epoch         horizon.Epoch
	sweeps        int
	savedTimestep uint64

	k        kernels.Kernel
	newLayer LayerFactory
	log      logrus.FieldLogger
	outEnc   OutputEncoder
}

// New creates a predictor. It panics if conf is not valid.
func New(conf Config, opts ...ConsOpt) *LSTM {
	if !conf.IsValid() {
		panic(fmt.Sprintf("invalid config %+v. Unable to proceed", conf))
	}
	l := &LSTM{
		conf:     conf,
		newLayer: newCellLayer,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.k == nil {
		l.k = kernels.Detect()
	}
	if err := l.init(); err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	l.log.WithFields(logrus.Fields{
		"input":   conf.InputSize,
		"output":  conf.OutputSize,
		"cells":   conf.Cells,
		"layers":  conf.Layers,
		"horizon": conf.Horizon,
		"kernel":  l.k.Name(),
	}).Debug("created predictor")
	return l
}

func (l *LSTM) init() error {
	conf := l.conf
	h := conf.Horizon

	l.records = make([][][]float32, h)
	for e := range l.records {
		l.records[e] = make([][]float32, conf.Layers)
		for i := range l.records[e] {
			rec := make([]float32, conf.recordSize(i))
			rec[len(rec)-1] = 1
			l.records[e][i] = rec
		}
	}

	w := tensor.New(tensor.WithShape(h, conf.OutputSize, conf.hiddenSize()), tensor.Of(tensor.Float32))
	var err error
	if l.weights, err = native.Tensor3F32(w); err != nil {
		return errors.Wrap(err, "output weight ring")
	}
	out := tensor.New(tensor.WithShape(h, conf.OutputSize), tensor.Of(tensor.Float32))
	if err = out.Memset(1 / float32(conf.OutputSize)); err != nil {
		return errors.Wrap(err, "output ring")
	}
	if l.outputs, err = native.MatrixF32(out); err != nil {
		return errors.Wrap(err, "output ring")
	}

	l.history = make([]int, h)
	l.hidden = make([]float32, conf.hiddenSize())
	l.hidden[len(l.hidden)-1] = 1
	l.hiddenError = make([]float32, conf.Cells)
	l.epoch = horizon.Start(h)
	l.Statistics = makeStatistics(h, l.Statistics.perCycle)

	r := rand.New(rand.NewSource(conf.Seed))
	l.layers = make([]Layer, conf.Layers)
	for i := range l.layers {
		if l.layers[i], err = l.newLayer(i, conf.layerConf(i), l.k, r); err != nil {
			return errors.WithMessage(err, fmt.Sprintf("layer %d", i))
		}
	}
	return nil
}

// SetInput copies the external features for the coming step into every layer's input record.
func (l *LSTM) SetInput(features []float32) {
	if len(features) != l.conf.InputSize {
		panic(fmt.Sprintf("got %d features, want %d", len(features), l.conf.InputSize))
	}
	for _, rec := range l.records[l.epoch.Index()] {
		copy(rec, features)
	}
}

// Predict runs the layers bottom up on symbol and the current features, then
// computes the next symbol's distribution. The returned slice aliases the ring
// buffer and is overwritten Horizon steps later.
func (l *LSTM) Predict(symbol int) []float32 {
	l.checkSymbol(symbol)
	e := l.epoch.Index()
	c, ins := l.conf.Cells, l.conf.InputSize
	recs := l.records[e]
	for i, layer := range l.layers {
		own := l.hidden[i*c : (i+1)*c]
		copy(recs[i][ins:ins+c], own)
		layer.ForwardPass(recs[i], symbol, l.hidden, i*c)
		if i < len(l.layers)-1 {
			copy(recs[i+1][ins+c:ins+2*c], own)
		}
	}
	l.k.Softmax(l.outputs[e], l.hidden, l.weights[e])
	l.epoch = l.epoch.Next()
	return l.outputs[e]
}

// Perceive learns from the symbol observed after the last prediction and
// returns the distribution for the symbol after it.
func (l *LSTM) Perceive(observed int) []float32 {
	l.checkSymbol(observed)
	last := l.epoch.Prev().Index()
	old := l.history[last]
	l.history[last] = observed
	l.Statistics.observe(l.outputs[last][observed])

	if l.epoch.Wrapped() {
		l.sweep(old)
		l.Statistics.closeCycle()
	}
	l.project(last, observed)
	return l.Predict(observed)
}

// sweep backpropagates through every buffered epoch, newest first, and through
// the layers top down. boundary is the symbol that was fed to the oldest epoch.
func (l *LSTM) sweep(boundary int) {
	c := l.conf.Cells
	for ep := l.conf.Horizon - 1; ep >= 0; ep-- {
		for j := range l.hiddenError {
			l.hiddenError[j] = 0
		}
		out, target := l.outputs[ep], l.history[ep]
		symbol := boundary
		if ep > 0 {
			symbol = l.history[ep-1]
		}
		for i := len(l.layers) - 1; i >= 0; i-- {
			off := i * c
			for k, p := range out {
				err := p
				if k == target {
					err--
				}
				for j, w := range l.weights[ep][k][off : off+c] {
					l.hiddenError[j] += w * err
				}
			}
			l.layers[i].BackwardPass(l.records[ep][i], ep, i, symbol, l.hiddenError)
		}
	}
	l.sweeps++

	if l.outEnc == nil {
		return
	}
	if err := l.outEnc.Encode(Cycle{Sweep: l.sweeps, Outputs: l.outputs, Targets: l.history}); err != nil {
		l.log.WithError(err).WithField("sweep", l.sweeps).Error("output encoder failed")
	}
}

// project takes one gradient step on the output projection from the
// prediction made at epoch last, writing the result into the current epoch's matrix.
func (l *LSTM) project(last, observed int) {
	lr := l.conf.LearningRate
	src, dst := l.weights[last], l.weights[l.epoch.Index()]
	for i, p := range l.outputs[last] {
		err := p
		if i == observed {
			err--
		}
		for j, h := range l.hidden {
			dst[i][j] = src[i][j] - lr*err*h
		}
	}
}

func (l *LSTM) checkSymbol(s int) {
	if s < 0 || s >= l.conf.OutputSize {
		panic(fmt.Sprintf("symbol %d out of range [0, %d)", s, l.conf.OutputSize))
	}
}

// SaveTimeStep remembers the layers' update step counter.
func (l *LSTM) SaveTimeStep() { l.savedTimestep = l.layers[0].UpdateSteps() }

// RestoreTimeStep resets every layer's update step counter to the saved value.
func (l *LSTM) RestoreTimeStep() {
	for _, layer := range l.layers {
		layer.SetUpdateSteps(l.savedTimestep)
	}
}

// Config returns the configuration the predictor was built with.
func (l *LSTM) Config() Config { return l.conf }

// Kernel returns the kernel used for the output softmax.
func (l *LSTM) Kernel() kernels.Kernel { return l.k }

// Layers returns the recurrent layers, bottom first.
func (l *LSTM) Layers() []Layer { return l.layers }

// Epoch is the ring slot the next Predict writes.
func (l *LSTM) Epoch() int { return l.epoch.Index() }

// Sweeps is the number of backpropagation sweeps run so far.
func (l *LSTM) Sweeps() int { return l.sweeps }

// Hidden returns the live hidden vector. The slice aliases internal state.
func (l *LSTM) Hidden() []float32 { return l.hidden }

// lastEpoch is the slot of the most recent prediction, which also holds the
// most recently updated output projection.
func (l *LSTM) lastEpoch() int { return l.epoch.Prev().Index() }

// OutputWeights returns the output projection matrix at the most recent epoch.
func (l *LSTM) OutputWeights() [][]float32 { return l.weights[l.lastEpoch()] }
