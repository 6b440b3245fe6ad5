package cell

import (
	"math/rand"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
	"gorgonia.org/tensor/native"

	"github.com/gorgonia/onlinelstm/kernels"
)

const (
	beta1   float32 = 0.9
	beta2   float32 = 0.999
	epsilon float32 = 1e-6

	initRange float32 = 0.2
)

type activation func(float32) float32

func sigmoid(x float32) float32 { return 1 / (1 + math32.Exp(-x)) }

func tanh(x float32) float32 { return 1 - 2/(math32.Exp(2*x)+1) }

// gate is one group of neurons sharing an input record: a weight row per cell
// plus the Adam state for those weights.
type gate struct {
	weights  [][]float32 // cells × (record + alphabet)
	gradient [][]float32 // accumulated over one backward sweep
	moment   [][]float32
	velocity [][]float32

	state [][]float32 // horizon × cells, activations per epoch
	err   []float32   // cells, error at the pre-activation of the current epoch

	act       activation
	recordLen int
}

func matrix(rows, cols int) (*tensor.Dense, [][]float32, error) {
	t := tensor.New(tensor.WithShape(rows, cols), tensor.Of(tensor.Float32))
	m, err := native.MatrixF32(t)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "view %d×%d matrix", rows, cols)
	}
	return t, m, nil
}

func newGate(conf Config, act activation, r *rand.Rand) (*gate, error) {
	cols := conf.columns()
	w, weights, err := matrix(conf.Cells, cols)
	if err != nil {
		return nil, err
	}
	data := w.Data().([]float32)
	for i := range data {
		data[i] = (r.Float32()*2 - 1) * initRange
	}

	g := &gate{
		weights:   weights,
		state:     make([][]float32, conf.Horizon),
		err:       make([]float32, conf.Cells),
		act:       act,
		recordLen: conf.InputSize,
	}
	if _, g.gradient, err = matrix(conf.Cells, cols); err != nil {
		return nil, err
	}
	if _, g.moment, err = matrix(conf.Cells, cols); err != nil {
		return nil, err
	}
	if _, g.velocity, err = matrix(conf.Cells, cols); err != nil {
		return nil, err
	}
	backing := make([]float32, conf.Horizon*conf.Cells)
	for e := range g.state {
		g.state[e] = backing[e*conf.Cells : (e+1)*conf.Cells]
	}
	return g, nil
}

func (g *gate) forward(k kernels.Kernel, record []float32, symbol, epoch int) {
	state := g.state[epoch]
	for i, row := range g.weights {
		state[i] = g.act(k.Dot(record, row[:g.recordLen]) + row[g.recordLen+symbol])
	}
}

func (g *gate) clip(limit float32) {
	if limit <= 0 {
		return
	}
	for i, e := range g.err {
		if e > limit {
			g.err[i] = limit
		} else if e < -limit {
			g.err[i] = -limit
		}
	}
}

// backward accumulates the weight gradient for one epoch and routes the gate
// error to the inputs that came from other cells: the layer below at the same
// epoch (hiddenError) and this layer's own output one epoch earlier (stored).
func (g *gate) backward(conf Config, record []float32, epoch, layer, symbol int, hiddenError, stored []float32) {
	if epoch == conf.Horizon-1 {
		for _, row := range g.gradient {
			for j := range row {
				row[j] = 0
			}
		}
	}
	own := conf.AuxInputSize
	below := conf.AuxInputSize + conf.Cells
	for i, e := range g.err {
		w := g.weights[i]
		if layer > 0 {
			for j := range hiddenError {
				hiddenError[j] += e * w[below+j]
			}
		}
		if epoch > 0 {
			for j := range stored {
				stored[j] += e * w[own+j]
			}
		}
		grad := g.gradient[i]
		for j, x := range record {
			grad[j] += e * x
		}
		grad[g.recordLen+symbol] += e
	}
}

// adam applies the accumulated gradient with bias correction for step t.
func (g *gate) adam(lr float32, t uint64) {
	c1 := 1 - math32.Pow(beta1, float32(t))
	c2 := 1 - math32.Pow(beta2, float32(t))
	for i, w := range g.weights {
		grad, m, v := g.gradient[i], g.moment[i], g.velocity[i]
		for j := range w {
			m[j] = beta1*m[j] + (1-beta1)*grad[j]
			v[j] = beta2*v[j] + (1-beta2)*grad[j]*grad[j]
			w[j] -= lr * (m[j] / c1) / (math32.Sqrt(v[j]/c2) + epsilon)
		}
	}
}
