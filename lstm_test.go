package onlinelstm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/gorgonia/onlinelstm/cell"
	"github.com/gorgonia/onlinelstm/kernels"
)

func smallConf() Config {
	return Config{
		InputSize:    4,
		OutputSize:   4,
		Cells:        2,
		Layers:       1,
		Horizon:      4,
		LearningRate: 0.01,
		GradientClip: 1,
		Seed:         1,
	}
}

func quiet(t *testing.T, conf Config, opts ...ConsOpt) *LSTM {
	logger, _ := test.NewNullLogger()
	return New(conf, append([]ConsOpt{WithLogger(logger), WithKernel(kernels.Scalar)}, opts...)...)
}

func onehot(n, i int) []float32 {
	retVal := make([]float32, n)
	retVal[i] = 1
	return retVal
}

func sum(a []float32) (s float64) {
	for _, v := range a {
		s += float64(v)
	}
	return s
}

func TestDefaultConf(t *testing.T) {
	assert := assert.New(t)
	conf := DefaultConf(256)
	assert.True(conf.IsValid())
	assert.Equal(256, conf.OutputSize)

	l := quiet(t, conf)
	assert.Len(l.Layers(), conf.Layers)
	assert.Len(l.Hidden(), conf.Cells*conf.Layers+1)
	assert.Equal(float32(1), l.Hidden()[len(l.Hidden())-1])
}

func TestNewPanicsOnInvalidConfig(t *testing.T) {
	broken := []func(*Config){
		func(c *Config) { c.OutputSize = 1 },
		func(c *Config) { c.Cells = 0 },
		func(c *Config) { c.Layers = 0 },
		func(c *Config) { c.Horizon = 0 },
		func(c *Config) { c.InputSize = -1 },
		func(c *Config) { c.LearningRate = 0 },
		func(c *Config) { c.GradientClip = -0.5 },
	}
	for i, mutate := range broken {
		conf := smallConf()
		mutate(&conf)
		assert.False(t, conf.IsValid(), "case %d", i)
		assert.Panics(t, func() { quiet(t, conf) }, "case %d", i)
	}
}

func TestPreconditionsPanic(t *testing.T) {
	l := quiet(t, smallConf())
	assert.Panics(t, func() { l.Predict(-1) })
	assert.Panics(t, func() { l.Predict(4) })
	assert.Panics(t, func() { l.Perceive(4) })
	assert.Panics(t, func() { l.SetInput(make([]float32, 3)) })
	assert.NotPanics(t, func() { l.SetInput(make([]float32, 4)) })
}

func TestDistributionSumsToOne(t *testing.T) {
	for _, k := range kernels.All() {
		t.Run(k.Name(), func(t *testing.T) {
			conf := smallConf()
			conf.OutputSize = 11
			conf.Layers = 2
			conf.Cells = 5
			l := quiet(t, conf, WithKernel(k))
			r := rand.New(rand.NewSource(9))

			dist := l.Predict(0)
			assert.InDelta(t, 1, sum(dist), 1e-4)
			for step := 0; step < 200; step++ {
				features := make([]float32, conf.InputSize)
				for i := range features {
					features[i] = r.Float32()
				}
				l.SetInput(features)
				dist = l.Perceive(r.Intn(conf.OutputSize))
				require.Len(t, dist, conf.OutputSize)
				assert.InDelta(t, 1, sum(dist), 1e-4, "step %d", step)
			}
		})
	}
}

func TestInitialDistributionIsUniform(t *testing.T) {
	l := quiet(t, smallConf())
	for _, p := range l.Predict(2) {
		assert.Equal(t, float32(0.25), p)
	}
}

type backwardCall struct {
	epoch, layer int
	symbol       int // symbol handed to BackwardPass
	fed          int // symbol the layer saw in ForwardPass at that epoch
}

// recordingLayer stands in for an LSTM layer and records how it is driven.
type recordingLayer struct {
	cells, horizon int
	epoch          int
	fed            []int
	calls          *[]backwardCall
	steps          uint64
	w              [][]float32
}

func (r *recordingLayer) ForwardPass(input []float32, symbol int, hidden []float32, offset int) {
	r.fed[r.epoch] = symbol
	for i := 0; i < r.cells; i++ {
		hidden[offset+i] = 0.1 * float32(symbol+1)
	}
	r.epoch = (r.epoch + 1) % r.horizon
}

func (r *recordingLayer) BackwardPass(input []float32, epoch, layer, symbol int, hiddenError []float32) {
	*r.calls = append(*r.calls, backwardCall{epoch: epoch, layer: layer, symbol: symbol, fed: r.fed[epoch]})
	for i := range hiddenError {
		hiddenError[i] = 0
	}
	if epoch == 0 {
		r.steps++
	}
}

func (r *recordingLayer) Weights() [][][]float32  { return [][][]float32{r.w} }
func (r *recordingLayer) UpdateSteps() uint64     { return r.steps }
func (r *recordingLayer) SetUpdateSteps(n uint64) { r.steps = n }

func recording(calls *[]backwardCall) LayerFactory {
	return func(depth int, conf cell.Config, k kernels.Kernel, r *rand.Rand) (Layer, error) {
		return &recordingLayer{
			cells:   conf.Cells,
			horizon: conf.Horizon,
			fed:     make([]int, conf.Horizon),
			calls:   calls,
			w:       [][]float32{{float32(depth)}},
		}, nil
	}
}

func TestSweepOncePerHorizon(t *testing.T) {
	for _, h := range []int{1, 2, 3, 7} {
		conf := smallConf()
		conf.Horizon = h
		conf.Layers = 3
		var calls []backwardCall
		l := quiet(t, conf, WithLayers(recording(&calls)))
		r := rand.New(rand.NewSource(int64(h)))

		for n := 1; n <= 5*h+2; n++ {
			wrapped := l.Epoch() == 0
			before := l.Sweeps()
			l.Perceive(r.Intn(conf.OutputSize))
			if wrapped {
				assert.Equal(t, before+1, l.Sweeps(), "horizon %d, call %d", h, n)
			} else {
				assert.Equal(t, before, l.Sweeps(), "horizon %d, call %d", h, n)
			}
			// ceil(n / h)
			assert.Equal(t, (n+h-1)/h, l.Sweeps(), "horizon %d, call %d", h, n)
		}
		require.Len(t, calls, l.Sweeps()*h*conf.Layers)

		// newest epoch first, top layer first
		for s := 0; s < l.Sweeps(); s++ {
			for k := 0; k < h*conf.Layers; k++ {
				c := calls[s*h*conf.Layers+k]
				assert.Equal(t, h-1-k/conf.Layers, c.epoch)
				assert.Equal(t, conf.Layers-1-k%conf.Layers, c.layer)
			}
		}
	}
}

func TestBackwardSeesTheSymbolThatWasFed(t *testing.T) {
	conf := smallConf()
	conf.Horizon = 5
	var calls []backwardCall
	l := quiet(t, conf, WithLayers(recording(&calls)))
	r := rand.New(rand.NewSource(4))
	for n := 0; n < 4*conf.Horizon+1; n++ {
		l.Perceive(r.Intn(conf.OutputSize))
	}
	require.Equal(t, 5, l.Sweeps())

	// the first sweep runs before anything was predicted
	for _, c := range calls[conf.Horizon:] {
		assert.Equal(t, c.fed, c.symbol, "epoch %d", c.epoch)
	}
}

func TestHorizonOfOne(t *testing.T) {
	conf := smallConf()
	conf.Horizon = 1
	l := quiet(t, conf)
	for n := 1; n <= 10; n++ {
		l.SetInput(onehot(4, n%4))
		dist := l.Perceive(n % 4)
		assert.Equal(t, n, l.Sweeps())
		assert.Equal(t, 0, l.Epoch())
		assert.InDelta(t, 1, sum(dist), 1e-4)
	}
	assert.Equal(t, uint64(10), l.Layers()[0].UpdateSteps())
}

func run(l *LSTM, symbols []int) [][]float32 {
	var retVal [][]float32
	n := l.Config().OutputSize
	for _, s := range symbols {
		l.SetInput(onehot(n, s))
		retVal = append(retVal, append([]float32(nil), l.Perceive(s)...))
	}
	return retVal
}

func randomSymbols(seed int64, n, alphabet int) []int {
	r := rand.New(rand.NewSource(seed))
	retVal := make([]int, n)
	for i := range retVal {
		retVal[i] = r.Intn(alphabet)
	}
	return retVal
}

func TestDeterminism(t *testing.T) {
	conf := smallConf()
	conf.Layers = 2
	symbols := randomSymbols(3, 97, conf.OutputSize)

	a := quiet(t, conf)
	b := quiet(t, conf)
	if diff := cmp.Diff(run(a, symbols), run(b, symbols)); diff != "" {
		t.Errorf("distributions differ (-a +b):\n%s", diff)
	}
	if diff := cmp.Diff(a.rows(), b.rows()); diff != "" {
		t.Errorf("weights differ (-a +b):\n%s", diff)
	}
	assert.Equal(t, a.Statistics.Bits, b.Statistics.Bits)
}

func TestKernelsAgree(t *testing.T) {
	conf := smallConf()
	conf.OutputSize = 19 // exercises the vector blocks and the remainder
	conf.Cells = 9
	conf.InputSize = 19
	symbols := randomSymbols(5, 60, conf.OutputSize)

	scalar := run(quiet(t, conf, WithKernel(kernels.Scalar)), symbols)
	vec := run(quiet(t, conf, WithKernel(kernels.Vec8)), symbols)
	if diff := cmp.Diff(scalar, vec, cmpopts.EquateApprox(0, 1e-3)); diff != "" {
		t.Errorf("scalar and vec8 distributions differ (-scalar +vec8):\n%s", diff)
	}
}

// A repeating sequence is learnable: the probability given to the correct next
// symbol grows from one horizon cycle to the next.
func TestLearnsRepeatingSequence(t *testing.T) {
	const steps = 40
	conf := smallConf()
	l := quiet(t, conf)

	dist := []float32{0.25, 0.25, 0.25, 0.25}
	masses := make([]float64, 0, steps)
	for i := 0; i < steps; i++ {
		s := i % 4
		masses = append(masses, float64(dist[s]))
		l.SetInput(onehot(4, s))
		dist = l.Perceive(s)
		for _, p := range dist {
			require.False(t, math.IsNaN(float64(p)) || math.IsInf(float64(p), 0), "step %d: %v", i, dist)
		}
	}

	var cycles []float64
	for c := 0; c < steps; c += conf.Horizon {
		var m float64
		for _, v := range masses[c : c+conf.Horizon] {
			m += v
		}
		cycles = append(cycles, m/float64(conf.Horizon))
	}
	// the first cycle still holds the uniform prior
	for c := 2; c < len(cycles); c++ {
		assert.Greater(t, cycles[c], cycles[c-1], "cycle %d: %v", c, cycles)
	}
	assert.Equal(t, 10, l.Sweeps())
}

func TestOutputProjectionGradient(t *testing.T) {
	conf := smallConf()
	conf.LearningRate = 0.5
	l := quiet(t, conf)
	run(l, randomSymbols(8, 6, conf.OutputSize)) // mid cycle, no sweep on the next call

	const observed = 2
	last := l.lastEpoch()
	cur := l.Epoch()
	hidden := append([]float32(nil), l.Hidden()...)
	before := cloneMatrix(l.weights[last])
	l.Perceive(observed)
	after := l.weights[cur]

	hl := conf.hiddenSize()
	g := G.NewGraph()
	w := G.NewMatrix(g, G.Float32, G.WithShape(conf.OutputSize, hl), G.WithName("W"),
		G.WithValue(tensor.New(tensor.WithShape(conf.OutputSize, hl), tensor.WithBacking(flatten(before)))))
	h := G.NewVector(g, G.Float32, G.WithShape(hl), G.WithName("h"),
		G.WithValue(tensor.New(tensor.WithShape(hl), tensor.WithBacking(hidden))))
	y := G.NewVector(g, G.Float32, G.WithShape(conf.OutputSize), G.WithName("y"),
		G.WithValue(tensor.New(tensor.WithShape(conf.OutputSize), tensor.WithBacking(onehot(conf.OutputSize, observed)))))

	// cross entropy of softmax(W·h) against y
	logits := G.Must(G.Mul(w, h))
	lse := G.Must(G.Log(G.Must(G.Sum(G.Must(G.Exp(logits))))))
	picked := G.Must(G.Sum(G.Must(G.HadamardProd(logits, y))))
	cost := G.Must(G.Sub(lse, picked))
	_, err := G.Grad(cost, w)
	require.NoError(t, err)

	m := G.NewTapeMachine(g, G.BindDualValues(w))
	defer m.Close()
	require.NoError(t, m.RunAll())
	grad, err := w.Grad()
	require.NoError(t, err)
	want := grad.Data().([]float32)

	for i := range after {
		for j := range after[i] {
			got := (before[i][j] - after[i][j]) / conf.LearningRate
			assert.InDelta(t, want[i*hl+j], got, 1e-4, "W[%d][%d]", i, j)
		}
	}
}

func TestSaveRestoreTimeStep(t *testing.T) {
	conf := smallConf()
	conf.Layers = 2
	l := quiet(t, conf)
	run(l, randomSymbols(1, 2*conf.Horizon+1, conf.OutputSize))
	saved := l.Layers()[0].UpdateSteps()
	require.Equal(t, uint64(3), saved)
	l.SaveTimeStep()

	run(l, randomSymbols(2, 2*conf.Horizon, conf.OutputSize))
	for _, layer := range l.Layers() {
		assert.Equal(t, saved+2, layer.UpdateSteps())
	}
	l.RestoreTimeStep()
	for _, layer := range l.Layers() {
		assert.Equal(t, saved, layer.UpdateSteps())
	}
}

type countingEncoder struct {
	cycles  []Cycle
	targets [][]int
	err     error
	flushed bool
}

func (c *countingEncoder) Encode(cy Cycle) error {
	c.cycles = append(c.cycles, cy)
	c.targets = append(c.targets, append([]int(nil), cy.Targets...))
	return c.err
}

func (c *countingEncoder) Flush() error { c.flushed = true; return nil }

func TestOutputEncoderSeesEveryCycle(t *testing.T) {
	conf := smallConf()
	enc := new(countingEncoder)
	l := quiet(t, conf, WithOutputEncoder(enc))
	symbols := []int{0, 1, 2, 3, 0, 1, 2, 3, 0, 1, 2, 3, 0}
	run(l, symbols)

	require.Len(t, enc.cycles, l.Sweeps())
	for i, c := range enc.cycles {
		assert.Equal(t, i+1, c.Sweep)
		assert.Len(t, c.Outputs, conf.Horizon)
	}
	// the cycle closed by the 9th symbol holds the 6th to the 9th
	assert.Equal(t, []int{1, 2, 3, 0}, enc.targets[2])
}

func TestOutputEncoderErrorIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	enc := &countingEncoder{err: assert.AnError}
	l := New(smallConf(), WithLogger(logger), WithOutputEncoder(enc))
	assert.NotPanics(t, func() { l.Perceive(1) })
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "output encoder failed", hook.LastEntry().Message)
	assert.Equal(t, assert.AnError, hook.LastEntry().Data["error"])
}

func TestToDot(t *testing.T) {
	conf := smallConf()
	conf.Layers = 3
	dot := quiet(t, conf).ToDot()
	for _, want := range []string{"digraph G", "layer0", "layer2", "softmax", "features", "dashed"} {
		assert.Contains(t, dot, want)
	}
	assert.Contains(t, dot, "layer0->layer1")
}

func cloneMatrix(m [][]float32) [][]float32 {
	retVal := make([][]float32, len(m))
	for i := range m {
		retVal[i] = append([]float32(nil), m[i]...)
	}
	return retVal
}

func flatten(m [][]float32) []float32 {
	var retVal []float32
	for _, row := range m {
		retVal = append(retVal, row...)
	}
	return retVal
}
