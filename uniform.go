package onlinelstm

// Uniform is a Predictor that never learns: every symbol is equally likely.
// It is the baseline a learning predictor has to beat, log2(n) bits per symbol.
type Uniform struct {
	dist []float32
}

// NewUniform returns a uniform predictor over an alphabet of n symbols.
func NewUniform(n int) *Uniform {
	dist := make([]float32, n)
	for i := range dist {
		dist[i] = 1 / float32(n)
	}
	return &Uniform{dist: dist}
}

func (u *Uniform) Predict(symbol int) []float32 { return u.dist }

func (u *Uniform) Perceive(observed int) []float32 { return u.dist }
