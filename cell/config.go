package cell

// Config configures one LSTM layer.
type Config struct {
	InputSize    int // length of the layer input record, bias unit included
	AuxInputSize int // external features at the head of the record
	OutputSize   int // alphabet size, one embedding column per symbol
	Cells        int // memory cells in the layer
	Horizon      int // timesteps kept for truncated BPTT

	LearningRate float32
	GradientClip float32 // gate errors are clipped to ±GradientClip; 0 disables clipping
}

// IsValid reports whether the layer can be built from conf.
func (conf Config) IsValid() bool {
	return conf.Cells >= 1 &&
		conf.OutputSize >= 1 &&
		conf.Horizon >= 1 &&
		conf.AuxInputSize >= 0 &&
		// aux features, own previous output, bias
		conf.InputSize >= conf.AuxInputSize+conf.Cells+1 &&
		conf.LearningRate > 0 &&
		conf.GradientClip >= 0
}

// columns is the width of every gate weight row: the record plus one
// embedding column per symbol.
func (conf Config) columns() int { return conf.InputSize + conf.OutputSize }
