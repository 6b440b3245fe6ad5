package onlinelstm

import (
	"gorgonia.org/vecf32"
)

// EncodeSymbol encodes symbol as a one-hot vector of the given width. prealloc
// is reused when it has the right length.
func EncodeSymbol(symbol, width int, prealloc []float32) []float32 {
	if len(prealloc) != width {
		prealloc = make([]float32, width)
	}
	for i := range prealloc {
		prealloc[i] = 0
	}
	if symbol >= 0 && symbol < width {
		prealloc[symbol] = 1
	}
	return prealloc
}

// EncodeHistory encodes the most recent symbols, newest first, as consecutive
// one-hot blocks of the given width. Every block is scaled by decay relative to
// the one before it, so older context counts for less. Missing history leaves
// its block at zero.
func EncodeHistory(history []int, width, depth int, decay float32, prealloc []float32) []float32 {
	size := width * depth
	if len(prealloc) != size {
		prealloc = make([]float32, size)
	}
	weight := float32(1)
	for k := 0; k < depth; k++ {
		block := prealloc[k*width : (k+1)*width]
		symbol := -1
		if i := len(history) - 1 - k; i >= 0 {
			symbol = history[i]
		}
		EncodeSymbol(symbol, width, block)
		vecf32.Scale(block, weight)
		weight *= decay
	}
	return prealloc
}
