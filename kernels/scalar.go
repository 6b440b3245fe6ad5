package kernels

import (
	"github.com/chewxy/math32"
	"gorgonia.org/vecf32"
)

// Scalar is the portable kernel. Every reduction is a plain left to right sum.
var Scalar Kernel = scalar{}

type scalar struct{}

func (scalar) Name() string { return "scalar" }

func (scalar) Dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func (scalar) Exp(dst, src []float32) {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	for i := 0; i < n; i++ {
		dst[i] = math32.Exp(src[i])
	}
}

func (scalar) HorizontalSum(a []float32) float32 { return vecf32.Sum(a) }

func (k scalar) Softmax(dst, x []float32, w [][]float32) {
	for i := range dst {
		dst[i] = math32.Exp(k.Dot(x, w[i]))
	}
	vecf32.ScaleInv(dst, k.HorizontalSum(dst))
}
