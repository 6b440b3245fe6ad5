package kernels

import (
	"math"

	"gorgonia.org/vecf32"
)

const lanes = 8

// Vec8 is the accelerated kernel. Reductions keep eight lane accumulators that
// are folded pairwise at the end, and exponentials use a Cephes style
// polynomial evaluated in float32.
var Vec8 Kernel = vec8{}

type vec8 struct{}

func (vec8) Name() string { return "vec8" }

func (vec8) Dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var acc [lanes]float32
	i := 0
	for ; i+7 < n; i += lanes {
		acc[0] += a[i] * b[i]
		acc[1] += a[i+1] * b[i+1]
		acc[2] += a[i+2] * b[i+2]
		acc[3] += a[i+3] * b[i+3]
		acc[4] += a[i+4] * b[i+4]
		acc[5] += a[i+5] * b[i+5]
		acc[6] += a[i+6] * b[i+6]
		acc[7] += a[i+7] * b[i+7]
	}
	sum := fold(&acc)
	for ; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func (vec8) Exp(dst, src []float32) {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	i := 0
	for ; i+7 < n; i += lanes {
		dst[i] = expf32(src[i])
		dst[i+1] = expf32(src[i+1])
		dst[i+2] = expf32(src[i+2])
		dst[i+3] = expf32(src[i+3])
		dst[i+4] = expf32(src[i+4])
		dst[i+5] = expf32(src[i+5])
		dst[i+6] = expf32(src[i+6])
		dst[i+7] = expf32(src[i+7])
	}
	for ; i < n; i++ {
		dst[i] = expf32(src[i])
	}
}

func (vec8) HorizontalSum(a []float32) float32 {
	var acc [lanes]float32
	i := 0
	for ; i+7 < len(a); i += lanes {
		acc[0] += a[i]
		acc[1] += a[i+1]
		acc[2] += a[i+2]
		acc[3] += a[i+3]
		acc[4] += a[i+4]
		acc[5] += a[i+5]
		acc[6] += a[i+6]
		acc[7] += a[i+7]
	}
	sum := fold(&acc)
	for ; i < len(a); i++ {
		sum += a[i]
	}
	return sum
}

// Softmax handles the rows in blocks of eight: dot products first, then one
// vector exponential per block with the block added into the lane sums. Rows
// past the last full block are exponentiated and summed one at a time.
func (k vec8) Softmax(dst, x []float32, w [][]float32) {
	n := len(dst)
	limit := n &^ (lanes - 1)
	for i := 0; i < limit; i++ {
		dst[i] = k.Dot(x, w[i])
	}
	var acc [lanes]float32
	for i := 0; i < limit; i += lanes {
		block := dst[i : i+lanes]
		k.Exp(block, block)
		for l := range acc {
			acc[l] += block[l]
		}
	}
	sum := fold(&acc)
	for i := limit; i < n; i++ {
		dst[i] = expf32(k.Dot(x, w[i]))
		sum += dst[i]
	}
	vecf32.ScaleInv(dst, sum)
}

func fold(acc *[lanes]float32) float32 {
	return ((acc[0] + acc[4]) + (acc[2] + acc[6])) + ((acc[1] + acc[5]) + (acc[3] + acc[7]))
}

// expf32 is a Cephes-style expf approximation in pure float32.
func expf32(x float32) float32 {
	const (
		expHi float32 = 88.72283905206835
		expLo float32 = -88.3762626647949
		log2e float32 = 1.44269504088896341
		ln2   float32 = 0.6931471805599453
		c0    float32 = 1.9875691500e-4
		c1    float32 = 1.3981999507e-3
		c2    float32 = 8.3334519073e-3
		c3    float32 = 4.1665795894e-2
		c4    float32 = 1.6666665459e-1
		c5    float32 = 5.0000001201e-1
	)
	if x != x {
		return x
	}
	if x > expHi {
		return float32(math.Inf(1))
	} else if x < expLo {
		x = expLo
	}
	fx := x*log2e + 0.5
	n := int(fx)
	if float32(n) > fx {
		n--
	}
	x = x - float32(n)*ln2
	x2 := x * x
	px := c0
	px = px*x + c1
	px = px*x + c2
	px = px*x + c3
	px = px*x + c4
	px = px*x + c5
	px = px*x2 + x + 1

	// 2^n via bit manipulation, split in two when 2^n is not a normal float32.
	if n < -126 {
		return px * math.Float32frombits(uint32((n+127+64)<<23)) * math.Float32frombits(uint32((127-64)<<23))
	}
	if n > 127 {
		return px * 2 * math.Float32frombits(uint32((n-1+127)<<23))
	}
	return px * math.Float32frombits(uint32((n+127)<<23))
}
