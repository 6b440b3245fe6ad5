// Package kernels holds the inner loops of the predictor's output projection:
// dot products, exponentials, horizontal sums and the softmax built from them.
//
// Two implementations are provided. Scalar is the portable reference. Vec8 keeps
// eight independent lane accumulators and a polynomial exponential, matching the
// reduction order of an AVX2 implementation; it is chosen by Detect when the CPU
// reports the matching capability. Both agree within floating point tolerance.
package kernels

import (
	"strings"

	"github.com/pkg/errors"
)

// Kernel is the capability-negotiated strategy used for the inner loops.
type Kernel interface {
	// Name identifies the kernel, as accepted by ByName.
	Name() string

	// Dot returns the sum of products of a and b over the shorter of the two.
	Dot(a, b []float32) float32

	// Exp writes exp(src[i]) into dst[i].
	Exp(dst, src []float32)

	// HorizontalSum returns the sum of all elements of a.
	HorizontalSum(a []float32) float32

	// Softmax writes exp(x·w[i]) / Σ exp(x·w[k]) into dst[i] for every row of w.
	// No maximum is subtracted before exponentiating, so large pre-activations
	// overflow to +Inf and the result becomes NaN.
	Softmax(dst, x []float32, w [][]float32)
}

var all = []Kernel{Scalar, Vec8}

// All returns every available kernel, scalar first.
func All() []Kernel {
	retVal := make([]Kernel, len(all))
	copy(retVal, all)
	return retVal
}

// ByName returns the kernel with the given name.
func ByName(name string) (Kernel, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, k := range all {
		if k.Name() == name {
			return k, nil
		}
	}
	return nil, errors.Errorf("unknown kernel %q", name)
}
