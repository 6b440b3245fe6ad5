// Package horizon provides the index arithmetic for the bounded ring of timesteps
// that truncated backpropagation through time works over.
package horizon

import "fmt"

// Epoch is a position in a ring of Len slots. The zero value is not usable;
// use Start.
type Epoch struct {
	i, n int
}

// Start returns the first epoch of a ring of n slots.
func Start(n int) Epoch {
	if n <= 0 {
		panic(fmt.Sprintf("horizon: ring length must be positive, got %d", n))
	}
	return Epoch{n: n}
}

// Index is the slot the epoch points at.
func (e Epoch) Index() int { return e.i }

// Len is the ring length.
func (e Epoch) Len() int { return e.n }

// Next is the epoch one step later, wrapping to 0 after Len-1.
func (e Epoch) Next() Epoch {
	e.i++
	if e.i == e.n {
		e.i = 0
	}
	return e
}

// Prev is the epoch one step earlier, wrapping to Len-1 before 0.
func (e Epoch) Prev() Epoch {
	if e.i == 0 {
		e.i = e.n
	}
	e.i--
	return e
}

// Wrapped reports whether the ring has just completed a full cycle, that is
// whether the epoch is back at slot 0.
func (e Epoch) Wrapped() bool { return e.i == 0 }

// Last reports whether the epoch is the final slot of the ring.
func (e Epoch) Last() bool { return e.i == e.n-1 }

func (e Epoch) String() string { return fmt.Sprintf("%d/%d", e.i, e.n) }
