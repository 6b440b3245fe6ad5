package onlinelstm

import (
	"encoding/csv"
	"os"
	"strconv"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Statistics tracks how well the predictor did on the symbols it was shown.
// Cost is the ideal code length, -log2 of the probability given to the observed symbol.
type Statistics struct {
	Steps int     // symbols perceived
	Bits  float64 // total cost in bits

	// per completed cycle, only kept with WithStatistics
	Mass []float64 // mean probability of the observed symbol
	Cost []float64 // mean bits per symbol

	perCycle bool
	masses   []float64 // running cycle
	costs    []float64
}

func makeStatistics(horizon int, perCycle bool) Statistics {
	return Statistics{
		perCycle: perCycle,
		masses:   make([]float64, 0, horizon),
		costs:    make([]float64, 0, horizon),
	}
}

func (s *Statistics) observe(p float32) {
	bits := -float64(math32.Log2(p))
	s.Steps++
	s.Bits += bits
	if s.perCycle {
		s.masses = append(s.masses, float64(p))
		s.costs = append(s.costs, bits)
	}
}

func (s *Statistics) closeCycle() {
	if !s.perCycle || len(s.masses) == 0 {
		return
	}
	s.Mass = append(s.Mass, stat.Mean(s.masses, nil))
	s.Cost = append(s.Cost, floats.Sum(s.costs)/float64(len(s.costs)))
	s.masses = s.masses[:0]
	s.costs = s.costs[:0]
}

// BitsPerSymbol is the mean cost over every perceived symbol.
func (s *Statistics) BitsPerSymbol() float64 {
	if s.Steps == 0 {
		return 0
	}
	return s.Bits / float64(s.Steps)
}

// Dump writes the per-cycle history as CSV.
func (s *Statistics) Dump(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"cycle", "mass", "bits"}); err != nil {
		return errors.WithStack(err)
	}
	records := make([][]string, 0, len(s.Mass))
	for i, m := range s.Mass {
		records = append(records, []string{
			strconv.Itoa(i),
			strconv.FormatFloat(m, 'f', 6, 64),
			strconv.FormatFloat(s.Cost[i], 'f', 6, 64),
		})
	}
	// WriteAll flushes
	if err := w.WriteAll(records); err != nil {
		return errors.Wrapf(err, "write %s", filename)
	}
	return errors.WithStack(f.Close())
}
