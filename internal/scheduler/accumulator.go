package scheduler

import (
	"fmt"
	"math"
)

// Accumulator keeps the elementwise sum of every repeat received for the
// active command. It is sized by the first buffer it sees.
//
// Not safe for concurrent use; the Scheduler owns it from one goroutine.
type Accumulator struct {
	sumA  []float64
	sumB  []float64
	count int
}

// Add folds one repeat's channels into the sum.
//
// Returns:
//   - error: ErrBufferShape if the channels differ in length from each
//     other or from earlier repeats
func (a *Accumulator) Add(chA, chB []int16) error {
	if len(chA) != len(chB) {
		return fmt.Errorf("%w: channel A has %d samples, channel B %d", ErrBufferShape, len(chA), len(chB))
	}
	if a.sumA == nil {
		a.sumA = make([]float64, len(chA))
		a.sumB = make([]float64, len(chB))
	} else if len(chA) != len(a.sumA) {
		return fmt.Errorf("%w: got %d samples, accumulator holds %d", ErrBufferShape, len(chA), len(a.sumA))
	}

	for i, v := range chA {
		a.sumA[i] += float64(v)
	}
	for i, v := range chB {
		a.sumB[i] += float64(v)
	}
	a.count++
	return nil
}

// Count returns the number of repeats accumulated.
func (a *Accumulator) Count() int {
	return a.count
}

// Empty reports whether no repeat has been added since the last Reset.
func (a *Accumulator) Empty() bool {
	return a.count == 0
}

// Average returns sum / Count for both channels. Both slices are nil when
// the accumulator is empty.
func (a *Accumulator) Average() (avgA, avgB []float64) {
	if a.count == 0 {
		return nil, nil
	}
	n := float64(a.count)
	avgA = make([]float64, len(a.sumA))
	avgB = make([]float64, len(a.sumB))
	for i := range a.sumA {
		avgA[i] = a.sumA[i] / n
		avgB[i] = a.sumB[i] / n
	}
	return avgA, avgB
}

// Reset discards the sum.
func (a *Accumulator) Reset() {
	a.sumA = nil
	a.sumB = nil
	a.count = 0
}

// RMS returns the root mean square of a channel.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		f := float64(v)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
