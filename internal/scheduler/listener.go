package scheduler

import (
	"sync"
	"time"

	"github.com/nerrad567/nmr-lab-core/internal/command"
)

// RepeatData is one NMR repeat together with the running average after it.
type RepeatData struct {
	RunID    string
	Index    int
	Sequence string
	Repeat   int
	Repeats  int

	// Count is the number of repeats in the average. It is lower than
	// Repeat when earlier repeats failed.
	Count int

	A []int16
	B []int16

	AverageA []float64
	AverageB []float64

	RawPath     string
	AveragePath string
}

// Conditions is one environment sample taken after an NMR repeat.
type Conditions struct {
	RunID       string
	Tag         string
	Temperature float64
	Field       float64
	At          time.Time
}

// Listener receives run progress. Methods are called from the scheduler
// goroutine and must not block.
type Listener interface {
	// ActiveIndex is called before each command is dispatched.
	ActiveIndex(index int, cmd command.Command)

	// Repeat is called after each NMR repeat has been averaged and persisted.
	Repeat(data RepeatData)

	// Conditions is called for every environment sample.
	Conditions(c Conditions)

	// Complete is called exactly once per Start that was not refused.
	Complete(c Completion)
}

// listenerSet fans events out to every registered listener.
type listenerSet struct {
	mu        sync.RWMutex
	listeners []Listener
}

var _ Listener = (*listenerSet)(nil)

func (ls *listenerSet) add(l Listener) {
	ls.mu.Lock()
	ls.listeners = append(ls.listeners, l)
	ls.mu.Unlock()
}

func (ls *listenerSet) snapshot() []Listener {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return append([]Listener(nil), ls.listeners...)
}

func (ls *listenerSet) ActiveIndex(index int, cmd command.Command) {
	for _, l := range ls.snapshot() {
		l.ActiveIndex(index, cmd)
	}
}

func (ls *listenerSet) Repeat(data RepeatData) {
	for _, l := range ls.snapshot() {
		l.Repeat(data)
	}
}

func (ls *listenerSet) Conditions(c Conditions) {
	for _, l := range ls.snapshot() {
		l.Conditions(c)
	}
}

func (ls *listenerSet) Complete(c Completion) {
	for _, l := range ls.snapshot() {
		l.Complete(c)
	}
}
