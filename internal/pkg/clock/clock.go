// Package clock puts time and randomness behind small seams so pacing
// decisions and executor loops can be pinned down in tests. Production code
// uses the real wall clock and independently seeded random streams; tests
// inject fixed clocks and fixed-seed streams.
package clock

import (
	"math/rand"
	"os"
	"sync/atomic"
	"time"
)

// Clock supplies the current time and timer channels.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Rand is the subset of *math/rand.Rand the pacing engine draws from.
// *rand.Rand satisfies it; tests pass a fixed-seed instance.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// New returns the wall clock.
func New() Clock { return realClock{} }

var streamCounter int64

// NewRand returns an independently seeded random stream. Each executor gets
// its own stream so two campaigns on one process never draw correlated
// delays; the counter keeps streams distinct even when two are created in
// the same nanosecond. Not safe for concurrent use, which matches the
// one-goroutine-per-executor model.
func NewRand() *rand.Rand {
	seed := time.Now().UnixNano() ^ int64(os.Getpid())<<32 ^ atomic.AddInt64(&streamCounter, 1)
	return rand.New(rand.NewSource(seed))
}

// Fixed is a Clock frozen at a settable instant, for tests.
type Fixed struct {
	T time.Time
}

// Now returns the frozen instant.
func (f *Fixed) Now() time.Time { return f.T }

// After returns an already-fired channel so test loops never block.
func (f *Fixed) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- f.T.Add(d)
	return ch
}

// Advance moves the frozen instant forward.
func (f *Fixed) Advance(d time.Duration) { f.T = f.T.Add(d) }
