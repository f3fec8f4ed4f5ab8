package jit

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// counters are updated from worker goroutines and read from anywhere.
type counters struct {
	attempted   atomic.Uint64
	succeeded   atomic.Uint64
	failed      atomic.Uint64
	abandoned   atomic.Uint64
	codeSize    atomic.Uint64
	largestCode atomic.Uint64
	compileTime atomic.Int64
}

func (c *counters) recordSuccess(size int, elapsed time.Duration) {
	c.succeeded.Add(1)
	c.codeSize.Add(uint64(size))
	c.compileTime.Add(int64(elapsed))
	for {
		cur := c.largestCode.Load()
		if uint64(size) <= cur || c.largestCode.CompareAndSwap(cur, uint64(size)) {
			return
		}
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		Attempted:   c.attempted.Load(),
		Succeeded:   c.succeeded.Load(),
		Failed:      c.failed.Load(),
		Abandoned:   c.abandoned.Load(),
		CodeSize:    c.codeSize.Load(),
		LargestCode: c.largestCode.Load(),
		CompileTime: time.Duration(c.compileTime.Load()),
	}
}

// Stats is a point-in-time copy of the JIT counters.
type Stats struct {
	Attempted uint64
	Succeeded uint64
	Failed    uint64
	// Abandoned counts methods skipped because of the exclusion list.
	Abandoned uint64

	CodeSize    uint64
	LargestCode uint64
	CompileTime time.Duration
}

// AverageCodeSize is the mean artifact size of successful compiles.
func (s Stats) AverageCodeSize() uint64 {
	if s.Succeeded == 0 {
		return 0
	}
	return s.CodeSize / s.Succeeded
}

// AverageCompileTime is the mean duration of successful compiles.
func (s Stats) AverageCompileTime() time.Duration {
	if s.Succeeded == 0 {
		return 0
	}
	return s.CompileTime / time.Duration(s.Succeeded)
}

func (s Stats) String() string {
	return fmt.Sprintf("%s attempted, %s compiled, %s failed, %s abandoned; code %s (avg %s, largest %s); compile time %s (avg %s)",
		humanize.Comma(int64(s.Attempted)),
		humanize.Comma(int64(s.Succeeded)),
		humanize.Comma(int64(s.Failed)),
		humanize.Comma(int64(s.Abandoned)),
		humanize.Bytes(s.CodeSize),
		humanize.Bytes(s.AverageCodeSize()),
		humanize.Bytes(s.LargestCode),
		s.CompileTime.Round(time.Microsecond),
		s.AverageCompileTime().Round(time.Microsecond),
	)
}
