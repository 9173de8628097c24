package memory

import (
	"runtime"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// WaitStrategy decides what a poll loop does after an empty Pop or a full
// Push. attempt counts consecutive failures and resets on success.
type WaitStrategy interface {
	Wait(attempt int)
}

// Spin burns the CPU and retries immediately. Lowest latency.
type Spin struct{}

func (Spin) Wait(int) {}

// Yield hands the processor to other goroutines between attempts.
type Yield struct{}

func (Yield) Wait(int) { runtime.Gosched() }

// Backoff spins for a few attempts, then yields, then sleeps for an
// exponentially growing interval capped at Max.
type Backoff struct {
	SpinFor int
	Min     time.Duration
	Max     time.Duration
}

func (b Backoff) Wait(attempt int) {
	switch {
	case attempt < b.SpinFor:
		return
	case attempt < 2*b.SpinFor:
		runtime.Gosched()
		return
	}
	time.Sleep(b.interval(attempt))
}

// interval doubles from Min once per attempt past the yield phase. A zero
// Min starts at one microsecond so the doubling terminates.
func (b Backoff) interval(attempt int) time.Duration {
	d := b.Min
	if d <= 0 {
		d = time.Microsecond
	}
	for i := 2 * b.SpinFor; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	return min(d, b.Max)
}

// ErrUnknownWaitStrategy is returned for an unrecognised strategy name.
var ErrUnknownWaitStrategy = errors.New("memory: unknown wait strategy")

// ParseWaitStrategy maps a configuration name to a strategy.
// Accepted names: "spin", "yield", "backoff" (alias "sleep").
func ParseWaitStrategy(name string, maxSleep time.Duration) (WaitStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "spin":
		return Spin{}, nil
	case "yield":
		return Yield{}, nil
	case "backoff", "sleep":
		if maxSleep <= 0 {
			maxSleep = time.Millisecond
		}
		return Backoff{SpinFor: 64, Min: time.Microsecond, Max: maxSleep}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownWaitStrategy, "%q", name)
	}
}
