package trigger

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/smartcache/metric"
)

type interval struct {
	every time.Duration
}

// Interval emits an EventInterval signal every d. A non-positive d yields a
// source that never fires.
func Interval(d time.Duration) Source {
	return &interval{every: d}
}

func (i *interval) Name() string { return "interval" }

func (i *interval) Signals(ctx context.Context) <-chan Signal {
	ch := make(chan Signal, 1)
	go func() {
		defer close(ch)
		if i.every <= 0 {
			<-ctx.Done()
			return
		}
		ticker := time.NewTicker(i.every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				select {
				case ch <- Signal{Event: EventInterval, Source: "interval", At: t}:
				default:
				}
			}
		}
	}()
	return ch
}

type throttled struct {
	src   Source
	limit rate.Limit
	burst int
}

// Throttle passes at most burst signals at once and limit per second on
// average from src, dropping the rest. Each subscription gets its own limiter.
func Throttle(src Source, limit rate.Limit, burst int) Source {
	if burst <= 0 {
		burst = 1
	}
	return &throttled{src: src, limit: limit, burst: burst}
}

func (t *throttled) Name() string { return t.src.Name() }

func (t *throttled) Signals(ctx context.Context) <-chan Signal {
	limiter := rate.NewLimiter(t.limit, t.burst)
	return pipe(ctx, t.src.Signals(ctx), func(Signal) bool {
		return limiter.Allow()
	})
}

type filtered struct {
	src Source
	key string
}

// ForKey passes only signals targeting key or every key.
func ForKey(src Source, key string) Source {
	return &filtered{src: src, key: key}
}

func (f *filtered) Name() string { return f.src.Name() }

func (f *filtered) Signals(ctx context.Context) <-chan Signal {
	return pipe(ctx, f.src.Signals(ctx), func(s Signal) bool {
		return s.Matches(f.key)
	})
}

type instrumented struct {
	src     Source
	metrics *metric.Metrics
}

// Instrument counts signals from src in smartcache_trigger_signals_total.
func Instrument(src Source, m *metric.Metrics) Source {
	if m == nil {
		return src
	}
	return &instrumented{src: src, metrics: m}
}

func (i *instrumented) Name() string { return i.src.Name() }

func (i *instrumented) Signals(ctx context.Context) <-chan Signal {
	return pipe(ctx, i.src.Signals(ctx), func(s Signal) bool {
		i.metrics.RecordTriggerSignal(i.src.Name())
		return true
	})
}

type merged struct {
	srcs []Source
}

// Merge combines sources into one.
func Merge(srcs ...Source) Source {
	return &merged{srcs: srcs}
}

func (m *merged) Name() string { return "merge" }

func (m *merged) Signals(ctx context.Context) <-chan Signal {
	out := make(chan Signal, len(m.srcs)+1)

	var wg sync.WaitGroup
	for _, src := range m.srcs {
		in := src.Signals(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			forward(ctx, in, out, nil)
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

// pipe forwards signals from in that keep accepts into a new channel that
// closes when in closes or ctx is done.
func pipe(ctx context.Context, in <-chan Signal, keep func(Signal) bool) <-chan Signal {
	out := make(chan Signal, 1)
	go func() {
		defer close(out)
		forward(ctx, in, out, keep)
	}()
	return out
}

func forward(ctx context.Context, in <-chan Signal, out chan<- Signal, keep func(Signal) bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-in:
			if !ok {
				return
			}
			if keep != nil && !keep(sig) {
				continue
			}
			select {
			case out <- sig:
			case <-ctx.Done():
				return
			}
		}
	}
}
