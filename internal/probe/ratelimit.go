package probe

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/knowlet/scanner/internal/metrics"
)

// hostLimits throttles dispatch per host: a token bucket bounds request
// rate and a slot channel bounds in-flight attempts, independent of the
// worker pool size.
type hostLimits struct {
	qps         float64
	burst       int
	maxInFlight int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	slots    map[string]chan struct{}
}

func newHostLimits(qps float64, burst, maxInFlight int) *hostLimits {
	if qps <= 0 {
		qps = 10
	}
	if burst <= 0 {
		burst = 1
	}
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	return &hostLimits{
		qps:         qps,
		burst:       burst,
		maxInFlight: maxInFlight,
		limiters:    make(map[string]*rate.Limiter),
		slots:       make(map[string]chan struct{}),
	}
}

func (h *hostLimits) forHost(host string) (*rate.Limiter, chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	lim, ok := h.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(h.qps), h.burst)
		h.limiters[host] = lim
		h.slots[host] = make(chan struct{}, h.maxInFlight)
	}
	return lim, h.slots[host]
}

// acquire blocks until the host grants both a rate token and an
// in-flight slot. The returned release frees the slot.
func (h *hostLimits) acquire(ctx context.Context, host string) (func(), error) {
	lim, slots := h.forHost(host)

	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		return nil, err
	}
	if delay := time.Since(start); delay > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, delay)
	}

	select {
	case slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return func() { <-slots }, nil
}
