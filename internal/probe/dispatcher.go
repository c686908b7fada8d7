package probe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/knowlet/scanner/internal/capture"
	"github.com/knowlet/scanner/internal/metrics"
	"github.com/knowlet/scanner/internal/variant"
)

// Outcome classifies one attempt.
type Outcome string

// Attempt outcomes. A response with any HTTP status, 5xx included, is
// OutcomeResponse; only failures below the application layer count as
// errors here.
const (
	OutcomeResponse       Outcome = "response"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeTransportError Outcome = "transport_error"
)

// Result is one recorded attempt. Retries produce additional results;
// exactly one result per variant carries Terminal.
type Result struct {
	Variant    variant.Variant
	Attempt    int
	Terminal   bool
	Outcome    Outcome
	StatusCode int
	Latency    time.Duration
	BodySize   int64
	Err        string
}

// Config tunes a Dispatcher.
type Config struct {
	Concurrency        int
	AttemptTimeout     time.Duration
	PerHostQPS         float64
	PerHostBurst       int
	PerHostMaxInflight int
	Retry              RetryPolicy
	Headers            map[string]string
	Cookies            map[string]string
	UserAgent          string

	// MaxBodyBytes bounds the body copies held by captured exchanges;
	// zero selects the capture default.
	MaxBodyBytes int64
}

// Dispatcher executes variants through a bounded worker pool. All
// traffic rides the capture transport, so probe exchanges land in the
// same sink as crawl traffic.
type Dispatcher struct {
	cfg    Config
	client *http.Client
	limits *hostLimits
	logger *zap.Logger
}

// New builds a Dispatcher sending through the given sink. proxyURL may
// be empty.
func New(cfg Config, sink capture.Sink, proxyURL string, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	base, err := capture.NewBaseTransport(proxyURL)
	if err != nil {
		return nil, err
	}
	metrics.Init()
	return &Dispatcher{
		cfg:    cfg,
		client: &http.Client{Transport: capture.NewTransport(base, sink, capture.PhaseProbe, cfg.MaxBodyBytes)},
		limits: newHostLimits(cfg.PerHostQPS, cfg.PerHostBurst, cfg.PerHostMaxInflight),
		logger: logger,
	}, nil
}

// Run pulls variants until the channel drains or ctx is canceled, and
// closes results when every worker has finished. Each variant yields at
// least one result even under cancellation, so partial runs still flush.
func (d *Dispatcher) Run(ctx context.Context, variants <-chan variant.Variant, results chan<- Result) {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx, variants, results)
		}()
	}
	wg.Wait()
	close(results)
}

func (d *Dispatcher) worker(ctx context.Context, variants <-chan variant.Variant, results chan<- Result) {
	for {
		select {
		case v, ok := <-variants:
			if !ok {
				return
			}
			d.probeVariant(ctx, v, results)
		case <-ctx.Done():
			return
		}
	}
}

// probeVariant runs the attempt/retry loop for one variant. Results for
// the variant are emitted in attempt order with the last one terminal.
func (d *Dispatcher) probeVariant(ctx context.Context, v variant.Variant, results chan<- Result) {
	host := hostOf(v.URL)
	for attempt := 1; ; attempt++ {
		res := d.attempt(ctx, v, host, attempt)

		retry := d.cfg.Retry.ShouldRetry(attempt, res.Outcome) && ctx.Err() == nil
		res.Terminal = !retry
		select {
		case results <- res:
		case <-ctx.Done():
			res.Terminal = true
			results <- res
			return
		}
		if !retry {
			return
		}

		select {
		case <-time.After(d.cfg.Retry.Backoff(attempt)):
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) attempt(ctx context.Context, v variant.Variant, host string, attempt int) Result {
	res := Result{Variant: v, Attempt: attempt}

	release, err := d.limits.acquire(ctx, host)
	if err != nil {
		res.Outcome = OutcomeTransportError
		res.Err = err.Error()
		return res
	}
	defer release()

	metrics.IncInflight()
	defer metrics.DecInflight()

	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	req, err := d.buildRequest(attemptCtx, v)
	if err != nil {
		res.Outcome = OutcomeTransportError
		res.Err = err.Error()
		return res
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	res.Latency = time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() == context.DeadlineExceeded {
			res.Outcome = OutcomeTimeout
		} else {
			res.Outcome = OutcomeTransportError
		}
		res.Err = err.Error()
		metrics.ObserveProbeAttempt(v.URL, string(res.Outcome), res.Latency)
		return res
	}
	defer resp.Body.Close()

	n, _ := io.Copy(io.Discard, resp.Body)
	res.Outcome = OutcomeResponse
	res.StatusCode = resp.StatusCode
	res.BodySize = n
	metrics.ObserveProbeAttempt(v.URL, string(res.Outcome), res.Latency)

	d.logger.Debug("probe attempt",
		zap.String("variant", v.Label),
		zap.String("url", v.URL),
		zap.Int("attempt", attempt),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", res.Latency))
	return res
}

func (d *Dispatcher) buildRequest(ctx context.Context, v variant.Variant) (*http.Request, error) {
	var body io.Reader
	if len(v.Body) > 0 {
		body = bytes.NewReader(v.Body)
	}
	req, err := http.NewRequestWithContext(ctx, v.Method, v.URL, body)
	if err != nil {
		return nil, err
	}
	if v.ContentType != "" {
		req.Header.Set("Content-Type", v.ContentType)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	for k, val := range d.cfg.Headers {
		req.Header.Set(k, val)
	}
	for name, val := range d.cfg.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: val})
	}
	return req, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	return u.Host
}
