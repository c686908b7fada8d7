// Package scan orchestrates a full run: crawl discovery, template
// inference, variant generation, probe dispatch, and stats aggregation,
// with artifacts persisted and a completion event published at the end.
package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/knowlet/scanner/internal/analyzer"
	"github.com/knowlet/scanner/internal/capture"
	"github.com/knowlet/scanner/internal/config"
	"github.com/knowlet/scanner/internal/crawler"
	"github.com/knowlet/scanner/internal/inventory"
	"github.com/knowlet/scanner/internal/openapi"
	"github.com/knowlet/scanner/internal/probe"
	"github.com/knowlet/scanner/internal/publisher"
	"github.com/knowlet/scanner/internal/stats"
	"github.com/knowlet/scanner/internal/state"
	"github.com/knowlet/scanner/internal/storage"
	"github.com/knowlet/scanner/internal/store"
	"github.com/knowlet/scanner/internal/template"
	"github.com/knowlet/scanner/internal/variant"
)

// Phases of a run, as reported by Status.
const (
	PhaseIdle    = "idle"
	PhaseCrawl   = "crawl"
	PhaseInfer   = "infer"
	PhaseProbe   = "probe"
	PhaseFlush   = "flush"
	PhaseDone    = "done"
	PhaseAborted = "aborted"
)

// Summary is the outcome of one run.
type Summary struct {
	RunID     string
	APIPrefix string
	Pages     int
	DeadLinks []string
	Endpoints int
	Templates int
	Variants  int
	Attempts  int64
	HARURI    string
	StatsURI  string
	Stats     []stats.EndpointStats
	Aborted   bool
}

// Status is a point-in-time progress view.
type Status struct {
	RunID     string
	Phase     string
	StartURL  string
	Pages     int
	DeadLinks int
	Endpoints int
	Templates int
	Attempts  int64
}

// Option customizes a Runner.
type Option func(*Runner)

// WithRunID fixes the run identifier instead of generating one, so
// external stores keyed by run id line up with the runner's artifacts.
func WithRunID(runID string) Option {
	return func(r *Runner) {
		if runID != "" {
			r.runID = runID
		}
	}
}

// WithNavigator overrides the crawl navigator, mainly for tests.
func WithNavigator(nav crawler.Navigator) Option {
	return func(r *Runner) { r.nav = nav }
}

// WithResultStore persists every probe attempt to Postgres.
func WithResultStore(s *store.ResultStore) Option {
	return func(r *Runner) { r.resultStore = s }
}

// WithArtifactStore overrides the artifact storage provider.
func WithArtifactStore(p storage.Provider) Option {
	return func(r *Runner) { r.artifacts = p }
}

// WithPublisher emits a completion event at run end.
func WithPublisher(pub publisher.Publisher, topic string) Option {
	return func(r *Runner) {
		r.events = pub
		r.eventTopic = topic
	}
}

// WithCrawlOnly stops the run after discovery: templates are still
// inferred and artifacts flushed, but no variants are dispatched.
func WithCrawlOnly() Option {
	return func(r *Runner) { r.crawlOnly = true }
}

// Runner executes the scan pipeline.
type Runner struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string

	inv  *inventory.Inventory
	sink *capture.Log
	agg  *stats.Aggregator

	nav         crawler.Navigator
	resultStore *store.ResultStore
	artifacts   storage.Provider
	events      publisher.Publisher
	eventTopic  string
	crawlOnly   bool

	mu        sync.Mutex
	phase     string
	pages     int
	templates int
	attempts  int64
}

// New assembles a Runner. The artifact provider defaults to the
// configured storage backend.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		cfg:    cfg,
		logger: logger,
		runID:  uuid.NewString(),
		inv:    inventory.New(),
		sink:   capture.NewLog(),
		agg:    stats.NewAggregator(cfg.Probe.Seed),
		phase:  PhaseIdle,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.artifacts == nil {
		provider, err := defaultArtifacts(cfg)
		if err != nil {
			return nil, err
		}
		r.artifacts = provider
	}
	return r, nil
}

func defaultArtifacts(cfg config.Config) (storage.Provider, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storage.NewMemory(), nil
	case "fs", "":
		return storage.NewFS(cfg.Storage.Dir)
	default:
		return nil, fmt.Errorf("storage backend %q needs explicit wiring", cfg.Storage.Backend)
	}
}

// RunID returns the identifier assigned to this run.
func (r *Runner) RunID() string { return r.runID }

// Inventory exposes the endpoint inventory for read-only consumers.
func (r *Runner) Inventory() *inventory.Inventory { return r.inv }

// Status reports current progress. Safe to call concurrently with Run.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	deadLinks := 0
	if g := r.inv.Graph(); g != nil {
		deadLinks = len(g.DeadLinks())
	}
	return Status{
		RunID:     r.runID,
		Phase:     r.phase,
		StartURL:  r.cfg.Crawler.StartURL,
		Pages:     r.pages,
		DeadLinks: deadLinks,
		Endpoints: r.inv.Len(),
		Templates: r.templates,
		Attempts:  r.attempts,
	}
}

func (r *Runner) setPhase(phase string) {
	r.mu.Lock()
	r.phase = phase
	r.mu.Unlock()
	r.logger.Info("phase", zap.String("phase", phase), zap.String("run_id", r.runID))
}

// Run executes the pipeline. An expired run budget aborts remaining
// work but still flushes captured traffic, accumulated stats, and the
// completion event; only setup failures return before flushing.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	runCtx := ctx
	if budget := r.cfg.RunBudget(); budget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	if err := r.checkTarget(runCtx); err != nil {
		return nil, err
	}

	templates, err := r.discover(runCtx)
	if err != nil {
		return nil, err
	}
	aborted := runCtx.Err() != nil

	r.mu.Lock()
	r.templates = len(templates)
	r.mu.Unlock()

	variantCount := 0
	if !aborted && !r.crawlOnly && len(templates) > 0 {
		variantCount, err = r.probeTemplates(runCtx, templates)
		if err != nil {
			return nil, err
		}
		if runCtx.Err() != nil {
			aborted = true
		}
	}

	return r.flush(ctx, templates, variantCount, aborted)
}

// checkTarget fails fast before any phase when the start URL is
// malformed or the host does not answer at all. Any HTTP status counts
// as reachable.
func (r *Runner) checkTarget(ctx context.Context) error {
	u, err := url.Parse(r.cfg.Crawler.StartURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid start url %q", r.cfg.Crawler.StartURL)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("invalid start url: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("target unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// discover produces the template set, by crawling or by loading a
// provided OpenAPI document.
func (r *Runner) discover(ctx context.Context) ([]template.Template, error) {
	if r.cfg.Probe.SpecFile != "" {
		r.setPhase(PhaseInfer)
		templates, err := openapi.LoadFile(r.cfg.Probe.SpecFile, r.cfg.Crawler.StartURL)
		if err != nil {
			return nil, err
		}
		r.logger.Info("loaded templates from openapi document",
			zap.String("file", r.cfg.Probe.SpecFile), zap.Int("templates", len(templates)))
		return templates, nil
	}

	r.setPhase(PhaseCrawl)
	if err := r.crawl(ctx); err != nil {
		if !isCancellation(err) {
			return nil, err
		}
		// keep whatever the partial crawl discovered
		r.logger.Warn("crawl aborted by budget, continuing with partial inventory", zap.Error(err))
	}

	r.setPhase(PhaseInfer)
	templates, err := template.Infer(r.inv.Snapshot())
	if err != nil {
		return nil, err
	}
	r.logger.Info("inferred templates",
		zap.Int("endpoints", r.inv.Len()), zap.Int("templates", len(templates)))
	return templates, nil
}

func (r *Runner) crawl(ctx context.Context) error {
	crawlCfg := crawler.Config{
		StartURL:      r.cfg.Crawler.StartURL,
		MaxDepth:      r.cfg.Crawler.MaxDepth,
		MaxPages:      r.cfg.Crawler.MaxPages,
		NavTimeout:    time.Duration(r.cfg.Crawler.NavTimeoutSeconds) * time.Second,
		PolitenessQPS: r.cfg.Crawler.PolitenessQPS,
		SubmitForms:   r.cfg.Crawler.SubmitForms,
		UserAgent:     r.cfg.Crawler.UserAgent,
		Headers:       r.cfg.Crawler.Headers,
		Cookies:       r.cfg.Crawler.Cookies,
		ProxyURL:      r.cfg.Capture.ProxyURL,
	}

	nav := r.nav
	if nav == nil {
		var err error
		if r.cfg.Crawler.RenderEnabled {
			nav, err = crawler.NewSession(crawlCfg, r.logger)
		} else {
			nav, err = crawler.NewStaticNavigator(crawlCfg, r.logger)
		}
		if err != nil {
			return fmt.Errorf("build navigator: %w", err)
		}
		defer func() {
			if closeErr := nav.Close(context.Background()); closeErr != nil {
				r.logger.Warn("close navigator", zap.Error(closeErr))
			}
		}()
	}

	var stateStore crawler.StateStore
	if r.cfg.Crawler.Resume && r.cfg.Crawler.StateFile != "" {
		bolt, err := state.NewBoltStore(r.cfg.Crawler.StateFile)
		if err != nil {
			return fmt.Errorf("open state store: %w", err)
		}
		defer bolt.Close()
		stateStore = bolt
	}

	engine, err := crawler.NewEngine(crawlCfg, nav, r.inv, r.sink, stateStore, r.logger)
	if err != nil {
		return err
	}
	err = engine.Run(ctx)

	r.mu.Lock()
	r.pages = len(r.inv.Graph().Pages())
	r.mu.Unlock()
	return err
}

// probeTemplates generates variants and dispatches them, feeding the
// aggregator and, when configured, the result store.
func (r *Runner) probeTemplates(ctx context.Context, templates []template.Template) (int, error) {
	r.setPhase(PhaseProbe)

	gen := variant.NewGenerator(r.cfg.Probe.Seed, r.cfg.Probe.MaxVariants)
	var all []variant.Variant
	for _, tpl := range templates {
		all = append(all, gen.Generate(tpl)...)
	}
	r.logger.Info("generated variants", zap.Int("count", len(all)))

	dispatcher, err := probe.New(probe.Config{
		Concurrency:        r.cfg.Probe.Concurrency,
		AttemptTimeout:     r.cfg.AttemptTimeout(),
		PerHostQPS:         r.cfg.Probe.PerHostQPS,
		PerHostBurst:       r.cfg.Probe.PerHostBurst,
		PerHostMaxInflight: r.cfg.Probe.PerHostMaxInflight,
		Retry: probe.RetryPolicy{
			MaxRetries:     r.cfg.Probe.MaxRetries,
			InitialBackoff: time.Duration(r.cfg.Probe.BackoffInitialMs) * time.Millisecond,
			MaxBackoff:     time.Duration(r.cfg.Probe.BackoffMaxMs) * time.Millisecond,
		},
		Headers:      r.cfg.Crawler.Headers,
		Cookies:      r.cfg.Crawler.Cookies,
		UserAgent:    r.cfg.Crawler.UserAgent,
		MaxBodyBytes: r.cfg.Capture.MaxBodyBytes,
	}, r.sink, r.cfg.Capture.ProxyURL, r.logger)
	if err != nil {
		return 0, err
	}

	variants := make(chan variant.Variant, len(all))
	for _, v := range all {
		variants <- v
	}
	close(variants)

	results := make(chan probe.Result, r.cfg.Probe.Concurrency*2)
	go dispatcher.Run(ctx, variants, results)

	for res := range results {
		r.agg.Record(res)
		r.mu.Lock()
		r.attempts++
		r.mu.Unlock()
		if r.resultStore != nil {
			if err := r.resultStore.StoreResult(context.Background(), res); err != nil {
				r.logger.Warn("store probe result", zap.Error(err))
			}
		}
	}
	return len(all), nil
}

// flush persists artifacts and publishes the completion event. Runs
// on the parent context so an expired budget cannot skip it.
func (r *Runner) flush(ctx context.Context, templates []template.Template, variantCount int, aborted bool) (*Summary, error) {
	r.setPhase(PhaseFlush)

	exchanges := r.sink.Snapshot()
	prefix := analyzer.DetectPrefix(exchanges, r.cfg.Crawler.StartURL, r.logger)

	summary := &Summary{
		RunID:     r.runID,
		APIPrefix: prefix,
		Pages:     len(r.inv.Graph().Pages()),
		DeadLinks: r.inv.Graph().DeadLinks(),
		Endpoints: r.inv.Len(),
		Templates: len(templates),
		Variants:  variantCount,
		Stats:     r.agg.Snapshot(),
		Aborted:   aborted,
	}
	for _, s := range summary.Stats {
		summary.Attempts += s.Attempts
	}

	var harBuf bytes.Buffer
	if err := capture.WriteHAR(&harBuf, exchanges); err != nil {
		return nil, fmt.Errorf("serialize capture: %w", err)
	}
	harURI, err := r.artifacts.Save(ctx, r.runID+"/"+r.cfg.Capture.HARFile, "application/json", harBuf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("save capture artifact: %w", err)
	}
	summary.HARURI = harURI

	var statsBuf bytes.Buffer
	if err := stats.WriteYAML(&statsBuf, summary.Stats); err != nil {
		return nil, err
	}
	statsURI, err := r.artifacts.Save(ctx, r.runID+"/"+r.cfg.Output.StatsFile, "application/yaml", statsBuf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("save stats artifact: %w", err)
	}
	summary.StatsURI = statsURI

	if r.events != nil {
		event := publisher.ScanEvent{
			RunID:       r.runID,
			StartURL:    r.cfg.Crawler.StartURL,
			APIPrefix:   prefix,
			Endpoints:   summary.Endpoints,
			Templates:   summary.Templates,
			Attempts:    summary.Attempts,
			HARURI:      summary.HARURI,
			StatsURI:    summary.StatsURI,
			CompletedAt: time.Now().UTC(),
			Aborted:     aborted,
		}
		if _, err := r.events.Publish(ctx, r.eventTopic, event); err != nil {
			r.logger.Warn("publish scan event", zap.Error(err))
		}
	}

	if aborted {
		r.setPhase(PhaseAborted)
	} else {
		r.setPhase(PhaseDone)
	}
	return summary, nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
