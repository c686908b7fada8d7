package crawler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/knowlet/scanner/internal/capture"
	"github.com/knowlet/scanner/internal/inventory"
	"github.com/knowlet/scanner/internal/metrics"
)

// inventoried reports whether a network call belongs in the endpoint
// inventory. Subresource noise (images, fonts, styles) is captured in
// the traffic log but never becomes an endpoint.
func inventoried(req ObservedRequest) bool {
	switch req.Type {
	case "", "Document", "XHR", "Fetch":
	default:
		return false
	}
	norm, err := NormalizeURL(req.URL)
	if err != nil {
		return false
	}
	return !IsStaticAsset(norm)
}

// Engine walks a site breadth-first from the start URL, observing the
// network traffic each page triggers. Pages are visited once, newly
// discovered same-host links join the frontier, and progress is saved
// after every page so an interrupted crawl can resume.
type Engine struct {
	cfg    Config
	nav    Navigator
	inv    *inventory.Inventory
	sink   capture.Sink
	state  StateStore
	scope  *scopePolicy
	limit  *rate.Limiter
	logger *zap.Logger

	visited  map[string]struct{}
	frontier []FrontierItem
}

// NewEngine validates the start URL and assembles a crawl engine.
// state may be nil when resume is disabled.
func NewEngine(cfg Config, nav Navigator, inv *inventory.Inventory, sink capture.Sink, state StateStore, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	scope, err := newScopePolicy(cfg.StartURL)
	if err != nil {
		return nil, err
	}
	qps := cfg.PolitenessQPS
	if qps <= 0 {
		qps = 2
	}
	metrics.Init()
	return &Engine{
		cfg:     cfg,
		nav:     nav,
		inv:     inv,
		sink:    sink,
		state:   state,
		scope:   scope,
		limit:   rate.NewLimiter(rate.Limit(qps), 1),
		logger:  logger,
		visited: make(map[string]struct{}),
	}, nil
}

// Run crawls until the frontier drains, the page cap is reached, or ctx
// is canceled. The inventory and capture sink accumulate everything
// observed up to that point either way; state is cleared only on a
// drained frontier.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.seed(); err != nil {
		return err
	}

	pages := 0
	for len(e.frontier) > 0 {
		if err := ctx.Err(); err != nil {
			e.saveState()
			return fmt.Errorf("crawl canceled: %w", err)
		}
		if e.cfg.MaxPages > 0 && pages >= e.cfg.MaxPages {
			e.logger.Info("page cap reached", zap.Int("pages", pages))
			e.saveState()
			return nil
		}

		item := e.frontier[0]
		e.frontier = e.frontier[1:]

		page, err := NormalizePage(item.URL)
		if err != nil {
			continue
		}
		if _, seen := e.visited[page]; seen {
			continue
		}
		e.visited[page] = struct{}{}

		if err := e.limit.Wait(ctx); err != nil {
			e.saveState()
			return fmt.Errorf("crawl canceled: %w", err)
		}

		e.visitPage(ctx, item, page)
		pages++
		e.saveState()
	}

	e.logger.Info("crawl complete", zap.Int("pages", pages), zap.Int("endpoints", e.inv.Len()))
	if e.state != nil {
		if err := e.state.Clear(); err != nil {
			e.logger.Warn("clear crawl state", zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) seed() error {
	if e.state != nil && len(e.frontier) == 0 {
		visited, frontier, err := e.state.Load()
		if err != nil {
			return fmt.Errorf("load crawl state: %w", err)
		}
		if len(frontier) > 0 {
			for _, v := range visited {
				e.visited[v] = struct{}{}
			}
			e.frontier = frontier
			e.logger.Info("resuming crawl",
				zap.Int("visited", len(visited)),
				zap.Int("frontier", len(frontier)))
			return nil
		}
	}
	e.frontier = []FrontierItem{{URL: e.cfg.StartURL, Depth: 0}}
	return nil
}

func (e *Engine) visitPage(ctx context.Context, item FrontierItem, page string) {
	navID := uuid.NewString()
	log := e.logger.With(zap.String("nav_id", navID), zap.String("url", page), zap.Int("depth", item.Depth))

	visit, err := e.nav.Navigate(ctx, item.URL)
	if err != nil {
		log.Warn("navigation failed", zap.Error(err))
		e.inv.Graph().AddPage(page, item.Depth)
		e.inv.Graph().MarkDead(page)
		metrics.ObserveDeadLink()
		return
	}

	e.inv.Graph().AddPage(page, item.Depth)
	if visit.StatusCode >= 400 {
		e.inv.Graph().MarkDead(page)
		metrics.ObserveDeadLink()
	}
	metrics.ObservePage(page, visit.StatusCode)
	log.Debug("page visited",
		zap.Int("status", visit.StatusCode),
		zap.Int("requests", len(visit.Requests)))

	e.recordTraffic(visit, item.Depth, navID)
	e.enqueueLinks(page, visit, item.Depth)
}

func (e *Engine) recordTraffic(visit PageVisit, depth int, navID string) {
	for _, req := range visit.Requests {
		if e.sink != nil {
			e.sink.Record(capture.Exchange{
				ID:          uuid.NewString(),
				Phase:       capture.PhaseCrawl,
				Method:      req.Method,
				URL:         req.URL,
				StatusCode:  req.StatusCode,
				ReqHeaders:  req.Headers,
				RespHeaders: req.RespHeaders,
				MimeType:    req.MimeType,
				ReqBody:     req.Body,
				Start:       req.Start,
				Duration:    req.Duration,
			})
			metrics.ObserveExchange(string(capture.PhaseCrawl))
		}
		if !inventoried(req) || !e.scope.InScope(req.URL) {
			continue
		}
		entry, err := inventory.FromRequest(req.Method, req.URL, req.Headers, req.Body, depth, navID)
		if err != nil {
			continue
		}
		entry.ContentType = firstNonEmpty(entry.ContentType, req.MimeType)
		e.inv.Observe(entry)
	}
}

func (e *Engine) enqueueLinks(page string, visit PageVisit, depth int) {
	if e.cfg.MaxDepth > 0 && depth >= e.cfg.MaxDepth {
		return
	}
	base := visit.FinalURL
	if base == "" {
		base = visit.URL
	}
	links, err := ExtractLinks(base, visit.HTML)
	if err != nil {
		e.logger.Warn("link extraction failed", zap.String("url", page), zap.Error(err))
		return
	}
	for _, link := range links {
		if !e.scope.InScope(link) {
			continue
		}
		norm, err := NormalizePage(link)
		if err != nil {
			continue
		}
		if IsStaticAsset(norm) {
			continue
		}
		e.inv.Graph().AddLink(page, norm)
		if _, seen := e.visited[norm]; seen {
			continue
		}
		e.frontier = append(e.frontier, FrontierItem{URL: link, Depth: depth + 1})
	}
}

func (e *Engine) saveState() {
	if e.state == nil {
		return
	}
	visited := make([]string, 0, len(e.visited))
	for v := range e.visited {
		visited = append(visited, v)
	}
	if err := e.state.Save(visited, e.frontier); err != nil {
		e.logger.Warn("save crawl state", zap.Error(err))
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
