package crawler

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	settleDelay = 500 * time.Millisecond
	formWait    = 2 * time.Second
)

// fillFormsJS fills visible inputs with dummy data and clicks the submit
// control, so form-backed endpoints show up as network traffic.
const fillFormsJS = `(() => {
	let submitted = 0;
	for (const form of Array.from(document.forms)) {
		let filled = false;
		for (const el of form.querySelectorAll("input:not([type=hidden]):not([type=submit]), textarea")) {
			const type = (el.type || "text").toLowerCase();
			const name = (el.name || "").toLowerCase();
			let value = "";
			if (type === "password") value = "Password123!";
			else if (type === "email" || name.includes("email")) value = "test@example.com";
			else if (type === "number") value = "1";
			else if (["text", "search", "url"].includes(type)) value = "testuser";
			if (value) { el.value = value; filled = true; }
		}
		if (!filled) continue;
		const btn = form.querySelector("input[type=submit], button[type=submit], button");
		if (btn) { btn.click(); submitted++; }
	}
	return submitted;
})()`

// Session drives one headless browser. Cookies and extra headers are
// injected once at construction and apply to every request the session
// issues; independent sessions can run in parallel.
type Session struct {
	cfg           Config
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	logger        *zap.Logger
	navMu         sync.Mutex
}

// NewSession launches a headless browser configured for the crawl.
func NewSession(cfg Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyURL))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	s := &Session{
		cfg:           cfg,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		logger:        logger,
	}
	if len(cfg.Cookies) > 0 {
		if err := s.injectCookies(); err != nil {
			s.browserCancel()
			s.allocCancel()
			return nil, err
		}
	}
	return s, nil
}

func (s *Session) injectCookies() error {
	u, err := url.Parse(s.cfg.StartURL)
	if err != nil {
		return fmt.Errorf("parse start url for cookies: %w", err)
	}
	domain := u.Hostname()
	action := chromedp.ActionFunc(func(ctx context.Context) error {
		for name, value := range s.cfg.Cookies {
			if err := network.SetCookie(name, value).WithDomain(domain).WithPath("/").Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", name, err)
			}
		}
		return nil
	})
	if err := chromedp.Run(s.browserCtx, network.Enable(), action); err != nil {
		return fmt.Errorf("inject cookies: %w", err)
	}
	return nil
}

// Close tears down the browser.
func (s *Session) Close(_ context.Context) error {
	if s == nil {
		return nil
	}
	s.browserCancel()
	s.allocCancel()
	return nil
}

// Navigate renders one page with scripts enabled and returns the DOM
// snapshot plus every network call observed while it loaded. One
// navigation is in flight per session at a time.
func (s *Session) Navigate(ctx context.Context, rawURL string) (PageVisit, error) {
	s.navMu.Lock()
	defer s.navMu.Unlock()

	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, s.cfg.NavTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	rec := newRequestRecorder()
	chromedp.ListenTarget(taskCtx, rec.handle)

	tasks := chromedp.Tasks{network.Enable()}
	if len(s.cfg.Headers) > 0 {
		extra := make(network.Headers, len(s.cfg.Headers))
		for k, v := range s.cfg.Headers {
			extra[k] = v
		}
		tasks = append(tasks, network.SetExtraHTTPHeaders(extra))
	}
	tasks = append(tasks,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
	)
	var submitted int
	if s.cfg.SubmitForms {
		tasks = append(tasks,
			chromedp.Evaluate(fillFormsJS, &submitted),
			chromedp.Sleep(formWait),
		)
	}
	var html string
	tasks = append(tasks, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return PageVisit{}, fmt.Errorf("chromedp run: %w", err)
	}
	if submitted > 0 {
		s.logger.Debug("submitted forms", zap.String("url", rawURL), zap.Int("count", submitted))
	}

	status, finalURL := rec.document(rawURL)
	return PageVisit{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: status,
		HTML:       html,
		Requests:   rec.requests(),
	}, nil
}

// requestRecorder folds CDP network events into ObservedRequests.
type requestRecorder struct {
	mu        sync.Mutex
	pending   map[network.RequestID]*ObservedRequest
	order     []network.RequestID
	docStatus int
	docURL    string
}

func newRequestRecorder() *requestRecorder {
	return &requestRecorder{pending: make(map[network.RequestID]*ObservedRequest)}
}

func (r *requestRecorder) handle(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		r.mu.Lock()
		req := &ObservedRequest{
			Method:  e.Request.Method,
			URL:     e.Request.URL,
			Headers: cdpHeaders(e.Request.Headers),
			Body:    postData(e.Request),
			Type:    string(e.Type),
			Start:   time.Now(),
		}
		if _, dup := r.pending[e.RequestID]; !dup {
			r.order = append(r.order, e.RequestID)
		}
		r.pending[e.RequestID] = req
		r.mu.Unlock()
	case *network.EventResponseReceived:
		r.mu.Lock()
		if req, ok := r.pending[e.RequestID]; ok {
			req.StatusCode = int(e.Response.Status)
			req.MimeType = e.Response.MimeType
			req.RespHeaders = cdpHeaders(e.Response.Headers)
			req.Duration = time.Since(req.Start)
		}
		if e.Type == network.ResourceTypeDocument && r.docStatus == 0 {
			r.docStatus = int(e.Response.Status)
			r.docURL = e.Response.URL
		}
		r.mu.Unlock()
	case *network.EventLoadingFailed:
		r.mu.Lock()
		if req, ok := r.pending[e.RequestID]; ok && req.Duration == 0 {
			req.Duration = time.Since(req.Start)
		}
		r.mu.Unlock()
	}
}

func (r *requestRecorder) document(fallbackURL string) (status int, finalURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.docURL == "" {
		return r.docStatus, fallbackURL
	}
	return r.docStatus, r.docURL
}

func (r *requestRecorder) requests() []ObservedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ObservedRequest, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.pending[id])
	}
	return out
}

func cdpHeaders(h network.Headers) http.Header {
	out := http.Header{}
	for k, v := range h {
		out.Set(k, fmt.Sprint(v))
	}
	return out
}

func postData(req *network.Request) []byte {
	if req == nil || !req.HasPostData {
		return nil
	}
	var data []byte
	for _, entry := range req.PostDataEntries {
		if entry == nil || entry.Bytes == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			continue
		}
		data = append(data, decoded...)
	}
	return data
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
