package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/knowlet/scanner/internal/capture"
)

// StaticNavigator fetches pages without script execution. It is the
// render-disabled fallback: only the navigation request itself is
// observed, background calls a browser would issue never happen.
type StaticNavigator struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewStaticNavigator builds a colly-backed Navigator.
func NewStaticNavigator(cfg Config, logger *zap.Logger) (*StaticNavigator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	transport, err := capture.NewBaseTransport(cfg.ProxyURL)
	if err != nil {
		return nil, fmt.Errorf("static navigator transport: %w", err)
	}
	c.WithTransport(transport)
	return &StaticNavigator{cfg: cfg, baseCollector: c, logger: logger}, nil
}

// Navigate fetches one page with a cloned collector.
func (n *StaticNavigator) Navigate(ctx context.Context, rawURL string) (PageVisit, error) {
	collector := n.baseCollector.Clone()
	timeout := n.cfg.NavTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		visit    PageVisit
		fetchErr error
	)
	start := time.Now()

	collector.OnRequest(func(r *colly.Request) {
		for key, value := range n.cfg.Headers {
			r.Headers.Set(key, value)
		}
		for name, value := range n.cfg.Cookies {
			r.Headers.Add("Cookie", name+"="+value)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		finalURL := r.Request.URL.String()
		visit = PageVisit{
			URL:        rawURL,
			FinalURL:   finalURL,
			StatusCode: r.StatusCode,
			HTML:       string(r.Body),
			Requests: []ObservedRequest{{
				Method:      "GET",
				URL:         finalURL,
				Headers:     http.Header{"User-Agent": {collector.UserAgent}},
				StatusCode:  r.StatusCode,
				MimeType:    headers.Get("Content-Type"),
				RespHeaders: headers,
				Type:        "Document",
				Start:       start,
				Duration:    time.Since(start),
			}},
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()
	select {
	case <-ctx.Done():
		return PageVisit{}, fmt.Errorf("static fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return PageVisit{}, fmt.Errorf("static visit failed: %w", err)
		}
		if fetchErr != nil {
			return PageVisit{}, fmt.Errorf("static response failed: %w", fetchErr)
		}
	}

	if n.cfg.SubmitForms && visit.HTML != "" {
		visit.Requests = append(visit.Requests, n.submitForms(ctx, visit.FinalURL, visit.HTML)...)
	}
	return visit, nil
}

// submitForms fills every discovered form with dummy values and submits
// it, so render-disabled crawls still elicit form-backed traffic.
func (n *StaticNavigator) submitForms(ctx context.Context, pageURL, html string) []ObservedRequest {
	forms, err := ExtractForms(pageURL, html)
	if err != nil {
		n.logger.Debug("extract forms", zap.String("page", pageURL), zap.Error(err))
		return nil
	}

	var out []ObservedRequest
	for _, form := range forms {
		if ctx.Err() != nil {
			return out
		}
		values := url.Values{}
		for _, field := range form.Fields {
			if v := DummyValue(field); v != "" {
				values.Set(field.Name, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		obs, err := n.submitForm(form, values)
		if err != nil {
			n.logger.Debug("submit form", zap.String("action", form.Action), zap.Error(err))
			continue
		}
		out = append(out, obs)
	}
	return out
}

func (n *StaticNavigator) submitForm(form Form, values url.Values) (ObservedRequest, error) {
	collector := n.baseCollector.Clone()
	timeout := n.cfg.NavTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	var (
		obs       ObservedRequest
		submitErr error
	)
	start := time.Now()

	collector.OnRequest(func(r *colly.Request) {
		for key, value := range n.cfg.Headers {
			r.Headers.Set(key, value)
		}
		for name, value := range n.cfg.Cookies {
			r.Headers.Add("Cookie", name+"="+value)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		obs = ObservedRequest{
			Method:      form.Method,
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			MimeType:    headers.Get("Content-Type"),
			RespHeaders: headers,
			Type:        "Document",
			Start:       start,
			Duration:    time.Since(start),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		submitErr = err
	})

	var err error
	if form.Method == http.MethodPost {
		err = collector.Post(form.Action, flatten(values))
	} else {
		target := form.Action
		if encoded := values.Encode(); encoded != "" {
			target += "?" + encoded
		}
		err = collector.Visit(target)
	}
	if err != nil {
		return ObservedRequest{}, fmt.Errorf("form %s %s: %w", form.Method, form.Action, err)
	}
	if submitErr != nil {
		return ObservedRequest{}, fmt.Errorf("form %s %s: %w", form.Method, form.Action, submitErr)
	}
	if obs.URL == "" {
		return ObservedRequest{}, fmt.Errorf("form %s %s: no response observed", form.Method, form.Action)
	}

	if form.Method == http.MethodPost {
		obs.Headers = http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}
		obs.Body = []byte(values.Encode())
		obs.URL = form.Action
	}
	return obs, nil
}

func flatten(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for name := range values {
		out[name] = values.Get(name)
	}
	return out
}

// Close is a no-op; the collector holds no session state worth tearing down.
func (n *StaticNavigator) Close(context.Context) error { return nil }
