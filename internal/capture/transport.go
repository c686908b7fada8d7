package capture

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/knowlet/scanner/internal/metrics"
)

// Transport is an http.RoundTripper that forwards to a base transport and
// records every exchange into a Sink. It is the single capture point both
// the crawler's fallback fetcher and the probe dispatcher route through.
type Transport struct {
	base    http.RoundTripper
	sink    Sink
	phase   Phase
	maxBody int64
}

// NewTransport wraps base with capture. A nil base falls back to
// http.DefaultTransport. Bodies larger than maxBody are truncated only
// in the recorded exchange; the live request and response carry the
// full bytes.
func NewTransport(base http.RoundTripper, sink Sink, phase Phase, maxBody int64) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	metrics.Init()
	return &Transport{base: base, sink: sink, phase: phase, maxBody: maxBody}
}

// NewBaseTransport builds the underlying transport, optionally chained
// through an intercepting proxy.
func NewBaseTransport(proxyURL string) (*http.Transport, error) {
	t, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, fmt.Errorf("unexpected default transport type %T", http.DefaultTransport)
	}
	t = t.Clone()
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		t.Proxy = http.ProxyURL(u)
	}
	return t, nil
}

// RoundTrip issues the request through the base transport and records the
// exchange. Transport errors are returned unrecorded; the dispatcher owns
// their bookkeeping.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var reqBody []byte
	if req.Body != nil {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		if cerr := req.Body.Close(); cerr != nil {
			return nil, fmt.Errorf("close request body: %w", cerr)
		}
		reqBody = bound(data, t.maxBody)
		req.Body = io.NopCloser(bytes.NewReader(data))
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	duration := time.Since(start)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody))
	if err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("read response body: %w", err)
	}
	// the unread tail stays in the original body, so the caller still
	// sees the full response
	resp.Body = &replayBody{
		Reader: io.MultiReader(bytes.NewReader(respBody), resp.Body),
		closer: resp.Body,
	}

	if t.sink != nil {
		t.sink.Record(Exchange{
			ID:          uuid.NewString(),
			Phase:       t.phase,
			Method:      req.Method,
			URL:         req.URL.String(),
			StatusCode:  resp.StatusCode,
			ReqHeaders:  cloneHeader(req.Header),
			RespHeaders: cloneHeader(resp.Header),
			MimeType:    resp.Header.Get("Content-Type"),
			ReqBody:     reqBody,
			RespBody:    respBody,
			Start:       start,
			Duration:    duration,
		})
		metrics.ObserveExchange(string(t.phase))
	}

	return resp, nil
}

func bound(data []byte, max int64) []byte {
	if int64(len(data)) <= max {
		return data
	}
	return data[:max]
}

// replayBody serves the already-captured prefix before the remainder of
// the network body, and closes the network body.
type replayBody struct {
	io.Reader
	closer io.Closer
}

func (b *replayBody) Close() error { return b.closer.Close() }

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}
