package scan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowlet/scanner/internal/config"
	"github.com/knowlet/scanner/internal/crawler"
	"github.com/knowlet/scanner/internal/publisher"
	"github.com/knowlet/scanner/internal/storage"
)

type scriptedNavigator struct {
	visits map[string]crawler.PageVisit
	delay  time.Duration
}

func (n *scriptedNavigator) Navigate(ctx context.Context, rawURL string) (crawler.PageVisit, error) {
	if n.delay > 0 {
		select {
		case <-time.After(n.delay):
		case <-ctx.Done():
			return crawler.PageVisit{}, ctx.Err()
		}
	}
	visit, ok := n.visits[rawURL]
	if !ok {
		return crawler.PageVisit{URL: rawURL, FinalURL: rawURL, StatusCode: http.StatusNotFound, HTML: "<html></html>"}, nil
	}
	return visit, nil
}

func (n *scriptedNavigator) Close(context.Context) error { return nil }

func apiServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/users/"):
			w.Header().Set("Content-Type", "application/json")
			if strings.HasSuffix(r.URL.Path, "/999999999") {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_, _ = w.Write([]byte(`{"id":1,"name":"alice"}`))
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html><body>home</body></html>"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testRunConfig(startURL string) config.Config {
	return config.Config{
		Crawler: config.CrawlerConfig{
			StartURL:          startURL,
			MaxDepth:          2,
			MaxPages:          10,
			NavTimeoutSeconds: 5,
			PolitenessQPS:     1000,
			UserAgent:         "scanner-test/1.0",
		},
		Probe: config.ProbeConfig{
			Concurrency:        4,
			PerHostQPS:         1000,
			PerHostBurst:       10,
			PerHostMaxInflight: 8,
			TimeoutSeconds:     2,
			MaxRetries:         0,
			BackoffInitialMs:   1,
			BackoffMaxMs:       5,
			Seed:               42,
			MaxVariants:        16,
		},
		Capture: config.CaptureConfig{HARFile: "capture.har", MaxBodyBytes: 1 << 20},
		Output:  config.OutputConfig{StatsFile: "stats.yaml"},
		Storage: config.StorageConfig{Backend: "memory"},
	}
}

func siteVisits(base string) map[string]crawler.PageVisit {
	return map[string]crawler.PageVisit{
		base: {
			URL:        base,
			FinalURL:   base,
			StatusCode: http.StatusOK,
			HTML:       "<html><body>home</body></html>",
			Requests: []crawler.ObservedRequest{
				{Method: "GET", URL: base, StatusCode: 200, MimeType: "text/html", Type: "Document"},
				{Method: "GET", URL: base + "/api/users/1", StatusCode: 200, MimeType: "application/json", Type: "XHR"},
				{Method: "GET", URL: base + "/api/users/2", StatusCode: 200, MimeType: "application/json", Type: "XHR"},
			},
		},
	}
}

func TestRunnerFullPipeline(t *testing.T) {
	srv := apiServer(t)

	artifacts := storage.NewMemory()
	events := publisher.NewMemory()
	nav := &scriptedNavigator{visits: siteVisits(srv.URL)}

	runner, err := New(testRunConfig(srv.URL), nil,
		WithNavigator(nav),
		WithArtifactStore(artifacts),
		WithPublisher(events, "scan-events"),
	)
	require.NoError(t, err)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, summary.Aborted)
	assert.Equal(t, 3, summary.Endpoints)
	// the document page and the unified /api/users/{id} shape
	assert.Equal(t, 2, summary.Templates)
	assert.Greater(t, summary.Variants, 1)
	assert.GreaterOrEqual(t, summary.Attempts, int64(summary.Variants))
	assert.Contains(t, summary.APIPrefix, srv.URL)

	assert.Contains(t, summary.HARURI, "mem://")
	assert.Contains(t, summary.StatsURI, "mem://")
	assert.Equal(t, 2, artifacts.Len())

	msgs := events.Messages()
	require.Len(t, msgs, 1)
	event := msgs[0].Payload.(publisher.ScanEvent)
	assert.Equal(t, summary.RunID, event.RunID)
	assert.False(t, event.Aborted)

	require.NotEmpty(t, summary.Stats)
	var total int64
	for _, s := range summary.Stats {
		total += s.Attempts
	}
	assert.Equal(t, summary.Attempts, total)
}

func TestRunnerCaptureHoldsBothPhases(t *testing.T) {
	srv := apiServer(t)
	runner, err := New(testRunConfig(srv.URL), nil,
		WithNavigator(&scriptedNavigator{visits: siteVisits(srv.URL)}),
		WithArtifactStore(storage.NewMemory()),
	)
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	require.NoError(t, err)

	status := runner.Status()
	assert.Equal(t, PhaseDone, status.Phase)
	assert.Equal(t, 3, status.Endpoints)
	assert.Positive(t, status.Attempts)
}

func TestRunnerBudgetAbortStillFlushes(t *testing.T) {
	srv := apiServer(t)

	cfg := testRunConfig(srv.URL)
	cfg.Probe.BudgetSeconds = 1

	artifacts := storage.NewMemory()
	events := publisher.NewMemory()
	nav := &scriptedNavigator{visits: siteVisits(srv.URL), delay: 2 * time.Second}

	runner, err := New(cfg, nil,
		WithNavigator(nav),
		WithArtifactStore(artifacts),
		WithPublisher(events, "scan-events"),
	)
	require.NoError(t, err)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.Aborted)
	assert.Equal(t, 2, artifacts.Len())

	msgs := events.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Payload.(publisher.ScanEvent).Aborted)
}

func TestRunnerUnreachableTargetAbortsBeforePhases(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	deadURL := srv.URL
	srv.Close()

	events := publisher.NewMemory()
	runner, err := New(testRunConfig(deadURL), nil,
		WithArtifactStore(storage.NewMemory()),
		WithPublisher(events, "scan-events"),
	)
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
	assert.Empty(t, events.Messages())
	assert.Equal(t, PhaseIdle, runner.Status().Phase)
}

func TestRunnerRejectsInvalidStartURL(t *testing.T) {
	runner, err := New(testRunConfig("ftp://site.test"), nil,
		WithArtifactStore(storage.NewMemory()))
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid start url")
}

func TestRunnerOpenAPIMode(t *testing.T) {
	srv := apiServer(t)

	specFile := t.TempDir() + "/api.yaml"
	doc := `
paths:
  /api/users/{id}:
    get:
      summary: Get user
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: integer
`
	require.NoError(t, os.WriteFile(specFile, []byte(doc), 0o644))

	cfg := testRunConfig(srv.URL)
	cfg.Probe.SpecFile = specFile

	runner, err := New(cfg, nil, WithArtifactStore(storage.NewMemory()))
	require.NoError(t, err)

	summary, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Templates)
	assert.Zero(t, summary.Endpoints)
	assert.Positive(t, summary.Attempts)
}
