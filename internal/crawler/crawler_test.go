package crawler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/knowlet/scanner/internal/capture"
	"github.com/knowlet/scanner/internal/inventory"
)

type mockNavigator struct {
	mock.Mock
}

func (m *mockNavigator) Navigate(ctx context.Context, rawURL string) (PageVisit, error) {
	args := m.Called(ctx, rawURL)
	return args.Get(0).(PageVisit), args.Error(1)
}

func (m *mockNavigator) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type memStateStore struct {
	visited  []string
	frontier []FrontierItem
	saves    int
	cleared  bool
}

func (s *memStateStore) Save(visited []string, frontier []FrontierItem) error {
	s.visited = append([]string(nil), visited...)
	s.frontier = append([]FrontierItem(nil), frontier...)
	s.saves++
	return nil
}

func (s *memStateStore) Load() ([]string, []FrontierItem, error) {
	return s.visited, s.frontier, nil
}

func (s *memStateStore) Clear() error {
	s.cleared = true
	return nil
}

func testConfig() Config {
	return Config{
		StartURL:      "http://site.test",
		MaxDepth:      5,
		MaxPages:      50,
		NavTimeout:    5 * time.Second,
		PolitenessQPS: 1000,
	}
}

func pageWithLinks(url string, hrefs ...string) PageVisit {
	html := "<html><body>"
	for _, h := range hrefs {
		html += `<a href="` + h + `">link</a>`
	}
	html += "</body></html>"
	return PageVisit{
		URL:        url,
		FinalURL:   url,
		StatusCode: http.StatusOK,
		HTML:       html,
		Requests: []ObservedRequest{{
			Method:     "GET",
			URL:        url,
			StatusCode: http.StatusOK,
			MimeType:   "text/html",
			Type:       "Document",
			Start:      time.Now(),
		}},
	}
}

func TestEngineRunVisitsEachPageOnce(t *testing.T) {
	nav := new(mockNavigator)
	nav.On("Navigate", mock.Anything, "http://site.test").
		Return(pageWithLinks("http://site.test", "/a", "/b", "/a#frag"), nil).Once()
	nav.On("Navigate", mock.Anything, "http://site.test/a").
		Return(pageWithLinks("http://site.test/a", "/", "/b"), nil).Once()
	nav.On("Navigate", mock.Anything, "http://site.test/b").
		Return(pageWithLinks("http://site.test/b"), nil).Once()

	inv := inventory.New()
	sink := capture.NewLog()
	eng, err := NewEngine(testConfig(), nav, inv, sink, nil, nil)
	require.NoError(t, err)

	require.NoError(t, eng.Run(context.Background()))
	nav.AssertExpectations(t)

	assert.Equal(t, 3, inv.Len())
	assert.Equal(t, 3, sink.Len())
	assert.Len(t, inv.Graph().Pages(), 3)
}

func TestEngineRunMarksDeadLinksAndContinues(t *testing.T) {
	nav := new(mockNavigator)
	nav.On("Navigate", mock.Anything, "http://site.test").
		Return(pageWithLinks("http://site.test", "/broken", "/ok"), nil).Once()
	nav.On("Navigate", mock.Anything, "http://site.test/broken").
		Return(PageVisit{}, assert.AnError).Once()
	nav.On("Navigate", mock.Anything, "http://site.test/ok").
		Return(pageWithLinks("http://site.test/ok"), nil).Once()

	inv := inventory.New()
	eng, err := NewEngine(testConfig(), nav, inv, capture.NewLog(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, eng.Run(context.Background()))
	nav.AssertExpectations(t)

	assert.Equal(t, []string{"http://site.test/broken"}, inv.Graph().DeadLinks())
}

func TestEngineRunHonorsDepthCap(t *testing.T) {
	nav := new(mockNavigator)
	nav.On("Navigate", mock.Anything, "http://site.test").
		Return(pageWithLinks("http://site.test", "/level1"), nil).Once()
	nav.On("Navigate", mock.Anything, "http://site.test/level1").
		Return(pageWithLinks("http://site.test/level1", "/level2"), nil).Once()

	cfg := testConfig()
	cfg.MaxDepth = 1
	eng, err := NewEngine(cfg, nav, inventory.New(), capture.NewLog(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, eng.Run(context.Background()))
	nav.AssertExpectations(t)
	nav.AssertNotCalled(t, "Navigate", mock.Anything, "http://site.test/level2")
}

func TestEngineRunHonorsPageCap(t *testing.T) {
	nav := new(mockNavigator)
	nav.On("Navigate", mock.Anything, "http://site.test").
		Return(pageWithLinks("http://site.test", "/a", "/b", "/c"), nil).Once()
	nav.On("Navigate", mock.Anything, mock.Anything).
		Return(pageWithLinks("http://site.test/x"), nil).Maybe()

	cfg := testConfig()
	cfg.MaxPages = 2
	eng, err := NewEngine(cfg, nav, inventory.New(), capture.NewLog(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, eng.Run(context.Background()))
	nav.AssertNumberOfCalls(t, "Navigate", 2)
}

func TestEngineRunStaysOnOrigin(t *testing.T) {
	nav := new(mockNavigator)
	nav.On("Navigate", mock.Anything, "http://site.test").
		Return(pageWithLinks("http://site.test", "http://elsewhere.test/page", "/local"), nil).Once()
	nav.On("Navigate", mock.Anything, "http://site.test/local").
		Return(pageWithLinks("http://site.test/local"), nil).Once()

	eng, err := NewEngine(testConfig(), nav, inventory.New(), capture.NewLog(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, eng.Run(context.Background()))
	nav.AssertExpectations(t)
	nav.AssertNotCalled(t, "Navigate", mock.Anything, "http://elsewhere.test/page")
}

func TestEngineRunCapturesBackgroundTraffic(t *testing.T) {
	visit := pageWithLinks("http://site.test")
	visit.Requests = append(visit.Requests,
		ObservedRequest{
			Method:     "GET",
			URL:        "http://site.test/api/users?limit=5",
			StatusCode: http.StatusOK,
			MimeType:   "application/json",
			Type:       "XHR",
		},
		ObservedRequest{
			Method:     "GET",
			URL:        "http://site.test/logo.png",
			StatusCode: http.StatusOK,
			MimeType:   "image/png",
			Type:       "Image",
		},
	)

	nav := new(mockNavigator)
	nav.On("Navigate", mock.Anything, "http://site.test").Return(visit, nil).Once()

	inv := inventory.New()
	sink := capture.NewLog()
	eng, err := NewEngine(testConfig(), nav, inv, sink, nil, nil)
	require.NoError(t, err)

	require.NoError(t, eng.Run(context.Background()))

	// all traffic lands in the capture log, only the document and the
	// API call become inventory entries
	assert.Equal(t, 3, sink.Len())
	require.Equal(t, 2, inv.Len())

	entries := inv.Snapshot()
	assert.Equal(t, "/api/users", entries[1].Path)
	assert.Equal(t, []string{"limit"}, entries[1].QueryKeys)
}

func TestEngineRunSavesAndClearsState(t *testing.T) {
	nav := new(mockNavigator)
	nav.On("Navigate", mock.Anything, "http://site.test").
		Return(pageWithLinks("http://site.test", "/a"), nil).Once()
	nav.On("Navigate", mock.Anything, "http://site.test/a").
		Return(pageWithLinks("http://site.test/a"), nil).Once()

	state := &memStateStore{}
	eng, err := NewEngine(testConfig(), nav, inventory.New(), capture.NewLog(), state, nil)
	require.NoError(t, err)

	require.NoError(t, eng.Run(context.Background()))
	assert.Equal(t, 2, state.saves)
	assert.True(t, state.cleared)
}

func TestEngineRunResumesFromState(t *testing.T) {
	nav := new(mockNavigator)
	nav.On("Navigate", mock.Anything, "http://site.test/pending").
		Return(pageWithLinks("http://site.test/pending"), nil).Once()

	state := &memStateStore{
		visited:  []string{"http://site.test"},
		frontier: []FrontierItem{{URL: "http://site.test/pending", Depth: 1}},
	}
	eng, err := NewEngine(testConfig(), nav, inventory.New(), capture.NewLog(), state, nil)
	require.NoError(t, err)

	require.NoError(t, eng.Run(context.Background()))
	nav.AssertExpectations(t)
	nav.AssertNotCalled(t, "Navigate", mock.Anything, "http://site.test")
}

func TestEngineRunStopsOnCanceledContext(t *testing.T) {
	nav := new(mockNavigator)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng, err := NewEngine(testConfig(), nav, inventory.New(), capture.NewLog(), nil, nil)
	require.NoError(t, err)

	err = eng.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	nav.AssertNotCalled(t, "Navigate", mock.Anything, mock.Anything)
}

func TestNewEngineRejectsBadStartURL(t *testing.T) {
	cfg := testConfig()
	cfg.StartURL = "ftp://site.test"
	_, err := NewEngine(cfg, new(mockNavigator), inventory.New(), capture.NewLog(), nil, nil)
	require.Error(t, err)
}
