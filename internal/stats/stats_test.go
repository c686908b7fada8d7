package stats

import (
	"bytes"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/knowlet/scanner/internal/probe"
	"github.com/knowlet/scanner/internal/variant"
)

func resultFor(templateID string, outcome probe.Outcome, status int, latency time.Duration) probe.Result {
	return probe.Result{
		Variant: variant.Variant{TemplateID: templateID},
		Attempt: 1,
		Outcome: outcome,
		StatusCode: func() int {
			if outcome == probe.OutcomeResponse {
				return status
			}
			return 0
		}(),
		Latency: latency,
	}
}

func TestAggregatorCountsAndHistogram(t *testing.T) {
	agg := NewAggregator(1)
	agg.Record(resultFor("t1", probe.OutcomeResponse, 200, 10*time.Millisecond))
	agg.Record(resultFor("t1", probe.OutcomeResponse, 200, 20*time.Millisecond))
	agg.Record(resultFor("t1", probe.OutcomeResponse, 404, 5*time.Millisecond))
	agg.Record(resultFor("t1", probe.OutcomeTimeout, 0, 0))
	agg.Record(resultFor("t1", probe.OutcomeTransportError, 0, 0))

	snap := agg.Snapshot()
	require.Len(t, snap, 1)

	s := snap[0]
	assert.Equal(t, int64(5), s.Attempts)
	assert.Equal(t, int64(2), s.StatusHistogram[200])
	assert.Equal(t, int64(1), s.StatusHistogram[404])
	assert.Equal(t, int64(1), s.Timeouts)
	assert.Equal(t, int64(1), s.TransportErrors)
	assert.InDelta(t, 0.4, s.ErrorRate, 1e-9)
}

func TestAggregatorPerTemplateIsolation(t *testing.T) {
	agg := NewAggregator(1)
	agg.Record(resultFor("t1", probe.OutcomeResponse, 200, time.Millisecond))
	agg.Record(resultFor("t2", probe.OutcomeResponse, 500, time.Millisecond))

	snap := agg.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "t1", snap[0].TemplateID)
	assert.Equal(t, "t2", snap[1].TemplateID)
	assert.Equal(t, int64(1), snap[0].StatusHistogram[200])
	assert.Zero(t, snap[0].StatusHistogram[500])
}

func TestAggregatorFrozenAfterSnapshot(t *testing.T) {
	agg := NewAggregator(1)
	agg.Record(resultFor("t1", probe.OutcomeResponse, 200, time.Millisecond))

	first := agg.Snapshot()
	agg.Record(resultFor("t1", probe.OutcomeResponse, 200, time.Millisecond))
	second := agg.Snapshot()

	assert.Equal(t, first, second)
}

func TestAggregatorConcurrentRecords(t *testing.T) {
	agg := NewAggregator(1)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				agg.Record(resultFor("t1", probe.OutcomeResponse, 200, time.Millisecond))
			}
		}()
	}
	wg.Wait()

	snap := agg.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, int64(800), snap[0].Attempts)
}

func TestReservoirExactBelowCapacity(t *testing.T) {
	r := NewReservoir(16, 1)
	for i := 1; i <= 10; i++ {
		r.Add(float64(i))
	}
	assert.Equal(t, int64(10), r.Count())
	assert.Equal(t, float64(1), r.Quantile(0))
	assert.Equal(t, float64(10), r.Quantile(1))
	assert.InDelta(t, 6, r.Quantile(0.5), 1)
}

func TestReservoirApproximatesQuantiles(t *testing.T) {
	r := NewReservoir(1024, 42)
	for i := 0; i < 100000; i++ {
		r.Add(float64(i % 1000))
	}
	// standard rank error at p50 with k=1024 is about 1.6 points; a
	// 5-point tolerance is several sigmas out
	assert.InDelta(t, 500, r.Quantile(0.5), 50)
	assert.InDelta(t, 900, r.Quantile(0.9), 50)
}

func TestReservoirDeterministicForSeed(t *testing.T) {
	a := NewReservoir(64, 7)
	b := NewReservoir(64, 7)
	for i := 0; i < 10000; i++ {
		v := math.Mod(float64(i)*13.7, 500)
		a.Add(v)
		b.Add(v)
	}
	assert.Equal(t, a.Quantile(0.5), b.Quantile(0.5))
	assert.Equal(t, a.Quantile(0.99), b.Quantile(0.99))
}

func TestWriteYAMLSortedAndParseable(t *testing.T) {
	agg := NewAggregator(1)
	agg.Record(resultFor("z-template", probe.OutcomeResponse, 200, time.Millisecond))
	agg.Record(resultFor("a-template", probe.OutcomeResponse, 200, time.Millisecond))

	var buf bytes.Buffer
	require.NoError(t, WriteYAML(&buf, agg.Snapshot()))

	var doc struct {
		Endpoints []struct {
			Template string `yaml:"template"`
			Attempts int64  `yaml:"attempts"`
		} `yaml:"endpoints"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Endpoints, 2)
	assert.Equal(t, "a-template", doc.Endpoints[0].Template)
	assert.Equal(t, "z-template", doc.Endpoints[1].Template)
}
