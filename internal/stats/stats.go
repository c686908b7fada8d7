// Package stats consumes the probe result stream and maintains running
// per-template endpoint statistics, frozen into an immutable snapshot at
// run end.
package stats

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/knowlet/scanner/internal/probe"
)

const reservoirSize = 1024

// EndpointStats is the frozen view of one template's probe outcomes.
type EndpointStats struct {
	TemplateID      string        `yaml:"template"`
	Attempts        int64         `yaml:"attempts"`
	StatusHistogram map[int]int64 `yaml:"status_histogram,omitempty"`
	Timeouts        int64         `yaml:"timeouts"`
	TransportErrors int64         `yaml:"transport_errors"`
	ErrorRate       float64       `yaml:"error_rate"`
	LatencyP50      time.Duration `yaml:"latency_p50"`
	LatencyP90      time.Duration `yaml:"latency_p90"`
	LatencyP99      time.Duration `yaml:"latency_p99"`
}

type endpointAcc struct {
	attempts        int64
	statusHistogram map[int]int64
	timeouts        int64
	transportErrors int64
	latency         *Reservoir
}

// Aggregator folds probe results into per-template accumulators. Safe
// for concurrent Record calls; Snapshot freezes the aggregator, after
// which further results are dropped.
type Aggregator struct {
	mu     sync.Mutex
	seed   int64
	accs   map[string]*endpointAcc
	order  []string
	frozen bool
}

// NewAggregator builds an empty aggregator. The seed feeds each
// template's latency reservoir.
func NewAggregator(seed int64) *Aggregator {
	return &Aggregator{seed: seed, accs: make(map[string]*endpointAcc)}
}

// Record folds one attempt in. Counters only grow; a result recorded
// once is never subtracted.
func (a *Aggregator) Record(res probe.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.frozen {
		return
	}
	id := res.Variant.TemplateID
	acc, ok := a.accs[id]
	if !ok {
		acc = &endpointAcc{
			statusHistogram: make(map[int]int64),
			latency:         NewReservoir(reservoirSize, a.seed^int64(len(a.order))),
		}
		a.accs[id] = acc
		a.order = append(a.order, id)
	}

	acc.attempts++
	switch res.Outcome {
	case probe.OutcomeResponse:
		acc.statusHistogram[res.StatusCode]++
		acc.latency.Add(res.Latency.Seconds())
	case probe.OutcomeTimeout:
		acc.timeouts++
	case probe.OutcomeTransportError:
		acc.transportErrors++
	}
}

// Snapshot freezes the aggregator and returns stats in first-seen
// template order. Repeated calls return the same data.
func (a *Aggregator) Snapshot() []EndpointStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.frozen = true

	out := make([]EndpointStats, 0, len(a.order))
	for _, id := range a.order {
		acc := a.accs[id]
		s := EndpointStats{
			TemplateID:      id,
			Attempts:        acc.attempts,
			Timeouts:        acc.timeouts,
			TransportErrors: acc.transportErrors,
			LatencyP50:      secondsToDuration(acc.latency.Quantile(0.50)),
			LatencyP90:      secondsToDuration(acc.latency.Quantile(0.90)),
			LatencyP99:      secondsToDuration(acc.latency.Quantile(0.99)),
		}
		if len(acc.statusHistogram) > 0 {
			s.StatusHistogram = make(map[int]int64, len(acc.statusHistogram))
			for code, n := range acc.statusHistogram {
				s.StatusHistogram[code] = n
			}
		}
		if acc.attempts > 0 {
			s.ErrorRate = float64(acc.timeouts+acc.transportErrors) / float64(acc.attempts)
		}
		out = append(out, s)
	}
	return out
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// WriteYAML serializes a snapshot, templates sorted by id for stable
// output.
func WriteYAML(w io.Writer, snapshot []EndpointStats) error {
	sorted := append([]EndpointStats(nil), snapshot...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TemplateID < sorted[j].TemplateID })

	doc := struct {
		Endpoints []EndpointStats `yaml:"endpoints"`
	}{Endpoints: sorted}

	enc := yaml.NewEncoder(w)
	defer enc.Close()
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	return nil
}
