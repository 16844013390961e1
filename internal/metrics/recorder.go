package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// Stats summarizes the latency samples of one category/operation pair.
type Stats struct {
	Min   float64 `json:"min_ms"`
	Max   float64 `json:"max_ms"`
	Avg   float64 `json:"avg_ms"`
	P50   float64 `json:"p50_ms"`
	P90   float64 `json:"p90_ms"`
	P99   float64 `json:"p99_ms"`
	Count int     `json:"count"`
}

type sampleKey struct {
	Category  string
	Operation string
}

// Recorder collects latency samples and per-instrument update counters.
// Constructed and injected explicitly; there is no process-wide
// instance.
type Recorder struct {
	maxSamples int
	nowFn      func() time.Time

	mu      sync.Mutex
	samples map[sampleKey][]float64
	updates map[string]int64
}

// NewRecorder creates a Recorder keeping at most maxSamples latency
// samples per category/operation pair (oldest evicted first).
// maxSamples <= 0 selects the default of 1000.
func NewRecorder(maxSamples int) *Recorder {
	if maxSamples <= 0 {
		maxSamples = 1000
	}
	return &Recorder{
		maxSamples: maxSamples,
		nowFn:      time.Now,
		samples:    make(map[sampleKey][]float64),
		updates:    make(map[string]int64),
	}
}

// RecordLatency adds one latency sample in milliseconds.
func (r *Recorder) RecordLatency(category, operation string, latencyMs float64) {
	key := sampleKey{Category: category, Operation: operation}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := append(r.samples[key], latencyMs)
	if len(s) > r.maxSamples {
		s = s[len(s)-r.maxSamples:]
	}
	r.samples[key] = s
}

// Measure runs fn and records its wall-clock duration under
// category/operation. The fn error passes through untouched.
func (r *Recorder) Measure(category, operation string, fn func() error) error {
	start := r.nowFn()
	err := fn()
	r.RecordLatency(category, operation, float64(r.nowFn().Sub(start).Microseconds())/1000)
	return err
}

// RecordMarketDataUpdate counts one streamed update for an instrument.
func (r *Recorder) RecordMarketDataUpdate(instrument string) {
	r.mu.Lock()
	r.updates[instrument]++
	r.mu.Unlock()
}

// RecordOrderPlacement records an order-placement round trip.
func (r *Recorder) RecordOrderPlacement(instrument string, latencyMs float64) {
	r.RecordLatency("order", "place:"+instrument, latencyMs)
}

// RecordOrderCancellation records an order-cancellation round trip.
func (r *Recorder) RecordOrderCancellation(instrument string, latencyMs float64) {
	r.RecordLatency("order", "cancel:"+instrument, latencyMs)
}

// RecordOrderModification records an order-modification round trip.
func (r *Recorder) RecordOrderModification(instrument string, latencyMs float64) {
	r.RecordLatency("order", "modify:"+instrument, latencyMs)
}

// LatencyStats computes the summary for one category/operation pair.
// A pair with no samples yields a zero Stats.
func (r *Recorder) LatencyStats(category, operation string) Stats {
	r.mu.Lock()
	src := r.samples[sampleKey{Category: category, Operation: operation}]
	s := make([]float64, len(src))
	copy(s, src)
	r.mu.Unlock()

	return summarize(s)
}

// MarketDataUpdates returns the update count for an instrument.
func (r *Recorder) MarketDataUpdates(instrument string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[instrument]
}

// Reset discards all samples and counters.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.samples = make(map[sampleKey][]float64)
	r.updates = make(map[string]int64)
	r.mu.Unlock()
}

// report is the on-disk layout of WriteReport.
type report struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Latencies   map[string]Stats `json:"latencies"`
	Updates     map[string]int64 `json:"market_data_updates"`
}

// WriteReport writes the full metrics snapshot as JSON to path.
func (r *Recorder) WriteReport(path string) error {
	r.mu.Lock()
	rep := report{
		GeneratedAt: r.nowFn(),
		Latencies:   make(map[string]Stats, len(r.samples)),
		Updates:     make(map[string]int64, len(r.updates)),
	}
	for key, src := range r.samples {
		s := make([]float64, len(src))
		copy(s, src)
		rep.Latencies[key.Category+"/"+key.Operation] = summarize(s)
	}
	for instrument, count := range r.updates {
		rep.Updates[instrument] = count
	}
	r.mu.Unlock()

	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func summarize(s []float64) Stats {
	if len(s) == 0 {
		return Stats{}
	}
	sort.Float64s(s)

	var sum float64
	for _, v := range s {
		sum += v
	}
	return Stats{
		Min:   s[0],
		Max:   s[len(s)-1],
		Avg:   sum / float64(len(s)),
		P50:   percentile(s, 0.50),
		P90:   percentile(s, 0.90),
		P99:   percentile(s, 0.99),
		Count: len(s),
	}
}

// percentile expects s sorted ascending.
func percentile(s []float64, p float64) float64 {
	idx := int(p * float64(len(s)))
	if idx >= len(s) {
		idx = len(s) - 1
	}
	return s[idx]
}
