// Package health tracks per-provider request outcomes in a rolling window
// and exposes a degraded/healthy classification, ported from
// original_source/tron-llm/src/health.rs. Observability-only: it never
// blocks a request, it only informs routing/alerting decisions.
package health

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultWindowSize is the number of recent outcomes retained per provider.
const DefaultWindowSize = 10

// DefaultDegradedThreshold is the error-rate fraction above which a
// provider with enough samples is considered degraded.
const DefaultDegradedThreshold = 0.5

var degradedGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "tron_provider_degraded",
		Help: "1 if the provider's rolling error rate exceeds its threshold, else 0",
	},
	[]string{"provider"},
)

type window struct {
	outcomes []bool // true = success
	cursor   int
	total    int
}

func newWindow(size int) *window {
	outcomes := make([]bool, size)
	for i := range outcomes {
		outcomes[i] = true
	}
	return &window{outcomes: outcomes}
}

func (w *window) record(success bool) {
	w.outcomes[w.cursor] = success
	w.cursor = (w.cursor + 1) % len(w.outcomes)
	w.total++
}

func (w *window) errorRate() float64 {
	if w.total == 0 {
		return 0
	}
	count := len(w.outcomes)
	if w.total < count {
		count = w.total
	}
	failures := 0
	for _, ok := range w.outcomes[:count] {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(count)
}

// Tracker records per-provider success/failure outcomes in a fixed-size
// ring buffer and classifies a provider as degraded once it has at least
// two samples and its error rate exceeds the configured threshold.
// Safe for concurrent use.
type Tracker struct {
	mu         sync.Mutex
	windows    map[string]*window
	windowSize int
	threshold  float64
}

// New constructs a Tracker with DefaultWindowSize and DefaultDegradedThreshold.
func New() *Tracker {
	return WithConfig(DefaultWindowSize, DefaultDegradedThreshold)
}

// WithConfig constructs a Tracker with a custom window size and threshold.
// windowSize is floored at 1; threshold is clamped to [0, 1].
func WithConfig(windowSize int, threshold float64) *Tracker {
	if windowSize < 1 {
		windowSize = 1
	}
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}
	return &Tracker{
		windows:    map[string]*window{},
		windowSize: windowSize,
		threshold:  threshold,
	}
}

// RecordSuccess records a successful request for provider.
func (t *Tracker) RecordSuccess(provider string) { t.record(provider, true) }

// RecordFailure records a failed request for provider.
func (t *Tracker) RecordFailure(provider string) { t.record(provider, false) }

func (t *Tracker) record(provider string, success bool) {
	t.mu.Lock()
	w, ok := t.windows[provider]
	if !ok {
		w = newWindow(t.windowSize)
		t.windows[provider] = w
	}
	w.record(success)
	degraded := w.total >= 2 && w.errorRate() > t.threshold
	t.mu.Unlock()

	val := 0.0
	if degraded {
		val = 1.0
	}
	degradedGauge.WithLabelValues(provider).Set(val)
}

// IsDegraded reports whether provider's rolling error rate exceeds the
// configured threshold, requiring at least two recorded outcomes.
func (t *Tracker) IsDegraded(provider string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.windows[provider]
	if !ok {
		return false
	}
	return w.total >= 2 && w.errorRate() > t.threshold
}

// ErrorRate returns provider's current rolling error rate in [0, 1], or 0
// if no outcomes have been recorded.
func (t *Tracker) ErrorRate(provider string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	w, ok := t.windows[provider]
	if !ok {
		return 0
	}
	return w.errorRate()
}
