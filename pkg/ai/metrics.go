package ai

import (
	"math"
	"sync"
)

// MetricsRecorder accumulates ModelMetrics across concurrent requests.
// Providers embed it to satisfy the metrics half of Embedder.
type MetricsRecorder struct {
	mu sync.Mutex
	m  ModelMetrics
}

// Record adds one request's usage and refreshes the token rate.
func (r *MetricsRecorder) Record(m ModelMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.m.InputTokens += m.InputTokens
	r.m.OutputTokens += m.OutputTokens
	r.m.TotalTokens += m.TotalTokens
	r.m.DurationMs += m.DurationMs
	r.m.WallClockMs += m.WallClockMs
	if r.m.DurationMs > 0 {
		rate := float64(r.m.TotalTokens) * 1000 / float64(r.m.DurationMs)
		r.m.TokenPerSecond = float32(math.Round(rate*100) / 100)
	}
}

func (r *MetricsRecorder) ResetMetrics() {
	r.mu.Lock()
	r.m = ModelMetrics{}
	r.mu.Unlock()
}

func (r *MetricsRecorder) GetMetrics() ModelMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m
}
