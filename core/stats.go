package core

import (
	"context"
	"sync"
	"time"
)

// StatsSample is one point of the rolling network-health history consumed by
// the dashboard.
type StatsSample struct {
	Timestamp   float64 `json:"timestamp"`
	AvgCI       float64 `json:"avg_ci"`
	TotalFlow   int     `json:"total_flow"`
	Sensitivity float64 `json:"sensitivity"`
}

const (
	statsCapacity = 60
	statsInterval = 500 * time.Millisecond
)

// StatsRecorder samples aggregate twin state on a fixed wall-clock interval
// into a bounded ring.
type StatsRecorder struct {
	twin   *CongestionTwin
	policy *PolicyState

	mu      sync.Mutex
	samples []StatsSample
}

// NewStatsRecorder constructs an empty recorder.
func NewStatsRecorder(twin *CongestionTwin, policy *PolicyState) *StatsRecorder {
	return &StatsRecorder{twin: twin, policy: policy}
}

// Run samples until ctx is cancelled. Intended to run under the process
// errgroup.
func (r *StatsRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Sample()
		}
	}
}

// Sample captures one point immediately.
func (r *StatsRecorder) Sample() {
	sample := StatsSample{
		Timestamp:   float64(time.Now().UnixNano()) / 1e9,
		AvgCI:       r.twin.AvgCI(),
		TotalFlow:   r.twin.TotalFlow(),
		Sensitivity: r.policy.Sensitivity(),
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, sample)
	if len(r.samples) > statsCapacity {
		r.samples = r.samples[len(r.samples)-statsCapacity:]
	}
}

// History returns the recorded samples, oldest first.
func (r *StatsRecorder) History() []StatsSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StatsSample, len(r.samples))
	copy(out, r.samples)
	return out
}
