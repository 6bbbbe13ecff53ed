package core

import (
	"strings"
	"sync"
)

// Source classification prefixes. A source tagged with the simulation prefix
// is synthetic; a source tagged with any live prefix is an external provider.
// Anything else is privileged/manual input and bypasses arbitration.
var (
	simSourcePrefix    = "sim"
	liveSourcePrefixes = []string{"live", "api", "bkk", "tomtom"}
)

// Free-flow speed defaults for the inverse fundamental-diagram conversion.
const (
	freeFlowDefault = 50.0
	freeFlowHighway = 90.0
	freeFlowPrimary = 60.0
)

// IngestRecorder receives the outcome of every ingest call, for metrics.
type IngestRecorder interface {
	RecordIngest(source string, metric MetricType, accepted bool)
}

// FusionAdapter is the universal translator between heterogeneous feeds and
// the twin. It arbitrates which sources may update which links, validates
// observations, converts speed metrics into an equivalent flow, and applies
// the result to twin state. Rejections are silent boolean outcomes: polling
// sources must not be interrupted by routine filtering.
type FusionAdapter struct {
	twin *CongestionTwin

	mu        sync.RWMutex
	liveLinks map[string]struct{}

	recorder IngestRecorder
}

// NewFusionAdapter builds the adapter. liveModeLinks flags links that accept
// only live-sourced observations.
func NewFusionAdapter(twin *CongestionTwin, liveModeLinks []string) *FusionAdapter {
	a := &FusionAdapter{twin: twin}
	a.SetLiveLinks(liveModeLinks)
	return a
}

// SetRecorder installs an optional metrics hook for ingest outcomes.
func (a *FusionAdapter) SetRecorder(r IngestRecorder) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recorder = r
}

// SetLiveLinks replaces the live-mode link set.
func (a *FusionAdapter) SetLiveLinks(linkIDs []string) {
	set := make(map[string]struct{}, len(linkIDs))
	for _, id := range linkIDs {
		set[id] = struct{}{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.liveLinks = set
}

// LiveLinks returns the current live-mode link ids.
func (a *FusionAdapter) LiveLinks() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.liveLinks))
	for id := range a.liveLinks {
		out = append(out, id)
	}
	return out
}

// IsLive reports whether the link is in live mode.
func (a *FusionAdapter) IsLive(linkID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.liveLinks[linkID]
	return ok
}

// Ingest routes one observation. It returns true only when the observation
// passed arbitration, referenced a known link, carried a convertible metric,
// and was applied to twin state; every rejection path has no side effect.
func (a *FusionAdapter) Ingest(obs Observation) bool {
	accepted := a.ingest(obs)
	a.mu.RLock()
	recorder := a.recorder
	a.mu.RUnlock()
	if recorder != nil {
		recorder.RecordIngest(obs.Source, obs.Metric, accepted)
	}
	return accepted
}

func (a *FusionAdapter) ingest(obs Observation) bool {
	source := strings.ToLower(obs.Source)
	isSim := strings.HasPrefix(source, simSourcePrefix)
	isLive := isLiveSource(source)

	// Hybrid routing: live-mode links ignore synthetic input; everything
	// else ignores live input. Sources matching neither class are
	// privileged manual pushes and pass regardless of mode.
	if a.IsLive(obs.LinkID) {
		if isSim {
			return false
		}
	} else if isLive {
		return false
	}

	link, ok := a.twin.GetLink(obs.LinkID)
	if !ok {
		return false
	}

	var flow int
	switch obs.Metric {
	case MetricFlowVehPerHour:
		flow = int(obs.Value)
	case MetricSpeedKmh:
		flow = speedToFlow(obs.Value, link)
	case MetricTravelTimeSec:
		// No reliable conversion without a link-length model. Deliberate
		// capability gap, not an error.
		return false
	default:
		return false
	}

	if err := a.twin.ApplyObservation(obs.LinkID, flow, obs.Source, obs.Timestamp); err != nil {
		return false
	}
	return true
}

// ClassifySource maps a source string onto its arbitration class:
// "simulated", "live", or "manual" (privileged input matching neither tag).
func ClassifySource(source string) string {
	lowered := strings.ToLower(source)
	switch {
	case strings.HasPrefix(lowered, simSourcePrefix):
		return "simulated"
	case isLiveSource(lowered):
		return "live"
	default:
		return "manual"
	}
}

func isLiveSource(lowered string) bool {
	for _, prefix := range liveSourcePrefixes {
		if strings.HasPrefix(lowered, prefix) {
			return true
		}
	}
	return false
}

// speedToFlow approximates flow from speed via an inverse fundamental
// diagram (linear Greenshields approximation): ci = 1 - speed/free_flow,
// flow = ci * capacity. Free-flow speed comes from the link type, highway
// checked before primary.
func speedToFlow(speedKmh float64, link NetworkLink) int {
	freeFlow := freeFlowDefault
	if strings.Contains(link.Type, "highway") {
		freeFlow = freeFlowHighway
	} else if strings.Contains(link.Type, "primary") {
		freeFlow = freeFlowPrimary
	}

	if speedKmh < 0 {
		speedKmh = 0
	}
	if speedKmh > freeFlow {
		speedKmh = freeFlow
	}

	ci := 1.0 - speedKmh/freeFlow
	flow := int(ci * float64(link.Capacity))
	if flow < 0 {
		flow = 0
	}
	return flow
}
