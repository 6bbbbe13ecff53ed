package core

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/congestion-twin/timectrl"
)

// Smoothing coefficient for the congestion index low-pass filter.
const smoothingAlpha = 0.1

// Trend extrapolation horizon for the short-range forecast.
const forecastHorizon = 5.0

// Surge premium added to the multiplier when congestion rises rapidly.
const (
	surgeTrendThreshold = 0.01
	surgePremium        = 0.5
)

// Bound on the in-memory telemetry log.
const maxTelemetryRecords = 1000

// CongestionTwin is the live model of the network: it exclusively owns every
// link and user record and applies the smoothing/forecast/pricing recompute
// step. All access goes through these methods; an internal RWMutex makes the
// twin safe for the tick loop, feed pollers, and request handlers to share.
type CongestionTwin struct {
	mu sync.RWMutex

	links map[string]*NetworkLink
	users map[string]*UserProfile

	policy  *PolicyState
	clock   timectrl.SimClock
	history []TelemetryRecord
}

// NewCongestionTwin builds the twin from a scenario. Links start at their
// base price with zero flow.
func NewCongestionTwin(scn *Scenario, policy *PolicyState, clock timectrl.SimClock) *CongestionTwin {
	t := &CongestionTwin{
		links:  make(map[string]*NetworkLink, len(scn.Links)),
		users:  make(map[string]*UserProfile, len(scn.Users)),
		policy: policy,
		clock:  clock,
	}
	for _, l := range scn.Links {
		link := l
		link.PriceMultiplier = 1.0
		link.CurrentPrice = link.BasePrice
		t.links[link.ID] = &link
	}
	for _, u := range scn.Users {
		user := u
		t.users[user.ID] = &user
	}
	return t
}

// Recompute runs one smoothing/forecast/pricing pass over every link. It is
// a stateful low-pass filter with a derivative surge trigger: identical input
// sequences with identical parameters produce identical trajectories.
func (t *CongestionTwin) Recompute() {
	targetCI := t.policy.TargetCI()
	sensitivity := t.policy.Sensitivity()

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, link := range t.links {
		rawCI := 0.0
		if link.Capacity > 0 {
			rawCI = float64(link.CurrentFlow) / float64(link.Capacity)
		}

		prevCI := link.CurrentCI
		link.CurrentCI = smoothingAlpha*rawCI + (1-smoothingAlpha)*prevCI

		trend := link.CurrentCI - prevCI
		link.ForecastCI = link.CurrentCI + forecastHorizon*trend

		excess := link.ForecastCI - targetCI
		if excess < 0 {
			excess = 0
		}
		surge := 0.0
		if trend > surgeTrendThreshold {
			surge = surgePremium
		}
		multiplier := 1.0 + excess*sensitivity + surge
		if multiplier < 1.0 {
			multiplier = 1.0
		}

		link.PriceMultiplier = multiplier
		link.CurrentPrice = int(float64(link.BasePrice) * multiplier)
	}
}

// ApplyObservation atomically overwrites a link's flow and records the
// observation's source and timestamp. Callers (the fusion adapter) have
// already validated the link and converted the metric.
func (t *CongestionTwin) ApplyObservation(linkID string, flow int, source string, timestamp float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	link, ok := t.links[linkID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrLinkNotFound, linkID)
	}
	if flow < 0 {
		flow = 0
	}
	link.CurrentFlow = flow
	link.LastObservationSource = source
	if timestamp == 0 {
		timestamp = unixSeconds(t.clock.Now())
	}
	link.LastObservationTS = timestamp
	return nil
}

// SetDiversion records the demand diverted away from (positive) or absorbed
// by (negative) a link on the last tick, for snapshot consumers.
func (t *CongestionTwin) SetDiversion(linkID string, diverted float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if link, ok := t.links[linkID]; ok {
		link.LastDiversion = diverted
	}
}

// HasLink reports whether the link exists.
func (t *CongestionTwin) HasLink(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.links[id]
	return ok
}

// GetLink returns a copy of the link, so readers never observe a partial
// write.
func (t *CongestionTwin) GetLink(id string) (NetworkLink, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	link, ok := t.links[id]
	if !ok {
		return NetworkLink{}, false
	}
	return *link, true
}

// AllLinks returns copies of every link, sorted by id.
func (t *CongestionTwin) AllLinks() []NetworkLink {
	t.mu.RLock()
	out := make([]NetworkLink, 0, len(t.links))
	for _, link := range t.links {
		out = append(out, *link)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LinkIDs returns every known link id, sorted.
func (t *CongestionTwin) LinkIDs() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.links))
	for id := range t.links {
		out = append(out, id)
	}
	t.mu.RUnlock()

	sort.Strings(out)
	return out
}

// AvgCI returns the mean congestion index across all links, 0 when the
// network is empty.
func (t *CongestionTwin) AvgCI() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.links) == 0 {
		return 0
	}
	sum := 0.0
	for _, link := range t.links {
		sum += link.CurrentCI
	}
	return sum / float64(len(t.links))
}

// TotalFlow returns the summed current flow across all links.
func (t *CongestionTwin) TotalFlow() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := 0
	for _, link := range t.links {
		total += link.CurrentFlow
	}
	return total
}

// LinkCount returns the number of links in the network.
func (t *CongestionTwin) LinkCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.links)
}

// GetUser returns a copy of the user record.
func (t *CongestionTwin) GetUser(id string) (UserProfile, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	user, ok := t.users[id]
	if !ok {
		return UserProfile{}, false
	}
	return *user, true
}

// AllUsers returns copies of every user record, sorted by id.
func (t *CongestionTwin) AllUsers() []UserProfile {
	t.mu.RLock()
	out := make([]UserProfile, 0, len(t.users))
	for _, u := range t.users {
		out = append(out, *u)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SettleBooking atomically debits the user's balance and credits earned
// rewards inside one lock hold, so a confirm can never interleave with
// another and drive the balance negative. Returns the new balance.
func (t *CongestionTwin) SettleBooking(userID string, debit, credit int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	user, ok := t.users[userID]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUserNotFound, userID)
	}
	if user.Balance < debit {
		return user.Balance, fmt.Errorf("%w: balance %d below price %d", ErrInsufficientFunds, user.Balance, debit)
	}
	user.Balance -= debit
	user.Balance += credit
	return user.Balance, nil
}

// RecordTelemetry appends an audit record to the bounded in-memory history.
func (t *CongestionTwin) RecordTelemetry(eventType string, details map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = append(t.history, TelemetryRecord{
		Timestamp: unixSeconds(t.clock.Now()),
		Type:      eventType,
		Details:   details,
	})
	if len(t.history) > maxTelemetryRecords {
		t.history = t.history[len(t.history)-maxTelemetryRecords:]
	}
}

// Telemetry returns a copy of the telemetry history, oldest first.
func (t *CongestionTwin) Telemetry() []TelemetryRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TelemetryRecord, len(t.history))
	copy(out, t.history)
	return out
}

// BuildLinkSnapshot derives the external view of a link. capacityModifier
// scales effective capacity for weather (1.0 when clear); now is used to
// compute observation age.
func BuildLinkSnapshot(link NetworkLink, capacityModifier float64, isLive bool, now float64) LinkSnapshot {
	effCap := int(float64(link.Capacity) * capacityModifier)
	effCI := 1.0
	if effCap > 0 {
		effCI = float64(link.CurrentFlow) / float64(effCap)
	}

	status := LinkStatusFlowing
	if effCI > 0.8 {
		status = LinkStatusCongested
	}

	snap := LinkSnapshot{
		ID:              link.ID,
		Name:            link.Name,
		Flow:            link.CurrentFlow,
		Capacity:        effCap,
		CI:              effCI,
		Forecast:        link.ForecastCI,
		Price:           link.CurrentPrice,
		PriceMultiplier: link.PriceMultiplier,
		Status:          status,
		Type:            link.Type,
		Diversion:       int(link.LastDiversion),
		IsLive:          isLive,
		Coordinates:     link.Coordinates,
	}
	if link.LastObservationTS > 0 {
		snap.LastObservationAt = link.LastObservationTS
		snap.LastObservationSource = link.LastObservationSource
		age := now - link.LastObservationTS
		if age < 0 {
			age = 0
		}
		snap.AgeSec = age
	}
	return snap
}
