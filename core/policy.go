package core

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/congestion-twin/timectrl"
)

// Sensitivity bounds for the adaptive pricing agent.
const (
	MinSensitivity = 1.0
	MaxSensitivity = 20.0
)

// PolicyParams is the pricing policy configuration loaded from the scenario.
type PolicyParams struct {
	CongestionTargetCI     float64
	PriceSensitivityFactor float64
	EquityDiscountPercent  float64
	RewardThresholdCI      float64
	RewardAmountCredits    int
	LiveModeLinks          []string
}

// PolicyState holds the runtime-mutable pricing parameters. The sensitivity
// factor is nudged by the adaptive agent on every tick and by operators via
// the admin surface, so it lives behind its own lock, separate from twin
// state.
type PolicyState struct {
	mu sync.RWMutex

	targetCI        float64
	sensitivity     float64
	equityPercent   float64
	rewardThreshold float64
	rewardCredits   int
}

// NewPolicyState seeds runtime policy state from scenario parameters.
func NewPolicyState(p PolicyParams) *PolicyState {
	return &PolicyState{
		targetCI:        p.CongestionTargetCI,
		sensitivity:     clampSensitivity(p.PriceSensitivityFactor),
		equityPercent:   p.EquityDiscountPercent,
		rewardThreshold: p.RewardThresholdCI,
		rewardCredits:   p.RewardAmountCredits,
	}
}

func (s *PolicyState) TargetCI() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.targetCI
}

func (s *PolicyState) Sensitivity() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sensitivity
}

func (s *PolicyState) EquityDiscountPercent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.equityPercent
}

func (s *PolicyState) RewardThresholdCI() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rewardThreshold
}

func (s *PolicyState) RewardAmountCredits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rewardCredits
}

// NudgeSensitivity adds delta to the sensitivity factor, clamps it to the
// allowed range, and returns the new value.
func (s *PolicyState) NudgeSensitivity(delta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensitivity = clampSensitivity(s.sensitivity + delta)
	return s.sensitivity
}

func clampSensitivity(v float64) float64 {
	if v < MinSensitivity {
		return MinSensitivity
	}
	if v > MaxSensitivity {
		return MaxSensitivity
	}
	return v
}

// PolicyEngine turns a user and a link into a priced, time-limited quote.
// It is pure over twin state: it reads the link's current price and
// congestion index and allocates a fresh id and expiry, nothing else.
type PolicyEngine struct {
	state       *PolicyState
	clock       timectrl.SimClock
	quoteExpiry time.Duration
}

// NewPolicyEngine constructs the engine. quoteExpiry bounds how long an
// issued quote can be reserved.
func NewPolicyEngine(state *PolicyState, clock timectrl.SimClock, quoteExpiry time.Duration) *PolicyEngine {
	return &PolicyEngine{state: state, clock: clock, quoteExpiry: quoteExpiry}
}

// Quote prices the link for the user. Equity-tier users get a percentage
// discount off the current (surge-adjusted) price; any user targeting a link
// whose congestion index sits below the reward threshold earns flat reward
// credits, paid out only when the booking is confirmed.
func (p *PolicyEngine) Quote(user UserProfile, link NetworkLink) Quote {
	basePrice := link.CurrentPrice

	discount := 0
	reason := ""
	finalPrice := basePrice
	if user.Tier == TierEquity {
		pct := p.state.EquityDiscountPercent()
		discount = int(float64(basePrice) * pct / 100.0)
		finalPrice -= discount
		reason = "Equity Tier"
	}

	rewards := 0
	if link.CurrentCI < p.state.RewardThresholdCI() {
		rewards = p.state.RewardAmountCredits()
	}

	now := p.clock.Now()
	return Quote{
		ID:             shortID("q_"),
		UserID:         user.ID,
		LinkID:         link.ID,
		BasePrice:      basePrice,
		FinalPrice:     finalPrice,
		DiscountAmount: discount,
		DiscountReason: reason,
		RewardsCredits: rewards,
		ExpiresAt:      unixSeconds(now.Add(p.quoteExpiry)),
	}
}

// shortID generates a prefixed six-hex-char identifier for quotes and
// reservations.
func shortID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
