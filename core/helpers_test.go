package core

import (
	"time"

	"github.com/signalsfoundry/congestion-twin/timectrl"
)

var testEpoch = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func testScenario() *Scenario {
	return &Scenario{
		Links: []NetworkLink{
			{ID: "link_bridge", Name: "North Bridge", Capacity: 1000, BasePrice: 500, Type: "urban_highway"},
			{ID: "link_ring", Name: "Ring Road", Capacity: 800, BasePrice: 300, Type: "primary"},
			{ID: "link_sink", Name: "Park and Ride", Capacity: 5000, BasePrice: 100, Type: "road"},
		},
		Users: []UserProfile{
			{ID: "u_std", Name: "Standard Rider", Tier: TierStandard, Balance: 10000},
			{ID: "u_eq", Name: "Equity Rider", Tier: TierEquity, Balance: 10000},
			{ID: "u_broke", Name: "Empty Wallet", Tier: TierStandard, Balance: 10},
		},
		Policy: PolicyParams{
			CongestionTargetCI:     0.65,
			PriceSensitivityFactor: 1.0,
			EquityDiscountPercent:  50,
			RewardThresholdCI:      0.4,
			RewardAmountCredits:    5,
		},
		Simulation: SimParams{
			QuoteExpirySec:          120,
			ReservationExpirySec:    60,
			ReservationRetentionSec: 600,
			SinkLinkID:              "link_sink",
			SpillLinkIDs:            []string{"link_bridge", "link_ring"},
			DemandCycleSec:          30,
		},
	}
}

func newTestTwin(clock timectrl.SimClock) (*CongestionTwin, *PolicyState) {
	scn := testScenario()
	policy := NewPolicyState(scn.Policy)
	return NewCongestionTwin(scn, policy, clock), policy
}

func newTestLedger(clock timectrl.SimClock) (*QuoteLedger, *CongestionTwin) {
	twin, policy := newTestTwin(clock)
	engine := NewPolicyEngine(policy, clock, 120*time.Second)
	ledger := NewQuoteLedger(twin, engine, clock, LedgerConfig{
		QuoteExpiry:       120 * time.Second,
		ReservationExpiry: 60 * time.Second,
		Retention:         600 * time.Second,
	})
	return ledger, twin
}
