package core

import (
	"encoding/json"
	"fmt"
	"io"
)

// Scenario is the validated static configuration the twin is constructed
// from: the link network, the user accounts, the pricing policy parameters,
// and the simulation parameters.
type Scenario struct {
	Links      []NetworkLink
	Users      []UserProfile
	Policy     PolicyParams
	Simulation SimParams
}

// SimParams holds the transactional and scheduling knobs of the scenario.
type SimParams struct {
	QuoteExpirySec          float64
	ReservationExpirySec    float64
	ReservationRetentionSec float64
	SinkLinkID              string
	SpillLinkIDs            []string
	DemandCycleSec          float64
	EventLinks              map[string][]string
}

// Unexported wire shapes of the scenario file.
type scenarioJSON struct {
	Network    networkJSON    `json:"network"`
	Users      []userJSON     `json:"users"`
	Policy     policyJSON     `json:"policy"`
	Simulation simulationJSON `json:"simulation"`
}

type networkJSON struct {
	Links []linkJSON `json:"links"`
}

type linkJSON struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Capacity    int         `json:"capacity"`
	BasePrice   int         `json:"base_price"`
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

type userJSON struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Tier    string `json:"tier"`
	Balance int    `json:"balance"`
}

type policyJSON struct {
	CongestionTargetCI     float64  `json:"congestion_target_ci"`
	PriceSensitivityFactor float64  `json:"price_sensitivity_factor"`
	EquityDiscountPercent  float64  `json:"equity_discount_percent"`
	RewardThresholdCI      *float64 `json:"reward_threshold_ci"`
	RewardAmountCredits    int      `json:"reward_amount_credits"`
	LiveModeLinks          []string `json:"live_mode_links"`
}

type simulationJSON struct {
	QuoteExpirySec          float64             `json:"quote_expiry_sec"`
	ReservationExpirySec    float64             `json:"reservation_expiry_sec"`
	ReservationRetentionSec *float64            `json:"reservation_retention_sec"`
	SinkLinkID              string              `json:"sink_link_id"`
	SpillLinkIDs            []string            `json:"spill_link_ids"`
	DemandCycleSec          float64             `json:"demand_cycle_sec"`
	EventLinks              map[string][]string `json:"event_links"`
}

// LoadScenario reads a JSON scenario from r and returns a validated Scenario.
// It fails on structural errors (bad JSON, duplicate or empty ids,
// non-positive capacities or base prices, unknown tiers); defaults are
// applied for optional fields.
func LoadScenario(r io.Reader) (*Scenario, error) {
	var payload scenarioJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}

	if len(payload.Network.Links) == 0 {
		return nil, fmt.Errorf("LoadScenario: scenario has no links")
	}

	scn := &Scenario{}

	seenLinks := make(map[string]struct{}, len(payload.Network.Links))
	for _, jl := range payload.Network.Links {
		if jl.ID == "" {
			return nil, fmt.Errorf("LoadScenario: link with empty id")
		}
		if _, dup := seenLinks[jl.ID]; dup {
			return nil, fmt.Errorf("LoadScenario: duplicate link id %q", jl.ID)
		}
		seenLinks[jl.ID] = struct{}{}
		if jl.Capacity <= 0 {
			return nil, fmt.Errorf("LoadScenario: link %q has non-positive capacity %d", jl.ID, jl.Capacity)
		}
		if jl.BasePrice <= 0 {
			return nil, fmt.Errorf("LoadScenario: link %q has non-positive base price %d", jl.ID, jl.BasePrice)
		}
		linkType := jl.Type
		if linkType == "" {
			linkType = "road"
		}
		scn.Links = append(scn.Links, NetworkLink{
			ID:          jl.ID,
			Name:        jl.Name,
			Capacity:    jl.Capacity,
			BasePrice:   jl.BasePrice,
			Type:        linkType,
			Coordinates: jl.Coordinates,
		})
	}

	seenUsers := make(map[string]struct{}, len(payload.Users))
	for _, ju := range payload.Users {
		if ju.ID == "" {
			return nil, fmt.Errorf("LoadScenario: user with empty id")
		}
		if _, dup := seenUsers[ju.ID]; dup {
			return nil, fmt.Errorf("LoadScenario: duplicate user id %q", ju.ID)
		}
		seenUsers[ju.ID] = struct{}{}
		switch ju.Tier {
		case TierStandard, TierEquity:
		default:
			return nil, fmt.Errorf("LoadScenario: user %q has unknown tier %q", ju.ID, ju.Tier)
		}
		scn.Users = append(scn.Users, UserProfile{
			ID:      ju.ID,
			Name:    ju.Name,
			Tier:    ju.Tier,
			Balance: ju.Balance,
		})
	}

	rewardThreshold := 0.4
	if payload.Policy.RewardThresholdCI != nil {
		rewardThreshold = *payload.Policy.RewardThresholdCI
	}
	for _, id := range payload.Policy.LiveModeLinks {
		if _, ok := seenLinks[id]; !ok {
			return nil, fmt.Errorf("LoadScenario: live_mode_links references unknown link %q", id)
		}
	}
	scn.Policy = PolicyParams{
		CongestionTargetCI:     payload.Policy.CongestionTargetCI,
		PriceSensitivityFactor: payload.Policy.PriceSensitivityFactor,
		EquityDiscountPercent:  payload.Policy.EquityDiscountPercent,
		RewardThresholdCI:      rewardThreshold,
		RewardAmountCredits:    payload.Policy.RewardAmountCredits,
		LiveModeLinks:          payload.Policy.LiveModeLinks,
	}

	retention := 600.0
	if payload.Simulation.ReservationRetentionSec != nil {
		retention = *payload.Simulation.ReservationRetentionSec
	}
	cycle := payload.Simulation.DemandCycleSec
	if cycle <= 0 {
		cycle = 30.0
	}
	if payload.Simulation.SinkLinkID != "" {
		if _, ok := seenLinks[payload.Simulation.SinkLinkID]; !ok {
			return nil, fmt.Errorf("LoadScenario: sink_link_id references unknown link %q", payload.Simulation.SinkLinkID)
		}
	}
	scn.Simulation = SimParams{
		QuoteExpirySec:          payload.Simulation.QuoteExpirySec,
		ReservationExpirySec:    payload.Simulation.ReservationExpirySec,
		ReservationRetentionSec: retention,
		SinkLinkID:              payload.Simulation.SinkLinkID,
		SpillLinkIDs:            payload.Simulation.SpillLinkIDs,
		DemandCycleSec:          cycle,
		EventLinks:              payload.Simulation.EventLinks,
	}

	return scn, nil
}
