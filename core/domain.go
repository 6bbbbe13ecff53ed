package core

// NetworkLink is a single priced segment of the road/transit network. Static
// identity and tariff fields come from the scenario; the derived fields are
// mutated on every accepted observation and every recompute pass.
//
// CurrentPrice is always recomputed from BasePrice and PriceMultiplier,
// never set independently.
type NetworkLink struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Capacity    int         `json:"capacity"`
	BasePrice   int         `json:"base_price"`
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`

	CurrentFlow     int     `json:"current_flow"`
	CurrentCI       float64 `json:"current_ci"`
	ForecastCI      float64 `json:"forecast_ci"`
	PriceMultiplier float64 `json:"price_multiplier"`
	CurrentPrice    int     `json:"current_price"`
	LastDiversion   float64 `json:"last_diversion"`

	LastObservationTS     float64 `json:"last_observation_ts"`
	LastObservationSource string  `json:"last_observation_source"`
}

// User tiers.
const (
	TierStandard = "standard"
	TierEquity   = "equity"
)

// UserProfile is an account record. Balance is mutated only by confirmed
// reservations.
type UserProfile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Tier    string `json:"tier"`
	Balance int    `json:"balance"`
}

// Quote is a priced, time-limited offer to travel a link. Immutable once
// created; the ledger holds it until it expires or funds a confirmed
// reservation.
type Quote struct {
	ID             string  `json:"id"`
	UserID         string  `json:"user_id"`
	LinkID         string  `json:"link_id"`
	BasePrice      int     `json:"base_price"`
	FinalPrice     int     `json:"final_price"`
	DiscountAmount int     `json:"discount_amount"`
	DiscountReason string  `json:"discount_reason"`
	RewardsCredits int     `json:"rewards_credits"`
	ExpiresAt      float64 `json:"expires_at"`
}

// Reservation states. Confirmed and Expired are terminal.
const (
	ReservationHold      = "HOLD"
	ReservationConfirmed = "CONFIRMED"
	ReservationExpired   = "EXPIRED"
)

// Reservation is a held claim against a quote.
type Reservation struct {
	ID          string  `json:"id"`
	QuoteID     string  `json:"quote_id"`
	UserID      string  `json:"user_id"`
	Status      string  `json:"status"`
	ExpiresAt   float64 `json:"expires_at"`
	ConfirmedAt float64 `json:"confirmed_at,omitempty"`
}

// Receipt is the result of a successful (or idempotently repeated) confirm.
type Receipt struct {
	Status        string `json:"status"`
	Note          string `json:"note,omitempty"`
	ReceiptAmount int    `json:"receipt_amount,omitempty"`
	NewBalance    int    `json:"new_balance,omitempty"`
	RewardsEarned int    `json:"rewards_earned,omitempty"`
}

// Link congestion statuses reported in snapshots.
const (
	LinkStatusCongested = "CONGESTED"
	LinkStatusFlowing   = "FLOWING"
)

// LinkSnapshot is the read-only view of a link served to status and
// dashboard consumers. Capacity and CI are weather-adjusted effective values.
type LinkSnapshot struct {
	ID                    string      `json:"id"`
	Name                  string      `json:"name"`
	Flow                  int         `json:"flow"`
	Capacity              int         `json:"capacity"`
	CI                    float64     `json:"ci"`
	Forecast              float64     `json:"forecast"`
	Price                 int         `json:"price"`
	PriceMultiplier       float64     `json:"price_multiplier"`
	Status                string      `json:"status"`
	Type                  string      `json:"type"`
	Diversion             int         `json:"diversion"`
	IsLive                bool        `json:"is_live"`
	LastObservationAt     float64     `json:"last_observation_at,omitempty"`
	LastObservationSource string      `json:"last_observation_source,omitempty"`
	AgeSec                float64     `json:"age_sec,omitempty"`
	Coordinates           [][]float64 `json:"coordinates,omitempty"`
}

// TelemetryRecord is an audit entry appended to the twin's history, e.g. on
// every confirmed booking.
type TelemetryRecord struct {
	Timestamp float64        `json:"timestamp"`
	Type      string         `json:"type"`
	Details   map[string]any `json:"details"`
}
