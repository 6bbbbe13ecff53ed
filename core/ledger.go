package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/congestion-twin/timectrl"
)

// LedgerConfig tunes the transactional workflow deadlines.
type LedgerConfig struct {
	QuoteExpiry       time.Duration
	ReservationExpiry time.Duration
	// Retention bounds how long terminal reservations are kept for
	// idempotent re-confirmation checks and audit. <= 0 disables eviction.
	Retention time.Duration
}

// QuoteLedger owns every quote and reservation record and drives the
// quote -> reservation -> confirmation state machine. It holds non-owning
// references to the twin for user/link reads and for the atomic balance
// settlement on confirm. A lazy purge pass runs before every operation:
// expired unanchored quotes are dropped, overdue holds flip to EXPIRED, and
// terminal reservations past the retention window are evicted.
type QuoteLedger struct {
	twin   *CongestionTwin
	policy *PolicyEngine
	clock  timectrl.SimClock
	cfg    LedgerConfig
	tracer trace.Tracer

	mu           sync.Mutex
	quotes       map[string]*Quote
	reservations map[string]*Reservation
}

// NewQuoteLedger constructs an empty ledger.
func NewQuoteLedger(twin *CongestionTwin, policy *PolicyEngine, clock timectrl.SimClock, cfg LedgerConfig) *QuoteLedger {
	return &QuoteLedger{
		twin:         twin,
		policy:       policy,
		clock:        clock,
		cfg:          cfg,
		tracer:       otel.Tracer("congestion-twin/ledger"),
		quotes:       make(map[string]*Quote),
		reservations: make(map[string]*Reservation),
	}
}

// CreateQuote prices the link for the user and stores the resulting quote.
func (l *QuoteLedger) CreateQuote(ctx context.Context, userID, linkID string) (Quote, error) {
	_, span := l.tracer.Start(ctx, "ledger.CreateQuote",
		trace.WithAttributes(attribute.String("user_id", userID), attribute.String("link_id", linkID)))
	defer span.End()

	user, ok := l.twin.GetUser(userID)
	if !ok {
		return Quote{}, fmt.Errorf("%w: %q", ErrUserNotFound, userID)
	}
	link, ok := l.twin.GetLink(linkID)
	if !ok {
		return Quote{}, fmt.Errorf("%w: %q", ErrLinkNotFound, linkID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.purgeLocked(l.nowSeconds())

	quote := l.policy.Quote(user, link)
	l.quotes[quote.ID] = &quote
	span.SetAttributes(attribute.String("quote_id", quote.ID), attribute.Int("final_price", quote.FinalPrice))
	return quote, nil
}

// Reserve turns a live quote into a HOLD reservation with its own expiry.
// The quote stays in the store, anchored by the hold, until confirmation or
// expiry.
func (l *QuoteLedger) Reserve(ctx context.Context, quoteID string) (Reservation, error) {
	_, span := l.tracer.Start(ctx, "ledger.Reserve",
		trace.WithAttributes(attribute.String("quote_id", quoteID)))
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowSeconds()
	l.purgeLocked(now)

	quote, ok := l.quotes[quoteID]
	if !ok {
		return Reservation{}, fmt.Errorf("%w: %q", ErrQuoteNotFound, quoteID)
	}
	if now > quote.ExpiresAt {
		delete(l.quotes, quoteID)
		return Reservation{}, fmt.Errorf("%w: %q", ErrQuoteExpired, quoteID)
	}

	res := &Reservation{
		ID:        shortID("r_"),
		QuoteID:   quoteID,
		UserID:    quote.UserID,
		Status:    ReservationHold,
		ExpiresAt: now + l.cfg.ReservationExpiry.Seconds(),
	}
	l.reservations[res.ID] = res
	span.SetAttributes(attribute.String("reservation_id", res.ID))
	return *res, nil
}

// Confirm settles a held reservation: it debits the final price, credits any
// earned rewards, marks the reservation CONFIRMED, releases the quote, and
// emits a telemetry record. Confirming an already-confirmed reservation is
// idempotent and never charges twice.
func (l *QuoteLedger) Confirm(ctx context.Context, reservationID string) (Receipt, error) {
	_, span := l.tracer.Start(ctx, "ledger.Confirm",
		trace.WithAttributes(attribute.String("reservation_id", reservationID)))
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowSeconds()
	l.purgeLocked(now)

	res, ok := l.reservations[reservationID]
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %q", ErrReservationNotFound, reservationID)
	}
	switch res.Status {
	case ReservationConfirmed:
		return Receipt{Status: ReservationConfirmed, Note: "Already Confirmed"}, nil
	case ReservationExpired:
		return Receipt{}, fmt.Errorf("%w: %q", ErrReservationExpired, reservationID)
	}
	if now > res.ExpiresAt {
		// Terminal; retained for the retention window so later confirms
		// keep failing with the same reason.
		res.Status = ReservationExpired
		return Receipt{}, fmt.Errorf("%w: %q", ErrReservationExpired, reservationID)
	}

	quote, ok := l.quotes[res.QuoteID]
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %q", ErrQuoteNotFound, res.QuoteID)
	}

	newBalance, err := l.twin.SettleBooking(res.UserID, quote.FinalPrice, quote.RewardsCredits)
	if err != nil {
		return Receipt{}, err
	}

	res.Status = ReservationConfirmed
	res.ConfirmedAt = now
	delete(l.quotes, res.QuoteID)

	tier := ""
	if user, ok := l.twin.GetUser(res.UserID); ok {
		tier = user.Tier
	}
	ciAtBooking := 0.0
	if link, ok := l.twin.GetLink(quote.LinkID); ok {
		ciAtBooking = link.CurrentCI
	}
	l.twin.RecordTelemetry("booking_confirmed", map[string]any{
		"link":          quote.LinkID,
		"price":         quote.FinalPrice,
		"user_tier":     tier,
		"ci_at_booking": ciAtBooking,
	})

	span.SetAttributes(attribute.Int("receipt_amount", quote.FinalPrice))
	return Receipt{
		Status:        ReservationConfirmed,
		ReceiptAmount: quote.FinalPrice,
		NewBalance:    newBalance,
		RewardsEarned: quote.RewardsCredits,
	}, nil
}

// GetReservation returns a copy of a reservation record.
func (l *QuoteLedger) GetReservation(id string) (Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, ok := l.reservations[id]
	if !ok {
		return Reservation{}, false
	}
	return *res, true
}

// QuoteCount returns the number of stored quotes, after a purge pass.
func (l *QuoteLedger) QuoteCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purgeLocked(l.nowSeconds())
	return len(l.quotes)
}

// ReservationCount returns the number of stored reservations, after a purge
// pass.
func (l *QuoteLedger) ReservationCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.purgeLocked(l.nowSeconds())
	return len(l.reservations)
}

// purgeLocked drops expired quotes not anchored by an active hold, flips
// overdue holds to EXPIRED, and evicts terminal reservations older than the
// retention window. Caller must hold l.mu.
func (l *QuoteLedger) purgeLocked(now float64) {
	anchored := make(map[string]struct{})
	for _, res := range l.reservations {
		if res.Status == ReservationHold && now <= res.ExpiresAt {
			anchored[res.QuoteID] = struct{}{}
		}
	}
	for id, quote := range l.quotes {
		if now > quote.ExpiresAt {
			if _, keep := anchored[id]; !keep {
				delete(l.quotes, id)
			}
		}
	}

	retention := l.cfg.Retention.Seconds()
	for id, res := range l.reservations {
		if res.Status == ReservationHold && now > res.ExpiresAt {
			res.Status = ReservationExpired
		}
		if retention <= 0 {
			continue
		}
		switch res.Status {
		case ReservationConfirmed:
			if res.ConfirmedAt > 0 && now-res.ConfirmedAt > retention {
				delete(l.reservations, id)
			}
		case ReservationExpired:
			if now-res.ExpiresAt > retention {
				delete(l.reservations, id)
			}
		}
	}
}

func (l *QuoteLedger) nowSeconds() float64 {
	return unixSeconds(l.clock.Now())
}
