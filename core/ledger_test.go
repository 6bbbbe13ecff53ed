package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/congestion-twin/timectrl"
)

func TestBookingFlowDebitsAndRewards(t *testing.T) {
	clock := timectrl.NewManualClock(testEpoch)
	ledger, twin := newTestLedger(clock)
	ctx := context.Background()

	// Fresh twin: CI is 0, below the reward threshold, so the quote carries
	// reward credits.
	quote, err := ledger.CreateQuote(ctx, "u_std", "link_bridge")
	if err != nil {
		t.Fatalf("CreateQuote: %v", err)
	}
	if quote.FinalPrice != 500 || quote.RewardsCredits != 5 {
		t.Fatalf("quote = %+v, want price 500 with 5 reward credits", quote)
	}

	res, err := ledger.Reserve(ctx, quote.ID)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if res.Status != ReservationHold {
		t.Fatalf("reservation status = %s, want HOLD", res.Status)
	}

	receipt, err := ledger.Confirm(ctx, res.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if receipt.Status != ReservationConfirmed {
		t.Errorf("receipt status = %s, want CONFIRMED", receipt.Status)
	}
	if receipt.ReceiptAmount != 500 || receipt.RewardsEarned != 5 {
		t.Errorf("receipt = %+v, want amount 500, rewards 5", receipt)
	}
	if receipt.NewBalance != 9505 {
		t.Errorf("NewBalance = %d, want 9505", receipt.NewBalance)
	}

	user, _ := twin.GetUser("u_std")
	if user.Balance != 9505 {
		t.Errorf("twin balance = %d, want 9505", user.Balance)
	}
	if n := ledger.QuoteCount(); n != 0 {
		t.Errorf("quote count after confirm = %d, want 0", n)
	}
	if len(twin.Telemetry()) != 1 {
		t.Errorf("telemetry records = %d, want 1 booking_confirmed", len(twin.Telemetry()))
	}
}

func TestConfirmIsIdempotent(t *testing.T) {
	clock := timectrl.NewManualClock(testEpoch)
	ledger, twin := newTestLedger(clock)
	ctx := context.Background()

	quote, _ := ledger.CreateQuote(ctx, "u_std", "link_bridge")
	res, _ := ledger.Reserve(ctx, quote.ID)
	if _, err := ledger.Confirm(ctx, res.ID); err != nil {
		t.Fatalf("first Confirm: %v", err)
	}

	receipt, err := ledger.Confirm(ctx, res.ID)
	if err != nil {
		t.Fatalf("second Confirm: %v", err)
	}
	if receipt.Status != ReservationConfirmed || receipt.Note != "Already Confirmed" {
		t.Errorf("repeat receipt = %+v, want idempotent marker", receipt)
	}
	if receipt.ReceiptAmount != 0 {
		t.Errorf("repeat receipt charged %d", receipt.ReceiptAmount)
	}
	user, _ := twin.GetUser("u_std")
	if user.Balance != 9505 {
		t.Errorf("balance = %d after repeat confirm, want single debit 9505", user.Balance)
	}
}

func TestReserveExpiredQuote(t *testing.T) {
	clock := timectrl.NewManualClock(testEpoch)
	ledger, _ := newTestLedger(clock)
	ctx := context.Background()

	quote, _ := ledger.CreateQuote(ctx, "u_std", "link_bridge")
	clock.Advance(121 * time.Second)

	_, err := ledger.Reserve(ctx, quote.ID)
	if !errors.Is(err, ErrQuoteExpired) {
		t.Fatalf("err = %v, want ErrQuoteExpired", err)
	}
	// The expired quote is gone; a retry reports not-found.
	_, err = ledger.Reserve(ctx, quote.ID)
	if !errors.Is(err, ErrQuoteNotFound) {
		t.Fatalf("retry err = %v, want ErrQuoteNotFound", err)
	}
}

func TestConfirmOverdueHoldExpires(t *testing.T) {
	clock := timectrl.NewManualClock(testEpoch)
	ledger, twin := newTestLedger(clock)
	ctx := context.Background()

	quote, _ := ledger.CreateQuote(ctx, "u_std", "link_bridge")
	res, _ := ledger.Reserve(ctx, quote.ID)
	clock.Advance(61 * time.Second)

	_, err := ledger.Confirm(ctx, res.ID)
	if !errors.Is(err, ErrReservationExpired) {
		t.Fatalf("err = %v, want ErrReservationExpired", err)
	}
	stored, ok := ledger.GetReservation(res.ID)
	if !ok || stored.Status != ReservationExpired {
		t.Errorf("reservation = %+v, want retained as EXPIRED", stored)
	}
	// Expired holds never become confirmed, and never charge.
	if _, err := ledger.Confirm(ctx, res.ID); !errors.Is(err, ErrReservationExpired) {
		t.Errorf("repeat confirm err = %v, want ErrReservationExpired", err)
	}
	user, _ := twin.GetUser("u_std")
	if user.Balance != 10000 {
		t.Errorf("balance = %d, want untouched 10000", user.Balance)
	}
}

func TestConfirmInsufficientFundsKeepsHold(t *testing.T) {
	clock := timectrl.NewManualClock(testEpoch)
	ledger, twin := newTestLedger(clock)
	ctx := context.Background()

	quote, _ := ledger.CreateQuote(ctx, "u_broke", "link_bridge")
	res, _ := ledger.Reserve(ctx, quote.ID)

	_, err := ledger.Confirm(ctx, res.ID)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	stored, _ := ledger.GetReservation(res.ID)
	if stored.Status != ReservationHold {
		t.Errorf("status = %s after failed settle, want HOLD", stored.Status)
	}
	user, _ := twin.GetUser("u_broke")
	if user.Balance != 10 {
		t.Errorf("balance = %d, want untouched 10", user.Balance)
	}
}

func TestHoldAnchorsQuotePastItsExpiry(t *testing.T) {
	clock := timectrl.NewManualClock(testEpoch)
	ledger, _ := newTestLedger(clock)
	ctx := context.Background()

	// Reservation expiry (60s) runs past quote expiry in this setup only if
	// the hold is placed late in the quote's life.
	quote, _ := ledger.CreateQuote(ctx, "u_std", "link_bridge")
	clock.Advance(110 * time.Second)
	res, err := ledger.Reserve(ctx, quote.ID)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// Quote is now past its own expiry but anchored by the active hold.
	clock.Advance(30 * time.Second)
	if n := ledger.QuoteCount(); n != 1 {
		t.Fatalf("anchored quote purged, count = %d", n)
	}
	if _, err := ledger.Confirm(ctx, res.ID); err != nil {
		t.Fatalf("Confirm on anchored quote: %v", err)
	}
}

func TestPurgeDropsUnanchoredQuotes(t *testing.T) {
	clock := timectrl.NewManualClock(testEpoch)
	ledger, _ := newTestLedger(clock)
	ctx := context.Background()

	if _, err := ledger.CreateQuote(ctx, "u_std", "link_bridge"); err != nil {
		t.Fatalf("CreateQuote: %v", err)
	}
	if n := ledger.QuoteCount(); n != 1 {
		t.Fatalf("quote count = %d, want 1", n)
	}
	clock.Advance(121 * time.Second)
	if n := ledger.QuoteCount(); n != 0 {
		t.Errorf("quote count after expiry = %d, want 0", n)
	}
}

func TestRetentionEvictsTerminalReservations(t *testing.T) {
	clock := timectrl.NewManualClock(testEpoch)
	ledger, _ := newTestLedger(clock)
	ctx := context.Background()

	quote, _ := ledger.CreateQuote(ctx, "u_std", "link_bridge")
	res, _ := ledger.Reserve(ctx, quote.ID)

	// Hold expires, flips to EXPIRED, and sticks around for the retention
	// window.
	clock.Advance(61 * time.Second)
	if n := ledger.ReservationCount(); n != 1 {
		t.Fatalf("reservation count = %d, want 1 retained", n)
	}
	clock.Advance(601 * time.Second)
	if n := ledger.ReservationCount(); n != 0 {
		t.Errorf("reservation count after retention = %d, want 0", n)
	}
	if _, ok := ledger.GetReservation(res.ID); ok {
		t.Error("evicted reservation still readable")
	}
}

func TestRetentionDisabledKeepsTerminalRecords(t *testing.T) {
	clock := timectrl.NewManualClock(testEpoch)
	twin, policy := newTestTwin(clock)
	engine := NewPolicyEngine(policy, clock, 120*time.Second)
	ledger := NewQuoteLedger(twin, engine, clock, LedgerConfig{
		QuoteExpiry:       120 * time.Second,
		ReservationExpiry: 60 * time.Second,
		Retention:         0,
	})
	ctx := context.Background()

	quote, _ := ledger.CreateQuote(ctx, "u_std", "link_bridge")
	res, _ := ledger.Reserve(ctx, quote.ID)
	clock.Advance(24 * time.Hour)

	if n := ledger.ReservationCount(); n != 1 {
		t.Errorf("reservation count = %d, want 1 with retention disabled", n)
	}
	stored, _ := ledger.GetReservation(res.ID)
	if stored.Status != ReservationExpired {
		t.Errorf("status = %s, want EXPIRED", stored.Status)
	}
}

func TestCreateQuoteUnknownEntities(t *testing.T) {
	clock := timectrl.NewManualClock(testEpoch)
	ledger, _ := newTestLedger(clock)
	ctx := context.Background()

	if _, err := ledger.CreateQuote(ctx, "ghost", "link_bridge"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
	if _, err := ledger.CreateQuote(ctx, "u_std", "link_ghost"); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("err = %v, want ErrLinkNotFound", err)
	}
	if _, err := ledger.Reserve(ctx, "q_ghost"); !errors.Is(err, ErrQuoteNotFound) {
		t.Errorf("err = %v, want ErrQuoteNotFound", err)
	}
	if _, err := ledger.Confirm(ctx, "r_ghost"); !errors.Is(err, ErrReservationNotFound) {
		t.Errorf("err = %v, want ErrReservationNotFound", err)
	}
}
