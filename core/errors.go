package core

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrLinkNotFound        = errors.New("link not found")
	ErrQuoteNotFound       = errors.New("quote not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrQuoteExpired        = errors.New("quote expired")
	ErrReservationExpired  = errors.New("reservation expired")
	ErrInsufficientFunds   = errors.New("insufficient funds")
)

// IsNotFound reports whether err is any of the not-found sentinels. Handlers
// use it to map ledger failures onto 404 responses.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrLinkNotFound) ||
		errors.Is(err, ErrQuoteNotFound) ||
		errors.Is(err, ErrReservationNotFound)
}

// IsExpired reports whether err is a quote or reservation expiry failure.
func IsExpired(err error) bool {
	return errors.Is(err, ErrQuoteExpired) || errors.Is(err, ErrReservationExpired)
}
