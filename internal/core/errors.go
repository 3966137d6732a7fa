package core

import "errors"

// Failure categories shared across the ledger. Adapters wrap their own
// errors with one of these so callers can branch with errors.Is.
var (
	// ErrCurrencyUnsupported means the currency code failed the syntactic check.
	ErrCurrencyUnsupported = errors.New("currency unsupported")
	// ErrRateUnavailable means neither rate source produced a usable rate.
	ErrRateUnavailable = errors.New("exchange rate unavailable")
	// ErrStorage marks a failed read or write against the ledger store.
	ErrStorage = errors.New("storage failure")
	// ErrTransport marks a failed call to the chat platform.
	ErrTransport = errors.New("transport failure")
	// ErrNotFound is returned when an update targets an entry that does not exist.
	ErrNotFound = errors.New("not found")
)
