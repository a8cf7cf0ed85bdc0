package exchange

import "fmt"

// ValidationError is a user-correctable failure: insufficient balance or
// asset, a cancel against a non-open order, malformed numeric input. The
// transaction is rolled back with no side effects and the request is safe
// to retry after correcting the input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IntegrityError reports a ledger invariant that should have held but did
// not, e.g. a seller's locked amount not covering its own open order. It
// indicates corruption or a prior bug, not user error: the transaction is
// rolled back and never auto-retried.
type IntegrityError struct {
	Message string
}

func (e *IntegrityError) Error() string {
	return "ledger integrity: " + e.Message
}
