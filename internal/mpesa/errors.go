package mpesa

import "fmt"

// ValidationError reports caller-supplied data that failed a client-side
// check. It is returned before any network call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// AuthError reports a failure to obtain or derive credentials: the OAuth
// token request, or the initiator security credential.
type AuthError struct {
	Message    string
	StatusCode int
	Body       string
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Message, e.StatusCode, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AuthError) Unwrap() error { return e.Err }

// PaymentError reports a network or protocol failure on the STK push
// initiation path. StatusCode and Body carry the upstream response for
// diagnostics when present.
type PaymentError struct {
	Message    string
	StatusCode int
	Body       string
	Err        error
}

func (e *PaymentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Message, e.StatusCode, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PaymentError) Unwrap() error { return e.Err }

// TransactionError reports a failure on the transaction status path,
// including exhaustion of the polling budget.
type TransactionError struct {
	Message    string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransactionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Message, e.StatusCode, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *TransactionError) Unwrap() error { return e.Err }
