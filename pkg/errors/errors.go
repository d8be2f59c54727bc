package apperrors

import (
	"errors"
	"fmt"
)

// Standardized Exchange Errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")
	ErrPositionNotFound      = errors.New("position not found")
	ErrEmptyBook             = errors.New("order book side is empty")
	ErrCrossedBook           = errors.New("order book is crossed or locked")
)

// ConfigurationError is fatal: the process must not place any order while it holds.
type ConfigurationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Field != "" {
		msg += " [" + e.Field + "]"
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// NewConfigurationError builds a ConfigurationError for field.
func NewConfigurationError(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransientVenueError is a single failed venue interaction. The current cycle
// iteration is abandoned and the next one starts from scratch.
type TransientVenueError struct {
	Venue string
	Op    string
	Code  string
	Err   error
}

func (e *TransientVenueError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Venue, e.Op)
	if e.Code != "" {
		msg += " (code " + e.Code + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransientVenueError) Unwrap() error { return e.Err }

// NewTransientVenueError wraps err as a transient failure of op on venue.
func NewTransientVenueError(venue, op string, err error) error {
	return &TransientVenueError{Venue: venue, Op: op, Err: err}
}

// MalformedResponseError reports a venue payload that did not have the expected shape.
type MalformedResponseError struct {
	Venue   string
	Op      string
	Message string
	Raw     string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s %s: malformed response: %s", e.Venue, e.Op, e.Message)
}

// NewMalformedResponseError builds a MalformedResponseError keeping the raw body for logs.
func NewMalformedResponseError(venue, op, message string, raw []byte) error {
	r := string(raw)
	if len(r) > 512 {
		r = r[:512]
	}
	return &MalformedResponseError{Venue: venue, Op: op, Message: message, Raw: r}
}

// IsConfiguration reports whether err is (or wraps) a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsTransient reports whether err is (or wraps) a TransientVenueError.
func IsTransient(err error) bool {
	var te *TransientVenueError
	return errors.As(err, &te)
}

// IsMalformed reports whether err is (or wraps) a MalformedResponseError.
func IsMalformed(err error) bool {
	var me *MalformedResponseError
	return errors.As(err, &me)
}
