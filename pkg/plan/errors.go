package plan

import "errors"

// ErrorKind labels a failure in audit records and per-step statuses. The set
// is closed; anything else a strategy returns is reported as KindUnknown.
type ErrorKind string

const (
	KindNone                 ErrorKind = ""
	KindDetectionEmpty       ErrorKind = "DetectionEmpty"
	KindFieldUnresolved      ErrorKind = "FieldUnresolved"
	KindStrategyExhausted    ErrorKind = "StrategyExhausted"
	KindWaitTimeout          ErrorKind = "WaitTimeout"
	KindOutOfViewport        ErrorKind = "OutOfViewport"
	KindLowOpticalConfidence ErrorKind = "LowOpticalConfidence"
	KindQuotaExceeded        ErrorKind = "QuotaExceeded"
	KindDomainNotWhitelisted ErrorKind = "DomainNotWhitelisted"
	KindConfirmationDenied   ErrorKind = "ConfirmationDenied"
	KindConfirmationTimeout  ErrorKind = "ConfirmationTimeout"
	KindUnknown              ErrorKind = "Unknown"
)

var (
	ErrFieldUnresolved      = errors.New("field locator no longer resolves to a live element")
	ErrStrategyExhausted    = errors.New("all candidate strategies failed")
	ErrWaitTimeout          = errors.New("wait condition not met before timeout")
	ErrOutOfViewport        = errors.New("element cannot be brought into the viewport")
	ErrLowOpticalConfidence = errors.New("optical recognition confidence below threshold")
	ErrQuotaExceeded        = errors.New("daily submission quota exceeded")
	ErrDomainNotWhitelisted = errors.New("page origin is not whitelisted")
	ErrConfirmationDenied   = errors.New("human confirmation denied")
	ErrConfirmationTimeout  = errors.New("human confirmation timed out")
)

// Classify maps an error to its taxonomy kind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrFieldUnresolved):
		return KindFieldUnresolved
	case errors.Is(err, ErrStrategyExhausted):
		return KindStrategyExhausted
	case errors.Is(err, ErrWaitTimeout):
		return KindWaitTimeout
	case errors.Is(err, ErrOutOfViewport):
		return KindOutOfViewport
	case errors.Is(err, ErrLowOpticalConfidence):
		return KindLowOpticalConfidence
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, ErrDomainNotWhitelisted):
		return KindDomainNotWhitelisted
	case errors.Is(err, ErrConfirmationDenied):
		return KindConfirmationDenied
	case errors.Is(err, ErrConfirmationTimeout):
		return KindConfirmationTimeout
	default:
		return KindUnknown
	}
}
