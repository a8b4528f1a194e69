// Package errors provides severity-aware error types for the chargeback pipeline.
package errors

import "fmt"

// Severity indicates error impact level.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ChargebackError is a structured error with context.
type ChargebackError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	ResourceID  string   `json:"resource_id,omitempty"`
	Recoverable bool     `json:"recoverable"`
	Cause       error    `json:"-"`
}

func (e *ChargebackError) Error() string {
	if e.ResourceID != "" {
		return fmt.Sprintf("[%s] %s: %s (resource: %s)", e.Severity, e.Code, e.Message, e.ResourceID)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Code, e.Message)
}

func (e *ChargebackError) Unwrap() error {
	return e.Cause
}

// Error codes
const (
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeMissingOwnership    = "MISSING_OWNERSHIP"
	ErrCodeUnknownProductType  = "UNKNOWN_PRODUCT_TYPE"
	ErrCodeConfiguration       = "CONFIGURATION_ERROR"
)

// NewUpstreamUnavailable wraps an upstream fetch failure. The current
// cycle is aborted; the cursor is left where it was.
func NewUpstreamUnavailable(source string, cause error) *ChargebackError {
	return &ChargebackError{
		Code:        ErrCodeUpstreamUnavailable,
		Message:     fmt.Sprintf("upstream source %s unavailable", source),
		Severity:    SeverityError,
		ResourceID:  source,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewRateLimited records an upstream 429 that outlasted the client's
// backoff budget.
func NewRateLimited(url string) *ChargebackError {
	return &ChargebackError{
		Code:        ErrCodeRateLimited,
		Message:     fmt.Sprintf("rate limited by %s", url),
		Severity:    SeverityWarning,
		Recoverable: true,
	}
}

// NewMissingOwnership records an unresolvable owner. Never fatal; the
// calling policy applies its documented fallback tier.
func NewMissingOwnership(resourceID string) *ChargebackError {
	return &ChargebackError{
		Code:        ErrCodeMissingOwnership,
		Message:     "no owning principal resolvable",
		Severity:    SeverityWarning,
		ResourceID:  resourceID,
		Recoverable: true,
	}
}

// NewUnknownProductType records a billing product type with no
// registered allocation policy.
func NewUnknownProductType(productType string) *ChargebackError {
	return &ChargebackError{
		Code:        ErrCodeUnknownProductType,
		Message:     fmt.Sprintf("no allocation policy for product type %s", productType),
		Severity:    SeverityWarning,
		Recoverable: true,
	}
}

// NewConfigurationError is fatal at startup only.
func NewConfigurationError(message string, cause error) *ChargebackError {
	return &ChargebackError{
		Code:        ErrCodeConfiguration,
		Message:     message,
		Severity:    SeverityFatal,
		Recoverable: false,
		Cause:       cause,
	}
}
