package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeFetch represents page retrieval failures
	ErrorTypeFetch ErrorType = "fetch"
	// ErrorTypeRateLimit represents rate limiting errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeParse represents fragments or offers rejected while parsing
	ErrorTypeParse ErrorType = "parse"
	// ErrorTypeCollision represents two offers mapping to one natural key
	ErrorTypeCollision ErrorType = "collision"
	// ErrorTypePersistence represents store lookup/insert/update failures
	ErrorTypePersistence ErrorType = "persistence"
	// ErrorTypeCache represents cache-related errors
	ErrorTypeCache ErrorType = "cache"
	// ErrorTypePublisher represents publisher-related errors
	ErrorTypePublisher ErrorType = "publisher"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
)

// PipelineError represents an error raised by one stage of the pipeline
type PipelineError struct {
	Type      ErrorType
	Provider  string
	Country   string
	Message   string
	Err       error
	Retryable bool
	Time      time.Time
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	scope := e.Provider
	if e.Country != "" {
		scope = fmt.Sprintf("%s/%s", e.Provider, e.Country)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, scope, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, scope, e.Message)
}

// Unwrap returns the underlying error
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is retryable
func (e *PipelineError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeFetch, ErrorTypePersistence:
		return e.Retryable
	default:
		return false
	}
}

// New creates a new PipelineError
func New(errType ErrorType, provider, message string, err error) *PipelineError {
	return &PipelineError{
		Type:     errType,
		Provider: provider,
		Message:  message,
		Err:      err,
		Time:     time.Now(),
	}
}

// WithCountry sets the country the error is scoped to
func (e *PipelineError) WithCountry(country string) *PipelineError {
	e.Country = country
	return e
}

// NewFetch creates a new fetch error
func NewFetch(provider, message string, err error) *PipelineError {
	e := New(ErrorTypeFetch, provider, message, err)
	e.Retryable = true
	return e
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(provider string, duration time.Duration) *PipelineError {
	message := fmt.Sprintf("rate limited for %v", duration)
	return New(ErrorTypeRateLimit, provider, message, nil)
}

// NewParse creates a new parse rejection
func NewParse(provider, message string) *PipelineError {
	return New(ErrorTypeParse, provider, message, nil)
}

// NewCollision creates a new collision warning
func NewCollision(provider, message string) *PipelineError {
	return New(ErrorTypeCollision, provider, message, nil)
}

// NewPersistence creates a new persistence error
func NewPersistence(provider, message string, err error, retryable bool) *PipelineError {
	e := New(ErrorTypePersistence, provider, message, err)
	e.Retryable = retryable
	return e
}

// NewCache creates a new cache error
func NewCache(provider, message string, err error) *PipelineError {
	return New(ErrorTypeCache, provider, message, err)
}

// NewPublisher creates a new publisher error
func NewPublisher(provider, message string, err error) *PipelineError {
	return New(ErrorTypePublisher, provider, message, err)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *PipelineError {
	return New(ErrorTypeConfiguration, "", message, err)
}

// IsType reports whether err wraps a PipelineError of the given type
func IsType(err error, errType ErrorType) bool {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Type == errType
	}
	return false
}

// TypeOf returns the type of the wrapped PipelineError, or an empty type
func TypeOf(err error) ErrorType {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Type
	}
	return ""
}

// IsRetryable reports whether err wraps a retryable PipelineError
func IsRetryable(err error) bool {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.IsRetryable()
	}
	return false
}
