package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeFetch represents navigation, timeout and login errors
	ErrorTypeFetch ErrorType = "fetch"
	// ErrorTypeParsing represents HTML parsing and selector errors
	ErrorTypeParsing ErrorType = "parsing"
	// ErrorTypeNormalization represents field normalization errors
	ErrorTypeNormalization ErrorType = "normalization"
	// ErrorTypePersistence represents snapshot and storage write errors
	ErrorTypePersistence ErrorType = "persistence"
	// ErrorTypeRateLimit represents rate limiting errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeCache represents cache-related errors
	ErrorTypeCache ErrorType = "cache"
	// ErrorTypePublisher represents publisher-related errors
	ErrorTypePublisher ErrorType = "publisher"
	// ErrorTypeValidation represents record validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
)

// CrawlError represents a crawl-pipeline error tied to a source
// (a seed URL or component name)
type CrawlError struct {
	Type    ErrorType
	Source  string
	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *CrawlError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Source, e.Message)
}

// Unwrap returns the underlying error
func (e *CrawlError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is worth retrying on a later run
func (e *CrawlError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeFetch:
		return true
	case ErrorTypePersistence:
		return true
	default:
		return false
	}
}

// IsType reports whether err is a CrawlError of the given type
func IsType(err error, t ErrorType) bool {
	var ce *CrawlError
	if errors.As(err, &ce) {
		return ce.Type == t
	}
	return false
}

// New creates a new CrawlError
func New(errType ErrorType, source, message string, err error) *CrawlError {
	return &CrawlError{
		Type:    errType,
		Source:  source,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewFetch creates a new fetch error
func NewFetch(source, message string, err error) *CrawlError {
	return New(ErrorTypeFetch, source, message, err)
}

// NewParsing creates a new parsing error
func NewParsing(source, message string, err error) *CrawlError {
	return New(ErrorTypeParsing, source, message, err)
}

// NewNormalization creates a new normalization error
func NewNormalization(source, message string, err error) *CrawlError {
	return New(ErrorTypeNormalization, source, message, err)
}

// NewPersistence creates a new persistence error
func NewPersistence(source, message string, err error) *CrawlError {
	return New(ErrorTypePersistence, source, message, err)
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(source string, duration time.Duration) *CrawlError {
	message := fmt.Sprintf("rate limited for %v", duration)
	return New(ErrorTypeRateLimit, source, message, nil)
}

// NewCache creates a new cache error
func NewCache(source, message string, err error) *CrawlError {
	return New(ErrorTypeCache, source, message, err)
}

// NewPublisher creates a new publisher error
func NewPublisher(source, message string, err error) *CrawlError {
	return New(ErrorTypePublisher, source, message, err)
}

// NewValidation creates a new validation error
func NewValidation(source, message string) *CrawlError {
	return New(ErrorTypeValidation, source, message, nil)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *CrawlError {
	return New(ErrorTypeConfiguration, "", message, err)
}
