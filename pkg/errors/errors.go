package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeConfig represents broken extraction configuration (bad selector, missing field)
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeFetch represents network fetch failures (timeout, oversize, status, encoding)
	ErrorTypeFetch ErrorType = "fetch"
	// ErrorTypeRateLimit represents a host that asked us to back off
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeStore represents persistence failures
	ErrorTypeStore ErrorType = "store"
	// ErrorTypeParsing represents HTML parsing errors
	ErrorTypeParsing ErrorType = "parsing"
	// ErrorTypeNotify represents notifier delivery errors
	ErrorTypeNotify ErrorType = "notify"
	// ErrorTypeValidation represents invalid input
	ErrorTypeValidation ErrorType = "validation"
)

// Error carries the failing site, URL and cache tier so a log line is
// enough to diagnose it.
type Error struct {
	Type    ErrorType
	Site    string
	URL     string
	Tier    string
	Message string
	Err     error
	Time    time.Time
}

// Error implements the error interface
func (e *Error) Error() string {
	var ctx []string
	if e.Site != "" {
		ctx = append(ctx, "site="+e.Site)
	}
	if e.URL != "" {
		ctx = append(ctx, "url="+e.URL)
	}
	if e.Tier != "" {
		ctx = append(ctx, "tier="+e.Tier)
	}
	prefix := fmt.Sprintf("[%s]", e.Type)
	if len(ctx) > 0 {
		prefix += " " + strings.Join(ctx, " ")
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s - %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the failure may be transient. Rate limiting
// anywhere in the chain is never retried.
func (e *Error) IsRetryable() bool {
	if IsType(e, ErrorTypeRateLimit) {
		return false
	}
	switch e.Type {
	case ErrorTypeFetch, ErrorTypeStore:
		return true
	default:
		return false
	}
}

// WithSite sets the site context and returns the same error
func (e *Error) WithSite(site string) *Error {
	e.Site = site
	return e
}

// WithURL sets the URL context and returns the same error
func (e *Error) WithURL(url string) *Error {
	e.URL = url
	return e
}

// WithTier sets the cache tier context and returns the same error
func (e *Error) WithTier(tier string) *Error {
	e.Tier = tier
	return e
}

// New creates a new Error
func New(errType ErrorType, message string, err error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewConfig creates a new configuration error
func NewConfig(message string, err error) *Error {
	return New(ErrorTypeConfig, message, err)
}

// NewFetch creates a new fetch error
func NewFetch(url, message string, err error) *Error {
	return New(ErrorTypeFetch, message, err).WithURL(url)
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(url string, duration time.Duration) *Error {
	message := fmt.Sprintf("rate limited for %v", duration)
	return New(ErrorTypeRateLimit, message, nil).WithURL(url)
}

// NewStore creates a new store error
func NewStore(message string, err error) *Error {
	return New(ErrorTypeStore, message, err)
}

// NewParsing creates a new parsing error
func NewParsing(message string, err error) *Error {
	return New(ErrorTypeParsing, message, err)
}

// NewNotify creates a new notifier error
func NewNotify(message string, err error) *Error {
	return New(ErrorTypeNotify, message, err)
}

// NewValidation creates a new validation error
func NewValidation(message string) *Error {
	return New(ErrorTypeValidation, message, nil)
}

// IsType reports whether any error in err's chain is an *Error of type t.
func IsType(err error, t ErrorType) bool {
	var e *Error
	for err != nil {
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Type == t {
			return true
		}
		err = e.Err
	}
	return false
}
