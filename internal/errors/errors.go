// Package errors provides the error taxonomy for the polite crawler.
//
// Per-page failures (network, HTTP status, content, parsing) are values of
// *CrawlError and never stop a crawl. Store failures are also *CrawlError but
// are fatal to the crawl loop. Broken internal invariants are reported with
// Invariant, which panics.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorType categorizes errors for handling decisions.
type ErrorType int

const (
	// Unknown is an uncategorized error.
	Unknown ErrorType = iota
	// Network represents network-related errors (DNS, connection).
	Network
	// Timeout represents timeout errors.
	Timeout
	// HTTPStatus represents a response with a status other than 200.
	HTTPStatus
	// ContentType represents a response whose body is not an HTML document.
	ContentType
	// Parse represents HTML parsing errors.
	Parse
	// Encoding represents bodies that could not be decoded to text.
	Encoding
	// Store represents failures of a persistent store (frontier, signatures, stats).
	Store
	// Cancelled represents context cancellation.
	Cancelled
)

// String returns the string representation of ErrorType.
func (t ErrorType) String() string {
	switch t {
	case Network:
		return "network"
	case Timeout:
		return "timeout"
	case HTTPStatus:
		return "http_status"
	case ContentType:
		return "content_type"
	case Parse:
		return "parse"
	case Encoding:
		return "encoding"
	case Store:
		return "store"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsFatal reports whether errors of this type end the crawl.
func (t ErrorType) IsFatal() bool {
	return t == Store
}

// CrawlError represents a categorized crawl error.
type CrawlError struct {
	Type       ErrorType
	URL        string
	Operation  string
	Message    string
	Cause      error
	StatusCode int
}

// Error implements the error interface.
func (e *CrawlError) Error() string {
	target := e.URL
	if target == "" {
		target = "-"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s error during %s on %s: %s: %v",
			e.Type, e.Operation, target, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error during %s on %s: %s",
		e.Type, e.Operation, target, e.Message)
}

// Unwrap returns the underlying error.
func (e *CrawlError) Unwrap() error {
	return e.Cause
}

// Is matches another *CrawlError of the same type.
func (e *CrawlError) Is(target error) bool {
	t, ok := target.(*CrawlError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// NewCrawlError creates a new CrawlError.
func NewCrawlError(errType ErrorType, url, operation, message string, cause error) *CrawlError {
	return &CrawlError{
		Type:      errType,
		URL:       url,
		Operation: operation,
		Message:   message,
		Cause:     cause,
	}
}

// NewNetworkError creates a network error.
func NewNetworkError(url, operation string, cause error) *CrawlError {
	return NewCrawlError(Network, url, operation, "network failure", cause)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(url, operation string, cause error) *CrawlError {
	return NewCrawlError(Timeout, url, operation, "request timed out", cause)
}

// NewHTTPStatusError creates an error for a non-200 response.
func NewHTTPStatusError(url string, statusCode int) *CrawlError {
	err := NewCrawlError(HTTPStatus, url, "fetch", fmt.Sprintf("server returned %d", statusCode), nil)
	err.StatusCode = statusCode
	return err
}

// NewContentTypeError creates an error for a non-HTML response.
func NewContentTypeError(url, contentType string) *CrawlError {
	return NewCrawlError(ContentType, url, "process", fmt.Sprintf("unsupported content type %q", contentType), nil)
}

// NewParseError creates a parse error.
func NewParseError(url, operation string, cause error) *CrawlError {
	return NewCrawlError(Parse, url, operation, "parsing failed", cause)
}

// NewEncodingError creates an error for an undecodable body.
func NewEncodingError(url string, cause error) *CrawlError {
	return NewCrawlError(Encoding, url, "decode", "body is not decodable text", cause)
}

// NewStoreError creates a persistent store error.
func NewStoreError(operation string, cause error) *CrawlError {
	return NewCrawlError(Store, "", operation, "store operation failed", cause)
}

// NewCancelledError creates a cancelled error.
func NewCancelledError(url, operation string) *CrawlError {
	return NewCrawlError(Cancelled, url, operation, "operation cancelled", nil)
}

// Categorize determines the error type of a fetch error.
func Categorize(err error, url string) *CrawlError {
	if err == nil {
		return nil
	}

	var crawlErr *CrawlError
	if errors.As(err, &crawlErr) {
		return crawlErr
	}

	if errors.Is(err, context.Canceled) {
		return NewCancelledError(url, "fetch")
	}

	if isTimeout(err) {
		return NewTimeoutError(url, "fetch", err)
	}

	if isNetworkError(err) {
		return NewNetworkError(url, "fetch", err)
	}

	return NewCrawlError(Unknown, url, "fetch", err.Error(), err)
}

// CategorizeHTTPStatus returns an error for every status except 200.
func CategorizeHTTPStatus(statusCode int, url string) *CrawlError {
	if statusCode == 200 {
		return nil
	}
	return NewHTTPStatusError(url, statusCode)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

func isNetworkError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp")
}

// IsStoreError reports whether err is a persistent store failure.
func IsStoreError(err error) bool {
	return GetErrorType(err) == Store
}

// GetStatusCode extracts the status code from an error.
func GetStatusCode(err error) int {
	var crawlErr *CrawlError
	if errors.As(err, &crawlErr) {
		return crawlErr.StatusCode
	}
	return 0
}

// GetErrorType extracts the error type from an error.
func GetErrorType(err error) ErrorType {
	var crawlErr *CrawlError
	if errors.As(err, &crawlErr) {
		return crawlErr.Type
	}
	return Unknown
}

// InvariantError describes a broken internal invariant.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string {
	return "invariant violated: " + e.Message
}

// Invariant panics with an *InvariantError. It is reserved for states the
// program can only reach through a bug; callers must not recover from it.
func Invariant(format string, args ...interface{}) {
	panic(&InvariantError{Message: fmt.Sprintf(format, args...)})
}
