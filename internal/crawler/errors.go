package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies failures for retry and reporting decisions.
type ErrorKind string

// Error kinds surfaced on job records.
const (
	KindNetwork         ErrorKind = "network"
	KindParse           ErrorKind = "parse"
	KindPersistence     ErrorKind = "persistence"
	KindTimeout         ErrorKind = "timeout"
	KindAuth            ErrorKind = "auth"
	KindPolicyViolation ErrorKind = "policy_violation"
	KindWorker          ErrorKind = "worker"
)

// Severity grades a failure for dashboards.
type Severity string

// Severity levels.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Sentinel errors shared by stores and queues.
var (
	ErrNotFound             = errors.New("not found")
	ErrTransitionRejected   = errors.New("status transition rejected")
	ErrErrorMessageRequired = errors.New("error message required for failed or cancelled status")
	ErrVendorInactive       = errors.New("vendor inactive")
	ErrQueueClosed          = errors.New("queue closed")
)

// Error is a classified crawl failure.
type Error struct {
	Kind       ErrorKind
	Op         string
	URL        string
	StatusCode int
	Err        error
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.URL != "" {
		b.WriteString(" ")
		b.WriteString(e.URL)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the classification of err. Unclassified context deadlines
// and net timeouts count as timeouts; anything else defaults to worker.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindWorker
}

// IsRetryable reports whether a queue-level retry could help.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindNetwork, KindTimeout:
		var ce *Error
		if errors.As(err, &ce) && ce.StatusCode >= 400 && ce.StatusCode < 500 && ce.StatusCode != 429 {
			return false
		}
		return true
	default:
		return false
	}
}

// SeverityOf grades a failure kind.
func SeverityOf(kind ErrorKind) Severity {
	switch kind {
	case KindAuth, KindWorker:
		return SeverityHigh
	case KindNetwork, KindTimeout, KindPersistence:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// DetailOf builds the structured error detail stored on a job.
func DetailOf(err error, attempt int) *ErrorDetail {
	if err == nil {
		return nil
	}
	kind := KindOf(err)
	detail := &ErrorDetail{Kind: kind, Severity: SeverityOf(kind), Attempt: attempt}
	var ce *Error
	if errors.As(err, &ce) {
		detail.URL = ce.URL
		detail.StatusCode = ce.StatusCode
	}
	return detail
}
