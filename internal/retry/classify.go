// Package retry implements bounded exponential-backoff retries for remote calls.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
)

// Class is the retry classification of an error.
type Class int

const (
	// ClassFatal errors are returned immediately.
	ClassFatal Class = iota
	// ClassRetryable errors are retried after a backoff delay.
	ClassRetryable
)

// String returns the string representation of Class.
func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classifier maps an error to a retry class.
type Classifier func(err error) Class

// Retryable is implemented by errors that know whether they can be retried.
type Retryable interface {
	Retryable() bool
}

// ClassifyStatus classifies an HTTP status code.
// 408, 429, 500, 502, 503 and 504 are retryable; everything else is fatal.
func ClassifyStatus(code int) Class {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return ClassRetryable
	default:
		return ClassFatal
	}
}

// ClassifyHTTP is the default classifier for HTTP transports.
// Errors implementing Retryable decide for themselves; network failures and
// per-attempt deadlines are retryable; cancellation is fatal.
func ClassifyHTTP(err error) Class {
	if err == nil {
		return ClassFatal
	}

	var r Retryable
	if errors.As(err, &r) {
		if r.Retryable() {
			return ClassRetryable
		}
		return ClassFatal
	}

	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassRetryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassRetryable
	}

	return ClassFatal
}
