package http

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorType classifies a failed request for logging and user messaging.
// Nothing is retried automatically; the class only describes the failure.
type ErrorType int

const (
	// ErrorTypeSuccess indicates operation succeeded
	ErrorTypeSuccess ErrorType = iota
	// ErrorTypeCredential indicates an access key problem (401, 403)
	ErrorTypeCredential
	// ErrorTypeNetwork indicates network/connection issues (timeouts, connection refused, etc.)
	ErrorTypeNetwork
	// ErrorTypeRetryable indicates server errors a user retry may fix (5xx, 429)
	ErrorTypeRetryable
	// ErrorTypeFatal indicates client errors a retry will not fix (400, 404, 413)
	ErrorTypeFatal
	// ErrorTypeCanceled indicates the caller canceled the request
	ErrorTypeCanceled
)

// ClassifyStatus maps an HTTP status code to an ErrorType.
func ClassifyStatus(code int) ErrorType {
	switch {
	case code >= 200 && code < 300:
		return ErrorTypeSuccess
	case code == 401 || code == 403:
		return ErrorTypeCredential
	case code == 408 || code == 429 || code >= 500:
		return ErrorTypeRetryable
	default:
		return ErrorTypeFatal
	}
}

// ClassifyError determines the error type of a transport or tus client error.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeSuccess
	}
	if errors.Is(err, context.Canceled) {
		return ErrorTypeCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "access key") {
		return ErrorTypeCredential
	}

	if strings.Contains(errStr, "tls handshake timeout") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "timeout") {
		return ErrorTypeNetwork
	}

	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "offset mismatch") {
		return ErrorTypeRetryable
	}

	return ErrorTypeFatal
}

// ErrorTypeName returns a short name for logging.
func ErrorTypeName(t ErrorType) string {
	switch t {
	case ErrorTypeSuccess:
		return "success"
	case ErrorTypeCredential:
		return "credential"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeRetryable:
		return "retryable"
	case ErrorTypeFatal:
		return "fatal"
	case ErrorTypeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}
