// Package errors provides store error classification and handling utilities.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/redis/go-redis/v9"
)

// StoreErrorType represents the type of a key-value store error.
type StoreErrorType int

const (
	// ErrorTypeUnknown represents an unknown store error.
	ErrorTypeUnknown StoreErrorType = iota
	// ErrorTypeNoScript represents a script that is no longer resident in the store's script cache.
	ErrorTypeNoScript
	// ErrorTypeNil represents a missing key or nil reply (redis.Nil).
	ErrorTypeNil
	// ErrorTypeConnectionError represents a store connection error.
	ErrorTypeConnectionError
	// ErrorTypeTimeout represents a timed out or canceled store call.
	ErrorTypeTimeout
	// ErrorTypeScriptError represents a runtime error raised inside a script.
	ErrorTypeScriptError
)

// String returns a short name of the error type, used in log fields.
func (t StoreErrorType) String() string {
	switch t {
	case ErrorTypeNoScript:
		return "noscript"
	case ErrorTypeNil:
		return "nil"
	case ErrorTypeConnectionError:
		return "connection"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeScriptError:
		return "script"
	default:
		return "unknown"
	}
}

// StoreError wraps a store error with classification information.
type StoreError struct {
	Type        StoreErrorType
	Op          string
	OriginalErr error
	Message     string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s (%s): %v", e.Message, e.Op, e.OriginalErr)
	}
	return fmt.Sprintf("%s: %v", e.Message, e.OriginalErr)
}

// Unwrap returns the underlying error for errors.Is and errors.As compatibility.
func (e *StoreError) Unwrap() error {
	return e.OriginalErr
}

// ClassifyRedisError classifies a go-redis error into a specific error type.
//
// It handles the replies the circuit breaker cares about:
//   - redis.Nil → ErrorTypeNil
//   - "NOSCRIPT ..." → ErrorTypeNoScript
//   - "ERR Error running script ..." / "ERR user_script ..." → ErrorTypeScriptError
//   - context deadline / net timeouts → ErrorTypeTimeout
//   - dial / refused / reset errors → ErrorTypeConnectionError
//
// Example:
//
//	res, err := rdb.EvalSha(ctx, sha, keys, args...).Result()
//	if err != nil {
//	    switch errors.ClassifyRedisError("evalsha", err).Type {
//	    case errors.ErrorTypeNoScript:
//	        // reload and retry
//	    case errors.ErrorTypeNil:
//	        // script returned nil
//	    }
//	}
func ClassifyRedisError(op string, err error) *StoreError {
	if err == nil {
		return nil
	}

	if errors.Is(err, redis.Nil) {
		return &StoreError{Type: ErrorTypeNil, Op: op, OriginalErr: err, Message: "nil reply"}
	}

	errMsg := err.Error()
	if strings.HasPrefix(errMsg, "NOSCRIPT") {
		return &StoreError{Type: ErrorTypeNoScript, Op: op, OriginalErr: err, Message: "script not cached"}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &StoreError{Type: ErrorTypeTimeout, Op: op, OriginalErr: err, Message: "store call timed out"}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &StoreError{Type: ErrorTypeTimeout, Op: op, OriginalErr: err, Message: "store call timed out"}
	}

	if isScriptRuntimeError(errMsg) {
		return &StoreError{Type: ErrorTypeScriptError, Op: op, OriginalErr: err, Message: "script execution failed"}
	}

	if isConnectionError(errMsg) {
		return &StoreError{Type: ErrorTypeConnectionError, Op: op, OriginalErr: err, Message: "store connection error"}
	}

	return &StoreError{Type: ErrorTypeUnknown, Op: op, OriginalErr: err, Message: "unknown store error"}
}

func isScriptRuntimeError(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	return strings.Contains(lower, "error running script") || strings.Contains(lower, "user_script")
}

// isConnectionError checks if the error message indicates a connection problem.
func isConnectionError(errMsg string) bool {
	connectionKeywords := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"i/o timeout",
		"use of closed network connection",
		"client is closed",
		"dial tcp",
		"eof",
	}

	lower := strings.ToLower(errMsg)
	for _, keyword := range connectionKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// IsNoScript checks if the error is the store's "script unknown" signal.
func IsNoScript(err error) bool {
	storeErr := ClassifyRedisError("", err)
	return storeErr != nil && storeErr.Type == ErrorTypeNoScript
}

// IsNil checks if the error is a nil reply.
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

// IsConnectionError checks if the error is a connection or timeout problem.
func IsConnectionError(err error) bool {
	storeErr := ClassifyRedisError("", err)
	return storeErr != nil && (storeErr.Type == ErrorTypeConnectionError || storeErr.Type == ErrorTypeTimeout)
}
