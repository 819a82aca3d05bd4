package broker

import (
	"errors"
	"fmt"
	"strings"
)

// TransientError wraps a broker failure that is expected to be retried with
// exponential backoff (network blips, rate limiting, 5xx responses).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("broker: transient error during %s: %v", e.Op, e.Err)
}

// Unwrap allows errors.Is/errors.As to reach the underlying cause.
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a broker failure that must not be retried (auth
// failure, unknown symbol, invalid volume).
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("broker: permanent error during %s: %v", e.Op, e.Err)
}

// Unwrap allows errors.Is/errors.As to reach the underlying cause.
func (e *PermanentError) Unwrap() error { return e.Err }

// transientPatterns mirrors the teacher's retry.isTransientError string
// classification, applied here to HTTP/transport failures from the bridge.
var transientPatterns = []string{
	"timeout",
	"i/o timeout",
	"connection refused",
	"connection reset",
	"temporary failure",
	"temporarily unavailable",
	"server error",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"network",
	"dns",
	"no such host",
	"deadline exceeded",
	"broken pipe",
	"eof",
}

// classify wraps err as a TransientError or PermanentError for op, based on
// string-matching its message the way the teacher's retry client does.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == 429 || apiErr.Status >= 500 {
			return &TransientError{Op: op, Err: err}
		}
		return &PermanentError{Op: op, Err: err}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return &TransientError{Op: op, Err: err}
		}
	}
	return &PermanentError{Op: op, Err: err}
}

// IsTransient reports whether err (or something it wraps) is a TransientError.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
