package llm

import (
	"context"
	"errors"
	"fmt"
)

// InferenceErrorKind classifies a reasoning failure.
type InferenceErrorKind string

const (
	// KindTimeout means the call exceeded its deadline.
	KindTimeout InferenceErrorKind = "timeout"
	// KindMalformed means the response could not be decoded into the
	// expected shape or failed validation.
	KindMalformed InferenceErrorKind = "malformed"
	// KindUpstream covers transport failures, non-2xx responses, an open
	// circuit breaker and rate-limiter rejections.
	KindUpstream InferenceErrorKind = "upstream"
)

// InferenceError is returned by every Reasoner call that did not yield a
// usable result. Callers treat it as "skip this unit of work".
type InferenceError struct {
	Op   string
	Kind InferenceErrorKind
	Err  error
}

// Error implements the error interface.
func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *InferenceError) Unwrap() error { return e.Err }

// IsInferenceError reports whether err is, or wraps, an *InferenceError.
func IsInferenceError(err error) bool {
	var ie *InferenceError
	return errors.As(err, &ie)
}

// classify wraps err as an InferenceError for op, keeping an existing
// classification when there is one.
func classify(op string, err error) *InferenceError {
	var ie *InferenceError
	if errors.As(err, &ie) {
		if ie.Op != op {
			return &InferenceError{Op: op, Kind: ie.Kind, Err: ie.Err}
		}
		return ie
	}
	kind := KindUpstream
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &InferenceError{Op: op, Kind: kind, Err: err}
}
