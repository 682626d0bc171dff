package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrCollectionNotFound indicates the named collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch indicates a vector whose size differs from the collection's.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrPointNotFound indicates an id that is not in the collection.
	ErrPointNotFound = errors.New("point not found")

	// ErrUnknownBackend indicates an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown vector store backend")
)

// VectorDatabaseError is returned for every failed store operation.
type VectorDatabaseError struct {
	Op         string
	Collection string
	Retryable  bool
	Err        error
}

func (e *VectorDatabaseError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("vector store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("vector store %s on %q: %v", e.Op, e.Collection, e.Err)
}

func (e *VectorDatabaseError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	var vde *VectorDatabaseError
	if errors.As(err, &vde) {
		return vde.Retryable
	}
	return isTransientError(err)
}

func newError(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var vde *VectorDatabaseError
	if errors.As(err, &vde) {
		return err
	}
	return &VectorDatabaseError{
		Op:         op,
		Collection: collection,
		Retryable:  isTransientError(err),
		Err:        err,
	}
}

// isTransientError checks if an error is transient and should be retried.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}
