package logging

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// OperationError tags a failure with the pipeline or infrastructure step
// that produced it and the request it belongs to.
type OperationError struct {
	Operation string
	RequestID string
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.RequestID == "" {
		return e.Operation + ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s [%s]: %v", e.Operation, e.RequestID, e.Err)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Fields renders the error as structured log fields. The request id is left
// to the logger's own context, see WithOperation.
func (e *OperationError) Fields() []zap.Field {
	return []zap.Field{zap.String("failed_operation", e.Operation), zap.Error(e.Err)}
}

// NewOperationError wraps err; a nil err stays nil.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// ErrorFields returns the fields of the outermost OperationError in err's
// chain, or a plain error field when there is none.
func ErrorFields(err error) []zap.Field {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Fields()
	}
	return []zap.Field{zap.Error(err)}
}
