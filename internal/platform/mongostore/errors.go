package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/orderable/products-api/internal/platform/docstore"
)

// Error classifies a driver failure for the document store contract.
type Error struct {
	op          string
	err         error
	conflict    bool
	unavailable bool
}

var _ docstore.ClassifiedError = (*Error)(nil)

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// IsNotFound is always false; absence is reported through Get's boolean.
func (e *Error) IsNotFound() bool { return false }

func (e *Error) IsConflict() bool { return e != nil && e.conflict }

func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &Error{
		op:          op,
		err:         err,
		conflict:    mongo.IsDuplicateKeyError(err),
		unavailable: mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected),
	}
}
