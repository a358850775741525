// Package indexing tells the search indexer about product writes.
package indexing

import (
	"context"
	"errors"
	"fmt"

	"github.com/orderable/products-api/internal/domain"
)

const (
	TriggerProduct = "product"
	ActionUpdate   = "update"
)

// Notification is the job body the indexer consumes.
type Notification struct {
	TriggerType string        `json:"trigger_type"`
	Action      string        `json:"action"`
	Data        domain.Record `json:"data"`
}

// ProductUpdate builds the notification for a created or updated product.
func ProductUpdate(record domain.Record) Notification {
	return Notification{
		TriggerType: TriggerProduct,
		Action:      ActionUpdate,
		Data:        record,
	}
}

// Sender delivers one notification. Implementations must be safe for concurrent use.
type Sender interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Notifier is what the product service depends on.
type Notifier interface {
	ProductUpdated(ctx context.Context, record domain.Record)
}

// Discard is a Notifier that drops every notification.
type Discard struct{}

func (Discard) ProductUpdated(context.Context, domain.Record) {}

// ErrUnexpectedStatus is wrapped by StatusError.
var ErrUnexpectedStatus = errors.New("indexing: unexpected response status")

// StatusError reports a non-202 answer from the indexer.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("indexing: unexpected response status %d", e.StatusCode)
	}
	return fmt.Sprintf("indexing: unexpected response status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }
