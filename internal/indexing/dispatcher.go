package indexing

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orderable/products-api/internal/domain"
)

// Recorder receives notification outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	NotificationStarted()
	NotificationFinished(sender string, err error)
}

type nopRecorder struct{}

func (nopRecorder) NotificationStarted()                {}
func (nopRecorder) NotificationFinished(string, error) {}

// Dispatcher sends notifications in the background without blocking the caller.
// Failures are logged and recorded, never returned.
type Dispatcher struct {
	sender   Sender
	logger   *zap.Logger
	recorder Recorder
	timeout  time.Duration
	slots    chan struct{}

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger used for failed sends.
func WithLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithRecorder records each send.
func WithRecorder(recorder Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		if recorder != nil {
			d.recorder = recorder
		}
	}
}

// WithTimeout bounds each send. Zero disables the bound.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout >= 0 {
			d.timeout = timeout
		}
	}
}

// WithMaxInFlight caps concurrent sends. Notifications beyond the cap are dropped.
func WithMaxInFlight(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.slots = make(chan struct{}, n)
		}
	}
}

// NewDispatcher wraps sender.
func NewDispatcher(sender Sender, opts ...DispatcherOption) (*Dispatcher, error) {
	if sender == nil {
		return nil, errors.New("indexing: sender is required")
	}
	d := &Dispatcher{
		sender:   sender,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
		timeout:  5 * time.Second,
		slots:    make(chan struct{}, 64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

// ProductUpdated queues a notification for record and returns immediately.
func (d *Dispatcher) ProductUpdated(ctx context.Context, record domain.Record) {
	d.Dispatch(ctx, ProductUpdate(record))
}

// Dispatch queues n. The send outlives ctx cancellation but keeps its values.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	logger := d.logger.With(zap.String("product_id", n.Data.ID), zap.String("sender", d.sender.Name()))
	if d.closed {
		logger.Warn("indexing dispatcher closed; notification dropped")
		return
	}
	select {
	case d.slots <- struct{}{}:
	default:
		logger.Warn("too many indexing notifications in flight; notification dropped")
		d.recorder.NotificationStarted()
		d.recorder.NotificationFinished(d.sender.Name(), errDropped)
		return
	}

	d.wg.Add(1)
	d.recorder.NotificationStarted()
	sendCtx := context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.slots }()

		if d.timeout > 0 {
			var cancel context.CancelFunc
			sendCtx, cancel = context.WithTimeout(sendCtx, d.timeout)
			defer cancel()
		}
		err := d.sender.Send(sendCtx, n)
		d.recorder.NotificationFinished(d.sender.Name(), err)
		if err == nil {
			return
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			logger.Error("Unexpected HTTP response",
				zap.Int("status", statusErr.StatusCode),
				zap.String("body", statusErr.Body),
			)
			return
		}
		logger.Error("Failed to make indexing request for product", zap.Error(err))
	}()
}

// Close stops accepting notifications and waits for in-flight sends or ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errDropped = errors.New("indexing: notification dropped")
