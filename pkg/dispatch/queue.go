// Package dispatch implements the cross-goroutine call queue. Any goroutine
// may post a deferred.Call; exactly one consumer drains the queue and runs
// the calls one after another in arrival order.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/rescp17/dcdesk/pkg/deferred"
)

var (
	// ErrClosed is returned to consumers once the queue has been closed.
	ErrClosed = errors.New("dispatch: queue closed")
	// ErrConsumerActive is returned when a second Run is started while one is active.
	ErrConsumerActive = errors.New("dispatch: consumer already running")
)

// Poster is the producer side of the queue.
type Poster interface {
	Post(call *deferred.Call) bool
}

// PanicHandler is invoked with the call and the recovered value when a
// guarded queue catches a panic raised by a call.
type PanicHandler func(call *deferred.Call, recovered any)

// Option configures a Queue.
type Option func(*Queue)

// WithRecover installs a guard around call execution. Without it, a panic
// escaping a call terminates the consumer.
func WithRecover(fn PanicHandler) Option {
	return func(q *Queue) { q.onPanic = fn }
}

// WithMetrics attaches prometheus collectors to the queue.
func WithMetrics(m *Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// Queue is an unbounded FIFO of deferred calls.
type Queue struct {
	mu     sync.Mutex
	items  *queue.Queue
	closed bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	consuming atomic.Bool

	onPanic PanicHandler
	metrics *Metrics
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		items: queue.New(),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Post appends call to the queue and returns immediately. The queue takes
// ownership of the call. It reports false when the call was dropped because
// the queue is closed; producers get no other delivery confirmation.
func (q *Queue) Post(call *deferred.Call) bool {
	if call == nil {
		return false
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.metrics.dropped()
		slog.Debug("Dropping call posted after close", "call", call.String())
		return false
	}
	q.items.Add(call)
	pending := q.items.Length()
	q.mu.Unlock()

	q.metrics.posted(pending)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of calls waiting to be executed.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Next blocks until a call is available, the queue is closed, or ctx is done.
func (q *Queue) Next(ctx context.Context) (*deferred.Call, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if q.items.Length() > 0 {
			call := q.items.Remove().(*deferred.Call)
			pending := q.items.Length()
			q.mu.Unlock()
			q.metrics.setPending(pending)
			return call, nil
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-q.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Execute runs a single call on the current goroutine, applying the queue's
// panic policy.
func (q *Queue) Execute(call *deferred.Call) {
	if q.onPanic != nil {
		defer func() {
			if r := recover(); r != nil {
				q.metrics.panicked()
				q.onPanic(call, r)
			}
		}()
	}
	if err := call.Execute(); err != nil {
		slog.Warn("Skipping call", "call", call.String(), "error", err)
		return
	}
	q.metrics.executed()
}

// Run makes the calling goroutine the consumer. Calls are executed strictly
// one at a time. Run returns nil when ctx is cancelled or the queue is closed.
func (q *Queue) Run(ctx context.Context) error {
	if !q.consuming.CompareAndSwap(false, true) {
		return ErrConsumerActive
	}
	defer q.consuming.Store(false)

	for {
		call, err := q.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		q.Execute(call)
	}
}

// Close stops the queue. Pending calls are discarded without being executed
// and later posts are dropped.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		discarded := q.items.Length()
		q.items = queue.New()
		q.mu.Unlock()

		close(q.done)
		q.metrics.setPending(0)
		if discarded > 0 {
			slog.Info("Discarded pending calls on close", "count", discarded)
		}
	})
}

// Done is closed once the queue has been closed.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}
