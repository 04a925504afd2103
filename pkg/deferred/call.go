// Package deferred provides one-shot bound calls that can be carried across
// goroutines and executed later on a single consumer.
package deferred

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrSpent is returned by Execute when the call has already run.
var ErrSpent = errors.New("deferred: call already executed")

// Call is a frozen invocation of a member on a receiver. Arguments are bound
// when the call is built, so later changes to the values the producer used
// are not observed by the consumer.
type Call struct {
	receiver any
	name     string
	fn       func()
	spent    atomic.Bool
}

// Bind wraps an already-captured closure. The receiver is only used as an
// identity for logging and diagnostics; the call does not keep it alive
// beyond the closure itself.
func Bind(receiver any, name string, fn func()) *Call {
	return &Call{receiver: receiver, name: name, fn: fn}
}

// Bind0 binds a member taking no arguments.
func Bind0[R any](recv R, name string, member func(R)) *Call {
	return Bind(recv, name, func() { member(recv) })
}

// Bind1 binds a member taking one argument.
func Bind1[R, A any](recv R, name string, member func(R, A), a A) *Call {
	return Bind(recv, name, func() { member(recv, a) })
}

// Bind2 binds a member taking two arguments.
func Bind2[R, A, B any](recv R, name string, member func(R, A, B), a A, b B) *Call {
	return Bind(recv, name, func() { member(recv, a, b) })
}

// Bind3 binds a member taking three arguments.
func Bind3[R, A, B, C any](recv R, name string, member func(R, A, B, C), a A, b B, c C) *Call {
	return Bind(recv, name, func() { member(recv, a, b, c) })
}

// Execute runs the bound invocation. Only the first call invokes the member;
// later calls return ErrSpent. A panic raised by the member is not recovered
// here.
func (c *Call) Execute() error {
	if c == nil || c.fn == nil {
		return fmt.Errorf("deferred: nil call")
	}
	if !c.spent.CompareAndSwap(false, true) {
		return ErrSpent
	}
	c.fn()
	return nil
}

// Spent reports whether the call has already run.
func (c *Call) Spent() bool {
	return c.spent.Load()
}

// Receiver returns the receiver identity the call was bound to.
func (c *Call) Receiver() any {
	return c.receiver
}

// Name returns the selector name given at construction.
func (c *Call) Name() string {
	return c.name
}

func (c *Call) String() string {
	return fmt.Sprintf("%T.%s", c.receiver, c.name)
}
