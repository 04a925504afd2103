// Package hub keeps the set of live hub sessions keyed by address and
// applies per-session protocol events to them.
//
// A Registry is owned by the consumer context. None of its methods lock;
// producers reach it only through deferred calls.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rescp17/dcdesk/pkg/engine"
	"golang.org/x/time/rate"
)

var (
	// ErrEmptyAddress is returned by Connect for a blank address.
	ErrEmptyAddress = errors.New("hub: empty address")
	// ErrNotFound is returned when no session exists for an address.
	ErrNotFound = errors.New("hub: no such session")
	// ErrThrottled is returned when reconnect attempts come too fast.
	ErrThrottled = errors.New("hub: reconnect throttled")
)

// Result tells the caller what Connect did.
type Result int

const (
	// Invalid means no session was created; Connect also returns an error.
	Invalid Result = iota
	// Created means a new session was registered and started.
	Created
	// AlreadyConnected means a session for the address exists and was
	// returned unchanged, so the caller can bring it to front.
	AlreadyConnected
)

func (r Result) String() string {
	switch r {
	case Created:
		return "created"
	case AlreadyConnected:
		return "already connected"
	default:
		return "invalid"
	}
}

// Observer is told about registry changes. Calls happen on the consumer
// context.
type Observer interface {
	SessionAdded(s *Session)
	SessionChanged(s *Session)
	SessionRemoved(s *Session)
	ChatReceived(s *Session, msg engine.ChatMessage)
}

// HandlerFactory builds the event handlers for a new session.
type HandlerFactory func(id uuid.UUID) engine.ClientHandlers

// Favorite is a hub the user wants opened at startup.
type Favorite struct {
	Address     string
	Encoding    string
	Autoconnect bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithObserver sets the change observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithReconnectLimit throttles Reconnect per address.
func WithReconnectLimit(every time.Duration, burst int) Option {
	return func(r *Registry) {
		if every > 0 {
			r.limit = rate.Every(every)
		}
		if burst > 0 {
			r.burst = burst
		}
	}
}

// WithMetrics exports session gauges.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// Registry maps hub addresses to sessions.
type Registry struct {
	ctx      context.Context
	dialer   engine.Dialer
	handlers HandlerFactory
	observer Observer
	metrics  *Metrics

	sessions map[string]*Session
	byID     map[uuid.UUID]*Session

	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

// NewRegistry returns an empty registry. Sessions it starts live until ctx
// is cancelled or they are disconnected.
func NewRegistry(ctx context.Context, dialer engine.Dialer, opts ...Option) *Registry {
	r := &Registry{
		ctx:      ctx,
		dialer:   dialer,
		observer: nopObserver{},
		sessions: make(map[string]*Session),
		byID:     make(map[uuid.UUID]*Session),
		limit:    rate.Every(10 * time.Second),
		burst:    3,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetHandlerFactory installs the producer-side handler builder. It must be
// set before the first Connect.
func (r *Registry) SetHandlerFactory(f HandlerFactory) {
	r.handlers = f
}

// normalize turns a user supplied address into the registry key.
func normalize(address string) string {
	return strings.TrimSpace(address)
}

// Connect opens a session for address unless one already exists.
func (r *Registry) Connect(address, encoding string) (*Session, Result, error) {
	address = normalize(address)
	if address == "" {
		return nil, Invalid, ErrEmptyAddress
	}
	if s, ok := r.sessions[address]; ok {
		return s, AlreadyConnected, nil
	}

	s := newSession(address, encoding)
	if err := r.start(s); err != nil {
		return nil, Invalid, err
	}
	r.sessions[address] = s
	r.byID[s.ID] = s
	slog.Info("Hub session created", "address", address, "encoding", encoding, "id", s.ID)

	r.observer.SessionAdded(s)
	r.updateMetrics()
	return s, Created, nil
}

func (r *Registry) start(s *Session) error {
	var h engine.ClientHandlers
	if r.handlers != nil {
		h = r.handlers(s.ID)
	}
	client, err := r.dialer.NewClient(s.Address, s.Encoding, h)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.Address, err)
	}
	s.Client = client
	if err := client.Connect(r.ctx); err != nil {
		s.State = StateFailed
		s.FailReason = err.Error()
		slog.Warn("Hub session failed to start", "address", s.Address, "error", err)
	}
	return nil
}

// Disconnect closes and removes the session for address. A missing address
// is not an error.
func (r *Registry) Disconnect(address string) {
	address = normalize(address)
	s, ok := r.sessions[address]
	if !ok {
		return
	}
	delete(r.sessions, address)
	delete(r.byID, s.ID)
	delete(r.limiters, address)

	s.Client.Disconnect()
	s.State = StateClosed
	slog.Info("Hub session closed", "address", address)

	r.observer.SessionRemoved(s)
	r.updateMetrics()
}

// DisconnectAll closes every session.
func (r *Registry) DisconnectAll() {
	for _, s := range r.Sessions() {
		r.Disconnect(s.Address)
	}
}

// Reconnect restarts the session for address under a fresh ID, so late
// events from the old connection are ignored.
func (r *Registry) Reconnect(address string) error {
	address = normalize(address)
	s, ok := r.sessions[address]
	if !ok {
		return ErrNotFound
	}
	lim, ok := r.limiters[address]
	if !ok {
		lim = rate.NewLimiter(r.limit, r.burst)
		r.limiters[address] = lim
	}
	if !lim.Allow() {
		return ErrThrottled
	}

	s.Client.Disconnect()
	delete(r.byID, s.ID)
	s.ID = uuid.New()
	s.reset()
	r.byID[s.ID] = s

	if err := r.start(s); err != nil {
		s.State = StateFailed
		s.FailReason = err.Error()
		r.observer.SessionChanged(s)
		r.updateMetrics()
		return err
	}
	slog.Info("Hub session reconnecting", "address", address, "id", s.ID)
	r.observer.SessionChanged(s)
	r.updateMetrics()
	return nil
}

// Autoconnect opens every favorite marked for it and returns how many
// sessions were created.
func (r *Registry) Autoconnect(favs []Favorite) int {
	n := 0
	for _, f := range favs {
		if !f.Autoconnect {
			continue
		}
		_, res, err := r.Connect(f.Address, f.Encoding)
		if err != nil {
			slog.Warn("Autoconnect failed", "address", f.Address, "error", err)
			continue
		}
		if res == Created {
			n++
		}
	}
	return n
}

// Get returns the session for address.
func (r *Registry) Get(address string) (*Session, bool) {
	address = normalize(address)
	s, ok := r.sessions[address]
	return s, ok
}

// Lookup returns the session with the given ID.
func (r *Registry) Lookup(id uuid.UUID) (*Session, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// Sessions returns all sessions sorted by address.
func (r *Registry) Sessions() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Len returns the number of sessions.
func (r *Registry) Len() int { return len(r.sessions) }

// Connected returns the number of logged-in sessions.
func (r *Registry) Connected() int {
	n := 0
	for _, s := range r.sessions {
		if s.State == StateConnected {
			n++
		}
	}
	return n
}

func (r *Registry) updateMetrics() {
	r.metrics.set(len(r.sessions), r.Connected())
}

type nopObserver struct{}

func (nopObserver) SessionAdded(*Session)                     {}
func (nopObserver) SessionChanged(*Session)                   {}
func (nopObserver) SessionRemoved(*Session)                   {}
func (nopObserver) ChatReceived(*Session, engine.ChatMessage) {}
