// Package engine defines the capabilities the client consumes from the
// peer-to-peer protocol layer: hub sessions, their event subscriptions,
// process-wide traffic counters and the one second timer.
package engine

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotConnected is returned when sending on a session that is not connected.
	ErrNotConnected = errors.New("engine: not connected")
	// ErrUnsupportedScheme is returned for hub addresses no dialer understands.
	ErrUnsupportedScheme = errors.New("engine: unsupported hub scheme")
)

// Status message flags.
const (
	FlagNormal = 0
	FlagSpam   = 1
)

// User is an online user as reported by a hub.
type User struct {
	Nick        string
	Description string
	Email       string
	Share       int64
	Op          bool
}

// ChatMessage is a public or private chat line.
type ChatMessage struct {
	From    string
	To      string
	Text    string
	Private bool
	At      time.Time
}

// ClientHandlers holds one callback per hub session event kind. Handlers run
// on the session's network goroutine and must return quickly. Nil handlers
// are skipped.
type ClientHandlers struct {
	Connecting        func()
	Connected         func()
	UserUpdated       func(user User)
	UserRemoved       func(nick string)
	Redirect          func(target string)
	Failed            func(reason string)
	PasswordRequested func()
	HubUpdated        func(name, topic string)
	StatusMessage     func(text string, flags int)
	Message           func(msg ChatMessage)
	NickTaken         func()
	SearchFlood       func(source string)
}

// Client is one protocol session with a hub.
type Client interface {
	Address() string
	Encoding() string
	// Connect starts the session in the background and returns once the
	// attempt has been scheduled. Progress is reported through the handlers.
	Connect(ctx context.Context) error
	Disconnect()
	Send(text string) error
	SetPassword(password string) error
}

// Dialer creates hub sessions. Implementations own the protocol details.
type Dialer interface {
	NewClient(address, encoding string, handlers ClientHandlers) (Client, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(address, encoding string, handlers ClientHandlers) (Client, error)

// NewClient calls f.
func (f DialerFunc) NewClient(address, encoding string, handlers ClientHandlers) (Client, error) {
	return f(address, encoding, handlers)
}

// Listener binds the active-mode sockets for incoming peer connections and
// searches.
type Listener interface {
	ListenConnections() error
	ListenSearches() error
	Close() error
}
