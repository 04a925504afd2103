package hub

import (
	"sort"

	"github.com/google/uuid"
	"github.com/rescp17/dcdesk/pkg/engine"
)

// MaxChatLines bounds the chat history kept per session.
const MaxChatLines = 500

// State is the lifecycle of a session.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the registry entry for one hub connection. It exclusively
// owns Client.
type Session struct {
	ID       uuid.UUID
	Address  string
	Encoding string
	Client   engine.Client

	State      State
	HubName    string
	Topic      string
	Status     string
	FailReason string

	PasswordRequested bool
	NickTaken         bool

	users map[string]engine.User
	chat  []engine.ChatMessage
}

func newSession(address, encoding string) *Session {
	return &Session{
		ID:       uuid.New(),
		Address:  address,
		Encoding: encoding,
		users:    make(map[string]engine.User),
	}
}

// Title is the hub name once known, else the address.
func (s *Session) Title() string {
	if s.HubName != "" {
		return s.HubName
	}
	return s.Address
}

// UserCount returns the number of online users.
func (s *Session) UserCount() int { return len(s.users) }

// User looks up an online user by nick.
func (s *Session) User(nick string) (engine.User, bool) {
	u, ok := s.users[nick]
	return u, ok
}

// Users returns the online users sorted by nick.
func (s *Session) Users() []engine.User {
	out := make([]engine.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nick < out[j].Nick })
	return out
}

// Chat returns the retained chat history, oldest first.
func (s *Session) Chat() []engine.ChatMessage {
	return append([]engine.ChatMessage(nil), s.chat...)
}

func (s *Session) appendChat(m engine.ChatMessage) {
	s.chat = append(s.chat, m)
	if over := len(s.chat) - MaxChatLines; over > 0 {
		s.chat = append(s.chat[:0], s.chat[over:]...)
	}
}

func (s *Session) reset() {
	s.State = StateConnecting
	s.FailReason = ""
	s.PasswordRequested = false
	s.NickTaken = false
	s.users = make(map[string]engine.User)
}
