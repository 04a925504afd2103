package hub

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rescp17/dcdesk/pkg/engine"
)

// The Handle* methods apply one session event. Events for IDs that are no
// longer registered are stale and dropped.

func (r *Registry) session(id uuid.UUID, event string) (*Session, bool) {
	s, ok := r.byID[id]
	if !ok {
		slog.Debug("Dropping event for unknown session", "event", event, "id", id)
	}
	return s, ok
}

func (r *Registry) changed(s *Session) {
	r.observer.SessionChanged(s)
}

func (r *Registry) HandleConnecting(id uuid.UUID) {
	s, ok := r.session(id, "connecting")
	if !ok {
		return
	}
	s.State = StateConnecting
	s.Status = "Connecting to " + s.Address + "..."
	r.changed(s)
}

func (r *Registry) HandleConnected(id uuid.UUID) {
	s, ok := r.session(id, "connected")
	if !ok {
		return
	}
	s.State = StateConnected
	s.FailReason = ""
	s.Status = "Connected"
	r.changed(s)
	r.updateMetrics()
}

func (r *Registry) HandleUserUpdated(id uuid.UUID, u engine.User) {
	s, ok := r.session(id, "user updated")
	if !ok || u.Nick == "" {
		return
	}
	s.users[u.Nick] = u
	r.changed(s)
}

func (r *Registry) HandleUserRemoved(id uuid.UUID, nick string) {
	s, ok := r.session(id, "user removed")
	if !ok {
		return
	}
	if _, present := s.users[nick]; !present {
		return
	}
	delete(s.users, nick)
	r.changed(s)
}

// HandleRedirect follows a hub redirect by replacing the session with one
// for target, unless target is already open.
func (r *Registry) HandleRedirect(id uuid.UUID, target string) {
	s, ok := r.session(id, "redirect")
	if !ok {
		return
	}
	target = normalize(target)
	if _, exists := r.sessions[target]; exists || target == "" || target == s.Address {
		s.Status = "Redirect to " + target + " ignored"
		r.changed(s)
		return
	}
	slog.Info("Following hub redirect", "from", s.Address, "to", target)
	enc := s.Encoding
	r.Disconnect(s.Address)
	if _, _, err := r.Connect(target, enc); err != nil {
		slog.Warn("Redirect target rejected", "target", target, "error", err)
	}
}

func (r *Registry) HandleFailed(id uuid.UUID, reason string) {
	s, ok := r.session(id, "failed")
	if !ok {
		return
	}
	s.State = StateFailed
	s.FailReason = reason
	s.Status = "Connection failed: " + reason
	s.users = make(map[string]engine.User)
	r.changed(s)
	r.updateMetrics()
}

func (r *Registry) HandlePasswordRequested(id uuid.UUID) {
	s, ok := r.session(id, "password")
	if !ok {
		return
	}
	s.PasswordRequested = true
	s.Status = "Password required"
	r.changed(s)
}

// SubmitPassword answers a pending password request.
func (r *Registry) SubmitPassword(address, password string) error {
	address = normalize(address)
	s, ok := r.sessions[address]
	if !ok {
		return ErrNotFound
	}
	if err := s.Client.SetPassword(password); err != nil {
		return fmt.Errorf("send password to %s: %w", address, err)
	}
	s.PasswordRequested = false
	r.changed(s)
	return nil
}

func (r *Registry) HandleHubUpdated(id uuid.UUID, name, topic string) {
	s, ok := r.session(id, "hub updated")
	if !ok {
		return
	}
	s.HubName = name
	s.Topic = topic
	r.changed(s)
}

func (r *Registry) HandleStatusMessage(id uuid.UUID, text string, flags int) {
	s, ok := r.session(id, "status")
	if !ok {
		return
	}
	if flags&engine.FlagSpam != 0 {
		slog.Debug("Hub spam message", "address", s.Address, "text", text)
		return
	}
	s.Status = text
	r.changed(s)
}

func (r *Registry) HandleMessage(id uuid.UUID, msg engine.ChatMessage) {
	s, ok := r.session(id, "message")
	if !ok {
		return
	}
	if msg.At.IsZero() {
		msg.At = time.Now()
	}
	s.appendChat(msg)
	r.observer.ChatReceived(s, msg)
}

func (r *Registry) HandleNickTaken(id uuid.UUID) {
	s, ok := r.session(id, "nick taken")
	if !ok {
		return
	}
	s.NickTaken = true
	s.Status = "Your nick is already taken, change it and reconnect"
	r.changed(s)
}

func (r *Registry) HandleSearchFlood(id uuid.UUID, source string) {
	s, ok := r.session(id, "search flood")
	if !ok {
		return
	}
	s.Status = "Search spam detected from " + source
	r.changed(s)
}
