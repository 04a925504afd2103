package dispatch

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rescp17/dcdesk/pkg/deferred"
)

// Envelope carries a call into a bubbletea Update loop. It holds nothing
// besides the call; its type is the tag the model switches on.
type Envelope struct {
	Call *deferred.Call
}

// ClosedMsg is delivered instead of an Envelope once the queue stops.
type ClosedMsg struct {
	Err error
}

// WaitEnvelope returns a command that blocks for the next call. The model
// executes the envelope in Update and then issues WaitEnvelope again, so only
// one envelope is ever in flight and arrival order is preserved.
func WaitEnvelope(ctx context.Context, q *Queue) tea.Cmd {
	return func() tea.Msg {
		call, err := q.Next(ctx)
		if err != nil {
			return ClosedMsg{Err: err}
		}
		return Envelope{Call: call}
	}
}
