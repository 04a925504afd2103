// Package notify turns events raised on engine goroutines into deferred
// calls for the consumer context. Nothing here touches consumer-owned
// state directly: every handler only builds a call and posts it.
package notify

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rescp17/dcdesk/internal/hub"
	"github.com/rescp17/dcdesk/internal/request"
	"github.com/rescp17/dcdesk/internal/stats"
	"github.com/rescp17/dcdesk/pkg/deferred"
	"github.com/rescp17/dcdesk/pkg/discovery"
	"github.com/rescp17/dcdesk/pkg/dispatch"
	"github.com/rescp17/dcdesk/pkg/engine"
)

// Display is the part of the presentation layer the adapter drives. Its
// methods only ever run on the consumer context.
type Display interface {
	SetStatusMessage(text string)
	UpdateStatistics(labels map[string]string)
	ShowFileBrowser(user, file, jumpTo string)
	ShowWarning(title, text string)
	ShowDiscoveredHubs(hubs []discovery.Hub)
}

// Adapter builds and posts the deferred call for each event kind.
type Adapter struct {
	poster   dispatch.Poster
	display  Display
	registry *hub.Registry
	router   *request.Router

	counters   *engine.Counters
	aggregator *stats.Aggregator
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRouter sets the router that receives forwarded request lines.
func WithRouter(r *request.Router) Option {
	return func(a *Adapter) { a.router = r }
}

// WithStatistics sets the counters sampled on each second tick and the
// aggregator that turns them into rates.
func WithStatistics(c *engine.Counters, agg *stats.Aggregator) Option {
	return func(a *Adapter) {
		a.counters = c
		a.aggregator = agg
	}
}

// New returns an adapter posting to p.
func New(p dispatch.Poster, d Display, r *hub.Registry, opts ...Option) *Adapter {
	a := &Adapter{
		poster:   p,
		display:  d,
		registry: r,
		counters: engine.Global,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.aggregator == nil {
		a.aggregator = stats.NewAggregator(stats.State{}, nil)
	}
	return a
}

func (a *Adapter) post(call *deferred.Call) {
	if !a.poster.Post(call) {
		slog.Debug("Notification dropped", "call", call.String())
	}
}

// OnLogMessage shows a timestamped line in the status bar.
func (a *Adapter) OnLogMessage(at time.Time, text string) {
	line := fmt.Sprintf("[%s] %s", at.Format("15:04:05"), text)
	a.post(deferred.Bind1(a.display, "SetStatusMessage", Display.SetStatusMessage, line))
}

// OnSecond samples the traffic counters and publishes the statistics. It
// must only be called from the one timer goroutine: the aggregator state
// is owned by that producer.
func (a *Adapter) OnSecond(tick uint64) {
	snap := a.aggregator.Tick(a.counters.TotalDown(), a.counters.TotalUp(), tick, a.counters.HubCounts())
	a.post(deferred.Bind1(a.display, "UpdateStatistics", Display.UpdateStatistics, snap.Labels()))
}

// OnQueueItemFinished opens downloaded file lists in the browser and
// announces other finished downloads.
func (a *Adapter) OnQueueItemFinished(item engine.QueueItem, jumpTo string) {
	if item.IsUserList() {
		list := item.ListName
		if list == "" {
			list = item.Target
		}
		a.post(deferred.Bind3(a.display, "ShowFileBrowser", Display.ShowFileBrowser, item.User, list, jumpTo))
		return
	}
	text := "Finished downloading " + filepath.Base(item.Target)
	a.post(deferred.Bind1(a.display, "SetStatusMessage", Display.SetStatusMessage, text))
}

// OnHubsDiscovered publishes the current LAN hub list.
func (a *Adapter) OnHubsDiscovered(hubs []discovery.Hub) {
	cp := append([]discovery.Hub(nil), hubs...)
	a.post(deferred.Bind1(a.display, "ShowDiscoveredHubs", Display.ShowDiscoveredHubs, cp))
}

// OnRequestLines routes lines forwarded by another instance.
func (a *Adapter) OnRequestLines(lines []string) {
	if a.router == nil || len(lines) == 0 {
		return
	}
	cp := append([]string(nil), lines...)
	a.post(deferred.Bind(a.router, "Dispatch", func() { a.router.Dispatch(cp) }))
}

// Warn surfaces err to the user.
func (a *Adapter) Warn(title string, err error) {
	if err == nil {
		return
	}
	slog.Warn(title, "error", err)
	a.post(deferred.Bind2(a.display, "ShowWarning", Display.ShowWarning, title, err.Error()))
}

// ClientHandlers returns the handlers for the session with the given ID.
// Each one posts the matching registry method.
func (a *Adapter) ClientHandlers(id uuid.UUID) engine.ClientHandlers {
	r := a.registry
	return engine.ClientHandlers{
		Connecting: func() {
			a.post(deferred.Bind1(r, "HandleConnecting", (*hub.Registry).HandleConnecting, id))
		},
		Connected: func() {
			a.post(deferred.Bind1(r, "HandleConnected", (*hub.Registry).HandleConnected, id))
		},
		UserUpdated: func(u engine.User) {
			a.post(deferred.Bind2(r, "HandleUserUpdated", (*hub.Registry).HandleUserUpdated, id, u))
		},
		UserRemoved: func(nick string) {
			a.post(deferred.Bind2(r, "HandleUserRemoved", (*hub.Registry).HandleUserRemoved, id, nick))
		},
		Redirect: func(target string) {
			a.post(deferred.Bind2(r, "HandleRedirect", (*hub.Registry).HandleRedirect, id, target))
		},
		Failed: func(reason string) {
			a.post(deferred.Bind2(r, "HandleFailed", (*hub.Registry).HandleFailed, id, reason))
		},
		PasswordRequested: func() {
			a.post(deferred.Bind1(r, "HandlePasswordRequested", (*hub.Registry).HandlePasswordRequested, id))
		},
		HubUpdated: func(name, topic string) {
			a.post(deferred.Bind3(r, "HandleHubUpdated", (*hub.Registry).HandleHubUpdated, id, name, topic))
		},
		StatusMessage: func(text string, flags int) {
			a.post(deferred.Bind3(r, "HandleStatusMessage", (*hub.Registry).HandleStatusMessage, id, text, flags))
		},
		Message: func(msg engine.ChatMessage) {
			a.post(deferred.Bind2(r, "HandleMessage", (*hub.Registry).HandleMessage, id, msg))
		},
		NickTaken: func() {
			a.post(deferred.Bind1(r, "HandleNickTaken", (*hub.Registry).HandleNickTaken, id))
		},
		SearchFlood: func(source string) {
			a.post(deferred.Bind2(r, "HandleSearchFlood", (*hub.Registry).HandleSearchFlood, id, source))
		},
	}
}
