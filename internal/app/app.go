// Package app wires the client together: the event queue and its consumer,
// the hub registry, the one second tick, single instance handling and the
// optional background services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rescp17/dcdesk/internal/config"
	"github.com/rescp17/dcdesk/internal/hub"
	"github.com/rescp17/dcdesk/internal/instance"
	"github.com/rescp17/dcdesk/internal/notify"
	"github.com/rescp17/dcdesk/internal/request"
	"github.com/rescp17/dcdesk/internal/stats"
	"github.com/rescp17/dcdesk/pkg/deferred"
	"github.com/rescp17/dcdesk/pkg/discovery"
	"github.com/rescp17/dcdesk/pkg/dispatch"
	"github.com/rescp17/dcdesk/pkg/engine"
	"github.com/rescp17/dcdesk/pkg/nmdc"
	"github.com/rescp17/dcdesk/pkg/ui"
	"golang.org/x/sync/errgroup"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "dcdesk"

// ErrNoNick is returned when a hub is opened without a nick configured.
var ErrNoNick = errors.New("app: no nick configured")

// App owns every long-lived component of the client.
type App struct {
	cfg  *config.Config
	args []string

	queue    *dispatch.Queue
	screen   *ui.Screen
	registry *hub.Registry
	router   *request.Router
	adapter  *notify.Adapter

	counters *engine.Counters
	ticker   *engine.Ticker
	dialer   engine.Dialer
	browser  discovery.Browser
	coord    *instance.Coordinator
	listener *nmdc.PortListener
	watcher  *downloadWatcher

	instanceAddr string
	metrics      *appMetrics

	sessionCtx    context.Context
	cancelSession context.CancelFunc
}

// Option configures an App.
type Option func(*App)

// WithDialer replaces the NMDC dialer.
func WithDialer(d engine.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithBrowser replaces the mDNS hub browser.
func WithBrowser(b discovery.Browser) Option {
	return func(a *App) { a.browser = b }
}

// WithCounters replaces the process-wide traffic counters.
func WithCounters(c *engine.Counters) Option {
	return func(a *App) { a.counters = c }
}

// WithInstanceAddress overrides the derived single instance address.
func WithInstanceAddress(addr string) Option {
	return func(a *App) { a.instanceAddr = addr }
}

// New builds the client. args are request lines from the command line.
func New(cfg *config.Config, args []string, opts ...Option) *App {
	a := &App{
		cfg:      cfg,
		args:     args,
		counters: engine.Global,
		browser:  &discovery.MDNSBrowser{},
		metrics:  newAppMetrics(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.dialer == nil {
		a.dialer = engine.DialerFunc(a.dial)
	}
	a.sessionCtx, a.cancelSession = context.WithCancel(context.Background())

	a.queue = dispatch.New(dispatch.WithMetrics(a.metrics.dispatch))
	a.screen = ui.NewScreen()
	a.registry = hub.NewRegistry(a.sessionCtx, a.dialer,
		hub.WithObserver(a.screen),
		hub.WithReconnectLimit(cfg.Reconnect.Interval, cfg.Reconnect.Burst),
		hub.WithMetrics(a.metrics.hubs),
	)
	a.router = request.NewRouter(request.Handlers{
		OpenHub:    a.openHub,
		OpenMagnet: a.openMagnet,
	})
	a.adapter = notify.New(a.queue, a.screen, a.registry,
		notify.WithRouter(a.router),
		notify.WithStatistics(a.counters, stats.NewAggregator(stats.State{}, a.metrics.traffic)),
	)
	a.registry.SetHandlerFactory(a.adapter.ClientHandlers)
	a.ticker = engine.NewTicker(cfg.TickInterval)
	if cfg.DownloadDir != "" {
		a.watcher = newDownloadWatcher(cfg.DownloadDir)
	}
	return a
}

// dial opens NMDC sessions with the nick configured for the address.
func (a *App) dial(address, encoding string, h engine.ClientHandlers) (engine.Client, error) {
	nick := a.cfg.NickFor(address)
	if nick == "" {
		return nil, ErrNoNick
	}
	c, err := nmdc.NewClient(address, encoding, nmdc.Config{
		Nick:        nick,
		Description: a.cfg.Description,
		Email:       a.cfg.Email,
		SearchRate:  a.cfg.SearchFlood.Rate,
		SearchBurst: a.cfg.SearchFlood.Burst,
	}, a.counters, h)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// openHub runs on the consumer context.
func (a *App) openHub(address, encoding string) {
	s, res, err := a.registry.Connect(address, encoding)
	if err != nil {
		a.screen.ShowWarning("Cannot open hub", err.Error())
		return
	}
	if res == hub.AlreadyConnected {
		slog.Debug("Hub already open, bringing to front", "address", address)
	}
	a.screen.Focus(s.Address)
}

// openMagnet runs on the consumer context.
func (a *App) openMagnet(link string) {
	m, err := request.ParseMagnet(link)
	if err != nil {
		a.screen.ShowWarning("Magnet link", err.Error())
		return
	}
	a.screen.ShowMagnet(m)
	a.screen.SetStatusMessage("Magnet link received: " + m.Name)
}

// Start decides the instance role and, unless secondary, schedules the
// command line requests, autoconnect and active mode sockets.
func (a *App) Start(ctx context.Context) (instance.Role, error) {
	role := instance.RoleProbe
	if a.cfg.SingleInstance {
		opts := []instance.Option{instance.WithTimeout(a.cfg.ProbeTimeout)}
		if a.cfg.LockFile != "" {
			opts = append(opts, instance.WithLockFile(a.cfg.LockFile))
		}
		if a.instanceAddr != "" {
			opts = append(opts, instance.WithAddress(a.instanceAddr))
		}
		a.coord = instance.New(instance.PortForCurrentUser(), a.adapter.OnRequestLines, opts...)

		var err error
		role, err = a.coord.Probe(ctx, a.args)
		if err != nil {
			a.adapter.Warn("Single instance check failed", err)
		}
		if role == instance.RoleSecondary {
			return role, nil
		}
	}

	a.adapter.OnRequestLines(a.args)
	a.scheduleAutoconnect()
	a.startActiveMode()
	return role, nil
}

func (a *App) scheduleAutoconnect() {
	favs := make([]hub.Favorite, 0, len(a.cfg.Hubs))
	for _, h := range a.cfg.Hubs {
		if !h.Autoconnect {
			continue
		}
		if a.cfg.NickFor(h.Address) == "" {
			slog.Warn("Skipping autoconnect, no nick set", "address", h.Address)
			continue
		}
		favs = append(favs, hub.Favorite{Address: h.Address, Encoding: h.Encoding, Autoconnect: true})
	}
	if len(favs) == 0 {
		return
	}
	a.queue.Post(deferred.Bind(a.registry, "Autoconnect", func() {
		n := a.registry.Autoconnect(favs)
		slog.Info("Autoconnected favorite hubs", "count", n)
	}))
}

// startActiveMode binds the incoming sockets. Failures are shown as
// warnings and the client keeps running passive.
func (a *App) startActiveMode() {
	am := a.cfg.ActiveMode
	if !am.Enabled {
		return
	}
	a.listener = &nmdc.PortListener{
		TCPAddr:  net.JoinHostPort("", strconv.Itoa(am.TCPPort)),
		UDPAddr:  net.JoinHostPort("", strconv.Itoa(am.UDPPort)),
		Counters: a.counters,
		OnPeer: func(nick string, conn net.Conn) {
			a.adapter.OnLogMessage(time.Now(), "Incoming connection from "+nick)
			conn.Close()
		},
		OnResult: func(result string) {
			slog.Debug("Search result", "result", result)
		},
	}
	if err := a.listener.ListenConnections(); err != nil {
		a.adapter.Warn("Cannot listen for incoming connections", err)
	}
	if err := a.listener.ListenSearches(); err != nil {
		a.adapter.Warn("Cannot listen for search results", err)
	}
}

// onSecond runs on the ticker goroutine.
func (a *App) onSecond(tick uint64) {
	a.adapter.OnSecond(tick)
	if a.watcher == nil {
		return
	}
	for _, item := range a.watcher.scan() {
		a.adapter.OnQueueItemFinished(item, "")
	}
}

func (a *App) watchLAN(ctx context.Context) error {
	warned := false
	for res := range a.browser.Browse(ctx, a.cfg.Discovery.Service) {
		if res.Error != nil {
			if !warned {
				a.adapter.Warn("LAN hub discovery failed", res.Error)
				warned = true
			}
			continue
		}
		a.adapter.OnHubsDiscovered(res.Hubs)
	}
	return nil
}

// Services runs the producers that live for the whole session until ctx
// is done.
func (a *App) Services(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.ticker.Run(ctx, a.onSecond)
	})
	if a.cfg.Discovery.Enabled {
		g.Go(func() error {
			return a.watchLAN(ctx)
		})
	}
	if a.cfg.MetricsAddr != "" {
		g.Go(func() error {
			return a.serveMetrics(ctx, a.cfg.MetricsAddr)
		})
	}
	return g.Wait()
}

// Run starts the client and blocks until the user quits. It returns
// RoleSecondary without starting anything when another instance took the
// request lines.
func (a *App) Run(ctx context.Context) (instance.Role, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	role, err := a.Start(ctx)
	if err != nil || role == instance.RoleSecondary {
		return role, err
	}
	defer a.Shutdown()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Services(ctx)
	})
	g.Go(func() error {
		defer cancel()
		p := tea.NewProgram(ui.New(ctx, a.queue, a.screen, a.registry, a.router), tea.WithContext(ctx), tea.WithAltScreen())
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("terminal UI: %w", err)
		}
		return nil
	})
	return role, g.Wait()
}

// Shutdown stops the queue and closes every session and socket. Pending
// notifications are discarded.
func (a *App) Shutdown() {
	a.queue.Close()
	a.registry.DisconnectAll()
	a.cancelSession()
	if a.coord != nil {
		if err := a.coord.Close(); err != nil {
			slog.Warn("Closing instance listener failed", "error", err)
		}
	}
	if a.listener != nil {
		if err := a.listener.Close(); err != nil {
			slog.Warn("Closing active mode sockets failed", "error", err)
		}
	}
}
