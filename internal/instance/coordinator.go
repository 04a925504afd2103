// Package instance keeps a single client running per user. The first
// process listens on a loopback port derived from the user name; later
// processes hand their request lines to it and exit.
//
// The port is a weak signal, not a lock: two processes racing at startup
// can both end up primary. WithLockFile narrows that window.
package instance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rescp17/dcdesk/internal/request"
)

// DefaultTimeout bounds the probe connection.
const DefaultTimeout = time.Second

const readTimeout = 5 * time.Second

var (
	// ErrListen is returned when the primary cannot bind its port.
	ErrListen = errors.New("instance: cannot listen")
	// ErrUnreachable is returned when another process holds the lock
	// file but does not answer on the port.
	ErrUnreachable = errors.New("instance: running instance does not answer")
	// ErrDecided is returned by a second Probe.
	ErrDecided = errors.New("instance: role already decided")
)

// Role is the coordinator's state.
type Role int

const (
	// RoleProbe is the initial state. Probe also returns it, with an
	// error, when coordination failed and the process should run alone.
	RoleProbe Role = iota
	// RolePrimary owns the port and receives forwarded lines.
	RolePrimary
	// RoleSecondary forwarded its lines and should exit.
	RoleSecondary
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleSecondary:
		return "secondary"
	default:
		return "probe"
	}
}

// LinesFunc receives the non-empty lines of one forwarded payload. It is
// called on the accept goroutine.
type LinesFunc func(lines []string)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout overrides the probe timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLockFile adds an exclusive lock file next to the port probe.
func WithLockFile(path string) Option {
	return func(c *Coordinator) { c.lockPath = path }
}

// WithAddress overrides the loopback address, e.g. "127.0.0.1:0" in tests.
func WithAddress(addr string) Option {
	return func(c *Coordinator) { c.addr = addr }
}

// Coordinator runs the probe and, when primary, the accept loop.
type Coordinator struct {
	addr     string
	timeout  time.Duration
	lockPath string
	onLines  LinesFunc

	mu   sync.Mutex
	role Role
	ln   net.Listener
	lock *flock.Flock
	wg   sync.WaitGroup
}

// New returns a coordinator for the given port.
func New(port int, onLines LinesFunc, opts ...Option) *Coordinator {
	c := &Coordinator{
		addr:    net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		timeout: DefaultTimeout,
		onLines: onLines,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Role returns the current state.
func (c *Coordinator) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Addr returns the listening address once primary, else the probed one.
func (c *Coordinator) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ln != nil {
		return c.ln.Addr().String()
	}
	return c.addr
}

// Probe decides the role. As secondary, lines have been delivered to the
// running instance when it returns.
func (c *Coordinator) Probe(ctx context.Context, lines []string) (Role, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.role != RoleProbe || c.ln != nil {
		return c.role, ErrDecided
	}

	err := Forward(ctx, c.addr, lines, c.timeout)
	if err == nil {
		slog.Info("Another instance is running, request forwarded", "addr", c.addr, "lines", len(lines))
		c.role = RoleSecondary
		return c.role, nil
	}
	slog.Debug("No running instance answered", "addr", c.addr, "error", err)

	if c.lockPath != "" {
		lock := flock.New(c.lockPath)
		locked, err := lock.TryLock()
		switch {
		case err != nil:
			slog.Warn("Cannot take instance lock, continuing without it", "path", c.lockPath, "error", err)
		case !locked:
			return RoleProbe, fmt.Errorf("%w: lock %s is held", ErrUnreachable, c.lockPath)
		default:
			c.lock = lock
		}
	}

	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		c.unlock()
		return RoleProbe, fmt.Errorf("%w on %s: %w", ErrListen, c.addr, err)
	}
	c.ln = ln
	c.role = RolePrimary
	slog.Info("Running as primary instance", "addr", ln.Addr().String())

	c.wg.Add(1)
	go c.acceptLoop(ln)
	return c.role, nil
}

func (c *Coordinator) acceptLoop(ln net.Listener) {
	defer c.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Error("Instance listener stopped", "error", err)
			}
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.serve(conn)
		}()
	}
}

func (c *Coordinator) serve(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	payload, err := io.ReadAll(conn)
	if err != nil && len(payload) == 0 {
		slog.Warn("Failed to read forwarded request", "remote", conn.RemoteAddr(), "error", err)
		return
	}
	lines := request.Split(string(payload))
	if len(lines) == 0 || c.onLines == nil {
		return
	}
	slog.Debug("Received forwarded request", "lines", len(lines))
	c.onLines(lines)
}

// Close stops the accept loop and releases the lock file.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	ln := c.ln
	c.ln = nil
	c.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.unlock()
	c.mu.Unlock()
	return err
}

func (c *Coordinator) unlock() {
	if c.lock == nil {
		return
	}
	if err := c.lock.Unlock(); err != nil {
		slog.Warn("Failed to release instance lock", "path", c.lockPath, "error", err)
	}
	c.lock = nil
}

// Forward connects to addr and writes lines, one per line, then closes.
func Forward(ctx context.Context, addr string, lines []string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if len(lines) == 0 {
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := io.WriteString(conn, strings.Join(lines, "\n")+"\n"); err != nil {
		return fmt.Errorf("forward to %s: %w", addr, err)
	}
	return nil
}
