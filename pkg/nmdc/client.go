package nmdc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/time/rate"

	"github.com/rescp17/dcdesk/pkg/engine"
)

var errUnsupported = engine.ErrUnsupportedScheme

// DefaultEncoding is used for hubs opened without an explicit encoding.
const DefaultEncoding = "windows-1252"

// Config holds the identity presented to hubs.
type Config struct {
	Nick        string
	Description string
	Email       string
	ShareSize   int64
	DialTimeout time.Duration
	// SearchRate and SearchBurst bound $Search commands per source before a
	// flood is reported.
	SearchRate  float64
	SearchBurst int
}

// Dialer creates NMDC sessions that share one counter set.
type Dialer struct {
	Config   Config
	Counters *engine.Counters
}

// NewClient implements engine.Dialer.
func (d *Dialer) NewClient(address, enc string, handlers engine.ClientHandlers) (engine.Client, error) {
	return NewClient(address, enc, d.Config, d.Counters, handlers)
}

// Client is one NMDC hub session.
type Client struct {
	address  string
	hostPort string
	encName  string
	enc      encoding.Encoding
	cfg      Config
	counters *engine.Counters
	h        engine.ClientHandlers

	mu      sync.Mutex
	conn    net.Conn
	cancel  context.CancelFunc
	joined  bool
	pass    bool // $GetPass seen this session
	role    engine.HubRole
	hubName string
	topic   string

	floodMu  sync.Mutex
	searches map[string]*rate.Limiter
	flooding map[string]bool
}

// NewClient validates the address and encoding and returns an idle session.
func NewClient(address, enc string, cfg Config, counters *engine.Counters, handlers engine.ClientHandlers) (*Client, error) {
	hp, err := HostPort(address)
	if err != nil {
		return nil, err
	}
	name := enc
	if name == "" {
		name = DefaultEncoding
	}
	e, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	if counters == nil {
		counters = engine.Global
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if cfg.SearchRate <= 0 {
		cfg.SearchRate = 5
	}
	if cfg.SearchBurst <= 0 {
		cfg.SearchBurst = 10
	}
	return &Client{
		address:  address,
		hostPort: hp,
		encName:  enc,
		enc:      e,
		cfg:      cfg,
		counters: counters,
		h:        handlers,
		searches: make(map[string]*rate.Limiter),
		flooding: make(map[string]bool),
	}, nil
}

func (c *Client) Address() string  { return c.address }
func (c *Client) Encoding() string { return c.encName }

// Connect dials the hub in the background.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return fmt.Errorf("session to %s already started", c.address)
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	if c.h.Connecting != nil {
		c.h.Connecting()
	}
	go c.run(ctx)
	return nil
}

func (c *Client) run(ctx context.Context) {
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	raw, err := d.DialContext(ctx, "tcp", c.hostPort)
	if err != nil {
		if ctx.Err() == nil {
			c.fail(err.Error())
		}
		return
	}
	conn := &engine.CountingConn{Conn: raw, Counters: c.counters}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		raw.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		raw.Close()
	}()

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('|')
		if err != nil {
			if ctx.Err() == nil {
				if errors.Is(err, io.EOF) {
					c.fail("connection closed by hub")
				} else {
					c.fail(err.Error())
				}
			}
			c.leave()
			return
		}
		line = strings.TrimSuffix(line, "|")
		if line == "" {
			continue
		}
		// The key is computed over the bytes the hub sent.
		if lock, ok := strings.CutPrefix(line, "$Lock "); ok {
			c.answerLock(lock)
			continue
		}
		c.handle(c.decode(line))
	}
}

func (c *Client) decode(s string) string {
	out, err := c.enc.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return out
}

// encode converts text commands to the hub encoding. Runes the encoding
// cannot represent are replaced.
func (c *Client) encode(cmds ...string) (string, error) {
	payload := strings.Join(cmds, "|") + "|"
	out, err := encoding.ReplaceUnsupported(c.enc.NewEncoder()).String(payload)
	if err != nil {
		return "", fmt.Errorf("encoding command for %s: %w", c.address, err)
	}
	return out, nil
}

func (c *Client) write(cmds ...string) error {
	wire, err := c.encode(cmds...)
	if err != nil {
		return err
	}
	return c.send(wire)
}

// send writes bytes that are already in wire form.
func (c *Client) send(wire string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return engine.ErrNotConnected
	}
	_, err := io.WriteString(conn, wire)
	return err
}

// answerLock replies to a raw $Lock. $Key is binary and goes out as is.
func (c *Client) answerLock(raw string) {
	lock, _, _ := strings.Cut(raw, " ")
	supports, err := c.encode("$Supports NoGetINFO NoHello UserIP2")
	if err == nil {
		var validate string
		validate, err = c.encode("$ValidateNick " + c.cfg.Nick)
		if err == nil {
			err = c.send(supports + "$Key " + LockToKey(lock) + "|" + validate)
		}
	}
	if err != nil {
		slog.Warn("Failed to answer hub lock", "hub", c.address, "error", err)
	}
}

func (c *Client) handle(line string) {
	name, args := command(line)
	switch name {
	case "$HubName":
		c.mu.Lock()
		c.hubName = args
		topic := c.topic
		c.mu.Unlock()
		if c.h.HubUpdated != nil {
			c.h.HubUpdated(args, topic)
		}
	case "$HubTopic":
		c.mu.Lock()
		c.topic = args
		hubName := c.hubName
		c.mu.Unlock()
		if c.h.HubUpdated != nil {
			c.h.HubUpdated(hubName, args)
		}
	case "$GetPass":
		c.mu.Lock()
		c.pass = true
		c.mu.Unlock()
		if c.h.PasswordRequested != nil {
			c.h.PasswordRequested()
		}
	case "$BadPass":
		c.fail("bad password")
	case "$ValidateDenide":
		if c.h.NickTaken != nil {
			c.h.NickTaken()
		}
	case "$Hello":
		if args == c.cfg.Nick {
			c.login()
			return
		}
		if c.h.UserUpdated != nil {
			c.h.UserUpdated(engine.User{Nick: args})
		}
	case "$LogedIn":
		c.promote(engine.RoleOp)
	case "$MyINFO":
		nick, desc, email, share, ok := parseMyINFO(args)
		if ok && c.h.UserUpdated != nil {
			c.h.UserUpdated(engine.User{Nick: nick, Description: desc, Email: email, Share: share})
		}
	case "$OpList":
		for _, nick := range strings.Split(args, "$$") {
			if nick == "" {
				continue
			}
			if nick == c.cfg.Nick {
				c.promote(engine.RoleOp)
			}
			if c.h.UserUpdated != nil {
				c.h.UserUpdated(engine.User{Nick: nick, Op: true})
			}
		}
	case "$Quit":
		if c.h.UserRemoved != nil {
			c.h.UserRemoved(args)
		}
	case "$ForceMove":
		if c.h.Redirect != nil && args != "" {
			c.h.Redirect(args)
		}
	case "$To:":
		to, from, text, ok := parsePrivate(args)
		if ok && c.h.Message != nil {
			c.h.Message(engine.ChatMessage{From: from, To: to, Text: Unescape(text), Private: true, At: time.Now()})
		}
	case "$Search":
		source, _, _ := strings.Cut(args, " ")
		c.checkFlood(source)
	case "":
		if nick, text, ok := parseChat(line); ok {
			if c.h.Message != nil {
				c.h.Message(engine.ChatMessage{From: nick, Text: Unescape(text), At: time.Now()})
			}
			return
		}
		if c.h.StatusMessage != nil {
			c.h.StatusMessage(Unescape(line), engine.FlagNormal)
		}
	default:
		slog.Debug("Ignoring hub command", "hub", c.address, "command", name)
	}
}

func (c *Client) login() {
	err := c.write(
		"$Version 1,0091",
		"$GetNickList",
		fmt.Sprintf("$MyINFO $ALL %s %s$ $100\x01$%s$%d$", c.cfg.Nick, Escape(c.cfg.Description), Escape(c.cfg.Email), c.cfg.ShareSize),
	)
	if err != nil {
		c.fail(err.Error())
		return
	}

	c.mu.Lock()
	first := !c.joined
	role := engine.RoleNormal
	if c.pass {
		role = engine.RoleRegistered
	}
	if first {
		c.joined = true
		c.role = role
	}
	c.mu.Unlock()

	if first {
		c.counters.HubJoined(role)
		if c.h.Connected != nil {
			c.h.Connected()
		}
	}
}

func (c *Client) promote(role engine.HubRole) {
	c.mu.Lock()
	if !c.joined || c.role == role {
		c.mu.Unlock()
		return
	}
	old := c.role
	c.role = role
	c.mu.Unlock()

	c.counters.HubLeft(old)
	c.counters.HubJoined(role)
}

func (c *Client) checkFlood(source string) {
	c.floodMu.Lock()
	lim, ok := c.searches[source]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.cfg.SearchRate), c.cfg.SearchBurst)
		c.searches[source] = lim
	}
	allowed := lim.Allow()
	report := !allowed && !c.flooding[source]
	c.flooding[source] = !allowed
	c.floodMu.Unlock()

	if report && c.h.SearchFlood != nil {
		c.h.SearchFlood(source)
	}
}

func (c *Client) fail(reason string) {
	if c.h.Failed != nil {
		c.h.Failed(reason)
	}
}

func (c *Client) leave() {
	c.mu.Lock()
	joined := c.joined
	role := c.role
	c.joined = false
	c.pass = false
	c.conn = nil
	c.mu.Unlock()
	if joined {
		c.counters.HubLeft(role)
	}
}

// Disconnect closes the session. No further events are reported.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.leave()
}

// Send writes a public chat line.
func (c *Client) Send(text string) error {
	return c.write(fmt.Sprintf("<%s> %s", c.cfg.Nick, Escape(text)))
}

// SetPassword answers a $GetPass request.
func (c *Client) SetPassword(password string) error {
	return c.write("$MyPass " + password)
}
