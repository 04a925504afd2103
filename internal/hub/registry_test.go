package hub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rescp17/dcdesk/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	address, encoding string
	handlers          engine.ClientHandlers
	connectErr        error
	connects          int
	disconnects       int
	passwords         []string
}

func (c *fakeClient) Address() string  { return c.address }
func (c *fakeClient) Encoding() string { return c.encoding }
func (c *fakeClient) Connect(context.Context) error {
	c.connects++
	return c.connectErr
}
func (c *fakeClient) Disconnect()       { c.disconnects++ }
func (c *fakeClient) Send(string) error { return nil }
func (c *fakeClient) SetPassword(p string) error {
	c.passwords = append(c.passwords, p)
	return nil
}

type fakeDialer struct {
	clients []*fakeClient
	err     error
}

func (d *fakeDialer) NewClient(address, enc string, h engine.ClientHandlers) (engine.Client, error) {
	if d.err != nil {
		return nil, d.err
	}
	c := &fakeClient{address: address, encoding: enc, handlers: h}
	d.clients = append(d.clients, c)
	return c, nil
}

type recordingObserver struct {
	added, changed, removed []string
	chat                    []engine.ChatMessage
}

func (o *recordingObserver) SessionAdded(s *Session)   { o.added = append(o.added, s.Address) }
func (o *recordingObserver) SessionChanged(s *Session) { o.changed = append(o.changed, s.Address) }
func (o *recordingObserver) SessionRemoved(s *Session) { o.removed = append(o.removed, s.Address) }
func (o *recordingObserver) ChatReceived(_ *Session, m engine.ChatMessage) {
	o.chat = append(o.chat, m)
}

func newTestRegistry(opts ...Option) (*Registry, *fakeDialer, *recordingObserver) {
	d := &fakeDialer{}
	obs := &recordingObserver{}
	r := NewRegistry(context.Background(), d, append([]Option{WithObserver(obs)}, opts...)...)
	return r, d, obs
}

func TestConnectTwiceYieldsOneSession(t *testing.T) {
	r, d, obs := newTestRegistry()

	s1, res1, err := r.Connect("dchub://example.org", "")
	require.NoError(t, err)
	assert.Equal(t, Created, res1)

	s2, res2, err := r.Connect("dchub://example.org", "")
	require.NoError(t, err)
	assert.Equal(t, AlreadyConnected, res2)

	assert.Same(t, s1, s2)
	assert.Equal(t, 1, r.Len())
	assert.Len(t, d.clients, 1)
	assert.Equal(t, 1, d.clients[0].connects)
	assert.Equal(t, []string{"dchub://example.org"}, obs.added)
}

func TestConnectInvalid(t *testing.T) {
	r, d, _ := newTestRegistry()

	_, res, err := r.Connect("  ", "")
	assert.Equal(t, Invalid, res)
	assert.ErrorIs(t, err, ErrEmptyAddress)

	d.err = engine.ErrUnsupportedScheme
	_, res, err = r.Connect("adc://h", "UTF-8")
	assert.Equal(t, Invalid, res)
	assert.ErrorIs(t, err, engine.ErrUnsupportedScheme)
	assert.Equal(t, 0, r.Len())
}

func TestConnectStartFailureKeepsSession(t *testing.T) {
	r := NewRegistry(context.Background(), engine.DialerFunc(func(a, e string, h engine.ClientHandlers) (engine.Client, error) {
		return &fakeClient{address: a, connectErr: errors.New("boom")}, nil
	}))

	s, res, err := r.Connect("dchub://a", "")
	require.NoError(t, err)
	assert.Equal(t, Created, res)
	assert.Equal(t, StateFailed, s.State)
	assert.Equal(t, "boom", s.FailReason)
}

func TestDisconnectMissingIsNoop(t *testing.T) {
	r, _, obs := newTestRegistry()
	assert.NotPanics(t, func() { r.Disconnect("dchub://nowhere") })
	assert.Empty(t, obs.removed)
	assert.Equal(t, 0, r.Len())
}

func TestDisconnectRemovesSession(t *testing.T) {
	r, d, obs := newTestRegistry()
	s, _, err := r.Connect("dchub://a", "")
	require.NoError(t, err)

	r.Disconnect("dchub://a")

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, StateClosed, s.State)
	assert.Equal(t, 1, d.clients[0].disconnects)
	assert.Equal(t, []string{"dchub://a"}, obs.removed)
	_, ok := r.Lookup(s.ID)
	assert.False(t, ok)
}

func TestPaddedAddressIsTheSameSession(t *testing.T) {
	r, d, obs := newTestRegistry(WithReconnectLimit(time.Hour, 2))
	s, res, err := r.Connect(" dchub://x ", "")
	require.NoError(t, err)
	assert.Equal(t, Created, res)
	assert.Equal(t, "dchub://x", s.Address)

	got, ok := r.Get(" dchub://x ")
	require.True(t, ok)
	assert.Same(t, s, got)

	_, res, err = r.Connect("dchub://x", "")
	require.NoError(t, err)
	assert.Equal(t, AlreadyConnected, res)

	require.NoError(t, r.Reconnect("\tdchub://x"))
	require.NoError(t, r.SubmitPassword(" dchub://x", "secret"))
	assert.Equal(t, []string{"secret"}, d.clients[1].passwords)

	r.Disconnect(" dchub://x ")
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, []string{"dchub://x"}, obs.removed)
}

func TestSessionsSorted(t *testing.T) {
	r, _, _ := newTestRegistry()
	for _, a := range []string{"dchub://c", "dchub://a", "dchub://b"} {
		_, _, err := r.Connect(a, "")
		require.NoError(t, err)
	}
	var got []string
	for _, s := range r.Sessions() {
		got = append(got, s.Address)
	}
	assert.Equal(t, []string{"dchub://a", "dchub://b", "dchub://c"}, got)

	r.DisconnectAll()
	assert.Equal(t, 0, r.Len())
}

func TestHandlerFactoryReceivesSessionID(t *testing.T) {
	r, d, _ := newTestRegistry()
	var seen uuid.UUID
	r.SetHandlerFactory(func(id uuid.UUID) engine.ClientHandlers {
		seen = id
		return engine.ClientHandlers{}
	})
	s, _, err := r.Connect("dchub://a", "")
	require.NoError(t, err)
	assert.Equal(t, s.ID, seen)
	require.Len(t, d.clients, 1)
}

func TestReconnect(t *testing.T) {
	r, d, _ := newTestRegistry(WithReconnectLimit(time.Hour, 1))
	s, _, err := r.Connect("dchub://a", "")
	require.NoError(t, err)
	oldID := s.ID
	r.HandleFailed(oldID, "timeout")

	require.NoError(t, r.Reconnect("dchub://a"))
	assert.NotEqual(t, oldID, s.ID)
	assert.Equal(t, StateConnecting, s.State)
	assert.Empty(t, s.FailReason)
	require.Len(t, d.clients, 2)
	assert.Equal(t, 1, d.clients[0].disconnects)

	// Late event from the replaced connection.
	r.HandleConnected(oldID)
	assert.Equal(t, StateConnecting, s.State)

	assert.ErrorIs(t, r.Reconnect("dchub://a"), ErrThrottled)
	assert.ErrorIs(t, r.Reconnect("dchub://b"), ErrNotFound)
}

func TestAutoconnect(t *testing.T) {
	r, _, _ := newTestRegistry()
	n := r.Autoconnect([]Favorite{
		{Address: "dchub://a", Autoconnect: true},
		{Address: "dchub://b"},
		{Address: "", Autoconnect: true},
		{Address: "dchub://a", Autoconnect: true},
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, r.Len())
}

func TestSessionEvents(t *testing.T) {
	m := NewMetrics("test")
	r, _, obs := newTestRegistry(WithMetrics(m))
	s, _, err := r.Connect("dchub://a", "")
	require.NoError(t, err)
	id := s.ID

	r.HandleConnecting(id)
	assert.Equal(t, StateConnecting, s.State)

	r.HandleConnected(id)
	assert.Equal(t, StateConnected, s.State)
	assert.Equal(t, 1, r.Connected())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Connected))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Sessions))

	r.HandleHubUpdated(id, "Test Hub", "welcome")
	assert.Equal(t, "Test Hub", s.Title())
	assert.Equal(t, "welcome", s.Topic)

	r.HandleUserUpdated(id, engine.User{Nick: "zed"})
	r.HandleUserUpdated(id, engine.User{Nick: "amy", Share: 10})
	r.HandleUserUpdated(id, engine.User{Nick: "amy", Share: 20})
	r.HandleUserUpdated(id, engine.User{})
	assert.Equal(t, 2, s.UserCount())
	assert.Equal(t, "amy", s.Users()[0].Nick)
	u, ok := s.User("amy")
	require.True(t, ok)
	assert.Equal(t, int64(20), u.Share)

	r.HandleUserRemoved(id, "zed")
	r.HandleUserRemoved(id, "ghost")
	assert.Equal(t, 1, s.UserCount())

	r.HandleStatusMessage(id, "hello", engine.FlagNormal)
	assert.Equal(t, "hello", s.Status)
	r.HandleStatusMessage(id, "spam", engine.FlagSpam)
	assert.Equal(t, "hello", s.Status)

	r.HandleMessage(id, engine.ChatMessage{From: "amy", Text: "hi"})
	require.Len(t, obs.chat, 1)
	assert.False(t, obs.chat[0].At.IsZero())
	assert.Len(t, s.Chat(), 1)

	r.HandlePasswordRequested(id)
	assert.True(t, s.PasswordRequested)
	require.NoError(t, r.SubmitPassword("dchub://a", "secret"))
	assert.False(t, s.PasswordRequested)
	assert.ErrorIs(t, r.SubmitPassword("dchub://x", "secret"), ErrNotFound)

	r.HandleNickTaken(id)
	assert.True(t, s.NickTaken)

	r.HandleSearchFlood(id, "1.2.3.4")
	assert.Contains(t, s.Status, "1.2.3.4")

	r.HandleFailed(id, "reset")
	assert.Equal(t, StateFailed, s.State)
	assert.Equal(t, 0, s.UserCount())
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Connected))
	assert.NotEmpty(t, obs.changed)
}

func TestChatIsBounded(t *testing.T) {
	r, _, _ := newTestRegistry()
	s, _, err := r.Connect("dchub://a", "")
	require.NoError(t, err)
	for i := 0; i < MaxChatLines+10; i++ {
		r.HandleMessage(s.ID, engine.ChatMessage{Text: "x"})
	}
	assert.Len(t, s.Chat(), MaxChatLines)
}

func TestRedirect(t *testing.T) {
	r, d, obs := newTestRegistry()
	s, _, err := r.Connect("dchub://old", "windows-1251")
	require.NoError(t, err)

	r.HandleRedirect(s.ID, "dchub://new")

	_, ok := r.Get("dchub://old")
	assert.False(t, ok)
	ns, ok := r.Get("dchub://new")
	require.True(t, ok)
	assert.Equal(t, "windows-1251", ns.Encoding)
	assert.Equal(t, 1, d.clients[0].disconnects)
	assert.Equal(t, []string{"dchub://old"}, obs.removed)
}

func TestRedirectToOpenHubIsIgnored(t *testing.T) {
	r, _, _ := newTestRegistry()
	a, _, _ := r.Connect("dchub://a", "")
	_, _, _ = r.Connect("dchub://b", "")

	r.HandleRedirect(a.ID, "dchub://b")

	assert.Equal(t, 2, r.Len())
	assert.Contains(t, a.Status, "ignored")
}

func TestEventsForUnknownSessionAreDropped(t *testing.T) {
	r, _, obs := newTestRegistry()
	ghost := uuid.New()
	assert.NotPanics(t, func() {
		r.HandleConnected(ghost)
		r.HandleFailed(ghost, "x")
		r.HandleMessage(ghost, engine.ChatMessage{})
		r.HandleRedirect(ghost, "dchub://x")
	})
	assert.Empty(t, obs.changed)
	assert.Equal(t, 0, r.Len())
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "already connected", AlreadyConnected.String())
	assert.Equal(t, "invalid", Invalid.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "unknown", State(42).String())
}
