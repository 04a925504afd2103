package instance

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPort(t *testing.T) {
	tests := []struct {
		user string
		want int
	}{
		{"", 4098},
		{"bob", 4098},
		{"root", 4105},
		{"alice", 4202},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Port(tt.user), "Port(%q)", tt.user)
	}
}

func TestPortRange(t *testing.T) {
	for _, u := range []string{"a", "longusername_with_many_chars", "Ünïcødé", "用户"} {
		p := Port(u)
		assert.GreaterOrEqual(t, p, PortBase)
		assert.Less(t, p, PortBase+1<<12)
		assert.Equal(t, p, Port(u))
	}
}

func TestPortForCurrentUser(t *testing.T) {
	t.Setenv("USER", "")
	assert.Equal(t, FallbackPort, PortForCurrentUser())
}

type sink struct {
	ch chan []string
}

func newSink() *sink { return &sink{ch: make(chan []string, 8)} }

func (s *sink) onLines(lines []string) { s.ch <- lines }

func (s *sink) next(t *testing.T) []string {
	t.Helper()
	select {
	case l := <-s.ch:
		return l
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded lines")
		return nil
	}
}

func startPrimary(t *testing.T, s *sink, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{WithAddress("127.0.0.1:0"), WithTimeout(200 * time.Millisecond)}, opts...)
	c := New(0, s.onLines, opts...)
	role, err := c.Probe(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, RolePrimary, role)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestProbeForwardsSingleLine(t *testing.T) {
	s := newSink()
	primary := startPrimary(t, s)

	second := New(0, nil, WithAddress(primary.Addr()))
	role, err := second.Probe(context.Background(), []string{"dchub://example.org"})
	require.NoError(t, err)
	assert.Equal(t, RoleSecondary, role)
	assert.Equal(t, RoleSecondary, second.Role())

	assert.Equal(t, []string{"dchub://example.org"}, s.next(t))
}

func TestPrimarySkipsEmptyLines(t *testing.T) {
	s := newSink()
	primary := startPrimary(t, s)

	conn, err := net.Dial("tcp", primary.Addr())
	require.NoError(t, err)
	_, err = conn.Write([]byte("\n\nadc://a\n\ndchub://b\n"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	assert.Equal(t, []string{"adc://a", "dchub://b"}, s.next(t))
}

func TestEmptyPayloadIsNotForwarded(t *testing.T) {
	s := newSink()
	primary := startPrimary(t, s)

	require.NoError(t, Forward(context.Background(), primary.Addr(), nil, time.Second))
	require.NoError(t, Forward(context.Background(), primary.Addr(), []string{"x"}, time.Second))

	assert.Equal(t, []string{"x"}, s.next(t))
	select {
	case l := <-s.ch:
		t.Fatalf("unexpected extra payload %v", l)
	default:
	}
}

func TestProbeTwiceIsRejected(t *testing.T) {
	primary := startPrimary(t, newSink())
	role, err := primary.Probe(context.Background(), nil)
	assert.ErrorIs(t, err, ErrDecided)
	assert.Equal(t, RolePrimary, role)
}

func TestListenFailure(t *testing.T) {
	// Port out of range: both dial and listen reject it.
	c := New(0, nil, WithAddress("127.0.0.1:99999"), WithTimeout(50*time.Millisecond))
	role, err := c.Probe(context.Background(), nil)
	assert.ErrorIs(t, err, ErrListen)
	assert.Equal(t, RoleProbe, role)
}

func TestLockReleasedOnClose(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "dcdesk.lock")
	s := newSink()
	primary := startPrimary(t, s, WithLockFile(lockPath))
	addr := primary.Addr()
	require.NoError(t, primary.Close())

	again := New(0, nil, WithAddress(addr), WithLockFile(lockPath), WithTimeout(100*time.Millisecond))
	role, err := again.Probe(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, RolePrimary, role)
	require.NoError(t, again.Close())
}

func TestLockFileBlocksSecondPrimary(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "dcdesk.lock")
	startPrimary(t, newSink(), WithLockFile(lockPath))

	// Different port, same lock: the lock wins.
	other := New(0, nil, WithAddress("127.0.0.1:0"), WithLockFile(lockPath), WithTimeout(100*time.Millisecond))
	role, err := other.Probe(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, RoleProbe, role)
}

func TestForwardNoListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	assert.Error(t, Forward(context.Background(), addr, []string{"x"}, 100*time.Millisecond))
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "probe", RoleProbe.String())
	assert.Equal(t, "primary", RolePrimary.String())
	assert.Equal(t, "secondary", RoleSecondary.String())
}
