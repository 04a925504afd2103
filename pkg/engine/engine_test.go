package engine

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersMonotonic(t *testing.T) {
	c := &Counters{}
	c.AddDown(100)
	c.AddDown(-5)
	c.AddUp(40)
	c.AddUp(0)
	assert.Equal(t, int64(100), c.TotalDown())
	assert.Equal(t, int64(40), c.TotalUp())
}

func TestCountersHubCounts(t *testing.T) {
	c := &Counters{}
	c.HubJoined(RoleNormal)
	c.HubJoined(RoleNormal)
	c.HubJoined(RoleOp)
	c.HubJoined(RoleRegistered)
	c.HubLeft(RoleNormal)
	assert.Equal(t, "1/1/1", c.HubCounts())
}

func TestCountingConn(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	c := &Counters{}
	conn := &CountingConn{Conn: a, Counters: c}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 5)
		_, _ = b.Read(buf)
		_, _ = b.Write([]byte("pong!!"))
	}()

	_, err := conn.Write([]byte("ping!"))
	require.NoError(t, err)
	buf := make([]byte, 6)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	wg.Wait()

	assert.Equal(t, int64(5), c.TotalUp())
	assert.Equal(t, int64(n), c.TotalDown())
}

func TestTickerRun(t *testing.T) {
	tk := NewTicker(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	var (
		count int64
		last  atomic.Uint64
	)
	done := make(chan error, 1)
	go func() {
		done <- tk.Run(ctx, func(tick uint64) {
			assert.GreaterOrEqual(t, tick, last.Load())
			last.Store(tick)
			atomic.AddInt64(&count, 1)
		})
	}()

	time.Sleep(40 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Greater(t, atomic.LoadInt64(&count), int64(0))
}

func TestNewTickerDefaultPeriod(t *testing.T) {
	assert.Equal(t, time.Second, NewTicker(0).Period)
}

func TestQueueItemIsUserList(t *testing.T) {
	dir := t.TempDir()

	xmlList := filepath.Join(dir, "alice.files.xml")
	require.NoError(t, os.WriteFile(xmlList, []byte(`<?xml version="1.0" encoding="utf-8"?><FileListing Version="1"></FileListing>`), 0o644))

	regular := filepath.Join(dir, "movie.txt")
	require.NoError(t, os.WriteFile(regular, []byte("plain text"), 0o644))

	tests := []struct {
		name string
		item QueueItem
		want bool
	}{
		{"flagged user list", QueueItem{Target: regular, Flags: FlagUserList}, true},
		{"flagged client view", QueueItem{Target: regular, Flags: FlagClientView}, true},
		{"sniffed xml list", QueueItem{Target: xmlList}, true},
		{"regular file", QueueItem{Target: regular}, false},
		{"missing file", QueueItem{Target: filepath.Join(dir, "bob.files.xml.bz2")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.IsUserList())
		})
	}
}

func TestDialerFunc(t *testing.T) {
	var gotAddr string
	d := DialerFunc(func(address, encoding string, _ ClientHandlers) (Client, error) {
		gotAddr = address
		return nil, ErrUnsupportedScheme
	})
	_, err := d.NewClient("adc://x", "UTF-8", ClientHandlers{})
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
	assert.Equal(t, "adc://x", gotAddr)
}
