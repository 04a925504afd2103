package engine

import (
	"fmt"
	"net"
	"sync/atomic"
)

// Counters are process-wide traffic and hub totals maintained by the network
// layer. Readers take independent atomic snapshots; the values feed rate
// estimates, so small inconsistencies between fields are tolerated.
type Counters struct {
	down atomic.Int64
	up   atomic.Int64

	normal     atomic.Int64
	registered atomic.Int64
	op         atomic.Int64
}

// Global is the counter set shared by every session of the process.
var Global = &Counters{}

// AddDown records bytes received.
func (c *Counters) AddDown(n int) {
	if n > 0 {
		c.down.Add(int64(n))
	}
}

// AddUp records bytes sent.
func (c *Counters) AddUp(n int) {
	if n > 0 {
		c.up.Add(int64(n))
	}
}

// TotalDown returns the bytes received since start. It never decreases.
func (c *Counters) TotalDown() int64 { return c.down.Load() }

// TotalUp returns the bytes sent since start. It never decreases.
func (c *Counters) TotalUp() int64 { return c.up.Load() }

// HubRole classifies a logged-in hub session.
type HubRole int

const (
	RoleNormal HubRole = iota
	RoleRegistered
	RoleOp
)

func (c *Counters) role(r HubRole) *atomic.Int64 {
	switch r {
	case RoleRegistered:
		return &c.registered
	case RoleOp:
		return &c.op
	default:
		return &c.normal
	}
}

// HubJoined counts a session that completed login.
func (c *Counters) HubJoined(r HubRole) { c.role(r).Add(1) }

// HubLeft reverts HubJoined.
func (c *Counters) HubLeft(r HubRole) { c.role(r).Add(-1) }

// HubCounts renders the hub summary shown in the status bar, as
// normal/registered/op.
func (c *Counters) HubCounts() string {
	return fmt.Sprintf("%d/%d/%d", c.normal.Load(), c.registered.Load(), c.op.Load())
}

// CountingConn accounts every byte read and written on the wrapped
// connection in a Counters set.
type CountingConn struct {
	net.Conn
	Counters *Counters
}

func (c *CountingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	c.Counters.AddDown(n)
	return n, err
}

func (c *CountingConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	c.Counters.AddUp(n)
	return n, err
}
