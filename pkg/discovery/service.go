// Package discovery browses the local network for hubs that announce
// themselves over mDNS.
package discovery

import (
	"context"
	"net"
	"strconv"
)

const (
	DefaultService = "_dchub._tcp"
	DefaultDomain  = "local"
)

// Hub is one announced hub.
type Hub struct {
	Name        string // instance name
	Service     string // e.g. "_dchub._tcp"
	Domain      string // e.g. "local"
	Description string // TXT "desc", if any
	Addr        net.IP
	Port        int
}

// Address renders the hub as a connectable dchub:// URL.
func (h Hub) Address() string {
	return "dchub://" + net.JoinHostPort(h.Addr.String(), strconv.Itoa(h.Port))
}

// Result carries either a full snapshot of visible hubs or an error.
type Result struct {
	Hubs  []Hub
	Error error
}

// Browser watches for hubs of one service type until ctx is done.
type Browser interface {
	Browse(ctx context.Context, service string) <-chan Result
}
