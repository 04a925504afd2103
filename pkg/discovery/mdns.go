package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/brutella/dnssd"
	dnssdlog "github.com/brutella/dnssd/log"
)

// MDNSBrowser implements Browser with dnssd.
type MDNSBrowser struct{}

func init() {
	dnssdlog.Info.SetOutput(io.Discard)
	dnssdlog.Debug.SetOutput(io.Discard)
}

// entryKey identifies one announcement. A hub visible on several
// interfaces has one entry per interface.
func entryKey(e dnssd.BrowseEntry) string {
	return fmt.Sprintf("%s:%s:%s@%s", e.Name, e.Type, e.Domain, e.IfaceName)
}

func hubKey(h Hub) string {
	return h.Name + ":" + h.Service + ":" + h.Domain
}

// hubFromEntry converts a browse entry. The TXT description is best effort:
// dnssd may report the entry before its TXT record arrives.
func hubFromEntry(e dnssd.BrowseEntry) (Hub, bool) {
	if len(e.IPs) == 0 || e.Port <= 0 {
		return Hub{}, false
	}
	addr := e.IPs[0]
	for _, ip := range e.IPs {
		if ip.To4() != nil {
			addr = ip
			break
		}
	}
	return Hub{
		Name:        e.Name,
		Service:     e.Type,
		Domain:      e.Domain,
		Description: e.Text["desc"],
		Addr:        addr,
		Port:        e.Port,
	}, true
}

// hubSet tracks announcements per interface and merges them into one
// snapshot per hub.
type hubSet struct {
	mu      sync.Mutex
	entries map[string]Hub
}

func newHubSet() *hubSet {
	return &hubSet{entries: make(map[string]Hub)}
}

// add records e and reports whether it was usable.
func (s *hubSet) add(e dnssd.BrowseEntry) bool {
	h, ok := hubFromEntry(e)
	if !ok {
		return false
	}
	s.mu.Lock()
	s.entries[entryKey(e)] = h
	s.mu.Unlock()
	return true
}

func (s *hubSet) remove(e dnssd.BrowseEntry) {
	s.mu.Lock()
	delete(s.entries, entryKey(e))
	s.mu.Unlock()
}

// snapshot returns the visible hubs sorted by name. A hub announced on
// several interfaces appears once, preferring an entry with a description.
func (s *hubSet) snapshot() []Hub {
	s.mu.Lock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	merged := make(map[string]Hub, len(keys))
	for _, k := range keys {
		h := s.entries[k]
		prev, seen := merged[hubKey(h)]
		if !seen || (prev.Description == "" && h.Description != "") {
			merged[hubKey(h)] = h
		}
	}
	s.mu.Unlock()

	hubs := make([]Hub, 0, len(merged))
	for _, h := range merged {
		hubs = append(hubs, h)
	}
	sort.Slice(hubs, func(i, j int) bool { return hubKey(hubs[i]) < hubKey(hubs[j]) })
	return hubs
}

// Browse streams snapshots of the visible hubs. Snapshots are dropped when
// the reader falls behind; the next change sends a fresh one. The channel
// is closed when ctx is done.
func (m *MDNSBrowser) Browse(ctx context.Context, service string) <-chan Result {
	set := newHubSet()
	outCh := make(chan Result, 10)

	send := func(r Result) {
		select {
		case outCh <- r:
		default:
		}
	}

	addFn := func(e dnssd.BrowseEntry) {
		if set.add(e) {
			send(Result{Hubs: set.snapshot()})
		}
	}

	rmvFn := func(e dnssd.BrowseEntry) {
		set.remove(e)
		send(Result{Hubs: set.snapshot()})
	}

	go func() {
		defer close(outCh)
		err := dnssd.LookupType(ctx, service+"."+DefaultDomain+".", addFn, rmvFn)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			send(Result{Error: fmt.Errorf("mDNS lookup failed: %w", err)})
		}
	}()

	return outCh
}
