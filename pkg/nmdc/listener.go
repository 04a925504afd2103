package nmdc

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rescp17/dcdesk/pkg/engine"
)

// PortListener binds the active-mode sockets: TCP for incoming peer
// connections and UDP for search results. Transfers themselves are handled
// elsewhere; accepted peers are identified and handed to OnPeer.
type PortListener struct {
	TCPAddr  string
	UDPAddr  string
	Counters *engine.Counters
	// OnPeer receives the nick announced by an incoming connection.
	OnPeer func(nick string, conn net.Conn)
	// OnResult receives every search result datagram.
	OnResult func(result string)

	mu   sync.Mutex
	ln   net.Listener
	pc   net.PacketConn
	wg   sync.WaitGroup
	done bool
}

var _ engine.Listener = (*PortListener)(nil)

// ListenConnections binds the TCP port and starts accepting peers.
func (l *PortListener) ListenConnections() error {
	ln, err := net.Listen("tcp", l.TCPAddr)
	if err != nil {
		return fmt.Errorf("listen for connections on %s: %w", l.TCPAddr, err)
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	l.wg.Add(1)
	go l.accept(ln)
	return nil
}

// ListenSearches binds the UDP port for search results.
func (l *PortListener) ListenSearches() error {
	pc, err := net.ListenPacket("udp", l.UDPAddr)
	if err != nil {
		return fmt.Errorf("listen for searches on %s: %w", l.UDPAddr, err)
	}
	l.mu.Lock()
	l.pc = pc
	l.mu.Unlock()

	l.wg.Add(1)
	go l.readPackets(pc)
	return nil
}

// Addr returns the bound TCP address, useful when listening on port 0.
func (l *PortListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// PacketAddr returns the bound UDP address.
func (l *PortListener) PacketAddr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pc == nil {
		return nil
	}
	return l.pc.LocalAddr()
}

func (l *PortListener) counters() *engine.Counters {
	if l.Counters == nil {
		return engine.Global
	}
	return l.Counters
}

func (l *PortListener) accept(ln net.Listener) {
	defer l.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("Accepting peer connection failed", "error", err)
			return
		}
		go l.greet(&engine.CountingConn{Conn: conn, Counters: l.counters()})
	}
}

func (l *PortListener) greet(conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('|')
	if err != nil {
		slog.Debug("Peer closed before handshake", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}
	nick, ok := strings.CutPrefix(strings.TrimSuffix(line, "|"), "$MyNick ")
	if !ok || l.OnPeer == nil {
		conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	l.OnPeer(nick, conn)
}

func (l *PortListener) readPackets(pc net.PacketConn) {
	defer l.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("Reading search result failed", "error", err)
			return
		}
		l.counters().AddDown(n)
		for _, res := range strings.Split(string(buf[:n]), "|") {
			if strings.HasPrefix(res, "$SR ") && l.OnResult != nil {
				l.OnResult(res)
			}
		}
	}
}

// Close releases both sockets and waits for the readers to stop.
func (l *PortListener) Close() error {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return nil
	}
	l.done = true
	ln, pc := l.ln, l.pc
	l.mu.Unlock()

	var errs []error
	if ln != nil {
		errs = append(errs, ln.Close())
	}
	if pc != nil {
		errs = append(errs, pc.Close())
	}
	l.wg.Wait()
	return errors.Join(errs...)
}
