// Package request classifies the request lines that arrive on the command
// line or from a secondary instance and routes them to the right handler.
package request

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
)

// Line prefixes understood by Parse.
const (
	MagnetPrefix = "magnet:?xt=urn:tree:tiger:"
	NMDCPrefix   = "dchub://"
	ADCPrefix    = "adc://"
	ADCSPrefix   = "adcs://"
)

// UTF8 is the encoding forced on ADC hubs.
const UTF8 = "UTF-8"

// ErrBadMagnet is returned when a magnet link carries no usable hash.
var ErrBadMagnet = errors.New("request: malformed magnet link")

// Kind tells which handler a request goes to.
type Kind int

const (
	KindMagnet Kind = iota + 1
	KindHub
)

func (k Kind) String() string {
	switch k {
	case KindMagnet:
		return "magnet"
	case KindHub:
		return "hub"
	default:
		return "unknown"
	}
}

// Request is one classified line.
type Request struct {
	Kind     Kind
	Raw      string
	Address  string // hub requests only
	Encoding string // hub requests only; "" lets the session pick
}

// Parse classifies a single line. ok is false for lines that no handler
// accepts; those are ignored by the router.
func Parse(line string) (req Request, ok bool) {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, MagnetPrefix):
		return Request{Kind: KindMagnet, Raw: line}, true
	case strings.HasPrefix(line, NMDCPrefix):
		return Request{Kind: KindHub, Raw: line, Address: line}, true
	case strings.HasPrefix(line, ADCPrefix), strings.HasPrefix(line, ADCSPrefix):
		return Request{Kind: KindHub, Raw: line, Address: line, Encoding: UTF8}, true
	}
	return Request{}, false
}

// Split breaks a forwarded payload into lines, dropping empty ones.
func Split(payload string) []string {
	parts := strings.Split(payload, "\n")
	lines := parts[:0]
	for _, p := range parts {
		p = strings.TrimRight(p, "\r")
		if p == "" {
			continue
		}
		lines = append(lines, p)
	}
	return lines
}

// Magnet is the subset of a magnet link the client acts on.
type Magnet struct {
	Hash string
	Name string
	Size int64
}

// ParseMagnet extracts the TTH, display name and exact length.
func ParseMagnet(link string) (Magnet, error) {
	if !strings.HasPrefix(link, "magnet:?") {
		return Magnet{}, ErrBadMagnet
	}
	q, err := url.ParseQuery(strings.TrimPrefix(link, "magnet:?"))
	if err != nil {
		return Magnet{}, fmt.Errorf("%w: %v", ErrBadMagnet, err)
	}

	var m Magnet
	for _, xt := range q["xt"] {
		if h, ok := strings.CutPrefix(xt, "urn:tree:tiger:"); ok && h != "" {
			m.Hash = h
			break
		}
	}
	if m.Hash == "" {
		return Magnet{}, ErrBadMagnet
	}
	m.Name = q.Get("dn")
	if xl := q.Get("xl"); xl != "" {
		if m.Size, err = strconv.ParseInt(xl, 10, 64); err != nil || m.Size < 0 {
			return Magnet{}, fmt.Errorf("%w: bad size %q", ErrBadMagnet, xl)
		}
	}
	return m, nil
}

// Handlers receive routed requests. Either may be nil.
type Handlers struct {
	OpenHub    func(address, encoding string)
	OpenMagnet func(link string)
}

// Router dispatches request lines to Handlers.
type Router struct {
	Handlers
}

// NewRouter returns a router over h.
func NewRouter(h Handlers) *Router {
	return &Router{Handlers: h}
}

// Dispatch routes each line and reports how many were handled.
func (r *Router) Dispatch(lines []string) int {
	handled := 0
	for _, line := range lines {
		if r.Route(line) {
			handled++
		}
	}
	return handled
}

// Route handles a single line.
func (r *Router) Route(line string) bool {
	req, ok := Parse(line)
	if !ok {
		slog.Debug("Ignoring request line", "line", line)
		return false
	}
	switch req.Kind {
	case KindMagnet:
		if r.OpenMagnet == nil {
			return false
		}
		r.OpenMagnet(req.Raw)
	case KindHub:
		if r.OpenHub == nil {
			return false
		}
		r.OpenHub(req.Address, req.Encoding)
	}
	return true
}
