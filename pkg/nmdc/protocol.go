// Package nmdc is a minimal NMDC hub client implementing engine.Client.
package nmdc

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is used when a hub address carries no port.
const DefaultPort = 411

var (
	escaper   = strings.NewReplacer("&", "&amp;", "|", "&#124;", "$", "&#36;")
	unescaper = strings.NewReplacer("&#124;", "|", "&#36;", "$", "&amp;", "&")
)

// Escape encodes text for use inside an NMDC command.
func Escape(s string) string { return escaper.Replace(s) }

// Unescape reverts Escape.
func Unescape(s string) string { return unescaper.Replace(s) }

// HostPort extracts the dialable host:port from a hub address such as
// dchub://example.org:411 or example.org.
func HostPort(address string) (string, error) {
	rest := address
	if i := strings.Index(rest, "://"); i >= 0 {
		scheme := strings.ToLower(rest[:i])
		if scheme != "dchub" && scheme != "nmdc" {
			return "", fmt.Errorf("%w: %s", errUnsupported, scheme)
		}
		rest = rest[i+3:]
	}
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" {
		return "", fmt.Errorf("empty hub address")
	}
	if _, _, err := net.SplitHostPort(rest); err != nil {
		return net.JoinHostPort(rest, strconv.Itoa(DefaultPort)), nil
	}
	return rest, nil
}

// LockToKey computes the $Key answer for a $Lock challenge.
func LockToKey(lock string) string {
	l := []byte(lock)
	n := len(l)
	if n < 3 {
		return ""
	}
	key := make([]byte, n)
	for i := 1; i < n; i++ {
		key[i] = l[i] ^ l[i-1]
	}
	key[0] = l[0] ^ l[n-1] ^ l[n-2] ^ 5
	for i := range key {
		key[i] = (key[i] << 4) | (key[i] >> 4)
	}

	var b strings.Builder
	for _, c := range key {
		switch c {
		case 0, 5, 36, 96, 124, 126:
			fmt.Fprintf(&b, "/%%DCN%03d%%/", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// command splits a raw command into its name and argument string.
func command(raw string) (name, args string) {
	if !strings.HasPrefix(raw, "$") {
		return "", raw
	}
	name, args, _ = strings.Cut(raw, " ")
	return name, args
}

// parseMyINFO decodes "$ALL nick description<tag>$ $conn\x01$email$share$".
func parseMyINFO(args string) (nick, desc, email string, share int64, ok bool) {
	rest, found := strings.CutPrefix(args, "$ALL ")
	if !found {
		return "", "", "", 0, false
	}
	nick, rest, found = strings.Cut(rest, " ")
	if !found || nick == "" {
		return "", "", "", 0, false
	}
	fields := strings.Split(rest, "$")
	if len(fields) > 0 {
		desc = fields[0]
		if i := strings.Index(desc, "<"); i >= 0 {
			desc = desc[:i]
		}
	}
	if len(fields) > 3 {
		email = fields[3]
	}
	if len(fields) > 4 {
		share, _ = strconv.ParseInt(fields[4], 10, 64)
	}
	return nick, desc, email, share, true
}

// parsePrivate decodes "<to> From: <from> $<<from>> text".
func parsePrivate(args string) (to, from, text string, ok bool) {
	to, rest, found := strings.Cut(args, " From: ")
	if !found {
		return "", "", "", false
	}
	from, rest, found = strings.Cut(rest, " $")
	if !found {
		return "", "", "", false
	}
	_, text, found = strings.Cut(rest, "> ")
	if !found {
		return "", "", "", false
	}
	return to, from, text, true
}

// parseChat decodes "<nick> text".
func parseChat(raw string) (nick, text string, ok bool) {
	if !strings.HasPrefix(raw, "<") {
		return "", "", false
	}
	nick, text, ok = strings.Cut(raw[1:], "> ")
	return nick, text, ok
}
