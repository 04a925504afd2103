package instance

import (
	"os"
	"runtime"
	"unicode/utf16"
)

const (
	// PortBase is added to the high bits of the user hash.
	PortBase = 4098
	// FallbackPort is used where no user identity is available.
	FallbackPort = 33561
)

// Port derives the loopback port for user. Every instance started by the
// same user computes the same value.
func Port(user string) int {
	return int(stableHash(user)>>16) + PortBase
}

// PortForCurrentUser reads $USER, falling back to FallbackPort on Windows
// or when the variable is unset.
func PortForCurrentUser() int {
	if runtime.GOOS == "windows" {
		return FallbackPort
	}
	user := os.Getenv("USER")
	if user == "" {
		return FallbackPort
	}
	return Port(user)
}

// stableHash is the classic ELF-style string hash over UTF-16 code units.
// Existing installations derive their port from it, so it must not change.
func stableHash(s string) uint32 {
	var h uint32
	for _, u := range utf16.Encode([]rune(s)) {
		h = h<<4 + uint32(u)
		g := h & 0xf0000000
		if g != 0 {
			h ^= g >> 23
		}
		h &^= g
	}
	return h
}
