package ui

import (
	"maps"
	"time"

	"github.com/rescp17/dcdesk/internal/hub"
	"github.com/rescp17/dcdesk/internal/notify"
	"github.com/rescp17/dcdesk/internal/request"
	"github.com/rescp17/dcdesk/pkg/discovery"
	"github.com/rescp17/dcdesk/pkg/engine"
)

const (
	maxWarnings = 5
	maxNotices  = 5
)

// Warning is a message the user has to acknowledge.
type Warning struct {
	Title string
	Text  string
	At    time.Time
}

// FileList is a downloaded file list waiting to be browsed.
type FileList struct {
	User   string
	File   string
	JumpTo string
}

// Screen holds what the display shows besides the registry itself. It is
// mutated only on the consumer context, by deferred calls and by the
// model's Update, so it needs no lock.
type Screen struct {
	status    string
	stats     map[string]string
	warnings  []Warning
	lanHubs   []discovery.Hub
	fileLists []FileList
	magnets   []request.Magnet

	focus     string
	hubsDirty bool
	chatDirty bool
	now       func() time.Time
}

var (
	_ notify.Display = (*Screen)(nil)
	_ hub.Observer   = (*Screen)(nil)
)

// NewScreen returns an empty screen.
func NewScreen() *Screen {
	return &Screen{stats: map[string]string{}, now: time.Now}
}

func (s *Screen) SetStatusMessage(text string) {
	s.status = text
}

func (s *Screen) UpdateStatistics(labels map[string]string) {
	s.stats = maps.Clone(labels)
}

func (s *Screen) ShowFileBrowser(user, file, jumpTo string) {
	s.fileLists = appendBounded(s.fileLists, FileList{User: user, File: file, JumpTo: jumpTo}, maxNotices)
}

func (s *Screen) ShowWarning(title, text string) {
	s.warnings = appendBounded(s.warnings, Warning{Title: title, Text: text, At: s.now()}, maxWarnings)
}

func (s *Screen) ShowDiscoveredHubs(hubs []discovery.Hub) {
	s.lanHubs = hubs
	s.hubsDirty = true
}

// ShowMagnet records a magnet link handed to the client.
func (s *Screen) ShowMagnet(m request.Magnet) {
	s.magnets = appendBounded(s.magnets, m, maxNotices)
}

func (s *Screen) SessionAdded(sess *hub.Session) {
	s.focus = sess.Address
	s.hubsDirty = true
}

func (s *Screen) SessionChanged(*hub.Session) {
	s.hubsDirty = true
}

func (s *Screen) SessionRemoved(*hub.Session) {
	s.hubsDirty = true
}

func (s *Screen) ChatReceived(*hub.Session, engine.ChatMessage) {
	s.chatDirty = true
}

// Focus asks the view to bring the hub at address to front.
func (s *Screen) Focus(address string) {
	s.focus = address
}

// takeFocus returns and clears a pending focus request.
func (s *Screen) takeFocus() (string, bool) {
	f := s.focus
	s.focus = ""
	return f, f != ""
}

func (s *Screen) Status() string                  { return s.status }
func (s *Screen) Stats() map[string]string        { return s.stats }
func (s *Screen) Warnings() []Warning             { return s.warnings }
func (s *Screen) DiscoveredHubs() []discovery.Hub { return s.lanHubs }
func (s *Screen) FileLists() []FileList           { return s.fileLists }
func (s *Screen) Magnets() []request.Magnet       { return s.magnets }

// DismissWarnings clears the warning list.
func (s *Screen) DismissWarnings() {
	s.warnings = nil
}

func appendBounded[T any](list []T, v T, limit int) []T {
	list = append(list, v)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}
