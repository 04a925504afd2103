// Package ui is the terminal front end. Its bubbletea Update loop is the
// consumer context: every deferred call posted by the engine side is
// executed there, one at a time.
package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rescp17/dcdesk/internal/hub"
	"github.com/rescp17/dcdesk/internal/request"
	"github.com/rescp17/dcdesk/internal/stats"
	"github.com/rescp17/dcdesk/pkg/dispatch"
)

const (
	defaultWidth = 100
	chatHeight   = 12
	passwordVerb = "/pass "
)

var lanColumns = []table.Column{
	{Title: "Name", Width: 24},
	{Title: "Address", Width: 30},
	{Title: "Description", Width: 30},
}

// Model is the bubbletea model of the client.
type Model struct {
	ctx      context.Context
	queue    *dispatch.Queue
	screen   *Screen
	registry *hub.Registry
	router   *request.Router

	input   textinput.Model
	chat    viewport.Model
	spinner spinner.Model
	lan     table.Model

	active     string // address of the hub tab in front
	lanFocused bool
	width      int
}

// New builds the model. The queue is drained by Update until ctx is done
// or the queue is closed.
func New(ctx context.Context, q *dispatch.Queue, screen *Screen, registry *hub.Registry, router *request.Router) Model {
	ti := textinput.New()
	ti.Placeholder = "dchub://address, magnet link, chat text or /pass <password>"
	ti.CharLimit = 1024
	ti.Focus()

	t := table.New(
		table.WithColumns(lanColumns),
		table.WithRows([]table.Row{}),
		table.WithHeight(0),
	)
	t.SetStyles(newTableStyles())

	return Model{
		ctx:      ctx,
		queue:    q,
		screen:   screen,
		registry: registry,
		router:   router,
		input:    ti,
		chat:     viewport.New(defaultWidth, chatHeight),
		spinner:  newSpinner(),
		lan:      t,
		width:    defaultWidth,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(dispatch.WaitEnvelope(m.ctx, m.queue), m.spinner.Tick, textinput.Blink)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case dispatch.Envelope:
		m.queue.Execute(msg.Call)
		m.sync()
		return m, dispatch.WaitEnvelope(m.ctx, m.queue)

	case dispatch.ClosedMsg:
		slog.Info("Event queue stopped, leaving", "reason", msg.Err)
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.chat.Width = msg.Width
		if h := msg.Height - 16; h > 3 {
			m.chat.Height = h
		}
		m.input.Width = msg.Width - 4
		m.sync()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.cycle(1)
			return m, nil
		case "shift+tab":
			m.cycle(-1)
			return m, nil
		case "ctrl+w":
			m.closeActive()
			return m, nil
		case "ctrl+r":
			m.reconnectActive()
			return m, nil
		case "ctrl+l":
			m.toggleLAN()
			return m, nil
		case "esc":
			m.screen.DismissWarnings()
			return m, nil
		case "enter":
			if m.lanFocused {
				m.connectSelectedLAN()
			} else {
				m.submit(m.input.Value())
				m.input.SetValue("")
			}
			m.sync()
			return m, nil
		}
	}

	var cmd tea.Cmd
	if m.lanFocused {
		m.lan, cmd = m.lan.Update(msg)
	} else {
		m.input, cmd = m.input.Update(msg)
	}
	cmds = append(cmds, cmd)

	m.chat, cmd = m.chat.Update(msg)
	cmds = append(cmds, cmd)
	m.spinner, cmd = m.spinner.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// sync reconciles view state after the registry or screen changed.
func (m *Model) sync() {
	if addr, ok := m.screen.takeFocus(); ok {
		if _, exists := m.registry.Get(addr); exists {
			m.active = addr
			m.screen.chatDirty = true
		}
	}
	if _, ok := m.registry.Get(m.active); !ok {
		m.active = ""
		if sessions := m.registry.Sessions(); len(sessions) > 0 {
			m.active = sessions[0].Address
		}
		m.screen.chatDirty = true
	}
	if m.screen.hubsDirty {
		m.refreshLAN()
		m.screen.hubsDirty = false
	}
	if m.screen.chatDirty {
		m.refreshChat()
		m.screen.chatDirty = false
	}
}

func (m *Model) refreshLAN() {
	hubs := m.screen.DiscoveredHubs()
	rows := make([]table.Row, 0, len(hubs))
	for _, h := range hubs {
		rows = append(rows, table.Row{h.Name, h.Address(), h.Description})
	}
	m.lan.SetRows(rows)
	m.lan.SetHeight(len(rows) + 1)
}

func (m *Model) refreshChat() {
	s, ok := m.registry.Get(m.active)
	if !ok {
		m.chat.SetContent("")
		return
	}
	var b strings.Builder
	for _, msg := range s.Chat() {
		from := nickStyle.Render("<" + msg.From + ">")
		if msg.Private {
			from = nickStyle.Render("*" + msg.From + "*")
		}
		fmt.Fprintf(&b, "%s %s %s\n", msg.At.Format("15:04"), from, msg.Text)
	}
	m.chat.SetContent(b.String())
	m.chat.GotoBottom()
}

func (m *Model) cycle(step int) {
	sessions := m.registry.Sessions()
	if len(sessions) == 0 {
		return
	}
	idx := 0
	for i, s := range sessions {
		if s.Address == m.active {
			idx = i
			break
		}
	}
	idx = (idx + step + len(sessions)) % len(sessions)
	m.active = sessions[idx].Address
	m.refreshChat()
}

func (m *Model) closeActive() {
	if m.active == "" {
		return
	}
	m.registry.Disconnect(m.active)
	m.sync()
}

func (m *Model) reconnectActive() {
	if m.active == "" {
		return
	}
	err := m.registry.Reconnect(m.active)
	switch {
	case errors.Is(err, hub.ErrThrottled):
		m.screen.ShowWarning("Reconnect", "Too many reconnect attempts, wait a moment")
	case err != nil:
		m.screen.ShowWarning("Reconnect failed", err.Error())
	}
}

func (m *Model) toggleLAN() {
	m.lanFocused = !m.lanFocused
	if m.lanFocused {
		m.input.Blur()
		m.lan.Focus()
	} else {
		m.lan.Blur()
		m.input.Focus()
	}
}

func (m *Model) connectSelectedLAN() {
	hubs := m.screen.DiscoveredHubs()
	i := m.lan.Cursor()
	if i < 0 || i >= len(hubs) {
		return
	}
	m.router.Route(hubs[i].Address())
}

// submit handles a line typed into the input.
func (m *Model) submit(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if pw, ok := strings.CutPrefix(line, passwordVerb); ok {
		if err := m.registry.SubmitPassword(m.active, pw); err != nil {
			m.screen.ShowWarning("Password", err.Error())
		}
		return
	}
	if m.router.Route(line) {
		return
	}
	s, ok := m.registry.Get(m.active)
	if !ok || s.State != hub.StateConnected {
		m.screen.ShowWarning("Not connected", "Open a hub with dchub://address first")
		return
	}
	if err := s.Client.Send(line); err != nil {
		m.screen.ShowWarning("Send failed", err.Error())
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("dcdesk") + " " + m.tabsView() + "\n")
	b.WriteString(m.sessionView())
	b.WriteString(m.chat.View() + "\n")
	b.WriteString(m.input.View() + "\n")

	if rows := m.lan.Rows(); len(rows) > 0 {
		title := "LAN hubs"
		if m.lanFocused {
			title += " (enter to connect, ctrl+l to leave)"
		}
		b.WriteString("\n" + titleStyle.Render(title) + "\n")
		b.WriteString(boxStyle.Render(m.lan.View()) + "\n")
	}
	for _, fl := range m.screen.FileLists() {
		line := fmt.Sprintf("File list of %s ready: %s", fl.User, fl.File)
		if fl.JumpTo != "" {
			line += " (" + fl.JumpTo + ")"
		}
		b.WriteString(fit(line, m.width) + "\n")
	}
	for _, mg := range m.screen.Magnets() {
		b.WriteString(fit(fmt.Sprintf("Magnet: %s (%s) %s", mg.Name, stats.FormatBytes(mg.Size), mg.Hash), m.width) + "\n")
	}
	for _, w := range m.screen.Warnings() {
		b.WriteString(warningStyle.Render(fit(w.Title+": "+w.Text, m.width)) + "\n")
	}

	b.WriteString(fit(m.screen.Status(), m.width) + "\n")
	b.WriteString(statusBarStyle.Render(fit(m.statsLine(), m.width)) + "\n")
	b.WriteString(helpStyle.Render("tab switch hub • ctrl+w close • ctrl+r reconnect • ctrl+l LAN hubs • esc dismiss • ctrl+c quit"))
	return b.String()
}

func (m Model) tabsView() string {
	sessions := m.registry.Sessions()
	if len(sessions) == 0 {
		return tabStyle.Render("no hubs")
	}
	tabs := make([]string, 0, len(sessions))
	for _, s := range sessions {
		label := fit(s.Title(), 24)
		if s.Address == m.active {
			tabs = append(tabs, activeTabStyle.Render(label))
		} else {
			tabs = append(tabs, tabStyle.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m Model) sessionView() string {
	s, ok := m.registry.Get(m.active)
	if !ok {
		return "\n"
	}
	var state string
	switch s.State {
	case hub.StateConnecting:
		state = m.spinner.View() + " connecting"
	case hub.StateConnected:
		state = connectedStyle.Render("connected")
	default:
		state = warningStyle.Render(s.State.String())
	}
	head := fmt.Sprintf("%s  %s  %s users", s.Address, state, strconv.Itoa(s.UserCount()))
	out := fit(head, m.width) + "\n"
	if s.Topic != "" {
		out += topicStyle.Render(fit(s.Topic, m.width)) + "\n"
	}
	if s.Status != "" {
		out += fit(s.Status, m.width) + "\n"
	}
	return out
}

func (m Model) statsLine() string {
	st := m.screen.Stats()
	if len(st) == 0 {
		return ""
	}
	return fmt.Sprintf("Hubs %s  Down %s (%s)  Up %s (%s)",
		st[stats.LabelHubs], st[stats.LabelDown], st[stats.LabelDownSpeed], st[stats.LabelUp], st[stats.LabelUpSpeed])
}
