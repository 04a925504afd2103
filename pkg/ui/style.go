package ui

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

var (
	colorPink      = lipgloss.Color("205")
	colorDarkGray  = lipgloss.Color("240")
	colorLightGray = lipgloss.Color("229")
	colorBlue      = lipgloss.Color("57")
	colorCyan      = lipgloss.Color("212")
	colorPurple    = lipgloss.Color("99")
	colorRed       = lipgloss.Color("196")
	colorGreen     = lipgloss.Color("42")
)

var (
	tabStyle       = lipgloss.NewStyle().Padding(0, 1).Foreground(colorDarkGray)
	activeTabStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).Foreground(colorLightGray).Background(colorBlue)
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorPink)
	topicStyle     = lipgloss.NewStyle().Foreground(colorPurple)
	nickStyle      = lipgloss.NewStyle().Foreground(colorCyan)
	connectedStyle = lipgloss.NewStyle().Foreground(colorGreen)
	warningStyle   = lipgloss.NewStyle().Foreground(colorRed)
	boxStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(colorDarkGray)
	statusBarStyle = lipgloss.NewStyle().Foreground(colorLightGray).Background(colorDarkGray)
	helpStyle      = lipgloss.NewStyle().Faint(true)
)

func newSpinner() spinner.Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(colorPink)
	return s
}

func newTableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Selected = styles.Selected.Foreground(colorLightGray).Background(colorBlue).Bold(false)
	return styles
}

// fit cuts s to width terminal cells.
func fit(s string, width int) string {
	if width <= 0 {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
