package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-isatty"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"

	"github.com/wesm/tempmail/internal/mailtm"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	unreadStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#005f87", Dark: "#5fd7ff"})
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#999999"})
	newStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#996600", Dark: "#ffcc00"})
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#cc0000", Dark: "#ff5f5f"})
	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.AdaptiveColor{Light: "#008700", Dark: "#5fd75f"})
)

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// painter applies lipgloss styles only when writing to a terminal and
// NO_COLOR or CLICOLOR=0 are not set.
type painter struct {
	color bool
}

func newPainter(f *os.File) painter {
	return painter{color: isTerminal(f) && !termenv.EnvNoColor()}
}

func (p painter) paint(style lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return style.Render(s)
}

// padRight pads a string with spaces to fill width terminal cells.
// Uses lipgloss.Width to correctly handle ANSI codes and full-width characters.
func padRight(s string, width int) string {
	sw := lipgloss.Width(s)
	if sw >= width {
		return ansi.Truncate(s, width, "")
	}
	return s + strings.Repeat(" ", width-sw)
}

// truncateRunes truncates a string to fit within maxWidth terminal cells,
// flattening newlines and tabs first so a row stays on one line.
func truncateRunes(s string, maxWidth int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\t", " ")

	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// formatAge renders t relative to now ("just now", "5m ago", "3h ago"),
// falling back to a date for anything older than a day.
func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Local().Format("2006-01-02")
	}
}

const (
	colFrom    = 28
	colSubject = 44
	colAge     = 10
)

// writeMessageTable prints one row per message, newest first.
func writeMessageTable(w io.Writer, p painter, msgs []mailtm.Message, now time.Time) {
	fmt.Fprintln(w, p.paint(headerStyle, "  "+padRight("FROM", colFrom)+"  "+padRight("SUBJECT", colSubject)+"  "+padRight("AGE", colAge)+"  ID"))
	for _, m := range msgs {
		fmt.Fprintln(w, messageRow(p, m, now, false))
	}
}

// messageRow renders one message. Unread messages are marked with '*';
// isNew highlights arrivals in watch mode.
func messageRow(p painter, m mailtm.Message, now time.Time, isNew bool) string {
	marker := "  "
	if !m.Read {
		marker = "* "
	}
	row := padRight(truncateRunes(m.From, colFrom), colFrom) + "  " +
		padRight(truncateRunes(m.Subject, colSubject), colSubject) + "  " +
		padRight(formatAge(m.Date, now), colAge)

	switch {
	case isNew:
		row = p.paint(newStyle, row)
	case !m.Read:
		row = p.paint(unreadStyle, row)
	}
	return marker + row + "  " + p.paint(dimStyle, m.ID)
}

// writeJSON pretty-prints v to stdout.
func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
