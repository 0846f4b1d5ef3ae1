package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"msgr/models"
)

// formatDateSeparator labels the day of t relative to now.
func formatDateSeparator(t, now time.Time) string {
	t = t.In(now.Location())
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, now.Location())

	switch {
	case day.Equal(today):
		return "Today"
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	case day.Year() == now.Year():
		return t.Format("January 2")
	default:
		return t.Format("January 2, 2006")
	}
}

func contactLabel(name string, unread int) string {
	if unread > 0 {
		return fmt.Sprintf("%s [yellow](%d)[-]", tview.Escape(name), unread)
	}
	return tview.Escape(name)
}

// renderHistory formats entries as tview text with a centered separator
// line whenever the day changes.
func renderHistory(entries []models.HistoryEntry, width int, now time.Time) string {
	var sb strings.Builder
	var lastDay string

	for _, e := range entries {
		ts := e.Timestamp.In(now.Location())
		// Insert date separator when date changes
		if day := ts.Format("2006-01-02"); day != lastDay {
			lastDay = day
			sb.WriteString(separator(formatDateSeparator(ts, now), width))
			sb.WriteByte('\n')
		}

		// Outgoing = aqua, Incoming = green
		who, color := "<", "green"
		if e.Direction == models.DirectionOut {
			who, color = ">", "aqua"
		}
		fmt.Fprintf(&sb, "[gray]%s[-] [%s]%s[-] %s\n", ts.Format("15:04"), color, who, tview.Escape(e.Text))
	}
	return sb.String()
}

func separator(label string, width int) string {
	// Center the date label
	label = " " + label + " "
	pad := (width - len([]rune(label))) / 2
	if pad < 3 {
		pad = 3
	}
	line := strings.Repeat("─", pad)
	return "[gray]" + line + label + line + "[-]"
}
