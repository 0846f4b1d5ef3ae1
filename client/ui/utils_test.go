package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"msgr/models"
)

func TestFormatDateSeparator(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"today", now.Add(-time.Hour), "Today"},
		{"yesterday", now.AddDate(0, 0, -1), "Yesterday"},
		{"this year", time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), "January 2"},
		{"earlier year", time.Date(2022, 7, 4, 9, 0, 0, 0, time.UTC), "July 4, 2022"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatDateSeparator(tt.t, now))
		})
	}
}

func TestContactLabel(t *testing.T) {
	assert.Equal(t, "alice", contactLabel("alice", 0))
	assert.Equal(t, "bob [yellow](3)[-]", contactLabel("bob", 3))
}

func TestRenderHistory(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	entries := []models.HistoryEntry{
		{Contact: "bob", Direction: models.DirectionIn, Text: "hi", Timestamp: now.AddDate(0, 0, -1)},
		{Contact: "bob", Direction: models.DirectionOut, Text: "hello [there]", Timestamp: now.Add(-2 * time.Hour)},
		{Contact: "bob", Direction: models.DirectionIn, Text: "bye", Timestamp: now.Add(-time.Hour)},
	}

	out := renderHistory(entries, 40, now)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")

	if assert.Len(t, lines, 5) {
		assert.Contains(t, lines[0], "Yesterday")
		assert.Contains(t, lines[1], "[green]<[-] hi")
		assert.Contains(t, lines[2], "Today")
		assert.Contains(t, lines[3], "[aqua]>[-] hello [there[]")
		assert.Contains(t, lines[4], "11:00")
	}
}

func TestRenderHistoryEmpty(t *testing.T) {
	assert.Empty(t, renderHistory(nil, 80, time.Now()))
}

func TestStorePath(t *testing.T) {
	assert.Equal(t, "/tmp/data/client_alice.db3", StorePath("/tmp/data", "alice"))
}
