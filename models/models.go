package models

import "time"

type User struct {
	ID          int64     `json:"id"`
	Login       string    `json:"login"`
	LastConnect time.Time `json:"last_connect"`
}

type ActiveUser struct {
	Login       string    `json:"login"`
	IP          string    `json:"ip"`
	Port        int       `json:"port"`
	ConnectedAt time.Time `json:"connected_at"`
}

type LoginRecord struct {
	Login string    `json:"login"`
	Time  time.Time `json:"time"`
	IP    string    `json:"ip"`
	Port  int       `json:"port"`
}

// MessageStats counts messages a user sent and had routed to them.
type MessageStats struct {
	Login    string `json:"login"`
	Sent     int    `json:"sent"`
	Accepted int    `json:"accepted"`
}

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// HistoryEntry is a message kept in the client-side store.
type HistoryEntry struct {
	ID        int64
	Contact   string
	Direction Direction
	Text      string
	Timestamp time.Time
}
