package notifications

import "strings"

// Payload is one desktop notification about the rover link.
type Payload struct {
	Title   string
	Content string
}

// Normalize trims both fields and reports whether anything is left to show.
func (p Payload) Normalize() (Payload, bool) {
	p.Title = strings.TrimSpace(p.Title)
	p.Content = strings.TrimSpace(p.Content)

	return p, p.Title != "" || p.Content != ""
}

// Sender delivers payloads without blocking the caller on the backend.
type Sender interface {
	Send(payload Payload)
}
