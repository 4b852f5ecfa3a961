package model

import "time"

// User stores Telegram user metadata and request counters.
type User struct {
	ID            int64
	Username      string
	LastSeen      time.Time
	TotalRequests int64
	LastReport    Report
}

// DisplayName returns "@username" when known, otherwise the numeric id.
func (u User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return formatID(u.ID)
}
