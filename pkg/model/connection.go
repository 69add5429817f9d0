package model

import "time"

// Connection is one live transport session. Exactly one record exists per
// open socket; it is removed on disconnect or reclaimed by expiry when a
// disconnect never arrives.
type Connection struct {
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	ConnectedAt  time.Time `json:"connectedAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Expired reports whether the record is logically absent at the given
// instant, even if it has not been physically removed yet.
func (c Connection) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}
