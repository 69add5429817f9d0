package model

import "time"

// Message is one chat utterance. Immutable once stored; the username is a
// snapshot of the sender's identity at send time and is never re-resolved.
type Message struct {
	MessageID string    `json:"messageId"`
	RoomID    string    `json:"roomId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultRoom is used whenever a request omits roomId.
const DefaultRoom = "general"
