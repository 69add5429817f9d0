package model

// Actions exchanged over the websocket as {"action": ...} frames.
const (
	ActionSendMessage = "sendMessage"
	ActionGetMessages = "getMessages"
	ActionSent        = "sent"
	ActionMessages    = "messages"
	ActionNewMessage  = "newMessage"
	ActionError       = "error"
)

// Error codes carried in ErrorPush.Code.
const (
	CodeValidation  = "validation"
	CodeNotFound    = "not_found"
	CodeRateLimited = "rate_limited"
	CodeServerError = "server_error"
)

// ClientRequest is a frame sent by the client. Message is only meaningful
// for sendMessage; Limit only for getMessages.
type ClientRequest struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// SentAck confirms a stored submission back to the sender.
type SentAck struct {
	Action    string `json:"action"`
	MessageID string `json:"messageId"`
	Timestamp string `json:"timestamp"`
}

// MessagesPush carries a room history result, oldest first.
type MessagesPush struct {
	Action   string    `json:"action"`
	Messages []Message `json:"messages"`
}

// NewMessagePush carries one freshly stored message to a recipient.
type NewMessagePush struct {
	Action  string  `json:"action"`
	Message Message `json:"message"`
}

// ErrorPush reports a request failure to the offending connection.
type ErrorPush struct {
	Action  string `json:"action"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
