package protocol

import "time"

// ChatMessage is one message in a ticket's chat, as delivered both by
// the chat websocket and by the full-log fetch.
type ChatMessage struct {
	UserID       int       `json:"user_id"`
	IsPrivileged bool      `json:"is_privileged"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
}

// ChatSend is the frame a client writes to the chat websocket.
type ChatSend struct {
	Message string `json:"message"`
}
