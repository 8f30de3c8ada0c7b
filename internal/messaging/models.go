package messaging

import "time"

// Message is one persisted chat message. Forwarding happens only after the
// row is durable, so a delivered message:received always has a stored copy.
type Message struct {
	ID          string    `json:"id" db:"id"`
	SenderID    string    `json:"sender_id" db:"sender_id"`
	RecipientID string    `json:"recipient_id" db:"recipient_id"`
	Content     string    `json:"content" db:"content"`
	Type        Type      `json:"type" db:"type"`
	Read        bool      `json:"is_read" db:"is_read"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

type Type string

const (
	TypeText  Type = "text"
	TypeAudio Type = "audio"
	TypeFile  Type = "file"
)

func (t Type) Valid() bool {
	switch t {
	case TypeText, TypeAudio, TypeFile:
		return true
	default:
		return false
	}
}
