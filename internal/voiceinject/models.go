package voiceinject

import "time"

// Event is an immutable, append-only audit record of one injection.
//
// Invariants:
// - Events are never updated or deleted.
// - Appending is best-effort; narration availability wins over audit
//   durability when storage is down.
type Event struct {
	ID      string    `json:"id" db:"id"`
	CallID  string    `json:"call_id" db:"call_id"`
	Text    string    `json:"text" db:"text"`
	VoiceID string    `json:"voice_id,omitempty" db:"voice_id"`
	SentAt  time.Time `json:"sent_at" db:"sent_at"`
}
