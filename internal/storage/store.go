package storage

import (
	"context"
	"errors"
	"time"

	"voiceconnect/internal/calls"
	"voiceconnect/internal/messaging"
	"voiceconnect/internal/voiceinject"
)

var (
	// ErrStorageUnavailable wraps any infrastructure failure. Callers other
	// than the messaging relay treat it as a warning and keep going.
	ErrStorageUnavailable = errors.New("storage: unavailable")
	ErrNotFound           = errors.New("storage: not found")
)

// User is the minimal identity record the core needs; profile management
// lives elsewhere.
type User struct {
	ID          string    `json:"id" db:"id"`
	Email       string    `json:"email,omitempty" db:"email"`
	DisplayName string    `json:"display_name,omitempty" db:"display_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Store is the persistence collaborator consumed by the core. Every method
// is a fallible remote call; implementations report infrastructure failures
// as ErrStorageUnavailable so callers can distinguish them from ErrNotFound.
type Store interface {
	CreateCall(ctx context.Context, c calls.Call) error
	UpdateCall(ctx context.Context, id string, u calls.Update) error
	GetCall(ctx context.Context, id string) (calls.Call, error)
	ListCallHistory(ctx context.Context, identity string, limit int) ([]calls.Call, error)

	SaveMessage(ctx context.Context, m messaging.Message) error
	MarkMessageRead(ctx context.Context, messageID, readerID string) (messaging.Message, error)
	GetRecentMessages(ctx context.Context, identity string, limit int) ([]messaging.Message, error)

	AddInjectionEvent(ctx context.Context, e voiceinject.Event) error

	GetUser(ctx context.Context, id string) (User, error)
}
