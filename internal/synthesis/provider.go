package synthesis

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable maps provider transport failures and 5xx responses.
	ErrUnavailable = errors.New("synthesis: provider unavailable")
	// ErrRejected maps invalid text/voice parameters (provider 4xx).
	ErrRejected = errors.New("synthesis: request rejected")
)

// Synthesizer turns text into audio bytes. Calls are not retried by the
// core; synthesis is not idempotent-cheap and retries are a caller decision.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (Audio, error)
}

// Audio is a synthesized payload plus its encoding tag. The client mixes it
// into the live media stream; this side only guarantees correct bytes.
type Audio struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mime_type"`
}

// Voice is one entry from the provider's voice catalog.
type Voice struct {
	VoiceID  string `json:"voice_id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}
