package telephony

import (
	"context"

	"voiceconnect/internal/calls"
)

// Provider is the provider-agnostic call-origination interface.
//
// Rules:
// - No provider SDK or REST calls outside telephony adapters.
// - Keep request/response types provider-agnostic; the provider's own call
//   id is carried as an opaque string.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	OriginateCall(ctx context.Context, req OriginateRequest) (OriginateResult, error)
}

// OriginateRequest asks the gateway to dial an external address.
type OriginateRequest struct {
	// CallID is the internal call id; webhook URLs embed it so async status
	// updates find their way back to the lifecycle machine.
	CallID string `json:"call_id"`

	// To is the destination address (E.164 where possible).
	To string `json:"to"`

	// TwiMLURL serves call instructions once the far end answers.
	TwiMLURL string `json:"twiml_url"`

	// StatusCallbackURL receives async status updates.
	StatusCallbackURL string `json:"status_callback_url"`
}

type OriginateResult struct {
	// ProviderCallID is the gateway's identifier for the new call leg.
	ProviderCallID string `json:"provider_call_id"`
}

// StatusUpdate is a provider status event normalized at the adapter
// boundary.
type StatusUpdate struct {
	ProviderCallID  string `json:"provider_call_id"`
	Status          string `json:"status"`
	DurationSeconds int    `json:"duration_seconds"`
}

// MapProviderStatus translates a gateway status string onto the lifecycle
// state it should drive the call toward. Unknown statuses are dropped.
func MapProviderStatus(status string) (calls.State, bool) {
	switch status {
	case "queued", "initiated":
		return calls.StateInitiated, true
	case "ringing":
		return calls.StateRinging, true
	case "in-progress", "answered":
		return calls.StateActive, true
	case "completed":
		return calls.StateEnded, true
	case "busy", "no-answer", "failed", "canceled":
		return calls.StateFailed, true
	default:
		return "", false
	}
}
