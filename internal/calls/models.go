package calls

import "time"

// Call is the central session entity, owned by the Manager for the duration
// of its life. Relays and the voice-injection channel hold snapshots only.
//
// Recipient invariant: exactly one of RecipientID and RecipientAddress is set
// at creation and neither changes afterwards.
type Call struct {
	CallID      string `json:"call_id" db:"call_id"`
	InitiatorID string `json:"initiator_id" db:"initiator_id"`

	// RecipientID is set for direct-peer calls; RecipientAddress for
	// gateway-routed calls (E.164 where possible).
	RecipientID      string `json:"recipient_id,omitempty" db:"recipient_id"`
	RecipientAddress string `json:"recipient_address,omitempty" db:"recipient_address"`

	Kind  Kind  `json:"kind" db:"kind"`
	State State `json:"state" db:"state"`

	// ProviderCallID is the gateway's identifier for gateway-routed calls.
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	VoiceID          string `json:"voice_id,omitempty" db:"voice_id"`
	RecordingEnabled bool   `json:"recording_enabled" db:"recording_enabled"`

	// DurationSeconds is EndedAt-StartedAt, and stays 0 for calls that never
	// reached active.
	DurationSeconds int `json:"duration" db:"duration"`

	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

type Kind string

const (
	KindDirectPeer Kind = "direct_peer"
	KindGateway    Kind = "gateway"
)

type State string

const (
	StateInitiated State = "initiated"
	StateRinging   State = "ringing"
	StateActive    State = "active"
	StateEnded     State = "ended"
	StateFailed    State = "failed"
)

// Terminal reports whether the state admits no outgoing transitions.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// Party reports whether identity is either side of the call.
func (c Call) Party(identity string) bool {
	return c.InitiatorID == identity || c.RecipientID == identity
}

// Other returns the opposite party's identity, empty for gateway calls.
func (c Call) Other(identity string) string {
	if c.InitiatorID == identity {
		return c.RecipientID
	}
	if c.RecipientID == identity {
		return c.InitiatorID
	}
	return ""
}
