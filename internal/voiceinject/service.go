package voiceinject

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"voiceconnect/internal/calls"
	"voiceconnect/internal/synthesis"

	"github.com/google/uuid"
)

var (
	ErrCallNotActive = errors.New("voiceinject: call is not active")
	ErrInvalidText   = errors.New("voiceinject: text is required")
)

// Repository is the persistence contract for injection events.
// It MUST be append-only; no Update/Delete methods are provided.
type Repository interface {
	AddInjectionEvent(ctx context.Context, e Event) error
}

// CallStates is the slice of the call manager the service needs.
type CallStates interface {
	Get(id string) (calls.Call, bool)
}

// Service synthesizes narration and ties it to a verified-active call.
// Mixing the audio into the peer's media stream is a client-side concern;
// this service guarantees correct synthesis and an audit trail only.
//
// Concurrent injections against one call are independent and unordered.
type Service struct {
	states CallStates
	synth  synthesis.Synthesizer
	repo   Repository
	clock  func() time.Time
	log    *slog.Logger
}

func NewService(states CallStates, synth synthesis.Synthesizer, repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{states: states, synth: synth, repo: repo, clock: time.Now, log: log}
}

// Result is a completed injection: the audio payload, its encoding tag, and
// the audit event that was appended for it.
type Result struct {
	Event Event           `json:"event"`
	Audio synthesis.Audio `json:"audio"`
}

// Inject synthesizes text against a call that must be active. Provider
// failures surface as synthesis.ErrUnavailable/ErrRejected and are never
// retried here. On success exactly one audit event is appended.
func (s *Service) Inject(ctx context.Context, callID, text, voiceID string) (Result, error) {
	if text == "" {
		return Result{}, ErrInvalidText
	}

	call, ok := s.states.Get(callID)
	if !ok {
		return Result{}, calls.ErrUnknownCall
	}
	if call.State != calls.StateActive {
		return Result{}, ErrCallNotActive
	}
	if voiceID == "" {
		voiceID = call.VoiceID
	}

	audio, err := s.synth.Synthesize(ctx, text, voiceID)
	if err != nil {
		return Result{}, err
	}

	ev := Event{
		ID:      uuid.NewString(),
		CallID:  call.CallID,
		Text:    text,
		VoiceID: voiceID,
		SentAt:  s.clock().UTC(),
	}
	if err := s.repo.AddInjectionEvent(ctx, ev); err != nil {
		s.log.Warn("injection event not persisted", "call_id", call.CallID, "err", err)
	}
	return Result{Event: ev, Audio: audio}, nil
}
