package messaging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"voiceconnect/internal/presence"
	"voiceconnect/internal/wire"

	"github.com/google/uuid"
)

var (
	ErrNotAuthenticated = errors.New("messaging: connection not authenticated")
	ErrInvalidMessage   = errors.New("messaging: invalid message")
)

// Store is the persistence contract for the relay.
type Store interface {
	SaveMessage(ctx context.Context, m Message) error
	MarkMessageRead(ctx context.Context, messageID, readerID string) (Message, error)
}

// Relay fans chat events out to a recipient's live connections. Message
// sends persist before any forwarding; typing and read-receipt events are
// stateless fan-out.
type Relay struct {
	registry *presence.Registry
	store    Store
	clock    func() time.Time
	log      *slog.Logger
}

func NewRelay(registry *presence.Registry, store Store, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{registry: registry, store: store, clock: time.Now, log: log}
}

// Send persists the message and, only then, forwards it. A storage failure
// means nothing is forwarded and the sender gets the error.
func (r *Relay) Send(ctx context.Context, from presence.Conn, req wire.SendMessageRequest) ([]presence.Outbound, error) {
	sender, ok := r.registry.Identity(from.ID())
	if !ok {
		return nil, ErrNotAuthenticated
	}
	if req.RecipientID == "" || req.Content == "" {
		return nil, ErrInvalidMessage
	}
	typ := Type(req.Type)
	if req.Type == "" {
		typ = TypeText
	}
	if !typ.Valid() {
		return nil, ErrInvalidMessage
	}

	m := Message{
		ID:          uuid.NewString(),
		SenderID:    sender,
		RecipientID: req.RecipientID,
		Content:     req.Content,
		Type:        typ,
		CreatedAt:   r.clock().UTC(),
	}
	if err := r.store.SaveMessage(ctx, m); err != nil {
		return nil, err
	}

	outs := r.fanOut(req.RecipientID, wire.Event{Type: wire.EventMessageReceived, Data: m})
	outs = append(outs, presence.Outbound{
		Conn:  from,
		Event: wire.Event{Type: wire.EventMessageSent, Data: m},
	})
	return outs, nil
}

// Typing forwards a typing notice; no persistence, no delivery guarantee.
func (r *Relay) Typing(from presence.Conn, req wire.TypingRequest) ([]presence.Outbound, error) {
	return r.notice(from, req.RecipientID, wire.EventMessageTyping)
}

// StopTyping forwards the matching stop notice.
func (r *Relay) StopTyping(from presence.Conn, req wire.TypingRequest) ([]presence.Outbound, error) {
	return r.notice(from, req.RecipientID, wire.EventMessageStopTyp)
}

func (r *Relay) notice(from presence.Conn, recipientID, eventType string) ([]presence.Outbound, error) {
	sender, ok := r.registry.Identity(from.ID())
	if !ok {
		return nil, ErrNotAuthenticated
	}
	if recipientID == "" {
		return nil, ErrInvalidMessage
	}
	return r.fanOut(recipientID, wire.Event{
		Type: eventType,
		Data: wire.TypingNotice{SenderID: sender},
	}), nil
}

// MarkRead persists the read flag and notifies the original sender.
func (r *Relay) MarkRead(ctx context.Context, from presence.Conn, req wire.ReadRequest) ([]presence.Outbound, error) {
	reader, ok := r.registry.Identity(from.ID())
	if !ok {
		return nil, ErrNotAuthenticated
	}
	if req.MessageID == "" {
		return nil, ErrInvalidMessage
	}

	m, err := r.store.MarkMessageRead(ctx, req.MessageID, reader)
	if err != nil {
		return nil, err
	}
	return r.fanOut(m.SenderID, wire.Event{
		Type: wire.EventMessageRead,
		Data: wire.MessageRead{MessageID: m.ID, ReaderID: reader},
	}), nil
}

func (r *Relay) fanOut(identity string, ev wire.Event) []presence.Outbound {
	conns := r.registry.Resolve(identity)
	outs := make([]presence.Outbound, 0, len(conns))
	for _, c := range conns {
		outs = append(outs, presence.Outbound{Conn: c, Event: ev})
	}
	return outs
}
