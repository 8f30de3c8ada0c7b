package signaling

import (
	"context"
	"errors"
	"log/slog"

	"voiceconnect/internal/calls"
	"voiceconnect/internal/presence"
	"voiceconnect/internal/wire"
)

var (
	ErrNotAuthenticated = errors.New("signaling: connection not authenticated")
	ErrInvalidEvent     = errors.New("signaling: invalid event")
	ErrNotParty         = errors.New("signaling: identity is not a party to this call")
)

// Relay forwards offer/answer/candidate/reject/end between two identities.
// Payloads stay opaque; the only interpretation is lifecycle legality, which
// is delegated to the call manager. The sender identity always comes from
// the authenticated connection, never from the payload.
type Relay struct {
	registry *presence.Registry
	mgr      *calls.Manager
	log      *slog.Logger
}

func NewRelay(registry *presence.Registry, mgr *calls.Manager, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	r := &Relay{registry: registry, mgr: mgr, log: log}
	mgr.SetTimeoutHandler(r.handleRingTimeout)
	return r
}

// Offer creates the call when the id is new, then forwards call:incoming to
// every recipient connection and moves the call to ringing. An offline
// recipient is a normal outcome: the call fails and only the sender hears
// about it.
func (r *Relay) Offer(ctx context.Context, from presence.Conn, req wire.OfferRequest) ([]presence.Outbound, error) {
	sender, ok := r.registry.Identity(from.ID())
	if !ok {
		return nil, ErrNotAuthenticated
	}
	if req.RecipientID == "" || req.CallID == "" {
		return nil, ErrInvalidEvent
	}

	call, exists := r.mgr.Get(req.CallID)
	if !exists {
		var err error
		call, err = r.mgr.Create(ctx, calls.CreateRequest{
			CallID:      req.CallID,
			InitiatorID: sender,
			RecipientID: req.RecipientID,
			Kind:        calls.KindDirectPeer,
			VoiceID:     req.VoiceID,
		})
		if err != nil {
			return nil, err
		}
	}
	if call.InitiatorID != sender || call.RecipientID != req.RecipientID {
		return nil, ErrNotParty
	}
	if call.State != calls.StateInitiated {
		return nil, calls.ErrIllegalTransition
	}

	conns := r.registry.Resolve(req.RecipientID)
	if len(conns) == 0 {
		if _, _, err := r.mgr.Fail(ctx, call.CallID); err != nil {
			return nil, err
		}
		return []presence.Outbound{{
			Conn: from,
			Event: wire.Event{
				Type: wire.EventCallUnavailable,
				Data: wire.CallUnavailable{CallID: call.CallID, RecipientID: req.RecipientID},
			},
		}}, nil
	}

	if _, err := r.mgr.Ringing(ctx, call.CallID); err != nil {
		return nil, err
	}

	ev := wire.Event{
		Type: wire.EventCallIncoming,
		Data: wire.CallIncoming{CallerID: sender, Offer: req.Offer, CallID: call.CallID},
	}
	outs := make([]presence.Outbound, 0, len(conns))
	for _, c := range conns {
		outs = append(outs, presence.Outbound{Conn: c, Event: ev})
	}
	return outs, nil
}

// Answer requires the call to be ringing; an answer racing ahead of its
// offer is rejected with the call untouched rather than forwarded blindly.
func (r *Relay) Answer(ctx context.Context, from presence.Conn, req wire.AnswerRequest) ([]presence.Outbound, error) {
	sender, ok := r.registry.Identity(from.ID())
	if !ok {
		return nil, ErrNotAuthenticated
	}
	if req.CallID == "" {
		return nil, ErrInvalidEvent
	}

	call, exists := r.mgr.Get(req.CallID)
	if !exists {
		return nil, calls.ErrUnknownCall
	}
	if call.RecipientID != sender {
		return nil, ErrNotParty
	}

	call, err := r.mgr.Activate(ctx, call.CallID)
	if err != nil {
		return nil, err
	}
	return r.toParty(call.InitiatorID, wire.Event{
		Type: wire.EventCallAnswered,
		Data: wire.CallAnswered{Answer: req.Answer, CallID: call.CallID},
	}), nil
}

// IceCandidate forwards a candidate while a ringing or active call exists
// between the two identities. Late or out-of-order candidates are dropped
// silently; candidate races after call end are expected, not errors.
func (r *Relay) IceCandidate(from presence.Conn, req wire.CandidateRequest) ([]presence.Outbound, error) {
	sender, ok := r.registry.Identity(from.ID())
	if !ok {
		return nil, ErrNotAuthenticated
	}
	if req.RecipientID == "" {
		return nil, ErrInvalidEvent
	}

	if !r.hasLiveCallBetween(sender, req.RecipientID) {
		return nil, nil
	}
	return r.toParty(req.RecipientID, wire.Event{
		Type: wire.EventCallICECandidate,
		Data: wire.ICECandidate{Candidate: req.Candidate, SenderID: sender},
	}), nil
}

// Reject terminalizes the call and tells the caller. Rejecting an
// already-terminal call is a no-op with no notification.
func (r *Relay) Reject(ctx context.Context, from presence.Conn, req wire.RejectRequest) ([]presence.Outbound, error) {
	return r.hangup(ctx, from, req.CallID, wire.EventCallRejected)
}

// End terminalizes the call (ended when active, failed when it never got
// there) and tells the other party. Idempotent on terminal calls.
func (r *Relay) End(ctx context.Context, from presence.Conn, req wire.EndRequest) ([]presence.Outbound, error) {
	return r.hangup(ctx, from, req.CallID, wire.EventCallEnded)
}

func (r *Relay) hangup(ctx context.Context, from presence.Conn, callID, eventType string) ([]presence.Outbound, error) {
	sender, ok := r.registry.Identity(from.ID())
	if !ok {
		return nil, ErrNotAuthenticated
	}
	if callID == "" {
		return nil, ErrInvalidEvent
	}

	call, exists := r.mgr.Get(callID)
	if !exists {
		return nil, calls.ErrUnknownCall
	}
	if !call.Party(sender) {
		return nil, ErrNotParty
	}

	call, changed, err := r.mgr.Hangup(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, nil
	}
	return r.toParty(call.Other(sender), wire.Event{
		Type: eventType,
		Data: wire.CallRef{CallID: call.CallID},
	}), nil
}

// HandleDisconnect runs synchronously from the transport close path: the
// presence binding is released and every live call the identity was a party
// to is terminalized, with the remaining party notified. No dangling calls
// survive their last live connection.
func (r *Relay) HandleDisconnect(ctx context.Context, conn presence.Conn) []presence.Outbound {
	identity, attached := r.registry.Identity(conn.ID())
	outs := r.registry.Detach(conn)
	if !attached {
		return outs
	}
	if r.registry.Online(identity) {
		// Another connection still carries this identity's calls.
		return outs
	}

	for _, call := range r.mgr.ReleaseParty(ctx, identity) {
		eventType := wire.EventCallFailed
		if call.State == calls.StateEnded {
			eventType = wire.EventCallEnded
		}
		outs = append(outs, r.toParty(call.Other(identity), wire.Event{
			Type: eventType,
			Data: wire.CallRef{CallID: call.CallID},
		})...)
	}
	return outs
}

// Dispatch delivers outbounds, logging per-connection failures. Delivery is
// best-effort; a failed Deliver means the transport will tear that
// connection down on its own.
func (r *Relay) Dispatch(outs []presence.Outbound) {
	for _, o := range outs {
		if o.Conn == nil {
			continue
		}
		if err := o.Conn.Deliver(o.Event); err != nil {
			r.log.Warn("outbound delivery failed",
				"conn_id", o.Conn.ID(), "event", o.Event.Type, "err", err)
		}
	}
}

// handleRingTimeout notifies both parties after the manager fails a call
// nobody answered.
func (r *Relay) handleRingTimeout(call calls.Call) {
	ev := wire.Event{
		Type: wire.EventCallFailed,
		Data: wire.CallStatus{CallID: call.CallID, Status: string(calls.StateFailed)},
	}
	outs := r.toParty(call.InitiatorID, ev)
	outs = append(outs, r.toParty(call.RecipientID, ev)...)
	r.Dispatch(outs)
}

func (r *Relay) hasLiveCallBetween(a, b string) bool {
	for _, c := range r.mgr.ForIdentity(a) {
		if c.State != calls.StateRinging && c.State != calls.StateActive {
			continue
		}
		if c.Other(a) == b {
			return true
		}
	}
	return false
}

func (r *Relay) toParty(identity string, ev wire.Event) []presence.Outbound {
	if identity == "" {
		return nil
	}
	conns := r.registry.Resolve(identity)
	outs := make([]presence.Outbound, 0, len(conns))
	for _, c := range conns {
		outs = append(outs, presence.Outbound{Conn: c, Event: ev})
	}
	return outs
}
