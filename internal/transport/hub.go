package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"voiceconnect/internal/calls"
	"voiceconnect/internal/config"
	"voiceconnect/internal/messaging"
	"voiceconnect/internal/presence"
	"voiceconnect/internal/signaling"
	"voiceconnect/internal/storage"
	"voiceconnect/internal/synthesis"
	"voiceconnect/internal/voiceinject"
	"voiceconnect/internal/wire"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Hub upgrades websocket connections and routes their frames to the relays.
// One reader goroutine per connection feeds the relays; one writer goroutine
// drains the outbound buffer. The hub itself holds no per-identity state;
// that lives in the presence registry.
type Hub struct {
	registry *presence.Registry
	signals  *signaling.Relay
	messages *messaging.Relay
	injector *voiceinject.Service
	auth     Authenticator

	authWait time.Duration
	readMax  int64
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewHub(
	registry *presence.Registry,
	signals *signaling.Relay,
	messages *messaging.Relay,
	injector *voiceinject.Service,
	auth Authenticator,
	cfg config.SignalingConfig,
	log *slog.Logger,
) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		registry: registry,
		signals:  signals,
		messages: messages,
		injector: injector,
		auth:     auth,
		authWait: cfg.AuthTimeout,
		readMax:  int64(cfg.MaxMessageBytes),
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients authenticate in-band; origin allow-listing
			// belongs to the edge proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWS is the gin handler for GET /ws.
func (h *Hub) HandleWS(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	cl := newClient(ws)
	go cl.writePump()
	h.serve(c.Request.Context(), cl)
}

func (h *Hub) serve(ctx context.Context, cl *client) {
	defer func() {
		outs := h.signals.HandleDisconnect(ctx, cl)
		h.signals.Dispatch(outs)
		cl.close()
	}()

	cl.ws.SetReadLimit(h.readMax)

	identity, ok := h.authenticate(ctx, cl)
	if !ok {
		return
	}
	h.log.Info("connection authenticated", "conn_id", cl.ID(), "identity", identity)

	cl.ws.SetReadDeadline(time.Now().Add(pongWait))
	cl.ws.SetPongHandler(func(string) error {
		cl.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := cl.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read failed", "conn_id", cl.ID(), "err", err)
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			cl.Deliver(errorEvent(wire.EventError, "invalid_event", "malformed frame"))
			continue
		}
		h.dispatch(ctx, cl, env)
	}
}

// authenticate reads the mandatory first frame. Anything other than a valid
// authenticate within the deadline closes the connection.
func (h *Hub) authenticate(ctx context.Context, cl *client) (string, bool) {
	cl.ws.SetReadDeadline(time.Now().Add(h.authWait))

	_, raw, err := cl.ws.ReadMessage()
	if err != nil {
		return "", false
	}

	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type != wire.CmdAuthenticate {
		cl.Deliver(wire.Event{
			Type: wire.EventAuthError,
			Data: wire.AuthenticationError{Message: "authenticate must be the first frame"},
		})
		return "", false
	}

	var req wire.AuthenticateRequest
	if err := json.Unmarshal(env.Data, &req); err != nil {
		cl.Deliver(wire.Event{
			Type: wire.EventAuthError,
			Data: wire.AuthenticationError{Message: "malformed authenticate frame"},
		})
		return "", false
	}

	identity, err := h.auth.Authenticate(ctx, req)
	if err != nil {
		cl.Deliver(wire.Event{
			Type: wire.EventAuthError,
			Data: wire.AuthenticationError{Message: "invalid credentials"},
		})
		return "", false
	}

	outs, err := h.registry.Attach(cl, identity)
	if err != nil {
		cl.Deliver(wire.Event{
			Type: wire.EventAuthError,
			Data: wire.AuthenticationError{Message: "connection already bound"},
		})
		return "", false
	}
	h.signals.Dispatch(outs)

	cl.Deliver(wire.Event{Type: wire.EventAuthenticated, Data: wire.Authenticated{UserID: identity}})
	return identity, true
}

func (h *Hub) dispatch(ctx context.Context, cl *client, env wire.Envelope) {
	var (
		outs []presence.Outbound
		err  error
	)

	switch env.Type {
	case wire.CmdAuthenticate:
		// Re-authentication over a live connection is not supported.
		err = presence.ErrDuplicateAttach

	case wire.CmdCallOffer:
		var req wire.OfferRequest
		if err = decode(env.Data, &req); err == nil {
			outs, err = h.signals.Offer(ctx, cl, req)
		}
	case wire.CmdCallAnswer:
		var req wire.AnswerRequest
		if err = decode(env.Data, &req); err == nil {
			outs, err = h.signals.Answer(ctx, cl, req)
		}
	case wire.CmdCallICECandidate:
		var req wire.CandidateRequest
		if err = decode(env.Data, &req); err == nil {
			outs, err = h.signals.IceCandidate(cl, req)
		}
	case wire.CmdCallReject:
		var req wire.RejectRequest
		if err = decode(env.Data, &req); err == nil {
			outs, err = h.signals.Reject(ctx, cl, req)
		}
	case wire.CmdCallEnd:
		var req wire.EndRequest
		if err = decode(env.Data, &req); err == nil {
			outs, err = h.signals.End(ctx, cl, req)
		}

	case wire.CmdMessageSend:
		var req wire.SendMessageRequest
		if err = decode(env.Data, &req); err == nil {
			outs, err = h.messages.Send(ctx, cl, req)
		}
	case wire.CmdMessageTyping:
		var req wire.TypingRequest
		if err = decode(env.Data, &req); err == nil {
			outs, err = h.messages.Typing(cl, req)
		}
	case wire.CmdMessageStopTyping:
		var req wire.TypingRequest
		if err = decode(env.Data, &req); err == nil {
			outs, err = h.messages.StopTyping(cl, req)
		}
	case wire.CmdMessageRead:
		var req wire.ReadRequest
		if err = decode(env.Data, &req); err == nil {
			outs, err = h.messages.MarkRead(ctx, cl, req)
		}

	case wire.CmdTTSSend:
		var req wire.TTSRequest
		if err = decode(env.Data, &req); err == nil {
			outs, err = h.inject(ctx, cl, req)
		}

	default:
		cl.Deliver(errorEvent(wire.EventError, "invalid_event", "unknown event type: "+env.Type))
		return
	}

	if err != nil {
		cl.Deliver(errorEvent(errorEventType(env.Type), errCode(err), err.Error()))
		return
	}
	h.signals.Dispatch(outs)
}

// inject runs a voice injection and builds the tts fan-out: audio to the
// recipient's connections, a receipt without audio back to the sender.
func (h *Hub) inject(ctx context.Context, from presence.Conn, req wire.TTSRequest) ([]presence.Outbound, error) {
	if _, ok := h.registry.Identity(from.ID()); !ok {
		return nil, signaling.ErrNotAuthenticated
	}
	if req.RecipientID == "" {
		return nil, signaling.ErrInvalidEvent
	}

	res, err := h.injector.Inject(ctx, req.CallID, req.Message, req.VoiceID)
	if err != nil {
		return nil, err
	}

	received := wire.Event{
		Type: wire.EventTTSReceived,
		Data: wire.TTSPayload{
			CallID:   res.Event.CallID,
			Message:  res.Event.Text,
			VoiceID:  res.Event.VoiceID,
			Audio:    res.Audio.Data,
			MimeType: res.Audio.MimeType,
		},
	}
	var outs []presence.Outbound
	for _, c := range h.registry.Resolve(req.RecipientID) {
		outs = append(outs, presence.Outbound{Conn: c, Event: received})
	}
	outs = append(outs, presence.Outbound{
		Conn: from,
		Event: wire.Event{
			Type: wire.EventTTSSent,
			Data: wire.TTSPayload{CallID: res.Event.CallID, Message: res.Event.Text, VoiceID: res.Event.VoiceID},
		},
	})
	return outs, nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return signaling.ErrInvalidEvent
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return signaling.ErrInvalidEvent
	}
	return nil
}

// errorEventType keeps error frames on the channel the client is listening
// on: message commands answer with message:error, tts with tts:error.
func errorEventType(cmd string) string {
	switch cmd {
	case wire.CmdMessageSend, wire.CmdMessageTyping, wire.CmdMessageStopTyping, wire.CmdMessageRead:
		return wire.EventMessageError
	case wire.CmdTTSSend:
		return wire.EventTTSError
	default:
		return wire.EventError
	}
}

func errCode(err error) string {
	switch {
	case errors.Is(err, signaling.ErrNotAuthenticated), errors.Is(err, messaging.ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, signaling.ErrNotParty):
		return "not_party"
	case errors.Is(err, calls.ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, calls.ErrUnknownCall):
		return "unknown_call"
	case errors.Is(err, calls.ErrDuplicateCall):
		return "duplicate_call"
	case errors.Is(err, voiceinject.ErrCallNotActive):
		return "call_not_active"
	case errors.Is(err, synthesis.ErrUnavailable):
		return "synthesis_unavailable"
	case errors.Is(err, synthesis.ErrRejected):
		return "synthesis_rejected"
	case errors.Is(err, storage.ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, presence.ErrDuplicateAttach):
		return "duplicate_attach"
	case errors.Is(err, signaling.ErrInvalidEvent),
		errors.Is(err, messaging.ErrInvalidMessage),
		errors.Is(err, voiceinject.ErrInvalidText),
		errors.Is(err, calls.ErrInvalidArgument):
		return "invalid_event"
	default:
		return "internal_error"
	}
}

func errorEvent(eventType, code, message string) wire.Event {
	return wire.Event{Type: eventType, Data: wire.ErrorNotice{Code: code, Message: message}}
}
