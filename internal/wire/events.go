package wire

import "encoding/json"

// Event is one outbound frame on the websocket transport.
// Data must be JSON-marshalable; offer/answer/candidate payloads are carried
// as opaque blobs and never interpreted server-side.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Envelope is one inbound frame before type-specific decoding.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Outbound event types.
const (
	EventAuthenticated    = "authenticated"
	EventAuthError        = "authentication_error"
	EventUserOnline       = "user:online"
	EventUserOffline      = "user:offline"
	EventCallIncoming     = "call:incoming"
	EventCallAnswered     = "call:answered"
	EventCallICECandidate = "call:ice-candidate"
	EventCallRejected     = "call:rejected"
	EventCallEnded        = "call:ended"
	EventCallUnavailable  = "call:unavailable"
	EventCallFailed       = "call:failed"
	EventCallStatus       = "call:status-updated"
	EventMessageReceived  = "message:received"
	EventMessageSent      = "message:sent"
	EventMessageTyping    = "message:typing"
	EventMessageStopTyp   = "message:stop-typing"
	EventMessageRead      = "message:read"
	EventMessageError     = "message:error"
	EventTTSReceived      = "tts:received"
	EventTTSSent          = "tts:sent"
	EventTTSError         = "tts:error"
	EventError            = "error"
)

// Inbound event types.
const (
	CmdAuthenticate      = "authenticate"
	CmdCallOffer         = "call:offer"
	CmdCallAnswer        = "call:answer"
	CmdCallICECandidate  = "call:ice-candidate"
	CmdCallReject        = "call:reject"
	CmdCallEnd           = "call:end"
	CmdMessageSend       = "message:send"
	CmdMessageTyping     = "message:typing"
	CmdMessageStopTyping = "message:stop-typing"
	CmdMessageRead       = "message:read"
	CmdTTSSend           = "tts:send"
)

// --- Inbound payloads ---

type AuthenticateRequest struct {
	Token string `json:"token"`
}

type OfferRequest struct {
	RecipientID string          `json:"recipientId"`
	Offer       json.RawMessage `json:"offer"`
	CallID      string          `json:"callId"`
	VoiceID     string          `json:"voiceId,omitempty"`
}

type AnswerRequest struct {
	CallerID string          `json:"callerId"`
	Answer   json.RawMessage `json:"answer"`
	CallID   string          `json:"callId"`
}

type CandidateRequest struct {
	RecipientID string          `json:"recipientId"`
	Candidate   json.RawMessage `json:"candidate"`
}

type RejectRequest struct {
	CallerID string `json:"callerId"`
	CallID   string `json:"callId"`
}

type EndRequest struct {
	RecipientID string `json:"recipientId"`
	CallID      string `json:"callId"`
}

type SendMessageRequest struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
	Type        string `json:"type,omitempty"`
}

type TypingRequest struct {
	RecipientID string `json:"recipientId"`
}

type ReadRequest struct {
	MessageID string `json:"messageId"`
}

type TTSRequest struct {
	CallID      string `json:"callId"`
	Message     string `json:"message"`
	VoiceID     string `json:"voiceId,omitempty"`
	RecipientID string `json:"recipientId"`
}

// --- Outbound payloads ---

type Authenticated struct {
	UserID string `json:"userId"`
}

type AuthenticationError struct {
	Message string `json:"message"`
}

type UserPresence struct {
	UserID string `json:"userId"`
}

type CallIncoming struct {
	CallerID string          `json:"callerId"`
	Offer    json.RawMessage `json:"offer"`
	CallID   string          `json:"callId"`
}

type CallAnswered struct {
	Answer json.RawMessage `json:"answer"`
	CallID string          `json:"callId"`
}

type ICECandidate struct {
	Candidate json.RawMessage `json:"candidate"`
	SenderID  string          `json:"senderId"`
}

type CallRef struct {
	CallID string `json:"callId"`
}

type CallUnavailable struct {
	CallID      string `json:"callId"`
	RecipientID string `json:"recipientId"`
}

type CallStatus struct {
	CallID   string `json:"callId"`
	Status   string `json:"status"`
	Duration int    `json:"duration,omitempty"`
}

type TypingNotice struct {
	SenderID string `json:"senderId"`
}

type MessageRead struct {
	MessageID string `json:"messageId"`
	ReaderID  string `json:"readerId"`
}

type TTSPayload struct {
	CallID   string `json:"callId"`
	Message  string `json:"message"`
	VoiceID  string `json:"voiceId,omitempty"`
	Audio    []byte `json:"audio,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

type ErrorNotice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
