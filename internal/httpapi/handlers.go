package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	"voiceconnect/internal/auth"
	"voiceconnect/internal/calls"
	"voiceconnect/internal/reporting"
	"voiceconnect/internal/storage"
	"voiceconnect/internal/synthesis"
	"voiceconnect/internal/telephony"
	"voiceconnect/internal/voiceinject"
	"voiceconnect/pkg/logger"
	"voiceconnect/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth     *auth.Manager
	Store    storage.Store
	Manager  *calls.Manager
	Injector *voiceinject.Service
	Voices   VoiceCatalog
	Reports  *reporting.Service

	// Gateway collaborators; nil Provider means the endpoint is disabled.
	Provider        telephony.Provider
	Redis           *redis.Client
	MaxCallsPerUser int
	PublicBaseURL   string
}

// VoiceCatalog lists the synthesis voices available to clients.
type VoiceCatalog interface {
	Voices(ctx context.Context) ([]synthesis.Voice, error)
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
}

// Login issues a JWT token pair for a known user.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	if _, err := h.Store.GetUser(c.Request.Context(), req.UserID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "user lookup failed"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

// GetCallHistory returns the caller's stored call records, newest first.
func (h Handlers) GetCallHistory(c *gin.Context) {
	identity, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	limit := queryInt(c, "limit", 50)
	rows, err := h.Store.ListCallHistory(c.Request.Context(), identity, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": rows})
}

// --- Messages ---

// GetRecentMessages returns recent messages the caller sent or received.
func (h Handlers) GetRecentMessages(c *gin.Context) {
	identity, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	limit := queryInt(c, "limit", 50)
	rows, err := h.Store.GetRecentMessages(c.Request.Context(), identity, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "message lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": rows})
}

// --- Voice injection ---

type injectRequest struct {
	CallID  string `json:"callId"`
	Message string `json:"message"`
	VoiceID string `json:"voiceId,omitempty"`
}

// InjectTTS synthesizes narration against an active call and returns the
// audio inline, base64-encoded.
func (h Handlers) InjectTTS(c *gin.Context) {
	if _, err := auth.UserID(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	var req injectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	res, err := h.Injector.Inject(c.Request.Context(), req.CallID, req.Message, req.VoiceID)
	if err != nil {
		status, msg := injectErrStatus(err)
		c.AbortWithStatusJSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"event":     res.Event,
		"audioData": base64.StdEncoding.EncodeToString(res.Audio.Data),
		"mimeType":  res.Audio.MimeType,
	})
}

func injectErrStatus(err error) (int, string) {
	switch {
	case errors.Is(err, voiceinject.ErrInvalidText):
		return http.StatusBadRequest, "message required"
	case errors.Is(err, calls.ErrUnknownCall):
		return http.StatusNotFound, "unknown call"
	case errors.Is(err, voiceinject.ErrCallNotActive):
		return http.StatusConflict, "call is not active"
	case errors.Is(err, synthesis.ErrRejected):
		return http.StatusUnprocessableEntity, "synthesis rejected the request"
	case errors.Is(err, synthesis.ErrUnavailable):
		return http.StatusBadGateway, "synthesis unavailable"
	default:
		return http.StatusInternalServerError, "injection failed"
	}
}

// --- Voices ---

// ListVoices returns the synthesis voice catalog.
func (h Handlers) ListVoices(c *gin.Context) {
	if h.Voices == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "synthesis not configured"})
		return
	}
	voices, err := h.Voices.Voices(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "voice catalog unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"voices": voices})
}

// --- Gateway calls ---

type gatewayCallRequest struct {
	To               string `json:"to"`
	VoiceID          string `json:"voiceId,omitempty"`
	RecordingEnabled bool   `json:"recordingEnabled,omitempty"`
}

// CreateGatewayCall originates an outbound telephony call. A per-identity
// concurrency cap in Redis bounds how many gateway legs one user may hold.
func (h Handlers) CreateGatewayCall(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Provider == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "telephony gateway not configured"})
		return
	}
	identity, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}

	var req gatewayCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.To == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to required"})
		return
	}

	ctx := c.Request.Context()
	capKey := GatewayCapKey(identity)
	acquired, err := utils.AcquireConcurrencyCap(ctx, h.Redis, capKey, h.MaxCallsPerUser, time.Hour)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "concurrency check failed"})
		return
	}
	if !acquired {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many concurrent calls"})
		return
	}

	call, err := h.Manager.Create(ctx, calls.CreateRequest{
		InitiatorID:      identity,
		RecipientAddress: req.To,
		Kind:             calls.KindGateway,
		VoiceID:          req.VoiceID,
		RecordingEnabled: req.RecordingEnabled,
	})
	if err != nil {
		utils.ReleaseConcurrencyCap(ctx, h.Redis, capKey)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call create failed"})
		return
	}

	res, err := h.Provider.OriginateCall(ctx, telephony.OriginateRequest{
		CallID:            call.CallID,
		To:                req.To,
		TwiMLURL:          h.PublicBaseURL + "/webhooks/twilio/twiml/" + call.CallID,
		StatusCallbackURL: h.PublicBaseURL + "/webhooks/twilio/status",
	})
	if err != nil {
		log.Error("gateway origination failed", "call_id", call.CallID, "err", err)
		// Failing the call releases the slot through the manager's terminal
		// handler; releasing here too would free a slot someone else holds.
		h.Manager.Fail(ctx, call.CallID)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "origination failed"})
		return
	}
	h.Manager.AttachProviderID(ctx, call.CallID, res.ProviderCallID)

	c.JSON(http.StatusCreated, gin.H{
		"callId":         call.CallID,
		"providerCallId": res.ProviderCallID,
		"state":          call.State,
	})
}

// GatewayCapKey is the Redis key holding one identity's live gateway-call
// count.
func GatewayCapKey(identity string) string {
	return "gateway:calls:" + identity
}

// --- Reporting ---

// GetCallsSummary aggregates the caller's stored call history over a time
// range. Defaults to the trailing 30 days.
func (h Handlers) GetCallsSummary(c *gin.Context) {
	identity, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}

	to := queryTime(c, "to", time.Now().UTC())
	from := queryTime(c, "from", to.AddDate(0, 0, -30))

	sum, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Identity: identity,
		Range:    reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func queryTime(c *gin.Context, key string, def time.Time) time.Time {
	v := c.Query(key)
	if v == "" {
		return def
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return def
	}
	return t
}
