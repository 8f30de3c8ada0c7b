package telephony

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"voiceconnect/internal/calls"
	"voiceconnect/internal/wire"
	"voiceconnect/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ParseStatusCallback reads the subset of the Twilio status webhook we care
// about. Twilio sends application/x-www-form-urlencoded.
func ParseStatusCallback(r *http.Request) (StatusUpdate, error) {
	if err := r.ParseForm(); err != nil {
		return StatusUpdate{}, err
	}
	dur := r.PostFormValue("CallDuration")
	if dur == "" {
		dur = r.PostFormValue("Duration")
	}
	seconds, _ := strconv.Atoi(dur)
	return StatusUpdate{
		ProviderCallID:  strings.TrimSpace(r.PostFormValue("CallSid")),
		Status:          strings.TrimSpace(r.PostFormValue("CallStatus")),
		DurationSeconds: seconds,
	}, nil
}

// WebhookHandler maps async gateway status updates onto the same lifecycle
// machine that drives direct-peer calls, and serves TwiML for the outbound
// leg. No business logic beyond that mapping lives here.
type WebhookHandler struct {
	Manager *calls.Manager

	// Notify pushes a status event to an identity's live connections.
	// Injected to keep this package off the transport. Terminal resource
	// release is not wired here: the lifecycle manager's terminal handler
	// covers every path into a terminal state, webhook-driven or not.
	Notify func(identity string, ev wire.Event)
}

// HandleStatus is POST /webhooks/twilio/status. Unknown provider call ids
// and repeated or out-of-order statuses are acknowledged and dropped; the
// gateway retries on non-2xx and there is nothing useful to retry.
func (h WebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)

	upd, err := ParseStatusCallback(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	if upd.ProviderCallID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "CallSid required"})
		return
	}

	target, known := MapProviderStatus(upd.Status)
	if !known {
		log.Warn("unknown gateway status", "provider_call_id", upd.ProviderCallID, "status", upd.Status)
		c.String(http.StatusOK, "OK")
		return
	}

	call, ok := h.Manager.GetByProviderID(upd.ProviderCallID)
	if !ok {
		log.Warn("gateway status for unknown call", "provider_call_id", upd.ProviderCallID)
		c.String(http.StatusOK, "OK")
		return
	}

	after, changed := h.apply(c.Request.Context(), call, target)
	// The gateway's duration can trail the transition that terminalized the
	// call (a ring timeout beats the no-answer webhook); record it whenever
	// the call is terminal, not only when this update moved it there.
	if after.State.Terminal() && upd.DurationSeconds > 0 {
		h.Manager.SetReportedDuration(c.Request.Context(), after.CallID, upd.DurationSeconds)
		after.DurationSeconds = upd.DurationSeconds
	}
	if changed && h.Notify != nil {
		h.Notify(after.InitiatorID, wire.Event{
			Type: wire.EventCallStatus,
			Data: wire.CallStatus{
				CallID:   after.CallID,
				Status:   string(after.State),
				Duration: after.DurationSeconds,
			},
		})
	}
	c.String(http.StatusOK, "OK")
}

// apply walks the call toward target one legal transition at a time.
// Gateways repeat and reorder statuses; anything illegal is just skipped.
func (h WebhookHandler) apply(ctx context.Context, call calls.Call, target calls.State) (calls.Call, bool) {
	id := call.CallID
	before := call.State

	switch target {
	case calls.StateInitiated:
		return call, false
	case calls.StateRinging:
		if c, err := h.Manager.Ringing(ctx, id); err == nil {
			return c, true
		}
		return call, false
	case calls.StateActive:
		if call.State == calls.StateInitiated {
			if c, err := h.Manager.Ringing(ctx, id); err == nil {
				call = c
			}
		}
		if c, err := h.Manager.Activate(ctx, id); err == nil {
			return c, true
		}
		return call, call.State != before
	case calls.StateEnded:
		c, changed, err := h.Manager.Hangup(ctx, id)
		if err != nil {
			return call, false
		}
		return c, changed
	case calls.StateFailed:
		c, changed, err := h.Manager.Fail(ctx, id)
		if err != nil {
			return call, false
		}
		return c, changed
	default:
		return call, false
	}
}

// HandleTwiML is POST /webhooks/twilio/twiml/:call_id, served when the
// gateway connects the outbound leg.
func (h WebhookHandler) HandleTwiML(c *gin.Context) {
	log := logger.FromGin(c)

	call, ok := h.Manager.Get(c.Param("call_id"))

	var (
		twiml string
		err   error
	)
	if !ok || call.State.Terminal() || call.RecipientAddress == "" {
		twiml, err = RenderHangupTwiML()
	} else {
		twiml, err = RenderOutboundTwiML(call.RecipientAddress)
	}
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
