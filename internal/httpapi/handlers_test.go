package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"voiceconnect/internal/auth"
	"voiceconnect/internal/calls"
	"voiceconnect/internal/config"
	"voiceconnect/internal/reporting"
	"voiceconnect/internal/storage"
	"voiceconnect/internal/synthesis"
	"voiceconnect/internal/voiceinject"

	"github.com/gin-gonic/gin"
)

type fakeSynth struct{}

func (fakeSynth) Synthesize(ctx context.Context, text, voiceID string) (synthesis.Audio, error) {
	return synthesis.Audio{Data: []byte("mp3-bytes"), MimeType: "audio/mpeg"}, nil
}

type apiFixture struct {
	store  *storage.Memory
	mgr    *calls.Manager
	router *gin.Engine
}

// identityMW injects a fixed identity the way the JWT middleware would.
func identityMW(identity string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), identity))
		c.Next()
	}
}

func newAPIFixture(t *testing.T, identity string) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemory()
	mgr := calls.NewManager(store, calls.Options{RingTimeout: time.Hour})
	authManager, err := auth.NewManager(config.AuthConfig{
		JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour,
	})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}

	h := Handlers{
		Auth:     authManager,
		Store:    store,
		Manager:  mgr,
		Injector: voiceinject.NewService(mgr, fakeSynth{}, store, nil),
		Reports:  reporting.NewService(reporting.StoreRepo{Store: store}),
	}

	r := gin.New()
	r.POST("/v1/auth/login", h.Login)
	v1 := r.Group("/v1")
	v1.Use(identityMW(identity))
	{
		v1.GET("/calls/history", h.GetCallHistory)
		v1.GET("/messages/recent", h.GetRecentMessages)
		v1.POST("/tts/inject", h.InjectTTS)
		v1.GET("/reports/calls/summary", h.GetCallsSummary)
	}
	return &apiFixture{store: store, mgr: mgr, router: r}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestLogin(t *testing.T) {
	f := newAPIFixture(t, "alice")
	f.store.PutUser(storage.User{ID: "alice"})

	w := f.do(t, http.MethodPost, "/v1/auth/login", gin.H{"user_id": "alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatalf("expected token pair, got %s", w.Body.String())
	}
}

func TestLogin_UnknownUser(t *testing.T) {
	f := newAPIFixture(t, "alice")

	w := f.do(t, http.MethodPost, "/v1/auth/login", gin.H{"user_id": "ghost"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestInjectTTS(t *testing.T) {
	f := newAPIFixture(t, "alice")
	ctx := context.Background()

	c, _ := f.mgr.Create(ctx, calls.CreateRequest{
		InitiatorID: "alice", RecipientID: "bob", Kind: calls.KindDirectPeer,
	})
	f.mgr.Ringing(ctx, c.CallID)
	f.mgr.Activate(ctx, c.CallID)

	w := f.do(t, http.MethodPost, "/v1/tts/inject", gin.H{"callId": c.CallID, "message": "hold position"})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		AudioData string `json:"audioData"`
		MimeType  string `json:"mimeType"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	decoded, err := base64.StdEncoding.DecodeString(resp.AudioData)
	if err != nil || string(decoded) != "mp3-bytes" {
		t.Fatalf("unexpected audio %q err=%v", resp.AudioData, err)
	}
	if resp.MimeType != "audio/mpeg" {
		t.Fatalf("unexpected mime %q", resp.MimeType)
	}
}

func TestInjectTTS_CallNotActive(t *testing.T) {
	f := newAPIFixture(t, "alice")

	c, _ := f.mgr.Create(context.Background(), calls.CreateRequest{
		InitiatorID: "alice", RecipientID: "bob", Kind: calls.KindDirectPeer,
	})

	w := f.do(t, http.MethodPost, "/v1/tts/inject", gin.H{"callId": c.CallID, "message": "too early"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestInjectTTS_UnknownCall(t *testing.T) {
	f := newAPIFixture(t, "alice")

	w := f.do(t, http.MethodPost, "/v1/tts/inject", gin.H{"callId": "ghost", "message": "x"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetCallHistory(t *testing.T) {
	f := newAPIFixture(t, "alice")
	ctx := context.Background()

	f.store.CreateCall(ctx, calls.Call{CallID: "c1", InitiatorID: "alice", RecipientID: "bob", CreatedAt: time.Now()})
	f.store.CreateCall(ctx, calls.Call{CallID: "c2", InitiatorID: "carol", RecipientID: "dave", CreatedAt: time.Now()})

	w := f.do(t, http.MethodGet, "/v1/calls/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var resp struct {
		Calls []calls.Call `json:"calls"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Calls) != 1 || resp.Calls[0].CallID != "c1" {
		t.Fatalf("expected alice's single call, got %+v", resp.Calls)
	}
}

func TestGetCallsSummaryDefaultsRange(t *testing.T) {
	f := newAPIFixture(t, "alice")
	ctx := context.Background()

	f.store.CreateCall(ctx, calls.Call{
		CallID: "c1", InitiatorID: "alice", RecipientID: "bob",
		State: calls.StateEnded, DurationSeconds: 30, CreatedAt: time.Now().Add(-time.Hour),
	})

	w := f.do(t, http.MethodGet, "/v1/reports/calls/summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var sum reporting.CallsSummary
	json.Unmarshal(w.Body.Bytes(), &sum)
	if sum.TotalCalls != 1 || sum.EndedCalls != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}
