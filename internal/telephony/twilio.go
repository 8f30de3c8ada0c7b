package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioProvider originates calls through the Twilio REST API. It holds no
// call state; async status lands on the webhook handler.
type TwilioProvider struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	client     *http.Client
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string

	// BaseURL overrides the Twilio endpoint (tests).
	BaseURL string

	RequestTimeout time.Duration
}

func NewTwilioProvider(cfg TwilioConfig) (*TwilioProvider, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("telephony: twilio credentials are required")
	}
	if cfg.FromNumber == "" {
		return nil, errors.New("telephony: twilio from number is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = twilioAPIBase
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TwilioProvider{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromNumber: cfg.FromNumber,
		baseURL:    base,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s.json", p.baseURL, p.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telephony: twilio health status %d", resp.StatusCode)
	}
	return nil
}

func (p *TwilioProvider) OriginateCall(ctx context.Context, req OriginateRequest) (OriginateResult, error) {
	if req.To == "" || req.TwiMLURL == "" {
		return OriginateResult{}, errors.New("telephony: to and twiml url are required")
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", p.fromNumber)
	form.Set("Url", req.TwiMLURL)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackMethod", http.MethodPost)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", p.baseURL, p.accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return OriginateResult{}, err
	}
	httpReq.SetBasicAuth(p.accountSID, p.authToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return OriginateResult{}, fmt.Errorf("telephony: twilio call create failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return OriginateResult{}, fmt.Errorf("telephony: twilio call create status %d", resp.StatusCode)
	}

	var body struct {
		Sid string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return OriginateResult{}, fmt.Errorf("telephony: twilio response decode failed: %w", err)
	}
	if body.Sid == "" {
		return OriginateResult{}, errors.New("telephony: twilio response missing call sid")
	}
	return OriginateResult{ProviderCallID: body.Sid}, nil
}
