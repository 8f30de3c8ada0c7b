package config

import (
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:       AppConfig{Env: "local", Port: 8080},
		DB:        DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "voiceconnect"},
		Redis:     RedisConfig{Host: "localhost", Port: 6379},
		Auth:      AuthConfig{JWTSecret: "secret"},
		Synthesis: SynthesisConfig{APIKey: "xi-key"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "voiceconnect"
	c.Auth.JWTAudience = "voiceconnect-clients"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Signaling.RingTimeout != 45*time.Second {
		t.Fatalf("expected ring timeout default, got %v", c.Signaling.RingTimeout)
	}
	if c.Signaling.AuthTimeout != 10*time.Second {
		t.Fatalf("expected auth timeout default, got %v", c.Signaling.AuthTimeout)
	}
	if c.Signaling.MaxMessageBytes != 256*1024 {
		t.Fatalf("expected read limit default, got %d", c.Signaling.MaxMessageBytes)
	}
	if c.Gateway.MaxCallsPerUser != 3 {
		t.Fatalf("expected gateway cap default, got %d", c.Gateway.MaxCallsPerUser)
	}
}

func TestValidate_RequiresSynthesisKey(t *testing.T) {
	c := validLocal()
	c.Synthesis.APIKey = ""
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error without ELEVENLABS_API_KEY")
	}
}

func TestValidate_GatewayAllOrNothing(t *testing.T) {
	c := validLocal()
	c.Gateway.AccountSID = "AC123"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for partial gateway config")
	}

	c = validLocal()
	c.Gateway = GatewayConfig{AccountSID: "AC123", AuthToken: "tok", FromNumber: "+15550000000"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected complete gateway config to pass, got %v", err)
	}
	if !c.GatewayEnabled() {
		t.Fatalf("expected gateway enabled")
	}
}
