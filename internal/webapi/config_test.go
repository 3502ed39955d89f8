package webapi

import (
	"testing"
	"time"
)

func TestConfigValidateAppliesDefaults(t *testing.T) {
	cfg := Config{
		SessionSigningKey: "session-key",
		WebhookSigningKey: "webhook-key",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("unexpected listen addr %q", cfg.ListenAddr)
	}
	if cfg.RequestTimeout != 3*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.RequestTimeout)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:8000" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.SessionIssuer != "tauth" || cfg.SessionCookieName != "app_session" {
		t.Fatalf("unexpected session defaults %q %q", cfg.SessionIssuer, cfg.SessionCookieName)
	}
	if cfg.WebhookIssuer != "scarab-payments" {
		t.Fatalf("unexpected webhook issuer %q", cfg.WebhookIssuer)
	}
}

func TestConfigValidateRequiresKeys(t *testing.T) {
	missingSession := Config{WebhookSigningKey: "webhook-key"}
	if err := missingSession.Validate(); err == nil {
		t.Fatal("expected error for missing session key")
	}
	missingWebhook := Config{SessionSigningKey: "session-key"}
	if err := missingWebhook.Validate(); err == nil {
		t.Fatal("expected error for missing webhook key")
	}
}

func TestParseAllowedOrigins(t *testing.T) {
	origins := ParseAllowedOrigins(" http://a.com , http://b.com ,")
	if len(origins) != 2 || origins[0] != "http://a.com" || origins[1] != "http://b.com" {
		t.Fatalf("unexpected origins: %#v", origins)
	}
	if len(ParseAllowedOrigins("  ")) != 0 {
		t.Fatalf("expected empty slice for blank input")
	}
}
