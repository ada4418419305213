package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"TR_API_URL", "TR_WS_URL", "TR_PROTOCOL_VERSION",
		"TR_TOKEN_PATH", "TR_REFRESH_INTERVAL", "TR_MAX_PAGES",
	} {
		t.Setenv(key, "")
	}
	cfg := Load()

	if cfg.APIBaseURL != "https://api.traderepublic.com/api/v1" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.WSURL != "wss://api.traderepublic.com/" {
		t.Errorf("WSURL = %q", cfg.WSURL)
	}
	if cfg.ProtocolVersion != 31 {
		t.Errorf("ProtocolVersion = %d", cfg.ProtocolVersion)
	}
	if cfg.TokenPath != ".tokens.json" {
		t.Errorf("TokenPath = %q", cfg.TokenPath)
	}
	if cfg.RefreshInterval != 4*time.Minute {
		t.Errorf("RefreshInterval = %v", cfg.RefreshInterval)
	}
	if cfg.MaxPages != 500 {
		t.Errorf("MaxPages = %d", cfg.MaxPages)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TR_WS_URL", "wss://example.test/")
	t.Setenv("TR_PROTOCOL_VERSION", "32")
	t.Setenv("TR_PAGE_TIMEOUT", "2500")
	t.Setenv("TR_LIMIT", "50")

	cfg := Load()
	if cfg.WSURL != "wss://example.test/" {
		t.Errorf("WSURL = %q", cfg.WSURL)
	}
	if cfg.ProtocolVersion != 32 {
		t.Errorf("ProtocolVersion = %d", cfg.ProtocolVersion)
	}
	if cfg.PageTimeout != 2500*time.Millisecond {
		t.Errorf("PageTimeout = %v", cfg.PageTimeout)
	}
	if cfg.Limit != 50 {
		t.Errorf("Limit = %d", cfg.Limit)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("TR_MAX_PAGES", "many")
	t.Setenv("TR_HTTP_TIMEOUT", "soon")

	cfg := Load()
	if cfg.MaxPages != 500 {
		t.Errorf("MaxPages = %d, want default", cfg.MaxPages)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Errorf("HTTPTimeout = %v, want default", cfg.HTTPTimeout)
	}
}

func TestValidateRejectsBlankRequiredFields(t *testing.T) {
	cfg := Load()
	cfg.WSURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("blank WSURL must fail validation")
	}

	cfg = Load()
	cfg.ProtocolVersion = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero protocol version must fail validation")
	}
}
