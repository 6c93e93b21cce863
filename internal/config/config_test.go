package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/acme/ivr-balance-checker/pkg/errors"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Orchestrator.Concurrency != 1 {
		t.Fatalf("expected concurrency 1, got %d", cfg.Orchestrator.Concurrency)
	}
	if cfg.Orchestrator.CallTimeout != 60*time.Second {
		t.Fatalf("expected 60s call timeout, got %s", cfg.Orchestrator.CallTimeout)
	}
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.HTTP.Port)
	}
	if cfg.IVR.MenuKey != "9" || cfg.IVR.PauseAfterPickup != 6*time.Second {
		t.Fatalf("unexpected ivr defaults %+v", cfg.IVR)
	}
	if cfg.Telephony.WebhookPath != "/voice" {
		t.Fatalf("expected /voice, got %s", cfg.Telephony.WebhookPath)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte(`
telephony:
  provider: mock
  from_number: "(201) 555-0123"
  to_number: "+1 650 253 0000"
  callback_base_url: https://hooks.example.com/
orchestrator:
  concurrency: 4
  call_timeout: 90s
ivr:
  pause_after_pickup: 8s
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BALANCE_ORCHESTRATOR_CONCURRENCY", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Orchestrator.Concurrency != 2 {
		t.Fatalf("expected env override to win, got %d", cfg.Orchestrator.Concurrency)
	}
	if cfg.Orchestrator.CallTimeout != 90*time.Second {
		t.Fatalf("expected 90s, got %s", cfg.Orchestrator.CallTimeout)
	}
	if cfg.IVR.PauseAfterPickup != 8*time.Second {
		t.Fatalf("expected 8s pause, got %s", cfg.IVR.PauseAfterPickup)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if cfg.Telephony.FromNumber != "+12015550123" || cfg.Telephony.ToNumber != "+16502530000" {
		t.Fatalf("numbers not normalised: %s %s", cfg.Telephony.FromNumber, cfg.Telephony.ToNumber)
	}
	if got := cfg.Telephony.WebhookURL(); got != "https://hooks.example.com/voice" {
		t.Fatalf("unexpected webhook url %s", got)
	}
	if got := cfg.Telephony.StatusCallbackURL(); got != "https://hooks.example.com/status" {
		t.Fatalf("unexpected status url %s", got)
	}
}

func TestValidateRejects(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		cfg.Telephony.Provider = ProviderMock
		return cfg
	}

	cases := map[string]func(*Config){
		"zero concurrency":      func(c *Config) { c.Orchestrator.Concurrency = 0 },
		"zero timeout":          func(c *Config) { c.Orchestrator.CallTimeout = 0 },
		"fractional pause":      func(c *Config) { c.IVR.PauseBetweenSecrets = 1500 * time.Millisecond },
		"bad menu key":          func(c *Config) { c.IVR.MenuKey = "9a" },
		"unknown provider":      func(c *Config) { c.Telephony.Provider = "carrier-pigeon" },
		"signalwire no creds":   func(c *Config) { c.Telephony.Provider = ProviderSignalWire },
		"unparseable number":    func(c *Config) { c.Telephony.FromNumber = "not-a-number" },
		"unknown store driver":  func(c *Config) { c.Store.Driver = "mongo" },
		"negative request rate": func(c *Config) { c.Telephony.RequestsPerSecond = -1 },
		"zero listen timeout":   func(c *Config) { c.IVR.ListenTimeout = 0 },
	}

	for name, mutate := range cases {
		cfg := base()
		if err := cfg.Validate(); err != nil {
			t.Fatalf("%s: base config should be valid: %v", name, err)
		}
		mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Errorf("%s: expected validation error", name)
			continue
		}
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", name, err)
		}
	}
}
