package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Identity.Issuer != "https://auth.example.com" {
		t.Errorf("Identity.Issuer = %q", cfg.Identity.Issuer)
	}
	if cfg.Identity.Audience != "taskmode-ui" {
		t.Errorf("Identity.Audience = %q", cfg.Identity.Audience)
	}
	if len(cfg.Identity.Algorithms) != 2 {
		t.Errorf("Identity.Algorithms = %v, want 2 entries", cfg.Identity.Algorithms)
	}
	if cfg.Session.Store.Driver != "redis" {
		t.Errorf("Session.Store.Driver = %q, want redis", cfg.Session.Store.Driver)
	}
	if cfg.Session.Store.SnapshotTTL != 720*time.Hour {
		t.Errorf("Session.Store.SnapshotTTL = %v, want 720h", cfg.Session.Store.SnapshotTTL)
	}
	if cfg.Session.SaveDebounce != 250*time.Millisecond {
		t.Errorf("Session.SaveDebounce = %v, want 250ms", cfg.Session.SaveDebounce)
	}
	if !cfg.Greeting.Enabled {
		t.Error("Greeting.Enabled = false, want true")
	}
	if cfg.Greeting.Endpoint != "https://llm.internal/greeting" {
		t.Errorf("Greeting.Endpoint = %q", cfg.Greeting.Endpoint)
	}
	if cfg.Dialogue.PrefetchFloor != 1500*time.Millisecond {
		t.Errorf("Dialogue.PrefetchFloor = %v, want 1.5s", cfg.Dialogue.PrefetchFloor)
	}
	// Defaults survive for fields the file does not set.
	if cfg.Server.HandlerTimeout != 25*time.Second {
		t.Errorf("Server.HandlerTimeout = %v, want default 25s", cfg.Server.HandlerTimeout)
	}
	if cfg.Dialogue.PrefetchPoll != 250*time.Millisecond {
		t.Errorf("Dialogue.PrefetchPoll = %v, want 250ms", cfg.Dialogue.PrefetchPoll)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_identity(t *testing.T) {
	_, err := Load("testdata/missing_identity.yaml")
	if err == nil {
		t.Fatal("Load() with missing identity should return error")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Session.Store.Driver != "memory" {
		t.Errorf("default Session.Store.Driver = %q, want memory", cfg.Session.Store.Driver)
	}
	if cfg.Session.SaveDebounce != 500*time.Millisecond {
		t.Errorf("default Session.SaveDebounce = %v, want 500ms", cfg.Session.SaveDebounce)
	}
	if cfg.Dialogue.DefaultAdvanceDelay != 1*time.Second {
		t.Errorf("default Dialogue.DefaultAdvanceDelay = %v, want 1s", cfg.Dialogue.DefaultAdvanceDelay)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TASKMODE_SERVER_PORT", "3000")
	t.Setenv("TASKMODE_IDENTITY_ISSUER", "https://env-issuer.com")
	t.Setenv("TASKMODE_IDENTITY_JWKS_URL", "https://env-issuer.com/.well-known/jwks.json")
	t.Setenv("TASKMODE_IDENTITY_AUDIENCE", "env-audience")
	t.Setenv("TASKMODE_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Identity.Issuer != "https://env-issuer.com" {
		t.Errorf("Identity.Issuer = %q, want env override", cfg.Identity.Issuer)
	}
	if cfg.Identity.Audience != "env-audience" {
		t.Errorf("Identity.Audience = %q, want env override", cfg.Identity.Audience)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
}

func TestValidate_invalid_port(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.JWKSURL = "https://auth.example.com/.well-known/jwks.json"
	cfg.Identity.Audience = "taskmode-ui"
	cfg.Server.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() with port 0 should return error")
	}
}

func TestValidate_store_driver(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.JWKSURL = "https://auth.example.com/.well-known/jwks.json"
	cfg.Identity.Audience = "taskmode-ui"

	cfg.Session.Store.Driver = "dynamo"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with unknown driver should return error")
	}

	cfg.Session.Store.Driver = "postgres"
	cfg.Session.Store.DSNEnv = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() postgres driver without dsn_env should return error")
	}

	cfg.Session.Store.DSNEnv = "TASKMODE_PG_DSN"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidate_greeting_endpoint(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.JWKSURL = "https://auth.example.com/.well-known/jwks.json"
	cfg.Identity.Audience = "taskmode-ui"
	cfg.Greeting.Enabled = true
	cfg.Greeting.Endpoint = ""

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() with greeting enabled but no endpoint should return error")
	}
}

func TestLoad_env_priority_over_file(t *testing.T) {
	// File sets port 9090, env sets 5555. Env wins.
	t.Setenv("TASKMODE_SERVER_PORT", "5555")
	// Ensure identity fields are set so validation passes
	_ = os.Setenv("TASKMODE_IDENTITY_ISSUER", "")
	_ = os.Setenv("TASKMODE_IDENTITY_JWKS_URL", "")
	_ = os.Setenv("TASKMODE_IDENTITY_AUDIENCE", "")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 5555 {
		t.Errorf("Server.Port = %d, want 5555 (env override beats file)", cfg.Server.Port)
	}
}
