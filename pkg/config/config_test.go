package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
log:
  level: debug
  format: json
procore:
  client_id: file-client
  company_id: "42"
  contract_cache_ttl: 2m
scheduler:
  daily_at: "30 5 * * 1-5"
  timezone: Australia/Sydney
  catch_up_delay: 10s
  sweep_overdue: false
contractor:
  names: ["Summit Builders", "Summit"]
auth:
  jwt_secret: test-secret
  token_expire_hours: 48
users:
  - email: ops@example.com
    password: pass
    name: Ops
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Procore.ClientID != "file-client" || cfg.Procore.CompanyID != "42" {
		t.Errorf("procore = %+v", cfg.Procore)
	}
	if cfg.Procore.ContractCacheTTL != 2*time.Minute {
		t.Errorf("cache ttl = %v", cfg.Procore.ContractCacheTTL)
	}
	if cfg.Scheduler.DailyAt != "30 5 * * 1-5" || cfg.Scheduler.CatchUpDelay != 10*time.Second {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Scheduler.Sweep() {
		t.Error("expected sweep_overdue=false to be honoured")
	}
	if len(cfg.Contractor.Names) != 2 {
		t.Errorf("contractor names = %v", cfg.Contractor.Names)
	}
	if u := cfg.FindUser("OPS@example.com"); u == nil || u.Name != "Ops" {
		t.Errorf("FindUser() = %+v", u)
	}
	if cfg.FindUser("nobody@example.com") != nil {
		t.Error("expected nil for unknown user")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d", cfg.Server.Port)
	}
	if cfg.Scheduler.DailyAt != "0 6 * * *" {
		t.Errorf("default daily_at = %q", cfg.Scheduler.DailyAt)
	}
	if cfg.Scheduler.CatchUpDelay != 5*time.Second {
		t.Errorf("default catch-up delay = %v", cfg.Scheduler.CatchUpDelay)
	}
	if !cfg.Scheduler.Sweep() {
		t.Error("overdue sweep should default to true")
	}
	if cfg.Procore.TokenURL != "https://login.procore.com/oauth/token" {
		t.Errorf("token url = %q", cfg.Procore.TokenURL)
	}
	if cfg.Auth.TokenExpireHours != 24 {
		t.Errorf("token expiry = %d", cfg.Auth.TokenExpireHours)
	}
	if cfg.Mail.Enabled() {
		t.Error("mail should be disabled without credentials")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PROCORE_CLIENT_ID", "env-client")
	t.Setenv("PROCORE_CLIENT_SECRET", "env-secret")
	t.Setenv("JWT_SECRET", "env-jwt")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("GEMINI_API_KEY", "gm-key")

	path := writeConfig(t, `
procore:
  client_id: file-client
ai:
  provider: anthropic
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Procore.ClientID != "env-client" || cfg.Procore.ClientSecret != "env-secret" {
		t.Errorf("procore credentials = %q/%q", cfg.Procore.ClientID, cfg.Procore.ClientSecret)
	}
	if cfg.Auth.JWTSecret != "env-jwt" {
		t.Errorf("jwt secret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.AI.APIKey != "sk-ant" {
		t.Errorf("ai key = %q, want the anthropic key", cfg.AI.APIKey)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestOAuth2Config(t *testing.T) {
	p := ProcoreConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		AuthURL:      "https://auth.example/authorize",
		TokenURL:     "https://auth.example/token",
		RedirectURL:  "https://app.example/api/oauth/callback",
	}
	oc := p.OAuth2()
	if oc.ClientID != "id" || oc.Endpoint.TokenURL != "https://auth.example/token" {
		t.Errorf("OAuth2() = %+v", oc)
	}
	if oc.Endpoint.AuthStyle != oauth2.AuthStyleInParams {
		t.Errorf("auth style = %v", oc.Endpoint.AuthStyle)
	}
}

func TestSchedulerLocation(t *testing.T) {
	loc, err := SchedulerConfig{Timezone: "UTC"}.Location()
	if err != nil || loc != time.UTC {
		t.Errorf("Location() = %v, %v", loc, err)
	}
	if _, err := (SchedulerConfig{Timezone: "Mars/Olympus"}).Location(); err == nil {
		t.Error("expected error for unknown zone")
	}
}
