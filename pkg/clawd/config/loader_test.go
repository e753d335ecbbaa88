package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseOverlaysDefaults(t *testing.T) {
	t.Parallel()
	yaml := []byte(`
name: myclaw
gateway:
  address: "0.0.0.0:9000"
queue:
  global_concurrency: 8
`)
	cfg, err := Parse(yaml)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Name != "myclaw" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.Gateway.Address != "0.0.0.0:9000" {
		t.Errorf("Gateway.Address = %q", cfg.Gateway.Address)
	}
	if cfg.Queue.GlobalConcurrency != 8 {
		t.Errorf("GlobalConcurrency = %d", cfg.Queue.GlobalConcurrency)
	}
	// Untouched fields keep their defaults.
	if cfg.Queue.SessionConcurrency != 1 {
		t.Errorf("SessionConcurrency = %d, want default 1", cfg.Queue.SessionConcurrency)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %q, want default", cfg.DataDir)
	}
}

func TestParseRejectsInvalidYAML(t *testing.T) {
	t.Parallel()
	if _, err := Parse([]byte("gateway: [not a map")); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadFromFileExpandsEnvVars(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clawd.yaml")
	content := "name: ${CLAWD_TEST_NAME}\ngateway:\n  auth_token: ${CLAWD_TEST_UNSET_VAR}\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CLAWD_TEST_NAME", "expanded")
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Name != "expanded" {
		t.Errorf("Name = %q, want env expansion", cfg.Name)
	}
	// Unset vars keep the placeholder so it never looks like a real token.
	if !IsEnvReference(cfg.Gateway.AuthToken) {
		t.Errorf("AuthToken = %q, want unexpanded placeholder", cfg.Gateway.AuthToken)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	t.Parallel()
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestResolveGatewayTokenFromEnv(t *testing.T) {
	t.Setenv("CLAWD_GATEWAY_TOKEN", "env-token")
	cfg := DefaultConfig()
	cfg.Gateway.AuthToken = "config-token"

	ResolveGatewayToken(cfg, nil)
	// Keyring is unavailable in tests; env beats the config value.
	if cfg.Gateway.AuthToken != "env-token" {
		t.Errorf("AuthToken = %q, want env-token", cfg.Gateway.AuthToken)
	}
}

func TestResolveGatewayTokenClearsPlaceholder(t *testing.T) {
	t.Setenv("CLAWD_GATEWAY_TOKEN", "")
	cfg := DefaultConfig()
	cfg.Gateway.AuthToken = "${NEVER_SET_VAR}"

	ResolveGatewayToken(cfg, nil)
	if cfg.Gateway.AuthToken != "" {
		t.Errorf("AuthToken = %q, want cleared placeholder", cfg.Gateway.AuthToken)
	}
}

func TestPaths(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.DataDir = "/var/lib/clawd"
	if got := cfg.DatabasePath(); got != "/var/lib/clawd/clawd.db" {
		t.Errorf("DatabasePath = %q", got)
	}
	if got := cfg.SubagentSnapshotPath(); got != "/var/lib/clawd/subagent_runs.json" {
		t.Errorf("SubagentSnapshotPath = %q", got)
	}
	cfg.Subagents.SnapshotFile = "/tmp/runs.json"
	if got := cfg.SubagentSnapshotPath(); got != "/tmp/runs.json" {
		t.Errorf("SubagentSnapshotPath override = %q", got)
	}
}
