package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mailstash.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
store_path: /tmp/mail.db
log_level: debug
sync_interval: 2m
batch_limit: 50
accounts:
  - email: a@example.com
    provider: gmail
    imap_host: imap.gmail.com
    imap_port: 993
    imap_username: a@example.com
    imap_password: secret
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validating config: %v", err)
	}

	if cfg.StorePath != "/tmp/mail.db" {
		t.Errorf("store_path = %q", cfg.StorePath)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log_level = %q", cfg.LogLevel)
	}
	if cfg.SyncInterval != 2*time.Minute {
		t.Errorf("sync_interval = %v", cfg.SyncInterval)
	}
	if cfg.BatchLimit != 50 {
		t.Errorf("batch_limit = %d", cfg.BatchLimit)
	}
	if len(cfg.Accounts) != 1 {
		t.Fatalf("got %d accounts, want 1", len(cfg.Accounts))
	}
	if cfg.Accounts[0].IMAPHost != "imap.gmail.com" {
		t.Errorf("imap_host = %q", cfg.Accounts[0].IMAPHost)
	}
}

func TestValidateFillsAccountDefaults(t *testing.T) {
	path := writeConfig(t, `
accounts:
  - email: a@example.com
    imap_host: mail.example.com
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validating config: %v", err)
	}

	acc := cfg.Accounts[0]
	if acc.Provider != "imap-generic" {
		t.Errorf("provider default = %q", acc.Provider)
	}
	if acc.IMAPPort != 993 {
		t.Errorf("imap_port default = %d", acc.IMAPPort)
	}
	if acc.IMAPUsername != "a@example.com" {
		t.Errorf("imap_username default = %q", acc.IMAPUsername)
	}
}

func TestDefaultsWithoutFile(t *testing.T) {
	// No config file anywhere: defaults carry the daemon.
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("loading defaults: %v", err)
	}

	if cfg.StorePath == "" {
		t.Error("store_path default should not be empty")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log_level default = %q", cfg.LogLevel)
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("sync_interval default = %v", cfg.SyncInterval)
	}
	if cfg.BatchLimit != 100 {
		t.Errorf("batch_limit default = %d", cfg.BatchLimit)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{
			name: "missing email",
			yaml: `
accounts:
  - imap_host: mail.example.com
`,
		},
		{
			name: "missing imap host",
			yaml: `
accounts:
  - email: a@example.com
`,
		},
		{
			name: "duplicate account",
			yaml: `
accounts:
  - email: a@example.com
    imap_host: mail.example.com
  - email: a@example.com
    imap_host: mail.example.com
`,
		},
		{
			name: "batch limit out of range",
			yaml: `
batch_limit: 5000
accounts: []
`,
		},
		{
			name: "sync interval too small",
			yaml: `
sync_interval: 1ms
accounts: []
`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tc.yaml))
			if err != nil {
				t.Fatalf("loading config: %v", err)
			}
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
