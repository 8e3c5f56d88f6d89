package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("build-host.example.com", "kiln")

	if cfg.Host != "build-host.example.com" {
		t.Errorf("expected host build-host.example.com, got %s", cfg.Host)
	}
	if cfg.User != "kiln" {
		t.Errorf("expected user kiln, got %s", cfg.User)
	}
	if cfg.Port != 22 {
		t.Errorf("expected port 22, got %d", cfg.Port)
	}
	if cfg.AuthMethod != AuthMethodKey {
		t.Errorf("expected key auth, got %s", cfg.AuthMethod)
	}
	if !cfg.StrictHostKeyChecking {
		t.Error("expected strict host key checking by default")
	}
	if cfg.ConnectTimeout != 30*time.Second {
		t.Errorf("expected connect timeout 30s, got %v", cfg.ConnectTimeout)
	}
	if cfg.CommandTimeout != 30*time.Minute {
		t.Errorf("expected command timeout 30m, got %v", cfg.CommandTimeout)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name: "valid password config",
			modify: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = "secret"
			},
			wantErr: false,
		},
		{
			name:    "missing host",
			modify:  func(c *Config) { c.Host = "" },
			wantErr: true,
		},
		{
			name:    "invalid port",
			modify:  func(c *Config) { c.Port = 0 },
			wantErr: true,
		},
		{
			name:    "port out of range",
			modify:  func(c *Config) { c.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "missing user",
			modify:  func(c *Config) { c.User = "" },
			wantErr: true,
		},
		{
			name: "password auth without password",
			modify: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = ""
			},
			wantErr: true,
		},
		{
			name: "key auth with missing key file",
			modify: func(c *Config) {
				c.AuthMethod = AuthMethodKey
				c.PrivateKeyPath = "/nonexistent/key"
			},
			wantErr: true,
		},
		{
			name: "unsupported auth method",
			modify: func(c *Config) {
				c.AuthMethod = AuthMethod("kerberos")
			},
			wantErr: true,
		},
		{
			name: "non-positive connect timeout",
			modify: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = "secret"
				c.ConnectTimeout = 0
			},
			wantErr: true,
		},
		{
			name: "non-positive command timeout",
			modify: func(c *Config) {
				c.AuthMethod = AuthMethodPassword
				c.Password = "secret"
				c.CommandTimeout = 0
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("build-host.example.com", "kiln")
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("expected no error, got %v", err)
			}
		})
	}
}

func TestConfigAddress(t *testing.T) {
	cfg := DefaultConfig("build-host.example.com", "kiln")
	cfg.Port = 2222

	if got := cfg.Address(); got != "build-host.example.com:2222" {
		t.Errorf("unexpected address %s", got)
	}
}

func TestClientConfigPasswordAuth(t *testing.T) {
	cfg := DefaultConfig("build-host.example.com", "kiln")
	cfg.AuthMethod = AuthMethodPassword
	cfg.Password = "secret"
	cfg.StrictHostKeyChecking = false

	clientConfig, err := cfg.clientConfig()
	if err != nil {
		t.Fatalf("clientConfig() error = %v", err)
	}

	if clientConfig.User != "kiln" {
		t.Errorf("expected user kiln, got %s", clientConfig.User)
	}
	// Password plus keyboard-interactive fallback.
	if len(clientConfig.Auth) != 2 {
		t.Errorf("expected 2 auth methods, got %d", len(clientConfig.Auth))
	}
	if clientConfig.Timeout != cfg.ConnectTimeout {
		t.Errorf("expected timeout %v, got %v", cfg.ConnectTimeout, clientConfig.Timeout)
	}
}

func TestClientConfigKeyAuth(t *testing.T) {
	keyPath := writeTestKey(t)

	cfg := DefaultConfig("build-host.example.com", "kiln")
	cfg.AuthMethod = AuthMethodKey
	cfg.PrivateKeyPath = keyPath
	cfg.StrictHostKeyChecking = false

	clientConfig, err := cfg.clientConfig()
	if err != nil {
		t.Fatalf("clientConfig() error = %v", err)
	}
	if len(clientConfig.Auth) != 1 {
		t.Errorf("expected 1 auth method, got %d", len(clientConfig.Auth))
	}
}

func TestClientConfigBadKey(t *testing.T) {
	keyPath := filepath.Join(t.TempDir(), "garbage_key")
	if err := os.WriteFile(keyPath, []byte("not a key"), 0o600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}

	cfg := DefaultConfig("build-host.example.com", "kiln")
	cfg.AuthMethod = AuthMethodKey
	cfg.PrivateKeyPath = keyPath
	cfg.StrictHostKeyChecking = false

	if _, err := cfg.clientConfig(); err == nil {
		t.Error("expected error for unparseable key")
	}
}

// writeTestKey generates an ed25519 private key in OpenSSH PEM format and
// writes it to a temp file.
func writeTestKey(t *testing.T) string {
	t.Helper()

	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	pemBlock, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	keyPath := filepath.Join(t.TempDir(), "test_key")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(pemBlock), 0o600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
	return keyPath
}
