package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.Client.UserID = "1"
	cfg.Server.Users = []User{{ID: "1", Name: "alice"}}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Client.RequestTimeout.Duration != 15*time.Second {
		t.Errorf("RequestTimeout = %v, want 15s", loaded.Client.RequestTimeout)
	}
	if len(loaded.Server.Users) != 1 || loaded.Server.Users[0].Name != "alice" {
		t.Errorf("Users = %+v", loaded.Server.Users)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Client.ServerURL != Default().Client.ServerURL {
		t.Errorf("ServerURL = %q, want default", cfg.Client.ServerURL)
	}

	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
default_profile = "bob"

[client]
user_id = "2"
request_timeout = "3s"

[[server.users]]
id = "1"
name = "alice"
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOrDefault(path)
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Client.UserID != "2" || cfg.Client.RequestTimeout.Duration != 3*time.Second {
		t.Errorf("client = %+v", cfg.Client)
	}
	if cfg.Client.ServerURL == "" || cfg.Log.Level != "info" {
		t.Error("unset fields should keep their defaults")
	}
}

func TestLoadOrDefaultBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[client]\nrequest_timeout = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadOrDefault(path); err == nil {
		t.Error("expected error for malformed duration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing url", func(c *Config) { c.Client.ServerURL = "" }, true},
		{"not http", func(c *Config) { c.Client.ServerURL = "ftp://x" }, true},
		{"negative timeout", func(c *Config) { c.Client.RequestTimeout.Duration = -time.Second }, true},
		{"duplicate users", func(c *Config) { c.Server.Users = []User{{ID: "1"}, {ID: "1"}} }, true},
		{"user without id", func(c *Config) { c.Server.Users = []User{{Name: "x"}} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
