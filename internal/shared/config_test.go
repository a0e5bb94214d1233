package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./qmx.db" {
			t.Errorf("expected database path ./qmx.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 3000 {
			t.Errorf("expected server port 3000, got %d", config.Server.Port)
		}

		if config.API.VersionCode != 13020508 {
			t.Errorf("expected version code 13020508, got %d", config.API.VersionCode)
		}

		if config.Login.MaxRedirects != 3 {
			t.Errorf("expected max redirects 3, got %d", config.Login.MaxRedirects)
		}

		if config.Login.PushHost != "mu.y.qq.com" {
			t.Errorf("expected push host mu.y.qq.com, got %s", config.Login.PushHost)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Database.Path != defaultConfig.Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[database]
path = "/custom/path.db"

[server]
host = "0.0.0.0"
port = 8080

[api]
enable_sign = true
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 8080 {
			t.Errorf("expected server port 8080, got %d", config.Server.Port)
		}

		if !config.API.EnableSign {
			t.Error("expected enable_sign to be true")
		}

		if config.API.Endpoint != "https://u.y.qq.com/cgi-bin/musicu.fcg" {
			t.Errorf("expected default endpoint to survive partial file, got %s", config.API.Endpoint)
		}
	})

	t.Run("LoadConfig Missing File", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
		if !errors.Is(err, ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
	})

	t.Run("LoadConfig Invalid TOML", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[api\nversion ="), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		_, err := LoadConfig(configPath)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("ApplyEnv", func(t *testing.T) {
		t.Setenv("QMX_DATABASE_PATH", "/env/qmx.db")
		t.Setenv("QMX_LOGIN_POLL_INTERVAL", "5")
		t.Setenv("QMX_API_ENABLE_SIGN", "true")

		config := DefaultConfig()
		if err := ApplyEnv(config); err != nil {
			t.Fatalf("failed to apply env: %v", err)
		}

		if config.Database.Path != "/env/qmx.db" {
			t.Errorf("expected database path from env, got %s", config.Database.Path)
		}
		if config.Login.PollEvery() != 5*time.Second {
			t.Errorf("expected 5s poll interval, got %v", config.Login.PollEvery())
		}
		if !config.API.EnableSign {
			t.Error("expected enable_sign from env")
		}
		if config.Server.Port != 3000 {
			t.Errorf("expected untouched server port 3000, got %d", config.Server.Port)
		}
	})

	t.Run("Login Durations Fallback", func(t *testing.T) {
		var l LoginConfig
		if l.PollEvery() != 2*time.Second {
			t.Errorf("expected 2s fallback, got %v", l.PollEvery())
		}
		if l.WXTimeout() != 30*time.Second {
			t.Errorf("expected 30s fallback, got %v", l.WXTimeout())
		}
	})
}
