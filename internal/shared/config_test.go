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

		if config.Database.Path != "./dsx.db" {
			t.Errorf("expected database path ./dsx.db, got %s", config.Database.Path)
		}

		if config.Migration.Batch() != 5000 {
			t.Errorf("expected batch size 5000, got %d", config.Migration.Batch())
		}

		if config.Migration.Delay() != 20*time.Second {
			t.Errorf("expected publish delay 20s, got %v", config.Migration.Delay())
		}

		if !config.Migration.HardPurge {
			t.Error("expected hard purge to be enabled by default")
		}

		if config.Client.RequestTimeout() != 60*time.Second {
			t.Errorf("expected client timeout 60s, got %v", config.Client.RequestTimeout())
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

		testConfig := `[source]
url = "https://open.example.org"
token = "source-token"

[target]
url = "https://staging.example.org"
token = "target-token"

[migration]
batch_size = 250
publish_delay = "2s"
hard_purge = false
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Source.Token != "source-token" {
			t.Errorf("expected source token, got %s", config.Source.Token)
		}
		if config.Migration.Batch() != 250 {
			t.Errorf("expected batch size 250, got %d", config.Migration.Batch())
		}
		if config.Migration.Delay() != 2*time.Second {
			t.Errorf("expected publish delay 2s, got %v", config.Migration.Delay())
		}
		if config.Migration.HardPurge {
			t.Error("expected hard purge to be disabled")
		}
		if config.Database.Path != "./dsx.db" {
			t.Errorf("unset sections should keep defaults, got database path %s", config.Database.Path)
		}
		if err := config.Validate(); err != nil {
			t.Errorf("expected valid config, got %v", err)
		}
	})

	t.Run("LoadConfig with malformed file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[source\nurl ="), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		_, err := LoadConfig(configPath)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("SaveConfig round trip", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		config := DefaultConfig()
		config.Target.Token = "saved-token"

		if err := SaveConfig(configPath, config); err != nil {
			t.Fatalf("failed to save config: %v", err)
		}

		loaded, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load saved config: %v", err)
		}
		if loaded.Target.Token != "saved-token" {
			t.Errorf("expected saved token, got %s", loaded.Target.Token)
		}
	})
}

func TestConfigValidate(t *testing.T) {
	tc := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{
			name:    "missing source",
			mutate:  func(c *Config) { c.Source.URL = "" },
			wantErr: ErrMissingEndpoint,
		},
		{
			name:    "missing target",
			mutate:  func(c *Config) { c.Target.URL = "" },
			wantErr: ErrMissingEndpoint,
		},
		{
			name:    "same endpoint",
			mutate:  func(c *Config) { c.Target.URL = c.Source.URL },
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "bad delay",
			mutate:  func(c *Config) { c.Migration.PublishDelay = "soon" },
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
