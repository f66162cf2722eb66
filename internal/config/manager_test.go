package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, body string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return NewManager(path)
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.json", `{
		"telegram": {"token": "123:abc"},
		"logging": {"level": "debug", "console": true},
		"storage": {"driver": "sqlite", "path": "./bot.db"},
		"crypt": {"key": ""},
		"sweep": {"schedule": "@hourly", "workers": 2}
	}`)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" || cfg.Sweep.Workers != 2 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
logging:
  level: info
storage:
  driver: memory
crypt:
  key: ""
sweep:
  schedule: "0 * * * *"
`)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.Driver != "memory" || cfg.Sweep.Schedule != "0 * * * *" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	m := writeConfig(t, "config.json", `{
		"telegram": {"token": "x"},
		"logging": {},
		"storage": {},
		"crypt": {"key": ""},
		"sweep": {},
		"typo_section": {}
	}`)
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	hour := func(h int) *int { return &h }
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "x"},
			Crypt:    CryptConfig{Key: strings.Repeat("ab", 32)},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"no token", func(c *Config) { c.Telegram.Token = " " }, false},
		{"short key", func(c *Config) { c.Crypt.Key = "abcd" }, false},
		{"non-hex key", func(c *Config) { c.Crypt.Key = strings.Repeat("zz", 32) }, false},
		{"empty key ok", func(c *Config) { c.Crypt.Key = "" }, true},
		{"bad hour", func(c *Config) { c.Sweep.DefaultHour = hour(24) }, false},
		{"good hour", func(c *Config) { c.Sweep.DefaultHour = hour(0) }, true},
		{"negative workers", func(c *Config) { c.Sweep.Workers = -1 }, false},
		{"bad timezone", func(c *Config) { c.Sweep.Timezone = "Mars/Olympus" }, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base()
			tt.mutate(cfg)
			err := Validate(cfg)
			if (err == nil) != tt.ok {
				t.Fatalf("Validate() err = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}
