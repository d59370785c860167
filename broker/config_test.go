package broker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dermesser/titanic/store"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Error(err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "titanic.yaml")
	content := `
frontend: tcp://127.0.0.1:7000
store:
  backend: sqlite
  path: /tmp/titanic.sqlite
heartbeat:
  interval: 500ms
socket:
  send_hwm: 100
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if err = cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	if cfg.Frontend != "tcp://127.0.0.1:7000" || cfg.Store.Backend != store.BACKEND_SQLITE {
		t.Errorf("unexpected config %+v", cfg)
	}
	// Unset values keep their defaults
	if cfg.Backend != DefaultConfig().Backend || cfg.Heartbeat.Liveness != 3 {
		t.Errorf("defaults were lost: %+v", cfg)
	}
	if cfg.Heartbeat.Expiry() != 1500*time.Millisecond {
		t.Error("unexpected expiry", cfg.Heartbeat.Expiry())
	}
	if cfg.Socket.SendHWM != 100 || !cfg.Socket.RouterMandatory {
		t.Errorf("unexpected socket config %+v", cfg.Socket)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"no frontend":     func(c *Config) { c.Frontend = "" },
		"same endpoints":  func(c *Config) { c.Backend = c.Frontend },
		"bad backend":     func(c *Config) { c.Store.Backend = "bolt" },
		"no store path":   func(c *Config) { c.Store.Path = "" },
		"zero interval":   func(c *Config) { c.Heartbeat.Interval = 0 },
		"zero liveness":   func(c *Config) { c.Heartbeat.Liveness = 0 },
		"negative linger": func(c *Config) { c.Socket.Linger = -time.Second },
	}

	for name, modify := range cases {
		cfg := DefaultConfig()
		modify(cfg)
		if err := cfg.Validate(); err == nil {
			t.Error(name, ": accepted invalid config")
		}
	}
}
