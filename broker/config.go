package broker

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dermesser/titanic/store"
	"github.com/dermesser/titanic/transport"
	"gopkg.in/yaml.v3"
)

/*
Config describes a broker process. It is usually loaded from a YAML file:

	frontend: tcp://*:5555
	backend: tcp://*:5556
	store:
	  backend: pebble
	  path: /var/lib/titanic
	heartbeat:
	  interval: 2500ms
	  liveness: 3
*/
type Config struct {
	// Endpoint bound for clients (REQ sockets)
	Frontend string `yaml:"frontend"`
	// Endpoint bound for workers (DEALER sockets)
	Backend string `yaml:"backend"`

	Store     StoreConfig     `yaml:"store"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`

	// Soft limit of queued requests per service; above 80% a warning is logged.
	BacklogWarning int `yaml:"backlog_warning"`

	Socket transport.SocketConfig `yaml:"socket"`
}

type StoreConfig struct {
	// store.BACKEND_PEBBLE or store.BACKEND_SQLITE
	Backend string `yaml:"backend"`
	// Directory (pebble) or database file (sqlite)
	Path string `yaml:"path"`
}

type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval"`
	// Number of intervals a worker may stay silent before it is evicted.
	Liveness int `yaml:"liveness"`
}

// Expiry is the time after which a silent worker is evicted.
func (h HeartbeatConfig) Expiry() time.Duration {
	return h.Interval * time.Duration(h.Liveness)
}

func DefaultConfig() *Config {
	socket := transport.DefaultSocketConfig()
	socket.RouterMandatory = true
	// The event loop must never block on a slow peer.
	socket.SendTimeout = 100 * time.Millisecond

	return &Config{
		Frontend:       "tcp://*:5555",
		Backend:        "tcp://*:5556",
		Store:          StoreConfig{Backend: store.BACKEND_PEBBLE, Path: "titanic.db"},
		Heartbeat:      HeartbeatConfig{Interval: 2500 * time.Millisecond, Liveness: 3},
		BacklogWarning: 1000,
		Socket:         socket,
	}
}

// LoadConfig reads a YAML config file. Fields absent from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Frontend == "" {
		errs = append(errs, errors.New("frontend endpoint is required"))
	}
	if c.Backend == "" {
		errs = append(errs, errors.New("backend endpoint is required"))
	}
	if c.Frontend != "" && c.Frontend == c.Backend {
		errs = append(errs, errors.New("frontend and backend must be different endpoints"))
	}
	if c.Store.Backend != store.BACKEND_PEBBLE && c.Store.Backend != store.BACKEND_SQLITE {
		errs = append(errs, fmt.Errorf("store.backend must be %q or %q", store.BACKEND_PEBBLE, store.BACKEND_SQLITE))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Heartbeat.Interval <= 0 {
		errs = append(errs, errors.New("heartbeat.interval must be positive"))
	}
	if c.Heartbeat.Liveness < 1 {
		errs = append(errs, errors.New("heartbeat.liveness must be at least 1"))
	}
	if c.BacklogWarning < 1 {
		errs = append(errs, errors.New("backlog_warning must be at least 1"))
	}
	if err := c.Socket.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("socket: %w", err))
	}

	return errors.Join(errs...)
}

func (c *Config) options() Options {
	return Options{WorkerExpiry: c.Heartbeat.Expiry(), BacklogWarning: c.BacklogWarning}
}
