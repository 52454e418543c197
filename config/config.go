// Package config implements the YAML config file parser
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/aton-render/atonstream/config/logger"
	"github.com/aton-render/atonstream/status/healthtracker"
	"github.com/aton-render/atonstream/status/starttracker"
	"github.com/aton-render/atonstream/wire"
)

// DefaultMaxConnections is the default limit of renderers streaming at once
const DefaultMaxConnections = 16

// Config is the config root object
type Config struct {
	Listen  Listen                     `yaml:"listen"`
	Store   Store                      `yaml:"store"`
	HTTP    HTTP                       `yaml:"http"`
	Health  healthtracker.HealthConfig `yaml:"health"`
	Startup starttracker.StartConfig   `yaml:"startup"`
	Log     logger.Config              `yaml:"log"`

	// Set to current version by main
	Version string `yaml:"-"`
}

// Listen configures the renderer listener
type Listen struct {
	Address        string `yaml:"address"` // Host to bind to, empty for all
	Port           int    `yaml:"port"`
	MaxConnections int    `yaml:"max_connections"`
}

// Addr returns the host:port to listen on
func (l Listen) Addr() string {
	return net.JoinHostPort(l.Address, strconv.Itoa(l.Port))
}

// Store configures how images are kept
type Store struct {
	MultiFrame bool          `yaml:"multi_frame"` // Keep one image per frame
	EnableAOVs bool          `yaml:"enable_aovs"` // Keep all AOVs, not only the first
	LockWarn   time.Duration `yaml:"lock_warn"`   // Warn when the store is locked longer
}

// HTTP configures the HTTP server with Prometheus metrics and status page
type HTTP struct {
	Address string `yaml:"address"` // Address like ":9202"
}

// Check validates a Config instance
func (c Config) Check() error {
	if err := c.Log.Check(); err != nil {
		return err
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port: out of range: %d", c.Listen.Port)
	}
	if c.Listen.MaxConnections < 1 {
		return fmt.Errorf("listen.max_connections: must be at least 1")
	}
	if c.Store.LockWarn < 0 {
		return fmt.Errorf("store.lock_warn: negative duration")
	}
	if c.HTTP.Address != "" {
		if _, _, err := net.SplitHostPort(c.HTTP.Address); err != nil {
			return fmt.Errorf("http.address: %v", err)
		}
	}
	return nil
}

// String returns the config as a YAML string
func (c Config) String() string {
	y, err := yaml.Marshal(c)
	if err != nil {
		logrus.Panicf("YAML marshal of config failed: %v", err) // Should never happen
	}
	return string(y)
}

// LoadYAML loads config from YAML. Any set value overwrites any existing value,
// but omitted keys are untouched.
func (c *Config) LoadYAML(yamlContents []byte, expandEnv bool) error {
	if expandEnv {
		yamlContents = []byte(os.ExpandEnv(string(yamlContents)))
	}
	return yaml.UnmarshalStrict(yamlContents, c)
}

// LoadYAMLFile loads config from a YAML file. Any set value overwrites any existing value,
// but omitted keys are untouched.
func (c *Config) LoadYAMLFile(fpath string, expandEnv bool) error {
	contents, err := os.ReadFile(fpath)
	if err != nil {
		return errors.Wrap(err, "open yaml file")
	}
	return c.LoadYAML(contents, expandEnv)
}

// LoadEnv applies the ATON_PORT environment variable
func (c *Config) LoadEnv() error {
	s := os.Getenv(wire.EnvPort)
	if s == "" {
		return nil
	}
	port, err := strconv.Atoi(s)
	if err != nil {
		return errors.Wrapf(err, "%s", wire.EnvPort)
	}
	c.Listen.Port = port
	return nil
}

// Default returns a Config with default settings
func Default() Config {
	return Config{
		Listen: Listen{
			Port:           wire.DefaultPort,
			MaxConnections: DefaultMaxConnections,
		},
		Store: Store{
			EnableAOVs: true,
			LockWarn:   time.Second,
		},
		HTTP: HTTP{
			Address: ":9202",
		},
		Health:  healthtracker.DefaultConfig,
		Startup: starttracker.DefaultConfig,
		Log:     logger.DefaultConfig,
	}
}
