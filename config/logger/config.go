package logger

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

var (
	LogLevels     = []string{"debug", "info", "warning", "error", "fatal"}
	LogFormats    = []string{"human", "logfmt", "json"}
	LogTimestamps = []string{"short", "disable", "full"}
)

// Config configures logging
type Config struct {
	Level     string `yaml:"level"`     // One of LogLevels
	Format    string `yaml:"format"`    // One of LogFormats
	Timestamp string `yaml:"timestamp"` // One of LogTimestamps, empty for short
}

// DefaultConfig defines the default configuration
var DefaultConfig = Config{
	Level:     "info",
	Format:    "human",
	Timestamp: "short",
}

// FlagConfig receives the flag values. Flags default to the empty string,
// so that Merge only overrides what was set on the command line.
var FlagConfig = Config{}

// setting describes one Config field for flags, checks and merging
type setting struct {
	key      string
	options  []string
	optional bool
	field    func(c *Config) *string
}

var settings = []setting{
	{"level", LogLevels, false, func(c *Config) *string { return &c.Level }},
	{"format", LogFormats, false, func(c *Config) *string { return &c.Format }},
	{"timestamp", LogTimestamps, true, func(c *Config) *string { return &c.Timestamp }},
}

// StringVarFlagFunc has the signature of flag.StringVar and pflag's StringVar
type StringVarFlagFunc func(*string, string, string, string)

// RegisterFlagsWith registers --log-level, --log-format and --log-timestamp
// with stringVar, like rootCmd.PersistentFlags().StringVar.
func RegisterFlagsWith(stringVar StringVarFlagFunc) {
	for _, s := range settings {
		def := *s.field(&DefaultConfig)
		usage := fmt.Sprintf("Log %s (default: %s; options: %s)",
			s.key, def, strings.Join(s.options, ", "))
		stringVar(s.field(&FlagConfig), "log-"+s.key, "", usage)
	}
}

// Check validates a Config instance
func (c Config) Check() error {
	for _, s := range settings {
		v := *s.field(&c)
		if v == "" && s.optional {
			continue
		}
		if !lo.Contains(s.options, v) {
			return fmt.Errorf("log.%s: must be one of: %s", s.key, strings.Join(s.options, ", "))
		}
	}
	return nil
}

// Merge returns c with every non-empty value of o applied on top
func (c Config) Merge(o Config) Config {
	for _, s := range settings {
		if v := *s.field(&o); v != "" {
			*s.field(&c) = v
		}
	}
	return c
}

// Formatter returns the logrus formatter for the Config
func (c Config) Formatter() logrus.Formatter {
	noTimestamp := c.Timestamp == "disable"
	fullTimestamp := c.Timestamp == "full"

	switch c.Format {
	case "json":
		return &logrus.JSONFormatter{DisableTimestamp: noTimestamp}
	case "logfmt":
		return &logrus.TextFormatter{
			DisableColors:    true, // this sets logfmt
			DisableTimestamp: noTimestamp,
			FullTimestamp:    fullTimestamp,
		}
	default:
		return &SessionFormatter{
			Parent: &logrus.TextFormatter{
				DisableTimestamp: noTimestamp,
				FullTimestamp:    fullTimestamp,
			},
		}
	}
}

// Apply configures a logger according to Config
func Apply(l *logrus.Logger, c Config) error {
	if err := c.Check(); err != nil {
		return err
	}
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return errors.Wrap(err, "log.level")
	}
	l.SetFormatter(c.Formatter())
	l.SetLevel(level)
	return nil
}

// Configure configures the standard logrus logger. The Config should
// have been checked before, an invalid one only logs a warning.
func Configure(c Config) {
	if err := Apply(logrus.StandardLogger(), c); err != nil {
		logrus.WithError(err).Warn("Ignoring invalid log config")
	}
}
