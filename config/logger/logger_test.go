package logger

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Merge(t *testing.T) {
	c := DefaultConfig.Merge(Config{Level: "debug"})
	assert.Equal(t, Config{Level: "debug", Format: "human", Timestamp: "short"}, c)
	require.NoError(t, c.Check())

	assert.Equal(t, DefaultConfig, DefaultConfig.Merge(Config{}))
}

func TestConfig_Check(t *testing.T) {
	tests := []struct {
		name   string
		c      Config
		errMsg string
	}{
		{"default", DefaultConfig, ""},
		{"no timestamp", Config{Level: "info", Format: "json"}, ""},
		{"level", Config{Level: "loud", Format: "human"}, "log.level"},
		{"format", Config{Level: "info", Format: "xml"}, "log.format"},
		{"timestamp", Config{Level: "info", Format: "human", Timestamp: "epoch"}, "log.timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.c.Check()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestRegisterFlagsWith(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlagsWith(fs.StringVar)
	t.Cleanup(func() { FlagConfig = Config{} })

	require.NoError(t, fs.Parse([]string{"--log-level", "debug", "--log-format=json"}))
	assert.Equal(t, Config{Level: "debug", Format: "json"}, FlagConfig)
	assert.Contains(t, fs.Lookup("log-timestamp").Usage, "default: short")
}

func TestApply(t *testing.T) {
	l := logrus.New()
	require.NoError(t, Apply(l, Config{Level: "warning", Format: "json"}))
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	require.NoError(t, Apply(l, DefaultConfig))
	assert.IsType(t, &SessionFormatter{}, l.Formatter)

	assert.Error(t, Apply(l, Config{Level: "loud", Format: "human"}))
	assert.Equal(t, logrus.InfoLevel, l.GetLevel(), "unchanged on error")
}

func TestSessionFormatter(t *testing.T) {
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&SessionFormatter{
		Parent: &logrus.TextFormatter{DisableColors: true, DisableTimestamp: true},
	})

	l.WithField("session", int64(1001)).Info("New image")
	assert.Contains(t, buf.String(), `msg="[1001         ] New image"`)

	buf.Reset()
	l.WithFields(logrus.Fields{"session": int64(1001), "frame": 2.0}).Info("Frame sent")
	assert.Contains(t, buf.String(), `msg="[1001@2       ] Frame sent"`)

	buf.Reset()
	l.Info("plain")
	assert.Contains(t, buf.String(), `msg=plain`)
}
