// Package healthtracker reports consecutive failures of a recurring
// activity, like reading a renderer stream, through healthz.
package healthtracker

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wojas/go-healthz"
	"go.uber.org/atomic"
)

// MinEvaluationInterval is the minimum interval allowed between healthz evaluation
const MinEvaluationInterval = time.Second

type HealthConfig struct {
	ErrorDuration      time.Duration `yaml:"error_duration"`
	WarnDuration       time.Duration `yaml:"warn_duration"`
	ErrorSequence      uint32        `yaml:"error_sequence"`
	WarnSequence       uint32        `yaml:"warn_sequence"`
	EvaluationInterval time.Duration `yaml:"interval"`
}

// DefaultConfig tolerates a few broken renderer connections, since a
// killed render is indistinguishable from a protocol failure.
var DefaultConfig = HealthConfig{
	ErrorDuration:      10 * time.Minute,
	WarnDuration:       time.Minute,
	ErrorSequence:      10,
	WarnSequence:       3,
	EvaluationInterval: 5 * time.Second,
}

// Validated returns a copy with out of range values corrected
func (hc HealthConfig) Validated() HealthConfig {
	if hc.EvaluationInterval < MinEvaluationInterval {
		hc.EvaluationInterval = MinEvaluationInterval
	}
	if hc.ErrorDuration < 0 {
		hc.ErrorDuration = 0
	}
	if hc.WarnDuration < 0 {
		hc.WarnDuration = 0
	}
	if hc.WarnSequence == 0 {
		hc.WarnSequence = 1
	}
	if hc.ErrorSequence < hc.WarnSequence {
		hc.ErrorSequence = hc.WarnSequence
	}
	return hc
}

type HealthTracker struct {
	Config   HealthConfig
	sequence atomic.Uint32
	since    atomic.Time
	prefix   string
	activity string
	logger   logrus.FieldLogger
}

// New returns a HealthTracker. It is not registered with healthz until
// Register is called.
func New(hc HealthConfig, prefix string, activity string) *HealthTracker {
	return &HealthTracker{
		Config:   hc.Validated(),
		prefix:   prefix,
		activity: activity,
		logger:   logrus.WithField("healthtracker", prefix),
	}
}

// Register adds the sequence and duration checks to healthz
func (ht *HealthTracker) Register() {
	healthz.Register(fmt.Sprintf("%s_failed_attempts", ht.prefix), ht.Config.EvaluationInterval, ht.CheckSequence)
	healthz.Register(fmt.Sprintf("%s_failed_duration", ht.prefix), ht.Config.EvaluationInterval, ht.CheckDuration)
	ht.logger.Info("registered tracker for consecutive failures")
}

// CheckSequence evaluates the number of consecutive failures
func (ht *HealthTracker) CheckSequence() error {
	conseqFails := ht.sequence.Load()
	if conseqFails >= ht.Config.ErrorSequence {
		ht.logger.Warnf("%d consecutive failures is violating the error threshold (%d)", conseqFails, ht.Config.ErrorSequence)
		return fmt.Errorf("failed to %s %d consecutive times", ht.activity, conseqFails)
	} else if conseqFails >= ht.Config.WarnSequence {
		ht.logger.Warnf("%d consecutive failures is violating the warning threshold (%d)", conseqFails, ht.Config.WarnSequence)
		return healthz.Warnf("failed to %s %d consecutive times", ht.activity, conseqFails)
	}
	return nil
}

// CheckDuration evaluates how long the activity has been failing
func (ht *HealthTracker) CheckDuration() error {
	if ht.sequence.Load() == 0 {
		return nil
	}
	failingFor := time.Since(ht.since.Load()).Round(time.Second)
	if failingFor >= ht.Config.ErrorDuration {
		ht.logger.Warnf("failure for %s is violating the error threshold (%s)", failingFor, ht.Config.ErrorDuration)
		return fmt.Errorf("failed to %s for %s", ht.activity, failingFor)
	} else if failingFor >= ht.Config.WarnDuration {
		ht.logger.Warnf("failure for %s is violating the warning threshold (%s)", failingFor, ht.Config.WarnDuration)
		return healthz.Warnf("failed to %s for %s", ht.activity, failingFor)
	}
	return nil
}

func (ht *HealthTracker) AddFailure() {
	failures := ht.sequence.Inc()
	if failures == 1 {
		ht.since.Store(time.Now())
	}
	ht.logger.Debugf("incremented consecutive failures to %d", failures)
}

func (ht *HealthTracker) AddSuccess() {
	if ht.sequence.Swap(0) > 0 {
		ht.logger.Debug("tracked successful attempt, resetting failures")
	}
}

// Failures returns the current number of consecutive failures
func (ht *HealthTracker) Failures() uint32 {
	return ht.sequence.Load()
}
