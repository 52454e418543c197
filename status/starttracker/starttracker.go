// Package starttracker reports the startup phase to healthz until the
// renderer listener and the HTTP surface are up.
package starttracker

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wojas/go-healthz"
	"go.uber.org/atomic"
)

const (
	// MinEvaluationInterval is the minimum interval allowed between healthz evaluation
	MinEvaluationInterval = time.Second

	// CheckName is the healthz name of the startup check
	CheckName = "startup_in_progress"
)

// StartConfig configures the startup check
type StartConfig struct {
	EvaluationInterval time.Duration `yaml:"interval"`
	ErrorDuration      time.Duration `yaml:"error_duration"`
	WarnDuration       time.Duration `yaml:"warn_duration"`
	ReportHealthz      bool          `yaml:"report_healthz"`
	ReportMetadata     bool          `yaml:"report_metadata"`
}

// DefaultConfig reports a warning after 5s and an error after 30s of
// pending startup.
var DefaultConfig = StartConfig{
	EvaluationInterval: time.Second,
	ErrorDuration:      30 * time.Second,
	WarnDuration:       5 * time.Second,
	ReportHealthz:      true,
	ReportMetadata:     true,
}

func (sc StartConfig) Validated() StartConfig {
	if sc.EvaluationInterval < MinEvaluationInterval {
		sc.EvaluationInterval = MinEvaluationInterval
	}
	if sc.ErrorDuration < 0 {
		sc.ErrorDuration = 0
	}
	if sc.WarnDuration < 0 {
		sc.WarnDuration = 0
	}
	return sc
}

type StartTracker struct {
	Config    StartConfig
	listening atomic.Bool
	serving   atomic.Bool
	done      atomic.Bool
	since     atomic.Time
	logger    logrus.FieldLogger
}

// New returns a StartTracker. Call Register to add it to healthz.
func New(sc StartConfig) *StartTracker {
	st := &StartTracker{
		Config: sc.Validated(),
		logger: logrus.WithField("component", "starttracker"),
	}
	st.since.Store(time.Now())
	return st
}

// Register adds the startup check to healthz. The check removes itself
// once startup completed.
func (st *StartTracker) Register() {
	if st.Config.ReportMetadata {
		healthz.SetMeta("startupCompleted", false)
	}
	healthz.Register(CheckName, st.Config.EvaluationInterval, func() error {
		err := st.Check()
		if err == nil && st.done.Load() {
			healthz.Deregister(CheckName)
		}
		return err
	})
	st.logger.Info("registered tracker for startup phase")
}

// Check evaluates the startup phase
func (st *StartTracker) Check() error {
	if st.done.Load() {
		return nil
	}
	if !st.listening.Load() || !st.serving.Load() {
		if !st.Config.ReportHealthz {
			return nil
		}
		pending := time.Since(st.since.Load()).Round(time.Second)
		if pending >= st.Config.ErrorDuration {
			st.logger.Debugf("startup pending after %s is violating the error threshold (%s)", pending, st.Config.ErrorDuration)
			return fmt.Errorf("startup pending after %s", pending)
		}
		if pending >= st.Config.WarnDuration {
			st.logger.Debugf("startup pending after %s is violating the warning threshold (%s)", pending, st.Config.WarnDuration)
			return healthz.Warnf("startup pending after %s", pending)
		}
		return nil
	}

	if st.done.CompareAndSwap(false, true) {
		if st.Config.ReportMetadata {
			healthz.SetMeta("startupCompleted", true)
		}
		st.logger.Info("startup phase completed successfully")
	}
	return nil
}

// Completed reports if the startup phase has passed
func (st *StartTracker) Completed() bool {
	return st.done.Load()
}

// SetListening marks the renderer listener as bound
func (st *StartTracker) SetListening() {
	st.listening.Store(true)
	st.logger.Debug("tracked listener bound")
}

// SetServing marks the HTTP surface as started, or as disabled
func (st *StartTracker) SetServing() {
	st.serving.Store(true)
	st.logger.Debug("tracked HTTP server started")
}
