package utils

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

const MonitoredMutexDefaultLimit = time.Second

// MonitoredRWMutex is a sync.RWMutex that measures how long writers wait
// for and hold the lock, and warns when a write lock was held longer than
// Limit. Read locks are only counted.
type MonitoredRWMutex struct {
	mu       sync.RWMutex
	lockTime time.Time
	readers  atomic.Int32

	Logger logrus.FieldLogger
	Name   string        // lock_name label
	Limit  time.Duration // defaults to MonitoredMutexDefaultLimit
}

func (m *MonitoredRWMutex) Lock() {
	t0 := time.Now()
	m.mu.Lock()
	m.lockTime = time.Now()
	metricLockWait.WithLabelValues(m.name()).Observe(m.lockTime.Sub(t0).Seconds())
}

func (m *MonitoredRWMutex) Unlock() {
	held := time.Since(m.lockTime)
	m.lockTime = time.Time{}
	m.mu.Unlock()

	metricLockHeld.WithLabelValues(m.name()).Observe(held.Seconds())
	limit := m.Limit
	if limit <= 0 {
		limit = MonitoredMutexDefaultLimit
	}
	// Only a warning, a paused process or a time jump can cause this too
	if held > limit {
		m.logger().WithFields(logrus.Fields{
			"lock_held": held,
			"limit":     limit,
			"lock_name": m.name(),
			"caller":    caller(2),
			"readers":   m.readers.Load(),
		}).Warn("Lock time limit exceeded")
	}
}

func (m *MonitoredRWMutex) RLock() {
	m.mu.RLock()
	m.readers.Inc()
}

func (m *MonitoredRWMutex) RUnlock() {
	m.readers.Dec()
	m.mu.RUnlock()
}

// Readers returns the number of read locks currently held
func (m *MonitoredRWMutex) Readers() int {
	return int(m.readers.Load())
}

func (m *MonitoredRWMutex) name() string {
	if m.Name == "" {
		return "unnamed"
	}
	return m.Name
}

func (m *MonitoredRWMutex) logger() logrus.FieldLogger {
	if m.Logger != nil {
		return m.Logger
	}
	return logrus.StandardLogger()
}

// caller describes the function skip frames up the stack
func caller(skip int) string {
	pc, fileName, fileLine, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	if details := runtime.FuncForPC(pc); details != nil {
		return fmt.Sprintf("%s:%d (%s)", fileName, fileLine, details.Name())
	}
	return fmt.Sprintf("%s:%d", fileName, fileLine)
}
