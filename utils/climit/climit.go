// Package climit limits the number of concurrently running operations,
// like open renderer connections.
package climit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// slowAcquire is the wait after which an acquired token is logged at info
const slowAcquire = time.Second

// ConcurrencyLimit hands out a fixed number of Tokens. A Token is obtained
// with Acquire or TryAcquire and MUST be returned with Token.Release.
type ConcurrencyLimit struct {
	name   string
	limit  int
	labels prometheus.Labels
	sem    chan struct{}
	log    logrus.FieldLogger
}

// New returns a ConcurrencyLimit with limit tokens, at least 1. The name
// is the limit metrics label.
func New(name string, limit int, logger logrus.FieldLogger) *ConcurrencyLimit {
	if logger == nil {
		lr := logrus.New()
		lr.SetLevel(logrus.PanicLevel)
		logger = lr
	}
	logger = logger.WithField("limit", name)
	if limit < 1 {
		logger.Warnf("Increasing concurrency limit from configured %d to minimum of 1", limit)
		limit = 1
	}
	cl := &ConcurrencyLimit{
		name:   name,
		limit:  limit,
		labels: prometheus.Labels{"limit": name},
		sem:    make(chan struct{}, limit),
		log:    logger,
	}
	metricLimit.With(cl.labels).Set(float64(limit))
	return cl
}

// Limit returns the configured number of tokens
func (cl *ConcurrencyLimit) Limit() int { return cl.limit }

// Active returns the number of tokens currently held
func (cl *ConcurrencyLimit) Active() int { return len(cl.sem) }

// Available returns the number of tokens that can be acquired right now
func (cl *ConcurrencyLimit) Available() int { return cl.limit - len(cl.sem) }

// TryAcquire returns a Token if one is free, or nil without waiting
func (cl *ConcurrencyLimit) TryAcquire() *Token {
	select {
	case cl.sem <- struct{}{}:
		return cl.issue(0)
	default:
		metricFull.With(cl.labels).Inc()
		return nil
	}
}

// Acquire blocks until a Token is free or the context is cancelled
func (cl *ConcurrencyLimit) Acquire(ctx context.Context) (*Token, error) {
	if t := cl.TryAcquire(); t != nil {
		return t, nil
	}
	waiting := metricWaiting.With(cl.labels)
	waiting.Inc()
	defer waiting.Dec()

	cl.log.WithField("active", cl.Active()).Debug("All tokens in use, waiting")
	t0 := time.Now()
	select {
	case cl.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return cl.issue(time.Since(t0)), nil
}

func (cl *ConcurrencyLimit) issue(waited time.Duration) *Token {
	metricActive.With(cl.labels).Inc()
	metricWaitSeconds.With(cl.labels).Observe(waited.Seconds())
	l := cl.log.WithField("time_to_acquire", waited)
	if waited > slowAcquire {
		l.Info("Acquired token after waiting")
	} else {
		l.Debug("Acquired token")
	}
	return &Token{cl: cl, acquired: time.Now(), waited: waited}
}

// Token allows the holder to proceed with a limited operation
type Token struct {
	acquired time.Time
	waited   time.Duration

	mu sync.Mutex
	cl *ConcurrencyLimit // nil once released
}

// Waited returns how long Acquire waited for this Token
func (t *Token) Waited() time.Duration { return t.waited }

// Release returns the Token. It can be called more than once, even from
// different goroutines, and returns how long the Token was held, or 0 if it
// had already been released.
func (t *Token) Release() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	cl := t.cl
	if cl == nil {
		return 0
	}
	t.cl = nil
	<-cl.sem
	held := time.Since(t.acquired)
	metricActive.With(cl.labels).Dec()
	metricHeldSeconds.With(cl.labels).Observe(held.Seconds())
	cl.log.Debug("Released token")
	return held
}
