package utils

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SleepContext waits for d or until ctx is done, whichever comes first.
// It returns ctx.Err() in the latter case.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsCanceled reports whether ctx is done, without blocking.
func IsCanceled(ctx context.Context) bool {
	return ctx.Err() != nil
}

// DisplayASCII makes a name received from a renderer safe to log.
// Printable ASCII passes through unchanged; anything else becomes '.'
// and the raw bytes are appended in hex. An empty name is shown as "".
func DisplayASCII(s string) string {
	if s == "" {
		return `""`
	}
	clean := true
	out := strings.Map(func(r rune) rune {
		if r < ' ' || r > '~' {
			clean = false
			return '.'
		}
		return r
	}, s)
	if clean {
		return s
	}
	return fmt.Sprintf("%s [% x]", out, s)
}

// TimeDiff returns t1 - t0 rounded to the millisecond, for log fields.
func TimeDiff(t1, t0 time.Time) time.Duration {
	return t1.Sub(t0).Round(time.Millisecond)
}
