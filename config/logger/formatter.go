// Package logger configures logrus and implements a formatter that prefixes
// log messages with the render session and frame.
package logger

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// SessionFormatter is a logrus formatter for human readable output. Entries
// that carry a 'session' field get it as a fixed width message prefix, so
// that interleaved renders line up. A 'frame' field is appended to it.
type SessionFormatter struct {
	Parent logrus.Formatter
}

// Format implements logrus.Formatter
func (f *SessionFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	session, exists := entry.Data["session"]
	if !exists {
		return f.Parent.Format(entry)
	}
	prefix := fmt.Sprint(session)
	if frame, ok := entry.Data["frame"]; ok {
		prefix = fmt.Sprintf("%v@%v", session, frame)
	}
	// Work on a copy, other hooks and formatters may see the same entry
	e := *entry
	e.Message = fmt.Sprintf("[%-13s] %s", prefix, entry.Message)
	return f.Parent.Format(&e)
}
