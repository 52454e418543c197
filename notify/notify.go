// Package notify implements the change signal raised after every store
// mutation. A display polls Dirty/Consume, remote viewers Subscribe to the
// event feed.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/aton-render/atonstream/utils/topics"
)

// Kind is the kind of change
type Kind uint8

const (
	// KindBucket is raised when a primary AOV bucket was written
	KindBucket Kind = iota
	// KindHeader is raised when an image was opened or updated
	KindHeader
	// KindClose is raised when a renderer closed an image
	KindClose
	// KindCamera is raised when the camera of a frame changed
	KindCamera
	// KindChannels is raised when the AOV set of a frame was reset
	KindChannels
	// KindRunning is raised when the running flag changed
	KindRunning
	// KindSessions is raised when the session list was edited
	KindSessions
)

var kindNames = map[Kind]string{
	KindBucket:   "bucket",
	KindHeader:   "header",
	KindClose:    "close",
	KindCamera:   "camera",
	KindChannels: "channels",
	KindRunning:  "running",
	KindSessions: "sessions",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText makes the Kind readable in JSON
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a Kind name as written by MarshalText
func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind: %q", b)
}

// Rect is a pixel rectangle in store coordinates (top row is 0).
// X1 and Y1 are exclusive.
type Rect struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

// Empty reports if the rectangle covers no pixels
func (r Rect) Empty() bool {
	return r.X0 >= r.X1 || r.Y0 >= r.Y1
}

// Union returns the smallest rectangle containing r and o
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	return Rect{
		X0: min(r.X0, o.X0),
		Y0: min(r.Y0, o.Y0),
		X1: max(r.X1, o.X1),
		Y1: max(r.Y1, o.Y1),
	}
}

// Event describes one change. An event without a rectangle asks for a full
// refresh.
type Event struct {
	Seq     uint64    `json:"seq"`
	Kind    Kind      `json:"kind"`
	Session int64     `json:"session"`
	Frame   float64   `json:"frame"`
	Rect    Rect      `json:"rect"`
	Full    bool      `json:"full"`
	Running bool      `json:"running"`
	Time    time.Time `json:"time"`
}

// Notifier accumulates changes until a consumer picks them up
type Notifier struct {
	l     logrus.FieldLogger
	dirty atomic.Bool
	seq   atomic.Uint64
	topic *topics.Topic[Event]

	mu   sync.Mutex
	rect Rect
	full bool
}

// New returns a Notifier
func New(l logrus.FieldLogger) *Notifier {
	return &Notifier{
		l:     l,
		topic: topics.New[Event](),
	}
}

// Flag records a change and publishes it to subscribers. Events that carry
// no rectangle are recorded as a full refresh.
func (n *Notifier) Flag(ev Event) Event {
	ev.Seq = n.seq.Inc()
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Rect.Empty() {
		ev.Full = true
	}

	n.mu.Lock()
	if ev.Full {
		n.full = true
	} else {
		n.rect = n.rect.Union(ev.Rect)
	}
	n.dirty.Store(true)
	n.mu.Unlock()

	metricEvents.WithLabelValues(ev.Kind.String()).Inc()
	if dropped := n.topic.Publish(ev); dropped > 0 {
		metricDropped.Add(float64(dropped))
		n.l.WithField("dropped", dropped).Debug("Slow event subscribers")
	}
	return ev
}

// Dirty reports if changes were flagged since the last Consume
func (n *Notifier) Dirty() bool {
	return n.dirty.Load()
}

// Consume returns the accumulated dirty area and resets it. ok is false
// when nothing changed.
func (n *Notifier) Consume() (rect Rect, full bool, ok bool) {
	if !n.dirty.Load() {
		return Rect{}, false, false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	rect, full = n.rect, n.full
	n.rect, n.full = Rect{}, false
	n.dirty.Store(false)
	return rect, full, true
}

// Seq returns the sequence number of the last event
func (n *Notifier) Seq() uint64 {
	return n.seq.Load()
}

// Last returns the last event, if any
func (n *Notifier) Last() (Event, bool) {
	return n.topic.Last()
}

// Subscribe returns a subscription to all future events. A subscriber that
// falls behind by more than size events loses events.
func (n *Notifier) Subscribe(size int) *topics.Subscription[Event] {
	return n.topic.Subscribe(size, false)
}

// Handle calls cb for every future event until ctx is cancelled or cb
// returns an error. Events are dropped when cb falls more than size
// events behind.
func (n *Notifier) Handle(ctx context.Context, size int, cb func(Event) error) error {
	return n.topic.Handle(ctx, size, cb)
}

// Subscribers returns the number of active subscriptions
func (n *Notifier) Subscribers() int {
	return n.topic.Len()
}
