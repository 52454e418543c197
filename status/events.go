package status

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aton-render/atonstream/notify"
)

// EventBuffer is the number of events a slow viewer may fall behind
const EventBuffer = 256

const eventWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // viewers may be served from anywhere
	},
}

// events streams notifier events to a websocket as JSON text messages
// until either side goes away.
func (a *api) events(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.l.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	l := a.l.WithField("remote", r.RemoteAddr)
	l.Debug("Event viewer connected")
	defer l.Debug("Event viewer disconnected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The viewer never sends anything, but reading is needed to notice
	// a close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = a.comp.Notifier().Handle(ctx, EventBuffer, func(ev notify.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		return conn.WriteJSON(ev)
	})
	if err != nil && ctx.Err() == nil {
		l.WithError(err).Debug("Event write failed")
	}
}
