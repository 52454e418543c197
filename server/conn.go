package server

import (
	"context"
	"io"
	"net"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/aton-render/atonstream/utils"
	"github.com/aton-render/atonstream/wire"
)

// handleConn processes messages from one renderer connection until it
// closes, sends Close or sends Quit. It returns true on Quit.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) (quit bool) {
	metricConnections.Inc()
	metricConnectionsActive.Inc()
	defer metricConnectionsActive.Dec()

	l := s.l.WithField("remote", conn.RemoteAddr().String())
	l.Debug("Renderer connected")

	dec := wire.NewDecoder(conn)
	var session int64 // of the last header on this connection
	for {
		s.setRunning(true)
		msg, err := dec.Next()
		if err != nil {
			s.setRunning(false)
			s.readFailed(ctx, l, err)
			return false
		}
		metricMessages.WithLabelValues(msg.Key.String()).Inc()

		switch msg.Key {
		case wire.KeyHeader:
			sess, err := s.comp.HandleHeader(msg.Header)
			if err != nil {
				l.WithError(err).Error("Header rejected")
				s.errMsg.Store(err.Error())
			}
			if session != sess {
				session = sess
				l = l.WithField("session", session)
				l.WithField("output_name", utils.DisplayASCII(msg.Header.OutputName)).
					Debug("Header received")
			}

		case wire.KeyPixels:
			if msg.Pixels.Session == 0 {
				msg.Pixels.Session = session
			}
			if err := s.comp.HandlePixels(msg.Pixels); err != nil {
				l.WithError(err).WithField("aov", utils.DisplayASCII(msg.Pixels.AOVName)).
					Error("Bucket rejected")
				s.errMsg.Store(err.Error())
			}

		case wire.KeyClose:
			l.Debug("Image closed")
			s.setRunning(false)
			s.comp.HandleClose(session)
			if s.opt.Health != nil {
				s.opt.Health.AddSuccess()
			}
			return false

		case wire.KeyQuit:
			s.setRunning(false)
			return true
		}
	}
}

// readFailed classifies a failed read. A disconnect between messages is
// normal for renderers that reconnect for every image.
func (s *Server) readFailed(ctx context.Context, l logrus.FieldLogger, err error) {
	switch {
	case ctx.Err() != nil:
		l.Debug("Connection closed by shutdown")
	case errors.Is(err, io.EOF):
		l.Debug("Renderer disconnected")
		if s.opt.Health != nil {
			s.opt.Health.AddSuccess()
		}
	default:
		metricProtocolErrors.Inc()
		if s.opt.Health != nil {
			s.opt.Health.AddFailure()
		}
		l.WithError(err).Warn("Render stopped, connection lost")
		s.errMsg.Store("Render stopped: " + err.Error())
	}
}
