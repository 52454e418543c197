// Package server implements the renderer listener. It accepts renderer
// connections, decodes their messages and hands them to the compositor.
package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/aton-render/atonstream/compositor"
	"github.com/aton-render/atonstream/notify"
	"github.com/aton-render/atonstream/status/healthtracker"
	"github.com/aton-render/atonstream/utils"
	"github.com/aton-render/atonstream/utils/climit"
	"github.com/aton-render/atonstream/wire"
)

// quitTimeout limits how long Stop tries to deliver the synthetic Quit
const quitTimeout = time.Second

// acceptBackoff is the pause after a failed accept
const acceptBackoff = 50 * time.Millisecond

// BindError is returned by Start when the port cannot be bound
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("Could not connect to port: %d", e.Port)
}

func (e *BindError) Unwrap() error { return e.Err }

// Options configure a Server
type Options struct {
	// Address is the host to bind to, empty for all interfaces
	Address string
	// MaxConnections limits the number of renderers served at once
	MaxConnections int
	// Health tracks protocol failures, optional
	Health *healthtracker.HealthTracker
}

// New returns a Server that is not listening yet
func New(l logrus.FieldLogger, comp *compositor.Compositor, opt Options) *Server {
	l = l.WithField("component", "server")
	if opt.MaxConnections < 1 {
		opt.MaxConnections = 1
	}
	return &Server{
		l:     l,
		comp:  comp,
		opt:   opt,
		limit: climit.New("connections", opt.MaxConnections, l),
	}
}

// Server supervises the accept loop. Start, Stop and Restart are the only
// operations that change its lifetime.
type Server struct {
	l     logrus.FieldLogger
	comp  *compositor.Compositor
	opt   Options
	limit *climit.ConcurrencyLimit

	running atomic.Bool
	errMsg  atomic.String

	mu   sync.Mutex // protects loop
	loop *loop
}

// loop is one run of the accept loop on one listener
type loop struct {
	ln     net.Listener
	port   int
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex // protects conns
	conns map[net.Conn]struct{}
}

// shutdown stops accepting and aborts all reads. It is safe to call more
// than once and from any goroutine.
func (lp *loop) shutdown() {
	lp.cancel()
	_ = lp.ln.Close()
	lp.mu.Lock()
	defer lp.mu.Unlock()
	for conn := range lp.conns {
		_ = conn.Close()
	}
}

// track registers an accepted connection. It returns false if the loop is
// already shutting down.
func (lp *loop) track(conn net.Conn) bool {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if lp.ctx.Err() != nil {
		return false
	}
	lp.conns[conn] = struct{}{}
	return true
}

func (lp *loop) untrack(conn net.Conn) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	delete(lp.conns, conn)
}

// Start binds the port and starts accepting renderers. A previous listener
// is stopped first. Port 0 picks a free port.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	addr := net.JoinHostPort(s.opt.Address, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		bindErr := &BindError{Port: port, Err: err}
		s.errMsg.Store(bindErr.Error())
		metricBindFailures.Inc()
		s.l.WithError(err).WithField("address", addr).Error("Could not bind")
		return bindErr
	}
	s.errMsg.Store("")

	ctx, cancel := context.WithCancel(context.Background())
	lp := &loop{
		ln:     ln,
		port:   ln.Addr().(*net.TCPAddr).Port,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		conns:  make(map[net.Conn]struct{}),
	}
	s.loop = lp
	metricListening.Set(1)
	s.l.WithField("address", ln.Addr().String()).Info("Listening for renderers")

	go s.acceptLoop(lp)
	return nil
}

// Stop sends a Quit to the listener, closes it together with all renderer
// connections and waits for the accept loop to end. It is idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Restart stops the listener and starts it again on another port
func (s *Server) Restart(port int) error {
	return s.Start(port)
}

func (s *Server) stopLocked() {
	lp := s.loop
	if lp == nil {
		return
	}
	select {
	case <-lp.done:
		// Already ended after a Quit from a renderer
	default:
		if err := sendQuit(lp.ln.Addr()); err != nil {
			s.l.WithError(err).Debug("Could not deliver quit to self")
		}
		lp.shutdown()
		<-lp.done
		s.l.Info("Stopped listening")
	}
	s.loop = nil
	s.setRunning(false)
}

// sendQuit connects to the listener and sends a Quit message
func sendQuit(addr net.Addr) error {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return errors.Errorf("not a TCP address: %s", addr)
	}
	host := tcpAddr.IP.String()
	if tcpAddr.IP.IsUnspecified() {
		host = wire.DefaultHost
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(tcpAddr.Port)), quitTimeout)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetWriteDeadline(time.Now().Add(quitTimeout))
	return wire.NewEncoder(conn).WriteQuit()
}

// Listening reports if the accept loop is running
func (s *Server) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop == nil {
		return false
	}
	select {
	case <-s.loop.done:
		return false
	default:
		return true
	}
}

// Done returns a channel that is closed when the current accept loop ends,
// either through Stop or a Quit message. Without a listener it is closed.
func (s *Server) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.loop.done
}

// Port returns the bound port, or 0 when not listening
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loop == nil {
		return 0
	}
	return s.loop.port
}

// Running reports if a renderer is currently streaming
func (s *Server) Running() bool {
	return s.running.Load()
}

// Err returns a human readable description of the last bind or connection
// failure, or "" if there was none.
func (s *Server) Err() string {
	return s.errMsg.Load()
}

// setRunning updates the running flag and raises a notification when it
// changes.
func (s *Server) setRunning(running bool) {
	if s.running.Swap(running) == running {
		return
	}
	if running {
		metricRunning.Set(1)
	} else {
		metricRunning.Set(0)
	}
	s.comp.Notifier().Flag(notify.Event{
		Kind:    notify.KindRunning,
		Running: running,
	})
}

func (s *Server) acceptLoop(lp *loop) {
	defer close(lp.done)
	defer metricListening.Set(0)

	var wg sync.WaitGroup
	defer wg.Wait()
	defer lp.shutdown()

	for {
		token := s.limit.TryAcquire()
		if token == nil {
			s.l.WithField("max_connections", s.limit.Limit()).
				Warn("Connection limit reached, waiting for a renderer to finish")
			var err error
			if token, err = s.limit.Acquire(lp.ctx); err != nil {
				return // shutting down
			}
		}
		conn, err := lp.ln.Accept()
		if err != nil {
			token.Release()
			if utils.IsCanceled(lp.ctx) || errors.Is(err, net.ErrClosed) {
				return
			}
			s.l.WithError(err).Warn("Accept failed")
			metricAcceptErrors.Inc()
			_ = utils.SleepContext(lp.ctx, acceptBackoff)
			continue
		}
		if !lp.track(conn) {
			_ = conn.Close()
			token.Release()
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer token.Release()
			defer lp.untrack(conn)
			defer func() { _ = conn.Close() }()

			if s.handleConn(lp.ctx, conn) {
				s.l.Info("Quit received, closing listener")
				lp.shutdown()
			}
		}()
	}
}
