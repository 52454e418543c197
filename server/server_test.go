package server

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aton-render/atonstream/compositor"
	"github.com/aton-render/atonstream/framebuffer"
	"github.com/aton-render/atonstream/notify"
	"github.com/aton-render/atonstream/status/healthtracker"
	"github.com/aton-render/atonstream/wire"
)

const waitFor = 2 * time.Second

func newTestServer(t *testing.T, opt Options) (*Server, *compositor.Compositor) {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	store := framebuffer.New(l, time.Second)
	comp := compositor.New(l, store, notify.New(l), compositor.Options{EnableAOVs: true})
	opt.Address = "127.0.0.1"
	if opt.MaxConnections == 0 {
		opt.MaxConnections = 4
	}
	s := New(l, comp, opt)
	require.NoError(t, s.Start(0))
	t.Cleanup(s.Stop)
	return s, comp
}

func dial(t *testing.T, s *Server) (net.Conn, *wire.Encoder) {
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, wire.NewEncoder(conn)
}

func testHeader(session int64) *wire.Header {
	return &wire.Header{
		Session:     session,
		Xres:        4,
		Yres:        2,
		PixelAspect: 1,
		RegionArea:  8,
		Frame:       1,
		OutputName:  "test",
	}
}

func testBucket(session int64, aov string, x, y int32, value float32) *wire.Pixels {
	p := &wire.Pixels{
		Session:      session,
		Xres:         4,
		Yres:         2,
		BucketX:      x,
		BucketY:      y,
		BucketWidth:  2,
		BucketHeight: 2,
		SPP:          4,
		AOVName:      aov,
	}
	for i := 0; i < 2*2*4; i++ {
		p.Data = append(p.Data, value)
	}
	return p
}

// progress returns the progress of a session, or -1 if it does not exist
func progress(comp *compositor.Compositor, session int64) int64 {
	for _, info := range comp.Sessions() {
		if info.Session == session && len(info.Frames) > 0 {
			return info.Frames[0].Progress
		}
	}
	return -1
}

func TestServer_Stream(t *testing.T) {
	s, comp := newTestServer(t, Options{})
	_, enc := dial(t, s)

	require.NoError(t, enc.WriteHeader(testHeader(1001)))
	require.NoError(t, enc.WritePixels(testBucket(1001, "RGBA", 0, 0, 1)))
	require.Eventually(t, s.Running, waitFor, time.Millisecond)
	require.NoError(t, enc.WritePixels(testBucket(1001, "RGBA", 2, 0, 1)))
	require.NoError(t, enc.WriteClose())

	require.Eventually(t, func() bool {
		return progress(comp, 1001) == 100 && !s.Running()
	}, waitFor, time.Millisecond)
	assert.Equal(t, "", s.Err())

	last, ok := comp.Notifier().Last()
	require.True(t, ok)
	assert.Contains(t, []notify.Kind{notify.KindClose, notify.KindRunning}, last.Kind)
}

func TestServer_ReconnectPerImage(t *testing.T) {
	s, comp := newTestServer(t, Options{})
	for i, x := range []int32{0, 2} {
		conn, enc := dial(t, s)
		require.NoError(t, enc.WriteHeader(testHeader(7)))
		require.NoError(t, enc.WritePixels(testBucket(7, "RGBA", x, 0, float32(i+1))))
		require.NoError(t, enc.WriteClose())
		_ = conn.Close()
	}
	require.Eventually(t, func() bool {
		var ok bool
		_ = comp.Store().View(func(tx *framebuffer.Tx) error {
			fb, _ := tx.Lookup(7)
			ok = fb != nil && fb.Current().Pixel(0, 2, 0, 0) == 2
			return nil
		})
		return ok
	}, waitFor, time.Millisecond)

	_ = comp.Store().View(func(tx *framebuffer.Tx) error {
		assert.Equal(t, 1, tx.Len())
		fb, _ := tx.Lookup(7)
		rb := fb.Current()
		assert.Equal(t, float32(1), rb.Pixel(0, 0, 0, 0), "first image kept")
		assert.True(t, rb.Ready())
		return nil
	})
}

func TestServer_SessionZero(t *testing.T) {
	s, comp := newTestServer(t, Options{})
	_, enc := dial(t, s)
	require.NoError(t, enc.WriteHeader(testHeader(0)))
	require.NoError(t, enc.WritePixels(testBucket(0, "RGBA", 0, 0, 1)))
	require.NoError(t, enc.WriteClose())

	require.Eventually(t, func() bool {
		sessions := comp.Sessions()
		return len(sessions) == 1 && sessions[0].Frames[0].Progress == 50
	}, waitFor, time.Millisecond)
	assert.NotZero(t, comp.Sessions()[0].Session)
}

func TestServer_DisconnectResilience(t *testing.T) {
	ht := healthtracker.New(healthtracker.DefaultConfig, "test_disconnect", "read renderer stream")
	s, comp := newTestServer(t, Options{Health: ht})

	_, enc := dial(t, s)
	require.NoError(t, enc.WriteHeader(testHeader(1)))
	require.NoError(t, enc.WritePixels(testBucket(1, "RGBA", 0, 0, 1)))
	require.NoError(t, enc.WriteClose())
	require.Eventually(t, func() bool { return progress(comp, 1) == 50 }, waitFor, time.Millisecond)

	// Second renderer dies in the middle of a bucket
	conn, enc := dial(t, s)
	require.NoError(t, enc.WriteHeader(testHeader(2)))
	require.NoError(t, enc.WritePixels(testBucket(2, "RGBA", 0, 0, 1)))
	require.Eventually(t, func() bool { return progress(comp, 2) == 50 }, waitFor, time.Millisecond)
	_, err := conn.Write([]byte{1, 0, 0, 0, 2, 0, 0})
	require.NoError(t, err)
	_ = conn.Close()

	require.Eventually(t, func() bool { return s.Err() != "" }, waitFor, time.Millisecond)
	assert.Contains(t, s.Err(), "Render stopped")
	assert.False(t, s.Running())
	assert.Equal(t, uint32(1), ht.Failures())
	assert.Equal(t, int64(50), progress(comp, 1))
	assert.Equal(t, int64(50), progress(comp, 2), "committed buckets survive")

	// Server keeps accepting
	_, enc = dial(t, s)
	require.NoError(t, enc.WriteHeader(testHeader(3)))
	require.NoError(t, enc.WriteClose())
	require.Eventually(t, func() bool {
		return len(comp.Sessions()) == 3 && ht.Failures() == 0
	}, waitFor, time.Millisecond)
}

func TestServer_UnknownKey(t *testing.T) {
	s, comp := newTestServer(t, Options{})
	conn, _ := dial(t, s)
	_, err := conn.Write([]byte{5, 0, 0, 0})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.Err() != "" }, waitFor, time.Millisecond)
	assert.Contains(t, s.Err(), "unknown message key")

	// The server closed the connection
	_ = conn.SetReadDeadline(time.Now().Add(waitFor))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)

	_, enc := dial(t, s)
	require.NoError(t, enc.WriteHeader(testHeader(4)))
	require.NoError(t, enc.WriteClose())
	require.Eventually(t, func() bool { return len(comp.Sessions()) == 1 }, waitFor, time.Millisecond)
}

func TestServer_Quit(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	port := s.Port()
	_, enc := dial(t, s)
	require.NoError(t, enc.WriteQuit())

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("accept loop did not stop")
	}
	assert.False(t, s.Listening())
	_, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 100*time.Millisecond)
	assert.Error(t, err)

	// Can be started again
	require.NoError(t, s.Start(0))
	assert.True(t, s.Listening())
}

func TestServer_Stop(t *testing.T) {
	s, _ := newTestServer(t, Options{})

	// A stalled renderer must not block Stop
	conn, _ := dial(t, s)
	_, err := conn.Write([]byte{0, 0, 0, 0, 1, 2})
	require.NoError(t, err)
	require.Eventually(t, s.Running, waitFor, time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("Stop did not return")
	}
	assert.False(t, s.Listening())
	assert.False(t, s.Running())
	assert.Equal(t, 0, s.Port())
	<-s.Done()
}

func TestServer_BindError(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = busy.Close() }()
	port := busy.Addr().(*net.TCPAddr).Port

	err = s.Start(port)
	var bindErr *BindError
	require.ErrorAs(t, err, &bindErr)
	assert.Equal(t, port, bindErr.Port)
	assert.Equal(t, "Could not connect to port: "+strconv.Itoa(port), s.Err())
	assert.False(t, s.Listening(), "previous binding was released")

	require.NoError(t, s.Restart(0))
	assert.Equal(t, "", s.Err())
}

func TestServer_Restart(t *testing.T) {
	s, comp := newTestServer(t, Options{})
	old := s.Port()
	require.NoError(t, s.Restart(0))
	assert.NotEqual(t, 0, s.Port())

	_, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(old)), 100*time.Millisecond)
	if s.Port() != old {
		assert.Error(t, err)
	}

	_, enc := dial(t, s)
	require.NoError(t, enc.WriteHeader(testHeader(9)))
	require.NoError(t, enc.WriteClose())
	require.Eventually(t, func() bool { return len(comp.Sessions()) == 1 }, waitFor, time.Millisecond)
}

func TestServer_ConcurrentSessions(t *testing.T) {
	s, comp := newTestServer(t, Options{MaxConnections: 2})
	done := make(chan error, 4)
	for i := int64(1); i <= 4; i++ {
		go func(session int64) {
			conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port())))
			if err != nil {
				done <- err
				return
			}
			defer func() { _ = conn.Close() }()
			enc := wire.NewEncoder(conn)
			if err := enc.WriteHeader(testHeader(session)); err != nil {
				done <- err
				return
			}
			for _, x := range []int32{0, 2} {
				if err := enc.WritePixels(testBucket(session, "RGBA", x, 0, float32(session))); err != nil {
					done <- err
					return
				}
			}
			done <- enc.WriteClose()
		}(i)
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, <-done)
	}
	require.Eventually(t, func() bool {
		for i := int64(1); i <= 4; i++ {
			if progress(comp, i) != 100 {
				return false
			}
		}
		return true
	}, waitFor, time.Millisecond)
}
