package status

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/aton-render/atonstream/compositor"
	"github.com/aton-render/atonstream/config"
	"github.com/aton-render/atonstream/framebuffer"
	"github.com/aton-render/atonstream/notify"
	"github.com/aton-render/atonstream/wire"
)

type fakeListener struct {
	running atomic.Bool
}

func (f *fakeListener) Listening() bool { return true }
func (f *fakeListener) Port() int       { return wire.DefaultPort }
func (f *fakeListener) Running() bool   { return f.running.Load() }
func (f *fakeListener) Err() string     { return "" }

const testSession = 1001

func bucket(aov string, spp int32, value float32) *wire.Pixels {
	p := &wire.Pixels{
		Session:      testSession,
		Xres:         4,
		Yres:         2,
		BucketWidth:  2,
		BucketHeight: 2,
		SPP:          spp,
		Memory:       3 << 20,
		Elapsed:      1500,
		AOVName:      aov,
	}
	for i := 0; i < int(2*2*spp); i++ {
		p.Data = append(p.Data, value)
	}
	return p
}

func newTestRouter(t *testing.T) (http.Handler, *compositor.Compositor, *fakeListener) {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	store := framebuffer.New(l, time.Second)
	comp := compositor.New(l, store, notify.New(l), compositor.Options{EnableAOVs: true})

	_, err := comp.HandleHeader(&wire.Header{
		Session:     testSession,
		Xres:        4,
		Yres:        2,
		PixelAspect: 1,
		RegionArea:  8,
		Frame:       1,
		Version:     wire.PackVersion(7, 2, 1, 0),
		OutputName:  "shot",
	})
	require.NoError(t, err)
	require.NoError(t, comp.HandlePixels(bucket("RGBA", 4, 1)))
	require.NoError(t, comp.HandlePixels(bucket("Z", 1, 5)))

	ln := &fakeListener{}
	c := config.Default()
	c.Version = "test"
	return NewRouter(c, comp, ln), comp, ln
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPage(t *testing.T) {
	h, _, _ := newTestRouter(t)
	rec := do(t, h, "GET", "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Aton Stream Status")
	assert.Contains(t, body, "RGBA, Z")
	assert.Contains(t, body, "Arnold 7.2.1.0")
	assert.Contains(t, body, "listen:")
}

func TestMetrics(t *testing.T) {
	h, _, _ := newTestRouter(t)
	rec := do(t, h, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "atonstream_compositor_buckets_total")
}

func TestAPI_Status(t *testing.T) {
	h, _, ln := newTestRouter(t)
	ln.running.Store(true)
	rec := do(t, h, "GET", "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "test", st.Version)
	assert.True(t, st.Listening)
	assert.True(t, st.Running)
	assert.Equal(t, wire.DefaultPort, st.Port)
	assert.Equal(t, 1, st.Sessions)
	assert.NotZero(t, st.Seq)
}

func TestAPI_Sessions(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := do(t, h, "GET", "/api/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []framebuffer.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.EqualValues(t, testSession, infos[0].Session)

	rec = do(t, h, "GET", "/api/sessions/1001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info framebuffer.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Len(t, info.Frames, 1)
	assert.Equal(t, []string{"RGBA", "Z"}, info.Frames[0].AOVs)
	assert.EqualValues(t, 50, info.Frames[0].Progress)
	assert.EqualValues(t, 3, info.Frames[0].MemoryMB)

	assert.Equal(t, http.StatusNotFound, do(t, h, "GET", "/api/sessions/7", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, "GET", "/api/sessions/abc", nil).Code)
}

func TestAPI_Pixel(t *testing.T) {
	h, _, _ := newTestRouter(t)

	tests := []struct {
		name   string
		query  string
		code   int
		aov    string
		values []float32
	}{
		{"primary", "x=0&y=0", 200, "RGBA", []float32{1, 1, 1, 1}},
		{"scalar", "x=1&y=1&aov=Z", 200, "Z", []float32{5}},
		{"unknown aov", "x=1&y=1&aov=N", 200, "RGBA", []float32{1, 1, 1, 1}},
		{"not written", "x=3&y=0", 200, "RGBA", []float32{0, 0, 0, 0}},
		{"out of range", "x=100&y=-1", 200, "RGBA", []float32{0, 0, 0, 0}},
		{"frame snap", "x=0&y=0&frame=5", 200, "RGBA", []float32{1, 1, 1, 1}},
		{"bad coordinate", "x=a&y=0", 400, "", nil},
		{"bad frame", "x=0&y=0&frame=a", 400, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, "GET", "/api/sessions/1001/pixel?"+tt.query, nil)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.code != 200 {
				return
			}
			var pv PixelValue
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pv))
			assert.Equal(t, tt.aov, pv.AOV)
			assert.Equal(t, tt.values, pv.Values)
			assert.EqualValues(t, 1, pv.Frame)
		})
	}
}

func TestAPI_Raw(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := do(t, h, "GET", "/api/sessions/1001/frames/1/aovs/Z/raw", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "4", rec.Header().Get(HeaderWidth))
	assert.Equal(t, "2", rec.Header().Get(HeaderHeight))
	assert.Equal(t, "1", rec.Header().Get(HeaderChannels))
	assert.Regexp(t, `^attachment; filename="shot_1_\d\d\.\d\d_\d\d-\d\d-\d\d_Z\.raw\.gz"$`,
		rec.Header().Get("Content-Disposition"))

	gz, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	plane := make([]float32, 8)
	require.NoError(t, binary.Read(bytes.NewReader(data), binary.LittleEndian, plane))
	assert.Equal(t, []float32{5, 5, 0, 0, 5, 5, 0, 0}, plane)

	rec = do(t, h, "GET", "/api/sessions/1001/frames/current/aovs/RGBA/raw", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "4", rec.Header().Get(HeaderChannels))

	assert.Equal(t, http.StatusNotFound,
		do(t, h, "GET", "/api/sessions/1001/frames/1/aovs/N/raw", nil).Code)
}

func TestDownloadName(t *testing.T) {
	tests := []struct {
		name, aov, want string
	}{
		{"shot_1_05.01_12:30:00", "Z", "shot_1_05.01_12-30-00_Z.raw.gz"},
		{"a/b", "RGBA", "a_b_RGBA.raw.gz"},
		{`c:\d`, "N", "c-_d_N.raw.gz"},
		{"plain", "diffuse/direct", "plain_diffuse_direct.raw.gz"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, downloadName(tt.name, tt.aov))
		})
	}
}

func TestAPI_Manage(t *testing.T) {
	h, comp, ln := newTestRouter(t)
	_, err := comp.HandleHeader(&wire.Header{
		Session: 2002, Xres: 2, Yres: 2, PixelAspect: 1, Frame: 1, OutputName: "other",
	})
	require.NoError(t, err)

	sessions := func() []int64 {
		var ids []int64
		for _, info := range comp.Sessions() {
			ids = append(ids, info.Session)
		}
		return ids
	}
	require.Equal(t, []int64{testSession, 2002}, sessions())

	rec := do(t, h, "POST", "/api/sessions/1001/move?dir=up", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"moved": true}`, rec.Body.String())
	assert.Equal(t, []int64{2002, testSession}, sessions())

	rec = do(t, h, "POST", "/api/sessions/1001/move?dir=up", nil)
	assert.JSONEq(t, `{"moved": false}`, rec.Body.String())
	assert.Equal(t, http.StatusBadRequest, do(t, h, "POST", "/api/sessions/1001/move?dir=left", nil).Code)

	rec = do(t, h, "PUT", "/api/sessions/2002/name", strings.NewReader(`{"name": "renamed"}`))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "renamed", comp.Sessions()[0].OutputName)
	assert.Equal(t, http.StatusBadRequest, do(t, h, "PUT", "/api/sessions/2002/name", strings.NewReader(`{}`)).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, "PUT", "/api/sessions/7/name", strings.NewReader(`{"name": "x"}`)).Code)

	ln.running.Store(true)
	assert.Equal(t, http.StatusConflict, do(t, h, "DELETE", "/api/sessions/2002", nil).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, "DELETE", "/api/sessions", nil).Code)
	ln.running.Store(false)

	require.Equal(t, http.StatusNoContent, do(t, h, "DELETE", "/api/sessions/2002", nil).Code)
	assert.Equal(t, []int64{testSession}, sessions())
	assert.Equal(t, http.StatusNotFound, do(t, h, "DELETE", "/api/sessions/2002", nil).Code)

	require.Equal(t, http.StatusNoContent, do(t, h, "DELETE", "/api/sessions", nil).Code)
	assert.Empty(t, sessions())
}

func TestEvents(t *testing.T) {
	h, comp, _ := newTestRouter(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	n := comp.Notifier()
	require.Eventually(t, func() bool { return n.Subscribers() == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, comp.Rename(testSession, "live"))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var ev notify.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, notify.KindSessions, ev.Kind)
	assert.EqualValues(t, testSession, ev.Session)
	assert.True(t, ev.Full)

	_ = conn.Close()
	require.Eventually(t, func() bool { return n.Subscribers() == 0 }, 2*time.Second, time.Millisecond)
}

var fallbackOnce sync.Once

func TestNotFoundFallsBack(t *testing.T) {
	h, _, _ := newTestRouter(t)
	const path = "/status-test-fallback"
	fallbackOnce.Do(func() {
		http.DefaultServeMux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("fallback"))
		})
	})
	rec := do(t, h, "GET", path, nil)
	assert.Equal(t, "fallback", rec.Body.String())
	assert.Equal(t, http.StatusNotFound, do(t, h, "GET", "/nothing-here", nil).Code)
}

func TestServe(t *testing.T) {
	h, _, _ := newTestRouter(t)
	ctx, cancel := context.WithCancel(context.Background())

	// Pick a free port
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ready := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- Serve(ctx, addr, h, func() { close(ready) })
	}()

	select {
	case <-ready:
	case err := <-errCh:
		t.Fatalf("Serve failed: %v", err)
	}

	resp, err := http.Get("http://" + addr + "/api/status")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	assert.NoError(t, <-errCh)
}

func TestServe_Disabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var called bool
	cancel()
	assert.NoError(t, Serve(ctx, "", nil, func() { called = true }))
	assert.True(t, called)
}
