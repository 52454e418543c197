package status

import (
	"context"
	"fmt"
	htmltemplate "html/template"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/aton-render/atonstream/compositor"
	"github.com/aton-render/atonstream/config"
	"github.com/aton-render/atonstream/framebuffer"
)

// Listener is the part of the renderer listener the status surface reports on
type Listener interface {
	Listening() bool
	Port() int
	Running() bool
	Err() string
}

// ShutdownTimeout limits how long Serve waits for open requests on exit
const ShutdownTimeout = 5 * time.Second

// NewRouter returns the HTTP handler with the status page, read API,
// live event feed and Prometheus metrics. Anything else is passed to
// http.DefaultServeMux, where healthz registers itself.
func NewRouter(c config.Config, comp *compositor.Compositor, ln Listener) http.Handler {
	a := &api{
		c:    c,
		comp: comp,
		ln:   ln,
		l:    logrus.WithField("component", "http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", a.page)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/events", a.events)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", a.status)
		r.Get("/sessions", a.sessions)
		r.Delete("/sessions", a.clear)
		r.Route("/sessions/{session}", func(r chi.Router) {
			r.Get("/", a.session)
			r.Delete("/", a.remove)
			r.Post("/move", a.move)
			r.Put("/name", a.rename)
			r.Get("/pixel", a.pixel)
			r.Get("/frames/{frame}/aovs/{aov}/raw", a.raw)
		})
	})

	r.NotFound(http.DefaultServeMux.ServeHTTP)
	return r
}

// Serve runs the HTTP server on addr until ctx is cancelled. ready is
// called once the address is bound, or right away when addr is empty and
// the server is disabled.
func Serve(ctx context.Context, addr string, h http.Handler, ready func()) error {
	if ready == nil {
		ready = func() {}
	}
	if addr == "" {
		logrus.Info("HTTP status server disabled")
		ready()
		<-ctx.Done()
		return nil
	}
	l := logrus.WithField("address", addr)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "HTTP server listen")
	}
	l.Info("HTTP status server enabled")
	ready()

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "HTTP server error")
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		l.WithError(err).Warn("HTTP server shutdown")
	}
	return nil
}

const statusTemplateString = `<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<title>Aton Stream Status</title>
	<style>
		body          { font-family: sans-serif; }
		table, td, th { border: 1px solid #ccc; border-collapse: collapse; }
		td, th        { padding: 5px; text-align: left; }
		td.num        { text-align: right; }
		td.error      { background-color: #ffb8b8; }
		td.no-error   { background-color: #a6f3a6; }
		a             { text-decoration: none; color: #3c6ac5; }
	</style>
</head>
<body>
	<h1>Aton Stream Status</h1>
	<p>
		<a href="/metrics">Prometheus metrics</a> |
		<a href="/api/sessions">Sessions JSON</a> |
		<a href="/healthz">Health</a>
	</p>

	<h2>Listener</h2>
	<table>
		<tr><th>Port</th><td class="num">{{ .Port }}</td></tr>
		<tr><th>Listening</th><td class="{{ if .Listening }}no-error{{ else }}error{{ end }}">{{ .Listening }}</td></tr>
		<tr><th>Rendering</th><td>{{ .Running }}</td></tr>
		<tr><th>Error</th><td{{ if .Err }} class="error"{{ end }}>{{ .Err }}</td></tr>
	</table>

	<h2>Images</h2>
	{{ if .Sessions }}
	<table>
		<tr><th>Session</th><th>Name</th><th>Frame</th><th>Size</th><th>AOVs</th><th>Status</th></tr>
		{{ range .Sessions }}{{ $s := . }}{{ range .Frames }}
		<tr>
			<td class="num">{{ $s.Session }}</td>
			<td>{{ $s.OutputName }}</td>
			<td class="num">{{ .Frame }}</td>
			<td class="num">{{ .Width }}x{{ .Height }}</td>
			<td>{{ range $i, $n := .AOVs }}{{ if $i }}, {{ end }}{{ $n }}{{ end }}</td>
			<td>{{ .Status }}</td>
		</tr>
		{{ end }}{{ end }}
	</table>
	{{ else }}
	<p>No images received yet.</p>
	{{ end }}

	<h2>Config</h2>
	<pre>{{ .Config.String }}</pre>

</body>
</html>`

var statusTemplate *htmltemplate.Template

func init() {
	var err error
	statusTemplate, err = htmltemplate.New("status").Parse(statusTemplateString)
	if err != nil {
		log.Fatalf("BUG: Error in status HTML template: %v", err)
	}
}

func (a *api) page(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Config    config.Config
		Port      int
		Listening bool
		Running   bool
		Err       string
		Sessions  []framebuffer.SessionInfo
	}{
		Config:    a.c,
		Port:      a.ln.Port(),
		Listening: a.ln.Listening(),
		Running:   a.ln.Running(),
		Err:       a.ln.Err(),
		Sessions:  a.comp.Sessions(),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := statusTemplate.Execute(w, data)
	if err != nil {
		w.WriteHeader(500)
		_, _ = w.Write([]byte(fmt.Sprintf("Template execution error: %v", err)))
	}
}
