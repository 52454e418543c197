package status

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/aton-render/atonstream/compositor"
	"github.com/aton-render/atonstream/config"
	"github.com/aton-render/atonstream/framebuffer"
)

// Headers describing a raw plane download
const (
	HeaderWidth    = "X-Width"
	HeaderHeight   = "X-Height"
	HeaderChannels = "X-Channels"
)

// ErrRendering is returned when images are changed during a render
var ErrRendering = errors.New("a render is in progress")

type api struct {
	c    config.Config
	comp *compositor.Compositor
	ln   Listener
	l    logrus.FieldLogger
}

// Status is the response of /api/status
type Status struct {
	Version     string `json:"version"`
	Listening   bool   `json:"listening"`
	Port        int    `json:"port"`
	Running     bool   `json:"running"`
	Error       string `json:"error"`
	Sessions    int    `json:"sessions"`
	Seq         uint64 `json:"seq"`
	Subscribers int    `json:"subscribers"`
}

// PixelValue is the response of the pixel endpoint
type PixelValue struct {
	Session int64     `json:"session"`
	Frame   float64   `json:"frame"`
	AOV     string    `json:"aov"`
	X       int       `json:"x"`
	Y       int       `json:"y"`
	Values  []float32 `json:"values"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

// storeError maps store errors to a status code
func storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, framebuffer.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func sessionParam(r *http.Request) (int64, error) {
	s := chi.URLParam(r, "session")
	session, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Errorf("invalid session: %q", s)
	}
	return session, nil
}

// frameParam parses an optional frame number. An empty value or "current"
// selects the current frame of the session.
func frameParam(s string) (frame float64, current bool, err error) {
	if s == "" || s == "current" {
		return 0, true, nil
	}
	frame, err = strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(frame) {
		return 0, false, errors.Errorf("invalid frame: %q", s)
	}
	return frame, false, nil
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	n := a.comp.Notifier()
	var sessions int
	_ = a.comp.Store().View(func(tx *framebuffer.Tx) error {
		sessions = tx.Len()
		return nil
	})
	writeJSON(w, http.StatusOK, Status{
		Version:     a.c.Version,
		Listening:   a.ln.Listening(),
		Port:        a.ln.Port(),
		Running:     a.ln.Running(),
		Error:       a.ln.Err(),
		Sessions:    sessions,
		Seq:         n.Seq(),
		Subscribers: n.Subscribers(),
	})
}

func (a *api) sessions(w http.ResponseWriter, r *http.Request) {
	infos := a.comp.Sessions()
	if infos == nil {
		infos = []framebuffer.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (a *api) session(w http.ResponseWriter, r *http.Request) {
	session, err := sessionParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var info framebuffer.SessionInfo
	err = a.comp.Store().View(func(tx *framebuffer.Tx) error {
		fb, _ := tx.Lookup(session)
		if fb == nil {
			return errors.Wrapf(framebuffer.ErrSessionNotFound, "session %d", session)
		}
		info = fb.Info()
		return nil
	})
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *api) remove(w http.ResponseWriter, r *http.Request) {
	session, err := sessionParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if a.ln.Running() {
		writeError(w, http.StatusConflict, ErrRendering)
		return
	}
	if err := a.comp.Remove(session); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) clear(w http.ResponseWriter, r *http.Request) {
	if a.ln.Running() {
		writeError(w, http.StatusConflict, ErrRendering)
		return
	}
	if err := a.comp.Clear(); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) move(w http.ResponseWriter, r *http.Request) {
	session, err := sessionParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var up bool
	switch dir := r.URL.Query().Get("dir"); dir {
	case "up":
		up = true
	case "down":
	default:
		writeError(w, http.StatusBadRequest, errors.Errorf("invalid dir: %q", dir))
		return
	}
	moved, err := a.comp.Move(session, up)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"moved": moved})
}

func (a *api) rename(w http.ResponseWriter, r *http.Request) {
	session, err := sessionParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode body"))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errors.New("empty name"))
		return
	}
	if err := a.comp.Rename(session, req.Name); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// renderBuffer resolves the RenderBuffer for a request inside a View
func renderBuffer(tx *framebuffer.Tx, session int64, frame float64, current bool) (*framebuffer.FrameBuffer, *framebuffer.RenderBuffer, error) {
	fb, _ := tx.Lookup(session)
	if fb == nil {
		return nil, nil, errors.Wrapf(framebuffer.ErrSessionNotFound, "session %d", session)
	}
	var rb *framebuffer.RenderBuffer
	if current {
		rb = fb.Current()
	} else {
		rb = fb.RenderBuffer(frame)
	}
	if rb == nil {
		return nil, nil, errors.Wrapf(framebuffer.ErrSessionNotFound, "session %d has no frames", session)
	}
	return fb, rb, nil
}

func (a *api) pixel(w http.ResponseWriter, r *http.Request) {
	session, err := sessionParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	q := r.URL.Query()
	frame, current, err := frameParam(q.Get("frame"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	x, errX := strconv.Atoi(q.Get("x"))
	y, errY := strconv.Atoi(q.Get("y"))
	if errX != nil || errY != nil {
		writeError(w, http.StatusBadRequest, errors.New("x and y must be integers"))
		return
	}

	res := PixelValue{Session: session, X: x, Y: y}
	err = a.comp.Store().View(func(tx *framebuffer.Tx) error {
		_, rb, err := renderBuffer(tx, session, frame, current)
		if err != nil {
			return err
		}
		idx := rb.AOVIndex(q.Get("aov"))
		res.Frame = rb.Frame()
		res.AOV = rb.AOVName(idx)
		channels := 4
		if aov := rb.AOVAt(idx); aov != nil {
			channels = aov.Kind().Channels()
		}
		res.Values = make([]float32, channels)
		for c := range res.Values {
			res.Values[c] = rb.Pixel(idx, x, y, c)
		}
		return nil
	})
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

var filenameReplacer = strings.NewReplacer(":", "-", "/", "_", "\\", "_")

// downloadName returns the file name for a raw plane. Output names carry
// a time of day, so separators that file systems reject are replaced.
func downloadName(outputName, aov string) string {
	return filenameReplacer.Replace(outputName + "_" + aov + ".raw.gz")
}

// raw serves one AOV plane as gzip compressed little-endian float32
// values, top row first, channels interleaved.
func (a *api) raw(w http.ResponseWriter, r *http.Request) {
	session, err := sessionParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	frame, current, err := frameParam(chi.URLParam(r, "frame"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	aovName := chi.URLParam(r, "aov")

	var (
		width, height, channels int
		name                    string
		plane                   []float32
	)
	err = a.comp.Store().View(func(tx *framebuffer.Tx) error {
		fb, rb, err := renderBuffer(tx, session, frame, current)
		if err != nil {
			return err
		}
		aov := rb.AOV(aovName)
		if aov == nil {
			return errors.Wrapf(framebuffer.ErrSessionNotFound, "session %d has no AOV %q", session, aovName)
		}
		width, height = rb.Width(), rb.Height()
		channels = aov.Kind().Channels()
		name = fb.OutputName()
		n := aov.Len()
		plane = make([]float32, 0, n*channels)
		for i := 0; i < n; i++ {
			for c := 0; c < channels; c++ {
				plane = append(plane, aov.Get(i, c))
			}
		}
		return nil
	})
	if err != nil {
		storeError(w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "application/gzip")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(name, aovName)))
	h.Set(HeaderWidth, strconv.Itoa(width))
	h.Set(HeaderHeight, strconv.Itoa(height))
	h.Set(HeaderChannels, strconv.Itoa(channels))

	gz := gzip.NewWriter(w)
	if err := binary.Write(gz, binary.LittleEndian, plane); err != nil {
		a.l.WithError(err).Debug("Raw plane write failed")
		return
	}
	if err := gz.Close(); err != nil {
		a.l.WithError(err).Debug("Raw plane write failed")
	}
}
