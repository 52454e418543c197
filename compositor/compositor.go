// Package compositor applies decoded protocol messages to the framebuffer
// Store: it opens and updates images on headers and scatters pixel buckets
// into AOV planes while tracking progress.
package compositor

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/aton-render/atonstream/framebuffer"
	"github.com/aton-render/atonstream/notify"
	"github.com/aton-render/atonstream/wire"
)

// Options control how incoming images are stored
type Options struct {
	// MultiFrame keeps one RenderBuffer per frame and continues the most
	// recent FrameBuffer when a header carries an unknown session.
	MultiFrame bool
	// EnableAOVs stores every AOV. When disabled, only the first AOV seen
	// after a header is stored and all other buckets are discarded.
	EnableAOVs bool
}

// StreamIdle is how long the stream state of a session without an image in
// the store is kept after its last message.
const StreamIdle = 10 * time.Minute

// New returns a Compositor that writes into store and reports changes to
// notifier.
func New(l logrus.FieldLogger, store *framebuffer.Store, notifier *notify.Notifier, opt Options) *Compositor {
	return &Compositor{
		l:        l.WithField("component", "compositor"),
		store:    store,
		notifier: notifier,
		opt:      opt,
		streams:  make(map[int64]*stream),
		now:      time.Now,
	}
}

// Compositor is safe for concurrent use by multiple connections.
type Compositor struct {
	l        logrus.FieldLogger
	store    *framebuffer.Store
	notifier *notify.Notifier
	now      func() time.Time

	mu      sync.Mutex // protects the fields below
	opt     Options
	streams map[int64]*stream
}

// Options returns the current options
func (c *Compositor) Options() Options {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opt
}

// SetOptions changes the options for all following messages
func (c *Compositor) SetOptions(opt Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if opt != c.opt {
		c.l.WithFields(logrus.Fields{
			"multi_frame": opt.MultiFrame,
			"enable_aovs": opt.EnableAOVs,
		}).Info("Changed compositor options")
	}
	c.opt = opt
}

// Store returns the underlying store
func (c *Compositor) Store() *framebuffer.Store { return c.store }

// Notifier returns the underlying notifier
func (c *Compositor) Notifier() *notify.Notifier { return c.notifier }

// NewSession returns a session id for a renderer that did not provide one
func (c *Compositor) NewSession() int64 {
	return c.now().UnixMilli()
}

// stream returns the stream state of a session, creating it if needed.
// The boolean is true if it was created.
func (c *Compositor) stream(session int64) (*stream, Options, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, exists := c.streams[session]
	if !exists {
		st = &stream{session: session}
		c.streams[session] = st
		metricStreams.Set(float64(len(c.streams)))
	}
	st.used = c.now()
	return st, c.opt, !exists
}

// prune drops the stream state of sessions that have no image in the store
// and were idle for StreamIdle. Renderers that send a new session id for
// every iteration would otherwise grow the map forever.
func (c *Compositor) prune(live map[int64]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-StreamIdle)
	for session, st := range c.streams {
		if _, ok := live[session]; ok {
			continue
		}
		if st.used.Before(cutoff) {
			delete(c.streams, session)
		}
	}
	metricStreams.Set(float64(len(c.streams)))
}

// forget drops the stream state of a session
func (c *Compositor) forget(session int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.streams, session)
	metricStreams.Set(float64(len(c.streams)))
}

// HandleHeader opens or updates the image described by h. It returns the
// session the header was stored under, which differs from h.Session when
// that was 0.
func (c *Compositor) HandleHeader(h *wire.Header) (int64, error) {
	session := h.Session
	if session == 0 {
		session = c.NewSession()
	}
	frame := float64(h.Frame)
	width, height := int(h.Xres), int(h.Yres)
	if err := framebuffer.CheckResolution(width, height); err != nil {
		metricErrors.WithLabelValues("header").Inc()
		return session, errors.Wrapf(err, "header for session %d", session)
	}

	st, opt, _ := c.stream(session)
	st.mu.Lock()
	defer st.mu.Unlock()

	camera := framebuffer.Camera{FOV: h.CameraFOV, Matrix: h.CameraMatrix}
	seen := st.restart(frame, h.RegionArea, width, height)

	l := c.l.WithFields(logrus.Fields{
		"session": session,
		"frame":   frame,
	})

	var (
		events []notify.Event
		live   map[int64]struct{}
	)
	err := c.store.Update(func(tx *framebuffer.Tx) error {
		live = lo.SliceToMap(tx.FrameBuffers(), func(fb *framebuffer.FrameBuffer) (int64, struct{}) {
			return fb.Session(), struct{}{}
		})
		fb := tx.Resolve(session, opt.MultiFrame)
		if fb == nil {
			name := framebuffer.OutputName(h.OutputName, frame, c.now())
			fb = framebuffer.NewFrameBuffer(session, name)
			if err := tx.Add(fb); err != nil {
				return err
			}
			events = append(events, notify.Event{Kind: notify.KindSessions, Session: session})
			l.WithField("output_name", name).Info("New image")
		}

		rb := fb.AddFrame(frame, width, height, h.PixelAspect)
		if !opt.MultiFrame {
			fb.ClearAllExcept(frame)
		}

		if len(seen) > 0 && !rb.Empty() && rb.AOVsChanged(seen) {
			l.WithFields(logrus.Fields{
				"stored": rb.AOVNames(),
				"seen":   seen,
			}).Debug("AOV set changed, resetting channels")
			rb.TruncateAOVs(1)
			rb.SetReady(false)
			events = append(events, notify.Event{Kind: notify.KindChannels})
		}

		if rb.ResolutionChanged(width, height) {
			if err := rb.SetResolution(width, height); err != nil {
				return err
			}
		}
		rb.SetPixelAspect(h.PixelAspect)
		if rb.CameraChanged(camera) {
			rb.SetCamera(camera)
			events = append(events, notify.Event{Kind: notify.KindCamera})
		}
		if rb.Version() != h.Version {
			rb.SetVersion(h.Version)
		}
		if rb.Samples() != h.Samples {
			rb.SetSamples(h.Samples)
		}
		fb.SetCurrentFrame(frame)
		events = append(events, notify.Event{Kind: notify.KindHeader})
		return nil
	})
	if err != nil {
		metricErrors.WithLabelValues("header").Inc()
		return session, errors.Wrapf(err, "header for session %d", session)
	}
	metricHeaders.Inc()
	c.prune(live)

	for _, ev := range events {
		ev.Session = session
		ev.Frame = frame
		c.notifier.Flag(ev)
	}
	return session, nil
}

// HandlePixels writes one bucket into the image of its session
func (c *Compositor) HandlePixels(p *wire.Pixels) error {
	if err := p.Check(); err != nil {
		metricErrors.WithLabelValues("pixels").Inc()
		return err
	}
	if len(p.Data) < p.NumSamples() {
		metricErrors.WithLabelValues("pixels").Inc()
		return errors.Wrapf(wire.ErrInvalidBucket, "%d samples for %dx%d spp=%d",
			len(p.Data), p.BucketWidth, p.BucketHeight, p.SPP)
	}
	width, height := int(p.Xres), int(p.Yres)
	if err := framebuffer.CheckResolution(width, height); err != nil {
		metricErrors.WithLabelValues("pixels").Inc()
		return errors.Wrapf(err, "bucket for session %d", p.Session)
	}

	st, opt, created := c.stream(p.Session)
	st.mu.Lock()
	defer st.mu.Unlock()
	if created {
		// Buckets without a preceding header
		st.restart(0, 0, int(p.Xres), int(p.Yres))
	}

	keep := st.see(p.AOVName, opt.EnableAOVs)

	var (
		rect    notify.Rect
		primary bool
		frame   float64
	)
	err := c.store.Update(func(tx *framebuffer.Tx) error {
		fb := tx.Resolve(p.Session, opt.MultiFrame)
		if fb == nil {
			name := framebuffer.OutputName("", st.frame, c.now())
			fb = framebuffer.NewFrameBuffer(p.Session, name)
			if err := tx.Add(fb); err != nil {
				return err
			}
		}
		rb := fb.RenderBuffer(st.frame)
		if rb == nil {
			rb = fb.AddFrame(st.frame, width, height, 1)
		}
		frame = rb.Frame()

		if rb.ResolutionChanged(width, height) {
			if err := rb.SetResolution(width, height); err != nil {
				return err
			}
		}
		if !keep {
			return nil
		}

		a := rb.AOV(p.AOVName)
		if a == nil {
			a = rb.AddAOV(p.AOVName, int(p.SPP))
		} else {
			rb.SetReady(true)
		}
		scatter(a, rb.Width(), rb.Height(), p)

		if !rb.IsPrimaryAOV(p.AOVName) {
			return nil
		}
		primary = true
		rb.SetProgress(st.consume(p.Area()))
		rb.SetMemory(p.Memory)
		rb.SetElapsed(int64(p.Elapsed), st.elapsedOffset)
		st.lastElapsed = int64(p.Elapsed)
		rect = bucketRect(p, rb.Width(), rb.Height())
		return nil
	})
	if err != nil {
		metricErrors.WithLabelValues("pixels").Inc()
		return errors.Wrapf(err, "bucket for session %d", p.Session)
	}
	if !keep {
		metricBucketsSkipped.Inc()
		return nil
	}
	metricBuckets.Inc()
	metricSamples.Add(float64(p.NumSamples()))

	if primary {
		c.notifier.Flag(notify.Event{
			Kind:    notify.KindBucket,
			Session: p.Session,
			Frame:   frame,
			Rect:    rect,
		})
	}
	return nil
}

// HandleClose records that the renderer finished writing to a session
func (c *Compositor) HandleClose(session int64) {
	var frame float64
	c.mu.Lock()
	st := c.streams[session]
	c.mu.Unlock()
	if st != nil {
		st.mu.Lock()
		frame = st.frame
		st.mu.Unlock()
	}
	c.notifier.Flag(notify.Event{
		Kind:    notify.KindClose,
		Session: session,
		Frame:   frame,
		Full:    true,
	})
}

// scatter copies the bucket into the plane, flipping it vertically.
// Samples that fall outside the image are dropped.
func scatter(a *framebuffer.AOVBuffer, width, height int, p *wire.Pixels) {
	spp := int(p.SPP)
	bw, bh := int(p.BucketWidth), int(p.BucketHeight)
	x0, y0 := int(p.BucketX), int(p.BucketY)
	for by := 0; by < bh; by++ {
		y := height - (by + y0 + 1)
		if y < 0 || y >= height {
			continue
		}
		for bx := 0; bx < bw; bx++ {
			x := bx + x0
			if x < 0 || x >= width {
				continue
			}
			src := (by*bw + bx) * spp
			dst := y*width + x
			for ch := 0; ch < spp; ch++ {
				a.Set(dst, spp, ch, p.Data[src+ch])
			}
		}
	}
}

// bucketRect returns the store area written by a bucket, clipped to the
// image.
func bucketRect(p *wire.Pixels, width, height int) notify.Rect {
	x0, y0 := int(p.BucketX), int(p.BucketY)
	w, h := int(p.BucketWidth), int(p.BucketHeight)
	return notify.Rect{
		X0: lo.Clamp(x0, 0, width),
		Y0: lo.Clamp(height-y0-h, 0, height),
		X1: lo.Clamp(x0+w, 0, width),
		Y1: lo.Clamp(height-y0, 0, height),
	}
}
