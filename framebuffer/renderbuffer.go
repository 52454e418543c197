package framebuffer

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/aton-render/atonstream/wire"
)

// MaxPixels limits the resolution of a RenderBuffer
const MaxPixels = 1 << 28

// bytesPerMB converts renderer memory reports to MB
const bytesPerMB = 1048576

var ErrResolution = errors.New("invalid resolution")

// CheckResolution returns ErrResolution for negative sizes or images
// larger than MaxPixels.
func CheckResolution(width, height int) error {
	if width < 0 || height < 0 || int64(width)*int64(height) > MaxPixels {
		return errors.Wrapf(ErrResolution, "%dx%d", width, height)
	}
	return nil
}

// Camera is the render camera of a frame
type Camera struct {
	FOV    float32
	Matrix [wire.CameraMatrixSize]float32
}

// RenderBuffer holds the progressive image of one frame of one session:
// one AOVBuffer per AOV in first-seen order plus status metadata.
// The AOV at index 0 is the primary AOV.
//
// Methods that modify the RenderBuffer must only be called within
// Store.Update; all other methods within Store.View or Store.Update.
type RenderBuffer struct {
	frame       float64
	width       int
	height      int
	pixelAspect float32
	camera      Camera
	version     int32
	samples     [wire.SamplesSize]int32
	progress    int64
	memory      int64 // MB
	peakMemory  int64 // MB
	elapsed     time.Duration
	ready       bool
	aovs        []*AOVBuffer
}

// NewRenderBuffer returns an empty RenderBuffer for a frame. A resolution
// that fails CheckResolution is stored as 0x0.
func NewRenderBuffer(frame float64, width, height int, pixelAspect float32) *RenderBuffer {
	if CheckResolution(width, height) != nil {
		width, height = 0, 0
	}
	return &RenderBuffer{
		frame:       frame,
		width:       width,
		height:      height,
		pixelAspect: pixelAspect,
	}
}

func (rb *RenderBuffer) Frame() float64         { return rb.frame }
func (rb *RenderBuffer) Width() int             { return rb.width }
func (rb *RenderBuffer) Height() int            { return rb.height }
func (rb *RenderBuffer) PixelAspect() float32   { return rb.pixelAspect }
func (rb *RenderBuffer) Camera() Camera         { return rb.camera }
func (rb *RenderBuffer) Version() int32         { return rb.version }
func (rb *RenderBuffer) Progress() int64        { return rb.progress }
func (rb *RenderBuffer) Memory() int64          { return rb.memory }
func (rb *RenderBuffer) PeakMemory() int64      { return rb.peakMemory }
func (rb *RenderBuffer) Elapsed() time.Duration { return rb.elapsed }
func (rb *RenderBuffer) Ready() bool            { return rb.ready }

// Samples returns the sampling settings: AA, diffuse, specular,
// transmission, sss and volume.
func (rb *RenderBuffer) Samples() [wire.SamplesSize]int32 { return rb.samples }

// VersionString returns the renderer version as "a.b.c.d"
func (rb *RenderBuffer) VersionString() string {
	return wire.VersionString(rb.version)
}

// SamplesString returns the sampling settings joined with "/"
func (rb *RenderBuffer) SamplesString() string {
	parts := lo.Map(rb.samples[:], func(s int32, _ int) string {
		return fmt.Sprint(s)
	})
	return strings.Join(parts, "/")
}

// Empty reports if no AOVs have been added yet
func (rb *RenderBuffer) Empty() bool { return len(rb.aovs) == 0 }

// NumAOVs returns the number of AOVs
func (rb *RenderBuffer) NumAOVs() int { return len(rb.aovs) }

// AOVNames returns the AOV names in index order
func (rb *RenderBuffer) AOVNames() []string {
	return lo.Map(rb.aovs, func(a *AOVBuffer, _ int) string {
		return a.name
	})
}

// AOVName returns the name of the AOV at index i, or "" if out of range
func (rb *RenderBuffer) AOVName(i int) string {
	if i < 0 || i >= len(rb.aovs) {
		return ""
	}
	return rb.aovs[i].name
}

// HasAOV reports if an AOV with this name exists
func (rb *RenderBuffer) HasAOV(name string) bool {
	_, _, ok := rb.findAOV(name)
	return ok
}

// AOVIndex returns the index of the named AOV. Unknown names resolve to the
// primary AOV at index 0, so a display asking for a channel that has not
// arrived yet shows the primary image.
func (rb *RenderBuffer) AOVIndex(name string) int {
	_, i, ok := rb.findAOV(name)
	if !ok {
		return 0
	}
	return i
}

// AOV returns the named AOVBuffer, or nil
func (rb *RenderBuffer) AOV(name string) *AOVBuffer {
	a, _, _ := rb.findAOV(name)
	return a
}

// AOVAt returns the AOVBuffer at index i, or nil
func (rb *RenderBuffer) AOVAt(i int) *AOVBuffer {
	if i < 0 || i >= len(rb.aovs) {
		return nil
	}
	return rb.aovs[i]
}

// IsPrimaryAOV reports if name is the AOV at index 0
func (rb *RenderBuffer) IsPrimaryAOV(name string) bool {
	return len(rb.aovs) > 0 && rb.aovs[0].name == name
}

func (rb *RenderBuffer) findAOV(name string) (*AOVBuffer, int, bool) {
	return lo.FindIndexOf(rb.aovs, func(a *AOVBuffer) bool {
		return a.name == name
	})
}

// Pixel returns channel c of the pixel at (x, y) of AOV index aov, with y
// counted from the top. Anything out of range reads as 0.
func (rb *RenderBuffer) Pixel(aov, x, y, c int) float32 {
	a := rb.AOVAt(aov)
	if a == nil || x < 0 || y < 0 || x >= rb.width || y >= rb.height {
		return 0
	}
	return a.Get(y*rb.width+x, c)
}

// AOVsChanged reports if names differs from the stored AOV list
func (rb *RenderBuffer) AOVsChanged(names []string) bool {
	if len(names) != len(rb.aovs) {
		return true
	}
	for i, a := range rb.aovs {
		if a.name != names[i] {
			return true
		}
	}
	return false
}

// ResolutionChanged reports if the resolution differs from width x height
func (rb *RenderBuffer) ResolutionChanged(width, height int) bool {
	return width != rb.width || height != rb.height
}

// CameraChanged reports if the field of view or any matrix element differs
func (rb *RenderBuffer) CameraChanged(c Camera) bool {
	return rb.camera != c
}

// SetResolution resizes every AOV plane to the new resolution. All pixels
// are reset to zero. The new planes are allocated before any of them is
// replaced, so a failure leaves the buffer untouched.
func (rb *RenderBuffer) SetResolution(width, height int) error {
	if err := CheckResolution(width, height); err != nil {
		return err
	}
	size := width * height
	type planes struct {
		color  []Color
		scalar []float32
	}
	fresh := make([]planes, len(rb.aovs))
	for i, a := range rb.aovs {
		fresh[i].color, fresh[i].scalar = a.allocate(size)
	}
	for i, a := range rb.aovs {
		a.color, a.scalar = fresh[i].color, fresh[i].scalar
	}
	rb.width = width
	rb.height = height
	return nil
}

// AddAOV appends a new zeroed AOV plane sized to the current resolution.
// If the AOV already exists, it is returned unchanged.
func (rb *RenderBuffer) AddAOV(name string, spp int) *AOVBuffer {
	if a := rb.AOV(name); a != nil {
		return a
	}
	a := newAOVBuffer(name, spp, rb.width*rb.height)
	rb.aovs = append(rb.aovs, a)
	return a
}

// TruncateAOVs shrinks the AOV list to at most n entries
func (rb *RenderBuffer) TruncateAOVs(n int) {
	if n < 0 {
		n = 0
	}
	if n < len(rb.aovs) {
		for i := n; i < len(rb.aovs); i++ {
			rb.aovs[i] = nil
		}
		rb.aovs = rb.aovs[:n]
	}
}

// ClearAOVs removes all AOVs
func (rb *RenderBuffer) ClearAOVs() {
	rb.aovs = nil
	rb.ready = false
}

func (rb *RenderBuffer) SetFrame(frame float64)               { rb.frame = frame }
func (rb *RenderBuffer) SetPixelAspect(aspect float32)        { rb.pixelAspect = aspect }
func (rb *RenderBuffer) SetCamera(c Camera)                   { rb.camera = c }
func (rb *RenderBuffer) SetVersion(v int32)                   { rb.version = v }
func (rb *RenderBuffer) SetSamples(s [wire.SamplesSize]int32) { rb.samples = s }
func (rb *RenderBuffer) SetReady(ready bool)                  { rb.ready = ready }

// SetProgress sets the progress percentage, clamped to [0, 100]
func (rb *RenderBuffer) SetProgress(p int64) {
	rb.progress = lo.Clamp(p, 0, 100)
}

// SetMemory records the renderer memory usage in bytes. It is stored in MB
// together with the peak seen so far.
func (rb *RenderBuffer) SetMemory(bytes int64) {
	mb := bytes / bytesPerMB
	rb.memory = mb
	if mb > rb.peakMemory {
		rb.peakMemory = mb
	}
}

// SetElapsed records the elapsed render time in milliseconds, relative to
// the elapsed time at the start of the current iteration (offset).
// An offset larger than the elapsed time means the renderer restarted its
// clock and is ignored.
func (rb *RenderBuffer) SetElapsed(elapsedMS, offsetMS int64) {
	ms := elapsedMS
	if offsetMS <= elapsedMS {
		ms = elapsedMS - offsetMS
	}
	rb.elapsed = time.Duration(ms) * time.Millisecond
}

// SizeBytes returns the memory used by all AOV planes
func (rb *RenderBuffer) SizeBytes() int64 {
	return lo.SumBy(rb.aovs, func(a *AOVBuffer) int64 {
		return a.SizeBytes()
	})
}

// clone returns a deep copy for a new frame
func (rb *RenderBuffer) clone(frame float64) *RenderBuffer {
	c := *rb
	c.frame = frame
	c.aovs = lo.Map(rb.aovs, func(a *AOVBuffer, _ int) *AOVBuffer {
		return a.clone()
	})
	return &c
}
