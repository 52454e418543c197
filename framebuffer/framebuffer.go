package framebuffer

import (
	"fmt"
	"time"

	"github.com/samber/lo"
)

// OutputTimeFormat is the timestamp layout used in output names
const OutputTimeFormat = "01.02_15:04:05"

// OutputName derives the display name of a session from the renderer
// provided name, the frame and the time the session was created.
func OutputName(name string, frame float64, t time.Time) string {
	if name == "" {
		name = "aton"
	}
	return fmt.Sprintf("%s_%v_%s", name, frame, t.Format(OutputTimeFormat))
}

// FrameBuffer is one render session. It holds a RenderBuffer per frame
// number, in insertion order.
//
// Methods that modify the FrameBuffer must only be called within
// Store.Update.
type FrameBuffer struct {
	session       int64
	outputName    string
	currentFrame  float64
	frames        []float64
	renderBuffers []*RenderBuffer
}

// NewFrameBuffer returns an empty FrameBuffer for a session
func NewFrameBuffer(session int64, outputName string) *FrameBuffer {
	return &FrameBuffer{
		session:    session,
		outputName: outputName,
	}
}

func (fb *FrameBuffer) Session() int64        { return fb.session }
func (fb *FrameBuffer) OutputName() string    { return fb.outputName }
func (fb *FrameBuffer) CurrentFrame() float64 { return fb.currentFrame }

// Len returns the number of frames
func (fb *FrameBuffer) Len() int { return len(fb.frames) }

// Empty reports if the FrameBuffer has no frames
func (fb *FrameBuffer) Empty() bool { return len(fb.frames) == 0 }

// Frames returns a copy of the frame numbers in insertion order
func (fb *FrameBuffer) Frames() []float64 {
	return append([]float64(nil), fb.frames...)
}

// HasFrame reports if a RenderBuffer exists for exactly this frame
func (fb *FrameBuffer) HasFrame(frame float64) bool {
	return lo.Contains(fb.frames, frame)
}

// Index returns the index of the RenderBuffer to use for frame, or -1 if
// the FrameBuffer is empty.
//
// An exact match wins. Otherwise the frames are treated as a sparse
// timeline: the nearest frame not exceeding the requested one is used,
// and if every stored frame is later, the earliest one.
func (fb *FrameBuffer) Index(frame float64) int {
	if len(fb.frames) == 0 {
		return -1
	}
	if len(fb.frames) == 1 {
		return 0
	}
	if i := lo.IndexOf(fb.frames, frame); i >= 0 {
		return i
	}
	nearest, earliest := -1, 0
	for i, f := range fb.frames {
		if f < frame && (nearest < 0 || f > fb.frames[nearest]) {
			nearest = i
		}
		if f < fb.frames[earliest] {
			earliest = i
		}
	}
	if nearest >= 0 {
		return nearest
	}
	return earliest
}

// RenderBuffer returns the RenderBuffer to use for frame, see Index.
// It returns nil if the FrameBuffer is empty.
func (fb *FrameBuffer) RenderBuffer(frame float64) *RenderBuffer {
	i := fb.Index(frame)
	if i < 0 {
		return nil
	}
	return fb.renderBuffers[i]
}

// Current returns the RenderBuffer for the current frame
func (fb *FrameBuffer) Current() *RenderBuffer {
	return fb.RenderBuffer(fb.currentFrame)
}

// RenderBuffers returns the RenderBuffers in insertion order
func (fb *FrameBuffer) RenderBuffers() []*RenderBuffer {
	return append([]*RenderBuffer(nil), fb.renderBuffers...)
}

func (fb *FrameBuffer) SetOutputName(name string)     { fb.outputName = name }
func (fb *FrameBuffer) SetCurrentFrame(frame float64) { fb.currentFrame = frame }

// AddFrame adds a RenderBuffer for a new frame and makes it current.
// The new RenderBuffer starts as a copy of the most recently added one, so
// a viewer keeps seeing the previous image until new buckets arrive.
// If the frame already exists, its RenderBuffer is returned.
func (fb *FrameBuffer) AddFrame(frame float64, width, height int, pixelAspect float32) *RenderBuffer {
	fb.currentFrame = frame
	if i := lo.IndexOf(fb.frames, frame); i >= 0 {
		return fb.renderBuffers[i]
	}
	var rb *RenderBuffer
	if n := len(fb.renderBuffers); n > 0 {
		rb = fb.renderBuffers[n-1].clone(frame)
	} else {
		rb = NewRenderBuffer(frame, width, height, pixelAspect)
	}
	fb.frames = append(fb.frames, frame)
	fb.renderBuffers = append(fb.renderBuffers, rb)
	return rb
}

// ClearAllExcept keeps only the RenderBuffer that Index selects for frame
func (fb *FrameBuffer) ClearAllExcept(frame float64) {
	i := fb.Index(frame)
	if i < 0 {
		return
	}
	fb.frames = []float64{fb.frames[i]}
	fb.renderBuffers = []*RenderBuffer{fb.renderBuffers[i]}
	fb.currentFrame = frame
}

// ClearAll removes all frames
func (fb *FrameBuffer) ClearAll() {
	fb.frames = nil
	fb.renderBuffers = nil
}

// SizeBytes returns the memory used by all planes of all frames
func (fb *FrameBuffer) SizeBytes() int64 {
	return lo.SumBy(fb.renderBuffers, func(rb *RenderBuffer) int64 {
		return rb.SizeBytes()
	})
}
