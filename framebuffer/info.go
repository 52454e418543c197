package framebuffer

import (
	"github.com/c2h5oh/datasize"
)

// FrameInfo is a snapshot of one RenderBuffer
type FrameInfo struct {
	Frame       float64           `json:"frame"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	PixelAspect float32           `json:"pixel_aspect"`
	AOVs        []string          `json:"aovs"`
	Progress    int64             `json:"progress"`
	Ready       bool              `json:"ready"`
	Version     string            `json:"version"`
	Samples     string            `json:"samples"`
	MemoryMB    int64             `json:"memory_mb"`
	PeakMB      int64             `json:"peak_memory_mb"`
	Elapsed     string            `json:"elapsed"`
	Status      string            `json:"status"`
	Size        datasize.ByteSize `json:"size"`
}

// SessionInfo is a snapshot of one FrameBuffer. It is safe to use after
// the transaction ends.
type SessionInfo struct {
	Session      int64             `json:"session"`
	OutputName   string            `json:"output_name"`
	CurrentFrame float64           `json:"current_frame"`
	Frames       []FrameInfo       `json:"frames"`
	Size         datasize.ByteSize `json:"size"`
}

// Info returns a snapshot of the RenderBuffer. frames is the number of
// frames in the owning FrameBuffer.
func (rb *RenderBuffer) Info(frames int) FrameInfo {
	return FrameInfo{
		Frame:       rb.frame,
		Width:       rb.width,
		Height:      rb.height,
		PixelAspect: rb.pixelAspect,
		AOVs:        rb.AOVNames(),
		Progress:    rb.progress,
		Ready:       rb.ready,
		Version:     rb.VersionString(),
		Samples:     rb.SamplesString(),
		MemoryMB:    rb.memory,
		PeakMB:      rb.peakMemory,
		Elapsed:     FormatElapsed(rb.elapsed),
		Status:      StatusLine(rb, frames),
		Size:        datasize.ByteSize(rb.SizeBytes()),
	}
}

// Info returns a snapshot of the FrameBuffer
func (fb *FrameBuffer) Info() SessionInfo {
	info := SessionInfo{
		Session:      fb.session,
		OutputName:   fb.outputName,
		CurrentFrame: fb.currentFrame,
		Frames:       make([]FrameInfo, 0, len(fb.renderBuffers)),
		Size:         datasize.ByteSize(fb.SizeBytes()),
	}
	for _, rb := range fb.renderBuffers {
		info.Frames = append(info.Frames, rb.Info(len(fb.frames)))
	}
	return info
}

// Sessions returns a snapshot of all FrameBuffers in list order
func (tx *Tx) Sessions() []SessionInfo {
	infos := make([]SessionInfo, 0, len(tx.s.framebuffers))
	for _, fb := range tx.s.framebuffers {
		infos = append(infos, fb.Info())
	}
	return infos
}
