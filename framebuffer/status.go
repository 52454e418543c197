package framebuffer

import (
	"fmt"
	"time"
)

// FormatElapsed formats a duration as "HHh:MMm:SSs"
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%02dh:%02dm:%02ds", s/3600, (s/60)%60, s%60)
}

// StatusLine returns the one-line summary of a RenderBuffer shown by
// viewers. frames is the number of frames in the owning FrameBuffer.
func StatusLine(rb *RenderBuffer, frames int) string {
	return fmt.Sprintf(
		"Arnold %s | Memory: %dMB / %dMB | Time: %s | Frame: %v(%d) | Samples: %s | Progress: %d%%",
		rb.VersionString(),
		rb.memory, rb.peakMemory,
		FormatElapsed(rb.elapsed),
		rb.frame, frames,
		rb.SamplesString(),
		rb.progress,
	)
}
