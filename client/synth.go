package client

import (
	"context"
	"math"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/sirupsen/logrus"

	"github.com/aton-render/atonstream/utils"
	"github.com/aton-render/atonstream/wire"
)

// AOV describes one render pass of a Synth
type AOV struct {
	Name string
	SPP  int
}

// DefaultAOVs are the passes rendered by a Synth without explicit AOVs
var DefaultAOVs = []AOV{
	{Name: "RGBA", SPP: 4},
	{Name: "Z", SPP: 1},
	{Name: "N", SPP: 3},
}

// Synth is a synthetic renderer. It streams a gradient test image in
// buckets, which is useful to try a viewer without a real renderer.
type Synth struct {
	Session    int64
	OutputName string
	Width      int
	Height     int
	BucketSize int
	Frames     []float32
	AOVs       []AOV
	Memory     datasize.ByteSize // reported renderer memory
	Delay      time.Duration     // pause after every bucket
	Version    int32
}

// Header returns the header of a frame
func (s *Synth) Header(frame float32) *wire.Header {
	h := &wire.Header{
		Session:     s.Session,
		Xres:        int32(s.Width),
		Yres:        int32(s.Height),
		PixelAspect: 1,
		RegionArea:  int64(s.Width) * int64(s.Height),
		Version:     s.Version,
		Frame:       frame,
		CameraFOV:   54.43,
		Samples:     [wire.SamplesSize]int32{3, 2, 2, 2, 2, 2},
		OutputName:  s.OutputName,
	}
	for i := 0; i < 4; i++ {
		h.CameraMatrix[i*5] = 1 // identity
	}
	h.CameraMatrix[14] = frame // dolly along z with the frame
	return h
}

// Bucket returns the samples of one bucket of an AOV
func (s *Synth) Bucket(frame float32, aov AOV, x0, y0, w, h int, elapsed time.Duration) *wire.Pixels {
	p := &wire.Pixels{
		Session:      s.Session,
		Xres:         int32(s.Width),
		Yres:         int32(s.Height),
		BucketX:      int32(x0),
		BucketY:      int32(y0),
		BucketWidth:  int32(w),
		BucketHeight: int32(h),
		SPP:          int32(aov.SPP),
		Memory:       int64(s.Memory.Bytes()),
		Elapsed:      int32(elapsed.Milliseconds()),
		AOVName:      aov.Name,
		Data:         make([]float32, 0, w*h*aov.SPP),
	}
	for y := y0; y < y0+h; y++ {
		for x := x0; x < x0+w; x++ {
			for c := 0; c < aov.SPP; c++ {
				p.Data = append(p.Data, s.sample(frame, aov, x, y, c))
			}
		}
	}
	return p
}

// sample is a smooth function of the pixel position that differs per AOV
func (s *Synth) sample(frame float32, aov AOV, x, y, c int) float32 {
	u := float64(x) / math.Max(1, float64(s.Width-1))
	v := float64(y) / math.Max(1, float64(s.Height-1))
	switch {
	case aov.SPP == 1:
		return float32(1 + math.Hypot(u-0.5, v-0.5))
	case aov.Name == "N":
		n := [3]float64{u*2 - 1, v*2 - 1, 1}
		l := math.Sqrt(n[0]*n[0] + n[1]*n[1] + n[2]*n[2])
		return float32(n[c%3] / l)
	default:
		rgba := [4]float64{u, v, 0.5 + 0.5*math.Sin(float64(frame)), 1}
		return float32(rgba[c%4])
	}
}

// Render streams every frame and closes the image after each one
func (s *Synth) Render(ctx context.Context, c *Client) error {
	aovs := s.AOVs
	if len(aovs) == 0 {
		aovs = DefaultAOVs
	}
	frames := s.Frames
	if len(frames) == 0 {
		frames = []float32{1}
	}
	size := s.BucketSize
	if size < 1 {
		size = 64
	}

	for _, frame := range frames {
		t0 := time.Now()
		l := c.l.WithFields(logrus.Fields{
			"session": s.Session,
			"frame":   frame,
		})
		if err := c.SendHeader(ctx, s.Header(frame)); err != nil {
			return err
		}
		buckets := 0
		for y0 := 0; y0 < s.Height; y0 += size {
			for x0 := 0; x0 < s.Width; x0 += size {
				w := min(size, s.Width-x0)
				h := min(size, s.Height-y0)
				for _, aov := range aovs {
					p := s.Bucket(frame, aov, x0, y0, w, h, time.Since(t0))
					if err := c.SendPixels(ctx, p); err != nil {
						return err
					}
					buckets++
				}
				if s.Delay > 0 {
					if err := utils.SleepContext(ctx, s.Delay); err != nil {
						return err
					}
				}
			}
		}
		if err := c.CloseImage(); err != nil {
			return err
		}
		l.WithFields(logrus.Fields{
			"buckets": buckets,
			"time":    utils.TimeDiff(time.Now(), t0),
		}).Info("Frame sent")
	}
	return nil
}
