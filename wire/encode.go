package wire

import (
	"io"
	"math"

	"github.com/pkg/errors"
)

// Encoder writes messages to a stream. Every message is assembled in memory
// and written with a single Write call.
type Encoder struct {
	w   io.Writer
	buf []byte
}

// NewEncoder returns an Encoder writing to w
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// WriteHeader writes a KeyHeader message
func (e *Encoder) WriteHeader(h *Header) error {
	if len(h.OutputName)+1 > MaxNameLength {
		return errors.Wrapf(ErrNameTooLong, "output name (%d bytes)", len(h.OutputName))
	}
	b := e.buf[:0]
	b = appendInt32(b, int32(KeyHeader))
	b = appendInt64(b, h.Session)
	b = appendInt32(b, h.Xres)
	b = appendInt32(b, h.Yres)
	b = appendFloat32(b, h.PixelAspect)
	b = appendInt64(b, h.RegionArea)
	b = appendInt32(b, h.Version)
	b = appendFloat32(b, h.Frame)
	b = appendFloat32(b, h.CameraFOV)
	for _, v := range h.CameraMatrix {
		b = appendFloat32(b, v)
	}
	for _, v := range h.Samples {
		b = appendInt32(b, v)
	}
	b = appendString(b, h.OutputName)
	return e.flush(b)
}

// WritePixels writes a KeyPixels message. The number of samples in Data
// must match the bucket dimensions.
func (e *Encoder) WritePixels(p *Pixels) error {
	if err := p.Check(); err != nil {
		return err
	}
	if len(p.Data) != p.NumSamples() {
		return errors.Wrapf(ErrInvalidBucket, "%d samples for %dx%d spp=%d",
			len(p.Data), p.BucketWidth, p.BucketHeight, p.SPP)
	}
	if len(p.AOVName)+1 > MaxNameLength {
		return errors.Wrapf(ErrNameTooLong, "aov name (%d bytes)", len(p.AOVName))
	}
	b := e.buf[:0]
	b = appendInt32(b, int32(KeyPixels))
	b = appendInt64(b, p.Session)
	b = appendInt32(b, p.Xres)
	b = appendInt32(b, p.Yres)
	b = appendInt32(b, p.BucketX)
	b = appendInt32(b, p.BucketY)
	b = appendInt32(b, p.BucketWidth)
	b = appendInt32(b, p.BucketHeight)
	b = appendInt32(b, p.SPP)
	b = appendInt64(b, p.Memory)
	b = appendInt32(b, p.Elapsed)
	b = appendString(b, p.AOVName)
	for _, v := range p.Data {
		b = appendFloat32(b, v)
	}
	return e.flush(b)
}

// WriteClose writes a KeyClose message
func (e *Encoder) WriteClose() error {
	return e.flush(appendInt32(e.buf[:0], int32(KeyClose)))
}

// WriteQuit writes a KeyQuit message
func (e *Encoder) WriteQuit() error {
	return e.flush(appendInt32(e.buf[:0], int32(KeyQuit)))
}

func (e *Encoder) flush(b []byte) error {
	e.buf = b // keep the grown buffer for the next message
	_, err := e.w.Write(b)
	return err
}

func appendInt32(b []byte, v int32) []byte {
	return ByteOrder.AppendUint32(b, uint32(v))
}

func appendInt64(b []byte, v int64) []byte {
	return ByteOrder.AppendUint64(b, uint64(v))
}

func appendFloat32(b []byte, v float32) []byte {
	return ByteOrder.AppendUint32(b, math.Float32bits(v))
}

func appendString(b []byte, s string) []byte {
	b = ByteOrder.AppendUint64(b, uint64(len(s)+1))
	b = append(b, s...)
	return append(b, 0)
}
