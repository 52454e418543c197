package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// ByteOrder is the byte order of all numeric fields on the wire
var ByteOrder = binary.LittleEndian

// Key identifies the kind of message that follows
type Key int32

const (
	KeyHeader Key = 0
	KeyPixels Key = 1
	KeyClose  Key = 2
	KeyQuit   Key = 9
)

func (k Key) String() string {
	switch k {
	case KeyHeader:
		return "header"
	case KeyPixels:
		return "pixels"
	case KeyClose:
		return "close"
	case KeyQuit:
		return "quit"
	default:
		return fmt.Sprintf("unknown(%d)", int32(k))
	}
}

// Valid reports if this is a known key
func (k Key) Valid() bool {
	switch k {
	case KeyHeader, KeyPixels, KeyClose, KeyQuit:
		return true
	}
	return false
}

const (
	// KeySize is the size of the message key
	KeySize = 4
	// HeaderFixedSize is the size of the fixed part of a header body,
	// excluding the output name.
	HeaderFixedSize = 8 + 4 + 4 + 4 + 8 + 4 + 4 + 4 + 16*4 + 6*4
	// PixelsFixedSize is the size of the fixed part of a pixels body,
	// excluding the AOV name and the samples.
	PixelsFixedSize = 8 + 7*4 + 8 + 4
	// StringLengthSize is the size of a string length prefix
	StringLengthSize = 8

	// MaxNameLength limits output and AOV name lengths, including the NUL
	MaxNameLength = 4096
	// MaxBucketSamples limits the number of float samples in a single bucket
	MaxBucketSamples = 1 << 26
	// MaxSPP limits the number of samples per pixel
	MaxSPP = 64
)

// CameraMatrixSize is the number of elements in a camera matrix
const CameraMatrixSize = 16

// SamplesSize is the number of sampling settings in a header
const SamplesSize = 6

var (
	ErrUnknownKey     = errors.New("unknown message key")
	ErrNameTooLong    = errors.New("name length exceeds limit")
	ErrBucketTooLarge = errors.New("bucket sample count exceeds limit")
	ErrInvalidBucket  = errors.New("invalid bucket dimensions")
)

// Header opens or updates an image. It carries resolution, camera and
// renderer metadata for one frame of one session.
type Header struct {
	Session      int64
	Xres         int32
	Yres         int32
	PixelAspect  float32
	RegionArea   int64
	Version      int32
	Frame        float32
	CameraFOV    float32
	CameraMatrix [CameraMatrixSize]float32
	Samples      [SamplesSize]int32
	OutputName   string
}

// Pixels carries one bucket of samples for one AOV
type Pixels struct {
	Session      int64
	Xres         int32
	Yres         int32
	BucketX      int32
	BucketY      int32
	BucketWidth  int32
	BucketHeight int32
	SPP          int32
	Memory       int64 // bytes
	Elapsed      int32 // milliseconds
	AOVName      string
	Data         []float32
}

// NumSamples returns the number of samples the bucket dimensions declare
func (p *Pixels) NumSamples() int {
	return int(p.BucketWidth) * int(p.BucketHeight) * int(p.SPP)
}

// Area returns the number of pixels in the bucket
func (p *Pixels) Area() int64 {
	return int64(p.BucketWidth) * int64(p.BucketHeight)
}

// Check validates the declared bucket dimensions
func (p *Pixels) Check() error {
	if p.BucketWidth < 0 || p.BucketHeight < 0 || p.SPP < 1 || p.SPP > MaxSPP {
		return errors.Wrapf(ErrInvalidBucket, "%dx%d spp=%d",
			p.BucketWidth, p.BucketHeight, p.SPP)
	}
	n := int64(p.BucketWidth) * int64(p.BucketHeight) * int64(p.SPP)
	if n > MaxBucketSamples {
		return errors.Wrapf(ErrBucketTooLarge, "%d samples", n)
	}
	return nil
}

// Message is one decoded message. Header is set for KeyHeader, Pixels for
// KeyPixels.
type Message struct {
	Key    Key
	Header *Header
	Pixels *Pixels
}

// Session returns the session id carried by the message, or 0 for
// messages without a body.
func (m Message) Session() int64 {
	switch {
	case m.Header != nil:
		return m.Header.Session
	case m.Pixels != nil:
		return m.Pixels.Session
	}
	return 0
}
