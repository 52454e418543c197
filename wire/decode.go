package wire

import (
	"bufio"
	"bytes"
	"io"
	"math"

	"github.com/pkg/errors"
)

// readBufferSize is large enough to hold a typical 64x64 RGBA bucket
const readBufferSize = 64 * 1024

// Decoder reads messages from a stream. It is meant to be used by a single
// goroutine per connection. Returned messages do not share memory with the
// Decoder.
type Decoder struct {
	r   *bufio.Reader
	buf []byte
}

// NewDecoder returns a Decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r: bufio.NewReaderSize(r, readBufferSize),
	}
}

// Next reads the next complete message.
// It returns io.EOF if the stream ended cleanly before a new message, and
// io.ErrUnexpectedEOF if it ended in the middle of one.
func (d *Decoder) Next() (Message, error) {
	key, err := d.ReadKey()
	if err != nil {
		return Message{}, err
	}
	msg := Message{Key: key}
	switch key {
	case KeyHeader:
		msg.Header, err = d.ReadHeader()
	case KeyPixels:
		msg.Pixels, err = d.ReadPixels()
	}
	if err != nil {
		return Message{}, errors.Wrapf(err, "read %s", key)
	}
	return msg, nil
}

// ReadKey reads a message key and checks that it is known
func (d *Decoder) ReadKey() (Key, error) {
	b, err := d.read(KeySize)
	if err != nil {
		return 0, err // io.EOF at a message boundary
	}
	key := Key(int32(ByteOrder.Uint32(b)))
	if !key.Valid() {
		return key, errors.Wrapf(ErrUnknownKey, "key %d", int32(key))
	}
	return key, nil
}

// ReadHeader reads the body of a KeyHeader message
func (d *Decoder) ReadHeader() (*Header, error) {
	b, err := d.readBody(HeaderFixedSize)
	if err != nil {
		return nil, err
	}
	h := &Header{}
	p := parser{b: b}
	h.Session = p.i64()
	h.Xres = p.i32()
	h.Yres = p.i32()
	h.PixelAspect = p.f32()
	h.RegionArea = p.i64()
	h.Version = p.i32()
	h.Frame = p.f32()
	h.CameraFOV = p.f32()
	for i := range h.CameraMatrix {
		h.CameraMatrix[i] = p.f32()
	}
	for i := range h.Samples {
		h.Samples[i] = p.i32()
	}
	h.OutputName, err = d.readString()
	if err != nil {
		return nil, errors.Wrap(err, "output name")
	}
	return h, nil
}

// ReadPixels reads the body of a KeyPixels message, including the samples
func (d *Decoder) ReadPixels() (*Pixels, error) {
	b, err := d.readBody(PixelsFixedSize)
	if err != nil {
		return nil, err
	}
	px := &Pixels{}
	p := parser{b: b}
	px.Session = p.i64()
	px.Xres = p.i32()
	px.Yres = p.i32()
	px.BucketX = p.i32()
	px.BucketY = p.i32()
	px.BucketWidth = p.i32()
	px.BucketHeight = p.i32()
	px.SPP = p.i32()
	px.Memory = p.i64()
	px.Elapsed = p.i32()
	if err := px.Check(); err != nil {
		return nil, err
	}
	px.AOVName, err = d.readString()
	if err != nil {
		return nil, errors.Wrap(err, "aov name")
	}

	n := px.NumSamples()
	data, err := d.readBody(n * 4)
	if err != nil {
		return nil, errors.Wrap(err, "samples")
	}
	px.Data = make([]float32, n)
	for i := range px.Data {
		px.Data[i] = math.Float32frombits(ByteOrder.Uint32(data[i*4:]))
	}
	return px, nil
}

// readString reads a length prefixed string and cuts it at the first NUL
func (d *Decoder) readString() (string, error) {
	b, err := d.readBody(StringLengthSize)
	if err != nil {
		return "", err
	}
	n := ByteOrder.Uint64(b)
	if n > MaxNameLength {
		return "", errors.Wrapf(ErrNameTooLong, "%d bytes", n)
	}
	b, err = d.readBody(int(n))
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b), nil
}

// readBody is like read, but a clean EOF is unexpected here, because the
// key was already consumed.
func (d *Decoder) readBody(n int) ([]byte, error) {
	b, err := d.read(n)
	if err == io.EOF {
		return nil, io.ErrUnexpectedEOF
	}
	return b, err
}

// read reads exactly n bytes into the internal buffer. The returned slice
// is only valid until the next call.
func (d *Decoder) read(n int) ([]byte, error) {
	if cap(d.buf) < n {
		d.buf = make([]byte, n)
	}
	b := d.buf[:n]
	if _, err := io.ReadFull(d.r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// parser consumes fixed size fields from a buffer that is known to be
// large enough.
type parser struct {
	b   []byte
	off int
}

func (p *parser) i32() int32 {
	v := int32(ByteOrder.Uint32(p.b[p.off:]))
	p.off += 4
	return v
}

func (p *parser) i64() int64 {
	v := int64(ByteOrder.Uint64(p.b[p.off:]))
	p.off += 8
	return v
}

func (p *parser) f32() float32 {
	v := math.Float32frombits(ByteOrder.Uint32(p.b[p.off:]))
	p.off += 4
	return v
}
