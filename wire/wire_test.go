package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader() *Header {
	h := &Header{
		Session:     1001,
		Xres:        640,
		Yres:        480,
		PixelAspect: 1.0,
		RegionArea:  640 * 480,
		Version:     5040102,
		Frame:       12.5,
		CameraFOV:   54.43,
		Samples:     [SamplesSize]int32{3, 2, 2, 2, 2, 2},
		OutputName:  "beauty",
	}
	for i := range h.CameraMatrix {
		h.CameraMatrix[i] = float32(i) * 0.5
	}
	return h
}

func testPixels() *Pixels {
	p := &Pixels{
		Session:      1001,
		Xres:         640,
		Yres:         480,
		BucketX:      64,
		BucketY:      128,
		BucketWidth:  2,
		BucketHeight: 3,
		SPP:          4,
		Memory:       512 << 20,
		Elapsed:      1234,
		AOVName:      "RGBA",
	}
	p.Data = make([]float32, p.NumSamples())
	for i := range p.Data {
		p.Data[i] = float32(i) / 10
	}
	return p
}

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.WriteHeader(testHeader()))
	require.NoError(t, enc.WritePixels(testPixels()))
	require.NoError(t, enc.WriteClose())
	require.NoError(t, enc.WriteQuit())

	dec := NewDecoder(&buf)

	msg, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, KeyHeader, msg.Key)
	assert.Equal(t, testHeader(), msg.Header)
	assert.Equal(t, int64(1001), msg.Session())

	msg, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, KeyPixels, msg.Key)
	assert.Equal(t, testPixels(), msg.Pixels)

	msg, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, KeyClose, msg.Key)
	assert.Nil(t, msg.Header)
	assert.Nil(t, msg.Pixels)

	msg, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, KeyQuit, msg.Key)

	_, err = dec.Next()
	assert.Equal(t, io.EOF, err)
}

func TestEncoder_layout(t *testing.T) {
	var buf bytes.Buffer
	h := testHeader()
	h.OutputName = "abc"
	require.NoError(t, NewEncoder(&buf).WriteHeader(h))
	b := buf.Bytes()
	require.Len(t, b, KeySize+HeaderFixedSize+StringLengthSize+4)
	assert.Equal(t, []byte{0, 0, 0, 0}, b[:4])
	assert.Equal(t, []byte{0xe9, 0x03, 0, 0, 0, 0, 0, 0}, b[4:12]) // 1001
	tail := b[KeySize+HeaderFixedSize:]
	assert.Equal(t, []byte{4, 0, 0, 0, 0, 0, 0, 0, 'a', 'b', 'c', 0}, tail)

	buf.Reset()
	require.NoError(t, NewEncoder(&buf).WriteQuit())
	assert.Equal(t, []byte{9, 0, 0, 0}, buf.Bytes())
}

func TestDecoder_errors(t *testing.T) {
	full := func() []byte {
		var buf bytes.Buffer
		require.NoError(t, NewEncoder(&buf).WritePixels(testPixels()))
		return buf.Bytes()
	}

	t.Run("unknown-key", func(t *testing.T) {
		_, err := NewDecoder(bytes.NewReader([]byte{3, 0, 0, 0})).Next()
		assert.True(t, errors.Is(err, ErrUnknownKey), "got %v", err)
	})
	t.Run("short-key", func(t *testing.T) {
		_, err := NewDecoder(bytes.NewReader([]byte{1, 0})).Next()
		assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "got %v", err)
	})
	t.Run("truncated-fixed", func(t *testing.T) {
		b := full()
		_, err := NewDecoder(bytes.NewReader(b[:KeySize+10])).Next()
		assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "got %v", err)
	})
	t.Run("truncated-samples", func(t *testing.T) {
		b := full()
		_, err := NewDecoder(bytes.NewReader(b[:len(b)-3])).Next()
		assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "got %v", err)
	})
	t.Run("key-only", func(t *testing.T) {
		_, err := NewDecoder(bytes.NewReader([]byte{0, 0, 0, 0})).Next()
		assert.True(t, errors.Is(err, io.ErrUnexpectedEOF), "got %v", err)
	})
	t.Run("corrupt-name-length", func(t *testing.T) {
		b := full()
		off := KeySize + PixelsFixedSize
		ByteOrder.PutUint64(b[off:], 1<<40)
		_, err := NewDecoder(bytes.NewReader(b)).Next()
		assert.True(t, errors.Is(err, ErrNameTooLong), "got %v", err)
	})
	t.Run("negative-bucket", func(t *testing.T) {
		b := full()
		off := KeySize + 8 + 4*4 // bucket_width
		ByteOrder.PutUint32(b[off:], 0xffffffff)
		_, err := NewDecoder(bytes.NewReader(b)).Next()
		assert.True(t, errors.Is(err, ErrInvalidBucket), "got %v", err)
	})
	t.Run("huge-bucket", func(t *testing.T) {
		b := full()
		off := KeySize + 8 + 4*4
		ByteOrder.PutUint32(b[off:], 1<<15)
		ByteOrder.PutUint32(b[off+4:], 1<<15)
		_, err := NewDecoder(bytes.NewReader(b)).Next()
		assert.True(t, errors.Is(err, ErrBucketTooLarge), "got %v", err)
	})
}

func TestDecoder_nameWithoutNUL(t *testing.T) {
	// Peers are not required to send the terminating NUL
	var b []byte
	b = appendInt32(b, int32(KeyPixels))
	b = appendInt64(b, 7)
	for i := 0; i < 7; i++ {
		b = appendInt32(b, 1) // xres..spp
	}
	b = appendInt64(b, 0)
	b = appendInt32(b, 0)
	b = ByteOrder.AppendUint64(b, 1)
	b = append(b, 'Z')
	b = appendFloat32(b, 0.25)

	msg, err := NewDecoder(bytes.NewReader(b)).Next()
	require.NoError(t, err)
	assert.Equal(t, "Z", msg.Pixels.AOVName)
	assert.Equal(t, []float32{0.25}, msg.Pixels.Data)
}

func TestEncoder_invalid(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	p := testPixels()
	p.Data = p.Data[1:]
	assert.True(t, errors.Is(enc.WritePixels(p), ErrInvalidBucket))

	p = testPixels()
	p.SPP = 0
	assert.True(t, errors.Is(enc.WritePixels(p), ErrInvalidBucket))

	h := testHeader()
	h.OutputName = string(make([]byte, MaxNameLength))
	assert.True(t, errors.Is(enc.WriteHeader(h), ErrNameTooLong))

	assert.Equal(t, 0, buf.Len())
}

func TestKey_String(t *testing.T) {
	assert.Equal(t, "header", KeyHeader.String())
	assert.Equal(t, "quit", KeyQuit.String())
	assert.Equal(t, "unknown(5)", Key(5).String())
	assert.False(t, Key(5).Valid())
}
