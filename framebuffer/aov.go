package framebuffer

// Color is one RGB pixel
type Color [3]float32

// PlaneKind describes how an AOVBuffer stores its channels
type PlaneKind uint8

const (
	// PlaneScalar stores one float per pixel
	PlaneScalar PlaneKind = iota
	// PlaneColor stores one RGB color per pixel
	PlaneColor
	// PlaneColorAlpha stores an RGB color and a separate alpha per pixel
	PlaneColorAlpha
)

// PlaneKindForSPP returns the storage used for a given number of samples
// per pixel. Anything other than 1 or 4 is stored as color.
func PlaneKindForSPP(spp int) PlaneKind {
	switch spp {
	case 1:
		return PlaneScalar
	case 4:
		return PlaneColorAlpha
	default:
		return PlaneColor
	}
}

func (k PlaneKind) String() string {
	switch k {
	case PlaneScalar:
		return "scalar"
	case PlaneColor:
		return "color"
	case PlaneColorAlpha:
		return "color+alpha"
	}
	return "unknown"
}

// Channels returns the number of channels the plane holds per pixel
func (k PlaneKind) Channels() int {
	switch k {
	case PlaneScalar:
		return 1
	case PlaneColor:
		return 3
	default:
		return 4
	}
}

// AOVBuffer is one named channel plane of a RenderBuffer. Pixels are
// addressed by row*width + column, top row first.
type AOVBuffer struct {
	name   string
	spp    int
	kind   PlaneKind
	color  []Color
	scalar []float32
}

func newAOVBuffer(name string, spp, size int) *AOVBuffer {
	a := &AOVBuffer{
		name: name,
		spp:  spp,
		kind: PlaneKindForSPP(spp),
	}
	a.color, a.scalar = a.allocate(size)
	return a
}

// allocate returns zeroed planes for size pixels
func (a *AOVBuffer) allocate(size int) (color []Color, scalar []float32) {
	switch a.kind {
	case PlaneScalar:
		scalar = make([]float32, size)
	case PlaneColor:
		color = make([]Color, size)
	case PlaneColorAlpha:
		color = make([]Color, size)
		scalar = make([]float32, size)
	}
	return color, scalar
}

func (a *AOVBuffer) Name() string    { return a.name }
func (a *AOVBuffer) SPP() int        { return a.spp }
func (a *AOVBuffer) Kind() PlaneKind { return a.kind }

// Len returns the number of pixels in the plane
func (a *AOVBuffer) Len() int {
	if a.color != nil {
		return len(a.color)
	}
	return len(a.scalar)
}

// SizeBytes returns the memory used by the sample data
func (a *AOVBuffer) SizeBytes() int64 {
	return int64(len(a.color))*12 + int64(len(a.scalar))*4
}

// Set writes channel c of the pixel at index i. Channels below 3 of a
// multichannel bucket go to the color plane, everything else to the scalar
// plane. Writes that have no matching plane are dropped.
func (a *AOVBuffer) Set(i, spp, c int, v float32) {
	if c < 3 && spp != 1 && a.color != nil {
		if i >= 0 && i < len(a.color) {
			a.color[i][c] = v
		}
		return
	}
	if a.scalar != nil && i >= 0 && i < len(a.scalar) {
		a.scalar[i] = v
	}
}

// Get reads channel c of the pixel at index i. Scalar planes return the
// same value for every channel. Out of range reads return 0.
func (a *AOVBuffer) Get(i, c int) float32 {
	if c < 3 && a.color != nil {
		if i >= 0 && i < len(a.color) {
			return a.color[i][c]
		}
		return 0
	}
	if a.scalar != nil && i >= 0 && i < len(a.scalar) {
		return a.scalar[i]
	}
	return 0
}

func (a *AOVBuffer) clone() *AOVBuffer {
	b := *a
	if a.color != nil {
		b.color = append([]Color(nil), a.color...)
	}
	if a.scalar != nil {
		b.scalar = append([]float32(nil), a.scalar...)
	}
	return &b
}
