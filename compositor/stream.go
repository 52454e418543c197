package compositor

import (
	"sync"
	"time"

	"github.com/samber/lo"
)

// stream is the transient state of one session between two headers. It
// lives outside the store because a renderer may reconnect for every
// image of the same session.
type stream struct {
	mu      sync.Mutex
	session int64

	frame     float64
	total     int64    // area that makes up 100% progress
	remaining int64    // area not yet received on the primary AOV
	aovs      []string // AOV names seen since the last header

	elapsedOffset int64 // ms, elapsed time at the last header
	lastElapsed   int64 // ms, last elapsed time received

	used time.Time // guarded by Compositor.mu
}

// restart resets the stream for a new header and returns the AOV names
// seen since the previous header.
func (st *stream) restart(frame float64, regionArea int64, width, height int) []string {
	seen := st.aovs
	st.frame = frame
	st.total = regionArea
	if st.total <= 0 {
		st.total = int64(width) * int64(height)
	}
	st.remaining = st.total
	st.aovs = nil
	st.elapsedOffset = st.lastElapsed
	return seen
}

// see records an AOV name and reports if its buckets are to be stored.
// With aggregation disabled only the first AOV of the stream is kept.
func (st *stream) see(name string, aggregate bool) bool {
	if !lo.Contains(st.aovs, name) && (aggregate || len(st.aovs) == 0) {
		st.aovs = append(st.aovs, name)
	}
	return aggregate || st.aovs[0] == name
}

// consume subtracts a primary bucket area and returns the progress
func (st *stream) consume(area int64) int64 {
	st.remaining -= area
	if st.total <= 0 {
		return 100
	}
	return 100 - st.remaining*100/st.total
}
