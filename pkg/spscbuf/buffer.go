// Package spscbuf implements a fixed-capacity byte ring shared by one producer
// and one consumer.
//
// Offsets handed out by the buffer are logical: they grow without bound (modulo
// 2^64) and are only masked when indexing into storage. A buffer may start its
// offsets at any value, so they can line up with a numbering scheme owned by
// somebody else (e.g. a TCP initial sequence number).
//
// No operation blocks. A full buffer truncates writes and an empty buffer
// truncates reads; callers that want to wait build that on top.
package spscbuf

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

// Buffer is the query surface shared by Producer and Consumer.
type Buffer interface {
	// Size is the number of written but unread bytes.
	Size() int
	IsEmpty() bool
	IsFull() bool
	IsClosed() bool
	// MaxCapacity is the rounded capacity of the buffer.
	MaxCapacity() int
	// AvailableCapacity is the number of bytes a Write could store right now.
	// It is 0 once the buffer is closed.
	AvailableCapacity() int
}

var (
	_ Buffer = (*Producer)(nil)
	_ Buffer = (*Consumer)(nil)
)

// ------|===============|------------------|
//      rp              wp            rp+capacity
// rp and wp are logical offsets; storage index is offset & mask.

type ring struct {
	rp  atomic.Uint64 // next byte to read, owned by the consumer
	_   [56]byte
	wp  atomic.Uint64 // next byte to write, owned by the producer
	_   [56]byte
	hwm atomic.Uint64 // highest offset delivered to the consumer

	cp     atomic.Uint64 // wp at the time of closing
	closed atomic.Bool
	// wmu orders Write against Close so a close never lands in the middle of
	// a write. With a single writer and no Close it is never contended, and
	// consumers never take it.
	wmu sync.Mutex

	capacity uint64
	mask     uint64
	buf      []byte
}

// New creates a buffer holding at least size bytes, with offsets starting at 0.
func New(size int) (*Producer, *Consumer) {
	return NewCalibrated(size, 0)
}

// NewCalibrated creates a buffer holding at least size bytes whose read, write
// and high-water offsets all start at start.
func NewCalibrated(size int, start uint64) (*Producer, *Consumer) {
	r := newRing(size, start)
	return &Producer{view{r}}, &Consumer{view{r}}
}

func newRing(size int, start uint64) *ring {
	capacity := roundPow2(size)
	r := &ring{
		capacity: capacity,
		mask:     capacity - 1,
		buf:      make([]byte, capacity),
	}
	r.rp.Store(start)
	r.wp.Store(start)
	r.hwm.Store(start)
	return r
}

// roundPow2 returns the smallest power of two >= size. Sizes below 2 give 1.
func roundPow2(size int) uint64 {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len64(uint64(size-1))
}

func (r *ring) index(offset uint64) uint64 {
	return offset & r.mask
}

// copyIn stores p at logical offset off. len(p) must not exceed capacity.
func (r *ring) copyIn(off uint64, p []byte) {
	i := r.index(off)
	n := copy(r.buf[i:], p)
	if n < len(p) { // wrap around
		copy(r.buf, p[n:])
	}
}

// copyOut loads len(p) bytes starting at logical offset off.
func (r *ring) copyOut(off uint64, p []byte) {
	i := r.index(off)
	n := copy(p, r.buf[i:])
	if n < len(p) {
		copy(p[n:], r.buf)
	}
}

// raiseHWM moves the high-water mark up to off. Offsets are compared by their
// distance from base, which must not be ahead of either value.
// Only the consumer side calls it.
func (r *ring) raiseHWM(off, base uint64) {
	if h := r.hwm.Load(); off-base > h-base {
		r.hwm.Store(off)
	}
}

// view implements Buffer for both handle types.
type view struct {
	r *ring
}

// Size loads rp before wp so the difference can never go negative, whichever
// side is asking.
func (v view) Size() int {
	rp := v.r.rp.Load()
	wp := v.r.wp.Load()
	return int(wp - rp)
}

func (v view) IsEmpty() bool {
	return v.Size() == 0
}

func (v view) IsFull() bool {
	return v.AvailableCapacity() == 0
}

func (v view) IsClosed() bool {
	return v.r.closed.Load()
}

func (v view) MaxCapacity() int {
	return int(v.r.capacity)
}

func (v view) AvailableCapacity() int {
	if v.IsClosed() {
		return 0
	}
	return v.MaxCapacity() - v.Size()
}
