// Package window keeps track of bytes that were peeked out of a consumer but
// not yet committed, so they can be handed out again until the caller decides
// the read position may move past them.
package window

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"

	"spsc-ringbuf/pkg/spscbuf"
)

var (
	// ErrUnknownRange is returned for a start offset that is not in flight.
	ErrUnknownRange = errors.New("window: range not in flight")
	// ErrCorrupted means the bytes of an in-flight range changed between two
	// peeks, i.e. something wrote over unread data.
	ErrCorrupted = errors.New("window: in-flight bytes changed")
)

// Range is one peeked, uncommitted run of bytes.
type Range struct {
	Start uint64
	Len   int
	Sum   uint16 // Internet checksum of the bytes when first peeked

	PeekedAt time.Time
	Peeks    int // number of times the range was handed out
}

// End returns the offset just past the range.
func (r Range) End() uint64 {
	return r.Start + uint64(r.Len)
}

// Tracker hands out consecutive ranges starting at the consumer's high-water
// mark and remembers them until they are committed.
//
// Other code may still read from or advance the consumer, as long as it does
// not do so concurrently with the tracker. Ranges it consumes that way are
// dropped from the in-flight queue the next time the tracker looks at it.
type Tracker struct {
	c        *spscbuf.Consumer
	inflight *deque.Deque[*Range]
	mu       sync.Mutex
	log      *slog.Logger
}

type Option func(*Tracker)

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.log = l
	}
}

func New(c *spscbuf.Consumer, opts ...Option) *Tracker {
	t := &Tracker{
		c:        c,
		inflight: deque.New[*Range](),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func checksum(b []byte) uint16 {
	return header.Checksum(b, 0)
}

// Peek copies up to max bytes that were never handed out before and records
// them as in flight. max is capped at the buffer capacity. It returns a zero
// Range and nil when nothing new is buffered.
func (t *Tracker) Peek(max int) (Range, []byte) {
	if max <= 0 {
		return Range{}, nil
	}
	max = min(max, t.c.MaxCapacity())
	t.mu.Lock()
	defer t.mu.Unlock()

	start := t.c.HighestRead()
	buf := make([]byte, max)
	n := t.c.CopyData(start, buf)
	if n == 0 {
		return Range{}, nil
	}
	buf = buf[:n]

	r := &Range{
		Start:    start,
		Len:      n,
		Sum:      checksum(buf),
		PeekedAt: time.Now(),
		Peeks:    1,
	}
	t.inflight.PushBack(r)
	t.log.Debug("peeked range", "start", r.Start, "len", r.Len, "inflight", t.inflight.Len())
	return *r, buf
}

// Repeek copies the in-flight range starting at start again and checks that
// the bytes did not change since the first peek.
func (t *Tracker) Repeek(start uint64) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prune()
	r := t.find(start)
	if r == nil {
		return nil, errors.Wrapf(ErrUnknownRange, "start %d", start)
	}

	buf := make([]byte, r.Len)
	if n := t.c.CopyData(r.Start, buf); n != r.Len {
		return nil, errors.Wrapf(ErrUnknownRange, "range %d+%d: only %d bytes left", r.Start, r.Len, n)
	}
	if sum := checksum(buf); sum != r.Sum {
		t.log.Error("in-flight bytes changed", "start", r.Start, "len", r.Len, "sum", r.Sum, "now", sum)
		return nil, errors.Wrapf(ErrCorrupted, "range %d+%d: checksum %#04x, want %#04x", r.Start, r.Len, sum, r.Sum)
	}
	r.Peeks++
	r.PeekedAt = time.Now()
	return buf, nil
}

func (t *Tracker) find(start uint64) *Range {
	for i := 0; i < t.inflight.Len(); i++ {
		if r := t.inflight.At(i); r.Start == start {
			return r
		}
	}
	return nil
}

// Commit moves the consumer's read offset forward to offset and forgets every
// range that now lies behind it. A range that is only partly committed is
// trimmed to its uncommitted tail. It returns the number of bytes committed.
func (t *Tracker) Commit(offset uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.c.AdvanceTo(offset)
	rp := t.prune()
	if n > 0 {
		t.log.Debug("committed", "offset", rp, "bytes", n, "inflight", t.inflight.Len())
	}
	return n
}

// prune forgets every range that lies behind the read offset and trims a range
// the read offset falls into down to its unread tail. It returns the read
// offset it pruned against.
func (t *Tracker) prune() uint64 {
	rp := t.c.Next()
	for t.inflight.Len() > 0 {
		r := t.inflight.Front()
		if int64(r.End()-rp) <= 0 {
			t.inflight.PopFront()
			continue
		}
		if int64(r.Start-rp) < 0 {
			// partly consumed
			tail := make([]byte, r.End()-rp)
			t.c.CopyData(rp, tail)
			r.Start = rp
			r.Len = len(tail)
			r.Sum = checksum(tail)
		}
		break
	}
	return rp
}

// Outstanding is the number of bytes peeked but not committed.
func (t *Tracker) Outstanding() int {
	return int(t.c.HighestRead() - t.c.Next())
}

// InFlight returns a snapshot of the uncommitted ranges, oldest first.
func (t *Tracker) InFlight() []Range {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.prune()
	ranges := make([]Range, 0, t.inflight.Len())
	for i := 0; i < t.inflight.Len(); i++ {
		ranges = append(ranges, *t.inflight.At(i))
	}
	return ranges
}
