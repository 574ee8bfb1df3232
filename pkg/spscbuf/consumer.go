package spscbuf

// Consumer is the read end of the buffer.
//
// Consumers can be cloned and shared as long as at most one clone at a time is
// inside Read, CopyData, Advance or AdvanceTo. Under that constraint the
// consumer is linearizable.
type Consumer struct {
	view
}

// Clone returns another read handle on the same buffer.
func (c *Consumer) Clone() *Consumer {
	return &Consumer{c.view}
}

// Next returns the logical offset of the next unread byte.
func (c *Consumer) Next() uint64 {
	return c.r.rp.Load()
}

// HighestRead returns the highest offset ever handed out by Read or CopyData.
// It never trails Next.
func (c *Consumer) HighestRead() uint64 {
	return c.r.hwm.Load()
}

// CopyData copies bytes starting at logical offset start into dst without
// consuming them. Later reads, or more copies at the same offset, return the
// same bytes.
//
// start must lie in [Next(), Next()+Size()]; outside of that window nothing is
// copied and 0 is returned.
func (c *Consumer) CopyData(start uint64, dst []byte) int {
	r := c.r
	rp := r.rp.Load()
	wp := r.wp.Load()
	r.checkOffsets(rp, wp)

	// both differences are taken from rp so a start before rp wraps to a huge
	// value and falls out of the window
	if start-rp > wp-rp {
		return 0
	}

	n := min(wp-start, uint64(len(dst)))
	if n == 0 {
		return 0
	}
	r.copyOut(start, dst[:n])
	r.raiseHWM(start+n, rp)
	return int(n)
}

// Advance skips up to count unread bytes and returns how many were skipped.
func (c *Consumer) Advance(count int) int {
	if count <= 0 {
		return 0
	}
	r := c.r
	rp := r.rp.Load()
	wp := r.wp.Load()

	n := min(uint64(count), wp-rp)
	return c.commit(rp, wp, n)
}

// AdvanceTo moves the read offset forward to target, capped at the write
// offset. Targets at or behind the read offset are a no-op. It returns the
// number of bytes skipped.
func (c *Consumer) AdvanceTo(target uint64) int {
	r := c.r
	rp := r.rp.Load()
	wp := r.wp.Load()

	d := target - rp
	if int64(d) <= 0 {
		return 0
	}
	n := min(d, wp-rp)
	return c.commit(rp, wp, n)
}

// Read copies unread bytes into dst and consumes them. It returns 0 when the
// buffer is empty, and keeps returning 0 once a closed buffer is drained.
func (c *Consumer) Read(dst []byte) int {
	r := c.r
	rp := r.rp.Load()
	n := c.CopyData(rp, dst)
	if n == 0 {
		return 0
	}
	return c.commit(rp, r.wp.Load(), uint64(n))
}

// Drained reports whether the buffer is closed and every byte written before
// the close has been consumed.
func (c *Consumer) Drained() bool {
	cp, closed := c.r.closeOffset()
	return closed && c.r.rp.Load() == cp
}

func (c *Consumer) commit(rp, wp, n uint64) int {
	if n == 0 {
		return 0
	}
	r := c.r
	r.rp.Store(rp + n)
	r.raiseHWM(rp+n, rp)
	r.checkOffsets(rp+n, wp)
	r.checkHWM(rp + n)
	return int(n)
}
