package spscbuf

// Producer is the write end of the buffer.
//
// Producers can be cloned and shared, provided that the writes of no two
// clones ever overlap. Any other method, Close included, may run concurrently.
type Producer struct {
	view
}

// Clone returns another write handle on the same buffer.
func (p *Producer) Clone() *Producer {
	return &Producer{p.view}
}

// Next returns the logical offset the next written byte will get.
func (p *Producer) Next() uint64 {
	return p.r.wp.Load()
}

// Write stores as much of b as fits and returns the number of bytes written.
// It returns 0 once the buffer is closed or while it is full.
func (p *Producer) Write(b []byte) int {
	r := p.r
	r.wmu.Lock()
	defer r.wmu.Unlock()
	if r.closed.Load() {
		return 0
	}

	rp := r.rp.Load()
	wp := r.wp.Load()
	free := r.capacity - (wp - rp)

	n := min(free, uint64(len(b)))
	if n == 0 {
		return 0
	}
	r.copyIn(wp, b[:n])

	// publish only after the bytes are in place
	r.wp.Store(wp + n)
	r.checkOffsets(rp, wp+n)
	return int(n)
}

// Close marks the end of the stream at the current write offset. Bytes written
// before Close stay readable. Only the first call has an effect.
func (p *Producer) Close() {
	r := p.r
	r.wmu.Lock()
	defer r.wmu.Unlock()
	if r.closed.Load() {
		return
	}
	r.cp.Store(r.wp.Load())
	r.closed.Store(true)
}

// CloseOffset returns the write offset recorded by Close, and whether the
// buffer has been closed at all.
func (p *Producer) CloseOffset() (uint64, bool) {
	return p.r.closeOffset()
}

func (r *ring) closeOffset() (uint64, bool) {
	if !r.closed.Load() {
		return 0, false
	}
	return r.cp.Load(), true
}
