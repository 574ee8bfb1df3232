package spscbuf

import "fmt"

// Contract violations (two producers writing at once, a consumer clone racing
// another) show up as broken offset invariants. Builds tagged spscdebug panic
// on them; other builds compile the checks away.

func (r *ring) checkOffsets(rp, wp uint64) {
	if !debugAsserts {
		return
	}
	// rp > wp wraps around to a huge difference, so this covers both rp <= wp
	// and wp <= rp+capacity
	if wp-rp > r.capacity {
		panic(fmt.Sprintf("spscbuf: offsets out of order: rp=%d wp=%d capacity=%d", rp, wp, r.capacity))
	}
}

func (r *ring) checkHWM(rp uint64) {
	if !debugAsserts {
		return
	}
	wp := r.wp.Load()
	if hwm := r.hwm.Load(); hwm-rp > wp-rp {
		panic(fmt.Sprintf("spscbuf: high-water mark out of window: hwm=%d rp=%d wp=%d", hwm, rp, wp))
	}
}
