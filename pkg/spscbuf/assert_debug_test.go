//go:build spscdebug

package spscbuf

import "testing"

func expectPanic(t *testing.T, name string, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s: expect a panic on broken offsets but got none", name)
		}
	}()
	f()
}

func TestDebugAsserts_ReadAheadOfWrite(t *testing.T) {
	_, c := NewCalibrated(16, 50)
	// simulate a consumer clone that raced past the producer
	c.r.rp.Store(60)
	expectPanic(t, "CopyData", func() { c.CopyData(60, make([]byte, 4)) })
}

func TestDebugAsserts_WriteOverUnread(t *testing.T) {
	p, c := New(16)
	p.Write(make([]byte, 16))
	// simulate a second producer that published past the unread bytes
	c.r.wp.Store(40)
	expectPanic(t, "Read", func() { c.Read(make([]byte, 4)) })
}
