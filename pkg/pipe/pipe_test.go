package pipe_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"spsc-ringbuf/pkg/pipe"
	"spsc-ringbuf/pkg/spscbuf"
)

func fastBackoff() pipe.Option {
	return pipe.WithBackoff(10*time.Microsecond, time.Millisecond)
}

func TestPipe_Basic(t *testing.T) {
	r, w := pipe.New(16, fastBackoff())

	data := []byte("hello world")
	go func() {
		w.Write(data)
		w.Close()
	}()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, data, got)

	n, err := r.Read(make([]byte, 4))
	require.Zero(t, n)
	require.Equal(t, io.EOF, err)
}

func TestPipe_LargeWriteThroughSmallBuffer(t *testing.T) {
	r, w := pipe.New(8, fastBackoff())

	data := bytes.Repeat([]byte("0123456789"), 10_000)
	var (
		wg       sync.WaitGroup
		writeErr error
		written  int
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer w.Close()
		written, writeErr = w.Write(data)
	}()

	var out bytes.Buffer
	n, err := r.WriteTo(&out)
	wg.Wait()

	require.NoError(t, writeErr)
	require.NoError(t, err)
	require.Equal(t, len(data), written)
	require.Equal(t, int64(len(data)), n)
	require.Equal(t, data, out.Bytes())
}

func TestPipe_ReadFrom(t *testing.T) {
	r, w := pipe.New(32, fastBackoff(), pipe.WithChunkSize(7))

	input := strings.Repeat("read from me ", 100)
	go func() {
		defer w.Close()
		n, err := io.Copy(w, strings.NewReader(input))
		if err != nil || int(n) != len(input) {
			t.Errorf("copy into pipe: n=%d err=%v", n, err)
		}
	}()

	var out bytes.Buffer
	_, err := io.Copy(&out, r)
	require.NoError(t, err)
	require.Equal(t, input, out.String())
}

func TestWriter_ClosedBuffer(t *testing.T) {
	_, w := pipe.New(16)
	require.NoError(t, w.Close())

	n, err := w.Write([]byte("late"))
	require.Zero(t, n)
	require.ErrorIs(t, err, pipe.ErrClosed)
}

func TestWriter_ClosedWhileBlocked(t *testing.T) {
	p, _ := spscbuf.New(4)
	w := pipe.NewWriter(p, fastBackoff())

	go func() {
		time.Sleep(5 * time.Millisecond)
		p.Clone().Close()
	}()

	n, err := w.Write([]byte("too long to fit"))
	require.Equal(t, 4, n)
	require.ErrorIs(t, err, pipe.ErrClosed)
}

func TestWriter_ContextDeadline(t *testing.T) {
	_, w := pipe.New(4, fastBackoff())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	n, err := w.WriteContext(ctx, []byte("0123456789"))
	require.Equal(t, 4, n)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReader_ContextCancel(t *testing.T) {
	r, _ := pipe.New(4, fastBackoff())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := r.ReadContext(ctx, make([]byte, 4))
	require.Zero(t, n)
	require.ErrorIs(t, err, context.Canceled)
}

func TestReader_ZeroLength(t *testing.T) {
	r, w := pipe.New(4)
	w.Close()

	n, err := r.Read(nil)
	require.Zero(t, n)
	require.NoError(t, err)
}

func TestReader_DrainsBacklogAfterClose(t *testing.T) {
	p, c := spscbuf.NewCalibrated(16, 77)
	p.Write([]byte("backlog"))
	p.Close()

	got, err := io.ReadAll(pipe.NewReader(c))
	require.NoError(t, err)
	require.Equal(t, "backlog", string(got))
	require.True(t, c.Drained())
}
