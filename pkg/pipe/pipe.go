// Package pipe turns the non-blocking handles of spscbuf into blocking
// io.Reader and io.Writer implementations. Waiting is done by polling the
// buffer with a bounded exponential backoff.
package pipe

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"spsc-ringbuf/pkg/spscbuf"
)

const (
	DefaultMinBackoff = 50 * time.Microsecond
	DefaultMaxBackoff = 10 * time.Millisecond
	DefaultChunkSize  = 32 * 1024
)

// ErrClosed is returned by writes on a closed buffer.
var ErrClosed = errors.New("pipe: write to closed buffer")

var (
	_ io.Writer     = (*Writer)(nil)
	_ io.ReaderFrom = (*Writer)(nil)
	_ io.Closer     = (*Writer)(nil)
	_ io.Reader     = (*Reader)(nil)
	_ io.WriterTo   = (*Reader)(nil)
)

type config struct {
	minBackoff time.Duration
	maxBackoff time.Duration
	chunkSize  int
	log        *slog.Logger
}

type Option func(*config)

// WithBackoff sets the first and the longest pause between two polls.
func WithBackoff(min, max time.Duration) Option {
	return func(c *config) {
		if min > 0 {
			c.minBackoff = min
		}
		if max >= c.minBackoff {
			c.maxBackoff = max
		}
	}
}

// WithChunkSize sets the size of the intermediate buffer used by ReadFrom and
// WriteTo.
func WithChunkSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.log = l
	}
}

func newConfig(opts []Option) config {
	c := config{
		minBackoff: DefaultMinBackoff,
		maxBackoff: DefaultMaxBackoff,
		chunkSize:  DefaultChunkSize,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// New creates a buffer of at least size bytes and wraps both of its ends.
func New(size int, opts ...Option) (*Reader, *Writer) {
	p, c := spscbuf.New(size)
	return NewReader(c, opts...), NewWriter(p, opts...)
}

// newBackoff returns a schedule that starts at minBackoff, doubles up to
// maxBackoff and stops once ctx is done.
func (c config) newBackoff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.minBackoff
	b.MaxInterval = c.maxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// wait sleeps for the next delay of b.
func wait(ctx context.Context, b backoff.BackOff) error {
	d := b.NextBackOff()
	if d == backoff.Stop {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	return nil
}

// Writer is the blocking write end. Like the Producer it wraps, a Writer must
// not be used by two goroutines at once.
type Writer struct {
	p   *spscbuf.Producer
	cfg config
}

func NewWriter(p *spscbuf.Producer, opts ...Option) *Writer {
	return &Writer{p: p, cfg: newConfig(opts)}
}

// Producer returns the underlying write handle.
func (w *Writer) Producer() *spscbuf.Producer {
	return w.p
}

// Write implements io.Writer. It blocks until all of b is buffered or the
// buffer is closed.
func (w *Writer) Write(b []byte) (int, error) {
	return w.WriteContext(context.Background(), b)
}

// WriteContext is Write that gives up when ctx is done. The returned count
// covers the bytes buffered before giving up.
func (w *Writer) WriteContext(ctx context.Context, b []byte) (n int, err error) {
	bo := w.cfg.newBackoff(ctx)
	for len(b) > 0 {
		if w.p.IsClosed() {
			return n, errors.Wrapf(ErrClosed, "wrote %d of %d bytes", n, n+len(b))
		}
		m := w.p.Write(b)
		if m > 0 {
			n += m
			b = b[m:]
			bo.Reset()
			continue
		}
		if err := wait(ctx, bo); err != nil {
			w.cfg.log.Debug("write gave up", "written", n, "left", len(b), "err", err)
			return n, errors.Wrap(err, "pipe: write")
		}
	}
	return n, nil
}

// ReadFrom implements io.ReaderFrom by copying r into the buffer until r
// returns io.EOF.
func (w *Writer) ReadFrom(r io.Reader) (int64, error) {
	return copyBuffered(w.cfg.chunkSize, r.Read, w.Write)
}

// Close closes the buffer. Bytes already written remain readable.
func (w *Writer) Close() error {
	w.p.Close()
	return nil
}

// Reader is the blocking read end. A Reader must not be used by two
// goroutines at once.
type Reader struct {
	c   *spscbuf.Consumer
	cfg config
}

func NewReader(c *spscbuf.Consumer, opts ...Option) *Reader {
	return &Reader{c: c, cfg: newConfig(opts)}
}

// Consumer returns the underlying read handle.
func (r *Reader) Consumer() *spscbuf.Consumer {
	return r.c
}

// Read implements io.Reader. It blocks until at least one byte is available
// and returns io.EOF once the buffer is closed and drained.
func (r *Reader) Read(b []byte) (int, error) {
	return r.ReadContext(context.Background(), b)
}

// ReadContext is Read that gives up when ctx is done.
func (r *Reader) ReadContext(ctx context.Context, b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	bo := r.cfg.newBackoff(ctx)
	for {
		if n := r.c.Read(b); n > 0 {
			return n, nil
		}
		if r.c.Drained() {
			return 0, io.EOF
		}
		if err := wait(ctx, bo); err != nil {
			return 0, errors.Wrap(err, "pipe: read")
		}
	}
}

// WriteTo implements io.WriterTo by copying buffered bytes to w until the
// buffer is closed and drained.
func (r *Reader) WriteTo(w io.Writer) (int64, error) {
	return copyBuffered(r.cfg.chunkSize, r.Read, w.Write)
}

func copyBuffered(size int, read func([]byte) (int, error), write func([]byte) (int, error)) (int64, error) {
	buf := make([]byte, size)
	var total int64
	for {
		n, rErr := read(buf)
		if n > 0 {
			wn, wErr := write(buf[:n])
			if wn < 0 || wn > n {
				wn = 0
				if wErr == nil {
					wErr = io.ErrShortWrite
				}
			}
			total += int64(wn)
			if wErr != nil {
				return total, wErr
			}
			if wn != n {
				return total, io.ErrShortWrite
			}
		}
		if rErr != nil {
			if rErr != io.EOF {
				return total, rErr
			}
			return total, nil
		}
	}
}
