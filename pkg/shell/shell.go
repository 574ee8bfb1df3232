package shell

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"spsc-ringbuf/pkg/bufconfig"
	"spsc-ringbuf/pkg/pipe"
	"spsc-ringbuf/pkg/repl"
	"spsc-ringbuf/pkg/spscbuf"
	"spsc-ringbuf/pkg/window"
)

// DefaultTimeout bounds how long fill and drain keep polling.
const DefaultTimeout = 100 * time.Millisecond

// Shell drives one buffer from the command line. Both ends live in the same
// goroutine, so every command runs to completion before the next one starts.
type Shell struct {
	p       *spscbuf.Producer
	c       *spscbuf.Consumer
	writer  *pipe.Writer
	reader  *pipe.Reader
	tracker *window.Tracker

	start   uint64
	chunk   int
	timeout time.Duration
	log     *slog.Logger
}

func New(cfg *bufconfig.Config, log *slog.Logger) *Shell {
	start := cfg.Calibration()
	p, c := spscbuf.NewCalibrated(cfg.Size, start)
	opts := []pipe.Option{
		pipe.WithBackoff(cfg.MinBackoff, cfg.MaxBackoff),
		pipe.WithChunkSize(cfg.Chunk),
		pipe.WithLogger(log),
	}
	log.Info("created buffer", "requested", cfg.Size, "capacity", p.MaxCapacity(), "start", start)
	return &Shell{
		p:       p,
		c:       c,
		writer:  pipe.NewWriter(p, opts...),
		reader:  pipe.NewReader(c, opts...),
		tracker: window.New(c, window.WithLogger(log)),
		start:   start,
		chunk:   cfg.Chunk,
		timeout: DefaultTimeout,
		log:     log,
	}
}

func (s *Shell) Repl() *repl.REPL {
	r := repl.NewRepl()
	r.AddCommand("w", s.writeHandler, "Writes text into the buffer. usage: w <text>")
	r.AddCommand("wr", s.writeRandomHandler, "Writes n random bytes. usage: wr <n>")
	r.AddCommand("fill", s.fillHandler, "Writes n random bytes, polling while the buffer is full. usage: fill <n>")
	r.AddCommand("r", s.readHandler, "Reads up to n bytes. usage: r <n>")
	r.AddCommand("drain", s.drainHandler, "Reads everything until the buffer stays empty. usage: drain")
	r.AddCommand("peek", s.peekHandler, "Copies n bytes at an offset without consuming them. usage: peek <offset|+delta> <n>")
	r.AddCommand("adv", s.advanceHandler, "Skips n unread bytes. usage: adv <n>")
	r.AddCommand("advto", s.advanceToHandler, "Moves the read offset to an absolute offset. usage: advto <offset|+delta>")
	r.AddCommand("close", s.closeHandler, "Closes the write end. usage: close")
	r.AddCommand("stat", s.statHandler, "Prints offsets and sizes. usage: stat")
	r.AddCommand("pk", s.trackPeekHandler, "Peeks up to n new bytes and tracks them as in flight. usage: pk <n>")
	r.AddCommand("rp", s.trackRepeekHandler, "Peeks an in-flight range again. usage: rp <offset>")
	r.AddCommand("ack", s.trackCommitHandler, "Commits in-flight bytes up to an offset. usage: ack <offset|+delta>")
	r.AddCommand("inflight", s.inflightHandler, "Lists in-flight ranges. usage: inflight")
	r.AddCommand("q", func(string, *repl.REPLConfig) error { return repl.ErrQuit }, "Quits. usage: q")
	return r
}

func usage(input string, want int, format string) ([]string, error) {
	args := strings.Fields(input)
	if len(args) != want+1 {
		return nil, errors.Errorf("usage: %s", format)
	}
	return args[1:], nil
}

func parseCount(s string) (int, error) {
	n, err := bufconfig.ParseSize(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid count %q", s)
	}
	return n, nil
}

// parseOffset accepts an absolute offset or +delta relative to base.
func parseOffset(s string, base uint64) (uint64, error) {
	if strings.HasPrefix(s, "+") {
		delta, err := strconv.ParseUint(s[1:], 0, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "invalid delta %q", s)
		}
		return base + delta, nil
	}
	off, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid offset %q", s)
	}
	return off, nil
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

func (s *Shell) writeHandler(input string, config *repl.REPLConfig) error {
	text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), "w"))
	if text == "" {
		return errors.New("usage: w <text>")
	}
	n := s.p.Write([]byte(text))
	fmt.Fprintf(config.Writer, "wrote %d of %d bytes, next=%d\n", n, len(text), s.p.Next())
	return nil
}

func (s *Shell) writeRandomHandler(input string, config *repl.REPLConfig) error {
	args, err := usage(input, 1, "wr <n>")
	if err != nil {
		return err
	}
	count, err := parseCount(args[0])
	if err != nil {
		return err
	}

	written := 0
	for written < count {
		chunk := randomBytes(min(s.chunk, count-written))
		n := s.p.Write(chunk)
		written += n
		if n < len(chunk) {
			break
		}
	}
	fmt.Fprintf(config.Writer, "wrote %d of %d bytes, next=%d\n", written, count, s.p.Next())
	return nil
}

func (s *Shell) fillHandler(input string, config *repl.REPLConfig) error {
	args, err := usage(input, 1, "fill <n>")
	if err != nil {
		return err
	}
	count, err := parseCount(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	written := 0
	for written < count {
		n, err := s.writer.WriteContext(ctx, randomBytes(min(s.chunk, count-written)))
		written += n
		if err != nil {
			fmt.Fprintf(config.Writer, "wrote %d of %d bytes: %v\n", written, count, errors.Cause(err))
			return nil
		}
	}
	fmt.Fprintf(config.Writer, "wrote %d bytes, next=%d\n", written, s.p.Next())
	return nil
}

// readCount parses a byte count for a command that copies out of the buffer.
// Nothing beyond the capacity can ever be returned, so larger counts are capped.
func (s *Shell) readCount(arg string) (int, error) {
	count, err := parseCount(arg)
	if err != nil {
		return 0, err
	}
	return min(count, s.c.MaxCapacity()), nil
}

func (s *Shell) readHandler(input string, config *repl.REPLConfig) error {
	args, err := usage(input, 1, "r <n>")
	if err != nil {
		return err
	}
	count, err := s.readCount(args[0])
	if err != nil {
		return err
	}
	buf := make([]byte, count)
	n := s.c.Read(buf)
	fmt.Fprintf(config.Writer, "read %d bytes: %q\n", n, buf[:n])
	return nil
}

func (s *Shell) drainHandler(input string, config *repl.REPLConfig) error {
	if _, err := usage(input, 0, "drain"); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	total := 0
	buf := make([]byte, s.chunk)
	for {
		n, err := s.reader.ReadContext(ctx, buf)
		total += n
		if err == io.EOF {
			fmt.Fprintf(config.Writer, "drained %d bytes, end of stream\n", total)
			return nil
		}
		if err != nil {
			fmt.Fprintf(config.Writer, "drained %d bytes\n", total)
			return nil
		}
	}
}

func (s *Shell) peekHandler(input string, config *repl.REPLConfig) error {
	args, err := usage(input, 2, "peek <offset|+delta> <n>")
	if err != nil {
		return err
	}
	off, err := parseOffset(args[0], s.c.Next())
	if err != nil {
		return err
	}
	count, err := s.readCount(args[1])
	if err != nil {
		return err
	}
	buf := make([]byte, count)
	n := s.c.CopyData(off, buf)
	fmt.Fprintf(config.Writer, "copied %d bytes at %d: %q\n", n, off, buf[:n])
	return nil
}

func (s *Shell) advanceHandler(input string, config *repl.REPLConfig) error {
	args, err := usage(input, 1, "adv <n>")
	if err != nil {
		return err
	}
	count, err := parseCount(args[0])
	if err != nil {
		return err
	}
	n := s.c.Advance(count)
	fmt.Fprintf(config.Writer, "advanced %d bytes, next=%d\n", n, s.c.Next())
	return nil
}

func (s *Shell) advanceToHandler(input string, config *repl.REPLConfig) error {
	args, err := usage(input, 1, "advto <offset|+delta>")
	if err != nil {
		return err
	}
	off, err := parseOffset(args[0], s.c.Next())
	if err != nil {
		return err
	}
	n := s.c.AdvanceTo(off)
	fmt.Fprintf(config.Writer, "advanced %d bytes, next=%d\n", n, s.c.Next())
	return nil
}

func (s *Shell) closeHandler(input string, config *repl.REPLConfig) error {
	if _, err := usage(input, 0, "close"); err != nil {
		return err
	}
	s.writer.Close()
	cp, _ := s.p.CloseOffset()
	s.log.Debug("closed buffer", "offset", cp, "backlog", s.c.Size())
	fmt.Fprintf(config.Writer, "closed at %d with %d unread bytes\n", cp, s.c.Size())
	return nil
}

func (s *Shell) state() string {
	switch {
	case !s.c.IsClosed():
		return "open"
	case s.c.Drained():
		return "closed-drained"
	default:
		return "closed-backlog"
	}
}

func (s *Shell) statHandler(input string, config *repl.REPLConfig) error {
	if _, err := usage(input, 0, "stat"); err != nil {
		return err
	}
	_, err := io.WriteString(config.Writer, "State\tStart\tRead\tWrite\tHighest\tSize\tFree\tCapacity\n")
	if err != nil {
		return errors.Wrap(err, "statHandler cannot write the header")
	}
	_, err = fmt.Fprintf(config.Writer, "%s\t%d\t%d\t%d\t%d\t%s\t%s\t%s\n",
		s.state(), s.start, s.c.Next(), s.p.Next(), s.c.HighestRead(),
		humanize.IBytes(uint64(s.c.Size())),
		humanize.IBytes(uint64(s.p.AvailableCapacity())),
		humanize.IBytes(uint64(s.p.MaxCapacity())))
	if err != nil {
		return errors.Wrap(err, "statHandler cannot write the buffer state")
	}
	return nil
}

func (s *Shell) trackPeekHandler(input string, config *repl.REPLConfig) error {
	args, err := usage(input, 1, "pk <n>")
	if err != nil {
		return err
	}
	count, err := parseCount(args[0])
	if err != nil {
		return err
	}
	r, b := s.tracker.Peek(count)
	if b == nil {
		io.WriteString(config.Writer, "nothing new to peek\n")
		return nil
	}
	fmt.Fprintf(config.Writer, "in flight [%d, %d) sum=%#04x: %q\n", r.Start, r.End(), r.Sum, b)
	return nil
}

func (s *Shell) trackRepeekHandler(input string, config *repl.REPLConfig) error {
	args, err := usage(input, 1, "rp <offset>")
	if err != nil {
		return err
	}
	off, err := parseOffset(args[0], s.c.Next())
	if err != nil {
		return err
	}
	b, err := s.tracker.Repeek(off)
	if err != nil {
		return err
	}
	fmt.Fprintf(config.Writer, "re-peeked %d bytes at %d: %q\n", len(b), off, b)
	return nil
}

func (s *Shell) trackCommitHandler(input string, config *repl.REPLConfig) error {
	args, err := usage(input, 1, "ack <offset|+delta>")
	if err != nil {
		return err
	}
	off, err := parseOffset(args[0], s.c.Next())
	if err != nil {
		return err
	}
	n := s.tracker.Commit(off)
	fmt.Fprintf(config.Writer, "committed %d bytes, next=%d, outstanding=%d\n", n, s.c.Next(), s.tracker.Outstanding())
	return nil
}

func (s *Shell) inflightHandler(input string, config *repl.REPLConfig) error {
	if _, err := usage(input, 0, "inflight"); err != nil {
		return err
	}
	_, err := io.WriteString(config.Writer, "Start\tEnd\tLen\tSum\tPeeks\n")
	if err != nil {
		return errors.Wrap(err, "inflightHandler cannot write the header")
	}
	for _, r := range s.tracker.InFlight() {
		_, err := fmt.Fprintf(config.Writer, "%d\t%d\t%d\t%#04x\t%d\n", r.Start, r.End(), r.Len, r.Sum, r.Peeks)
		if err != nil {
			return errors.Wrap(err, "inflightHandler cannot write a range")
		}
	}
	return nil
}
