package shell

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"spsc-ringbuf/pkg/bufconfig"
	"spsc-ringbuf/pkg/repl"
)

type harness struct {
	t     *testing.T
	shell *Shell
	repl  *repl.REPL
	out   bytes.Buffer
}

func newHarness(t *testing.T, size int, start uint64) *harness {
	cfg := bufconfig.DefaultConfig
	cfg.Size = size
	cfg.Start = start
	cfg.MinBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{t: t, shell: New(&cfg, log)}
	h.shell.timeout = 20 * time.Millisecond
	h.repl = h.shell.Repl()
	return h
}

func (h *harness) run(line string) string {
	h.out.Reset()
	err := h.repl.Execute(line, &repl.REPLConfig{Writer: &h.out})
	require.NoError(h.t, err)
	return h.out.String()
}

func TestShell_ReadWrite(t *testing.T) {
	h := newHarness(t, 16, 0)

	require.Equal(t, "wrote 5 of 5 bytes, next=5\n", h.run("w hello"))
	require.Equal(t, "copied 3 bytes at 0: \"hel\"\n", h.run("peek 0 3"))
	require.Equal(t, "copied 2 bytes at 1: \"el\"\n", h.run("peek +1 2"))
	require.Equal(t, "copied 0 bytes at 9: \"\"\n", h.run("peek 9 2"))
	require.Equal(t, "read 2 bytes: \"he\"\n", h.run("r 2"))
	require.Equal(t, "advanced 1 bytes, next=3\n", h.run("adv 1"))
	require.Equal(t, "advanced 1 bytes, next=4\n", h.run("advto +1"))
	require.Equal(t, "advanced 0 bytes, next=4\n", h.run("advto 2"))
}

func TestShell_Stat(t *testing.T) {
	h := newHarness(t, 10, 0)
	h.run("w hello")

	want := "State\tStart\tRead\tWrite\tHighest\tSize\tFree\tCapacity\n" +
		"open\t0\t0\t5\t0\t5 B\t11 B\t16 B\n"
	require.Equal(t, want, h.run("stat"))
}

func TestShell_CloseAndDrain(t *testing.T) {
	h := newHarness(t, 16, 1000)

	require.Equal(t, "wrote 5 of 5 bytes, next=1005\n", h.run("w hello"))
	h.run("r 4")
	require.Equal(t, "closed at 1005 with 1 unread bytes\n", h.run("close"))
	require.Equal(t, "wrote 0 of 1 bytes, next=1005\n", h.run("w x"))
	require.True(t, strings.HasPrefix(h.run("stat"), "State"))
	require.Contains(t, h.run("stat"), "closed-backlog\t1000\t1004\t1005")
	require.Equal(t, "drained 1 bytes, end of stream\n", h.run("drain"))
	require.Contains(t, h.run("stat"), "closed-drained")
}

func TestShell_DrainTimesOut(t *testing.T) {
	h := newHarness(t, 16, 0)
	h.run("wr 3")
	require.Equal(t, "drained 3 bytes\n", h.run("drain"))
}

func TestShell_FillStopsWhenFull(t *testing.T) {
	h := newHarness(t, 16, 0)
	require.Equal(t, "wrote 16 of 40 bytes: context deadline exceeded\n", h.run("fill 40"))
	require.True(t, h.shell.p.IsFull())

	h.run("adv 16")
	require.Equal(t, "wrote 8 bytes, next=24\n", h.run("fill 8"))
}

func TestShell_Tracker(t *testing.T) {
	h := newHarness(t, 16, 0)
	h.run("w abcdef")

	require.True(t, strings.HasPrefix(h.run("pk 4"), "in flight [0, 4) sum="))
	require.True(t, strings.HasPrefix(h.run("pk 10"), "in flight [4, 6) sum="))
	require.Equal(t, "nothing new to peek\n", h.run("pk 4"))
	require.Equal(t, "re-peeked 4 bytes at 0: \"abcd\"\n", h.run("rp 0"))

	require.Equal(t, "committed 2 bytes, next=2, outstanding=4\n", h.run("ack 2"))
	lines := strings.Split(strings.TrimSpace(h.run("inflight")), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "Start\tEnd\tLen\tSum\tPeeks", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "2\t4\t2\t"))
	require.True(t, strings.HasPrefix(lines[2], "4\t6\t2\t"))

	require.Equal(t, "Error: start 7: window: range not in flight\n", h.run("rp 7"))
	require.Equal(t, "committed 4 bytes, next=6, outstanding=0\n", h.run("ack +4"))
}

func TestShell_UsageErrors(t *testing.T) {
	h := newHarness(t, 16, 0)

	require.Equal(t, "Error: usage: r <n>\n", h.run("r"))
	require.Equal(t, "Error: usage: w <text>\n", h.run("w"))
	require.Equal(t, "Error: usage: peek <offset|+delta> <n>\n", h.run("peek 1"))
	require.True(t, strings.HasPrefix(h.run("adv lots"), "Error: invalid count \"lots\""))
	require.True(t, strings.HasPrefix(h.run("advto -3"), "Error: invalid offset \"-3\""))
}

func TestShell_Quit(t *testing.T) {
	h := newHarness(t, 16, 0)
	err := h.repl.Execute("q", &repl.REPLConfig{Writer: &h.out})
	require.Equal(t, repl.ErrQuit, err)
}

func TestShell_ReadRetiresInFlight(t *testing.T) {
	h := newHarness(t, 16, 0)
	h.run("w abcd")
	h.run("pk 4")
	require.Equal(t, "read 4 bytes: \"abcd\"\n", h.run("r 4"))

	require.Equal(t, "Start\tEnd\tLen\tSum\tPeeks\n", h.run("inflight"))
	require.Equal(t, "Error: start 0: window: range not in flight\n", h.run("rp 0"))
}

func TestShell_HugeCounts(t *testing.T) {
	h := newHarness(t, 16, 0)

	require.Equal(t, "wrote 16 of 1099511627776 bytes, next=16\n", h.run("wr 1TiB"))
	require.True(t, strings.HasPrefix(h.run("peek 0 1TiB"), "copied 16 bytes at 0: "))
	require.True(t, strings.HasPrefix(h.run("pk 1TiB"), "in flight [0, 16) sum="))
	require.True(t, strings.HasPrefix(h.run("r 1TiB"), "read 16 bytes: "))
	require.Equal(t, "wrote 16 of 1099511627776 bytes: context deadline exceeded\n", h.run("fill 1TiB"))
}
