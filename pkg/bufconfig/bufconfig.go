package bufconfig

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

const MaxSize = 1 << 40

/*
 * A config file is a list of directives, one per line:
 *
 *   # 64 KiB ring starting at a random offset
 *   size 64KiB
 *   start random
 *   chunk 1024
 *   backoff 50us 10ms
 *   loglevel debug
 *   history /tmp/spscsh.history
 *
 * Anything not given keeps its value from DefaultConfig.
 */
type Config struct {
	Size        int    // requested size, rounded up to a power of two by the buffer
	Start       uint64 // calibration offset
	RandomStart bool   // pick Start at random when the buffer is created

	Chunk int // bytes moved per step by the shell's bulk commands

	MinBackoff time.Duration
	MaxBackoff time.Duration

	LogLevel    slog.Level
	HistoryFile string
}

var DefaultConfig = Config{
	Size:       64 * 1024,
	Chunk:      1024,
	MinBackoff: 50 * time.Microsecond,
	MaxBackoff: 10 * time.Millisecond,
	LogLevel:   slog.LevelInfo,
}

// Calibration returns the offset a buffer built from c should start at.
func (c *Config) Calibration() uint64 {
	if c.RandomStart {
		return rand.Uint64()
	}
	return c.Start
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Size < 1 || c.Size > MaxSize {
		result = multierror.Append(result, errors.Errorf("size %d out of range [1, %d]", c.Size, MaxSize))
	}
	if c.Chunk < 1 {
		result = multierror.Append(result, errors.Errorf("chunk must be positive, got %d", c.Chunk))
	}
	if c.MinBackoff <= 0 {
		result = multierror.Append(result, errors.Errorf("minimum backoff must be positive, got %v", c.MinBackoff))
	}
	if c.MaxBackoff < c.MinBackoff {
		result = multierror.Append(result, errors.Errorf("maximum backoff %v below minimum %v", c.MaxBackoff, c.MinBackoff))
	}
	return result.ErrorOrNil()
}

type ParseFunc func(int, string, *Config) error

var parseCommands = map[string]ParseFunc{
	"size":     parseSize,
	"start":    parseStart,
	"chunk":    parseChunk,
	"backoff":  parseBackoff,
	"loglevel": parseLogLevel,
	"history":  parseHistory,
}

func args(line string, want int, usage string) ([]string, error) {
	tokens := strings.Fields(line)
	if len(tokens) != want+1 {
		return nil, errors.Errorf("usage: %s", usage)
	}
	return tokens[1:], nil
}

// ParseSize accepts plain byte counts as well as humanized sizes (64KiB, 1MB).
func ParseSize(s string) (int, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	if n > MaxSize {
		return 0, errors.Errorf("size %s exceeds %s", s, humanize.IBytes(MaxSize))
	}
	return int(n), nil
}

func parseSize(ln int, line string, config *Config) error {
	tokens, err := args(line, 1, "size <bytes>")
	if err != nil {
		return err
	}
	config.Size, err = ParseSize(tokens[0])
	return err
}

func parseStart(ln int, line string, config *Config) error {
	tokens, err := args(line, 1, "start <offset|random>")
	if err != nil {
		return err
	}
	if tokens[0] == "random" {
		config.RandomStart = true
		return nil
	}
	start, err := strconv.ParseUint(tokens[0], 0, 64)
	if err != nil {
		return err
	}
	config.Start = start
	config.RandomStart = false
	return nil
}

func parseChunk(ln int, line string, config *Config) error {
	tokens, err := args(line, 1, "chunk <bytes>")
	if err != nil {
		return err
	}
	config.Chunk, err = ParseSize(tokens[0])
	return err
}

func parseBackoff(ln int, line string, config *Config) error {
	tokens, err := args(line, 2, "backoff <min> <max>")
	if err != nil {
		return err
	}
	lo, err := time.ParseDuration(tokens[0])
	if err != nil {
		return err
	}
	hi, err := time.ParseDuration(tokens[1])
	if err != nil {
		return err
	}
	config.MinBackoff, config.MaxBackoff = lo, hi
	return nil
}

func parseLogLevel(ln int, line string, config *Config) error {
	tokens, err := args(line, 1, "loglevel <debug|info|warn|error>")
	if err != nil {
		return err
	}
	return config.LogLevel.UnmarshalText([]byte(tokens[0]))
}

func parseHistory(ln int, line string, config *Config) error {
	tokens, err := args(line, 1, "history <path>")
	if err != nil {
		return err
	}
	config.HistoryFile = tokens[0]
	return nil
}

func newErrString(line int, msg string, args ...any) error {
	return errors.Errorf("Parse error on line %d:  %s", line, fmt.Sprintf(msg, args...))
}

func newErr(line int, err error) error {
	return errors.Wrapf(err, "Parse error on line %d", line)
}

// Parse reads directives from r on top of DefaultConfig.
func Parse(r io.Reader) (*Config, error) {
	config := DefaultConfig

	scanner := bufio.NewScanner(r)
	ln := 0
	for scanner.Scan() {
		ln++

		line := strings.TrimSpace(scanner.Text())
		tokens := strings.Fields(line)

		// Skip blank lines and comments
		if len(tokens) == 0 || tokens[0][0] == '#' {
			continue
		}

		head := tokens[0]
		pf, found := parseCommands[head]
		if !found {
			return nil, newErrString(ln, "Unrecognized token %s", head)
		}
		if err := pf(ln, line, &config); err != nil {
			return nil, newErr(ln, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading config")
	}

	return &config, nil
}

// ParseConfig parses a configuration file
func ParseConfig(configFile string) (*Config, error) {
	fd, err := os.Open(configFile)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to open file")
	}
	defer fd.Close()

	return Parse(fd)
}
