package repl

// note: based off of csci1270-fall23
import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
)

// ErrQuit is returned by a handler to end Run.
var ErrQuit = errors.New("quit")

type REPL struct {
	Commands map[string]func(string, *REPLConfig) error
	Help     map[string]string
}

type REPLConfig struct {
	Writer io.Writer
}

// RunConfig controls the terminal side of Run. Zero values mean stdin/stdout
// and no history.
type RunConfig struct {
	Prompt      string
	HistoryFile string
	Stdin       io.ReadCloser
	Stdout      io.Writer
}

func NewRepl() *REPL {
	r := &REPL{make(map[string]func(string, *REPLConfig) error), make(map[string]string)}
	return r
}

// Add a command, along with its help string, to the set of commands
func (r *REPL) AddCommand(trigger string, handler func(string, *REPLConfig) error, help string) {
	if trigger == "" || trigger[0] == '.' {
		return
	}
	r.Help[trigger] = help
	r.Commands[trigger] = handler
}

func (r *REPL) triggers() []string {
	keys := make([]string, 0, len(r.Commands))
	for k := range r.Commands {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Return all REPL usage information as a string
func (r *REPL) HelpString() string {
	var sb strings.Builder
	sb.WriteString("Commands\n")
	for _, k := range r.triggers() {
		sb.WriteString(fmt.Sprintf("\t%s: %s\n", k, r.Help[k]))
	}
	return sb.String()
}

// Execute runs a single input line. Handler errors are printed, not returned;
// only ErrQuit comes back to the caller.
func (r *REPL) Execute(input string, config *REPLConfig) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}
	command := strings.Fields(input)[0]
	if command == "help" {
		io.WriteString(config.Writer, r.HelpString())
		return nil
	}

	handler, ok := r.Commands[command]
	if !ok {
		io.WriteString(config.Writer, fmt.Sprintf("Invalid command: %s\n", command))
		io.WriteString(config.Writer, r.HelpString())
		return nil
	}

	err := handler(input, config)
	if errors.Is(err, ErrQuit) {
		return ErrQuit
	}
	if err != nil {
		io.WriteString(config.Writer, fmt.Sprintf("Error: %v\n", err))
	}
	return nil
}

func (r *REPL) completer() *readline.PrefixCompleter {
	items := []readline.PrefixCompleterInterface{readline.PcItem("help")}
	for _, k := range r.triggers() {
		items = append(items, readline.PcItem(k))
	}
	return readline.NewPrefixCompleter(items...)
}

// Run reads commands until EOF, an interrupt on an empty line, or a handler
// returning ErrQuit.
func (r *REPL) Run(cfg RunConfig) error {
	if cfg.Prompt == "" {
		cfg.Prompt = "> "
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          cfg.Prompt,
		HistoryFile:     cfg.HistoryFile,
		AutoComplete:    r.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           cfg.Stdin,
		Stdout:          cfg.Stdout,
	})
	if err != nil {
		return errors.Wrap(err, "starting readline")
	}
	defer rl.Close()

	replConfig := &REPLConfig{Writer: rl.Stdout()}
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reading input")
		}

		if r.Execute(line, replConfig) == ErrQuit {
			return nil
		}
	}
}
