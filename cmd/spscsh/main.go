package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"spsc-ringbuf/pkg/bufconfig"
	"spsc-ringbuf/pkg/repl"
	"spsc-ringbuf/pkg/shell"
)

var (
	configFile string
	size       string
	start      uint64
	randStart  bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "spscsh",
	Short: "Interactive shell around a single-producer single-consumer ring buffer",
	Long: `spscsh creates one ring buffer and lets you drive both of its ends by hand.

Type "help" at the prompt for the list of commands.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file")
	rootCmd.Flags().StringVarP(&size, "size", "s", "", "buffer size, e.g. 4096 or 64KiB")
	rootCmd.Flags().Uint64Var(&start, "start", 0, "calibration offset")
	rootCmd.Flags().BoolVar(&randStart, "random-start", false, "start at a random offset")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
}

// loadConfig reads the config file, if any, and applies the flags on top.
func loadConfig(cmd *cobra.Command) (*bufconfig.Config, error) {
	cfg := bufconfig.DefaultConfig
	if configFile != "" {
		parsed, err := bufconfig.ParseConfig(configFile)
		if err != nil {
			return nil, err
		}
		cfg = *parsed
	}

	flags := cmd.Flags()
	if flags.Changed("size") {
		n, err := bufconfig.ParseSize(size)
		if err != nil {
			return nil, errors.Wrap(err, "--size")
		}
		cfg.Size = n
	}
	if flags.Changed("start") {
		cfg.Start = start
		cfg.RandomStart = false
	}
	if flags.Changed("random-start") {
		cfg.RandomStart = randStart
	}
	if flags.Changed("log-level") {
		if err := cfg.LogLevel.UnmarshalText([]byte(logLevel)); err != nil {
			return nil, errors.Wrap(err, "--log-level")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	sh := shell.New(cfg, logger)
	return sh.Repl().Run(repl.RunConfig{
		Prompt:      "> ",
		HistoryFile: cfg.HistoryFile,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
