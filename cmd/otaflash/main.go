package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/chaz8081/otaflash/internal/config"
)

type globalOptions struct {
	Config  string `short:"c" long:"config" description:"path to config file (default: ~/.config/otaflash/config.yaml)"`
	Verbose bool   `short:"v" long:"verbose" description:"enable debug logging"`
}

var opts globalOptions

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.ShortDescription = "Push firmware to peripherals over BLE or serial"

	parser.AddCommand("scan", "Scan for BLE peripherals",
		"List nearby peripherals advertising the OTA service.", &scanCommand{})
	parser.AddCommand("flash", "Flash a firmware image",
		"Run a full OTA update against a BLE peripheral or a serial port.", &flashCommand{})
	parser.AddCommand("ports", "List serial ports",
		"List serial ports with their USB identifiers.", &portsCommand{})
	parser.AddCommand("init", "Write the default config",
		"Write the default config file unless one already exists.", &initCommand{})

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		// flags.Default prints the error, including those from commands.
		os.Exit(1)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults. It also installs the
// process-wide logger at the configured level.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.Config != "" {
		cfg, err = config.Load(opts.Config)
	} else {
		cfg, err = config.LoadOrDefault(config.DefaultConfigPath())
	}
	if err != nil {
		return nil, err
	}

	level := config.ParseLogLevel(cfg.LogLevel)
	if opts.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}

type initCommand struct{}

func (c *initCommand) Execute(args []string) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		return nil
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}
