// Command dupfind finds sets of byte-identical files under one or more
// roots. Candidates are grouped by size, fingerprinted in parallel with an
// optional persistent cache, confirmed byte-for-byte and reported in
// descending size order.
//
// Usage:
//
//	dupfind [options] ROOT [ROOT...]
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/plorenz/dupfind/internal/config"
	"github.com/plorenz/dupfind/internal/engine"
	"github.com/plorenz/dupfind/internal/metrics"
)

// Version is the release version, stamped by the build.
var Version = "0.3.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := config.Parse(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dupfind: %v\n", err)
		return 1
	}

	if opts.ShowVersion {
		fmt.Printf("dupfind %s\n", Version)
		return 0
	}

	if len(opts.Roots) == 0 {
		fmt.Fprintln(os.Stderr, "dupfind: at least one root is required")
		return 1
	}

	level := zerolog.WarnLevel
	if opts.Verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).Level(level).With().Timestamp().Logger()

	m := metrics.New()
	if opts.MetricsAddr != "" {
		go func() {
			if err := m.Serve(opts.MetricsAddr); err != nil {
				log.Warn().Err(err).Msg("metrics listener stopped")
			}
		}()
	}

	eng := &engine.Engine{
		Opts:    opts,
		Log:     log,
		Metrics: m,
		Out:     os.Stdout,
		Errw:    os.Stderr,
		Color:   isatty.IsTerminal(os.Stdout.Fd()),
	}
	return eng.Run()
}
