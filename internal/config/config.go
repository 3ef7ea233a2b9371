// Package config binds the CLI surface and optional config-file defaults
// into the option set the engine consumes.
package config

import (
	"errors"
	"fmt"
	"runtime"

	flag "github.com/spf13/pflag"
)

// Defaults.
const (
	// DefaultThreshold is the mmap/chunked boundary when -x is not given.
	DefaultThreshold = 32 << 20

	// MaxWorkers bounds the worker pool size.
	MaxWorkers = 256
)

// ErrInvalidArgument wraps every configuration rejection.
var ErrInvalidArgument = errors.New("invalid argument")

// Options is the full option set. Zero value is not usable; build through
// Parse or Default.
type Options struct {
	Roots []string

	ShowHidden      bool   // -a
	CaseInsensitive bool   // -c
	Sized           bool   // -d
	IgnoreRegex     string // -e
	FollowSymlinks  bool   // -f
	IgnoreNames     []string
	Workers         int    // -j
	MinSize         int64  // -m
	MaxSize         int64  // -M, 0 = none
	DryRun          bool   // -n
	Conservative    bool   // -o
	PriorityPath    string // -p
	Recurse         bool   // -r / -R
	RecordSep       byte   // -s
	Untar           bool   // -t
	Verbose         bool   // -v
	ShowVersion     bool   // -V
	WhitelistRegex  string // -w
	Threshold       int64  // -x
	JSON            bool   // -J
	ImageMode       bool   // -I
	ImageThreshold  int    // -T

	CachePath   string
	CacheSweep  bool
	MetricsAddr string
}

// Default returns the option set before flags and config files apply.
func Default() *Options {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	if workers > MaxWorkers {
		workers = MaxWorkers
	}
	return &Options{
		Workers:    workers,
		Recurse:    true,
		RecordSep:  '\n',
		Threshold:  DefaultThreshold,
		CacheSweep: true,
	}
}

// Parse builds options from defaults, config files and the argument list,
// in that order of precedence.
func Parse(args []string) (*Options, error) {
	opts := Default()
	if err := applyFileDefaults(opts); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("dupfind", flag.ContinueOnError)

	fs.BoolVarP(&opts.ShowHidden, "all", "a", opts.ShowHidden, "include hidden entries")
	fs.BoolVarP(&opts.CaseInsensitive, "case-insensitive", "c", opts.CaseInsensitive, "case-insensitive regex matching")
	fs.BoolVarP(&opts.Sized, "display-size", "d", opts.Sized, "emit a size header per duplicate group")
	fs.StringVarP(&opts.IgnoreRegex, "exclude", "e", opts.IgnoreRegex, "ignore-regex blacklist")
	fs.BoolVarP(&opts.FollowSymlinks, "follow", "f", opts.FollowSymlinks, "follow symlinks")
	fs.StringSliceVarP(&opts.IgnoreNames, "ignore", "i", opts.IgnoreNames, "comma-separated names to ignore")
	fs.IntVarP(&opts.Workers, "jobs", "j", opts.Workers, "worker pool size (1-256)")
	minSize := fs.StringP("minsize", "m", "", "minimum size gate (human-readable)")
	maxSize := fs.StringP("maxsize", "M", "", "maximum size gate (0 = none)")
	fs.BoolVarP(&opts.DryRun, "dry-run", "n", opts.DryRun, "walk and bucket only, skip comparisons")
	fs.BoolVarP(&opts.Conservative, "conserve-memory", "o", opts.Conservative, "memory-conservative mode (no mmap)")
	fs.StringVarP(&opts.PriorityPath, "priority-path", "p", opts.PriorityPath, "priority path anchoring duplicate groups")
	recurse := fs.BoolP("recurse", "r", opts.Recurse, "recurse into subdirectories")
	noRecurse := fs.BoolP("no-recurse", "R", false, "do not recurse")
	sep := fs.StringP("separator", "s", "", "record separator character")
	fs.BoolVarP(&opts.Untar, "untar", "t", opts.Untar, "expand archive members")
	fs.BoolVarP(&opts.Verbose, "verbose", "v", opts.Verbose, "progress output")
	fs.BoolVarP(&opts.ShowVersion, "version", "V", opts.ShowVersion, "print version and exit")
	fs.StringVarP(&opts.WhitelistRegex, "whitelist", "w", opts.WhitelistRegex, "whitelist regex")
	threshold := fs.StringP("threshold", "x", "", "mmap/chunked size threshold (human-readable)")
	fs.BoolVarP(&opts.JSON, "json", "J", opts.JSON, "JSON reporter")
	fs.BoolVarP(&opts.ImageMode, "images", "I", opts.ImageMode, "image-similarity mode")
	fs.IntVarP(&opts.ImageThreshold, "image-threshold", "T", opts.ImageThreshold, "image-similarity threshold")
	fs.StringVar(&opts.CachePath, "cache", opts.CachePath, "fingerprint cache file")
	fs.BoolVar(&opts.CacheSweep, "cache-sweep", opts.CacheSweep, "garbage-collect unvisited cache entries after the run")
	fs.StringVar(&opts.MetricsAddr, "metrics-addr", opts.MetricsAddr, "serve Prometheus metrics at host:port")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	opts.Roots = fs.Args()

	opts.Recurse = *recurse
	if *noRecurse {
		opts.Recurse = false
	}

	if *minSize != "" {
		v, err := ParseSize(*minSize)
		if err != nil {
			return nil, fmt.Errorf("%w: -m: %v", ErrInvalidArgument, err)
		}
		opts.MinSize = v
	}
	if *maxSize != "" {
		v, err := ParseSize(*maxSize)
		if err != nil {
			return nil, fmt.Errorf("%w: -M: %v", ErrInvalidArgument, err)
		}
		opts.MaxSize = v
	}
	if *threshold != "" {
		v, err := ParseSize(*threshold)
		if err != nil {
			return nil, fmt.Errorf("%w: -x: %v", ErrInvalidArgument, err)
		}
		opts.Threshold = v
	}
	if *sep != "" {
		if len(*sep) != 1 {
			return nil, fmt.Errorf("%w: -s wants a single character", ErrInvalidArgument)
		}
		opts.RecordSep = (*sep)[0]
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Validate enforces option semantics.
func (o *Options) Validate() error {
	if o.Workers < 1 || o.Workers > MaxWorkers {
		return fmt.Errorf("%w: -j must be in [1, %d]", ErrInvalidArgument, MaxWorkers)
	}
	if o.JSON && o.ImageMode {
		return fmt.Errorf("%w: JSON output cannot be combined with image-similarity mode", ErrInvalidArgument)
	}
	if o.MaxSize > 0 && o.MinSize > o.MaxSize {
		return fmt.Errorf("%w: -m exceeds -M", ErrInvalidArgument)
	}
	if o.Threshold < 0 {
		return fmt.Errorf("%w: -x must be non-negative", ErrInvalidArgument)
	}
	return nil
}
