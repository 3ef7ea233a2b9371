// Package engine binds the pipeline: enumeration, size partitioning,
// parallel fingerprinting against the path cache, byte verification and
// reporting.
package engine

import (
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/plorenz/dupfind/internal/config"
	"github.com/plorenz/dupfind/internal/fingerprint"
	"github.com/plorenz/dupfind/internal/metrics"
	"github.com/plorenz/dupfind/internal/pool"
	"github.com/plorenz/dupfind/internal/report"
	"github.com/plorenz/dupfind/internal/scan"
	"github.com/plorenz/dupfind/internal/verify"
	"github.com/plorenz/dupfind/pkg/pathcache"
)

// Engine owns the run: every FileRef, bucket and fingerprint array lives as
// long as it does. There is no process-global state; everything threads
// through here.
type Engine struct {
	Opts    *config.Options
	Log     zerolog.Logger
	Metrics *metrics.Metrics

	// Out receives the duplicate report, Errw the diagnostics.
	Out  io.Writer
	Errw io.Writer

	// Color enables escape sequences in the text reporter.
	Color bool
}

// Run executes the pipeline and returns the process exit code: 0 on
// success, 1 on runtime error, fewer than two candidates, or any failed
// fingerprint task.
func (e *Engine) Run() int {
	opts := e.Opts

	if opts.ImageMode {
		fmt.Fprintln(e.Errw, "dupfind: image-similarity mode is not bundled in this build")
		return 1
	}

	walkOpts, extractor, err := e.buildWalkOptions()
	if err != nil {
		fmt.Fprintf(e.Errw, "dupfind: %v\n", err)
		return 1
	}

	en := scan.NewEnumerator(walkOpts, extractor)
	for _, root := range opts.Roots {
		if err := en.WalkRoot(root); err != nil {
			fmt.Fprintf(e.Errw, "dupfind: %s: %v\n", root, err)
			return 1
		}
	}
	e.Metrics.AddEnumerated(int64(en.Total))
	e.Log.Debug().Int("files", en.Total).Int("buckets", len(en.Buckets)).Msg("enumeration done")

	if en.Total < 2 {
		fmt.Fprintln(e.Errw, "submit at least two files")
		return 1
	}

	if opts.DryRun {
		return e.dryRun(en)
	}

	var cache *pathcache.Env
	if opts.CachePath != "" {
		cache, err = pathcache.Open(opts.CachePath, pathcache.Options{Create: true})
		if err != nil {
			fmt.Fprintf(e.Errw, "dupfind: cache %s: %v\n", opts.CachePath, err)
			return 1
		}
		defer cache.Close()
	}

	cmp := &verify.Comparer{Threshold: opts.Threshold, ForceChunked: opts.Conservative}
	confirm := e.makeConfirm(cmp, extractor)

	fp := &fingerprint.Engine{
		Threshold:    opts.Threshold,
		ForceChunked: opts.Conservative,
		Cache:        cache,
		Extractor:    extractor,
		Metrics:      e.Metrics,
		Log:          e.Log,
	}

	failures := e.fingerprintStage(en.Buckets, fp, confirm)

	// The reporter runs strictly after the pool barrier, so it observes all
	// fingerprint results without further synchronisation.
	groups, err := e.reportStage(en.Buckets, confirm)
	if err != nil {
		fmt.Fprintf(e.Errw, "dupfind: report: %v\n", err)
		return 1
	}

	if opts.Verbose {
		e.Log.Info().Int64("files", e.Metrics.Fingerprinted()).Int("groups", groups).Msg("run complete")
		if rate, ok := e.Metrics.CacheHitRate(); ok {
			e.Log.Info().
				Int64("hits", e.Metrics.Hits()).
				Int64("misses", e.Metrics.Misses()).
				Float64("hit_rate", rate).
				Msg("cache statistics")
		}
	}

	if cache != nil && opts.CacheSweep {
		deleted, err := cache.Sweep()
		if err != nil {
			e.Log.Warn().Err(err).Msg("cache sweep failed")
		} else {
			e.Log.Debug().Int("deleted", deleted).Msg("cache sweep done")
		}
	}

	if failures > 0 {
		return 1
	}
	return 0
}

func (e *Engine) buildWalkOptions() (scan.Options, scan.ArchiveExtractor, error) {
	opts := e.Opts

	compile := func(expr string) (*regexp.Regexp, error) {
		if expr == "" {
			return nil, nil
		}
		if opts.CaseInsensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidArgument, err)
		}
		return re, nil
	}

	ignoreRe, err := compile(opts.IgnoreRegex)
	if err != nil {
		return scan.Options{}, nil, err
	}
	whitelistRe, err := compile(opts.WhitelistRegex)
	if err != nil {
		return scan.Options{}, nil, err
	}

	ignoreNames := make(map[string]struct{}, len(opts.IgnoreNames))
	for _, n := range opts.IgnoreNames {
		ignoreNames[n] = struct{}{}
	}

	var extractor scan.ArchiveExtractor
	var archiveRe *regexp.Regexp
	if opts.Untar {
		extractor = &scan.TarExtractor{}
		archiveRe = regexp.MustCompile(scan.DefaultArchivePattern)
	}

	return scan.Options{
		Recurse:        opts.Recurse,
		ShowHidden:     opts.ShowHidden,
		FollowSymlinks: opts.FollowSymlinks,
		IgnoreNames:    ignoreNames,
		IgnoreRegex:    ignoreRe,
		WhitelistRegex: whitelistRe,
		ArchiveRegex:   archiveRe,
		MinSize:        opts.MinSize,
		MaxSize:        opts.MaxSize,
		PriorityPath:   opts.PriorityPath,
		Log:            e.Log,
	}, extractor, nil
}

// fingerprintStage partitions the buckets: 1-file buckets drop out, 0-size
// and 2-file buckets resolve directly through the verifier, the rest fan out
// to the worker pool, one task per slot. Returns the failed-task count.
func (e *Engine) fingerprintStage(buckets scan.BucketMap, fp *fingerprint.Engine, confirm report.ConfirmFunc) int {
	p := pool.New(e.Opts.Workers, e.Log)
	directFailures := 0

	for _, b := range buckets {
		if b.Count() < 2 {
			continue
		}

		switch {
		case b.Size == 0:
			// Zero-size files are equal by definition.
			b.EnsureSums()
			for i := range b.Valid {
				b.Valid[i] = true
			}
			b.PreVerified = true

		case b.Count() == 2:
			equal, err := confirm(b.Files[0], b.Files[1], b.Size)
			if err != nil {
				e.Log.Warn().Err(err).Str("path", b.Files[0].Path).Msg("direct comparison failed")
				directFailures++
				continue
			}
			if equal {
				b.EnsureSums()
				b.Valid[0], b.Valid[1] = true, true
				b.PreVerified = true
			}

		default:
			b.EnsureSums()
			bucket := b
			for i := range bucket.Files {
				slot := i
				p.Add(func() error {
					return fp.FingerprintSlot(bucket, slot)
				})
			}
		}
	}

	return p.Wait() + directFailures
}

// reportStage transfers surviving FileRefs into a fresh heap and runs the
// reporter over it.
func (e *Engine) reportStage(buckets scan.BucketMap, confirm report.ConfirmFunc) (int, error) {
	heap := scan.NewSizeHeap()
	for _, b := range buckets {
		for i, ok := range b.Valid {
			if ok {
				heap.Push(b.Files[i])
			}
		}
	}

	var emitter report.Emitter
	var groups *int
	if e.Opts.JSON {
		je := report.NewJSONEmitter(e.Out)
		emitter = je
		groups = &je.Groups
	} else {
		te := report.NewTextEmitter(e.Out, e.Opts.Sized, e.Opts.RecordSep, e.Color)
		emitter = te
		groups = &te.Groups
	}

	if err := report.Run(heap, buckets, confirm, emitter); err != nil {
		return 0, err
	}
	e.Metrics.AddGroups(int64(*groups))
	return *groups, nil
}

func (e *Engine) dryRun(en *scan.Enumerator) int {
	comparable := 0
	files := 0
	for _, b := range en.Buckets {
		if b.Count() >= 2 {
			comparable++
			files += b.Count()
		}
	}
	fmt.Fprintf(e.Out, "dry run: %d files in %d size groups would be compared\n", files, comparable)
	return 0
}

// makeConfirm adapts the comparer to FileRefs, materialising archive members
// into scratch files for the duration of a comparison.
func (e *Engine) makeConfirm(cmp *verify.Comparer, extractor scan.ArchiveExtractor) report.ConfirmFunc {
	return func(a, b *scan.FileRef, size int64) (bool, error) {
		pa, cleanupA, err := resolve(extractor, a)
		if err != nil {
			return false, err
		}
		defer cleanupA()

		pb, cleanupB, err := resolve(extractor, b)
		if err != nil {
			return false, err
		}
		defer cleanupB()

		return cmp.Compare(pa, pb, size)
	}
}

func resolve(extractor scan.ArchiveExtractor, ref *scan.FileRef) (string, func(), error) {
	if !ref.IsArchiveMember() {
		return ref.Path, func() {}, nil
	}
	if extractor == nil {
		return "", nil, fmt.Errorf("archive member %s without extractor", ref.CacheKey())
	}
	scratch, err := extractor.Extract(ref.Path, ref.Sub)
	if err != nil {
		return "", nil, err
	}
	return scratch, func() { os.Remove(scratch) }, nil
}
