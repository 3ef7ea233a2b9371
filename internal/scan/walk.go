package scan

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// Options control the enumeration walk.
type Options struct {
	Recurse        bool
	ShowHidden     bool
	FollowSymlinks bool

	// IgnoreNames are entry names skipped outright ("." and ".." always
	// are).
	IgnoreNames map[string]struct{}

	// IgnoreRegex is the authoritative blacklist; WhitelistRegex, when set,
	// must match for a file to survive.
	IgnoreRegex    *regexp.Regexp
	WhitelistRegex *regexp.Regexp

	// ArchiveRegex selects files expanded through the extractor. Nil
	// disables expansion.
	ArchiveRegex *regexp.Regexp

	// MinSize and MaxSize gate by size; MaxSize 0 means no upper bound.
	MinSize int64
	MaxSize int64

	// PriorityPath marks files beneath it as prioritized.
	PriorityPath string

	Log zerolog.Logger
}

// Enumerator walks roots and fills the size heap and bucket map. It is
// single-threaded; all parallelism lives in the fingerprint stage.
type Enumerator struct {
	opts      Options
	extractor ArchiveExtractor
	access    *accessChecker

	Heap    *Heap[*FileRef]
	Buckets BucketMap
	Total   int
}

type ancestorID struct {
	dev, ino uint64
}

// NewEnumerator creates an enumerator. extractor may be nil when archive
// expansion is disabled.
func NewEnumerator(opts Options, extractor ArchiveExtractor) *Enumerator {
	return &Enumerator{
		opts:      opts,
		extractor: extractor,
		access:    newAccessChecker(),
		Heap:      NewSizeHeap(),
		Buckets:   make(BucketMap),
	}
}

// WalkRoot enumerates one root argument. Errors on the root itself are
// fatal; per-entry errors below it are logged and skipped, except an
// *ArchiveError from a malformed archive, which aborts the walk.
func (e *Enumerator) WalkRoot(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	info, err := os.Lstat(abs)
	if err != nil {
		return err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		info, err = os.Stat(abs)
		if err != nil {
			return err
		}
	}

	if info.IsDir() {
		return e.walkDir(abs, info, nil)
	}
	if info.Mode().IsRegular() {
		return e.considerFile(abs, info, sysStat(info))
	}
	e.opts.Log.Debug().Str("path", abs).Msg("skipping non-regular root")
	return nil
}

func (e *Enumerator) walkDir(dir string, info os.FileInfo, ancestors []ancestorID) error {
	si := sysStat(info)
	ancestors = append(ancestors, ancestorID{si.Dev, si.Ino})

	entries, err := os.ReadDir(dir)
	if err != nil {
		e.opts.Log.Debug().Str("dir", dir).Err(err).Msg("cannot open directory")
		return nil
	}

	for _, entry := range entries {
		name := entry.Name()
		if e.skipName(name) {
			continue
		}

		full := filepath.Join(dir, name)
		fi, err := os.Lstat(full)
		if err != nil {
			e.opts.Log.Debug().Str("path", full).Err(err).Msg("cannot stat entry")
			continue
		}

		if fi.Mode()&fs.ModeSymlink != 0 {
			if !e.opts.FollowSymlinks {
				continue
			}
			fi, err = os.Stat(full)
			if err != nil {
				e.opts.Log.Debug().Str("path", full).Err(err).Msg("broken symlink")
				continue
			}
		}

		esi := sysStat(fi)
		switch {
		case fi.IsDir():
			if !e.access.canAccess(esi, fi.Mode(), true) {
				e.opts.Log.Debug().Str("dir", full).Msg("permission denied")
				continue
			}
			if !e.opts.Recurse {
				continue
			}
			if isLoop(ancestors, esi) {
				e.opts.Log.Warn().Str("dir", full).Msg("filesystem loop detected, not descending")
				continue
			}
			if err := e.walkDir(full, fi, ancestors); err != nil {
				return err
			}

		case fi.Mode().IsRegular():
			if !e.access.canAccess(esi, fi.Mode(), false) {
				e.opts.Log.Debug().Str("path", full).Msg("permission denied")
				continue
			}
			if err := e.considerFile(full, fi, esi); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Enumerator) skipName(name string) bool {
	if name == "." || name == ".." {
		return true
	}
	if _, ok := e.opts.IgnoreNames[name]; ok {
		return true
	}
	if !e.opts.ShowHidden && strings.HasPrefix(name, ".") {
		return true
	}
	return false
}

// isLoop walks the ancestor (device, inode) chain comparing the current
// entry's identity against each ancestor's.
func isLoop(ancestors []ancestorID, si sysInfo) bool {
	for _, a := range ancestors {
		if a.dev == si.Dev && a.ino == si.Ino {
			return true
		}
	}
	return false
}

func (e *Enumerator) considerFile(path string, info os.FileInfo, si sysInfo) error {
	if e.opts.IgnoreRegex != nil && e.opts.IgnoreRegex.MatchString(path) {
		return nil
	}
	if e.opts.WhitelistRegex != nil && !e.opts.WhitelistRegex.MatchString(path) {
		return nil
	}

	if e.extractor != nil && e.opts.ArchiveRegex != nil && e.opts.ArchiveRegex.MatchString(path) {
		return e.expandArchive(path)
	}

	if !e.sizeOK(info.Size()) {
		return nil
	}

	e.add(&FileRef{
		Path:        path,
		Size:        info.Size(),
		Mtime:       si.MtimeUs,
		Ctime:       si.CtimeUs,
		Prioritized: e.prioritized(path),
	})
	return nil
}

func (e *Enumerator) expandArchive(path string) error {
	members, err := e.extractor.Members(path)
	if err != nil {
		if errors.Is(err, ErrNotArchive) {
			e.opts.Log.Debug().Str("path", path).Msg("archive pattern matched but no valid header, skipping")
			return nil
		}
		return err
	}

	for _, m := range members {
		if !e.sizeOK(m.Size) {
			continue
		}
		if e.opts.IgnoreRegex != nil && e.opts.IgnoreRegex.MatchString(m.Name) {
			continue
		}
		if e.opts.WhitelistRegex != nil && !e.opts.WhitelistRegex.MatchString(m.Name) {
			continue
		}
		e.add(&FileRef{
			Path:        path,
			Sub:         m.Name,
			Size:        m.Size,
			Mtime:       m.MtimeUs,
			Ctime:       m.MtimeUs,
			Prioritized: e.prioritized(path),
		})
	}
	return nil
}

func (e *Enumerator) sizeOK(size int64) bool {
	if size < e.opts.MinSize {
		return false
	}
	if e.opts.MaxSize > 0 && size > e.opts.MaxSize {
		return false
	}
	return true
}

func (e *Enumerator) prioritized(path string) bool {
	pp := e.opts.PriorityPath
	if pp == "" {
		return false
	}
	return path == pp || strings.HasPrefix(path, pp+string(filepath.Separator))
}

func (e *Enumerator) add(f *FileRef) {
	e.Heap.Push(f)
	e.Buckets.Add(f)
	e.Total++
}
