// Package fingerprint computes 128-bit content digests for size buckets,
// consulting the path cache and choosing between a single-pass memory-mapped
// read and chunked streaming by file size.
package fingerprint

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/plorenz/dupfind/internal/metrics"
	"github.com/plorenz/dupfind/internal/scan"
	"github.com/plorenz/dupfind/pkg/mmap"
	"github.com/plorenz/dupfind/pkg/pathcache"
)

// chunkLen is the streaming read size for files at or above the excess
// threshold (64 KiB).
const chunkLen = 64 * 1024

// Engine fingerprints one bucket slot per task. The bucket's arrays are
// index-aligned, so concurrent tasks write disjoint slots without locking.
type Engine struct {
	// Threshold is the size boundary between the mmap and chunked paths.
	Threshold int64

	// ForceChunked disables memory-mapping (memory-conservative mode).
	ForceChunked bool

	// Cache is the optional fingerprint cache. Nil disables caching; any
	// cache I/O failure downgrades the affected file to compute-only.
	Cache *pathcache.Env

	// Extractor materialises archive members into scratch files.
	Extractor scan.ArchiveExtractor

	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

// FingerprintSlot computes the fingerprint for bucket slot i and stores it
// at the matching index. A per-file I/O failure leaves the slot invalid; the
// reporter excludes such slots and continues.
func (e *Engine) FingerprintSlot(b *scan.SizeBucket, i int) error {
	ref := b.Files[i]
	sum, err := e.fingerprintRef(ref)
	if err != nil {
		e.Log.Debug().Str("path", ref.DisplayPath('\n')).Err(err).Msg("fingerprint failed")
		return err
	}
	b.Sums[i] = sum
	b.Valid[i] = true
	e.Metrics.IncFingerprinted()
	return nil
}

func (e *Engine) fingerprintRef(ref *scan.FileRef) (scan.Fingerprint, error) {
	key := ref.CacheKey()

	if e.Cache != nil {
		if sum, ok := e.cacheLookup(key, ref); ok {
			return sum, nil
		}
	}

	path := ref.Path
	if ref.IsArchiveMember() {
		scratch, err := e.Extractor.Extract(ref.Path, ref.Sub)
		if err != nil {
			return scan.Fingerprint{}, err
		}
		defer os.Remove(scratch)
		path = scratch
	}

	sum, err := e.hashFile(path, ref.Size)
	if err != nil {
		return scan.Fingerprint{}, err
	}

	if e.Cache != nil {
		e.cacheStore(key, ref, sum)
	}
	return sum, nil
}

// cacheLookup consults the cache under a read snapshot. The entry's stat
// triple must match the enumerated stat for the fingerprint to be reused.
// The path is always marked visited so sweep keeps its entry.
func (e *Engine) cacheLookup(key string, ref *scan.FileRef) (scan.Fingerprint, bool) {
	e.Cache.MarkVisited(key)

	txn, err := e.Cache.BeginRead()
	if err != nil {
		e.Log.Debug().Err(err).Msg("cache read unavailable, computing")
		return scan.Fingerprint{}, false
	}
	defer txn.Commit()

	ent, err := txn.Lookup([]byte(key))
	if err != nil || !ent.Matches(ref.Mtime, ref.Ctime, ref.Size) {
		e.Metrics.IncCacheMiss()
		return scan.Fingerprint{}, false
	}

	// Copy out of the borrowed entry before the transaction ends.
	sum := scan.Fingerprint(ent.Sum)
	e.Metrics.IncCacheHit()
	return sum, true
}

// cacheStore records a freshly computed fingerprint. Failures downgrade to
// compute-only for this file.
func (e *Engine) cacheStore(key string, ref *scan.FileRef, sum scan.Fingerprint) {
	txn, err := e.Cache.BeginWrite()
	if err != nil {
		e.Log.Debug().Err(err).Msg("cache write unavailable")
		return
	}
	ent := pathcache.Entry{
		Mtime: ref.Mtime,
		Ctime: ref.Ctime,
		Size:  ref.Size,
		Sum:   sum,
	}
	if err := txn.Upsert([]byte(key), &ent); err != nil {
		e.Log.Debug().Err(err).Msg("cache upsert failed")
		txn.Abort()
		return
	}
	if err := txn.Commit(); err != nil {
		e.Log.Debug().Err(err).Msg("cache commit failed")
	}
}

// hashFile fingerprints a file's content. Both paths produce the same
// 128-bit digest for identical bytes.
func (e *Engine) hashFile(path string, size int64) (scan.Fingerprint, error) {
	if size == 0 {
		return scan.Fingerprint(xxh3.Hash128(nil).Bytes()), nil
	}

	if !e.ForceChunked && size < e.Threshold {
		if sum, err := e.hashMapped(path); err == nil {
			return sum, nil
		}
		// Filesystems that cannot map fall back to chunked reads.
	}
	return e.hashChunked(path)
}

func (e *Engine) hashMapped(path string) (scan.Fingerprint, error) {
	m, err := mmap.MapFile(path, false)
	if err != nil {
		return scan.Fingerprint{}, err
	}
	defer m.Close()

	m.AdviseSequential()
	e.Metrics.AddBytesHashed(m.Size())
	return scan.Fingerprint(xxh3.Hash128(m.Data()).Bytes()), nil
}

func (e *Engine) hashChunked(path string) (scan.Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return scan.Fingerprint{}, err
	}
	defer f.Close()

	h := xxh3.New()
	buf := make([]byte, chunkLen)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			e.Metrics.AddBytesHashed(int64(n))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return scan.Fingerprint{}, err
		}
	}
	return scan.Fingerprint(h.Sum128().Bytes()), nil
}
