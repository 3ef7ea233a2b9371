// Package report drives the output stream: it drains the size heap in
// descending order, groups fingerprint-equal files, confirms each pair
// byte-for-byte and emits duplicate sets.
package report

import (
	"bytes"
	"sort"

	"github.com/plorenz/dupfind/internal/scan"
)

// ConfirmFunc verifies byte equality of two candidates of the given size.
type ConfirmFunc func(a, b *scan.FileRef, size int64) (bool, error)

// Emitter receives duplicate groups in emission order.
type Emitter interface {
	BeginGroup(size int64)
	File(ref *scan.FileRef)
	EndGroup()
	Close() error
}

// Run iterates the heap by descending size and reports each bucket once.
// Duplicate sets come out in descending size order; within a set the
// prioritized file, if any, appears last among its fingerprint peers.
func Run(heap *scan.Heap[*scan.FileRef], buckets scan.BucketMap, confirm ConfirmFunc, e Emitter) error {
	var prevSize int64 = -1
	seenFirst := false

	for {
		ref, ok := heap.Pop()
		if !ok {
			break
		}
		if seenFirst && ref.Size == prevSize {
			continue // bucket already processed
		}
		seenFirst = true
		prevSize = ref.Size

		b := buckets[ref.Size]
		if b == nil || b.Count() < 2 {
			continue
		}
		if err := reportBucket(b, confirm, e); err != nil {
			return err
		}
	}
	return e.Close()
}

// reportBucket sorts the bucket's fingerprint slots by (fingerprint bytes
// ascending, prioritized ascending) and walks them, verifying runs of equal
// fingerprints. Non-prioritized entries sort before prioritized ones with
// the same fingerprint, so the group representative is deterministic.
func reportBucket(b *scan.SizeBucket, confirm ConfirmFunc, e Emitter) error {
	order := make([]int, 0, b.Count())
	for i := range b.Files {
		if b.Valid[i] {
			order = append(order, i)
		}
	}
	if len(order) < 2 {
		return nil
	}

	sort.SliceStable(order, func(x, y int) bool {
		i, j := order[x], order[y]
		if c := bytes.Compare(b.Sums[i][:], b.Sums[j][:]); c != 0 {
			return c < 0
		}
		return !b.Files[i].Prioritized && b.Files[j].Prioritized
	})

	consumed := make([]bool, len(order))
	for x := 0; x < len(order); x++ {
		if consumed[x] {
			continue
		}
		i := order[x]
		printed := false

		for y := x + 1; y < len(order); y++ {
			if consumed[y] {
				continue
			}
			j := order[y]
			if b.Sums[i] != b.Sums[j] {
				break // sorted: no later slot can match
			}

			equal := b.PreVerified
			if !equal {
				var err error
				equal, err = confirm(b.Files[i], b.Files[j], b.Size)
				if err != nil {
					// Per-file I/O trouble never aborts the reporter.
					continue
				}
			}
			if !equal {
				continue
			}

			if !printed {
				e.BeginGroup(b.Size)
				e.File(b.Files[i])
				printed = true
			}
			e.File(b.Files[j])
			consumed[y] = true
		}

		if printed {
			e.EndGroup()
		}
	}
	return nil
}
