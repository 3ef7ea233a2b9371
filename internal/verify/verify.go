// Package verify confirms byte equality between two files. Fingerprint
// matches are never trusted on their own; every reported pair passes through
// here first.
package verify

import (
	"bytes"
	"io"
	"os"

	"github.com/plorenz/dupfind/pkg/mmap"
)

// chunkLen is the read size on the chunked path (64 KiB).
const chunkLen = 64 * 1024

// Comparer compares file contents, memory-mapping below Threshold and
// reading synchronized chunks above it (or always, with ForceChunked).
type Comparer struct {
	Threshold    int64
	ForceChunked bool
}

// Compare reports whether the two files of the given common size are
// byte-identical. Zero-size files are equal by definition.
func (c *Comparer) Compare(pathA, pathB string, size int64) (bool, error) {
	if size == 0 {
		return true, nil
	}

	if !c.ForceChunked && size < c.Threshold {
		eq, err := compareMapped(pathA, pathB)
		if err == nil {
			return eq, nil
		}
		// Some filesystems cannot map; fall back to chunked reads.
	}

	return compareChunked(pathA, pathB)
}

func compareMapped(pathA, pathB string) (bool, error) {
	ma, err := mmap.MapFile(pathA, false)
	if err != nil {
		return false, err
	}
	defer ma.Close()

	mb, err := mmap.MapFile(pathB, false)
	if err != nil {
		return false, err
	}
	defer mb.Close()

	return bytes.Equal(ma.Data(), mb.Data()), nil
}

func compareChunked(pathA, pathB string) (bool, error) {
	fa, err := os.Open(pathA)
	if err != nil {
		return false, err
	}
	defer fa.Close()

	fb, err := os.Open(pathB)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	bufA := make([]byte, chunkLen)
	bufB := make([]byte, chunkLen)
	for {
		na, errA := io.ReadFull(fa, bufA)
		nb, errB := io.ReadFull(fb, bufB)
		if na != nb {
			return false, nil
		}
		if !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		aDone := errA == io.EOF || errA == io.ErrUnexpectedEOF
		bDone := errB == io.EOF || errB == io.ErrUnexpectedEOF
		if aDone || bDone {
			return aDone == bDone && na == nb, nil
		}
		if errA != nil {
			return false, errA
		}
		if errB != nil {
			return false, errB
		}
	}
}
