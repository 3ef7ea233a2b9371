package scan

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNotArchive marks a file that matched the archive pattern but yields no
// valid header; such files are silently skipped.
var ErrNotArchive = errors.New("not a recognizable archive")

// ArchiveError reports an archive that broke after at least one valid
// header. This is a hard error: the walk aborts.
type ArchiveError struct {
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("malformed archive %s: %v", e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

// Member is one logical file inside an archive.
type Member struct {
	Name    string
	Size    int64
	MtimeUs int64
}

// ArchiveExtractor lists archive members and materialises them into scratch
// files for fingerprinting. The engine consumes it as an opaque capability.
type ArchiveExtractor interface {
	// Members enumerates regular-file members. A file with no valid header
	// returns ErrNotArchive; corruption after the first header returns an
	// *ArchiveError.
	Members(path string) ([]Member, error)

	// Extract copies a member into a scratch file and returns its path.
	// The caller removes the scratch file when done.
	Extract(path, member string) (string, error)
}

// TarExtractor reads tar archives, transparently gunzipping .tar.gz/.tgz.
type TarExtractor struct {
	// ScratchDir receives extracted members; empty means the OS temp dir.
	ScratchDir string
}

// DefaultArchivePattern matches the archive types TarExtractor handles.
const DefaultArchivePattern = `\.(tar|tar\.gz|tgz)$`

func (x *TarExtractor) open(path string) (*tar.Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if strings.HasSuffix(path, ".gz") || strings.HasSuffix(path, ".tgz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, ErrNotArchive
		}
		return tar.NewReader(gz), closerPair{gz, f}, nil
	}
	return tar.NewReader(f), f, nil
}

type closerPair struct {
	a, b io.Closer
}

func (c closerPair) Close() error {
	err := c.a.Close()
	if err2 := c.b.Close(); err == nil {
		err = err2
	}
	return err
}

// Members implements ArchiveExtractor.
func (x *TarExtractor) Members(path string) ([]Member, error) {
	tr, closer, err := x.open(path)
	if err != nil {
		if errors.Is(err, ErrNotArchive) {
			return nil, ErrNotArchive
		}
		return nil, err
	}
	defer closer.Close()

	var members []Member
	seen := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if seen == 0 {
				return nil, ErrNotArchive
			}
			return nil, &ArchiveError{Path: path, Err: err}
		}
		seen++
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		members = append(members, Member{
			Name:    hdr.Name,
			Size:    hdr.Size,
			MtimeUs: hdr.ModTime.UnixMicro(),
		})
	}
	return members, nil
}

// Extract implements ArchiveExtractor.
func (x *TarExtractor) Extract(path, member string) (string, error) {
	tr, closer, err := x.open(path)
	if err != nil {
		return "", err
	}
	defer closer.Close()

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", fmt.Errorf("member %s not found in %s", member, path)
		}
		if err != nil {
			return "", &ArchiveError{Path: path, Err: err}
		}
		if hdr.Name != member || hdr.Typeflag != tar.TypeReg {
			continue
		}

		scratch, err := os.CreateTemp(x.ScratchDir, "dupfind-*")
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(scratch, tr); err != nil {
			scratch.Close()
			os.Remove(scratch.Name())
			return "", err
		}
		if err := scratch.Close(); err != nil {
			os.Remove(scratch.Name())
			return "", err
		}
		return scratch.Name(), nil
	}
}
