package scan

import (
	"archive/tar"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func walkAll(t *testing.T, opts Options, roots ...string) *Enumerator {
	t.Helper()
	opts.Log = zerolog.Nop()
	e := NewEnumerator(opts, nil)
	for _, r := range roots {
		require.NoError(t, e.WalkRoot(r))
	}
	return e
}

func paths(e *Enumerator) map[string]bool {
	out := make(map[string]bool)
	for _, b := range e.Buckets {
		for _, f := range b.Files {
			out[filepath.Base(f.Path)] = true
		}
	}
	return out
}

func TestWalkBasic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "identical content")
	writeFile(t, filepath.Join(dir, "b.txt"), "identical content")
	writeFile(t, filepath.Join(dir, "sub", "c.txt"), "unique content")

	e := walkAll(t, Options{Recurse: true}, dir)
	require.Equal(t, 3, e.Total)

	// Same-size files share one bucket.
	b := e.Buckets[int64(len("identical content"))]
	require.NotNil(t, b)
	require.Equal(t, 2, b.Count())
}

func TestWalkNoRecurse(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "top.txt"), "x")
	writeFile(t, filepath.Join(dir, "sub", "below.txt"), "y")

	e := walkAll(t, Options{Recurse: false}, dir)
	got := paths(e)
	require.True(t, got["top.txt"])
	require.False(t, got["below.txt"])
}

func TestWalkHidden(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".secret"), "hh")
	writeFile(t, filepath.Join(dir, "plain"), "pp")

	e := walkAll(t, Options{Recurse: true}, dir)
	require.False(t, paths(e)[".secret"])

	e = walkAll(t, Options{Recurse: true, ShowHidden: true}, dir)
	require.True(t, paths(e)[".secret"])
}

func TestWalkIgnoreNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "keep.txt"), "kk")
	writeFile(t, filepath.Join(dir, "skipme"), "ss")
	writeFile(t, filepath.Join(dir, "node_modules", "dep.js"), "dd")

	e := walkAll(t, Options{
		Recurse:     true,
		IgnoreNames: map[string]struct{}{"skipme": {}, "node_modules": {}},
	}, dir)
	got := paths(e)
	require.True(t, got["keep.txt"])
	require.False(t, got["skipme"])
	require.False(t, got["dep.js"])
}

func TestWalkRegexFilters(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.log"), "11")
	writeFile(t, filepath.Join(dir, "b.txt"), "22")
	writeFile(t, filepath.Join(dir, "c.txt"), "33")

	e := walkAll(t, Options{
		Recurse:     true,
		IgnoreRegex: regexp.MustCompile(`\.log$`),
	}, dir)
	require.False(t, paths(e)["a.log"])
	require.True(t, paths(e)["b.txt"])

	e = walkAll(t, Options{
		Recurse:        true,
		WhitelistRegex: regexp.MustCompile(`b\.txt$`),
	}, dir)
	got := paths(e)
	require.True(t, got["b.txt"])
	require.False(t, got["c.txt"])
}

func TestWalkSizeGate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tiny"), "x")
	writeFile(t, filepath.Join(dir, "mid"), "xxxxx")
	writeFile(t, filepath.Join(dir, "big"), "xxxxxxxxxx")

	e := walkAll(t, Options{Recurse: true, MinSize: 2, MaxSize: 6}, dir)
	got := paths(e)
	require.False(t, got["tiny"])
	require.True(t, got["mid"])
	require.False(t, got["big"])
}

func TestWalkSymlinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	writeFile(t, target, "content here")
	require.NoError(t, os.Symlink(target, filepath.Join(dir, "link")))
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone"), filepath.Join(dir, "broken")))

	e := walkAll(t, Options{Recurse: true}, dir)
	require.Equal(t, 1, e.Total, "symlinks skipped without follow")

	e = walkAll(t, Options{Recurse: true, FollowSymlinks: true}, dir)
	require.Equal(t, 2, e.Total, "followed link counts, broken link skipped")
}

func TestWalkSymlinkLoop(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sub", "file"), "data")
	require.NoError(t, os.Symlink(dir, filepath.Join(dir, "sub", "loop")))

	// The ancestor (device, inode) chain stops the descent.
	e := walkAll(t, Options{Recurse: true, FollowSymlinks: true}, dir)
	require.Equal(t, 1, e.Total)
}

func TestWalkPriorityPath(t *testing.T) {
	dir := t.TempDir()
	prio := filepath.Join(dir, "prio")
	writeFile(t, filepath.Join(prio, "x"), "zz")
	writeFile(t, filepath.Join(dir, "other", "y"), "zz")

	e := walkAll(t, Options{Recurse: true, PriorityPath: prio}, dir)
	for _, b := range e.Buckets {
		for _, f := range b.Files {
			want := filepath.Base(f.Path) == "x"
			require.Equal(t, want, f.Prioritized, f.Path)
		}
	}
}

func TestWalkRootIsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "single")
	writeFile(t, file, "alone")

	e := walkAll(t, Options{}, file)
	require.Equal(t, 1, e.Total)
}

func TestWalkMissingRootFatal(t *testing.T) {
	opts := Options{Log: zerolog.Nop()}
	e := NewEnumerator(opts, nil)
	require.Error(t, e.WalkRoot(filepath.Join(t.TempDir(), "does-not-exist")))
}

func makeTar(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	tw := tar.NewWriter(f)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err = tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, f.Close())
}

func TestWalkArchiveExpansion(t *testing.T) {
	dir := t.TempDir()
	makeTar(t, filepath.Join(dir, "bundle.tar"), map[string]string{
		"a.txt": "identical content",
		"c.txt": "unique content",
	})

	opts := Options{
		Recurse:      true,
		ArchiveRegex: regexp.MustCompile(DefaultArchivePattern),
		Log:          zerolog.Nop(),
	}
	e := NewEnumerator(opts, &TarExtractor{})
	require.NoError(t, e.WalkRoot(dir))
	require.Equal(t, 2, e.Total)

	var members int
	for _, b := range e.Buckets {
		for _, f := range b.Files {
			if f.IsArchiveMember() {
				members++
				require.Contains(t, f.CacheKey(), ".tar:")
			}
		}
	}
	require.Equal(t, 2, members)
}

func TestWalkNotAnArchive(t *testing.T) {
	dir := t.TempDir()
	// Matches the pattern but has no valid tar header: silently skipped.
	writeFile(t, filepath.Join(dir, "fake.tar"), "definitely not a tarball")

	opts := Options{
		Recurse:      true,
		ArchiveRegex: regexp.MustCompile(DefaultArchivePattern),
		Log:          zerolog.Nop(),
	}
	e := NewEnumerator(opts, &TarExtractor{})
	require.NoError(t, e.WalkRoot(dir))
	require.Equal(t, 0, e.Total)
}
