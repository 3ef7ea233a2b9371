package engine

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/plorenz/dupfind/internal/config"
	"github.com/plorenz/dupfind/internal/metrics"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func runEngine(t *testing.T, opts *config.Options) (string, int, *metrics.Metrics) {
	t.Helper()
	var out, errw bytes.Buffer
	m := metrics.New()
	e := &Engine{
		Opts:    opts,
		Log:     zerolog.Nop(),
		Metrics: m,
		Out:     &out,
		Errw:    &errw,
	}
	code := e.Run()
	return out.String(), code, m
}

// groupsOf parses the text reporter's output into sorted path groups.
func groupsOf(output string) [][]string {
	var groups [][]string
	for _, block := range strings.Split(strings.TrimSpace(output), "\n\n") {
		if block == "" {
			continue
		}
		lines := strings.Split(strings.TrimSpace(block), "\n")
		sort.Strings(lines)
		groups = append(groups, lines)
	}
	return groups
}

func baseOpts(roots ...string) *config.Options {
	opts := config.Default()
	opts.Roots = roots
	return opts
}

// Three identical files and one unique: exactly one group, the unique file
// absent.
func TestThreeIdenticalsOneUnique(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), "identical content")
	writeFile(t, filepath.Join(dir, "b"), "identical content")
	writeFile(t, filepath.Join(dir, "c"), "unique content")
	writeFile(t, filepath.Join(dir, "d"), "identical content")

	out, code, _ := runEngine(t, baseOpts(dir))
	require.Equal(t, 0, code)

	groups := groupsOf(out)
	require.Len(t, groups, 1)
	require.Equal(t, []string{
		filepath.Join(dir, "a"),
		filepath.Join(dir, "b"),
		filepath.Join(dir, "d"),
	}, groups[0])
	require.NotContains(t, out, filepath.Join(dir, "c"))
}

func TestTwoFileBucketDirectVerify(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "x"), "pair content")
	writeFile(t, filepath.Join(dir, "y"), "pair content")
	// A second 2-file bucket whose members differ: verified directly and
	// dropped.
	writeFile(t, filepath.Join(dir, "w1"), "same length, other bytes A")
	writeFile(t, filepath.Join(dir, "w2"), "same length, other bytes B")

	out, code, _ := runEngine(t, baseOpts(dir))
	require.Equal(t, 0, code)

	groups := groupsOf(out)
	require.Len(t, groups, 1)
	require.Equal(t, []string{filepath.Join(dir, "x"), filepath.Join(dir, "y")}, groups[0])
}

func TestZeroSizeFilesAreEqual(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "e1"), "")
	writeFile(t, filepath.Join(dir, "e2"), "")
	writeFile(t, filepath.Join(dir, "e3"), "")

	out, code, _ := runEngine(t, baseOpts(dir))
	require.Equal(t, 0, code)

	groups := groupsOf(out)
	require.Len(t, groups, 1)
	require.Len(t, groups[0], 3)
}

func TestArchiveExpansion(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "bundle.tar")

	f, err := os.Create(archive)
	require.NoError(t, err)
	tw := tar.NewWriter(f)
	for name, content := range map[string]string{
		"a.txt": "identical content",
		"b.txt": "identical content",
		"c.txt": "unique content",
	} {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0644, Size: int64(len(content)), Typeflag: tar.TypeReg,
		}))
		_, err = tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, f.Close())

	writeFile(t, filepath.Join(dir, "d.txt"), "identical content")

	opts := baseOpts(dir)
	opts.Untar = true
	out, code, _ := runEngine(t, opts)
	require.Equal(t, 0, code)

	groups := groupsOf(out)
	require.Len(t, groups, 1)
	require.Equal(t, []string{
		archive + ":a.txt",
		archive + ":b.txt",
		filepath.Join(dir, "d.txt"),
	}, groups[0])
	require.NotContains(t, out, "c.txt")
}

// Runs at -j 1 and -j 4 must produce the same groups.
func TestThreadedEquivalence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "file1"), "group one bytes")
	writeFile(t, filepath.Join(dir, "file2"), "group one bytes")
	writeFile(t, filepath.Join(dir, "file3"), "group one bytes")
	writeFile(t, filepath.Join(dir, "file4"), "second group!!!")
	writeFile(t, filepath.Join(dir, "file5"), "second group!!!")

	collect := func(workers int) [][]string {
		opts := baseOpts(dir)
		opts.Workers = workers
		out, code, _ := runEngine(t, opts)
		require.Equal(t, 0, code)
		groups := groupsOf(out)
		sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
		return groups
	}

	require.Equal(t, collect(1), collect(4))
}

// The file under the priority path appears last in its group.
func TestPriorityPathAnchoring(t *testing.T) {
	dir := t.TempDir()
	prio := filepath.Join(dir, "master")
	writeFile(t, filepath.Join(prio, "X"), "anchored content")
	writeFile(t, filepath.Join(dir, "copies", "Y"), "anchored content")

	opts := baseOpts(dir)
	opts.PriorityPath = prio
	out, code, _ := runEngine(t, opts)
	require.Equal(t, 0, code)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, filepath.Join(dir, "copies", "Y"), lines[0])
	require.Equal(t, filepath.Join(prio, "X"), lines[1])
}

func TestFewerThanTwoCandidates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "only"), "alone")

	var out, errw bytes.Buffer
	e := &Engine{
		Opts:    baseOpts(dir),
		Log:     zerolog.Nop(),
		Metrics: metrics.New(),
		Out:     &out,
		Errw:    &errw,
	}
	require.Equal(t, 1, e.Run())
	require.Contains(t, errw.String(), "submit at least two files")
}

func TestJSONReporter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), "same bytes")
	writeFile(t, filepath.Join(dir, "b"), "same bytes")

	opts := baseOpts(dir)
	opts.JSON = true
	out, code, _ := runEngine(t, opts)
	require.Equal(t, 0, code)

	var groups []struct {
		Size  int64    `json:"size"`
		Files []string `json:"files"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &groups))
	require.Len(t, groups, 1)
	require.Equal(t, int64(len("same bytes")), groups[0].Size)
	require.Len(t, groups[0].Files, 2)
}

func TestDryRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), "same bytes")
	writeFile(t, filepath.Join(dir, "b"), "same bytes")

	opts := baseOpts(dir)
	opts.DryRun = true
	out, code, _ := runEngine(t, opts)
	require.Equal(t, 0, code)
	require.Contains(t, out, "dry run")
	require.NotContains(t, out, filepath.Join(dir, "a"))
}

func TestImageModeNotBundled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), "x")
	writeFile(t, filepath.Join(dir, "b"), "x")

	opts := baseOpts(dir)
	opts.ImageMode = true
	_, code, _ := runEngine(t, opts)
	require.Equal(t, 1, code)
}

// A second run over an unchanged tree must be answered entirely from the
// cache; touching one file invalidates exactly that entry.
func TestCacheReuseAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"a", "b", "c"} {
		writeFile(t, filepath.Join(dir, n), "cacheable content here")
	}
	cachePath := filepath.Join(t.TempDir(), "cache.db")

	opts := baseOpts(dir)
	opts.CachePath = cachePath
	opts.CacheSweep = false

	_, code, m1 := runEngine(t, opts)
	require.Equal(t, 0, code)
	require.Equal(t, int64(0), m1.Hits())
	require.Equal(t, int64(3), m1.Misses())

	_, code, m2 := runEngine(t, opts)
	require.Equal(t, 0, code)
	require.Equal(t, int64(3), m2.Hits())
	require.Equal(t, int64(0), m2.Misses())
	rate, ok := m2.CacheHitRate()
	require.True(t, ok)
	require.Equal(t, 1.0, rate)

	// Move one file's mtime back a day without touching its content: exactly
	// one entry goes stale.
	past := time.Now().Add(-24 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "a"), past, past))
	_, code, m3 := runEngine(t, opts)
	require.Equal(t, 0, code)
	require.Equal(t, int64(2), m3.Hits())
	require.Equal(t, int64(1), m3.Misses())
}
