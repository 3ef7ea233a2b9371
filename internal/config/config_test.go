package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	opts, err := Parse([]string{
		"-a", "-d", "-f", "-t", "-v",
		"-e", `\.bak$`,
		"-i", "node_modules,.git",
		"-j", "8",
		"-m", "1K",
		"-M", "10M",
		"-p", "/srv/master",
		"-s", ":",
		"-x", "4M",
		"/data", "/backup",
	})
	require.NoError(t, err)

	require.True(t, opts.ShowHidden)
	require.True(t, opts.Sized)
	require.True(t, opts.FollowSymlinks)
	require.True(t, opts.Untar)
	require.True(t, opts.Verbose)
	require.Equal(t, `\.bak$`, opts.IgnoreRegex)
	require.Empty(t, cmp.Diff([]string{"node_modules", ".git"}, opts.IgnoreNames))
	require.Equal(t, 8, opts.Workers)
	require.Equal(t, int64(1024), opts.MinSize)
	require.Equal(t, int64(10<<20), opts.MaxSize)
	require.Equal(t, "/srv/master", opts.PriorityPath)
	require.Equal(t, byte(':'), opts.RecordSep)
	require.Equal(t, int64(4<<20), opts.Threshold)
	require.Empty(t, cmp.Diff([]string{"/data", "/backup"}, opts.Roots))
}

func TestParseDefaults(t *testing.T) {
	opts, err := Parse([]string{"/data"})
	require.NoError(t, err)
	require.True(t, opts.Recurse)
	require.Equal(t, byte('\n'), opts.RecordSep)
	require.Equal(t, int64(DefaultThreshold), opts.Threshold)
	require.GreaterOrEqual(t, opts.Workers, 1)
	require.LessOrEqual(t, opts.Workers, MaxWorkers)
	require.True(t, opts.CacheSweep)
}

func TestParseNoRecurseWins(t *testing.T) {
	opts, err := Parse([]string{"-R", "/data"})
	require.NoError(t, err)
	require.False(t, opts.Recurse)
}

func TestParseRejections(t *testing.T) {
	cases := [][]string{
		{"-j", "0", "/data"},
		{"-j", "999", "/data"},
		{"-m", "nope", "/data"},
		{"-s", "ab", "/data"},
		{"-J", "-I", "/data"}, // JSON + image mode is unsupported
		{"-m", "2M", "-M", "1M", "/data"},
	}
	for _, args := range cases {
		_, err := Parse(args)
		require.ErrorIs(t, err, ErrInvalidArgument, "%v", args)
	}
}
