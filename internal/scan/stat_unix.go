//go:build unix

package scan

import (
	"io/fs"
	"os"
	"syscall"
)

// sysInfo is the portable subset of stat the enumerator needs: identity for
// loop detection, ownership for the permission gate, timestamps for the
// cache key.
type sysInfo struct {
	Dev     uint64
	Ino     uint64
	Uid     uint32
	Gid     uint32
	MtimeUs int64
	CtimeUs int64
}

func sysStat(info os.FileInfo) sysInfo {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return sysInfo{MtimeUs: info.ModTime().UnixMicro()}
	}
	mtime, ctime := statTimes(st)
	return sysInfo{
		Dev:     uint64(st.Dev),
		Ino:     uint64(st.Ino),
		Uid:     st.Uid,
		Gid:     st.Gid,
		MtimeUs: mtime,
		CtimeUs: ctime,
	}
}

// accessChecker evaluates the effective user's permission bits against an
// entry's uid/gid/other bits.
type accessChecker struct {
	euid   int
	egid   int
	groups map[uint32]struct{}
}

func newAccessChecker() *accessChecker {
	c := &accessChecker{
		euid:   os.Geteuid(),
		egid:   os.Getegid(),
		groups: make(map[uint32]struct{}),
	}
	c.groups[uint32(c.egid)] = struct{}{}
	if gids, err := os.Getgroups(); err == nil {
		for _, g := range gids {
			c.groups[uint32(g)] = struct{}{}
		}
	}
	return c
}

// canAccess reports whether the effective user may read the entry, and, when
// wantExec is set (directories), also search it.
func (c *accessChecker) canAccess(si sysInfo, mode fs.FileMode, wantExec bool) bool {
	if c.euid == 0 {
		return true
	}

	perm := uint32(mode.Perm())
	var shift uint
	switch {
	case uint32(c.euid) == si.Uid:
		shift = 6
	default:
		if _, ok := c.groups[si.Gid]; ok {
			shift = 3
		} else {
			shift = 0
		}
	}

	bits := (perm >> shift) & 7
	if bits&4 == 0 {
		return false
	}
	if wantExec && bits&1 == 0 {
		return false
	}
	return true
}
