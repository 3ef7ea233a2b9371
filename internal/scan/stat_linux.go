//go:build linux

package scan

import "syscall"

func statTimes(st *syscall.Stat_t) (mtimeUs, ctimeUs int64) {
	mtimeUs = st.Mtim.Sec*1e6 + st.Mtim.Nsec/1e3
	ctimeUs = st.Ctim.Sec*1e6 + st.Ctim.Nsec/1e3
	return
}
