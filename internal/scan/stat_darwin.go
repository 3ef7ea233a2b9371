//go:build darwin

package scan

import "syscall"

func statTimes(st *syscall.Stat_t) (mtimeUs, ctimeUs int64) {
	mtimeUs = st.Mtimespec.Sec*1e6 + st.Mtimespec.Nsec/1e3
	ctimeUs = st.Ctimespec.Sec*1e6 + st.Ctimespec.Nsec/1e3
	return
}
