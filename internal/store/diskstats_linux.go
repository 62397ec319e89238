//go:build linux

package store

import "syscall"

// diskStats returns the available and total bytes on the filesystem holding
// path. Bavail is used rather than Bfree because the service runs unprivileged
// and cannot spend root-reserved blocks.
func diskStats(path string) (avail, total uint64) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, 0
	}
	bsize := uint64(st.Bsize)
	return st.Bavail * bsize, st.Blocks * bsize
}
