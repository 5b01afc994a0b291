// Package diskspace probes free space on the filesystem backing the
// continuity store.
package diskspace

import "golang.org/x/sys/unix"

// MB is one megabyte in bytes, used when comparing against the configured
// thresholds.
const MB = 1024 * 1024

// FreeMB returns the free space at path in megabytes. ok is false when the
// platform does not expose free-space statistics, in which case callers
// should treat the probe as passing.
func FreeMB(path string) (mb uint64, ok bool) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, false
	}
	free := st.Bavail * uint64(st.Bsize)
	return free / MB, true
}
