//go:build linux || darwin || freebsd || netbsd || openbsd

package secret

import "golang.org/x/sys/unix"

// lock pins b in memory. Failure (RLIMIT_MEMLOCK, missing capability) is not
// fatal; the buffer is still wiped on release.
func lock(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	return unix.Mlock(b) == nil
}

func unlock(b []byte) {
	if len(b) > 0 {
		_ = unix.Munlock(b)
	}
}
