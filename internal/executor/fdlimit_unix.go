//go:build linux || darwin

package executor

import "golang.org/x/sys/unix"

// raiseFDLimit raises the soft open-file limit towards max, capped at the hard
// limit. The limit is never lowered. Returns the soft limit now in effect.
func raiseFDLimit(max uint64) (uint64, error) {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return 0, err
	}
	if limit.Cur >= max {
		return limit.Cur, nil
	}
	if max > limit.Max {
		max = limit.Max
	}
	limit.Cur = max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return 0, err
	}
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return 0, err
	}
	return limit.Cur, nil
}
