//go:build !linux && !darwin

package executor

import "errors"

// raiseFDLimit is unsupported on this platform; the OS default applies.
func raiseFDLimit(max uint64) (uint64, error) {
	return 0, errors.New("raising the open-file limit is not supported on this platform")
}
