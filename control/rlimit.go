package control

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// raiseFDLimit lifts the soft RLIMIT_NOFILE of this process (inherited
// by the spawned daemon) up to floor. It returns an error when the
// resulting limit is still below the floor; the caller treats that as a
// warning, not a rejection.
func raiseFDLimit(floor uint64) error {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return fmt.Errorf("failed to read open-file limit: %w", err)
	}

	if limit.Cur >= floor {
		return nil
	}

	want := floor
	if want > limit.Max {
		want = limit.Max
	}

	limit.Cur = want
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return fmt.Errorf("failed to raise open-file limit to %d: %w", want, err)
	}

	if want < floor {
		return fmt.Errorf("open-file limit capped at hard limit %d, below requested floor %d", want, floor)
	}

	return nil
}
