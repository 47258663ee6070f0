package report

import "golang.org/x/sys/unix"

// MaxRSS returns the peak resident set size of this process in bytes.
func MaxRSS() uint64 {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	// Linux reports kilobytes.
	return uint64(ru.Maxrss) * 1024
}
