//go:build !linux && !darwin

package report

// MaxRSS is not available on this platform.
func MaxRSS() uint64 { return 0 }
