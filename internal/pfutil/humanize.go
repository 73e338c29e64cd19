package pfutil

import (
	"fmt"
	"strings"
	"time"
)

// TruncateDuration truncates the provided duration to a more human-friendly
// form, depending on its magnitude. For example, a duration over 1s is
// truncated at 100ms, a duration over 1m is truncated at 1s, and so on.
func TruncateDuration(d time.Duration) time.Duration {
	switch {
	case d >= time.Hour:
		return d.Truncate(time.Minute)
	case d >= time.Minute:
		return d.Truncate(time.Second)
	case d >= time.Second:
		return d.Truncate(100 * time.Millisecond)
	case d >= 10*time.Millisecond:
		return d.Truncate(time.Millisecond)
	case d >= time.Millisecond:
		return d.Truncate(100 * time.Microsecond)
	case d >= time.Microsecond:
		return d.Truncate(time.Microsecond)
	default:
		return d
	}
}

// HumanizeDuration truncates the duration and returns a human-friendly string
// representation.
func HumanizeDuration(d time.Duration) string {
	dd := TruncateDuration(d)
	ds := dd.String()

	if dd >= time.Hour && strings.HasSuffix(ds, "0s") {
		ds = strings.TrimSuffix(ds, "0s")
	}

	return ds
}

// HumanizeBytes returns a human-friendly string representation of n, which is
// assumed to be bytes. KB is 1024 bytes, MB is 1048576 bytes, and GB is used
// for anything from 1024MB, since trace buffers can be configured that large.
func HumanizeBytes[T interface {
	~int | ~uint | ~int64 | ~uint64 | ~uint32
}](n T) string {
	var (
		kib = float64(1024)
		mib = 1024 * kib
		gib = 1024 * mib
		fn  = float64(n)
	)
	switch {
	case fn < kib:
		return fmt.Sprintf("%.0fB", fn)
	case fn < 100*kib:
		return fmt.Sprintf("%.1fKB", fn/kib)
	case fn < mib:
		return fmt.Sprintf("%.0fKB", fn/kib)
	case fn < 100*mib:
		return fmt.Sprintf("%.1fMB", fn/mib)
	case fn < gib:
		return fmt.Sprintf("%.0fMB", fn/mib)
	default:
		return fmt.Sprintf("%.1fGB", fn/gib)
	}
}
