package timeutil

import "time"

// Now returns the current time truncated to millisecond precision, the
// resolution document stores keep for dates.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
