// Package dialer turns the contact pool into a bounded stream of outbound
// call attempts, one tick at a time.
package dialer

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// InWindow reports whether the local time of day falls inside the
// half-open window [start, end). A window whose end precedes its start
// wraps midnight: [22:00, 06:00) admits 23:00 and 05:00 but not 12:00.
// Missing bounds mean the campaign dials around the clock.
func InWindow(now time.Time, start, end string) bool {
	if start == "" || end == "" {
		return true
	}

	startMin, err := parseClock(start)
	if err != nil {
		return false
	}
	endMin, err := parseClock(end)
	if err != nil {
		return false
	}

	current := now.Hour()*60 + now.Minute()

	if startMin <= endMin {
		return current >= startMin && current < endMin
	}
	return current >= startMin || current < endMin
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(value string) (int, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hours*60 + minutes, nil
}
