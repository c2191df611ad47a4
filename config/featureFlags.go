package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// CycleCheckIncludeReversed controls whether reversed genealogy links still
// participate in cycle detection. Default: reversed links are excluded, so a
// reversed lineage can be re-linked in the opposite direction.
//
// Set via env:
// - CYCLE_CHECK_INCLUDE_REVERSED=true
func CycleCheckIncludeReversed() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("CYCLE_CHECK_INCLUDE_REVERSED")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// ReservationUndoWindow is how long an unreleased reservation stays active
// before it auto-expires and its quantity becomes allocatable again.
//
// Set via env:
// - RESERVATION_UNDO_WINDOW_SECONDS (default 300)
func ReservationUndoWindow() time.Duration {
	v := strings.TrimSpace(os.Getenv("RESERVATION_UNDO_WINDOW_SECONDS"))
	if v == "" {
		return 5 * time.Minute
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(n) * time.Second
}

// TraceMaxDepthCap is the hard ceiling on trace depth regardless of what the
// caller asks for.
//
// Set via env:
// - TRACE_MAX_DEPTH (default 50)
func TraceMaxDepthCap() int {
	v := strings.TrimSpace(os.Getenv("TRACE_MAX_DEPTH"))
	if v == "" {
		return 50
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 50
	}
	return n
}
