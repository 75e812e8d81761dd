package command

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTimeout is returned for a timeout ParseTimeout cannot read.
var ErrInvalidTimeout = errors.New("invalid timeout")

const (
	day  = 24 * time.Hour
	week = 7 * day
	year = 365 * day
)

var timeoutUnits = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': day,
	'w': week,
	'y': year,
}

// ParseTimeout reads a positive integer followed by one unit letter:
// s, m, h, d, w or y. "90m" and "2d" are valid; "1h30m" is not.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeout, s)
	}
	unit, ok := timeoutUnits[s[len(s)-1]]
	if !ok {
		return 0, fmt.Errorf("%w: %q has no unit (use s, m, h, d, w or y)", ErrInvalidTimeout, s)
	}
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q is not a positive amount", ErrInvalidTimeout, s)
	}
	if n > int64(math.MaxInt64/unit) {
		return 0, fmt.Errorf("%w: %q is too long", ErrInvalidTimeout, s)
	}
	return time.Duration(n) * unit, nil
}
