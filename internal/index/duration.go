package index

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Sortable duration encoding: "P" followed by 19 zero-padded digits of the
// nanosecond count for non-negative values, "N" followed by 19 digits of
// (d - MinInt64) for negative values. Byte order of the encoding matches the
// numeric order of the durations.
const (
	encodedDurationLen = 20
	positivePrefix     = 'P'
	negativePrefix     = 'N'
)

// EncodeDuration returns the sortable string form of d.
func EncodeDuration(d time.Duration) string {
	if d >= 0 {
		return fmt.Sprintf("%c%019d", positivePrefix, int64(d))
	}
	return fmt.Sprintf("%c%019d", negativePrefix, int64(d)+math.MaxInt64+1)
}

// DecodeDuration parses a string produced by EncodeDuration.
func DecodeDuration(s string) (time.Duration, error) {
	if len(s) != encodedDurationLen || (s[0] != positivePrefix && s[0] != negativePrefix) {
		return 0, fmt.Errorf("not an encoded duration: %q", s)
	}
	n, err := strconv.ParseInt(s[1:], 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("not an encoded duration: %q", s)
	}
	if s[0] == positivePrefix {
		return time.Duration(n), nil
	}
	return time.Duration(n - math.MaxInt64 - 1), nil
}

// timeSpanPattern matches [-][d.]hh:mm[:ss[.fffffff]].
var timeSpanPattern = regexp.MustCompile(`^(-)?(?:(\d+)\.)?(\d{1,2}):(\d{2})(?::(\d{2})(?:\.(\d{1,7}))?)?$`)

const maxDays = int64(math.MaxInt64 / int64(24*time.Hour))

// ParseTimeSpan parses the day/clock form "[-][d.]hh:mm[:ss[.fffffff]]".
// The fraction is in units of up to seven digits (100ns ticks).
func ParseTimeSpan(s string) (time.Duration, error) {
	m := timeSpanPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid time span %q", s)
	}

	var days int64
	if m[2] != "" {
		var err error
		days, err = strconv.ParseInt(m[2], 10, 64)
		if err != nil || days >= maxDays {
			return 0, fmt.Errorf("time span %q out of range", s)
		}
	}
	hours, _ := strconv.Atoi(m[3])
	minutes, _ := strconv.Atoi(m[4])
	var seconds int
	if m[5] != "" {
		seconds, _ = strconv.Atoi(m[5])
	}
	if hours > 23 || minutes > 59 || seconds > 59 {
		return 0, fmt.Errorf("invalid time span %q", s)
	}

	var frac time.Duration
	if m[6] != "" {
		digits := m[6] + strings.Repeat("0", 7-len(m[6]))
		ticks, _ := strconv.ParseInt(digits, 10, 64)
		frac = time.Duration(ticks) * 100
	}

	d := time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		frac
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}

// FormatTimeSpan renders d as "[-][d.]hh:mm:ss[.fffffff]".
func FormatTimeSpan(d time.Duration) string {
	var b strings.Builder
	u := uint64(d)
	if d < 0 {
		b.WriteByte('-')
		u = -u
	}
	day := uint64(24 * time.Hour)
	if days := u / day; days > 0 {
		fmt.Fprintf(&b, "%d.", days)
	}
	u %= day
	h := u / uint64(time.Hour)
	u %= uint64(time.Hour)
	m := u / uint64(time.Minute)
	u %= uint64(time.Minute)
	sec := u / uint64(time.Second)
	u %= uint64(time.Second)
	fmt.Fprintf(&b, "%02d:%02d:%02d", h, m, sec)
	if ticks := u / 100; ticks > 0 {
		fmt.Fprintf(&b, ".%07d", ticks)
	}
	return b.String()
}

// ParseDuration accepts the sortable encoding, the time span form and Go
// duration strings, in that order.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := DecodeDuration(s); err == nil {
		return d, nil
	}
	if d, err := ParseTimeSpan(s); err == nil {
		return d, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	return 0, fmt.Errorf("cannot parse %q as a duration", s)
}
