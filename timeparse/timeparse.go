// Package timeparse turns free-form time expressions ("in 10 minutes",
// "tomorrow at 3pm", "2024-10-15 14:00") into absolute instants.
//
// Common shapes are handled directly so their results are exact; anything
// else is handed to github.com/olebedev/when.
package timeparse

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// ErrUnparseable is returned when no rule recognizes the input.
var ErrUnparseable = errors.New("cannot parse time")

var (
	reIn      = regexp.MustCompile(`^(?:in\s+)?(\d+|an?)\s*(s|secs?|seconds?|m|mins?|minutes?|h|hrs?|hours?|d|days?|w|wks?|weeks?)(?:\s+from\s+now)?$`)
	reAgo     = regexp.MustCompile(`^(\d+|an?)\s*(s|secs?|seconds?|m|mins?|minutes?|h|hrs?|hours?|d|days?|w|wks?|weeks?)\s+ago$`)
	reDay     = regexp.MustCompile(`^(yesterday|today|tonight|tomorrow)(?:\s+(?:at\s+)?(.+))?$`)
	re24      = regexp.MustCompile(`^(?:at\s+)?(\d{1,2}):(\d{2})$`)
	re12      = regexp.MustCompile(`^(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm)$`)
	absLayout = []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	}
)

// Parser resolves expressions relative to a reference instant.
type Parser struct {
	// DefaultHour is used for day words without a time ("tomorrow"). Defaults to 9.
	DefaultHour int

	w *when.Parser
}

// New returns a Parser with English and common rules loaded into the fallback.
func New() *Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Parser{DefaultHour: 9, w: w}
}

var defaultParser = New()

// Resolve parses raw with the package default parser.
func Resolve(raw string, ref time.Time) (time.Time, error) {
	return defaultParser.Resolve(raw, ref)
}

// Resolve returns the instant raw describes, interpreted in ref's location.
// The result may lie in the past; callers decide whether that is acceptable.
func (p *Parser) Resolve(raw string, ref time.Time) (time.Time, error) {
	input := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	if input == "" {
		return time.Time{}, fmt.Errorf("%w: empty input", ErrUnparseable)
	}
	if input == "now" {
		return ref, nil
	}

	for _, layout := range absLayout {
		if t, err := time.ParseInLocation(layout, strings.ToUpper(input), ref.Location()); err == nil {
			return t, nil
		}
	}
	for _, rule := range []func(string, time.Time) (time.Time, bool, error){relative, p.dayWord} {
		t, ok, err := rule(input, ref)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q: %v", ErrUnparseable, raw, err)
		}
		if ok {
			return t, nil
		}
	}
	if h, m, ok := clock(input); ok {
		t := time.Date(ref.Year(), ref.Month(), ref.Day(), h, m, 0, 0, ref.Location())
		if !t.After(ref) {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}
	if re24.MatchString(input) || re12.MatchString(input) {
		return time.Time{}, fmt.Errorf("%w: %q is not a valid clock time", ErrUnparseable, raw)
	}

	if p.w != nil {
		r, err := p.w.Parse(input, ref)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q: %v", ErrUnparseable, raw, err)
		}
		if r != nil {
			return r.Time, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseable, raw)
}

func relative(input string, ref time.Time) (time.Time, bool, error) {
	sign := time.Duration(1)
	m := reAgo.FindStringSubmatch(input)
	if m != nil {
		sign = -1
	} else if m = reIn.FindStringSubmatch(input); m == nil {
		return time.Time{}, false, nil
	}
	n, err := count(m[1])
	if err != nil {
		return time.Time{}, false, err
	}
	d, err := span(m[2], n)
	if err != nil {
		return time.Time{}, false, err
	}
	return ref.Add(sign * d), true, nil
}

var errTooFar = errors.New("offset out of range")

func count(s string) (int64, error) {
	if s == "a" || s == "an" {
		return 1, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errTooFar
	}
	return n, nil
}

// span returns n units, failing when the result does not fit in a Duration.
func span(u string, n int64) (time.Duration, error) {
	per := time.Minute
	switch {
	case strings.HasPrefix(u, "s"):
		per = time.Second
	case strings.HasPrefix(u, "h"):
		per = time.Hour
	case strings.HasPrefix(u, "d"):
		per = 24 * time.Hour
	case strings.HasPrefix(u, "w"):
		per = 7 * 24 * time.Hour
	}
	if n > math.MaxInt64/int64(per) {
		return 0, errTooFar
	}
	return time.Duration(n) * per, nil
}

// dayWord handles "yesterday", "today", "tonight", "tomorrow", each optionally
// followed by a clock time. A bare "yesterday" keeps ref's clock time.
func (p *Parser) dayWord(input string, ref time.Time) (time.Time, bool, error) {
	m := reDay.FindStringSubmatch(input)
	if m == nil {
		return time.Time{}, false, nil
	}
	offset := 0
	switch m[1] {
	case "yesterday":
		offset = -1
	case "tomorrow":
		offset = 1
	}
	if m[2] == "" {
		switch m[1] {
		case "yesterday":
			return ref.AddDate(0, 0, -1), true, nil
		case "today":
			return ref, true, nil
		case "tonight":
			return time.Date(ref.Year(), ref.Month(), ref.Day(), 20, 0, 0, 0, ref.Location()), true, nil
		}
		return time.Date(ref.Year(), ref.Month(), ref.Day()+1, p.DefaultHour, 0, 0, 0, ref.Location()), true, nil
	}
	h, min, ok := clock(m[2])
	if !ok {
		// the day word matched, so the trailing text must be a clock time
		return time.Time{}, false, fmt.Errorf("%q is not a valid clock time", m[2])
	}
	if m[1] == "tonight" && h < 12 {
		h += 12
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day()+offset, h, min, 0, 0, ref.Location()), true, nil
}

// clock parses "15:30", "3pm" and "3:30pm".
func clock(s string) (hour, minute int, ok bool) {
	if m := re24.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if h <= 23 && mm <= 59 {
			return h, mm, true
		}
		return 0, 0, false
	}
	if m := re12.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm := 0
		if m[2] != "" {
			mm, _ = strconv.Atoi(m[2])
		}
		if h < 1 || h > 12 || mm > 59 {
			return 0, 0, false
		}
		if m[3] == "pm" && h != 12 {
			h += 12
		} else if m[3] == "am" && h == 12 {
			h = 0
		}
		return h, mm, true
	}
	return 0, 0, false
}
