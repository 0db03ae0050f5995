// Package gtfstime normalizes GTFS service times.
//
// GTFS encodes times relative to "noon minus 12h" on the service day, so
// trips running past midnight carry hour values of 24 and above
// (25:35:00 means 01:35:00 on the following day). Database time columns
// cannot store such values, so they are split into a clock time plus a
// whole-day offset.
package gtfstime

import (
	"fmt"
	"strconv"
	"strings"
)

// MalformedTimeError reports a service time value that does not match
// H:MM:SS / HH:MM:SS or has out-of-range minute or second fields.
type MalformedTimeError struct {
	Value  string
	Reason string
}

func (e *MalformedTimeError) Error() string {
	return fmt.Sprintf("malformed GTFS time %q: %s", e.Value, e.Reason)
}

// Normalized is a service time folded into a single service day.
type Normalized struct {
	Hour      int
	Minute    int
	Second    int
	DayOffset int
}

// Clock renders the time-of-day as HH:MM:SS.
func (n Normalized) Clock() string {
	return fmt.Sprintf("%02d:%02d:%02d", n.Hour, n.Minute, n.Second)
}

// Normalize parses a GTFS service time and folds hour overflow into a
// day offset. "25:35:00" becomes 01:35:00 with offset 1; "24:00:00"
// becomes 00:00:00 with offset 1. Times already below 24h pass through
// with offset 0.
func Normalize(value string) (Normalized, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return Normalized{}, &MalformedTimeError{Value: value, Reason: "empty"}
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Normalized{}, &MalformedTimeError{Value: value, Reason: "expected H:MM:SS"}
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 {
		return Normalized{}, &MalformedTimeError{Value: value, Reason: "invalid hour"}
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return Normalized{}, &MalformedTimeError{Value: value, Reason: "invalid minute"}
	}
	second, err := strconv.Atoi(parts[2])
	if err != nil || second < 0 || second > 59 {
		return Normalized{}, &MalformedTimeError{Value: value, Reason: "invalid second"}
	}

	return Normalized{
		Hour:      hour % 24,
		Minute:    minute,
		Second:    second,
		DayOffset: hour / 24,
	}, nil
}
