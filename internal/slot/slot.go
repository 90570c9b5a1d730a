// Package slot converts between wall-clock times and record keys.
//
// A key is a fixed-width "2006-01-02T15:04:05" string rendered in a single
// reference timezone with the offset dropped. Because every key has the same
// width and zone, comparing two keys as strings compares them in time.
package slot

import (
	"fmt"
	"regexp"
	"time"
)

// Layout is the key format. Records written by the board always carry :00 seconds.
const Layout = "2006-01-02T15:04:05"

// DefaultTimezone is the reference zone used when none is configured.
const DefaultTimezone = "America/Los_Angeles"

var keyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}$`)

// Valid reports whether s has the canonical key shape.
func Valid(s string) bool {
	return keyPattern.MatchString(s)
}

// For returns the minute-resolution key of t in loc.
func For(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02T15:04") + ":00"
}

// Now returns the second-resolution key used as the resolution boundary:
// a record is active once its key is <= Now(t).
func Now(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(Layout)
}

// Parse turns a key back into an instant, interpreting it in loc.
func Parse(key string, loc *time.Location) (time.Time, error) {
	if !Valid(key) {
		return time.Time{}, fmt.Errorf("malformed key %q", key)
	}
	t, err := time.ParseInLocation(Layout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse key %q: %w", key, err)
	}
	return t, nil
}

// dstShifts are the offset changes seen in the tz database.
var dstShifts = []time.Duration{30 * time.Minute, time.Hour, 2 * time.Hour}

// ParseLatest is Parse, except that a key naming a wall-clock time that
// occurs twice (the repeated hour when clocks fall back) resolves to the
// later of the two instants.
func ParseLatest(key string, loc *time.Location) (time.Time, error) {
	t, err := Parse(key, loc)
	if err != nil {
		return time.Time{}, err
	}
	latest := t
	for _, d := range dstShifts {
		if c := t.Add(d); c.After(latest) && Now(c, loc) == key {
			latest = c
		}
	}
	return latest, nil
}

// LoadLocation resolves a timezone name, defaulting to DefaultTimezone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}
