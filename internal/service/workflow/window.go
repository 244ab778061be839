package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/cronexpr"
)

// Window is a recurring maintenance window.
//
// Accepted forms:
//
//	""  or "always"                 always open
//	"never"                         never open
//	"22:00-04:00"                   daily, UTC, may wrap midnight
//	"0 2 * * SAT for 4h"            opens at each cron firing for the duration
type Window struct {
	always bool
	never  bool

	start, end time.Duration // offsets from midnight UTC

	cron     *cronexpr.Expression
	duration time.Duration
}

// ParseWindow parses a maintenance window description.
func ParseWindow(s string) (Window, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "always":
		return Window{always: true}, nil
	case "never":
		return Window{never: true}, nil
	}

	if expr, dur, ok := strings.Cut(s, " for "); ok {
		c, err := cronexpr.Parse(strings.TrimSpace(expr))
		if err != nil {
			return Window{}, fmt.Errorf("maintenance window %q: %w", s, err)
		}
		d, err := time.ParseDuration(strings.TrimSpace(dur))
		if err != nil || d <= 0 {
			return Window{}, fmt.Errorf("maintenance window %q: bad duration", s)
		}
		return Window{cron: c, duration: d}, nil
	}

	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return Window{}, fmt.Errorf("maintenance window %q: want HH:MM-HH:MM or \"<cron> for <duration>\"", s)
	}
	start, err := clock(from)
	if err != nil {
		return Window{}, fmt.Errorf("maintenance window %q: %w", s, err)
	}
	end, err := clock(to)
	if err != nil {
		return Window{}, fmt.Errorf("maintenance window %q: %w", s, err)
	}
	return Window{start: start, end: end}, nil
}

func clock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	switch {
	case w.always:
		return true
	case w.never:
		return false
	case w.cron != nil:
		// The first firing after t-duration is the latest one whose window
		// could still be open at t.
		next := w.cron.Next(t.Add(-w.duration))
		return !next.IsZero() && !next.After(t)
	}
	t = t.UTC()
	offset := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
	if w.start <= w.end {
		return offset >= w.start && offset < w.end
	}
	return offset >= w.start || offset < w.end
}
