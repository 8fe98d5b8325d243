package leaderboard

import (
	"fmt"
	"time"
)

// Rule is a weekly recurrence: a weekday plus an HH:MM wall time in UTC.
//
// Modeled as data rather than a constant so the scheduling math stays
// testable against arbitrary rules, even though the bot currently ships
// a single one.
type Rule struct {
	Weekday time.Weekday
	Hour    int
	Minute  int
}

// DefaultRule is Saturday 18:30 UTC, the boundary the weekly run has
// always fired on.
var DefaultRule = Rule{Weekday: time.Saturday, Hour: 18, Minute: 30}

func (r Rule) Validate() error {
	if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
		return fmt.Errorf("rule: weekday %d out of range", r.Weekday)
	}
	if r.Hour < 0 || r.Hour > 23 {
		return fmt.Errorf("rule: hour %d out of range", r.Hour)
	}
	if r.Minute < 0 || r.Minute > 59 {
		return fmt.Errorf("rule: minute %d out of range", r.Minute)
	}
	return nil
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %02d:%02d UTC", r.Weekday, r.Hour, r.Minute)
}

// NextFire returns the next instant on or after now matching the rule's
// weekday and time in UTC.
//
// The boundary itself counts as consumed: when now is exactly on the
// rule's weekday/hour/minute (seconds and below ignored in the minute
// comparison, i.e. 18:30:00.000 through 18:30:59.999), the result is a
// full week later. Callers must snapshot now once per computation; the
// weekday and time-of-day checks below both read the same instant.
func NextFire(rule Rule, now time.Time) time.Time {
	nowUTC := now.UTC()

	candidate := time.Date(nowUTC.Year(), nowUTC.Month(), nowUTC.Day(),
		rule.Hour, rule.Minute, 0, 0, time.UTC)

	daysAhead := (int(rule.Weekday) - int(nowUTC.Weekday()) + 7) % 7
	if daysAhead == 0 {
		// Today is the rule's weekday: fire later today only if the
		// boundary minute has not been reached yet.
		if nowUTC.Hour()*60+nowUTC.Minute() >= rule.Hour*60+rule.Minute {
			daysAhead = 7
		}
	}

	return candidate.AddDate(0, 0, daysAhead)
}
