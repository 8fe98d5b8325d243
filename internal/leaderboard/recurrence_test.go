package leaderboard

import (
	"testing"
	"time"
)

func mustUTC(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04:05", s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts.UTC()
}

func TestNextFire(t *testing.T) {
	rule := DefaultRule // Saturday 18:30 UTC

	cases := []struct {
		name string
		now  string
		want string
	}{
		{
			name: "midweek",
			now:  "2025-01-15 12:00:00", // Wednesday
			want: "2025-01-18 18:30:00",
		},
		{
			name: "sunday waits almost a week",
			now:  "2025-01-12 00:00:00",
			want: "2025-01-18 18:30:00",
		},
		{
			name: "saturday morning fires same day",
			now:  "2025-01-18 09:00:00",
			want: "2025-01-18 18:30:00",
		},
		{
			name: "one second before the boundary",
			now:  "2025-01-18 18:29:59",
			want: "2025-01-18 18:30:00",
		},
		{
			name: "exactly on the boundary is consumed",
			now:  "2025-01-18 18:30:00",
			want: "2025-01-25 18:30:00",
		},
		{
			name: "inside the boundary minute is consumed",
			now:  "2025-01-18 18:30:45",
			want: "2025-01-25 18:30:00",
		},
		{
			name: "saturday evening waits a week",
			now:  "2025-01-18 23:59:59",
			want: "2025-01-25 18:30:00",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NextFire(rule, mustUTC(t, tc.now))
			want := mustUTC(t, tc.want)
			if !got.Equal(want) {
				t.Fatalf("NextFire(%s) = %s, want %s", tc.now, got, want)
			}
		})
	}
}

func TestNextFireSteadyState(t *testing.T) {
	// Firing exactly at each computed instant advances by exactly one
	// week every time.
	now := mustUTC(t, "2025-03-01 18:30:00") // a Saturday boundary
	prev := NextFire(DefaultRule, now)
	for i := 0; i < 8; i++ {
		next := NextFire(DefaultRule, prev)
		if got := next.Sub(prev); got != 7*24*time.Hour {
			t.Fatalf("step %d: gap = %s, want 168h", i, got)
		}
		prev = next
	}
}

func TestNextFireNormalizesZone(t *testing.T) {
	// 13:00 at UTC-6 is 19:00 UTC on Saturday, past the boundary.
	loc := time.FixedZone("UTC-6", -6*3600)
	now := time.Date(2025, 1, 18, 13, 0, 0, 0, loc)

	got := NextFire(DefaultRule, now)
	want := mustUTC(t, "2025-01-25 18:30:00")
	if !got.Equal(want) {
		t.Fatalf("NextFire = %s, want %s", got, want)
	}
	if got.Location() != time.UTC {
		t.Fatalf("result not in UTC: %s", got.Location())
	}
}

func TestRuleValidate(t *testing.T) {
	if err := (Rule{Weekday: time.Monday, Hour: 0, Minute: 0}).Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}
	for _, bad := range []Rule{
		{Weekday: 7, Hour: 12, Minute: 0},
		{Weekday: time.Monday, Hour: 24, Minute: 0},
		{Weekday: time.Monday, Hour: 12, Minute: 60},
		{Weekday: time.Monday, Hour: -1, Minute: 0},
	} {
		if err := bad.Validate(); err == nil {
			t.Fatalf("rule %+v accepted, want error", bad)
		}
	}
}
