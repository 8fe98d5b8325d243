package leaderboard

import (
	"strings"
	"testing"
	"time"
)

func TestFormatAnnouncement(t *testing.T) {
	winners := []Entry{{"a", 40}, {"b", 30}, {"c", 20}, {"d", 10}}
	msg := formatAnnouncement(winners, "role1", false)

	for _, want := range []string{
		":first_place: <@a> with **40** messages",
		":second_place: <@b> with **30** messages",
		":third_place: <@c> with **20** messages",
		"**#4** <@d> with **10** messages",
		"<@&role1>",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("announcement missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "capped scan") {
		t.Error("complete scan flagged as capped")
	}
}

func TestFormatAnnouncementEmpty(t *testing.T) {
	msg := formatAnnouncement(nil, "role1", false)
	if !strings.Contains(msg, "No active members") {
		t.Fatalf("empty announcement: %s", msg)
	}
	if strings.Contains(msg, "<@&role1>") {
		t.Error("role mention present with no winners")
	}
}

func TestFormatAnnouncementTimedOut(t *testing.T) {
	msg := formatAnnouncement([]Entry{{"a", 1}}, "role1", true)
	if !strings.Contains(msg, "capped scan") {
		t.Fatalf("capped scan note missing:\n%s", msg)
	}
}

func TestFormatStats(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	msg := formatStats(Stats{TotalMessages: 120, TopAuthorID: "a", TopCount: 55}, "src1", now)

	for _, want := range []string{
		"<#src1>",
		"**120**",
		"<@a> with **55** messages",
		"Jun 3, 2025 to Jun 10, 2025",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("stats missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatStatsNoActivity(t *testing.T) {
	msg := formatStats(Stats{}, "src1", time.Now())
	if !strings.Contains(msg, "No active members") {
		t.Fatalf("stats without activity: %s", msg)
	}
}
