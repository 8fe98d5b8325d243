package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Discord: DiscordConfig{Token: "tok", GuildID: "g1"},
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"missing token", func(c *Config) { c.Discord.Token = " " }, "discord.token"},
		{"missing guild", func(c *Config) { c.Discord.GuildID = "" }, "discord.guild_id"},
		{"weekday out of range", func(c *Config) { d := 9; c.Leaderboard.Weekday = &d }, "weekday"},
		{"bad at", func(c *Config) { c.Leaderboard.At = "25:00" }, "hour"},
		{"bad window", func(c *Config) { c.Leaderboard.Window = "fortnight" }, "leaderboard.window"},
		{"negative timeout", func(c *Config) { c.Leaderboard.PageTimeout = "-5s" }, "page_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("accepted")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("err = %v, want mention of %q", err, tc.wantSub)
			}
		})
	}
}

func TestParseHHMM(t *testing.T) {
	h, m, err := ParseHHMM("18:30")
	if err != nil || h != 18 || m != 30 {
		t.Fatalf("ParseHHMM(18:30) = %d:%d, %v", h, m, err)
	}
	if _, _, err := ParseHHMM("00:00"); err != nil {
		t.Fatalf("midnight rejected: %v", err)
	}
	for _, bad := range []string{"", "1830", "24:00", "12:60", "ab:cd", "12:34:56"} {
		if _, _, err := ParseHHMM(bad); err == nil {
			t.Errorf("ParseHHMM(%q) accepted", bad)
		}
	}
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationField("x", "168h")
	if err != nil || d != 168*time.Hour {
		t.Fatalf("168h = %s, %v", d, err)
	}
	if d, err := ParseDurationField("x", "  "); err != nil || d != 0 {
		t.Fatalf("blank = %s, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative accepted")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("garbage accepted")
	}
}
