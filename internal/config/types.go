package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Discord     DiscordConfig     `json:"discord"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Leaderboard LeaderboardConfig `json:"leaderboard"`
	Metrics     *MetricsConfig    `json:"metrics,omitempty"`
	Jobs        *JobsConfig       `json:"jobs,omitempty"`
}

type DiscordConfig struct {
	Token   string `json:"token"`
	GuildID string `json:"guild_id"`

	// OwnerUserIDs may use owner-only commands (shutdown).
	OwnerUserIDs []string `json:"owner_user_ids"`

	// RequestsPerSec paces all REST calls (history pages, member pages,
	// role mutations). Default 10.
	RequestsPerSec int `json:"requests_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Discord LoggingDiscord `json:"discord"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingDiscord forwards warnings/errors to a channel, rate limited.
type LoggingDiscord struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the durable key/value store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./rankbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// LeaderboardConfig tunes the engine. The recurrence defaults to
// Saturday 18:30 UTC when omitted.
//
// All durations are Go duration strings (e.g. "15s", "168h").
type LeaderboardConfig struct {
	// Weekday is 0=Sunday .. 6=Saturday; At is "HH:MM" in UTC.
	Weekday *int   `json:"weekday,omitempty"`
	At      string `json:"at,omitempty"`

	Window          string `json:"window,omitempty"`
	ScanCap         int    `json:"scan_cap,omitempty"`
	PageTimeout     string `json:"page_timeout,omitempty"`
	SyncConcurrency int    `json:"sync_concurrency,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9190"
}

// JobsConfig controls the background maintenance runner.
type JobsConfig struct {
	Enabled     *bool  `json:"enabled,omitempty"`      // default true
	DriftSpec   string `json:"drift_spec,omitempty"`   // default "17 * * * *"
	CompactSpec string `json:"compact_spec,omitempty"` // default "40 4 * * *"
}

// Validate applies the cheap structural checks that should reject a
// config before any component sees it.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Discord.Token) == "" {
		return errors.New("discord.token is required")
	}
	if strings.TrimSpace(c.Discord.GuildID) == "" {
		return errors.New("discord.guild_id is required")
	}
	if c.Leaderboard.Weekday != nil {
		if d := *c.Leaderboard.Weekday; d < 0 || d > 6 {
			return fmt.Errorf("leaderboard.weekday %d out of range", d)
		}
	}
	if c.Leaderboard.At != "" {
		if _, _, err := ParseHHMM(c.Leaderboard.At); err != nil {
			return err
		}
	}
	for path, raw := range map[string]string{
		"storage.busy_timeout":     c.Storage.BusyTimeout,
		"leaderboard.window":       c.Leaderboard.Window,
		"leaderboard.page_timeout": c.Leaderboard.PageTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	return nil
}

// ParseDurationField parses a Go duration string, empty meaning zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseHHMM parses "HH:MM" wall time.
func ParseHHMM(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
