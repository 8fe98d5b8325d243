package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

const minimalJSON = `{
  "discord": {"token": "tok", "guild_id": "g1", "owner_user_ids": ["u1"]},
  "logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}, "discord": {"enabled": false, "channel_id": "", "min_level": "", "rate_per_sec": 0}},
  "storage": {"driver": "file", "path": "./bot.db"},
  "leaderboard": {"weekday": 6, "at": "18:30"}
}`

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, minimalJSON)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.GuildID != "g1" || len(cfg.Discord.OwnerUserIDs) != 1 {
		t.Fatalf("discord = %+v", cfg.Discord)
	}
	if cfg.Leaderboard.Weekday == nil || *cfg.Leaderboard.Weekday != 6 || cfg.Leaderboard.At != "18:30" {
		t.Fatalf("leaderboard = %+v", cfg.Leaderboard)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
discord:
  token: tok
  guild_id: g1
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./bot.db
  busy_timeout: 5s
leaderboard:
  scan_cap: 2000
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Storage.BusyTimeout != "5s" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Leaderboard.ScanCap != 2000 {
		t.Fatalf("scan_cap = %d", cfg.Leaderboard.ScanCap)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"discord": {"token": "t", "guild_id": "g", "typo_field": 1}}`)

	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"discord": {"token": "", "guild_id": "g"}}`)

	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("empty token accepted")
	}
}

func TestGetReturnsCommitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, minimalJSON)

	m := NewManager(path)
	if m.Get() != nil {
		t.Fatal("Get before Load returned a config")
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if m.Get() != cfg {
		t.Fatal("Get returned a different snapshot than Load")
	}
}

func TestSubscribePublish(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("wrong config delivered")
		}
	default:
		t.Fatal("nothing delivered")
	}

	// A full buffer drops the stale item, not the new one.
	older, newer := &Config{}, &Config{}
	m.publish(older)
	m.publish(newer)
	if got := <-ch; got != newer {
		t.Fatal("stale config delivered after burst")
	}
}
