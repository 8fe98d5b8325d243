// Package storage provides the durable key/value map the bot's persisted
// state lives in (leaderboard settings, schedule state, last-run marker).
//
// Values are JSON-encoded scalars or small objects, read and written one
// key at a time. There is no multi-key transaction: consumers only need
// per-key durability across restarts.
package storage
