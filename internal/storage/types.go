package storage

import (
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("record not found")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty or "none", Open returns the memory driver.
type Config struct {
	Driver      string        `json:"driver" yaml:"driver"`
	Path        string        `json:"path" yaml:"path"`
	BusyTimeout time.Duration `json:"busy_timeout" yaml:"busy_timeout"` // sqlite only; 0 means default
}

// AuditEntry records an operator command.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	ChatID        int64     `json:"chat_id"`
	Command       string    `json:"command"`
	Args          string    `json:"args,omitempty"`
	OK            bool      `json:"ok"`
	Error         string    `json:"error,omitempty"`
	TookMS        int64     `json:"took_ms"`
}
