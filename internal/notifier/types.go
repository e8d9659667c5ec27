package notifier

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	Workers         int           `json:"workers" yaml:"workers"`
	QueueSize       int           `json:"queue_size" yaml:"queue_size"`
	RatePerSec      int           `json:"rate_per_sec" yaml:"rate_per_sec"`
	RetryMax        int           `json:"retry_max" yaml:"retry_max"`
	RetryBase       time.Duration `json:"retry_base" yaml:"retry_base"`
	RetryMaxDelay   time.Duration `json:"retry_max_delay" yaml:"retry_max_delay"`
	DedupWindow     time.Duration `json:"dedup_window" yaml:"dedup_window"`
	DedupMaxEntries int           `json:"dedup_max_entries" yaml:"dedup_max_entries"`
	PersistDedup    bool          `json:"persist_dedup" yaml:"persist_dedup"`

	// Chats receive every alert.
	Chats []int64 `json:"chats" yaml:"chats"`
	// ThreadID targets a forum topic in every chat.
	ThreadID int `json:"thread_id" yaml:"thread_id"`
	// Claims turns per-claim messages on. Throttle, captcha and limit
	// alerts are always sent.
	Claims bool `json:"claims" yaml:"claims"`
}

type HistoryItem struct {
	At   time.Time
	Text string
}

// NotificationEvent is emitted on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	Channel  string    `json:"channel"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

// Event types published on the bus.
const (
	EventQueued  = "notifier.queued"
	EventDeduped = "notifier.deduped"
	EventDropped = "notifier.dropped"
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
)
