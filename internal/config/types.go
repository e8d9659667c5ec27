package config

// Config is the on-disk daemon configuration. Durations are Go duration
// strings ("900ms", "12s"); empty means the component default.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Timers    TimersConfig    `json:"timers"`
	Remote    RemoteConfig    `json:"remote"`
	Registry  RegistryConfig  `json:"registry"`
	Search    SearchConfig    `json:"search"`
	Groupings GroupingsConfig `json:"groupings"`

	Fetch    *FetchConfig    `json:"fetch,omitempty"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Debug    *DebugConfig    `json:"debug,omitempty"`
}

type TelegramConfig struct {
	// Token enables the bot. Empty runs without the control surface and
	// writes notifications to the log.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alerts  LoggingAlert `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards log lines at or above MinLevel to the notifier chats.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerMin int    `json:"rate_per_min"`
}

// TimersConfig drives the polling scheduler.
//
// Defaults: interval 1000ms, ham_interval 900ms, ham_delay 6s,
// search_duration 12s, tick 50ms.
type TimersConfig struct {
	Interval    string `json:"interval"`
	HamInterval string `json:"ham_interval"`
	// HamDelay is the ham period after a claim for auto-ham jobs.
	HamDelay       string `json:"ham_delay"`
	SearchDuration string `json:"search_duration"`
	// SearchHam is the ham period at the start of a trigger-started collection.
	SearchHam string `json:"search_ham"`
	// Tick is the event loop's scheduler resolution.
	Tick string `json:"tick"`
}

// RemoteConfig is the remote site session and the background listings.
type RemoteConfig struct {
	BaseURL   string            `json:"base_url,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Cookies   map[string]string `json:"cookies,omitempty"`
	MaxBody   int64             `json:"max_body,omitempty"`
	// QueueEvery refreshes the claim queue listing. Default 60s.
	QueueEvery string `json:"queue_every"`
	// SearchEvery polls the search listing for triggers. "0s" disables it.
	SearchEvery    string `json:"search_every"`
	SearchPageSize int    `json:"search_page_size,omitempty"`
}

type RegistryConfig struct {
	CaptchaAt    int    `json:"captcha_at"`
	UnpauseBelow int    `json:"unpause_below,omitempty"`
	SweepSpacing string `json:"sweep_spacing,omitempty"`
	StoreTimeout string `json:"store_timeout,omitempty"`
}

type SearchConfig struct {
	Cooldown string `json:"cooldown"`
}

type GroupingsConfig struct {
	// Timezone is the IANA zone for daily start times. Empty uses local time.
	Timezone     string `json:"timezone,omitempty"`
	StaggerFirst string `json:"stagger_first,omitempty"`
	StaggerStep  string `json:"stagger_step,omitempty"`
}

// FetchConfig controls the fetch worker pool.
//
// Defaults: workers 4, queue_size 128, timeout 10s, burst 1,
// retry_base 500ms, retry_max_delay 15s, history_size 200.
type FetchConfig struct {
	Workers       int     `json:"workers,omitempty"`
	QueueSize     int     `json:"queue_size,omitempty"`
	Timeout       string  `json:"timeout,omitempty"`
	MaxQueueDelay string  `json:"max_queue_delay,omitempty"`
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	Burst         int     `json:"burst,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	HistorySize   int     `json:"history_size,omitempty"`
}

// NotifierConfig controls the async notification pipeline. If the whole
// section is omitted, the notifier is enabled with defaults.
type NotifierConfig struct {
	Enabled         bool    `json:"enabled"`
	Workers         int     `json:"workers"`
	QueueSize       int     `json:"queue_size"`
	RatePerSec      int     `json:"rate_per_sec"`
	RetryMax        int     `json:"retry_max"`
	RetryBase       string  `json:"retry_base"`
	RetryMaxDelay   string  `json:"retry_max_delay"`
	DedupWindow     string  `json:"dedup_window"`
	DedupMaxEntries int     `json:"dedup_max_entries"`
	PersistDedup    bool    `json:"persist_dedup,omitempty"`
	Chats           []int64 `json:"chats"`
	ThreadID        int     `json:"thread_id,omitempty"`
	Claims          bool    `json:"claims,omitempty"`
}

// StorageConfig controls persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./hitgrab.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// DebugConfig enables the local debug endpoint (health, state, pprof).
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
