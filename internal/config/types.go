package config

type Config struct {
	Telegram     TelegramConfig      `json:"telegram"`
	Logging      LoggingConfig       `json:"logging"`
	Storage      StorageConfig       `json:"storage"`
	Crypt        CryptConfig         `json:"crypt"`
	Notifier     *NotifierConfig     `json:"notifier,omitempty"`
	Sweep        SweepConfig         `json:"sweep"`
	Subscription *SubscriptionConfig `json:"subscription,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards warn+ logs to an admin chat so a user who never
// received a notification is diagnosable without shell access.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./cyclebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// CryptConfig holds the field-encryption key for chat handles and cycle
// blobs at rest. Key is hex-encoded, 32 bytes (AES-256-GCM).
type CryptConfig struct {
	Key string `json:"key"`
}

// NotifierConfig controls the async dispatch pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted the notifier uses its defaults.
type NotifierConfig struct {
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

// SweepConfig controls the notification sweep.
//
// Schedule accepts a cron expression ("0 * * * *", "@hourly"), a Go duration
// ("1h"), or HH:MM interval form ("01:00").
type SweepConfig struct {
	Schedule string `json:"schedule,omitempty"` // default "@hourly"
	Workers  int    `json:"workers,omitempty"`  // default 4
	Timeout  string `json:"timeout,omitempty"`  // bound on one full sweep; default "10m"
	// DefaultHour is the tick hour used for users without a preferred
	// notification hour (0-23). Default 9.
	DefaultHour *int `json:"default_hour,omitempty"`
	// Timezone is an IANA name (e.g. "Asia/Tehran") applied to schedule
	// triggers and to the default "today" computation.
	Timezone string `json:"timezone,omitempty"`
}

// SubscriptionConfig controls the lifecycle check supplement.
type SubscriptionConfig struct {
	Schedule string `json:"schedule,omitempty"`  // default "0 9 * * *"
	WarnDays int    `json:"warn_days,omitempty"` // default 3
}
