package notify

import "time"

// Config controls the async dispatch pipeline.
type Config struct {
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// Event is published on the bus for every pipeline transition; the sweep
// report consumes sent/failed to build its per-sweep failure tally.
type Event struct {
	ID     string
	ChatID int64
	Key    string
	At     time.Time
	Error  string
}

type HistoryItem struct {
	At   time.Time
	Text string
}
