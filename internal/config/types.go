package config

type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Logging  LoggingConfig  `yaml:"logging"`
	Poller   PollerConfig   `yaml:"poller"`
	Torn     TornConfig     `yaml:"torn"`
	Storage  StorageConfig  `yaml:"storage"`
}

type TelegramConfig struct {
	Token string `yaml:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `yaml:"poll_timeout"`
	// GroupLog is the chat id (as a string) that receives the Telegram log sink.
	GroupLog string `yaml:"group_log"`
}

type LoggingConfig struct {
	Level    string          `yaml:"level"`
	Console  bool            `yaml:"console"`
	File     LoggingFile     `yaml:"file"`
	Telegram LoggingTelegram `yaml:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `yaml:"enabled"`
	MinLevel   string `yaml:"min_level"`
	RatePerSec int    `yaml:"rate_per_sec"`
}

type PollerConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
	// FetchTimeout bounds a single poll tick (Go duration string).
	FetchTimeout string `yaml:"fetch_timeout"`
	HistorySize  int    `yaml:"history_size"`
}

type TornConfig struct {
	// BaseURL overrides the Torn API endpoint; empty means production.
	BaseURL    string `yaml:"base_url"`
	RatePerSec int    `yaml:"rate_per_sec"`
	RetryMax   int    `yaml:"retry_max"`
	// Timeout is the per-request HTTP timeout (Go duration string).
	Timeout string `yaml:"timeout"`
}

type StorageConfig struct {
	// Driver selects the alert log backend: "none" (default), "file", "sqlite".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	// BusyTimeout applies to sqlite only (Go duration string).
	BusyTimeout string `yaml:"busy_timeout"`
}
