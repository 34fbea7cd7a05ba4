package command

import (
	"time"

	"opsbot/internal/config"
	"opsbot/internal/notify"
	"opsbot/internal/poll"
)

// Config holds the timing and formatting knobs of the bot.
type Config struct {
	PollInterval   time.Duration // delay between indexer queries (default: 5s)
	PollThreshold  int           // consecutive settled readings before done (default: 13)
	VisIndexDelay  time.Duration // wait before polling the vis indexer (default: 60s)
	ResizeDelay    time.Duration // wait between stop and resize (default: 60s)
	DefaultSize    string        // resize target when --size is omitted (default: t2.medium)
	MaxMessageSize int           // message text cap in characters (default: 3000)
	ListLimit      int           // ec2 ls rows when --limit is omitted (default: 3)
}

// LoadConfigFromEnv loads bot configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		PollInterval:   config.GetDurationEnv("POLL_INTERVAL", poll.DefaultInterval),
		PollThreshold:  config.GetIntEnv("POLL_THRESHOLD", poll.DefaultThreshold),
		VisIndexDelay:  config.GetDurationEnv("VIS_INDEX_DELAY", time.Minute),
		ResizeDelay:    config.GetDurationEnv("RESIZE_DELAY", time.Minute),
		DefaultSize:    config.GetEnv("DEFAULT_SIZE", "t2.medium"),
		MaxMessageSize: config.GetIntEnv("MAX_MESSAGE_SIZE", notify.DefaultMaxSize),
		ListLimit:      config.GetIntEnv("LS_LIMIT", 3),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults. Zero delays are kept;
// tests rely on them.
func (c Config) withDefaults() Config {
	if c.PollInterval < 0 {
		c.PollInterval = poll.DefaultInterval
	}
	if c.PollThreshold <= 0 {
		c.PollThreshold = poll.DefaultThreshold
	}
	if c.VisIndexDelay < 0 {
		c.VisIndexDelay = time.Minute
	}
	if c.ResizeDelay < 0 {
		c.ResizeDelay = time.Minute
	}
	if c.DefaultSize == "" {
		c.DefaultSize = "t2.medium"
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = notify.DefaultMaxSize
	}
	if c.ListLimit <= 0 {
		c.ListLimit = 3
	}
	return c
}
