package pipeline

import "time"

// Settings is the immutable configuration every stage is built with.
type Settings struct {
	DedupeShortTTL         time.Duration
	DedupeLongTTL          time.Duration
	BotThrottleLimit       int64
	BotThrottleWindow      time.Duration
	SessionTTL             time.Duration
	StackCacheTTL          time.Duration
	NeighborCandidateLimit int
}

// DefaultSettings returns production defaults.
func DefaultSettings() Settings {
	return Settings{
		DedupeShortTTL:         time.Minute,
		DedupeLongTTL:          24 * time.Hour,
		BotThrottleLimit:       3500,
		BotThrottleWindow:      5 * time.Minute,
		SessionTTL:             24 * time.Hour,
		StackCacheTTL:          time.Hour,
		NeighborCandidateLimit: 10,
	}
}
