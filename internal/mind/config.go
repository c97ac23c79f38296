package mind

import "time"

// Config holds the tunables of the engagement engine.
type Config struct {
	HeartbeatInterval       time.Duration
	Cooldown                time.Duration // minimum gap between two heartbeat triggers
	AtBoostValue            float64
	HeartbeatThreshold      float64
	WillingnessThreshold    float64
	BaseProbability         float64
	FatigueThreshold        int
	MaxConsecutiveResponses int
	ProactiveDelay          time.Duration
	ImmersiveTimeout        time.Duration
	AirReadingEnabled       bool
	ObservationThreshold    float64

	FocusTimeout      time.Duration
	MaxFocusResponses int
	FatigueDecay      time.Duration // one fatigue point is forgiven per period of silence
	LLMTimeout        time.Duration
	CommandPrefix     string
	HistoryLimit      int // records read from the history store per decision
	BotKeywords       []string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:       30 * time.Second,
		Cooldown:                10 * time.Second,
		AtBoostValue:            0.5,
		HeartbeatThreshold:      0.55,
		WillingnessThreshold:    0.5,
		BaseProbability:         0.3,
		FatigueThreshold:        5,
		MaxConsecutiveResponses: 3,
		ProactiveDelay:          8 * time.Second,
		ImmersiveTimeout:        120 * time.Second,
		AirReadingEnabled:       true,
		ObservationThreshold:    0.2,
		FocusTimeout:            5 * time.Minute,
		MaxFocusResponses:       5,
		FatigueDecay:            10 * time.Minute,
		LLMTimeout:              30 * time.Second,
		CommandPrefix:           "!",
		HistoryLimit:            50,
	}
}

// Normalize replaces missing or out-of-range values with defaults.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.Cooldown < 0 {
		c.Cooldown = d.Cooldown
	}
	if c.AtBoostValue <= 0 || c.AtBoostValue > 1 {
		c.AtBoostValue = d.AtBoostValue
	}
	if c.HeartbeatThreshold < 0 || c.HeartbeatThreshold > 1 {
		c.HeartbeatThreshold = d.HeartbeatThreshold
	}
	if c.WillingnessThreshold <= 0 || c.WillingnessThreshold > 1 {
		c.WillingnessThreshold = d.WillingnessThreshold
	}
	if c.BaseProbability < 0 || c.BaseProbability > 1 {
		c.BaseProbability = d.BaseProbability
	}
	if c.FatigueThreshold <= 0 {
		c.FatigueThreshold = d.FatigueThreshold
	}
	if c.MaxConsecutiveResponses <= 0 {
		c.MaxConsecutiveResponses = d.MaxConsecutiveResponses
	}
	if c.ProactiveDelay <= 0 {
		c.ProactiveDelay = d.ProactiveDelay
	}
	if c.ImmersiveTimeout <= 0 {
		c.ImmersiveTimeout = d.ImmersiveTimeout
	}
	if c.ObservationThreshold < 0 || c.ObservationThreshold > 1 {
		c.ObservationThreshold = d.ObservationThreshold
	}
	if c.FocusTimeout <= 0 {
		c.FocusTimeout = d.FocusTimeout
	}
	if c.MaxFocusResponses <= 0 {
		c.MaxFocusResponses = d.MaxFocusResponses
	}
	if c.FatigueDecay <= 0 {
		c.FatigueDecay = d.FatigueDecay
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = d.LLMTimeout
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	return c
}
