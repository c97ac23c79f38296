package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/keshon/heartflow/internal/ai"
	"github.com/keshon/heartflow/internal/logging"
	"github.com/keshon/heartflow/internal/mind"
)

// Get returns the raw value of an environment variable.
func Get(key string) string {
	return os.Getenv(key)
}

// Config is the process configuration, read from the environment.
type Config struct {
	DiscordToken string        `env:"DISCORD_TOKEN"`
	StoragePath  string        `env:"STORAGE_PATH" envDefault:"datastore.json"`
	HistoryPath  string        `env:"HISTORY_PATH" envDefault:"history.db"`
	SaveInterval time.Duration `env:"SAVE_INTERVAL" envDefault:"1m"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile   string `env:"LOG_FILE"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	LLMEngine  string        `env:"LLM_ENGINE" envDefault:"none"`
	LLMBaseURL string        `env:"LLM_BASE_URL"`
	LLMAPIKey  string        `env:"LLM_API_KEY"`
	LLMModel   string        `env:"LLM_MODEL"`
	LLMTimeout time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`

	LLMPerMinute     int           `env:"LLM_PER_MINUTE" envDefault:"6"`
	LLMPerHour       int           `env:"LLM_PER_HOUR" envDefault:"30"`
	LLMGroupCooldown time.Duration `env:"LLM_GROUP_COOLDOWN" envDefault:"20s"`

	StatusAddr    string   `env:"STATUS_ADDR"`
	CORSOrigins   []string `env:"STATUS_CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	CommandPrefix string   `env:"COMMAND_PREFIX" envDefault:"!"`
	PersonaFile   string   `env:"PERSONA_FILE"`
	BotKeywords   []string `env:"BOT_KEYWORDS" envSeparator:","`
	AllowedGroups []string `env:"ALLOWED_GROUPS" envSeparator:","`
	DeniedGroups  []string `env:"DENIED_GROUPS" envSeparator:","`

	HeartbeatInterval       time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	CooldownSeconds         int           `env:"COOLDOWN_SECONDS" envDefault:"10"`
	AtBoostValue            float64       `env:"AT_BOOST_VALUE" envDefault:"0.5"`
	HeartbeatThreshold      float64       `env:"HEARTBEAT_THRESHOLD" envDefault:"0.55"`
	WillingnessThreshold    float64       `env:"WILLINGNESS_THRESHOLD" envDefault:"0.5"`
	BaseProbability         float64       `env:"BASE_PROBABILITY" envDefault:"0.3"`
	FatigueThreshold        int           `env:"FATIGUE_THRESHOLD" envDefault:"5"`
	MaxConsecutiveResponses int           `env:"MAX_CONSECUTIVE_RESPONSES" envDefault:"3"`
	ProactiveReplyDelay     time.Duration `env:"PROACTIVE_REPLY_DELAY" envDefault:"8s"`
	ImmersiveChatTimeout    time.Duration `env:"IMMERSIVE_CHAT_TIMEOUT" envDefault:"120s"`
	AirReadingEnabled       bool          `env:"AIR_READING_ENABLED" envDefault:"true"`
	ObservationThreshold    float64       `env:"OBSERVATION_MODE_THRESHOLD" envDefault:"0.2"`
	FocusTimeout            time.Duration `env:"FOCUS_TIMEOUT" envDefault:"5m"`
	MaxFocusResponses       int           `env:"MAX_FOCUS_RESPONSES" envDefault:"5"`
	FatigueDecay            time.Duration `env:"FATIGUE_DECAY" envDefault:"10m"`
	HistoryLimit            int           `env:"HISTORY_LIMIT" envDefault:"50"`
}

// Load reads .env files (missing ones are fine) and then the environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load env file: %w", err)
	}
	return Parse(nil)
}

// Parse reads the configuration from environ, or from the process
// environment when environ is nil.
func Parse(environ map[string]string) (*Config, error) {
	var cfg Config
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.AllowedGroups = compact(cfg.AllowedGroups)
	cfg.DeniedGroups = compact(cfg.DeniedGroups)
	cfg.BotKeywords = compact(cfg.BotKeywords)
	cfg.CORSOrigins = compact(cfg.CORSOrigins)
	return &cfg, nil
}

// RequireDiscord reports a missing bot token.
func (c *Config) RequireDiscord() error {
	if strings.TrimSpace(c.DiscordToken) == "" {
		return errors.New("config: DISCORD_TOKEN is required")
	}
	return nil
}

// Mind converts the tunables. Out-of-range values are normalized to defaults.
func (c *Config) Mind() mind.Config {
	return mind.Config{
		HeartbeatInterval:       c.HeartbeatInterval,
		Cooldown:                time.Duration(c.CooldownSeconds) * time.Second,
		AtBoostValue:            c.AtBoostValue,
		HeartbeatThreshold:      c.HeartbeatThreshold,
		WillingnessThreshold:    c.WillingnessThreshold,
		BaseProbability:         c.BaseProbability,
		FatigueThreshold:        c.FatigueThreshold,
		MaxConsecutiveResponses: c.MaxConsecutiveResponses,
		ProactiveDelay:          c.ProactiveReplyDelay,
		ImmersiveTimeout:        c.ImmersiveChatTimeout,
		AirReadingEnabled:       c.AirReadingEnabled,
		ObservationThreshold:    c.ObservationThreshold,
		FocusTimeout:            c.FocusTimeout,
		MaxFocusResponses:       c.MaxFocusResponses,
		FatigueDecay:            c.FatigueDecay,
		LLMTimeout:              c.LLMTimeout,
		CommandPrefix:           c.CommandPrefix,
		HistoryLimit:            c.HistoryLimit,
		BotKeywords:             c.BotKeywords,
	}.Normalize()
}

func (c *Config) AI() ai.Options {
	return ai.Options{
		Engine:  strings.ToLower(strings.TrimSpace(c.LLMEngine)),
		BaseURL: c.LLMBaseURL,
		APIKey:  c.LLMAPIKey,
		Model:   c.LLMModel,
		Timeout: c.LLMTimeout,
	}
}

func (c *Config) Logging() logging.Options {
	return logging.Options{Level: c.LogLevel, File: c.LogFile, Format: c.LogFormat}
}

// Limiter returns the budget for heartbeat and proactive LLM calls.
func (c *Config) Limiter() *mind.LLMRateLimiter {
	return mind.NewLLMRateLimiter(c.LLMPerMinute, c.LLMPerHour, c.LLMGroupCooldown)
}

// Policy returns the group allow/deny policy.
func (c *Config) Policy() GroupPolicy {
	return NewGroupPolicy(c.AllowedGroups, c.DeniedGroups)
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
