// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// Missing Twitch or YouTube credentials disable the features that need them; use Validate
// for the settings the wall cannot run without.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cafu47/streamwall/wall"
)

// DefaultHomeChannel is the channel shown when HOME_CHANNEL is unset.
const DefaultHomeChannel = "fukura____"

// DefaultFallbackChannels is the static popular list offered when no live
// suggestions are known.
var DefaultFallbackChannels = []wall.Suggestion{
	{Channel: "xqc", Label: "xQc"},
	{Channel: "shroud", Label: "Shroud"},
	{Channel: "pokimane", Label: "Pokimane"},
	{Channel: "sodapoppin", Label: "Sodapoppin"},
}

// DefaultEmbedParents are the domains the primary player may be embedded under.
var DefaultEmbedParents = []string{"cafu47.com", "www.cafu47.com", "cafu47.pages.dev", "localhost"}

type Config struct {
	// HTTP
	HTTPAddr string

	// Wall
	HomeChannel      string
	FamilyChannels   []string
	FallbackChannels []wall.Suggestion
	EmbedParents     []string
	MobileHideChat   bool

	// Status monitoring
	StatusCheckInterval    time.Duration
	StatusInitialDelay     time.Duration
	StatusOfflineThreshold int
	HomeRecheckInterval    time.Duration

	// Twitch
	TwitchClientID     string
	TwitchClientSecret string
	HelixRPS           int

	// YouTube
	YTAPIKey string

	// Live-streams proxy. An empty ProxyURL answers wall lookups in-process.
	ProxyURL      string
	ProxyCacheTTL time.Duration

	// Sessions
	SessionIdleTTL time.Duration

	// Rate limiting
	RateLimitEnabled       bool
	RateLimitRequestsPerIP int
	RateLimitWindow        time.Duration

	// CORS
	CORSPermissive     bool
	CORSAllowedOrigins []string
}

// Load reads environment variables and applies defaults. It only fails on values that are
// present but malformed; use Validate for semantic checks.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")

	cfg.HomeChannel = getEnv("HOME_CHANNEL", DefaultHomeChannel)
	cfg.FamilyChannels = splitCSV(os.Getenv("FAMILY_CHANNELS"))
	cfg.FallbackChannels = DefaultFallbackChannels
	if v := os.Getenv("FALLBACK_CHANNELS"); v != "" {
		cfg.FallbackChannels = ParseSuggestions(v)
	}
	cfg.EmbedParents = DefaultEmbedParents
	if v := splitCSV(os.Getenv("EMBED_PARENTS")); len(v) > 0 {
		cfg.EmbedParents = v
	}
	if cfg.MobileHideChat, err = getEnvBool("MOBILE_HIDE_CHAT", false); err != nil {
		return nil, err
	}

	if cfg.StatusCheckInterval, err = getEnvDuration("STATUS_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.StatusInitialDelay, err = getEnvDuration("STATUS_INITIAL_DELAY", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.StatusOfflineThreshold, err = getEnvInt("STATUS_OFFLINE_THRESHOLD", 3); err != nil {
		return nil, err
	}
	if cfg.HomeRecheckInterval, err = getEnvDuration("HOME_RECHECK_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}

	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	if cfg.HelixRPS, err = getEnvInt("HELIX_RPS", 10); err != nil {
		return nil, err
	}

	cfg.YTAPIKey = os.Getenv("YT_API_KEY")

	cfg.ProxyURL = os.Getenv("PROXY_URL")
	if cfg.ProxyCacheTTL, err = getEnvDuration("PROXY_CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SessionIdleTTL, err = getEnvDuration("SESSION_IDLE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}

	cfg.RateLimitEnabled = os.Getenv("RATE_LIMIT_ENABLED") != "0" // enabled by default
	if cfg.RateLimitRequestsPerIP, err = getEnvInt("RATE_LIMIT_REQUESTS_PER_IP", 60); err != nil {
		return nil, err
	}
	windowSeconds, err := getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	cfg.RateLimitWindow = time.Duration(windowSeconds) * time.Second

	// Default to permissive in dev, restricted in production
	mode := strings.ToLower(os.Getenv("ENV"))
	cfg.CORSPermissive = mode == "" || mode == "dev" || mode == "development"
	if v := os.Getenv("CORS_PERMISSIVE"); v != "" {
		cfg.CORSPermissive = v == "1" || v == "true"
	}
	cfg.CORSAllowedOrigins = splitCSV(os.Getenv("CORS_ALLOWED_ORIGINS"))

	return cfg, nil
}

// Validate checks the settings the wall cannot start without.
func (c *Config) Validate() error {
	if _, err := wall.ValidateChannel(c.HomeChannel); err != nil {
		return fmt.Errorf("invalid HOME_CHANNEL %q: %w", c.HomeChannel, err)
	}
	for _, f := range c.FamilyChannels {
		if _, err := wall.ValidateChannel(f); err != nil {
			return fmt.Errorf("invalid FAMILY_CHANNELS entry %q: %w", f, err)
		}
	}
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"STATUS_CHECK_INTERVAL", c.StatusCheckInterval},
		{"HOME_RECHECK_INTERVAL", c.HomeRecheckInterval},
		{"PROXY_CACHE_TTL", c.ProxyCacheTTL},
		{"SESSION_IDLE_TTL", c.SessionIdleTTL},
		{"RATE_LIMIT_WINDOW_SECONDS", c.RateLimitWindow},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}
	if c.StatusInitialDelay < 0 {
		return fmt.Errorf("STATUS_INITIAL_DELAY must not be negative")
	}
	if c.StatusOfflineThreshold < 1 {
		return fmt.Errorf("STATUS_OFFLINE_THRESHOLD must be at least 1")
	}
	if c.RateLimitRequestsPerIP < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS_PER_IP must be at least 1")
	}
	return nil
}

// TwitchConfigured reports whether Helix credentials are present.
func (c *Config) TwitchConfigured() bool {
	return c.TwitchClientID != "" && c.TwitchClientSecret != ""
}

// HomeTarget is the normalised home channel target.
func (c *Config) HomeTarget() wall.Target {
	return wall.Channel(wall.NormalizeChannel(c.HomeChannel))
}

// Family returns the normalised family channel logins.
func (c *Config) Family() []string {
	out := make([]string, 0, len(c.FamilyChannels))
	for _, f := range c.FamilyChannels {
		out = append(out, wall.NormalizeChannel(f))
	}
	return out
}

// ParseSuggestions parses a csv of channel[:label] entries. A missing label
// defaults to the channel name.
func ParseSuggestions(csv string) []wall.Suggestion {
	var out []wall.Suggestion
	for _, item := range splitCSV(csv) {
		channel, label, _ := strings.Cut(item, ":")
		channel = wall.NormalizeChannel(channel)
		if channel == "" {
			continue
		}
		label = strings.TrimSpace(label)
		if label == "" {
			label = channel
		}
		out = append(out, wall.Suggestion{Channel: channel, Label: label})
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// getEnvDuration accepts a Go duration ("15s") or a bare number of seconds.
func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s (duration): %w", key, err)
	}
	return d, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
