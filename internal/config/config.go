// Package config provides application configuration management.
// Configuration is loaded from SURF_-prefixed environment variables at
// startup; out-of-range values are clamped with a warning rather than
// aborting startup.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nomadbarefoot/surf/internal/types"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxMaxSessions    = 100
	maxURLLengthCap   = 65536
	maxRateLimitRPM   = 10000
	minCleanupSeconds = 1 * time.Second
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Host string
	Port int

	// Browser settings
	Headless    bool
	BrowserPath string

	// Session settings
	MaxSessions            int
	SessionTTL             time.Duration
	SessionCleanupInterval time.Duration

	// Timeouts
	DefaultTimeout     time.Duration
	MaxPageLoadTimeout time.Duration

	// Request shaping
	MaxURLLength   int
	BlockResources []string

	// Response cache
	EnableCache bool
	CacheTTL    time.Duration

	// Adaptive pacing
	EnableAdaptiveRateLimiting bool
	AdaptiveRateBaseDelay      time.Duration
	AdaptiveRateMinDelay       time.Duration
	AdaptiveRateMaxDelay       time.Duration
	AdaptiveSuccessIncrement   float64
	AdaptiveFailureDecrement   float64

	// Site memory
	EnableSiteMemory          bool
	SiteMemoryTTL             time.Duration
	SiteMemoryCleanupInterval time.Duration
	DataDir                   string

	// Content pipeline
	EnableSemanticChunking      bool
	ChunkingConfidenceThreshold float64
	EnableContentDeduplication  bool
	ContentDeduplicationTTL     time.Duration

	// Humanized mouse movement
	EnableEnhancedMouseMovement bool
	MouseBezierPoints           int
	MouseMinDelay               time.Duration
	MouseMaxDelay               time.Duration
	MouseReactionDelayMin       time.Duration
	MouseReactionDelayMax       time.Duration

	// Screenshots
	ScreenshotDir string

	// Logging
	LogLevel string

	// Security
	APIToken           string
	RateLimitRPM       int
	TrustProxy         bool
	IgnoreCertErrors   bool
	CORSAllowedOrigins []string

	// Metrics
	MetricsEnabled bool
	MetricsPort    int

	// Resource monitor
	MonitorInterval time.Duration

	// Content pattern overrides
	PatternsFile      string
	PatternsHotReload bool
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or the documented defaults.
func Load() *Config {
	return &Config{
		// Server
		Host: getEnvString("SURF_HOST", "0.0.0.0"),
		Port: getEnvInt("SURF_PORT", 8000),

		// Browser
		Headless:    getEnvBool("SURF_HEADLESS", true),
		BrowserPath: getEnvString("SURF_BROWSER_PATH", ""),

		// Sessions
		MaxSessions:            getEnvInt("SURF_MAX_SESSIONS", 20),
		SessionTTL:             getEnvSeconds("SURF_SESSION_TTL", 300*time.Second),
		SessionCleanupInterval: getEnvSeconds("SURF_SESSION_CLEANUP_INTERVAL", 60*time.Second),

		// Timeouts (milliseconds on the wire)
		DefaultTimeout:     getEnvMillis("SURF_DEFAULT_TIMEOUT", 30*time.Second),
		MaxPageLoadTimeout: getEnvMillis("SURF_MAX_PAGE_LOAD_TIMEOUT", 60*time.Second),

		// Request shaping
		MaxURLLength:   getEnvInt("SURF_MAX_URL_LENGTH", 2048),
		BlockResources: getEnvStringSlice("SURF_BLOCK_RESOURCES", nil),

		// Response cache
		EnableCache: getEnvBool("SURF_ENABLE_CACHE", false),
		CacheTTL:    getEnvSeconds("SURF_CACHE_TTL", 300*time.Second),

		// Adaptive pacing
		EnableAdaptiveRateLimiting: getEnvBool("SURF_ENABLE_ADAPTIVE_RATE_LIMITING", true),
		AdaptiveRateBaseDelay:      getEnvSeconds("SURF_ADAPTIVE_RATE_BASE_DELAY", 2*time.Second),
		AdaptiveRateMinDelay:       getEnvSeconds("SURF_ADAPTIVE_RATE_MIN_DELAY", 500*time.Millisecond),
		AdaptiveRateMaxDelay:       getEnvSeconds("SURF_ADAPTIVE_RATE_MAX_DELAY", 10*time.Second),
		AdaptiveSuccessIncrement:   getEnvFloat("SURF_ADAPTIVE_RATE_SUCCESS_INCREMENT", 0.1),
		AdaptiveFailureDecrement:   getEnvFloat("SURF_ADAPTIVE_RATE_FAILURE_DECREMENT", 0.2),

		// Site memory
		EnableSiteMemory:          getEnvBool("SURF_ENABLE_SITE_MEMORY", true),
		SiteMemoryTTL:             getEnvSeconds("SURF_SITE_MEMORY_TTL", 86400*time.Second),
		SiteMemoryCleanupInterval: getEnvSeconds("SURF_SITE_MEMORY_CLEANUP_INTERVAL", time.Hour),
		DataDir:                   getEnvString("SURF_DATA_DIR", "./data"),

		// Content pipeline
		EnableSemanticChunking:      getEnvBool("SURF_ENABLE_SEMANTIC_CHUNKING", false),
		ChunkingConfidenceThreshold: getEnvFloat("SURF_SEMANTIC_CHUNKING_CONFIDENCE_THRESHOLD", 0.7),
		EnableContentDeduplication:  getEnvBool("SURF_ENABLE_CONTENT_DEDUPLICATION", false),
		ContentDeduplicationTTL:     getEnvSeconds("SURF_CONTENT_DEDUPLICATION_TTL", 3600*time.Second),

		// Humanized mouse movement
		EnableEnhancedMouseMovement: getEnvBool("SURF_ENABLE_ENHANCED_MOUSE_MOVEMENT", true),
		MouseBezierPoints:           getEnvInt("SURF_MOUSE_MOVEMENT_BEZIER_POINTS", 20),
		MouseMinDelay:               getEnvMillis("SURF_MOUSE_MOVEMENT_MIN_DELAY", 10*time.Millisecond),
		MouseMaxDelay:               getEnvMillis("SURF_MOUSE_MOVEMENT_MAX_DELAY", 30*time.Millisecond),
		MouseReactionDelayMin:       getEnvMillis("SURF_MOUSE_MOVEMENT_REACTION_DELAY_MIN", 100*time.Millisecond),
		MouseReactionDelayMax:       getEnvMillis("SURF_MOUSE_MOVEMENT_REACTION_DELAY_MAX", 300*time.Millisecond),

		// Screenshots
		ScreenshotDir: getEnvString("SURF_SCREENSHOT_DIR", "./screenshots"),

		// Logging
		LogLevel: getEnvString("SURF_LOG_LEVEL", "info"),

		// Security
		APIToken:           getEnvString("SURF_API_TOKEN", ""),
		RateLimitRPM:       getEnvInt("SURF_RATE_LIMIT_REQUESTS", 100),
		TrustProxy:         getEnvBool("SURF_TRUST_PROXY", false),
		IgnoreCertErrors:   getEnvBool("SURF_IGNORE_CERT_ERRORS", false),
		CORSAllowedOrigins: getEnvStringSlice("SURF_CORS_ALLOWED_ORIGINS", nil),

		// Metrics
		MetricsEnabled: getEnvBool("SURF_METRICS_ENABLED", false),
		MetricsPort:    getEnvInt("SURF_METRICS_PORT", 9090),

		// Resource monitor
		MonitorInterval: getEnvSeconds("SURF_MONITOR_INTERVAL", 30*time.Second),

		// Content pattern overrides
		PatternsFile:      getEnvString("SURF_PATTERNS_FILE", ""),
		PatternsHotReload: getEnvBool("SURF_PATTERNS_HOT_RELOAD", false),
	}
}

// Validate checks configuration values and logs warnings for invalid values.
// Invalid values are corrected to sensible defaults. It returns an error only
// for genuine contradictions that no clamp can resolve.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 8000")
		c.Port = 8000
	}

	// BrowserPath validation - prevent path traversal
	if c.BrowserPath != "" && strings.Contains(c.BrowserPath, "..") {
		log.Error().
			Str("path", c.BrowserPath).
			Msg("SURF_BROWSER_PATH contains path traversal sequence (..), ignoring")
		c.BrowserPath = ""
	}

	// Session cap
	if c.MaxSessions < 1 {
		log.Warn().Int("max", c.MaxSessions).Msg("Invalid max sessions, using 20")
		c.MaxSessions = 20
	} else if c.MaxSessions > maxMaxSessions {
		log.Warn().
			Int("sessions", c.MaxSessions).
			Int("max", maxMaxSessions).
			Msg("Max sessions too high, capping to maximum")
		c.MaxSessions = maxMaxSessions
	}

	// Session TTL (minimum 1 second so expiry tests can use short TTLs,
	// maximum 24 hours)
	const maxSessionTTL = 24 * time.Hour
	if c.SessionTTL < time.Second {
		log.Warn().
			Dur("ttl", c.SessionTTL).
			Msg("Session TTL too short, using minimum 1s")
		c.SessionTTL = time.Second
	} else if c.SessionTTL > maxSessionTTL {
		log.Warn().
			Dur("ttl", c.SessionTTL).
			Dur("max", maxSessionTTL).
			Msg("Session TTL too long, using maximum")
		c.SessionTTL = maxSessionTTL
	}

	// Cleanup interval
	const maxCleanupInterval = 1 * time.Hour
	if c.SessionCleanupInterval < minCleanupSeconds {
		log.Warn().
			Dur("interval", c.SessionCleanupInterval).
			Msg("Session cleanup interval too short, using minimum 1s")
		c.SessionCleanupInterval = minCleanupSeconds
	} else if c.SessionCleanupInterval > maxCleanupInterval {
		log.Warn().
			Dur("interval", c.SessionCleanupInterval).
			Dur("max", maxCleanupInterval).
			Msg("Session cleanup interval too long, using maximum")
		c.SessionCleanupInterval = maxCleanupInterval
	}
	if c.SessionCleanupInterval >= c.SessionTTL {
		log.Warn().
			Dur("cleanup_interval", c.SessionCleanupInterval).
			Dur("ttl", c.SessionTTL).
			Msg("SURF_SESSION_CLEANUP_INTERVAL should be less than SURF_SESSION_TTL for timely cleanup")
	}
	if c.SiteMemoryCleanupInterval < minCleanupSeconds {
		log.Warn().
			Dur("interval", c.SiteMemoryCleanupInterval).
			Msg("Site memory cleanup interval too short, using minimum 1s")
		c.SiteMemoryCleanupInterval = minCleanupSeconds
	}

	// Timeouts
	if c.DefaultTimeout < time.Second {
		log.Warn().Dur("timeout", c.DefaultTimeout).Msg("Default timeout too short, using 30s")
		c.DefaultTimeout = 30 * time.Second
	}
	if c.MaxPageLoadTimeout < time.Second {
		log.Warn().Dur("timeout", c.MaxPageLoadTimeout).Msg("Max page load timeout too short, using 60s")
		c.MaxPageLoadTimeout = 60 * time.Second
	}
	if c.DefaultTimeout > c.MaxPageLoadTimeout {
		log.Warn().
			Dur("default", c.DefaultTimeout).
			Dur("max", c.MaxPageLoadTimeout).
			Msg("Default timeout exceeds max page load timeout, adjusting to max")
		c.DefaultTimeout = c.MaxPageLoadTimeout
	}

	// URL length
	if c.MaxURLLength < 16 {
		log.Warn().Int("length", c.MaxURLLength).Msg("Max URL length too small, using 2048")
		c.MaxURLLength = 2048
	} else if c.MaxURLLength > maxURLLengthCap {
		log.Warn().
			Int("length", c.MaxURLLength).
			Int("max", maxURLLengthCap).
			Msg("Max URL length too large, capping to maximum")
		c.MaxURLLength = maxURLLengthCap
	}

	// Resource blocking classes
	valid := c.BlockResources[:0]
	for _, res := range c.BlockResources {
		res = strings.ToLower(strings.TrimSpace(res))
		if types.BlockableResources[res] {
			valid = append(valid, res)
		} else {
			log.Warn().Str("resource", res).Msg("Unknown resource class in SURF_BLOCK_RESOURCES, ignoring")
		}
	}
	c.BlockResources = valid

	// Adaptive pacing bounds. Min > max has no sensible clamp direction.
	if c.AdaptiveRateMinDelay <= 0 {
		log.Warn().Dur("delay", c.AdaptiveRateMinDelay).Msg("Adaptive min delay must be positive, using 500ms")
		c.AdaptiveRateMinDelay = 500 * time.Millisecond
	}
	if c.AdaptiveRateMaxDelay <= 0 {
		log.Warn().Dur("delay", c.AdaptiveRateMaxDelay).Msg("Adaptive max delay must be positive, using 10s")
		c.AdaptiveRateMaxDelay = 10 * time.Second
	}
	if c.AdaptiveRateMinDelay > c.AdaptiveRateMaxDelay {
		return types.NewConfigurationError("SURF_ADAPTIVE_RATE_MIN_DELAY",
			"min delay exceeds max delay")
	}
	if c.AdaptiveRateBaseDelay < c.AdaptiveRateMinDelay {
		log.Warn().
			Dur("base", c.AdaptiveRateBaseDelay).
			Dur("min", c.AdaptiveRateMinDelay).
			Msg("Adaptive base delay below min delay, clamping")
		c.AdaptiveRateBaseDelay = c.AdaptiveRateMinDelay
	} else if c.AdaptiveRateBaseDelay > c.AdaptiveRateMaxDelay {
		log.Warn().
			Dur("base", c.AdaptiveRateBaseDelay).
			Dur("max", c.AdaptiveRateMaxDelay).
			Msg("Adaptive base delay above max delay, clamping")
		c.AdaptiveRateBaseDelay = c.AdaptiveRateMaxDelay
	}
	if c.AdaptiveSuccessIncrement <= 0 || c.AdaptiveSuccessIncrement > 1 {
		log.Warn().Float64("increment", c.AdaptiveSuccessIncrement).Msg("Invalid success increment, using 0.1")
		c.AdaptiveSuccessIncrement = 0.1
	}
	if c.AdaptiveFailureDecrement <= 0 || c.AdaptiveFailureDecrement > 1 {
		log.Warn().Float64("decrement", c.AdaptiveFailureDecrement).Msg("Invalid failure decrement, using 0.2")
		c.AdaptiveFailureDecrement = 0.2
	}

	// Chunking confidence threshold
	if c.ChunkingConfidenceThreshold < 0 || c.ChunkingConfidenceThreshold > 1 {
		log.Warn().
			Float64("threshold", c.ChunkingConfidenceThreshold).
			Msg("Invalid chunking confidence threshold, using 0.7")
		c.ChunkingConfidenceThreshold = 0.7
	}

	// Mouse movement parameters
	if c.MouseBezierPoints < 2 {
		log.Warn().Int("points", c.MouseBezierPoints).Msg("Bezier point count too low, using 20")
		c.MouseBezierPoints = 20
	}
	if c.MouseMinDelay <= 0 || c.MouseMaxDelay < c.MouseMinDelay {
		log.Warn().
			Dur("min", c.MouseMinDelay).
			Dur("max", c.MouseMaxDelay).
			Msg("Invalid mouse step delay range, using 10ms-30ms")
		c.MouseMinDelay = 10 * time.Millisecond
		c.MouseMaxDelay = 30 * time.Millisecond
	}
	if c.MouseReactionDelayMin <= 0 || c.MouseReactionDelayMax < c.MouseReactionDelayMin {
		log.Warn().
			Dur("min", c.MouseReactionDelayMin).
			Dur("max", c.MouseReactionDelayMax).
			Msg("Invalid mouse reaction delay range, using 100ms-300ms")
		c.MouseReactionDelayMin = 100 * time.Millisecond
		c.MouseReactionDelayMax = 300 * time.Millisecond
	}

	// Rate limit
	if c.RateLimitRPM < 1 {
		log.Warn().Int("rpm", c.RateLimitRPM).Msg("Invalid rate limit, using 100 RPM")
		c.RateLimitRPM = 100
	} else if c.RateLimitRPM > maxRateLimitRPM {
		log.Warn().
			Int("rpm", c.RateLimitRPM).
			Int("max", maxRateLimitRPM).
			Msg("Rate limit too high, capping to maximum")
		c.RateLimitRPM = maxRateLimitRPM
	}

	// Monitor interval
	if c.MonitorInterval < time.Second {
		log.Warn().Dur("interval", c.MonitorInterval).Msg("Monitor interval too short, using 30s")
		c.MonitorInterval = 30 * time.Second
	}

	// Log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}

	// Metrics port conflict
	if c.MetricsEnabled && c.MetricsPort == c.Port {
		log.Warn().
			Int("port", c.MetricsPort).
			Msg("SURF_METRICS_PORT conflicts with SURF_PORT, using 9090")
		c.MetricsPort = 9090
	}

	// Pattern override file
	if c.PatternsFile != "" && strings.Contains(c.PatternsFile, "..") {
		log.Error().
			Str("path", c.PatternsFile).
			Msg("SURF_PATTERNS_FILE contains path traversal sequence (..), ignoring")
		c.PatternsFile = ""
	}
	if c.PatternsHotReload && c.PatternsFile == "" {
		log.Warn().Msg("SURF_PATTERNS_HOT_RELOAD enabled but SURF_PATTERNS_FILE not set - hot-reload disabled")
		c.PatternsHotReload = false
	}
	if c.PatternsFile != "" {
		if _, err := os.Stat(c.PatternsFile); os.IsNotExist(err) {
			log.Warn().
				Str("path", c.PatternsFile).
				Msg("SURF_PATTERNS_FILE does not exist - embedded defaults will be used")
		}
	}

	if c.IgnoreCertErrors {
		log.Warn().Msg("SURF_IGNORE_CERT_ERRORS enabled - TLS errors will be ignored by default")
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 32)
		if err == nil {
			return int(intValue)
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Int("default", defaultValue).
			Msg("Invalid integer in environment variable, using default")
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Bool("default", defaultValue).
			Msg("Invalid boolean in environment variable, using default")
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		floatValue, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return floatValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Float64("default", defaultValue).
			Msg("Invalid float in environment variable, using default")
	}
	return defaultValue
}

// getEnvSeconds reads a duration expressed as a plain number of seconds
// (the documented unit for these options) or as a Go duration string.
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	return getEnvScaled(key, defaultValue, time.Second)
}

// getEnvMillis reads a duration expressed as a plain number of milliseconds
// or as a Go duration string.
func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	return getEnvScaled(key, defaultValue, time.Millisecond)
}

func getEnvScaled(key string, defaultValue time.Duration, unit time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		d := time.Duration(n * float64(unit))
		if d > 0 {
			return d
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Dur("default", defaultValue).
			Msg("Duration must be positive, using default")
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	log.Warn().
		Str("key", key).
		Str("value", value).
		Dur("default", defaultValue).
		Msg("Invalid duration in environment variable, using default")
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
