// Package config provides application configuration management.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Configuration upper bounds to prevent resource exhaustion.
const (
	maxPoolSize      = 50
	maxMaxSessions   = 10000
	maxTimeout       = 10 * time.Minute
	maxRateLimitRPM  = 10000
	minSecretLength  = 32 // Minimum JWT/session secret length in production
	maxWSPayloadCap  = 16 * 1024 * 1024
	maxUploadFileCap = 1024 // MAX_FILES hard cap
)

// Environment names accepted in NODE_ENV.
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

// Config holds all application configuration.
// Configuration is loaded from environment variables at startup.
type Config struct {
	// Server settings
	Environment string
	Host        string
	Port        int
	GRPCPort    int
	TLSEnabled  bool
	TLSCertPath string
	TLSKeyPath  string
	CORSOrigins []string

	// Secrets
	JWTSecret     string
	SessionSecret string

	// API key authentication (optional, in addition to JWT)
	APIKeyEnabled bool
	APIKey        string

	// Session store
	SessionStoreType       string // memory | remote
	RedisURL               string
	SessionTimeout         time.Duration
	SessionCleanupInterval time.Duration
	MaxSessions            int

	// Browser settings
	Headless    bool
	BrowserPath string
	StealthMode bool

	// Pool sizing
	PoolMinSize     int
	PoolMaxSize     int
	PoolAcquireWait time.Duration

	// Pool health
	HealthCheckInterval time.Duration
	MaxMemoryMB         int
	MaxPagesPerBrowser  int

	// Pool recycling
	RecycleStrategy    string // time | usage | health | resource | hybrid
	MaxBrowserLifetime time.Duration
	MaxBrowserIdleTime time.Duration
	MaxBrowserUses     int
	RecycleHealthFloor float64
	RecyclingCooldown  time.Duration
	MaintenanceStartHr int // wall-clock hour [0,23]; window for batch recycling
	MaintenanceEndHr   int

	// Pool circuit breaker
	BreakerFailureThreshold int
	BreakerRollingWindow    time.Duration
	BreakerOpenDuration     time.Duration

	// Pool scaling
	ScalingInterval    time.Duration
	ScaleUpThreshold   float64
	ScaleDownThreshold float64
	ScalingSamples     int

	// Pages
	PageIdleTimeout time.Duration

	// Action limits
	MaxFiles       int
	MaxFileSizeMB  int
	UploadBasePath string
	AllowedSchemes []string
	AllowedDomains []string
	StrictSelector bool
	PolicyPath     string // optional YAML policy overrides
	PolicyReload   bool

	// Timeouts
	DefaultTimeout time.Duration
	MaxTimeoutCap  time.Duration

	// WebSocket
	WSEnabled           bool
	WSPath              string
	WSHeartbeatInterval time.Duration
	WSMaxPayload        int64

	// Tool protocol
	MCPTransport string // stdio | http
	MCPPort      int

	// Rate limiting
	RateLimitEnabled bool
	RateLimitRPM     int
	TrustProxy       bool

	// Logging
	LogLevel  string
	LogFormat string // json | pretty

	// Audit
	AuditEnabled   bool
	AuditLogPath   string
	AuditQueueSize int
}

// Load loads configuration from environment variables.
// Returns a Config with values from environment or sensible defaults.
func Load() *Config {
	return &Config{
		Environment: getEnvString("NODE_ENV", EnvDevelopment),
		// Default to localhost for security; set HOST=0.0.0.0 explicitly
		// to bind all interfaces.
		Host:        getEnvString("HOST", "127.0.0.1"),
		Port:        getEnvInt("PORT", 8443),
		GRPCPort:    getEnvInt("GRPC_PORT", 50051),
		TLSEnabled:  getEnvBool("TLS_ENABLED", false),
		TLSCertPath: getEnvString("TLS_CERT_PATH", ""),
		TLSKeyPath:  getEnvString("TLS_KEY_PATH", ""),
		CORSOrigins: getEnvStringSlice("CORS_ORIGIN", nil),

		JWTSecret:     getEnvString("JWT_SECRET", ""),
		SessionSecret: getEnvString("SESSION_SECRET", ""),

		APIKeyEnabled: getEnvBool("API_KEY_ENABLED", false),
		APIKey:        getEnvString("API_KEY", ""),

		SessionStoreType:       getEnvString("SESSION_STORE_TYPE", "memory"),
		RedisURL:               getEnvString("REDIS_URL", ""),
		SessionTimeout:         getEnvDuration("SESSION_TIMEOUT", 30*time.Minute),
		SessionCleanupInterval: getEnvDuration("SESSION_CLEANUP_INTERVAL", 1*time.Minute),
		MaxSessions:            getEnvInt("MAX_SESSIONS", 1000),

		Headless:    getEnvBool("HEADLESS", true),
		BrowserPath: getEnvString("BROWSER_PATH", ""),
		StealthMode: getEnvBool("STEALTH_MODE", false),

		PoolMinSize:     getEnvInt("BROWSER_POOL_MIN_SIZE", 1),
		PoolMaxSize:     getEnvInt("BROWSER_POOL_MAX_SIZE", 5),
		PoolAcquireWait: getEnvDuration("BROWSER_POOL_ACQUIRE_TIMEOUT", 30*time.Second),

		HealthCheckInterval: getEnvDuration("BROWSER_HEALTH_CHECK_INTERVAL", 30*time.Second),
		MaxMemoryMB:         getEnvInt("MAX_MEMORY_MB", 2048),
		MaxPagesPerBrowser:  getEnvInt("MAX_PAGES_PER_BROWSER", 20),

		RecycleStrategy:    getEnvString("BROWSER_RECYCLE_STRATEGY", "hybrid"),
		MaxBrowserLifetime: getEnvDuration("BROWSER_MAX_LIFETIME", 30*time.Minute),
		MaxBrowserIdleTime: getEnvDuration("BROWSER_IDLE_TIMEOUT", 10*time.Minute),
		MaxBrowserUses:     getEnvInt("BROWSER_MAX_USES", 100),
		RecycleHealthFloor: getEnvFloat("BROWSER_RECYCLE_HEALTH_FLOOR", 0.5),
		RecyclingCooldown:  getEnvDuration("BROWSER_RECYCLE_COOLDOWN", 1*time.Minute),
		MaintenanceStartHr: getEnvInt("BROWSER_MAINTENANCE_START_HOUR", 3),
		MaintenanceEndHr:   getEnvInt("BROWSER_MAINTENANCE_END_HOUR", 5),

		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerRollingWindow:    getEnvDuration("BREAKER_ROLLING_WINDOW", 1*time.Minute),
		BreakerOpenDuration:     getEnvDuration("BREAKER_OPEN_DURATION", 30*time.Second),

		ScalingInterval:    getEnvDuration("BROWSER_SCALING_INTERVAL", 10*time.Second),
		ScaleUpThreshold:   getEnvFloat("BROWSER_SCALE_UP_THRESHOLD", 0.8),
		ScaleDownThreshold: getEnvFloat("BROWSER_SCALE_DOWN_THRESHOLD", 0.3),
		ScalingSamples:     getEnvInt("BROWSER_SCALING_SAMPLES", 3),

		PageIdleTimeout: getEnvDuration("PAGE_IDLE_TIMEOUT", 15*time.Minute),

		MaxFiles:       getEnvInt("MAX_FILES", 10),
		MaxFileSizeMB:  getEnvInt("MAX_FILE_SIZE_MB", 100),
		UploadBasePath: getEnvString("UPLOAD_BASE_PATH", "/tmp/uploads"),
		AllowedSchemes: getEnvStringSlice("ALLOWED_URL_SCHEMES", []string{"http", "https"}),
		AllowedDomains: getEnvStringSlice("ALLOWED_DOMAINS", nil),
		StrictSelector: getEnvBool("STRICT_SELECTOR_VALIDATION", false),
		PolicyPath:     getEnvString("POLICY_PATH", ""),
		PolicyReload:   getEnvBool("POLICY_HOT_RELOAD", false),

		DefaultTimeout: getEnvDuration("DEFAULT_TIMEOUT", 30*time.Second),
		MaxTimeoutCap:  getEnvDuration("MAX_TIMEOUT", 5*time.Minute),

		WSEnabled:           getEnvBool("WS_ENABLED", true),
		WSPath:              getEnvString("WS_PATH", "/ws"),
		WSHeartbeatInterval: getEnvDuration("WS_HEARTBEAT_INTERVAL", 30*time.Second),
		WSMaxPayload:        int64(getEnvInt("WS_MAX_PAYLOAD", 1024*1024)),

		MCPTransport: getEnvString("MCP_TRANSPORT", "stdio"),
		MCPPort:      getEnvInt("MCP_PORT", 3001),

		RateLimitEnabled: getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitRPM:     getEnvInt("RATE_LIMIT_RPM", 120),
		TrustProxy:       getEnvBool("TRUST_PROXY", false),

		LogLevel:  getEnvString("LOG_LEVEL", "info"),
		LogFormat: getEnvString("LOG_FORMAT", "json"),

		AuditEnabled:   getEnvBool("AUDIT_LOG_ENABLED", true),
		AuditLogPath:   getEnvString("AUDIT_LOG_PATH", "./logs/audit"),
		AuditQueueSize: getEnvInt("AUDIT_QUEUE_SIZE", 4096),
	}
}

// IsProduction reports whether the server runs with production hardening.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

// Validate checks configuration values, clamping out-of-range values to
// sensible defaults with a warning. It returns an error only for settings
// that cannot be corrected, such as missing production secrets.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Environment) {
	case EnvDevelopment, EnvTest, EnvProduction:
		c.Environment = strings.ToLower(c.Environment)
	default:
		log.Warn().Str("env", c.Environment).Msg("Unknown NODE_ENV, using development")
		c.Environment = EnvDevelopment
	}

	// Secrets are fatal in production; in development an insecure default
	// with a loud warning keeps local iteration friction-free.
	if c.IsProduction() {
		if len(c.JWTSecret) < minSecretLength {
			return fmt.Errorf("JWT_SECRET must be at least %d characters in production", minSecretLength)
		}
		if len(c.SessionSecret) < minSecretLength {
			return fmt.Errorf("SESSION_SECRET must be at least %d characters in production", minSecretLength)
		}
	} else {
		if c.JWTSecret == "" {
			log.Warn().Msg("JWT_SECRET not set - using insecure development default")
			c.JWTSecret = "insecure-development-jwt-secret-do-not-use"
		}
		if c.SessionSecret == "" {
			log.Warn().Msg("SESSION_SECRET not set - using insecure development default")
			c.SessionSecret = "insecure-development-session-secret-00"
		}
	}

	if c.Port < 0 || c.Port > 65535 {
		log.Warn().Int("port", c.Port).Msg("Invalid port, using default 8443")
		c.Port = 8443
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 || c.GRPCPort == c.Port {
		log.Warn().Int("port", c.GRPCPort).Msg("Invalid gRPC port, using default 50051")
		c.GRPCPort = 50051
	}

	if c.TLSEnabled {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return fmt.Errorf("TLS_ENABLED requires TLS_CERT_PATH and TLS_KEY_PATH")
		}
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS_CERT_PATH: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS_KEY_PATH: %w", err)
		}
	}

	// BrowserPath validation - prevent path traversal
	if c.BrowserPath != "" && strings.Contains(c.BrowserPath, "..") {
		log.Error().Str("path", c.BrowserPath).Msg("BROWSER_PATH contains path traversal sequence, ignoring")
		c.BrowserPath = ""
	}

	// Pool sizing
	if c.PoolMaxSize < 1 {
		log.Warn().Int("size", c.PoolMaxSize).Msg("Invalid pool max size, using 5")
		c.PoolMaxSize = 5
	} else if c.PoolMaxSize > maxPoolSize {
		log.Warn().Int("size", c.PoolMaxSize).Int("max", maxPoolSize).Msg("Pool max size too large, capping")
		c.PoolMaxSize = maxPoolSize
	}
	if c.PoolMinSize < 0 {
		c.PoolMinSize = 0
	}
	if c.PoolMinSize > c.PoolMaxSize {
		log.Warn().
			Int("min", c.PoolMinSize).
			Int("max", c.PoolMaxSize).
			Msg("Pool min size exceeds max size, clamping to max")
		c.PoolMinSize = c.PoolMaxSize
	}

	if c.MaxMemoryMB < 256 {
		log.Warn().Int("mb", c.MaxMemoryMB).Msg("Memory limit too low, using 2048")
		c.MaxMemoryMB = 2048
	}
	if c.MaxPagesPerBrowser < 1 {
		log.Warn().Int("pages", c.MaxPagesPerBrowser).Msg("Invalid max pages per browser, using 20")
		c.MaxPagesPerBrowser = 20
	}

	// Recycling
	switch strings.ToLower(c.RecycleStrategy) {
	case "time", "usage", "health", "resource", "hybrid":
		c.RecycleStrategy = strings.ToLower(c.RecycleStrategy)
	default:
		log.Warn().Str("strategy", c.RecycleStrategy).Msg("Unknown recycle strategy, using hybrid")
		c.RecycleStrategy = "hybrid"
	}
	if c.RecycleHealthFloor < 0 || c.RecycleHealthFloor > 1 {
		log.Warn().Float64("floor", c.RecycleHealthFloor).Msg("Invalid recycle health floor, using 0.5")
		c.RecycleHealthFloor = 0.5
	}
	if c.MaintenanceStartHr < 0 || c.MaintenanceStartHr > 23 {
		c.MaintenanceStartHr = 3
	}
	if c.MaintenanceEndHr < 0 || c.MaintenanceEndHr > 23 {
		c.MaintenanceEndHr = 5
	}

	// Circuit breaker
	if c.BreakerFailureThreshold < 1 {
		c.BreakerFailureThreshold = 5
	}
	if c.BreakerOpenDuration < time.Second {
		c.BreakerOpenDuration = 30 * time.Second
	}
	if c.BreakerRollingWindow < time.Second {
		c.BreakerRollingWindow = time.Minute
	}

	// Scaling
	if c.ScaleUpThreshold <= 0 || c.ScaleUpThreshold > 1 {
		c.ScaleUpThreshold = 0.8
	}
	if c.ScaleDownThreshold < 0 || c.ScaleDownThreshold >= c.ScaleUpThreshold {
		c.ScaleDownThreshold = 0.3
	}
	if c.ScalingSamples < 1 {
		c.ScalingSamples = 3
	}

	// Timeouts: validate the cap first so the default can be clamped to it.
	if c.MaxTimeoutCap < time.Second {
		log.Warn().Dur("timeout", c.MaxTimeoutCap).Msg("Max timeout too short, using 5m")
		c.MaxTimeoutCap = 5 * time.Minute
	} else if c.MaxTimeoutCap > maxTimeout {
		log.Warn().Dur("timeout", c.MaxTimeoutCap).Dur("max", maxTimeout).Msg("Max timeout too long, capping")
		c.MaxTimeoutCap = maxTimeout
	}
	if c.DefaultTimeout < time.Second {
		log.Warn().Dur("timeout", c.DefaultTimeout).Msg("Default timeout too short, using 30s")
		c.DefaultTimeout = 30 * time.Second
	}
	if c.DefaultTimeout > c.MaxTimeoutCap {
		c.DefaultTimeout = c.MaxTimeoutCap
	}

	// Sessions
	switch strings.ToLower(c.SessionStoreType) {
	case "memory", "remote":
		c.SessionStoreType = strings.ToLower(c.SessionStoreType)
	default:
		log.Warn().Str("type", c.SessionStoreType).Msg("Unknown SESSION_STORE_TYPE, using memory")
		c.SessionStoreType = "memory"
	}
	if c.SessionStoreType == "remote" && c.RedisURL == "" {
		log.Warn().Msg("SESSION_STORE_TYPE=remote but REDIS_URL not set - falling back to memory store")
		c.SessionStoreType = "memory"
	}
	if c.SessionTimeout < time.Minute {
		log.Warn().Dur("timeout", c.SessionTimeout).Msg("Session timeout too short, using minimum 1m")
		c.SessionTimeout = time.Minute
	}
	if c.SessionCleanupInterval < 10*time.Second {
		log.Warn().Dur("interval", c.SessionCleanupInterval).Msg("Session cleanup interval too short, using minimum 10s")
		c.SessionCleanupInterval = 10 * time.Second
	}
	if c.SessionCleanupInterval >= c.SessionTimeout {
		log.Warn().
			Dur("cleanup_interval", c.SessionCleanupInterval).
			Dur("timeout", c.SessionTimeout).
			Msg("SESSION_CLEANUP_INTERVAL should be less than SESSION_TIMEOUT for timely cleanup")
	}
	if c.MaxSessions < 1 {
		c.MaxSessions = 1000
	} else if c.MaxSessions > maxMaxSessions {
		c.MaxSessions = maxMaxSessions
	}

	// Uploads
	if c.MaxFiles < 1 {
		c.MaxFiles = 10
	} else if c.MaxFiles > maxUploadFileCap {
		log.Warn().Int("files", c.MaxFiles).Int("max", maxUploadFileCap).Msg("MAX_FILES too high, capping")
		c.MaxFiles = maxUploadFileCap
	}
	if c.MaxFileSizeMB < 1 {
		c.MaxFileSizeMB = 100
	}
	if strings.Contains(c.UploadBasePath, "..") {
		log.Error().Str("path", c.UploadBasePath).Msg("UPLOAD_BASE_PATH contains path traversal sequence, using default")
		c.UploadBasePath = "/tmp/uploads"
	}

	// WebSocket
	if !strings.HasPrefix(c.WSPath, "/") {
		c.WSPath = "/" + c.WSPath
	}
	if c.WSMaxPayload < 1024 {
		log.Warn().Int64("bytes", c.WSMaxPayload).Msg("WS_MAX_PAYLOAD too small, using 1MiB")
		c.WSMaxPayload = 1024 * 1024
	} else if c.WSMaxPayload > maxWSPayloadCap {
		c.WSMaxPayload = maxWSPayloadCap
	}
	if c.WSHeartbeatInterval < time.Second {
		c.WSHeartbeatInterval = 30 * time.Second
	}

	// Tool protocol
	switch strings.ToLower(c.MCPTransport) {
	case "stdio", "http":
		c.MCPTransport = strings.ToLower(c.MCPTransport)
	default:
		log.Warn().Str("transport", c.MCPTransport).Msg("Unknown MCP_TRANSPORT, using stdio")
		c.MCPTransport = "stdio"
	}

	// Rate limiting
	if c.RateLimitEnabled {
		if c.RateLimitRPM < 1 {
			log.Warn().Int("rpm", c.RateLimitRPM).Msg("Invalid rate limit, using 120 RPM")
			c.RateLimitRPM = 120
		} else if c.RateLimitRPM > maxRateLimitRPM {
			c.RateLimitRPM = maxRateLimitRPM
		}
	}

	// Logging
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		log.Warn().Str("level", c.LogLevel).Msg("Invalid log level, using 'info'")
		c.LogLevel = "info"
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "pretty":
		c.LogFormat = strings.ToLower(c.LogFormat)
	default:
		log.Warn().Str("format", c.LogFormat).Msg("Invalid log format, using 'json'")
		c.LogFormat = "json"
	}

	// API key
	if c.APIKeyEnabled && c.APIKey == "" {
		log.Error().Msg("API_KEY_ENABLED is true but API_KEY is empty - API key authentication will always fail")
	}

	// Audit
	if c.AuditQueueSize < 64 {
		c.AuditQueueSize = 4096
	}

	// CORS
	if len(c.CORSOrigins) == 0 && c.IsProduction() {
		log.Warn().Msg("CORS_ORIGIN not set in production - allowing all origins (potential CSRF risk)")
	}

	return nil
}

// MaxFileSizeBytes returns the upload size limit in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// InMaintenanceWindow reports whether the given wall-clock time falls inside
// the scheduled maintenance window for batch recycling.
func (c *Config) InMaintenanceWindow(now time.Time) bool {
	h := now.Hour()
	if c.MaintenanceStartHr <= c.MaintenanceEndHr {
		return h >= c.MaintenanceStartHr && h < c.MaintenanceEndHr
	}
	// Window wraps midnight
	return h >= c.MaintenanceStartHr || h < c.MaintenanceEndHr
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			if duration > 0 {
				return duration
			}
			log.Warn().
				Str("key", key).
				Str("value", value).
				Dur("default", defaultValue).
				Msg("Duration must be positive, using default")
			return defaultValue
		}
		log.Warn().
			Str("key", key).
			Str("value", value).
			Err(err).
			Dur("default", defaultValue).
			Msg("Invalid duration in environment variable, using default")
	}
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
