// Package config provides configuration management for the timetable service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the timetable service.
type Config struct {
	// Server settings
	Port               int
	LogLevel           string
	RateLimitPerMinute int
	RequestTimeout     time.Duration // caps a single request, full sweeps included
	IdleShutdownAfter  time.Duration // 0 disables idle auto-shutdown

	// Browser pool settings
	BrowserPoolSize       int
	BrowserMaxUsage       int
	BrowserAcquireTimeout time.Duration
	ChromePath            string

	// Session settings
	SessionTTL time.Duration

	// Portal settings
	PortalLoginURL     string
	CaptchaWaitTimeout time.Duration
	LoginWaitTimeout   time.Duration
	NavWaitTimeout     time.Duration
	TableWaitTimeout   time.Duration
	OptionsRetryDelay  time.Duration
	PageSettleDelay    time.Duration
	MaxWeeksDefault    int

	// Memory watchdog settings
	MemoryRejectMB      uint64
	MemoryCleanupMB     uint64
	MemoryCheckInterval time.Duration
	MemoryIdleCutoff    time.Duration
}

// DefaultPortalLoginURL is the CAS entry that bounces into the student portal.
const DefaultPortalLoginURL = "https://cas.cdp.edu.cn/lyuapServer/login?service=https://aic.cdp.edu.cn/xsgl/xs/login_CDSSO.aspx"

// Load creates a Config from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:               getEnvInt("PORT", 8000),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", 5*time.Minute),
		IdleShutdownAfter:  getEnvDuration("IDLE_SHUTDOWN_AFTER", 0),

		BrowserPoolSize:       getEnvInt("BROWSER_POOL_SIZE", 5),
		BrowserMaxUsage:       getEnvInt("BROWSER_MAX_USAGE", 15),
		BrowserAcquireTimeout: getEnvDuration("BROWSER_ACQUIRE_TIMEOUT", 10*time.Second),
		ChromePath:            getEnv("CHROME_PATH", ""),

		SessionTTL: getEnvDuration("SESSION_TTL", 240*time.Second),

		PortalLoginURL:     getEnv("PORTAL_LOGIN_URL", DefaultPortalLoginURL),
		CaptchaWaitTimeout: getEnvDuration("CAPTCHA_WAIT_TIMEOUT", 15*time.Second),
		LoginWaitTimeout:   getEnvDuration("LOGIN_WAIT_TIMEOUT", 30*time.Second),
		NavWaitTimeout:     getEnvDuration("NAV_WAIT_TIMEOUT", 15*time.Second),
		TableWaitTimeout:   getEnvDuration("TABLE_WAIT_TIMEOUT", 5*time.Second),
		OptionsRetryDelay:  getEnvDuration("OPTIONS_RETRY_DELAY", 600*time.Millisecond),
		PageSettleDelay:    getEnvDuration("PAGE_SETTLE_DELAY", time.Second),
		MaxWeeksDefault:    getEnvInt("MAX_WEEKS_DEFAULT", 19),

		MemoryRejectMB:      uint64(getEnvInt("MEMORY_REJECT_MB", 500)),
		MemoryCleanupMB:     uint64(getEnvInt("MEMORY_CLEANUP_MB", 400)),
		MemoryCheckInterval: getEnvDuration("MEMORY_CHECK_INTERVAL", 30*time.Second),
		MemoryIdleCutoff:    getEnvDuration("MEMORY_IDLE_CUTOFF", 3*time.Minute),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
