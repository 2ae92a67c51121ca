package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for chainscout.
type Config struct {
	// CDP connection settings
	CDPAddress         string
	CDPPort            int
	TabURLFilter       string
	EvalTimeoutMS      int
	LaunchBrowser      bool
	CloseBrowserOnExit bool
	BrowserProfileDir  string
	BrowserBinary      string

	// API settings
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Logging
	LogLevel string
	LogFile  string

	// Paths
	DataDir     string
	SnapshotDir string
	SessionFile string
	ProfileFile string

	// Credentials, env only.
	Username string
	Password string

	// Auth behavior
	SessionTimeoutSec  int
	MaxLoginAttempts   int
	AuthPollTimeoutSec int
	ManualWaitSec      int

	// Scan behavior
	Underlying        string
	CentLow           int
	CentHigh          int
	HistoryCap        int
	MinFields         int
	MaxContracts      int
	ScanIntervalMS    int
	SettleMS          int
	Sides             []string
	MaxPremium        float64
	BreakerThreshold  int
	BreakerCooldownS  int
	ScreenshotOnClick bool

	// Schedules (robfig/cron, with seconds)
	PersistCron string
	BiasCron    string
	SessionCron string
	ArchiveCron string

	// Persistence
	RecorderDriver string
	RecorderDSN    string
	StreamDir      string
	StreamMaxMB    int
	StreamBuffer   int
	CaptureTraffic bool
	CaptureMaxBody int

	// Optional sinks
	NATSURL        string
	NATSSubject    string
	RedisAddr      string
	RedisDB        int
	InfluxURL      string
	InfluxDatabase string
	InfluxUser     string
	InfluxPassword string
	S3Bucket       string
	S3Region       string
	S3Prefix       string
	NTFYEndpoint   string

	// Market bias
	BiasSymbol string
	RSIPeriod  int

	Profile Profile
}

// Load reads configuration from environment variables, an optional .env file
// and an optional YAML site profile.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:         getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:            getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		TabURLFilter:       getEnvOrDefault("CHAINSCOUT_TAB_URL_FILTER", "robinhood.com"),
		EvalTimeoutMS:      getEnvIntOrDefault("CHAINSCOUT_EVAL_TIMEOUT_MS", 5000),
		LaunchBrowser:      getEnvBoolOrDefault("BROWSER_LAUNCH", true),
		CloseBrowserOnExit: getEnvBoolOrDefault("BROWSER_CLOSE_ON_EXIT", false),
		BrowserProfileDir:  getEnvOrDefault("BROWSER_PROFILE_DIR", "./browser_profile"),
		BrowserBinary:      os.Getenv("BROWSER_BINARY"),

		BindAddr:         getEnvOrDefault("CHAINSCOUT_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:   splitList(getEnvOrDefault("CHAINSCOUT_PORT_CANDIDATES", "127.0.0.1:8191,127.0.0.1:8192,127.0.0.1:8193")),
		PortAutoFallback: getEnvBoolOrDefault("CHAINSCOUT_PORT_AUTO_FALLBACK", true),

		LogLevel: strings.ToLower(getEnvOrDefault("CHAINSCOUT_LOG_LEVEL", "info")),
		LogFile:  getEnvOrDefault("CHAINSCOUT_LOG_FILE", "logs/chainscout.log"),

		DataDir:     getEnvOrDefault("CHAINSCOUT_DATA_DIR", "./data"),
		SnapshotDir: getEnvOrDefault("SNAPSHOT_DIR", "./logs/screenshots"),
		SessionFile: getEnvOrDefault("SESSION_FILE", "./config/session_data.json"),
		ProfileFile: getEnvOrDefault("CHAINSCOUT_CONFIG", "chainscout.yaml"),

		Username: os.Getenv("BROKER_USERNAME"),
		Password: os.Getenv("BROKER_PASSWORD"),

		SessionTimeoutSec:  getEnvIntOrDefault("SESSION_TIMEOUT_SEC", 3600),
		MaxLoginAttempts:   getEnvIntOrDefault("MAX_LOGIN_ATTEMPTS", 3),
		AuthPollTimeoutSec: getEnvIntOrDefault("AUTH_POLL_TIMEOUT_SEC", 180),
		ManualWaitSec:      getEnvIntOrDefault("MFA_MANUAL_WAIT_SEC", 120),

		Underlying:        strings.ToUpper(getEnvOrDefault("CHAINSCOUT_UNDERLYING", "SPY")),
		CentLow:           getEnvIntOrDefault("CHAINSCOUT_CENT_LOW", 8),
		CentHigh:          getEnvIntOrDefault("CHAINSCOUT_CENT_HIGH", 16),
		HistoryCap:        getEnvIntOrDefault("CHAINSCOUT_HISTORY_CAP", 100),
		MinFields:         getEnvIntOrDefault("CHAINSCOUT_MIN_FIELDS", 3),
		MaxContracts:      getEnvIntOrDefault("CHAINSCOUT_MAX_CONTRACTS", 3),
		ScanIntervalMS:    getEnvIntOrDefault("CHAINSCOUT_SCAN_INTERVAL_MS", 1000),
		SettleMS:          getEnvIntOrDefault("CHAINSCOUT_SETTLE_MS", 1500),
		Sides:             splitList(getEnvOrDefault("CHAINSCOUT_SIDES", "")),
		MaxPremium:        getEnvFloatOrDefault("CHAINSCOUT_MAX_PREMIUM", 50),
		BreakerThreshold:  getEnvIntOrDefault("CHAINSCOUT_BREAKER_THRESHOLD", 5),
		BreakerCooldownS:  getEnvIntOrDefault("CHAINSCOUT_BREAKER_COOLDOWN_SEC", 120),
		ScreenshotOnClick: getEnvBoolOrDefault("SCREENSHOT_ON_CLICK", false),

		PersistCron: getEnvOrDefault("CRON_PERSIST", "*/30 * * * * *"),
		BiasCron:    getEnvOrDefault("CRON_BIAS", "0 * * * * *"),
		SessionCron: getEnvOrDefault("CRON_SESSION", "0 */5 * * * *"),
		ArchiveCron: getEnvOrDefault("CRON_ARCHIVE", "0 0 * * * *"),

		RecorderDriver: strings.ToLower(getEnvOrDefault("RECORDER_DRIVER", "sqlite")),
		RecorderDSN:    getEnvOrDefault("RECORDER_DSN", "./data/chainscout.db"),
		StreamDir:      getEnvOrDefault("STREAM_DIR", "./data/stream"),
		StreamMaxMB:    getEnvIntOrDefault("STREAM_MAX_FILE_SIZE_MB", 100),
		StreamBuffer:   getEnvIntOrDefault("STREAM_BUFFER_SIZE", 1000),
		CaptureTraffic: getEnvBoolOrDefault("CAPTURE_TRAFFIC", false),
		CaptureMaxBody: getEnvIntOrDefault("CAPTURE_MAX_BODY_BYTES", 2*1024*1024),

		NATSURL:        os.Getenv("NATS_URL"),
		NATSSubject:    getEnvOrDefault("NATS_SUBJECT_PREFIX", "chainscout.datapoints"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisDB:        getEnvIntOrDefault("REDIS_DB", 0),
		InfluxURL:      os.Getenv("INFLUX_URL"),
		InfluxDatabase: getEnvOrDefault("INFLUX_DATABASE", "chainscout"),
		InfluxUser:     os.Getenv("INFLUX_USER"),
		InfluxPassword: os.Getenv("INFLUX_PASSWORD"),
		S3Bucket:       os.Getenv("ARCHIVE_S3_BUCKET"),
		S3Region:       getEnvOrDefault("ARCHIVE_S3_REGION", "us-east-1"),
		S3Prefix:       getEnvOrDefault("ARCHIVE_S3_PREFIX", "chainscout"),
		NTFYEndpoint:   os.Getenv("NTFY_ENDPOINT"),

		BiasSymbol: getEnvOrDefault("BIAS_SYMBOL", "SPY"),
		RSIPeriod:  getEnvIntOrDefault("BIAS_RSI_PERIOD", 14),
	}

	profile, err := LoadProfile(cfg.ProfileFile)
	if err != nil {
		return nil, err
	}
	cfg.Profile = profile

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate clamps soft limits and rejects settings that cannot work.
func (c *Config) validate() error {
	if c.EvalTimeoutMS < 1000 {
		c.EvalTimeoutMS = 1000
	}
	if c.ScanIntervalMS < 1000 {
		c.ScanIntervalMS = 1000
	}
	if c.HistoryCap < 10 {
		c.HistoryCap = 10
	}
	if c.HistoryCap > 200 {
		c.HistoryCap = 200
	}
	if c.MinFields < 1 {
		c.MinFields = 1
	}
	if c.MaxContracts < 1 {
		c.MaxContracts = 1
	}
	if c.MaxLoginAttempts < 1 {
		c.MaxLoginAttempts = 1
	}
	if c.CentLow < 1 || c.CentHigh > 99 || c.CentLow > c.CentHigh {
		return fmt.Errorf("config: invalid cent range %d..%d", c.CentLow, c.CentHigh)
	}
	for _, s := range c.Sides {
		if s != "call" && s != "put" {
			return fmt.Errorf("config: invalid side %q (want call or put)", s)
		}
	}
	switch c.RecorderDriver {
	case "sqlite", "postgres", "none":
	default:
		return fmt.Errorf("config: unsupported recorder driver %q", c.RecorderDriver)
	}
	return nil
}

// CDPURL returns the CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

// ChainURL returns the options chain URL for the configured underlying.
func (c *Config) ChainURL() string {
	return strings.ReplaceAll(c.Profile.ChainURL, "{symbol}", c.Underlying)
}

// HasCredentials reports whether both username and password were supplied.
func (c *Config) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
