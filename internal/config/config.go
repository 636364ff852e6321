// Package config loads client and development-server settings from the
// environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvAPIURL       = "TASTEBUDDY_API_URL"
	EnvToken        = "TASTEBUDDY_TOKEN"
	EnvStream       = "TASTEBUDDY_STREAM"
	EnvPollInterval = "TASTEBUDDY_POLL_INTERVAL"
	EnvPollTimeout  = "TASTEBUDDY_POLL_TIMEOUT"
	EnvMaxFailures  = "TASTEBUDDY_MAX_FAILURES"
	EnvMaxDimension = "TASTEBUDDY_MAX_IMAGE_DIMENSION"
	EnvHistoryPath  = "TASTEBUDDY_HISTORY_PATH"
	EnvHistoryTable = "TASTEBUDDY_HISTORY_TABLE"
	EnvProfilePath  = "TASTEBUDDY_PROFILE"
	EnvMetrics      = "TASTEBUDDY_METRICS"
	EnvServerAddr   = "TASTEBUDDY_SERVER_ADDR"
	EnvStageDelay   = "TASTEBUDDY_STAGE_DELAY"
	EnvGeminiKey    = "GEMINI_API_KEY"
	EnvGeminiModel  = "GEMINI_MODEL"
	EnvGeminiParam  = "GEMINI_API_KEY_PARAM"
	EnvUploadBucket = "TASTEBUDDY_UPLOAD_BUCKET"
)

// Defaults.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollTimeout  = 120 * time.Second
	DefaultMaxFailures  = 3
	DefaultMaxDimension = 1600
	DefaultServerAddr   = ":8080"
	DefaultStageDelay   = 400 * time.Millisecond
	DefaultGeminiModel  = "gemini-2.5-flash"
)

// Config holds client settings.
type Config struct {
	APIURL       string
	Stream       bool
	PollInterval time.Duration
	PollTimeout  time.Duration
	MaxFailures  int
	MaxDimension int
	HistoryPath  string
	// HistoryTable, when set, stores history in this DynamoDB table
	// instead of HistoryPath.
	HistoryTable string
	ProfilePath  string
	// Metrics is the telemetry destination: "" disables, "-" is stdout,
	// "cloudwatch:<group>/<stream>" ships to CloudWatch Logs and anything
	// else is a file path.
	Metrics string

	Server ServerConfig
}

// ServerConfig holds development scan-server settings.
type ServerConfig struct {
	Addr         string
	StageDelay   time.Duration
	GeminiAPIKey string
	// GeminiKeyParam names an SSM parameter holding the key. It is read
	// only when GeminiAPIKey is empty.
	GeminiKeyParam string
	GeminiModel    string
	// UploadBucket, when set, archives every accepted image to S3.
	UploadBucket string
}

// ErrMissingAPIURL is returned by Validate when no backend is configured.
var ErrMissingAPIURL = errors.New(EnvAPIURL + " is required")

// Load reads configuration from the environment. A .env file in the
// working directory, if present, seeds variables that are not already set.
// envFile overrides the .env location when non-empty.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load(".env")
	}

	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".tastebuddy")

	cfg := Config{
		APIURL:      strings.TrimRight(getEnv(EnvAPIURL, ""), "/"),
		HistoryPath:  getEnv(EnvHistoryPath, filepath.Join(dataDir, "history.zst")),
		HistoryTable: getEnv(EnvHistoryTable, ""),
		ProfilePath:  getEnv(EnvProfilePath, filepath.Join(dataDir, "profile.json")),
		Metrics:      getEnv(EnvMetrics, ""),
		Server: ServerConfig{
			Addr:           getEnv(EnvServerAddr, DefaultServerAddr),
			GeminiAPIKey:   getEnv(EnvGeminiKey, ""),
			GeminiKeyParam: getEnv(EnvGeminiParam, ""),
			GeminiModel:    getEnv(EnvGeminiModel, DefaultGeminiModel),
			UploadBucket:   getEnv(EnvUploadBucket, ""),
		},
	}

	var errs []error
	var err error
	if cfg.Stream, err = getEnvBool(EnvStream, true); err != nil {
		errs = append(errs, err)
	}
	if cfg.PollInterval, err = getEnvDuration(EnvPollInterval, DefaultPollInterval); err != nil {
		errs = append(errs, err)
	}
	if cfg.PollTimeout, err = getEnvDuration(EnvPollTimeout, DefaultPollTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxFailures, err = getEnvInt(EnvMaxFailures, DefaultMaxFailures); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxDimension, err = getEnvInt(EnvMaxDimension, DefaultMaxDimension); err != nil {
		errs = append(errs, err)
	}
	if cfg.Server.StageDelay, err = getEnvDuration(EnvStageDelay, DefaultStageDelay); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings needed to talk to the backend.
func (c Config) Validate() error {
	if c.APIURL == "" {
		return ErrMissingAPIURL
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", EnvAPIURL, c.APIURL)
	}
	if c.PollInterval >= c.PollTimeout {
		return fmt.Errorf("%s (%s) must be shorter than %s (%s)", EnvPollInterval, c.PollInterval, EnvPollTimeout, c.PollTimeout)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return b, nil
}

func getEnvInt(key string, defaultVal int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s: expected a positive integer, got %q", key, v)
	}
	return n, nil
}

// getEnvDuration accepts Go durations ("2s") or plain milliseconds ("2000").
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultVal, nil
	}
	if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}
