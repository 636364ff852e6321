package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so the host environment does
// not leak into tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		EnvAPIURL, EnvToken, EnvStream, EnvPollInterval, EnvPollTimeout, EnvMaxFailures,
		EnvMaxDimension, EnvHistoryPath, EnvProfilePath, EnvMetrics, EnvServerAddr,
		EnvStageDelay, EnvGeminiKey, EnvGeminiModel, EnvHistoryTable, EnvGeminiParam, EnvUploadBucket,
	} {
		t.Setenv(k, "")
	}
	t.Chdir(t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Stream || cfg.PollInterval != 2*time.Second || cfg.PollTimeout != 120*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxFailures != 3 || cfg.MaxDimension != 1600 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if !strings.HasSuffix(cfg.HistoryPath, filepath.Join(".tastebuddy", "history.zst")) {
		t.Errorf("HistoryPath = %s", cfg.HistoryPath)
	}
	if !errors.Is(cfg.Validate(), ErrMissingAPIURL) {
		t.Errorf("Validate without URL = %v", cfg.Validate())
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIURL, "https://api.example.com/v1/")
	t.Setenv(EnvStream, "false")
	t.Setenv(EnvPollInterval, "500")
	t.Setenv(EnvPollTimeout, "30s")
	t.Setenv(EnvMaxFailures, "5")
	t.Setenv(EnvHistoryTable, "scan-history")
	t.Setenv(EnvUploadBucket, "scan-uploads")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIURL != "https://api.example.com/v1" || cfg.Stream {
		t.Errorf("got %+v", cfg)
	}
	if cfg.PollInterval != 500*time.Millisecond || cfg.PollTimeout != 30*time.Second || cfg.MaxFailures != 5 {
		t.Errorf("got %+v", cfg)
	}
	if cfg.HistoryTable != "scan-history" || cfg.Server.UploadBucket != "scan-uploads" {
		t.Errorf("got %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvStream, "maybe")
	t.Setenv(EnvMaxFailures, "-1")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{EnvStream, EnvMaxFailures} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error should name %s: %v", name, err)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	// t.Setenv("") leaves the variable set but empty; godotenv does not
	// override set variables, so unset it for this case.
	os.Unsetenv(EnvAPIURL)

	if err := os.WriteFile(".env", []byte(EnvAPIURL+"=http://localhost:8080\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIURL != "http://localhost:8080" {
		t.Errorf("APIURL = %q", cfg.APIURL)
	}

	if _, err := Load("missing.env"); err == nil {
		t.Error("explicit missing env file should fail")
	}
}

func TestValidateRejects(t *testing.T) {
	cfg := Config{APIURL: "ftp://x", PollInterval: time.Second, PollTimeout: time.Minute}
	if err := cfg.Validate(); err == nil {
		t.Error("expected scheme error")
	}
	cfg = Config{APIURL: "https://x", PollInterval: time.Minute, PollTimeout: time.Second}
	if err := cfg.Validate(); err == nil {
		t.Error("expected interval/timeout error")
	}
}
