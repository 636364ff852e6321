package logging

import (
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects identity, endpoints, feature flags and
// configuration, then emits a single structured event describing how the
// process was started. Secrets must never be registered.
type StartupLogger struct {
	name         string
	version      string
	initDuration time.Duration

	endpoints map[string]string
	features  map[string]bool
	config    map[string]string
}

// NewStartupLogger creates a StartupLogger for the given binary name
// (e.g. "tastebuddy", "scan-server").
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:      name,
		endpoints: make(map[string]string),
		features:  make(map[string]bool),
		config:    make(map[string]string),
	}
}

// Version sets the build version string.
func (s *StartupLogger) Version(v string) *StartupLogger {
	s.version = v
	return s
}

// Endpoint registers a remote or listening address.
func (s *StartupLogger) Endpoint(label, addr string) *StartupLogger {
	s.endpoints[label] = addr
	return s
}

// Feature registers a boolean feature flag (e.g. "stream", "gemini").
func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config registers a non-sensitive configuration key-value pair.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

// InitDuration records how long startup took.
func (s *StartupLogger) InitDuration(d time.Duration) *StartupLogger {
	s.initDuration = d
	return s
}

// EnvOrDefault returns the value of the named environment variable, or
// defaultVal if the variable is empty or unset.
func EnvOrDefault(envVar, defaultVal string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return defaultVal
}

// Log emits a single structured DEBUG event with all collected information.
func (s *StartupLogger) Log() {
	evt := log.Debug()
	if !evt.Enabled() {
		return
	}

	process := zerolog.Dict().
		Str("name", s.name).
		Str("goVersion", runtime.Version()).
		Str("os", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("pid", os.Getpid())
	if s.version != "" {
		process = process.Str("version", s.version)
	}
	evt = evt.Dict("process", process)

	if len(s.endpoints) > 0 {
		evt = evt.Dict("endpoints", dictFromMap(s.endpoints))
	}

	if len(s.features) > 0 {
		d := zerolog.Dict()
		for k, v := range s.features {
			d = d.Bool(k, v)
		}
		evt = evt.Dict("features", d)
	}

	if len(s.config) > 0 {
		evt = evt.Dict("config", dictFromMap(s.config))
	}

	if s.initDuration > 0 {
		evt = evt.Dur("initDuration", s.initDuration)
	}

	evt.Msg("Startup complete")
}

// dictFromMap converts a map[string]string into a zerolog.Event (Dict).
func dictFromMap(m map[string]string) *zerolog.Event {
	d := zerolog.Dict()
	for k, v := range m {
		d = d.Str(k, v)
	}
	return d
}
