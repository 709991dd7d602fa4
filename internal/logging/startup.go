package logging

import (
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartupLogger collects run identity, directories, storage backends and
// feature flags, then emits a single structured zerolog event describing how
// the run was configured. Only paths and names are recorded, never secrets.
type StartupLogger struct {
	name         string
	runID        string
	initDuration time.Duration

	dirs     map[string]string
	backends map[string]string
	features map[string]bool
	config   map[string]string
}

// NewStartupLogger creates a StartupLogger for the given command name
// (e.g. "rda run", "rda-proxy").
func NewStartupLogger(name string) *StartupLogger {
	return &StartupLogger{
		name:     name,
		dirs:     make(map[string]string),
		backends: make(map[string]string),
		features: make(map[string]bool),
		config:   make(map[string]string),
	}
}

// RunID sets the identifier of the current run.
func (s *StartupLogger) RunID(id string) *StartupLogger {
	s.runID = id
	return s
}

// Dir registers a directory the run reads from or writes to.
func (s *StartupLogger) Dir(label, path string) *StartupLogger {
	if path != "" {
		s.dirs[label] = path
	}
	return s
}

// Backend registers a storage or model backend (e.g. "ledger" -> "s3://bucket/prefix").
func (s *StartupLogger) Backend(label, target string) *StartupLogger {
	s.backends[label] = target
	return s
}

// Feature registers a boolean feature flag (e.g. "exemplarCache", "metrics").
func (s *StartupLogger) Feature(name string, enabled bool) *StartupLogger {
	s.features[name] = enabled
	return s
}

// Config registers a non-sensitive configuration key-value pair.
func (s *StartupLogger) Config(key, value string) *StartupLogger {
	s.config[key] = value
	return s
}

// InitDuration records how long startup took before the first item.
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

// Log emits a single structured INFO log event with all collected information.
func (s *StartupLogger) Log() {
	evt := log.Info()

	runDict := zerolog.Dict().
		Str("name", s.name).
		Str("goVersion", runtime.Version()).
		Str("arch", runtime.GOARCH).
		Str("logLevel", os.Getenv("RDA_LOG_LEVEL"))
	if s.runID != "" {
		runDict = runDict.Str("runId", s.runID)
	}
	if fn := os.Getenv("AWS_LAMBDA_FUNCTION_NAME"); fn != "" {
		runDict = runDict.Str("functionName", fn).Str("region", os.Getenv("AWS_REGION"))
	}
	evt = evt.Dict("run", runDict)

	if len(s.dirs) > 0 {
		evt = evt.Dict("dirs", dictFromMap(s.dirs))
	}
	if len(s.backends) > 0 {
		evt = evt.Dict("backends", dictFromMap(s.backends))
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
