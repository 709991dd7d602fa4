// Package config holds the explicit run configuration passed to every
// component. Values come from defaults, an optional YAML file, RDA_*
// environment variables and command-line flags, in increasing precedence.
// Nothing is guessed at runtime: Validate reports every missing required
// field at once.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sunzc-sunny/RDAnnotator/internal/ledger"
)

// Ledger backends.
const (
	LedgerFS = "fs"
	LedgerS3 = "s3"
)

// Model backends.
const (
	BackendGemini = "gemini"
	BackendOpenAI = "openai"
)

// Defaults.
const (
	DefaultWorkers               = 1
	DefaultRetryMaxAttempts      = 2
	DefaultRetryBackoffSeconds   = 60
	DefaultCaptionN              = 3
	DefaultRequestTimeoutSeconds = 120
	DefaultLogDir                = "./logs"
	DefaultAPIKeySSMParam        = "/rdannotator/prod/api-key"
)

// Config is the full run configuration.
type Config struct {
	// ImageDir holds the images to process.
	ImageDir string `yaml:"image_dir"`
	// AllImageDir holds every image, including exemplar images. Defaults to ImageDir.
	AllImageDir string `yaml:"all_image_dir"`
	// WorkDir is the root under which per-stage directories are derived.
	WorkDir string `yaml:"work_dir"`
	// StageDirs overrides individual stage directories.
	StageDirs map[ledger.Stage]string `yaml:"stage_dirs"`
	// PromptDir is the root of the per-stage exemplar directories.
	PromptDir string `yaml:"prompt_dir"`
	// ExemplarDirs overrides individual exemplar directories by template name.
	ExemplarDirs map[string]string `yaml:"exemplar_dirs"`

	ColorInfoDir    string `yaml:"color_info_dir"`
	NoncolorInfoDir string `yaml:"noncolor_info_dir"`
	// AnnotationDir holds the VisDrone annotation files used by dataset commands.
	AnnotationDir string `yaml:"annotation_dir"`
	LogDir        string `yaml:"log_dir"`

	Workers               int `yaml:"workers"`
	RetryMaxAttempts      int `yaml:"retry_max_attempts"`
	RetryBackoffSeconds   int `yaml:"retry_backoff_seconds"`
	CaptionN              int `yaml:"caption_n"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`

	Backend  string `yaml:"backend"`
	Model    string `yaml:"model"`
	Endpoint string `yaml:"endpoint"`
	// APIKey is never read from the YAML file. ResolveAPIKey sets it from
	// the environment for the current Backend.
	APIKey         string `yaml:"-"`
	APIKeySSMParam string `yaml:"api_key_ssm_param"`
	ExemplarCache  bool   `yaml:"exemplar_cache"`

	Ledger   string `yaml:"ledger"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix"`
	RunTable string `yaml:"run_table"`

	// ClassifierURL points at an external color classifier. Empty selects
	// the built-in HSV classifier.
	ClassifierURL string `yaml:"classifier_url"`

	// Raw key variables, kept so the backend can change after Load.
	envKeys apiKeyEnv
}

type apiKeyEnv struct {
	generic, gemini, openai string
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		LogDir:                DefaultLogDir,
		Workers:               DefaultWorkers,
		RetryMaxAttempts:      DefaultRetryMaxAttempts,
		RetryBackoffSeconds:   DefaultRetryBackoffSeconds,
		CaptionN:              DefaultCaptionN,
		RequestTimeoutSeconds: DefaultRequestTimeoutSeconds,
		Backend:               BackendGemini,
		Ledger:                LedgerFS,
		APIKeySSMParam:        DefaultAPIKeySSMParam,
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveAPIKey picks the API key for the current Backend: RDA_API_KEY,
// then OPENAI_API_KEY or GEMINI_API_KEY. Call it again after changing
// Backend.
func (c *Config) ResolveAPIKey() {
	key := c.envKeys.generic
	if key == "" {
		if c.Backend == BackendOpenAI {
			key = c.envKeys.openai
		} else {
			key = c.envKeys.gemini
		}
	}
	c.APIKey = key
}

func (c *Config) applyEnv() error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	str(&c.ImageDir, "RDA_IMAGE_DIR")
	str(&c.AllImageDir, "RDA_ALL_IMAGE_DIR")
	str(&c.WorkDir, "RDA_WORK_DIR")
	str(&c.PromptDir, "RDA_PROMPT_DIR", "PROMPT_ROOT")
	str(&c.ColorInfoDir, "RDA_COLOR_INFO_DIR")
	str(&c.NoncolorInfoDir, "RDA_NONCOLOR_INFO_DIR", "NONCOLOR_INFO_DIR")
	str(&c.AnnotationDir, "RDA_ANNOTATION_DIR")
	str(&c.LogDir, "RDA_LOG_DIR", "LOG_DIR")
	str(&c.Backend, "RDA_BACKEND")
	str(&c.Model, "RDA_MODEL")
	str(&c.Endpoint, "RDA_ENDPOINT", "OPENAI_API_URL")
	str(&c.APIKeySSMParam, "RDA_API_KEY_SSM_PARAM")
	str(&c.Ledger, "RDA_LEDGER")
	str(&c.S3Bucket, "RDA_S3_BUCKET")
	str(&c.S3Prefix, "RDA_S3_PREFIX")
	str(&c.RunTable, "RDA_RUN_TABLE")
	str(&c.ClassifierURL, "RDA_CLASSIFIER_URL")
	c.envKeys = apiKeyEnv{
		generic: os.Getenv("RDA_API_KEY"),
		gemini:  os.Getenv("GEMINI_API_KEY"),
		openai:  os.Getenv("OPENAI_API_KEY"),
	}
	c.ResolveAPIKey()

	ints := []struct {
		dst *int
		key string
	}{
		{&c.Workers, "RDA_WORKERS"},
		{&c.RetryMaxAttempts, "RDA_RETRY_MAX_ATTEMPTS"},
		{&c.RetryBackoffSeconds, "RDA_RETRY_BACKOFF_SECONDS"},
		{&c.CaptionN, "RDA_CAPTION_N"},
		{&c.RequestTimeoutSeconds, "RDA_REQUEST_TIMEOUT_SECONDS"},
	}
	for _, e := range ints {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", e.key, v, err)
		}
		*e.dst = n
	}

	if v := os.Getenv("RDA_EXEMPLAR_CACHE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid RDA_EXEMPLAR_CACHE=%q: %w", v, err)
		}
		c.ExemplarCache = b
	}
	return nil
}

// ImageSource returns the directory exemplar and query images are read from.
func (c *Config) ImageSource() string {
	if c.AllImageDir != "" {
		return c.AllImageDir
	}
	return c.ImageDir
}

// StageDir returns the artifact directory of stage: the explicit override,
// else <WorkDir>/<stage>, else "" when neither is set.
func (c *Config) StageDir(stage ledger.Stage) string {
	if dir := c.StageDirs[stage]; dir != "" {
		return dir
	}
	if c.WorkDir == "" {
		return ""
	}
	return filepath.Join(c.WorkDir, string(stage))
}

// LedgerDirs returns the directory of every stage.
func (c *Config) LedgerDirs() map[ledger.Stage]string {
	dirs := make(map[ledger.Stage]string, len(ledger.AllStages))
	for _, s := range ledger.AllStages {
		if dir := c.StageDir(s); dir != "" {
			dirs[s] = dir
		}
	}
	return dirs
}

// ExemplarDir returns the exemplar directory for a template name.
func (c *Config) ExemplarDir(name string) string {
	if dir := c.ExemplarDirs[name]; dir != "" {
		return dir
	}
	if c.PromptDir == "" {
		return ""
	}
	return filepath.Join(c.PromptDir, name)
}

// BatchDir returns the directory holding batch manifests.
func (c *Config) BatchDir() string {
	return filepath.Join(c.WorkDir, "batches")
}

// RetryBackoff returns the backoff as a duration.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds) * time.Second
}

// RequestTimeout returns the per-call timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Needs selects which optional groups of fields Validate requires.
type Needs struct {
	Images       bool
	ColorInfo    bool
	NoncolorInfo bool
	Prompts      bool
	Model        bool
	Annotations  bool
}

// MissingError lists every required field that is unset or invalid.
type MissingError struct {
	Fields []string
}

func (e *MissingError) Error() string {
	return "missing required configuration: " + strings.Join(e.Fields, ", ")
}

// Validate checks the fields required by needs and the always-required
// ledger settings.
func (c *Config) Validate(needs Needs) error {
	var missing []string
	req := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}

	switch c.Ledger {
	case LedgerFS:
		for _, s := range ledger.AllStages {
			if c.StageDir(s) == "" {
				missing = append(missing, "work_dir (or stage_dirs."+string(s)+")")
				break
			}
		}
	case LedgerS3:
		req(c.S3Bucket != "", "s3_bucket")
	default:
		missing = append(missing, fmt.Sprintf("ledger (got %q, want fs or s3)", c.Ledger))
	}

	if needs.Images {
		req(c.ImageDir != "", "image_dir")
	}
	if needs.ColorInfo {
		req(c.ColorInfoDir != "", "color_info_dir")
	}
	if needs.NoncolorInfo {
		req(c.NoncolorInfoDir != "", "noncolor_info_dir")
	}
	if needs.Prompts {
		req(c.PromptDir != "" || len(c.ExemplarDirs) > 0, "prompt_dir")
	}
	if needs.Annotations {
		req(c.AnnotationDir != "", "annotation_dir")
	}
	if needs.Model {
		switch c.Backend {
		case BackendGemini, BackendOpenAI:
		default:
			missing = append(missing, fmt.Sprintf("backend (got %q, want gemini or openai)", c.Backend))
		}
		req(c.Workers >= 1, "workers (>= 1)")
		req(c.RetryMaxAttempts >= 1, "retry_max_attempts (>= 1)")
		req(c.RetryBackoffSeconds >= 0, "retry_backoff_seconds (>= 0)")
		req(c.CaptionN >= 1, "caption_n (>= 1)")
	}

	if len(missing) > 0 {
		return &MissingError{Fields: missing}
	}
	return nil
}
