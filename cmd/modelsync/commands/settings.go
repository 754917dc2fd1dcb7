package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/modelsync/pkg/engine"
	"github.com/openfroyo/modelsync/pkg/model"
	"github.com/openfroyo/modelsync/pkg/telemetry"
)

// envPrefix prefixes every environment override.
const envPrefix = "MODELSYNC_"

// Settings is the modelsync settings file.
type Settings struct {
	// SchemaDir holds the CUE resource definitions.
	SchemaDir string `yaml:"schema_dir" validate:"required"`

	// ExtensionDir holds one CUE file per extension module.
	ExtensionDir string `yaml:"extension_dir"`

	// Database is the SQLite pass history. Empty disables recording.
	Database string `yaml:"database"`

	// PolicyDir holds Rego exclusion policies.
	PolicyDir string `yaml:"policy_dir"`

	// ServerMode enables the built-in server exclusion policy.
	ServerMode bool `yaml:"server_mode"`

	// ReadOnlyPaths are path resources the server policy excludes.
	ReadOnlyPaths []string `yaml:"read_only_paths"`

	// RejectedPaths are address patterns filtered out of both models.
	RejectedPaths []string `yaml:"rejected_paths" validate:"dive,required"`

	// Telemetry configures logging, metrics, tracing and events.
	Telemetry *telemetry.Config `yaml:"telemetry" validate:"required"`
}

// DefaultSettings returns the settings used when no file is given.
func DefaultSettings() *Settings {
	return &Settings{
		SchemaDir: "schema",
		Telemetry: telemetry.DefaultConfig(),
	}
}

// LoadSettings reads the settings file at path, if any, then applies the
// .env file and MODELSYNC_* environment overrides.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	s.applyEnvOverrides()

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings and the telemetry configuration.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	for _, p := range s.RejectedPaths {
		if _, err := model.ParsePath(p); err != nil {
			return fmt.Errorf("invalid rejected path %q: %w", p, err)
		}
	}
	return s.Telemetry.Validate()
}

// PathFilter builds the filter applied to both models.
func (s *Settings) PathFilter() *engine.PathFilter {
	b := engine.NewPathFilterBuilder().SetAccept(true)
	for _, p := range s.RejectedPaths {
		b.AddReject(model.MustParsePath(p))
	}
	return b.Build()
}

func (s *Settings) applyEnvOverrides() {
	if v, ok := getEnvStr("SCHEMA_DIR"); ok {
		s.SchemaDir = v
	}
	if v, ok := getEnvStr("EXTENSION_DIR"); ok {
		s.ExtensionDir = v
	}
	if v, ok := getEnvStr("DATABASE"); ok {
		s.Database = v
	}
	if v, ok := getEnvStr("POLICY_DIR"); ok {
		s.PolicyDir = v
	}
	if v, ok := getEnvBool("SERVER_MODE"); ok {
		s.ServerMode = v
	}
	if v, ok := getEnvCSV("READ_ONLY_PATHS"); ok {
		s.ReadOnlyPaths = v
	}
	if v, ok := getEnvCSV("REJECTED_PATHS"); ok {
		s.RejectedPaths = v
	}

	// TELEMETRY
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		s.Telemetry.Logging.Level = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_FORMAT"); ok {
		s.Telemetry.Logging.Format = v
	}
	if v, ok := getEnvBool("METRICS_ENABLED"); ok {
		s.Telemetry.Metrics.Enabled = v
	}
	if v, ok := getEnvStr("METRICS_ADDR"); ok {
		s.Telemetry.Metrics.ListenAddress = v
	}
	if v, ok := getEnvBool("TRACING_ENABLED"); ok {
		s.Telemetry.Tracing.Enabled = v
	}
	if v, ok := getEnvStr("TRACING_ENDPOINT"); ok {
		s.Telemetry.Tracing.Endpoint = v
	}
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvCSV(key string) ([]string, bool) {
	s, ok := getEnvStr(key)
	if !ok {
		return nil, false
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, true
}
