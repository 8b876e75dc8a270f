package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of all environment variables read by LoadSettings
const EnvPrefix = "REPLACE_MCP"

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// Job backend constants
const (
	JobsBackendAuto   = "auto"
	JobsBackendQueue  = "queue"
	JobsBackendMemory = "memory"
)

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CMSSettings configuration for the content management API
type CMSSettings struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	ManagementToken string        `mapstructure:"management_token"`
	Branch          string        `mapstructure:"branch"`
	Locale          string        `mapstructure:"locale"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// JobsSettings configuration for batch job execution
type JobsSettings struct {
	Backend           string        `mapstructure:"backend"` // JobsBackendAuto, JobsBackendQueue, or JobsBackendMemory
	QueuePath         string        `mapstructure:"queue_path"`
	Workers           int           `mapstructure:"workers"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	Visibility        time.Duration `mapstructure:"visibility"`
	RetentionMaxAge   time.Duration `mapstructure:"retention_max_age"`
	RetentionMaxCount int           `mapstructure:"retention_max_count"`
	RequireSnapshot   bool          `mapstructure:"require_snapshot"`
}

// SnapshotSettings configuration for snapshot retention
type SnapshotSettings struct {
	RetentionMaxAge   time.Duration `mapstructure:"retention_max_age"`
	RetentionMaxCount int           `mapstructure:"retention_max_count"`
}

// RulesSettings limits on user supplied rules
type RulesSettings struct {
	MaxPatternLength int `mapstructure:"max_pattern_length"`
}

// Settings application settings
type Settings struct {
	Transport string           `mapstructure:"transport"`
	Host      string           `mapstructure:"host"`
	Port      int              `mapstructure:"port"`
	Auth      AuthSettings     `mapstructure:"auth"`
	CMS       CMSSettings      `mapstructure:"cms"`
	DataDir   string           `mapstructure:"data_dir"`
	Jobs      JobsSettings     `mapstructure:"jobs"`
	Snapshots SnapshotSettings `mapstructure:"snapshots"`
	Rules     RulesSettings    `mapstructure:"rules"`
}

// JobsDir is where job records are stored
func (s *Settings) JobsDir() string {
	return filepath.Join(s.DataDir, "jobs")
}

// SnapshotsDir is where entry snapshots are stored
func (s *Settings) SnapshotsDir() string {
	return filepath.Join(s.DataDir, "snapshots")
}

// settingKeys maps each nested setting to its CLI flag name.
// Environment variables are derived as REPLACE_MCP_<KEY> with dots replaced by underscores.
var settingKeys = []struct {
	key  string
	flag string
}{
	{"transport", "transport"},
	{"host", "host"},
	{"port", "port"},
	{"auth.type", "auth-type"},
	{"auth.basic.username", "auth-basic-username"},
	{"auth.basic.password", "auth-basic-password"},
	{"auth.api_keys", "auth-api-keys"},
	{"cms.base_url", "cms-base-url"},
	{"cms.api_key", "cms-api-key"},
	{"cms.management_token", "cms-management-token"},
	{"cms.branch", "cms-branch"},
	{"cms.locale", "cms-locale"},
	{"cms.timeout", "cms-timeout"},
	{"data_dir", "data-dir"},
	{"jobs.backend", "jobs-backend"},
	{"jobs.queue_path", "jobs-queue-path"},
	{"jobs.workers", "jobs-workers"},
	{"jobs.poll_interval", "jobs-poll-interval"},
	{"jobs.visibility", "jobs-visibility"},
	{"jobs.retention_max_age", "jobs-retention-max-age"},
	{"jobs.retention_max_count", "jobs-retention-max-count"},
	{"jobs.require_snapshot", "jobs-require-snapshot"},
	{"snapshots.retention_max_age", "snapshots-retention-max-age"},
	{"snapshots.retention_max_count", "snapshots-retention-max-count"},
	{"rules.max_pattern_length", "rules-max-pattern-length"},
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	// Default values
	v.SetDefault("transport", "stdio")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("auth.type", AuthTypeNone)

	// CMS defaults
	v.SetDefault("cms.base_url", "https://api.contentstack.io")
	v.SetDefault("cms.branch", "main")
	v.SetDefault("cms.locale", "en-us")
	v.SetDefault("cms.timeout", 30*time.Second)

	// Storage and job defaults
	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("jobs.backend", JobsBackendAuto)
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.poll_interval", time.Second)
	v.SetDefault("jobs.visibility", 15*time.Minute)
	v.SetDefault("jobs.retention_max_age", 7*24*time.Hour)
	v.SetDefault("jobs.retention_max_count", 2000)
	v.SetDefault("jobs.require_snapshot", false)
	v.SetDefault("snapshots.retention_max_age", 30*24*time.Hour)
	v.SetDefault("snapshots.retention_max_count", 10000)
	v.SetDefault("rules.max_pattern_length", 512)

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific env vars for nested config
	for _, s := range settingKeys {
		_ = v.BindEnv(s.key, envName(s.key))
	}

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		for _, s := range settingKeys {
			if f := flags.Lookup(s.flag); f != nil {
				_ = v.BindPFlag(s.key, f)
			}
		}
	}

	// Helper to look for .env file
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	// Handle explicit parsing of API keys if provided via env var as comma-separated string
	apiKeysEnv := os.Getenv(envName("auth.api_keys"))
	if apiKeysEnv != "" {
		if len(settings.Auth.APIKeys) == 0 || (len(settings.Auth.APIKeys) == 1 && strings.Contains(settings.Auth.APIKeys[0], ",")) {
			settings.Auth.APIKeys = strings.Split(apiKeysEnv, ",")
		}
	}

	// Trim spaces from API keys
	for i := range settings.Auth.APIKeys {
		settings.Auth.APIKeys[i] = strings.TrimSpace(settings.Auth.APIKeys[i])
	}
	settings.Auth.APIKeys = filterEmptyStrings(settings.Auth.APIKeys)

	settings.CMS.BaseURL = strings.TrimSuffix(strings.TrimSpace(settings.CMS.BaseURL), "/")
	settings.Jobs.Backend = strings.ToLower(strings.TrimSpace(settings.Jobs.Backend))

	// Expand home directory in paths
	settings.DataDir = expandHomeDir(settings.DataDir)
	settings.Jobs.QueuePath = expandHomeDir(settings.Jobs.QueuePath)

	return &settings, nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// defaultDataDir returns the default directory for job records and snapshots
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".replace-mcp"
	}
	return filepath.Join(home, ".replace-mcp")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// filterEmptyStrings removes empty strings from a slice
func filterEmptyStrings(s []string) []string {
	var result []string
	for _, str := range s {
		if str != "" {
			result = append(result, str)
		}
	}
	return result
}

// ValidateSettings checks for conflicting configurations.
// Returns an error if the settings contain mutually exclusive or incomplete config.
func ValidateSettings(s *Settings) error {
	// Validate transport type
	switch s.Transport {
	case "stdio", "sse":
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Transport)
	}

	if err := validateAuthSettings(&s.Auth); err != nil {
		return err
	}

	if s.DataDir == "" {
		return errors.New("data-dir cannot be empty")
	}

	if s.CMS.Timeout <= 0 {
		return errors.New("cms-timeout must be positive")
	}

	if err := validateJobsSettings(&s.Jobs); err != nil {
		return err
	}

	if s.Snapshots.RetentionMaxAge <= 0 {
		return errors.New("snapshots-retention-max-age must be positive")
	}
	if s.Snapshots.RetentionMaxCount <= 0 {
		return errors.New("snapshots-retention-max-count must be positive")
	}

	if s.Rules.MaxPatternLength <= 0 {
		return errors.New("rules-max-pattern-length must be positive")
	}

	return nil
}

func validateAuthSettings(a *AuthSettings) error {
	hasBasicCreds := a.Basic.Username != "" || a.Basic.Password != ""
	hasAPIKeys := len(a.APIKeys) > 0

	switch a.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if a.Basic.Username == "" || a.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + a.Type)
	}
	return nil
}

// validateJobsSettings validates the batch job configuration
func validateJobsSettings(j *JobsSettings) error {
	switch j.Backend {
	case JobsBackendAuto, JobsBackendMemory:
	case JobsBackendQueue:
		if j.QueuePath == "" {
			return errors.New("jobs-backend 'queue' requires jobs-queue-path")
		}
	default:
		return fmt.Errorf("jobs-backend must be 'auto', 'queue' or 'memory', got: %s", j.Backend)
	}

	if j.Workers <= 0 {
		return errors.New("jobs-workers must be positive")
	}
	if j.PollInterval <= 0 {
		return errors.New("jobs-poll-interval must be positive")
	}
	if j.Visibility <= 0 {
		return errors.New("jobs-visibility must be positive")
	}
	if j.RetentionMaxAge <= 0 {
		return errors.New("jobs-retention-max-age must be positive")
	}
	if j.RetentionMaxCount <= 0 {
		return errors.New("jobs-retention-max-count must be positive")
	}
	return nil
}
