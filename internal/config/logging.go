package config

import (
	"context"
	"log/slog"
)

// Log logs the resolved settings in a granular way, skipping irrelevant ones
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: transport", "value", s.Transport)
	if s.Transport == "sse" {
		logger.InfoContext(ctx, "Config: host", "value", s.Host)
		logger.InfoContext(ctx, "Config: port", "value", s.Port)
	}

	logger.InfoContext(ctx, "Config: auth.type", "value", s.Auth.Type)
	switch s.Auth.Type {
	case AuthTypeBasic:
		logger.InfoContext(ctx, "Config: auth.basic.username", "value", s.Auth.Basic.Username)
		logger.InfoContext(ctx, "Config: auth.basic.password", "value", "****")
	case AuthTypeAPIKey:
		logger.InfoContext(ctx, "Config: auth.api_keys", "count", len(s.Auth.APIKeys))
	}

	logger.InfoContext(ctx, "Config: cms.base_url", "value", s.CMS.BaseURL)
	logger.InfoContext(ctx, "Config: cms.api_key", "value", mask(s.CMS.APIKey))
	logger.InfoContext(ctx, "Config: cms.management_token", "value", mask(s.CMS.ManagementToken))
	logger.InfoContext(ctx, "Config: cms.branch", "value", s.CMS.Branch)
	logger.InfoContext(ctx, "Config: cms.locale", "value", s.CMS.Locale)
	logger.InfoContext(ctx, "Config: cms.timeout", "value", s.CMS.Timeout)

	logger.InfoContext(ctx, "Config: data_dir", "value", s.DataDir)
	logger.InfoContext(ctx, "Config: jobs.backend", "value", s.Jobs.Backend)
	if s.Jobs.QueuePath != "" {
		logger.InfoContext(ctx, "Config: jobs.queue_path", "value", s.Jobs.QueuePath)
		logger.InfoContext(ctx, "Config: jobs.workers", "value", s.Jobs.Workers)
	}
	logger.InfoContext(ctx, "Config: jobs.retention", "max_age", s.Jobs.RetentionMaxAge, "max_count", s.Jobs.RetentionMaxCount)
	logger.InfoContext(ctx, "Config: jobs.require_snapshot", "value", s.Jobs.RequireSnapshot)
	logger.InfoContext(ctx, "Config: snapshots.retention", "max_age", s.Snapshots.RetentionMaxAge, "max_count", s.Snapshots.RetentionMaxCount)
	logger.InfoContext(ctx, "Config: rules.max_pattern_length", "value", s.Rules.MaxPatternLength)
}

// mask hides a secret, showing only whether it is set
func mask(secret string) string {
	if secret == "" {
		return "<unset>"
	}
	return "****"
}

// AuthSettingsLogValue returns a slog.Value for AuthSettings with masked data
func AuthSettingsLogValue(s AuthSettings) slog.Value {
	keys := make([]string, len(s.APIKeys))
	for i := range s.APIKeys {
		keys[i] = "****"
	}
	return slog.GroupValue(
		slog.String("type", s.Type),
		slog.Any("basic", BasicAuthSettingsLogValue(s.Basic)),
		slog.Any("api_keys", keys),
	)
}

// BasicAuthSettingsLogValue returns a slog.Value for BasicAuthSettings with masked data
func BasicAuthSettingsLogValue(s BasicAuthSettings) slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("password", "****"),
	)
}

// SettingsLogValue returns a slog.Value for Settings with masked data
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.String("transport", s.Transport),
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.Any("auth", AuthSettingsLogValue(s.Auth)),
		slog.Any("cms", CMSSettingsLogValue(s.CMS)),
		slog.String("data_dir", s.DataDir),
		slog.String("jobs_backend", s.Jobs.Backend),
	)
}

// CMSSettingsLogValue returns a slog.Value for CMSSettings with masked data
func CMSSettingsLogValue(s CMSSettings) slog.Value {
	return slog.GroupValue(
		slog.String("base_url", s.BaseURL),
		slog.String("api_key", mask(s.APIKey)),
		slog.String("management_token", mask(s.ManagementToken)),
		slog.String("branch", s.Branch),
		slog.String("locale", s.Locale),
		slog.Duration("timeout", s.Timeout),
	)
}
