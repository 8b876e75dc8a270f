package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/mcp-replace-server/internal/bulkedit"
	"github.com/sha1n/mcp-replace-server/internal/cms"
	"github.com/sha1n/mcp-replace-server/internal/config"
	"github.com/sha1n/mcp-replace-server/internal/domain"
	"github.com/sha1n/mcp-replace-server/internal/jobs"
	mcputil "github.com/sha1n/mcp-replace-server/internal/mcp"
	"github.com/sha1n/mcp-replace-server/internal/snapshot"
)

// JobReader looks up batch jobs for the HTTP status endpoint.
type JobReader interface {
	Get(id string) (*domain.JobRecord, error)
}

// Runtime is the running service: the MCP server and what the HTTP
// transport exposes next to it.
type Runtime struct {
	Server *mcp.Server

	// Jobs serves GET /jobs/{id}. Nil when batch jobs are unavailable.
	Jobs JobReader

	// Cleanup releases stores and stops the job backends.
	Cleanup func()
}

// CreateRuntime opens the stores, sweeps expired records, starts the job
// orchestrator and creates the MCP server with the bulk-edit tools.
func CreateRuntime(ctx context.Context, settings *config.Settings) (*Runtime, error) {
	logger := slog.Default()
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if err := os.MkdirAll(settings.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	jobStore, err := jobs.OpenStore(settings.JobsDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	if n, err := jobStore.Sweep(settings.Jobs.RetentionMaxAge, settings.Jobs.RetentionMaxCount); err != nil {
		slog.Error("Job retention sweep failed", "error", err)
	} else if n > 0 {
		slog.Info("Job retention sweep", "removed", n)
	}

	snapshots := openSnapshotStore(settings, logger)
	closers = append(closers, func() {
		if err := snapshots.Close(); err != nil {
			slog.Error("Failed to close snapshot store", "error", err)
		}
	})
	if n, err := snapshots.Sweep(settings.Snapshots.RetentionMaxAge, settings.Snapshots.RetentionMaxCount); err != nil {
		slog.Error("Snapshot retention sweep failed", "error", err)
	} else if n > 0 {
		slog.Info("Snapshot retention sweep", "removed", n)
	}

	svcOpts := bulkedit.Options{
		Snapshots:        snapshots,
		MaxPatternLength: settings.Rules.MaxPatternLength,
		RequireSnapshot:  settings.Jobs.RequireSnapshot,
		Logger:           logger,
	}

	var jobReader JobReader
	if settings.CMS.APIKey == "" {
		slog.Warn("CMS api key not configured, entry tools and batch jobs are disabled")
	} else {
		client, err := cms.NewClient(cms.Config{
			BaseURL:         settings.CMS.BaseURL,
			APIKey:          settings.CMS.APIKey,
			ManagementToken: settings.CMS.ManagementToken,
			Branch:          settings.CMS.Branch,
			Locale:          settings.CMS.Locale,
			Timeout:         settings.CMS.Timeout,
			Logger:          logger,
		})
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to create cms client: %w", err)
		}

		orch := jobs.NewOrchestrator(jobs.Options{
			Store: jobStore,
			Processor: jobs.NewProcessor(client, snapshots, jobs.ProcessorOptions{
				RequireSnapshot: settings.Jobs.RequireSnapshot,
				Logger:          logger,
			}),
			Primary:          openQueueBackend(ctx, settings, logger),
			MaxPatternLength: settings.Rules.MaxPatternLength,
			Logger:           logger,
		})
		orch.Start(ctx)
		closers = append(closers, func() {
			if err := orch.Close(); err != nil {
				slog.Error("Failed to stop job orchestrator", "error", err)
			}
		})

		svcOpts.CMS = client
		svcOpts.Jobs = orch
		jobReader = orch
	}

	server := mcputil.CreateServer(mcputil.ServerConfig{
		Name:     "replace-mcp",
		Version:  "1.0.0",
		BulkEdit: bulkedit.NewService(svcOpts),
	})

	return &Runtime{Server: server, Jobs: jobReader, Cleanup: cleanup}, nil
}

// openSnapshotStore opens the snapshot store, without its lookup index if
// the index cannot be opened.
func openSnapshotStore(settings *config.Settings, logger *slog.Logger) *snapshot.Store {
	dir := settings.SnapshotsDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("Failed to create snapshots directory", "path", dir, "error", err)
	}
	index, err := snapshot.OpenIndex(filepath.Join(dir, snapshot.IndexDirName))
	if err != nil {
		slog.Warn("Snapshot index unavailable, lookups will scan the directory", "error", err)
		index = nil
	}
	return snapshot.NewStore(dir, index, logger)
}

// openQueueBackend returns the durable backend selected by settings, or nil
// when jobs should run in memory. A queue that cannot be opened is logged
// and jobs fall back to memory.
func openQueueBackend(ctx context.Context, settings *config.Settings, logger *slog.Logger) jobs.Backend {
	switch settings.Jobs.Backend {
	case config.JobsBackendMemory:
		return nil
	case config.JobsBackendAuto:
		if settings.Jobs.QueuePath == "" {
			return nil
		}
	}

	queue, err := jobs.OpenQueue(ctx, settings.Jobs.QueuePath, jobs.QueueOptions{
		Visibility:   settings.Jobs.Visibility,
		PollInterval: settings.Jobs.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		slog.Warn("Job queue unavailable, using in-memory backend", "path", settings.Jobs.QueuePath, "error", err)
		return nil
	}
	return jobs.NewQueueBackend(queue, settings.Jobs.Workers, logger)
}
