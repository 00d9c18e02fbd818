// Package workflow sequences remote operations into the two top-level
// flows: one-time server provisioning and release deployment.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"strano/internal/config"
	"strano/internal/history"
	"strano/internal/ops"
	"strano/internal/remote"
)

// releaseTimeFormat produces lexicographically sortable release names.
const releaseTimeFormat = "20060102150405"

// Recorder receives the outcome of each per-server deployment.
type Recorder interface {
	Record(ctx context.Context, e *history.Entry) (int64, error)
}

// Deploy rolls a new release out to every server in order. The release
// name is computed once so all servers in one run share it. A failing
// server is cleaned up, logged and recorded, and the rollout continues
// with the next server; the returned error aggregates any failures.
func Deploy(ctx context.Context, logger *slog.Logger, servers []*config.Server, dialer remote.Dialer, journal Recorder) error {
	release := time.Now().Format(releaseTimeFormat)
	start := time.Now()

	var failed []string
	for _, srv := range servers {
		if err := deployServer(ctx, logger, srv, dialer, release, journal); err != nil {
			logger.Error("deploy failed", "host", srv.Host, "error", err)
			failed = append(failed, srv.Host)
		}
	}

	logger.Info("deploy finished",
		"release", release,
		"servers", len(servers),
		"failed", len(failed),
		"elapsed", time.Since(start).Round(time.Millisecond))

	if len(failed) > 0 {
		return fmt.Errorf("deploy failed on %d of %d servers: %s",
			len(failed), len(servers), strings.Join(failed, ", "))
	}
	return nil
}

func deployServer(ctx context.Context, logger *slog.Logger, srv *config.Server, dialer remote.Dialer, release string, journal Recorder) (err error) {
	logger = logger.With("host", srv.Host)
	started := time.Now()

	defer func() {
		if journal == nil {
			return
		}
		entry := &history.Entry{
			Host:      srv.Host,
			Release:   release,
			Status:    history.StatusSuccess,
			StartedAt: started,
			Duration:  time.Since(started),
		}
		if err != nil {
			entry.Status = history.StatusFailed
			entry.Error = err.Error()
		}
		if _, rerr := journal.Record(ctx, entry); rerr != nil {
			logger.Warn("failed to record deployment history", "error", rerr)
		}
	}()

	if srv.ReleasesDir == "" {
		return fmt.Errorf("incomplete configuration: project_user and project_root must both be set")
	}

	logger.Info("deploying", "release", release, "user", srv.ProjectUser)
	t, err := dialer.Dial(ctx, srv.ProjectUser, srv.Host, srv.Port)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer t.Close()

	releaseDir := path.Join(srv.ReleasesDir, release)
	promoted := false

	steps := []struct {
		name string
		skip bool
		run  func() error
	}{
		{"create release directory", false, func() error {
			return ops.CreateReleaseDir(ctx, t, releaseDir)
		}},
		{"fetch source code", false, func() error {
			return ops.FetchSource(ctx, t, releaseDir, srv)
		}},
		{"upload environment file", srv.EnvFile == "", func() error {
			return ops.UploadEnvFile(ctx, t, releaseDir, srv)
		}},
		{"link shared resources", false, func() error {
			return ops.LinkShared(ctx, t, releaseDir, srv)
		}},
		{"install dependencies", false, func() error {
			return ops.InstallDependencies(ctx, t, releaseDir, srv)
		}},
		{"link secrets", len(srv.Secrets) == 0, func() error {
			return ops.LinkSecrets(ctx, t, releaseDir, srv)
		}},
		{"collect static files", !srv.CollectStaticFiles, func() error {
			return ops.CollectStatic(ctx, t, releaseDir, srv)
		}},
		{"run database migrations", !srv.RunMigrations, func() error {
			return ops.Migrate(ctx, t, releaseDir, srv)
		}},
		{"promote release", false, func() error {
			if err := ops.PromoteRelease(ctx, t, releaseDir, srv); err != nil {
				return err
			}
			promoted = true
			return nil
		}},
		{"restart service", srv.ServiceFile == "", func() error {
			return ops.RestartService(ctx, t, srv)
		}},
		{"prune old releases", false, func() error {
			return ops.PruneReleases(ctx, t, srv)
		}},
	}

	for _, step := range steps {
		if step.skip {
			continue
		}
		logger.Info(step.name)
		if err := step.run(); err != nil {
			// A half-built release must never stay behind, but once
			// promoted the release is live and removal would be worse
			// than the failure itself.
			if !promoted {
				ops.RemoveReleaseDir(ctx, logger, t, releaseDir)
			}
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}

	logger.Info("deployed", "release", release)
	return nil
}
