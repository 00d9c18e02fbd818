package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"

	"strano/internal/config"
	"strano/internal/ops"
	"strano/internal/remote"
)

// Setup provisions every server in order: project user, directory
// skeleton, packages, virtual environment, known hosts, and the
// optional service unit, deploy key and secrets. Failures are isolated
// per server, matching the deploy flow's policy.
func Setup(ctx context.Context, logger *slog.Logger, servers []*config.Server, dialer remote.Dialer, gh *github.Client) error {
	start := time.Now()

	var failed []string
	for _, srv := range servers {
		if err := setupServer(ctx, logger, srv, dialer, gh); err != nil {
			logger.Error("setup failed", "host", srv.Host, "error", err)
			failed = append(failed, srv.Host)
		}
	}

	logger.Info("setup finished",
		"servers", len(servers),
		"failed", len(failed),
		"elapsed", time.Since(start).Round(time.Millisecond))

	if len(failed) > 0 {
		return fmt.Errorf("setup failed on %d of %d servers: %s",
			len(failed), len(servers), strings.Join(failed, ", "))
	}
	return nil
}

func setupServer(ctx context.Context, logger *slog.Logger, srv *config.Server, dialer remote.Dialer, gh *github.Client) error {
	logger = logger.With("host", srv.Host)

	if srv.ReleasesDir == "" {
		return fmt.Errorf("incomplete configuration: project_user and project_root must both be set")
	}

	logger.Info("setting up")
	t, err := dialer.Dial(ctx, "root", srv.Host, srv.Port)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer t.Close()

	steps := []struct {
		name string
		skip bool
		run  func() error
	}{
		{"create project user", false, func() error {
			return ops.EnsureUser(ctx, t, srv)
		}},
		{"copy authorized keys", false, func() error {
			return ops.CopyAuthorizedKeys(ctx, t, srv)
		}},
		{"create directory structure", false, func() error {
			return ops.CreateDirectories(ctx, t, srv)
		}},
		{"install system packages", false, func() error {
			return ops.InstallPackages(ctx, t, srv)
		}},
		{"create virtual environment", false, func() error {
			return ops.CreateVirtualenv(ctx, t, srv)
		}},
		{"populate known hosts", false, func() error {
			return ops.PopulateKnownHosts(ctx, t, srv)
		}},
		{"register deploy key", gh == nil, func() error {
			return ops.RegisterDeployKey(ctx, t, srv, gh)
		}},
		{"install service unit", srv.ServiceFile == "", func() error {
			return ops.InstallService(ctx, t, srv)
		}},
		{"upload secrets", len(srv.Secrets) == 0, func() error {
			return ops.UploadSecrets(ctx, t, srv)
		}},
	}

	for _, step := range steps {
		if step.skip {
			continue
		}
		logger.Info(step.name)
		if err := step.run(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}

	logger.Info("set up")
	return nil
}
