// Package ops implements the individual remote actions that the setup
// and deploy workflows sequence. Every operation is a pure function of
// the transport, the target paths and the server configuration.
package ops

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"strano/internal/config"
	"strano/internal/remote"
)

// CreateReleaseDir creates the release directory and any missing parents.
func CreateReleaseDir(ctx context.Context, t remote.Transport, releaseDir string) error {
	_, err := t.Run(ctx, "mkdir -p "+shellquote.Join(releaseDir), nil)
	return err
}

// FetchSource clones the project into the release directory. The clone
// is single-branch, shallow when a clone depth is set. When a revision
// is pinned the clone has full history (the config layer guarantees
// that), so tags are fetched and the exact revision checked out.
func FetchSource(ctx context.Context, t remote.Transport, releaseDir string, cfg *config.Server) error {
	args := []string{"git", "clone", "--single-branch"}
	if cfg.CloneDepth > 0 {
		args = append(args, "--depth", strconv.Itoa(cfg.CloneDepth))
	}
	if cfg.Branch != "" {
		args = append(args, "--branch", cfg.Branch)
	}
	args = append(args, cfg.SourceCodeURL, releaseDir)

	if _, err := t.Run(ctx, shellquote.Join(args...), nil); err != nil {
		return err
	}

	if cfg.Revision != "" {
		scoped := t.Cd(releaseDir)
		if _, err := scoped.Run(ctx, "git fetch --tags --force", nil); err != nil {
			return err
		}
		if _, err := scoped.Run(ctx, shellquote.Join("git", "checkout", cfg.Revision), nil); err != nil {
			return err
		}
	}
	return nil
}

// EnvSnapshotPath returns the shared-directory path of the env file
// snapshot belonging to a release. Snapshots are keyed by release name
// so concurrent releases cannot clobber each other.
func EnvSnapshotPath(releaseDir string, cfg *config.Server) string {
	return path.Join(cfg.SharedDir, ".env."+path.Base(releaseDir))
}

// UploadEnvFile copies the local env file to the release-keyed snapshot
// in the shared directory.
func UploadEnvFile(ctx context.Context, t remote.Transport, releaseDir string, cfg *config.Server) error {
	return t.Put(ctx, cfg.EnvFile, EnvSnapshotPath(releaseDir, cfg))
}

// LinkShared points the release at the persistent shared resources:
// the media directory, and (when an env file is configured) the
// canonical .env symlink at the just-uploaded snapshot.
func LinkShared(ctx context.Context, t remote.Transport, releaseDir string, cfg *config.Server) error {
	media := fmt.Sprintf("ln -sfn %s %s",
		shellquote.Join(path.Join(cfg.SharedDir, "media")),
		shellquote.Join(path.Join(releaseDir, "media")))
	if _, err := t.Run(ctx, media, nil); err != nil {
		return err
	}

	if cfg.EnvFile != "" {
		env := fmt.Sprintf("ln -sfn %s %s",
			shellquote.Join(EnvSnapshotPath(releaseDir, cfg)),
			shellquote.Join(path.Join(cfg.SharedDir, ".env")))
		if _, err := t.Run(ctx, env, nil); err != nil {
			return err
		}
	}
	return nil
}

// InstallDependencies installs the release's requirements into the
// virtual environment, scoped to the release directory.
func InstallDependencies(ctx context.Context, t remote.Transport, releaseDir string, cfg *config.Server) error {
	pip := path.Join(cfg.VenvDir, "bin", "pip")
	cmd := shellquote.Join(pip, "install", "-r", "requirements.txt")
	_, err := t.Cd(releaseDir).Run(ctx, cmd, nil)
	return err
}

// LinkSecrets symlinks every configured secret from the shared
// directory into the release under the same basename.
func LinkSecrets(ctx context.Context, t remote.Transport, releaseDir string, cfg *config.Server) error {
	for _, secret := range cfg.Secrets {
		name := filepath.Base(secret)
		cmd := fmt.Sprintf("ln -sfn %s %s",
			shellquote.Join(path.Join(cfg.SharedDir, name)),
			shellquote.Join(path.Join(releaseDir, name)))
		if _, err := t.Run(ctx, cmd, nil); err != nil {
			return err
		}
	}
	return nil
}

// CollectStatic runs the static asset collection management command in
// the release directory with the configured environment.
func CollectStatic(ctx context.Context, t remote.Transport, releaseDir string, cfg *config.Server) error {
	cmd := shellquote.Join(cfg.PythonPath, "manage.py", "collectstatic", "--noinput")
	_, err := t.Cd(releaseDir).Run(ctx, cmd, &remote.RunOpts{Env: cfg.EnvVars})
	return err
}

// Migrate applies database migrations in the release directory with the
// configured environment.
func Migrate(ctx context.Context, t remote.Transport, releaseDir string, cfg *config.Server) error {
	cmd := shellquote.Join(cfg.PythonPath, "manage.py", "migrate")
	_, err := t.Cd(releaseDir).Run(ctx, cmd, &remote.RunOpts{Env: cfg.EnvVars})
	return err
}

// PromoteRelease repoints the current symlink at the release. This is
// the single go-live mutation and must run only after every prior step
// of the deploy sequence has succeeded.
func PromoteRelease(ctx context.Context, t remote.Transport, releaseDir string, cfg *config.Server) error {
	cmd := fmt.Sprintf("ln -sfn %s %s", shellquote.Join(releaseDir), shellquote.Join(cfg.CurrentDir))
	_, err := t.Run(ctx, cmd, nil)
	return err
}

// RestartService restarts the project's service unit.
func RestartService(ctx context.Context, t remote.Transport, cfg *config.Server) error {
	_, err := t.Sudo(ctx, shellquote.Join("systemctl", "restart", cfg.ServiceFileName), nil)
	return err
}

// PruneReleases removes all but the most recent KeepReleases entries
// from the releases directory. Release names are sortable timestamps,
// so a lexicographic sort orders them oldest first. KeepReleases of
// zero or below means unlimited retention.
func PruneReleases(ctx context.Context, t remote.Transport, cfg *config.Server) error {
	if cfg.KeepReleases <= 0 {
		return nil
	}

	res, err := t.Run(ctx, "ls -1 "+shellquote.Join(cfg.ReleasesDir), &remote.RunOpts{Hide: true})
	if err != nil {
		return err
	}

	releases := strings.Fields(res.Stdout)
	sort.Strings(releases)
	if len(releases) <= cfg.KeepReleases {
		return nil
	}

	for _, old := range releases[:len(releases)-cfg.KeepReleases] {
		cmd := "rm -rf " + shellquote.Join(path.Join(cfg.ReleasesDir, old))
		if _, err := t.Run(ctx, cmd, nil); err != nil {
			return err
		}
	}
	return nil
}

// RemoveReleaseDir is the best-effort cleanup for a half-built release.
// Its own failure is logged and never propagated, so it is safe to call
// from any error path.
func RemoveReleaseDir(ctx context.Context, logger *slog.Logger, t remote.Transport, releaseDir string) {
	if _, err := t.Run(ctx, "rm -rf "+shellquote.Join(releaseDir), nil); err != nil {
		logger.Warn("failed to remove release directory", "dir", releaseDir, "error", err)
	}
}
