package ops

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/kballard/go-shellquote"

	"strano/internal/config"
	"strano/internal/remote"
)

// basePackages are always installed during setup; the deploy flow
// depends on them being present.
var basePackages = []string{"python3", "python3-venv", "python3-pip", "git"}

// EnsureUser creates the project user if it does not exist. The
// existence probe is expected to fail for new users, so it runs with
// Warn semantics and only a failed probe triggers the mutation.
func EnsureUser(ctx context.Context, t remote.Transport, cfg *config.Server) error {
	probe, err := t.Run(ctx, "id -u "+shellquote.Join(cfg.ProjectUser), &remote.RunOpts{Warn: true, Hide: true})
	if err != nil {
		return err
	}
	if !probe.Failed {
		return nil
	}

	if _, err := t.Sudo(ctx, shellquote.Join("useradd", "-m", "-s", "/bin/bash", cfg.ProjectUser), nil); err != nil {
		return err
	}

	rule := fmt.Sprintf("%s ALL=(ALL) NOPASSWD:ALL", cfg.ProjectUser)
	cmd := fmt.Sprintf("echo %s > /etc/sudoers.d/%s", shellquote.Join(rule), cfg.ProjectUser)
	_, err = t.Sudo(ctx, cmd, nil)
	return err
}

// CopyAuthorizedKeys copies the connecting user's authorized keys to
// the project user so deploys can log in directly.
func CopyAuthorizedKeys(ctx context.Context, t remote.Transport, cfg *config.Server) error {
	home := "/home/" + cfg.ProjectUser
	owner := cfg.ProjectUser + ":" + cfg.ProjectUser
	cmds := []string{
		"mkdir -p " + shellquote.Join(home+"/.ssh"),
		"cp ~/.ssh/authorized_keys " + shellquote.Join(home+"/.ssh/"),
		shellquote.Join("chown", "-R", owner, home+"/.ssh"),
	}
	return runAll(ctx, t, cmds)
}

// CreateDirectories creates the project's directory skeleton and hands
// ownership to the project user.
func CreateDirectories(ctx context.Context, t remote.Transport, cfg *config.Server) error {
	owner := cfg.ProjectUser + ":" + cfg.ProjectUser
	cmds := []string{
		"mkdir -p " + shellquote.Join(cfg.SharedDir),
		"mkdir -p " + shellquote.Join(cfg.ReleasesDir),
		"mkdir -p " + shellquote.Join(cfg.VenvDir),
		shellquote.Join("chown", "-R", owner, cfg.ProjectRoot),
	}
	for _, cmd := range cmds {
		if _, err := t.Sudo(ctx, cmd, nil); err != nil {
			return err
		}
	}
	return nil
}

// InstallPackages installs the base toolchain plus any configured
// system packages.
func InstallPackages(ctx context.Context, t remote.Transport, cfg *config.Server) error {
	if _, err := t.Run(ctx, "apt update", nil); err != nil {
		return err
	}

	args := append([]string{"apt", "install", "-y"}, basePackages...)
	if _, err := t.Run(ctx, shellquote.Join(args...), nil); err != nil {
		return err
	}

	if len(cfg.SystemPackages) > 0 {
		args = append([]string{"apt", "install", "-y"}, cfg.SystemPackages...)
		if _, err := t.Run(ctx, shellquote.Join(args...), nil); err != nil {
			return err
		}
	}
	return nil
}

// CreateVirtualenv creates the project's virtual environment and gives
// it to the project user.
func CreateVirtualenv(ctx context.Context, t remote.Transport, cfg *config.Server) error {
	owner := cfg.ProjectUser + ":" + cfg.ProjectUser
	cmds := []string{
		shellquote.Join("python3", "-m", "venv", cfg.VenvDir),
		shellquote.Join("chown", "-R", owner, cfg.VenvDir),
	}
	return runAll(ctx, t, cmds)
}

// PopulateKnownHosts seeds the project user's known_hosts with
// github.com and every configured extra host.
func PopulateKnownHosts(ctx context.Context, t remote.Transport, cfg *config.Server) error {
	knownHosts := fmt.Sprintf("/home/%s/.ssh/known_hosts", cfg.ProjectUser)

	hosts := append([]string{"github.com"}, cfg.SSHKnownHosts...)
	for _, host := range hosts {
		cmd := fmt.Sprintf("ssh-keyscan %s >> %s", shellquote.Join(host), shellquote.Join(knownHosts))
		if _, err := t.Run(ctx, cmd, nil); err != nil {
			return err
		}
	}

	owner := cfg.ProjectUser + ":" + cfg.ProjectUser
	_, err := t.Run(ctx, shellquote.Join("chown", owner, knownHosts), nil)
	return err
}

// InstallService uploads the unit file, reloads systemd and enables the
// unit so it starts on boot.
func InstallService(ctx context.Context, t remote.Transport, cfg *config.Server) error {
	unitPath := path.Join("/etc/systemd/system", cfg.ServiceFileName)
	if err := t.Put(ctx, cfg.ServiceFile, unitPath); err != nil {
		return err
	}
	if _, err := t.Sudo(ctx, "systemctl daemon-reload", nil); err != nil {
		return err
	}
	_, err := t.Sudo(ctx, shellquote.Join("systemctl", "enable", cfg.ServiceFileName), nil)
	return err
}

// UploadSecrets copies every configured secret into the shared
// directory under its basename.
func UploadSecrets(ctx context.Context, t remote.Transport, cfg *config.Server) error {
	for _, secret := range cfg.Secrets {
		dest := path.Join(cfg.SharedDir, filepath.Base(secret))
		if err := t.Put(ctx, secret, dest); err != nil {
			return err
		}
	}
	return nil
}

func runAll(ctx context.Context, t remote.Transport, cmds []string) error {
	for _, cmd := range cmds {
		if _, err := t.Run(ctx, cmd, nil); err != nil {
			return err
		}
	}
	return nil
}
