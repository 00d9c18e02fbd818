package remote

import (
	"context"
	"log/slog"
)

// DryRunDialer produces transports that log every command instead of
// executing it, for rehearsing a deploy or setup plan.
type DryRunDialer struct {
	Logger *slog.Logger
}

func (d *DryRunDialer) Dial(_ context.Context, user, host string, _ int) (Transport, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &dryRunTransport{logger: logger, user: user, host: host}, nil
}

type dryRunTransport struct {
	logger *slog.Logger
	user   string
	host   string
	dir    string
}

func (t *dryRunTransport) Run(_ context.Context, command string, opts *RunOpts) (*Result, error) {
	if opts == nil {
		opts = &RunOpts{}
	}
	t.logger.Info("dry-run", "host", t.host, "user", t.user,
		"command", buildCommand(t.dir, command, opts.Env))
	return &Result{}, nil
}

func (t *dryRunTransport) Sudo(_ context.Context, command string, opts *RunOpts) (*Result, error) {
	if opts == nil {
		opts = &RunOpts{}
	}
	t.logger.Info("dry-run", "host", t.host, "user", t.user,
		"command", sudoCommand(buildCommand(t.dir, command, opts.Env)))
	return &Result{}, nil
}

func (t *dryRunTransport) Put(_ context.Context, localPath, remotePath string) error {
	t.logger.Info("dry-run upload", "host", t.host, "local", localPath, "remote", remotePath)
	return nil
}

func (t *dryRunTransport) Cd(dir string) Transport {
	scoped := *t
	scoped.dir = dir
	return &scoped
}

func (t *dryRunTransport) Close() error { return nil }
