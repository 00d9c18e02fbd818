// Package remote runs shell commands and uploads files on target hosts.
package remote

import "context"

// RunOpts adjusts how a single remote command is executed.
type RunOpts struct {
	// Hide suppresses logging of the command's output.
	Hide bool

	// Warn turns a non-zero exit into Result.Failed instead of an error.
	Warn bool

	// Env variables exported for the command. Values must already be
	// shell-escaped.
	Env map[string]string
}

// Result is the outcome of one remote command.
type Result struct {
	Stdout string

	// Failed is set when the command exited non-zero and the caller
	// opted into Warn semantics.
	Failed bool
}

// Transport executes commands on a single remote host.
type Transport interface {
	// Run executes a command as the connected user.
	Run(ctx context.Context, command string, opts *RunOpts) (*Result, error)

	// Sudo executes a command with elevated privileges.
	Sudo(ctx context.Context, command string, opts *RunOpts) (*Result, error)

	// Put uploads a local file to the given remote path.
	Put(ctx context.Context, localPath, remotePath string) error

	// Cd returns a transport scoped to the given remote working
	// directory. The receiver is left unscoped.
	Cd(dir string) Transport

	Close() error
}

// Dialer opens a transport to a host as a specific user.
type Dialer interface {
	Dial(ctx context.Context, user, host string, port int) (Transport, error)
}
