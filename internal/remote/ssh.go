package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

const dialTimeout = 10 * time.Second

// SSHDialer opens SSH transports, authenticating through the local SSH
// agent and, if configured, a private key file.
type SSHDialer struct {
	Logger *slog.Logger

	// KeyPath is an optional private key used in addition to the agent.
	KeyPath string
}

func (d *SSHDialer) Dial(ctx context.Context, user, host string, port int) (Transport, error) {
	methods, err := d.authMethods()
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to %s as %s: %w", addr, user, err)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &sshTransport{client: client, logger: logger, host: host}, nil
}

func (d *SSHDialer) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if d.KeyPath != "" {
		key, err := os.ReadFile(d.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read SSH key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse SSH key %s: %w", d.KeyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if len(methods) == 0 {
		return nil, errors.New("no SSH auth available: agent not running and no key file configured")
	}
	return methods, nil
}

// sshTransport runs each command in its own SSH session. The dir field
// scopes commands to a remote working directory; Cd returns a scoped
// copy sharing the underlying connection.
type sshTransport struct {
	client *ssh.Client
	logger *slog.Logger
	host   string
	dir    string
}

func (t *sshTransport) Run(ctx context.Context, command string, opts *RunOpts) (*Result, error) {
	return t.exec(ctx, command, opts, false)
}

func (t *sshTransport) Sudo(ctx context.Context, command string, opts *RunOpts) (*Result, error) {
	return t.exec(ctx, command, opts, true)
}

func (t *sshTransport) exec(ctx context.Context, command string, opts *RunOpts, privileged bool) (*Result, error) {
	if opts == nil {
		opts = &RunOpts{}
	}

	full := buildCommand(t.dir, command, opts.Env)
	if privileged {
		full = sudoCommand(full)
	}

	session, err := t.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session on %s: %w", t.host, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	t.logger.Debug("remote command", "host", t.host, "command", full)

	done := make(chan error, 1)
	go func() { done <- session.Run(full) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	case err = <-done:
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			if opts.Warn {
				return &Result{Stdout: stdout.String(), Failed: true}, nil
			}
			return nil, fmt.Errorf("command failed on %s (exit %d): %s: %s",
				t.host, exitErr.ExitStatus(), command, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("run command on %s: %w", t.host, err)
	}

	if !opts.Hide && stdout.Len() > 0 {
		t.logger.Debug("remote output", "host", t.host, "output", strings.TrimSpace(stdout.String()))
	}
	return &Result{Stdout: stdout.String()}, nil
}

// Put streams a local file into `cat` on the remote side. This avoids
// a separate file-transfer subsystem and works for the small config,
// unit and secret files this tool moves around.
func (t *sshTransport) Put(ctx context.Context, localPath, remotePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	session, err := t.client.NewSession()
	if err != nil {
		return fmt.Errorf("open session on %s: %w", t.host, err)
	}
	defer session.Close()

	session.Stdin = f
	t.logger.Debug("upload file", "host", t.host, "local", localPath, "remote", remotePath)

	cmd := "cat > " + shellquote.Join(remotePath)
	if err := session.Run(cmd); err != nil {
		return fmt.Errorf("upload %s to %s:%s: %w", localPath, t.host, remotePath, err)
	}
	return nil
}

func (t *sshTransport) Cd(dir string) Transport {
	scoped := *t
	scoped.dir = dir
	return &scoped
}

func (t *sshTransport) Close() error {
	return t.client.Close()
}
