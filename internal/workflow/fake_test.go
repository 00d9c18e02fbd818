package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"strano/internal/config"
	"strano/internal/history"
	"strano/internal/remote"
)

// wfCall is one recorded remote action, tagged with the host it ran on.
type wfCall struct {
	Host string
	Cmd  string
	Sudo bool
}

type wfRecorder struct {
	calls   []wfCall
	uploads []wfCall // Cmd holds "local -> remote"

	// failOn maps host to a command substring that fails on that host.
	failOn map[string]string
}

func newWfRecorder() *wfRecorder {
	return &wfRecorder{failOn: make(map[string]string)}
}

// hostCommands returns the commands recorded for one host, in order.
func (r *wfRecorder) hostCommands(host string) []string {
	var cmds []string
	for _, c := range r.calls {
		if c.Host == host {
			cmds = append(cmds, c.Cmd)
		}
	}
	return cmds
}

func indexOf(cmds []string, substr string) int {
	for i, cmd := range cmds {
		if strings.Contains(cmd, substr) {
			return i
		}
	}
	return -1
}

type wfDialer struct {
	rec   *wfRecorder
	users map[string]string // host → user dialed as
}

func newWfDialer(rec *wfRecorder) *wfDialer {
	return &wfDialer{rec: rec, users: make(map[string]string)}
}

func (d *wfDialer) Dial(_ context.Context, user, host string, _ int) (remote.Transport, error) {
	d.users[host] = user
	return &wfTransport{rec: d.rec, host: host}, nil
}

type wfTransport struct {
	rec  *wfRecorder
	host string
	dir  string
}

func (t *wfTransport) Run(_ context.Context, cmd string, opts *remote.RunOpts) (*remote.Result, error) {
	return t.exec(cmd, opts, false)
}

func (t *wfTransport) Sudo(_ context.Context, cmd string, opts *remote.RunOpts) (*remote.Result, error) {
	return t.exec(cmd, opts, true)
}

func (t *wfTransport) exec(cmd string, opts *remote.RunOpts, sudo bool) (*remote.Result, error) {
	t.rec.calls = append(t.rec.calls, wfCall{Host: t.host, Cmd: cmd, Sudo: sudo})
	if substr := t.rec.failOn[t.host]; substr != "" && strings.Contains(cmd, substr) {
		if opts != nil && opts.Warn {
			return &remote.Result{Failed: true}, nil
		}
		return nil, fmt.Errorf("command failed: %s", cmd)
	}
	return &remote.Result{}, nil
}

func (t *wfTransport) Put(_ context.Context, localPath, remotePath string) error {
	t.rec.uploads = append(t.rec.uploads, wfCall{Host: t.host, Cmd: localPath + " -> " + remotePath})
	return nil
}

func (t *wfTransport) Cd(dir string) remote.Transport {
	return &wfTransport{rec: t.rec, host: t.host, dir: dir}
}

func (t *wfTransport) Close() error { return nil }

// fakeJournal records history entries in memory.
type fakeJournal struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (j *fakeJournal) Record(_ context.Context, e *history.Entry) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, *e)
	return int64(len(j.entries)), nil
}

// testServer builds a finalized configuration for workflow tests.
func testServer(t *testing.T, host string, overrides map[string]any) *config.Server {
	t.Helper()
	values := map[string]any{
		"host":            host,
		"project_user":    "web",
		"project_root":    "app",
		"venv_dir":        "venv",
		"source_code_url": "git@github.com:example/app.git",
		"branch":          "main",
	}
	for k, v := range overrides {
		values[k] = v
	}

	srv, err := config.New(values)
	if err != nil {
		t.Fatalf("build test config: %v", err)
	}
	if err := srv.Finalize(); err != nil {
		t.Fatalf("finalize test config: %v", err)
	}
	return srv
}
