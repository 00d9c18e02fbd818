package ops

import (
	"context"
	"fmt"
	"testing"

	"strano/internal/config"
	"strano/internal/remote"
)

// call is one recorded command execution.
type call struct {
	Cmd  string
	Dir  string
	Sudo bool
	Env  map[string]string
	Hide bool
	Warn bool
}

// recorder is shared by all Cd-scoped copies of a fake transport, so a
// test sees every command in execution order.
type recorder struct {
	calls   []call
	uploads [][2]string
	stdout  map[string]string
	fail    map[string]bool
}

func (r *recorder) commands() []string {
	cmds := make([]string, len(r.calls))
	for i, c := range r.calls {
		cmds[i] = c.Cmd
	}
	return cmds
}

type fakeTransport struct {
	rec *recorder
	dir string
}

func newFake() *fakeTransport {
	return &fakeTransport{rec: &recorder{
		stdout: make(map[string]string),
		fail:   make(map[string]bool),
	}}
}

func (f *fakeTransport) Run(_ context.Context, cmd string, opts *remote.RunOpts) (*remote.Result, error) {
	return f.exec(cmd, opts, false)
}

func (f *fakeTransport) Sudo(_ context.Context, cmd string, opts *remote.RunOpts) (*remote.Result, error) {
	return f.exec(cmd, opts, true)
}

func (f *fakeTransport) exec(cmd string, opts *remote.RunOpts, sudo bool) (*remote.Result, error) {
	if opts == nil {
		opts = &remote.RunOpts{}
	}
	f.rec.calls = append(f.rec.calls, call{
		Cmd: cmd, Dir: f.dir, Sudo: sudo,
		Env: opts.Env, Hide: opts.Hide, Warn: opts.Warn,
	})
	if f.rec.fail[cmd] {
		if opts.Warn {
			return &remote.Result{Failed: true}, nil
		}
		return nil, fmt.Errorf("command failed: %s", cmd)
	}
	return &remote.Result{Stdout: f.rec.stdout[cmd]}, nil
}

func (f *fakeTransport) Put(_ context.Context, localPath, remotePath string) error {
	f.rec.uploads = append(f.rec.uploads, [2]string{localPath, remotePath})
	return nil
}

func (f *fakeTransport) Cd(dir string) remote.Transport {
	return &fakeTransport{rec: f.rec, dir: dir}
}

func (f *fakeTransport) Close() error { return nil }

// testServer builds a finalized configuration with sensible defaults
// for op tests.
func testServer(t *testing.T, overrides map[string]any) *config.Server {
	t.Helper()
	values := map[string]any{
		"host":            "a.example.com",
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

func assertCommands(t *testing.T, got, expected []string) {
	t.Helper()
	if len(got) != len(expected) {
		t.Fatalf("got %d commands, expected %d:\n got: %q\nwant: %q", len(got), len(expected), got, expected)
	}
	for i := range got {
		if got[i] != expected[i] {
			t.Errorf("command %d = %q, expected %q", i, got[i], expected[i])
		}
	}
}
