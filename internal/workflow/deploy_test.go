package workflow

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"strano/internal/config"
	"strano/internal/history"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeEnvFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env.production")
	if err := os.WriteFile(path, []byte("SECRET_KEY=abc\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	return path
}

// releaseOf extracts the release name from the recorded mkdir command.
func releaseOf(t *testing.T, cmds []string) string {
	t.Helper()
	const prefix = "mkdir -p /home/web/app/releases/"
	for _, cmd := range cmds {
		if strings.HasPrefix(cmd, prefix) {
			return strings.TrimPrefix(cmd, prefix)
		}
	}
	t.Fatalf("no release directory created in %q", cmds)
	return ""
}

func TestDeploy_StepOrdering(t *testing.T) {
	rec := newWfRecorder()
	dialer := newWfDialer(rec)
	srv := testServer(t, "a.example.com", map[string]any{
		"env_file":             writeEnvFile(t),
		"secrets":              "/local/certs/key.pem",
		"collect_static_files": "true",
		"run_migrations":       "true",
		"service_file":         "deploy/files/gunicorn.service",
	})

	if err := Deploy(context.Background(), discardLogger(), []*config.Server{srv}, dialer, nil); err != nil {
		t.Fatalf("Deploy error: %v", err)
	}

	if dialer.users["a.example.com"] != "web" {
		t.Errorf("dialed as %q, expected the project user", dialer.users["a.example.com"])
	}

	cmds := rec.hostCommands("a.example.com")
	ordered := []string{
		"mkdir -p /home/web/app/releases/",
		"git clone",
		"pip install -r requirements.txt",
		"manage.py collectstatic",
		"manage.py migrate",
		" /home/web/app/current",
		"systemctl restart gunicorn.service",
		"ls -1 /home/web/app/releases",
	}
	last := -1
	for _, substr := range ordered {
		i := indexOf(cmds, substr)
		if i < 0 {
			t.Fatalf("no command matching %q in %q", substr, cmds)
		}
		if i <= last {
			t.Errorf("command %q ran out of order (index %d after %d)", substr, i, last)
		}
		last = i
	}

	if len(rec.uploads) != 1 || !strings.Contains(rec.uploads[0].Cmd, ".env.production") {
		t.Errorf("expected one environment file upload, got %v", rec.uploads)
	}
}

func TestDeploy_SharedReleaseAndIsolation(t *testing.T) {
	rec := newWfRecorder()
	rec.failOn["a.example.com"] = "git clone"
	dialer := newWfDialer(rec)
	servers := []*config.Server{
		testServer(t, "a.example.com", nil),
		testServer(t, "b.example.com", nil),
	}

	err := Deploy(context.Background(), discardLogger(), servers, dialer, nil)
	if err == nil {
		t.Fatal("Expected an error when a server fails")
	}
	if !strings.Contains(err.Error(), "a.example.com") {
		t.Errorf("error does not name the failing host: %v", err)
	}
	if strings.Contains(err.Error(), "b.example.com") {
		t.Errorf("error names a healthy host: %v", err)
	}

	aCmds := rec.hostCommands("a.example.com")
	bCmds := rec.hostCommands("b.example.com")

	// The half-built release is removed on the failing host only.
	if indexOf(aCmds, "rm -rf /home/web/app/releases/") < 0 {
		t.Errorf("failing host was not cleaned up: %q", aCmds)
	}
	if indexOf(aCmds, " /home/web/app/current") >= 0 {
		t.Errorf("failing host was promoted: %q", aCmds)
	}

	// The healthy host still deploys to completion.
	if indexOf(bCmds, " /home/web/app/current") < 0 {
		t.Errorf("healthy host was not promoted: %q", bCmds)
	}

	// Both servers share one release name per run.
	if a, b := releaseOf(t, aCmds), releaseOf(t, bCmds); a != b {
		t.Errorf("release names differ across servers: %q vs %q", a, b)
	}
}

func TestDeploy_NoCleanupAfterPromote(t *testing.T) {
	rec := newWfRecorder()
	rec.failOn["a.example.com"] = "systemctl restart"
	dialer := newWfDialer(rec)
	srv := testServer(t, "a.example.com", map[string]any{
		"service_file": "deploy/files/gunicorn.service",
	})

	err := Deploy(context.Background(), discardLogger(), []*config.Server{srv}, dialer, nil)
	if err == nil {
		t.Fatal("Expected an error when the restart fails")
	}

	cmds := rec.hostCommands("a.example.com")
	if indexOf(cmds, " /home/web/app/current") < 0 {
		t.Fatalf("release was never promoted: %q", cmds)
	}
	if indexOf(cmds, "rm -rf") >= 0 {
		t.Errorf("live release was removed after promotion: %q", cmds)
	}
}

func TestDeploy_SkipsConditionalSteps(t *testing.T) {
	rec := newWfRecorder()
	dialer := newWfDialer(rec)
	srv := testServer(t, "a.example.com", nil)

	if err := Deploy(context.Background(), discardLogger(), []*config.Server{srv}, dialer, nil); err != nil {
		t.Fatalf("Deploy error: %v", err)
	}

	cmds := rec.hostCommands("a.example.com")
	for _, substr := range []string{"manage.py", "systemctl"} {
		if indexOf(cmds, substr) >= 0 {
			t.Errorf("disabled step ran a command matching %q: %q", substr, cmds)
		}
	}
	if len(rec.uploads) != 0 {
		t.Errorf("expected no uploads without an env file, got %v", rec.uploads)
	}
}

func TestDeploy_RecordsHistory(t *testing.T) {
	rec := newWfRecorder()
	rec.failOn["a.example.com"] = "git clone"
	dialer := newWfDialer(rec)
	journal := &fakeJournal{}
	servers := []*config.Server{
		testServer(t, "a.example.com", nil),
		testServer(t, "b.example.com", nil),
	}

	if err := Deploy(context.Background(), discardLogger(), servers, dialer, journal); err == nil {
		t.Fatal("Expected an error when a server fails")
	}

	if len(journal.entries) != 2 {
		t.Fatalf("recorded %d entries, expected 2", len(journal.entries))
	}

	a, b := journal.entries[0], journal.entries[1]
	if a.Host != "a.example.com" || a.Status != history.StatusFailed {
		t.Errorf("first entry = %+v, expected a failure for a.example.com", a)
	}
	if !strings.Contains(a.Error, "fetch source code") {
		t.Errorf("failure entry does not name the failing step: %q", a.Error)
	}
	if b.Host != "b.example.com" || b.Status != history.StatusSuccess || b.Error != "" {
		t.Errorf("second entry = %+v, expected a success for b.example.com", b)
	}
	if a.Release == "" || a.Release != b.Release {
		t.Errorf("entries do not share the run's release: %q vs %q", a.Release, b.Release)
	}
}

func TestDeploy_IncompleteConfiguration(t *testing.T) {
	rec := newWfRecorder()
	dialer := newWfDialer(rec)

	// Without a project root the layout paths are never derived.
	srv, err := config.New(map[string]any{"host": "a.example.com", "project_user": "web"})
	if err != nil {
		t.Fatalf("build config: %v", err)
	}
	if err := srv.Finalize(); err != nil {
		t.Fatalf("finalize config: %v", err)
	}

	err = Deploy(context.Background(), discardLogger(), []*config.Server{srv}, dialer, nil)
	if err == nil {
		t.Fatal("Expected an error for an incomplete configuration")
	}
	if len(dialer.users) != 0 {
		t.Errorf("dialed despite incomplete configuration: %v", dialer.users)
	}
}
