package remote

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func newDryRun(t *testing.T) (Transport, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	dialer := &DryRunDialer{Logger: logger}

	tr, err := dialer.Dial(context.Background(), "web", "a.example.com", 22)
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	return tr, &buf
}

func TestDryRun_LogsWithoutExecuting(t *testing.T) {
	tr, buf := newDryRun(t)
	defer tr.Close()

	res, err := tr.Run(context.Background(), "rm -rf /srv/app", nil)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.Failed || res.Stdout != "" {
		t.Errorf("Expected empty successful result, got %+v", res)
	}
	if !strings.Contains(buf.String(), "rm -rf /srv/app") {
		t.Errorf("Command not logged: %s", buf.String())
	}
}

func TestDryRun_CdScopesCopy(t *testing.T) {
	tr, buf := newDryRun(t)
	defer tr.Close()

	scoped := tr.Cd("/srv/app")
	if _, err := scoped.Run(context.Background(), "ls", nil); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !strings.Contains(buf.String(), "cd /srv/app && ls") {
		t.Errorf("Scoped command not logged: %s", buf.String())
	}

	buf.Reset()
	if _, err := tr.Run(context.Background(), "ls", nil); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if strings.Contains(buf.String(), "cd /srv/app") {
		t.Errorf("Original transport gained a working directory: %s", buf.String())
	}
}

func TestDryRun_SudoWraps(t *testing.T) {
	tr, buf := newDryRun(t)
	defer tr.Close()

	if _, err := tr.Sudo(context.Background(), "systemctl daemon-reload", nil); err != nil {
		t.Fatalf("Sudo error: %v", err)
	}
	if !strings.Contains(buf.String(), "sudo -n sh -c") {
		t.Errorf("Sudo wrapper missing: %s", buf.String())
	}
}
