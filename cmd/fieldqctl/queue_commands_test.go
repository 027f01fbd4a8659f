package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fieldq/internal/outbox"
)

type cliTestEnv struct {
	configPath string
	store      *outbox.Store
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	dataDir := filepath.Join(base, "data")
	logDir := filepath.Join(base, "logs")
	configPath := filepath.Join(base, "config.toml")

	content := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q

[delivery]
endpoint = "http://127.0.0.1:9/debriefs"
`, dataDir, logDir)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	for _, dir := range []string{dataDir, logDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("create dir: %v", err)
		}
	}

	store, err := outbox.OpenPath(filepath.Join(dataDir, "outbox.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return &cliTestEnv{configPath: configPath, store: store}
}

func runCLI(t *testing.T, args []string, configPath string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}

func TestListAndStatusCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	if _, err := env.store.Enqueue(ctx, "meeting-alpha", []byte(`{"n":1}`)); err != nil {
		t.Fatalf("enqueue alpha: %v", err)
	}
	beta, err := env.store.Enqueue(ctx, "meeting-beta", []byte(`{"n":2}`))
	if err != nil {
		t.Fatalf("enqueue beta: %v", err)
	}
	if ok, err := env.store.MarkSubmitting(ctx, beta.ID); err != nil || !ok {
		t.Fatalf("mark submitting: ok=%v err=%v", ok, err)
	}
	if ok, err := env.store.MarkFailed(ctx, beta.ID, outbox.FailureTerminal, "rejected", nil); err != nil || !ok {
		t.Fatalf("mark failed: ok=%v err=%v", ok, err)
	}

	out, err := runCLI(t, []string{"list"}, env.configPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	requireContains(t, out, "meeting-alpha")
	requireContains(t, out, "meeting-beta")
	requireContains(t, out, "needs action")

	out, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Pending")
	requireContains(t, out, "Failed (needs action)")
}

func TestListStatusFilterRejectsUnknown(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := runCLI(t, []string{"list", "--status", "bogus"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "unknown status") {
		t.Fatalf("expected unknown status error, got %v", err)
	}
}

func TestRetryCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	item, err := env.store.Enqueue(ctx, "meeting-alpha", []byte(`{"n":1}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if ok, err := env.store.MarkSubmitting(ctx, item.ID); err != nil || !ok {
		t.Fatalf("mark submitting: ok=%v err=%v", ok, err)
	}
	if ok, err := env.store.MarkFailed(ctx, item.ID, outbox.FailureTerminal, "rejected", nil); err != nil || !ok {
		t.Fatalf("mark failed: ok=%v err=%v", ok, err)
	}

	out, err := runCLI(t, []string{"retry"}, env.configPath)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	requireContains(t, out, "Marked 1 item(s) for retry.")

	refreshed, err := env.store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if refreshed.NextAttemptAt == nil {
		t.Fatal("expected retry to schedule a next attempt")
	}
}

func TestDiscardCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	item, err := env.store.Enqueue(ctx, "meeting-alpha", []byte(`{"n":1}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	out, err := runCLI(t, []string{"discard", item.ID}, env.configPath)
	if err != nil {
		t.Fatalf("discard: %v", err)
	}
	requireContains(t, out, "Item removed.")

	_, err = runCLI(t, []string{"discard", item.ID}, env.configPath)
	if err == nil {
		t.Fatal("expected error discarding a missing item")
	}
}

func TestConfigInitCommand(t *testing.T) {
	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")

	out, err := runCLI(t, []string{"config", "init"}, configPath)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Sample configuration written")

	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("expected sample config on disk: %v", err)
	}
}
