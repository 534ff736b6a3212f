package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mikequentel/circlegram/internal/config"
	"github.com/mikequentel/circlegram/internal/ledger"
	"github.com/mikequentel/circlegram/internal/model"
	"github.com/mikequentel/circlegram/internal/pipeline"
)

// ===================== helpers =====================

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CIRCLEGRAM_BUCKET_NAME", "CIRCLEGRAM_IG_USER_ID", "CIRCLEGRAM_ACCESS_TOKEN",
		"CIRCLEGRAM_X_CONSUMER_KEY", "CIRCLEGRAM_X_CONSUMER_SECRET",
		"CIRCLEGRAM_X_ACCESS_TOKEN", "CIRCLEGRAM_X_ACCESS_SECRET",
		"DRY_RUN",
	} {
		t.Setenv(k, "")
	}
}

// writeConfig writes a config that renders small images into a temp dir.
func writeConfig(t *testing.T) (path, imageDir string) {
	t.Helper()
	dir := t.TempDir()
	imageDir = filepath.Join(dir, "images")
	cfg := map[string]any{
		"bucket_name":  "circles",
		"ig_user_id":   "U1",
		"access_token": "tok",
		"caption":      map[string]string{"start": "Circles #", "end": ""},
		"hashtags":     "#generative",
		"ledger_path":  filepath.Join(dir, "runs.sqlite"),
		"render":       map[string]any{"side": 120, "slices": 2, "dir": imageDir},
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	path = filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
	return path, imageDir
}

// ===================== envOr =====================

func TestEnvOr(t *testing.T) {
	const key = "TEST_ENVVAR_CIRCLEGRAM_XYZ"

	// Unset: should return default.
	os.Unsetenv(key)
	if got := envOr(key, "default_val"); got != "default_val" {
		t.Errorf("envOr unset = %q, want %q", got, "default_val")
	}

	// Set: should return env value.
	t.Setenv(key, "custom")
	if got := envOr(key, "default_val"); got != "custom" {
		t.Errorf("envOr set = %q, want %q", got, "custom")
	}
}

func TestDryRunFromEnv(t *testing.T) {
	tests := []struct {
		val  string
		want bool
	}{
		{"", false},
		{"0", false},
		{"true", false},
		{"1", true},
	}
	for _, tt := range tests {
		t.Run(tt.val, func(t *testing.T) {
			t.Setenv("DRY_RUN", tt.val)
			if got := dryRunFromEnv(); got != tt.want {
				t.Errorf("dryRunFromEnv() with DRY_RUN=%q = %v, want %v", tt.val, got, tt.want)
			}
		})
	}
}

// ===================== runPost =====================

func TestRunPost_MissingConfig(t *testing.T) {
	clearEnv(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := runOptions{configPath: filepath.Join(t.TempDir(), "nope.json"), timeout: time.Minute}

	err := runPost(context.Background(), opts, logger)
	if got := pipeline.FailedStage(err); got != pipeline.StageConfig {
		t.Fatalf("FailedStage = %q, want %q (err: %v)", got, pipeline.StageConfig, err)
	}
	var re *config.ReadError
	if !errors.As(err, &re) {
		t.Fatalf("expected *config.ReadError in chain, got %T", err)
	}
	if !strings.Contains(err.Error(), "config stage failed") {
		t.Errorf("error should name the stage: %v", err)
	}
}

func TestRunPost_DryRun(t *testing.T) {
	clearEnv(t)
	path, imageDir := writeConfig(t)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	if err := runPost(context.Background(), runOptions{configPath: path, dryRun: true, timeout: time.Minute}, logger); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(imageDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || filepath.Ext(entries[0].Name()) != ".jpg" {
		t.Fatalf("expected one jpg in %s, got %v", imageDir, entries)
	}
	out := logs.String()
	if !strings.Contains(out, "would post") {
		t.Errorf("expected dry run summary in logs, got: %s", out)
	}
	if !strings.Contains(out, "https://storage.googleapis.com/circles/"+entries[0].Name()) {
		t.Errorf("expected public url in logs, got: %s", out)
	}
}

func TestRootCmd_RunDryRunFlag(t *testing.T) {
	clearEnv(t)
	path, imageDir := writeConfig(t)
	var logs bytes.Buffer
	cmd := newRootCmd(slog.New(slog.NewTextHandler(&logs, nil)))
	cmd.SetArgs([]string{"run", "--config", path, "--dry-run"})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatal(err)
	}
	if entries, _ := os.ReadDir(imageDir); len(entries) != 1 {
		t.Errorf("expected one rendered image, got %d", len(entries))
	}
	if !strings.Contains(logs.String(), "dry_run=true") {
		t.Errorf("expected dry_run attribute in logs, got: %s", logs.String())
	}
}

// ===================== history =====================

func TestHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.sqlite")

	l, err := ledger.Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	done := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	ok := &model.Run{RunID: "a", Name: "4242", Stage: "done", PostID: "P1", StartedAt: done, FinishedAt: &done}
	bad := &model.Run{RunID: "b", Name: "17", Stage: "upload", Error: "create stage failed: boom", StartedAt: done, FinishedAt: &done}
	for _, r := range []*model.Run{ok, bad} {
		if err := l.Begin(ctx, r); err != nil {
			t.Fatal(err)
		}
		if err := l.Update(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	l.Close()

	var out bytes.Buffer
	cmd := newRootCmd(slog.New(slog.NewTextHandler(io.Discard, nil)))
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"history", "--ledger", path, "--limit", "5"})
	if err := cmd.ExecuteContext(ctx); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "ID") {
		t.Errorf("missing header: %q", lines[0])
	}
	// newest first
	if !strings.Contains(lines[1], "create stage failed: boom") {
		t.Errorf("expected failed run first, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "P1") || !strings.HasSuffix(lines[2], "ok") {
		t.Errorf("expected successful run second, got %q", lines[2])
	}
}

func TestFormatRun(t *testing.T) {
	started := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)
	tests := []struct {
		name string
		run  model.Run
		want string
	}{
		{
			name: "ok",
			run:  model.Run{ID: 1, Name: "4242", Stage: "done", PostID: "P1", StartedAt: started, FinishedAt: &finished},
			want: "1\t2026-10-19T08:00:00Z\t4242\tdone\tP1\tok",
		},
		{
			name: "running",
			run:  model.Run{ID: 2, Name: "7", Stage: "upload", StartedAt: started},
			want: "2\t2026-10-19T08:00:00Z\t7\tupload\t-\trunning",
		},
		{
			name: "failed",
			run:  model.Run{ID: 3, Name: "9", Stage: "render", Error: "upload stage failed: denied", StartedAt: started, FinishedAt: &finished},
			want: "3\t2026-10-19T08:00:00Z\t9\trender\t-\tupload stage failed: denied",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatRun(tt.run); got != tt.want {
				t.Errorf("formatRun() = %q, want %q", got, tt.want)
			}
		})
	}
}
