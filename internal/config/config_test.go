package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFragment(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write fragment: %v", err)
	}
}

func TestFromCLIRequiresExactlyOneSource(t *testing.T) {
	t.Parallel()

	if _, err := FromCLI("", ""); err == nil {
		t.Fatal("expected error for empty flags")
	}
	if _, err := FromCLI("a.toml", "conf.d"); err == nil {
		t.Fatal("expected error for both flags")
	}
	src, err := FromCLI(" a.toml ", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.FilePath != "a.toml" {
		t.Fatalf("expected trimmed file path, got %q", src.FilePath)
	}
}

func TestLoadSnapshotDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFragment(t, dir, "base.toml", "[service]\nname = \"autoheal-test\"\n")

	cfg, err := LoadSnapshot(ConfigSource{DirPath: dir})
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if cfg.Service.Name != "autoheal-test" {
		t.Fatalf("expected overlaid service name, got %q", cfg.Service.Name)
	}
	if cfg.Recovery.FailureThreshold != 5 {
		t.Fatalf("expected default failure threshold 5, got %d", cfg.Recovery.FailureThreshold)
	}
	if cfg.Ingest.HTTP.WebhookPath != defaultWebhookPath {
		t.Fatalf("expected default webhook path, got %q", cfg.Ingest.HTTP.WebhookPath)
	}
	if len(cfg.Route) != 5 {
		t.Fatalf("expected default route table, got %d routes", len(cfg.Route))
	}
	if cfg.Route[0].Alert != "PipelineFailure" || cfg.Route[0].Strategy != StrategyWorkflowRetry {
		t.Fatalf("unexpected first default route %+v", cfg.Route[0])
	}
}

func TestLoadSnapshotDirectoryOverlay(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFragment(t, dir, "10-base.toml", "[recovery]\nfailure_threshold = 3\nopen_cooldown_sec = 30\n")
	writeFragment(t, dir, "20-override.toml", "[recovery]\nopen_cooldown_sec = 90\n")

	cfg, err := LoadSnapshot(ConfigSource{DirPath: dir})
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if cfg.Recovery.FailureThreshold != 3 {
		t.Fatalf("expected threshold from earlier fragment, got %d", cfg.Recovery.FailureThreshold)
	}
	if cfg.Recovery.OpenCooldownSec != 90 {
		t.Fatalf("expected cooldown from later fragment, got %d", cfg.Recovery.OpenCooldownSec)
	}
}

func TestLoadSnapshotExplicitRoutesReplaceDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFragment(t, dir, "routes.toml",
		"[[route]]\nalert = \"PipelineFailure\"\nstrategy = \"workflow-retry\"\n")

	cfg, err := LoadSnapshot(ConfigSource{DirPath: dir})
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if len(cfg.Route) != 1 {
		t.Fatalf("expected explicit route table, got %d routes", len(cfg.Route))
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "unknown strategy",
			body: "[[route]]\nalert = \"X\"\nstrategy = \"reboot-everything\"\n",
			want: "unknown strategy",
		},
		{
			name: "bad log format",
			body: "[log.console]\nenabled = true\nlevel = \"info\"\nformat = \"xml\"\n",
			want: "format",
		},
		{
			name: "zero threshold",
			body: "[recovery]\nfailure_threshold = -1\n",
			want: "failure_threshold",
		},
		{
			name: "bad notify status",
			body: "[notify]\nstatuses = [\"exploded\"]\n",
			want: "unsupported status",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeFragment(t, dir, "bad.toml", tc.body)
			_, err := LoadSnapshot(ConfigSource{DirPath: dir})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadSnapshotSingleFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "app.toml")
	body := "[github]\ntoken = \"tok\"\nrepository = \"acme/health\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadSnapshot(ConfigSource{FilePath: path})
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if cfg.GitHub.Repository != "acme/health" {
		t.Fatalf("expected repository overlay, got %q", cfg.GitHub.Repository)
	}
	if cfg.GitHub.APIBase != defaultGitHubAPIBase {
		t.Fatalf("expected default api base, got %q", cfg.GitHub.APIBase)
	}
}
