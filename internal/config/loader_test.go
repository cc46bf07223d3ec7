package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recorder.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoaderReadsAndNormalizes(t *testing.T) {
	path := writeFile(t, `
project_id: 3f2504e0-4f89-41d3-9a0c-0305e82c3301
batch_size: 25
metadata:
  env: staging
`)
	l, err := NewLoader(path)
	if err != nil {
		t.Fatalf("NewLoader error: %v", err)
	}
	cfg := l.Config()
	if cfg.BatchSize != 25 {
		t.Errorf("BatchSize = %d, want 25", cfg.BatchSize)
	}
	if cfg.FlushIntervalMs != DefaultFlushIntervalMs {
		t.Errorf("FlushIntervalMs = %d, want default", cfg.FlushIntervalMs)
	}
	if cfg.APIEndpoint != DefaultAPIEndpoint {
		t.Errorf("APIEndpoint = %q, want default", cfg.APIEndpoint)
	}
	if cfg.Metadata["env"] != "staging" {
		t.Errorf("Metadata = %v", cfg.Metadata)
	}
}

func TestLoaderRejectsInvalidConfig(t *testing.T) {
	path := writeFile(t, "project_id: not-a-token\n")
	if _, err := NewLoader(path); err == nil {
		t.Fatal("NewLoader accepted an invalid project id")
	}
}

func TestLoaderRejectsMalformedYAML(t *testing.T) {
	path := writeFile(t, "{{nope")
	if _, err := NewLoader(path); err == nil {
		t.Fatal("NewLoader accepted malformed YAML")
	}
}

func TestReloadNotifiesCallbacks(t *testing.T) {
	path := writeFile(t, "project_id: 3f2504e0-4f89-41d3-9a0c-0305e82c3301\n")
	l, err := NewLoader(path)
	if err != nil {
		t.Fatal(err)
	}

	var seen []string
	l.OnChange(func(c *Config) { seen = append(seen, c.ProjectID) })

	const other = "b77e29a1-61f0-4f2e-8e54-1f6c2a9d4b10"
	if err := os.WriteFile(path, []byte("project_id: "+other+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if len(seen) != 1 || seen[0] != other {
		t.Errorf("callbacks saw %v, want [%s]", seen, other)
	}
	if l.Config().ProjectID != other {
		t.Errorf("current config not replaced")
	}
}
