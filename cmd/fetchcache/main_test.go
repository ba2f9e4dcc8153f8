package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fetchcache.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFetchPrintsRenderContext(t *testing.T) {
	path := writeConfig(t, "context:\n  greeting: hello\n")
	out, err := run(t, "--config", path, "fetch")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	var got struct {
		Context map[string]any `json:"context"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Context["greeting"] != "hello" {
		t.Fatalf("context = %v", got.Context)
	}
}

func TestCacheClearWithDefaults(t *testing.T) {
	for _, logger := range []string{"slog", "zap", "logrus"} {
		out, err := run(t, "--logger", logger, "cache", "clear", "--locks")
		if err != nil {
			t.Fatalf("%s: cache clear: %v", logger, err)
		}
		if !strings.Contains(out, "cache cleared") {
			t.Fatalf("%s: out = %q", logger, out)
		}
	}
}

func TestSubmitUnknownEndpointFails(t *testing.T) {
	out, err := run(t, "submit", "nope", "--data", `{"a":1}`)
	if err == nil || !strings.Contains(err.Error(), "submit endpoint 'nope' not found") {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(out, `"success":false`) {
		t.Fatalf("out = %q", out)
	}
	if _, err := run(t, "submit", "nope", "--data", `[1]`); err == nil {
		t.Fatalf("non-object form should fail")
	}
}

func TestFlagErrors(t *testing.T) {
	if _, err := run(t, "--logger", "stdout", "cache", "clear"); err == nil {
		t.Fatalf("unknown logger should fail")
	}
	if _, err := run(t, "--log-level", "loud", "cache", "clear"); err == nil {
		t.Fatalf("bad level should fail")
	}
	if _, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "fetch"); err == nil {
		t.Fatalf("explicit missing config should fail")
	}
}
