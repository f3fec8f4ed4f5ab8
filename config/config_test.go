package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[jit]
threshold = 5
background = false
max-workers = 4
idle-timeout = "1m30s"
exclude = ["Foo", "Bar#baz", "qux"]
log = true
cache-dir = "cache"

[interpreter]
max-call-depth = 200

[profiler]
period = 1000
min-share = 0.05

[inliner]
max-instrs = 64

[log]
verbosity = 2
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.JIT.Threshold != 5 {
		t.Errorf("jit threshold = %d, want 5", c.JIT.Threshold)
	}
	if c.JIT.Background {
		t.Error("jit background = true, want false")
	}
	if c.JIT.MaxWorkers != 4 {
		t.Errorf("jit max-workers = %d, want 4", c.JIT.MaxWorkers)
	}
	if c.JIT.IdleTimeout.Duration != 90*time.Second {
		t.Errorf("jit idle-timeout = %s, want 1m30s", c.JIT.IdleTimeout)
	}
	if len(c.JIT.Exclude) != 3 || c.JIT.Exclude[1] != "Bar#baz" {
		t.Errorf("jit exclude = %v, want [Foo Bar#baz qux]", c.JIT.Exclude)
	}
	if !c.JIT.Log {
		t.Error("jit log = false, want true")
	}
	if want := filepath.Join(c.Dir, "cache"); c.JIT.CacheDir != want {
		t.Errorf("jit cache-dir = %q, want %q", c.JIT.CacheDir, want)
	}
	if c.Interpreter.MaxCallDepth != 200 {
		t.Errorf("interpreter max-call-depth = %d, want 200", c.Interpreter.MaxCallDepth)
	}
	if c.Profiler.Period != 1000 || c.Profiler.MinShare != 0.05 {
		t.Errorf("profiler = %+v, want period 1000 and min-share 0.05", c.Profiler)
	}
	if c.Inliner.MaxInstrs != 64 {
		t.Errorf("inliner max-instrs = %d, want 64", c.Inliner.MaxInstrs)
	}
	if c.Log.Verbosity != 2 {
		t.Errorf("log verbosity = %d, want 2", c.Log.Verbosity)
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[jit]\nthreshold = 10\n")

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	d := Default()
	if !c.JIT.Background || !c.JIT.SaltSymbols || !c.JIT.Enabled {
		t.Errorf("jit = %+v, want default flags kept", c.JIT)
	}
	if c.Interpreter != d.Interpreter {
		t.Errorf("interpreter = %+v, want %+v", c.Interpreter, d.Interpreter)
	}
	if c.Profiler != d.Profiler {
		t.Errorf("profiler = %+v, want %+v", c.Profiler, d.Profiler)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"jit.threshold":                    "[jit]\nthreshold = 0\n",
		"interpreter.full-build-threshold": "[interpreter]\nfull-build-threshold = -1\n",
		"profiler.cumulative-cutoff":       "[profiler]\ncumulative-cutoff = 1.5\n",
		"jit.idle-timeout":                 "[jit]\nidle-timeout = \"-5s\"\n",
	}
	for key, content := range cases {
		dir := t.TempDir()
		writeConfig(t, dir, content)
		_, err := Load(dir)
		if err == nil || !strings.Contains(err.Error(), key) {
			t.Errorf("Expected error mentioning %s, got %v", key, err)
		}
	}
}

func TestLoadReportsParseErrors(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[jit]\nidle-timeout = \"soon\"\n")
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "parse error") {
		t.Errorf("Expected parse error, got %v", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[jit]\nthreshold = 7\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c == nil {
		t.Fatal("Expected a config, got nil")
	}
	if c.JIT.Threshold != 7 {
		t.Errorf("jit threshold = %d, want 7", c.JIT.Threshold)
	}
	abs, _ := filepath.Abs(root)
	if c.Dir != abs {
		t.Errorf("dir = %q, want %q", c.Dir, abs)
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
}
