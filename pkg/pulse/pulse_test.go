package pulse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeConfig lays down a minimal YAML config delivering to a temp file.
func writeConfig(t *testing.T) (configPath, eventsPath string) {
	t.Helper()
	dir := t.TempDir()
	eventsPath = filepath.Join(dir, "events.ndjson")
	configPath = filepath.Join(dir, "pulse.yaml")

	cfg := `
sampling:
  rates:
    trace: 1.0
    debug: 1.0
    info: 1.0
    warning: 1.0
    error: 1.0
    critical: 1.0
buffer:
  flush_size: 1
  workers: 1
metrics:
  enabled: false
sinks:
  - name: spool
    type: file
    target: ` + eventsPath + `
    timeout: 1s
`
	if err := os.WriteFile(configPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath, eventsPath
}

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestEmitReachesConfiguredSink(t *testing.T) {
	configPath, eventsPath := writeConfig(t)

	p, err := New(WithConfigFile(configPath), WithService("checkout", "test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := ContextFromUpstream("corr-facade").WithActor("u-1", "user")
	p.Emit(ctx, Info, "order placed", map[string]any{"order_id": "ord-1"})
	p.Close()

	lines := readLines(t, eventsPath)
	if len(lines) != 1 {
		t.Fatalf("got %d events, want 1", len(lines))
	}
	e := lines[0]
	if e["message"] != "order placed" {
		t.Errorf("message = %v", e["message"])
	}
	if e["correlation_id"] != "corr-facade" {
		t.Errorf("correlation_id = %v", e["correlation_id"])
	}
	if e["severity"] != "info" {
		t.Errorf("severity = %v", e["severity"])
	}
	attrs, _ := e["attributes"].(map[string]any)
	if attrs["service"] != "checkout" || attrs["actor_id"] != "u-1" {
		t.Errorf("attributes = %v", attrs)
	}
}

func TestSeverityLevelsMapThrough(t *testing.T) {
	configPath, eventsPath := writeConfig(t)

	p, err := New(WithConfigFile(configPath))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := NewContext()
	for sev, name := range map[Severity]string{
		Trace: "trace", Debug: "debug", Info: "info",
		Warning: "warning", Error: "error", Critical: "critical",
	} {
		p.Emit(ctx, sev, "level "+name, nil)
	}
	p.Close()

	seen := map[string]bool{}
	for _, e := range readLines(t, eventsPath) {
		seen[e["severity"].(string)] = true
	}
	for _, name := range []string{"trace", "debug", "info", "warning", "error", "critical"} {
		if !seen[name] {
			t.Errorf("severity %s never delivered", name)
		}
	}
}

func TestNilContextAllowed(t *testing.T) {
	configPath, eventsPath := writeConfig(t)

	p, err := New(WithConfigFile(configPath))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Emit(nil, Info, "background job done", nil)
	p.Close()

	lines := readLines(t, eventsPath)
	if len(lines) != 1 {
		t.Fatalf("got %d events, want 1", len(lines))
	}
	id, _ := lines[0]["correlation_id"].(string)
	if !strings.HasPrefix(id, "sys-") {
		t.Errorf("correlation_id = %q, want synthesized sys- id", id)
	}
}

func TestInvalidConfigRefusesToStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	bad := "buffer:\n  max_size: -5\n"
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := New(WithConfigFile(path)); err == nil {
		t.Fatal("negative buffer size accepted")
	}
}

func TestHealthSurfaces(t *testing.T) {
	configPath, _ := writeConfig(t)

	p, err := New(WithConfigFile(configPath))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if !p.Healthy() {
		t.Error("fresh pipeline with reachable sink reports unhealthy")
	}

	var buf bytes.Buffer
	if err := p.HealthJSON(&buf); err != nil {
		t.Fatalf("HealthJSON: %v", err)
	}
	var snap map[string]any
	if err := json.Unmarshal(buf.Bytes(), &snap); err != nil {
		t.Fatalf("health JSON invalid: %v", err)
	}
	if snap["status"] != "ok" {
		t.Errorf("status = %v", snap["status"])
	}

	buf.Reset()
	p.HealthText(&buf)
	if !strings.Contains(buf.String(), "status: ok") {
		t.Errorf("text render missing status line:\n%s", buf.String())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	configPath, _ := writeConfig(t)
	p, err := New(WithConfigFile(configPath))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Close()
	p.Close()
}
