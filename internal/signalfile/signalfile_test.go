package signalfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	sigDir := filepath.Join(dir, signalDir)
	if err := os.MkdirAll(sigDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sigDir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReadSessionMissingReturnsNil(t *testing.T) {
	r := NewFileReader()
	s, err := r.ReadSession(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if s != nil {
		t.Error("expected nil for missing session.json")
	}
}

func TestReadSessionParsesFields(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "session.json", `{"headBefore":"abc123","startedAt":"2026-01-01T10:00:00Z"}`)

	r := NewFileReader()
	s, err := r.ReadSession(dir)
	if err != nil {
		t.Fatal(err)
	}
	if s == nil || s.HeadBefore != "abc123" {
		t.Fatalf("got %+v", s)
	}
	want := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	if !s.StartedAt.Equal(want) {
		t.Errorf("StartedAt = %v, want %v", s.StartedAt, want)
	}
}

func TestReadErrorSignal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "error.json", `{"message":"build failed","at":"2026-01-01T10:00:00Z"}`)

	r := NewFileReader()
	e, err := r.ReadError(dir)
	if err != nil {
		t.Fatal(err)
	}
	if e == nil || e.Message != "build failed" {
		t.Fatalf("got %+v", e)
	}
}

func TestReadMCPConfigPassesThroughRaw(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "mcp-config.json", `{"tools":["foo"]}`)

	r := NewFileReader()
	cfg, err := r.ReadMCPConfig(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg == nil || string(cfg.Raw) != `{"tools":["foo"]}` {
		t.Fatalf("got %+v", cfg)
	}
}

func TestReadEvaluationMalformedReturnsError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "evaluation.json", `not json`)

	r := NewFileReader()
	if _, err := r.ReadEvaluation(dir); err == nil {
		t.Error("expected an error for malformed JSON")
	}
}
