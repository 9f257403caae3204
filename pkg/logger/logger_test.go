package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriterShiftsBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	w, err := newRotatingWriter(path, 1, 2)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	w.maxSize = 16
	defer w.Close()

	for _, line := range []string{"first-line-0001\n", "second-line-002\n", "third-line-0003\n"} {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	current, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read current: %v", err)
	}
	if !strings.HasPrefix(string(current), "third") {
		t.Fatalf("unexpected current content %q", current)
	}
	oldest, err := os.ReadFile(path + ".2")
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if !strings.HasPrefix(string(oldest), "first") {
		t.Fatalf("unexpected backup content %q", oldest)
	}
}

func TestInitWritesToFileAndAudit(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "app.log")
	auditPath := filepath.Join(dir, "audit", "audit.log")

	if err := Init(Config{Level: "debug", Format: "text", OutputPaths: []string{out}, Audit: AuditConfig{Enabled: true, Path: auditPath}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	Named("bus").Debug("hello")
	Audit().Info("summary emitted")
	if err := Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	t.Cleanup(func() { _ = Init(Config{}) })

	content, _ := os.ReadFile(out)
	if !strings.Contains(string(content), "component=bus") {
		t.Fatalf("expected component attribute, got %q", content)
	}
	audit, _ := os.ReadFile(auditPath)
	if !strings.Contains(string(audit), "summary emitted") {
		t.Fatalf("expected audit entry, got %q", audit)
	}
}

func TestInitRejectsEmptyAuditPath(t *testing.T) {
	if err := Init(Config{Audit: AuditConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected error for empty audit path")
	}
}
