package migrate

import (
	"io"
	"log/slog"
	"testing"
)

func TestNewValidatesInputs(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, err := New("", t.TempDir(), logger); err == nil {
		t.Fatal("expected error for empty dsn")
	}
	if _, err := New("postgres://localhost/usop", "", logger); err == nil {
		t.Fatal("expected error for empty dir")
	}
	if _, err := New("postgres://localhost/usop", "/does/not/exist", logger); err == nil {
		t.Fatal("expected error for missing dir")
	}

	runner, err := New("postgres://localhost/usop", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if runner.log == nil {
		t.Fatal("expected default logger")
	}
}
