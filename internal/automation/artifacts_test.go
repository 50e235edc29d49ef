package automation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileSinkSaveScreenshot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	sink, err := NewFileSink(root)
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}

	if err := sink.SaveScreenshot(context.Background(), "com.truecaller", "+14155550000", []byte("png")); err != nil {
		t.Fatalf("SaveScreenshot() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(root, "com.truecaller", "screenshots", "+14155550000.png"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "png" {
		t.Fatalf("content = %q, want png", got)
	}
}

func TestFileSinkRejectsEmptyScreenshot(t *testing.T) {
	t.Parallel()

	sink, err := NewFileSink(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSink() error = %v", err)
	}
	if err := sink.SaveScreenshot(context.Background(), "com.truecaller", "+14155550000", nil); err == nil {
		t.Fatal("expected error for empty screenshot")
	}
}

func TestNewFileSinkRequiresRoot(t *testing.T) {
	t.Parallel()

	if _, err := NewFileSink("  "); err == nil {
		t.Fatal("expected error for blank root")
	}
}
