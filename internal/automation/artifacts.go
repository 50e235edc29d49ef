package automation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileSink writes screenshots to <root>/<package>/screenshots/<number>.png.
type FileSink struct {
	root string
}

func NewFileSink(root string) (*FileSink, error) {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		return nil, fmt.Errorf("artifact root is required")
	}
	return &FileSink{root: trimmed}, nil
}

func (s *FileSink) SaveScreenshot(ctx context.Context, appPackage string, phoneNumber string, png []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(png) == 0 {
		return fmt.Errorf("empty screenshot")
	}

	dir := filepath.Join(s.root, filepath.Base(appPackage), "screenshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create screenshot dir: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(phoneNumber)+".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	return nil
}

// DiscardSink drops all artifacts.
type DiscardSink struct{}

func (DiscardSink) SaveScreenshot(context.Context, string, string, []byte) error { return nil }
