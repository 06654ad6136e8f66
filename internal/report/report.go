// Package report writes the machine-readable audit report.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/HerbHall/sitecheck/pkg/models"
)

// Writer stores report payloads as JSON files in one directory.
type Writer struct {
	dir    string
	logger *zap.Logger
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string, logger *zap.Logger) *Writer {
	return &Writer{dir: dir, logger: logger}
}

// FileName is audit_<reference>_<started, UTC>.json.
func FileName(p *models.ReportPayload) string {
	ref := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-':
			return r
		}
		return '_'
	}, p.Project.Reference)
	if ref == "" {
		ref = "run"
	}
	return fmt.Sprintf("audit_%s_%s.json", ref, p.StartedAt.UTC().Format("20060102T150405Z"))
}

// Write encodes p and returns the path written. The file is written to a
// temporary name first and renamed into place.
func (w *Writer) Write(p *models.ReportPayload) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	path := filepath.Join(w.dir, FileName(p))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write report: %w", err)
	}

	w.logger.Info("report written",
		zap.String("run_id", p.RunID),
		zap.String("path", path),
		zap.Int("devices", p.DeviceCount()),
	)
	return path, nil
}

// Read decodes a report file.
func Read(path string) (*models.ReportPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p models.ReportPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &p, nil
}
