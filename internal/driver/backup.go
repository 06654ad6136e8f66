package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// BackupWriter stores configuration exports as <dir>/<kind>_<ip>.<ext>.
type BackupWriter struct {
	dir    string
	logger *zap.Logger
}

// NewBackupWriter creates a writer rooted at dir.
func NewBackupWriter(dir string, logger *zap.Logger) *BackupWriter {
	return &BackupWriter{dir: dir, logger: logger}
}

// SanitizeIP makes ip safe for use in a file name.
func SanitizeIP(ip string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, ip)
}

// Path returns where a backup for kind and ip is written.
func (w *BackupWriter) Path(kind, ip, ext string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%s.%s", kind, SanitizeIP(ip), ext))
}

// Write stores content and returns its path. The file is written to a
// temporary name first and renamed into place.
func (w *BackupWriter) Write(kind, ip, ext string, content []byte) (string, error) {
	if err := os.MkdirAll(w.dir, 0o750); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	path := w.Path(kind, ip, ext)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o600); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename backup: %w", err)
	}
	return path, nil
}

// save writes a backup when w is configured, logging instead of failing.
func (w *BackupWriter) save(kind, ip, ext string, content []byte) string {
	if w == nil || len(content) == 0 {
		return ""
	}
	path, err := w.Write(kind, ip, ext, content)
	if err != nil {
		w.logger.Warn("backup failed", zap.String("ip", ip), zap.Error(err))
		return ""
	}
	w.logger.Debug("backup written", zap.String("ip", ip), zap.String("path", path))
	return path
}
