package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/HerbHall/sitecheck/internal/event"
	"github.com/HerbHall/sitecheck/pkg/models"
)

// FailureLog appends one JSON line per critical-device failure to a daily
// file, failures_YYYY-MM-DD.log, under dir.
type FailureLog struct {
	dir    string
	logger *zap.Logger // process logger, for write errors
	now    func() time.Time

	mu   sync.Mutex
	day  string
	file *os.File
	out  *zap.Logger
}

// NewFailureLog creates a failure log rooted at dir. Files are opened lazily.
func NewFailureLog(dir string, logger *zap.Logger) *FailureLog {
	return &FailureLog{dir: dir, logger: logger, now: time.Now}
}

// Path returns the file used for entries recorded at t.
func (f *FailureLog) Path(t time.Time) string {
	return filepath.Join(f.dir, "failures_"+t.Format("2006-01-02")+".log")
}

func (f *FailureLog) open(t time.Time) error {
	day := t.Format("2006-01-02")
	if f.out != nil && f.day == day {
		return nil
	}
	f.closeLocked()

	if err := os.MkdirAll(f.dir, 0o750); err != nil {
		return fmt.Errorf("create failure log dir: %w", err)
	}
	file, err := os.OpenFile(f.Path(t), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open failure log: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), zapcore.InfoLevel)

	f.file, f.out, f.day = file, zap.New(core), day
	return nil
}

// Record appends an entry for dev.
func (f *FailureLog) Record(dev models.Device, res models.AuditResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := res.CheckedAt
	if t.IsZero() {
		t = f.now()
	}
	if err := f.open(t.Local()); err != nil {
		return err
	}
	f.out.Error("critical device offline",
		zap.String("device", dev.Name),
		zap.String("location", dev.Location.String()),
		zap.String("ip", dev.IP),
		zap.String("error", string(res.Error)),
		zap.String("detail", res.ErrorDetail),
		zap.Time("checked_at", t),
	)
	return f.out.Sync()
}

// Attach records every failed critical device probed on bus.
func (f *FailureLog) Attach(bus *event.Bus) (detach func()) {
	return bus.Subscribe(event.TopicDeviceProbed, func(_ context.Context, e event.Event) {
		p, ok := e.Payload.(event.DeviceProbed)
		if !ok || !p.Device.Critical || p.Result.Online {
			return
		}
		if err := f.Record(p.Device, p.Result); err != nil {
			f.logger.Warn("failure log write failed", zap.String("device", p.Device.Name), zap.Error(err))
		}
	})
}

// Close closes the current file.
func (f *FailureLog) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeLocked()
}

func (f *FailureLog) closeLocked() error {
	if f.file == nil {
		return nil
	}
	_ = f.out.Sync()
	err := f.file.Close()
	f.file, f.out, f.day = nil, nil, ""
	return err
}
