// Package monitor runs the audit repeatedly and serves metrics and health
// while it does.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HerbHall/sitecheck/internal/audit"
	"github.com/HerbHall/sitecheck/internal/store"
	"github.com/HerbHall/sitecheck/pkg/models"
)

// Config holds the monitoring loop settings.
type Config struct {
	// Interval is the pause between the end of one run and the start of the next.
	Interval time.Duration `mapstructure:"interval"`
	Listen   string        `mapstructure:"listen"`
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{Interval: 15 * time.Second, Listen: ":9310"}
}

// Auditor runs one audit pass. *audit.Orchestrator implements it.
type Auditor interface {
	Run(ctx context.Context, project models.ProjectMeta, devices []models.Device) (*models.ReportPayload, error)
}

// History persists runs and serves the identity cache.
type History interface {
	SaveRun(ctx context.Context, p *models.ReportPayload) error
	LastKnown(ctx context.Context, ip string) (store.Identity, bool, error)
}

// Monitor runs a full audit once, then quick audits on every interval.
type Monitor struct {
	cfg     Config
	full    Auditor
	quick   Auditor
	history History
	metrics http.Handler
	logger  *zap.Logger

	mu      sync.RWMutex
	runs    int
	lastRun *models.ReportPayload
	lastErr error
}

// resultHooker is implemented by auditors that let the monitor adjust
// results before they are published.
type resultHooker interface {
	OnResult(hook audit.ResultHook)
}

// New creates a monitor. quick may be nil to run the full audit every time;
// history and metrics may be nil. When history is set, auditors that accept a
// result hook fill identity fields from it during the run.
func New(cfg Config, full, quick Auditor, history History, metrics http.Handler, logger *zap.Logger) *Monitor {
	if quick == nil {
		quick = full
	}
	m := &Monitor{cfg: cfg, full: full, quick: quick, history: history, metrics: metrics, logger: logger}
	if history != nil {
		for _, a := range []Auditor{full, quick} {
			if h, ok := a.(resultHooker); ok {
				h.OnResult(m.withIdentity)
			}
		}
	}
	return m
}

// Handler serves /metrics and /healthz.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	if m.metrics != nil {
		mux.Handle("/metrics", m.metrics)
	}
	mux.HandleFunc("/healthz", m.handleHealth)
	return mux
}

type healthResponse struct {
	Status    string          `json:"status"`
	Runs      int             `json:"runs"`
	LastRunID string          `json:"last_run_id,omitempty"`
	LastRunAt *time.Time      `json:"last_run_at,omitempty"`
	Stats     models.RunStats `json:"stats"`
	Error     string          `json:"error,omitempty"`
}

func (m *Monitor) handleHealth(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	resp := healthResponse{Status: "ok", Runs: m.runs}
	if m.lastRun != nil {
		at := m.lastRun.FinishedAt
		resp.LastRunID = m.lastRun.RunID
		resp.LastRunAt = &at
		resp.Stats = m.lastRun.Stats
	}
	if m.lastErr != nil {
		resp.Status = "degraded"
		resp.Error = m.lastErr.Error()
	}
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Run blocks until ctx is cancelled or the HTTP listener fails.
func (m *Monitor) Run(ctx context.Context, project models.ProjectMeta, devices []models.Device) error {
	ln, err := net.Listen("tcp", m.cfg.Listen)
	if err != nil {
		return err
	}
	return m.Serve(ctx, ln, project, devices)
}

// Serve is Run on an existing listener.
func (m *Monitor) Serve(ctx context.Context, ln net.Listener, project models.ProjectMeta, devices []models.Device) error {
	srv := &http.Server{Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m.logger.Info("monitor listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		m.loop(gctx, project, devices)
		return nil
	})
	return g.Wait()
}

func (m *Monitor) loop(ctx context.Context, project models.ProjectMeta, devices []models.Device) {
	auditor := m.full
	for {
		m.runOnce(ctx, auditor, project, devices)
		auditor = m.quick

		timer := time.NewTimer(m.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Monitor) runOnce(ctx context.Context, auditor Auditor, project models.ProjectMeta, devices []models.Device) {
	p, err := auditor.Run(ctx, project, devices)
	if err != nil && !errors.Is(err, audit.ErrAborted) {
		m.logger.Error("monitor run failed", zap.Error(err))
		m.record(nil, err)
		return
	}
	if p == nil {
		return
	}

	// Persist even when shutdown aborted the run.
	saveCtx := context.WithoutCancel(ctx)
	if m.history != nil {
		if serr := m.history.SaveRun(saveCtx, p); serr != nil {
			m.logger.Warn("saving run failed", zap.String("run_id", p.RunID), zap.Error(serr))
		}
	}
	m.record(p, nil)
	m.logger.Info("monitor run complete",
		zap.String("run_id", p.RunID),
		zap.Int("pass", p.Stats.Pass),
		zap.Int("fail", p.Stats.Fail),
		zap.Bool("aborted", p.Aborted),
	)
}

func (m *Monitor) record(p *models.ReportPayload, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	if p != nil {
		m.lastRun = p
	}
	m.lastErr = err
}

// withIdentity returns res with the identity fields it could not read filled
// from the last values seen for dev.
func (m *Monitor) withIdentity(ctx context.Context, dev models.Device, res models.AuditResult) models.AuditResult {
	if m.history == nil || !res.Online {
		return res
	}
	id, ok, err := m.history.LastKnown(ctx, dev.IP)
	if err != nil {
		m.logger.Debug("identity lookup failed", zap.String("device", dev.Name), zap.Error(err))
		return res
	}
	if !ok {
		return res
	}
	fill(&res.Serial, id.Serial, models.SentinelNoSerial)
	fill(&res.MAC, id.MAC, models.SentinelMissing, models.SentinelOnline)
	fill(&res.Firmware, id.Firmware, models.SentinelMissing)
	return res
}

func fill(field *string, cached string, placeholders ...string) {
	if cached == "" {
		return
	}
	for _, ph := range placeholders {
		if *field == ph {
			*field = cached
			return
		}
	}
}

// LastRun returns the most recent completed run, or nil.
func (m *Monitor) LastRun() *models.ReportPayload {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRun
}
