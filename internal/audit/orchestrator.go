package audit

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/sitecheck/internal/event"
	"github.com/HerbHall/sitecheck/pkg/models"
)

const eventSource = "audit"

// Orchestrator sequences audit runs. Only one run may be active at a time.
type Orchestrator struct {
	cfg     Config
	drivers DriverSource
	site    Site
	pub     event.Publisher
	logger  *zap.Logger
	hook    ResultHook

	runMu sync.Mutex
	state atomic.Int32
}

// NewOrchestrator creates an orchestrator. site and pub may be nil.
func NewOrchestrator(cfg Config, drivers DriverSource, site Site, pub event.Publisher, logger *zap.Logger) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &Orchestrator{
		cfg:     cfg,
		drivers: drivers,
		site:    site,
		pub:     pub,
		logger:  logger,
	}
}

// ResultHook returns the result to record for dev in place of res.
type ResultHook func(ctx context.Context, dev models.Device, res models.AuditResult) models.AuditResult

// OnResult installs a hook applied to every device result before it is
// counted, published or added to the payload. Call it before Run.
func (o *Orchestrator) OnResult(hook ResultHook) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	o.hook = hook
}

// State returns the current run state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	o.logger.Debug("audit state", zap.Stringer("state", s))
}

func (o *Orchestrator) publish(ctx context.Context, topic string, payload any) {
	if o.pub == nil {
		return
	}
	o.pub.Publish(ctx, event.Event{
		Topic:     topic,
		Source:    eventSource,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

func (o *Orchestrator) limiter() *rate.Limiter {
	if o.cfg.RatePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, o.cfg.Burst)
	}
	return rate.NewLimiter(rate.Limit(o.cfg.RatePerSecond), o.cfg.Burst)
}

// Run audits devices and returns the completed payload. Cancelling ctx stops
// dispatch: devices not yet started are listed in Skipped, probes in flight
// finish under their own timeout, and the partial payload is returned with
// ErrAborted.
func (o *Orchestrator) Run(ctx context.Context, project models.ProjectMeta, devices []models.Device) (*models.ReportPayload, error) {
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}
	if !o.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer o.runMu.Unlock()

	payload := &models.ReportPayload{
		RunID:     uuid.NewString(),
		Project:   models.DefaultProjectMeta(project),
		StartedAt: time.Now().UTC(),
	}
	logger := o.logger.With(zap.String("run_id", payload.RunID))
	logger.Info("audit started", zap.Int("devices", len(devices)), zap.Int("workers", o.cfg.Workers))
	o.publish(ctx, event.TopicRunStarted, event.RunStarted{
		RunID:   payload.RunID,
		Project: payload.Project,
		Devices: len(devices),
	})

	o.setState(StatePerGroupScan)
	limiter := o.limiter()
	for _, g := range groupDevices(devices) {
		if ctx.Err() != nil {
			payload.Skipped = append(payload.Skipped, g.devices...)
			continue
		}
		o.scanGroup(ctx, limiter, payload, g)
	}
	payload.Aborted = ctx.Err() != nil

	o.setState(StateAggregating)
	o.summarize(ctx, payload)
	classifyRouters(payload)
	payload.FinishedAt = time.Now().UTC()

	o.setState(StateDone)
	logger.Info("audit finished",
		zap.Int("total", payload.Stats.Total),
		zap.Int("pass", payload.Stats.Pass),
		zap.Int("fail", payload.Stats.Fail),
		zap.Int("skipped", len(payload.Skipped)),
		zap.Bool("aborted", payload.Aborted),
		zap.Duration("elapsed", payload.FinishedAt.Sub(payload.StartedAt)),
	)
	o.publish(ctx, event.TopicRunCompleted, event.RunCompleted{
		RunID:    payload.RunID,
		Stats:    payload.Stats,
		Skipped:  len(payload.Skipped),
		Aborted:  payload.Aborted,
		Duration: payload.FinishedAt.Sub(payload.StartedAt),
		Report:   payload,
	})
	o.setState(StateIdle)

	if payload.Aborted {
		return payload, fmt.Errorf("%w: %d devices skipped", ErrAborted, len(payload.Skipped))
	}
	return payload, nil
}

// summarize fills the WAN and environment sections. They are skipped on an
// aborted run.
func (o *Orchestrator) summarize(ctx context.Context, p *models.ReportPayload) {
	p.WAN = models.WANSummary{PublicIP: models.UnknownPublicIP, Provider: models.SentinelMissing}
	p.Environment = models.EnvironmentSummary{
		Location:    models.SentinelMissing,
		Temperature: models.SentinelMissing,
		Humidity:    models.SentinelMissing,
	}
	if o.site == nil || p.Aborted {
		return
	}
	var all []models.DeviceResult
	for _, g := range p.Groups {
		all = append(all, g.Results...)
	}
	p.WAN = o.site.WAN(ctx)
	p.Environment = o.site.Environment(ctx, all)
}

type deviceGroup struct {
	category models.Category
	devices  []models.Device
}

// groupDevices buckets devices by category in CategoryOrder, keeping
// topology order within each group.
func groupDevices(devices []models.Device) []deviceGroup {
	byCat := make(map[models.Category][]models.Device)
	for _, d := range devices {
		c := d.Category
		if !knownCategory(c) {
			c = models.ResolveCategory(d.Group, d.Family)
		}
		byCat[c] = append(byCat[c], d)
	}
	var groups []deviceGroup
	for _, c := range models.CategoryOrder {
		if devs := byCat[c]; len(devs) > 0 {
			groups = append(groups, deviceGroup{category: c, devices: devs})
		}
	}
	return groups
}

func knownCategory(c models.Category) bool {
	for _, k := range models.CategoryOrder {
		if k == c {
			return true
		}
	}
	return false
}

type job struct {
	idx int
	dev models.Device
}

type outcome struct {
	idx int
	res models.AuditResult
}

// scanGroup probes one group on the worker pool. The calling goroutine is
// the only one that touches the payload.
func (o *Orchestrator) scanGroup(ctx context.Context, limiter *rate.Limiter, p *models.ReportPayload, g deviceGroup) {
	o.publish(ctx, event.TopicGroupStarted, event.GroupStarted{
		RunID:    p.RunID,
		Category: g.category,
		Devices:  len(g.devices),
	})

	jobs := make(chan job)
	outcomes := make(chan outcome)

	go func() {
		defer close(jobs)
		for i, d := range g.devices {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			select {
			case jobs <- job{idx: i, dev: d}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for range min(o.cfg.Workers, len(g.devices)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				outcomes <- outcome{idx: j.idx, res: o.probe(ctx, j.dev)}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	results := make([]models.AuditResult, len(g.devices))
	done := make([]bool, len(g.devices))
	for out := range outcomes {
		dev := g.devices[out.idx]
		res := out.res
		if o.hook != nil {
			res = o.hook(context.WithoutCancel(ctx), dev, res)
		}
		results[out.idx] = res
		done[out.idx] = true
		p.Stats.Record(res.Online)
		o.publish(ctx, event.TopicDeviceProbed, event.DeviceProbed{RunID: p.RunID, Device: dev, Result: res})
	}

	group := models.GroupReport{Category: g.category}
	var backups []models.BackupRecord
	var skipped []models.Device
	for i, dev := range g.devices {
		if !done[i] {
			skipped = append(skipped, dev)
			continue
		}
		group.Results = append(group.Results, models.DeviceResult{Device: dev, Result: results[i]})
		if results[i].BackupFile != "" {
			backups = append(backups, models.BackupRecord{Device: dev.Name, Path: results[i].BackupFile})
		}
	}
	if len(group.Results) > 0 {
		p.Groups = append(p.Groups, group)
	}
	p.Backups = append(p.Backups, backups...)
	p.Skipped = append(p.Skipped, skipped...)

	o.publish(ctx, event.TopicGroupCompleted, event.GroupCompleted{
		RunID:    p.RunID,
		Category: g.category,
		Results:  group.Results,
		Backups:  backups,
		Skipped:  skipped,
	})
}

// probe runs one driver under its own timeout. The run context's
// cancellation does not reach a probe already started.
func (o *Orchestrator) probe(ctx context.Context, dev models.Device) (res models.AuditResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("probe panicked",
				zap.String("device", dev.Name),
				zap.String("ip", dev.IP),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			res = models.NewOfflineResult(dev.Family.Mode(), models.ErrorUnclassified, fmt.Sprintf("panic: %v", r))
			res.Duration = time.Since(start)
			res.CheckedAt = start.UTC()
		}
	}()

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.ProbeTimeout)
	defer cancel()
	return o.drivers.For(dev).Probe(pctx, dev)
}
