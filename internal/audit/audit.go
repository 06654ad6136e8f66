// Package audit runs the device audit: it scans each category group in a
// fixed order, probes devices on a bounded worker pool, aggregates results
// and statistics on a single goroutine, and assembles the report payload.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/HerbHall/sitecheck/internal/driver"
	"github.com/HerbHall/sitecheck/pkg/models"
)

var (
	// ErrNoDevices is returned when a run is started with an empty topology.
	ErrNoDevices = errors.New("no devices to audit")
	// ErrAborted is returned alongside the partial payload of a cancelled run.
	ErrAborted = errors.New("audit aborted")
	// ErrRunInProgress is returned when Run is called while another run is active.
	ErrRunInProgress = errors.New("audit run already in progress")
)

// Config holds orchestrator tuning.
type Config struct {
	// Workers bounds concurrent probes. 1 probes strictly one device at a time.
	Workers      int           `mapstructure:"workers"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	// RatePerSecond limits probe starts. Zero or negative means unlimited.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		Workers:       8,
		ProbeTimeout:  60 * time.Second,
		RatePerSecond: 10,
		Burst:         4,
	}
}

// State is the orchestrator's position in a run.
type State int32

const (
	StateIdle State = iota
	StatePerGroupScan
	StateAggregating
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePerGroupScan:
		return "per-group-scan"
	case StateAggregating:
		return "aggregating"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// DriverSource selects the driver for a device. *driver.Registry implements it.
type DriverSource interface {
	For(dev models.Device) driver.Driver
}

// Site supplies the run-level summaries that do not belong to one device.
type Site interface {
	WAN(ctx context.Context) models.WANSummary
	Environment(ctx context.Context, results []models.DeviceResult) models.EnvironmentSummary
}
