package event

import (
	"context"
	"time"

	"github.com/HerbHall/sitecheck/pkg/models"
)

// Topics published during an audit run.
const (
	TopicRunStarted     = "audit.run.started"
	TopicGroupStarted   = "audit.group.started"
	TopicDeviceProbed   = "audit.device.probed"
	TopicGroupCompleted = "audit.group.completed"
	TopicRunCompleted   = "audit.run.completed"
)

// Event is a typed message on the bus.
type Event struct {
	Topic     string
	Source    string
	Timestamp time.Time
	Payload   any // Type depends on topic
}

// Handler processes events from the bus.
type Handler func(ctx context.Context, event Event)

// RunStarted is the payload of TopicRunStarted.
type RunStarted struct {
	RunID   string
	Project models.ProjectMeta
	Devices int
}

// GroupStarted is the payload of TopicGroupStarted.
type GroupStarted struct {
	RunID    string
	Category models.Category
	Devices  int
}

// GroupCompleted is the payload of TopicGroupCompleted. Results are in
// topology order.
type GroupCompleted struct {
	RunID    string
	Category models.Category
	Results  []models.DeviceResult
	Backups  []models.BackupRecord
	Skipped  []models.Device
}

// DeviceProbed is the payload of TopicDeviceProbed.
type DeviceProbed struct {
	RunID  string
	Device models.Device
	Result models.AuditResult
}

// RunCompleted is the payload of TopicRunCompleted. Report must not be
// modified by subscribers.
type RunCompleted struct {
	RunID    string
	Stats    models.RunStats
	Skipped  int
	Aborted  bool
	Duration time.Duration
	Report   *models.ReportPayload
}
