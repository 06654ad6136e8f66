// Package driver implements one Driver per device family. A driver turns a
// Device into an AuditResult using the transport sessions and the extract
// pattern tables, and never lets a failure escape: every transport or parse
// fault is reported as an offline result with a classified error.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/sitecheck/internal/extract"
	"github.com/HerbHall/sitecheck/internal/transport"
	"github.com/HerbHall/sitecheck/pkg/models"
)

// Driver probes devices of one family.
type Driver interface {
	Family() models.Family
	Probe(ctx context.Context, dev models.Device) models.AuditResult
}

// HTTPGetter fetches a document from a device web server.
type HTTPGetter interface {
	Get(ctx context.Context, url string, creds transport.Credentials) ([]byte, error)
}

// MACResolver resolves an IP address to a MAC from outside the device.
type MACResolver interface {
	LookupMAC(ctx context.Context, ip string) (string, bool)
}

// Config holds driver tuning.
type Config struct {
	RouterWANInterface string        `mapstructure:"router_wan_interface"`
	PDUScheme          string        `mapstructure:"pdu_scheme"`
	AVDiscoveryTimeout time.Duration `mapstructure:"av_discovery_timeout"`
	AVSlowMode         bool          `mapstructure:"av_slow_mode"`
}

// DefaultConfig returns the driver defaults.
func DefaultConfig() Config {
	return Config{
		RouterWANInterface: "GigabitEthernet0/0",
		PDUScheme:          "http",
		AVDiscoveryTimeout: 20 * time.Second,
		AVSlowMode:         true,
	}
}

// Deps are the collaborators drivers are built from.
type Deps struct {
	SSH     transport.Dialer
	HTTP    HTTPGetter
	Pinger  transport.Pinger
	ARP     MACResolver
	SNMP    transport.SNMPDialer
	Backups *BackupWriter
	Config  Config
	Logger  *zap.Logger
}

// Registry selects the driver for a device. Families without a registered
// driver are probed by the fallback driver.
type Registry struct {
	drivers  map[models.Family]Driver
	fallback Driver
	logger   *zap.Logger
}

// NewRegistry creates a registry. fallback must not be nil.
func NewRegistry(fallback Driver, logger *zap.Logger, drivers ...Driver) *Registry {
	r := &Registry{
		drivers:  make(map[models.Family]Driver),
		fallback: fallback,
		logger:   logger,
	}
	r.Register(fallback)
	for _, d := range drivers {
		r.Register(d)
	}
	return r
}

// NewDefaultRegistry wires every family driver from deps.
func NewDefaultRegistry(deps Deps) *Registry {
	logger := deps.Logger
	ping := NewPing(deps.Pinger, logger.Named("driver.ping"))
	drivers := []Driver{
		NewSwitch(deps.SSH, logger.Named("driver.switch")),
		NewRouter(deps.SSH, deps.Backups, deps.Config, logger.Named("driver.router")),
		NewPDU(deps.HTTP, deps.ARP, deps.Backups, deps.Config, logger.Named("driver.pdu")),
		NewAVProcessor(deps.SSH, deps.Backups, deps.Config, logger.Named("driver.av")),
	}
	if deps.SNMP != nil {
		drivers = append(drivers, NewSNMP(deps.SNMP, logger.Named("driver.snmp")))
	}
	return NewRegistry(ping, logger, drivers...)
}

// Register adds or replaces the driver for its family.
func (r *Registry) Register(d Driver) {
	r.drivers[d.Family()] = d
}

// For returns the driver for dev's family.
func (r *Registry) For(dev models.Device) Driver {
	if d, ok := r.drivers[dev.Family]; ok {
		return d
	}
	r.logger.Debug("no driver for family, using fallback",
		zap.String("device", dev.Name),
		zap.String("family", string(dev.Family)),
		zap.String("declared", dev.Driver),
	)
	return r.fallback
}

// Lookup returns the driver registered for family, if any.
func (r *Registry) Lookup(family models.Family) (Driver, bool) {
	d, ok := r.drivers[family]
	return d, ok
}

func credentials(dev models.Device) transport.Credentials {
	return transport.Credentials{
		Username: dev.Username,
		Password: dev.Password,
		Secret:   dev.Secret,
	}
}

func offline(mode string, err error) models.AuditResult {
	return models.NewOfflineResult(mode, transport.Classify(err), err.Error())
}

func stamp(res models.AuditResult, start time.Time) models.AuditResult {
	res.Duration = time.Since(start)
	res.CheckedAt = start.UTC()
	return res
}

// commandOutput adapts a session to the extractor, treating CLI syntax
// errors as command failures.
func commandOutput(ctx context.Context, sess transport.Session) extract.OutputFunc {
	return func(command string) (string, error) {
		out, err := sess.Run(ctx, command)
		if err != nil {
			return "", err
		}
		if err := transport.CheckRejected(command, out); err != nil {
			return "", err
		}
		return out, nil
	}
}

// sessionLost reports whether err means the device stopped answering, as
// opposed to rejecting one command.
func sessionLost(err error) bool {
	return err != nil && !errors.Is(err, transport.ErrRejected)
}

// field resolves f from table, or fallback when nothing matches.
func field(f extract.Field, table extract.Table, out extract.OutputFunc, fallback string) string {
	m, err := extract.Resolve(f, table[f], out)
	return extract.ValueOr(m, err, fallback)
}

// humanUptime renders d with its two largest units.
func humanUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%d days, %d hours", days, hours)
	case hours > 0:
		return fmt.Sprintf("%d hours, %d minutes", hours, minutes)
	default:
		return fmt.Sprintf("%d minutes", minutes)
	}
}
