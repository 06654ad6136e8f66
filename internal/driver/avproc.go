package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/sitecheck/internal/extract"
	"github.com/HerbHall/sitecheck/internal/transport"
	"github.com/HerbHall/sitecheck/pkg/models"
)

// AV processor console commands.
const (
	cmdCresnet      = "reportcresnet"
	cmdAutoDiscover = "autodiscover query table"
	cmdErrLog       = "errlog"
)

// AVProcessor audits AV control processors over their line console.
type AVProcessor struct {
	dialer           transport.Dialer
	backups          *BackupWriter
	discoveryTimeout time.Duration
	slow             bool
	logger           *zap.Logger
	now              func() time.Time
}

// NewAVProcessor creates the AV processor driver.
func NewAVProcessor(dialer transport.Dialer, backups *BackupWriter, cfg Config, logger *zap.Logger) *AVProcessor {
	timeout := cfg.AVDiscoveryTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().AVDiscoveryTimeout
	}
	return &AVProcessor{
		dialer:           dialer,
		backups:          backups,
		discoveryTimeout: timeout,
		slow:             cfg.AVSlowMode,
		logger:           logger,
		now:              time.Now,
	}
}

func (a *AVProcessor) Family() models.Family { return models.FamilyAVProcessor }

func (a *AVProcessor) Probe(ctx context.Context, dev models.Device) models.AuditResult {
	start := time.Now()
	mode := models.FamilyAVProcessor.Mode()

	sess, err := a.dialer.Dial(ctx, dev.IP, credentials(dev), transport.DialOptions{SlowMode: a.slow})
	if err != nil {
		return stamp(offline(mode, err), start)
	}
	defer sess.Close()

	out := extract.Cached(commandOutput(ctx, sess))
	if _, err := out(extract.CmdAVVersion); sessionLost(err) {
		return stamp(offline(mode, err), start)
	}
	res := models.NewOnlineResult(mode)
	res.Firmware = field(extract.FieldFirmware, extract.AVTable, out, models.SentinelMissing)
	res.Uptime = field(extract.FieldUptime, extract.AVTable, out, models.SentinelMissing)
	res.MAC = field(extract.FieldMAC, extract.AVTable, out, models.SentinelMissing)
	if res.MAC != models.SentinelMissing {
		res.Serial = res.MAC
	}

	if text, err := out(cmdCresnet); err == nil {
		res.PeerDevices = append(res.PeerDevices, extract.ParseCresnet(text)...)
	}

	// Auto-discovery is slow and often partial; failures are not fatal.
	discovery, err := sess.RunFor(ctx, cmdAutoDiscover, a.discoveryTimeout)
	if err == nil {
		err = transport.CheckRejected(cmdAutoDiscover, discovery)
	}
	if err != nil {
		a.logger.Debug("auto-discovery failed", zap.String("device", dev.Name), zap.Error(err))
		discovery = ""
	} else {
		res.PeerDevices = append(res.PeerDevices, extract.ParseAutoDiscovery(discovery)...)
	}

	errlog, _ := out(cmdErrLog)
	res.BackupFile = a.backups.save("av", dev.IP, "txt", []byte(a.report(dev.IP, out, discovery, errlog)))
	return stamp(res, start)
}

// report assembles the composite system report kept as the backup.
func (a *AVProcessor) report(ip string, out extract.OutputFunc, discovery, errlog string) string {
	version, _ := out(extract.CmdAVVersion)
	ipconfig, _ := out(extract.CmdAVIPConfig)

	var b strings.Builder
	fmt.Fprintf(&b, "--- AV PROCESSOR SYSTEM REPORT ---\nIP: %s\nDate: %s\n\n", ip, a.now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "--- VERSION ---\n%s\n\n", version)
	fmt.Fprintf(&b, "--- IP CONFIG ---\n%s\n\n", ipconfig)
	fmt.Fprintf(&b, "--- DISCOVERY ---\n%s\n\n", discovery)
	fmt.Fprintf(&b, "--- ERROR LOG ---\n%s\n", errlog)
	return b.String()
}
