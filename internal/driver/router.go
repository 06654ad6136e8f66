package driver

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/sitecheck/internal/extract"
	"github.com/HerbHall/sitecheck/internal/transport"
	"github.com/HerbHall/sitecheck/pkg/models"
)

// Router audits edge routers. The legacy variant only negotiates older key
// exchanges and has no pager command.
type Router struct {
	dialer  transport.Dialer
	backups *BackupWriter
	wanIf   string
	logger  *zap.Logger
}

// NewRouter creates the router driver.
func NewRouter(dialer transport.Dialer, backups *BackupWriter, cfg Config, logger *zap.Logger) *Router {
	wanIf := cfg.RouterWANInterface
	if wanIf == "" {
		wanIf = DefaultConfig().RouterWANInterface
	}
	return &Router{dialer: dialer, backups: backups, wanIf: wanIf, logger: logger}
}

func (r *Router) Family() models.Family { return models.FamilyRouter }

// RouterDialect returns the dialect for a router variant.
func RouterDialect(v models.Variant) Dialect {
	if v == models.VariantLegacy {
		return Dialect{
			Name:     "legacy",
			Options:  transport.DialOptions{LegacyKex: true, SlowMode: true},
			Commands: map[string]string{cmdWAN: "show ip route"},
		}
	}
	return Dialect{
		Name:     "ios",
		PagerOff: "terminal length 0",
		Commands: map[string]string{cmdWAN: "show ip interface brief"},
	}
}

func (r *Router) Probe(ctx context.Context, dev models.Device) models.AuditResult {
	start := time.Now()
	mode := models.FamilyRouter.Mode()

	sel := NewSelector(r.dialer, r.logger, RouterDialect(dev.Variant))
	sess, dialect, err := sel.Open(ctx, dev.IP, credentials(dev))
	if err != nil {
		return stamp(offline(mode, err), start)
	}
	defer sess.Close()

	if dev.Secret != "" && strings.HasSuffix(sess.Prompt(), ">") {
		if err := sess.Enable(ctx, dev.Secret); err != nil {
			r.logger.Debug("enable failed", zap.String("device", dev.Name), zap.Error(err))
		}
	}

	out := extract.Cached(commandOutput(ctx, sess))
	if _, err := out(extract.CmdShowVersion); sessionLost(err) {
		return stamp(offline(mode, err), start)
	}
	res := models.NewOnlineResult(mode)
	res.Dialect = dialect.Name
	res.Firmware = field(extract.FieldFirmware, extract.RouterTable, out, models.SentinelMissing)
	res.Serial = field(extract.FieldSerial, extract.RouterTable, out, models.SentinelNoSerial)
	res.Uptime = field(extract.FieldUptime, extract.RouterTable, out, models.SentinelMissing)

	if text, err := out(dialect.Commands[cmdWAN]); err == nil {
		res.WANIPs = extract.WANAddresses(text)
	}
	res.MAC = r.resolveMAC(out, dev.IP)

	if text, err := out("show running-config"); err == nil && strings.TrimSpace(text) != "" {
		res.BackupFile = r.backups.save("router", dev.IP, "cfg", []byte(text+"\n"))
	}
	return stamp(res, start)
}

// resolveMAC reads the router's own ARP entry, falling back to the WAN
// interface's burned-in address.
func (r *Router) resolveMAC(out extract.OutputFunc, ip string) string {
	if text, err := out("show ip arp " + ip); err == nil {
		if mac, ok := extract.DottedMAC(text); ok {
			return mac
		}
	}
	if text, err := out("show interfaces " + r.wanIf + " | include bia"); err == nil {
		if mac, ok := extract.BurnedInMAC(text); ok {
			return mac
		}
	}
	return models.SentinelMissing
}
