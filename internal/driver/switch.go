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

// SwitchDialects are the two switch CLIs, small-business first.
func SwitchDialects() []Dialect {
	return []Dialect{
		{
			Name:     "cisco_s300",
			PagerOff: "terminal datadump",
			Commands: map[string]string{
				cmdVLANs:      "show vlan",
				cmdPortErrors: "show interfaces counters errors",
				cmdPoE:        "show power inline",
			},
		},
		{
			Name:     "cisco_ios",
			PagerOff: "terminal length 0",
			Commands: map[string]string{
				cmdVLANs:      "show vlan brief",
				cmdPortErrors: "show interfaces counters errors",
				cmdPoE:        "show power inline",
			},
		},
	}
}

// Switch audits managed switches.
type Switch struct {
	selector *Selector
	logger   *zap.Logger
}

// NewSwitch creates the switch driver.
func NewSwitch(dialer transport.Dialer, logger *zap.Logger) *Switch {
	return &Switch{
		selector: NewSelector(dialer, logger, SwitchDialects()...),
		logger:   logger,
	}
}

func (s *Switch) Family() models.Family { return models.FamilySwitch }

func (s *Switch) Probe(ctx context.Context, dev models.Device) models.AuditResult {
	start := time.Now()
	mode := models.FamilySwitch.Mode()

	sess, dialect, err := s.selector.Open(ctx, dev.IP, credentials(dev))
	if err != nil {
		return stamp(offline(mode, err), start)
	}
	defer sess.Close()

	if dev.Secret != "" && strings.HasSuffix(sess.Prompt(), ">") {
		if err := sess.Enable(ctx, dev.Secret); err != nil {
			s.logger.Debug("enable failed", zap.String("device", dev.Name), zap.Error(err))
		}
	}

	out := extract.Cached(commandOutput(ctx, sess))
	res := models.NewOnlineResult(mode)
	res.Dialect = dialect.Name
	res.Serial = field(extract.FieldSerial, extract.SwitchTable, out, models.SentinelNoSerial)
	res.MAC = field(extract.FieldMAC, extract.SwitchTable, out, models.SentinelMissing)
	res.Firmware = field(extract.FieldFirmware, extract.SwitchTable, out, models.SentinelMissing)
	res.Uptime = field(extract.FieldUptime, extract.SwitchTable, out, models.SentinelMissing)
	res.Temperature = field(extract.FieldTemperature, extract.SwitchTable, out, "")

	if text, err := out(dialect.Commands[cmdVLANs]); err == nil {
		res.VLANs = extract.ParseVLANs(text)
	}
	if text, err := out(dialect.Commands[cmdPortErrors]); err == nil {
		res.PortErrors = extract.ParsePortErrors(text)
	}

	// PoE stays nil when the budget cannot be read; NoPoEPower is only
	// reported for a budget the switch printed as zero.
	if text, err := out(dialect.Commands[cmdPoE]); err == nil {
		if used, available, err := extract.ParsePoE(text); err == nil {
			poe := extract.PoEUtilization(used, available)
			res.PoE = &poe
		}
	}

	s.logger.Debug("switch probed",
		zap.String("device", dev.Name),
		zap.String("dialect", dialect.Name),
		zap.Int("vlans", len(res.VLANs)),
		zap.Int("port_errors", len(res.PortErrors)),
	)
	return stamp(res, start)
}
