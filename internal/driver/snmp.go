package driver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/sitecheck/internal/extract"
	"github.com/HerbHall/sitecheck/internal/transport"
	"github.com/HerbHall/sitecheck/pkg/models"
)

var snmpIdentityOIDs = []string{
	transport.OIDSysDescr,
	transport.OIDSysUpTime,
	transport.OIDSysName,
	transport.OIDBridgeBaseAddress,
	transport.OIDEntPhysicalSerial,
}

// SNMP audits devices that only expose the standard MIB-II and bridge MIBs.
type SNMP struct {
	dialer transport.SNMPDialer
	logger *zap.Logger
}

// NewSNMP creates the SNMP driver.
func NewSNMP(dialer transport.SNMPDialer, logger *zap.Logger) *SNMP {
	return &SNMP{dialer: dialer, logger: logger}
}

func (s *SNMP) Family() models.Family { return models.FamilySNMP }

func (s *SNMP) Probe(ctx context.Context, dev models.Device) models.AuditResult {
	start := time.Now()
	mode := models.FamilySNMP.Mode()

	sess, err := s.dialer.DialSNMP(ctx, dev.IP, credentials(dev))
	if err != nil {
		return stamp(offline(mode, err), start)
	}
	defer sess.Close()

	vars, err := sess.Get(ctx, snmpIdentityOIDs)
	if err != nil {
		return stamp(offline(mode, err), start)
	}

	res := models.NewOnlineResult(mode)
	if pdu, ok := vars[transport.OIDSysDescr]; ok {
		descr := transport.PDUString(pdu)
		m, err := extract.Extract(descr, extract.FieldFirmware, extract.SNMPTable[extract.FieldFirmware])
		res.Firmware = extract.ValueOr(m, err, models.SentinelMissing)
	}
	if pdu, ok := vars[transport.OIDSysUpTime]; ok {
		if d := transport.PDUTimeTicks(pdu); d > 0 {
			res.Uptime = humanUptime(d)
		}
	}
	if pdu, ok := vars[transport.OIDBridgeBaseAddress]; ok {
		if mac := transport.PDUMAC(pdu); mac != "" {
			res.MAC = extract.NormalizeMAC(mac)
		}
	}
	if pdu, ok := vars[transport.OIDEntPhysicalSerial]; ok {
		if serial := transport.PDUString(pdu); serial != "" {
			res.Serial = serial
		}
	}

	s.logger.Debug("snmp probed",
		zap.String("device", dev.Name),
		zap.Int("vars", len(vars)),
	)
	return stamp(res, start)
}
