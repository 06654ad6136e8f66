package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/HerbHall/sitecheck/internal/extract"
	"github.com/HerbHall/sitecheck/internal/transport"
	"github.com/HerbHall/sitecheck/pkg/models"
)

// allComponents asks the status endpoint for every component block.
const allComponents = 1073741823

// Sensor types in the status document.
const (
	sensorTemperature = 1
	sensorHumidity    = 2
	sensorLineMeter   = 9
)

var errInvalidJSON = errors.New("status document is not valid JSON")

// PDU audits switched power distribution units over their JSON status API.
type PDU struct {
	http    HTTPGetter
	arp     MACResolver
	backups *BackupWriter
	scheme  string
	logger  *zap.Logger
}

// NewPDU creates the PDU driver. arp may be nil.
func NewPDU(http HTTPGetter, arp MACResolver, backups *BackupWriter, cfg Config, logger *zap.Logger) *PDU {
	scheme := cfg.PDUScheme
	if scheme == "" {
		scheme = "http"
	}
	return &PDU{http: http, arp: arp, backups: backups, scheme: scheme, logger: logger}
}

func (p *PDU) Family() models.Family { return models.FamilyPDU }

func (p *PDU) statusURL(ip string) string {
	return fmt.Sprintf("%s://%s/status.json?components=%d", p.scheme, ip, allComponents)
}

func (p *PDU) status(ctx context.Context, dev models.Device) (gjson.Result, error) {
	url := p.statusURL(dev.IP)
	body, err := p.http.Get(ctx, url, credentials(dev))
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &transport.CommandError{Command: "GET " + url, Err: errInvalidJSON}
	}
	return gjson.ParseBytes(body), nil
}

func (p *PDU) Probe(ctx context.Context, dev models.Device) models.AuditResult {
	start := time.Now()
	mode := models.FamilyPDU.Mode()

	doc, err := p.status(ctx, dev)
	if err != nil {
		return stamp(offline(mode, err), start)
	}

	res := models.NewOnlineResult(mode)
	if fw := firstString(doc, "misc.firm_v", "misc.firmware"); fw != "" {
		res.Firmware = fw
	}
	if up := firstString(doc, "misc.uptime"); up != "" {
		res.Uptime = up
	}

	res.MAC = p.resolveMAC(ctx, doc, dev.IP)
	if res.MAC != models.SentinelMissing {
		res.Serial = res.MAC
	}

	if meter := doc.Get(fmt.Sprintf("sensor_values.#(type==%d)", sensorLineMeter)); meter.Exists() {
		row := meter.Get("values.0")
		volts, amps := row.Get("0.v"), row.Get("1.v")
		if volts.Exists() && amps.Exists() {
			res.PowerReading = fmt.Sprintf("%sV / %sA", volts.String(), amps.String())
		}
	}

	doc.Get("outputs").ForEach(func(_, out gjson.Result) bool {
		name := out.Get("name").String()
		if name == "" {
			name = fmt.Sprintf("Port %d", out.Get("index").Int())
		}
		res.Outlets = append(res.Outlets, models.Outlet{Name: name, On: out.Get("state").Int() == 1})
		return true
	})

	exportURL := fmt.Sprintf("%s://%s/config.txt", p.scheme, dev.IP)
	if body, err := p.http.Get(ctx, exportURL, credentials(dev)); err == nil {
		res.BackupFile = p.backups.save("pdu", dev.IP, "txt", body)
	} else {
		p.logger.Debug("config export failed", zap.String("device", dev.Name), zap.Error(err))
	}
	return stamp(res, start)
}

func (p *PDU) resolveMAC(ctx context.Context, doc gjson.Result, ip string) string {
	if raw := firstString(doc, "ethernet.mac", "ipv4.mac"); raw != "" {
		return extract.NormalizeMAC(raw)
	}
	if p.arp != nil {
		if mac, ok := p.arp.LookupMAC(ctx, ip); ok {
			return mac
		}
	}
	return models.SentinelMissing
}

// SensorReading is an environmental value and the device it came from.
type SensorReading struct {
	Temperature string
	Humidity    string
}

// Sensors reads the temperature and humidity probes attached to a PDU. Empty
// strings mean the probe is absent.
func (p *PDU) Sensors(ctx context.Context, dev models.Device) (SensorReading, error) {
	doc, err := p.status(ctx, dev)
	if err != nil {
		return SensorReading{}, err
	}
	var r SensorReading
	if v := sensorValue(doc, sensorTemperature); v != "" {
		r.Temperature = v + "°C"
	}
	if v := sensorValue(doc, sensorHumidity); v != "" {
		r.Humidity = v + "%"
	}
	return r, nil
}

// sensorValue accepts both the flat {"type":1,"value":21.5} form and the
// nested {"type":1,"values":[[{"v":21.5}]]} form.
func sensorValue(doc gjson.Result, sensorType int) string {
	s := doc.Get(fmt.Sprintf("sensor_values.#(type==%d)", sensorType))
	if !s.Exists() {
		return ""
	}
	if v := s.Get("value"); v.Exists() {
		return v.String()
	}
	if v := s.Get("values.0.0.v"); v.Exists() {
		return v.String()
	}
	return ""
}

func firstString(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := doc.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
