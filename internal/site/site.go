// Package site supplies the run-level summaries of an audit: the WAN uplink
// (public IP, provider, latency) and the physical environment (temperature,
// humidity, geolocation). Readings that cannot be obtained are reported as
// N/A, never estimated.
package site

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/HerbHall/sitecheck/internal/driver"
	"github.com/HerbHall/sitecheck/internal/transport"
	"github.com/HerbHall/sitecheck/pkg/models"
)

// Config holds the site lookups.
type Config struct {
	GeoURL        string        `mapstructure:"geo_url"`
	LatencyTarget string        `mapstructure:"latency_target"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns the site defaults.
func DefaultConfig() Config {
	return Config{
		GeoURL:        "http://ip-api.com/json/",
		LatencyTarget: "8.8.8.8",
		Timeout:       5 * time.Second,
	}
}

// SensorReader reads environmental probes attached to a device.
type SensorReader interface {
	Sensors(ctx context.Context, dev models.Device) (driver.SensorReading, error)
}

// Summarizer builds the WAN and environment sections.
type Summarizer struct {
	cfg     Config
	http    driver.HTTPGetter
	pinger  transport.Pinger
	sensors SensorReader
	logger  *zap.Logger

	mu  sync.Mutex
	geo geoInfo
}

type geoInfo struct {
	ip, isp, country, city string
}

// New creates a summarizer. pinger and sensors may be nil.
func New(cfg Config, http driver.HTTPGetter, pinger transport.Pinger, sensors SensorReader, logger *zap.Logger) *Summarizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Summarizer{cfg: cfg, http: http, pinger: pinger, sensors: sensors, logger: logger}
}

// WAN looks up the public IP and provider, and measures latency to the
// configured target.
func (s *Summarizer) WAN(ctx context.Context) models.WANSummary {
	w := models.WANSummary{PublicIP: models.UnknownPublicIP, Provider: models.SentinelMissing}

	geo, err := s.lookup(ctx)
	if err != nil {
		s.logger.Warn("public IP lookup failed", zap.String("url", s.cfg.GeoURL), zap.Error(err))
		w.Error = models.TruncateError(err.Error())
	} else {
		w.PublicIP = geo.ip
		if geo.isp != "" {
			w.Provider = geo.isp
		}
		w.Country, w.City = geo.country, geo.city
	}

	if s.pinger != nil && s.cfg.LatencyTarget != "" {
		pctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
		if reply, err := s.pinger.Ping(pctx, s.cfg.LatencyTarget); err == nil && reply.Alive {
			w.LatencyMs = float64(reply.RTT.Microseconds()) / 1000
		} else {
			s.logger.Debug("latency probe failed", zap.String("target", s.cfg.LatencyTarget), zap.Error(err))
		}
	}
	return w
}

func (s *Summarizer) lookup(ctx context.Context) (geoInfo, error) {
	if s.http == nil || s.cfg.GeoURL == "" {
		return geoInfo{}, fmt.Errorf("geo lookup not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	body, err := s.http.Get(ctx, s.cfg.GeoURL, transport.Credentials{})
	if err != nil {
		return geoInfo{}, err
	}
	if !gjson.ValidBytes(body) {
		return geoInfo{}, fmt.Errorf("geo response is not JSON")
	}
	doc := gjson.ParseBytes(body)
	if st := doc.Get("status"); st.Exists() && st.String() != "success" {
		return geoInfo{}, fmt.Errorf("geo lookup status %q: %s", st.String(), doc.Get("message").String())
	}
	geo := geoInfo{
		ip:      firstOf(doc, "query", "ip"),
		isp:     firstOf(doc, "isp", "org"),
		country: firstOf(doc, "country", "countryCode"),
		city:    doc.Get("city").String(),
	}
	if geo.ip == "" {
		return geoInfo{}, fmt.Errorf("geo response has no IP")
	}

	s.mu.Lock()
	s.geo = geo
	s.mu.Unlock()
	return geo, nil
}

func firstOf(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := doc.Get(p).String(); v != "" {
			return v
		}
	}
	return ""
}

// Environment reads temperature and humidity from PDU probes first, then
// falls back to switch temperature. Location comes from the last WAN lookup.
func (s *Summarizer) Environment(ctx context.Context, results []models.DeviceResult) models.EnvironmentSummary {
	env := models.EnvironmentSummary{
		Location:    models.SentinelMissing,
		Temperature: models.SentinelMissing,
		Humidity:    models.SentinelMissing,
	}

	s.mu.Lock()
	geo := s.geo
	s.mu.Unlock()
	if geo.city != "" || geo.country != "" {
		env.Location = strings.Trim(geo.city+", "+geo.country, ", ")
	}

	if s.sensors != nil {
		for _, dr := range results {
			if dr.Device.Family != models.FamilyPDU || !dr.Result.Online {
				continue
			}
			r, err := s.sensors.Sensors(ctx, dr.Device)
			if err != nil {
				s.logger.Debug("sensor read failed", zap.String("device", dr.Device.Name), zap.Error(err))
				continue
			}
			if r.Temperature != "" && env.TemperatureSource == "" {
				env.Temperature, env.TemperatureSource = r.Temperature, dr.Device.Name
			}
			if r.Humidity != "" && env.HumiditySource == "" {
				env.Humidity, env.HumiditySource = r.Humidity, dr.Device.Name
			}
			if env.TemperatureSource != "" && env.HumiditySource != "" {
				break
			}
		}
	}

	if env.TemperatureSource == "" {
		for _, dr := range results {
			if dr.Device.Family == models.FamilySwitch && dr.Result.Online && dr.Result.Temperature != "" {
				env.Temperature, env.TemperatureSource = dr.Result.Temperature, dr.Device.Name
				break
			}
		}
	}
	return env
}
