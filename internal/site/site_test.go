package site

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/sitecheck/internal/driver"
	"github.com/HerbHall/sitecheck/internal/testutil"
	"github.com/HerbHall/sitecheck/internal/transport"
	"github.com/HerbHall/sitecheck/pkg/models"
)

type fakePinger struct {
	reply transport.Reply
	err   error
}

func (p fakePinger) Ping(context.Context, string) (transport.Reply, error) { return p.reply, p.err }

type fakeSensors map[string]driver.SensorReading

func (f fakeSensors) Sensors(_ context.Context, dev models.Device) (driver.SensorReading, error) {
	r, ok := f[dev.Name]
	if !ok {
		return driver.SensorReading{}, errors.New("no sensors")
	}
	return r, nil
}

func geoServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newSummarizer(url string, pinger transport.Pinger, sensors SensorReader) *Summarizer {
	cfg := DefaultConfig()
	cfg.GeoURL = url
	cfg.Timeout = 2 * time.Second
	return New(cfg, transport.NewHTTPClient(2*time.Second, zap.NewNop()), pinger, sensors, zap.NewNop())
}

func TestWAN(t *testing.T) {
	srv := geoServer(t, `{"status":"success","country":"United Kingdom","city":"London","isp":"Example Broadband","query":"203.0.113.5"}`)
	s := newSummarizer(srv.URL, fakePinger{reply: transport.Reply{Alive: true, RTT: 12500 * time.Microsecond}}, nil)

	w := s.WAN(context.Background())
	require.Empty(t, w.Error)
	assert.Equal(t, "203.0.113.5", w.PublicIP)
	assert.True(t, w.PublicIPKnown())
	assert.Equal(t, "Example Broadband", w.Provider)
	assert.Equal(t, "United Kingdom", w.Country)
	assert.Equal(t, "London", w.City)
	assert.InDelta(t, 12.5, w.LatencyMs, 0.001)
	assert.Empty(t, w.Error)
}

func TestWAN_LookupFailed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"status fail", `{"status":"fail","message":"private range"}`},
		{"not json", `<html></html>`},
		{"no ip", `{"status":"success","isp":"X"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := geoServer(t, tt.body)
			s := newSummarizer(srv.URL, fakePinger{}, nil)
			w := s.WAN(context.Background())
			assert.Equal(t, models.UnknownPublicIP, w.PublicIP)
			assert.False(t, w.PublicIPKnown())
			assert.NotEmpty(t, w.Error)
			assert.Zero(t, w.LatencyMs)
		})
	}
}

func TestWAN_Unreachable(t *testing.T) {
	s := newSummarizer("http://127.0.0.1:1/json/", nil, nil)
	w := s.WAN(context.Background())
	assert.Equal(t, models.UnknownPublicIP, w.PublicIP)
}

func TestEnvironment_PrefersPDUSensors(t *testing.T) {
	srv := geoServer(t, `{"status":"success","country":"United Kingdom","city":"London","query":"203.0.113.5"}`)
	pdu1 := testutil.NewDevice(testutil.WithName("PDU-A"), testutil.WithDriver("gude"))
	pdu2 := testutil.NewDevice(testutil.WithName("PDU-B"), testutil.WithDriver("gude"))
	sw := testutil.NewDevice(testutil.WithName("Core-SW1"))

	swRes := models.NewOnlineResult("(SSH)")
	swRes.Temperature = "38°C"
	results := []models.DeviceResult{
		{Device: sw, Result: swRes},
		{Device: pdu1, Result: models.NewOnlineResult("(HTTP)")},
		{Device: pdu2, Result: models.NewOnlineResult("(HTTP)")},
	}
	sensors := fakeSensors{
		"PDU-A": {Humidity: "45%"},
		"PDU-B": {Temperature: "23.5°C", Humidity: "50%"},
	}
	s := newSummarizer(srv.URL, nil, sensors)
	s.WAN(context.Background())

	env := s.Environment(context.Background(), results)
	assert.Equal(t, "London, United Kingdom", env.Location)
	assert.Equal(t, "23.5°C", env.Temperature)
	assert.Equal(t, "PDU-B", env.TemperatureSource)
	assert.Equal(t, "45%", env.Humidity)
	assert.Equal(t, "PDU-A", env.HumiditySource)
}

func TestEnvironment_SwitchFallback(t *testing.T) {
	sw := testutil.NewDevice(testutil.WithName("Core-SW1"))
	swRes := models.NewOnlineResult("(SSH)")
	swRes.Temperature = "38°C"
	offlinePDU := testutil.NewDevice(testutil.WithName("PDU-A"), testutil.WithDriver("gude"))

	s := newSummarizer("", nil, fakeSensors{"PDU-A": {Temperature: "99°C"}})
	env := s.Environment(context.Background(), []models.DeviceResult{
		{Device: offlinePDU, Result: models.NewOfflineResult("(HTTP)", models.ErrorUnreachable, "")},
		{Device: sw, Result: swRes},
	})
	assert.Equal(t, "38°C", env.Temperature)
	assert.Equal(t, "Core-SW1", env.TemperatureSource)
	assert.Equal(t, models.SentinelMissing, env.Humidity)
	assert.Equal(t, models.SentinelMissing, env.Location)
}

func TestEnvironment_NothingAvailable(t *testing.T) {
	s := newSummarizer("", nil, nil)
	env := s.Environment(context.Background(), nil)
	assert.Equal(t, models.SentinelMissing, env.Temperature)
	assert.Equal(t, models.SentinelMissing, env.Humidity)
}
