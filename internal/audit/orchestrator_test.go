package audit

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/sitecheck/internal/driver"
	"github.com/HerbHall/sitecheck/internal/event"
	"github.com/HerbHall/sitecheck/internal/testutil"
	"github.com/HerbHall/sitecheck/internal/transport"
	"github.com/HerbHall/sitecheck/pkg/models"
)

type fakeDriver struct {
	family models.Family
	probe  func(ctx context.Context, dev models.Device) models.AuditResult
}

func (d fakeDriver) Family() models.Family { return d.family }

func (d fakeDriver) Probe(ctx context.Context, dev models.Device) models.AuditResult {
	if d.probe == nil {
		res := models.NewOnlineResult(d.family.Mode())
		res.MAC = "00:11:22:33:44:55"
		return res
	}
	return d.probe(ctx, dev)
}

type fakePinger struct{ alive map[string]bool }

func (p fakePinger) Ping(_ context.Context, host string) (transport.Reply, error) {
	return transport.Reply{Alive: p.alive[host]}, nil
}

type fakeSite struct {
	wan models.WANSummary
	env models.EnvironmentSummary
}

func (s fakeSite) WAN(context.Context) models.WANSummary { return s.wan }

func (s fakeSite) Environment(context.Context, []models.DeviceResult) models.EnvironmentSummary {
	return s.env
}

func newRegistry(drivers ...driver.Driver) *driver.Registry {
	ping := driver.NewPing(fakePinger{alive: map[string]bool{}}, zap.NewNop())
	return driver.NewRegistry(ping, zap.NewNop(), drivers...)
}

func testConfig(workers int) Config {
	return Config{Workers: workers, ProbeTimeout: 5 * time.Second}
}

func dev(name, ip, drv, group string) models.Device {
	return testutil.NewDevice(testutil.WithName(name), testutil.WithIP(ip), testutil.WithDriver(drv), testutil.WithGroup(group))
}

func TestRun_NoDevices(t *testing.T) {
	o := NewOrchestrator(testConfig(1), newRegistry(), nil, nil, zap.NewNop())
	_, err := o.Run(context.Background(), models.ProjectMeta{}, nil)
	assert.ErrorIs(t, err, ErrNoDevices)
}

func TestRun_StatsAndGroups(t *testing.T) {
	sw := fakeDriver{family: models.FamilySwitch}
	pdu := fakeDriver{family: models.FamilyPDU, probe: func(context.Context, models.Device) models.AuditResult {
		return models.NewOfflineResult("(HTTP)", models.ErrorAuthFailed, "HTTP 401")
	}}
	devices := []models.Device{
		dev("Rack-PDU", "10.0.0.20", "gude", "Power"),
		dev("Core-SW1", "10.0.0.1", "cisco", "Network Core"),
		dev("Camera-1", "10.0.0.50", "ping", "CCTV"),
		dev("Core-SW2", "10.0.0.2", "cisco", "Network Core"),
		dev("Lobby TV", "10.0.0.60", "ping", "Video Wall"),
	}

	o := NewOrchestrator(testConfig(3), newRegistry(sw, pdu), nil, nil, zap.NewNop())
	p, err := o.Run(context.Background(), models.ProjectMeta{Name: "HQ"}, devices)
	require.NoError(t, err)

	assert.Equal(t, p.Stats.Total, p.Stats.Pass+p.Stats.Fail)
	assert.Equal(t, p.Stats.Total, p.DeviceCount())
	assert.Equal(t, len(devices), p.Stats.Total)
	assert.Equal(t, 2, p.Stats.Pass)
	assert.Empty(t, p.Skipped)
	assert.False(t, p.Aborted)

	var order []models.Category
	for _, g := range p.Groups {
		order = append(order, g.Category)
	}
	assert.Equal(t, []models.Category{models.CategoryNetwork, models.CategoryPower, models.CategoryAV, models.CategorySecurity}, order)

	network := p.Group(models.CategoryNetwork)
	require.Len(t, network, 2)
	assert.Equal(t, "Core-SW1", network[0].Device.Name)
	assert.Equal(t, "Core-SW2", network[1].Device.Name)

	assert.Equal(t, "HQ", p.Project.Name)
	assert.Equal(t, "REF-0000", p.Project.Reference)
	assert.NotEmpty(t, p.RunID)
	assert.False(t, p.FinishedAt.Before(p.StartedAt))
	assert.Equal(t, StateIdle, o.State())
}

func TestRun_UnreachableSwitch(t *testing.T) {
	sw := driver.NewSwitch(&unreachableDialer{}, zap.NewNop())
	core := dev("Core-SW1", "192.168.1.150", "switch", "Network")

	o := NewOrchestrator(testConfig(1), newRegistry(sw), nil, nil, zap.NewNop())
	p, err := o.Run(context.Background(), models.ProjectMeta{}, []models.Device{core})
	require.NoError(t, err)

	assert.Equal(t, 1, p.Stats.Fail)
	assert.Equal(t, 0, p.Stats.Pass)
	res := p.Group(models.CategoryNetwork)[0].Result
	assert.False(t, res.Online)
	assert.Equal(t, models.SentinelOffline, res.MAC)
	assert.Equal(t, models.ErrorUnreachable, res.Error)
}

type unreachableDialer struct{}

func (unreachableDialer) Dial(_ context.Context, host string, _ transport.Credentials, _ transport.DialOptions) (transport.Session, error) {
	return nil, transport.NewConnectError(host, errors.New("dial tcp "+host+":22: i/o timeout"))
}

func TestRun_UnknownFamilyFallsBackToPing(t *testing.T) {
	d := dev("Mystery Box", "10.0.0.99", "acme_widget", "Control")
	require.Equal(t, models.FamilyPing, d.Family)

	reg := driver.NewRegistry(
		driver.NewPing(fakePinger{alive: map[string]bool{"10.0.0.99": true}}, zap.NewNop()),
		zap.NewNop(),
	)
	o := NewOrchestrator(testConfig(2), reg, nil, nil, zap.NewNop())
	p, err := o.Run(context.Background(), models.ProjectMeta{}, []models.Device{d})
	require.NoError(t, err)

	control := p.Group(models.CategoryControl)
	require.Len(t, control, 1)
	assert.True(t, control[0].Result.Online)
	assert.Equal(t, "(PING)", control[0].Result.Mode)
	assert.Equal(t, models.SentinelOnline, control[0].Result.MAC)
}

func TestRun_TopologyOrderUnderConcurrency(t *testing.T) {
	sw := fakeDriver{family: models.FamilySwitch, probe: func(context.Context, models.Device) models.AuditResult {
		time.Sleep(time.Duration(rand.IntN(20)) * time.Millisecond)
		return models.NewOnlineResult("(SSH)")
	}}
	var devices []models.Device
	for i := range 12 {
		devices = append(devices, dev(string(rune('A'+i)), "10.0.1.1", "cisco", "Network"))
	}

	o := NewOrchestrator(testConfig(4), newRegistry(sw), nil, nil, zap.NewNop())
	p, err := o.Run(context.Background(), models.ProjectMeta{}, devices)
	require.NoError(t, err)

	got := p.Group(models.CategoryNetwork)
	require.Len(t, got, len(devices))
	for i := range devices {
		assert.Equal(t, devices[i].Name, got[i].Device.Name)
	}
}

func TestRun_WorkerBound(t *testing.T) {
	var active, peak atomic.Int32
	sw := fakeDriver{family: models.FamilySwitch, probe: func(context.Context, models.Device) models.AuditResult {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return models.NewOnlineResult("(SSH)")
	}}
	var devices []models.Device
	for range 10 {
		devices = append(devices, dev("sw", "10.0.1.1", "cisco", "Network"))
	}

	o := NewOrchestrator(testConfig(3), newRegistry(sw), nil, nil, zap.NewNop())
	_, err := o.Run(context.Background(), models.ProjectMeta{}, devices)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRun_SequentialWithOneWorker(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	sw := fakeDriver{family: models.FamilySwitch, probe: func(_ context.Context, d models.Device) models.AuditResult {
		mu.Lock()
		seen = append(seen, d.Name)
		mu.Unlock()
		return models.NewOnlineResult("(SSH)")
	}}
	devices := []models.Device{
		dev("A", "10.0.0.1", "cisco", "Network"),
		dev("B", "10.0.0.2", "cisco", "Network"),
		dev("C", "10.0.0.3", "cisco", "Network"),
	}
	o := NewOrchestrator(testConfig(1), newRegistry(sw), nil, nil, zap.NewNop())
	_, err := o.Run(context.Background(), models.ProjectMeta{}, devices)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, seen)
}

func TestRun_Abort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var probeCtxErr error
	sw := fakeDriver{family: models.FamilySwitch, probe: func(pctx context.Context, d models.Device) models.AuditResult {
		if d.Name == "A" {
			cancel()
			probeCtxErr = pctx.Err()
		}
		return models.NewOnlineResult("(SSH)")
	}}
	devices := []models.Device{
		dev("A", "10.0.0.1", "cisco", "Network"),
		dev("B", "10.0.0.2", "cisco", "Network"),
		dev("C", "10.0.0.3", "cisco", "Network"),
		dev("PDU", "10.0.0.4", "gude", "Power"),
	}

	o := NewOrchestrator(testConfig(1), newRegistry(sw), fakeSite{}, nil, zap.NewNop())
	p, err := o.Run(ctx, models.ProjectMeta{}, devices)
	require.ErrorIs(t, err, ErrAborted)
	require.NotNil(t, p)

	assert.NoError(t, probeCtxErr, "in-flight probe must not see the run cancellation")
	assert.True(t, p.Aborted)
	assert.Equal(t, len(devices), p.Stats.Total+len(p.Skipped))
	assert.Equal(t, p.Stats.Total, p.DeviceCount())
	assert.Contains(t, p.Skipped, devices[3])
	assert.Equal(t, models.UnknownPublicIP, p.WAN.PublicIP)
}

func TestRun_PanicBecomesUnclassified(t *testing.T) {
	sw := fakeDriver{family: models.FamilySwitch, probe: func(context.Context, models.Device) models.AuditResult {
		panic("nil map write")
	}}
	devices := []models.Device{
		dev("A", "10.0.0.1", "cisco", "Network"),
		dev("B", "10.0.0.2", "ping", "Network"),
	}
	o := NewOrchestrator(testConfig(2), newRegistry(sw), nil, nil, zap.NewNop())
	p, err := o.Run(context.Background(), models.ProjectMeta{}, devices)
	require.NoError(t, err)

	res := p.Group(models.CategoryNetwork)[0].Result
	assert.False(t, res.Online)
	assert.Equal(t, models.ErrorUnclassified, res.Error)
	assert.LessOrEqual(t, len(res.ErrorDetail), models.MaxErrorWidth)
	assert.Equal(t, 2, p.Stats.Total)
}

func TestRun_SiteAndNAT(t *testing.T) {
	router := fakeDriver{family: models.FamilyRouter, probe: func(_ context.Context, d models.Device) models.AuditResult {
		res := models.NewOnlineResult("(SSH)")
		if d.Name == "Edge" {
			res.WANIPs = []string{"203.0.113.5", "192.168.1.1"}
		} else {
			res.WANIPs = []string{"10.10.0.2"}
		}
		return res
	}}
	devices := []models.Device{
		dev("Edge", "192.168.1.1", "router", "Network"),
		dev("Inner", "10.10.0.1", "router", "Network"),
	}
	site := fakeSite{
		wan: models.WANSummary{PublicIP: "203.0.113.5", Provider: "Example ISP"},
		env: models.EnvironmentSummary{Temperature: "22°C", Humidity: "40%", Location: "London, GB"},
	}
	o := NewOrchestrator(testConfig(2), newRegistry(router), site, nil, zap.NewNop())
	p, err := o.Run(context.Background(), models.ProjectMeta{}, devices)
	require.NoError(t, err)

	results := p.Group(models.CategoryNetwork)
	assert.Equal(t, models.NATBridge, results[0].Result.NAT)
	assert.Equal(t, models.NATDouble, results[1].Result.NAT)
	assert.Equal(t, "Example ISP", p.WAN.Provider)
	assert.Equal(t, "22°C", p.Environment.Temperature)
}

func TestRun_Backups(t *testing.T) {
	router := fakeDriver{family: models.FamilyRouter, probe: func(_ context.Context, d models.Device) models.AuditResult {
		res := models.NewOnlineResult("(SSH)")
		res.BackupFile = "backups/router_" + d.IP + ".cfg"
		return res
	}}
	o := NewOrchestrator(testConfig(1), newRegistry(router), nil, nil, zap.NewNop())
	p, err := o.Run(context.Background(), models.ProjectMeta{}, []models.Device{dev("Edge", "192.168.1.1", "router", "Network")})
	require.NoError(t, err)
	assert.Equal(t, []models.BackupRecord{{Device: "Edge", Path: "backups/router_192.168.1.1.cfg"}}, p.Backups)
}

func TestRun_Events(t *testing.T) {
	bus := event.NewBus(zap.NewNop())
	var topics []string
	var mu sync.Mutex
	bus.SubscribeAll(func(_ context.Context, e event.Event) {
		mu.Lock()
		topics = append(topics, e.Topic)
		mu.Unlock()
	})

	devices := []models.Device{
		dev("A", "10.0.0.1", "ping", "Network"),
		dev("B", "10.0.0.2", "ping", "Power"),
	}
	o := NewOrchestrator(testConfig(1), newRegistry(), nil, bus, zap.NewNop())
	_, err := o.Run(context.Background(), models.ProjectMeta{}, devices)
	require.NoError(t, err)

	assert.Equal(t, []string{
		event.TopicRunStarted,
		event.TopicGroupStarted, event.TopicDeviceProbed, event.TopicGroupCompleted,
		event.TopicGroupStarted, event.TopicDeviceProbed, event.TopicGroupCompleted,
		event.TopicRunCompleted,
	}, topics)
}

func TestRun_ResultHook(t *testing.T) {
	bus := event.NewBus(zap.NewNop())
	var published []models.AuditResult
	var mu sync.Mutex
	bus.Subscribe(event.TopicDeviceProbed, func(_ context.Context, e event.Event) {
		mu.Lock()
		published = append(published, e.Payload.(event.DeviceProbed).Result)
		mu.Unlock()
	})

	sw := fakeDriver{family: models.FamilySwitch}
	o := NewOrchestrator(testConfig(1), newRegistry(sw), nil, bus, zap.NewNop())
	o.OnResult(func(_ context.Context, d models.Device, res models.AuditResult) models.AuditResult {
		res.Serial = "CACHED-" + d.Name
		return res
	})

	p, err := o.Run(context.Background(), models.ProjectMeta{}, []models.Device{dev("Core-SW1", "10.0.0.1", "cisco", "Network")})
	require.NoError(t, err)

	got := p.Group(models.CategoryNetwork)[0].Result
	assert.Equal(t, "CACHED-Core-SW1", got.Serial)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 1)
	assert.Equal(t, got, published[0])
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	sw := fakeDriver{family: models.FamilySwitch, probe: func(context.Context, models.Device) models.AuditResult {
		close(started)
		<-release
		return models.NewOnlineResult("(SSH)")
	}}
	o := NewOrchestrator(testConfig(1), newRegistry(sw), nil, nil, zap.NewNop())
	devices := []models.Device{dev("A", "10.0.0.1", "cisco", "Network")}

	errc := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background(), models.ProjectMeta{}, devices)
		errc <- err
	}()
	<-started
	assert.Equal(t, StatePerGroupScan, o.State())
	_, err := o.Run(context.Background(), models.ProjectMeta{}, devices)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	require.NoError(t, <-errc)
}

func TestClassifyNAT(t *testing.T) {
	tests := []struct {
		name     string
		publicIP string
		wan      []string
		want     models.NATStatus
	}{
		{"present", "203.0.113.5", []string{"10.0.0.1", "203.0.113.5"}, models.NATBridge},
		{"absent", "203.0.113.5", []string{"10.0.0.1"}, models.NATDouble},
		{"unknown", models.UnknownPublicIP, []string{"203.0.113.5"}, models.NATUnknown},
		{"empty", "", nil, models.NATUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyNAT(tt.publicIP, tt.wan))
		})
	}
}
