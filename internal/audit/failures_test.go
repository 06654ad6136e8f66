package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/sitecheck/internal/event"
	"github.com/HerbHall/sitecheck/internal/testutil"
	"github.com/HerbHall/sitecheck/pkg/models"
)

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestFailureLog_Attach(t *testing.T) {
	dir := t.TempDir()
	fl := NewFailureLog(dir, zap.NewNop())
	defer fl.Close()

	bus := event.NewBus(zap.NewNop())
	fl.Attach(bus)

	checked := time.Date(2026, 3, 14, 9, 30, 0, 0, time.Local)
	critical := testutil.NewDevice(testutil.WithName("Core-SW1"), testutil.WithIP("192.168.1.150"), testutil.WithCritical())
	normal := testutil.NewDevice(testutil.WithName("Access-SW9"))

	offline := models.NewOfflineResult("(SSH)", models.ErrorUnreachable, "i/o timeout")
	offline.CheckedAt = checked
	online := models.NewOnlineResult("(SSH)")
	online.CheckedAt = checked

	publish := func(d models.Device, r models.AuditResult) {
		bus.Publish(context.Background(), event.Event{
			Topic:   event.TopicDeviceProbed,
			Payload: event.DeviceProbed{Device: d, Result: r},
		})
	}
	publish(critical, offline)
	publish(normal, offline)
	publish(critical, online)

	entries := readEntries(t, fl.Path(checked))
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "critical device offline", e["msg"])
	assert.Equal(t, "Core-SW1", e["device"])
	assert.Equal(t, "192.168.1.150", e["ip"])
	assert.Equal(t, "Ground > Comms Room", e["location"])
	assert.Equal(t, "Unreachable", e["error"])
	assert.NotEmpty(t, e["ts"])
}

func TestFailureLog_DailyFiles(t *testing.T) {
	dir := t.TempDir()
	fl := NewFailureLog(dir, zap.NewNop())
	defer fl.Close()

	d := testutil.NewDevice(testutil.WithCritical())
	day1 := time.Date(2026, 3, 14, 23, 59, 0, 0, time.Local)
	day2 := day1.Add(2 * time.Minute)

	for _, ts := range []time.Time{day1, day2, day2} {
		r := models.NewOfflineResult("(PING)", models.ErrorUnreachable, "")
		r.CheckedAt = ts
		require.NoError(t, fl.Record(d, r))
	}

	assert.Len(t, readEntries(t, fl.Path(day1)), 1)
	assert.Len(t, readEntries(t, fl.Path(day2)), 2)
}
