package zabbix

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"systemstats/internal/collector"
	pkgzabbix "systemstats/pkg/zabbix"
)

type fakeSender struct {
	mu    sync.Mutex
	items []pkgzabbix.SenderData
}

func (f *fakeSender) SendData(_ context.Context, data []pkgzabbix.SenderData) (pkgzabbix.SenderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, data...)
	return pkgzabbix.SenderResponse{Response: "success"}, nil
}

func (f *fakeSender) Address() string { return "fake:10051" }

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func TestConvert(t *testing.T) {
	sink := newSink(&fakeSender{}, "pi", zap.NewNop())
	at := time.Unix(1700000000, 0)
	avg := 12.3456

	tests := []struct {
		name    string
		payload any
		want    map[string]string
	}{
		{"cpu", collector.CPUUsage{Percentage: 42, PerCore: []int{40, 44}}, map[string]string{
			"systemstats.cpu_usage":    "42",
			"systemstats.cpu_usage[0]": "40",
			"systemstats.cpu_usage[1]": "44",
		}},
		{"temp", collector.NewCPUTemp(48.3), map[string]string{"systemstats.cpu_temp": "48.3"}},
		{"temp unavailable", collector.UnavailableCPUTemp(), map[string]string{}},
		{"memory", collector.NewMemUsage(collector.MemorySample{UsedGB: 1, FreeGB: 3, TotalGB: 4}), map[string]string{
			"systemstats.mem_usage[used]":  "1.00",
			"systemstats.mem_usage[free]":  "3.00",
			"systemstats.mem_usage[total]": "4.00",
		}},
		{"disk", collector.DiskUsage{Capacity: "29GB", Free: "20GB"}, map[string]string{
			"systemstats.disk_usage[capacity]": "29GB",
			"systemstats.disk_usage[free]":     "20GB",
		}},
		{"fan", collector.FanSpeed{RPM: 1800, Available: true}, map[string]string{"systemstats.fan_speed": "1800"}},
		{"fan unavailable", collector.FanSpeed{}, map[string]string{}},
		{"ping", collector.NewPingResult("1.1.1.1", &avg, nil), map[string]string{"systemstats.ping_result": "12.346"}},
		{"ping no data", collector.NewPingResult("1.1.1.1", nil, nil), map[string]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := sink.Convert(collector.Event{Name: metricFor(tt.payload), Payload: tt.payload, At: at})

			got := map[string]string{}
			for _, it := range items {
				assert.Equal(t, "pi", it.Host)
				assert.Equal(t, at.Unix(), it.Clock)
				got[it.Key] = it.Value
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func metricFor(payload any) collector.Metric {
	switch payload.(type) {
	case collector.CPUUsage:
		return collector.MetricCPUUsage
	case collector.CPUTemp:
		return collector.MetricCPUTemp
	case collector.MemUsage:
		return collector.MetricMemUsage
	case collector.DiskUsage:
		return collector.MetricDiskUsage
	case collector.FanSpeed:
		return collector.MetricFanSpeed
	default:
		return collector.MetricPing
	}
}

func TestSink_RunSendsQueuedItems(t *testing.T) {
	fake := &fakeSender{}
	sink := newSink(fake, "pi", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go sink.Run(ctx)

	require.NoError(t, sink.Publish(ctx, collector.Event{Name: collector.MetricCPUUsage, Payload: collector.CPUUsage{Percentage: 5}}))
	require.NoError(t, sink.Publish(ctx, collector.Event{Name: collector.MetricFanSpeed, Payload: collector.FanSpeed{RPM: 600, Available: true}}))

	require.Eventually(t, func() bool { return fake.count() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	sink.Wait()
}

func TestSink_PublishWhenQueueFull(t *testing.T) {
	sink := newSink(&fakeSender{}, "pi", zap.NewNop())
	ev := collector.Event{Name: collector.MetricCPUUsage, Payload: collector.CPUUsage{Percentage: 1}}

	for i := 0; i < defaultQueueSize; i++ {
		require.NoError(t, sink.Publish(context.Background(), ev))
	}
	assert.ErrorIs(t, sink.Publish(context.Background(), ev), ErrQueueFull)
}

func TestHostName(t *testing.T) {
	assert.Equal(t, "rpi4", HostName("  rpi4 ", "fallback"))
	assert.Equal(t, "fallback", HostName("", "fallback"))
}
