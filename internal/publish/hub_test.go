package publish

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"systemstats/internal/collector"
)

type fakeSource struct {
	mu      sync.Mutex
	latest  []collector.Event
	patches []string
	opts    collector.Options
	err     error
}

func (f *fakeSource) Latest() []collector.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

func (f *fakeSource) Merge(patch []byte) (collector.Options, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, string(patch))
	if f.err != nil {
		return f.opts, f.err
	}
	return f.opts.Merge(patch)
}

func (f *fakeSource) ActiveStreams() int {
	return 4
}

func newTestHub(src Source) *Hub {
	h := NewHub(src, zap.NewNop())
	h.hostInfo = func(context.Context) (*host.InfoStat, error) {
		return &host.InfoStat{Hostname: "pi", Platform: "raspbian"}, nil
	}
	return h
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type received struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Message string          `json:"message"`
}

func readMessage(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_HelloAndReplayOnConnect(t *testing.T) {
	avg := 14.2
	src := &fakeSource{latest: []collector.Event{
		{Name: collector.MetricCPUUsage, Payload: collector.CPUUsage{Percentage: 12}, At: time.Now()},
		{Name: collector.MetricPing, Payload: collector.NewPingResult("1.1.1.1", &avg, nil), At: time.Now()},
	}}
	hub := newTestHub(src)
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv)

	hello := readMessage(t, conn)
	assert.Equal(t, TypeHello, hello.Type)
	var info HostInfo
	require.NoError(t, json.Unmarshal(hello.Payload, &info))
	assert.Equal(t, "pi", info.Hostname)

	cpu := readMessage(t, conn)
	assert.Equal(t, "cpu_usage", cpu.Type)
	assert.JSONEq(t, `{"percentage":12}`, string(cpu.Payload))

	ping := readMessage(t, conn)
	assert.Equal(t, "ping_result", ping.Type)
	assert.JSONEq(t, `{"host":"1.1.1.1","averageMs":14.2,"error":null,"color":"green"}`, string(ping.Payload))
}

func TestHub_BroadcastsPublishedEvents(t *testing.T) {
	hub := newTestHub(&fakeSource{})
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	defer hub.Close()

	first := dial(t, srv)
	second := dial(t, srv)
	readMessage(t, first)
	readMessage(t, second)

	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 5*time.Millisecond)

	err := hub.Publish(context.Background(), collector.Event{
		Name:    collector.MetricFanSpeed,
		Payload: collector.FanSpeed{},
		At:      time.Now(),
	})
	require.NoError(t, err)

	for _, conn := range []*websocket.Conn{first, second} {
		msg := readMessage(t, conn)
		assert.Equal(t, "fan_speed", msg.Type)
		assert.JSONEq(t, `"N/A"`, string(msg.Payload))
	}
}

func TestHub_ConfigureMessage(t *testing.T) {
	src := &fakeSource{opts: collector.DefaultOptions()}
	hub := newTestHub(src)
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "configure",
		"options": map[string]any{"pingHost": "9.9.9.9", "cpuUpdateInterval": 2000},
	}))

	msg := readMessage(t, conn)
	require.Equal(t, TypeConfigured, msg.Type)
	var opts collector.Options
	require.NoError(t, json.Unmarshal(msg.Payload, &opts))
	assert.Equal(t, "9.9.9.9", opts.PingHost)
	assert.Equal(t, 2000, opts.CPUUpdateInterval)

	src.mu.Lock()
	require.Len(t, src.patches, 1)
	src.mu.Unlock()
}

func TestHub_ConfigureErrors(t *testing.T) {
	src := &fakeSource{err: errors.New("invalid options: cpuUpdateInterval must be positive")}
	hub := newTestHub(src)
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "configure", "options": map[string]any{"cpuUpdateInterval": 0}}))
	msg := readMessage(t, conn)
	assert.Equal(t, TypeError, msg.Type)
	assert.Contains(t, msg.Message, "cpuUpdateInterval")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg = readMessage(t, conn)
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, "invalid message", msg.Message)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "reboot"}))
	msg = readMessage(t, conn)
	assert.Equal(t, TypeError, msg.Type)
	assert.Contains(t, msg.Message, "reboot")
}

func TestHub_Health(t *testing.T) {
	hub := newTestHub(&fakeSource{})
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(4), body["streams"])
}

func TestHub_PublishAfterClose(t *testing.T) {
	hub := newTestHub(&fakeSource{})
	hub.Close()

	err := hub.Publish(context.Background(), collector.Event{Name: collector.MetricCPUTemp, Payload: collector.UnavailableCPUTemp()})
	assert.ErrorIs(t, err, ErrClosed)
}
