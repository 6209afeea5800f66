package collector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"systemstats/internal/probe"
)

type fakeRunner struct {
	results map[string]probe.Result
	calls   []probe.Command
}

func (r *fakeRunner) Run(_ context.Context, c probe.Command) probe.Result {
	r.calls = append(r.calls, c)
	if res, ok := r.results[c.Name]; ok {
		return res
	}
	return probe.Result{Err: fmt.Errorf("%w: %s not found", probe.ErrProcess, c.Name)}
}

func writeThermal(t *testing.T, value string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "temp")
	require.NoError(t, os.WriteFile(path, []byte(value), 0o644))
	return path
}

func TestCommandTemperature_PrefersSensorCommand(t *testing.T) {
	runner := &fakeRunner{results: map[string]probe.Result{
		"vcgencmd": {Stdout: "temp=47.2'C\n"},
	}}
	src := &commandTemperature{runner: runner, command: []string{"vcgencmd", "measure_temp"}, path: writeThermal(t, "51000\n")}

	c, err := src.Temperature(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 47.2, c, 1e-9)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"measure_temp"}, runner.calls[0].Args)
}

func TestCommandTemperature_FallsBackToThermalZone(t *testing.T) {
	tests := []struct {
		name   string
		result probe.Result
	}{
		{"process error", probe.Result{Err: probe.ErrProcess}},
		{"stderr output", probe.Result{Stdout: "temp=47.2'C", Stderr: "VCHI init failed"}},
		{"unparseable output", probe.Result{Stdout: "error=1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{results: map[string]probe.Result{"vcgencmd": tt.result}}
			src := &commandTemperature{runner: runner, command: []string{"vcgencmd"}, path: writeThermal(t, "51234\n")}

			c, err := src.Temperature(context.Background())
			require.NoError(t, err)
			assert.InDelta(t, 51.234, c, 1e-9)
		})
	}
}

func TestCommandTemperature_AllSourcesFail(t *testing.T) {
	src := &commandTemperature{
		runner:  &fakeRunner{},
		command: []string{"vcgencmd"},
		path:    filepath.Join(t.TempDir(), "missing"),
	}

	_, err := src.Temperature(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))

	src = &commandTemperature{runner: &fakeRunner{}}
	_, err = src.Temperature(context.Background())
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestDFDisk(t *testing.T) {
	runner := &fakeRunner{results: map[string]probe.Result{
		"df": {Stdout: "Filesystem Size Used Avail Use% Mounted on\n/dev/root 29G 7.5G 20G 28% /\n"},
	}}
	src := &dfDisk{runner: runner, path: "/"}

	du, err := src.Disk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "29GB", du.Capacity)
	assert.Equal(t, "20GB", du.Free)
	assert.Equal(t, []string{"-hP", "/"}, runner.calls[0].Args)

	_, err = (&dfDisk{runner: &fakeRunner{}, path: "/"}).Disk(context.Background())
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestCommandPinger(t *testing.T) {
	linux := "64 bytes from 1.1.1.1: icmp_seq=1 ttl=57 time=11.8 ms\n\n" +
		"rtt min/avg/max/mdev = 11.812/12.345/13.001/0.400 ms\n"

	t.Run("average", func(t *testing.T) {
		runner := &fakeRunner{results: map[string]probe.Result{"ping": {Stdout: linux}}}
		res := (&commandPinger{runner: runner, command: "ping"}).Ping(context.Background(), "1.1.1.1", 3)

		assert.Equal(t, "1.1.1.1", res.Host)
		require.NotNil(t, res.AverageMs)
		assert.InDelta(t, 12.345, *res.AverageMs, 1e-9)
		assert.Nil(t, res.Error)
		assert.Equal(t, probe.PingTimeout(3), runner.calls[0].Timeout)
	})

	t.Run("process failure", func(t *testing.T) {
		runner := &fakeRunner{results: map[string]probe.Result{
			"ping": {Stdout: linux, Err: fmt.Errorf("%w: exit status 1", probe.ErrProcess)},
		}}
		res := (&commandPinger{runner: runner, command: "ping"}).Ping(context.Background(), "10.0.0.1", 1)

		assert.Nil(t, res.AverageMs)
		require.NotNil(t, res.Error)
		assert.Contains(t, *res.Error, "exit status 1")
	})

	t.Run("no data", func(t *testing.T) {
		runner := &fakeRunner{results: map[string]probe.Result{"ping": {Stdout: "PING 1.1.1.1\n"}}}
		res := (&commandPinger{runner: runner, command: "ping"}).Ping(context.Background(), "1.1.1.1", 1)

		assert.Nil(t, res.AverageMs)
		assert.Nil(t, res.Error)
	})
}

func TestNewCPUSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stat")
	require.NoError(t, os.WriteFile(path, []byte("cpu  10 0 10 80 0 0 0 0 0 0\ncpu0 10 0 10 80 0 0 0 0 0 0\n"), 0o644))

	src := NewCPUSource(path)
	require.IsType(t, procStatCPU{}, src)

	stat, err := src.Times(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(80), stat.Aggregate.Idle)
	assert.Equal(t, uint64(100), stat.Aggregate.Total)
	assert.Len(t, stat.Cores, 1)

	assert.IsType(t, gopsutilCPU{}, NewCPUSource(filepath.Join(t.TempDir(), "missing")))
}
