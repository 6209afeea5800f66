package collector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"systemstats/internal/parser"
	"systemstats/internal/probe"
	"systemstats/internal/pulse"
	"systemstats/internal/rate"
	"systemstats/internal/units"
)

const (
	DefaultProcStatPath  = "/proc/stat"
	DefaultThermalPath   = "/sys/class/thermal/thermal_zone0/temp"
	DefaultSensorCommand = "/opt/vc/bin/vcgencmd measure_temp"
	DefaultDiskPath      = "/"
	DefaultPingCommand   = "ping"

	clockTicksPerSecond = 100
)

// CPUSource читает накопительные счетчики CPU
type CPUSource interface {
	Times(ctx context.Context) (parser.CPUStat, error)
}

// MemorySource читает использование памяти
type MemorySource interface {
	Memory(ctx context.Context) (MemorySample, error)
}

// TemperatureSource читает температуру CPU в градусах Цельсия
type TemperatureSource interface {
	Temperature(ctx context.Context) (float64, error)
}

// DiskSource читает свободное место
type DiskSource interface {
	Disk(ctx context.Context) (parser.DiskUsage, error)
}

// Pinger выполняет одну пробу ping
type Pinger interface {
	Ping(ctx context.Context, host string, count int) PingResult
}

// Sources объединяет все источники сборщика. Nil-источник
// считается недоступным.
type Sources struct {
	CPU         CPUSource
	Memory      MemorySource
	Temperature TemperatureSource
	Disk        DiskSource
	Ping        Pinger
	Fan         pulse.EdgeSource
}

// SourceConfig - пути и команды для источников по умолчанию
type SourceConfig struct {
	ProcStatPath  string
	SensorCommand string
	ThermalPath   string
	DiskPath      string
	PingCommand   string
}

// DefaultSourceConfig возвращает стандартные пути для Linux/Raspberry Pi
func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		ProcStatPath:  DefaultProcStatPath,
		SensorCommand: DefaultSensorCommand,
		ThermalPath:   DefaultThermalPath,
		DiskPath:      DefaultDiskPath,
		PingCommand:   DefaultPingCommand,
	}
}

// NewSources строит источники по умолчанию поверх runner
func NewSources(runner probe.Runner, cfg SourceConfig) Sources {
	return Sources{
		CPU:    NewCPUSource(cfg.ProcStatPath),
		Memory: gopsutilMemory{},
		Temperature: &commandTemperature{
			runner:  runner,
			command: splitCommand(cfg.SensorCommand),
			path:    cfg.ThermalPath,
		},
		Disk: &dfDisk{runner: runner, path: cfg.DiskPath},
		Ping: &commandPinger{runner: runner, command: cfg.PingCommand},
	}
}

// NewCPUSource читает /proc/stat, если он доступен, иначе использует gopsutil
func NewCPUSource(procStatPath string) CPUSource {
	if procStatPath != "" {
		if _, err := os.Stat(procStatPath); err == nil {
			return procStatCPU{path: procStatPath}
		}
	}
	return gopsutilCPU{}
}

type procStatCPU struct {
	path string
}

func (p procStatCPU) Times(_ context.Context) (parser.CPUStat, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return parser.CPUStat{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return parser.ParseCPUStat(string(data))
}

type gopsutilCPU struct{}

func (gopsutilCPU) Times(ctx context.Context) (parser.CPUStat, error) {
	total, err := cpu.TimesWithContext(ctx, false)
	if err != nil || len(total) == 0 {
		return parser.CPUStat{}, fmt.Errorf("%w: failed to get cpu times: %v", ErrSourceUnavailable, err)
	}

	stat := parser.CPUStat{Aggregate: snapshotFromTimes(total[0])}

	perCPU, err := cpu.TimesWithContext(ctx, true)
	if err == nil {
		for _, t := range perCPU {
			stat.Cores = append(stat.Cores, snapshotFromTimes(t))
		}
	}
	return stat, nil
}

// snapshotFromTimes переводит секунды gopsutil в тики, как в /proc/stat
func snapshotFromTimes(t cpu.TimesStat) rate.Snapshot {
	ticks := func(sec float64) uint64 { return uint64(sec * clockTicksPerSecond) }
	idle := ticks(t.Idle)
	return rate.Snapshot{
		Idle: idle,
		Total: ticks(t.User) + ticks(t.Nice) + ticks(t.System) + idle +
			ticks(t.Iowait) + ticks(t.Irq) + ticks(t.Softirq),
	}
}

type gopsutilMemory struct{}

func (gopsutilMemory) Memory(ctx context.Context) (MemorySample, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemorySample{}, fmt.Errorf("%w: failed to get memory statistics: %v", ErrSourceUnavailable, err)
	}
	return MemorySample{
		UsedGB:  units.BytesToGB(vm.Total - vm.Available),
		FreeGB:  units.BytesToGB(vm.Available),
		TotalGB: units.BytesToGB(vm.Total),
	}, nil
}

// commandTemperature сначала опрашивает команду датчика, затем
// читает thermal_zone в милли-градусах
type commandTemperature struct {
	runner  probe.Runner
	command []string
	path    string
}

func (t *commandTemperature) Temperature(ctx context.Context) (float64, error) {
	var errs []error

	if len(t.command) > 0 {
		res := t.runner.Run(ctx, probe.Command{Name: t.command[0], Args: t.command[1:], Timeout: probe.DefaultTimeout})
		switch {
		case res.Err != nil:
			errs = append(errs, res.Err)
		case strings.TrimSpace(res.Stderr) != "":
			errs = append(errs, fmt.Errorf("sensor command stderr: %s", strings.TrimSpace(res.Stderr)))
		default:
			c, err := parser.ParseSensorTemp(res.Stdout)
			if err == nil {
				return c, nil
			}
			errs = append(errs, err)
		}
	}

	if t.path != "" {
		data, err := os.ReadFile(t.path)
		if err == nil {
			c, err := parser.ParseThermalZone(string(data))
			if err == nil {
				return c, nil
			}
			errs = append(errs, err)
		} else {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		return 0, fmt.Errorf("%w: no temperature source configured", ErrSourceUnavailable)
	}
	return 0, fmt.Errorf("%w: %w", ErrSourceUnavailable, errors.Join(errs...))
}

type dfDisk struct {
	runner probe.Runner
	path   string
}

func (d *dfDisk) Disk(ctx context.Context) (parser.DiskUsage, error) {
	res := d.runner.Run(ctx, probe.Command{Name: "df", Args: []string{"-hP", d.path}, Timeout: probe.DefaultTimeout})
	if res.Err != nil {
		return parser.DiskUsage{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, res.Err)
	}
	return parser.ParseDF(res.Stdout)
}

type commandPinger struct {
	runner  probe.Runner
	command string
}

func (p *commandPinger) Ping(ctx context.Context, host string, count int) PingResult {
	countFlag := "-c"
	if runtime.GOOS == "windows" {
		countFlag = "-n"
	}

	res := p.runner.Run(ctx, probe.Command{
		Name:    p.command,
		Args:    []string{countFlag, strconv.Itoa(count), host},
		Timeout: probe.PingTimeout(count),
	})
	if res.Err != nil {
		return NewPingResult(host, nil, res.Err)
	}

	avg, err := parser.ParsePing(res.Stdout)
	if err != nil {
		// no data: average is absent, but no process error is reported
		return NewPingResult(host, nil, nil)
	}
	return NewPingResult(host, &avg, nil)
}

func splitCommand(s string) []string {
	return strings.Fields(s)
}
