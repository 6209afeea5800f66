// Package parser разбирает вывод системных утилит и псевдофайлов.
// Каждый парсер перебирает известные форматы по приоритету и
// возвращает ErrNoMatch, если ни один не подошел.
package parser

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"systemstats/internal/rate"
)

// ErrNoMatch - вывод не соответствует ни одному известному формату
var ErrNoMatch = errors.New("no known output format matched")

// cpuStatFields - user nice system idle iowait irq softirq
const cpuStatFields = 7

// CPUStat содержит снимки из /proc/stat
type CPUStat struct {
	Aggregate rate.Snapshot
	Cores     []rate.Snapshot
}

// ParseCPUStat разбирает строки cpu/cpuN из /proc/stat.
// idle - четвертое поле, total - сумма первых семи.
func ParseCPUStat(text string) (CPUStat, error) {
	var stat CPUStat
	found := false

	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || !strings.HasPrefix(fields[0], "cpu") {
			continue
		}

		snap, err := parseCPULine(fields[1:])
		if err != nil {
			return CPUStat{}, fmt.Errorf("%s: %w", fields[0], err)
		}

		if fields[0] == "cpu" {
			stat.Aggregate = snap
			found = true
			continue
		}
		if _, err := strconv.Atoi(strings.TrimPrefix(fields[0], "cpu")); err != nil {
			continue
		}
		stat.Cores = append(stat.Cores, snap)
	}

	if !found {
		return CPUStat{}, fmt.Errorf("%w: no aggregate cpu line", ErrNoMatch)
	}
	return stat, nil
}

func parseCPULine(values []string) (rate.Snapshot, error) {
	if len(values) < 4 {
		return rate.Snapshot{}, fmt.Errorf("%w: %d counters", ErrNoMatch, len(values))
	}

	var snap rate.Snapshot
	for i := 0; i < len(values) && i < cpuStatFields; i++ {
		v, err := strconv.ParseUint(values[i], 10, 64)
		if err != nil {
			return rate.Snapshot{}, fmt.Errorf("failed to parse counter %q: %w", values[i], err)
		}
		if i == 3 {
			snap.Idle = v
		}
		snap.Total += v
	}
	return snap, nil
}

var vcgencmdTempPattern = regexp.MustCompile(`temp=(-?\d+(?:\.\d+)?)'C`)

// ParseSensorTemp разбирает вывод "vcgencmd measure_temp": temp=45.0'C
func ParseSensorTemp(out string) (float64, error) {
	m := vcgencmdTempPattern.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrNoMatch, strings.TrimSpace(out))
	}
	return parseFinite(m[1])
}

// ParseThermalZone разбирает значение в милли-градусах из thermal_zone
// и возвращает градусы Цельсия.
func ParseThermalZone(text string) (float64, error) {
	milli, err := parseFinite(strings.TrimSpace(text))
	if err != nil {
		return 0, err
	}
	return milli / 1000, nil
}

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoMatch, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: non-finite value %q", ErrNoMatch, s)
	}
	return v, nil
}

// DiskUsage - размер и свободное место в формате утилиты df
type DiskUsage struct {
	Capacity string
	Free     string
}

var unitSuffixPattern = regexp.MustCompile(`^([\d.,]+)([KMGTPE])$`)

// ParseDF разбирает вывод "df -hP <path>". Первая строка - заголовок,
// вторая - данные: Filesystem Size Used Avail Use% Mounted.
func ParseDF(out string) (DiskUsage, error) {
	var lines []string
	for _, l := range strings.Split(out, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) < 2 {
		return DiskUsage{}, fmt.Errorf("%w: expected header and data line", ErrNoMatch)
	}

	fields := strings.Fields(lines[1])
	if len(fields) < 4 {
		return DiskUsage{}, fmt.Errorf("%w: %d columns", ErrNoMatch, len(fields))
	}

	return DiskUsage{
		Capacity: NormalizeUnitSuffix(fields[1]),
		Free:     NormalizeUnitSuffix(fields[3]),
	}, nil
}

// NormalizeUnitSuffix заменяет однобуквенный суффикс на двухбуквенный: 29G -> 29GB
func NormalizeUnitSuffix(v string) string {
	return unitSuffixPattern.ReplaceAllString(v, "${1}${2}B")
}

// pingMatcher - один известный формат вывода ping
type pingMatcher struct {
	name    string
	pattern *regexp.Regexp
	group   int
}

// pingMatchers перебираются по порядку
var pingMatchers = []pingMatcher{
	{
		// iputils: rtt min/avg/max/mdev = 10.0/15.5/20.0/2.0 ms
		name:    "rtt",
		pattern: regexp.MustCompile(`rtt [^=]*=\s*([\d.]+)/([\d.]+)/([\d.]+)/([\d.]+)`),
		group:   2,
	},
	{
		// BSD, macOS, busybox: round-trip min/avg/max/stddev = ...
		name:    "round-trip",
		pattern: regexp.MustCompile(`round-trip [^=]*=\s*([\d.]+)/([\d.]+)/([\d.]+)/([\d.]+)`),
		group:   2,
	},
	{
		// single reply without summary: time=23.4 ms or time<1ms
		name:    "single",
		pattern: regexp.MustCompile(`time[=<]\s*([\d.]+)\s*ms`),
		group:   1,
	},
}

// ParsePing возвращает среднее время ответа в миллисекундах
func ParsePing(out string) (float64, error) {
	for _, m := range pingMatchers {
		sub := m.pattern.FindStringSubmatch(out)
		if sub == nil {
			continue
		}
		v, err := parseFinite(sub[m.group])
		if err != nil {
			return 0, fmt.Errorf("ping %s summary: %w", m.name, err)
		}
		return v, nil
	}
	return 0, ErrNoMatch
}
