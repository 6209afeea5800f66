package collector

import (
	"encoding/json"
	"fmt"
	"time"

	"systemstats/internal/units"
)

// NotAvailable - значение-заглушка для недоступных метрик
const NotAvailable = "N/A"

// Metric - имя канала публикации
type Metric string

const (
	MetricCPUUsage  Metric = "cpu_usage"
	MetricCPUTemp   Metric = "cpu_temp"
	MetricMemUsage  Metric = "mem_usage"
	MetricDiskUsage Metric = "disk_usage"
	MetricFanSpeed  Metric = "fan_speed"
	MetricPing      Metric = "ping_result"
)

// Metrics перечисляет все каналы в порядке отображения
var Metrics = []Metric{
	MetricCPUUsage,
	MetricCPUTemp,
	MetricMemUsage,
	MetricDiskUsage,
	MetricFanSpeed,
	MetricPing,
}

// Event - одна публикация последнего значения метрики
type Event struct {
	Name    Metric    `json:"name"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// CPUUsage содержит загрузку процессора
type CPUUsage struct {
	Percentage int   `json:"percentage"`
	PerCore    []int `json:"perCore,omitempty"`
}

// CPUTemp содержит температуру в двух шкалах или "N/A" в обеих
type CPUTemp struct {
	Celsius    string `json:"celsius"`
	Fahrenheit string `json:"fahrenheit"`
}

// NewCPUTemp строит показания обеих шкал из одного значения
func NewCPUTemp(celsius float64) CPUTemp {
	return CPUTemp{
		Celsius:    fmt.Sprintf("%.1f", celsius),
		Fahrenheit: fmt.Sprintf("%.1f", units.CelsiusToFahrenheit(celsius)),
	}
}

// UnavailableCPUTemp возвращает заглушку для обеих шкал
func UnavailableCPUTemp() CPUTemp {
	return CPUTemp{Celsius: NotAvailable, Fahrenheit: NotAvailable}
}

// MemorySample - использование памяти в ГБ
type MemorySample struct {
	UsedGB  float64
	FreeGB  float64
	TotalGB float64
}

// MemUsage - отформатированная для отображения память
type MemUsage struct {
	UsedGB     string `json:"usedGB"`
	FreeGB     string `json:"freeGB"`
	TotalGB    string `json:"totalGB"`
	TotalLabel string `json:"totalLabel"`
}

// NewMemUsage форматирует выборку памяти
func NewMemUsage(s MemorySample) MemUsage {
	return MemUsage{
		UsedGB:     fmt.Sprintf("%.2f", s.UsedGB),
		FreeGB:     fmt.Sprintf("%.2f", s.FreeGB),
		TotalGB:    fmt.Sprintf("%.2f", s.TotalGB),
		TotalLabel: units.NiceTotalLabel(s.TotalGB),
	}
}

// UnavailableMemUsage возвращает заглушку
func UnavailableMemUsage() MemUsage {
	return MemUsage{
		UsedGB:     NotAvailable,
		FreeGB:     NotAvailable,
		TotalGB:    NotAvailable,
		TotalLabel: NotAvailable,
	}
}

// DiskUsage хранит строки в формате df, без пересчета
type DiskUsage struct {
	Capacity string `json:"capacity"`
	Free     string `json:"free"`
}

// FanSpeed сериализуется как {"rpm": N} или "N/A"
type FanSpeed struct {
	RPM       int
	Available bool
}

// MarshalJSON реализует json.Marshaler
func (f FanSpeed) MarshalJSON() ([]byte, error) {
	if !f.Available {
		return json.Marshal(NotAvailable)
	}
	return json.Marshal(struct {
		RPM int `json:"rpm"`
	}{f.RPM})
}

// PingResult - результат одной пробы
type PingResult struct {
	Host      string   `json:"host"`
	AverageMs *float64 `json:"averageMs"`
	Error     *string  `json:"error"`
	Color     string   `json:"color,omitempty"`
}

// NewPingResult строит результат; avg и err могут отсутствовать
func NewPingResult(host string, avg *float64, err error) PingResult {
	res := PingResult{Host: host, AverageMs: avg}
	if err != nil {
		msg := err.Error()
		res.Error = &msg
		res.AverageMs = nil
	}
	if res.AverageMs != nil {
		res.Color = units.PingColor(*res.AverageMs)
	}
	return res
}
