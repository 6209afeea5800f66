package collector

import (
	"encoding/json"
	"fmt"
	"time"

	"systemstats/internal/scheduler"
)

// MaxUpdateInterval - верхняя граница интервала обновления, мс (сутки)
const MaxUpdateInterval = 24 * 60 * 60 * 1000

// Options - конфигурация сборщика, приходящая от слоя отображения.
// Интервалы в миллисекундах, интервалы ping в секундах.
type Options struct {
	CPUUpdateInterval  int `json:"cpuUpdateInterval" mapstructure:"cpu_update_interval"`
	TempUpdateInterval int `json:"tempUpdateInterval" mapstructure:"temp_update_interval"`
	RAMUpdateInterval  int `json:"ramUpdateInterval" mapstructure:"ram_update_interval"`
	DiskUpdateInterval int `json:"diskUpdateInterval" mapstructure:"disk_update_interval"`
	FanUpdateInterval  int `json:"fanUpdateInterval" mapstructure:"fan_update_interval"`

	ShowCPUUsage  bool `json:"showCpuUsage" mapstructure:"show_cpu_usage"`
	PerCore       bool `json:"perCore" mapstructure:"per_core"`
	ShowCPUTemp   bool `json:"showCpuTemp" mapstructure:"show_cpu_temp"`
	ShowRAMUsage  bool `json:"showRamUsage" mapstructure:"show_ram_usage"`
	ShowDiskUsage bool `json:"showDiskUsage" mapstructure:"show_disk_usage"`
	ShowFanSpeed  bool `json:"showFanSpeed" mapstructure:"show_fan_speed"`
	ShowPing      bool `json:"showPing" mapstructure:"show_ping"`

	PingHost        string  `json:"pingHost" mapstructure:"ping_host"`
	PingCount       int     `json:"pingCount" mapstructure:"ping_count"`
	PingIntervalMin float64 `json:"pingIntervalMin" mapstructure:"ping_interval_min"`
	PingIntervalMax float64 `json:"pingIntervalMax" mapstructure:"ping_interval_max"`
}

// DefaultOptions возвращает значения по умолчанию
func DefaultOptions() Options {
	return Options{
		CPUUpdateInterval:  1000,
		TempUpdateInterval: 1000,
		RAMUpdateInterval:  10000,
		DiskUpdateInterval: 60000,
		FanUpdateInterval:  5000,

		ShowCPUUsage:  true,
		ShowCPUTemp:   true,
		ShowRAMUsage:  true,
		ShowDiskUsage: true,
		ShowFanSpeed:  false,
		ShowPing:      true,

		PingHost:        "1.1.1.1",
		PingCount:       1,
		PingIntervalMin: 10,
		PingIntervalMax: 30,
	}
}

// Validate проверяет интервалы. Параметры ping нормализуются планировщиком.
func (o Options) Validate() error {
	intervals := map[string]int{
		"cpuUpdateInterval":  o.CPUUpdateInterval,
		"tempUpdateInterval": o.TempUpdateInterval,
		"ramUpdateInterval":  o.RAMUpdateInterval,
		"diskUpdateInterval": o.DiskUpdateInterval,
		"fanUpdateInterval":  o.FanUpdateInterval,
	}
	for name, v := range intervals {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidOptions, name, v)
		}
		if v > MaxUpdateInterval {
			return fmt.Errorf("%w: %s must not exceed %d ms, got %d", ErrInvalidOptions, name, MaxUpdateInterval, v)
		}
	}
	if o.PingCount < 0 {
		return fmt.Errorf("%w: pingCount must be at least 1, got %d", ErrInvalidOptions, o.PingCount)
	}
	return nil
}

// Merge накладывает частичный JSON на копию опций
func (o Options) Merge(patch []byte) (Options, error) {
	merged := o
	if err := json.Unmarshal(patch, &merged); err != nil {
		return o, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return merged, nil
}

// PingConfig возвращает конфигурацию планировщика ping
func (o Options) PingConfig() scheduler.PingConfig {
	return scheduler.PingConfig{
		Host:        o.PingHost,
		Count:       o.PingCount,
		MinInterval: o.PingIntervalMin,
		MaxInterval: o.PingIntervalMax,
	}
}

func millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
