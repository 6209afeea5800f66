package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"systemstats/internal/collector"
)

// EnvPrefix - префикс переменных окружения
const EnvPrefix = "SYSTEMSTATS_"

// ZabbixConfig - настройки отправки в Zabbix trapper
type ZabbixConfig struct {
	Enable  bool          `mapstructure:"enable"`
	Server  string        `mapstructure:"server"`
	Port    int           `mapstructure:"port"`
	Host    string        `mapstructure:"host"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SourcesConfig - пути и команды источников метрик
type SourcesConfig struct {
	ProcStatPath  string `mapstructure:"proc_stat_path"`
	SensorCommand string `mapstructure:"sensor_command"`
	ThermalPath   string `mapstructure:"thermal_path"`
	DiskPath      string `mapstructure:"disk_path"`
	PingCommand   string `mapstructure:"ping_command"`
	FanPin        int    `mapstructure:"fan_pin"` // -1 - тахометр не подключен
	GPIORoot      string `mapstructure:"gpio_root"`
}

// ProfileConfig - настройки профилирования
type ProfileConfig struct {
	Enable     bool   `mapstructure:"enable"`
	CPUProfile string `mapstructure:"cpu_profile"`
	MemProfile string `mapstructure:"mem_profile"`
}

// Config содержит всю конфигурацию приложения
type Config struct {
	ConfigFile string `mapstructure:"-"`
	LogLevel   string `mapstructure:"log_level"`
	ListenAddr string `mapstructure:"listen_addr"`
	Once       bool   `mapstructure:"-"`

	Zabbix    ZabbixConfig      `mapstructure:"zabbix"`
	Sources   SourcesConfig     `mapstructure:"sources"`
	Profile   ProfileConfig     `mapstructure:"profile"`
	Collector collector.Options `mapstructure:"collector"`
}

// NewConfig создает новую конфигурацию с значениями по умолчанию
func NewConfig() *Config {
	src := collector.DefaultSourceConfig()
	return &Config{
		LogLevel:   "info",
		ListenAddr: ":8080",
		Zabbix: ZabbixConfig{
			Server:  "localhost",
			Port:    10051,
			Timeout: 5 * time.Second,
		},
		Sources: SourcesConfig{
			ProcStatPath:  src.ProcStatPath,
			SensorCommand: src.SensorCommand,
			ThermalPath:   src.ThermalPath,
			DiskPath:      src.DiskPath,
			PingCommand:   src.PingCommand,
			FanPin:        -1,
			GPIORoot:      "/sys/class/gpio",
		},
		Collector: collector.DefaultOptions(),
	}
}

// Load применяет по порядку файл конфигурации, переменные окружения
// и явно заданные флаги, затем проверяет результат
func (c *Config) Load(cmd *cobra.Command) error {
	c.ConfigFile = os.Getenv(EnvPrefix + "CONFIG")
	if cmd.Flags().Changed("config") {
		c.ConfigFile, _ = cmd.Flags().GetString("config")
	}
	if c.ConfigFile != "" {
		if err := c.loadFromFile(c.ConfigFile); err != nil {
			return err
		}
	}

	if err := c.loadFromEnv(); err != nil {
		return err
	}
	c.loadFromFlags(cmd)

	return c.Validate()
}

// loadFromFile читает YAML, TOML или JSON по расширению файла
func (c *Config) loadFromFile(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return nil
}

// loadFromEnv загружает конфигурацию из переменных окружения
func (c *Config) loadFromEnv() error {
	var errs []error

	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("LISTEN_ADDR", &c.ListenAddr)

	boolean("ZABBIX_ENABLE", &c.Zabbix.Enable)
	str("ZABBIX_SERVER", &c.Zabbix.Server)
	integer("ZABBIX_PORT", &c.Zabbix.Port)
	str("ZABBIX_HOST", &c.Zabbix.Host)
	if v := os.Getenv(EnvPrefix + "ZABBIX_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sZABBIX_TIMEOUT: %w", EnvPrefix, err))
		} else {
			c.Zabbix.Timeout = d
		}
	}

	str("PROC_STAT_PATH", &c.Sources.ProcStatPath)
	str("SENSOR_COMMAND", &c.Sources.SensorCommand)
	str("THERMAL_PATH", &c.Sources.ThermalPath)
	str("DISK_PATH", &c.Sources.DiskPath)
	str("PING_COMMAND", &c.Sources.PingCommand)
	integer("FAN_PIN", &c.Sources.FanPin)
	str("GPIO_ROOT", &c.Sources.GPIORoot)

	str("PING_HOST", &c.Collector.PingHost)
	integer("PING_COUNT", &c.Collector.PingCount)
	boolean("PER_CORE", &c.Collector.PerCore)

	boolean("PROFILE_ENABLE", &c.Profile.Enable)
	str("PROFILE_CPU_FILE", &c.Profile.CPUProfile)
	str("PROFILE_MEM_FILE", &c.Profile.MemProfile)

	return errors.Join(errs...)
}

// loadFromFlags применяет только явно заданные флаги
func (c *Config) loadFromFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	if flags.Changed("log-level") {
		c.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("listen") {
		c.ListenAddr, _ = flags.GetString("listen")
	}
	if flags.Changed("once") {
		c.Once, _ = flags.GetBool("once")
	}

	if flags.Changed("zabbix") {
		c.Zabbix.Enable, _ = flags.GetBool("zabbix")
	}
	if flags.Changed("zabbix-server") {
		c.Zabbix.Server, _ = flags.GetString("zabbix-server")
	}
	if flags.Changed("zabbix-port") {
		c.Zabbix.Port, _ = flags.GetInt("zabbix-port")
	}
	if flags.Changed("zabbix-host") {
		c.Zabbix.Host, _ = flags.GetString("zabbix-host")
	}
	if flags.Changed("zabbix-timeout") {
		c.Zabbix.Timeout, _ = flags.GetDuration("zabbix-timeout")
	}

	if flags.Changed("sensor-command") {
		c.Sources.SensorCommand, _ = flags.GetString("sensor-command")
	}
	if flags.Changed("thermal-path") {
		c.Sources.ThermalPath, _ = flags.GetString("thermal-path")
	}
	if flags.Changed("disk-path") {
		c.Sources.DiskPath, _ = flags.GetString("disk-path")
	}
	if flags.Changed("ping-command") {
		c.Sources.PingCommand, _ = flags.GetString("ping-command")
	}
	if flags.Changed("fan-pin") {
		c.Sources.FanPin, _ = flags.GetInt("fan-pin")
	}

	if flags.Changed("ping-host") {
		c.Collector.PingHost, _ = flags.GetString("ping-host")
	}
	if flags.Changed("ping-count") {
		c.Collector.PingCount, _ = flags.GetInt("ping-count")
	}
	if flags.Changed("per-core") {
		c.Collector.PerCore, _ = flags.GetBool("per-core")
	}
	if flags.Changed("fan") {
		c.Collector.ShowFanSpeed, _ = flags.GetBool("fan")
	}

	if flags.Changed("profile") {
		c.Profile.Enable, _ = flags.GetBool("profile")
	}
	if flags.Changed("profile-cpu") {
		c.Profile.CPUProfile, _ = flags.GetString("profile-cpu")
	}
	if flags.Changed("profile-mem") {
		c.Profile.MemProfile, _ = flags.GetString("profile-mem")
	}
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}

	if !c.Once && c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}

	if c.Zabbix.Enable {
		if c.Zabbix.Server == "" {
			return fmt.Errorf("zabbix server is required")
		}
		if c.Zabbix.Port <= 0 || c.Zabbix.Port > 65535 {
			return fmt.Errorf("invalid zabbix port: %d", c.Zabbix.Port)
		}
		if c.Zabbix.Timeout <= 0 {
			return fmt.Errorf("zabbix timeout must be positive")
		}
	}

	if c.Collector.ShowFanSpeed && c.Sources.FanPin >= 0 && c.Sources.GPIORoot == "" {
		return fmt.Errorf("gpio root is required for fan pin %d", c.Sources.FanPin)
	}

	if err := c.Collector.Validate(); err != nil {
		return fmt.Errorf("collector options: %w", err)
	}

	return nil
}

// Options возвращает начальные опции сборщика
func (c *Config) Options() collector.Options {
	return c.Collector
}

// SourceConfig возвращает пути и команды источников
func (c *Config) SourceConfig() collector.SourceConfig {
	return collector.SourceConfig{
		ProcStatPath:  c.Sources.ProcStatPath,
		SensorCommand: c.Sources.SensorCommand,
		ThermalPath:   c.Sources.ThermalPath,
		DiskPath:      c.Sources.DiskPath,
		PingCommand:   c.Sources.PingCommand,
	}
}

// AddFlags добавляет флаги в cobra команду
func AddFlags(cmd *cobra.Command) {
	defaults := NewConfig()

	cmd.Flags().String("config", "", "Config file (yaml, toml or json)")
	cmd.Flags().String("log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")
	cmd.Flags().String("listen", defaults.ListenAddr, "Websocket listen address")
	cmd.Flags().Bool("once", false, "Collect every metric once, print JSON and exit")

	cmd.Flags().Bool("zabbix", false, "Send metrics to Zabbix trapper")
	cmd.Flags().String("zabbix-server", defaults.Zabbix.Server, "Zabbix server or proxy address")
	cmd.Flags().Int("zabbix-port", defaults.Zabbix.Port, "Zabbix trapper port")
	cmd.Flags().String("zabbix-host", "", "Host name in Zabbix (default: hostname)")
	cmd.Flags().Duration("zabbix-timeout", defaults.Zabbix.Timeout, "Zabbix sender timeout")

	cmd.Flags().String("sensor-command", defaults.Sources.SensorCommand, "CPU temperature sensor command")
	cmd.Flags().String("thermal-path", defaults.Sources.ThermalPath, "Thermal zone file, milli-degrees Celsius")
	cmd.Flags().String("disk-path", defaults.Sources.DiskPath, "Path passed to df")
	cmd.Flags().String("ping-command", defaults.Sources.PingCommand, "Ping executable")
	cmd.Flags().Int("fan-pin", defaults.Sources.FanPin, "GPIO pin of the fan tachometer (-1 to disable)")

	cmd.Flags().String("ping-host", defaults.Collector.PingHost, "Host to ping")
	cmd.Flags().Int("ping-count", defaults.Collector.PingCount, "Echo requests per probe")
	cmd.Flags().Bool("per-core", false, "Publish per-core CPU usage")
	cmd.Flags().Bool("fan", false, "Enable fan speed metric")

	cmd.Flags().Bool("profile", false, "Expose pprof endpoints on the listen address")
	cmd.Flags().String("profile-cpu", "", "CPU profile output file")
	cmd.Flags().String("profile-mem", "", "Memory profile output file")
}
