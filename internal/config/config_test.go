package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"systemstats/internal/collector"
	"systemstats/internal/config"
)

func newCommand(t *testing.T, flags map[string]string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	config.AddFlags(cmd)
	for name, value := range flags {
		require.NoError(t, cmd.Flags().Set(name, value))
	}
	return cmd
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := config.NewConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, -1, cfg.Sources.FanPin)
	assert.Equal(t, collector.DefaultOptions(), cfg.Options())
	assert.Equal(t, collector.DefaultSourceConfig(), cfg.SourceConfig())
}

func TestLoad_FileEnvFlagsPrecedence(t *testing.T) {
	path := writeConfig(t, "systemstats.yaml", `
log_level: warn
listen_addr: ":9000"
zabbix:
  enable: true
  server: zabbix.lan
  timeout: 2s
sources:
  disk_path: /data
collector:
  cpu_update_interval: 2000
  ping_host: 9.9.9.9
  show_fan_speed: true
`)
	t.Setenv("SYSTEMSTATS_LISTEN_ADDR", ":9100")
	t.Setenv("SYSTEMSTATS_PING_COUNT", "3")

	cfg := config.NewConfig()
	cmd := newCommand(t, map[string]string{
		"config":    path,
		"ping-host": "8.8.4.4",
	})
	require.NoError(t, cfg.Load(cmd))

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, ":9100", cfg.ListenAddr)
	assert.True(t, cfg.Zabbix.Enable)
	assert.Equal(t, "zabbix.lan", cfg.Zabbix.Server)
	assert.Equal(t, 10051, cfg.Zabbix.Port)
	assert.Equal(t, 2*time.Second, cfg.Zabbix.Timeout)
	assert.Equal(t, "/data", cfg.Sources.DiskPath)

	opts := cfg.Options()
	assert.Equal(t, 2000, opts.CPUUpdateInterval)
	assert.Equal(t, 10000, opts.RAMUpdateInterval)
	assert.Equal(t, "8.8.4.4", opts.PingHost)
	assert.Equal(t, 3, opts.PingCount)
	assert.True(t, opts.ShowFanSpeed)
}

func TestLoad_TOMLFile(t *testing.T) {
	path := writeConfig(t, "systemstats.toml", `
log_level = "debug"

[collector]
disk_update_interval = 120000
`)
	cfg := config.NewConfig()
	require.NoError(t, cfg.Load(newCommand(t, map[string]string{"config": path})))

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 120000, cfg.Options().DiskUpdateInterval)
}

func TestLoad_MissingFile(t *testing.T) {
	cfg := config.NewConfig()
	err := cfg.Load(newCommand(t, map[string]string{"config": filepath.Join(t.TempDir(), "none.yaml")}))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("SYSTEMSTATS_ZABBIX_PORT", "port")

	cfg := config.NewConfig()
	err := cfg.Load(newCommand(t, nil))
	assert.ErrorContains(t, err, "SYSTEMSTATS_ZABBIX_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"log level", func(c *config.Config) { c.LogLevel = "trace" }, "invalid log level"},
		{"listen", func(c *config.Config) { c.ListenAddr = "" }, "listen address"},
		{"zabbix port", func(c *config.Config) {
			c.Zabbix.Enable = true
			c.Zabbix.Port = 70000
		}, "invalid zabbix port"},
		{"collector interval", func(c *config.Config) { c.Collector.RAMUpdateInterval = 0 }, "ramUpdateInterval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}

	cfg := config.NewConfig()
	cfg.ListenAddr = ""
	cfg.Once = true
	assert.NoError(t, cfg.Validate())
}
