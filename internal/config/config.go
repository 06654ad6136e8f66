// Package config loads sitecheck settings from defaults, an optional YAML
// file and SITECHECK_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/HerbHall/sitecheck/internal/audit"
	"github.com/HerbHall/sitecheck/internal/driver"
	"github.com/HerbHall/sitecheck/internal/monitor"
	"github.com/HerbHall/sitecheck/internal/site"
	"github.com/HerbHall/sitecheck/internal/transport"
)

// EnvPrefix is prepended to every environment override: SITECHECK_AUDIT_WORKERS=4.
const EnvPrefix = "SITECHECK"

// TransportConfig groups the transport settings.
type TransportConfig struct {
	SSH         transport.SSHConfig  `mapstructure:"ssh"`
	HTTPTimeout time.Duration        `mapstructure:"http_timeout"`
	Ping        transport.PingConfig `mapstructure:"ping"`
	SNMP        transport.SNMPConfig `mapstructure:"snmp"`
}

// LoggingConfig controls the application and failure logs.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	FailureDir string `mapstructure:"failure_dir"`
}

// Settings is the fully decoded configuration.
type Settings struct {
	Topology  TopologyConfig  `mapstructure:"topology"`
	Audit     audit.Config    `mapstructure:"audit"`
	Transport TransportConfig `mapstructure:"transport"`
	Drivers   driver.Config   `mapstructure:"drivers"`
	Site      site.Config     `mapstructure:"site"`
	Backup    DirConfig       `mapstructure:"backup"`
	Report    DirConfig       `mapstructure:"report"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Monitor   monitor.Config  `mapstructure:"monitor"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// TopologyConfig locates the device inventory.
type TopologyConfig struct {
	Path    string `mapstructure:"path"`
	EnvFile string `mapstructure:"env_file"`
}

// DirConfig names an output directory.
type DirConfig struct {
	Dir string `mapstructure:"dir"`
}

// DatabaseConfig locates the run history database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// Default returns the settings used when nothing is configured.
func Default() Settings {
	return Settings{
		Topology: TopologyConfig{Path: "topology.yaml", EnvFile: ".env"},
		Audit:    audit.DefaultConfig(),
		Transport: TransportConfig{
			SSH:         transport.DefaultSSHConfig(),
			HTTPTimeout: 10 * time.Second,
			Ping:        transport.DefaultPingConfig(),
			SNMP:        transport.DefaultSNMPConfig(),
		},
		Drivers:  driver.DefaultConfig(),
		Site:     site.DefaultConfig(),
		Backup:   DirConfig{Dir: "backups"},
		Report:   DirConfig{Dir: "reports"},
		Database: DatabaseConfig{Path: "sitecheck.db"},
		Monitor:  monitor.DefaultConfig(),
		Logging:  LoggingConfig{Level: "info", Format: "console", FailureDir: "logs"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("topology.path", d.Topology.Path)
	v.SetDefault("topology.env_file", d.Topology.EnvFile)

	v.SetDefault("audit.workers", d.Audit.Workers)
	v.SetDefault("audit.probe_timeout", d.Audit.ProbeTimeout)
	v.SetDefault("audit.rate_per_second", d.Audit.RatePerSecond)
	v.SetDefault("audit.burst", d.Audit.Burst)

	v.SetDefault("transport.ssh.port", d.Transport.SSH.Port)
	v.SetDefault("transport.ssh.connect_timeout", d.Transport.SSH.ConnectTimeout)
	v.SetDefault("transport.ssh.command_timeout", d.Transport.SSH.CommandTimeout)
	v.SetDefault("transport.ssh.slow_mode", d.Transport.SSH.SlowMode)
	v.SetDefault("transport.ssh.delay_factor", d.Transport.SSH.DelayFactor)
	v.SetDefault("transport.http_timeout", d.Transport.HTTPTimeout)
	v.SetDefault("transport.ping.timeout", d.Transport.Ping.Timeout)
	v.SetDefault("transport.ping.count", d.Transport.Ping.Count)
	v.SetDefault("transport.ping.privileged", d.Transport.Ping.Privileged)
	v.SetDefault("transport.snmp.port", d.Transport.SNMP.Port)
	v.SetDefault("transport.snmp.version", d.Transport.SNMP.Version)
	v.SetDefault("transport.snmp.community", d.Transport.SNMP.Community)
	v.SetDefault("transport.snmp.auth_protocol", d.Transport.SNMP.AuthProtocol)
	v.SetDefault("transport.snmp.priv_protocol", d.Transport.SNMP.PrivProtocol)
	v.SetDefault("transport.snmp.timeout", d.Transport.SNMP.Timeout)
	v.SetDefault("transport.snmp.retries", d.Transport.SNMP.Retries)

	v.SetDefault("drivers.router_wan_interface", d.Drivers.RouterWANInterface)
	v.SetDefault("drivers.pdu_scheme", d.Drivers.PDUScheme)
	v.SetDefault("drivers.av_discovery_timeout", d.Drivers.AVDiscoveryTimeout)
	v.SetDefault("drivers.av_slow_mode", d.Drivers.AVSlowMode)

	v.SetDefault("site.geo_url", d.Site.GeoURL)
	v.SetDefault("site.latency_target", d.Site.LatencyTarget)
	v.SetDefault("site.timeout", d.Site.Timeout)

	v.SetDefault("backup.dir", d.Backup.Dir)
	v.SetDefault("report.dir", d.Report.Dir)
	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("monitor.interval", d.Monitor.Interval)
	v.SetDefault("monitor.listen", d.Monitor.Listen)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.failure_dir", d.Logging.FailureDir)
}

// Load reads configuration. An empty configPath searches for sitecheck.yaml
// in ., ./configs and /etc/sitecheck; a missing file is not an error.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sitecheck")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/sitecheck")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

// Decode unmarshals v into typed settings and validates them.
func Decode(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("decoding config: %w", err)
	}
	if s.Audit.Workers < 1 {
		return Settings{}, fmt.Errorf("audit.workers must be at least 1, got %d", s.Audit.Workers)
	}
	if s.Audit.ProbeTimeout <= 0 {
		return Settings{}, fmt.Errorf("audit.probe_timeout must be positive")
	}
	if s.Monitor.Interval <= 0 {
		return Settings{}, fmt.Errorf("monitor.interval must be positive")
	}
	return s, nil
}
