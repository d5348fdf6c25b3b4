package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Settings is the optional YAML file covering operational knobs the
// environment surface does not: log sinks, probe tuning, public-IP sources,
// alerting, retention and the debug listeners. Like the environment it is
// read once at startup; the watcher only reports on-disk changes.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Settings struct {
	Logging  LoggingSettings  `yaml:"logging"`
	Telegram TelegramSettings `yaml:"telegram"`
	Probe    ProbeSettings    `yaml:"probe"`
	PublicIP PublicIPSettings `yaml:"public_ip"`
	Alerting AlertSettings    `yaml:"alerting"`

	Retention RetentionSettings `yaml:"retention"`
	Metrics   MetricsSettings   `yaml:"metrics"`
	Pprof     PprofSettings     `yaml:"pprof"`

	// Timezone for the daily report boundary (IANA name). Empty means the
	// system's local zone.
	Timezone string `yaml:"timezone"`
}

type LoggingSettings struct {
	Console  bool                   `yaml:"console"`
	Telegram TelegramLoggerSettings `yaml:"telegram"`
}

type TelegramLoggerSettings struct {
	Enabled    bool   `yaml:"enabled"`
	MinLevel   string `yaml:"min_level"`
	RatePerSec int    `yaml:"rate_per_sec"`
}

// TelegramSettings configures the outbound sender the log sink uses.
type TelegramSettings struct {
	Token    string `yaml:"token"`
	ChatID   int64  `yaml:"chat_id"`
	ThreadID int    `yaml:"thread_id"`
}

type ProbeSettings struct {
	// Servers is how many nearby speedtest servers to rank by ping before
	// picking the fastest.
	Servers int `yaml:"servers"`
	// PingConcurrency bounds the parallel latency probes during ranking.
	PingConcurrency int    `yaml:"ping_concurrency"`
	Timeout         string `yaml:"timeout"`
}

type PublicIPSettings struct {
	URL         string   `yaml:"url"`
	STUNServers []string `yaml:"stun_servers"`
	Timeout     string   `yaml:"timeout"`
}

type AlertSettings struct {
	Enabled    bool   `yaml:"enabled"`
	Cooldown   string `yaml:"cooldown"`
	MaxPerHour int    `yaml:"max_per_hour"`
}

type RetentionSettings struct {
	Days int `yaml:"days"`
	// At is the daily prune time (HH:MM).
	At string `yaml:"at"`
}

type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type PprofSettings struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

func DefaultSettings() Settings {
	return Settings{
		Logging: LoggingSettings{
			Console: true,
			Telegram: TelegramLoggerSettings{
				MinLevel:   "WARN",
				RatePerSec: 1,
			},
		},
		Probe: ProbeSettings{
			Servers:         3,
			PingConcurrency: 3,
			Timeout:         "2m",
		},
		PublicIP: PublicIPSettings{
			URL: "https://ipinfo.io/ip",
			STUNServers: []string{
				"stun.l.google.com:19302",
				"stun.cloudflare.com:3478",
			},
			Timeout: "10s",
		},
		Alerting: AlertSettings{
			Cooldown:   "30m",
			MaxPerHour: 4,
		},
		Retention: RetentionSettings{
			Days: 90,
			At:   "04:30",
		},
		Metrics: MetricsSettings{
			Addr: "127.0.0.1:9090",
		},
		Pprof: PprofSettings{
			Addr: "127.0.0.1:6060",
		},
	}
}

// LoadSettings reads the settings file at path on top of the defaults.
// An empty path returns the defaults unchanged.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if strings.TrimSpace(path) == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return s, fmt.Errorf("settings %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("settings %s: %w", path, err)
	}
	return s, nil
}

func (s Settings) Validate() error {
	if _, err := ParseDurationField("probe.timeout", s.Probe.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("public_ip.timeout", s.PublicIP.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("alerting.cooldown", s.Alerting.Cooldown); err != nil {
		return err
	}
	if s.Retention.Days < 0 {
		return errors.New("retention.days must be >= 0")
	}
	if s.Retention.At != "" {
		if _, _, err := ParseHHMM(s.Retention.At); err != nil {
			return fmt.Errorf("retention.at: %w", err)
		}
	}
	if s.Timezone != "" {
		if _, err := loadLocation(s.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	return nil
}

// Location resolves the configured timezone, falling back to local time.
func (s Settings) Location() *time.Location {
	if s.Timezone == "" {
		return time.Local
	}
	loc, err := loadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func loadLocation(name string) (*time.Location, error) {
	return time.LoadLocation(name)
}
