package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultDBDriver   = "postgres"
	defaultDBHost     = "localhost"
	defaultDBPort     = 5432
	defaultDBName     = "network_monitor"
	defaultDBSSLMode  = "disable"
	defaultSMTPServer = "smtp.gmail.com"
	defaultSMTPPort   = 587

	defaultDownloadThreshold = 500.0
	defaultUploadThreshold   = 300.0

	defaultCheckIntervalMinutes = 30
	defaultSummaryIntervalHours = 6
	defaultDailyReportTime      = "23:59"

	defaultLogLevel = "INFO"
	defaultLogFile  = "./netmon.log"
)

// Config is the environment-sourced configuration surface. It is read once
// at startup; anything invalid here fails the process before the monitor
// loop starts.
type Config struct {
	DB   DBConfig
	Mail MailConfig

	DownloadThreshold float64
	UploadThreshold   float64

	CheckInterval   time.Duration
	SummaryInterval time.Duration
	DailyReportTime string

	LogLevel string
	LogFile  string
}

type DBConfig struct {
	Driver   string // postgres, sqlite or file
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
	Path     string // sqlite/file drivers
}

type MailConfig struct {
	Provider     string // smtp or brevo
	SMTPServer   string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	BrevoAPIKey  string
	Recipient    string
}

// FromEnv reads the configuration from environment variables. Parse errors
// (non-numeric numbers, malformed host) are reported here; presence and
// range checks live in Validate.
func FromEnv() (Config, error) {
	cfg := Config{
		DB: DBConfig{
			Driver:   strings.ToLower(getEnvOrDefault("DB_DRIVER", defaultDBDriver)),
			Host:     getEnvOrDefault("DB_HOST", defaultDBHost),
			Port:     defaultDBPort,
			Name:     getEnvOrDefault("DB_NAME", defaultDBName),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			SSLMode:  getEnvOrDefault("DB_SSLMODE", defaultDBSSLMode),
			Path:     os.Getenv("DB_PATH"),
		},
		Mail: MailConfig{
			Provider:     strings.ToLower(getEnvOrDefault("MAIL_PROVIDER", "smtp")),
			SMTPServer:   getEnvOrDefault("SMTP_SERVER", defaultSMTPServer),
			SMTPPort:     defaultSMTPPort,
			SMTPUser:     os.Getenv("SMTP_USER"),
			SMTPPassword: os.Getenv("SMTP_PASSWORD"),
			BrevoAPIKey:  os.Getenv("BREVO_API_KEY"),
			Recipient:    os.Getenv("EMAIL_RECIPIENT"),
		},
		DailyReportTime: getEnvOrDefault("DAILY_REPORT_TIME", defaultDailyReportTime),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", defaultLogLevel),
		LogFile:         getEnvOrDefault("LOG_FILE", defaultLogFile),
	}

	var err error
	if cfg.DB.Port, err = envInt("DB_PORT", defaultDBPort); err != nil {
		return cfg, err
	}
	// DB_HOST may carry an embedded port ("db.example.com:5433"); it wins
	// over DB_PORT.
	if host, port, ok := strings.Cut(cfg.DB.Host, ":"); ok {
		p, perr := strconv.Atoi(strings.TrimSpace(port))
		if perr != nil {
			return cfg, fmt.Errorf("DB_HOST: invalid port in %q", cfg.DB.Host)
		}
		cfg.DB.Host = host
		cfg.DB.Port = p
	}

	if cfg.Mail.SMTPPort, err = envInt("SMTP_PORT", defaultSMTPPort); err != nil {
		return cfg, err
	}
	if cfg.DownloadThreshold, err = envFloat("DOWNLOAD_THRESHOLD", defaultDownloadThreshold); err != nil {
		return cfg, err
	}
	if cfg.UploadThreshold, err = envFloat("UPLOAD_THRESHOLD", defaultUploadThreshold); err != nil {
		return cfg, err
	}

	checkMin, err := envInt("CHECK_INTERVAL_MINUTES", defaultCheckIntervalMinutes)
	if err != nil {
		return cfg, err
	}
	summaryHours, err := envInt("SUMMARY_INTERVAL_HOURS", defaultSummaryIntervalHours)
	if err != nil {
		return cfg, err
	}
	cfg.CheckInterval = time.Duration(checkMin) * time.Minute
	cfg.SummaryInterval = time.Duration(summaryHours) * time.Hour

	return cfg, nil
}

// Validate checks that required configuration is present and in range.
func (c Config) Validate() error {
	switch c.DB.Driver {
	case "postgres":
		if c.DB.User == "" {
			return errors.New("DB_USER is required")
		}
		if c.DB.Password == "" {
			return errors.New("DB_PASSWORD is required")
		}
	case "sqlite", "file":
		if strings.TrimSpace(c.DB.Path) == "" {
			return fmt.Errorf("DB_PATH is required for the %s driver", c.DB.Driver)
		}
	default:
		return fmt.Errorf("DB_DRIVER: unknown driver %q", c.DB.Driver)
	}

	switch c.Mail.Provider {
	case "smtp":
		if c.Mail.SMTPUser == "" {
			return errors.New("SMTP_USER is required")
		}
		if c.Mail.SMTPPassword == "" {
			return errors.New("SMTP_PASSWORD is required")
		}
	case "brevo":
		if c.Mail.BrevoAPIKey == "" {
			return errors.New("BREVO_API_KEY is required")
		}
		if c.Mail.SMTPUser == "" {
			return errors.New("SMTP_USER is required (sender address)")
		}
	default:
		return fmt.Errorf("MAIL_PROVIDER: unknown provider %q", c.Mail.Provider)
	}
	if c.Mail.Recipient == "" {
		return errors.New("EMAIL_RECIPIENT is required")
	}

	if c.CheckInterval <= 0 {
		return errors.New("CHECK_INTERVAL_MINUTES must be > 0")
	}
	if c.SummaryInterval <= 0 {
		return errors.New("SUMMARY_INTERVAL_HOURS must be > 0")
	}
	if _, _, err := ParseHHMM(c.DailyReportTime); err != nil {
		return fmt.Errorf("DAILY_REPORT_TIME: %w", err)
	}
	return nil
}

// ParseHHMM parses a wall-clock time of day like "23:59".
func ParseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return v, nil
}

func envFloat(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", key, raw)
	}
	return v, nil
}
