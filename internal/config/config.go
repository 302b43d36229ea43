// Package config loads EcoTask settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/nadmax/ecotask/internal/co2"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort      = "8080"
	defaultRedisAddr = "localhost:6379"
	defaultFrontend  = "http://localhost:5173"
	defaultLogLevel  = "info"
	defaultLogFormat = "json"
	defaultReportDir = "./reports"
	defaultFromName  = "EcoTask"
)

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type EmailConfig struct {
	APIKey      string   `yaml:"api_key"`
	FromName    string   `yaml:"from_name"`
	FromAddress string   `yaml:"from_address"`
	Recipients  []string `yaml:"recipients"`
}

type Config struct {
	Port        string             `yaml:"port"`
	PostgresDSN string             `yaml:"postgres_dsn"`
	RedisAddr   string             `yaml:"redis_addr"`
	FrontendURL string             `yaml:"frontend_url"`
	WorkerID    string             `yaml:"worker_id"`
	ReportDir   string             `yaml:"report_dir"`
	Logging     LoggingConfig      `yaml:"logging"`
	Email       EmailConfig        `yaml:"email"`
	Rates       map[string]float64 `yaml:"rates"`
}

// Default returns a Config with every optional setting filled in.
func Default() *Config {
	return &Config{
		Port:        defaultPort,
		RedisAddr:   defaultRedisAddr,
		FrontendURL: defaultFrontend,
		ReportDir:   defaultReportDir,
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Email: EmailConfig{FromName: defaultFromName},
	}
}

// Load reads path when it is not empty, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	set("PORT", &c.Port)
	set("POSTGRES_DSN", &c.PostgresDSN)
	set("REDIS_ADDR", &c.RedisAddr)
	set("FRONTEND_URL", &c.FrontendURL)
	set("WORKER_ID", &c.WorkerID)
	set("REPORT_DIR", &c.ReportDir)
	set("LOG_LEVEL", &c.Logging.Level)
	set("LOG_FORMAT", &c.Logging.Format)
	set("EMAIL_API_KEY", &c.Email.APIKey)
	set("FROM_NAME", &c.Email.FromName)
	set("FROM_ADDRESS", &c.Email.FromAddress)

	if v, ok := lookup("ALERT_RECIPIENTS"); ok && v != "" {
		c.Email.Recipients = splitList(v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

// Validate checks the settings every binary needs. Email settings are only
// required once an API key is configured.
func (c *Config) Validate() error {
	var errs []error

	if c.PostgresDSN == "" {
		errs = append(errs, errors.New("postgres_dsn is required"))
	}
	if c.RedisAddr == "" {
		errs = append(errs, errors.New("redis_addr is required"))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}
	if c.Email.APIKey != "" && c.Email.FromAddress == "" {
		errs = append(errs, errors.New("email.from_address is required when an email API key is set"))
	}
	if _, err := c.RateTable(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// RateTable builds the emission rate table. Categories missing from the
// config keep their default rate.
func (c *Config) RateTable() (co2.RateTable, error) {
	if len(c.Rates) == 0 {
		return co2.DefaultRateTable(), nil
	}

	rates := co2.DefaultRateTable().Entries()
	for name, rate := range c.Rates {
		category, err := co2.ParseCategory(name)
		if err != nil {
			return co2.RateTable{}, fmt.Errorf("rates: %w", err)
		}
		rates[category] = rate
	}

	table, err := co2.NewRateTable(rates)
	if err != nil {
		return co2.RateTable{}, fmt.Errorf("rates: %w", err)
	}

	return table, nil
}
