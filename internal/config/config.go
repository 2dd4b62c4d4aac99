package config

import (
	"fmt"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/kelseyhightower/envconfig"
)

// Config holds every process-wide setting. It is read once at startup and
// never mutated afterwards.
type Config struct {
	Env         string `envconfig:"APP_ENV" default:"development"`
	ServiceName string `envconfig:"SERVICE_NAME" default:"formapi"`
	Port        int    `envconfig:"PORT" default:"3000"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Hosted switches the deployment into the fully hosted variant.
	Hosted             bool     `envconfig:"HOSTED" default:"false"`
	NoAlias            bool     `envconfig:"NO_ALIAS" default:"false"`
	ReservedSubdomains []string `envconfig:"RESERVED_SUBDOMAINS" default:"test,www,api,help,support,portal,app,apps,team,form,forms,platform,project,projects,developer,developers,manager,files,pdf,edge"`
	AdminProject       string   `envconfig:"ADMIN_PROJECT" default:"formio"`
	TrialDays          int      `envconfig:"TRIAL_DAYS" default:"30"`

	AccessTokenSecret string `envconfig:"ACCESS_TOKEN_SECRET"`
	ResourceServerURL string `envconfig:"RESOURCE_SERVER_URL"`

	Database Database `envconfig:"DB"`
	Redis    Redis    `envconfig:"REDIS"`
	License  License  `envconfig:"LICENSE"`
}

type Database struct {
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     int    `envconfig:"PORT" default:"5432"`
	User     string `envconfig:"USERNAME" default:"postgres"`
	Password string `envconfig:"PASSWORD"`
	Name     string `envconfig:"DATABASE" default:"formapi"`
	SSLMode  string `envconfig:"SSLMODE" default:"disable"`
	MaxConns int32  `envconfig:"MAX_CONNS" default:"25"`
	MinConns int32  `envconfig:"MIN_CONNS" default:"5"`
	Migrate  bool   `envconfig:"MIGRATE" default:"true"`
}

// Redis is optional. With an empty Addr the fallback cache stays in memory.
type Redis struct {
	Addr     string `envconfig:"ADDR"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
}

type License struct {
	ServerURL string        `envconfig:"SERVER" default:"https://license.form.io"`
	Key       string        `envconfig:"KEY"`
	Remote    bool          `envconfig:"REMOTE" default:"false"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"5s"`
	// CacheTTL is forced to zero in hosted mode.
	CacheTTL          time.Duration `envconfig:"CACHE_TTL" default:"3h"`
	GraceWindow       time.Duration `envconfig:"GRACE_WINDOW" default:"3h"`
	NoFormUtilization bool          `envconfig:"NO_FORM_UTILIZATION" default:"false"`
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Load reads the environment into a new Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if cfg.Hosted {
		cfg.License.CacheTTL = 0
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	if c.License.Timeout <= 0 {
		return fmt.Errorf("LICENSE_TIMEOUT must be positive")
	}
	if c.License.CacheTTL < 0 {
		return fmt.Errorf("LICENSE_CACHE_TTL must not be negative")
	}
	if c.License.GraceWindow < 0 {
		return fmt.Errorf("LICENSE_GRACE_WINDOW must not be negative")
	}
	if c.TrialDays <= 0 {
		return fmt.Errorf("TRIAL_DAYS must be positive")
	}
	return nil
}
