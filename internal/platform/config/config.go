package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the service configuration. Values come from, in increasing precedence:
// built-in defaults, an optional YAML file, then environment variables.
type Config struct {
	Server struct {
		Port       string `yaml:"port"`
		AuthMode   string `yaml:"auth_mode"` // jwt | dev
		DevSubject string `yaml:"dev_subject"`
	} `yaml:"server"`

	Auth struct {
		JWT JWTConfig `yaml:"jwt"`
	} `yaml:"auth"`

	Storage struct {
		Backend     string `yaml:"backend"` // memory | postgres | redis | firebase
		DatabaseURL string `yaml:"database_url"`
		Redis       struct {
			Addr   string `yaml:"addr"`
			DB     int    `yaml:"db"`
			Prefix string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"storage"`

	Identity struct {
		Backend string `yaml:"backend"` // memory | postgres | firebase
	} `yaml:"identity"`

	Firebase struct {
		ProjectID       string `yaml:"project_id"`
		DatabaseURL     string `yaml:"database_url"`
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"firebase"`

	Events struct {
		Backend string   `yaml:"backend"` // noop | memory | kafka
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"events"`

	Provisioning struct {
		TermsVersion string `yaml:"terms_version"`
		PIIHashKey   string `yaml:"pii_hash_key"`
	} `yaml:"provisioning"`

	Reconcile struct {
		GracePeriod time.Duration `yaml:"grace_period"`
		Interval    time.Duration `yaml:"interval"`
		Concurrency int           `yaml:"concurrency"`
	} `yaml:"reconcile"`

	Log struct {
		Env   string `yaml:"env"`
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// JWTConfig configures bearer token verification against a JWKS endpoint.
type JWTConfig struct {
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
	JWKSURL  string `yaml:"jwks_url"`

	ClockSkew              time.Duration `yaml:"clock_skew"`
	JWKSRefreshInterval    time.Duration `yaml:"jwks_refresh_interval"`
	JWKSMinRefreshInterval time.Duration `yaml:"jwks_min_refresh_interval"` // bounds refreshes on unknown kid

	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

func Default() Config {
	var c Config
	c.Server.Port = "8080"
	c.Server.AuthMode = "jwt"
	c.Server.DevSubject = "dev-admin"
	c.Auth.JWT.ClockSkew = 30 * time.Second
	c.Auth.JWT.JWKSRefreshInterval = 5 * time.Minute
	c.Auth.JWT.JWKSMinRefreshInterval = 10 * time.Second
	c.Auth.JWT.HTTPTimeout = 5 * time.Second
	c.Storage.Backend = "memory"
	c.Storage.Redis.Prefix = "gocrave:"
	c.Identity.Backend = "memory"
	c.Events.Backend = "noop"
	c.Events.Topic = "runner-events"
	c.Provisioning.TermsVersion = "v1"
	c.Reconcile.GracePeriod = 15 * time.Minute
	c.Reconcile.Interval = 5 * time.Minute
	c.Reconcile.Concurrency = 4
	c.Log.Env = "dev"
	c.Log.Level = "info"
	return c
}

// LoadDotEnv loads variables from the given .env files into the process environment.
// Missing files are ignored; variables already set are not overwritten.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds the configuration from defaults, the YAML file at path (skipped when path
// is empty) and the environment, then validates it.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	setStr(&c.Server.Port, "PORT")
	setStr(&c.Server.AuthMode, "AUTH_MODE")
	setStr(&c.Server.DevSubject, "DEV_SUBJECT")

	setStr(&c.Auth.JWT.Issuer, "JWT_ISSUER")
	setStr(&c.Auth.JWT.Audience, "JWT_AUDIENCE")
	setStr(&c.Auth.JWT.JWKSURL, "JWT_JWKS_URL")
	for key, dst := range map[string]*time.Duration{
		"JWT_CLOCK_SKEW":                &c.Auth.JWT.ClockSkew,
		"JWT_JWKS_REFRESH_INTERVAL":     &c.Auth.JWT.JWKSRefreshInterval,
		"JWT_JWKS_MIN_REFRESH_INTERVAL": &c.Auth.JWT.JWKSMinRefreshInterval,
		"JWT_HTTP_TIMEOUT":              &c.Auth.JWT.HTTPTimeout,
	} {
		if err := setDuration(dst, key); err != nil {
			return err
		}
	}

	setStr(&c.Storage.Backend, "STORAGE_BACKEND")
	setStr(&c.Storage.DatabaseURL, "DATABASE_URL")
	setStr(&c.Storage.Redis.Addr, "REDIS_ADDR")
	setStr(&c.Storage.Redis.Prefix, "REDIS_PREFIX")
	if err := setInt(&c.Storage.Redis.DB, "REDIS_DB"); err != nil {
		return err
	}

	setStr(&c.Identity.Backend, "IDENTITY_BACKEND")

	setStr(&c.Firebase.ProjectID, "FIREBASE_PROJECT_ID")
	setStr(&c.Firebase.DatabaseURL, "FIREBASE_DATABASE_URL")
	setStr(&c.Firebase.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")

	setStr(&c.Events.Backend, "EVENTS_BACKEND")
	setStr(&c.Events.Topic, "KAFKA_TOPIC")
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Events.Brokers = splitCSV(v)
	}

	setStr(&c.Provisioning.TermsVersion, "TERMS_VERSION")
	setStr(&c.Provisioning.PIIHashKey, "PII_HASH_KEY")

	if err := setDuration(&c.Reconcile.GracePeriod, "RECONCILE_GRACE_PERIOD"); err != nil {
		return err
	}
	if err := setDuration(&c.Reconcile.Interval, "RECONCILE_INTERVAL"); err != nil {
		return err
	}
	if err := setInt(&c.Reconcile.Concurrency, "RECONCILE_CONCURRENCY"); err != nil {
		return err
	}

	setStr(&c.Log.Env, "LOG_ENV")
	setStr(&c.Log.Level, "LOG_LEVEL")
	return nil
}

func (c Config) Validate() error {
	var errs []error
	oneOf := func(name, v string, allowed ...string) {
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s must be one of %s, got %q", name, strings.Join(allowed, "|"), v))
	}
	oneOf("server.auth_mode", c.Server.AuthMode, "jwt", "dev")
	if c.Server.AuthMode == "jwt" {
		j := c.Auth.JWT
		if j.Issuer == "" || j.Audience == "" || j.JWKSURL == "" {
			errs = append(errs, errors.New("JWT_ISSUER, JWT_AUDIENCE and JWT_JWKS_URL are required for jwt auth"))
		}
		if j.ClockSkew < 0 || j.JWKSRefreshInterval <= 0 || j.JWKSMinRefreshInterval <= 0 || j.HTTPTimeout <= 0 {
			errs = append(errs, errors.New("auth.jwt durations must be positive"))
		}
	}
	oneOf("storage.backend", c.Storage.Backend, "memory", "postgres", "redis", "firebase")
	oneOf("identity.backend", c.Identity.Backend, "memory", "postgres", "firebase")
	oneOf("events.backend", c.Events.Backend, "noop", "memory", "kafka")

	if (c.Storage.Backend == "postgres" || c.Identity.Backend == "postgres") && c.Storage.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
	}
	if c.Storage.Backend == "redis" && c.Storage.Redis.Addr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required for the redis backend"))
	}
	if (c.Storage.Backend == "firebase" || c.Identity.Backend == "firebase") && c.Firebase.ProjectID == "" {
		errs = append(errs, errors.New("FIREBASE_PROJECT_ID is required for the firebase backend"))
	}
	if c.Storage.Backend == "firebase" && c.Firebase.DatabaseURL == "" {
		errs = append(errs, errors.New("FIREBASE_DATABASE_URL is required for the firebase storage backend"))
	}
	if c.Events.Backend == "kafka" && (len(c.Events.Brokers) == 0 || c.Events.Topic == "") {
		errs = append(errs, errors.New("KAFKA_BROKERS and KAFKA_TOPIC are required for the kafka events backend"))
	}
	if c.Reconcile.GracePeriod <= 0 {
		errs = append(errs, errors.New("reconcile.grace_period must be positive"))
	}
	if c.Reconcile.Interval <= 0 {
		errs = append(errs, errors.New("reconcile.interval must be positive"))
	}
	if c.Reconcile.Concurrency <= 0 {
		errs = append(errs, errors.New("reconcile.concurrency must be positive"))
	}
	return errors.Join(errs...)
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s must be a duration (e.g. 15m): %w", key, err)
	}
	*dst = d
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
