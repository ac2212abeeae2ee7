// Package config loads runtime settings for the accounts service from an
// optional .env file, an optional YAML file and BOOKY_* environment variables,
// in that order of increasing precedence.
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

const (
	envPrefix  = "BOOKY_"
	fileEnvVar = envPrefix + "CONFIG_FILE"
)

// Refresh strategies.
const (
	RefreshModeCookie = "cookie"
	RefreshModeBearer = "bearer"
)

type Config struct {
	HTTPAddr     string             `yaml:"http_addr"`
	GRPCAddr     string             `yaml:"grpc_addr"`
	LogLevel     string             `yaml:"log_level"`
	PostgresDSN  string             `yaml:"pg_dsn"`
	Store        StoreConfig        `yaml:"store"`
	Token        TokenConfig        `yaml:"token"`
	Registration RegistrationConfig `yaml:"registration"`
	Session      SessionConfig      `yaml:"session"`
	Cookie       CookieConfig       `yaml:"cookie"`
	Mail         MailConfig         `yaml:"mail"`
	HTTPRate     HTTPRateConfig     `yaml:"http_rate"`
	// CORSOrigins may send credentialed requests. Localhost is always allowed.
	CORSOrigins  []string           `yaml:"cors_origins"`
}

type StoreConfig struct {
	Driver   string        `yaml:"driver"`
	Addr     string        `yaml:"addr"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Timeout  time.Duration `yaml:"timeout"`
}

type TokenConfig struct {
	Secret     string        `yaml:"secret"`
	Issuer     string        `yaml:"issuer"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
}

// RegistrationConfig tunes the signup flow. PendingTTL bounds how long a
// confirmation link stays usable.
type RegistrationConfig struct {
	PendingTTL time.Duration `yaml:"pending_ttl"`
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

type SessionConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	RefreshMode string        `yaml:"refresh_mode"`
	// Rotate issues a new refresh token on every refresh and blacklists the old one.
	Rotate bool `yaml:"rotate"`
}

type CookieConfig struct {
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
	Domain   string `yaml:"domain"`
	Secure   bool   `yaml:"secure"`
	SameSite string `yaml:"same_site"`
}

type MailConfig struct {
	SMTPAddr  string `yaml:"smtp_addr"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	From      string `yaml:"from"`
	VerifyURL string `yaml:"verify_url"`
}

type HTTPRateConfig struct {
	Burst     int `yaml:"burst"`
	PerSecond int `yaml:"per_second"`
}

// Default returns the baseline configuration before file and env overrides.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		LogLevel: "info",
		Store: StoreConfig{
			Driver:  "redis",
			Addr:    "localhost:6379",
			Timeout: 2 * time.Second,
		},
		Token: TokenConfig{
			Issuer:     "booky",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
		},
		Registration: RegistrationConfig{
			PendingTTL: 30 * time.Minute,
			RateLimit:  5,
			RateWindow: time.Minute,
		},
		Session: SessionConfig{
			RefreshMode: RefreshModeCookie,
		},
		Cookie: CookieConfig{
			Name:     "booky_session",
			Path:     "/",
			Secure:   true,
			SameSite: "lax",
		},
		Mail: MailConfig{
			From:      "no-reply@booky.app",
			VerifyURL: "http://localhost:3000/verify-email?token=",
		},
		HTTPRate: HTTPRateConfig{
			Burst:     20,
			PerSecond: 10,
		},
	}
}

// Load reads .env (if present), the YAML file named by BOOKY_CONFIG_FILE and
// the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return LoadFrom(os.Getenv(fileEnvVar), os.LookupEnv)
}

// LoadFrom builds a Config from an optional YAML file and an env lookup function.
func LoadFrom(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if cfg.Session.TTL <= 0 {
		cfg.Session.TTL = cfg.Token.RefreshTTL
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Token.Secret) == "" {
		errs = append(errs, errors.New("token secret is required (BOOKY_JWT_SECRET)"))
	}
	positive := map[string]time.Duration{
		"access ttl":        c.Token.AccessTTL,
		"refresh ttl":       c.Token.RefreshTTL,
		"pending ttl":       c.Registration.PendingTTL,
		"session ttl":       c.Session.TTL,
		"rate limit window": c.Registration.RateWindow,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be greater than zero", name))
		}
	}
	if c.Token.AccessTTL >= c.Token.RefreshTTL {
		errs = append(errs, errors.New("access ttl must be shorter than refresh ttl"))
	}
	if c.Registration.RateLimit <= 0 {
		errs = append(errs, errors.New("rate limit must be greater than zero"))
	}
	switch c.Session.RefreshMode {
	case RefreshModeCookie, RefreshModeBearer:
	default:
		errs = append(errs, fmt.Errorf("unknown refresh mode %q", c.Session.RefreshMode))
	}
	switch strings.ToLower(c.Cookie.SameSite) {
	case "lax", "strict", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown cookie samesite %q", c.Cookie.SameSite))
	}
	if strings.EqualFold(c.Cookie.SameSite, "none") && !c.Cookie.Secure {
		errs = append(errs, errors.New("samesite=none requires a secure cookie"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *envReader) str(name string, dst *string) {
	if v, ok := r.lookup(envPrefix + name); ok {
		*dst = strings.TrimSpace(v)
	}
}

func (r *envReader) list(name string, dst *[]string) {
	v, ok := r.lookup(envPrefix + name)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (r *envReader) duration(name string, dst *time.Duration) {
	v, ok := r.lookup(envPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return
	}
	*dst = d
}

func (r *envReader) integer(name string, dst *int) {
	v, ok := r.lookup(envPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return
	}
	*dst = n
}

func (r *envReader) boolean(name string, dst *bool) {
	v, ok := r.lookup(envPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
		return
	}
	*dst = b
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}
	r := &envReader{lookup: lookup}

	r.str("HTTP_ADDR", &cfg.HTTPAddr)
	r.str("GRPC_ADDR", &cfg.GRPCAddr)
	r.str("LOG_LEVEL", &cfg.LogLevel)
	r.str("PG_DSN", &cfg.PostgresDSN)

	r.str("STORE_DRIVER", &cfg.Store.Driver)
	r.str("REDIS_ADDR", &cfg.Store.Addr)
	r.str("REDIS_USERNAME", &cfg.Store.Username)
	r.str("REDIS_PASSWORD", &cfg.Store.Password)
	r.integer("REDIS_DB", &cfg.Store.DB)
	r.duration("STORE_TIMEOUT", &cfg.Store.Timeout)

	r.str("JWT_SECRET", &cfg.Token.Secret)
	r.str("JWT_ISSUER", &cfg.Token.Issuer)
	r.duration("ACCESS_TTL", &cfg.Token.AccessTTL)
	r.duration("REFRESH_TTL", &cfg.Token.RefreshTTL)

	r.duration("PENDING_TTL", &cfg.Registration.PendingTTL)
	r.integer("RATE_LIMIT", &cfg.Registration.RateLimit)
	r.duration("RATE_WINDOW", &cfg.Registration.RateWindow)

	r.duration("SESSION_TTL", &cfg.Session.TTL)
	r.str("REFRESH_MODE", &cfg.Session.RefreshMode)
	r.boolean("ROTATE_REFRESH", &cfg.Session.Rotate)

	r.str("COOKIE_NAME", &cfg.Cookie.Name)
	r.str("COOKIE_PATH", &cfg.Cookie.Path)
	r.str("COOKIE_DOMAIN", &cfg.Cookie.Domain)
	r.boolean("COOKIE_SECURE", &cfg.Cookie.Secure)
	r.str("COOKIE_SAMESITE", &cfg.Cookie.SameSite)

	r.str("SMTP_ADDR", &cfg.Mail.SMTPAddr)
	r.str("SMTP_USER", &cfg.Mail.Username)
	r.str("SMTP_PASSWORD", &cfg.Mail.Password)
	r.str("MAIL_FROM", &cfg.Mail.From)
	r.str("VERIFY_URL", &cfg.Mail.VerifyURL)

	r.integer("HTTP_RATE_BURST", &cfg.HTTPRate.Burst)
	r.integer("HTTP_RATE_PER_SEC", &cfg.HTTPRate.PerSecond)
	r.list("CORS_ORIGINS", &cfg.CORSOrigins)

	if len(r.errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(r.errs...))
	}
	return nil
}
