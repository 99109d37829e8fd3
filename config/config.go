package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	federation "github.com/goliatone/go-auth-federation"
	"github.com/goliatone/go-auth-federation/llavemx"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FEDERATION_"

type ProviderConfig struct {
	ClientID          string        `yaml:"client_id"`
	ClientSecret      string        `yaml:"client_secret"`
	RedirectURL       string        `yaml:"redirect_url"`
	SystemID          string        `yaml:"system_id"`
	Scopes            []string      `yaml:"scopes"`
	Profile           string        `yaml:"profile"` // web | apps
	ExpiryUnit        string        `yaml:"expiry_unit"`
	AccessTokenHeader string        `yaml:"access_token_header"`
	AuthURL           string        `yaml:"auth_url"`
	TokenURL          string        `yaml:"token_url"`
	UserURL           string        `yaml:"user_url"`
	RolesURL          string        `yaml:"roles_url"`
	LogoutURL         string        `yaml:"logout_url"`
	ServiceUsername   string        `yaml:"service_username"`
	ServicePassword   string        `yaml:"service_password"`
	Timeout           time.Duration `yaml:"timeout"`
	PlaceholderDomain string        `yaml:"placeholder_domain"`
	PhoneRegion       string        `yaml:"phone_region"`
	FetchRoles        bool          `yaml:"fetch_roles"`
}

type ResolverSettings struct {
	DuplicatePolicy    string   `yaml:"duplicate_policy"`
	GenericNationalIDs []string `yaml:"generic_national_ids"`
}

type SessionConfig struct {
	Store       string        `yaml:"store"` // memory | redis
	TTL         time.Duration `yaml:"ttl"`
	RedisAddr   string        `yaml:"redis_addr"`
	RedisDB     int           `yaml:"redis_db"`
	RedisPrefix string        `yaml:"redis_prefix"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres | sqlite
	DSN    string `yaml:"dsn"`
}

type ServerConfig struct {
	Addr               string `yaml:"addr"`
	PathPrefix         string `yaml:"path_prefix"`
	MetricsPath        string `yaml:"metrics_path"`
	ErrorRedirect      string `yaml:"error_redirect"`
	CookieSecure       bool   `yaml:"cookie_secure"`
	CookieSameSite     string `yaml:"cookie_samesite"`
	StoreProviderToken bool   `yaml:"store_provider_token"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type TicketConfig struct {
	SigningKey string        `yaml:"signing_key"`
	Issuer     string        `yaml:"issuer"`
	TTL        time.Duration `yaml:"ttl"`
}

// Config is the service configuration.
type Config struct {
	Provider ProviderConfig   `yaml:"provider"`
	Resolver ResolverSettings `yaml:"resolver"`
	Session  SessionConfig    `yaml:"session"`
	Database DatabaseConfig   `yaml:"database"`
	Server   ServerConfig     `yaml:"server"`
	Logging  LoggingConfig    `yaml:"logging"`
	Tickets  TicketConfig     `yaml:"tickets"`
}

// LoadConfig reads an optional .env file, the YAML file at path (skipped
// when path is empty), applies FEDERATION_* overrides and validates.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	c.applyEnvOverrides()
	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Provider.Profile == "" {
		c.Provider.Profile = "web"
	}
	if c.Provider.ExpiryUnit == "" {
		c.Provider.ExpiryUnit = string(llavemx.ExpiryAuto)
	}
	if c.Provider.Timeout == 0 {
		c.Provider.Timeout = llavemx.DefaultTimeout
	}
	if c.Provider.PlaceholderDomain == "" {
		c.Provider.PlaceholderDomain = llavemx.DefaultPlaceholderDomain
	}
	if c.Provider.PhoneRegion == "" {
		c.Provider.PhoneRegion = llavemx.DefaultPhoneRegion
	}
	if c.Resolver.DuplicatePolicy == "" {
		c.Resolver.DuplicatePolicy = string(federation.PolicyBlockOnDuplicate)
	}
	if c.Session.Store == "" {
		c.Session.Store = "memory"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = federation.DefaultSessionTTL
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "file:federation.db?cache=shared"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = "/metrics"
	}
	if c.Server.CookieSameSite == "" {
		c.Server.CookieSameSite = "Lax"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Tickets.TTL == 0 {
		c.Tickets.TTL = federation.DefaultSignupTicketTTL
	}
	if c.Tickets.Issuer == "" {
		c.Tickets.Issuer = "go-auth-federation"
	}
}

// Validate checks required settings and enumerations.
func (c *Config) Validate() error {
	p := c.Provider
	if err := validation.ValidateStruct(&p,
		validation.Field(&p.ClientID, validation.Required),
		validation.Field(&p.RedirectURL, validation.Required),
		validation.Field(&p.Profile, validation.In("web", "apps", "app")),
		validation.Field(&p.ExpiryUnit, validation.In(
			string(llavemx.ExpirySeconds),
			string(llavemx.ExpiryMilliseconds),
			string(llavemx.ExpiryAuto),
		)),
		validation.Field(&p.PlaceholderDomain, validation.By(invalidTLD)),
	); err != nil {
		return fmt.Errorf("config: provider: %w", err)
	}

	if p.Profile == "web" && p.ClientSecret == "" {
		return errors.New("config: provider: client_secret is required for the web profile")
	}
	if profile, err := llavemx.ProfileByName(p.Profile); err == nil && profile.ServiceCredentials {
		if p.ServiceUsername == "" || p.ServicePassword == "" {
			return fmt.Errorf("config: provider: service_username and service_password are required for the %s profile", profile.Name)
		}
	}

	r := c.Resolver
	if err := validation.ValidateStruct(&r,
		validation.Field(&r.DuplicatePolicy, validation.In(
			string(federation.PolicyBlockOnDuplicate),
			string(federation.PolicyNoMatchOnDuplicate),
			string(federation.PolicyBindMostRecentWithWarning),
		)),
	); err != nil {
		return fmt.Errorf("config: resolver: %w", err)
	}

	s := c.Session
	if err := validation.ValidateStruct(&s,
		validation.Field(&s.Store, validation.In("memory", "redis")),
	); err != nil {
		return fmt.Errorf("config: session: %w", err)
	}
	if s.Store == "redis" && s.RedisAddr == "" {
		return errors.New("config: session: redis_addr is required for the redis store")
	}

	d := c.Database
	if err := validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required, validation.In("postgres", "pg", "sqlite", "sqlite3")),
		validation.Field(&d.DSN, validation.Required),
	); err != nil {
		return fmt.Errorf("config: database: %w", err)
	}

	srv := c.Server
	if err := validation.ValidateStruct(&srv,
		validation.Field(&srv.Addr, validation.Required),
		validation.Field(&srv.CookieSameSite, validation.In("Lax", "Strict", "None")),
	); err != nil {
		return fmt.Errorf("config: server: %w", err)
	}

	return nil
}

// ClientConfig builds the Llave MX client configuration.
func (c *Config) ClientConfig() (llavemx.Config, error) {
	profile, err := llavemx.ProfileByName(c.Provider.Profile)
	if err != nil {
		return llavemx.Config{}, err
	}
	return llavemx.Config{
		ClientID:          c.Provider.ClientID,
		ClientSecret:      c.Provider.ClientSecret,
		RedirectURL:       c.Provider.RedirectURL,
		SystemID:          c.Provider.SystemID,
		Scopes:            c.Provider.Scopes,
		AuthURL:           c.Provider.AuthURL,
		TokenURL:          c.Provider.TokenURL,
		UserURL:           c.Provider.UserURL,
		RolesURL:          c.Provider.RolesURL,
		LogoutURL:         c.Provider.LogoutURL,
		Profile:           profile,
		ExpiryUnit:        llavemx.ExpiryUnit(c.Provider.ExpiryUnit),
		AccessTokenHeader: c.Provider.AccessTokenHeader,
		ServiceCredentials: federation.ServiceCredentials{
			Username: c.Provider.ServiceUsername,
			Password: c.Provider.ServicePassword,
		},
		Timeout: c.Provider.Timeout,
	}, nil
}

// MapperConfig builds the claims mapper configuration.
func (c *Config) MapperConfig() llavemx.MapperConfig {
	return llavemx.MapperConfig{
		PlaceholderDomain: c.Provider.PlaceholderDomain,
		PhoneRegion:       c.Provider.PhoneRegion,
	}
}

// ResolverConfig builds the resolver configuration with the default steps.
func (c *Config) ResolverConfig() federation.ResolverConfig {
	return federation.ResolverConfig{
		DuplicatePolicy:    federation.DuplicatePolicy(c.Resolver.DuplicatePolicy),
		GenericNationalIDs: c.Resolver.GenericNationalIDs,
	}
}

func invalidTLD(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if !strings.HasSuffix(strings.ToLower(s), ".invalid") {
		return errors.New("must end in .invalid")
	}
	return nil
}

func getEnvStr(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
	}
	return 0, false
}

func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(s); err == nil {
			return b, true
		}
	}
	return false, false
}

func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(s); err == nil {
			return d, true
		}
	}
	return 0, false
}

func getEnvCSV(key string) ([]string, bool) {
	s, ok := getEnvStr(key)
	if !ok {
		return nil, false
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, len(out) > 0
}

func (c *Config) applyEnvOverrides() {
	strs := map[string]*string{
		"CLIENT_ID":           &c.Provider.ClientID,
		"CLIENT_SECRET":       &c.Provider.ClientSecret,
		"REDIRECT_URL":        &c.Provider.RedirectURL,
		"SYSTEM_ID":           &c.Provider.SystemID,
		"PROFILE":             &c.Provider.Profile,
		"EXPIRY_UNIT":         &c.Provider.ExpiryUnit,
		"ACCESS_TOKEN_HEADER": &c.Provider.AccessTokenHeader,
		"AUTH_URL":            &c.Provider.AuthURL,
		"TOKEN_URL":           &c.Provider.TokenURL,
		"USER_URL":            &c.Provider.UserURL,
		"ROLES_URL":           &c.Provider.RolesURL,
		"LOGOUT_URL":          &c.Provider.LogoutURL,
		"SERVICE_USERNAME":    &c.Provider.ServiceUsername,
		"SERVICE_PASSWORD":    &c.Provider.ServicePassword,
		"PLACEHOLDER_DOMAIN":  &c.Provider.PlaceholderDomain,
		"PHONE_REGION":        &c.Provider.PhoneRegion,
		"DUPLICATE_POLICY":    &c.Resolver.DuplicatePolicy,
		"SESSION_STORE":       &c.Session.Store,
		"REDIS_ADDR":          &c.Session.RedisAddr,
		"REDIS_PREFIX":        &c.Session.RedisPrefix,
		"DB_DRIVER":           &c.Database.Driver,
		"DB_DSN":              &c.Database.DSN,
		"SERVER_ADDR":         &c.Server.Addr,
		"PATH_PREFIX":         &c.Server.PathPrefix,
		"METRICS_PATH":        &c.Server.MetricsPath,
		"ERROR_REDIRECT":      &c.Server.ErrorRedirect,
		"COOKIE_SAMESITE":     &c.Server.CookieSameSite,
		"LOG_LEVEL":           &c.Logging.Level,
		"TICKET_SIGNING_KEY":  &c.Tickets.SigningKey,
		"TICKET_ISSUER":       &c.Tickets.Issuer,
	}
	for key, dst := range strs {
		if v, ok := getEnvStr(key); ok {
			*dst = v
		}
	}

	if v, ok := getEnvCSV("SCOPES"); ok {
		c.Provider.Scopes = v
	}
	if v, ok := getEnvCSV("GENERIC_NATIONAL_IDS"); ok {
		c.Resolver.GenericNationalIDs = v
	}
	if v, ok := getEnvDur("PROVIDER_TIMEOUT"); ok {
		c.Provider.Timeout = v
	}
	if v, ok := getEnvDur("SESSION_TTL"); ok {
		c.Session.TTL = v
	}
	if v, ok := getEnvDur("TICKET_TTL"); ok {
		c.Tickets.TTL = v
	}
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Session.RedisDB = v
	}
	if v, ok := getEnvBool("FETCH_ROLES"); ok {
		c.Provider.FetchRoles = v
	}
	if v, ok := getEnvBool("COOKIE_SECURE"); ok {
		c.Server.CookieSecure = v
	}
	if v, ok := getEnvBool("STORE_PROVIDER_TOKEN"); ok {
		c.Server.StoreProviderToken = v
	}
	if v, ok := getEnvBool("LOG_DEVELOPMENT"); ok {
		c.Logging.Development = v
	}
}
