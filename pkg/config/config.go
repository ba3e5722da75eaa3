package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Rate limiter backends.
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

type Config struct {
	Env            string
	Port           int
	APIPrefix      string
	TrustedProxies []string
	AutoMigrate    bool

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Session   SessionConfig
	Signup    SignupConfig
	Admin     AdminConfig
	RateLimit RateLimitConfig
	Password  PasswordConfig
	CORS      CORSConfig
	Log       LogConfig
	Discovery DiscoveryConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	QueryTimeout time.Duration
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// URL renders the postgres:// form expected by golang-migrate.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig configures access token signing and the published key set.
type JWTConfig struct {
	Issuer         string
	Audience       string
	PrivateKey     string
	KeyFile        string
	KeyID          string
	AccessTTL      time.Duration
	Leeway         time.Duration
	JWKSMaxAge     time.Duration
	JWKSRevalidate time.Duration
}

// SessionConfig configures refresh sessions and the refresh cookie.
type SessionConfig struct {
	RefreshTTL     time.Duration
	CookieName     string
	CookieDomain   string
	CookieSameSite string
	SweepInterval  time.Duration
	Retention      time.Duration
}

// SignupConfig gates self-service registration.
type SignupConfig struct {
	Enabled bool
	Secret  string
}

// AdminConfig lists the accounts allowed on admin surfaces.
type AdminConfig struct {
	Emails []string
}

// RateRule is a parsed "<limit>/<window>" pair.
type RateRule struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig holds per-route throttling rules.
type RateLimitConfig struct {
	Backend string
	MaxKeys int
	Routes  map[string]RateRule
}

// PasswordConfig tunes the argon2id cost parameters.
type PasswordConfig struct {
	MemoryKB    uint32
	Time        uint32
	Parallelism uint8
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// DiscoveryConfig controls the well-known discovery document.
type DiscoveryConfig struct {
	CacheTTL time.Duration
}

// Route names used for rate limit rules.
const (
	RouteSignup  = "signup"
	RouteLogin   = "login"
	RouteRefresh = "refresh"
	RouteLogout  = "logout"
)

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.TrustedProxies = splitAndTrim(v.GetString("TRUSTED_PROXIES"))
	cfg.AutoMigrate = v.GetBool("AUTO_MIGRATE")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		QueryTimeout: parseDuration(v.GetString("DB_QUERY_TIMEOUT"), 3*time.Second),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Issuer:         v.GetString("AUTH_ISSUER"),
		Audience:       v.GetString("AUTH_AUDIENCE"),
		PrivateKey:     v.GetString("JWT_PRIVATE_KEY"),
		KeyFile:        v.GetString("JWT_KEY_FILE"),
		KeyID:          v.GetString("JWT_KEY_ID"),
		AccessTTL:      parseDuration(v.GetString("JWT_ACCESS_TTL"), 15*time.Minute),
		Leeway:         parseDuration(v.GetString("JWT_LEEWAY"), 30*time.Second),
		JWKSMaxAge:     parseDuration(v.GetString("JWKS_MAX_AGE"), time.Hour),
		JWKSRevalidate: parseDuration(v.GetString("JWKS_REVALIDATE"), time.Minute),
	}

	cfg.Session = SessionConfig{
		RefreshTTL:     parseDuration(v.GetString("REFRESH_TOKEN_TTL"), 30*24*time.Hour),
		CookieName:     v.GetString("REFRESH_COOKIE_NAME"),
		CookieDomain:   v.GetString("REFRESH_COOKIE_DOMAIN"),
		CookieSameSite: strings.ToLower(v.GetString("REFRESH_COOKIE_SAMESITE")),
		SweepInterval:  parseDuration(v.GetString("SESSION_SWEEP_INTERVAL"), 0),
		Retention:      parseDuration(v.GetString("SESSION_RETENTION"), 7*24*time.Hour),
	}

	cfg.Signup = SignupConfig{
		Enabled: v.GetBool("SIGNUP_ENABLED"),
		Secret:  v.GetString("SIGNUP_SECRET"),
	}

	cfg.Admin = AdminConfig{Emails: lowerAll(splitAndTrim(v.GetString("ADMIN_EMAILS")))}

	routes := make(map[string]RateRule, 4)
	for _, route := range []string{RouteSignup, RouteLogin, RouteRefresh, RouteLogout} {
		key := "RATE_LIMIT_" + strings.ToUpper(route)
		rule, err := ParseRateRule(v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if rule.Limit > 0 {
			routes[route] = rule
		}
	}
	cfg.RateLimit = RateLimitConfig{
		Backend: strings.ToLower(v.GetString("RATE_LIMIT_BACKEND")),
		MaxKeys: v.GetInt("RATE_LIMIT_MAX_KEYS"),
		Routes:  routes,
	}

	cfg.Password = PasswordConfig{
		MemoryKB:    uint32(v.GetUint("ARGON2_MEMORY_KB")),
		Time:        uint32(v.GetUint("ARGON2_TIME")),
		Parallelism: uint8(v.GetUint("ARGON2_PARALLELISM")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Discovery = DiscoveryConfig{
		CacheTTL: parseDuration(v.GetString("DISCOVERY_CACHE_TTL"), 5*time.Minute),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWT.Issuer == "" || c.JWT.Audience == "" {
		return errors.New("AUTH_ISSUER and AUTH_AUDIENCE are required")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT_ACCESS_TTL must be positive")
	}
	if c.Session.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("REFRESH_TOKEN_TTL must exceed JWT_ACCESS_TTL")
	}
	switch c.Session.CookieSameSite {
	case "lax", "none", "strict":
	default:
		return fmt.Errorf("unsupported REFRESH_COOKIE_SAMESITE %q", c.Session.CookieSameSite)
	}
	switch c.RateLimit.Backend {
	case RateLimitBackendMemory, RateLimitBackendRedis:
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_BACKEND %q", c.RateLimit.Backend)
	}
	return nil
}

// CookieSecure reports whether the refresh cookie must carry the Secure flag.
func (c *Config) CookieSecure() bool {
	return c.Env != EnvDevelopment || c.Session.CookieSameSite == "none"
}

// IsAdmin reports whether the email belongs to the admin allowlist.
func (c *Config) IsAdmin(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, candidate := range c.Admin.Emails {
		if candidate == email {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("AUTO_MIGRATE", false)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "authd")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_QUERY_TIMEOUT", "3s")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("AUTH_ISSUER", "http://localhost:8080")
	v.SetDefault("AUTH_AUDIENCE", "authd")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_KEY_FILE", "./authd_signing.pem")
	v.SetDefault("JWT_KEY_ID", "")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_LEEWAY", "30s")
	v.SetDefault("JWKS_MAX_AGE", "1h")
	v.SetDefault("JWKS_REVALIDATE", "1m")

	v.SetDefault("REFRESH_TOKEN_TTL", "720h")
	v.SetDefault("REFRESH_COOKIE_NAME", "authd_refresh")
	v.SetDefault("REFRESH_COOKIE_DOMAIN", "")
	v.SetDefault("REFRESH_COOKIE_SAMESITE", "lax")
	v.SetDefault("SESSION_SWEEP_INTERVAL", "0")
	v.SetDefault("SESSION_RETENTION", "168h")

	v.SetDefault("SIGNUP_ENABLED", true)
	v.SetDefault("SIGNUP_SECRET", "")
	v.SetDefault("ADMIN_EMAILS", "")

	v.SetDefault("RATE_LIMIT_BACKEND", RateLimitBackendMemory)
	v.SetDefault("RATE_LIMIT_MAX_KEYS", 10000)
	v.SetDefault("RATE_LIMIT_SIGNUP", "5/1m")
	v.SetDefault("RATE_LIMIT_LOGIN", "10/1m")
	v.SetDefault("RATE_LIMIT_REFRESH", "30/1m")
	v.SetDefault("RATE_LIMIT_LOGOUT", "30/1m")

	v.SetDefault("ARGON2_MEMORY_KB", 64*1024)
	v.SetDefault("ARGON2_TIME", 3)
	v.SetDefault("ARGON2_PARALLELISM", 2)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("DISCOVERY_CACHE_TTL", "5m")
}

// ParseRateRule parses "<limit>/<window>" such as "10/1m". An empty string or
// "off" disables the rule. Windows must be at least 1ms.
func ParseRateRule(raw string) (RateRule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "off") {
		return RateRule{}, nil
	}
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) != 2 {
		return RateRule{}, fmt.Errorf("invalid rate rule %q", raw)
	}
	limit, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || limit <= 0 {
		return RateRule{}, fmt.Errorf("invalid rate limit in %q", raw)
	}
	window, err := time.ParseDuration(strings.TrimSpace(parts[1]))
	if err != nil || window <= 0 {
		return RateRule{}, fmt.Errorf("invalid rate window in %q", raw)
	}
	if window < time.Millisecond {
		return RateRule{}, fmt.Errorf("rate window in %q is shorter than 1ms", raw)
	}
	return RateRule{Limit: limit, Window: window}, nil
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if raw == "0" {
		return 0
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

func lowerAll(values []string) []string {
	for i := range values {
		values[i] = strings.ToLower(values[i])
	}
	return values
}
