// config предоставляет структуру конфигурации сервиса и функции
// загрузки из файла/переменных окружения с предсказуемым приоритетом.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

var (
	// ErrEmptySecret — один из секретов подписи токенов не задан.
	ErrEmptySecret = errors.New("token secret is empty")
	// ErrSharedSecret — два назначения токенов используют один и тот же секрет.
	ErrSharedSecret = errors.New("token secrets must differ per purpose")
	// ErrInvalidValue — значение параметра вне допустимого диапазона.
	ErrInvalidValue = errors.New("invalid config value")
)

// Окружения запуска.
const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Config — корневая конфигурация сервиса.
// Источники значений (по убыванию приоритета):
//  1. явный путь через флаг --config;
//  2. путь в переменной окружения CONFIG_PATH;
//  3. файл local.yaml из рабочей директории;
//  4. переменные окружения (cleanenv).
type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Auth      AuthConfig      `yaml:"auth"`
	Hasher    HasherConfig    `yaml:"hasher"`
	DB        DBConfig        `yaml:"db"`
	Redis     RedisConfig     `yaml:"redis"`
	Mail      MailConfig      `yaml:"mail"`
	Client    ClientConfig    `yaml:"client"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Janitor   JanitorConfig   `yaml:"janitor"`
	Timeouts  TimeoutConfig   `yaml:"timeouts"`
}

// Seconds — длительность, заданная целым числом секунд (ACCESS_TOKEN_EXPIRY=600).
type Seconds int64

// Duration переводит значение в time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s) * time.Second
}

// SetValue реализует cleanenv.Setter: принимает как "600", так и "10m".
func (s *Seconds) SetValue(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		*s = 0
		return nil
	}

	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		*s = Seconds(n)
		return nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse seconds %q: %w", v, err)
	}

	*s = Seconds(d / time.Second)
	return nil
}

// UnmarshalText позволяет задавать Seconds в YAML как число или как "15m".
func (s *Seconds) UnmarshalText(b []byte) error {
	return s.SetValue(string(b))
}

// TimeoutConfig — таймауты сервиса.
type TimeoutConfig struct {
	Service  time.Duration `yaml:"service" env:"SERVICE_TIMEOUT" env-default:"5s"`
	Shutdown time.Duration `yaml:"shutdown" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// HTTPConfig — сетевые настройки HTTP-сервера.
type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

// GRPCConfig описывает сетевые настройки gRPC-сервера (health-check).
type GRPCConfig struct {
	Host string `yaml:"host" env:"GRPC_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"GRPC_PORT" env-default:"50051"`
}

// Addr возвращает адрес в формате host:port.
func (g HTTPConfig) Addr() string {
	return net.JoinHostPort(g.Host, g.Port)
}

// Addr возвращает адрес в формате host:port.
func (g GRPCConfig) Addr() string {
	return net.JoinHostPort(g.Host, g.Port)
}

// AuthConfig содержит секреты и сроки жизни токенов по назначениям.
// Сроки задаются целыми секундами.
type AuthConfig struct {
	AccessTokenSecret          string  `yaml:"access_token_secret" env:"ACCESS_TOKEN_SECRET" env-required:"true"`
	AccessTokenExpiry          Seconds `yaml:"access_token_expiry" env:"ACCESS_TOKEN_EXPIRY" env-default:"600"`
	RefreshTokenSecret         string  `yaml:"refresh_token_secret" env:"REFRESH_TOKEN_SECRET" env-required:"true"`
	RefreshTokenExpiry         Seconds `yaml:"refresh_token_expiry" env:"REFRESH_TOKEN_EXPIRY" env-default:"43200"`
	RefreshTokenRememberExpiry Seconds `yaml:"refresh_token_remember_expiry" env:"REFRESH_TOKEN_REMEMBER_EXPIRY" env-default:"864000"`
	ResetPasswordTokenSecret   string  `yaml:"reset_password_token_secret" env:"RESET_PASSWORD_TOKEN_SECRET" env-required:"true"`
	ResetPasswordTokenExpiry   Seconds `yaml:"reset_password_token_expiry" env:"RESET_PASSWORD_TOKEN_EXPIRY" env-default:"900"`
	Issuer                     string  `yaml:"issuer" env:"TOKEN_ISSUER" env-default:"auth-service"`
}

// Validate проверяет, что у каждого назначения свой непустой секрет
// и что сроки жизни положительны.
func (a AuthConfig) Validate() error {
	const op = "config.AuthConfig.Validate"

	secrets := map[string]string{
		"access":  a.AccessTokenSecret,
		"refresh": a.RefreshTokenSecret,
		"reset":   a.ResetPasswordTokenSecret,
	}

	seen := make(map[string]string, len(secrets))
	for _, purpose := range []string{"access", "refresh", "reset"} {
		secret := secrets[purpose]
		if secret == "" {
			return fmt.Errorf("%s: %s: %w", op, purpose, ErrEmptySecret)
		}

		if other, ok := seen[secret]; ok {
			return fmt.Errorf("%s: %s/%s: %w", op, other, purpose, ErrSharedSecret)
		}
		seen[secret] = purpose
	}

	for name, ttl := range map[string]Seconds{
		"access_token_expiry":           a.AccessTokenExpiry,
		"refresh_token_expiry":          a.RefreshTokenExpiry,
		"refresh_token_remember_expiry": a.RefreshTokenRememberExpiry,
		"reset_password_token_expiry":   a.ResetPasswordTokenExpiry,
	} {
		if ttl <= 0 {
			return fmt.Errorf("%s: %s must be positive: %w", op, name, ErrInvalidValue)
		}
	}

	return nil
}

// HasherConfig — параметры argon2id и ограничение параллельных хэширований.
type HasherConfig struct {
	Memory      uint32 `yaml:"memory_kib" env:"HASHER_MEMORY_KIB" env-default:"65536"`
	Iterations  uint32 `yaml:"iterations" env:"HASHER_ITERATIONS" env-default:"1"`
	Parallelism uint8  `yaml:"parallelism" env:"HASHER_PARALLELISM" env-default:"4"`
	SaltLength  uint32 `yaml:"salt_length" env:"HASHER_SALT_LENGTH" env-default:"16"`
	KeyLength   uint32 `yaml:"key_length" env:"HASHER_KEY_LENGTH" env-default:"32"`
	// MaxConcurrent <= 0 означает runtime.NumCPU().
	MaxConcurrent int `yaml:"max_concurrent" env:"HASHER_MAX_CONCURRENT" env-default:"0"`
}

// Драйверы хранилища.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// DBConfig — настройки подключения к базе данных.
type DBConfig struct {
	Driver      string `yaml:"driver" env:"DB_DRIVER" env-default:"postgres"`
	DatabaseURL string `yaml:"db_url" env:"DATABASE_URL"`
	// Migrate включает goose-миграции при старте (только postgres).
	Migrate bool `yaml:"migrate" env:"DB_MIGRATE" env-default:"true"`
}

// RedisConfig — кэш refresh-токенов. Пустой URL отключает кэш.
type RedisConfig struct {
	RedisURL string `yaml:"redis_url" env:"REDIS_URL"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX" env-default:"auth:rt:"`
}

// Драйверы почты.
const (
	MailDriverSES = "ses"
	MailDriverLog = "log"
)

// MailConfig — отправка писем.
type MailConfig struct {
	Driver          string `yaml:"driver" env:"MAIL_DRIVER" env-default:"log"`
	From            string `yaml:"from" env:"MAIL_FROM" env-default:"no-reply@example.com"`
	FromName        string `yaml:"from_name" env:"MAIL_FROM_NAME" env-default:"Auth Service"`
	ReplyTo         string `yaml:"reply_to" env:"MAIL_REPLY_TO"`
	Region          string `yaml:"region" env:"AWS_REGION" env-default:"ap-south-1"`
	AccessKeyID     string `yaml:"access_key_id" env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	TimeZone        string `yaml:"time_zone" env:"MAIL_TIME_ZONE" env-default:"Asia/Kolkata"`

	// Retries — повторы отправки после первой неудачи, пауза растёт от RetryBase.
	Retries   uint64        `yaml:"retries" env:"MAIL_RETRIES" env-default:"2"`
	RetryBase time.Duration `yaml:"retry_base" env:"MAIL_RETRY_BASE" env-default:"200ms"`
}

// ClientConfig — адрес фронтенда, от него зависят ссылки в письмах и флаги cookie.
type ClientConfig struct {
	URL string `yaml:"url" env:"CLIENT_URL" env-default:"http://localhost:3000"`
}

// RateLimitConfig — ограничения частоты запросов по IP.
type RateLimitConfig struct {
	GeneralRPS   float64 `yaml:"general_rps" env:"RATE_LIMIT_GENERAL_RPS" env-default:"10"`
	GeneralBurst int     `yaml:"general_burst" env:"RATE_LIMIT_GENERAL_BURST" env-default:"100"`
	LoginRPS     float64 `yaml:"login_rps" env:"RATE_LIMIT_LOGIN_RPS" env-default:"0.2"`
	LoginBurst   int     `yaml:"login_burst" env:"RATE_LIMIT_LOGIN_BURST" env-default:"10"`
	// IdleTTL — через сколько неактивный IP забывается лимитером.
	IdleTTL time.Duration `yaml:"idle_ttl" env:"RATE_LIMIT_IDLE_TTL" env-default:"10m"`
}

// JanitorConfig — фоновая чистка просроченных записей реестров.
type JanitorConfig struct {
	Period time.Duration `yaml:"period" env:"JANITOR_PERIOD" env-default:"30m"`
	// Retention — сколько хранить просроченные refresh-записи для аудита; 0 — удалять сразу.
	Retention time.Duration `yaml:"retention" env:"JANITOR_RETENTION" env-default:"720h"`
}

// Validate проверяет согласованность конфигурации целиком.
func (c *Config) Validate() error {
	const op = "config.Config.Validate"

	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch c.DB.Driver {
	case DriverPostgres, DriverMongo:
		if c.DB.DatabaseURL == "" {
			return fmt.Errorf("%s: db_url is required for driver %q: %w", op, c.DB.Driver, ErrInvalidValue)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("%s: unknown db driver %q: %w", op, c.DB.Driver, ErrInvalidValue)
	}

	switch c.Mail.Driver {
	case MailDriverSES, MailDriverLog:
	default:
		return fmt.Errorf("%s: unknown mail driver %q: %w", op, c.Mail.Driver, ErrInvalidValue)
	}

	if _, err := time.LoadLocation(c.Mail.TimeZone); err != nil {
		return fmt.Errorf("%s: time zone %q: %w", op, c.Mail.TimeZone, ErrInvalidValue)
	}

	return nil
}

// MustLoad — обёртка над Load с panic при ошибке.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load загружает конфигурацию по приоритету:
// 1) явный путь; 2) CONFIG_PATH; 3) ./local.yaml; 4) ENV.
// После чтения файла ENV-переменные накладываются поверх значений из YAML,
// затем вызывается Validate.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func read(path string) (*Config, error) {
	var cfg Config

	// чтение файла + overlay ENV.
	tryRead := func(p string) (*Config, error) {
		if p == "" {
			return nil, fmt.Errorf("empty config path")
		}

		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}

		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to overlay env: %w", err)
		}

		return &cfg, nil
	}

	// 1) Явный путь.
	if path != "" {
		return tryRead(path)
	}

	// 2) CONFIG_PATH.
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return tryRead(envPath)
	}

	// 3) ./local.yaml.
	if _, err := os.Stat("local.yaml"); err == nil {
		return tryRead("local.yaml")
	}

	// 4) Только ENV.
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return &cfg, nil
}
