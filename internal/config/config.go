package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Postgres PostgresConfig `yaml:"postgres"`
	Coupon   CouponConfig   `yaml:"coupon"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Checkout CheckoutConfig `yaml:"checkout"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	Port     string `yaml:"port"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

// DSN is the key/value connection string understood by both pgx and lib/pq.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// CouponConfig points at the coupon-management database. An empty DSN means
// the coupons table lives in the checkout database.
type CouponConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig is optional; without Addr the resume cache is disabled.
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	ResumeTTL time.Duration `yaml:"resume_ttl"`
}

// KafkaConfig is optional; without Brokers events stay in process.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Buffer  int      `yaml:"buffer"`
}

type CheckoutConfig struct {
	RequireNiche   bool          `yaml:"require_niche"`
	RequireService bool          `yaml:"require_service"`
	Placeholders   []string      `yaml:"placeholders"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
	GateIdleTTL    time.Duration `yaml:"gate_idle_ttl"`
}

func defaults() *Config {
	cfg := &Config{}
	cfg.App.Name = "checkout-service"
	cfg.App.Port = "8080"
	cfg.App.Env = "development"
	cfg.App.LogLevel = "debug"
	cfg.Postgres.Port = "5432"
	cfg.Postgres.SSLMode = "disable"
	cfg.Postgres.MaxConns = 10
	cfg.Postgres.MinConns = 2
	cfg.Postgres.MaxConnLifetime = 30 * time.Minute
	cfg.Postgres.MigrationsPath = "migrations"
	cfg.Redis.ResumeTTL = 2 * time.Minute
	cfg.Kafka.Topic = "checkout-events"
	cfg.Kafka.Buffer = 256
	cfg.Checkout.RequireNiche = true
	cfg.Checkout.RequireService = true
	cfg.Checkout.RefreshTimeout = 10 * time.Second
	cfg.Checkout.GateIdleTTL = 15 * time.Minute
	return cfg
}

// NewConfig loads .env (if present), then the YAML file named by CONFIG_FILE
// (if set), then environment variables. Later sources win.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	envString("APP_NAME", &cfg.App.Name)
	envString("APP_PORT", &cfg.App.Port)
	envString("APP_ENV", &cfg.App.Env)
	envString("LOG_LEVEL", &cfg.App.LogLevel)

	envString("DB_HOST", &cfg.Postgres.Host)
	envString("DB_PORT", &cfg.Postgres.Port)
	envString("DB_USER", &cfg.Postgres.User)
	envString("DB_PASSWORD", &cfg.Postgres.Password)
	envString("DB_NAME", &cfg.Postgres.DBName)
	envString("DB_SSLMODE", &cfg.Postgres.SSLMode)
	envString("DB_MIGRATIONS_PATH", &cfg.Postgres.MigrationsPath)

	envString("COUPON_DB_DSN", &cfg.Coupon.DSN)

	envString("REDIS_ADDR", &cfg.Redis.Addr)
	envString("REDIS_PASSWORD", &cfg.Redis.Password)

	envString("KAFKA_TOPIC", &cfg.Kafka.Topic)
	envList("KAFKA_BROKERS", &cfg.Kafka.Brokers)
	envList("CHECKOUT_PLACEHOLDERS", &cfg.Checkout.Placeholders)

	var maxConns, minConns int
	steps := []error{
		envInt("DB_MAX_CONNS", &maxConns, func() { cfg.Postgres.MaxConns = int32(maxConns) }),
		envInt("DB_MIN_CONNS", &minConns, func() { cfg.Postgres.MinConns = int32(minConns) }),
		envDuration("DB_MAX_CONN_LIFETIME", &cfg.Postgres.MaxConnLifetime),
		envInt("REDIS_DB", &cfg.Redis.DB, nil),
		envDuration("REDIS_RESUME_TTL", &cfg.Redis.ResumeTTL),
		envInt("KAFKA_BUFFER", &cfg.Kafka.Buffer, nil),
		envBool("CHECKOUT_REQUIRE_NICHE", &cfg.Checkout.RequireNiche),
		envBool("CHECKOUT_REQUIRE_SERVICE", &cfg.Checkout.RequireService),
		envDuration("CHECKOUT_REFRESH_TIMEOUT", &cfg.Checkout.RefreshTimeout),
		envDuration("CHECKOUT_GATE_IDLE_TTL", &cfg.Checkout.GateIdleTTL),
	}
	return errors.Join(steps...)
}

func (c *Config) validate() error {
	var missing []string
	if c.Postgres.Host == "" {
		missing = append(missing, "DB_HOST")
	}
	if c.Postgres.User == "" {
		missing = append(missing, "DB_USER")
	}
	if c.Postgres.DBName == "" {
		missing = append(missing, "DB_NAME")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	if c.Postgres.MinConns > c.Postgres.MaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.Postgres.MinConns, c.Postgres.MaxConns)
	}
	return nil
}

// CouponDSN falls back to the checkout database.
func (c *Config) CouponDSN() string {
	if c.Coupon.DSN != "" {
		return c.Coupon.DSN
	}
	return c.Postgres.DSN()
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func envList(key string, dst *[]string) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	out := make([]string, 0)
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func envInt(key string, dst *int, then func()) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	if then != nil {
		then()
	}
	return nil
}

func envBool(key string, dst *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
