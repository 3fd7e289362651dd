package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Auth     AuthConfig     `yaml:"auth"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Address    string `yaml:"address" validate:"required"`
	SwaggerDir string `yaml:"swagger_dir"`
}

type GRPCConfig struct {
	Address string `yaml:"address" validate:"required"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver" validate:"oneof=postgres sqlite memory"`
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	// Path is the sqlite database file.
	Path     string `yaml:"path" validate:"required_if=Driver sqlite"`
	MaxConns int32  `yaml:"max_conns" validate:"gte=0"`
}

func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr            string        `yaml:"addr"`
	Password        string        `yaml:"password"`
	DB              int           `yaml:"db"`
	VerificationTTL time.Duration `yaml:"verification_ttl"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	PaymentEventsTopic string   `yaml:"payment_events_topic" validate:"required_with=Brokers"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	GroupID            string   `yaml:"group_id"`
}

type GatewayConfig struct {
	BaseURL       string        `yaml:"base_url" validate:"required,url"`
	SecretKey     string        `yaml:"secret_key"`
	Timeout       time.Duration `yaml:"timeout"`
	VerifyTimeout time.Duration `yaml:"verify_timeout"`
	CallbackURL   string        `yaml:"callback_url" validate:"omitempty,url"`
	ReturnURL     string        `yaml:"return_url" validate:"omitempty,url"`
	RetryCount    int           `yaml:"retry_count" validate:"gte=0,lte=10"`
}

type AuthConfig struct {
	AdminJWTSecret string `yaml:"admin_jwt_secret"`
}

type SweepConfig struct {
	Interval    time.Duration `yaml:"interval"`
	StaleAfter  time.Duration `yaml:"stale_after"`
	BatchSize   int           `yaml:"batch_size" validate:"gte=0"`
	Concurrency int           `yaml:"concurrency" validate:"gte=0"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// LoadConfig reads the yaml file at path. A .env file in the working
// directory is loaded first, and a few environment variables override
// secrets and addresses from the file.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnv()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default is the configuration every file is layered on top of.
func Default() *Config {
	return &Config{
		HTTP:     HTTPConfig{Address: ":8080"},
		GRPC:     GRPCConfig{Address: ":9090"},
		Database: DatabaseConfig{Driver: "postgres", SSLMode: "disable", MaxConns: 10},
		Redis:    RedisConfig{VerificationTTL: 10 * time.Minute},
		Kafka:    KafkaConfig{GroupID: "payments-notifier"},
		Gateway: GatewayConfig{
			Timeout:       10 * time.Second,
			VerifyTimeout: 15 * time.Second,
			RetryCount:    2,
		},
		Sweep: SweepConfig{
			Interval:    time.Minute,
			StaleAfter:  15 * time.Minute,
			BatchSize:   100,
			Concurrency: 4,
			LockTTL:     2 * time.Minute,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

func (c *Config) applyEnv() {
	setFromEnv(&c.Database.URL, "DATABASE_URL")
	setFromEnv(&c.Gateway.SecretKey, "GATEWAY_SECRET_KEY")
	setFromEnv(&c.Auth.AdminJWTSecret, "ADMIN_JWT_SECRET")
	setFromEnv(&c.Redis.Addr, "REDIS_ADDR")
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
}

func setFromEnv(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
