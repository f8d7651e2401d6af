package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Checkout CheckoutConfig `yaml:"checkout"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite, mysql or postgres
	DSN      string `yaml:"dsn"`
	LogLevel string `yaml:"log_level"` // silent, error, warn, info
	Seed     bool   `yaml:"seed"`
}

type CheckoutConfig struct {
	// AllowNegativeStock turns the overselling guard off.
	AllowNegativeStock bool   `yaml:"allow_negative_stock"`
	WalkInEmail        string `yaml:"walk_in_email"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:   "sqlite",
			DSN:      "pos.db",
			LogLevel: "warn",
			Seed:     true,
		},
		Checkout: CheckoutConfig{
			WalkInEmail: "wc@rpg-pos.com",
		},
		Kafka: KafkaConfig{
			Topic: "pos.orders.completed",
		},
	}
}

// Load reads defaults, then the YAML file at path (skipped when path is
// empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "failed to read config file %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrap(err, "failed to parse config YAML")
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Server.Addr = getenv("POS_ADDR", cfg.Server.Addr)
	cfg.Database.Driver = strings.ToLower(getenv("DB_DRIVER", cfg.Database.Driver))
	cfg.Database.DSN = getenv("DB_DSN", cfg.Database.DSN)
	cfg.Database.LogLevel = getenv("DB_LOG_LEVEL", cfg.Database.LogLevel)
	cfg.Checkout.WalkInEmail = getenv("CHECKOUT_WALK_IN_EMAIL", cfg.Checkout.WalkInEmail)
	cfg.Kafka.Topic = getenv("KAFKA_ORDER_TOPIC", cfg.Kafka.Topic)

	if v := getenv("CHECKOUT_ALLOW_NEGATIVE_STOCK", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "invalid CHECKOUT_ALLOW_NEGATIVE_STOCK %q", v)
		}
		cfg.Checkout.AllowNegativeStock = b
	}
	if v := getenv("DB_SEED", ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "invalid DB_SEED %q", v)
		}
		cfg.Database.Seed = b
	}
	if v := getenv("KAFKA_BROKERS", ""); v != "" {
		cfg.Kafka.Brokers = splitCSV(v)
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return errors.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database dsn is required")
	}
	if c.Server.Addr == "" {
		return errors.New("server addr is required")
	}
	return nil
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

func splitCSV(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
