// Package config loads service configuration from defaults, an optional
// YAML file and ASTROS_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g.
// ASTROS_GATEWAY_KEY_SECRET for gateway.key_secret.
const EnvPrefix = "ASTROS"

type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	DB        DBConfig        `mapstructure:"db"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Log       LogConfig       `mapstructure:"log"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type GatewayConfig struct {
	KeyID     string        `mapstructure:"key_id"`
	KeySecret string        `mapstructure:"key_secret"`
	BaseURL   string        `mapstructure:"base_url"`
	Currency  string        `mapstructure:"currency"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxTries  uint          `mapstructure:"max_tries"`
}

type ReconcileConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Grace     time.Duration `mapstructure:"grace"`
	CallDelay time.Duration `mapstructure:"call_delay"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
}

// RedisConfig enables the cross-instance reconcile lock when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	LockKey  string `mapstructure:"lock_key"`
}

// KafkaConfig enables event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 15*time.Second)
	v.SetDefault("db.path", "astros.db")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("gateway.base_url", "https://api.razorpay.com")
	v.SetDefault("gateway.currency", "INR")
	v.SetDefault("gateway.timeout", 10*time.Second)
	v.SetDefault("gateway.max_tries", 3)
	v.SetDefault("reconcile.enabled", true)
	v.SetDefault("reconcile.interval", 5*time.Minute)
	v.SetDefault("reconcile.grace", 24*time.Hour)
	v.SetDefault("reconcile.call_delay", 500*time.Millisecond)
	v.SetDefault("reconcile.lock_ttl", 10*time.Minute)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_key", "astros:reconcile:lock")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "orders")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Secrets have no default but must be known to viper so AutomaticEnv
	// picks them up during Unmarshal.
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("gateway.key_id", "")
	v.SetDefault("gateway.key_secret", "")
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// Comma separated brokers from the environment arrive as one element.
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}
	return &cfg, nil
}

// Validate reports every missing required setting at once.
func (c *Config) Validate() error {
	var errs []error
	required := []struct{ key, value string }{
		{"db.path", c.DB.Path},
		{"auth.jwt_secret", c.Auth.JWTSecret},
		{"gateway.key_id", c.Gateway.KeyID},
		{"gateway.key_secret", c.Gateway.KeySecret},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			env := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(r.key, ".", "_"))
			errs = append(errs, fmt.Errorf("%s is required (set %s)", r.key, env))
		}
	}
	if c.Reconcile.Grace < 0 || c.Reconcile.Interval < 0 {
		errs = append(errs, errors.New("reconcile durations cannot be negative"))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
