package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Roles a process can run.
const (
	RoleRegistry = "registry"
	RoleUser     = "user"
	RoleTask     = "task"
	RoleAll      = "all"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	App struct {
		Role string
	}
	Server struct {
		RegistryAddr  string `mapstructure:"registry_addr"`
		UserAddr      string `mapstructure:"user_addr"`
		TaskAddr      string `mapstructure:"task_addr"`
		AdvertiseHost string `mapstructure:"advertise_host"`
	}
	Database struct {
		Driver string
		DSN    string
	}
	Registry struct {
		URL           string
		Backend       string
		LeaseSeconds  int           `mapstructure:"lease_seconds"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	}
	Redis struct {
		Addr     string
		Password string
		DB       int
	}
	Discovery struct {
		Timeout     time.Duration
		MaxAttempts int `mapstructure:"max_attempts"`
	}
	RabbitMQ struct {
		URL   string
		Queue string
	}
	Auth struct {
		ServiceSecret string `mapstructure:"service_secret"`
	}
	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from TASKHUB_* environment variables and an optional config file.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TASKHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.role", RoleAll)
	v.SetDefault("server.registry_addr", ":8761")
	v.SetDefault("server.user_addr", ":8081")
	v.SetDefault("server.task_addr", ":8082")
	v.SetDefault("server.advertise_host", "127.0.0.1")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/taskhub.db")
	v.SetDefault("registry.url", "http://127.0.0.1:8761")
	v.SetDefault("registry.backend", "memory")
	v.SetDefault("registry.lease_seconds", 30)
	v.SetDefault("registry.sweep_interval", 10*time.Second)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("discovery.timeout", 2*time.Second)
	v.SetDefault("discovery.max_attempts", 2)
	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.queue", "task_events")
	v.SetDefault("auth.service_secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate rejects settings the services cannot start with.
func (c Config) Validate() error {
	switch c.App.Role {
	case RoleRegistry, RoleUser, RoleTask, RoleAll:
	default:
		return fmt.Errorf("unknown app role %q", c.App.Role)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Registry.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown registry backend %q", c.Registry.Backend)
	}
	if c.Discovery.Timeout <= 0 {
		return fmt.Errorf("discovery timeout must be positive")
	}
	return nil
}

// Lease returns the registry lease as a duration.
func (c Config) Lease() time.Duration {
	return time.Duration(c.Registry.LeaseSeconds) * time.Second
}
