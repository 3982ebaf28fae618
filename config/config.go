package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g.
// MOVIEMASTER_SECURITY_JWT_SECRET.
const EnvPrefix = "MOVIEMASTER"

// minSecretLen mirrors token.MinSecretLen; config stays free of domain imports.
const minSecretLen = 32

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Security SecurityConfig `mapstructure:"security"`
	Social   SocialConfig   `mapstructure:"social"`
}

type ServerConfig struct {
	Port     int      `mapstructure:"port"`
	Debug    bool     `mapstructure:"debug"`
	AdminKey string   `mapstructure:"admin_key"`
	AdminIPs []string `mapstructure:"admin_ips"` // empty allows any IP holding the admin key

	// AllowedOrigins limits browser origins for /ws. Empty allows all.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	RefreshTTL     time.Duration `mapstructure:"refresh_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

type SocialConfig struct {
	// PendingTTL removes friend requests left unanswered this long. Zero disables the sweep.
	PendingTTL    time.Duration `mapstructure:"pending_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/moviemaster.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.key_prefix", "moviemaster:")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.token_ttl", "5h")
	v.SetDefault("security.refresh_ttl", "168h")
	v.SetDefault("security.bcrypt_cost", 12)
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("social.pending_ttl", "0s")
	v.SetDefault("social.sweep_interval", "1h")
}

// Load reads config from the given YAML file path. Every key can be
// overridden from the environment using EnvPrefix.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot run safely with.
func (c *Config) Validate() error {
	if len(c.Security.JWTSecret) < minSecretLen {
		return fmt.Errorf("config: security.jwt_secret must be at least %d bytes", minSecretLen)
	}
	if c.Security.TokenTTL <= 0 {
		return fmt.Errorf("config: security.token_ttl must be positive")
	}
	if c.Security.RefreshTTL < c.Security.TokenTTL {
		return fmt.Errorf("config: security.refresh_ttl must not be shorter than token_ttl")
	}
	if c.Social.PendingTTL < 0 {
		return fmt.Errorf("config: social.pending_ttl must not be negative")
	}
	return nil
}
