package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// Values are read by Viper from config.yaml or environment variables.
type Config struct {
	Env        string           `mapstructure:"env"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	S3         S3Config         `mapstructure:"s3"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Generation GenerationConfig `mapstructure:"generation"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	URI  string `mapstructure:"uri"`
	Name string `mapstructure:"name"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// JWTConfig defines JWT specific configuration
type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiration time.Duration `mapstructure:"expiration"` // e.g. "1h", "60m"
}

// GenerationConfig tunes the recurring-session generation pipeline.
type GenerationConfig struct {
	MaxScanSteps        int           `mapstructure:"max_scan_steps"`
	BulkConcurrency     int           `mapstructure:"bulk_concurrency"`
	Timeout             time.Duration `mapstructure:"timeout"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
	OutboxDrainSchedule string        `mapstructure:"outbox_drain_schedule"` // cron spec
	ReportURLExpiry     time.Duration `mapstructure:"report_url_expiry"`
}

// LoadConfig reads configuration from path/config.yaml and the environment.
// A missing config file is not an error.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// server.address -> SERVER_ADDRESS, generation.max_scan_steps -> GENERATION_MAX_SCAN_STEPS
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "local")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("database.uri", "mongodb://localhost:27017")
	v.SetDefault("database.name", "coaching_app")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.bucket_name", "coaching-reports")
	v.SetDefault("s3.use_ssl", true)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiration", "1h")
	v.SetDefault("generation.max_scan_steps", 365)
	v.SetDefault("generation.bulk_concurrency", 4)
	v.SetDefault("generation.timeout", "30s")
	v.SetDefault("generation.lock_ttl", "1m")
	v.SetDefault("generation.outbox_drain_schedule", "@every 5m")
	v.SetDefault("generation.report_url_expiry", "15m")
}
