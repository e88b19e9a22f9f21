package store

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig for creating a Redis client
type RedisConfig struct {
	Host           string `yaml:"host" mapstructure:"host"`                       // Redis host (default: localhost)
	Port           int    `yaml:"port" mapstructure:"port"`                       // Redis port (default: 6379)
	DB             int    `yaml:"db" mapstructure:"db"`                           // Redis database number
	Password       string `yaml:"password,omitempty" mapstructure:"password"`     // Redis password (empty for no auth)
	TimeoutSeconds int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"` // Socket timeout (default: 2)
	KeyPrefix      string `yaml:"key_prefix,omitempty" mapstructure:"key_prefix"` // Optional namespace for all keys
}

// WithDefaults returns a copy of the config with unset fields defaulted
func (c RedisConfig) WithDefaults() RedisConfig {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6379
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 2
	}
	return c
}

// Addr returns the host:port address of the server
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewRedisClient creates a pooled Redis client from the config
func NewRedisClient(config RedisConfig) *redis.Client {
	config = config.WithDefaults()
	timeout := time.Duration(config.TimeoutSeconds) * time.Second

	return redis.NewClient(&redis.Options{
		Addr:         config.Addr(),
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
}
