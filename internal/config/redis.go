/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"fmt"
	"time"

	"github.com/acronis/go-appkit/config"
	"github.com/redis/go-redis/v9"
)

const cfgKeyPrefixRedis = "redis"

const (
	cfgKeyRedisURI       = "uri"
	cfgKeyRedisOpTimeout = "opTimeout"
)

const (
	defaultRedisURI       = "redis://127.0.0.1:6379"
	defaultRedisOpTimeout = 3 * time.Second
)

// RedisConfig holds the connection parameters of the shared state store.
type RedisConfig struct {
	// URI is the store connection URI (redis://[user:pass@]host:port[/db]).
	URI string `mapstructure:"uri" yaml:"uri" json:"uri"`

	// OpTimeout bounds a single store operation.
	OpTimeout config.TimeDuration `mapstructure:"opTimeout" yaml:"opTimeout" json:"opTimeout"`
}

var _ config.Config = (*RedisConfig)(nil)
var _ config.KeyPrefixProvider = (*RedisConfig)(nil)

// NewRedisConfig creates a new RedisConfig.
func NewRedisConfig() *RedisConfig {
	return &RedisConfig{}
}

// KeyPrefix implements config.KeyPrefixProvider.
func (c *RedisConfig) KeyPrefix() string {
	return cfgKeyPrefixRedis
}

// SetProviderDefaults implements config.Config.
func (c *RedisConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyRedisURI, defaultRedisURI)
	dp.SetDefault(cfgKeyRedisOpTimeout, defaultRedisOpTimeout)
}

// Set implements config.Config.
func (c *RedisConfig) Set(dp config.DataProvider) error {
	var err error

	if c.URI, err = dp.GetString(cfgKeyRedisURI); err != nil {
		return err
	}
	if _, err = redis.ParseURL(c.URI); err != nil {
		return dp.WrapKeyErr(cfgKeyRedisURI, fmt.Errorf("parse redis uri: %w", err))
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyRedisOpTimeout); err != nil {
		return err
	}
	c.OpTimeout = config.TimeDuration(dur)

	return nil
}
