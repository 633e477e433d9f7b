/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package config defines the queubious service configuration.
//
// Configuration is loaded from a YAML/JSON file and QUEUBIOUS_* environment
// variables using the appkit config loader. Invalid or missing required
// values (capacity, URLs, keys) fail loading: the service must not start
// serving traffic with undefined admission parameters.
package config

import (
	"github.com/acronis/go-appkit/config"
	"github.com/acronis/go-appkit/httpserver"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/profserver"
)

// EnvVarsPrefix is the prefix of environment variables overriding
// configuration parameters, e.g. QUEUBIOUS_WAITINGROOM_CAPACITY.
const EnvVarsPrefix = "queubious"

// AppConfig is the full service configuration.
type AppConfig struct {
	Server      *httpserver.Config
	ProfServer  *profserver.Config
	Log         *log.Config
	Redis       *RedisConfig
	WaitingRoom *WaitingRoomConfig
	Auth        *AuthConfig
	Audit       *AuditConfig
}

var _ config.Config = (*AppConfig)(nil)

// NewAppConfig creates a new AppConfig with initialized sections.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		Server:      httpserver.NewConfig(),
		ProfServer:  profserver.NewConfig(),
		Log:         log.NewConfig(),
		Redis:       NewRedisConfig(),
		WaitingRoom: NewWaitingRoomConfig(),
		Auth:        NewAuthConfig(),
		Audit:       NewAuditConfig(),
	}
}

// SetProviderDefaults implements config.Config.
func (c *AppConfig) SetProviderDefaults(dp config.DataProvider) {
	config.CallSetProviderDefaultsForFields(c, dp)
}

// Set implements config.Config.
func (c *AppConfig) Set(dp config.DataProvider) error {
	return config.CallSetForFields(c, dp)
}

// LoadFromFile reads the configuration from the given YAML file,
// applying environment variable overrides.
func LoadFromFile(path string) (*AppConfig, error) {
	cfg := NewAppConfig()
	loader := config.NewDefaultLoader(EnvVarsPrefix)
	if err := loader.LoadFromFile(path, config.DataTypeYAML, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
