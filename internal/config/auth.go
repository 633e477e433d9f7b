/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"encoding/base64"
	"fmt"

	"github.com/acronis/go-appkit/config"
)

const cfgKeyPrefixAuth = "auth"

const (
	cfgKeyAuthSigningKey      = "signingKey"      // nolint:gosec // configuration key, not a credential
	cfgKeyAuthSessionHashKey  = "sessionHashKey"  // nolint:gosec
	cfgKeyAuthSessionBlockKey = "sessionBlockKey" // nolint:gosec
)

// AuthConfig holds the server-held keys: the symmetric egress token signing
// key and the session cookie keys. All are base64-encoded in configuration.
type AuthConfig struct {
	SigningKey      string `mapstructure:"signingKey" yaml:"signingKey" json:"signingKey"`
	SessionHashKey  string `mapstructure:"sessionHashKey" yaml:"sessionHashKey" json:"sessionHashKey"`
	SessionBlockKey string `mapstructure:"sessionBlockKey" yaml:"sessionBlockKey" json:"sessionBlockKey"`

	signingKey      []byte
	sessionHashKey  []byte
	sessionBlockKey []byte
}

var _ config.Config = (*AuthConfig)(nil)
var _ config.KeyPrefixProvider = (*AuthConfig)(nil)

// NewAuthConfig creates a new AuthConfig.
func NewAuthConfig() *AuthConfig {
	return &AuthConfig{}
}

// KeyPrefix implements config.KeyPrefixProvider.
func (c *AuthConfig) KeyPrefix() string {
	return cfgKeyPrefixAuth
}

// SetProviderDefaults implements config.Config.
func (c *AuthConfig) SetProviderDefaults(dp config.DataProvider) {
}

// Set implements config.Config.
func (c *AuthConfig) Set(dp config.DataProvider) error {
	var err error

	if c.signingKey, err = getRequiredBase64Key(dp, cfgKeyAuthSigningKey, &c.SigningKey); err != nil {
		return err
	}
	if c.sessionHashKey, err = getRequiredBase64Key(dp, cfgKeyAuthSessionHashKey, &c.SessionHashKey); err != nil {
		return err
	}

	// The block key is optional; without it the session cookie is signed but
	// not encrypted.
	if c.SessionBlockKey, err = dp.GetString(cfgKeyAuthSessionBlockKey); err != nil {
		return err
	}
	if c.SessionBlockKey != "" {
		if c.sessionBlockKey, err = base64.StdEncoding.DecodeString(c.SessionBlockKey); err != nil {
			return dp.WrapKeyErr(cfgKeyAuthSessionBlockKey, fmt.Errorf("decode base64: %w", err))
		}
	}

	return nil
}

// DecodedSigningKey returns the raw egress token signing key.
func (c *AuthConfig) DecodedSigningKey() []byte {
	return c.signingKey
}

// DecodedSessionHashKey returns the raw session cookie hash key.
func (c *AuthConfig) DecodedSessionHashKey() []byte {
	return c.sessionHashKey
}

// DecodedSessionBlockKey returns the raw session cookie block key, nil if unset.
func (c *AuthConfig) DecodedSessionBlockKey() []byte {
	return c.sessionBlockKey
}

func getRequiredBase64Key(dp config.DataProvider, key string, raw *string) ([]byte, error) {
	var err error
	if *raw, err = dp.GetString(key); err != nil {
		return nil, err
	}
	if *raw == "" {
		return nil, dp.WrapKeyErr(key, fmt.Errorf("is required"))
	}
	decoded, err := base64.StdEncoding.DecodeString(*raw)
	if err != nil {
		return nil, dp.WrapKeyErr(key, fmt.Errorf("decode base64: %w", err))
	}
	return decoded, nil
}
