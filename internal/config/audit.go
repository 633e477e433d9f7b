/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"fmt"
	"time"

	"github.com/acronis/go-appkit/config"
)

const cfgKeyPrefixAudit = "audit"

const (
	cfgKeyAuditEnabled          = "enabled"
	cfgKeyAuditBrokers          = "brokers"
	cfgKeyAuditMessageTimeout   = "messageTimeout"
	cfgKeyAuditTopicsEnqueued   = "topics.enqueued"
	cfgKeyAuditTopicsTerminated = "topics.terminated"
)

const (
	defaultAuditMessageTimeout   = 5 * time.Second
	defaultAuditTopicsEnqueued   = "queue"
	defaultAuditTopicsTerminated = "terminate_session"
)

// AuditConfig holds the Kafka audit sink parameters.
// Auditing is best-effort observability; it is disabled by default.
type AuditConfig struct {
	Enabled        bool                `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Brokers        string              `mapstructure:"brokers" yaml:"brokers" json:"brokers"`
	MessageTimeout config.TimeDuration `mapstructure:"messageTimeout" yaml:"messageTimeout" json:"messageTimeout"`
	Topics         AuditTopicsConfig   `mapstructure:"topics" yaml:"topics" json:"topics"`
}

// AuditTopicsConfig names the Kafka topics per event type.
type AuditTopicsConfig struct {
	Enqueued   string `mapstructure:"enqueued" yaml:"enqueued" json:"enqueued"`
	Terminated string `mapstructure:"terminated" yaml:"terminated" json:"terminated"`
}

var _ config.Config = (*AuditConfig)(nil)
var _ config.KeyPrefixProvider = (*AuditConfig)(nil)

// NewAuditConfig creates a new AuditConfig.
func NewAuditConfig() *AuditConfig {
	return &AuditConfig{}
}

// KeyPrefix implements config.KeyPrefixProvider.
func (c *AuditConfig) KeyPrefix() string {
	return cfgKeyPrefixAudit
}

// SetProviderDefaults implements config.Config.
func (c *AuditConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyAuditEnabled, false)
	dp.SetDefault(cfgKeyAuditMessageTimeout, defaultAuditMessageTimeout)
	dp.SetDefault(cfgKeyAuditTopicsEnqueued, defaultAuditTopicsEnqueued)
	dp.SetDefault(cfgKeyAuditTopicsTerminated, defaultAuditTopicsTerminated)
}

// Set implements config.Config.
func (c *AuditConfig) Set(dp config.DataProvider) error {
	var err error

	if c.Enabled, err = dp.GetBool(cfgKeyAuditEnabled); err != nil {
		return err
	}
	if c.Brokers, err = dp.GetString(cfgKeyAuditBrokers); err != nil {
		return err
	}
	if c.Enabled && c.Brokers == "" {
		return dp.WrapKeyErr(cfgKeyAuditBrokers, fmt.Errorf("is required when audit is enabled"))
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyAuditMessageTimeout); err != nil {
		return err
	}
	c.MessageTimeout = config.TimeDuration(dur)

	if c.Topics.Enqueued, err = dp.GetString(cfgKeyAuditTopicsEnqueued); err != nil {
		return err
	}
	if c.Topics.Terminated, err = dp.GetString(cfgKeyAuditTopicsTerminated); err != nil {
		return err
	}

	return nil
}
