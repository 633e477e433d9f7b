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

const cfgKeyPrefixWaitingRoom = "waitingRoom"

const (
	cfgKeyWaitingRoomCapacity             = "capacity"
	cfgKeyWaitingRoomActiveSessionTimeout = "activeSessionTimeout"
	cfgKeyWaitingRoomTickInterval         = "tickInterval"
	cfgKeyWaitingRoomPruneWindow          = "pruneWindow"
	cfgKeyWaitingRoomAppURL               = "appURL"
	cfgKeyWaitingRoomDestinationURL       = "destinationURL"
	cfgKeyWaitingRoomStaticDir            = "staticDir"
)

const (
	defaultWaitingRoomCapacity             = 100
	defaultWaitingRoomActiveSessionTimeout = 5 * time.Minute
	defaultWaitingRoomTickInterval         = time.Second
	defaultWaitingRoomPruneWindow          = 100
	defaultWaitingRoomStaticDir            = "./static"
)

// WaitingRoomConfig holds the admission-control parameters.
type WaitingRoomConfig struct {
	// Capacity is the default maximum size of the active set. It seeds the
	// shared capacity value in the store at startup; operators may change the
	// stored value at runtime without a restart.
	Capacity int `mapstructure:"capacity" yaml:"capacity" json:"capacity"`

	// ActiveSessionTimeout is the liveness marker TTL. An admitted visitor
	// that stops sending heartbeats for this long is evicted.
	ActiveSessionTimeout config.TimeDuration `mapstructure:"activeSessionTimeout" yaml:"activeSessionTimeout" json:"activeSessionTimeout"`

	// TickInterval is the reconciliation loop period.
	TickInterval config.TimeDuration `mapstructure:"tickInterval" yaml:"tickInterval" json:"tickInterval"`

	// PruneWindow is the number of active members liveness-checked per tick.
	PruneWindow int `mapstructure:"pruneWindow" yaml:"pruneWindow" json:"pruneWindow"`

	// AppURL is the public URL of this deployment (token issuer).
	AppURL string `mapstructure:"appURL" yaml:"appURL" json:"appURL"`

	// DestinationURL is the protected application visitors are admitted to.
	DestinationURL string `mapstructure:"destinationURL" yaml:"destinationURL" json:"destinationURL"`

	// StaticDir is the directory served for unmatched paths.
	StaticDir string `mapstructure:"staticDir" yaml:"staticDir" json:"staticDir"`
}

var _ config.Config = (*WaitingRoomConfig)(nil)
var _ config.KeyPrefixProvider = (*WaitingRoomConfig)(nil)

// NewWaitingRoomConfig creates a new WaitingRoomConfig.
func NewWaitingRoomConfig() *WaitingRoomConfig {
	return &WaitingRoomConfig{}
}

// KeyPrefix implements config.KeyPrefixProvider.
func (c *WaitingRoomConfig) KeyPrefix() string {
	return cfgKeyPrefixWaitingRoom
}

// SetProviderDefaults implements config.Config.
func (c *WaitingRoomConfig) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyWaitingRoomCapacity, defaultWaitingRoomCapacity)
	dp.SetDefault(cfgKeyWaitingRoomActiveSessionTimeout, defaultWaitingRoomActiveSessionTimeout)
	dp.SetDefault(cfgKeyWaitingRoomTickInterval, defaultWaitingRoomTickInterval)
	dp.SetDefault(cfgKeyWaitingRoomPruneWindow, defaultWaitingRoomPruneWindow)
	dp.SetDefault(cfgKeyWaitingRoomStaticDir, defaultWaitingRoomStaticDir)
}

// Set implements config.Config.
func (c *WaitingRoomConfig) Set(dp config.DataProvider) error {
	var err error

	if c.Capacity, err = dp.GetInt(cfgKeyWaitingRoomCapacity); err != nil {
		return err
	}
	if c.Capacity <= 0 {
		return dp.WrapKeyErr(cfgKeyWaitingRoomCapacity, fmt.Errorf("must be positive, got %d", c.Capacity))
	}

	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyWaitingRoomActiveSessionTimeout); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyWaitingRoomActiveSessionTimeout, fmt.Errorf("must be positive, got %s", dur))
	}
	c.ActiveSessionTimeout = config.TimeDuration(dur)

	if dur, err = dp.GetDuration(cfgKeyWaitingRoomTickInterval); err != nil {
		return err
	}
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyWaitingRoomTickInterval, fmt.Errorf("must be positive, got %s", dur))
	}
	c.TickInterval = config.TimeDuration(dur)

	if c.PruneWindow, err = dp.GetInt(cfgKeyWaitingRoomPruneWindow); err != nil {
		return err
	}
	if c.PruneWindow <= 0 {
		return dp.WrapKeyErr(cfgKeyWaitingRoomPruneWindow, fmt.Errorf("must be positive, got %d", c.PruneWindow))
	}

	if c.AppURL, err = dp.GetString(cfgKeyWaitingRoomAppURL); err != nil {
		return err
	}
	if c.AppURL == "" {
		return dp.WrapKeyErr(cfgKeyWaitingRoomAppURL, fmt.Errorf("is required"))
	}

	if c.DestinationURL, err = dp.GetString(cfgKeyWaitingRoomDestinationURL); err != nil {
		return err
	}
	if c.DestinationURL == "" {
		return dp.WrapKeyErr(cfgKeyWaitingRoomDestinationURL, fmt.Errorf("is required"))
	}

	if c.StaticDir, err = dp.GetString(cfgKeyWaitingRoomStaticDir); err != nil {
		return err
	}

	return nil
}
