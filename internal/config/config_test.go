/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-appkit/config"
)

const fullCfgData = `
server:
  address: ":8080"
log:
  level: info
redis:
  uri: redis://redis.local:6379/1
  opTimeout: 2s
waitingRoom:
  capacity: 500
  activeSessionTimeout: 10m
  tickInterval: 2s
  pruneWindow: 50
  appURL: https://queue.example.com
  destinationURL: https://shop.example.com
  staticDir: /srv/static
auth:
  signingKey: c2lnbmluZy1rZXk=
  sessionHashKey: MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=
audit:
  enabled: true
  brokers: kafka-1:9092,kafka-2:9092
  messageTimeout: 3s
`

const minimalWaitingRoomCfgData = `
waitingRoom:
  appURL: https://queue.example.com
  destinationURL: https://shop.example.com
`

func loadAppConfig(t *testing.T, cfgData string) (*AppConfig, error) {
	t.Helper()
	cfg := NewAppConfig()
	err := config.NewDefaultLoader(EnvVarsPrefix).LoadFromReader(
		bytes.NewBufferString(cfgData), config.DataTypeYAML, cfg)
	return cfg, err
}

func TestAppConfig_Load(t *testing.T) {
	cfg, err := loadAppConfig(t, fullCfgData)
	require.NoError(t, err)

	require.Equal(t, "redis://redis.local:6379/1", cfg.Redis.URI)
	require.Equal(t, 2*time.Second, time.Duration(cfg.Redis.OpTimeout))

	require.Equal(t, 500, cfg.WaitingRoom.Capacity)
	require.Equal(t, 10*time.Minute, time.Duration(cfg.WaitingRoom.ActiveSessionTimeout))
	require.Equal(t, 2*time.Second, time.Duration(cfg.WaitingRoom.TickInterval))
	require.Equal(t, 50, cfg.WaitingRoom.PruneWindow)
	require.Equal(t, "https://queue.example.com", cfg.WaitingRoom.AppURL)
	require.Equal(t, "https://shop.example.com", cfg.WaitingRoom.DestinationURL)
	require.Equal(t, "/srv/static", cfg.WaitingRoom.StaticDir)

	require.Equal(t, []byte("signing-key"), cfg.Auth.DecodedSigningKey())
	require.Equal(t, []byte("0123456789abcdef0123456789abcdef"), cfg.Auth.DecodedSessionHashKey())
	require.Nil(t, cfg.Auth.DecodedSessionBlockKey())

	require.True(t, cfg.Audit.Enabled)
	require.Equal(t, "kafka-1:9092,kafka-2:9092", cfg.Audit.Brokers)
	require.Equal(t, 3*time.Second, time.Duration(cfg.Audit.MessageTimeout))
	require.Equal(t, defaultAuditTopicsEnqueued, cfg.Audit.Topics.Enqueued)
	require.Equal(t, defaultAuditTopicsTerminated, cfg.Audit.Topics.Terminated)
}

func TestAppConfig_Defaults(t *testing.T) {
	cfg := NewWaitingRoomConfig()
	err := config.NewDefaultLoader(EnvVarsPrefix).LoadFromReader(
		bytes.NewBufferString(minimalWaitingRoomCfgData), config.DataTypeYAML, cfg)
	require.NoError(t, err)

	require.Equal(t, defaultWaitingRoomCapacity, cfg.Capacity)
	require.Equal(t, defaultWaitingRoomActiveSessionTimeout, time.Duration(cfg.ActiveSessionTimeout))
	require.Equal(t, defaultWaitingRoomTickInterval, time.Duration(cfg.TickInterval))
	require.Equal(t, defaultWaitingRoomPruneWindow, cfg.PruneWindow)
	require.Equal(t, defaultWaitingRoomStaticDir, cfg.StaticDir)
}

func TestAppConfig_EnvOverride(t *testing.T) {
	t.Setenv("QUEUBIOUS_WAITINGROOM_CAPACITY", "7")

	cfg, err := loadAppConfig(t, fullCfgData)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.WaitingRoom.Capacity)
}

func TestWaitingRoomConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cfgData string
		errMsg  string
	}{
		{
			name: "non-positive capacity",
			cfgData: `
waitingRoom:
  capacity: 0
  appURL: https://queue.example.com
  destinationURL: https://shop.example.com
`,
			errMsg: "capacity",
		},
		{
			name: "non-positive active session timeout",
			cfgData: `
waitingRoom:
  activeSessionTimeout: -1s
  appURL: https://queue.example.com
  destinationURL: https://shop.example.com
`,
			errMsg: "activeSessionTimeout",
		},
		{
			name: "missing app URL",
			cfgData: `
waitingRoom:
  destinationURL: https://shop.example.com
`,
			errMsg: "appURL",
		},
		{
			name: "missing destination URL",
			cfgData: `
waitingRoom:
  appURL: https://queue.example.com
`,
			errMsg: "destinationURL",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewWaitingRoomConfig()
			err := config.NewDefaultLoader(EnvVarsPrefix).LoadFromReader(
				bytes.NewBufferString(tt.cfgData), config.DataTypeYAML, cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestAuthConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		cfgData string
		errMsg  string
	}{
		{
			name:    "missing signing key",
			cfgData: `auth: {}`,
			errMsg:  "signingKey",
		},
		{
			name: "missing session hash key",
			cfgData: `
auth:
  signingKey: c2lnbmluZy1rZXk=
`,
			errMsg: "sessionHashKey",
		},
		{
			name: "signing key is not base64",
			cfgData: `
auth:
  signingKey: "%%%not-base64%%%"
  sessionHashKey: MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=
`,
			errMsg: "signingKey",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewAuthConfig()
			err := config.NewDefaultLoader(EnvVarsPrefix).LoadFromReader(
				bytes.NewBufferString(tt.cfgData), config.DataTypeYAML, cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRedisConfig_Errors(t *testing.T) {
	cfg := NewRedisConfig()
	err := config.NewDefaultLoader(EnvVarsPrefix).LoadFromReader(
		bytes.NewBufferString("redis:\n  uri: \"://bad\"\n"), config.DataTypeYAML, cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "uri")
}

func TestAuditConfig_BrokersRequiredWhenEnabled(t *testing.T) {
	cfg := NewAuditConfig()
	err := config.NewDefaultLoader(EnvVarsPrefix).LoadFromReader(
		bytes.NewBufferString("audit:\n  enabled: true\n"), config.DataTypeYAML, cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "brokers")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(fullCfgData), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 500, cfg.WaitingRoom.Capacity)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.yml"))
	require.Error(t, err)
}
