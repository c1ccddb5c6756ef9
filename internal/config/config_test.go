package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newTestViper())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, int64(100*1024*1024), cfg.Storage.MaxUploadSize.Bytes())
	assert.Equal(t, 5*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 60, cfg.Worker.PollMaxAttempts)
	assert.Equal(t, 5, cfg.Entitlement.FreeTierLimit)
	assert.Equal(t, 10, cfg.Entitlement.PremiumPriority)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_Overrides(t *testing.T) {
	v := newTestViper()
	v.Set("server.port", 9090)
	v.Set("database.driver", "postgres")
	v.Set("database.dsn", "host=localhost user=cadrelay dbname=cadrelay")
	v.Set("storage.max_upload_size", "50MB")

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, int64(50*1024*1024), cfg.Storage.MaxUploadSize.Bytes())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(v *viper.Viper)
		wantErr string
	}{
		{
			name:    "bad port",
			mutate:  func(v *viper.Viper) { v.Set("server.port", 0) },
			wantErr: "invalid server port",
		},
		{
			name:    "bad driver",
			mutate:  func(v *viper.Viper) { v.Set("database.driver", "oracle") },
			wantErr: "unsupported database driver",
		},
		{
			name:    "empty dsn",
			mutate:  func(v *viper.Viper) { v.Set("database.dsn", "") },
			wantErr: "dsn is required",
		},
		{
			name:    "bad worker url",
			mutate:  func(v *viper.Viper) { v.Set("worker.base_url", "localhost:5000") },
			wantErr: "base_url",
		},
		{
			name:    "zero poll attempts",
			mutate:  func(v *viper.Viper) { v.Set("worker.poll_max_attempts", 0) },
			wantErr: "poll_max_attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestViper()
			tt.mutate(v)

			_, err := Load(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
