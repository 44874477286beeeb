package core

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("TEST_STORAGE_MAXUPLOADSIZE", "1024")
	t.Setenv("TEST_SERVER_SHUTDOWNTIMEOUT", "3s")
	t.Setenv("TEST_STORAGE_PUBLICBASEURL", "https://cdn.test/media/")

	conf, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, "TEST", conf.Env)
	assert.True(t, conf.TestMode)
	assert.Equal(t, "Kidogo", conf.AppName)
	assert.Equal(t, "noreply@localhost", conf.DefaultFromEmail.Address)
	assert.Equal(t, EnginePostgres, conf.Database.Engine)
	assert.Equal(t, StorageLocal, conf.Storage.Backend)
	assert.Equal(t, int64(1024), conf.Storage.MaxUploadSize)
	assert.Equal(t, 3*time.Second, conf.Server.ShutdownTimeout)
	assert.Equal(t, "https://cdn.test/media", conf.Storage.PublicBaseURL)
	assert.Equal(t, "localhost:5432", conf.Database.Address())
}

func TestNewConfig_invalid(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("TEST_STORAGE_BACKEND", StorageS3)

	_, err := NewConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.bucket is required")
	assert.Contains(t, err.Error(), "storage.accessKey is required")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Debug:     true,
			AppName:   "Kidogo",
			SecretKey: "secret",
			Server:    ServerConfig{Port: "8000"},
			Database:  DatabaseConfig{Engine: EngineMemory},
			Storage:   StorageConfig{Backend: StorageLocal, LocalDir: "media", PublicBaseURL: "http://localhost/media", MaxUploadSize: 1},
			Redis:     RedisConfig{Disabled: true},
		}
	}

	tests := []struct {
		name     string
		modify   func(c *Config)
		wantErrs []string
	}{
		{name: "valid", modify: func(c *Config) {}},
		{
			name:     "production",
			modify:   func(c *Config) { c.Debug, c.SecretKey = false, defaultSecretKey },
			wantErrs: []string{"secretKey must be changed outside of debug mode", "sendgridApiKey is required"},
		},
		{
			name:     "postgres",
			modify:   func(c *Config) { c.Database = DatabaseConfig{Engine: EnginePostgres, Host: "db"} },
			wantErrs: []string{"database.name is required", "database.user is required"},
		},
		{
			name:     "unknown backends",
			modify:   func(c *Config) { c.Database.Engine, c.Storage.Backend = "mongo", "ftp" },
			wantErrs: []string{`database.engine "mongo" is not supported`, `storage.backend "ftp" is not supported`},
		},
		{
			name:     "gcs",
			modify:   func(c *Config) { c.Storage.Backend = StorageGCS },
			wantErrs: []string{"storage.bucket is required"},
		},
		{
			name:     "upload size",
			modify:   func(c *Config) { c.Storage.MaxUploadSize = 0 },
			wantErrs: []string{"storage.maxUploadSize must be positive"},
		},
		{
			name:     "redis",
			modify:   func(c *Config) { c.Redis = RedisConfig{} },
			wantErrs: []string{"redis.addr is required"},
		},
		{
			name:     "blank",
			modify:   func(c *Config) { c.AppName, c.Server.Port = " ", "" },
			wantErrs: []string{"appName is required", "server.port is required"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := valid()
			tt.modify(&conf)
			err := conf.Validate()
			if len(tt.wantErrs) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, strings.HasPrefix(err.Error(), "invalid configuration: "), err.Error())
			for _, want := range tt.wantErrs {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}
