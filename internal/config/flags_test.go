package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{
			name: "all flags",
			args: []string{
				"-d", "db", "-s", "s3", "-r", "/srv/data",
				"-u", "user", "-p", "password", "-b", "bucket", "-g", "us-west-1", "-e", "http://endpoint",
				"-m", "MOD", "-x", "CHACHA20-POLY1305", "-t", "5", "-k=false", "-w", "ext", "-l", "debug",
			},
			expected: &Config{
				DatabaseDSN:           "db",
				StorageBackend:        "s3",
				DataDir:               "/srv/data",
				S3RootUser:            "user",
				S3RootPassword:        "password",
				S3Bucket:              "bucket",
				S3Region:              "us-west-1",
				S3BaseEndpoint:        "http://endpoint",
				ModuleID:              "MOD",
				Cipher:                "CHACHA20-POLY1305",
				MigrationStaleTimeout: 5 * time.Minute,
				BackupBeforeMigration: false,
				SystemMountPoints:     []string{"ext"},
				LogLevel:              "debug",
			},
		},
		{
			name:        "non numeric timeout panics",
			args:        []string{"-t", "soon"},
			expectPanic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{}

			if tt.expectPanic {
				require.Panics(t, func() { parseFlags(config, tt.args) })
				return
			}
			require.NotPanics(t, func() { parseFlags(config, tt.args) })
			assert.Empty(t, cmp.Diff(tt.expected, config))
		})
	}
}

func TestParseFlags_KeepsExistingValues(t *testing.T) {
	config := &Config{}
	config.LoadDefaults()
	config.SystemMountPoints = []string{"shared"}

	parseFlags(config, []string{"-l", "warn"})

	assert.Equal(t, "warn", config.LogLevel)
	assert.Equal(t, 30*time.Minute, config.MigrationStaleTimeout)
	assert.Equal(t, []string{"shared"}, config.SystemMountPoints)
}
