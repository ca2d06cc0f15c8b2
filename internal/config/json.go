package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/gophkeys/internal/flagx"
	"github.com/dmitrijs2005/gophkeys/internal/timex"
)

// JsonConfig is the on-disk representation of Config. Durations use
// timex.Duration so both "30m" and integer nanoseconds are accepted.
// Pointer fields distinguish "absent" from a zero value.
type JsonConfig struct {
	DatabaseDSN           *string         `json:"database_dsn"`
	StorageBackend        *string         `json:"storage_backend"`
	DataDir               *string         `json:"data_dir"`
	S3RootUser            *string         `json:"s3_root_user"`
	S3RootPassword        *string         `json:"s3_root_password"`
	S3Bucket              *string         `json:"s3_bucket"`
	S3Region              *string         `json:"s3_region"`
	S3BaseEndpoint        *string         `json:"s3_base_endpoint"`
	ModuleID              *string         `json:"module_id"`
	Cipher                *string         `json:"cipher"`
	MigrationStaleTimeout *timex.Duration `json:"migration_stale_timeout"`
	BackupBeforeMigration *bool           `json:"backup_before_migration"`
	SystemMountPoints     []string        `json:"system_mount_points"`
	LogLevel              *string         `json:"log_level"`
}

// parseJson loads values from the JSON file named by -c or -config into
// config. Fields absent from the file keep their current value. Nothing is
// loaded when neither flag is set. An unreadable file or invalid JSON panics.
func parseJson(config *Config, args []string) {
	jsonConfigFile := flagx.JsonConfigFlags(args)
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.StorageBackend, c.StorageBackend)
	setString(&config.DataDir, c.DataDir)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.ModuleID, c.ModuleID)
	setString(&config.Cipher, c.Cipher)
	setString(&config.LogLevel, c.LogLevel)

	if c.MigrationStaleTimeout != nil {
		config.MigrationStaleTimeout = c.MigrationStaleTimeout.Duration
	}
	if c.BackupBeforeMigration != nil {
		config.BackupBeforeMigration = *c.BackupBeforeMigration
	}
	if c.SystemMountPoints != nil {
		config.SystemMountPoints = c.SystemMountPoints
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
