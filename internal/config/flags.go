package config

import (
	"flag"
	"io"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophkeys/internal/flagx"
)

// ValueFlags lists every config flag that takes a value. cmd/keysctl uses it
// to find subcommand arguments among config flags.
var ValueFlags = []string{"-c", "-config", "--config", "-d", "-s", "-r", "-u", "-p", "-b", "-g", "-e", "-m", "-x", "-t", "-w", "-l"}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN
//	-s string   storage backend, "local" or "s3"
//	-r string   data directory for the local backend
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-m string   encryption module id
//	-x string   cipher name
//	-t int      stale migration timeout, minutes
//	-k bool     back up legacy keys before the structural migration
//	-w string   comma separated system-wide mount points
//	-l string   log level
//
// Unknown arguments (subcommands and their operands) are filtered out first.
func parseFlags(config *Config, args []string) {
	args = flagx.FilterArgs(args, []string{"-d", "-s", "-r", "-u", "-p", "-b", "-g", "-e", "-m", "-x", "-t", "-k", "-w", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.StorageBackend, "s", config.StorageBackend, "storage backend (local|s3)")
	fs.StringVar(&config.DataDir, "r", config.DataDir, "data directory")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.ModuleID, "m", config.ModuleID, "encryption module id")
	fs.StringVar(&config.Cipher, "x", config.Cipher, "cipher")

	staleTimeout := fs.Int("t", int(config.MigrationStaleTimeout.Minutes()), "stale migration timeout (in minutes)")

	fs.BoolVar(&config.BackupBeforeMigration, "k", config.BackupBeforeMigration, "back up legacy keys before migrating")
	mounts := fs.String("w", strings.Join(config.SystemMountPoints, ","), "system-wide mount points")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.MigrationStaleTimeout = time.Duration(*staleTimeout) * time.Minute
	config.SystemMountPoints = splitList(*mounts)
}
