// Package app wires configuration, storage, database and the key
// management components together for the keysctl entry point.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/gophkeys/internal/common"
	"github.com/dmitrijs2005/gophkeys/internal/config"
	"github.com/dmitrijs2005/gophkeys/internal/configstore"
	"github.com/dmitrijs2005/gophkeys/internal/cryptox"
	"github.com/dmitrijs2005/gophkeys/internal/directory"
	"github.com/dmitrijs2005/gophkeys/internal/keymanager"
	"github.com/dmitrijs2005/gophkeys/internal/keystorage"
	"github.com/dmitrijs2005/gophkeys/internal/layoutmigration"
	"github.com/dmitrijs2005/gophkeys/internal/logging"
	"github.com/dmitrijs2005/gophkeys/internal/migrator"
	"github.com/dmitrijs2005/gophkeys/internal/models"
	"github.com/dmitrijs2005/gophkeys/internal/repositories/repomanager"
	"github.com/dmitrijs2005/gophkeys/internal/requirements"
	"github.com/dmitrijs2005/gophkeys/internal/session"
	"github.com/dmitrijs2005/gophkeys/internal/storage/view"
)

// Seams for tests.
var (
	openDB               = repomanager.Open
	newRepositoryManager = repomanager.NewPostgresRepositoryManager
	newS3View            = func(ctx context.Context, c view.S3Config) (view.View, error) { return view.NewS3(ctx, c) }
	cryptOptions         []cryptox.Option
)

// App owns every long-lived component of one keysctl invocation.
type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	repos  repomanager.RepositoryManager
	view   view.View

	crypt        *cryptox.Crypt
	keys         *keystorage.Storage
	directory    *directory.Directory
	settings     *configstore.Store
	keyManager   *keymanager.KeyManager
	migrator     *migrator.Migrator
	layout       *layoutmigration.Migration
	requirements *requirements.Checker
}

// NewApp connects to the database, applies schema migrations and builds
// every component. logOut receives JSON log lines.
func NewApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*App, error) {
	logger := logging.NewJSONLogger(logOut, cfg.LogLevel)

	v, err := newView(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	db, err := openDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	repos := newRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migrations error: %w", err)
	}

	dir, err := directory.FromDatabase(ctx, repos.Users(db))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("user directory error: %w", err)
	}

	// The checker must be able to report a bad cipher, so the provider is
	// built even when the name is unknown and left nil.
	crypt, cryptErr := cryptox.New(cfg.Cipher, cryptOptions...)
	var keyGen requirements.KeyGenerator
	if cryptErr == nil {
		keyGen = crypt
	}

	a := &App{
		config:       cfg,
		logger:       logger,
		db:           db,
		repos:        repos,
		view:         v,
		crypt:        crypt,
		keys:         keystorage.New(v, cfg.ModuleID, cfg.IsSystemMountPoint),
		directory:    dir,
		settings:     configstore.New(db, repos),
		requirements: requirements.New(cfg.Cipher, keyGen, logger),
	}

	a.keyManager = keymanager.New(keymanager.Deps{
		Storage: a.keys,
		Crypto:  crypt,
		Config:  a.settings,
		Users:   dir,
		Session: session.New(),
		Logger:  logger,
		Util:    keymanager.NewRecoveryPolicy(repos.Encryption(db)),
	})
	a.migrator = migrator.New(repos.Encryption(db), v, a.keys, logger,
		migrator.WithStaleTimeout(cfg.MigrationStaleTimeout))
	a.layout = layoutmigration.New(v, db, repos, dir, cfg.ModuleID, logger,
		layoutmigration.WithBackup(cfg.BackupBeforeMigration))

	return a, nil
}

func newView(ctx context.Context, cfg *config.Config) (view.View, error) {
	switch cfg.StorageBackend {
	case config.StorageLocal, "":
		return view.NewLocal(cfg.DataDir)
	case config.StorageS3:
		return newS3View(ctx, view.S3Config{
			AccessKey:    cfg.S3RootUser,
			SecretKey:    cfg.S3RootPassword,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
			Bucket:       cfg.S3Bucket,
			UsePathStyle: true,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// Close releases the database connection.
func (a *App) Close() error {
	return a.db.Close()
}

// Logger returns the application logger.
func (a *App) Logger() logging.Logger {
	return a.logger
}

// Check runs the requirements gate. Operations that touch key material
// call it first.
func (a *App) Check(ctx context.Context) error {
	return a.requirements.Check(ctx)
}

// MigrateLayout runs the structural migration followed by the file cache
// and settings fix-ups. The database steps run even when some users failed
// so that a retry only needs to revisit those users.
func (a *App) MigrateLayout(ctx context.Context) (*layoutmigration.Report, error) {
	rep, moveErr := a.layout.ReorganizeFolderStructure(ctx)
	if err := ctx.Err(); err != nil {
		return rep, errors.Join(moveErr, err)
	}
	fixed, cacheErr := a.layout.UpdateFileCache(ctx)
	if rep != nil {
		rep.CacheRowsFixed = fixed
	}
	dbErr := a.layout.UpdateDB(ctx)
	return rep, errors.Join(moveErr, cacheErr, dbErr)
}

// MigrateUser runs the per-user migration of uid.
func (a *App) MigrateUser(ctx context.Context, uid string) (bool, error) {
	return a.migrator.Run(ctx, uid)
}

// MigrationStatus returns uid's per-user migration status.
func (a *App) MigrationStatus(ctx context.Context, uid string) (models.MigrationStatus, error) {
	return a.migrator.GetStatus(ctx, uid)
}

// ResetMigration clears a stale in-progress migration of uid.
func (a *App) ResetMigration(ctx context.Context, uid string) (bool, error) {
	return a.migrator.ResetMigration(ctx, uid)
}

// SetRecoveryKey generates a fresh recovery key pair protected by password.
func (a *App) SetRecoveryKey(ctx context.Context, password []byte) error {
	if err := a.Check(ctx); err != nil {
		return err
	}
	pair, err := a.crypt.GenerateKeyPair()
	if err != nil {
		return err
	}
	return a.keyManager.SetRecoveryKey(ctx, password, pair)
}

// CheckRecoveryPassword reports whether password opens the recovery key.
func (a *App) CheckRecoveryPassword(ctx context.Context, password []byte) (bool, error) {
	if err := a.Check(ctx); err != nil {
		return false, err
	}
	return a.keyManager.CheckRecoveryPassword(ctx, password)
}

func (a *App) ChangeRecoveryPassword(ctx context.Context, oldPassword, newPassword []byte) (bool, error) {
	if err := a.Check(ctx); err != nil {
		return false, err
	}
	return a.keyManager.ChangeRecoveryKeyPassword(ctx, oldPassword, newPassword)
}

// CreateUserKeys bootstraps a key pair for uid.
func (a *App) CreateUserKeys(ctx context.Context, uid string, passphrase []byte) error {
	if err := a.Check(ctx); err != nil {
		return err
	}
	ok, err := a.directory.UserExists(ctx, uid)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("unknown user %q", uid)
	}
	return a.keyManager.CreateUserKeys(ctx, uid, passphrase)
}

// SetRecoveryForUser records uid's recovery opt-in and brings the recovery
// share keys of uid's files in line with it. Enabling opens uid's private key
// with passphrase for the duration of the call; disabling ignores it.
func (a *App) SetRecoveryForUser(ctx context.Context, uid string, enabled bool, passphrase []byte) (*keymanager.RecoveryReport, error) {
	if err := a.Check(ctx); err != nil {
		return nil, err
	}
	sess := session.New()
	defer sess.Clear()
	km := a.keyManager.WithSession(sess)
	if enabled && len(passphrase) > 0 {
		ok, err := km.Init(ctx, uid, passphrase)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%s: wrong login password or no key pair", uid)
		}
	}
	return km.SetRecoveryForUser(ctx, uid, enabled)
}

// RecoverUser replaces uid's key pair with a new one protected by
// newPassphrase and re-shares every file key that carries a recovery share
// key. The recovery password is verified before the old pair is removed.
func (a *App) RecoverUser(ctx context.Context, uid string, recoveryPassword, newPassphrase []byte) (*keymanager.RecoveryReport, error) {
	if err := a.Check(ctx); err != nil {
		return nil, err
	}
	exists, err := a.directory.UserExists(ctx, uid)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("unknown user %q", uid)
	}
	ok, err := a.keyManager.CheckRecoveryPassword(ctx, recoveryPassword)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("wrong recovery password")
	}
	if err := a.keyManager.DeleteUserKeys(ctx, uid); err != nil {
		return nil, err
	}
	if err := a.keyManager.CreateUserKeys(ctx, uid, newPassphrase); err != nil {
		return nil, err
	}
	return a.keyManager.RecoverUsersFiles(ctx, uid, recoveryPassword)
}

// MoveFileKeys follows a file move from src to dst.
func (a *App) MoveFileKeys(ctx context.Context, src, dst string) error {
	if err := a.Check(ctx); err != nil {
		return err
	}
	return a.keyManager.RenameFileKeys(ctx, src, dst)
}

// CopyFileKeys follows a file copy from src to dst.
func (a *App) CopyFileKeys(ctx context.Context, src, dst string) error {
	if err := a.Check(ctx); err != nil {
		return err
	}
	return a.keyManager.CopyFileKeys(ctx, src, dst)
}

// SetRecoveryAdminEnabled flips the installation-wide recovery switch.
func (a *App) SetRecoveryAdminEnabled(ctx context.Context, enabled bool) error {
	v := "0"
	if enabled {
		v = "1"
	}
	return a.settings.SetAppValue(ctx, common.AppID, common.RecoveryAdminEnabledSetting, v)
}
