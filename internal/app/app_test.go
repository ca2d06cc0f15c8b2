package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gophkeys/internal/common"
	"github.com/dmitrijs2005/gophkeys/internal/config"
	"github.com/dmitrijs2005/gophkeys/internal/cryptox"
	"github.com/dmitrijs2005/gophkeys/internal/repositories/repomanager"
	"github.com/dmitrijs2005/gophkeys/internal/storage/view"
)

type noMigrations struct {
	repomanager.RepositoryManager
	err error
}

func (m noMigrations) RunMigrations(context.Context, *sql.DB) error { return m.err }

const (
	qBackends = `(?s)^SELECT\s+DISTINCT\s+backend\s+FROM\s+users`
	qListUIDs = `(?s)^SELECT\s+uid\s+FROM\s+users\s+WHERE\s+backend\s*=\s*\$1`
	qGetApp   = `(?s)^SELECT\s+configvalue\s+FROM\s+appconfig`
	qExists   = `(?s)^SELECT\s+EXISTS`
)

func setup(t *testing.T, migrateErr error) (sqlmock.Sqlmock, *config.Config) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	origOpen, origRM, origOpts := openDB, newRepositoryManager, cryptOptions
	t.Cleanup(func() {
		openDB, newRepositoryManager, cryptOptions = origOpen, origRM, origOpts
		_ = db.Close()
	})
	openDB = func(context.Context, string) (*sql.DB, error) { return db, nil }
	newRepositoryManager = func() repomanager.RepositoryManager {
		return noMigrations{RepositoryManager: origRM(), err: migrateErr}
	}
	cryptOptions = []cryptox.Option{cryptox.WithKeyBits(1024)}

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DataDir = t.TempDir()
	return mock, cfg
}

func TestNewApp_Local(t *testing.T) {
	mock, cfg := setup(t, nil)
	mock.ExpectQuery(qBackends).WillReturnRows(sqlmock.NewRows([]string{"backend"}).AddRow("database"))

	var logs bytes.Buffer
	a, err := NewApp(context.Background(), cfg, &logs)
	require.NoError(t, err)
	assert.NotNil(t, a.Logger())
	assert.NoError(t, a.Check(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewApp_Errors(t *testing.T) {
	t.Run("unknown backend", func(t *testing.T) {
		_, cfg := setup(t, nil)
		cfg.StorageBackend = "ftp"
		_, err := NewApp(context.Background(), cfg, &bytes.Buffer{})
		assert.ErrorContains(t, err, "unknown storage backend")
	})

	t.Run("db", func(t *testing.T) {
		_, cfg := setup(t, nil)
		openDB = func(context.Context, string) (*sql.DB, error) { return nil, errors.New("refused") }
		_, err := NewApp(context.Background(), cfg, &bytes.Buffer{})
		assert.ErrorContains(t, err, "db init error: refused")
	})

	t.Run("migrations", func(t *testing.T) {
		mock, cfg := setup(t, errors.New("bad sql"))
		mock.ExpectClose()
		_, err := NewApp(context.Background(), cfg, &bytes.Buffer{})
		assert.ErrorContains(t, err, "db migrations error: bad sql")
	})

	t.Run("s3", func(t *testing.T) {
		_, cfg := setup(t, nil)
		cfg.StorageBackend = config.StorageS3
		orig := newS3View
		t.Cleanup(func() { newS3View = orig })
		var got view.S3Config
		newS3View = func(_ context.Context, c view.S3Config) (view.View, error) {
			got = c
			return nil, errors.New("no endpoint")
		}
		_, err := NewApp(context.Background(), cfg, &bytes.Buffer{})
		assert.ErrorContains(t, err, "storage init error")
		assert.Equal(t, "keys", got.Bucket)
		assert.True(t, got.UsePathStyle)
	})
}

func TestApp_BadCipherFailsCheck(t *testing.T) {
	mock, cfg := setup(t, nil)
	cfg.Cipher = "RC4"
	mock.ExpectQuery(qBackends).WillReturnRows(sqlmock.NewRows([]string{"backend"}))

	a, err := NewApp(context.Background(), cfg, &bytes.Buffer{})
	require.NoError(t, err)
	assert.ErrorIs(t, a.Check(context.Background()), common.ErrRequirementsNotMet)
	assert.ErrorIs(t, a.SetRecoveryKey(context.Background(), []byte("pw")), common.ErrRequirementsNotMet)
}

func TestApp_RecoveryKey(t *testing.T) {
	ctx := context.Background()
	mock, cfg := setup(t, nil)
	mock.ExpectQuery(qBackends).WillReturnRows(sqlmock.NewRows([]string{"backend"}))

	a, err := NewApp(ctx, cfg, &bytes.Buffer{})
	require.NoError(t, err)

	mock.ExpectQuery(qGetApp).WithArgs("encryption", "recoveryKeyId").WillReturnError(sql.ErrNoRows)
	require.NoError(t, a.SetRecoveryKey(ctx, []byte("admin-pw")))

	mock.ExpectQuery(qGetApp).WithArgs("encryption", "recoveryKeyId").WillReturnError(sql.ErrNoRows)
	ok, err := a.CheckRecoveryPassword(ctx, []byte("admin-pw"))
	require.NoError(t, err)
	assert.True(t, ok)

	exists, err := a.view.FileExists(ctx, "/files_encryption/OC_DEFAULT_MODULE/recovery_id.publicKey")
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApp_MigrateLayout_EmptyInstall(t *testing.T) {
	ctx := context.Background()
	mock, cfg := setup(t, nil)
	mock.ExpectQuery(qBackends).WillReturnRows(sqlmock.NewRows([]string{"backend"}).AddRow("database"))

	a, err := NewApp(ctx, cfg, &bytes.Buffer{})
	require.NoError(t, err)

	mock.ExpectQuery(qListUIDs).WithArgs("database").WillReturnRows(sqlmock.NewRows([]string{"uid"}).AddRow("alice"))
	mock.ExpectExec(`(?s)^UPDATE\s+filecache`).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectQuery(`(?s)^SELECT\s+COUNT`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectBegin()
	for range 3 {
		mock.ExpectExec(`(?s)^DELETE\s+FROM\s+appconfig`).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectQuery(`(?s)^SELECT\s+appid`).WillReturnRows(sqlmock.NewRows([]string{"appid", "configkey", "configvalue"}))
	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+appconfig`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`(?s)^SELECT\s+userid`).WillReturnRows(sqlmock.NewRows([]string{"userid", "appid", "configkey", "configvalue"}))
	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+preferences`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	rep, err := a.MigrateLayout(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Users)
	assert.Equal(t, int64(4), rep.CacheRowsFixed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApp_RecoverUser_WrongPasswordKeepsKeys(t *testing.T) {
	ctx := context.Background()
	mock, cfg := setup(t, nil)
	mock.ExpectQuery(qBackends).WillReturnRows(sqlmock.NewRows([]string{"backend"}).AddRow("database"))

	a, err := NewApp(ctx, cfg, &bytes.Buffer{})
	require.NoError(t, err)

	mock.ExpectQuery(qExists).WithArgs("database", "ghost").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	_, err = a.RecoverUser(ctx, "ghost", []byte("rpw"), []byte("new"))
	assert.ErrorContains(t, err, "unknown user")

	mock.ExpectQuery(qExists).WithArgs("database", "alice").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	require.NoError(t, a.CreateUserKeys(ctx, "alice", []byte("pw")))

	mock.ExpectQuery(qExists).WithArgs("database", "alice").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(qGetApp).WithArgs("encryption", "recoveryKeyId").WillReturnError(sql.ErrNoRows)
	_, err = a.RecoverUser(ctx, "alice", []byte("nope"), []byte("new"))
	assert.ErrorContains(t, err, "wrong recovery password")

	exists, err := a.view.FileExists(ctx, "/alice/files_encryption/OC_DEFAULT_MODULE/alice.privateKey")
	require.NoError(t, err)
	assert.True(t, exists, "old key pair survives a failed recovery")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApp_MoveAndCopyFileKeys(t *testing.T) {
	ctx := context.Background()
	mock, cfg := setup(t, nil)
	mock.ExpectQuery(qBackends).WillReturnRows(sqlmock.NewRows([]string{"backend"}))

	a, err := NewApp(ctx, cfg, &bytes.Buffer{})
	require.NoError(t, err)
	require.NoError(t, a.keys.SetFileKey(ctx, "/alice/files/a.txt", "fileKey", []byte("fk")))

	require.NoError(t, a.MoveFileKeys(ctx, "/alice/files/a.txt", "/alice/files/docs/b.txt"))
	require.NoError(t, a.CopyFileKeys(ctx, "/alice/files/docs/b.txt", "/alice/files/c.txt"))

	for _, p := range []string{"/alice/files/docs/b.txt", "/alice/files/c.txt"} {
		got, err := a.keys.GetFileKey(ctx, p, "fileKey")
		require.NoError(t, err)
		assert.Equal(t, "fk", string(got), p)
	}
	got, err := a.keys.GetFileKey(ctx, "/alice/files/a.txt", "fileKey")
	require.NoError(t, err)
	assert.Nil(t, got)
}
