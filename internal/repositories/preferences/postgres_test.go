package preferences

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gophkeys/internal/common"
	"github.com/dmitrijs2005/gophkeys/internal/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresRepository(db), mock
}

func TestGetValue(t *testing.T) {
	q := `(?s)^SELECT\s+configvalue\s+FROM\s+preferences\s+WHERE\s+userid\s*=\s*\$1\s+AND\s+appid\s*=\s*\$2\s+AND\s+configkey\s*=\s*\$3`

	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(q).WithArgs("alice", "encryption", "recovery").
		WillReturnRows(sqlmock.NewRows([]string{"configvalue"}).AddRow("1"))
	mock.ExpectQuery(q).WithArgs("bob", "encryption", "recovery").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(q).WithArgs("carol", "encryption", "recovery").WillReturnError(errors.New("conn reset"))

	v, err := repo.GetValue(context.Background(), "alice", "encryption", "recovery")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	_, err = repo.GetValue(context.Background(), "bob", "encryption", "recovery")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = repo.GetValue(context.Background(), "carol", "encryption", "recovery")
	assert.Regexp(t, `db error: .*conn reset`, err.Error())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetValue(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	q := `(?s)^INSERT\s+INTO\s+preferences\s*\(userid,\s*appid,\s*configkey,\s*configvalue\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4\)\s*ON\s+CONFLICT`
	mock.ExpectExec(q).WithArgs("alice", "encryption", "recovery", "0").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetValue(context.Background(), "alice", "encryption", "recovery", "0"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListApp(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	q := `(?s)^SELECT\s+userid,\s*appid,\s*configkey,\s*configvalue\s+FROM\s+preferences\s+WHERE\s+appid\s*=\s*\$1`
	mock.ExpectQuery(q).WithArgs("files_encryption").
		WillReturnRows(sqlmock.NewRows([]string{"userid", "appid", "configkey", "configvalue"}).
			AddRow("alice", "files_encryption", "recovery_enabled", "1"))

	got, err := repo.ListApp(context.Background(), "files_encryption")
	require.NoError(t, err)
	assert.Equal(t, []models.Preference{{UserID: "alice", AppID: "files_encryption", Key: "recovery_enabled", Value: "1"}}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteApp(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+preferences\s+WHERE\s+appid\s*=\s*\$1`).
		WithArgs("files_encryption").WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, repo.DeleteApp(context.Background(), "files_encryption"))
	require.NoError(t, mock.ExpectationsWereMet())
}
