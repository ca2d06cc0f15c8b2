package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/gophkeys/internal/config"
	"github.com/dmitrijs2005/gophkeys/internal/keymanager"
	"github.com/dmitrijs2005/gophkeys/internal/layoutmigration"
	"github.com/dmitrijs2005/gophkeys/internal/models"
)

type fakeApp struct {
	closed     bool
	checkErr   error
	migrated   []string
	recoveryPw string
	userPw     map[string]string
	adminOn    *bool
	optIn      map[string]bool
	loginPw    map[string]string
	moves      []string
}

func (f *fakeApp) Close() error {
	f.closed = true
	return nil
}

func (f *fakeApp) Check(context.Context) error { return f.checkErr }
func (f *fakeApp) MigrateLayout(context.Context) (*layoutmigration.Report, error) {
	return &layoutmigration.Report{Users: 2, Moved: 10, Failed: 1, FailedUsers: []string{"bob"}}, errors.New("user \"bob\": denied")
}
func (f *fakeApp) MigrateUser(_ context.Context, uid string) (bool, error) {
	for _, u := range f.migrated {
		if u == uid {
			return false, nil
		}
	}
	f.migrated = append(f.migrated, uid)
	return true, nil
}
func (f *fakeApp) MigrationStatus(context.Context, string) (models.MigrationStatus, error) {
	return models.MigrationInProgress, nil
}
func (f *fakeApp) ResetMigration(context.Context, string) (bool, error) { return false, nil }
func (f *fakeApp) SetRecoveryKey(_ context.Context, pw []byte) error {
	f.recoveryPw = string(pw)
	return nil
}
func (f *fakeApp) CheckRecoveryPassword(_ context.Context, pw []byte) (bool, error) {
	return string(pw) == f.recoveryPw, nil
}
func (f *fakeApp) ChangeRecoveryPassword(_ context.Context, oldPw, newPw []byte) (bool, error) {
	if string(oldPw) != f.recoveryPw {
		return false, nil
	}
	f.recoveryPw = string(newPw)
	return true, nil
}
func (f *fakeApp) CreateUserKeys(_ context.Context, uid string, pw []byte) error {
	if f.userPw == nil {
		f.userPw = map[string]string{}
	}
	f.userPw[uid] = string(pw)
	return nil
}
func (f *fakeApp) SetRecoveryForUser(_ context.Context, uid string, on bool, pw []byte) (*keymanager.RecoveryReport, error) {
	if on && string(pw) != f.userPw[uid] {
		return nil, errors.New("wrong login password")
	}
	if f.optIn == nil {
		f.optIn = map[string]bool{}
	}
	f.optIn[uid] = on
	return &keymanager.RecoveryReport{Files: 3, Updated: 2, Skipped: 1}, nil
}
func (f *fakeApp) RecoverUser(_ context.Context, uid string, recPw, newPw []byte) (*keymanager.RecoveryReport, error) {
	if string(recPw) != f.recoveryPw {
		return nil, errors.New("wrong recovery password")
	}
	f.userPw[uid] = string(newPw)
	return &keymanager.RecoveryReport{Files: 1, Updated: 1}, nil
}
func (f *fakeApp) MoveFileKeys(_ context.Context, src, dst string) error {
	f.moves = append(f.moves, "mv "+src+" "+dst)
	return nil
}
func (f *fakeApp) CopyFileKeys(_ context.Context, src, dst string) error {
	f.moves = append(f.moves, "cp "+src+" "+dst)
	return nil
}
func (f *fakeApp) SetRecoveryAdminEnabled(_ context.Context, on bool) error {
	f.adminOn = &on
	return nil
}

func withFake(t *testing.T, fa *fakeApp, answers ...string) {
	t.Helper()
	origApp, origPw := newApp, readPassword
	t.Cleanup(func() { newApp, readPassword = origApp, origPw })
	newApp = func(context.Context, *config.Config, io.Writer) (application, error) { return fa, nil }
	readPassword = func() ([]byte, error) {
		if len(answers) == 0 {
			return nil, io.EOF
		}
		a := answers[0]
		answers = answers[1:]
		return []byte(a), nil
	}
}

func runArgs(args ...string) (int, string, string) {
	var out, errOut bytes.Buffer
	cfg := &config.Config{}
	cfg.LoadDefaults()
	code := run(context.Background(), cfg, args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRun_Usage(t *testing.T) {
	withFake(t, &fakeApp{})
	code, _, errOut := runArgs()
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "usage: keysctl")

	code, _, _ = runArgs("-l", "debug", "bogus")
	assert.Equal(t, 2, code)
}

func TestRun_Check(t *testing.T) {
	fa := &fakeApp{}
	withFake(t, fa)
	code, out, _ := runArgs("-c", "conf.json", "check")
	assert.Equal(t, 0, code)
	assert.Equal(t, "ok\n", out)
	assert.True(t, fa.closed)

	fa.checkErr = errors.New("cipher missing")
	code, _, errOut := runArgs("check")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "cipher missing")
}

func TestRun_NewAppError(t *testing.T) {
	withFake(t, nil)
	newApp = func(context.Context, *config.Config, io.Writer) (application, error) { return nil, errors.New("db down") }
	code, _, errOut := runArgs("check")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "db down")
}

func TestRun_MigrateLayoutReportsPartialFailure(t *testing.T) {
	withFake(t, &fakeApp{})
	code, out, errOut := runArgs("migrate-layout")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "moved: 10")
	assert.Contains(t, out, "failed users: bob")
	assert.Contains(t, errOut, "denied")
}

func TestRun_MigrateUser(t *testing.T) {
	fa := &fakeApp{migrated: []string{"bob"}}
	withFake(t, fa)
	code, out, _ := runArgs("migrate-user", "alice", "bob")
	assert.Equal(t, 0, code)
	assert.Equal(t, "alice: migrated\nbob: nothing to do\n", out)

	code, _, _ = runArgs("migrate-user")
	assert.Equal(t, 2, code)
}

func TestRun_Status(t *testing.T) {
	withFake(t, &fakeApp{})
	code, out, _ := runArgs("status", "alice")
	assert.Equal(t, 0, code)
	assert.Equal(t, "alice: IN_PROGRESS\n", out)

	code, _, errOut := runArgs("reset-migration", "alice")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "no migration in progress")
}

func TestRun_Recovery(t *testing.T) {
	fa := &fakeApp{}
	withFake(t, fa, "s3cret", "s3cret", "s3cret", "wrong", "s3cret", "n3w", "n3w")

	code, _, _ := runArgs("recovery-set")
	require.Equal(t, 0, code)
	assert.Equal(t, "s3cret", fa.recoveryPw)

	code, out, _ := runArgs("recovery-check")
	assert.Equal(t, 0, code)
	assert.Equal(t, "ok\n", out)

	code, _, errOut := runArgs("recovery-check")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "wrong recovery password")

	code, _, _ = runArgs("recovery-change")
	assert.Equal(t, 0, code)
	assert.Equal(t, "n3w", fa.recoveryPw)
}

func TestRun_PasswordMismatch(t *testing.T) {
	fa := &fakeApp{}
	withFake(t, fa, "one", "two")
	code, _, errOut := runArgs("create-keys", "alice")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "passwords do not match")
	assert.Empty(t, fa.userPw)
}

func TestRun_CreateKeys(t *testing.T) {
	fa := &fakeApp{}
	withFake(t, fa, "pw", "pw")
	code, _, _ := runArgs("create-keys", "alice")
	assert.Equal(t, 0, code)
	assert.Equal(t, map[string]string{"alice": "pw"}, fa.userPw)
}

func TestRun_Switches(t *testing.T) {
	fa := &fakeApp{}
	withFake(t, fa)

	code, _, _ := runArgs("recovery-admin", "on")
	require.Equal(t, 0, code)
	require.NotNil(t, fa.adminOn)
	assert.True(t, *fa.adminOn)

	code, _, _ = runArgs("recovery-user", "alice", "off")
	assert.Equal(t, 0, code)
	assert.Equal(t, map[string]bool{"alice": false}, fa.optIn)

	code, _, _ = runArgs("recovery-admin", "maybe")
	assert.Equal(t, 2, code)
}

func TestRun_RecoveryUserOn(t *testing.T) {
	fa := &fakeApp{userPw: map[string]string{"alice": "pw"}}
	withFake(t, fa, "pw", "bad")

	code, out, _ := runArgs("recovery-user", "alice", "on")
	require.Equal(t, 0, code)
	assert.Equal(t, "alice: files: 3 updated: 2 skipped: 1\n", out)
	assert.True(t, fa.optIn["alice"])

	code, _, errOut := runArgs("recovery-user", "alice", "on")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "wrong login password")
}

func TestRun_RecoveryRecover(t *testing.T) {
	fa := &fakeApp{recoveryPw: "rpw", userPw: map[string]string{"alice": "old"}}
	withFake(t, fa, "rpw", "new", "new", "nope", "x", "x")

	code, out, _ := runArgs("recovery-recover", "alice")
	require.Equal(t, 0, code)
	assert.Equal(t, "alice: files: 1 updated: 1 skipped: 0\n", out)
	assert.Equal(t, "new", fa.userPw["alice"])

	code, _, errOut := runArgs("recovery-recover", "alice")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "wrong recovery password")
	assert.Equal(t, "new", fa.userPw["alice"])

	code, _, _ = runArgs("recovery-recover")
	assert.Equal(t, 2, code)
}

func TestRun_KeysMoveCopy(t *testing.T) {
	fa := &fakeApp{}
	withFake(t, fa)

	code, _, _ := runArgs("keys-move", "/alice/files/a", "/alice/files/b")
	require.Equal(t, 0, code)
	code, _, _ = runArgs("keys-copy", "/alice/files/b", "/alice/files/c")
	require.Equal(t, 0, code)
	assert.Equal(t, []string{"mv /alice/files/a /alice/files/b", "cp /alice/files/b /alice/files/c"}, fa.moves)

	code, _, _ = runArgs("keys-move", "/alice/files/a")
	assert.Equal(t, 2, code)
}
