package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/dmitrijs2005/gophkeys/internal/app"
	"github.com/dmitrijs2005/gophkeys/internal/common"
	"github.com/dmitrijs2005/gophkeys/internal/config"
	"github.com/dmitrijs2005/gophkeys/internal/flagx"
	"github.com/dmitrijs2005/gophkeys/internal/keymanager"
	"github.com/dmitrijs2005/gophkeys/internal/layoutmigration"
	"github.com/dmitrijs2005/gophkeys/internal/models"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = func() ([]byte, error) { return term.ReadPassword(int(os.Stdin.Fd())) }

// newApp is a test seam for app.NewApp.
var newApp = func(ctx context.Context, cfg *config.Config, logOut io.Writer) (application, error) {
	return app.NewApp(ctx, cfg, logOut)
}

type application interface {
	Close() error
	Check(ctx context.Context) error
	MigrateLayout(ctx context.Context) (*layoutmigration.Report, error)
	MigrateUser(ctx context.Context, uid string) (bool, error)
	MigrationStatus(ctx context.Context, uid string) (models.MigrationStatus, error)
	ResetMigration(ctx context.Context, uid string) (bool, error)
	SetRecoveryKey(ctx context.Context, password []byte) error
	CheckRecoveryPassword(ctx context.Context, password []byte) (bool, error)
	ChangeRecoveryPassword(ctx context.Context, oldPassword, newPassword []byte) (bool, error)
	CreateUserKeys(ctx context.Context, uid string, passphrase []byte) error
	SetRecoveryForUser(ctx context.Context, uid string, enabled bool, passphrase []byte) (*keymanager.RecoveryReport, error)
	SetRecoveryAdminEnabled(ctx context.Context, enabled bool) error
	RecoverUser(ctx context.Context, uid string, recoveryPassword, newPassphrase []byte) (*keymanager.RecoveryReport, error)
	MoveFileKeys(ctx context.Context, src, dst string) error
	CopyFileKeys(ctx context.Context, src, dst string) error
}

const usage = `usage: keysctl [flags] <command> [args]

commands:
  check                         verify the crypto backend is usable
  migrate-layout                move all keys to the namespaced layout
  migrate-user <uid>...         migrate legacy keys of the given users
  status <uid>                  show a user's migration status
  reset-migration <uid>         reset an interrupted migration
  create-keys <uid>             create a key pair for a user
  recovery-set                  create the recovery key
  recovery-check                verify the recovery password
  recovery-change               change the recovery password
  recovery-admin on|off         enable or disable recovery installation wide
  recovery-user <uid> on|off    set a user's recovery opt-in and sync its files
  recovery-recover <uid>        give a user a new password using the recovery key
  keys-move <src> <dst>         move the keys of a file after a rename
  keys-copy <src> <dst>         copy the keys of a file after a copy
`

var errUsage = errors.New("bad usage")

func run(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	pos := flagx.Positional(args, config.ValueFlags)
	if len(pos) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	a, err := newApp(ctx, cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "keysctl: %v\n", err)
		return 1
	}
	defer a.Close()

	err = dispatch(ctx, a, pos[0], pos[1:], stdout, stderr)
	switch {
	case errors.Is(err, errUsage):
		fmt.Fprint(stderr, usage)
		return 2
	case err != nil:
		fmt.Fprintf(stderr, "keysctl %s: %v\n", pos[0], err)
		return 1
	}
	return 0
}

func dispatch(ctx context.Context, a application, cmd string, args []string, stdout, stderr io.Writer) error {
	switch cmd {
	case "check":
		if err := a.Check(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "ok")
		return nil

	case "migrate-layout":
		rep, err := a.MigrateLayout(ctx)
		if rep != nil {
			fmt.Fprintf(stdout, "users: %d moved: %d already done: %d missing: %d failed: %d cache rows fixed: %d\n",
				rep.Users, rep.Moved, rep.AlreadyDone, rep.Missing, rep.Failed, rep.CacheRowsFixed)
			if len(rep.FailedUsers) > 0 {
				fmt.Fprintf(stdout, "failed users: %s\n", strings.Join(rep.FailedUsers, ", "))
			}
		}
		return err

	case "migrate-user":
		if len(args) == 0 {
			return errUsage
		}
		var errs []error
		for _, uid := range args {
			won, err := a.MigrateUser(ctx, uid)
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("%s: %w", uid, err))
			case won:
				fmt.Fprintf(stdout, "%s: migrated\n", uid)
			default:
				fmt.Fprintf(stdout, "%s: nothing to do\n", uid)
			}
		}
		return errors.Join(errs...)

	case "status":
		if len(args) != 1 {
			return errUsage
		}
		st, err := a.MigrationStatus(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s: %s\n", args[0], st)
		return nil

	case "reset-migration":
		if len(args) != 1 {
			return errUsage
		}
		ok, err := a.ResetMigration(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s has no migration in progress", args[0])
		}
		fmt.Fprintf(stdout, "%s: reset\n", args[0])
		return nil

	case "create-keys":
		if len(args) != 1 {
			return errUsage
		}
		pw, err := promptNew(stderr, "Login password for "+args[0])
		if err != nil {
			return err
		}
		defer common.WipeByteArray(pw)
		return a.CreateUserKeys(ctx, args[0], pw)

	case "recovery-set":
		pw, err := promptNew(stderr, "Recovery password")
		if err != nil {
			return err
		}
		defer common.WipeByteArray(pw)
		if err := a.SetRecoveryKey(ctx, pw); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "recovery key set")
		return nil

	case "recovery-check":
		pw, err := prompt(stderr, "Recovery password")
		if err != nil {
			return err
		}
		defer common.WipeByteArray(pw)
		ok, err := a.CheckRecoveryPassword(ctx, pw)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("wrong recovery password")
		}
		fmt.Fprintln(stdout, "ok")
		return nil

	case "recovery-change":
		oldPw, err := prompt(stderr, "Current recovery password")
		if err != nil {
			return err
		}
		defer common.WipeByteArray(oldPw)
		newPw, err := promptNew(stderr, "New recovery password")
		if err != nil {
			return err
		}
		defer common.WipeByteArray(newPw)
		ok, err := a.ChangeRecoveryPassword(ctx, oldPw, newPw)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("wrong recovery password")
		}
		fmt.Fprintln(stdout, "recovery password changed")
		return nil

	case "recovery-admin":
		if len(args) != 1 {
			return errUsage
		}
		on, err := parseSwitch(args[0])
		if err != nil {
			return err
		}
		return a.SetRecoveryAdminEnabled(ctx, on)

	case "recovery-user":
		if len(args) != 2 {
			return errUsage
		}
		on, err := parseSwitch(args[1])
		if err != nil {
			return err
		}
		var pw []byte
		if on {
			if pw, err = prompt(stderr, "Login password for "+args[0]); err != nil {
				return err
			}
			defer common.WipeByteArray(pw)
		}
		rep, err := a.SetRecoveryForUser(ctx, args[0], on, pw)
		printRecovery(stdout, args[0], rep)
		return err

	case "recovery-recover":
		if len(args) != 1 {
			return errUsage
		}
		recPw, err := prompt(stderr, "Recovery password")
		if err != nil {
			return err
		}
		defer common.WipeByteArray(recPw)
		newPw, err := promptNew(stderr, "New login password for "+args[0])
		if err != nil {
			return err
		}
		defer common.WipeByteArray(newPw)
		rep, err := a.RecoverUser(ctx, args[0], recPw, newPw)
		printRecovery(stdout, args[0], rep)
		return err

	case "keys-move", "keys-copy":
		if len(args) != 2 {
			return errUsage
		}
		if cmd == "keys-move" {
			return a.MoveFileKeys(ctx, args[0], args[1])
		}
		return a.CopyFileKeys(ctx, args[0], args[1])
	}
	return errUsage
}

func printRecovery(w io.Writer, uid string, rep *keymanager.RecoveryReport) {
	if rep == nil {
		return
	}
	fmt.Fprintf(w, "%s: files: %d updated: %d skipped: %d\n", uid, rep.Files, rep.Updated, rep.Skipped)
}

func parseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true", "yes":
		return true, nil
	case "off", "0", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("%w: expected on or off, got %q", errUsage, s)
}

func prompt(w io.Writer, label string) ([]byte, error) {
	fmt.Fprint(w, label+": ")
	pw, err := readPassword()
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	if len(pw) == 0 {
		return nil, errors.New("empty password")
	}
	return pw, nil
}

// promptNew asks twice and requires both answers to match.
func promptNew(w io.Writer, label string) ([]byte, error) {
	first, err := prompt(w, label)
	if err != nil {
		return nil, err
	}
	second, err := prompt(w, "Repeat "+strings.ToLower(label[:1])+label[1:])
	if err != nil {
		common.WipeByteArray(first)
		return nil, err
	}
	defer common.WipeByteArray(second)
	if !bytes.Equal(first, second) {
		common.WipeByteArray(first)
		return nil, errors.New("passwords do not match")
	}
	return first, nil
}
