// Package layoutmigration performs the one-time, system-wide move of every
// user's key files from the flat legacy layout into the module-namespaced
// layout, and repairs the database state that goes with it.
//
// It is meant to run during an upgrade window with the application in
// maintenance mode; concurrent writes to key files are not guarded against.
package layoutmigration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/gophkeys/internal/common"
	"github.com/dmitrijs2005/gophkeys/internal/logging"
	"github.com/dmitrijs2005/gophkeys/internal/repositories/repomanager"
	"github.com/dmitrijs2005/gophkeys/internal/storage/view"
)

const (
	keysDir       = "keys"
	stageDir      = "legacy_keys"
	publicKeysDir = "public_keys"
	trashDir      = "files_trashbin"
	markerName    = ".layout_migrated"
	intentName    = ".layout_migrating"
	backupPrefix  = "encryption_migration_backup_"
)

// UserLister enumerates all known users.
type UserLister interface {
	AllUsers(ctx context.Context) ([]string, error)
}

// Report summarises one structural migration run. CacheRowsFixed is filled
// in by callers that also run UpdateFileCache.
type Report struct {
	Users          int
	Moved          int
	AlreadyDone    int
	Missing        int
	Failed         int
	FailedUsers    []string
	Backups        []string
	CacheRowsFixed int64
}

// Migration converts a whole installation from the legacy key layout to the
// namespaced one and cleans up the related database state.
type Migration struct {
	view     view.View
	db       *sql.DB
	rm       repomanager.RepositoryManager
	users    UserLister
	moduleID string
	backup   bool
	log      logging.Logger
	now      func() time.Time
}

// Option configures a Migration.
type Option func(*Migration)

// WithBackup copies each legacy tree aside before it is touched.
func WithBackup(enabled bool) Option {
	return func(m *Migration) { m.backup = enabled }
}

// WithClock replaces time.Now, which names backup directories.
func WithClock(now func() time.Time) Option {
	return func(m *Migration) { m.now = now }
}

// New returns a Migration over v and db. An empty moduleID means
// common.DefaultModuleID.
func New(v view.View, db *sql.DB, rm repomanager.RepositoryManager, users UserLister, moduleID string, log logging.Logger, opts ...Option) *Migration {
	if log == nil {
		log = logging.Discard()
	}
	if moduleID == "" {
		moduleID = common.DefaultModuleID
	}
	m := &Migration{
		view:     v,
		db:       db,
		rm:       rm,
		users:    users,
		moduleID: moduleID,
		log:      log.With("component", "layoutmigration"),
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// encryptionRoot is the legacy and new key root of uid; "" is the
// pseudo-user owning system-wide mount points and system keys.
func encryptionRoot(uid string) string {
	return path.Join("/", uid, common.LegacyAppID)
}

// ReorganizeFolderStructure moves the keys of every user and of the system.
// A failing user does not stop the others; all failures are joined into the
// returned error and the run can simply be repeated.
func (m *Migration) ReorganizeFolderStructure(ctx context.Context) (*Report, error) {
	rep := &Report{}

	uids, err := m.users.AllUsers(ctx)
	if err != nil {
		return rep, fmt.Errorf("list users: %w", err)
	}
	known := make(map[string]bool, len(uids))
	for _, uid := range uids {
		known[uid] = true
	}
	uids = append(uids, "")

	var errs []error
	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := m.view.IsDir(ctx, encryptionRoot(uid))
		if err != nil {
			errs = append(errs, fmt.Errorf("user %q: %w", uid, err))
			rep.FailedUsers = append(rep.FailedUsers, uid)
			continue
		}
		if !ok {
			continue
		}
		rep.Users++

		if err := m.migrateUser(ctx, uid, known, rep); err != nil {
			m.log.Error(ctx, "user key layout migration failed", "user", uid, "error", err)
			errs = append(errs, fmt.Errorf("user %q: %w", uid, err))
			rep.FailedUsers = append(rep.FailedUsers, uid)
		}
	}

	m.log.Info(ctx, "key layout reorganised",
		"users", rep.Users, "moved", rep.Moved, "already_done", rep.AlreadyDone,
		"missing", rep.Missing, "failed", rep.Failed)
	return rep, errors.Join(errs...)
}

func (m *Migration) markerPath(uid string) string {
	return path.Join(encryptionRoot(uid), m.moduleID, markerName)
}

// intentPath marks a user whose keys/ directory no longer holds legacy
// input: it was staged, or it was already namespaced. It is written before
// anything is moved below keys/.
func (m *Migration) intentPath(uid string) string {
	return path.Join(encryptionRoot(uid), m.moduleID, intentName)
}

func (m *Migration) stamp() []byte {
	return []byte(m.now().UTC().Format(time.RFC3339))
}

func (m *Migration) migrateUser(ctx context.Context, uid string, known map[string]bool, rep *Report) error {
	root := encryptionRoot(uid)
	stage := path.Join(root, stageDir)

	done, err := m.view.FileExists(ctx, m.markerPath(uid))
	if err != nil {
		return err
	}
	staged, err := m.view.IsDir(ctx, stage)
	if err != nil {
		return err
	}
	if done {
		// An earlier run finished but could not drop the stage.
		if staged {
			return m.view.RemoveAll(ctx, stage)
		}
		return nil
	}

	started, err := m.view.FileExists(ctx, m.intentPath(uid))
	if err != nil {
		return err
	}
	if !started {
		if err := m.prepare(ctx, uid, staged, rep); err != nil {
			return err
		}
		if err := m.view.WriteFile(ctx, m.intentPath(uid), m.stamp()); err != nil {
			return fmt.Errorf("write intent marker: %w", err)
		}
	}

	var errs []error
	if uid != "" {
		errs = append(errs, m.moveUserKeys(ctx, uid, rep))
	} else {
		errs = append(errs, m.moveSystemKeys(ctx, known, rep))
	}

	// System mounts keep their keys directly below keys/; user files go
	// below keys/files/.
	fileKeysDst := path.Join(root, keysDir, "files")
	if uid == "" {
		fileKeysDst = path.Join(root, keysDir)
	}
	errs = append(errs, m.moveKeyTree(ctx, uid, stage, fileKeysDst, rep))

	if uid != "" {
		trash := path.Join("/", uid, trashDir, keysDir)
		errs = append(errs, m.moveKeyTree(ctx, uid, trash, path.Join(root, keysDir, trashDir), rep))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	if err := m.view.WriteFile(ctx, m.markerPath(uid), m.stamp()); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	if err := m.removeIfDir(ctx, stage); err != nil {
		return err
	}
	if uid != "" {
		if err := m.removeIfDir(ctx, path.Join("/", uid, trashDir, keysDir)); err != nil {
			return err
		}
	}
	if err := m.view.Remove(ctx, m.intentPath(uid)); err != nil && !view.IsNotExist(err) {
		return fmt.Errorf("remove intent marker: %w", err)
	}
	return nil
}

// prepare takes the legacy keys/ tree out of the way before anything new
// is written below keys/. A tree that is already namespaced stays in place.
// A stage left by an interrupted rename gets the rest of keys/ swept in.
func (m *Migration) prepare(ctx context.Context, uid string, staged bool, rep *Report) error {
	keys := path.Join(encryptionRoot(uid), keysDir)
	stage := path.Join(encryptionRoot(uid), stageDir)

	hasKeys, err := m.view.IsDir(ctx, keys)
	if err != nil {
		return err
	}
	if hasKeys {
		namespaced, err := m.namespaced(ctx, keys)
		if err != nil {
			return err
		}
		if namespaced {
			rep.AlreadyDone++
			m.log.Info(ctx, "keys already in namespaced layout", "user", uid, "path", keys)
			hasKeys = false
		}
	}

	if m.backup && !staged {
		if err := m.backupTree(ctx, uid, rep); err != nil {
			return fmt.Errorf("backup: %w", err)
		}
	}

	switch {
	case !hasKeys:
		return nil
	case staged:
		return m.sweepInto(ctx, uid, keys, stage)
	}
	if err := m.view.Rename(ctx, keys, stage); err != nil {
		return fmt.Errorf("stage %s: %w", keys, err)
	}
	return nil
}

// namespaced reports whether dir holds a key file directly below a
// directory named after the module, which only the new layout produces.
func (m *Migration) namespaced(ctx context.Context, dir string) (bool, error) {
	entries, err := m.view.ReadDir(ctx, dir)
	if view.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if !e.IsDir {
			if path.Base(dir) == m.moduleID {
				return true, nil
			}
			continue
		}
		ok, err := m.namespaced(ctx, path.Join(dir, e.Name))
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// sweepInto completes a rename of src to dst that stopped half way, as a
// copy-then-delete rename on object storage can. Keys already copied to dst
// are dropped from src and the rest are moved over.
func (m *Migration) sweepInto(ctx context.Context, uid, src, dst string) error {
	var walk func(rel string) error
	walk = func(rel string) error {
		entries, err := m.view.ReadDir(ctx, path.Join(src, rel))
		if view.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir {
				if err := walk(path.Join(rel, e.Name)); err != nil {
					return err
				}
				continue
			}
			from, to := path.Join(src, rel, e.Name), path.Join(dst, rel, e.Name)
			copied, err := m.view.FileExists(ctx, to)
			if err != nil {
				return err
			}
			if copied {
				if err := m.view.Remove(ctx, from); err != nil {
					return err
				}
				continue
			}
			if err := m.view.Mkdir(ctx, path.Dir(to)); err != nil {
				return err
			}
			if err := m.view.Rename(ctx, from, to); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(""); err != nil {
		return fmt.Errorf("sweep %s: %w", src, err)
	}
	m.log.Warn(ctx, "completed interrupted staging", "user", uid, "path", src)
	return m.removeIfDir(ctx, src)
}

func (m *Migration) removeIfDir(ctx context.Context, p string) error {
	ok, err := m.view.IsDir(ctx, p)
	if err != nil || !ok {
		return err
	}
	if err := m.view.RemoveAll(ctx, p); err != nil {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}

func (m *Migration) backupTree(ctx context.Context, uid string, rep *Report) error {
	suffix := m.now().UTC().Format("20060102150405") + "_" + strings.SplitN(uuid.NewString(), "-", 2)[0]
	dst := path.Join("/", uid, backupPrefix+suffix, common.LegacyAppID)
	if err := m.view.Mkdir(ctx, path.Dir(dst)); err != nil {
		return err
	}
	if err := m.view.Copy(ctx, encryptionRoot(uid), dst); err != nil {
		return err
	}
	rep.Backups = append(rep.Backups, dst)
	m.log.Info(ctx, "legacy keys backed up", "user", uid, "path", dst)
	return nil
}
