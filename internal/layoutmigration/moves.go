package layoutmigration

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dmitrijs2005/gophkeys/internal/common"
	"github.com/dmitrijs2005/gophkeys/internal/storage/view"
)

// moveKey moves one key file. A missing source with an existing target is a
// move done by an earlier run; both missing is logged and tolerated since
// optional keys are absent on many installations.
func (m *Migration) moveKey(ctx context.Context, uid, src, dst string, rep *Report) error {
	err := m.doMove(ctx, uid, src, dst, rep)
	if err != nil {
		rep.Failed++
		m.log.Warn(ctx, "could not move key", "user", uid, "path", src, "target", dst, "error", err)
		return fmt.Errorf("move %s: %w", src, err)
	}
	return nil
}

func (m *Migration) doMove(ctx context.Context, uid, src, dst string, rep *Report) error {
	srcExists, err := m.view.FileExists(ctx, src)
	if err != nil {
		return err
	}
	if srcExists {
		if err := m.view.Mkdir(ctx, path.Dir(dst)); err != nil {
			return err
		}
		if err := m.view.Rename(ctx, src, dst); err != nil {
			return err
		}
		rep.Moved++
		return nil
	}

	dstExists, err := m.view.FileExists(ctx, dst)
	if err != nil {
		return err
	}
	if dstExists {
		rep.AlreadyDone++
		return nil
	}
	rep.Missing++
	m.log.Warn(ctx, "key missing in both layouts", "user", uid, "path", src, "target", dst)
	return nil
}

func (m *Migration) moveUserKeys(ctx context.Context, uid string, rep *Report) error {
	root := encryptionRoot(uid)
	target := path.Join(root, m.moduleID)

	privName := uid + "." + common.PrivateKeyType
	pubName := uid + "." + common.PublicKeyType
	return errors.Join(
		m.moveKey(ctx, uid, path.Join(root, privName), path.Join(target, privName), rep),
		m.moveKey(ctx, uid, path.Join(encryptionRoot(""), publicKeysDir, pubName), path.Join(target, pubName), rep),
	)
}

// moveSystemKeys moves the private keys lying directly in the system key
// root together with their public halves from public_keys/. Public keys of
// known users are left for their owners' runs.
func (m *Migration) moveSystemKeys(ctx context.Context, users map[string]bool, rep *Report) error {
	root := encryptionRoot("")
	target := path.Join(root, m.moduleID)
	pubDir := path.Join(root, publicKeysDir)

	ids := make(map[string]bool)
	var order []string
	collect := func(dir, suffix string, skipUsers bool) error {
		entries, err := m.view.ReadDir(ctx, dir)
		if view.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, e := range entries {
			id, ok := strings.CutSuffix(e.Name, "."+suffix)
			if e.IsDir || !ok || ids[id] || (skipUsers && users[id]) {
				continue
			}
			ids[id] = true
			order = append(order, id)
		}
		return nil
	}
	if err := errors.Join(
		collect(root, common.PrivateKeyType, false),
		collect(target, common.PrivateKeyType, false),
		collect(pubDir, common.PublicKeyType, true),
	); err != nil {
		return err
	}

	var errs []error
	for _, id := range order {
		priv := id + "." + common.PrivateKeyType
		pub := id + "." + common.PublicKeyType
		errs = append(errs,
			m.moveKey(ctx, "", path.Join(root, priv), path.Join(target, priv), rep),
			m.moveKey(ctx, "", path.Join(pubDir, pub), path.Join(target, pub), rep),
		)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	entries, err := m.view.ReadDir(ctx, pubDir)
	if err == nil && len(entries) == 0 {
		return m.view.Remove(ctx, pubDir)
	}
	return nil
}

// moveKeyTree moves every key below src into dst, inserting the module id
// after each file's directory: src/<rel>/<key> -> dst/<rel>/<module>/<key>.
// Failures are collected; the remaining keys are still moved.
func (m *Migration) moveKeyTree(ctx context.Context, uid, src, dst string, rep *Report) error {
	var errs []error
	var walk func(rel string) error
	walk = func(rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
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
			errs = append(errs, m.moveKey(ctx, uid,
				path.Join(src, rel, e.Name),
				path.Join(dst, rel, m.moduleID, e.Name), rep))
		}
		return nil
	}
	if err := walk(""); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
