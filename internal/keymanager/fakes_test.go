package keymanager

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/dmitrijs2005/gophkeys/internal/common"
	"github.com/dmitrijs2005/gophkeys/internal/cryptox"
)

type call struct {
	op, a, b string
}

// fakeStorage keeps keys in maps and records every mutating call.
type fakeStorage struct {
	mu       sync.Mutex
	user     map[string][]byte
	system   map[string][]byte
	file     map[string][]byte
	calls    []call
	failOn   map[string]error // keyed by "op:arg"
	getError error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		user:   map[string][]byte{},
		system: map[string][]byte{},
		file:   map[string][]byte{},
		failOn: map[string]error{},
	}
}

func (f *fakeStorage) fail(op, arg string) error {
	return f.failOn[op+":"+arg]
}

func (f *fakeStorage) record(op, a, b string) {
	f.calls = append(f.calls, call{op, a, b})
}

func (f *fakeStorage) GetUserKey(_ context.Context, uid, keyType string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getError != nil {
		return nil, f.getError
	}
	return f.user[uid+"."+keyType], nil
}

func (f *fakeStorage) SetUserKey(_ context.Context, uid, keyType string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetUserKey", uid, keyType)
	if err := f.fail("SetUserKey", uid+"."+keyType); err != nil {
		return err
	}
	f.user[uid+"."+keyType] = bytes.Clone(data)
	return nil
}

func (f *fakeStorage) GetSystemUserKey(_ context.Context, keyID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getError != nil {
		return nil, f.getError
	}
	return f.system[keyID], nil
}

func (f *fakeStorage) SetSystemUserKey(_ context.Context, keyID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetSystemUserKey", keyID, "")
	if err := f.fail("SetSystemUserKey", keyID); err != nil {
		return err
	}
	f.system[keyID] = bytes.Clone(data)
	return nil
}

func (f *fakeStorage) DeleteSystemUserKey(_ context.Context, keyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteSystemUserKey", keyID, "")
	delete(f.system, keyID)
	return nil
}

func (f *fakeStorage) GetFileKey(_ context.Context, path, keyID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file[path+"|"+keyID], nil
}

func (f *fakeStorage) SetFileKey(_ context.Context, path, keyID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SetFileKey", path, keyID)
	if err := f.fail("SetFileKey", keyID); err != nil {
		return err
	}
	f.file[path+"|"+keyID] = bytes.Clone(data)
	return nil
}

func (f *fakeStorage) DeleteFileKey(_ context.Context, path, keyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteFileKey", path, keyID)
	delete(f.file, path+"|"+keyID)
	return nil
}

func (f *fakeStorage) DeleteAllFileKeys(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteAllFileKeys", path, "")
	for k := range f.file {
		if strings.HasPrefix(k, path+"|") {
			delete(f.file, k)
		}
	}
	return nil
}

func (f *fakeStorage) DeleteUserKey(_ context.Context, uid, keyType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("DeleteUserKey", uid, keyType)
	if err := f.fail("DeleteUserKey", uid+"."+keyType); err != nil {
		return err
	}
	delete(f.user, uid+"."+keyType)
	return nil
}

func (f *fakeStorage) ListFileKeyIDs(_ context.Context, path string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for k := range f.file {
		if id, ok := strings.CutPrefix(k, path+"|"); ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (f *fakeStorage) ListKeyedFiles(_ context.Context, uid string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := "/" + uid + "/files/"
	var out []string
	for k := range f.file {
		p, _, _ := strings.Cut(k, "|")
		if strings.HasPrefix(p, prefix) && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (f *fakeStorage) relocate(src, dst string, keep bool) error {
	found := false
	for k, v := range f.file {
		if id, ok := strings.CutPrefix(k, src+"|"); ok {
			found = true
			f.file[dst+"|"+id] = bytes.Clone(v)
			if !keep {
				delete(f.file, k)
			}
		}
	}
	if !found {
		return common.ErrKeyNotFound
	}
	return nil
}

func (f *fakeStorage) RenameKeys(_ context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("RenameKeys", src, dst)
	return f.relocate(src, dst, false)
}

func (f *fakeStorage) CopyKeys(_ context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CopyKeys", src, dst)
	return f.relocate(src, dst, true)
}

// fakeCrypto "encrypts" by prefixing the length-tagged passphrase. Good
// enough to tell a right passphrase from a wrong one without RSA in every
// test.
type fakeCrypto struct {
	genErr error
	n      int
}

func (c *fakeCrypto) GenerateKeyPair() (*cryptox.KeyPair, error) {
	if c.genErr != nil {
		return nil, c.genErr
	}
	c.n++
	s := string(rune('a' + c.n))
	return &cryptox.KeyPair{PublicKey: []byte("pub-" + s), PrivateKey: []byte("priv-" + s)}, nil
}

func passTag(passphrase []byte) []byte {
	return append([]byte{byte(len(passphrase))}, passphrase...)
}

func (c *fakeCrypto) EncryptPrivateKey(privateKey, passphrase []byte) ([]byte, error) {
	return append(passTag(passphrase), privateKey...), nil
}

func (c *fakeCrypto) DecryptPrivateKey(encrypted, passphrase []byte) ([]byte, error) {
	tag := passTag(passphrase)
	if !bytes.HasPrefix(encrypted, tag) || len(encrypted) == len(tag) {
		return nil, common.ErrDecryptFailed
	}
	return bytes.Clone(encrypted[len(tag):]), nil
}

func (c *fakeCrypto) MultiKeyEncrypt(data []byte, publicKeys map[string][]byte) ([]byte, map[string][]byte, error) {
	shares := make(map[string][]byte, len(publicKeys))
	for id, pub := range publicKeys {
		shares[id] = append([]byte("share:"), pub...)
	}
	return append([]byte("sealed:"), data...), shares, nil
}

func (c *fakeCrypto) MultiKeyDecrypt(data, shareKey, privateKey []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, []byte("sealed:")) {
		return nil, common.ErrDecryptFailed
	}
	// priv-x pairs with pub-x
	want := append([]byte("share:pub-"), bytes.TrimPrefix(privateKey, []byte("priv-"))...)
	if !bytes.Equal(shareKey, want) {
		return nil, common.ErrDecryptFailed
	}
	return bytes.Clone(data[len("sealed:"):]), nil
}

func (c *fakeCrypto) Hash(data []byte) string {
	return "h:" + string(data)
}

type fakeConfig map[string]string

func (c fakeConfig) GetAppValue(_ context.Context, app, key, def string) (string, error) {
	if v, ok := c[app+"."+key]; ok {
		return v, nil
	}
	return def, nil
}

type fakeUsers map[string]bool

func (u fakeUsers) UserExists(_ context.Context, uid string) (bool, error) {
	return u[uid], nil
}

type fakeUtil struct {
	enabled map[string]bool
}

func (u *fakeUtil) RecoveryEnabledForUser(_ context.Context, uid string) (bool, error) {
	return u.enabled[uid], nil
}

func (u *fakeUtil) SetRecoveryForUser(_ context.Context, uid string, enabled bool) error {
	if u.enabled == nil {
		u.enabled = map[string]bool{}
	}
	u.enabled[uid] = enabled
	return nil
}

var errDisk = errors.New("disk full")
