// Package directory enumerates users across the configured user backends.
package directory

import (
	"context"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/gophkeys/internal/repositories/users"
)

// Backend is one source of user accounts.
type Backend interface {
	Name() string
	Users(ctx context.Context) ([]string, error)
	UserExists(ctx context.Context, uid string) (bool, error)
}

// Directory answers user questions across all user backends.
type Directory struct {
	backends []Backend
}

func New(backends ...Backend) *Directory {
	return &Directory{backends: backends}
}

func (d *Directory) GetBackends() []Backend {
	return d.backends
}

// UserExists reports whether any backend knows uid.
func (d *Directory) UserExists(ctx context.Context, uid string) (bool, error) {
	for _, b := range d.backends {
		ok, err := b.UserExists(ctx, uid)
		if err != nil {
			return false, fmt.Errorf("backend %s: %w", b.Name(), err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// AllUsers returns the sorted union of all backends' users.
func (d *Directory) AllUsers(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, b := range d.backends {
		uids, err := b.Users(ctx)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", b.Name(), err)
		}
		for _, uid := range uids {
			seen[uid] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for uid := range seen {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out, nil
}

// DBBackend serves the users of one backend name from the users table.
type DBBackend struct {
	name string
	repo users.Repository
}

func NewDBBackend(name string, repo users.Repository) *DBBackend {
	return &DBBackend{name: name, repo: repo}
}

func (b *DBBackend) Name() string { return b.name }

func (b *DBBackend) Users(ctx context.Context) ([]string, error) {
	return b.repo.ListUIDs(ctx, b.name)
}

func (b *DBBackend) UserExists(ctx context.Context, uid string) (bool, error) {
	return b.repo.Exists(ctx, b.name, uid)
}

// FromDatabase builds one DBBackend per backend name found in the users table.
func FromDatabase(ctx context.Context, repo users.Repository) (*Directory, error) {
	names, err := repo.Backends(ctx)
	if err != nil {
		return nil, err
	}
	backends := make([]Backend, 0, len(names))
	for _, n := range names {
		backends = append(backends, NewDBBackend(n, repo))
	}
	return New(backends...), nil
}
