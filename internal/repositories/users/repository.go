// Package users lists the accounts known to the database user backends.
package users

import "context"

type Repository interface {
	// Backends returns the distinct backend names that have users.
	Backends(ctx context.Context) ([]string, error)
	// ListUIDs returns the uids of one backend in uid order.
	ListUIDs(ctx context.Context, backend string) ([]string, error)
	Exists(ctx context.Context, backend, uid string) (bool, error)
}
