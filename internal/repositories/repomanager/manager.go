// Package repomanager vends repository implementations bound to a DBTX and
// runs the embedded schema migrations.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophkeys/internal/dbx"
	"github.com/dmitrijs2005/gophkeys/internal/repositories/appconfig"
	"github.com/dmitrijs2005/gophkeys/internal/repositories/encryption"
	"github.com/dmitrijs2005/gophkeys/internal/repositories/filecache"
	"github.com/dmitrijs2005/gophkeys/internal/repositories/preferences"
	"github.com/dmitrijs2005/gophkeys/internal/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	AppConfig(db dbx.DBTX) appconfig.Repository
	Preferences(db dbx.DBTX) preferences.Repository
	FileCache(db dbx.DBTX) filecache.Repository
	Encryption(db dbx.DBTX) encryption.Repository
	Users(db dbx.DBTX) users.Repository
}
