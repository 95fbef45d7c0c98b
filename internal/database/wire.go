package database

import (
	"database/sql"

	"github.com/google/wire"
)

// ProvideSQLDB is a Wire provider function exposing the shared pool to
// the raw-SQL repositories.
func ProvideSQLDB(db *Database) (*sql.DB, error) {
	return db.SQLDB()
}

var Set = wire.NewSet(NewDatabase, ProvideSQLDB)
