package identity

import (
	"database/sql"

	"github.com/google/wire"
)

// ProvideProvider is a Wire provider function that creates the Postgres
// profile provider.
func ProvideProvider(db *sql.DB) Provider {
	return NewPostgresProvider(db)
}

var Set = wire.NewSet(ProvideProvider)
