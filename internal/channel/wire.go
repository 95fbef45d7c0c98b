package channel

import (
	"database/sql"

	"github.com/google/wire"
	"github.com/rs/zerolog"
)

// ProvideRepository is a Wire provider function that creates the Postgres
// channel repository.
func ProvideRepository(db *sql.DB) Repository {
	return NewPostgresRepository(db)
}

// ProvideDirectory is a Wire provider function that creates the Directory.
func ProvideDirectory(repo Repository, log zerolog.Logger) *Directory {
	return NewDirectory(repo, log)
}

var Set = wire.NewSet(ProvideRepository, ProvideDirectory)
