package migrations

import (
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// IsPostgreSQL reports whether db runs on PostgreSQL. Only PostgreSQL takes
// row locks for the read half of a merge; SQLite already serialises writers
// on its single connection.
func IsPostgreSQL(db *bun.DB) bool {
	return db.Dialect().Name() == dialect.PG
}
