package database

import (
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/schema"
)

// ForUpdate adds a row-locking clause on dialects that support it. SQLite
// (used by the tests) has a single writer, so the clause is omitted there
// and transactions serialize anyway.
func ForUpdate(q *bun.SelectQuery, db interface{ Dialect() schema.Dialect }) *bun.SelectQuery {
	if db.Dialect().Name() == dialect.PG {
		return q.For("UPDATE")
	}
	return q
}
