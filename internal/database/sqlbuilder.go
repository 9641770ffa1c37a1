package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

func Excluded(column string) string {
	return fmt.Sprintf("%s = EXCLUDED.%s", column, column)
}

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder(flavor sqlbuilder.Flavor) *InsertBuilder {
	return &InsertBuilder{flavor.NewInsertBuilder()}
}

// OnConflictUpdate appends an upsert clause. Assignments are raw SQL fragments, e.g. Excluded("col").
func (b *InsertBuilder) OnConflictUpdate(columns []string, assignments ...string) *InsertBuilder {
	b.SQL(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(columns, ", "), strings.Join(assignments, ", ")))
	return b
}

func (b *InsertBuilder) OnConflictDoNothing() *InsertBuilder {
	b.SQL("ON CONFLICT DO NOTHING")
	return b
}

// LockForUpdate adds a row lock on dialects that support one. SQLite relies on
// immediate transactions instead.
func LockForUpdate(sb *sqlbuilder.SelectBuilder) *sqlbuilder.SelectBuilder {
	if sb.Flavor() == sqlbuilder.PostgreSQL {
		sb.ForUpdate()
	}
	return sb
}

// LockForShare is LockForUpdate for readers that only need the row to stay put.
func LockForShare(sb *sqlbuilder.SelectBuilder) *sqlbuilder.SelectBuilder {
	if sb.Flavor() == sqlbuilder.PostgreSQL {
		sb.ForShare()
	}
	return sb
}

// IsUniqueViolation reports whether err is a unique constraint failure on either dialect.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}
