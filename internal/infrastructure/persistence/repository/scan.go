package repository

import (
	"database/sql"
	"strings"
	"time"

	"github.com/garyjia/school-liquidation/internal/application/port"
)

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// dbTime normalizes timestamps to whole UTC seconds so stored values compare
// consistently as text under sqlite
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return dbTime(*t)
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func fromNullInt(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

// placeholders returns "?, ?, ?" for n arguments
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs[T ~string](values []T) []interface{} {
	args := make([]interface{}, 0, len(values))
	for _, v := range values {
		args = append(args, string(v))
	}
	return args
}

// keysetClause selects rows sorting after a port.Cursor; bind it with keysetArgs
const keysetClause = `(created_at > ? OR (created_at = ? AND code > ?))`

func keysetArgs(after port.Cursor) []interface{} {
	at := dbTime(after.CreatedAt)
	return []interface{}{at, at, after.Code}
}
