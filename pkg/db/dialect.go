package db

import (
	"errors"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const uniqueViolationCode = "23505"

// IsUniqueViolation reports whether err is a unique-constraint failure from
// any of the supported drivers.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolationCode
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolationCode
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ConcatExpr returns a SQL expression concatenating the given operands in the
// dialect of gdb. Operands are emitted verbatim, so callers pass column names
// or placeholders.
func ConcatExpr(gdb *gorm.DB, operands ...string) string {
	if gdb.Dialector.Name() == TypeMySQL {
		return "CONCAT(" + strings.Join(operands, ", ") + ")"
	}
	return strings.Join(operands, " || ")
}
