package sqlstore

import (
	"fmt"
	"regexp"
	"strings"
)

// Dialect identifies the SQL flavour and the database/sql driver behind it.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// ParseDialect accepts the backend names used in configuration.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported sql dialect %q", name)
	}
}

// mysqlMaxKeyLength is the width of the MySQL item_key column in characters.
const mysqlMaxKeyLength = 255

// MaxKeyLength is the longest key the dialect stores, in characters. Zero
// means unbounded.
func (d Dialect) MaxKeyLength() int {
	if d == MySQL {
		return mysqlMaxKeyLength
	}
	return 0
}

// DriverName is the name registered with database/sql.
func (d Dialect) DriverName() string {
	return string(d)
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

var scopeTablePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// TableName maps a scope to a table identifier. Only scopes that already are
// lowercase unquoted identifiers are accepted, so distinct scopes never share
// a table once PostgreSQL folds case or MySQL ignores it.
func TableName(scope string) (string, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return "asyncstorage", nil
	}
	if !scopeTablePattern.MatchString(scope) {
		return "", fmt.Errorf("scope %q is not a lowercase sql identifier of at most 63 characters", scope)
	}
	return scope, nil
}

func validateTable(table string) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

type queries struct {
	createTable string
	get         string
	upsert      string
	remove      string
	clear       string
	keys        string
}

func (d Dialect) queries(table string) queries {
	q := queries{
		clear: "DELETE FROM " + table,
		keys:  "SELECT item_key FROM " + table,
	}
	switch d {
	case Postgres:
		q.createTable = "CREATE TABLE IF NOT EXISTS " + table + " (item_key TEXT PRIMARY KEY, item_value TEXT NOT NULL)"
		q.get = "SELECT item_value FROM " + table + " WHERE item_key = $1"
		q.upsert = "INSERT INTO " + table + " (item_key, item_value) VALUES ($1, $2) ON CONFLICT (item_key) DO UPDATE SET item_value = EXCLUDED.item_value"
		q.remove = "DELETE FROM " + table + " WHERE item_key = $1"
	case MySQL:
		q.createTable = "CREATE TABLE IF NOT EXISTS " + table + " (item_key VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL PRIMARY KEY, item_value LONGTEXT NOT NULL)"
		q.get = "SELECT item_value FROM " + table + " WHERE item_key = ?"
		q.upsert = "INSERT INTO " + table + " (item_key, item_value) VALUES (?, ?) ON DUPLICATE KEY UPDATE item_value = VALUES(item_value)"
		q.remove = "DELETE FROM " + table + " WHERE item_key = ?"
	default:
		q.createTable = "CREATE TABLE IF NOT EXISTS " + table + " (item_key TEXT PRIMARY KEY, item_value TEXT NOT NULL)"
		q.get = "SELECT item_value FROM " + table + " WHERE item_key = ?"
		q.upsert = "INSERT INTO " + table + " (item_key, item_value) VALUES (?, ?) ON CONFLICT (item_key) DO UPDATE SET item_value = excluded.item_value"
		q.remove = "DELETE FROM " + table + " WHERE item_key = ?"
	}
	return q
}
