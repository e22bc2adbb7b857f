package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/nimburion/asyncstorage/pkg/hoststore"
	"github.com/nimburion/asyncstorage/pkg/hoststore/storetest"
)

func newMockStore(t *testing.T, dialect Dialect) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewWithDB(db, dialect, "prefs", 0, nil)
	if err != nil {
		t.Fatalf("NewWithDB error: %v", err)
	}
	return s, mock
}

func TestStore_SQLiteContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) hoststore.Store {
		s, err := New(context.Background(), Config{
			Dialect: SQLite,
			DSN:     filepath.Join(t.TempDir(), "asyncstorage.db"),
			Table:   "contract",
		}, nil)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	}, storetest.Options{})
}

func TestStore_SQLiteTablesAreIsolated(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "shared.db")

	a, err := New(ctx, Config{Dialect: SQLite, DSN: dsn, Table: "origin_a"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := New(ctx, Config{Dialect: SQLite, DSN: dsn, Table: "origin_b"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if err := a.Set(ctx, "k", "from-a"); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ctx, "k", "from-b"); err != nil {
		t.Fatal(err)
	}
	if err := a.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if value, found, _ := b.Get(ctx, "k"); !found || value != "from-b" {
		t.Fatalf("clear leaked across tables: %q, %v", value, found)
	}
}

func TestStore_PostgresQueries(t *testing.T) {
	s, mock := newMockStore(t, Postgres)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO prefs (item_key, item_value) VALUES ($1, $2) ON CONFLICT (item_key) DO UPDATE SET item_value = EXCLUDED.item_value").
		WithArgs("theme", "dark").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT item_value FROM prefs WHERE item_key = $1").
		WithArgs("theme").
		WillReturnRows(sqlmock.NewRows([]string{"item_value"}).AddRow("dark"))
	mock.ExpectExec("DELETE FROM prefs WHERE item_key = $1").
		WithArgs("theme").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM prefs").
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := s.Set(ctx, "theme", "dark"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value, found, err := s.Get(ctx, "theme")
	if err != nil || !found || value != "dark" {
		t.Fatalf("Get() = %q, %v, %v", value, found, err)
	}
	if err := s.Remove(ctx, "theme"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock expectations: %v", err)
	}
}

func TestStore_MySQLQueries(t *testing.T) {
	s, mock := newMockStore(t, MySQL)
	ctx := context.Background()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS prefs (item_key VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL PRIMARY KEY, item_value LONGTEXT NOT NULL)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO prefs (item_key, item_value) VALUES (?, ?) ON DUPLICATE KEY UPDATE item_value = VALUES(item_value)").
		WithArgs("a", "1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT item_key FROM prefs").
		WillReturnRows(sqlmock.NewRows([]string{"item_key"}).AddRow("b").AddRow("a"))

	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := s.Set(ctx, "a", "1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	sort.Strings(keys)
	if !reflect.DeepEqual(keys, []string{"a", "b"}) {
		t.Fatalf("Keys() = %v", keys)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock expectations: %v", err)
	}
}

func TestStore_GetMissingRow(t *testing.T) {
	s, mock := newMockStore(t, Postgres)
	mock.ExpectQuery("SELECT item_value FROM prefs WHERE item_key = $1").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"item_value"}))

	value, found, err := s.Get(context.Background(), "nope")
	if err != nil || found || value != "" {
		t.Fatalf("Get() = %q, %v, %v; want absent", value, found, err)
	}
}

func TestStore_ErrorsAreWrapped(t *testing.T) {
	boom := errors.New("connection reset")
	s, mock := newMockStore(t, MySQL)
	ctx := context.Background()

	mock.ExpectQuery("SELECT item_value FROM prefs WHERE item_key = ?").WithArgs("k").WillReturnError(boom)
	mock.ExpectExec("INSERT INTO prefs (item_key, item_value) VALUES (?, ?) ON DUPLICATE KEY UPDATE item_value = VALUES(item_value)").
		WithArgs("k", "v").WillReturnError(boom)
	mock.ExpectExec("DELETE FROM prefs").WillReturnError(boom)

	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, boom) {
		t.Errorf("Get() error = %v", err)
	}
	if err := s.Set(ctx, "k", "v"); !errors.Is(err, boom) {
		t.Errorf("Set() error = %v", err)
	}
	if err := s.Clear(ctx); !errors.Is(err, boom) {
		t.Errorf("Clear() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock expectations: %v", err)
	}
}

func TestStore_HealthCheckAndClose(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewWithDB(db, Postgres, "prefs", 0, nil)
	if err != nil {
		t.Fatal(err)
	}

	mock.ExpectPing()
	mock.ExpectClose()

	if err := s.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock expectations: %v", err)
	}
}

func TestNewWithDB_RejectsBadTable(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := NewWithDB(db, SQLite, "prefs; DROP TABLE users", 0, nil); err == nil {
		t.Fatal("expected invalid table name error")
	}
}

func TestNew_RequiresDSN(t *testing.T) {
	if _, err := New(context.Background(), Config{Dialect: Postgres}, nil); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestTableName(t *testing.T) {
	tests := []struct {
		scope string
		want  string
	}{
		{"", "asyncstorage"},
		{"asyncstorage", "asyncstorage"},
		{" tenant_42 ", "tenant_42"},
		{"_9lives", "_9lives"},
	}
	for _, tt := range tests {
		got, err := TableName(tt.scope)
		if err != nil || got != tt.want {
			t.Errorf("TableName(%q) = %q, %v, want %q", tt.scope, got, err, tt.want)
		}
		if err := validateTable(got); err != nil {
			t.Errorf("TableName(%q) produced invalid identifier: %v", tt.scope, err)
		}
	}
}

// Each pair would land in one table if scopes were rewritten into identifiers.
func TestTableName_RejectsScopesThatWouldCollide(t *testing.T) {
	long := strings.Repeat("a", 63)
	pairs := [][2]string{
		{"tenant-42", "tenant_42"},
		{"Prefs", "prefs"},
		{"https://app.example.com", "https___app_example_com"},
		{long + "x", long + "y"},
		{"9lives", "_9lives"},
	}
	for _, pair := range pairs {
		if _, err := TableName(pair[0]); err == nil {
			t.Errorf("TableName(%q) accepted a scope that shares a table with %q", pair[0], pair[1])
		}
	}
}

func TestStore_MySQLRejectsKeysWiderThanColumn(t *testing.T) {
	s, mock := newMockStore(t, MySQL)
	ctx := context.Background()

	long := strings.Repeat("é", mysqlMaxKeyLength+1)
	err := s.Set(ctx, long, "v")
	if !errors.Is(err, ErrKeyTooLong) {
		t.Fatalf("Set() error = %v, want ErrKeyTooLong", err)
	}

	fits := strings.Repeat("é", mysqlMaxKeyLength)
	mock.ExpectExec("INSERT INTO prefs (item_key, item_value) VALUES (?, ?) ON DUPLICATE KEY UPDATE item_value = VALUES(item_value)").
		WithArgs(fits, "v").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.Set(ctx, fits, "v"); err != nil {
		t.Fatalf("Set() at the column width error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock expectations: %v", err)
	}
}

func TestDialect_MaxKeyLength(t *testing.T) {
	if got := MySQL.MaxKeyLength(); got != 255 {
		t.Errorf("MySQL.MaxKeyLength() = %d", got)
	}
	if got := Postgres.MaxKeyLength(); got != 0 {
		t.Errorf("Postgres.MaxKeyLength() = %d", got)
	}
	if got := SQLite.MaxKeyLength(); got != 0 {
		t.Errorf("SQLite.MaxKeyLength() = %d", got)
	}
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{"PostgreSQL": Postgres, "mariadb": MySQL, " sqlite3 ": SQLite} {
		got, err := ParseDialect(in)
		if err != nil || got != want {
			t.Errorf("ParseDialect(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseDialect("oracle"); err == nil {
		t.Error("expected error for unknown dialect")
	}
}
