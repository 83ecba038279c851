package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strings"
	"testing"
	"testing/fstest"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func twoMigrations() fstest.MapFS {
	return fstest.MapFS{
		"sql/000002_two.up.sql":   {Data: []byte("CREATE TABLE two (id INT)")},
		"sql/000002_two.down.sql": {Data: []byte("DROP TABLE two")},
		"sql/000001_one.up.sql":   {Data: []byte("CREATE TABLE one (id INT)")},
		"sql/000001_one.down.sql": {Data: []byte("DROP TABLE one")},
		"sql/README.md":           {Data: []byte("ignored")},
	}
}

func checksum(script string) string {
	sum := sha256.Sum256([]byte(script))
	return hex.EncodeToString(sum[:])
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

// expectSession queues the lock, table bootstrap and applied-state read.
func expectSession(mock sqlmock.Sqlmock, applied *sqlmock.Rows) {
	mock.ExpectExec(`SELECT pg_advisory_lock`).WithArgs(advisoryLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS querypilot_schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT version, checksum FROM querypilot_schema_migrations`).WillReturnRows(applied)
}

func expectUnlock(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WithArgs(advisoryLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestLoadMigrationsSortsPairsAndChecksums(t *testing.T) {
	items, err := loadMigrations(twoMigrations())
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(items) != 2 || items[0].Version != 1 || items[1].Version != 2 {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Name != "one" || items[0].Checksum != checksum("CREATE TABLE one (id INT)") {
		t.Fatalf("first = %+v", items[0])
	}
}

func TestLoadMigrationsRejectsBrokenSources(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
		want string
	}{
		{
			name: "missing down",
			fsys: fstest.MapFS{"sql/000001_one.up.sql": {Data: []byte("SELECT 1")}},
			want: "missing down SQL",
		},
		{
			name: "blank up",
			fsys: fstest.MapFS{
				"sql/000001_one.up.sql":   {Data: []byte("  \n")},
				"sql/000001_one.down.sql": {Data: []byte("SELECT 1")},
			},
			want: "missing up SQL",
		},
		{
			name: "conflicting names",
			fsys: fstest.MapFS{
				"sql/000001_one.up.sql":   {Data: []byte("SELECT 1")},
				"sql/000001_uno.down.sql": {Data: []byte("SELECT 1")},
			},
			want: "conflicting names",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadMigrations(tt.fsys)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("loadMigrations() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestRunnerUpAppliesOnlyPendingMigrations(t *testing.T) {
	db, mock := newMock(t)
	expectSession(mock, sqlmock.NewRows([]string{"version", "checksum"}).AddRow(int64(1), checksum("CREATE TABLE one (id INT)")))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE two`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO querypilot_schema_migrations`).
		WithArgs(int64(2), "two", checksum("CREATE TABLE two (id INT)")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectUnlock(mock)

	applied, err := NewRunnerFS(twoMigrations()).Up(context.Background(), db, 0)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied = %d, want 1", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestRunnerUpRefusesDriftedSchema(t *testing.T) {
	db, mock := newMock(t)
	expectSession(mock, sqlmock.NewRows([]string{"version", "checksum"}).AddRow(int64(1), "stale"))
	expectUnlock(mock)

	applied, err := NewRunnerFS(twoMigrations()).Up(context.Background(), db, 0)
	if err == nil || !strings.Contains(err.Error(), "changed since they ran") {
		t.Fatalf("Up() error = %v", err)
	}
	if applied != 0 {
		t.Fatalf("applied = %d", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestRunnerDownRollsBackNewestFirst(t *testing.T) {
	db, mock := newMock(t)
	expectSession(mock, sqlmock.NewRows([]string{"version", "checksum"}).
		AddRow(int64(1), checksum("CREATE TABLE one (id INT)")).
		AddRow(int64(2), checksum("CREATE TABLE two (id INT)")))
	mock.ExpectBegin()
	mock.ExpectExec(`DROP TABLE two`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM querypilot_schema_migrations`).WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectUnlock(mock)

	rolledBack, err := NewRunnerFS(twoMigrations()).Down(context.Background(), db, 0)
	if err != nil || rolledBack != 1 {
		t.Fatalf("Down() = %d, %v", rolledBack, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestRunnerDownFailsForUnknownVersion(t *testing.T) {
	db, mock := newMock(t)
	expectSession(mock, sqlmock.NewRows([]string{"version", "checksum"}).AddRow(int64(9), ""))
	expectUnlock(mock)

	if _, err := NewRunnerFS(twoMigrations()).Down(context.Background(), db, 1); err == nil || !strings.Contains(err.Error(), "missing from source") {
		t.Fatalf("Down() error = %v", err)
	}
}

func TestRunnerStatusListsPendingAndDrifted(t *testing.T) {
	db, mock := newMock(t)
	expectSession(mock, sqlmock.NewRows([]string{"version", "checksum"}).AddRow(int64(1), "edited"))
	expectUnlock(mock)

	status, err := NewRunnerFS(twoMigrations()).Status(context.Background(), db)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(status.Applied) != 1 || len(status.Pending) != 1 || status.Pending[0] != 2 {
		t.Fatalf("status = %+v", status)
	}
	if len(status.Drifted) != 1 || status.Drifted[0] != 1 {
		t.Fatalf("drifted = %v", status.Drifted)
	}
}
