package tenant

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/everimpact/coverage-service/internal/apperr"
)

func newGormWithMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("gorm.Open error: %v", err)
	}
	return gdb, mock, db
}

func TestNewSchemaName_DistinctAndWellFormed(t *testing.T) {
	a := NewSchemaName()
	b := NewSchemaName()
	if a == b {
		t.Fatalf("schema names collide: %q", a)
	}
	for _, name := range []string{a, b} {
		if !schemaNamePattern.MatchString(name) {
			t.Fatalf("schema name %q does not match %q", name, schemaNamePattern)
		}
	}
}

func TestCreateCoverage_EmptyName(t *testing.T) {
	gdb, mock, db := newGormWithMock(t)
	defer db.Close()

	_, err := NewProvisioner(gdb).CreateCoverage(context.Background(), "   ")
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no SQL should run for an empty name: %v", err)
	}
}

func TestCreateCoverage_Conflict_NoSchemaCreated(t *testing.T) {
	gdb, mock, db := newGormWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "name", "schema_name", "provisioned"}).
		AddRow("c1", "Dijon", "schema_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", true)
	mock.ExpectQuery(`SELECT .* FROM "coverage" WHERE name = \$1`).
		WithArgs("Dijon", 1).
		WillReturnRows(rows)

	_, err := NewProvisioner(gdb).CreateCoverage(context.Background(), "Dijon")
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	// No INSERT, CREATE SCHEMA or CREATE TABLE may follow the duplicate hit.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected statements after conflict: %v", err)
	}
}

func TestCreateCoverage_DuplicateInsert_Conflict(t *testing.T) {
	gdb, mock, db := newGormWithMock(t)
	defer db.Close()

	// A concurrent create can slip past the name pre-check; the unique
	// index then rejects the insert and that still surfaces as a conflict.
	mock.ExpectQuery(`SELECT .* FROM "coverage" WHERE name = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "coverage"`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	_, err := NewProvisioner(gdb).CreateCoverage(context.Background(), "Dijon")
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no DDL may follow the failed insert: %v", err)
	}
}

func TestCreateCoverage_LookupFailure_IsInfrastructure(t *testing.T) {
	gdb, mock, db := newGormWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM "coverage" WHERE name = \$1`).
		WillReturnError(sql.ErrConnDone)

	_, err := NewProvisioner(gdb).CreateCoverage(context.Background(), "Dijon")
	if apperr.KindOf(err) != apperr.KindInfrastructure {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}

func TestCreateCoverage_ProvisionsSchemaAndTables(t *testing.T) {
	gdb, mock, db := newGormWithMock(t)
	defer db.Close()

	// Table DDL and index order varies per run, so expectations are unordered.
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery(`SELECT .* FROM "coverage" WHERE name = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "coverage"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok := sqlmock.NewResult(0, 0)
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "schema_[0-9a-f]{32}"`).WillReturnResult(ok)
	mock.ExpectExec(`CREATE TABLE "schema_[0-9a-f]{32}"\."sensor" `).WillReturnResult(ok)
	mock.ExpectExec(`CREATE TABLE "schema_[0-9a-f]{32}"\."sensor_reading" `).WillReturnResult(ok)
	mock.ExpectExec(`CREATE TABLE "schema_[0-9a-f]{32}"\."sink" `).WillReturnResult(ok)
	// date_time + device_id on sensor_reading, date_time on sink
	mock.ExpectExec(`CREATE INDEX`).WillReturnResult(ok)
	mock.ExpectExec(`CREATE INDEX`).WillReturnResult(ok)
	mock.ExpectExec(`CREATE INDEX`).WillReturnResult(ok)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "coverage" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	cov, err := NewProvisioner(gdb).CreateCoverage(context.Background(), "Test1")
	if err != nil {
		t.Fatalf("CreateCoverage error: %v", err)
	}
	if cov.ID == "" || cov.SchemaName == "" {
		t.Fatalf("descriptor incomplete: %+v", cov)
	}
	if !cov.Provisioned {
		t.Fatal("coverage should be marked provisioned")
	}
	if !schemaNamePattern.MatchString(cov.SchemaName) {
		t.Fatalf("unexpected schema name %q", cov.SchemaName)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateCoverage_TableFailure_RollsBack(t *testing.T) {
	gdb, mock, db := newGormWithMock(t)
	defer db.Close()

	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery(`SELECT .* FROM "coverage" WHERE name = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "coverage"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok := sqlmock.NewResult(0, 0)
	mock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "schema_[0-9a-f]{32}"`).WillReturnResult(ok)
	mock.ExpectExec(`CREATE TABLE "schema_[0-9a-f]{32}"\."sensor" `).
		WillReturnError(sql.ErrConnDone)

	// rollback: drop the schema, delete the descriptor
	mock.ExpectExec(`DROP SCHEMA IF EXISTS "schema_[0-9a-f]{32}" CASCADE`).WillReturnResult(ok)
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "coverage"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := NewProvisioner(gdb).CreateCoverage(context.Background(), "Test1")
	if apperr.KindOf(err) != apperr.KindInfrastructure {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
