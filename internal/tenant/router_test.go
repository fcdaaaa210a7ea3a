package tenant

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/everimpact/coverage-service/internal/apperr"
	"github.com/everimpact/coverage-service/internal/model"
)

const testSchema = "schema_0123456789abcdef0123456789abcdef"

func TestResolve_Unprovisioned(t *testing.T) {
	gdb, mock, db := newGormWithMock(t)
	defer db.Close()

	cov := &model.Coverage{ID: "c1", Name: "Dijon", SchemaName: testSchema, Provisioned: false}
	_, err := NewRouter(gdb).Resolve(context.Background(), cov)
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not-found for unprovisioned coverage, got %v", err)
	}
	if !strings.Contains(apperr.ClientMessage(err), "not provisioned") {
		t.Fatalf("message should name the unprovisioned case: %q", apperr.ClientMessage(err))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no SQL should run: %v", err)
	}
}

func TestResolve_SchemaDropped(t *testing.T) {
	gdb, mock, db := newGormWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT count\(\*\) FROM information_schema\.schemata WHERE schema_name = \$1`).
		WithArgs(testSchema).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	cov := &model.Coverage{ID: "c1", Name: "Dijon", SchemaName: testSchema, Provisioned: true}
	_, err := NewRouter(gdb).Resolve(context.Background(), cov)
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not-found for dropped schema, got %v", err)
	}
	if !strings.Contains(apperr.ClientMessage(err), "no longer exists") {
		t.Fatalf("message should name the dropped-schema case: %q", apperr.ClientMessage(err))
	}
}

func TestResolve_ScopesQueriesToSchema(t *testing.T) {
	gdb, mock, db := newGormWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT count\(\*\) FROM information_schema\.schemata WHERE schema_name = \$1`).
		WithArgs(testSchema).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	cov := &model.Coverage{ID: "c1", Name: "Dijon", SchemaName: testSchema, Provisioned: true}
	session, err := NewRouter(gdb).Resolve(context.Background(), cov)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	// Every query through the session must be rewritten to the schema.
	mock.ExpectQuery(`SELECT .* FROM "` + testSchema + `"\."sink"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	var sinks []model.Sink
	if err := session.Find(&sinks).Error; err != nil {
		t.Fatalf("Find through resolved session error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResolve_LookupFailure_IsInfrastructure(t *testing.T) {
	gdb, mock, db := newGormWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT count\(\*\) FROM information_schema\.schemata`).
		WillReturnError(context.DeadlineExceeded)

	cov := &model.Coverage{ID: "c1", Name: "Dijon", SchemaName: testSchema, Provisioned: true}
	_, err := NewRouter(gdb).Resolve(context.Background(), cov)
	if apperr.KindOf(err) != apperr.KindInfrastructure {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}
