package query

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkbhex"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/everimpact/coverage-service/internal/apperr"
	"github.com/everimpact/coverage-service/internal/model"
)

const testSchema = "schema_0123456789abcdef0123456789abcdef"

// newTenantSession mimics the router's output: a gorm session whose tables
// are prefixed with the tenant schema, over a mocked connection.
func newTenantSession(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   testSchema + ".",
			SingularTable: true,
		},
	})
	if err != nil {
		t.Fatalf("gorm.Open error: %v", err)
	}
	return gdb, mock, db
}

func pointHex(t *testing.T, x, y, z float64) string {
	t.Helper()
	p := geom.NewPoint(geom.XYZ).MustSetCoords(geom.Coord{x, y, z})
	p.SetSRID(4326)
	s, err := ewkbhex.Encode(p, ewkbhex.NDR)
	if err != nil {
		t.Fatalf("ewkbhex.Encode error: %v", err)
	}
	return s
}

func readingRows(t *testing.T, n int) *sqlmock.Rows {
	t.Helper()
	rows := sqlmock.NewRows([]string{"id", "date_time", "device_id", "Sensor__id", "Sensor__geometry"})
	for i := 0; i < n; i++ {
		rows.AddRow(model.NewID(), time.Date(2022, 3, 23, 0, 0, 0, 0, time.UTC), 1, 1, pointHex(t, 5, 47, 0))
	}
	return rows
}

const validPolygon = "POLYGON ((4 46, 4 48, 6 48, 6 46, 4 46))"

func TestListSensorReadings_JoinsAndPaginates(t *testing.T) {
	gdb, mock, db := newTenantSession(t)
	defer db.Close()

	// LIMIT is always 5 and the offset is the raw page number.
	mock.ExpectQuery(`SELECT .* FROM "`+testSchema+`"\."sensor_reading" INNER JOIN "`+testSchema+`"\."sensor" "Sensor" ON .*LIMIT \$1 OFFSET \$2`).
		WithArgs(PageSize, 3).
		WillReturnRows(readingRows(t, 2))

	rows, err := NewEngine(time.Second).ListSensorReadings(context.Background(), gdb, 3)
	if err != nil {
		t.Fatalf("ListSensorReadings error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}
	for _, r := range rows {
		text, err := r.Sensor.Geometry.WKT()
		if err != nil || text == "" {
			t.Fatalf("sensor geometry not textual: %q, %v", text, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListSensorReadings_PageZeroOmitsOffset(t *testing.T) {
	gdb, mock, db := newTenantSession(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM "`+testSchema+`"\."sensor_reading" INNER JOIN .*LIMIT \$1`).
		WithArgs(PageSize).
		WillReturnRows(readingRows(t, 0))

	if _, err := NewEngine(0).ListSensorReadings(context.Background(), gdb, 0); err != nil {
		t.Fatalf("ListSensorReadings error: %v", err)
	}
}

func TestFilterSensorReadings_RequiresACriterion(t *testing.T) {
	gdb, mock, db := newTenantSession(t)
	defer db.Close()

	_, err := NewEngine(0).FilterSensorReadings(context.Background(), gdb, Filter{PageNo: 1})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no SQL should run: %v", err)
	}
}

func TestFilterSensorReadings_MalformedTimes(t *testing.T) {
	gdb, _, db := newTenantSession(t)
	defer db.Close()

	tests := []Filter{
		{StartTime: "2022-03-23", EndTime: "20221231235959"},
		{StartTime: "20220101000000", EndTime: "tomorrow"},
		{StartTime: "202201010000", EndTime: "20221231235959"}, // too short
	}
	for _, f := range tests {
		if _, err := NewEngine(0).FilterSensorReadings(context.Background(), gdb, f); apperr.KindOf(err) != apperr.KindValidation {
			t.Fatalf("filter %+v: expected validation error, got %v", f, err)
		}
	}
}

func TestFilterSensorReadings_MalformedPolygon(t *testing.T) {
	gdb, _, db := newTenantSession(t)
	defer db.Close()

	for _, poly := range []string{"POLYGON ((broken", "POINT (1 2)"} {
		_, err := NewEngine(0).FilterSensorReadings(context.Background(), gdb, Filter{Polygon: poly})
		if apperr.KindOf(err) != apperr.KindValidation {
			t.Fatalf("polygon %q: expected validation error, got %v", poly, err)
		}
	}
}

func TestFilterSensorReadings_TimeRange(t *testing.T) {
	gdb, mock, db := newTenantSession(t)
	defer db.Close()

	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2022, 12, 31, 23, 59, 59, 0, time.UTC)
	mock.ExpectQuery(`SELECT .* FROM "`+testSchema+`"\."sensor_reading" INNER JOIN .*sensor_reading\.date_time >= .* AND sensor_reading\.date_time <= .*LIMIT \$\d+`).
		WithArgs(start, end, PageSize).
		WillReturnRows(readingRows(t, 1))

	rows, err := NewEngine(0).FilterSensorReadings(context.Background(), gdb, Filter{
		StartTime: "20220101000000",
		EndTime:   "20221231235959",
	})
	if err != nil {
		t.Fatalf("FilterSensorReadings error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows", len(rows))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFilterSensorReadings_InvertedRangeIsEmptyNotError(t *testing.T) {
	gdb, mock, db := newTenantSession(t)
	defer db.Close()

	// start after end: the query simply matches nothing.
	mock.ExpectQuery(`SELECT .* FROM "` + testSchema + `"\."sensor_reading"`).
		WillReturnRows(readingRows(t, 0))

	rows, err := NewEngine(0).FilterSensorReadings(context.Background(), gdb, Filter{
		StartTime: "20221231235959",
		EndTime:   "20220101000000",
	})
	if err != nil {
		t.Fatalf("inverted range should not error: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty page, got %d rows", len(rows))
	}
}

func TestFilterSensorReadings_PolygonIntersection(t *testing.T) {
	gdb, mock, db := newTenantSession(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM "`+testSchema+`"\."sensor_reading" INNER JOIN .*ST_Intersects\("Sensor"\.geometry, ST_SetSRID\(ST_GeomFromText\(\$1\), 4326\)\).*LIMIT \$\d+`).
		WithArgs(validPolygon, PageSize).
		WillReturnRows(readingRows(t, 1))

	rows, err := NewEngine(0).FilterSensorReadings(context.Background(), gdb, Filter{Polygon: validPolygon})
	if err != nil {
		t.Fatalf("FilterSensorReadings error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows", len(rows))
	}
}

func TestFilterSensorReadings_TimeAndPolygonCombine(t *testing.T) {
	gdb, mock, db := newTenantSession(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM "` + testSchema + `"\."sensor_reading" INNER JOIN .*date_time >= .*date_time <= .*ST_Intersects`).
		WillReturnRows(readingRows(t, 1))

	_, err := NewEngine(0).FilterSensorReadings(context.Background(), gdb, Filter{
		StartTime: "20220101000000",
		EndTime:   "20221231235959",
		Polygon:   validPolygon,
	})
	if err != nil {
		t.Fatalf("FilterSensorReadings error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("filters must AND-combine in one query: %v", err)
	}
}

func TestListSinks_NullGeometryStaysNull(t *testing.T) {
	gdb, mock, db := newTenantSession(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "parcel_id", "geometry"}).
		AddRow("s1", "p1", nil)
	mock.ExpectQuery(`SELECT .* FROM "`+testSchema+`"\."sink" LIMIT \$1`).
		WithArgs(PageSize).
		WillReturnRows(rows)

	sinks, err := NewEngine(0).ListSinks(context.Background(), gdb, 0)
	if err != nil {
		t.Fatalf("ListSinks error: %v", err)
	}
	if len(sinks) != 1 {
		t.Fatalf("got %d sinks", len(sinks))
	}
	if !sinks[0].Geometry.IsZero() {
		t.Fatal("null geometry should stay null")
	}
}

func TestFilterSinks_PolygonOnSinkGeometry(t *testing.T) {
	gdb, mock, db := newTenantSession(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM "`+testSchema+`"\."sink" WHERE ST_Intersects\(geometry, ST_SetSRID\(ST_GeomFromText\(\$1\), 4326\)\).*LIMIT \$\d+`).
		WithArgs(validPolygon, PageSize).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := NewEngine(0).FilterSinks(context.Background(), gdb, Filter{Polygon: validPolygon}); err != nil {
		t.Fatalf("FilterSinks error: %v", err)
	}
}

func TestFilterSinks_RequiresACriterion(t *testing.T) {
	gdb, _, db := newTenantSession(t)
	defer db.Close()

	_, err := NewEngine(0).FilterSinks(context.Background(), gdb, Filter{})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListSensorReadings_DriverFailure_IsInfrastructure(t *testing.T) {
	gdb, mock, db := newTenantSession(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM "` + testSchema + `"\."sensor_reading"`).
		WillReturnError(sql.ErrConnDone)

	_, err := NewEngine(0).ListSensorReadings(context.Background(), gdb, 0)
	if apperr.KindOf(err) != apperr.KindInfrastructure {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}
