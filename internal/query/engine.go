// Package query executes paginated, filtered reads against a coverage's
// schema session. All operations are read-only, idempotent and bounded by a
// configurable timeout.
package query

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/everimpact/coverage-service/internal/apperr"
	"github.com/everimpact/coverage-service/internal/geometry"
	"github.com/everimpact/coverage-service/internal/model"
)

// PageSize is fixed: every read returns at most 5 rows, enforced in SQL.
const PageSize = 5

// timeLayout is the fixed-width filter timestamp format, YYYYMMDDHHMMSS.
const timeLayout = "20060102150405"

// Filter is the payload accepted by the filter endpoints. start_time and
// end_time only take effect as a pair; page_no is used directly as the row
// offset.
type Filter struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Polygon   string `json:"polygon"`
	PageNo    int    `json:"page_no"`
}

// validate enforces the filter contract: at least one criterion, parseable
// timestamps, parseable polygon WKT. The time range applies only when both
// bounds are present.
func (f Filter) validate() (start, end time.Time, hasRange bool, err error) {
	if f.StartTime == "" && f.EndTime == "" && f.Polygon == "" {
		return start, end, false, apperr.Validationf("at least one of start_time, end_time or polygon is required")
	}
	if f.StartTime != "" {
		if start, err = time.Parse(timeLayout, f.StartTime); err != nil {
			return start, end, false, apperr.Validationf("start_time must use the YYYYMMDDHHMMSS format")
		}
	}
	if f.EndTime != "" {
		if end, err = time.Parse(timeLayout, f.EndTime); err != nil {
			return start, end, false, apperr.Validationf("end_time must use the YYYYMMDDHHMMSS format")
		}
	}
	if f.Polygon != "" {
		if err := geometry.ValidatePolygonWKT(f.Polygon); err != nil {
			return start, end, false, apperr.Validationf("polygon must be valid WKT in EPSG:4326")
		}
	}
	return start, end, f.StartTime != "" && f.EndTime != "", nil
}

// Engine runs tenant data reads.
type Engine struct {
	timeout time.Duration
}

// NewEngine returns an engine whose queries are cancelled after timeout.
// A zero timeout leaves queries bounded only by the request context.
func NewEngine(timeout time.Duration) *Engine {
	return &Engine{timeout: timeout}
}

func (e *Engine) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return context.WithCancel(ctx)
}

// ListSensorReadings returns one page of readings joined to their sensors.
// Readings without a resolvable sensor are excluded.
func (e *Engine) ListSensorReadings(ctx context.Context, tdb *gorm.DB, pageNo int) ([]model.SensorReading, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()

	var rows []model.SensorReading
	err := tdb.WithContext(ctx).
		Model(&model.SensorReading{}).
		InnerJoins("Sensor").
		Limit(PageSize).Offset(offset(pageNo)).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Infrastructure("reading sensor data failed", err)
	}
	if err := textifySensorGeometry(rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// FilterSensorReadings returns one page of readings matching the filter.
// Time bounds are inclusive; the polygon matches any sensor whose geometry
// intersects it, boundary contact included. Criteria AND-combine.
func (e *Engine) FilterSensorReadings(ctx context.Context, tdb *gorm.DB, f Filter) ([]model.SensorReading, error) {
	start, end, hasRange, err := f.validate()
	if err != nil {
		return nil, err
	}

	ctx, cancel := e.bound(ctx)
	defer cancel()

	q := tdb.WithContext(ctx).
		Model(&model.SensorReading{}).
		InnerJoins("Sensor")
	if hasRange {
		q = q.Where("sensor_reading.date_time >= ? AND sensor_reading.date_time <= ?", start, end)
	}
	if f.Polygon != "" {
		q = q.Where(`ST_Intersects("Sensor".geometry, ST_SetSRID(ST_GeomFromText(?), 4326))`, f.Polygon)
	}

	var rows []model.SensorReading
	if err := q.Limit(PageSize).Offset(offset(f.PageNo)).Find(&rows).Error; err != nil {
		return nil, apperr.Infrastructure("filtering sensor data failed", err)
	}
	if err := textifySensorGeometry(rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ListSinks returns one page of sink records.
func (e *Engine) ListSinks(ctx context.Context, tdb *gorm.DB, pageNo int) ([]model.Sink, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()

	var rows []model.Sink
	err := tdb.WithContext(ctx).
		Model(&model.Sink{}).
		Limit(PageSize).Offset(offset(pageNo)).
		Find(&rows).Error
	if err != nil {
		return nil, apperr.Infrastructure("reading sink data failed", err)
	}
	if err := textifySinkGeometry(rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// FilterSinks returns one page of sink records matching the filter. Time
// bounds apply to sink.date_time, the polygon to sink.geometry.
func (e *Engine) FilterSinks(ctx context.Context, tdb *gorm.DB, f Filter) ([]model.Sink, error) {
	start, end, hasRange, err := f.validate()
	if err != nil {
		return nil, err
	}

	ctx, cancel := e.bound(ctx)
	defer cancel()

	q := tdb.WithContext(ctx).Model(&model.Sink{})
	if hasRange {
		q = q.Where("date_time >= ? AND date_time <= ?", start, end)
	}
	if f.Polygon != "" {
		q = q.Where("ST_Intersects(geometry, ST_SetSRID(ST_GeomFromText(?), 4326))", f.Polygon)
	}

	var rows []model.Sink
	if err := q.Limit(PageSize).Offset(offset(f.PageNo)).Find(&rows).Error; err != nil {
		return nil, apperr.Infrastructure("filtering sink data failed", err)
	}
	if err := textifySinkGeometry(rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// offset keeps the source's pagination contract: page_no is the element
// offset itself, not a page multiplier.
func offset(pageNo int) int {
	if pageNo < 0 {
		return 0
	}
	return pageNo
}

// textifySensorGeometry verifies every joined sensor geometry converts to
// WKT, so a response can never carry non-textual geometry. Conversion
// failures surface here instead of during serialization.
func textifySensorGeometry(rows []model.SensorReading) error {
	for i := range rows {
		if _, err := rows[i].Sensor.Geometry.WKT(); err != nil {
			return apperr.Infrastructure("sensor geometry conversion failed", err)
		}
	}
	return nil
}

func textifySinkGeometry(rows []model.Sink) error {
	for i := range rows {
		if _, err := rows[i].Geometry.WKT(); err != nil {
			return apperr.Infrastructure("sink geometry conversion failed", err)
		}
	}
	return nil
}
