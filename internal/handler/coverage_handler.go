package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/everimpact/coverage-service/internal/auth"
	"github.com/everimpact/coverage-service/internal/model"
	"github.com/everimpact/coverage-service/internal/query"
	"github.com/everimpact/coverage-service/pkg/database"
	"github.com/everimpact/coverage-service/pkg/logger"
	"github.com/everimpact/coverage-service/prometheus"
)

// CreateCoverage handles coverage creation with schema provisioning
func CreateCoverage(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordCoverageOperation("create")

	p, err := currentPrincipal(c)
	if err != nil {
		prometheus.RecordAuthError("unauthorized_coverage_creation")
		return respondError(c, err)
	}
	if err := auth.Authorize(p, "", auth.ActionManageIdentity); err != nil {
		prometheus.RecordAuthError("coverage_creation_denied")
		return respondError(c, err)
	}

	// Parse request
	var req struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse coverage creation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	defer prometheus.TrackDBOperation("provision")(time.Now())

	cov, err := provisioner.CreateCoverage(c.Request().Context(), req.Name)
	if err != nil {
		log.Error("Coverage provisioning failed", zap.String("name", req.Name), zap.Error(err))
		prometheus.RecordCoverageError(req.Name, "provisioning_failed")
		return respondError(c, err)
	}

	log.Info("Coverage created",
		zap.String("name", cov.Name),
		zap.String("id", cov.ID),
		zap.String("schema", cov.SchemaName))

	return c.JSON(http.StatusCreated, echo.Map{
		"message":  "Coverage created successfully",
		"coverage": cov,
	})
}

// ListCoverages returns all coverage descriptors
func ListCoverages(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordCoverageOperation("list")

	p, err := currentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := auth.Authorize(p, "", auth.ActionManageIdentity); err != nil {
		prometheus.RecordAuthError("coverage_listing_denied")
		return respondError(c, err)
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	var coverages []model.Coverage
	if err := database.GetDB().WithContext(c.Request().Context()).Find(&coverages).Error; err != nil {
		log.Error("Failed to list coverages", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}

	prometheus.UpdateProvisionedCoverages(len(coverages))
	return c.JSON(http.StatusOK, coverages)
}

// DeleteCoverage removes a coverage descriptor. The tenant schema and its
// data are retained and become unreachable through the API.
func DeleteCoverage(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordCoverageOperation("delete")

	p, err := currentPrincipal(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := auth.Authorize(p, "", auth.ActionManageIdentity); err != nil {
		prometheus.RecordAuthError("coverage_deletion_denied")
		return respondError(c, err)
	}

	name := c.Param("name")
	cov, err := coverageByName(c, name)
	if err != nil {
		prometheus.RecordCoverageError(name, "not_found")
		return respondError(c, err)
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())

	if err := database.GetDB().WithContext(c.Request().Context()).Delete(cov).Error; err != nil {
		log.Error("Failed to delete coverage", zap.String("name", name), zap.Error(err))
		prometheus.RecordCoverageError(name, "deletion_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}

	log.Info("Coverage deleted, schema retained",
		zap.String("name", cov.Name),
		zap.String("schema", cov.SchemaName))

	return c.JSON(http.StatusOK, echo.Map{"message": "Coverage deleted successfully"})
}

// tenantCtx pairs a coverage descriptor with its schema-scoped session.
type tenantCtx struct {
	coverage *model.Coverage
	db       *gorm.DB
}

// tenantSession authorizes the caller for a coverage's data and resolves
// the schema-scoped session for it.
func tenantSession(c echo.Context) (*tenantCtx, error) {
	p, err := currentPrincipal(c)
	if err != nil {
		return nil, err
	}

	name := c.Param("name")
	cov, err := coverageByName(c, name)
	if err != nil {
		return nil, err
	}

	if err := auth.Authorize(p, cov.ID, auth.ActionReadCoverageData); err != nil {
		prometheus.RecordAuthError("coverage_data_denied")
		return nil, err
	}

	tdb, err := router.Resolve(c.Request().Context(), cov)
	if err != nil {
		prometheus.RecordCoverageError(name, "routing_failed")
		return nil, err
	}
	return &tenantCtx{coverage: cov, db: tdb}, nil
}

// GetSensorData returns one page of sensor readings for a coverage
func GetSensorData(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordDataQuery("sensor", "list")

	t, err := tenantSession(c)
	if err != nil {
		return respondError(c, err)
	}

	var req struct {
		PageNo int `json:"page_no" query:"page_no"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse sensor data request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	rows, err := engine.ListSensorReadings(c.Request().Context(), t.db, req.PageNo)
	if err != nil {
		log.Error("Sensor data query failed", zap.String("coverage", t.coverage.Name), zap.Error(err))
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rows)
}

// FilterSensorData returns one page of sensor readings matching the filter
func FilterSensorData(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordDataQuery("sensor", "filter")

	t, err := tenantSession(c)
	if err != nil {
		return respondError(c, err)
	}

	var f query.Filter
	if err := c.Bind(&f); err != nil {
		log.Error("Failed to parse sensor filter request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	rows, err := engine.FilterSensorReadings(c.Request().Context(), t.db, f)
	if err != nil {
		log.Error("Sensor filter query failed", zap.String("coverage", t.coverage.Name), zap.Error(err))
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rows)
}

// GetSinkData returns one page of sink records for a coverage
func GetSinkData(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordDataQuery("sink", "list")

	t, err := tenantSession(c)
	if err != nil {
		return respondError(c, err)
	}

	var req struct {
		PageNo int `json:"page_no" query:"page_no"`
	}
	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse sink data request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	rows, err := engine.ListSinks(c.Request().Context(), t.db, req.PageNo)
	if err != nil {
		log.Error("Sink data query failed", zap.String("coverage", t.coverage.Name), zap.Error(err))
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rows)
}

// FilterSinkData returns one page of sink records matching the filter
func FilterSinkData(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RecordDataQuery("sink", "filter")

	t, err := tenantSession(c)
	if err != nil {
		return respondError(c, err)
	}

	var f query.Filter
	if err := c.Bind(&f); err != nil {
		log.Error("Failed to parse sink filter request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())

	rows, err := engine.FilterSinks(c.Request().Context(), t.db, f)
	if err != nil {
		log.Error("Sink filter query failed", zap.String("coverage", t.coverage.Name), zap.Error(err))
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, rows)
}
