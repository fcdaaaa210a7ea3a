package handler

import (
	"errors"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/everimpact/coverage-service/internal/apperr"
	"github.com/everimpact/coverage-service/internal/auth"
	"github.com/everimpact/coverage-service/internal/model"
	"github.com/everimpact/coverage-service/internal/query"
	"github.com/everimpact/coverage-service/internal/tenant"
	"github.com/everimpact/coverage-service/pkg/config"
	"github.com/everimpact/coverage-service/pkg/database"
)

var (
	provisioner *tenant.Provisioner
	router      *tenant.Router
	engine      *query.Engine
)

// Initialize wires the handlers to the shared database connection. Must be
// called after database.Initialize.
func Initialize(cfg *config.QueryConfig) {
	db := database.GetDB()
	provisioner = tenant.NewProvisioner(db)
	router = tenant.NewRouter(db)
	engine = query.NewEngine(cfg.Timeout)
}

// respondError maps an error to its HTTP status and a safe client message.
// Infrastructure detail never reaches the response body.
func respondError(c echo.Context, err error) error {
	return c.JSON(apperr.HTTPStatus(err), echo.Map{"error": apperr.ClientMessage(err)})
}

// currentPrincipal resolves the authenticated caller set by AuthMiddleware
// into an access-control principal.
func currentPrincipal(c echo.Context) (auth.Principal, error) {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return nil, apperr.Unauthorizedf("authentication required")
	}

	var user model.User
	if err := database.GetDB().WithContext(c.Request().Context()).
		Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Unauthorizedf("authentication required")
		}
		return nil, apperr.Infrastructure("loading user failed", err)
	}
	return auth.ForUser(&user)
}

// coverageByName loads a coverage descriptor from the public schema.
func coverageByName(c echo.Context, name string) (*model.Coverage, error) {
	var cov model.Coverage
	err := database.GetDB().WithContext(c.Request().Context()).
		Where("name = ?", name).First(&cov).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("coverage %q does not exist", name)
	}
	if err != nil {
		return nil, apperr.Infrastructure("looking up coverage failed", err)
	}
	return &cov, nil
}
