package tenant

import (
	"context"

	"gorm.io/gorm"

	"github.com/everimpact/coverage-service/internal/apperr"
	"github.com/everimpact/coverage-service/internal/model"
	"github.com/everimpact/coverage-service/pkg/database"
)

// Router resolves a coverage descriptor to a database session scoped to its
// schema. Sessions share the public handle's connection pool, so resolving
// is cheap; callers keep one session per request.
type Router struct {
	db *gorm.DB
}

// NewRouter returns a router over the public-schema handle.
func NewRouter(db *gorm.DB) *Router {
	return &Router{db: db}
}

// Resolve returns a session whose queries target the coverage's schema.
// It distinguishes a descriptor that never finished provisioning from one
// whose schema has since been dropped; both are not-found conditions.
func (r *Router) Resolve(ctx context.Context, cov *model.Coverage) (*gorm.DB, error) {
	if cov.SchemaName == "" || !cov.Provisioned {
		return nil, apperr.NotFoundf("coverage %q is not provisioned", cov.Name)
	}

	var count int64
	if err := r.db.WithContext(ctx).
		Raw("SELECT count(*) FROM information_schema.schemata WHERE schema_name = ?", cov.SchemaName).
		Scan(&count).Error; err != nil {
		return nil, apperr.Infrastructure("schema lookup failed", err)
	}
	if count == 0 {
		return nil, apperr.NotFoundf("schema for coverage %q no longer exists", cov.Name)
	}

	session, err := database.SessionForSchema(r.db, cov.SchemaName)
	if err != nil {
		return nil, apperr.Infrastructure("opening schema session failed", err)
	}
	return session.WithContext(ctx), nil
}
