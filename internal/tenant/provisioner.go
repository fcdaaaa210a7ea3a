// Package tenant owns the schema-per-coverage lifecycle: provisioning a new
// isolated schema with its data tables, and resolving a coverage to a
// schema-scoped database session.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/everimpact/coverage-service/internal/apperr"
	"github.com/everimpact/coverage-service/internal/model"
	"github.com/everimpact/coverage-service/pkg/database"
	"github.com/everimpact/coverage-service/pkg/logger"
)

const schemaNamePrefix = "schema_"

// Generated names are the only identifiers ever interpolated into DDL.
var schemaNamePattern = regexp.MustCompile(`^schema_[0-9a-f]{32}$`)

// NewSchemaName returns a fresh schema name: fixed prefix plus the same
// random hex token used for primary keys.
func NewSchemaName() string {
	return schemaNamePrefix + model.NewID()
}

// Provisioner creates coverages and their isolated schemas.
type Provisioner struct {
	db *gorm.DB
}

// NewProvisioner returns a provisioner over the public-schema handle.
func NewProvisioner(db *gorm.DB) *Provisioner {
	return &Provisioner{db: db}
}

// CreateCoverage inserts the coverage descriptor, creates its schema and the
// sensor, sensor_reading and sink tables inside it, and marks the descriptor
// provisioned. The schema name is threaded through every step as an explicit
// parameter. On partial failure the schema and descriptor are removed again;
// if the descriptor cannot be removed it stays unprovisioned and the router
// refuses to resolve it.
func (p *Provisioner) CreateCoverage(ctx context.Context, name string) (*model.Coverage, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperr.Validationf("coverage name must not be empty")
	}

	db := p.db.WithContext(ctx)

	var existing model.Coverage
	err := db.Where("name = ?", name).First(&existing).Error
	if err == nil {
		return nil, apperr.Conflictf("coverage with name %q already exists", name)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Infrastructure("coverage lookup failed", err)
	}

	cov := &model.Coverage{
		Name:       name,
		SchemaName: NewSchemaName(),
	}
	if err := db.Create(cov).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Conflictf("coverage with name %q already exists", name)
		}
		return nil, apperr.Infrastructure("creating coverage record failed", err)
	}

	if err := p.createSchemaObjects(ctx, cov.SchemaName); err != nil {
		p.rollback(ctx, cov)
		return nil, err
	}

	if err := db.Model(&model.Coverage{}).Where("id = ?", cov.ID).
		Update("provisioned", true).Error; err != nil {
		// Left unprovisioned: the router fails cleanly on this descriptor.
		return nil, apperr.Infrastructure("finalizing coverage provisioning failed", err)
	}
	cov.Provisioned = true
	return cov, nil
}

// createSchemaObjects creates the schema and the three tenant tables inside
// it, targeting the schema through a dedicated session rather than any
// shared table definition.
func (p *Provisioner) createSchemaObjects(ctx context.Context, schemaName string) error {
	if !schemaNamePattern.MatchString(schemaName) {
		return apperr.Validationf("invalid schema name")
	}

	if err := p.db.WithContext(ctx).
		Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %q`, schemaName)).Error; err != nil {
		return apperr.Infrastructure("schema creation failed", err)
	}

	session, err := database.SessionForSchema(p.db, schemaName)
	if err != nil {
		return apperr.Infrastructure("opening schema session failed", err)
	}

	migrator := session.WithContext(ctx).Migrator()
	for _, table := range []interface{}{&model.Sensor{}, &model.SensorReading{}, &model.Sink{}} {
		if err := migrator.CreateTable(table); err != nil {
			return apperr.Infrastructure("tenant table creation failed", err)
		}
	}
	return nil
}

// rollback undoes a half-provisioned coverage. Best effort: failures are
// logged, and an undeleted descriptor is harmless because it never became
// provisioned.
func (p *Provisioner) rollback(ctx context.Context, cov *model.Coverage) {
	log := logger.FromContext(ctx)

	if schemaNamePattern.MatchString(cov.SchemaName) {
		if err := p.db.WithContext(ctx).
			Exec(fmt.Sprintf(`DROP SCHEMA IF EXISTS %q CASCADE`, cov.SchemaName)).Error; err != nil {
			log.Warn("failed to drop schema during provisioning rollback",
				zap.String("schema", cov.SchemaName), zap.Error(err))
		}
	}
	if err := p.db.WithContext(ctx).
		Delete(&model.Coverage{}, "id = ?", cov.ID).Error; err != nil {
		log.Warn("failed to delete coverage descriptor during provisioning rollback",
			zap.String("coverage_id", cov.ID), zap.Error(err))
	}
}
