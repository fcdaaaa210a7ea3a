package database

import (
	"fmt"
	"log"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/everimpact/coverage-service/internal/model"
	"github.com/everimpact/coverage-service/pkg/config"
)

var DB *gorm.DB

// Initialize opens the connection pool and migrates the public-schema
// identity tables. Tenant tables are never migrated here; they are created
// per schema by the provisioner.
func Initialize(cfg *config.DBConfig) error {
	var err error

	// Set default log level if not specified
	logLevel := cfg.LogLevel
	if logLevel == 0 {
		logLevel = logger.Warn
	}

	// Connect with PreferSimpleProtocol to prevent "prepared statement
	// already exists" errors
	pgConfig := postgres.Config{
		DSN:                  cfg.GetDSN(),
		PreferSimpleProtocol: true,
	}

	DB, err = gorm.Open(postgres.New(pgConfig), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
		TranslateError: true,
	})

	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		return err
	}

	// Configure connection pool
	sqlDB, err := DB.DB()
	if err != nil {
		log.Printf("Failed to get database connection: %v", err)
		return err
	}

	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	// AutoMigrate the shared identity tables only
	if err := DB.AutoMigrate(&model.User{}, &model.Coverage{}); err != nil {
		log.Printf("Failed to migrate database: %v", err)
		return err
	}

	return nil
}

// GetDB returns the public-schema database instance
func GetDB() *gorm.DB {
	return DB
}

// SessionForSchema opens a gorm session over base's connection pool whose
// queries are table-prefixed with the given schema. Every per-tenant data
// access goes through a session built here; the schema name is a call-time
// parameter, never shared mutable state.
func SessionForSchema(base *gorm.DB, schemaName string) (*gorm.DB, error) {
	sqlDB, err := base.DB()
	if err != nil {
		return nil, fmt.Errorf("database: getting connection pool: %w", err)
	}

	session, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger:         base.Logger,
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   schemaName + ".",
			SingularTable: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("database: opening schema session: %w", err)
	}
	return session, nil
}
