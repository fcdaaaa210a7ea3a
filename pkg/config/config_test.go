package config

import (
	"testing"
	"time"

	"gorm.io/gorm/logger"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.DB.Port != "5432" {
		t.Fatalf("default DB port = %q, want 5432", cfg.DB.Port)
	}
	if cfg.Query.Timeout != 15*time.Second {
		t.Fatalf("default query timeout = %v", cfg.Query.Timeout)
	}
	if !cfg.Seed.Enabled {
		t.Fatal("seeding should default to enabled")
	}
	if cfg.Seed.AdminEmail == "" {
		t.Fatal("admin email default missing")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_MAX_OPEN_CONNS", "7")
	t.Setenv("DB_LOG_LEVEL", "silent")
	t.Setenv("QUERY_TIMEOUT", "3s")
	t.Setenv("SEED_ON_START", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.DB.Host != "db.internal" {
		t.Fatalf("DB host = %q", cfg.DB.Host)
	}
	if cfg.DB.MaxOpenConns != 7 {
		t.Fatalf("max open conns = %d", cfg.DB.MaxOpenConns)
	}
	if cfg.DB.LogLevel != logger.Silent {
		t.Fatalf("db log level = %v", cfg.DB.LogLevel)
	}
	if cfg.Query.Timeout != 3*time.Second {
		t.Fatalf("query timeout = %v", cfg.Query.Timeout)
	}
	if cfg.Seed.Enabled {
		t.Fatal("seeding should be disabled")
	}
}

func TestLoad_MalformedIntFallsBack(t *testing.T) {
	t.Setenv("JWT_EXPIRATION_HOURS", "not-a-number")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.JWT.ExpirationHours != 24 {
		t.Fatalf("expiration hours = %d, want default 24", cfg.JWT.ExpirationHours)
	}
}

func TestGetDSN(t *testing.T) {
	c := DBConfig{Host: "h", Port: "5432", User: "u", Password: "p", DBName: "d", SSLMode: "disable"}
	want := "host=h port=5432 user=u password=p dbname=d sslmode=disable"
	if got := c.GetDSN(); got != want {
		t.Fatalf("GetDSN() = %q, want %q", got, want)
	}
}
