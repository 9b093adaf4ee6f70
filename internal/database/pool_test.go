package database

import (
	"testing"
	"time"

	"gorm.io/gorm/logger"
)

func TestDefaultPoolConfig(t *testing.T) {
	config := DefaultPoolConfig()

	if config.Driver != DriverPostgres {
		t.Errorf("Expected Driver to be postgres, got %s", config.Driver)
	}

	if config.MaxOpenConns != 25 {
		t.Errorf("Expected MaxOpenConns to be 25, got %d", config.MaxOpenConns)
	}

	if config.MaxIdleConns != 10 {
		t.Errorf("Expected MaxIdleConns to be 10, got %d", config.MaxIdleConns)
	}

	if config.ConnMaxLifetime != time.Hour {
		t.Errorf("Expected ConnMaxLifetime to be 1 hour, got %v", config.ConnMaxLifetime)
	}

	if config.ConnMaxIdleTime != time.Minute*30 {
		t.Errorf("Expected ConnMaxIdleTime to be 30 minutes, got %v", config.ConnMaxIdleTime)
	}

	if config.LogLevel != logger.Info {
		t.Errorf("Expected LogLevel to be Info, got %v", config.LogLevel)
	}
}

func TestNewDatabasePool_WithNilConfig(t *testing.T) {
	_, err := NewDatabasePool(nil)

	if err == nil {
		t.Error("Expected error due to empty DSN, got nil")
	}
}

func TestPoolConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  *PoolConfig
		wantErr bool
	}{
		{
			name: "Valid sqlite configuration",
			config: &PoolConfig{
				Driver:          DriverSQLite,
				DSN:             ":memory:",
				MaxOpenConns:    1,
				MaxIdleConns:    1,
				ConnMaxLifetime: time.Hour,
				LogLevel:        logger.Silent,
			},
			wantErr: false,
		},
		{
			name: "Empty DSN",
			config: &PoolConfig{
				Driver:       DriverSQLite,
				MaxOpenConns: 1,
				LogLevel:     logger.Silent,
			},
			wantErr: true,
		},
		{
			name: "Unknown driver",
			config: &PoolConfig{
				Driver:       "mysql",
				DSN:          "user:pass@/db",
				MaxOpenConns: 1,
			},
			wantErr: true,
		},
		{
			name: "Negative values configuration",
			config: &PoolConfig{
				Driver:          DriverSQLite,
				DSN:             ":memory:",
				MaxOpenConns:    -1,
				MaxIdleConns:    -1,
				ConnMaxLifetime: -time.Hour,
				LogLevel:        logger.Silent,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := NewDatabasePool(tt.config)
			if tt.wantErr && err == nil {
				t.Error("Expected error but pool creation succeeded")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected successful pool creation but got error: %v", err)
			}
			if pool != nil {
				pool.Close()
			}
		})
	}
}

func TestNewSQLiteMemoryPool_MigratesSchema(t *testing.T) {
	pool, err := NewSQLiteMemoryPool()
	if err != nil {
		t.Fatalf("Failed to open memory pool: %v", err)
	}
	defer pool.Close()

	if err := pool.Health(); err != nil {
		t.Errorf("Expected healthy pool, got: %v", err)
	}

	for _, table := range []string{"users", "tokens", "todos"} {
		if !pool.DB.Migrator().HasTable(table) {
			t.Errorf("Expected table %s to exist after migration", table)
		}
	}

	stats := pool.Stats()
	if stats["driver"] != DriverSQLite {
		t.Errorf("Expected driver in stats, got %v", stats["driver"])
	}
	if stats["max_open_conns"] != 1 {
		t.Errorf("Expected memory pool to be pinned to one connection, got %v", stats["max_open_conns"])
	}
}

func TestDatabasePool_Stats_WithoutConnection(t *testing.T) {
	pool := &DatabasePool{
		DB: nil,
		config: &PoolConfig{
			MaxOpenConns: 10,
		},
	}

	stats := pool.Stats()

	if _, hasError := stats["error"]; !hasError {
		t.Error("Expected error in stats when DB is nil")
	}
}

func TestDatabasePool_Health_WithoutConnection(t *testing.T) {
	pool := &DatabasePool{DB: nil}

	if err := pool.Health(); err == nil {
		t.Error("Expected error when checking health with nil DB")
	}
}

func TestDatabasePool_Close_WithoutConnection(t *testing.T) {
	pool := &DatabasePool{DB: nil}

	if err := pool.Close(); err != nil {
		t.Errorf("Expected no error when closing nil DB, got: %v", err)
	}
}

func BenchmarkDefaultPoolConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultPoolConfig()
	}
}
