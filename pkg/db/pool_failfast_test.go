package db

import (
	"context"
	"errors"
	"testing"
)

func TestPoolConfig_Validate(t *testing.T) {
	valid := DefaultPoolConfig("file:test.db", DriverSQLite)

	tests := []struct {
		name    string
		mutate  func(*PoolConfig)
		message string
	}{
		{"empty dsn", func(c *PoolConfig) { c.DSN = "" }, "DSN cannot be empty"},
		{"empty driver", func(c *PoolConfig) { c.DriverName = "" }, "DriverName cannot be empty"},
		{"zero max open", func(c *PoolConfig) { c.MaxOpenConns = 0 }, "MaxOpenConns must be positive"},
		{"negative idle", func(c *PoolConfig) { c.MaxIdleConns = -1 }, "MaxIdleConns cannot be negative"},
		{"idle exceeds open", func(c *PoolConfig) { c.MaxOpenConns = 2; c.MaxIdleConns = 3 }, "MaxIdleConns cannot exceed MaxOpenConns"},
		{"negative lifetime", func(c *PoolConfig) { c.ConnMaxLifetime = -1 }, "ConnMaxLifetime cannot be negative"},
		{"unknown driver", func(c *PoolConfig) { c.DriverName = "mysql" }, `unsupported driver "mysql"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			_, err := NewPool(cfg)
			var dbErr *Error
			if !errors.As(err, &dbErr) {
				t.Fatalf("NewPool() error = %v, want *Error", err)
			}
			if dbErr.Code != CodeInvalidConfig || dbErr.Message != tt.message {
				t.Errorf("error = %s %q, want %s %q", dbErr.Code, dbErr.Message, CodeInvalidConfig, tt.message)
			}
		})
	}

	if err := valid.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestPool_FailFast_NilPool(t *testing.T) {
	var pool *Pool
	ctx := context.Background()

	checks := map[string]error{}
	_, checks["Query"] = pool.Query(ctx, "SELECT 1")
	_, checks["Exec"] = pool.Exec(ctx, "SELECT 1")
	_, checks["Begin"] = pool.Begin(ctx)
	checks["Ping"] = pool.Ping(ctx)
	checks["Close"] = pool.Close()

	for name, err := range checks {
		var dbErr *Error
		if !errors.As(err, &dbErr) || dbErr.Code != CodeInvalidState {
			t.Errorf("%s() on nil pool = %v, want %s", name, err, CodeInvalidState)
		}
	}

	if st := pool.Stats(); st.OpenConnections != 0 {
		t.Errorf("Stats() on nil pool = %+v", st)
	}
}

func TestPool_FailFast_InvalidInput(t *testing.T) {
	pool := &Pool{config: DefaultPoolConfig("x", DriverSQLite)} // db is nil

	if _, err := pool.Query(context.Background(), "SELECT 1"); err == nil {
		t.Error("Query() on unopened pool should fail")
	}

	var nilCtx context.Context
	open := newSQLitePool(t)
	if _, err := open.Query(nilCtx, "SELECT 1"); err == nil {
		t.Error("Query() should fail-fast with nil context")
	}
	if _, err := open.Exec(context.Background(), ""); err == nil {
		t.Error("Exec() should fail-fast with empty query")
	}
	if _, err := open.BeginTx(nilCtx, nil); err == nil {
		t.Error("BeginTx() should fail-fast with nil context")
	}
}

func TestPool_QueryRow_PanicsOnNilPool(t *testing.T) {
	var pool *Pool
	defer func() {
		if r := recover(); r == nil {
			t.Error("QueryRow() should panic with nil pool")
		}
	}()
	pool.QueryRow(context.Background(), "SELECT 1")
}

func TestPool_DB_PanicsOnNilPool(t *testing.T) {
	var pool *Pool
	defer func() {
		if r := recover(); r == nil {
			t.Error("DB() should panic with nil pool")
		}
	}()
	pool.DB()
}
