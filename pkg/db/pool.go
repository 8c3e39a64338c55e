package db

import (
	"context"
	"database/sql"
	"time"
)

// Error codes carried by *Error.
const (
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeInvalidState  = "INVALID_STATE"
	CodeInvalidInput  = "INVALID_INPUT"
	CodeUnavailable   = "UNAVAILABLE"
)

// PoolConfig configures a database connection pool.
type PoolConfig struct {
	// DriverName is one of sqlite3, postgres (lib/pq) or pgx.
	DriverName string `yaml:"driver" json:"driver"`

	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn" json:"dsn"`

	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`

	// PingTimeout bounds the connectivity check in NewPool.
	PingTimeout time.Duration `yaml:"ping_timeout" json:"ping_timeout"`
}

// DefaultPoolConfig returns pool defaults for dsn.
func DefaultPoolConfig(dsn string, driverName string) PoolConfig {
	return PoolConfig{
		DSN:             dsn,
		DriverName:      driverName,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

// Validate reports the first invalid field.
func (c PoolConfig) Validate() error {
	switch {
	case c.DSN == "":
		return &Error{Code: CodeInvalidConfig, Message: "DSN cannot be empty"}
	case c.DriverName == "":
		return &Error{Code: CodeInvalidConfig, Message: "DriverName cannot be empty"}
	case c.MaxOpenConns <= 0:
		return &Error{Code: CodeInvalidConfig, Message: "MaxOpenConns must be positive"}
	case c.MaxIdleConns < 0:
		return &Error{Code: CodeInvalidConfig, Message: "MaxIdleConns cannot be negative"}
	case c.MaxIdleConns > c.MaxOpenConns:
		return &Error{Code: CodeInvalidConfig, Message: "MaxIdleConns cannot exceed MaxOpenConns"}
	case c.ConnMaxLifetime < 0:
		return &Error{Code: CodeInvalidConfig, Message: "ConnMaxLifetime cannot be negative"}
	case c.ConnMaxIdleTime < 0:
		return &Error{Code: CodeInvalidConfig, Message: "ConnMaxIdleTime cannot be negative"}
	}
	if _, err := DialectFor(c.DriverName); err != nil {
		return err
	}
	return nil
}

// Pool is a database/sql connection pool bound to one dialect.
type Pool struct {
	db      *sql.DB
	config  PoolConfig
	dialect Dialect
}

// NewPool validates config, opens the pool and pings it once.
func NewPool(config PoolConfig) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	dialect, _ := DialectFor(config.DriverName)

	db, err := sql.Open(config.DriverName, config.DSN)
	if err != nil {
		return nil, &Error{Code: CodeInvalidConfig, Message: "open " + config.DriverName, Err: err}
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	timeout := config.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &Error{Code: CodeUnavailable, Message: "ping " + config.DriverName, Err: err}
	}

	return &Pool{
		db:      db,
		config:  config,
		dialect: dialect,
	}, nil
}

// Error is a database error with a stable code.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// DB returns the underlying *sql.DB.
// Panics if the pool was never opened.
func (p *Pool) DB() *sql.DB {
	if p == nil {
		panic("pool cannot be nil")
	}
	if p.db == nil {
		panic("pool.db cannot be nil - pool not initialized")
	}
	return p.db
}

// Dialect returns the SQL dialect of the pool's driver.
func (p *Pool) Dialect() Dialect {
	return p.dialect
}

// DriverName returns the configured driver.
func (p *Pool) DriverName() string {
	return p.config.DriverName
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if err := p.check(); err != nil {
		return err
	}
	return p.db.Close()
}

// Ping tests the connection.
func (p *Pool) Ping(ctx context.Context) error {
	if err := p.check(); err != nil {
		return err
	}
	if ctx == nil {
		return &Error{Code: CodeInvalidInput, Message: "context cannot be nil"}
	}
	return p.db.PingContext(ctx)
}

// Stats returns pool statistics. A nil or unopened pool reports zeros.
func (p *Pool) Stats() sql.DBStats {
	if p == nil || p.db == nil {
		return sql.DBStats{}
	}
	return p.db.Stats()
}

// Query executes a query that returns rows.
func (p *Pool) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if err := p.checkStatement(ctx, query); err != nil {
		return nil, err
	}
	return p.db.QueryContext(ctx, query, args...)
}

// QueryRow executes a query that returns a single row.
// Panics on a nil pool, nil context or empty query.
func (p *Pool) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	if err := p.checkStatement(ctx, query); err != nil {
		panic(err.Error())
	}
	return p.db.QueryRowContext(ctx, query, args...)
}

// Exec executes a statement.
func (p *Pool) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if err := p.checkStatement(ctx, query); err != nil {
		return nil, err
	}
	return p.db.ExecContext(ctx, query, args...)
}

// Begin starts a transaction.
func (p *Pool) Begin(ctx context.Context) (*sql.Tx, error) {
	return p.BeginTx(ctx, nil)
}

// BeginTx starts a transaction with options.
func (p *Pool) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if ctx == nil {
		return nil, &Error{Code: CodeInvalidInput, Message: "context cannot be nil"}
	}
	return p.db.BeginTx(ctx, opts)
}

func (p *Pool) check() error {
	if p == nil {
		return &Error{Code: CodeInvalidState, Message: "pool cannot be nil"}
	}
	if p.db == nil {
		return &Error{Code: CodeInvalidState, Message: "pool not initialized"}
	}
	return nil
}

func (p *Pool) checkStatement(ctx context.Context, query string) error {
	if err := p.check(); err != nil {
		return err
	}
	if ctx == nil {
		return &Error{Code: CodeInvalidInput, Message: "context cannot be nil"}
	}
	if query == "" {
		return &Error{Code: CodeInvalidInput, Message: "query cannot be empty"}
	}
	return nil
}
