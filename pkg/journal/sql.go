package journal

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/fluxorio/pongworker/pkg/db"
)

// DefaultTable is the journal table name.
const DefaultTable = "pongworker_exchanges"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// QueryRecorder receives statement timings and pool gauges.
// *prometheus.Metrics implements it.
type QueryRecorder interface {
	RecordDatabaseQuery(operation string, duration time.Duration)
	UpdateDatabasePool(stats sql.DBStats)
}

// SQLConfig configures a SQLSink.
type SQLConfig struct {
	// Driver is sqlite3, postgres or pgx.
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
	Table  string `yaml:"table" json:"table"`
	// MaxOpenConns defaults to 4, or 1 for sqlite3.
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns"`
}

// SQLSink inserts one row per entry. Timestamps are stored as Unix
// nanoseconds so every dialect round-trips them exactly.
type SQLSink struct {
	pool     *db.Pool
	table    string
	insert   string
	recorder QueryRecorder
	owned    bool
}

// OpenSQLSink opens a pool for cfg and migrates the journal table.
func OpenSQLSink(ctx context.Context, cfg SQLConfig, recorder QueryRecorder) (*SQLSink, error) {
	poolCfg := db.DefaultPoolConfig(cfg.DSN, cfg.Driver)
	poolCfg.MaxOpenConns = 4
	if cfg.Driver == db.DriverSQLite {
		poolCfg.MaxOpenConns = 1
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxOpenConns = cfg.MaxOpenConns
	}
	poolCfg.MaxIdleConns = min(poolCfg.MaxIdleConns, poolCfg.MaxOpenConns)

	pool, err := db.NewPool(poolCfg)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	sink, err := NewSQLSink(ctx, pool, cfg.Table, recorder)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	sink.owned = true
	return sink, nil
}

// NewSQLSink creates the journal table in pool if needed. An empty table
// means DefaultTable. recorder may be nil. The caller keeps ownership of
// pool.
func NewSQLSink(ctx context.Context, pool *db.Pool, table string, recorder QueryRecorder) (*SQLSink, error) {
	if pool == nil {
		panic("journal: pool cannot be nil")
	}
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("journal: invalid table name %q", table)
	}

	s := &SQLSink{
		pool:     pool,
		table:    table,
		recorder: recorder,
		insert: fmt.Sprintf(
			"INSERT INTO %s (id, session_id, transport, remote, seq, request, response, received_at, duration_ns) VALUES (%s)",
			table, pool.Dialect().Placeholders(9)),
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) migrate(ctx context.Context) error {
	blob := s.pool.Dialect().BlobType
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	transport TEXT NOT NULL,
	remote TEXT NOT NULL DEFAULT '',
	seq BIGINT NOT NULL,
	request %s,
	response %s,
	received_at BIGINT NOT NULL,
	duration_ns BIGINT NOT NULL
)`, s.table, blob, blob),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_received_at_idx ON %s (received_at)", s.table, s.table),
	}
	for _, stmt := range stmts {
		if err := s.exec(ctx, "migrate", stmt); err != nil {
			return fmt.Errorf("journal: migrate %s: %w", s.table, err)
		}
	}
	return nil
}

func (s *SQLSink) Write(ctx context.Context, e Entry) error {
	return s.exec(ctx, "insert", s.insert,
		e.ID, e.SessionID, e.Transport, e.Remote, int64(e.Seq),
		e.Request, e.Response, e.ReceivedAt.UnixNano(), int64(e.Duration))
}

func (s *SQLSink) exec(ctx context.Context, op, query string, args ...interface{}) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, query, args...)
	if s.recorder != nil {
		s.recorder.RecordDatabaseQuery(op, time.Since(start))
		s.recorder.UpdateDatabasePool(s.pool.Stats())
	}
	return err
}

// Scan calls fn for each stored entry ordered by receive time.
func (s *SQLSink) Scan(ctx context.Context, fn func(Entry) error) error {
	start := time.Now()
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		"SELECT id, session_id, transport, remote, seq, request, response, received_at, duration_ns FROM %s ORDER BY received_at, session_id, seq",
		s.table))
	if s.recorder != nil {
		s.recorder.RecordDatabaseQuery("select", time.Since(start))
	}
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e          Entry
			seq        int64
			receivedAt int64
			duration   int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Transport, &e.Remote, &seq,
			&e.Request, &e.Response, &receivedAt, &duration); err != nil {
			return err
		}
		e.Seq = uint64(seq)
		e.ReceivedAt = time.Unix(0, receivedAt)
		e.Duration = time.Duration(duration)
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLSink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool if the sink opened it.
func (s *SQLSink) Close() error {
	if s.owned {
		return s.pool.Close()
	}
	return nil
}
