package telemetry

import (
	"database/sql"
	"fmt"
	"time"
)

// DefaultZeroResultRetention is how many zero-result queries the store keeps.
const DefaultZeroResultRetention = 100

// SQLiteMetricsStore implements QueryMetricsStore using SQLite.
type SQLiteMetricsStore struct {
	db *sql.DB
}

// NewSQLiteMetricsStore creates a new SQLite-backed metrics store.
// It expects the telemetry tables to exist (see InitTelemetrySchema).
func NewSQLiteMetricsStore(db *sql.DB) (*SQLiteMetricsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteMetricsStore{db: db}, nil
}

// InitTelemetrySchema creates the telemetry tables if they don't exist.
func InitTelemetrySchema(db *sql.DB) error {
	schema := `
	-- Queries per index (aggregated daily)
	CREATE TABLE IF NOT EXISTS query_index_stats (
		date TEXT NOT NULL,
		index_name TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, index_name)
	);

	-- Fields referenced by predicates and orderings
	CREATE TABLE IF NOT EXISTS query_fields (
		field TEXT PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 1,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_query_fields_count ON query_fields(count DESC);

	-- Zero-result queries (bounded FIFO)
	CREATE TABLE IF NOT EXISTS zero_result_queries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query TEXT NOT NULL,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- Latency histogram
	CREATE TABLE IF NOT EXISTS query_latency_stats (
		date TEXT NOT NULL,
		bucket TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (date, bucket)
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create telemetry schema: %w", err)
	}
	return nil
}

// SaveIndexCounts upserts daily per-index query counts.
func (s *SQLiteMetricsStore) SaveIndexCounts(date string, counts map[string]int64) error {
	return s.upsertAll(`
		INSERT INTO query_index_stats (date, index_name, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, index_name) DO UPDATE SET count = count + excluded.count
	`, date, counts)
}

// GetIndexCounts retrieves per-index counts for a date range.
func (s *SQLiteMetricsStore) GetIndexCounts(from, to string) (map[string]int64, error) {
	return s.sumByKey(`
		SELECT index_name, SUM(count) as total
		FROM query_index_stats
		WHERE date >= ? AND date <= ?
		GROUP BY index_name
	`, from, to)
}

// UpsertFieldCounts updates field frequency counts.
func (s *SQLiteMetricsStore) UpsertFieldCounts(fields map[string]int64) error {
	if len(fields) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO query_fields (field, count, last_seen)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(field) DO UPDATE SET
			count = count + excluded.count,
			last_seen = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for field, count := range fields {
		if _, err := stmt.Exec(field, count); err != nil {
			return fmt.Errorf("upsert field count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetTopFields retrieves the top N fields by frequency.
func (s *SQLiteMetricsStore) GetTopFields(limit int) ([]FieldCount, error) {
	rows, err := s.db.Query(`
		SELECT field, count
		FROM query_fields
		ORDER BY count DESC, field ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top fields: %w", err)
	}
	defer rows.Close()

	var fields []FieldCount
	for rows.Next() {
		var fc FieldCount
		if err := rows.Scan(&fc.Field, &fc.Count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		fields = append(fields, fc)
	}
	return fields, rows.Err()
}

// AddZeroResultQuery adds a query to the zero-result buffer, keeping the
// newest DefaultZeroResultRetention entries.
func (s *SQLiteMetricsStore) AddZeroResultQuery(query string, timestamp time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO zero_result_queries (query, timestamp)
		VALUES (?, ?)
	`, query, timestamp)
	if err != nil {
		return fmt.Errorf("insert zero-result query: %w", err)
	}

	_, err = s.db.Exec(`
		DELETE FROM zero_result_queries
		WHERE id NOT IN (
			SELECT id FROM zero_result_queries
			ORDER BY id DESC
			LIMIT ?
		)
	`, DefaultZeroResultRetention)
	if err != nil {
		return fmt.Errorf("trim zero-result queries: %w", err)
	}

	return nil
}

// GetZeroResultQueries retrieves recent zero-result queries, newest first.
func (s *SQLiteMetricsStore) GetZeroResultQueries(limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT query
		FROM zero_result_queries
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query zero-result queries: %w", err)
	}
	defer rows.Close()

	var queries []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		queries = append(queries, q)
	}
	return queries, rows.Err()
}

// SaveLatencyCounts upserts daily latency histogram counts.
func (s *SQLiteMetricsStore) SaveLatencyCounts(date string, counts map[LatencyBucket]int64) error {
	byName := make(map[string]int64, len(counts))
	for b, c := range counts {
		byName[string(b)] = c
	}
	return s.upsertAll(`
		INSERT INTO query_latency_stats (date, bucket, count)
		VALUES (?, ?, ?)
		ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count
	`, date, byName)
}

// GetLatencyCounts retrieves latency distribution for a date range.
func (s *SQLiteMetricsStore) GetLatencyCounts(from, to string) (map[LatencyBucket]int64, error) {
	byName, err := s.sumByKey(`
		SELECT bucket, SUM(count) as total
		FROM query_latency_stats
		WHERE date >= ? AND date <= ?
		GROUP BY bucket
	`, from, to)
	if err != nil {
		return nil, err
	}
	counts := make(map[LatencyBucket]int64, len(byName))
	for b, c := range byName {
		counts[LatencyBucket(b)] = c
	}
	return counts, nil
}

// Close releases resources. The underlying db belongs to the caller.
func (s *SQLiteMetricsStore) Close() error {
	return nil
}

// upsertAll runs a dated (date, key, count) upsert for every entry in one
// transaction.
func (s *SQLiteMetricsStore) upsertAll(query, date string, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for key, count := range counts {
		if _, err := stmt.Exec(date, key, count); err != nil {
			return fmt.Errorf("upsert %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteMetricsStore) sumByKey(query, from, to string) (map[string]int64, error) {
	rows, err := s.db.Query(query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		counts[key] = count
	}
	return counts, rows.Err()
}
