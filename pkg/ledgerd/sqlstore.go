package ledgerd

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/herbionyx/traceability/pkg/ledger"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// JSON columns are TEXT on both engines: jsonb would reorder detail keys.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS batches (
		batch_id TEXT PRIMARY KEY,
		product_name TEXT NOT NULL DEFAULT '',
		species TEXT NOT NULL DEFAULT '',
		manufacturing_date TEXT NOT NULL DEFAULT '',
		expiry_date TEXT NOT NULL DEFAULT '',
		quality_tests TEXT,
		farmer_story TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS stages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		stage_id TEXT NOT NULL UNIQUE,
		batch_id TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL,
		organization TEXT NOT NULL,
		latitude REAL NOT NULL DEFAULT 0,
		longitude REAL NOT NULL DEFAULT 0,
		icon TEXT NOT NULL DEFAULT '',
		details TEXT,
		evidence_hash TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS stages_by_batch ON stages (batch_id, seq)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		block INTEGER PRIMARY KEY AUTOINCREMENT,
		tx_id TEXT NOT NULL UNIQUE,
		function TEXT NOT NULL,
		args TEXT,
		timestamp TEXT NOT NULL
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS batches (
		batch_id TEXT PRIMARY KEY,
		product_name TEXT NOT NULL DEFAULT '',
		species TEXT NOT NULL DEFAULT '',
		manufacturing_date TEXT NOT NULL DEFAULT '',
		expiry_date TEXT NOT NULL DEFAULT '',
		quality_tests TEXT,
		farmer_story TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS stages (
		seq BIGSERIAL PRIMARY KEY,
		stage_id TEXT NOT NULL UNIQUE,
		batch_id TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL,
		organization TEXT NOT NULL,
		latitude DOUBLE PRECISION NOT NULL DEFAULT 0,
		longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
		icon TEXT NOT NULL DEFAULT '',
		details TEXT,
		evidence_hash TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS stages_by_batch ON stages (batch_id, seq)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		block BIGSERIAL PRIMARY KEY,
		tx_id TEXT NOT NULL UNIQUE,
		function TEXT NOT NULL,
		args TEXT,
		timestamp TEXT NOT NULL
	)`,
}

// SQLStore is a Store on database/sql, over modernc.org/sqlite or
// PostgreSQL (lib/pq).
type SQLStore struct {
	db      *sql.DB
	q       querier
	tx      *sql.Tx
	dialect dialect
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open picks the engine from dsn: postgres:// and postgresql:// URLs open
// PostgreSQL, anything else is a SQLite path.
func Open(dsn string) (*SQLStore, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return OpenPostgres(dsn)
	}
	return OpenSQLite(dsn)
}

// OpenSQLite opens (creating if needed) the database at path. Use
// ":memory:" for a throwaway ledger.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serialises
	// writers.
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects to the PostgreSQL database at dsn.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach ledger database: %w", err)
	}

	s, err := NewPostgresStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps a SQLite db and applies the schema.
func NewSQLiteStore(db *sql.DB) (*SQLStore, error) {
	return newSQLStore(db, dialectSQLite)
}

// NewPostgresStore wraps a PostgreSQL db and applies the schema.
func NewPostgresStore(db *sql.DB) (*SQLStore, error) {
	return newSQLStore(db, dialectPostgres)
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, q: db, dialect: d}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Backend names the database engine.
func (s *SQLStore) Backend() string {
	if s.dialect == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == dialectPostgres {
		schema = postgresSchema
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate ledger database: %w", err)
		}
	}
	return nil
}

// WithTx runs fn against a Store bound to one database transaction,
// committing when fn returns nil and rolling back otherwise. Nested calls
// join the outer transaction.
func (s *SQLStore) WithTx(ctx context.Context, fn func(Store) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&SQLStore{db: s.db, q: tx, tx: tx, dialect: s.dialect}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	if s.tx != nil {
		return errors.New("ledgerd: Close called inside a transaction")
	}
	return s.db.Close()
}

func (s *SQLStore) CreateBatch(ctx context.Context, rec ledger.BatchRecord) error {
	tests, story, err := batchJSON(rec)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO batches (
		batch_id, product_name, species, manufacturing_date, expiry_date, quality_tests, farmer_story
	) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.BatchID, rec.ProductName, rec.Species, rec.ManufacturingDate, rec.ExpiryDate, tests, story)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("batch %s %w", rec.BatchID, ErrExists)
		}
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

func (s *SQLStore) UpdateBatch(ctx context.Context, rec ledger.BatchRecord) error {
	tests, story, err := batchJSON(rec)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `UPDATE batches SET
		product_name = ?, species = ?, manufacturing_date = ?, expiry_date = ?, quality_tests = ?, farmer_story = ?
	WHERE batch_id = ?`,
		rec.ProductName, rec.Species, rec.ManufacturingDate, rec.ExpiryDate, tests, story, rec.BatchID)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("batch %s %w", rec.BatchID, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) GetBatch(ctx context.Context, batchID string) (*ledger.BatchRecord, error) {
	query := `
		SELECT batch_id, product_name, species, manufacturing_date, expiry_date, quality_tests, farmer_story
		FROM batches
		WHERE batch_id = ?`
	if s.tx != nil && s.dialect == dialectPostgres {
		// Read-modify-write callers hold the row until commit. SQLite
		// needs no lock: its single connection serialises transactions.
		query += ` FOR UPDATE`
	}
	row := s.q.QueryRowContext(ctx, s.rebind(query), batchID)

	var (
		rec   ledger.BatchRecord
		tests sql.NullString
		story sql.NullString
	)
	err := row.Scan(&rec.BatchID, &rec.ProductName, &rec.Species, &rec.ManufacturingDate, &rec.ExpiryDate, &tests, &story)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s %w", batchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read batch: %w", err)
	}
	if tests.Valid && tests.String != "" {
		if err := json.Unmarshal([]byte(tests.String), &rec.QualityTests); err != nil {
			return nil, fmt.Errorf("failed to decode quality tests: %w", err)
		}
	}
	if story.Valid && story.String != "" && story.String != "null" {
		rec.FarmerStory = &ledger.FarmerStory{}
		if err := json.Unmarshal([]byte(story.String), rec.FarmerStory); err != nil {
			return nil, fmt.Errorf("failed to decode farmer story: %w", err)
		}
	}
	return &rec, nil
}

func (s *SQLStore) RecordStage(ctx context.Context, st ledger.StageRecord) error {
	details, err := json.Marshal(st.Details)
	if err != nil {
		return fmt.Errorf("failed to encode stage details: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO stages (
		stage_id, batch_id, type, stage, timestamp, organization, latitude, longitude, icon, details, evidence_hash
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.StageID, st.BatchID, st.Type, st.Stage, st.Timestamp, st.Organization, st.Latitude, st.Longitude, st.Icon, string(details), st.EvidenceHash)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("stage %s %w", st.StageID, ErrExists)
		}
		return fmt.Errorf("failed to insert stage: %w", err)
	}
	return nil
}

// StagesByBatch returns stages in the order they were recorded.
func (s *SQLStore) StagesByBatch(ctx context.Context, batchID string) ([]ledger.StageRecord, error) {
	rows, err := s.q.QueryContext(ctx, s.rebind(`
		SELECT stage_id, batch_id, type, stage, timestamp, organization, latitude, longitude, icon, details, evidence_hash
		FROM stages
		WHERE batch_id = ?
		ORDER BY seq`), batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stages := []ledger.StageRecord{}
	for rows.Next() {
		var (
			st      ledger.StageRecord
			details sql.NullString
		)
		if err := rows.Scan(&st.StageID, &st.BatchID, &st.Type, &st.Stage, &st.Timestamp, &st.Organization,
			&st.Latitude, &st.Longitude, &st.Icon, &details, &st.EvidenceHash); err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &st.Details); err != nil {
				return nil, fmt.Errorf("failed to decode stage details: %w", err)
			}
		}
		stages = append(stages, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stages, nil
}

func (s *SQLStore) AppendTransaction(ctx context.Context, tx Transaction) (uint64, error) {
	args, err := json.Marshal(tx.Args)
	if err != nil {
		return 0, fmt.Errorf("failed to encode transaction args: %w", err)
	}
	const insert = `INSERT INTO transactions (tx_id, function, args, timestamp) VALUES (?, ?, ?, ?)`
	ts := tx.Timestamp.UTC().Format(time.RFC3339Nano)

	var block int64
	if s.dialect == dialectPostgres {
		// lib/pq has no LastInsertId.
		err = s.q.QueryRowContext(ctx, s.rebind(insert+` RETURNING block`), tx.TxID, tx.Function, string(args), ts).Scan(&block)
		if err != nil {
			return 0, fmt.Errorf("failed to append transaction: %w", err)
		}
		return uint64(block), nil //nolint:gosec // BIGSERIAL ids are positive
	}

	res, err := s.exec(ctx, insert, tx.TxID, tx.Function, string(args), ts)
	if err != nil {
		return 0, fmt.Errorf("failed to append transaction: %w", err)
	}
	block, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read block number: %w", err)
	}
	return uint64(block), nil //nolint:gosec // AUTOINCREMENT ids are positive
}

// Transactions returns the latest limit transactions, newest first.
func (s *SQLStore) Transactions(ctx context.Context, limit int) ([]Transaction, error) {
	rows, err := s.q.QueryContext(ctx, s.rebind(`
		SELECT block, tx_id, function, args, timestamp
		FROM transactions
		ORDER BY block DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var txs []Transaction
	for rows.Next() {
		var (
			tx   Transaction
			args sql.NullString
			ts   string
		)
		if err := rows.Scan(&tx.Block, &tx.TxID, &tx.Function, &args, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if args.Valid {
			_ = json.Unmarshal([]byte(args.String), &tx.Args)
		}
		tx.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func batchJSON(rec ledger.BatchRecord) (tests, story any, err error) {
	if rec.QualityTests != nil {
		raw, err := json.Marshal(rec.QualityTests)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode quality tests: %w", err)
		}
		tests = string(raw)
	}
	if rec.FarmerStory != nil {
		raw, err := json.Marshal(rec.FarmerStory)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode farmer story: %w", err)
		}
		story = string(raw)
	}
	return tests, story, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
