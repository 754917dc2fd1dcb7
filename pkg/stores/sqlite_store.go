package stores

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/modelsync/pkg/engine"
	"github.com/openfroyo/modelsync/pkg/model"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a fresh database.
	if isMemory(cfg.Path) {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}

// Init opens the database with WAL mode and foreign keys enabled.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	if !isMemory(s.cfg.Path) {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordPass stores a pass summary together with its batch and the
// executor's applied and failed operations. Recording the same pass twice
// replaces the earlier record.
func (s *SQLiteStore) RecordPass(ctx context.Context, result *engine.PassResult) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("pass result has no ID")
	}

	blob, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode pass result: %w", err)
	}

	var completedAt *time.Time
	if !result.CompletedAt.IsZero() {
		t := result.CompletedAt.UTC()
		completedAt = &t
	}
	var errMsg *string
	if result.Error != nil {
		msg := result.Error.Error()
		errMsg = &msg
	}
	var batch []model.Operation
	if result.Batch != nil {
		batch = result.Batch.Operations
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM passes WHERE id = ?`, result.ID); err != nil {
		return fmt.Errorf("failed to replace pass: %w", err)
	}

	query := `
		INSERT INTO passes (id, mode, status, started_at, completed_at, operations, excluded, unresolved, error, result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		result.ID,
		string(result.Mode),
		string(result.Status),
		result.StartedAt.UTC(),
		completedAt,
		len(batch),
		result.Excluded,
		len(result.Unresolved),
		errMsg,
		string(blob),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record pass: %w", err)
	}

	if err := insertOperations(ctx, tx, result.ID, PhaseBatch, batch); err != nil {
		return err
	}
	if report := result.Report; report != nil {
		if err := insertOperations(ctx, tx, result.ID, PhaseApplied, report.Applied); err != nil {
			return err
		}
		if report.Failed != nil {
			if err := insertOperations(ctx, tx, result.ID, PhaseFailed, []model.Operation{*report.Failed}); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pass: %w", err)
	}
	return nil
}

func insertOperations(ctx context.Context, tx *sql.Tx, passID string, phase OperationPhase, ops []model.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pass_operations (pass_id, phase, seq, operation, address, body)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare operation insert: %w", err)
	}
	defer stmt.Close()

	for i, op := range ops {
		body, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("failed to encode operation %s: %w", op, err)
		}
		if _, err := stmt.ExecContext(ctx, passID, string(phase), i, op.Name, op.Address.String(), string(body)); err != nil {
			return fmt.Errorf("failed to record operation %s: %w", op, err)
		}
	}
	return nil
}

const passColumns = `id, mode, status, started_at, completed_at, operations, excluded, unresolved, error, result, created_at`

func scanPass(row interface{ Scan(...interface{}) error }) (*Pass, error) {
	p := &Pass{}
	var mode, status string
	err := row.Scan(
		&p.ID,
		&mode,
		&status,
		&p.StartedAt,
		&p.CompletedAt,
		&p.Operations,
		&p.Excluded,
		&p.Unresolved,
		&p.Error,
		&p.Result,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Mode = engine.PassMode(mode)
	p.Status = engine.PassStatus(status)
	return p, nil
}

// GetPass retrieves a pass by ID
func (s *SQLiteStore) GetPass(ctx context.Context, id string) (*Pass, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+passColumns+` FROM passes WHERE id = ?`, id)
	p, err := scanPass(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pass %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pass: %w", err)
	}
	return p, nil
}

// ListPasses lists passes, most recent first
func (s *SQLiteStore) ListPasses(ctx context.Context, limit, offset int) ([]*Pass, error) {
	query := `SELECT ` + passColumns + ` FROM passes ORDER BY started_at DESC, created_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list passes: %w", err)
	}
	defer rows.Close()

	passes := []*Pass{}
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pass: %w", err)
		}
		passes = append(passes, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating passes: %w", err)
	}

	return passes, nil
}

// ListPassOperations returns the operations recorded for one phase of a
// pass, in order.
func (s *SQLiteStore) ListPassOperations(ctx context.Context, passID string, phase OperationPhase) ([]*PassOperation, error) {
	query := `
		SELECT pass_id, phase, seq, body
		FROM pass_operations
		WHERE pass_id = ? AND phase = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, passID, string(phase))
	if err != nil {
		return nil, fmt.Errorf("failed to list pass operations: %w", err)
	}
	defer rows.Close()

	ops := []*PassOperation{}
	for rows.Next() {
		op := &PassOperation{}
		var p, body string
		if err := rows.Scan(&op.PassID, &p, &op.Seq, &body); err != nil {
			return nil, fmt.Errorf("failed to scan pass operation: %w", err)
		}
		op.Phase = OperationPhase(p)
		if err := json.Unmarshal([]byte(body), &op.Operation); err != nil {
			return nil, fmt.Errorf("failed to decode pass operation: %w", err)
		}
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pass operations: %w", err)
	}

	return ops, nil
}

// DeletePassesBefore prunes passes that started before cutoff, with their
// operations and events.
func (s *SQLiteStore) DeletePassesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff = cutoff.UTC()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE pass_id IN (SELECT id FROM passes WHERE started_at < ?)`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM passes WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune passes: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return n, nil
}

// AppendEvent stores a pass event.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event engine.Event) error {
	var address, details *string
	if event.Address != "" {
		address = &event.Address
	}
	if len(event.Details) > 0 {
		data, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to encode event details: %w", err)
		}
		d := string(data)
		details = &d
	}
	level := event.Level
	if level == "" {
		level = event.Type.Severity()
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	query := `
		INSERT INTO events (event_id, pass_id, type, level, address, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.PassID,
		string(event.Type),
		level,
		address,
		event.Message,
		details,
		ts.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// GetEvents retrieves events with optional filters, in insertion order.
func (s *SQLiteStore) GetEvents(ctx context.Context, passID *string, level *string, limit, offset int) ([]*Event, error) {
	query := `
		SELECT id, event_id, pass_id, type, level, address, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR pass_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, passID, passID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.PassID,
			&event.Type,
			&event.Level,
			&event.Address,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// SaveSnapshot stores a copy of the model. The hash lets callers tell
// whether the model changed since the last snapshot.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, passID string, root *model.Resource) (*Snapshot, error) {
	data, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("failed to encode model: %w", err)
	}
	sum := sha256.Sum256(data)

	snap := &Snapshot{
		Hash:      hex.EncodeToString(sum[:]),
		Model:     root.Clone(),
		CreatedAt: time.Now().UTC(),
	}
	if passID != "" {
		snap.PassID = &passID
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (pass_id, hash, model, created_at) VALUES (?, ?, ?, ?)`,
		snap.PassID, snap.Hash, string(data), snap.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot ID: %w", err)
	}
	snap.ID = id
	return snap, nil
}

// LatestSnapshot returns the most recent snapshot.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	query := `SELECT id, pass_id, hash, model, created_at FROM snapshots ORDER BY id DESC LIMIT 1`

	snap := &Snapshot{}
	var data string
	err := s.db.QueryRowContext(ctx, query).Scan(&snap.ID, &snap.PassID, &snap.Hash, &data, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	snap.Model = &model.Resource{}
	if err := json.Unmarshal([]byte(data), snap.Model); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

// CreateAuditEntry creates an audit log entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO audit (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries, most recent first
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
