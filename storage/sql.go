package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/songzhibin97/entity-workflow/types"
	"github.com/songzhibin97/entity-workflow/workflow"
)

// SQLConfig contains SQLite connection configuration.
type SQLConfig struct {
	// Path is the database file path, ":memory:" for a private in-memory database.
	Path string
	// WAL enables Write-Ahead Logging mode.
	WAL bool
}

// SQLStorage is a SQLite-backed implementation of Store.
type SQLStorage struct {
	db *sql.DB
	mu sync.Mutex
	tx *sql.Tx
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLStorage opens the database and runs migrations.
func NewSQLStorage(cfg SQLConfig) (*SQLStorage, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writes and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLStorage{db: db}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLStorage) configurePragmas(ctx context.Context, wal bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if wal {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLStorage) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workflow_states (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_id TEXT NOT NULL,
			start_workflow TEXT NOT NULL,
			target_workflow TEXT NOT NULL,
			transition TEXT NOT NULL,
			step TEXT NOT NULL,
			successful INTEGER NOT NULL,
			data TEXT,
			errors TEXT,
			reached_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_states_entity ON workflow_states(entity_id)`,
		`CREATE TABLE IF NOT EXISTS workflow_entities (
			provider TEXT NOT NULL,
			identifier TEXT NOT NULL,
			data TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (provider, identifier)
		)`,
	}
	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// q returns the active transaction, or the database outside of one.
func (s *SQLStorage) q() querier {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Find implements workflow.StateRepository.
func (s *SQLStorage) Find(ctx context.Context, id types.EntityID) ([]workflow.State, error) {
	rows, err := s.q().QueryContext(ctx, `
		SELECT id, start_workflow, target_workflow, transition, step, successful, data, errors, reached_at
		FROM workflow_states WHERE entity_id = ? ORDER BY id`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query states of %s: %w", id, err)
	}
	defer rows.Close()

	var states []workflow.State
	for rows.Next() {
		var (
			rec        workflow.StateRecord
			stateID    int64
			successful int
			data       sql.NullString
			errs       sql.NullString
			reachedAt  string
		)
		if err := rows.Scan(&stateID, &rec.StartWorkflowName, &rec.TargetWorkflowName, &rec.TransitionName,
			&rec.StepName, &successful, &data, &errs, &reachedAt); err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		rec.StateID = uint64(stateID)
		rec.EntityID = id
		rec.Successful = successful != 0
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &rec.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal state data: %w", err)
			}
		}
		if errs.Valid && errs.String != "" {
			if err := json.Unmarshal([]byte(errs.String), &rec.Errors); err != nil {
				return nil, fmt.Errorf("failed to unmarshal state errors: %w", err)
			}
		}
		if rec.ReachedAt, err = time.Parse(time.RFC3339Nano, reachedAt); err != nil {
			return nil, fmt.Errorf("failed to parse reached_at: %w", err)
		}
		states = append(states, workflow.NewStateFromRecord(rec))
	}
	return states, rows.Err()
}

// Add implements workflow.StateRepository.
func (s *SQLStorage) Add(ctx context.Context, state workflow.State) (workflow.State, error) {
	rec := state.Record()
	data, err := marshalNullable(rec.Data, len(rec.Data) == 0)
	if err != nil {
		return workflow.State{}, fmt.Errorf("failed to marshal state data: %w", err)
	}
	errs, err := marshalNullable(rec.Errors, len(rec.Errors) == 0)
	if err != nil {
		return workflow.State{}, fmt.Errorf("failed to marshal state errors: %w", err)
	}
	successful := 0
	if rec.Successful {
		successful = 1
	}
	res, err := s.q().ExecContext(ctx, `
		INSERT INTO workflow_states (entity_id, start_workflow, target_workflow, transition, step, successful, data, errors, reached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EntityID.String(), rec.StartWorkflowName, rec.TargetWorkflowName, rec.TransitionName,
		rec.StepName, successful, data, errs, rec.ReachedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return workflow.State{}, fmt.Errorf("failed to insert state of %s: %w", rec.EntityID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return workflow.State{}, fmt.Errorf("failed to read id of state of %s: %w", rec.EntityID, err)
	}
	return state.WithStateID(uint64(id)), nil
}

// Begin implements workflow.TransactionHandler.
func (s *SQLStorage) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return ErrTransactionActive
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.tx = tx
	return nil
}

// Commit implements workflow.TransactionHandler.
func (s *SQLStorage) Commit(context.Context) error {
	tx, err := s.takeTx()
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback implements workflow.TransactionHandler.
func (s *SQLStorage) Rollback(context.Context) error {
	tx, err := s.takeTx()
	if err != nil {
		return err
	}
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

func (s *SQLStorage) takeTx() (*sql.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		return nil, ErrNoTransaction
	}
	tx := s.tx
	s.tx = nil
	return tx, nil
}

// Close closes the database.
func (s *SQLStorage) Close() error {
	return s.db.Close()
}

func marshalNullable(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// SQLEntityRepository stores JSON encoded entities of type T for one provider.
type SQLEntityRepository[T any] struct {
	store    *SQLStorage
	provider string
}

// NewSQLEntityRepository creates an entity repository sharing the storage transaction.
func NewSQLEntityRepository[T any](store *SQLStorage, provider string) *SQLEntityRepository[T] {
	return &SQLEntityRepository[T]{store: store, provider: provider}
}

func identifierKey(id types.EntityID) string {
	return fmt.Sprint(id.Identifier())
}

// Find implements workflow.EntityRepository.
func (r *SQLEntityRepository[T]) Find(ctx context.Context, id types.EntityID) (any, error) {
	if id.ProviderName() != r.provider {
		return nil, notFound(id)
	}
	var data string
	err := r.store.q().QueryRowContext(ctx,
		`SELECT data FROM workflow_entities WHERE provider = ? AND identifier = ?`,
		r.provider, identifierKey(id)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	} else if err != nil {
		return nil, fmt.Errorf("failed to query entity %s: %w", id, err)
	}
	return decodeEntity[T]([]byte(data))
}

// FindBySpecification implements workflow.EntityRepository.
func (r *SQLEntityRepository[T]) FindBySpecification(ctx context.Context, spec workflow.Specification) ([]any, error) {
	rows, err := r.store.q().QueryContext(ctx,
		`SELECT identifier, data FROM workflow_entities WHERE provider = ? ORDER BY identifier`, r.provider)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities of %q: %w", r.provider, err)
	}
	defer rows.Close()

	var out []any
	for rows.Next() {
		var identifier, data string
		if err := rows.Scan(&identifier, &data); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entity, err := decodeEntity[T]([]byte(data))
		if err != nil {
			return nil, err
		}
		if spec.IsSatisfiedBy(types.NewEntityID(r.provider, identifier), entity) {
			out = append(out, entity)
		}
	}
	return out, rows.Err()
}

// Add implements workflow.EntityRepository.
func (r *SQLEntityRepository[T]) Add(ctx context.Context, id types.EntityID, entity any) error {
	if err := checkProvider(r.provider, id); err != nil {
		return err
	}
	if err := checkEntity[T](entity); err != nil {
		return err
	}
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal entity %s: %w", id, err)
	}
	_, err = r.store.q().ExecContext(ctx, `
		INSERT INTO workflow_entities (provider, identifier, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(provider, identifier) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		r.provider, identifierKey(id), string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert entity %s: %w", id, err)
	}
	return nil
}

// Remove implements workflow.EntityRepository.
func (r *SQLEntityRepository[T]) Remove(ctx context.Context, id types.EntityID) error {
	_, err := r.store.q().ExecContext(ctx,
		`DELETE FROM workflow_entities WHERE provider = ? AND identifier = ?`, r.provider, identifierKey(id))
	if err != nil {
		return fmt.Errorf("failed to delete entity %s: %w", id, err)
	}
	return nil
}

var (
	_ Store                     = (*SQLStorage)(nil)
	_ workflow.EntityRepository = (*SQLEntityRepository[any])(nil)
)
