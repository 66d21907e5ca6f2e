package destination

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ChuLiYu/beaver-migrate/pkg/types"
	_ "github.com/lib/pq" // PostgreSQL driver
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore is a PostgreSQL implementation of Store.
//
// Records live in migrated_records keyed by (kind, key) with the message as
// JSONB; applied batch hashes live in applied_batches.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens and pings the database at connectionString.
func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing connection pool.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InitSchema creates the necessary tables if they don't exist.
func (s *PostgresStore) InitSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS migrated_records (
		kind VARCHAR(64) NOT NULL,
		key VARCHAR(255) NOT NULL,
		body JSONB NOT NULL,
		applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		PRIMARY KEY (kind, key)
	);

	CREATE TABLE IF NOT EXISTS applied_batches (
		hash CHAR(64) PRIMARY KEY,
		applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);
	`

	_, err := s.db.Exec(query)
	return err
}

const upsertRecord = `
	INSERT INTO migrated_records (kind, key, body)
	VALUES ($1, $2, $3)
	ON CONFLICT (kind, key) DO UPDATE SET body = EXCLUDED.body, applied_at = now()
`

// Put writes or replaces one record.
func (s *PostgresStore) Put(ctx context.Context, msg types.Message) error {
	body, err := encodeRecord(msg)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertRecord, string(msg.Kind), msg.Key(), body); err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

// Get loads one record.
func (s *PostgresStore) Get(ctx context.Context, kind types.MessageKind, key string) (types.Message, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT body FROM migrated_records WHERE kind = $1 AND key = $2",
		string(kind), key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Message{}, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, key)
	}
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to query record: %w", err)
	}
	return decodeRecord(body)
}

// Scan visits every record of kind in key order.
func (s *PostgresStore) Scan(ctx context.Context, kind types.MessageKind, fn func(types.Message) error) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT body FROM migrated_records WHERE kind = $1 ORDER BY key COLLATE \"C\" ASC",
		string(kind))
	if err != nil {
		return fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return fmt.Errorf("failed to scan record: %w", err)
		}
		msg, err := decodeRecord(body)
		if err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}
	return nil
}

// Count returns the number of records of kind.
func (s *PostgresStore) Count(ctx context.Context, kind types.MessageKind) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM migrated_records WHERE kind = $1", string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// HasBatch reports whether a batch with this content hash was applied.
func (s *PostgresStore) HasBatch(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM applied_batches WHERE hash = $1)", hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query batch: %w", err)
	}
	return exists, nil
}

// MarkBatch records a batch hash as applied.
func (s *PostgresStore) MarkBatch(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO applied_batches (hash) VALUES ($1) ON CONFLICT (hash) DO NOTHING", hash)
	if err != nil {
		return fmt.Errorf("failed to mark batch: %w", err)
	}
	return nil
}

// ApplyBatch writes all messages and the batch hash in one transaction.
// Claiming the hash first makes concurrent duplicates of the same batch
// serialize on the primary key; the loser sees zero affected rows.
func (s *PostgresStore) ApplyBatch(ctx context.Context, hash string, msgs []types.Message) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO applied_batches (hash) VALUES ($1) ON CONFLICT (hash) DO NOTHING", hash)
	if err != nil {
		return false, fmt.Errorf("failed to claim batch: %w", err)
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if claimed == 0 {
		return false, nil
	}

	stmt, err := tx.PrepareContext(ctx, upsertRecord)
	if err != nil {
		return false, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, msg := range msgs {
		body, err := encodeRecord(msg)
		if err != nil {
			return false, fmt.Errorf("message %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, string(msg.Kind), msg.Key(), body); err != nil {
			return false, fmt.Errorf("failed to upsert record %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit batch: %w", err)
	}
	return true, nil
}

func encodeRecord(msg types.Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return body, nil
}

func decodeRecord(body []byte) (types.Message, error) {
	var msg types.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return msg, nil
}
