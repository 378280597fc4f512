package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a PostgreSQL backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a PostgresStore with a connection pool and
// verifies connectivity.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) UpsertDocument(ctx context.Context, doc *Document) error {
	source, err := json.Marshal(doc.Source)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO documents (id, fingerprint, source, status, attempts, duplicate_of, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			duplicate_of = EXCLUDED.duplicate_of,
			last_error = EXCLUDED.last_error,
			updated_at = NOW()
	`
	_, err = s.pool.Exec(ctx, query,
		doc.ID, doc.Fingerprint, source, doc.Status, doc.Attempts, doc.DuplicateOf, doc.LastError,
	)
	return err
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	query := `
		SELECT id, fingerprint, source, status, attempts, duplicate_of, last_error, created_at, updated_at
		FROM documents WHERE id = $1
	`
	var doc Document
	var source []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&doc.ID, &doc.Fingerprint, &source, &doc.Status, &doc.Attempts,
		&doc.DuplicateOf, &doc.LastError, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(source, &doc.Source); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, id, status, lastError string) error {
	query := `UPDATE documents SET status = $2, last_error = $3, updated_at = NOW() WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, status, lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("store: document not found")
	}
	return nil
}

func (s *PostgresStore) CountDocumentsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ClaimFingerprint relies on the fingerprints primary key: the first
// insert wins, later inserts read back the original claim.
func (s *PostgresStore) ClaimFingerprint(ctx context.Context, fingerprint, docID string) (bool, string, error) {
	query := `
		INSERT INTO fingerprints (fingerprint, document_id, claimed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (fingerprint) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, query, fingerprint, docID)
	if err != nil {
		return false, "", err
	}
	if tag.RowsAffected() == 1 {
		return true, "", nil
	}

	var existing string
	err = s.pool.QueryRow(ctx, `SELECT document_id FROM fingerprints WHERE fingerprint = $1`, fingerprint).Scan(&existing)
	if err != nil {
		return false, "", err
	}
	return false, existing, nil
}

func (s *PostgresStore) UpsertRecord(ctx context.Context, rec *Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	query := `
		INSERT INTO records (document_id, outcome, payload, finished_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			payload = EXCLUDED.payload,
			finished_at = EXCLUDED.finished_at
	`
	_, err = s.pool.Exec(ctx, query, rec.DocumentID, rec.Outcome, payload, rec.FinishedAt)
	return err
}

func (s *PostgresStore) GetRecord(ctx context.Context, docID string) (*Record, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM records WHERE document_id = $1`, docID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
