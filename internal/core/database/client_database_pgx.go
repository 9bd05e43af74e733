package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/uwia/internal/config"
	"github.com/markdave123-py/uwia/internal/core"
	"github.com/markdave123-py/uwia/internal/logger"
	"github.com/markdave123-py/uwia/internal/models"
)

var _ core.SessionStore = (*DatabaseClient)(nil)

type DatabaseClient struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config, log *slog.Logger) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	log = logger.OrDefault(log).With("component", "database")

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db, logger: log}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

const sessionColumns = `id, file_name, file_size, content_type, storage_key, total_chunks,
	processed_chunks, status, error_message, created_at, expires_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	if err := row.Scan(
		&s.ID, &s.FileName, &s.FileSize, &s.ContentType, &s.StorageKey, &s.TotalChunks,
		&s.ProcessedChunks, &s.Status, &s.ErrorMessage, &s.CreatedAt, &s.ExpiresAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *DatabaseClient) CreateSession(ctx context.Context, s *models.Session) error {
	if s == nil {
		return errors.New("nil session")
	}
	const q = `
		INSERT INTO processing_sessions
			(id, file_name, file_size, content_type, storage_key, total_chunks, processed_chunks,
			 status, error_message, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := c.db.ExecContext(ctx, q,
		s.ID, s.FileName, s.FileSize, s.ContentType, s.StorageKey, s.TotalChunks, s.ProcessedChunks,
		string(s.Status), s.ErrorMessage, s.CreatedAt, s.ExpiresAt)
	return err
}

func (c *DatabaseClient) GetSession(ctx context.Context, id string) (*models.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM processing_sessions WHERE id = $1`
	s, err := scanSession(c.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (c *DatabaseClient) ListSessionsByStatus(ctx context.Context, status models.SessionStatus) ([]models.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM processing_sessions WHERE status = $1 ORDER BY created_at ASC`
	rows, err := c.db.QueryContext(ctx, q, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) SetTotalChunks(ctx context.Context, id string, total int) error {
	const q = `
		UPDATE processing_sessions
		SET total_chunks = $2
		WHERE id = $1 AND total_chunks = 0
	`
	res, err := c.db.ExecContext(ctx, q, id, total)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return c.requireSession(ctx, id)
	}
	return nil
}

func (c *DatabaseClient) IncrementProcessed(ctx context.Context, id string, delta int) error {
	const q = `
		UPDATE processing_sessions
		SET processed_chunks = LEAST(total_chunks, processed_chunks + $2)
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, delta)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.SessionNotFound(id)
	}
	return nil
}

func (c *DatabaseClient) UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus, message string) error {
	const q = `
		UPDATE processing_sessions
		SET status = $2, error_message = $3
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, string(status), message)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.SessionNotFound(id)
	}
	return nil
}

func (c *DatabaseClient) requireSession(ctx context.Context, id string) error {
	s, err := c.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if s == nil {
		return core.SessionNotFound(id)
	}
	return nil
}

// InsertChunks inserts chunks in a single transaction.
func (c *DatabaseClient) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO session_chunks
			(id, session_id, chunk_index, content, content_hash, byte_size, page_start, page_end, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (session_id, chunk_index) DO NOTHING
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		var emb any
		if len(ch.Embedding) > 0 {
			emb = pgvector.NewVector(ch.Embedding)
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.SessionID, ch.ChunkIndex, ch.Content, ch.ContentHash, ch.ByteSize, ch.PageStart, ch.PageEnd, emb,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert chunk %d: %w", ch.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

const chunkColumns = `id, session_id, chunk_index, content, content_hash, byte_size, page_start, page_end, created_at`

func scanChunk(row rowScanner, extra ...any) (models.Chunk, error) {
	var ch models.Chunk
	dest := []any{&ch.ID, &ch.SessionID, &ch.ChunkIndex, &ch.Content, &ch.ContentHash, &ch.ByteSize,
		&ch.PageStart, &ch.PageEnd, &ch.CreatedAt}
	err := row.Scan(append(dest, extra...)...)
	return ch, err
}

func (c *DatabaseClient) GetChunks(ctx context.Context, sessionID string) ([]models.Chunk, error) {
	q := `SELECT ` + chunkColumns + ` FROM session_chunks WHERE session_id = $1 ORDER BY chunk_index ASC`
	rows, err := c.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) CountChunks(ctx context.Context, sessionID string) (int, error) {
	const q = `SELECT count(*) FROM session_chunks WHERE session_id = $1`
	var n int
	err := c.db.QueryRowContext(ctx, q, sessionID).Scan(&n)
	return n, err
}

// SearchChunks finds chunks containing any of the terms; ranking is left to the caller.
func (c *DatabaseClient) SearchChunks(ctx context.Context, sessionID string, terms []string, queryVec []float32) ([]models.Chunk, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	patterns := make([]string, len(terms))
	for i, t := range terms {
		patterns[i] = "%" + escapeLike(t) + "%"
	}

	var (
		rows *sql.Rows
		err  error
	)
	if len(queryVec) > 0 {
		q := `SELECT ` + chunkColumns + `,
				COALESCE(1 - (embedding <=> $3), 0)
			FROM session_chunks
			WHERE session_id = $1 AND content ILIKE ANY($2)
			ORDER BY chunk_index ASC`
		rows, err = c.db.QueryContext(ctx, q, sessionID, patterns, pgvector.NewVector(queryVec))
	} else {
		q := `SELECT ` + chunkColumns + `, 0::float8
			FROM session_chunks
			WHERE session_id = $1 AND content ILIKE ANY($2)
			ORDER BY chunk_index ASC`
		rows, err = c.db.QueryContext(ctx, q, sessionID, patterns)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Chunk
	for rows.Next() {
		var sim float64
		ch, err := scanChunk(rows, &sim)
		if err != nil {
			return nil, err
		}
		ch.Similarity = sim
		out = append(out, ch)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (c *DatabaseClient) DeleteSession(ctx context.Context, id string) (bool, error) {
	const q = `DELETE FROM processing_sessions WHERE id = $1`
	res, err := c.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (c *DatabaseClient) ExpireSessions(ctx context.Context, now time.Time) (int, error) {
	const q = `
		UPDATE processing_sessions
		SET status = 'expired'
		WHERE expires_at <= $1 AND status <> 'expired'
	`
	res, err := c.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (c *DatabaseClient) DeleteExpiredSessions(ctx context.Context, now time.Time) ([]models.Session, error) {
	const q = `
		DELETE FROM processing_sessions
		WHERE expires_at <= $1
		RETURNING id, file_name, storage_key
	`
	rows, err := c.db.QueryContext(ctx, q, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(&s.ID, &s.FileName, &s.StorageKey); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
