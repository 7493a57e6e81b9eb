package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collabcore/docserver/internal/crdt"
)

// PostgresStore is the relational adapter over the document_data table:
//
//	document_data(id, channel_id, parent_id, name, content, chunks,
//	              op_log, version_service, version_snapshot, version_log,
//	              is_directory, status, created_by, created_at, updated_at)
//	unique (channel_id, parent_id, name)
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-connected pool. The pool's lifecycle
// (Close) is owned by the caller — typically the composition root in
// main.go.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateDoc(ctx context.Context, doc *crdt.Document) error {
	chunksJSON, err := json.Marshal(chunksOrEmpty(doc.Chunks))
	if err != nil {
		return fmt.Errorf("durable: marshal chunks: %w", err)
	}
	opLogJSON, err := json.Marshal(doc.OpLog)
	if err != nil {
		return fmt.Errorf("durable: marshal op log: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO document_data
			(id, channel_id, parent_id, name, content, chunks, op_log,
			 version_service, version_snapshot, version_log,
			 is_directory, status, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		doc.ID, doc.ChannelID, doc.ParentID, doc.Name, doc.Content(), chunksJSON, opLogJSON,
		doc.Version.Service, doc.Version.Snapshot, doc.Version.Log,
		doc.IsDirectory, int(doc.Status), doc.CreatedBy, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("durable: create doc %s: %w", doc.ID, err)
	}
	return nil
}

func (s *PostgresStore) LoadDoc(ctx context.Context, id string) (*crdt.Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, channel_id, parent_id, name, content, chunks, op_log,
		       version_service, version_snapshot, version_log,
		       is_directory, status, created_by, created_at, updated_at
		FROM document_data WHERE id = $1`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("durable: load doc %s: %w", id, err)
	}
	return doc, nil
}

func (s *PostgresStore) ListDocs(ctx context.Context, channelID string) ([]*crdt.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, channel_id, parent_id, name, content, chunks, op_log,
		       version_service, version_snapshot, version_log,
		       is_directory, status, created_by, created_at, updated_at
		FROM document_data WHERE channel_id = $1 AND status <> $2`,
		channelID, int(crdt.StatusDeleted))
	if err != nil {
		return nil, fmt.Errorf("durable: list docs for channel %s: %w", channelID, err)
	}
	defer rows.Close()

	var out []*crdt.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("durable: scan doc row: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListAllDocs(ctx context.Context) ([]*crdt.Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, channel_id, parent_id, name, content, chunks, op_log,
		       version_service, version_snapshot, version_log,
		       is_directory, status, created_by, created_at, updated_at
		FROM document_data WHERE status <> $1`,
		int(crdt.StatusDeleted))
	if err != nil {
		return nil, fmt.Errorf("durable: list all docs: %w", err)
	}
	defer rows.Close()

	var out []*crdt.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("durable: scan doc row: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// WriteThrough persists content/chunks/op log only if version strictly
// exceeds the stored version, keeping the stored version monotone.
func (s *PostgresStore) WriteThrough(ctx context.Context, id string, in WriteThroughInput) error {
	chunksJSON, err := json.Marshal(in.Chunks)
	if err != nil {
		return fmt.Errorf("durable: marshal chunks: %w", err)
	}
	opLogJSON, err := json.Marshal(in.OpLog)
	if err != nil {
		return fmt.Errorf("durable: marshal op log: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE document_data
		SET content = $2, chunks = $3, op_log = $4,
		    version_service = $5, version_snapshot = $6, version_log = $7,
		    updated_at = now()
		WHERE id = $1
		  AND (version_service, version_snapshot, version_log) < ($5, $6, $7)`,
		id, in.Content, chunksJSON, opLogJSON,
		in.Version.Service, in.Version.Snapshot, in.Version.Log)
	if err != nil {
		return fmt.Errorf("durable: write-through doc %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the doc is absent or the stored version already caught
		// up (e.g. a concurrent snapshot raced this write) — not an
		// error; the next snapshot or sync covers it.
		return nil
	}
	return nil
}

// Snapshot truncates the op log, sets chunks to the current baseline, and
// stores the supplied version's service and snapshot components with log
// reset to 0. It does not bump the version itself; the caller passes the
// already-bumped snapshot version.
func (s *PostgresStore) Snapshot(ctx context.Context, id string, in SnapshotInput) error {
	chunksJSON, err := json.Marshal(in.Chunks)
	if err != nil {
		return fmt.Errorf("durable: marshal chunks: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE document_data
		SET content = $2, chunks = $3, op_log = '[]'::jsonb,
		    version_service = $4, version_snapshot = $5, version_log = 0,
		    last_snapshot_at = $6, updated_at = now()
		WHERE id = $1`,
		id, in.Content, chunksJSON, in.Version.Service, in.Version.Snapshot, in.At)
	if err != nil {
		return fmt.Errorf("durable: snapshot doc %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) SoftDelete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE document_data SET status = $2, updated_at = now() WHERE id = $1`,
		id, int(crdt.StatusDeleted))
	if err != nil {
		return fmt.Errorf("durable: soft delete doc %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) Rename(ctx context.Context, id string, in RenameInput) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE document_data
		SET name = COALESCE($2, name), parent_id = COALESCE($3, parent_id), updated_at = now()
		WHERE id = $1`,
		id, in.Name, in.ParentID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("durable: rename doc %s: %w", id, err)
	}
	return nil
}

// scanRow abstracts over pgx.Row and pgx.Rows, both of which implement
// Scan with this signature.
type scanRow interface {
	Scan(dest ...any) error
}

func scanDocument(row scanRow) (*crdt.Document, error) {
	var (
		doc                                 crdt.Document
		chunksJSON, opLogJSON               []byte
		content                             string
		statusRaw                           int
		versionService, versionSnap, verLog int
	)
	if err := row.Scan(
		&doc.ID, &doc.ChannelID, &doc.ParentID, &doc.Name, &content,
		&chunksJSON, &opLogJSON,
		&versionService, &versionSnap, &verLog,
		&doc.IsDirectory, &statusRaw, &doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var chunks []crdt.Chunk
	if err := json.Unmarshal(chunksJSON, &chunks); err != nil {
		return nil, fmt.Errorf("unmarshal chunks: %w", err)
	}
	var opLog []crdt.OpLogEntry
	if err := json.Unmarshal(opLogJSON, &opLog); err != nil {
		return nil, fmt.Errorf("unmarshal op log: %w", err)
	}

	doc.Status = crdt.Status(statusRaw)
	doc.Version = crdt.Version{Service: versionService, Snapshot: versionSnap, Log: verLog}
	doc.Chunks = reconstructChunks(chunks, opLog, content)
	doc.OpLog = opLog
	return &doc, nil
}

func chunksOrEmpty(cl *crdt.ChunkList) []crdt.Chunk {
	if cl == nil {
		return nil
	}
	return cl.Chunks()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
