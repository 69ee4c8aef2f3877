// Package pgindex keeps chunk embeddings in PostgreSQL with the pgvector
// extension so several processes can share one retrieval index.
package pgindex

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/vivacli/viva/internal/rag"
)

const defaultDimension = 768

const schemaTemplate = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS interview_chunks (
	store_fingerprint TEXT NOT NULL,
	id TEXT NOT NULL,
	document_kind TEXT NOT NULL,
	document_source TEXT NOT NULL,
	doc_ordinal INT NOT NULL,
	start_offset INT NOT NULL,
	length INT NOT NULL,
	content TEXT NOT NULL,
	embedding vector(%d),
	PRIMARY KEY (store_fingerprint, id)
);
`

// Index implements rag.Index on top of a pgvector table. Rows are scoped by
// store fingerprint so many stores share one database.
type Index struct {
	pool        *pgxpool.Pool
	fingerprint string
	logger      *zap.Logger
}

// Config describes the target database and vector shape.
type Config struct {
	// URL is a pgx connection string.
	URL string
	// Fingerprint scopes the index to a single store.
	Fingerprint string
	// Dimension is the embedding width. Zero selects the default of 768.
	Dimension int
}

// New connects to PostgreSQL, provisions the schema and returns an index
// scoped to the configured store fingerprint.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Index, error) {
	if log == nil {
		log = zap.NewNop()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = defaultDimension
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(schemaTemplate, dimension)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("provision chunk schema: %w", err)
	}

	log.Debug("pgvector index ready",
		zap.String("fingerprint", cfg.Fingerprint),
		zap.Int("dimension", dimension),
	)

	return &Index{pool: pool, fingerprint: cfg.Fingerprint, logger: log}, nil
}

// Add upserts the chunks in one batch. Sentinel embeddings are stored as NULL
// and rank last in similarity queries.
func (i *Index) Add(ctx context.Context, chunks []rag.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, chunk := range chunks {
		var embedding *pgvector.Vector
		if !chunk.Sentinel() {
			vec := pgvector.NewVector(chunk.Embedding)
			embedding = &vec
		}
		batch.Queue(
			`INSERT INTO interview_chunks
			 (store_fingerprint, id, document_kind, document_source, doc_ordinal, start_offset, length, content, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (store_fingerprint, id) DO NOTHING`,
			i.fingerprint, chunk.ID, string(chunk.DocumentKind), chunk.DocumentSource,
			chunk.DocOrdinal, chunk.StartOffset, chunk.Length, chunk.Text, embedding,
		)
	}

	br := i.pool.SendBatch(ctx, batch)
	defer br.Close()
	for index := range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert chunk %d: %w", index, err)
		}
	}
	return nil
}

// Search ranks chunks by cosine similarity, best match first, with ties
// resolved by start offset and then document order. An empty query degrades
// to positional order.
func (i *Index) Search(ctx context.Context, query []float32, k int) ([]rag.Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	if len(query) == 0 {
		rows, err := i.pool.Query(ctx,
			`SELECT id, 0::float8 AS score
			 FROM interview_chunks
			 WHERE store_fingerprint = $1
			 ORDER BY start_offset, doc_ordinal
			 LIMIT $2`,
			i.fingerprint, k,
		)
		return scanHits(rows, err)
	}

	rows, err := i.pool.Query(ctx,
		`SELECT id, CASE WHEN embedding IS NULL THEN 0 ELSE 1 - (embedding <=> $2) END AS score
		 FROM interview_chunks
		 WHERE store_fingerprint = $1
		 ORDER BY score DESC, start_offset, doc_ordinal
		 LIMIT $3`,
		i.fingerprint, pgvector.NewVector(query), k,
	)
	return scanHits(rows, err)
}

// Close releases the connection pool.
func (i *Index) Close() {
	if i != nil && i.pool != nil {
		i.pool.Close()
	}
}

func scanHits(rows pgx.Rows, err error) ([]rag.Hit, error) {
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var hits []rag.Hit
	for rows.Next() {
		var hit rag.Hit
		if err := rows.Scan(&hit.ChunkID, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan chunk hit: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}
