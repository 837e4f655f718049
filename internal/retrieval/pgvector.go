// Package retrieval keeps the ground-truth reference documents in a pgvector
// collection and returns the passages most relevant to a query.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Separator joins retrieved passages.
const Separator = "\n\n---\n\n"

// hnswMaxDims is the largest vector pgvector can index with HNSW.
const hnswMaxDims = 2000

var ErrNoContext = errors.New("no reference context found")

// Embedder turns texts into vectors, one per input.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever returns reference text relevant to query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, limit int) (string, error)
}

type Config struct {
	Collection   string
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
}

// IngestStats reports what Ingest did.
type IngestStats struct {
	Skipped    bool
	Dimensions int
	Chunks     int
}

// PgVectorStore is a named vector collection stored as one Postgres table
// {id, embedding, text, source}.
type PgVectorStore struct {
	pool     *pgxpool.Pool
	embedder Embedder
	cfg      Config
	refs     []Reference
	table    string
}

func NewPgVectorStore(pool *pgxpool.Pool, embedder Embedder, refs []Reference, cfg Config) *PgVectorStore {
	if cfg.Collection == "" {
		cfg.Collection = "ground_truth"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &PgVectorStore{
		pool:     pool,
		embedder: embedder,
		cfg:      cfg,
		refs:     refs,
		table:    pgx.Identifier{cfg.Collection}.Sanitize(),
	}
}

// Retrieve embeds query and returns the limit nearest ground-truth passages
// by cosine distance. An embedding failure is returned, never an empty
// success.
func (s *PgVectorStore) Retrieve(ctx context.Context, query string, limit int) (string, error) {
	if limit <= 0 {
		limit = 4
	}
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return "", fmt.Errorf("embed query: got %d vectors", len(vecs))
	}

	sql := fmt.Sprintf(
		`SELECT text FROM %s WHERE source = ANY($2) ORDER BY embedding <=> $1::vector LIMIT $3`, s.table)
	rows, err := s.pool.Query(ctx, sql, pgvector.NewVector(vecs[0]), sources(s.refs), limit)
	if err != nil {
		return "", fmt.Errorf("search %s: %w", s.cfg.Collection, err)
	}
	texts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return "", fmt.Errorf("search %s: %w", s.cfg.Collection, err)
	}
	if len(texts) == 0 {
		return "", fmt.Errorf("%s: %w", s.cfg.Collection, ErrNoContext)
	}
	return strings.Join(texts, Separator), nil
}

// Ingest makes sure the collection holds the reference documents embedded
// with the current model. A populated collection of the right dimension is
// left untouched. Concurrent callers serialize on a session advisory lock.
func (s *PgVectorStore) Ingest(ctx context.Context) (IngestStats, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return IngestStats{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	key := lockKey(s.cfg.Collection)
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, key); err != nil {
		return IngestStats{}, fmt.Errorf("lock collection: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
			slog.Error("failed to release collection lock", "collection", s.cfg.Collection, "error", err)
		}
	}()

	probe, err := s.embedder.Embed(ctx, []string{"dimension probe"})
	if err != nil {
		return IngestStats{}, fmt.Errorf("probe embedding dimension: %w", err)
	}
	if len(probe) != 1 || len(probe[0]) == 0 {
		return IngestStats{}, fmt.Errorf("probe embedding dimension: empty vector")
	}
	dim := len(probe[0])

	ready, err := s.ready(ctx, conn.Conn(), dim)
	if err != nil {
		return IngestStats{}, err
	}
	if ready {
		slog.Info("reference collection up to date", "collection", s.cfg.Collection, "dimensions", dim)
		return IngestStats{Skipped: true, Dimensions: dim}, nil
	}

	n, err := s.rebuild(ctx, conn.Conn(), dim)
	if err != nil {
		return IngestStats{}, err
	}
	slog.Info("reference collection rebuilt", "collection", s.cfg.Collection, "dimensions", dim, "chunks", n)
	return IngestStats{Dimensions: dim, Chunks: n}, nil
}

// ready reports whether the collection exists with dim-sized vectors and
// holds at least one point.
func (s *PgVectorStore) ready(ctx context.Context, conn *pgx.Conn, dim int) (bool, error) {
	var typmod int
	err := conn.QueryRow(ctx, `
		SELECT a.atttypmod FROM pg_attribute a
		WHERE a.attrelid = to_regclass($1) AND a.attname = 'embedding' AND NOT a.attisdropped`,
		s.table).Scan(&typmod)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspect collection: %w", err)
	}
	if typmod != dim {
		slog.Warn("reference collection dimension mismatch", "collection", s.cfg.Collection,
			"have", typmod, "want", dim)
		return false, nil
	}

	var populated bool
	if err := conn.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s)`, s.table)).Scan(&populated); err != nil {
		return false, fmt.Errorf("count collection: %w", err)
	}
	return populated, nil
}

type point struct {
	text   string
	source string
}

func (s *PgVectorStore) rebuild(ctx context.Context, conn *pgx.Conn, dim int) (int, error) {
	var points []point
	for _, ref := range s.refs {
		for _, c := range Chunk(ref.Text, s.cfg.ChunkSize, s.cfg.ChunkOverlap) {
			points = append(points, point{text: c, source: ref.Source})
		}
	}
	if len(points) == 0 {
		return 0, fmt.Errorf("no reference chunks to ingest")
	}

	// Embed before touching the table so a provider outage leaves the old
	// collection in place.
	vectors := make([][]float32, 0, len(points))
	for start := 0; start < len(points); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(points))
		texts := make([]string, 0, end-start)
		for _, p := range points[start:end] {
			texts = append(texts, p.text)
		}
		batch, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed reference chunks: %w", err)
		}
		vectors = append(vectors, batch...)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	ddl := []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.table),
		fmt.Sprintf(`CREATE TABLE %s (
			id UUID PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			text TEXT NOT NULL,
			source TEXT NOT NULL
		)`, s.table, dim),
	}
	if dim <= hnswMaxDims {
		ddl = append(ddl, fmt.Sprintf(`CREATE INDEX ON %s USING hnsw (embedding vector_cosine_ops)`, s.table))
	}
	for _, stmt := range ddl {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return 0, fmt.Errorf("recreate collection: %w", err)
		}
	}

	insert := fmt.Sprintf(`INSERT INTO %s (id, embedding, text, source) VALUES ($1, $2::vector, $3, $4)`, s.table)
	b := &pgx.Batch{}
	for i, p := range points {
		b.Queue(insert, uuid.New(), pgvector.NewVector(vectors[i]), p.text, p.source)
	}
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return 0, fmt.Errorf("insert reference chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit collection: %w", err)
	}
	return len(points), nil
}

// lockKey maps a collection name onto the advisory lock keyspace.
func lockKey(collection string) int64 {
	h := fnv.New64a()
	h.Write([]byte("cvscreen:collection:" + collection))
	return int64(h.Sum64())
}

var _ Retriever = (*PgVectorStore)(nil)
