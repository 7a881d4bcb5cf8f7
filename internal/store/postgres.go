package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/materialshub/catalog-ingest/internal/db"
	"github.com/materialshub/catalog-ingest/internal/model"
)

// PostgresStore implements Store using pgxpool. It is the production backend;
// the unique index on chunks(document_id, content_hash) is the authoritative
// duplicate backstop behind the gate's pre-check.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the hottest store queries, prepared on each new
// connection.
var preparedStatements = map[string]string{
	"get_job":            `SELECT ` + pgJobColumns + ` FROM jobs WHERE id = $1`,
	"set_job_progress":   `UPDATE jobs SET current_stage = $1, progress_percent = $2, last_progress_at = $3 WHERE id = $4`,
	"upsert_checkpoint":  `INSERT INTO checkpoints (job_id, stage, payload, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT (job_id, stage) DO UPDATE SET payload = EXCLUDED.payload, created_at = EXCLUDED.created_at`,
	"find_chunk_by_hash": `SELECT ` + pgChunkColumns + ` FROM chunks WHERE document_id = $1 AND content_hash = $2`,
}

const pgJobColumns = `id, document_id, status, current_stage, progress_percent,
	retry_count, failed_units, error_message, created_at, started_at, last_progress_at`

const pgChunkColumns = `id, job_id, document_id, page, content, content_hash,
	quality_score, chunk_type, state, embedding, created_at`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns, minConns := int32(10), int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	document_id      TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	current_stage    TEXT NOT NULL DEFAULT 'initialized',
	progress_percent INTEGER NOT NULL DEFAULT 0,
	retry_count      INTEGER NOT NULL DEFAULT 0,
	failed_units     INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at       TIMESTAMPTZ,
	last_progress_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS checkpoints (
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	stage      TEXT NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (job_id, stage)
);

CREATE TABLE IF NOT EXISTS extractions (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL,
	document_id TEXT NOT NULL,
	page        INTEGER NOT NULL,
	content     TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chunks (
	id            TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL,
	document_id   TEXT NOT NULL,
	page          INTEGER NOT NULL,
	content       TEXT NOT NULL,
	content_hash  TEXT NOT NULL,
	quality_score DOUBLE PRECISION NOT NULL,
	chunk_type    TEXT NOT NULL DEFAULT 'unclassified',
	state         TEXT NOT NULL DEFAULT 'accepted',
	embedding     JSONB,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (document_id, content_hash)
);

CREATE TABLE IF NOT EXISTS images (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL,
	document_id TEXT NOT NULL,
	page        INTEGER NOT NULL,
	caption     TEXT NOT NULL DEFAULT '',
	embedding   JSONB,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS products (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL,
	document_id TEXT NOT NULL,
	chunk_id    TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	confidence  DOUBLE PRECISION NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS route_logs (
	id                TEXT PRIMARY KEY,
	job_id            TEXT NOT NULL,
	task              TEXT NOT NULL,
	model             TEXT NOT NULL,
	action            TEXT NOT NULL,
	model_confidence  DOUBLE PRECISION NOT NULL,
	completeness      DOUBLE PRECISION NOT NULL,
	consistency       DOUBLE PRECISION NOT NULL,
	validation        DOUBLE PRECISION NOT NULL,
	confidence_score  DOUBLE PRECISION NOT NULL,
	medium_confidence BOOLEAN NOT NULL DEFAULT false,
	input_bytes       INTEGER NOT NULL DEFAULT 0,
	output_bytes      INTEGER NOT NULL DEFAULT 0,
	latency_ms        BIGINT NOT NULL DEFAULT 0,
	fallback_reason   TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_progress ON jobs(status, last_progress_at);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_images_job ON images(job_id);
CREATE INDEX IF NOT EXISTS idx_products_job ON products(job_id);
CREATE INDEX IF NOT EXISTS idx_route_logs_job ON route_logs(job_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Jobs

func (s *PostgresStore) CreateJob(ctx context.Context, documentID string) (*model.Job, error) {
	job := &model.Job{
		ID:             uuid.New().String(),
		DocumentID:     documentID,
		Status:         model.JobStatusPending,
		CurrentStage:   model.StageInitialized,
		CreatedAt:      time.Now().UTC(),
		LastProgressAt: time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, document_id, status, current_stage, created_at, last_progress_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		job.ID, job.DocumentID, string(job.Status), string(job.CurrentStage), job.CreatedAt, job.LastProgressAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}
	return job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM jobs WHERE id = $1`, jobID)
	return pgScanJob(row)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + pgJobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.DocumentID != "" {
		args = append(args, filter.DocumentID)
		query += ` AND document_id = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()
	return pgCollectJobs(rows)
}

func (s *PostgresStore) ListStuckJobs(ctx context.Context, cutoff time.Time) ([]model.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgJobColumns+` FROM jobs
		 WHERE status = $1 AND last_progress_at < $2
		 ORDER BY last_progress_at ASC`,
		string(model.JobStatusProcessing), cutoff.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stuck jobs")
	}
	defer rows.Close()
	return pgCollectJobs(rows)
}

func (s *PostgresStore) CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count jobs")
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job count")
		}
		counts[model.JobStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count jobs iterate")
}

func (s *PostgresStore) SetJobStatus(ctx context.Context, jobID string, status model.JobStatus, errorMessage string) error {
	// Cancelled is terminal; late status writes from a still-running engine
	// are dropped rather than resurrecting the job.
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error_message = $2, last_progress_at = $3 WHERE id = $4 AND status != $5`,
		string(status), errorMessage, time.Now().UTC(), jobID, string(model.JobStatusCancelled),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set job status %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return nil
	}
	return nil
}

func (s *PostgresStore) MarkJobStarted(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, started_at = COALESCE(started_at, $2), last_progress_at = $3 WHERE id = $4`,
		string(model.JobStatusProcessing), now, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark job started %s", jobID)
	}
	return pgCheckAffected(tag, "job", jobID)
}

func (s *PostgresStore) SetJobProgress(ctx context.Context, jobID string, stage model.Stage, percent int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET current_stage = $1, progress_percent = $2, last_progress_at = $3 WHERE id = $4`,
		string(stage), percent, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set job progress %s", jobID)
	}
	return pgCheckAffected(tag, "job", jobID)
}

func (s *PostgresStore) IncrementJobRetry(ctx context.Context, jobID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`UPDATE jobs SET retry_count = retry_count + 1, status = $1, last_progress_at = $2
		 WHERE id = $3 RETURNING retry_count`,
		string(model.JobStatusRetrying), time.Now().UTC(), jobID,
	).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return count, eris.Wrapf(err, "postgres: increment retry %s", jobID)
}

func (s *PostgresStore) AddFailedUnits(ctx context.Context, jobID string, n int) error {
	if n <= 0 {
		return nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET failed_units = failed_units + $1 WHERE id = $2`, n, jobID)
	if err != nil {
		return eris.Wrapf(err, "postgres: add failed units %s", jobID)
	}
	return pgCheckAffected(tag, "job", jobID)
}

// Checkpoints

func (s *PostgresStore) UpsertCheckpoint(ctx context.Context, jobID string, stage model.Stage, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO checkpoints (job_id, stage, payload, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (job_id, stage) DO UPDATE SET payload = EXCLUDED.payload, created_at = EXCLUDED.created_at`,
		jobID, string(stage), payload, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert checkpoint %s/%s", jobID, stage)
}

func (s *PostgresStore) LastCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, stage, payload, created_at FROM checkpoints WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: last checkpoint")
	}
	defer rows.Close()

	var last *model.Checkpoint
	for rows.Next() {
		cp, err := pgScanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		if last == nil || last.Stage.Before(cp.Stage) {
			last = cp
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: last checkpoint iterate")
	}
	if last == nil {
		return nil, ErrNotFound
	}
	return last, nil
}

func (s *PostgresStore) GetCheckpoint(ctx context.Context, jobID string, stage model.Stage) (*model.Checkpoint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT job_id, stage, payload, created_at FROM checkpoints WHERE job_id = $1 AND stage = $2`,
		jobID, string(stage))
	return pgScanCheckpoint(row)
}

func (s *PostgresStore) DeleteCheckpointsFrom(ctx context.Context, jobID string, stage model.Stage) error {
	// Stage order lives in the state machine; expand the doomed set here.
	var doomed []string
	for _, st := range model.Stages() {
		if !st.Before(stage) {
			doomed = append(doomed, string(st))
		}
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM checkpoints WHERE job_id = $1 AND stage = ANY($2)`, jobID, doomed)
	return eris.Wrapf(err, "postgres: delete checkpoints %s from %s", jobID, stage)
}

// Extractions

func (s *PostgresStore) InsertExtractions(ctx context.Context, exs []*model.Extraction) error {
	if len(exs) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(exs))
	for _, ex := range exs {
		if ex.ID == "" {
			ex.ID = uuid.New().String()
		}
		if ex.CreatedAt.IsZero() {
			ex.CreatedAt = time.Now().UTC()
		}
		rows = append(rows, []any{ex.ID, ex.JobID, ex.DocumentID, ex.Page, ex.Content, ex.CreatedAt})
	}

	_, err := db.CopyFrom(ctx, s.pool, "extractions",
		[]string{"id", "job_id", "document_id", "page", "content", "created_at"}, rows)
	return eris.Wrap(err, "postgres: insert extractions")
}

func (s *PostgresStore) ListExtractions(ctx context.Context, ids []string) ([]model.Extraction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, document_id, page, content, created_at FROM extractions
		 WHERE id = ANY($1) ORDER BY page ASC`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list extractions")
	}
	defer rows.Close()

	var out []model.Extraction
	for rows.Next() {
		var ex model.Extraction
		if err := rows.Scan(&ex.ID, &ex.JobID, &ex.DocumentID, &ex.Page, &ex.Content, &ex.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan extraction")
		}
		out = append(out, ex)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list extractions iterate")
}

// Chunks

func (s *PostgresStore) InsertChunk(ctx context.Context, c *model.Chunk) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	emb, err := pgEmbedding(c.Embedding)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO chunks (id, job_id, document_id, page, content, content_hash, quality_score, chunk_type, state, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.JobID, c.DocumentID, c.Page, c.Content, c.ContentHash, c.QualityScore,
		string(c.ChunkType), string(c.State), emb, c.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateChunk
		}
		return eris.Wrap(err, "postgres: insert chunk")
	}
	return nil
}

func (s *PostgresStore) ListChunks(ctx context.Context, ids []string) ([]model.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgChunkColumns+` FROM chunks WHERE id = ANY($1) ORDER BY page ASC, created_at ASC`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list chunks")
	}
	defer rows.Close()
	return pgCollectChunks(rows)
}

func (s *PostgresStore) FindChunkByHash(ctx context.Context, documentID, contentHash string) (*model.Chunk, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgChunkColumns+` FROM chunks WHERE document_id = $1 AND content_hash = $2`,
		documentID, contentHash)
	return pgScanChunk(row)
}

func (s *PostgresStore) FindSimilarChunks(ctx context.Context, documentID string, embedding []float64, threshold float64) ([]model.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgChunkColumns+` FROM chunks WHERE document_id = $1 AND embedding IS NOT NULL AND state != $2`,
		documentID, string(model.ChunkStateDiscarded))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find similar chunks")
	}
	defer rows.Close()

	candidates, err := pgCollectChunks(rows)
	if err != nil {
		return nil, err
	}

	var similar []model.Chunk
	for _, c := range candidates {
		if CosineSimilarity(embedding, c.Embedding) >= threshold {
			similar = append(similar, c)
		}
	}
	return similar, nil
}

func (s *PostgresStore) SetChunkEmbedding(ctx context.Context, chunkID string, embedding []float64) error {
	emb, err := pgEmbedding(embedding)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE chunks SET embedding = $1 WHERE id = $2`, emb, chunkID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set chunk embedding %s", chunkID)
	}
	return pgCheckAffected(tag, "chunk", chunkID)
}

func (s *PostgresStore) SetChunkState(ctx context.Context, chunkID string, state model.ChunkState) error {
	tag, err := s.pool.Exec(ctx, `UPDATE chunks SET state = $1 WHERE id = $2`, string(state), chunkID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set chunk state %s", chunkID)
	}
	return pgCheckAffected(tag, "chunk", chunkID)
}

// Images

func (s *PostgresStore) InsertImage(ctx context.Context, img *model.Image) error {
	if img.ID == "" {
		img.ID = uuid.New().String()
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC()
	}
	emb, err := pgEmbedding(img.Embedding)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO images (id, job_id, document_id, page, caption, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		img.ID, img.JobID, img.DocumentID, img.Page, img.Caption, emb, img.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert image")
}

func (s *PostgresStore) ListImages(ctx context.Context, ids []string) ([]model.Image, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, document_id, page, caption, embedding, created_at FROM images
		 WHERE id = ANY($1) ORDER BY page ASC`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list images")
	}
	defer rows.Close()

	var out []model.Image
	for rows.Next() {
		var img model.Image
		var emb []byte
		if err := rows.Scan(&img.ID, &img.JobID, &img.DocumentID, &img.Page, &img.Caption, &emb, &img.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan image")
		}
		if img.Embedding, err = pgDecodeEmbedding(emb); err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list images iterate")
}

func (s *PostgresStore) SetImageEmbedding(ctx context.Context, imageID, caption string, embedding []float64) error {
	emb, err := pgEmbedding(embedding)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE images SET caption = $1, embedding = $2 WHERE id = $3`, caption, emb, imageID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set image embedding %s", imageID)
	}
	return pgCheckAffected(tag, "image", imageID)
}

// Route audit log

func (s *PostgresStore) AppendRouteLog(ctx context.Context, entry *model.RouteLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO route_logs (id, job_id, task, model, action, model_confidence, completeness,
			consistency, validation, confidence_score, medium_confidence, input_bytes, output_bytes,
			latency_ms, fallback_reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		entry.ID, entry.JobID, entry.Task, entry.Model, string(entry.Action),
		entry.ModelConfidence, entry.Completeness, entry.Consistency, entry.Validation,
		entry.ConfidenceScore, entry.MediumConfidence, entry.InputBytes, entry.OutputBytes,
		entry.LatencyMs, entry.FallbackReason, entry.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append route log")
}

func (s *PostgresStore) ListRouteLogs(ctx context.Context, jobID string) ([]model.RouteLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, task, model, action, model_confidence, completeness, consistency,
			validation, confidence_score, medium_confidence, input_bytes, output_bytes, latency_ms,
			fallback_reason, created_at
		 FROM route_logs WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list route logs")
	}
	defer rows.Close()

	var out []model.RouteLog
	for rows.Next() {
		var e model.RouteLog
		var action string
		if err := rows.Scan(&e.ID, &e.JobID, &e.Task, &e.Model, &action, &e.ModelConfidence,
			&e.Completeness, &e.Consistency, &e.Validation, &e.ConfidenceScore, &e.MediumConfidence,
			&e.InputBytes, &e.OutputBytes, &e.LatencyMs, &e.FallbackReason, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan route log")
		}
		e.Action = model.RouteAction(action)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list route logs iterate")
}

// Products

func (s *PostgresStore) InsertProduct(ctx context.Context, p *model.Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO products (id, job_id, document_id, chunk_id, name, description, confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.JobID, p.DocumentID, p.ChunkID, p.Name, p.Description, p.Confidence, p.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert product")
}

func (s *PostgresStore) ListProducts(ctx context.Context, ids []string) ([]model.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, document_id, chunk_id, name, description, confidence, created_at
		 FROM products WHERE id = ANY($1) ORDER BY created_at ASC`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list products")
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.JobID, &p.DocumentID, &p.ChunkID, &p.Name, &p.Description, &p.Confidence, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list products iterate")
}

// helpers

func pgScanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var status, stage string
	var startedAt *time.Time

	err := row.Scan(&j.ID, &j.DocumentID, &status, &stage, &j.ProgressPercent,
		&j.RetryCount, &j.FailedUnits, &j.ErrorMessage, &j.CreatedAt, &startedAt, &j.LastProgressAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan job")
	}

	j.Status = model.JobStatus(status)
	j.CurrentStage = model.Stage(stage)
	j.StartedAt = startedAt
	return &j, nil
}

func pgCollectJobs(rows pgx.Rows) ([]model.Job, error) {
	var jobs []model.Job
	for rows.Next() {
		j, err := pgScanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: jobs iterate")
}

func pgScanCheckpoint(row pgx.Row) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	var stage string
	var payload []byte
	err := row.Scan(&cp.JobID, &stage, &payload, &cp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan checkpoint")
	}
	cp.Stage = model.Stage(stage)
	cp.Payload = json.RawMessage(payload)
	return &cp, nil
}

func pgScanChunk(row pgx.Row) (*model.Chunk, error) {
	var c model.Chunk
	var chunkType, state string
	var emb []byte

	err := row.Scan(&c.ID, &c.JobID, &c.DocumentID, &c.Page, &c.Content, &c.ContentHash,
		&c.QualityScore, &chunkType, &state, &emb, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan chunk")
	}

	c.ChunkType = model.ChunkType(chunkType)
	c.State = model.ChunkState(state)
	if c.Embedding, err = pgDecodeEmbedding(emb); err != nil {
		return nil, err
	}
	return &c, nil
}

func pgCollectChunks(rows pgx.Rows) ([]model.Chunk, error) {
	var chunks []model.Chunk
	for rows.Next() {
		c, err := pgScanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	return chunks, eris.Wrap(rows.Err(), "postgres: chunks iterate")
}

func pgEmbedding(emb []float64) (any, error) {
	if len(emb) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(emb)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal embedding")
	}
	return b, nil
}

func pgDecodeEmbedding(emb []byte) ([]float64, error) {
	if len(emb) == 0 {
		return nil, nil
	}
	var out []float64
	if err := json.Unmarshal(emb, &out); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal embedding")
	}
	return out, nil
}

func pgCheckAffected(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
