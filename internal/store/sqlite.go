package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/materialshub/catalog-ingest/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the local and
// test backend; postgres is the production one.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	document_id      TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	current_stage    TEXT NOT NULL DEFAULT 'initialized',
	progress_percent INTEGER NOT NULL DEFAULT 0,
	retry_count      INTEGER NOT NULL DEFAULT 0,
	failed_units     INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL,
	started_at       DATETIME,
	last_progress_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	job_id     TEXT NOT NULL REFERENCES jobs(id),
	stage      TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (job_id, stage)
);

CREATE TABLE IF NOT EXISTS extractions (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL,
	document_id TEXT NOT NULL,
	page        INTEGER NOT NULL,
	content     TEXT NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id            TEXT PRIMARY KEY,
	job_id        TEXT NOT NULL,
	document_id   TEXT NOT NULL,
	page          INTEGER NOT NULL,
	content       TEXT NOT NULL,
	content_hash  TEXT NOT NULL,
	quality_score REAL NOT NULL,
	chunk_type    TEXT NOT NULL DEFAULT 'unclassified',
	state         TEXT NOT NULL DEFAULT 'accepted',
	embedding     TEXT,
	created_at    DATETIME NOT NULL,
	UNIQUE (document_id, content_hash)
);

CREATE TABLE IF NOT EXISTS images (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL,
	document_id TEXT NOT NULL,
	page        INTEGER NOT NULL,
	caption     TEXT NOT NULL DEFAULT '',
	embedding   TEXT,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL,
	document_id TEXT NOT NULL,
	chunk_id    TEXT NOT NULL,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	confidence  REAL NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS route_logs (
	id                TEXT PRIMARY KEY,
	job_id            TEXT NOT NULL,
	task              TEXT NOT NULL,
	model             TEXT NOT NULL,
	action            TEXT NOT NULL,
	model_confidence  REAL NOT NULL,
	completeness      REAL NOT NULL,
	consistency       REAL NOT NULL,
	validation        REAL NOT NULL,
	confidence_score  REAL NOT NULL,
	medium_confidence INTEGER NOT NULL DEFAULT 0,
	input_bytes       INTEGER NOT NULL DEFAULT 0,
	output_bytes      INTEGER NOT NULL DEFAULT 0,
	latency_ms        INTEGER NOT NULL DEFAULT 0,
	fallback_reason   TEXT NOT NULL DEFAULT '',
	created_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_progress ON jobs(status, last_progress_at);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_images_job ON images(job_id);
CREATE INDEX IF NOT EXISTS idx_products_job ON products(job_id);
CREATE INDEX IF NOT EXISTS idx_route_logs_job ON route_logs(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Jobs

func (s *SQLiteStore) CreateJob(ctx context.Context, documentID string) (*model.Job, error) {
	job := &model.Job{
		ID:             uuid.New().String(),
		DocumentID:     documentID,
		Status:         model.JobStatusPending,
		CurrentStage:   model.StageInitialized,
		CreatedAt:      time.Now().UTC(),
		LastProgressAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, document_id, status, current_stage, created_at, last_progress_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.DocumentID, string(job.Status), string(job.CurrentStage), job.CreatedAt, job.LastProgressAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}
	return job, nil
}

const jobColumns = `id, document_id, status, current_stage, progress_percent,
	retry_count, failed_units, error_message, created_at, started_at, last_progress_at`

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.DocumentID != "" {
		query += ` AND document_id = ?`
		args = append(args, filter.DocumentID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *SQLiteStore) ListStuckJobs(ctx context.Context, cutoff time.Time) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = ? AND last_progress_at < ?
		 ORDER BY last_progress_at ASC`,
		string(model.JobStatusProcessing), cutoff.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stuck jobs")
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *SQLiteStore) CountJobsByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count jobs")
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job count")
		}
		counts[model.JobStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count jobs iterate")
}

func (s *SQLiteStore) SetJobStatus(ctx context.Context, jobID string, status model.JobStatus, errorMessage string) error {
	// Cancelled is terminal; late status writes from a still-running engine
	// are dropped rather than resurrecting the job.
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, last_progress_at = ? WHERE id = ? AND status != ?`,
		string(status), errorMessage, time.Now().UTC(), jobID, string(model.JobStatusCancelled),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set job status %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: set job status %s", jobID)
	}
	if n == 0 {
		if _, err := s.GetJob(ctx, jobID); err != nil {
			return err
		}
		return nil
	}
	return nil
}

func (s *SQLiteStore) MarkJobStarted(ctx context.Context, jobID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, started_at = COALESCE(started_at, ?), last_progress_at = ? WHERE id = ?`,
		string(model.JobStatusProcessing), now, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark job started %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) SetJobProgress(ctx context.Context, jobID string, stage model.Stage, percent int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET current_stage = ?, progress_percent = ?, last_progress_at = ? WHERE id = ?`,
		string(stage), percent, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set job progress %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) IncrementJobRetry(ctx context.Context, jobID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET retry_count = retry_count + 1, status = ?, last_progress_at = ? WHERE id = ?`,
		string(model.JobStatusRetrying), time.Now().UTC(), jobID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: increment retry %s", jobID)
	}
	if err := checkRowsAffected(res, "job", jobID); err != nil {
		return 0, err
	}

	var count int
	err = s.db.QueryRowContext(ctx, `SELECT retry_count FROM jobs WHERE id = ?`, jobID).Scan(&count)
	return count, eris.Wrapf(err, "sqlite: read retry count %s", jobID)
}

func (s *SQLiteStore) AddFailedUnits(ctx context.Context, jobID string, n int) error {
	if n <= 0 {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET failed_units = failed_units + ? WHERE id = ?`, n, jobID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: add failed units %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

// Checkpoints

func (s *SQLiteStore) UpsertCheckpoint(ctx context.Context, jobID string, stage model.Stage, payload json.RawMessage) error {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (job_id, stage, payload, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (job_id, stage) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
		jobID, string(stage), string(payload), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert checkpoint %s/%s", jobID, stage)
}

func (s *SQLiteStore) LastCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, stage, payload, created_at FROM checkpoints WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last checkpoint")
	}
	defer rows.Close()

	// Stage order is defined by the state machine, not by storage; pick the
	// highest-ordered stage in Go.
	var last *model.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		if last == nil || last.Stage.Before(cp.Stage) {
			last = cp
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: last checkpoint iterate")
	}
	if last == nil {
		return nil, ErrNotFound
	}
	return last, nil
}

func (s *SQLiteStore) GetCheckpoint(ctx context.Context, jobID string, stage model.Stage) (*model.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, stage, payload, created_at FROM checkpoints WHERE job_id = ? AND stage = ?`,
		jobID, string(stage))
	return scanCheckpoint(row)
}

func (s *SQLiteStore) DeleteCheckpointsFrom(ctx context.Context, jobID string, stage model.Stage) error {
	rows, err := s.db.QueryContext(ctx, `SELECT stage FROM checkpoints WHERE job_id = ?`, jobID)
	if err != nil {
		return eris.Wrap(err, "sqlite: delete checkpoints")
	}
	var doomed []string
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			rows.Close()
			return eris.Wrap(err, "sqlite: scan checkpoint stage")
		}
		if !model.Stage(st).Before(stage) {
			doomed = append(doomed, st)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "sqlite: delete checkpoints iterate")
	}

	for _, st := range doomed {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM checkpoints WHERE job_id = ? AND stage = ?`, jobID, st); err != nil {
			return eris.Wrapf(err, "sqlite: delete checkpoint %s/%s", jobID, st)
		}
	}
	return nil
}

// Extractions

func (s *SQLiteStore) InsertExtractions(ctx context.Context, exs []*model.Extraction) error {
	if len(exs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin extractions tx")
	}
	defer tx.Rollback()

	for _, ex := range exs {
		if ex.ID == "" {
			ex.ID = uuid.New().String()
		}
		if ex.CreatedAt.IsZero() {
			ex.CreatedAt = time.Now().UTC()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO extractions (id, job_id, document_id, page, content, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			ex.ID, ex.JobID, ex.DocumentID, ex.Page, ex.Content, ex.CreatedAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert extraction")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit extractions")
}

func (s *SQLiteStore) ListExtractions(ctx context.Context, ids []string) ([]model.Extraction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT id, job_id, document_id, page, content, created_at FROM extractions
		WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY page ASC`
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(ids)...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list extractions")
	}
	defer rows.Close()

	var out []model.Extraction
	for rows.Next() {
		var ex model.Extraction
		if err := rows.Scan(&ex.ID, &ex.JobID, &ex.DocumentID, &ex.Page, &ex.Content, &ex.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extraction")
		}
		out = append(out, ex)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list extractions iterate")
}

// Chunks

func (s *SQLiteStore) InsertChunk(ctx context.Context, c *model.Chunk) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	emb, err := marshalEmbedding(c.Embedding)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chunks (id, job_id, document_id, page, content, content_hash, quality_score, chunk_type, state, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.JobID, c.DocumentID, c.Page, c.Content, c.ContentHash, c.QualityScore,
		string(c.ChunkType), string(c.State), emb, c.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateChunk
		}
		return eris.Wrap(err, "sqlite: insert chunk")
	}
	return nil
}

const chunkColumns = `id, job_id, document_id, page, content, content_hash,
	quality_score, chunk_type, state, embedding, created_at`

func (s *SQLiteStore) ListChunks(ctx context.Context, ids []string) ([]model.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY page ASC, created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(ids)...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list chunks")
	}
	defer rows.Close()
	return collectChunks(rows)
}

func (s *SQLiteStore) FindChunkByHash(ctx context.Context, documentID, contentHash string) (*model.Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = ? AND content_hash = ?`,
		documentID, contentHash)
	c, err := scanChunk(row)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) FindSimilarChunks(ctx context.Context, documentID string, embedding []float64, threshold float64) ([]model.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = ? AND embedding IS NOT NULL AND state != ?`,
		documentID, string(model.ChunkStateDiscarded))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find similar chunks")
	}
	defer rows.Close()

	candidates, err := collectChunks(rows)
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

func (s *SQLiteStore) SetChunkEmbedding(ctx context.Context, chunkID string, embedding []float64) error {
	emb, err := marshalEmbedding(embedding)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET embedding = ? WHERE id = ?`, emb, chunkID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set chunk embedding %s", chunkID)
	}
	return checkRowsAffected(res, "chunk", chunkID)
}

func (s *SQLiteStore) SetChunkState(ctx context.Context, chunkID string, state model.ChunkState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET state = ? WHERE id = ?`, string(state), chunkID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set chunk state %s", chunkID)
	}
	return checkRowsAffected(res, "chunk", chunkID)
}

// Images

func (s *SQLiteStore) InsertImage(ctx context.Context, img *model.Image) error {
	if img.ID == "" {
		img.ID = uuid.New().String()
	}
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC()
	}
	emb, err := marshalEmbedding(img.Embedding)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO images (id, job_id, document_id, page, caption, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.JobID, img.DocumentID, img.Page, img.Caption, emb, img.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert image")
}

func (s *SQLiteStore) ListImages(ctx context.Context, ids []string) ([]model.Image, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT id, job_id, document_id, page, caption, embedding, created_at FROM images
		WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY page ASC`
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(ids)...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list images")
	}
	defer rows.Close()

	var out []model.Image
	for rows.Next() {
		var img model.Image
		var emb sql.NullString
		if err := rows.Scan(&img.ID, &img.JobID, &img.DocumentID, &img.Page, &img.Caption, &emb, &img.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan image")
		}
		if img.Embedding, err = unmarshalEmbedding(emb); err != nil {
			return nil, err
		}
		out = append(out, img)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list images iterate")
}

func (s *SQLiteStore) SetImageEmbedding(ctx context.Context, imageID, caption string, embedding []float64) error {
	emb, err := marshalEmbedding(embedding)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE images SET caption = ?, embedding = ? WHERE id = ?`, caption, emb, imageID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set image embedding %s", imageID)
	}
	return checkRowsAffected(res, "image", imageID)
}

// Route audit log

func (s *SQLiteStore) AppendRouteLog(ctx context.Context, entry *model.RouteLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO route_logs (id, job_id, task, model, action, model_confidence, completeness,
			consistency, validation, confidence_score, medium_confidence, input_bytes, output_bytes,
			latency_ms, fallback_reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.JobID, entry.Task, entry.Model, string(entry.Action),
		entry.ModelConfidence, entry.Completeness, entry.Consistency, entry.Validation,
		entry.ConfidenceScore, boolToInt(entry.MediumConfidence), entry.InputBytes, entry.OutputBytes,
		entry.LatencyMs, entry.FallbackReason, entry.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: append route log")
}

func (s *SQLiteStore) ListRouteLogs(ctx context.Context, jobID string) ([]model.RouteLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, task, model, action, model_confidence, completeness, consistency,
			validation, confidence_score, medium_confidence, input_bytes, output_bytes, latency_ms,
			fallback_reason, created_at
		 FROM route_logs WHERE job_id = ? ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list route logs")
	}
	defer rows.Close()

	var out []model.RouteLog
	for rows.Next() {
		var e model.RouteLog
		var action string
		var medium int
		if err := rows.Scan(&e.ID, &e.JobID, &e.Task, &e.Model, &action, &e.ModelConfidence,
			&e.Completeness, &e.Consistency, &e.Validation, &e.ConfidenceScore, &medium,
			&e.InputBytes, &e.OutputBytes, &e.LatencyMs, &e.FallbackReason, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan route log")
		}
		e.Action = model.RouteAction(action)
		e.MediumConfidence = medium != 0
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list route logs iterate")
}

// Products

func (s *SQLiteStore) InsertProduct(ctx context.Context, p *model.Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, job_id, document_id, chunk_id, name, description, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.JobID, p.DocumentID, p.ChunkID, p.Name, p.Description, p.Confidence, p.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert product")
}

func (s *SQLiteStore) ListProducts(ctx context.Context, ids []string) ([]model.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT id, job_id, document_id, chunk_id, name, description, confidence, created_at
		FROM products WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY created_at ASC`
	rows, err := s.db.QueryContext(ctx, query, toAnySlice(ids)...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list products")
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		var p model.Product
		if err := rows.Scan(&p.ID, &p.JobID, &p.DocumentID, &p.ChunkID, &p.Name, &p.Description, &p.Confidence, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list products iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var status, stage string
	var startedAt sql.NullTime

	err := row.Scan(&j.ID, &j.DocumentID, &status, &stage, &j.ProgressPercent,
		&j.RetryCount, &j.FailedUnits, &j.ErrorMessage, &j.CreatedAt, &startedAt, &j.LastProgressAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	j.Status = model.JobStatus(status)
	j.CurrentStage = model.Stage(stage)
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	return &j, nil
}

func collectJobs(rows *sql.Rows) ([]model.Job, error) {
	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: jobs iterate")
}

func scanCheckpoint(row scannable) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	var stage, payload string
	err := row.Scan(&cp.JobID, &stage, &payload, &cp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan checkpoint")
	}
	cp.Stage = model.Stage(stage)
	cp.Payload = json.RawMessage(payload)
	return &cp, nil
}

func scanChunk(row scannable) (*model.Chunk, error) {
	var c model.Chunk
	var chunkType, state string
	var emb sql.NullString

	err := row.Scan(&c.ID, &c.JobID, &c.DocumentID, &c.Page, &c.Content, &c.ContentHash,
		&c.QualityScore, &chunkType, &state, &emb, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan chunk")
	}

	c.ChunkType = model.ChunkType(chunkType)
	c.State = model.ChunkState(state)
	if c.Embedding, err = unmarshalEmbedding(emb); err != nil {
		return nil, err
	}
	return &c, nil
}

func collectChunks(rows *sql.Rows) ([]model.Chunk, error) {
	var chunks []model.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	return chunks, eris.Wrap(rows.Err(), "sqlite: chunks iterate")
}

func marshalEmbedding(emb []float64) (sql.NullString, error) {
	if len(emb) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(emb)
	if err != nil {
		return sql.NullString{}, eris.Wrap(err, "sqlite: marshal embedding")
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalEmbedding(emb sql.NullString) ([]float64, error) {
	if !emb.Valid || emb.String == "" {
		return nil, nil
	}
	var out []float64
	if err := json.Unmarshal([]byte(emb.String), &out); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal embedding")
	}
	return out, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toAnySlice(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
