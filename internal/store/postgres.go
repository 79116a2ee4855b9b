package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/gramveda/claim-intake/internal/db"
	"github.com/gramveda/claim-intake/internal/model"
)

// PostgresStore implements Store using pgxpool. Spatial predicates run in
// PostGIS; geometry columns are SRID 4326 and areas are computed on the
// geography cast.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
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

// Pool returns the underlying pool for subsystems that need direct query
// access (e.g., the bulk reference-data loaders).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS jobs (
	id                TEXT PRIMARY KEY,
	region_code       TEXT NOT NULL,
	stage             TEXT NOT NULL DEFAULT 'extracted',
	attempts          INTEGER NOT NULL DEFAULT 0,
	payload           JSONB NOT NULL,
	candidate         JSONB,
	confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
	validation_issues JSONB,
	flags             JSONB,
	corrections       JSONB,
	max_severity      TEXT NOT NULL DEFAULT '',
	outcome           TEXT NOT NULL DEFAULT '',
	last_error        TEXT NOT NULL DEFAULT '',
	cancel_requested  BOOLEAN NOT NULL DEFAULT false,
	review_cycles     INTEGER NOT NULL DEFAULT 0,
	entered_review_at TIMESTAMPTZ,
	lease_token       TEXT NOT NULL DEFAULT '',
	lease_expires_at  TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS duplicate_candidates (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL REFERENCES jobs(id),
	claim_id     TEXT NOT NULL,
	claim_number TEXT NOT NULL,
	probability  DOUBLE PRECISION NOT NULL,
	evidence     JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS conflict_records (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL REFERENCES jobs(id),
	layer_type   TEXT NOT NULL,
	feature_id   TEXT NOT NULL,
	feature_name TEXT NOT NULL DEFAULT '',
	overlap_ha   DOUBLE PRECISION NOT NULL,
	overlap_pct  DOUBLE PRECISION NOT NULL,
	severity     TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS review_decisions (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES jobs(id),
	reviewer_id TEXT NOT NULL,
	verdict     TEXT NOT NULL,
	corrections JSONB,
	reason      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS committed_claims (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL UNIQUE,
	claim_number TEXT NOT NULL,
	region_code  TEXT NOT NULL,
	patta_holder TEXT NOT NULL DEFAULT '',
	claim_type   TEXT NOT NULL DEFAULT '',
	hierarchy    JSONB NOT NULL,
	geometry     geometry(GEOMETRY, 4326) NOT NULL,
	area_ha      DOUBLE PRECISION NOT NULL DEFAULT 0,
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0,
	version      INTEGER NOT NULL DEFAULT 1,
	committed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(claim_number, region_code)
);

CREATE TABLE IF NOT EXISTS claim_versions (
	id          TEXT PRIMARY KEY,
	claim_id    TEXT NOT NULL REFERENCES committed_claims(id),
	version     INTEGER NOT NULL,
	geometry    geometry(GEOMETRY, 4326) NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(claim_id, version)
);

CREATE TABLE IF NOT EXISTS villages (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	name_norm    TEXT NOT NULL,
	state        TEXT NOT NULL DEFAULT '',
	district     TEXT NOT NULL DEFAULT '',
	block        TEXT NOT NULL DEFAULT '',
	centroid_lng DOUBLE PRECISION NOT NULL,
	centroid_lat DOUBLE PRECISION NOT NULL,
	boundary     geometry(GEOMETRY, 4326)
);

CREATE TABLE IF NOT EXISTS layer_features (
	id          TEXT PRIMARY KEY,
	layer_type  TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	region_code TEXT NOT NULL DEFAULT '',
	geometry    geometry(GEOMETRY, 4326) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_stage ON jobs(stage);
CREATE INDEX IF NOT EXISTS idx_jobs_region ON jobs(region_code);
CREATE INDEX IF NOT EXISTS idx_dup_job ON duplicate_candidates(job_id);
CREATE INDEX IF NOT EXISTS idx_conflict_job ON conflict_records(job_id);
CREATE INDEX IF NOT EXISTS idx_review_job ON review_decisions(job_id);
CREATE INDEX IF NOT EXISTS idx_claims_region ON committed_claims(region_code);
CREATE INDEX IF NOT EXISTS idx_claims_geom ON committed_claims USING GIST(geometry);
CREATE INDEX IF NOT EXISTS idx_villages_norm ON villages(name_norm);
CREATE INDEX IF NOT EXISTS idx_villages_trgm ON villages USING GIN(name_norm gin_trgm_ops);
CREATE INDEX IF NOT EXISTS idx_layers_type ON layer_features(layer_type);
CREATE INDEX IF NOT EXISTS idx_layers_geom ON layer_features USING GIST(geometry);
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

const pgJobColumns = `id, region_code, stage, attempts, payload, candidate, confidence,
	validation_issues, flags, corrections, max_severity, outcome, last_error,
	cancel_requested, review_cycles, entered_review_at, lease_token, lease_expires_at,
	created_at, updated_at`

func (s *PostgresStore) CreateJob(ctx context.Context, regionCode string, payload model.ExtractionPayload) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal payload")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, region_code, stage, payload, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, regionCode, string(model.StageExtracted), payloadJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	return &model.Job{
		ID:         id,
		RegionCode: regionCode,
		Stage:      model.StageExtracted,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgJobColumns+` FROM jobs WHERE id = $1`, jobID)
	return scanPgJob(row)
}

func (s *PostgresStore) ClaimJob(ctx context.Context, stages []model.Stage, leaseTTL time.Duration) (*model.Job, error) {
	if len(stages) == 0 {
		return nil, nil
	}

	stageList := make([]string, len(stages))
	for i, st := range stages {
		stageList[i] = string(st)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin claim tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// FOR UPDATE SKIP LOCKED lets concurrent workers claim disjoint jobs
	// without contending on the same row.
	row := tx.QueryRow(ctx, `
		SELECT id FROM jobs
		WHERE stage = ANY($1)
		  AND outcome = ''
		  AND (lease_expires_at IS NULL OR lease_expires_at < now())
		ORDER BY updated_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`,
		stageList,
	)

	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: select claimable job")
	}

	token := uuid.New().String()
	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE jobs
		SET lease_token = $1, lease_expires_at = $2, attempts = attempts + 1, updated_at = $3
		WHERE id = $4`,
		token, now.Add(leaseTTL), now, id,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: lease job")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit claim")
	}

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	job.LeaseToken = token
	return job, nil
}

func (s *PostgresStore) RenewLease(ctx context.Context, jobID, token string, leaseTTL time.Duration) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET lease_expires_at = $1, updated_at = now() WHERE id = $2 AND lease_token = $3`,
		time.Now().UTC().Add(leaseTTL), jobID, token,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: renew lease %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *model.Job, token string) error {
	now := time.Now().UTC()

	candidateJSON, err := pgMarshalNullable(job.Candidate)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal candidate")
	}
	issuesJSON, err := pgMarshalNullable(job.ValidationIssues)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal validation issues")
	}
	flagsJSON, err := json.Marshal(job.Flags)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal flags")
	}
	correctionsJSON, err := pgMarshalNullable(job.Corrections)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal corrections")
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			stage = $1, attempts = $2, candidate = $3, confidence = $4,
			validation_issues = $5, flags = $6, corrections = $7, max_severity = $8,
			outcome = $9, last_error = $10, review_cycles = $11, entered_review_at = $12,
			lease_token = '', lease_expires_at = NULL, updated_at = $13
		WHERE id = $14 AND lease_token = $15`,
		string(job.Stage), job.Attempts, candidateJSON, job.Confidence,
		issuesJSON, flagsJSON, correctionsJSON, string(job.MaxSeverity),
		string(job.Outcome), job.LastError, job.ReviewCycles, job.EnteredReviewAt,
		now, job.ID, token,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrLeaseLost
	}
	job.UpdatedAt = now
	return nil
}

func (s *PostgresStore) RequestCancel(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET cancel_requested = true, updated_at = now() WHERE id = $1 AND outcome = ''`,
		jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: request cancel %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + pgJobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.Stage != "" {
		args = append(args, string(filter.Stage))
		query += fmt.Sprintf(` AND stage = $%d`, len(args))
	}
	if filter.Outcome != "" {
		args = append(args, string(filter.Outcome))
		query += fmt.Sprintf(` AND outcome = $%d`, len(args))
	}
	if filter.RegionCode != "" {
		args = append(args, filter.RegionCode)
		query += fmt.Sprintf(` AND region_code = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	return collectPgJobs(rows)
}

func (s *PostgresStore) ListReviewQueue(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgJobColumns+` FROM jobs
		WHERE stage = $1
		ORDER BY confidence ASC,
		  CASE max_severity WHEN 'high' THEN 0 WHEN 'medium' THEN 1 WHEN 'low' THEN 2 ELSE 3 END,
		  entered_review_at ASC
		LIMIT $2`,
		string(model.StageReviewPending), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list review queue")
	}
	defer rows.Close()

	return collectPgJobs(rows)
}

func (s *PostgresStore) ListReviewPendingOlderThan(ctx context.Context, age time.Duration) ([]model.Job, error) {
	cutoff := time.Now().UTC().Add(-age)
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgJobColumns+` FROM jobs
		WHERE stage = $1 AND entered_review_at IS NOT NULL AND entered_review_at < $2`,
		string(model.StageReviewPending), cutoff,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list stale review jobs")
	}
	defer rows.Close()

	return collectPgJobs(rows)
}

func (s *PostgresStore) ReplaceDuplicateCandidates(ctx context.Context, jobID string, candidates []model.DuplicateCandidate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace duplicates")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM duplicate_candidates WHERE job_id = $1`, jobID); err != nil {
		return eris.Wrap(err, "postgres: clear duplicates")
	}

	for _, c := range candidates {
		evidenceJSON, err := json.Marshal(c.Evidence)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal evidence")
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO duplicate_candidates (id, job_id, claim_id, claim_number, probability, evidence)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New().String(), jobID, c.ClaimID, c.ClaimNumber, c.Probability, evidenceJSON,
		); err != nil {
			return eris.Wrap(err, "postgres: insert duplicate candidate")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace duplicates")
}

func (s *PostgresStore) ListDuplicateCandidates(ctx context.Context, jobID string) ([]model.DuplicateCandidate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, claim_id, claim_number, probability, evidence, created_at
		FROM duplicate_candidates WHERE job_id = $1 ORDER BY probability DESC`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list duplicates")
	}
	defer rows.Close()

	var out []model.DuplicateCandidate
	for rows.Next() {
		var c model.DuplicateCandidate
		var evidenceJSON []byte
		if err := rows.Scan(&c.ID, &c.JobID, &c.ClaimID, &c.ClaimNumber, &c.Probability, &evidenceJSON, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan duplicate")
		}
		if err := json.Unmarshal(evidenceJSON, &c.Evidence); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal evidence")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate duplicates")
}

func (s *PostgresStore) ReplaceConflictRecords(ctx context.Context, jobID string, records []model.ConflictRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace conflicts")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`DELETE FROM conflict_records WHERE job_id = $1`, jobID); err != nil {
		return eris.Wrap(err, "postgres: clear conflicts")
	}

	for _, r := range records {
		if _, err := tx.Exec(ctx, `
			INSERT INTO conflict_records (id, job_id, layer_type, feature_id, feature_name, overlap_ha, overlap_pct, severity)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			uuid.New().String(), jobID, r.LayerType, r.FeatureID, r.FeatureName, r.OverlapHa, r.OverlapPct, string(r.Severity),
		); err != nil {
			return eris.Wrap(err, "postgres: insert conflict record")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace conflicts")
}

func (s *PostgresStore) ListConflictRecords(ctx context.Context, jobID string) ([]model.ConflictRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, layer_type, feature_id, feature_name, overlap_ha, overlap_pct, severity, created_at
		FROM conflict_records WHERE job_id = $1 ORDER BY overlap_pct DESC`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list conflicts")
	}
	defer rows.Close()

	var out []model.ConflictRecord
	for rows.Next() {
		var r model.ConflictRecord
		var severity string
		if err := rows.Scan(&r.ID, &r.JobID, &r.LayerType, &r.FeatureID, &r.FeatureName, &r.OverlapHa, &r.OverlapPct, &severity, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan conflict")
		}
		r.Severity = model.Severity(severity)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate conflicts")
}

func (s *PostgresStore) CreateReviewDecision(ctx context.Context, d *model.ReviewDecision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	correctionsJSON, err := pgMarshalNullable(d.Corrections)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal corrections")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO review_decisions (id, job_id, reviewer_id, verdict, corrections, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.JobID, d.ReviewerID, string(d.Verdict), correctionsJSON, d.Reason, d.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert review decision")
}

func (s *PostgresStore) ListReviewDecisions(ctx context.Context, jobID string) ([]model.ReviewDecision, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, job_id, reviewer_id, verdict, corrections, reason, created_at
		FROM review_decisions WHERE job_id = $1 ORDER BY created_at`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list review decisions")
	}
	defer rows.Close()

	var out []model.ReviewDecision
	for rows.Next() {
		var d model.ReviewDecision
		var verdict string
		var correctionsJSON []byte
		if err := rows.Scan(&d.ID, &d.JobID, &d.ReviewerID, &verdict, &correctionsJSON, &d.Reason, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan review decision")
		}
		d.Verdict = model.Verdict(verdict)
		if len(correctionsJSON) > 0 {
			if err := json.Unmarshal(correctionsJSON, &d.Corrections); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal corrections")
			}
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate review decisions")
}

func (s *PostgresStore) CommitClaim(ctx context.Context, claim *model.CommittedClaim) (*model.CommittedClaim, error) {
	existing, err := s.GetCommittedByJob(ctx, claim.JobID)
	if err != nil && !eris.Is(err, ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if claim.ID == "" {
		claim.ID = uuid.New().String()
	}
	if claim.Version == 0 {
		claim.Version = 1
	}
	claim.CommittedAt = time.Now().UTC()

	hierarchyJSON, err := json.Marshal(claim.Hierarchy)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal hierarchy")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin commit")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO committed_claims (id, job_id, claim_number, region_code, patta_holder, claim_type,
			hierarchy, geometry, area_ha, confidence, version, committed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, ST_SetSRID(ST_GeomFromGeoJSON($8), 4326), $9, $10, $11, $12)`,
		claim.ID, claim.JobID, claim.ClaimNumber, claim.RegionCode, claim.PattaHolder, claim.ClaimType,
		hierarchyJSON, string(claim.Geometry), claim.AreaHectares, claim.Confidence,
		claim.Version, claim.CommittedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if strings.Contains(pgErr.ConstraintName, "job_id") {
				return s.GetCommittedByJob(ctx, claim.JobID)
			}
			return nil, ErrCommitConflict
		}
		return nil, eris.Wrap(err, "postgres: insert committed claim")
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO claim_versions (id, claim_id, version, geometry, recorded_at)
		VALUES ($1, $2, $3, ST_SetSRID(ST_GeomFromGeoJSON($4), 4326), $5)`,
		uuid.New().String(), claim.ID, claim.Version, string(claim.Geometry), claim.CommittedAt,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert claim version")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit claim tx")
	}
	return claim, nil
}

const pgClaimColumns = `id, job_id, claim_number, region_code, patta_holder, claim_type,
	hierarchy, ST_AsGeoJSON(geometry), area_ha, confidence, version, committed_at`

func (s *PostgresStore) GetCommittedByJob(ctx context.Context, jobID string) (*model.CommittedClaim, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgClaimColumns+` FROM committed_claims WHERE job_id = $1`, jobID)
	return scanPgClaim(row)
}

func (s *PostgresStore) ListCommittedInRegion(ctx context.Context, regionCode string) ([]model.CommittedClaim, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgClaimColumns+` FROM committed_claims WHERE region_code = $1`, regionCode)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list committed claims")
	}
	defer rows.Close()

	var out []model.CommittedClaim
	for rows.Next() {
		c, err := scanPgClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate committed claims")
}

func (s *PostgresStore) SupersedeGeometry(ctx context.Context, claimID string, geometry json.RawMessage) (*model.CommittedClaim, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin supersede")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var version int
	if err := tx.QueryRow(ctx,
		`SELECT version FROM committed_claims WHERE id = $1 FOR UPDATE`, claimID).Scan(&version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: read claim version")
	}

	version++
	if _, err := tx.Exec(ctx, `
		UPDATE committed_claims
		SET geometry = ST_SetSRID(ST_GeomFromGeoJSON($1), 4326), version = $2
		WHERE id = $3`,
		string(geometry), version, claimID,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: update claim geometry")
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO claim_versions (id, claim_id, version, geometry, recorded_at)
		VALUES ($1, $2, $3, ST_SetSRID(ST_GeomFromGeoJSON($4), 4326), $5)`,
		uuid.New().String(), claimID, version, string(geometry), time.Now().UTC(),
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert superseding version")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit supersede")
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+pgClaimColumns+` FROM committed_claims WHERE id = $1`, claimID)
	return scanPgClaim(row)
}

func (s *PostgresStore) UpsertVillage(ctx context.Context, v *model.Village) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	var boundary any
	if len(v.Boundary) > 0 {
		boundary = string(v.Boundary)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO villages (id, name, name_norm, state, district, block, centroid_lng, centroid_lat, boundary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, ST_SetSRID(ST_GeomFromGeoJSON($9), 4326))
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, name_norm = EXCLUDED.name_norm,
			state = EXCLUDED.state, district = EXCLUDED.district, block = EXCLUDED.block,
			centroid_lng = EXCLUDED.centroid_lng, centroid_lat = EXCLUDED.centroid_lat,
			boundary = EXCLUDED.boundary`,
		v.ID, v.Name, normalizeName(v.Name), v.State, v.District, v.Block,
		v.CentroidLng, v.CentroidLat, boundary,
	)
	return eris.Wrap(err, "postgres: upsert village")
}

func (s *PostgresStore) SearchVillages(ctx context.Context, q VillageQuery) ([]model.Village, error) {
	query := `SELECT id, name, state, district, block, centroid_lng, centroid_lat, ST_AsGeoJSON(boundary)
		FROM villages WHERE 1=1`
	var args []any

	if q.NameNorm != "" {
		args = append(args, q.NameNorm)
		query += fmt.Sprintf(` AND name_norm = $%d`, len(args))
	}
	if q.State != "" {
		args = append(args, q.State)
		query += fmt.Sprintf(` AND state = $%d`, len(args))
	}
	if q.District != "" {
		args = append(args, q.District)
		query += fmt.Sprintf(` AND district = $%d`, len(args))
	}
	if q.Block != "" {
		args = append(args, q.Block)
		query += fmt.Sprintf(` AND block = $%d`, len(args))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY name LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search villages")
	}
	defer rows.Close()

	var out []model.Village
	for rows.Next() {
		var v model.Village
		var boundary *string
		if err := rows.Scan(&v.ID, &v.Name, &v.State, &v.District, &v.Block,
			&v.CentroidLng, &v.CentroidLat, &boundary); err != nil {
			return nil, eris.Wrap(err, "postgres: scan village")
		}
		if boundary != nil && *boundary != "" {
			v.Boundary = json.RawMessage(*boundary)
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate villages")
}

func (s *PostgresStore) UpsertLayerFeature(ctx context.Context, f *model.LayerFeature) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO layer_features (id, layer_type, name, region_code, geometry)
		VALUES ($1, $2, $3, $4, ST_SetSRID(ST_GeomFromGeoJSON($5), 4326))
		ON CONFLICT (id) DO UPDATE SET
			layer_type = EXCLUDED.layer_type, name = EXCLUDED.name,
			region_code = EXCLUDED.region_code, geometry = EXCLUDED.geometry`,
		f.ID, f.LayerType, f.Name, f.RegionCode, string(f.Geometry),
	)
	return eris.Wrap(err, "postgres: upsert layer feature")
}

func (s *PostgresStore) IntersectLayers(ctx context.Context, geometry json.RawMessage, layerType string) ([]Intersection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, layer_type, name,
			ST_Area(ST_Intersection(geometry, ST_SetSRID(ST_GeomFromGeoJSON($1), 4326))::geography) / 10000.0
		FROM layer_features
		WHERE layer_type = $2
		  AND ST_Intersects(geometry, ST_SetSRID(ST_GeomFromGeoJSON($1), 4326))`,
		string(geometry), layerType,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: intersect layers")
	}
	defer rows.Close()

	return collectIntersections(rows, "")
}

func (s *PostgresStore) IntersectClaims(ctx context.Context, geometry json.RawMessage, regionCode, excludeJobID string) ([]Intersection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, claim_number,
			ST_Area(ST_Intersection(geometry, ST_SetSRID(ST_GeomFromGeoJSON($1), 4326))::geography) / 10000.0
		FROM committed_claims
		WHERE region_code = $2
		  AND job_id <> $3
		  AND ST_Intersects(geometry, ST_SetSRID(ST_GeomFromGeoJSON($1), 4326))`,
		string(geometry), regionCode, excludeJobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: intersect claims")
	}
	defer rows.Close()

	return collectIntersections(rows, model.LayerClaim)
}

// collectIntersections scans (id, name, overlap) or (id, layer, name, overlap)
// rows depending on whether a fixed layer type was supplied.
func collectIntersections(rows pgx.Rows, fixedLayer string) ([]Intersection, error) {
	var out []Intersection
	for rows.Next() {
		var in Intersection
		var err error
		if fixedLayer != "" {
			in.LayerType = fixedLayer
			err = rows.Scan(&in.FeatureID, &in.FeatureName, &in.OverlapHa)
		} else {
			err = rows.Scan(&in.FeatureID, &in.LayerType, &in.FeatureName, &in.OverlapHa)
		}
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan intersection")
		}
		out = append(out, in)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate intersections")
}

func pgMarshalNullable(v any) (any, error) {
	switch t := v.(type) {
	case *model.CandidateClaim:
		if t == nil {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(t) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var stage, outcome, maxSeverity string
	var payloadJSON, candidateJSON, issuesJSON, flagsJSON, correctionsJSON []byte

	err := row.Scan(
		&j.ID, &j.RegionCode, &stage, &j.Attempts, &payloadJSON, &candidateJSON, &j.Confidence,
		&issuesJSON, &flagsJSON, &correctionsJSON, &maxSeverity, &outcome, &j.LastError,
		&j.CancelRequested, &j.ReviewCycles, &j.EnteredReviewAt, &j.LeaseToken, &j.LeaseExpiresAt,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan job")
	}

	j.Stage = model.Stage(stage)
	j.Outcome = model.Outcome(outcome)
	j.MaxSeverity = model.Severity(maxSeverity)

	if err := json.Unmarshal(payloadJSON, &j.Payload); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal payload")
	}
	if len(candidateJSON) > 0 {
		j.Candidate = &model.CandidateClaim{}
		if err := json.Unmarshal(candidateJSON, j.Candidate); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal candidate")
		}
	}
	if len(issuesJSON) > 0 {
		if err := json.Unmarshal(issuesJSON, &j.ValidationIssues); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal validation issues")
		}
	}
	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &j.Flags); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal flags")
		}
	}
	if len(correctionsJSON) > 0 {
		if err := json.Unmarshal(correctionsJSON, &j.Corrections); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal corrections")
		}
	}
	return &j, nil
}

func collectPgJobs(rows pgx.Rows) ([]model.Job, error) {
	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: iterate jobs")
}

func scanPgClaim(row pgx.Row) (*model.CommittedClaim, error) {
	var c model.CommittedClaim
	var hierarchyJSON []byte
	var geometryJSON string

	err := row.Scan(&c.ID, &c.JobID, &c.ClaimNumber, &c.RegionCode, &c.PattaHolder, &c.ClaimType,
		&hierarchyJSON, &geometryJSON, &c.AreaHectares, &c.Confidence, &c.Version, &c.CommittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan committed claim")
	}

	if err := json.Unmarshal(hierarchyJSON, &c.Hierarchy); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal hierarchy")
	}
	c.Geometry = json.RawMessage(geometryJSON)
	return &c, nil
}
