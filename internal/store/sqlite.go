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

	"github.com/gramveda/claim-intake/internal/model"
	"github.com/gramveda/claim-intake/internal/spatial"
)

// SQLiteStore implements Store using modernc.org/sqlite. Geometry predicates
// are evaluated in Go via the spatial package.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
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
	id                TEXT PRIMARY KEY,
	region_code       TEXT NOT NULL,
	stage             TEXT NOT NULL DEFAULT 'extracted',
	attempts          INTEGER NOT NULL DEFAULT 0,
	payload           TEXT NOT NULL,
	candidate         TEXT,
	confidence        REAL NOT NULL DEFAULT 0,
	validation_issues TEXT,
	flags             TEXT,
	corrections       TEXT,
	max_severity      TEXT NOT NULL DEFAULT '',
	outcome           TEXT NOT NULL DEFAULT '',
	last_error        TEXT NOT NULL DEFAULT '',
	cancel_requested  INTEGER NOT NULL DEFAULT 0,
	review_cycles     INTEGER NOT NULL DEFAULT 0,
	entered_review_at DATETIME,
	lease_token       TEXT NOT NULL DEFAULT '',
	lease_expires_at  DATETIME,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS duplicate_candidates (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL REFERENCES jobs(id),
	claim_id     TEXT NOT NULL,
	claim_number TEXT NOT NULL,
	probability  REAL NOT NULL,
	evidence     TEXT NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conflict_records (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL REFERENCES jobs(id),
	layer_type   TEXT NOT NULL,
	feature_id   TEXT NOT NULL,
	feature_name TEXT NOT NULL DEFAULT '',
	overlap_ha   REAL NOT NULL,
	overlap_pct  REAL NOT NULL,
	severity     TEXT NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS review_decisions (
	id          TEXT PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES jobs(id),
	reviewer_id TEXT NOT NULL,
	verdict     TEXT NOT NULL,
	corrections TEXT,
	reason      TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS committed_claims (
	id           TEXT PRIMARY KEY,
	job_id       TEXT NOT NULL UNIQUE,
	claim_number TEXT NOT NULL,
	region_code  TEXT NOT NULL,
	patta_holder TEXT NOT NULL DEFAULT '',
	claim_type   TEXT NOT NULL DEFAULT '',
	hierarchy    TEXT NOT NULL,
	geometry     TEXT NOT NULL,
	area_ha      REAL NOT NULL DEFAULT 0,
	confidence   REAL NOT NULL DEFAULT 0,
	version      INTEGER NOT NULL DEFAULT 1,
	committed_at DATETIME NOT NULL,
	UNIQUE(claim_number, region_code)
);

CREATE TABLE IF NOT EXISTS claim_versions (
	id          TEXT PRIMARY KEY,
	claim_id    TEXT NOT NULL REFERENCES committed_claims(id),
	version     INTEGER NOT NULL,
	geometry    TEXT NOT NULL,
	recorded_at DATETIME NOT NULL,
	UNIQUE(claim_id, version)
);

CREATE TABLE IF NOT EXISTS villages (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	name_norm    TEXT NOT NULL,
	state        TEXT NOT NULL DEFAULT '',
	district     TEXT NOT NULL DEFAULT '',
	block        TEXT NOT NULL DEFAULT '',
	centroid_lng REAL NOT NULL,
	centroid_lat REAL NOT NULL,
	boundary     TEXT
);

CREATE TABLE IF NOT EXISTS layer_features (
	id          TEXT PRIMARY KEY,
	layer_type  TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	region_code TEXT NOT NULL DEFAULT '',
	geometry    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_stage ON jobs(stage);
CREATE INDEX IF NOT EXISTS idx_jobs_region ON jobs(region_code);
CREATE INDEX IF NOT EXISTS idx_dup_job ON duplicate_candidates(job_id);
CREATE INDEX IF NOT EXISTS idx_conflict_job ON conflict_records(job_id);
CREATE INDEX IF NOT EXISTS idx_review_job ON review_decisions(job_id);
CREATE INDEX IF NOT EXISTS idx_claims_region ON committed_claims(region_code);
CREATE INDEX IF NOT EXISTS idx_villages_norm ON villages(name_norm);
CREATE INDEX IF NOT EXISTS idx_villages_district ON villages(district, block);
CREATE INDEX IF NOT EXISTS idx_layers_type ON layer_features(layer_type);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const jobColumns = `id, region_code, stage, attempts, payload, candidate, confidence,
	validation_issues, flags, corrections, max_severity, outcome, last_error,
	cancel_requested, review_cycles, entered_review_at, lease_token, lease_expires_at,
	created_at, updated_at`

func (s *SQLiteStore) CreateJob(ctx context.Context, regionCode string, payload model.ExtractionPayload) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal payload")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, region_code, stage, payload, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, regionCode, string(model.StageExtracted), string(payloadJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
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

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

func (s *SQLiteStore) ClaimJob(ctx context.Context, stages []model.Stage, leaseTTL time.Duration) (*model.Job, error) {
	if len(stages) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()

	placeholders := make([]string, len(stages))
	args := make([]any, 0, len(stages)+1)
	for i, st := range stages {
		placeholders[i] = "?"
		args = append(args, string(st))
	}
	args = append(args, now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin claim tx")
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT id FROM jobs
		 WHERE stage IN (`+strings.Join(placeholders, ",")+`)
		   AND outcome = ''
		   AND (lease_expires_at IS NULL OR lease_expires_at < ?)
		 ORDER BY updated_at
		 LIMIT 1`,
		args...,
	)

	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: select claimable job")
	}

	token := uuid.New().String()
	res, err := tx.ExecContext(ctx,
		`UPDATE jobs
		 SET lease_token = ?, lease_expires_at = ?, attempts = attempts + 1, updated_at = ?
		 WHERE id = ? AND (lease_expires_at IS NULL OR lease_expires_at < ?)`,
		token, now.Add(leaseTTL), now, id, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: lease job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Raced with another worker; caller will poll again.
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit claim")
	}

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	job.LeaseToken = token
	return job, nil
}

func (s *SQLiteStore) RenewLease(ctx context.Context, jobID, token string, leaseTTL time.Duration) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET lease_expires_at = ?, updated_at = ? WHERE id = ? AND lease_token = ?`,
		now.Add(leaseTTL), now, jobID, token,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: renew lease %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.Job, token string) error {
	now := time.Now().UTC()

	candidateJSON, err := marshalNullable(job.Candidate)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal candidate")
	}
	issuesJSON, err := marshalNullable(job.ValidationIssues)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal validation issues")
	}
	flagsJSON, err := json.Marshal(job.Flags)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal flags")
	}
	correctionsJSON, err := marshalNullable(job.Corrections)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal corrections")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET
			stage = ?, attempts = ?, candidate = ?, confidence = ?,
			validation_issues = ?, flags = ?, corrections = ?, max_severity = ?,
			outcome = ?, last_error = ?, review_cycles = ?, entered_review_at = ?,
			lease_token = '', lease_expires_at = NULL, updated_at = ?
		 WHERE id = ? AND lease_token = ?`,
		string(job.Stage), job.Attempts, candidateJSON, job.Confidence,
		issuesJSON, string(flagsJSON), correctionsJSON, string(job.MaxSeverity),
		string(job.Outcome), job.LastError, job.ReviewCycles, job.EnteredReviewAt,
		now, job.ID, token,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", job.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLeaseLost
	}
	job.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) RequestCancel(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ? AND outcome = ''`,
		time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: request cancel %s", jobID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, string(filter.Outcome))
	}
	if filter.RegionCode != "" {
		query += ` AND region_code = ?`
		args = append(args, filter.RegionCode)
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

func (s *SQLiteStore) ListReviewQueue(ctx context.Context, limit int) ([]model.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE stage = ?
		 ORDER BY confidence ASC,
		   CASE max_severity WHEN 'high' THEN 0 WHEN 'medium' THEN 1 WHEN 'low' THEN 2 ELSE 3 END,
		   entered_review_at ASC
		 LIMIT ?`,
		string(model.StageReviewPending), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list review queue")
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (s *SQLiteStore) ListReviewPendingOlderThan(ctx context.Context, age time.Duration) ([]model.Job, error) {
	cutoff := time.Now().UTC().Add(-age)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE stage = ? AND entered_review_at IS NOT NULL AND entered_review_at < ?`,
		string(model.StageReviewPending), cutoff,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list stale review jobs")
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (s *SQLiteStore) ReplaceDuplicateCandidates(ctx context.Context, jobID string, candidates []model.DuplicateCandidate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace duplicates")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM duplicate_candidates WHERE job_id = ?`, jobID); err != nil {
		return eris.Wrap(err, "sqlite: clear duplicates")
	}

	now := time.Now().UTC()
	for _, c := range candidates {
		evidenceJSON, err := json.Marshal(c.Evidence)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal evidence")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO duplicate_candidates (id, job_id, claim_id, claim_number, probability, evidence, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), jobID, c.ClaimID, c.ClaimNumber, c.Probability, string(evidenceJSON), now,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert duplicate candidate")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit replace duplicates")
}

func (s *SQLiteStore) ListDuplicateCandidates(ctx context.Context, jobID string) ([]model.DuplicateCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, claim_id, claim_number, probability, evidence, created_at
		 FROM duplicate_candidates WHERE job_id = ? ORDER BY probability DESC`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list duplicates")
	}
	defer rows.Close()

	var out []model.DuplicateCandidate
	for rows.Next() {
		var c model.DuplicateCandidate
		var evidenceJSON string
		if err := rows.Scan(&c.ID, &c.JobID, &c.ClaimID, &c.ClaimNumber, &c.Probability, &evidenceJSON, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan duplicate")
		}
		if err := json.Unmarshal([]byte(evidenceJSON), &c.Evidence); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal evidence")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate duplicates")
}

func (s *SQLiteStore) ReplaceConflictRecords(ctx context.Context, jobID string, records []model.ConflictRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace conflicts")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conflict_records WHERE job_id = ?`, jobID); err != nil {
		return eris.Wrap(err, "sqlite: clear conflicts")
	}

	now := time.Now().UTC()
	for _, r := range records {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conflict_records (id, job_id, layer_type, feature_id, feature_name, overlap_ha, overlap_pct, severity, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), jobID, r.LayerType, r.FeatureID, r.FeatureName, r.OverlapHa, r.OverlapPct, string(r.Severity), now,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert conflict record")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit replace conflicts")
}

func (s *SQLiteStore) ListConflictRecords(ctx context.Context, jobID string) ([]model.ConflictRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, layer_type, feature_id, feature_name, overlap_ha, overlap_pct, severity, created_at
		 FROM conflict_records WHERE job_id = ? ORDER BY overlap_pct DESC`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list conflicts")
	}
	defer rows.Close()

	var out []model.ConflictRecord
	for rows.Next() {
		var r model.ConflictRecord
		var severity string
		if err := rows.Scan(&r.ID, &r.JobID, &r.LayerType, &r.FeatureID, &r.FeatureName, &r.OverlapHa, &r.OverlapPct, &severity, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan conflict")
		}
		r.Severity = model.Severity(severity)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate conflicts")
}

func (s *SQLiteStore) CreateReviewDecision(ctx context.Context, d *model.ReviewDecision) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	correctionsJSON, err := marshalNullable(d.Corrections)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal corrections")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO review_decisions (id, job_id, reviewer_id, verdict, corrections, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.JobID, d.ReviewerID, string(d.Verdict), correctionsJSON, d.Reason, d.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert review decision")
}

func (s *SQLiteStore) ListReviewDecisions(ctx context.Context, jobID string) ([]model.ReviewDecision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, reviewer_id, verdict, corrections, reason, created_at
		 FROM review_decisions WHERE job_id = ? ORDER BY created_at`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list review decisions")
	}
	defer rows.Close()

	var out []model.ReviewDecision
	for rows.Next() {
		var d model.ReviewDecision
		var verdict string
		var correctionsJSON sql.NullString
		if err := rows.Scan(&d.ID, &d.JobID, &d.ReviewerID, &verdict, &correctionsJSON, &d.Reason, &d.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review decision")
		}
		d.Verdict = model.Verdict(verdict)
		if correctionsJSON.Valid && correctionsJSON.String != "" {
			if err := json.Unmarshal([]byte(correctionsJSON.String), &d.Corrections); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal corrections")
			}
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate review decisions")
}

func (s *SQLiteStore) CommitClaim(ctx context.Context, claim *model.CommittedClaim) (*model.CommittedClaim, error) {
	// Idempotence: a commit already recorded for this job wins.
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
		return nil, eris.Wrap(err, "sqlite: marshal hierarchy")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin commit")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO committed_claims (id, job_id, claim_number, region_code, patta_holder, claim_type,
			hierarchy, geometry, area_ha, confidence, version, committed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		claim.ID, claim.JobID, claim.ClaimNumber, claim.RegionCode, claim.PattaHolder, claim.ClaimType,
		string(hierarchyJSON), string(claim.Geometry), claim.AreaHectares, claim.Confidence,
		claim.Version, claim.CommittedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: committed_claims.job_id") {
			// Lost a race with our own retry; return the existing record.
			return s.GetCommittedByJob(ctx, claim.JobID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrCommitConflict
		}
		return nil, eris.Wrap(err, "sqlite: insert committed claim")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO claim_versions (id, claim_id, version, geometry, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), claim.ID, claim.Version, string(claim.Geometry), claim.CommittedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert claim version")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit claim tx")
	}
	return claim, nil
}

const claimColumns = `id, job_id, claim_number, region_code, patta_holder, claim_type,
	hierarchy, geometry, area_ha, confidence, version, committed_at`

func (s *SQLiteStore) GetCommittedByJob(ctx context.Context, jobID string) (*model.CommittedClaim, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM committed_claims WHERE job_id = ?`, jobID)
	return scanClaim(row)
}

func (s *SQLiteStore) ListCommittedInRegion(ctx context.Context, regionCode string) ([]model.CommittedClaim, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+claimColumns+` FROM committed_claims WHERE region_code = ?`, regionCode)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list committed claims")
	}
	defer rows.Close()

	var out []model.CommittedClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate committed claims")
}

func (s *SQLiteStore) SupersedeGeometry(ctx context.Context, claimID string, geometry json.RawMessage) (*model.CommittedClaim, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin supersede")
	}
	defer func() { _ = tx.Rollback() }()

	var version int
	if err := tx.QueryRowContext(ctx,
		`SELECT version FROM committed_claims WHERE id = ?`, claimID).Scan(&version); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: read claim version")
	}

	now := time.Now().UTC()
	version++
	if _, err := tx.ExecContext(ctx,
		`UPDATE committed_claims SET geometry = ?, version = ? WHERE id = ?`,
		string(geometry), version, claimID,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: update claim geometry")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO claim_versions (id, claim_id, version, geometry, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), claimID, version, string(geometry), now,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert superseding version")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit supersede")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM committed_claims WHERE id = ?`, claimID)
	return scanClaim(row)
}

func (s *SQLiteStore) UpsertVillage(ctx context.Context, v *model.Village) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO villages (id, name, name_norm, state, district, block, centroid_lng, centroid_lat, boundary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, name_norm = excluded.name_norm,
			state = excluded.state, district = excluded.district, block = excluded.block,
			centroid_lng = excluded.centroid_lng, centroid_lat = excluded.centroid_lat,
			boundary = excluded.boundary`,
		v.ID, v.Name, normalizeName(v.Name), v.State, v.District, v.Block,
		v.CentroidLng, v.CentroidLat, nullableString(v.Boundary),
	)
	return eris.Wrap(err, "sqlite: upsert village")
}

func (s *SQLiteStore) SearchVillages(ctx context.Context, q VillageQuery) ([]model.Village, error) {
	query := `SELECT id, name, state, district, block, centroid_lng, centroid_lat, boundary
		FROM villages WHERE 1=1`
	var args []any

	if q.NameNorm != "" {
		query += ` AND name_norm = ?`
		args = append(args, q.NameNorm)
	}
	if q.State != "" {
		query += ` AND state = ?`
		args = append(args, q.State)
	}
	if q.District != "" {
		query += ` AND district = ?`
		args = append(args, q.District)
	}
	if q.Block != "" {
		query += ` AND block = ?`
		args = append(args, q.Block)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY name LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search villages")
	}
	defer rows.Close()

	var out []model.Village
	for rows.Next() {
		var v model.Village
		var boundary sql.NullString
		if err := rows.Scan(&v.ID, &v.Name, &v.State, &v.District, &v.Block,
			&v.CentroidLng, &v.CentroidLat, &boundary); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan village")
		}
		if boundary.Valid && boundary.String != "" {
			v.Boundary = json.RawMessage(boundary.String)
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate villages")
}

func (s *SQLiteStore) UpsertLayerFeature(ctx context.Context, f *model.LayerFeature) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO layer_features (id, layer_type, name, region_code, geometry)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			layer_type = excluded.layer_type, name = excluded.name,
			region_code = excluded.region_code, geometry = excluded.geometry`,
		f.ID, f.LayerType, f.Name, f.RegionCode, string(f.Geometry),
	)
	return eris.Wrap(err, "sqlite: upsert layer feature")
}

// IntersectLayers evaluates intersection in Go: features of the layer are
// decoded and overlaid against the subject geometry.
func (s *SQLiteStore) IntersectLayers(ctx context.Context, geometry json.RawMessage, layerType string) ([]Intersection, error) {
	subject, err := spatial.Decode(geometry)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, layer_type, name, geometry FROM layer_features WHERE layer_type = ?`, layerType)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load layer features")
	}
	defer rows.Close()

	var out []Intersection
	for rows.Next() {
		var id, lt, name, geomJSON string
		if err := rows.Scan(&id, &lt, &name, &geomJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan layer feature")
		}
		feature, err := spatial.Decode(json.RawMessage(geomJSON))
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode feature %s", id)
		}
		if !spatial.Intersects(subject, feature) {
			continue
		}
		out = append(out, Intersection{
			FeatureID:   id,
			FeatureName: name,
			LayerType:   lt,
			OverlapHa:   spatial.OverlapHectares(subject, feature),
		})
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate layer features")
}

func (s *SQLiteStore) IntersectClaims(ctx context.Context, geometry json.RawMessage, regionCode, excludeJobID string) ([]Intersection, error) {
	subject, err := spatial.Decode(geometry)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, claim_number, job_id, geometry FROM committed_claims WHERE region_code = ?`,
		regionCode,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load committed geometries")
	}
	defer rows.Close()

	var out []Intersection
	for rows.Next() {
		var id, number, jobID, geomJSON string
		if err := rows.Scan(&id, &number, &jobID, &geomJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan committed geometry")
		}
		if jobID == excludeJobID {
			continue
		}
		feature, err := spatial.Decode(json.RawMessage(geomJSON))
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode claim geometry %s", id)
		}
		if !spatial.Intersects(subject, feature) {
			continue
		}
		out = append(out, Intersection{
			FeatureID:   id,
			FeatureName: number,
			LayerType:   model.LayerClaim,
			OverlapHa:   spatial.OverlapHectares(subject, feature),
		})
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate committed geometries")
}

// helpers

func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func marshalNullable(v any) (any, error) {
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
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullableString(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var stage, outcome, maxSeverity string
	var payloadJSON string
	var candidateJSON, issuesJSON, flagsJSON, correctionsJSON sql.NullString
	var cancelRequested int
	var enteredReview, leaseExpires sql.NullTime
	var leaseToken string

	err := row.Scan(
		&j.ID, &j.RegionCode, &stage, &j.Attempts, &payloadJSON, &candidateJSON, &j.Confidence,
		&issuesJSON, &flagsJSON, &correctionsJSON, &maxSeverity, &outcome, &j.LastError,
		&cancelRequested, &j.ReviewCycles, &enteredReview, &leaseToken, &leaseExpires,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	j.Stage = model.Stage(stage)
	j.Outcome = model.Outcome(outcome)
	j.MaxSeverity = model.Severity(maxSeverity)
	j.CancelRequested = cancelRequested != 0
	j.LeaseToken = leaseToken
	if enteredReview.Valid {
		t := enteredReview.Time
		j.EnteredReviewAt = &t
	}
	if leaseExpires.Valid {
		t := leaseExpires.Time
		j.LeaseExpiresAt = &t
	}

	if err := json.Unmarshal([]byte(payloadJSON), &j.Payload); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal payload")
	}
	if candidateJSON.Valid && candidateJSON.String != "" {
		j.Candidate = &model.CandidateClaim{}
		if err := json.Unmarshal([]byte(candidateJSON.String), j.Candidate); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal candidate")
		}
	}
	if issuesJSON.Valid && issuesJSON.String != "" {
		if err := json.Unmarshal([]byte(issuesJSON.String), &j.ValidationIssues); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal validation issues")
		}
	}
	if flagsJSON.Valid && flagsJSON.String != "" {
		if err := json.Unmarshal([]byte(flagsJSON.String), &j.Flags); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal flags")
		}
	}
	if correctionsJSON.Valid && correctionsJSON.String != "" {
		if err := json.Unmarshal([]byte(correctionsJSON.String), &j.Corrections); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal corrections")
		}
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
	return jobs, eris.Wrap(rows.Err(), "sqlite: iterate jobs")
}

func scanClaim(row scannable) (*model.CommittedClaim, error) {
	var c model.CommittedClaim
	var hierarchyJSON, geometryJSON string

	err := row.Scan(&c.ID, &c.JobID, &c.ClaimNumber, &c.RegionCode, &c.PattaHolder, &c.ClaimType,
		&hierarchyJSON, &geometryJSON, &c.AreaHectares, &c.Confidence, &c.Version, &c.CommittedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan committed claim")
	}

	if err := json.Unmarshal([]byte(hierarchyJSON), &c.Hierarchy); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal hierarchy")
	}
	c.Geometry = json.RawMessage(geometryJSON)
	return &c, nil
}
