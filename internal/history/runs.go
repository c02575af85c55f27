package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/stagecheck/internal/driver"
)

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the final state of a run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunOK      RunStatus = "ok"
	RunFailed  RunStatus = "failed"
	RunError   RunStatus = "error"
)

// Run is one stored harness invocation.
type Run struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
	Root        string    `json:"root"`
	Stages      []string  `json:"stages"`
	Status      RunStatus `json:"status"`
	Fingerprint string    `json:"fingerprint,omitempty"`
}

// Record is one stored verdict. Stdouts are kept as digests only.
type Record struct {
	Seq             int    `json:"seq"`
	Stage           string `json:"stage"`
	Folder          string `json:"folder"`
	FolderSeq       int    `json:"folder_seq"`
	Input           string `json:"input"`
	Status          string `json:"status"`
	Reason          string `json:"reason,omitempty"`
	CandidateExit   int    `json:"candidate_exit"`
	ReferenceExit   int    `json:"reference_exit"`
	CandidateStdout string `json:"candidate_stdout_sha"`
	ReferenceStdout string `json:"reference_stdout_sha"`
}

// Session records the verdicts of one run. It implements driver.Recorder.
type Session struct {
	store *Store
	clock Clock
	run   Run
	seq   int
}

var _ driver.Recorder = (*Session)(nil)

// Begin inserts a new running run and returns its session.
func (s *Store) Begin(ctx context.Context, ids RunIDGenerator, clock Clock, root string, stages []string) (*Session, error) {
	run := Run{
		ID:        ids.Generate(),
		StartedAt: clock.Now().UTC(),
		Root:      root,
		Stages:    append([]string(nil), stages...),
		Status:    RunRunning,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, root, stages, status)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, formatTime(run.StartedAt), run.Root, strings.Join(run.Stages, ","), string(run.Status))
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	return &Session{store: s, clock: clock, run: run}, nil
}

// ID returns the run ID.
func (ss *Session) ID() string {
	return ss.run.ID
}

// Record stores e as the next verdict of the run.
func (ss *Session) Record(ctx context.Context, e driver.Entry) error {
	ss.seq++
	v := e.Verdict
	_, err := ss.store.db.ExecContext(ctx, `
		INSERT INTO verdicts
		(run_id, seq, stage, folder, folder_seq, input, status, reason,
		 candidate_exit, reference_exit, candidate_stdout_sha, reference_stdout_sha)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ss.run.ID,
		ss.seq,
		e.Stage,
		e.Folder,
		e.Seq,
		v.Input,
		v.Status.String(),
		v.Reason,
		v.Candidate.ExitCode,
		v.Reference.ExitCode,
		digest(v.Candidate.Stdout),
		digest(v.Reference.Stdout),
	)
	if err != nil {
		return fmt.Errorf("record verdict %s: %w", v.Input, err)
	}
	return nil
}

// Finish marks the run done with status and stores its fingerprint.
func (ss *Session) Finish(ctx context.Context, status RunStatus) (Run, error) {
	records, err := ss.store.Verdicts(ctx, ss.run.ID)
	if err != nil {
		return ss.run, err
	}
	fp, err := Fingerprint(records)
	if err != nil {
		return ss.run, fmt.Errorf("finish run: %w", err)
	}

	ss.run.FinishedAt = ss.clock.Now().UTC()
	ss.run.Status = status
	ss.run.Fingerprint = fp

	_, err = ss.store.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, status = ?, fingerprint = ?
		WHERE id = ?
	`, formatTime(ss.run.FinishedAt), string(status), fp, ss.run.ID)
	if err != nil {
		return ss.run, fmt.Errorf("finish run: %w", err)
	}
	return ss.run, nil
}

// GetRun returns one run.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, root, stages, status, fingerprint
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, started_at, finished_at, root, stages, status, fingerprint
		FROM runs
		ORDER BY started_at DESC, id COLLATE BINARY DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Verdicts returns the verdicts of a run in recording order.
func (s *Store) Verdicts(ctx context.Context, runID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, stage, folder, folder_seq, input, status, reason,
		       candidate_exit, reference_exit, candidate_stdout_sha, reference_stdout_sha
		FROM verdicts
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.Seq, &r.Stage, &r.Folder, &r.FolderSeq, &r.Input, &r.Status, &r.Reason,
			&r.CandidateExit, &r.ReferenceExit, &r.CandidateStdout, &r.ReferenceStdout,
		); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verdicts: %w", err)
	}
	return records, nil
}

// DiffRuns loads two runs and compares their verdicts.
func (s *Store) DiffRuns(ctx context.Context, a, b string) ([]Drift, error) {
	for _, id := range []string{a, b} {
		if _, err := s.GetRun(ctx, id); err != nil {
			return nil, err
		}
	}
	before, err := s.Verdicts(ctx, a)
	if err != nil {
		return nil, err
	}
	after, err := s.Verdicts(ctx, b)
	if err != nil {
		return nil, err
	}
	return Diff(before, after), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run         Run
		started     string
		finished    sql.NullString
		stages      string
		status      string
		fingerprint sql.NullString
	)
	if err := sc.Scan(&run.ID, &started, &finished, &run.Root, &stages, &status, &fingerprint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	var err error
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, err
	}
	if finished.Valid {
		if run.FinishedAt, err = parseTime(finished.String); err != nil {
			return Run{}, err
		}
	}
	if stages != "" {
		run.Stages = strings.Split(stages, ",")
	}
	run.Status = RunStatus(status)
	run.Fingerprint = fingerprint.String
	return run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
