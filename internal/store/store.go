// Package store persists runs, steps, artifacts and run events in an
// embedded SQLite database. All JSON payloads are marshaled by the store;
// callers hand over plain Go values.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Run and step statuses.
const (
	StatusPending        = "pending"
	StatusRunning        = "running"
	StatusSucceeded      = "succeeded"
	StatusFailed         = "failed"
	StatusPartialSuccess = "partial-success"
	StatusSkipped        = "skipped"
)

// Event types appended to the run audit trail.
const (
	EventRunStarted         = "run_started"
	EventSnapshotCreated    = "snapshot_created"
	EventAgentCompleted     = "agent_completed"
	EventAgentFailed        = "agent_failed"
	EventRollbackStaged     = "rollback_staged"
	EventPackagingCompleted = "packaging_completed"
	EventPackagingFailed    = "packaging_failed"
	EventPackagingSkipped   = "packaging_skipped"
	EventRunCompleted       = "run_completed"
)

// ErrRunNotFound is returned when a run ID has no row.
var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	target_path TEXT NOT NULL,
	prompt TEXT NOT NULL DEFAULT '',
	input_docs TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	completed_at TEXT,
	package_path TEXT,
	error TEXT,
	config_json TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS steps (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(run_id),
	agent TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	input_json TEXT NOT NULL DEFAULT '{}',
	output_json TEXT NOT NULL DEFAULT '{}',
	error TEXT
);

CREATE TABLE IF NOT EXISTS artifacts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(run_id),
	agent TEXT NOT NULL,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	path TEXT NOT NULL DEFAULT '',
	payload_json TEXT NOT NULL DEFAULT 'null',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(run_id),
	event TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	payload_json TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_steps_run ON steps(run_id);
CREATE INDEX IF NOT EXISTS idx_artifacts_run ON artifacts(run_id);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id);
`

// Run is one pipeline execution.
type Run struct {
	// RunID is the unique run identifier
	RunID string

	// Status is one of the run status constants
	Status string

	// TargetPath is the workspace directory the run operated on
	TargetPath string

	// Prompt is the free-form instruction given to the run
	Prompt string

	// InputDocs is the requirement document path, if any
	InputDocs string

	// StartedAt is the UTC start time
	StartedAt time.Time

	// CompletedAt is the UTC completion time, nil while running
	CompletedAt *time.Time

	// PackagePath is the packaged archive location, empty if not packaged
	PackagePath string

	// Error holds the failure description for failed runs
	Error string

	// Config is the effective run configuration snapshot
	Config map[string]any
}

// Step is one agent execution within a run.
type Step struct {
	ID          int64
	RunID       string
	Agent       string
	Status      string
	StartedAt   time.Time
	CompletedAt *time.Time
	Input       map[string]any
	Output      map[string]any
	Error       string
}

// Artifact is one recorded agent output.
type Artifact struct {
	ID        int64
	RunID     string
	Agent     string
	Name      string
	Type      string
	Path      string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Event is one audit trail entry.
type Event struct {
	ID        int64
	RunID     string
	Event     string
	Message   string
	Payload   map[string]any
	CreatedAt time.Time
}

// RunDetail is a run with its steps, artifacts and events, ordered by
// insertion.
type RunDetail struct {
	Run       Run
	Steps     []Step
	Artifacts []Artifact
	Events    []Event
}

// Store wraps the SQLite database holding run history.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the run database at path and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection avoids
	// SQLITE_BUSY under concurrent method calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure run database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create run database schema: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close run database: %w", err)
	}
	return nil
}

// CreateRun inserts a new run row with status running.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	configJSON, err := marshalMap(run.Config)
	if err != nil {
		return fmt.Errorf("failed to encode run config: %w", err)
	}

	status := run.Status
	if status == "" {
		status = StatusRunning
	}
	startedAt := run.StartedAt
	if startedAt.IsZero() {
		startedAt = s.now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, status, target_path, prompt, input_docs, started_at, config_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, status, run.TargetPath, run.Prompt, run.InputDocs, formatTime(startedAt), configJSON)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.RunID, err)
	}
	return nil
}

// CompleteRun marks a run terminal with its final status, package path
// and error text.
func (s *Store) CompleteRun(ctx context.Context, runID, status, packagePath, errText string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, package_path = ?, error = ? WHERE run_id = ?`,
		status, formatTime(s.now()), nullable(packagePath), nullable(errText), runID)
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", runID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", runID, err)
	}
	if affected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// StartStep inserts a running step for an agent and returns its ID.
func (s *Store) StartStep(ctx context.Context, runID, agent string, input map[string]any) (int64, error) {
	inputJSON, err := marshalMap(input)
	if err != nil {
		return 0, fmt.Errorf("failed to encode step input: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO steps (run_id, agent, status, started_at, input_json) VALUES (?, ?, ?, ?, ?)`,
		runID, agent, StatusRunning, formatTime(s.now()), inputJSON)
	if err != nil {
		return 0, fmt.Errorf("failed to insert step for agent %s: %w", agent, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read step id for agent %s: %w", agent, err)
	}
	return id, nil
}

// CompleteStep finalizes a step with its status, output payload and
// optional error text.
func (s *Store) CompleteStep(ctx context.Context, stepID int64, status string, output map[string]any, errText string) error {
	outputJSON, err := marshalMap(output)
	if err != nil {
		return fmt.Errorf("failed to encode step output: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE steps SET status = ?, completed_at = ?, output_json = ?, error = ? WHERE id = ?`,
		status, formatTime(s.now()), outputJSON, nullable(errText), stepID)
	if err != nil {
		return fmt.Errorf("failed to complete step %d: %w", stepID, err)
	}
	return nil
}

// SaveArtifact records one agent artifact. The payload may be any
// JSON-encodable value; text artifacts store their content as a string.
func (s *Store) SaveArtifact(ctx context.Context, runID, agent, name, artifactType, path string, payload any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode artifact %s payload: %w", name, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (run_id, agent, name, type, path, payload_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, agent, name, artifactType, path, string(payloadJSON), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("failed to insert artifact %s: %w", name, err)
	}
	return nil
}

// AppendEvent appends one entry to the run audit trail.
func (s *Store) AppendEvent(ctx context.Context, runID, event, message string, payload map[string]any) error {
	payloadJSON, err := marshalMap(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, event, message, payload_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, event, message, payloadJSON, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("failed to append event %s: %w", event, err)
	}
	return nil
}

// GetRun loads a single run row.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, status, target_path, prompt, input_docs, started_at, completed_at, package_path, error, config_json
		 FROM runs WHERE run_id = ?`, runID)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return run, nil
}

// LoadRun loads a run with its steps, artifacts and events in insertion
// order, for reporting.
func (s *Store) LoadRun(ctx context.Context, runID string) (*RunDetail, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	detail := &RunDetail{Run: *run}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, agent, status, started_at, completed_at, input_json, output_json, error
		 FROM steps WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps for run %s: %w", runID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			step                  Step
			completedAt           sql.NullString
			inputJSON, outputJSON string
			errText               sql.NullString
			startedAt             string
		)
		if err := rows.Scan(&step.ID, &step.RunID, &step.Agent, &step.Status, &startedAt, &completedAt, &inputJSON, &outputJSON, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan step for run %s: %w", runID, err)
		}
		if step.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if step.CompletedAt, err = parseNullTime(completedAt); err != nil {
			return nil, err
		}
		if step.Input, err = unmarshalMap(inputJSON); err != nil {
			return nil, err
		}
		if step.Output, err = unmarshalMap(outputJSON); err != nil {
			return nil, err
		}
		step.Error = errText.String
		detail.Steps = append(detail.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps for run %s: %w", runID, err)
	}

	artifactRows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, agent, name, type, path, payload_json, created_at
		 FROM artifacts WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load artifacts for run %s: %w", runID, err)
	}
	defer artifactRows.Close()
	for artifactRows.Next() {
		var (
			artifact    Artifact
			payloadJSON string
			createdAt   string
		)
		if err := artifactRows.Scan(&artifact.ID, &artifact.RunID, &artifact.Agent, &artifact.Name, &artifact.Type, &artifact.Path, &payloadJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact for run %s: %w", runID, err)
		}
		if artifact.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		artifact.Payload = json.RawMessage(payloadJSON)
		detail.Artifacts = append(detail.Artifacts, artifact)
	}
	if err := artifactRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate artifacts for run %s: %w", runID, err)
	}

	eventRows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, event, message, payload_json, created_at
		 FROM run_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load events for run %s: %w", runID, err)
	}
	defer eventRows.Close()
	for eventRows.Next() {
		var (
			event       Event
			payloadJSON string
			createdAt   string
		)
		if err := eventRows.Scan(&event.ID, &event.RunID, &event.Event, &event.Message, &payloadJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event for run %s: %w", runID, err)
		}
		if event.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if event.Payload, err = unmarshalMap(payloadJSON); err != nil {
			return nil, err
		}
		detail.Events = append(detail.Events, event)
	}
	if err := eventRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events for run %s: %w", runID, err)
	}

	return detail, nil
}

// ListRuns returns up to limit runs, most recently started first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, status, target_path, prompt, input_docs, started_at, completed_at, package_path, error, config_json
		 FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run                               Run
		startedAt                         string
		completedAt, packagePath, errText sql.NullString
		configJSON                        string
	)
	if err := row.Scan(&run.RunID, &run.Status, &run.TargetPath, &run.Prompt, &run.InputDocs, &startedAt, &completedAt, &packagePath, &errText, &configJSON); err != nil {
		return nil, err
	}

	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if run.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	if run.Config, err = unmarshalMap(configJSON); err != nil {
		return nil, err
	}
	run.PackagePath = packagePath.String
	run.Error = errText.String
	return &run, nil
}

func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMap(data string) (map[string]any, error) {
	if data == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("failed to decode stored JSON: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// timeLayout keeps a fixed-width fraction so the stored strings sort in
// time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
