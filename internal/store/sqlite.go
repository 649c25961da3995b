package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/giantswarm/prompt-testing/internal/testsuite"
)

// timeLayout sorts lexically in chronological order for UTC values.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS executions (
    id TEXT PRIMARY KEY,
    prompt_name TEXT NOT NULL,
    test_case_id TEXT NOT NULL,
    test_case_name TEXT NOT NULL,
    model TEXT NOT NULL,
    judge_model TEXT NOT NULL,
    status TEXT NOT NULL,
    started_at TEXT NOT NULL,
    completed_at TEXT NULL,
    error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_executions_test_case ON executions (test_case_id, started_at);

CREATE TABLE IF NOT EXISTS step_results (
    execution_id TEXT NOT NULL,
    step_order INTEGER NOT NULL,
    user_input TEXT NOT NULL,
    rendered_prompt TEXT NOT NULL,
    actual_response TEXT NOT NULL,
    passed INTEGER NOT NULL,
    score INTEGER NOT NULL,
    feedback TEXT NOT NULL,
    tool_executions TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (execution_id, step_order)
);
`

// SQLite persists executions in a SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:"
// gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// A single connection serialises writers and keeps :memory: databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) CreateExecution(ctx context.Context, exec *testsuite.Execution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (id, prompt_name, test_case_id, test_case_name, model, judge_model, status, started_at, completed_at, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.PromptName, exec.TestCaseID, exec.TestCaseName, exec.Model, exec.JudgeModel,
		string(exec.Status), formatTime(exec.StartedAt), formatTimePtr(exec.CompletedAt), exec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution %s: %w", exec.ID, err)
	}
	return nil
}

func (s *SQLite) AppendStepResult(ctx context.Context, executionID string, result testsuite.StepResult) error {
	tools, err := json.Marshal(result.ToolExecutions)
	if err != nil {
		return fmt.Errorf("failed to encode tool executions: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO step_results (execution_id, step_order, user_input, rendered_prompt, actual_response, passed, score, feedback, tool_executions, created_at)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM executions WHERE id = ?)`,
		executionID, result.StepOrder, result.UserInput, result.RenderedPrompt, result.ActualResponse,
		result.Evaluation.Passed, result.Evaluation.Score, result.Evaluation.Feedback,
		string(tools), formatTime(result.CreatedAt),
		executionID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert step %d of %s: %w", result.StepOrder, executionID, err)
	}
	return requireRow(res, executionID)
}

func (s *SQLite) CompleteExecution(ctx context.Context, executionID string, status testsuite.Status, errorMessage string, completedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		string(status), errorMessage, formatTime(completedAt), executionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", executionID, err)
	}
	return requireRow(res, executionID)
}

const selectExecution = `SELECT id, prompt_name, test_case_id, test_case_name, model, judge_model, status, started_at, completed_at, error_message FROM executions`

func (s *SQLite) GetExecution(ctx context.Context, id string) (*testsuite.Execution, error) {
	row := s.db.QueryRowContext(ctx, selectExecution+` WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read execution %s: %w", id, err)
	}
	if exec.Results, err = s.results(ctx, id); err != nil {
		return nil, err
	}
	return &exec, nil
}

func (s *SQLite) ListExecutions(ctx context.Context, testCaseID string) ([]testsuite.Execution, error) {
	query := selectExecution
	var args []any
	if testCaseID != "" {
		query += ` WHERE test_case_id = ?`
		args = append(args, testCaseID)
	}
	query += ` ORDER BY started_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	executions := []testsuite.Execution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	// Results are loaded after the cursor is released: the pool has a
	// single connection.
	_ = rows.Close()

	for i := range executions {
		if executions[i].Results, err = s.results(ctx, executions[i].ID); err != nil {
			return nil, err
		}
	}
	return executions, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) results(ctx context.Context, executionID string) ([]testsuite.StepResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step_order, user_input, rendered_prompt, actual_response, passed, score, feedback, tool_executions, created_at
		 FROM step_results WHERE execution_id = ? ORDER BY step_order ASC`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read steps of %s: %w", executionID, err)
	}
	defer rows.Close()

	results := []testsuite.StepResult{}
	for rows.Next() {
		var (
			r         testsuite.StepResult
			tools     string
			createdAt string
		)
		if err := rows.Scan(&r.StepOrder, &r.UserInput, &r.RenderedPrompt, &r.ActualResponse,
			&r.Evaluation.Passed, &r.Evaluation.Score, &r.Evaluation.Feedback, &tools, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan step of %s: %w", executionID, err)
		}
		if err := json.Unmarshal([]byte(tools), &r.ToolExecutions); err != nil {
			return nil, fmt.Errorf("failed to decode tool executions of %s: %w", executionID, err)
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(sc scanner) (testsuite.Execution, error) {
	var (
		exec        testsuite.Execution
		status      string
		startedAt   string
		completedAt sql.NullString
	)
	if err := sc.Scan(&exec.ID, &exec.PromptName, &exec.TestCaseID, &exec.TestCaseName,
		&exec.Model, &exec.JudgeModel, &status, &startedAt, &completedAt, &exec.ErrorMessage); err != nil {
		return exec, err
	}
	exec.Status = testsuite.Status(status)

	var err error
	if exec.StartedAt, err = parseTime(startedAt); err != nil {
		return exec, err
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return exec, err
		}
		exec.CompletedAt = &t
	}
	return exec, nil
}

func requireRow(res sql.Result, executionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if n == 0 {
		return notFound(executionID)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
