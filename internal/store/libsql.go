package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/mtaflow/internal/process"
	"github.com/rendis/mtaflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Processes ---

const processColumns = `id, flow, descriptor_id, status, current_step, last_status, error, created_at, updated_at, completed_at`

func (s *LibSQLStore) CreateProcess(ctx context.Context, p *Process) error {
	if p.Status == "" {
		p.Status = schema.ProcessStatusPending
	}
	p.CreatedAt = timeOrNow(p.CreatedAt)
	p.UpdatedAt = timeOrNow(p.UpdatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processes (`+processColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Flow, nullStr(p.DescriptorID), string(p.Status), nullStr(p.CurrentStep),
		nullStr(string(p.LastStatus)), nullStr(p.Error), p.CreatedAt, p.UpdatedAt, nullTime(p.CompletedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return schema.NewErrorf(schema.ErrCodeConflict, "process %q already exists", p.ID).WithCause(err)
	}
	return err
}

func (s *LibSQLStore) GetProcess(ctx context.Context, id string) (*Process, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+processColumns+` FROM processes WHERE id = ?`, id)
	p, err := scanProcess(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("process", id)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *LibSQLStore) UpdateProcess(ctx context.Context, id string, update ProcessUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.CurrentStep != nil {
		sets = append(sets, "current_step = ?")
		args = append(args, nullStr(*update.CurrentStep))
	}
	if update.LastStatus != nil {
		sets = append(sets, "last_status = ?")
		args = append(args, nullStr(string(*update.LastStatus)))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE processes SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "process", id)
}

func (s *LibSQLStore) ListProcesses(ctx context.Context, filter ProcessFilter) ([]*Process, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Flow != "" {
		where = append(where, "flow = ?")
		args = append(args, filter.Flow)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := "SELECT " + processColumns + " FROM processes"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProcess(r rowScanner) (*Process, error) {
	p := &Process{}
	var (
		descriptorID, currentStep, lastStatus, errMsg sql.NullString
		status                                        string
		completedAt                                   sql.NullTime
	)
	if err := r.Scan(&p.ID, &p.Flow, &descriptorID, &status, &currentStep, &lastStatus, &errMsg,
		&p.CreatedAt, &p.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	p.DescriptorID = descriptorID.String
	p.Status = schema.ProcessStatus(status)
	p.CurrentStep = currentStep.String
	p.LastStatus = schema.ExecutionStatus(lastStatus.String)
	p.Error = errMsg.String
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	return p, nil
}

// --- Variables ---

// GetVariable returns nil, nil when the variable is unset.
func (s *LibSQLStore) GetVariable(ctx context.Context, processID, name string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM variables WHERE process_id = ? AND name = ?`, processID, name,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get variable %q: %w", name, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (s *LibSQLStore) SetVariable(ctx context.Context, processID, name string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO variables (process_id, name, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(process_id, name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		processID, name, value,
	)
	if err != nil {
		return fmt.Errorf("set variable %q: %w", name, err)
	}
	return nil
}

func (s *LibSQLStore) DeleteVariable(ctx context.Context, processID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM variables WHERE process_id = ? AND name = ?`, processID, name)
	if err != nil {
		return fmt.Errorf("delete variable %q: %w", name, err)
	}
	return nil
}

func (s *LibSQLStore) ListVariableNames(ctx context.Context, processID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM variables WHERE process_id = ? ORDER BY name`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// --- Diagnostics ---

// AddOrUpdate upserts one diagnostics entry for a process.
func (s *LibSQLStore) AddOrUpdate(ctx context.Context, processID, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO process_extensions (process_id, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(process_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		processID, key, value,
	)
	if err != nil {
		return fmt.Errorf("upsert diagnostic %q: %w", key, err)
	}
	return nil
}

func (s *LibSQLStore) GetDiagnostics(ctx context.Context, processID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM process_extensions WHERE process_id = ?`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// --- Progress messages ---

func (s *LibSQLStore) AddProgressMessage(ctx context.Context, msg process.ProgressMessage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO progress_messages (process_id, step, type, text, timestamp) VALUES (?, ?, ?, ?, ?)`,
		msg.ProcessID, nullStr(msg.Step), string(msg.Type), msg.Text, timeOrNow(msg.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert progress message: %w", err)
	}
	return nil
}

// ListProgressMessages returns messages with id > afterID in insertion order.
func (s *LibSQLStore) ListProgressMessages(ctx context.Context, processID string, afterID int64) ([]ProgressRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, process_id, step, type, text, timestamp FROM progress_messages
		 WHERE process_id = ? AND id > ? ORDER BY id ASC`, processID, afterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProgressRecord
	for rows.Next() {
		var rec ProgressRecord
		var step sql.NullString
		var typ string
		if err := rows.Scan(&rec.ID, &rec.ProcessID, &step, &typ, &rec.Text, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.Step = step.String
		rec.Type = schema.ProgressMessageType(typ)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// insertEvent assigns the next per-process sequence and inserts event.
func insertEvent(ctx context.Context, tx *sql.Tx, event *Event) error {
	var seq int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE process_id = ?`, event.ProcessID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (process_id, step, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ProcessID, nullStr(event.Step), event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, processID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, process_id, step, event_type, payload, timestamp, sequence
		 FROM events WHERE process_id = ? AND sequence > ? ORDER BY sequence ASC`,
		processID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	where := []string{"event_type = ?"}
	args := []any{eventType}

	if filter.ProcessID != "" {
		where = append(where, "process_id = ?")
		args = append(args, filter.ProcessID)
	}
	if filter.Step != "" {
		where = append(where, "step = ?")
		args = append(args, filter.Step)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, process_id, step, event_type, payload, timestamp, sequence FROM events WHERE ` +
		strings.Join(where, " AND ") + " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var step, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.ProcessID, &step, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.Step = step.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.StepError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
