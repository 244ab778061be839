// Package sqlite is the embedded, single-file alternative to the Postgres
// persister. It stores the same JSON documents in a local SQLite database
// through the pure-Go modernc driver, for single-node installs and demos.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/store"
)

var _ store.Persister = (*DB)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	position   INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	id         TEXT NOT NULL,
	status     TEXT NOT NULL,
	doc        TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE (kind, id)
);
CREATE TABLE IF NOT EXISTS automation_activities (
	seq         INTEGER PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	entity_kind TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	occurred_at TEXT NOT NULL,
	doc         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS automation_activities_entity_idx ON automation_activities (entity_kind, entity_id);
CREATE TABLE IF NOT EXISTS root_cause_analyses (
	alert_id   TEXT PRIMARY KEY,
	position   INTEGER NOT NULL,
	doc        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS metrics_snapshots (
	version  INTEGER PRIMARY KEY,
	taken_at TEXT NOT NULL,
	doc      TEXT NOT NULL
);
`

// Document kinds in the documents table.
const (
	kindAlert    = "alert"
	kindPatch    = "patch"
	kindTask     = "task"
	kindAgent    = "agent"
	kindWorkflow = "workflow"
	kindPolicy   = "policy"
)

// DB is a store.Persister backed by a SQLite file.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the database at path and applies the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
	}
	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(10000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// One writer; also keeps a :memory: database on a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &DB{db: db, logger: logger}, nil
}

// Ping checks the database is reachable.
func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

func (d *DB) upsert(ctx context.Context, kind, id, status string, v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sqlite: marshal %s %s: %w", kind, id, err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO documents (kind, id, status, doc, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (kind, id) DO UPDATE SET status = excluded.status, doc = excluded.doc, updated_at = excluded.updated_at`,
		kind, id, status, string(doc), stamp(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save %s %s: %w", kind, id, err)
	}
	return nil
}

// SaveAlert implements store.Persister.
func (d *DB) SaveAlert(ctx context.Context, a model.Alert) error {
	return d.upsert(ctx, kindAlert, a.ID, string(a.Status), a)
}

// SavePatch implements store.Persister.
func (d *DB) SavePatch(ctx context.Context, p model.Patch) error {
	return d.upsert(ctx, kindPatch, p.ID, string(p.Status), p)
}

// SaveTask implements store.Persister.
func (d *DB) SaveTask(ctx context.Context, t model.RoutineTask) error {
	return d.upsert(ctx, kindTask, t.ID, string(t.Status), t)
}

// SaveAgent implements store.Persister.
func (d *DB) SaveAgent(ctx context.Context, a model.Agent) error {
	return d.upsert(ctx, kindAgent, a.ID, string(a.Status), a)
}

// SaveWorkflow implements store.Persister.
func (d *DB) SaveWorkflow(ctx context.Context, w model.Workflow) error {
	return d.upsert(ctx, kindWorkflow, w.ID, strconv.FormatBool(w.Enabled), w)
}

// SavePolicy implements store.Persister.
func (d *DB) SavePolicy(ctx context.Context, p model.PatchPolicy) error {
	return d.upsert(ctx, kindPolicy, p.ID, strconv.FormatBool(p.AutoDeployment), p)
}

// AppendActivity implements store.Persister.
func (d *DB) AppendActivity(ctx context.Context, a model.AutomationActivity) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("sqlite: marshal activity %s: %w", a.ID, err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO automation_activities (seq, id, entity_kind, entity_id, occurred_at, doc) VALUES (?, ?, ?, ?, ?, ?)`,
		a.Sequence, a.ID, string(a.Entity.Kind), a.Entity.ID, stamp(a.Timestamp), string(doc),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append activity %s: %w", a.ID, err)
	}
	return nil
}

// InsertRootCause implements store.Persister.
func (d *DB) InsertRootCause(ctx context.Context, r model.RootCauseAnalysis) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("sqlite: marshal root cause %s: %w", r.AlertID, err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO root_cause_analyses (alert_id, position, doc)
		 VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM root_cause_analyses), ?)`,
		r.AlertID, string(doc),
	)
	switch {
	case isConstraint(err):
		return fmt.Errorf("sqlite: root cause for alert %s: %w", r.AlertID, model.ErrAlreadyAnalyzed)
	case err != nil:
		return fmt.Errorf("sqlite: insert root cause %s: %w", r.AlertID, err)
	}
	return nil
}

// SaveMetricsSnapshot implements store.Persister.
func (d *DB) SaveMetricsSnapshot(ctx context.Context, s model.MetricsSnapshot) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("sqlite: marshal metrics snapshot %d: %w", s.Version, err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO metrics_snapshots (version, taken_at, doc) VALUES (?, ?, ?)`,
		s.Version, stamp(s.TakenAt), string(doc),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save metrics snapshot %d: %w", s.Version, err)
	}
	return nil
}

// Load implements store.Persister.
func (d *DB) Load(ctx context.Context) (store.Snapshot, error) {
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("sqlite: load: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const byKind = `SELECT doc FROM documents WHERE kind = ? ORDER BY position`
	var snap store.Snapshot
	if snap.Alerts, err = loadDocs[model.Alert](ctx, tx, byKind, kindAlert); err != nil {
		return store.Snapshot{}, err
	}
	if snap.Patches, err = loadDocs[model.Patch](ctx, tx, byKind, kindPatch); err != nil {
		return store.Snapshot{}, err
	}
	if snap.Tasks, err = loadDocs[model.RoutineTask](ctx, tx, byKind, kindTask); err != nil {
		return store.Snapshot{}, err
	}
	if snap.Agents, err = loadDocs[model.Agent](ctx, tx, byKind, kindAgent); err != nil {
		return store.Snapshot{}, err
	}
	if snap.Workflows, err = loadDocs[model.Workflow](ctx, tx, byKind, kindWorkflow); err != nil {
		return store.Snapshot{}, err
	}
	if snap.Policies, err = loadDocs[model.PatchPolicy](ctx, tx, byKind, kindPolicy); err != nil {
		return store.Snapshot{}, err
	}
	if snap.Activities, err = loadDocs[model.AutomationActivity](ctx, tx, `SELECT doc FROM automation_activities ORDER BY seq`); err != nil {
		return store.Snapshot{}, err
	}
	if snap.RootCauses, err = loadDocs[model.RootCauseAnalysis](ctx, tx, `SELECT doc FROM root_cause_analyses ORDER BY position`); err != nil {
		return store.Snapshot{}, err
	}
	if snap.MetricsSnapshots, err = loadDocs[model.MetricsSnapshot](ctx, tx, `SELECT doc FROM metrics_snapshots ORDER BY version`); err != nil {
		return store.Snapshot{}, err
	}
	d.logger.Info("sqlite: state loaded", "alerts", len(snap.Alerts), "workflows", len(snap.Workflows), "activities", len(snap.Activities))
	return snap, nil
}

func loadDocs[T any](ctx context.Context, tx *sql.Tx, query string, args ...any) ([]T, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []T
	for rows.Next() {
		var (
			raw string
			v   T
		)
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("sqlite: decode document: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	default:
		return false
	}
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
