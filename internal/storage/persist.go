package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/kanri/internal/model"
	"github.com/ashita-ai/kanri/internal/store"
)

var _ store.Persister = (*DB)(nil)

// Document tables. Names are constants, never caller input.
const (
	tableAlerts    = "alerts"
	tablePatches   = "patches"
	tableTasks     = "tasks"
	tableAgents    = "agents"
	tableWorkflows = "workflows"
	tablePolicies  = "patch_policies"
)

// upsertDoc writes one entity document. position is only assigned on first
// insert so reloads keep creation order.
func (db *DB) upsertDoc(ctx context.Context, table, id, status string, v any) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: marshal %s %s: %w", table, id, err)
	}
	query := `INSERT INTO ` + table + ` (id, status, doc) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, doc = EXCLUDED.doc, updated_at = now()`
	err = db.retry(ctx, func() error {
		_, err := db.pool.Exec(ctx, query, id, status, doc)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: save %s %s: %w", table, id, err)
	}
	return nil
}

// SaveAlert implements store.Persister.
func (db *DB) SaveAlert(ctx context.Context, a model.Alert) error {
	return db.upsertDoc(ctx, tableAlerts, a.ID, string(a.Status), a)
}

// SavePatch implements store.Persister.
func (db *DB) SavePatch(ctx context.Context, p model.Patch) error {
	return db.upsertDoc(ctx, tablePatches, p.ID, string(p.Status), p)
}

// SaveTask implements store.Persister.
func (db *DB) SaveTask(ctx context.Context, t model.RoutineTask) error {
	return db.upsertDoc(ctx, tableTasks, t.ID, string(t.Status), t)
}

// SaveAgent implements store.Persister.
func (db *DB) SaveAgent(ctx context.Context, a model.Agent) error {
	return db.upsertDoc(ctx, tableAgents, a.ID, string(a.Status), a)
}

// SaveWorkflow implements store.Persister.
func (db *DB) SaveWorkflow(ctx context.Context, w model.Workflow) error {
	return db.upsertDoc(ctx, tableWorkflows, w.ID, strconv.FormatBool(w.Enabled), w)
}

// SavePolicy implements store.Persister.
func (db *DB) SavePolicy(ctx context.Context, p model.PatchPolicy) error {
	return db.upsertDoc(ctx, tablePolicies, p.ID, strconv.FormatBool(p.AutoDeployment), p)
}

// AppendActivity implements store.Persister.
func (db *DB) AppendActivity(ctx context.Context, a model.AutomationActivity) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("storage: marshal activity %s: %w", a.ID, err)
	}
	err = db.retry(ctx, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO automation_activities (id, seq, entity_kind, entity_id, agent_id, outcome, occurred_at, doc)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			a.ID, a.Sequence, string(a.Entity.Kind), a.Entity.ID, a.AgentID, string(a.Outcome), a.Timestamp, doc,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: append activity %s: %w", a.ID, err)
	}
	return nil
}

// InsertRootCause implements store.Persister. The alert_id primary key
// turns a second insert into model.ErrAlreadyAnalyzed.
func (db *DB) InsertRootCause(ctx context.Context, r model.RootCauseAnalysis) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("storage: marshal root cause %s: %w", r.AlertID, err)
	}
	err = db.retry(ctx, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO root_cause_analyses (alert_id, id, created_at, doc) VALUES ($1, $2, $3, $4)`,
			r.AlertID, r.ID, r.Timestamp, doc,
		)
		return err
	})
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("storage: root cause for alert %s: %w", r.AlertID, model.ErrAlreadyAnalyzed)
	case err != nil:
		return fmt.Errorf("storage: insert root cause %s: %w", r.AlertID, err)
	}
	return nil
}

// SaveMetricsSnapshot implements store.Persister.
func (db *DB) SaveMetricsSnapshot(ctx context.Context, s model.MetricsSnapshot) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("storage: marshal metrics snapshot %d: %w", s.Version, err)
	}
	err = db.retry(ctx, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO metrics_snapshots (version, taken_at, doc) VALUES ($1, $2, $3)`,
			s.Version, s.TakenAt, doc,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: save metrics snapshot %d: %w", s.Version, err)
	}
	return nil
}

// Load implements store.Persister. All reads share one REPEATABLE READ
// transaction so the snapshot is consistent.
func (db *DB) Load(ctx context.Context) (store.Snapshot, error) {
	var snap store.Snapshot
	err := pgx.BeginTxFunc(ctx, db.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var err error
		if snap.Alerts, err = loadDocs[model.Alert](ctx, tx, `SELECT doc FROM alerts ORDER BY position`); err != nil {
			return err
		}
		if snap.Patches, err = loadDocs[model.Patch](ctx, tx, `SELECT doc FROM patches ORDER BY position`); err != nil {
			return err
		}
		if snap.Tasks, err = loadDocs[model.RoutineTask](ctx, tx, `SELECT doc FROM tasks ORDER BY position`); err != nil {
			return err
		}
		if snap.Agents, err = loadDocs[model.Agent](ctx, tx, `SELECT doc FROM agents ORDER BY position`); err != nil {
			return err
		}
		if snap.Workflows, err = loadDocs[model.Workflow](ctx, tx, `SELECT doc FROM workflows ORDER BY position`); err != nil {
			return err
		}
		if snap.Policies, err = loadDocs[model.PatchPolicy](ctx, tx, `SELECT doc FROM patch_policies ORDER BY position`); err != nil {
			return err
		}
		if snap.Activities, err = loadDocs[model.AutomationActivity](ctx, tx, `SELECT doc FROM automation_activities ORDER BY seq`); err != nil {
			return err
		}
		if snap.RootCauses, err = loadDocs[model.RootCauseAnalysis](ctx, tx, `SELECT doc FROM root_cause_analyses ORDER BY created_at, alert_id`); err != nil {
			return err
		}
		snap.MetricsSnapshots, err = loadDocs[model.MetricsSnapshot](ctx, tx, `SELECT doc FROM metrics_snapshots ORDER BY version`)
		return err
	})
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("storage: load: %w", err)
	}
	db.logger.Info("storage: state loaded",
		"alerts", len(snap.Alerts),
		"patches", len(snap.Patches),
		"tasks", len(snap.Tasks),
		"agents", len(snap.Agents),
		"workflows", len(snap.Workflows),
		"activities", len(snap.Activities),
	)
	return snap, nil
}

func loadDocs[T any](ctx context.Context, tx pgx.Tx, query string) ([]T, error) {
	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (T, error) {
		var (
			raw []byte
			v   T
		)
		if err := row.Scan(&raw); err != nil {
			return v, err
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return v, fmt.Errorf("decode document: %w", err)
		}
		return v, nil
	})
}
