package repo

import (
	"context"
	"database/sql"
	"fmt"

	"processline/internal/domain"
)

func (r Repo) InsertTransitionTx(ctx context.Context, tx *sql.Tx, t domain.Transition) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO transitions(id,process_id,department_id,entered_at,exited_at) VALUES (?,?,?,?,?)`,
		t.ID, t.ProcessID, t.DepartmentID, t.EnteredAt, nullableStringPtr(t.ExitedAt))
	return err
}

// CloseOpenTransitionsTx stamps exited_at on every open transition of the process.
func (r Repo) CloseOpenTransitionsTx(ctx context.Context, tx *sql.Tx, processID, at string) error {
	_, err := tx.ExecContext(ctx, `UPDATE transitions SET exited_at=? WHERE process_id=? AND exited_at IS NULL`, at, processID)
	return err
}

func (r Repo) ListTransitions(ctx context.Context, processID string) ([]domain.Transition, error) {
	return listTransitions(ctx, r.DB, processID)
}

func (r Repo) ListTransitionsTx(ctx context.Context, tx *sql.Tx, processID string) ([]domain.Transition, error) {
	return listTransitions(ctx, tx, processID)
}

func listTransitions(ctx context.Context, q querier, processID string) ([]domain.Transition, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,process_id,department_id,entered_at,exited_at FROM transitions WHERE process_id=? ORDER BY entered_at, rowid`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Transition
	for rows.Next() {
		var (
			t      domain.Transition
			exited sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.ProcessID, &t.DepartmentID, &t.EnteredAt, &exited); err != nil {
			return nil, err
		}
		t.ExitedAt = stringPtr(exited)
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertChecklistEntryTx(ctx context.Context, tx *sql.Tx, c domain.ChecklistEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO checklist_entries(process_id,department_id,position,completed,completed_at,completed_by) VALUES (?,?,?,?,?,?)`,
		c.ProcessID, c.DepartmentID, c.Position, boolInt(c.Completed), nullableStringPtr(c.CompletedAt), nullableStringPtr(c.CompletedBy))
	return err
}

func (r Repo) UpdateChecklistEntryTx(ctx context.Context, tx *sql.Tx, c domain.ChecklistEntry) error {
	res, err := tx.ExecContext(ctx, `UPDATE checklist_entries SET completed=?, completed_at=?, completed_by=? WHERE process_id=? AND department_id=?`,
		boolInt(c.Completed), nullableStringPtr(c.CompletedAt), nullableStringPtr(c.CompletedBy), c.ProcessID, c.DepartmentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListChecklist(ctx context.Context, processID string) ([]domain.ChecklistEntry, error) {
	return listChecklist(ctx, r.DB, processID)
}

func (r Repo) ListChecklistTx(ctx context.Context, tx *sql.Tx, processID string) ([]domain.ChecklistEntry, error) {
	return listChecklist(ctx, tx, processID)
}

func listChecklist(ctx context.Context, q querier, processID string) ([]domain.ChecklistEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT process_id,department_id,position,completed,completed_at,completed_by FROM checklist_entries WHERE process_id=? ORDER BY position`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChecklistEntry
	for rows.Next() {
		var (
			c         domain.ChecklistEntry
			completed int
			at, by    sql.NullString
		)
		if err := rows.Scan(&c.ProcessID, &c.DepartmentID, &c.Position, &completed, &at, &by); err != nil {
			return nil, err
		}
		c.Completed = completed != 0
		c.CompletedAt, c.CompletedBy = stringPtr(at), stringPtr(by)
		res = append(res, c)
	}
	return res, rows.Err()
}

// InsertHistoryTx copies an event verbatim apart from its id, which is reassigned.
func (r Repo) InsertHistoryTx(ctx context.Context, tx *sql.Tx, h domain.HistoryEvent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO history(process_id,kind,description,actor_id,department_label,created_at) VALUES (?,?,?,?,?,?)`,
		h.ProcessID, h.Kind, h.Description, h.ActorID, nullableStringPtr(h.DepartmentLabel), h.CreatedAt)
	return err
}

const historyCols = `id,process_id,kind,description,actor_id,department_label,created_at`

func scanHistory(rows *sql.Rows) ([]domain.HistoryEvent, error) {
	defer rows.Close()
	var res []domain.HistoryEvent
	for rows.Next() {
		var (
			h     domain.HistoryEvent
			label sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.ProcessID, &h.Kind, &h.Description, &h.ActorID, &label, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.DepartmentLabel = stringPtr(label)
		res = append(res, h)
	}
	return res, rows.Err()
}

// ListHistoryTx returns the events of a process oldest first.
func (r Repo) ListHistoryTx(ctx context.Context, tx *sql.Tx, processID string) ([]domain.HistoryEvent, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+historyCols+` FROM history WHERE process_id=? ORDER BY created_at, id`, processID)
	if err != nil {
		return nil, err
	}
	return scanHistory(rows)
}

// Timeline returns the events of a process newest first.
func (r Repo) Timeline(ctx context.Context, processID string, limit int) ([]domain.HistoryEvent, error) {
	q := `SELECT ` + historyCols + ` FROM history WHERE process_id=? ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.DB.QueryContext(ctx, q, processID)
	if err != nil {
		return nil, err
	}
	return scanHistory(rows)
}

// LatestHistory returns the newest events across all processes, optionally
// filtered by kind.
func (r Repo) LatestHistory(ctx context.Context, limit int, kind string) ([]domain.HistoryEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT ` + historyCols + ` FROM history`
	var args []any
	if kind != "" {
		q += ` WHERE kind=?`
		args = append(args, kind)
	}
	q += fmt.Sprintf(" ORDER BY id DESC LIMIT %d", limit)
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanHistory(rows)
}
