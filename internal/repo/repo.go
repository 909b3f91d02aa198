package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"processline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional update finds a newer version.
	ErrConflict = errors.New("version conflict")
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// Savepoint runs fn inside a named savepoint of tx. When fn fails only its
// writes are rolled back; the enclosing transaction stays usable.
func Savepoint(ctx context.Context, tx *sql.Tx, name string, fn func() error) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	if err := fn(); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		_, _ = tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
		return err
	}
	_, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

const processCols = `id,title,COALESCE(description,''),flow,current_index,status,priority,progress,parallel_mode,created_by,assignee_id,company_id,version,created_at,updated_at`

func scanProcess(s scanner) (domain.Process, error) {
	var (
		p        domain.Process
		flow     string
		parallel int
		assignee sql.NullString
		company  sql.NullString
	)
	err := s.Scan(&p.ID, &p.Title, &p.Description, &flow, &p.CurrentIndex, &p.Status, &p.Priority, &p.Progress,
		&parallel, &p.CreatedBy, &assignee, &company, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(flow), &p.Flow); err != nil {
		return p, fmt.Errorf("decode flow of %s: %w", p.ID, err)
	}
	p.ParallelMode = parallel != 0
	p.AssigneeID = stringPtr(assignee)
	p.CompanyID = stringPtr(company)
	return p, nil
}

func (r Repo) InsertProcessTx(ctx context.Context, tx *sql.Tx, p domain.Process) error {
	flow, err := json.Marshal(p.Flow)
	if err != nil {
		return err
	}
	if p.Version == 0 {
		p.Version = 1
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO processes(id,title,description,flow,current_index,status,priority,progress,parallel_mode,created_by,assignee_id,company_id,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Title, nullable(p.Description), string(flow), p.CurrentIndex, p.Status, p.Priority, p.Progress,
		boolInt(p.ParallelMode), p.CreatedBy, nullableStringPtr(p.AssigneeID), nullableStringPtr(p.CompanyID), p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert process: %w", err)
	}
	return nil
}

func (r Repo) GetProcess(ctx context.Context, id string) (domain.Process, error) {
	return getProcess(ctx, r.DB, id)
}

func (r Repo) GetProcessTx(ctx context.Context, tx *sql.Tx, id string) (domain.Process, error) {
	return getProcess(ctx, tx, id)
}

func getProcess(ctx context.Context, q querier, id string) (domain.Process, error) {
	return scanProcess(q.QueryRowContext(ctx, `SELECT `+processCols+` FROM processes WHERE id=?`, id))
}

type ProcessFilters struct {
	Status       string
	DepartmentID string
	Limit        int
}

func (r Repo) ListProcesses(ctx context.Context, f ProcessFilters) ([]domain.Process, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status=?")
		args = append(args, f.Status)
	}
	q := `SELECT ` + processCols + ` FROM processes`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, err
		}
		if f.DepartmentID != "" && p.CurrentDepartment() != f.DepartmentID {
			continue
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProcessStateTx writes the mutable state of p when the stored version
// still equals p.Version and returns the incremented version.
func (r Repo) UpdateProcessStateTx(ctx context.Context, tx *sql.Tx, p domain.Process) (int, error) {
	res, err := tx.ExecContext(ctx, `UPDATE processes SET current_index=?, status=?, progress=?, updated_at=?, version=version+1 WHERE id=? AND version=?`,
		p.CurrentIndex, p.Status, p.Progress, p.UpdatedAt, p.ID, p.Version)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		if _, err := getProcess(ctx, tx, p.ID); err != nil {
			return 0, err
		}
		return 0, ErrConflict
	}
	return p.Version + 1, nil
}

func (r Repo) DeleteProcessTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM processes WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid || v.String == "" {
		return nil
	}
	s := v.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeList(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeList(v sql.NullString) ([]string, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}
