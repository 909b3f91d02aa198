package repo

import (
	"context"
	"database/sql"

	"processline/internal/domain"
)

func (r Repo) InsertStageTx(ctx context.Context, tx *sql.Tx, s domain.Stage) error {
	docs, err := encodeList(s.RequiredDocuments)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO stages(id,process_id,department_id,required_documents) VALUES (?,?,?,?)`,
		s.ID, s.ProcessID, s.DepartmentID, docs)
	return err
}

// InsertFieldTx stores a field. The condition is written as given; callers
// that remap ids set it afterwards with UpdateFieldConditionTx.
func (r Repo) InsertFieldTx(ctx context.Context, tx *sql.Tx, f domain.Field) error {
	opts, err := encodeList(f.Options)
	if err != nil {
		return err
	}
	var condField, condOp, condValue any
	if f.Condition != nil {
		condField, condOp, condValue = f.Condition.FieldID, f.Condition.Operator, f.Condition.Value
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO fields(id,stage_id,position,label,kind,required,options,cond_field_id,cond_operator,cond_value) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		f.ID, f.StageID, f.Position, f.Label, f.Kind, boolInt(f.Required), opts, condField, condOp, condValue)
	return err
}

func (r Repo) UpdateFieldConditionTx(ctx context.Context, tx *sql.Tx, fieldID string, c *domain.Condition) error {
	var condField, condOp, condValue any
	if c != nil {
		condField, condOp, condValue = c.FieldID, c.Operator, c.Value
	}
	res, err := tx.ExecContext(ctx, `UPDATE fields SET cond_field_id=?, cond_operator=?, cond_value=? WHERE id=?`, condField, condOp, condValue, fieldID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListStages(ctx context.Context, processID string) ([]domain.Stage, error) {
	return listStages(ctx, r.DB, processID)
}

func (r Repo) ListStagesTx(ctx context.Context, tx *sql.Tx, processID string) ([]domain.Stage, error) {
	return listStages(ctx, tx, processID)
}

func listStages(ctx context.Context, q querier, processID string) ([]domain.Stage, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,process_id,department_id,required_documents FROM stages WHERE process_id=? ORDER BY rowid`, processID)
	if err != nil {
		return nil, err
	}
	var stages []domain.Stage
	for rows.Next() {
		var (
			s    domain.Stage
			docs sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.ProcessID, &s.DepartmentID, &docs); err != nil {
			rows.Close()
			return nil, err
		}
		if s.RequiredDocuments, err = decodeList(docs); err != nil {
			rows.Close()
			return nil, err
		}
		stages = append(stages, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range stages {
		fields, err := listFields(ctx, q, stages[i].ID)
		if err != nil {
			return nil, err
		}
		stages[i].Fields = fields
	}
	return stages, nil
}

// StageForDepartmentTx returns the stage of processID scoped to departmentID.
func (r Repo) StageForDepartmentTx(ctx context.Context, tx *sql.Tx, processID, departmentID string) (domain.Stage, error) {
	var (
		s    domain.Stage
		docs sql.NullString
	)
	err := tx.QueryRowContext(ctx, `SELECT id,process_id,department_id,required_documents FROM stages WHERE process_id=? AND department_id=?`,
		processID, departmentID).Scan(&s.ID, &s.ProcessID, &s.DepartmentID, &docs)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if s.RequiredDocuments, err = decodeList(docs); err != nil {
		return s, err
	}
	s.Fields, err = listFields(ctx, tx, s.ID)
	return s, err
}

func listFields(ctx context.Context, q querier, stageID string) ([]domain.Field, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,stage_id,position,label,kind,required,options,cond_field_id,cond_operator,cond_value FROM fields WHERE stage_id=? ORDER BY position, id`, stageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Field
	for rows.Next() {
		var (
			f                         domain.Field
			required                  int
			opts                      sql.NullString
			condField, condOp, condVa sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.StageID, &f.Position, &f.Label, &f.Kind, &required, &opts, &condField, &condOp, &condVa); err != nil {
			return nil, err
		}
		f.Required = required != 0
		if f.Options, err = decodeList(opts); err != nil {
			return nil, err
		}
		if condField.Valid && condField.String != "" {
			f.Condition = &domain.Condition{FieldID: condField.String, Operator: condOp.String, Value: condVa.String}
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// UpsertAnswerTx writes the single answer of a (process, field) pair.
func (r Repo) UpsertAnswerTx(ctx context.Context, tx *sql.Tx, a domain.Answer) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO answers(id,process_id,field_id,value,updated_by,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(process_id, field_id) DO UPDATE SET value=excluded.value, updated_by=excluded.updated_by, updated_at=excluded.updated_at`,
		a.ID, a.ProcessID, a.FieldID, a.Value, a.UpdatedBy, a.UpdatedAt)
	return err
}

func (r Repo) ListAnswers(ctx context.Context, processID string) ([]domain.Answer, error) {
	return listAnswers(ctx, r.DB, processID)
}

func (r Repo) ListAnswersTx(ctx context.Context, tx *sql.Tx, processID string) ([]domain.Answer, error) {
	return listAnswers(ctx, tx, processID)
}

func listAnswers(ctx context.Context, q querier, processID string) ([]domain.Answer, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,process_id,field_id,value,updated_by,updated_at FROM answers WHERE process_id=? ORDER BY updated_at, id`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Answer
	for rows.Next() {
		var a domain.Answer
		if err := rows.Scan(&a.ID, &a.ProcessID, &a.FieldID, &a.Value, &a.UpdatedBy, &a.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
