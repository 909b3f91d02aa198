package repo

import (
	"context"
	"database/sql"

	"processline/internal/domain"
)

const documentCols = `id,process_id,field_id,department_id,name,category,storage_key,visibility,allowed_roles,allowed_users,uploaded_by,created_at`

func scanDocument(s scanner) (domain.Document, error) {
	var (
		d                       domain.Document
		fieldID, dept, cat, key sql.NullString
		roles, users            sql.NullString
	)
	err := s.Scan(&d.ID, &d.ProcessID, &fieldID, &dept, &d.Name, &cat, &key, &d.Visibility, &roles, &users, &d.UploadedBy, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.FieldID = stringPtr(fieldID)
	d.DepartmentID = stringPtr(dept)
	d.Category, d.StorageKey = cat.String, key.String
	if d.AllowedRoles, err = decodeList(roles); err != nil {
		return d, err
	}
	d.AllowedUsers, err = decodeList(users)
	return d, err
}

func (r Repo) InsertDocumentTx(ctx context.Context, tx *sql.Tx, d domain.Document) error {
	roles, err := encodeList(d.AllowedRoles)
	if err != nil {
		return err
	}
	users, err := encodeList(d.AllowedUsers)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO documents(`+documentCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.ProcessID, nullableStringPtr(d.FieldID), nullableStringPtr(d.DepartmentID), d.Name, nullable(d.Category), nullable(d.StorageKey),
		d.Visibility, roles, users, d.UploadedBy, d.CreatedAt)
	return err
}

func (r Repo) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	return scanDocument(r.DB.QueryRowContext(ctx, `SELECT `+documentCols+` FROM documents WHERE id=?`, id))
}

func (r Repo) GetDocumentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Document, error) {
	return scanDocument(tx.QueryRowContext(ctx, `SELECT `+documentCols+` FROM documents WHERE id=?`, id))
}

func (r Repo) ListDocuments(ctx context.Context, processID string) ([]domain.Document, error) {
	return listDocuments(ctx, r.DB, processID)
}

func (r Repo) ListDocumentsTx(ctx context.Context, tx *sql.Tx, processID string) ([]domain.Document, error) {
	return listDocuments(ctx, tx, processID)
}

func listDocuments(ctx context.Context, q querier, processID string) ([]domain.Document, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+documentCols+` FROM documents WHERE process_id=? ORDER BY created_at, id`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) DeleteDocumentTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FieldExistsTx reports whether fieldID belongs to a stage of processID.
func (r Repo) FieldExistsTx(ctx context.Context, tx *sql.Tx, processID, fieldID string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM fields f JOIN stages s ON s.id=f.stage_id WHERE s.process_id=? AND f.id=?`, processID, fieldID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) InsertCommentTx(ctx context.Context, tx *sql.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comments(id,process_id,author_id,body,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.ProcessID, c.AuthorID, c.Body, c.CreatedAt)
	return err
}

func (r Repo) ListComments(ctx context.Context, processID string) ([]domain.Comment, error) {
	return listComments(ctx, r.DB, processID)
}

func (r Repo) ListCommentsTx(ctx context.Context, tx *sql.Tx, processID string) ([]domain.Comment, error) {
	return listComments(ctx, tx, processID)
}

func listComments(ctx context.Context, q querier, processID string) ([]domain.Comment, error) {
	rows, err := q.QueryContext(ctx, `SELECT id,process_id,author_id,body,created_at FROM comments WHERE process_id=? ORDER BY created_at, id`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.ID, &c.ProcessID, &c.AuthorID, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
