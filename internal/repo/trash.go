package repo

import (
	"context"
	"database/sql"

	"processline/internal/domain"
)

const trashCols = `id,kind,entity_id,title,schema_version,snapshot,visibility,allowed_roles,allowed_users,department_id,owner_id,deleted_by,deleted_at,expires_at`

func scanTrashItem(s scanner) (domain.TrashItem, error) {
	var (
		t            domain.TrashItem
		roles, users sql.NullString
		dept         sql.NullString
	)
	err := s.Scan(&t.ID, &t.Kind, &t.EntityID, &t.Title, &t.SchemaVersion, &t.Snapshot, &t.Visibility, &roles, &users, &dept,
		&t.OwnerID, &t.DeletedBy, &t.DeletedAt, &t.ExpiresAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.DepartmentID = dept.String
	if t.AllowedRoles, err = decodeList(roles); err != nil {
		return t, err
	}
	t.AllowedUsers, err = decodeList(users)
	return t, err
}

func (r Repo) InsertTrashItemTx(ctx context.Context, tx *sql.Tx, t domain.TrashItem) error {
	roles, err := encodeList(t.AllowedRoles)
	if err != nil {
		return err
	}
	users, err := encodeList(t.AllowedUsers)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO trash_items(`+trashCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Kind, t.EntityID, t.Title, t.SchemaVersion, t.Snapshot, t.Visibility, roles, users, nullable(t.DepartmentID),
		t.OwnerID, t.DeletedBy, t.DeletedAt, t.ExpiresAt)
	return err
}

func (r Repo) GetTrashItem(ctx context.Context, id string) (domain.TrashItem, error) {
	return scanTrashItem(r.DB.QueryRowContext(ctx, `SELECT `+trashCols+` FROM trash_items WHERE id=?`, id))
}

func (r Repo) GetTrashItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.TrashItem, error) {
	return scanTrashItem(tx.QueryRowContext(ctx, `SELECT `+trashCols+` FROM trash_items WHERE id=?`, id))
}

// ListTrash returns every trash item, newest deletion first. Callers filter by visibility.
func (r Repo) ListTrash(ctx context.Context) ([]domain.TrashItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+trashCols+` FROM trash_items ORDER BY deleted_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TrashItem
	for rows.Next() {
		t, err := scanTrashItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) DeleteTrashItemTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM trash_items WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeExpired removes items whose expires_at is strictly before now (RFC3339 UTC).
func (r Repo) PurgeExpired(ctx context.Context, now string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM trash_items WHERE expires_at < ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertProcessAliasTx records that oldID now lives on as newID.
func (r Repo) InsertProcessAliasTx(ctx context.Context, tx *sql.Tx, oldID, newID, at string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO process_aliases(old_id,new_id,created_at) VALUES (?,?,?)
ON CONFLICT(old_id) DO UPDATE SET new_id=excluded.new_id, created_at=excluded.created_at`, oldID, newID, at)
	return err
}

// maxAliasHops bounds the walk over repeated delete/restore cycles.
const maxAliasHops = 32

// ResolveProcessIDTx follows restore aliases from id to the newest process id.
// An id without an alias resolves to itself.
func (r Repo) ResolveProcessIDTx(ctx context.Context, tx *sql.Tx, id string) (string, error) {
	cur := id
	for i := 0; i < maxAliasHops; i++ {
		var next string
		err := tx.QueryRowContext(ctx, `SELECT new_id FROM process_aliases WHERE old_id=?`, cur).Scan(&next)
		if err == sql.ErrNoRows {
			return cur, nil
		}
		if err != nil {
			return "", err
		}
		cur = next
	}
	return cur, nil
}
