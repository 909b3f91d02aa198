package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"processline/internal/domain"
)

func (r Repo) UpsertDepartmentTx(ctx context.Context, tx *sql.Tx, d domain.Department) error {
	docs, err := encodeList(d.RequiredDocuments)
	if err != nil {
		return err
	}
	name := d.Name
	if name == "" {
		name = d.ID
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO departments(id,name,required_documents) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, required_documents=excluded.required_documents`, d.ID, name, docs)
	return err
}

func (r Repo) GetDepartment(ctx context.Context, id string) (domain.Department, error) {
	return getDepartment(ctx, r.DB, id)
}

func (r Repo) GetDepartmentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Department, error) {
	return getDepartment(ctx, tx, id)
}

func getDepartment(ctx context.Context, q querier, id string) (domain.Department, error) {
	var (
		d    domain.Department
		docs sql.NullString
	)
	err := q.QueryRowContext(ctx, `SELECT id,name,required_documents FROM departments WHERE id=?`, id).Scan(&d.ID, &d.Name, &docs)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.RequiredDocuments, err = decodeList(docs)
	return d, err
}

func (r Repo) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,required_documents FROM departments ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Department
	for rows.Next() {
		var (
			d    domain.Department
			docs sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.Name, &docs); err != nil {
			return nil, err
		}
		if d.RequiredDocuments, err = decodeList(docs); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) UpsertUserTx(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO users(id,name,email,role,department_id) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, email=excluded.email, role=excluded.role, department_id=excluded.department_id`,
		u.ID, nullable(u.Name), nullable(u.Email), u.Role, nullable(u.DepartmentID))
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	var (
		u                 domain.User
		name, email, dept sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,email,role,department_id FROM users WHERE id=?`, id).Scan(&u.ID, &name, &email, &u.Role, &dept)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.Name, u.Email, u.DepartmentID = name.String, email.String, dept.String
	return u, err
}

// DepartmentMembers lists users of a department, restricted to roles when given.
func (r Repo) DepartmentMembers(ctx context.Context, departmentID string, roles []string) ([]domain.User, error) {
	q := `SELECT id,name,email,role,department_id FROM users WHERE department_id=?`
	args := []any{departmentID}
	if len(roles) > 0 {
		q += fmt.Sprintf(" AND role IN (%s)", strings.TrimSuffix(strings.Repeat("?,", len(roles)), ","))
		for _, role := range roles {
			args = append(args, role)
		}
	}
	q += " ORDER BY id"
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var (
			u                 domain.User
			name, email, dept sql.NullString
		)
		if err := rows.Scan(&u.ID, &name, &email, &u.Role, &dept); err != nil {
			return nil, err
		}
		u.Name, u.Email, u.DepartmentID = name.String, email.String, dept.String
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) UpsertCompanyTx(ctx context.Context, tx *sql.Tx, c domain.Company) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO companies(id,name) VALUES (?,?) ON CONFLICT(id) DO UPDATE SET name=excluded.name`, c.ID, c.Name)
	return err
}

func (r Repo) DeleteCompany(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM companies WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CompanyExistsTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM companies WHERE id=?`, id).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
