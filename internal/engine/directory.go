package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// SyncDirectory upserts the departments, users and companies declared in the
// config. Rows that are no longer declared are left in place.
func (e Engine) SyncDirectory(ctx context.Context) error {
	dir := e.config().Directory
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, d := range dir.Departments {
		if err := e.Repo.UpsertDepartmentTx(ctx, tx, d); err != nil {
			return fmt.Errorf("department %s: %w", d.ID, err)
		}
	}
	for _, u := range dir.Users {
		if err := e.Repo.UpsertUserTx(ctx, tx, u); err != nil {
			return fmt.Errorf("user %s: %w", u.ID, err)
		}
	}
	for _, c := range dir.Companies {
		if err := e.Repo.UpsertCompanyTx(ctx, tx, c); err != nil {
			return fmt.Errorf("company %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.logger().Debug("directory synced",
		zap.Int("departments", len(dir.Departments)), zap.Int("users", len(dir.Users)), zap.Int("companies", len(dir.Companies)))
	return nil
}
