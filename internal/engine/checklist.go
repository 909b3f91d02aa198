package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"processline/internal/domain"
	"processline/internal/engine/auth"
	"processline/internal/engine/checklist"
	"processline/internal/events"
	"processline/internal/repo"
)

// SetChecklistEntry signs a department off (or reopens it) on a parallel-mode
// process. Sign-off must follow flow order; it is independent of CurrentIndex.
func (e Engine) SetChecklistEntry(ctx context.Context, processID, departmentID string, completed bool, actor auth.Actor) ([]domain.ChecklistEntry, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProcessTx(ctx, tx, processID)
	if err != nil {
		return nil, notFound(err, "process", processID)
	}
	if !e.Policy.HasDepartmentAuthority(actor, departmentID) {
		_ = tx.Rollback()
		return nil, e.deny(ctx, p, actor, "checklist update")
	}
	if !checklist.Applies(p) {
		return nil, newError(KindInvalidState, "process %s does not use a parallel checklist", p.ID)
	}
	if p.Status == domain.StatusFinished || p.Status == domain.StatusCancelled {
		return nil, newError(KindInvalidState, "process %s is %s", p.ID, p.Status)
	}
	entries, err := e.Repo.ListChecklistTx(ctx, tx, p.ID)
	if err != nil {
		return nil, err
	}
	updated, entry, err := checklist.Apply(entries, departmentID, completed, e.stamp(), actor.ID)
	if err != nil {
		switch {
		case errors.Is(err, checklist.ErrOutOfOrder):
			e.Metrics.RecordChecklistUpdate("out_of_order")
			return nil, newError(KindOutOfOrder, "%s", err.Error())
		case errors.Is(err, checklist.ErrNotFound):
			return nil, newError(KindNotFound, "department %s is not part of process %s", departmentID, p.ID)
		}
		return nil, err
	}
	if err := e.Repo.UpdateChecklistEntryTx(ctx, tx, entry); err != nil {
		return nil, notFound(err, "checklist entry", departmentID)
	}
	p.UpdatedAt = e.stamp()
	version, err := e.Repo.UpdateProcessStateTx(ctx, tx, p)
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			e.Metrics.RecordConflict("checklist update")
		}
		return nil, conflict(err, "checklist update", p.ID)
	}
	p.Version = version
	verb := "completed"
	if !completed {
		verb = "reopened"
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		ProcessID:       p.ID,
		Kind:            events.KindChecklistUpdated,
		Description:     fmt.Sprintf("checklist %s for %s", verb, departmentID),
		ActorID:         actor.ID,
		DepartmentLabel: e.departmentLabel(ctx, tx, departmentID),
		At:              e.now(),
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.Metrics.RecordChecklistUpdate(verb)
	e.logger().Info("checklist updated", zap.String("process_id", p.ID), zap.String("department_id", departmentID), zap.Bool("completed", completed))
	return updated, nil
}

func (e Engine) Checklist(ctx context.Context, processID string) ([]domain.ChecklistEntry, error) {
	if _, err := e.Repo.GetProcess(ctx, processID); err != nil {
		return nil, notFound(err, "process", processID)
	}
	return e.Repo.ListChecklist(ctx, processID)
}
