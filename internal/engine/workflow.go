package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"processline/internal/domain"
	"processline/internal/engine/auth"
	"processline/internal/engine/validate"
	"processline/internal/events"
	"processline/internal/notify"
	"processline/internal/repo"
)

// Advance moves the process to the next department of its flow once the
// current department's requirements are met.
func (e Engine) Advance(ctx context.Context, processID string, actor auth.Actor) (domain.Process, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProcessTx(ctx, tx, processID)
	if err != nil {
		return domain.Process{}, notFound(err, "process", processID)
	}
	from := p.CurrentDepartment()
	if !e.Policy.HasDepartmentAuthority(actor, from) {
		_ = tx.Rollback()
		return domain.Process{}, e.deny(ctx, p, actor, "advance")
	}
	if p.Status != domain.StatusInProgress {
		return domain.Process{}, newError(KindInvalidState, "process %s is %s; only %s processes advance", p.ID, p.Status, domain.StatusInProgress)
	}
	if p.CurrentIndex >= p.LastIndex() {
		return domain.Process{}, newError(KindInvalidState, "process %s is at its last department; finalize instead", p.ID)
	}

	res, verr := e.evaluateStage(ctx, tx, p)
	if verr != nil {
		e.Metrics.RecordValidatorError()
		e.logger().Warn("advancement validator failed; proceeding",
			zap.String("process_id", p.ID), zap.String("department_id", from), zap.Error(verr))
	} else if !res.OK() {
		_ = tx.Rollback()
		return domain.Process{}, e.rejectAdvance(ctx, p, actor, res)
	}

	label := e.departmentLabel(ctx, tx, p.Flow[p.CurrentIndex+1])
	p.CurrentIndex++
	p.Progress = domain.Progress(p.CurrentIndex, len(p.Flow))
	if err := e.commitMove(ctx, tx, &p, actor, "advance", events.Event{
		Kind:            events.KindAdvanced,
		Description:     fmt.Sprintf("advanced from %s to %s", from, p.CurrentDepartment()),
		DepartmentLabel: label,
	}, true); err != nil {
		return domain.Process{}, err
	}
	e.Metrics.RecordTransition(events.KindAdvanced)
	e.logger().Info("process advanced", zap.String("process_id", p.ID), zap.String("from", from), zap.String("to", p.CurrentDepartment()))

	e.dispatch(ctx, notify.Notification{
		Kind:         notify.KindNewAssignment,
		ProcessID:    p.ID,
		ProcessTitle: p.Title,
		DepartmentID: p.CurrentDepartment(),
		Recipients:   notify.Recipients(actor.ID, e.managers(ctx, p.CurrentDepartment()), []string{deref(p.AssigneeID)}),
		ActorID:      actor.ID,
		Message:      fmt.Sprintf("%q is now with %s", p.Title, label),
	})
	return p, nil
}

// Rollback moves the process back one department. Requirements are not checked.
func (e Engine) Rollback(ctx context.Context, processID string, actor auth.Actor) (domain.Process, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProcessTx(ctx, tx, processID)
	if err != nil {
		return domain.Process{}, notFound(err, "process", processID)
	}
	from := p.CurrentDepartment()
	if !e.Policy.HasDepartmentAuthority(actor, from) {
		_ = tx.Rollback()
		return domain.Process{}, e.deny(ctx, p, actor, "rollback")
	}
	if p.Status != domain.StatusInProgress {
		return domain.Process{}, newError(KindInvalidState, "process %s is %s; only %s processes roll back", p.ID, p.Status, domain.StatusInProgress)
	}
	if p.CurrentIndex <= 0 {
		return domain.Process{}, newError(KindInvalidState, "process %s is at its first department", p.ID)
	}

	label := e.departmentLabel(ctx, tx, p.Flow[p.CurrentIndex-1])
	p.CurrentIndex--
	p.Progress = domain.Progress(p.CurrentIndex, len(p.Flow))
	if err := e.commitMove(ctx, tx, &p, actor, "rollback", events.Event{
		Kind:            events.KindRolledBack,
		Description:     fmt.Sprintf("rolled back from %s to %s", from, p.CurrentDepartment()),
		DepartmentLabel: label,
	}, true); err != nil {
		return domain.Process{}, err
	}
	e.Metrics.RecordTransition(events.KindRolledBack)
	e.logger().Info("process rolled back", zap.String("process_id", p.ID), zap.String("from", from), zap.String("to", p.CurrentDepartment()))

	e.dispatch(ctx, notify.Notification{
		Kind:         notify.KindMoved,
		ProcessID:    p.ID,
		ProcessTitle: p.Title,
		DepartmentID: p.CurrentDepartment(),
		Recipients:   notify.Recipients(actor.ID, e.managers(ctx, p.CurrentDepartment())),
		ActorID:      actor.ID,
		Message:      fmt.Sprintf("%q was sent back to %s", p.Title, label),
	})
	return p, nil
}

// Finalize closes a process sitting at the last department of its flow.
func (e Engine) Finalize(ctx context.Context, processID string, actor auth.Actor) (domain.Process, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProcessTx(ctx, tx, processID)
	if err != nil {
		return domain.Process{}, notFound(err, "process", processID)
	}
	if !e.Policy.HasDepartmentAuthority(actor, p.CurrentDepartment()) {
		_ = tx.Rollback()
		return domain.Process{}, e.deny(ctx, p, actor, "finalize")
	}
	if p.Status != domain.StatusInProgress {
		return domain.Process{}, newError(KindInvalidState, "process %s is %s; only %s processes finalize", p.ID, p.Status, domain.StatusInProgress)
	}
	if p.CurrentIndex != p.LastIndex() {
		return domain.Process{}, newError(KindInvalidState, "process %s is not at its last department", p.ID)
	}

	p.Status = domain.StatusFinished
	p.Progress = 100
	if err := e.commitMove(ctx, tx, &p, actor, "finalize", events.Event{
		Kind:            events.KindFinalized,
		Description:     "process finalized",
		DepartmentLabel: e.departmentLabel(ctx, tx, p.CurrentDepartment()),
	}, false); err != nil {
		return domain.Process{}, err
	}
	e.Metrics.RecordTransition(events.KindFinalized)
	e.logger().Info("process finalized", zap.String("process_id", p.ID))

	e.dispatch(ctx, notify.Notification{
		Kind:         notify.KindFinalized,
		ProcessID:    p.ID,
		ProcessTitle: p.Title,
		Recipients:   notify.Recipients(actor.ID, []string{p.CreatedBy}),
		ActorID:      actor.ID,
		Message:      fmt.Sprintf("%q has been finalized", p.Title),
	})
	return p, nil
}

// SetStatus pauses, resumes or cancels a process. FINISHED and CANCELLED are terminal.
func (e Engine) SetStatus(ctx context.Context, processID, status string, actor auth.Actor) (domain.Process, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProcessTx(ctx, tx, processID)
	if err != nil {
		return domain.Process{}, notFound(err, "process", processID)
	}
	if !e.Policy.HasDepartmentAuthority(actor, p.CurrentDepartment()) && actor.ID != p.CreatedBy {
		_ = tx.Rollback()
		return domain.Process{}, e.deny(ctx, p, actor, "status change")
	}
	if err := ensureStatusTransition(p.Status, status); err != nil {
		return domain.Process{}, err
	}
	from := p.Status
	p.Status = status
	if err := e.commitMove(ctx, tx, &p, actor, "status change", events.Event{
		Kind:        events.KindStatusChanged,
		Description: fmt.Sprintf("status changed from %s to %s", from, status),
	}, false); err != nil {
		return domain.Process{}, err
	}
	e.Metrics.RecordTransition(events.KindStatusChanged)
	return p, nil
}

func ensureStatusTransition(from, to string) error {
	switch from {
	case domain.StatusInProgress:
		if to == domain.StatusPaused || to == domain.StatusCancelled {
			return nil
		}
	case domain.StatusPaused:
		if to == domain.StatusInProgress || to == domain.StatusCancelled {
			return nil
		}
	}
	return newError(KindInvalidState, "invalid process status transition %s -> %s", from, to)
}

// commitMove persists the new state of p with a version check, maintains the
// transition log and appends evt. When reopen is set a transition is opened
// for the (new) current department; otherwise open transitions are only
// closed for terminal states.
func (e Engine) commitMove(ctx context.Context, tx *sql.Tx, p *domain.Process, actor auth.Actor, op string, evt events.Event, reopen bool) error {
	now := e.stamp()
	p.UpdatedAt = now
	version, err := e.Repo.UpdateProcessStateTx(ctx, tx, *p)
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			e.Metrics.RecordConflict(op)
		}
		return conflict(err, op, p.ID)
	}
	p.Version = version
	terminal := p.Status == domain.StatusFinished || p.Status == domain.StatusCancelled
	if reopen || terminal {
		if err := e.Repo.CloseOpenTransitionsTx(ctx, tx, p.ID, now); err != nil {
			return fmt.Errorf("close transition: %w", err)
		}
	}
	if reopen {
		if err := e.Repo.InsertTransitionTx(ctx, tx, domain.Transition{
			ID:           uuid.New().String(),
			ProcessID:    p.ID,
			DepartmentID: p.CurrentDepartment(),
			EnteredAt:    now,
		}); err != nil {
			return fmt.Errorf("open transition: %w", err)
		}
	}
	evt.ProcessID = p.ID
	evt.ActorID = actor.ID
	evt.At = e.now()
	if err := e.Events.Append(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit()
}

// evaluateStage loads the current department's stage and runs the validator.
// The returned error covers load failures and validator panics; callers treat
// it as "could not decide" and let the transition proceed.
func (e Engine) evaluateStage(ctx context.Context, tx *sql.Tx, p domain.Process) (res validate.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validator panic: %v", r)
		}
	}()
	stage, err := e.Repo.StageForDepartmentTx(ctx, tx, p.ID, p.CurrentDepartment())
	if errors.Is(err, repo.ErrNotFound) {
		return validate.Result{}, nil
	}
	if err != nil {
		return validate.Result{}, fmt.Errorf("load stage: %w", err)
	}
	if !validate.HasRequirements(stage) {
		return validate.Result{}, nil
	}
	docs, err := e.Repo.ListDocumentsTx(ctx, tx, p.ID)
	if err != nil {
		return validate.Result{}, fmt.Errorf("load documents: %w", err)
	}
	answers, err := e.Repo.ListAnswersTx(ctx, tx, p.ID)
	if err != nil {
		return validate.Result{}, fmt.Errorf("load answers: %w", err)
	}
	fn := e.Validator
	if fn == nil {
		fn = validate.Validate
	}
	return fn(validate.Input{Stage: stage, Documents: docs, Answers: answers}), nil
}

func (e Engine) rejectAdvance(ctx context.Context, p domain.Process, actor auth.Actor, res validate.Result) error {
	dept := p.CurrentDepartment()
	e.Metrics.RecordValidationFailure(dept)
	msg := fmt.Sprintf("cannot advance from %s: %d unmet requirement(s)", dept, len(res.Issues))
	if err := e.Events.AppendStandalone(ctx, events.Event{
		ProcessID:       p.ID,
		Kind:            events.KindValidationFailed,
		Description:     msg,
		ActorID:         actor.ID,
		DepartmentLabel: e.departmentLabel(ctx, nil, dept),
		At:              e.now(),
	}); err != nil {
		e.logger().Warn("record validation failure", zap.String("process_id", p.ID), zap.Error(err))
	}
	return &Error{Kind: KindValidationFailed, Message: msg, Issues: res.Issues}
}
