package engine

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"processline/internal/config"
	"processline/internal/domain"
	"processline/internal/engine/auth"
	"processline/internal/engine/validate"
	"processline/internal/events"
	"processline/internal/notify"
	"processline/internal/observability"
	"processline/internal/repo"
)

const timeLayout = time.RFC3339

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Policy   auth.Policy
	Notifier notify.Notifier
	Metrics  *observability.Metrics
	Log      *zap.Logger
	Now      func() time.Time
	// Validator evaluates the current stage before an advance; nil means validate.Validate.
	Validator func(validate.Input) validate.Result
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Policy:   auth.Policy{PrivilegedRoles: cfg.Engine.PrivilegedRoles},
		Notifier: notify.Nop{},
		Log:      zap.NewNop(),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) stamp() string {
	return e.now().Format(timeLayout)
}

func (e Engine) logger() *zap.Logger {
	if e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e Engine) config() *config.Config {
	if e.Config == nil {
		return config.Default()
	}
	return e.Config
}

// involved reports whether the actor takes part in the process: privileged,
// creator, assignee, or member of a department of its flow.
func (e Engine) involved(p domain.Process, a auth.Actor) bool {
	if a.ID == "" {
		return false
	}
	if e.Policy.IsPrivileged(a) || a.ID == p.CreatedBy {
		return true
	}
	if p.AssigneeID != nil && *p.AssigneeID == a.ID {
		return true
	}
	return a.DepartmentID != "" && slices.Contains(p.Flow, a.DepartmentID)
}

// canSeeDocument applies the visibility policy; privileged actors and the
// uploader always see a document.
func (e Engine) canSeeDocument(d domain.Document, a auth.Actor) bool {
	if e.Policy.IsPrivileged(a) || (a.ID != "" && a.ID == d.UploadedBy) {
		return true
	}
	return auth.CanView(auth.DocumentResource(d), a)
}

// deny records a rejected operation on an existing process and returns the
// typed error. The caller's transaction must already be rolled back.
func (e Engine) deny(ctx context.Context, p domain.Process, a auth.Actor, op string) error {
	e.Metrics.RecordPermissionDenied(op)
	msg := fmt.Sprintf("%s denied for %s on department %s", op, a.ID, p.CurrentDepartment())
	if err := e.Events.AppendStandalone(ctx, events.Event{
		ProcessID:       p.ID,
		Kind:            events.KindPermissionDenied,
		Description:     msg,
		ActorID:         a.ID,
		DepartmentLabel: e.departmentLabel(ctx, nil, p.CurrentDepartment()),
		At:              e.now(),
	}); err != nil {
		e.logger().Warn("record permission denial", zap.String("process_id", p.ID), zap.Error(err))
	}
	return newError(KindPermissionDenied, "%s", msg)
}

// departmentLabel resolves a department id to its display name, falling back
// to the id. A nil tx reads outside any transaction.
func (e Engine) departmentLabel(ctx context.Context, tx *sql.Tx, departmentID string) string {
	if departmentID == "" {
		return ""
	}
	var (
		d   domain.Department
		err error
	)
	if tx == nil {
		d, err = e.Repo.GetDepartment(ctx, departmentID)
	} else {
		d, err = e.Repo.GetDepartmentTx(ctx, tx, departmentID)
	}
	if err != nil || d.Name == "" {
		return departmentID
	}
	return d.Name
}

func (e Engine) managers(ctx context.Context, departmentID string) []string {
	users, err := e.Repo.DepartmentMembers(ctx, departmentID, e.config().Engine.ManagerRoles)
	if err != nil {
		e.logger().Warn("load department managers", zap.String("department_id", departmentID), zap.Error(err))
		return nil
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}

// dispatch delivers a notification after commit. Failures and panics are
// logged and counted; they never reach the caller.
func (e Engine) dispatch(ctx context.Context, n notify.Notification) {
	if e.Notifier == nil || len(n.Recipients) == 0 {
		return
	}
	if n.At == "" {
		n.At = e.stamp()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config().NotifyTimeout())
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			e.Metrics.RecordNotificationFailure(n.Kind)
			e.logger().Warn("notifier panicked", zap.String("kind", n.Kind), zap.Any("panic", r))
		}
	}()
	if err := e.Notifier.Notify(ctx, n); err != nil {
		e.Metrics.RecordNotificationFailure(n.Kind)
		e.logger().Warn("notification failed",
			zap.String("kind", n.Kind), zap.String("process_id", n.ProcessID), zap.Error(err))
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
