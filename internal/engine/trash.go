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
	"processline/internal/engine/checklist"
	"processline/internal/events"
	"processline/internal/repo"
	"processline/internal/snapshot"
)

// RestoreResult describes what a restore re-created. Warnings list optional
// references that were dropped; Skipped counts dependents that could not be
// re-created, keyed by entity.
type RestoreResult struct {
	Kind       string           `json:"kind"`
	ProcessID  string           `json:"process_id"`
	DocumentID string           `json:"document_id,omitempty"`
	Warnings   []ReferentialGap `json:"warnings,omitempty"`
	Skipped    map[string]int   `json:"skipped,omitempty"`
}

func (r *RestoreResult) skip(entity string) {
	if r.Skipped == nil {
		r.Skipped = map[string]int{}
	}
	r.Skipped[entity]++
}

// SoftDeleteProcess moves a process and every dependent row into the trash.
func (e Engine) SoftDeleteProcess(ctx context.Context, processID string, actor auth.Actor) (domain.TrashItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TrashItem{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProcessTx(ctx, tx, processID)
	if err != nil {
		return domain.TrashItem{}, notFound(err, "process", processID)
	}
	if actor.ID == "" || (actor.ID != p.CreatedBy && !e.Policy.HasDepartmentAuthority(actor, p.CurrentDepartment())) {
		_ = tx.Rollback()
		return domain.TrashItem{}, e.deny(ctx, p, actor, "process delete")
	}
	snap, err := e.processSnapshot(ctx, tx, p)
	if err != nil {
		return domain.TrashItem{}, fmt.Errorf("snapshot process %s: %w", p.ID, err)
	}
	data, err := snapshot.Encode(snapshot.ForProcess(snap))
	if err != nil {
		return domain.TrashItem{}, err
	}
	item := e.newTrashItem(domain.TrashKindProcess, p.ID, p.Title, data, actor)
	item.Visibility = domain.VisibilityPublic
	item.DepartmentID = p.CurrentDepartment()
	item.OwnerID = p.CreatedBy
	if err := e.Repo.InsertTrashItemTx(ctx, tx, item); err != nil {
		return domain.TrashItem{}, fmt.Errorf("insert trash item: %w", err)
	}
	if err := e.Repo.DeleteProcessTx(ctx, tx, p.ID); err != nil {
		return domain.TrashItem{}, notFound(err, "process", p.ID)
	}
	if err := tx.Commit(); err != nil {
		return domain.TrashItem{}, err
	}
	e.Metrics.RecordTrashDelete(item.Kind)
	e.logger().Info("process moved to trash", zap.String("process_id", p.ID), zap.String("trash_id", item.ID))
	return item, nil
}

func (e Engine) processSnapshot(ctx context.Context, tx *sql.Tx, p domain.Process) (snapshot.ProcessSnapshot, error) {
	s := snapshot.ProcessSnapshot{Process: p}
	var err error
	if s.Stages, err = e.Repo.ListStagesTx(ctx, tx, p.ID); err != nil {
		return s, err
	}
	if s.Answers, err = e.Repo.ListAnswersTx(ctx, tx, p.ID); err != nil {
		return s, err
	}
	if s.Comments, err = e.Repo.ListCommentsTx(ctx, tx, p.ID); err != nil {
		return s, err
	}
	if s.Documents, err = e.Repo.ListDocumentsTx(ctx, tx, p.ID); err != nil {
		return s, err
	}
	if s.History, err = e.Repo.ListHistoryTx(ctx, tx, p.ID); err != nil {
		return s, err
	}
	if s.Transitions, err = e.Repo.ListTransitionsTx(ctx, tx, p.ID); err != nil {
		return s, err
	}
	s.Checklist, err = e.Repo.ListChecklistTx(ctx, tx, p.ID)
	return s, err
}

func (e Engine) newTrashItem(kind, entityID, title string, data []byte, actor auth.Actor) domain.TrashItem {
	now := e.now()
	return domain.TrashItem{
		ID:            uuid.New().String(),
		Kind:          kind,
		EntityID:      entityID,
		Title:         title,
		SchemaVersion: snapshot.SchemaVersion,
		Snapshot:      data,
		DeletedBy:     actor.ID,
		DeletedAt:     now.Format(timeLayout),
		ExpiresAt:     now.Add(e.config().Retention()).Format(timeLayout),
	}
}

// SoftDeleteDocument moves a document into the trash. The actor needs both
// authority (uploader or department) and visibility on the document.
func (e Engine) SoftDeleteDocument(ctx context.Context, documentID string, actor auth.Actor) (domain.TrashItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TrashItem{}, err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDocumentTx(ctx, tx, documentID)
	if err != nil {
		return domain.TrashItem{}, notFound(err, "document", documentID)
	}
	p, err := e.Repo.GetProcessTx(ctx, tx, d.ProcessID)
	if err != nil {
		return domain.TrashItem{}, notFound(err, "process", d.ProcessID)
	}
	dept := p.CurrentDepartment()
	if d.DepartmentID != nil {
		dept = *d.DepartmentID
	}
	authorized := actor.ID != "" && (actor.ID == d.UploadedBy || e.Policy.HasDepartmentAuthority(actor, dept))
	if !authorized || !e.canSeeDocument(d, actor) {
		_ = tx.Rollback()
		return domain.TrashItem{}, e.deny(ctx, p, actor, "document delete")
	}
	data, err := snapshot.Encode(snapshot.ForDocument(snapshot.DocumentSnapshot{Document: d, ProcessTitle: p.Title}))
	if err != nil {
		return domain.TrashItem{}, err
	}
	item := e.newTrashItem(domain.TrashKindDocument, d.ID, d.Name, data, actor)
	item.Visibility = d.Visibility
	item.AllowedRoles = d.AllowedRoles
	item.AllowedUsers = d.AllowedUsers
	item.DepartmentID = dept
	item.OwnerID = d.UploadedBy
	if err := e.Repo.InsertTrashItemTx(ctx, tx, item); err != nil {
		return domain.TrashItem{}, fmt.Errorf("insert trash item: %w", err)
	}
	if err := e.Repo.DeleteDocumentTx(ctx, tx, d.ID); err != nil {
		return domain.TrashItem{}, notFound(err, "document", d.ID)
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		ProcessID:       p.ID,
		Kind:            events.KindDocumentDeleted,
		Description:     fmt.Sprintf("document %q moved to trash", d.Name),
		ActorID:         actor.ID,
		DepartmentLabel: e.departmentLabel(ctx, tx, dept),
		At:              e.now(),
	}); err != nil {
		return domain.TrashItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TrashItem{}, err
	}
	e.Metrics.RecordTrashDelete(item.Kind)
	e.logger().Info("document moved to trash", zap.String("document_id", d.ID), zap.String("trash_id", item.ID))
	return item, nil
}

// canRestore: the deleter, a privileged actor, or for documents anyone the
// item's visibility admits.
func (e Engine) canRestore(item domain.TrashItem, actor auth.Actor) bool {
	if actor.ID == "" {
		return false
	}
	if actor.ID == item.DeletedBy || e.Policy.IsPrivileged(actor) {
		return true
	}
	return item.Kind == domain.TrashKindDocument && auth.CanView(auth.TrashResource(item), actor)
}

// Restore re-creates the entity held by a trash item and removes the item.
// Only failure of the primary entity aborts; dependents that cannot be
// re-created are logged and counted in the result.
func (e Engine) Restore(ctx context.Context, trashID string, actor auth.Actor) (RestoreResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return RestoreResult{}, err
	}
	defer tx.Rollback()

	item, err := e.Repo.GetTrashItemTx(ctx, tx, trashID)
	if err != nil {
		return RestoreResult{}, notFound(err, "trash item", trashID)
	}
	if e.expired(item) {
		return RestoreResult{}, newError(KindExpiredResource, "trash item %s expired at %s", item.ID, item.ExpiresAt)
	}
	if !e.canRestore(item, actor) {
		e.Metrics.RecordPermissionDenied("restore")
		return RestoreResult{}, newError(KindPermissionDenied, "restore of %s denied for %s", item.ID, actor.ID)
	}
	env, err := snapshot.Decode(item.Snapshot)
	if err != nil {
		return RestoreResult{}, fmt.Errorf("trash item %s: %w", item.ID, err)
	}
	if env.Kind != item.Kind {
		return RestoreResult{}, fmt.Errorf("trash item %s: snapshot kind %s does not match %s", item.ID, env.Kind, item.Kind)
	}

	res := RestoreResult{Kind: item.Kind}
	switch item.Kind {
	case domain.TrashKindProcess:
		err = e.restoreProcess(ctx, tx, *env.Process, actor, &res)
	case domain.TrashKindDocument:
		err = e.restoreDocument(ctx, tx, *env.Document, actor, &res)
	}
	if err != nil {
		return RestoreResult{}, err
	}
	if err := e.Repo.DeleteTrashItemTx(ctx, tx, item.ID); err != nil {
		return RestoreResult{}, notFound(err, "trash item", item.ID)
	}
	if err := tx.Commit(); err != nil {
		return RestoreResult{}, err
	}
	e.Metrics.RecordRestore(item.Kind, res.Skipped)
	e.logger().Info("trash item restored",
		zap.String("trash_id", item.ID), zap.String("kind", item.Kind), zap.String("process_id", res.ProcessID),
		zap.Int("warnings", len(res.Warnings)), zap.Any("skipped", res.Skipped))
	return res, nil
}

func (e Engine) expired(item domain.TrashItem) bool {
	return item.ExpiresAt < e.stamp()
}

// restoreDependent runs fn in a savepoint; a failure is logged and counted.
func (e Engine) restoreDependent(ctx context.Context, tx *sql.Tx, res *RestoreResult, entity string, fn func() error) bool {
	if err := repo.Savepoint(ctx, tx, "restore_"+entity, fn); err != nil {
		res.skip(entity)
		e.logger().Warn("restore skipped dependent", zap.String("entity", entity), zap.Error(err))
		return false
	}
	return true
}

func (e Engine) restoreProcess(ctx context.Context, tx *sql.Tx, s snapshot.ProcessSnapshot, actor auth.Actor, res *RestoreResult) error {
	ids := snapshot.NewIDMap()
	p := s.Process
	oldID := p.ID
	p.ID = uuid.New().String()
	p.Version = 1
	p.UpdatedAt = e.stamp()
	if p.CompanyID != nil {
		ok, err := e.Repo.CompanyExistsTx(ctx, tx, *p.CompanyID)
		if err != nil {
			return err
		}
		if !ok {
			res.Warnings = append(res.Warnings, ReferentialGap{Entity: "process", Field: "company_id", Ref: *p.CompanyID})
			p.CompanyID = nil
		}
	}
	if err := e.Repo.InsertProcessTx(ctx, tx, p); err != nil {
		return fmt.Errorf("restore process %s: %w", oldID, err)
	}
	ids.Put(snapshot.EntityProcess, oldID, p.ID)
	if err := e.Repo.InsertProcessAliasTx(ctx, tx, oldID, p.ID, e.stamp()); err != nil {
		return fmt.Errorf("alias process %s: %w", oldID, err)
	}
	res.ProcessID = p.ID

	// Stages and fields first; conditions are resolved once every field has an id.
	type restoredField struct {
		newID string
		cond  domain.Condition
	}
	var conditional []restoredField
	byLabel := map[string]string{}
	oldFieldKey := map[string]string{}
	for _, st := range s.Stages {
		oldStage := st.ID
		st.ID = uuid.New().String()
		st.ProcessID = p.ID
		if !e.restoreDependent(ctx, tx, res, "stage", func() error {
			return e.Repo.InsertStageTx(ctx, tx, st)
		}) {
			continue
		}
		ids.Put(snapshot.EntityStage, oldStage, st.ID)
		for _, f := range st.Fields {
			oldField := f.ID
			cond := f.Condition
			oldFieldKey[oldField] = labelKey(st.DepartmentID, f.Label)
			f.ID = uuid.New().String()
			f.StageID = st.ID
			f.Condition = nil
			if !e.restoreDependent(ctx, tx, res, "field", func() error {
				return e.Repo.InsertFieldTx(ctx, tx, f)
			}) {
				continue
			}
			ids.Put(snapshot.EntityField, oldField, f.ID)
			byLabel[labelKey(st.DepartmentID, f.Label)] = f.ID
			if cond != nil {
				conditional = append(conditional, restoredField{newID: f.ID, cond: *cond})
			}
		}
	}
	for _, rf := range conditional {
		target, ok := ids.Resolve(snapshot.EntityField, rf.cond.FieldID)
		if !ok {
			res.Warnings = append(res.Warnings, ReferentialGap{Entity: "field", Field: "condition", Ref: rf.cond.FieldID})
			continue
		}
		c := rf.cond
		c.FieldID = target
		e.restoreDependent(ctx, tx, res, "condition", func() error {
			return e.Repo.UpdateFieldConditionTx(ctx, tx, rf.newID, &c)
		})
	}

	for _, a := range s.Answers {
		fieldID, ok := ids.Resolve(snapshot.EntityField, a.FieldID)
		if !ok {
			fieldID, ok = byLabel[oldFieldKey[a.FieldID]]
		}
		if !ok {
			res.skip("answer")
			continue
		}
		a.ID = uuid.New().String()
		a.ProcessID = p.ID
		a.FieldID = fieldID
		e.restoreDependent(ctx, tx, res, "answer", func() error {
			return e.Repo.UpsertAnswerTx(ctx, tx, a)
		})
	}
	for _, c := range s.Comments {
		c.ID = uuid.New().String()
		c.ProcessID = p.ID
		e.restoreDependent(ctx, tx, res, "comment", func() error {
			return e.Repo.InsertCommentTx(ctx, tx, c)
		})
	}
	for _, h := range s.History {
		h.ProcessID = p.ID
		e.restoreDependent(ctx, tx, res, "history", func() error {
			return e.Repo.InsertHistoryTx(ctx, tx, h)
		})
	}
	for _, t := range s.Transitions {
		t.ID = uuid.New().String()
		t.ProcessID = p.ID
		e.restoreDependent(ctx, tx, res, "transition", func() error {
			return e.Repo.InsertTransitionTx(ctx, tx, t)
		})
	}
	for _, d := range s.Documents {
		oldDoc := d.ID
		d.ID = uuid.New().String()
		d.ProcessID = p.ID
		d.FieldID = e.remapDocumentField(d.FieldID, ids, res)
		if e.restoreDependent(ctx, tx, res, "document", func() error {
			return e.Repo.InsertDocumentTx(ctx, tx, d)
		}) {
			ids.Put(snapshot.EntityDocument, oldDoc, d.ID)
		}
	}
	entries := s.Checklist
	if len(entries) == 0 && checklist.Applies(p) {
		entries = checklist.Build(p.ID, p.Flow)
	}
	for _, c := range entries {
		c.ProcessID = p.ID
		e.restoreDependent(ctx, tx, res, "checklist", func() error {
			return e.Repo.InsertChecklistEntryTx(ctx, tx, c)
		})
	}

	return e.Events.Append(ctx, tx, events.Event{
		ProcessID:       p.ID,
		Kind:            events.KindRestored,
		Description:     fmt.Sprintf("restored from trash (was %s)", oldID),
		ActorID:         actor.ID,
		DepartmentLabel: e.departmentLabel(ctx, tx, p.CurrentDepartment()),
		At:              e.now(),
	})
}

func labelKey(departmentID, label string) string {
	return departmentID + "\x00" + label
}

func (e Engine) remapDocumentField(fieldID *string, ids *snapshot.IDMap, res *RestoreResult) *string {
	if fieldID == nil {
		return nil
	}
	if mapped, ok := ids.Resolve(snapshot.EntityField, *fieldID); ok {
		return &mapped
	}
	res.Warnings = append(res.Warnings, ReferentialGap{Entity: "document", Field: "field_id", Ref: *fieldID})
	return nil
}

func (e Engine) restoreDocument(ctx context.Context, tx *sql.Tx, s snapshot.DocumentSnapshot, actor auth.Actor, res *RestoreResult) error {
	d := s.Document
	// The parent may have been restored under a new id since the document was trashed.
	processID, err := e.Repo.ResolveProcessIDTx(ctx, tx, d.ProcessID)
	if err != nil {
		return fmt.Errorf("resolve process %s: %w", d.ProcessID, err)
	}
	p, err := e.Repo.GetProcessTx(ctx, tx, processID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return newError(KindNotFound, "process %s of document %q no longer exists", d.ProcessID, d.Name)
		}
		return err
	}
	d.ProcessID = p.ID
	if d.FieldID != nil {
		ok, err := e.Repo.FieldExistsTx(ctx, tx, p.ID, *d.FieldID)
		if err != nil {
			return err
		}
		if !ok {
			res.Warnings = append(res.Warnings, ReferentialGap{Entity: "document", Field: "field_id", Ref: *d.FieldID})
			d.FieldID = nil
		}
	}
	d.ID = uuid.New().String()
	if err := e.Repo.InsertDocumentTx(ctx, tx, d); err != nil {
		return fmt.Errorf("restore document %q: %w", d.Name, err)
	}
	res.ProcessID = p.ID
	res.DocumentID = d.ID
	dept := p.CurrentDepartment()
	if d.DepartmentID != nil {
		dept = *d.DepartmentID
	}
	return e.Events.Append(ctx, tx, events.Event{
		ProcessID:       p.ID,
		Kind:            events.KindDocumentRestored,
		Description:     fmt.Sprintf("document %q restored from trash", d.Name),
		ActorID:         actor.ID,
		DepartmentLabel: e.departmentLabel(ctx, tx, dept),
		At:              e.now(),
	})
}

// HardDelete permanently removes a trash item.
func (e Engine) HardDelete(ctx context.Context, trashID string, actor auth.Actor) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	item, err := e.Repo.GetTrashItemTx(ctx, tx, trashID)
	if err != nil {
		return notFound(err, "trash item", trashID)
	}
	if actor.ID == "" || (actor.ID != item.DeletedBy && !e.Policy.IsPrivileged(actor)) {
		e.Metrics.RecordPermissionDenied("hard delete")
		return newError(KindPermissionDenied, "hard delete of %s denied for %s", item.ID, actor.ID)
	}
	if err := e.Repo.DeleteTrashItemTx(ctx, tx, item.ID); err != nil {
		return notFound(err, "trash item", item.ID)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.logger().Info("trash item deleted", zap.String("trash_id", item.ID), zap.String("actor_id", actor.ID))
	return nil
}

// PurgeExpired removes every trash item past its expiry and returns the count.
func (e Engine) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := e.Repo.PurgeExpired(ctx, e.stamp())
	if err != nil {
		return 0, fmt.Errorf("purge trash: %w", err)
	}
	e.Metrics.RecordPurged(n)
	if n > 0 {
		e.logger().Info("purged expired trash items", zap.Int64("count", n))
	}
	return n, nil
}

// ListTrash returns the trash items the actor may see.
func (e Engine) ListTrash(ctx context.Context, actor auth.Actor) ([]domain.TrashItem, error) {
	items, err := e.Repo.ListTrash(ctx)
	if err != nil {
		return nil, err
	}
	if e.Policy.IsPrivileged(actor) {
		return items, nil
	}
	visible := items[:0]
	for _, it := range items {
		if (actor.ID != "" && it.DeletedBy == actor.ID) || auth.CanView(auth.TrashResource(it), actor) {
			visible = append(visible, it)
		}
	}
	return visible, nil
}
