package engine

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"processline/internal/domain"
	"processline/internal/engine/auth"
	"processline/internal/engine/checklist"
	"processline/internal/events"
	"processline/internal/notify"
	"processline/internal/repo"
	"processline/internal/snapshot"
)

var priorities = []string{"LOW", "MEDIUM", "HIGH", "URGENT"}

var fieldKinds = []string{
	domain.FieldKindText, domain.FieldKindTextarea, domain.FieldKindNumber, domain.FieldKindDate,
	domain.FieldKindSelect, domain.FieldKindCheckbox, domain.FieldKindFile,
}

var operators = []string{domain.OpEquals, domain.OpNotEquals, domain.OpContains}

// ConditionInput references another field of the same process by its Key.
type ConditionInput struct {
	FieldKey string `json:"field_key"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

type FieldInput struct {
	Key       string          `json:"key,omitempty"`
	Label     string          `json:"label"`
	Kind      string          `json:"kind"`
	Required  bool            `json:"required,omitempty"`
	Options   []string        `json:"options,omitempty"`
	Condition *ConditionInput `json:"condition,omitempty"`
}

type StageInput struct {
	DepartmentID      string       `json:"department_id"`
	RequiredDocuments []string     `json:"required_documents,omitempty"`
	Fields            []FieldInput `json:"fields,omitempty"`
}

// ProcessCreateOptions are parameters for creating a process.
type ProcessCreateOptions struct {
	Title        string
	Description  string
	Flow         []string
	Priority     string
	ParallelMode bool
	AssigneeID   string
	CompanyID    string
	Stages       []StageInput
	Actor        auth.Actor
}

func (e Engine) CreateProcess(ctx context.Context, opts ProcessCreateOptions) (domain.Process, error) {
	if opts.Actor.ID == "" {
		return domain.Process{}, newError(KindInvalidInput, "actor is required")
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Process{}, newError(KindInvalidInput, "title is required")
	}
	if err := checkFlow(opts.Flow); err != nil {
		return domain.Process{}, err
	}
	if opts.Priority == "" {
		opts.Priority = "MEDIUM"
	}
	opts.Priority = strings.ToUpper(opts.Priority)
	if !slices.Contains(priorities, opts.Priority) {
		return domain.Process{}, newError(KindInvalidInput, "priority must be one of %s", strings.Join(priorities, ", "))
	}
	byDept := make(map[string]StageInput, len(opts.Stages))
	for _, s := range opts.Stages {
		if !slices.Contains(opts.Flow, s.DepartmentID) {
			return domain.Process{}, newError(KindInvalidInput, "stage department %s is not in the flow", s.DepartmentID)
		}
		if _, dup := byDept[s.DepartmentID]; dup {
			return domain.Process{}, newError(KindInvalidInput, "stage for department %s given twice", s.DepartmentID)
		}
		byDept[s.DepartmentID] = s
	}
	if err := checkFields(opts.Stages); err != nil {
		return domain.Process{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	depts := make(map[string]domain.Department, len(opts.Flow))
	for _, id := range opts.Flow {
		d, err := e.Repo.GetDepartmentTx(ctx, tx, id)
		if err != nil {
			return domain.Process{}, notFound(err, "department", id)
		}
		depts[id] = d
	}
	if opts.CompanyID != "" {
		ok, err := e.Repo.CompanyExistsTx(ctx, tx, opts.CompanyID)
		if err != nil {
			return domain.Process{}, err
		}
		if !ok {
			return domain.Process{}, newError(KindNotFound, "company %s not found", opts.CompanyID)
		}
	}

	now := e.stamp()
	p := domain.Process{
		ID:           uuid.New().String(),
		Title:        strings.TrimSpace(opts.Title),
		Description:  opts.Description,
		Flow:         opts.Flow,
		Status:       domain.StatusInProgress,
		Priority:     opts.Priority,
		Progress:     domain.Progress(0, len(opts.Flow)),
		ParallelMode: opts.ParallelMode,
		CreatedBy:    opts.Actor.ID,
		AssigneeID:   optionalString(opts.AssigneeID),
		CompanyID:    optionalString(opts.CompanyID),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.Repo.InsertProcessTx(ctx, tx, p); err != nil {
		return domain.Process{}, err
	}
	var stages []domain.Stage
	for _, dept := range p.Flow {
		in := byDept[dept]
		stages = append(stages, stageFromInput(p.ID, in, mergeRequirements(depts[dept].RequiredDocuments, in.RequiredDocuments), dept))
	}
	if err := e.insertStages(ctx, tx, stages, keyedConditions(opts.Stages)); err != nil {
		return domain.Process{}, err
	}
	if err := e.openProcess(ctx, tx, p, opts.Actor, events.Event{
		Kind:            events.KindCreated,
		Description:     fmt.Sprintf("process %q created", p.Title),
		DepartmentLabel: depts[p.Flow[0]].Name,
	}); err != nil {
		return domain.Process{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Process{}, err
	}
	e.Metrics.RecordTransition(events.KindCreated)
	e.logger().Info("process created", zap.String("process_id", p.ID), zap.Strings("flow", p.Flow))
	e.notifyAssignment(ctx, p, opts.Actor)
	return p, nil
}

func checkFlow(flow []string) error {
	if len(flow) == 0 {
		return newError(KindInvalidInput, "flow must list at least one department")
	}
	seen := make(map[string]struct{}, len(flow))
	for _, d := range flow {
		if strings.TrimSpace(d) == "" {
			return newError(KindInvalidInput, "flow contains an empty department id")
		}
		if _, dup := seen[d]; dup {
			return newError(KindInvalidInput, "department %s appears twice in the flow", d)
		}
		seen[d] = struct{}{}
	}
	return nil
}

func checkFields(stages []StageInput) error {
	keys := map[string]struct{}{}
	for _, s := range stages {
		for _, f := range s.Fields {
			if f.Key == "" {
				continue
			}
			if _, dup := keys[f.Key]; dup {
				return newError(KindInvalidInput, "field key %s used twice", f.Key)
			}
			keys[f.Key] = struct{}{}
		}
	}
	for _, s := range stages {
		for _, f := range s.Fields {
			if strings.TrimSpace(f.Label) == "" {
				return newError(KindInvalidInput, "field label is required")
			}
			if !slices.Contains(fieldKinds, f.Kind) {
				return newError(KindInvalidInput, "field %q has unknown kind %q", f.Label, f.Kind)
			}
			if c := f.Condition; c != nil {
				if _, ok := keys[c.FieldKey]; !ok {
					return newError(KindInvalidInput, "field %q condition references unknown key %q", f.Label, c.FieldKey)
				}
				if c.FieldKey == f.Key {
					return newError(KindInvalidInput, "field %q condition references itself", f.Label)
				}
				if !slices.Contains(operators, c.Operator) {
					return newError(KindInvalidInput, "field %q condition has unknown operator %q", f.Label, c.Operator)
				}
			}
		}
	}
	return nil
}

func mergeRequirements(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		for _, r := range g {
			r = strings.TrimSpace(r)
			if r == "" || slices.ContainsFunc(out, func(s string) bool { return strings.EqualFold(s, r) }) {
				continue
			}
			out = append(out, r)
		}
	}
	return out
}

// stageFromInput builds a stage whose field ids are the input keys; insertStages
// swaps them for generated ids.
func stageFromInput(processID string, in StageInput, required []string, dept string) domain.Stage {
	s := domain.Stage{ProcessID: processID, DepartmentID: dept, RequiredDocuments: required}
	for i, f := range in.Fields {
		key := f.Key
		if key == "" {
			key = fmt.Sprintf("%s#%d", dept, i)
		}
		s.Fields = append(s.Fields, domain.Field{
			ID:       key,
			Position: i,
			Label:    strings.TrimSpace(f.Label),
			Kind:     f.Kind,
			Required: f.Required,
			Options:  f.Options,
		})
	}
	return s
}

func keyedConditions(stages []StageInput) map[string]domain.Condition {
	out := map[string]domain.Condition{}
	for _, s := range stages {
		for _, f := range s.Fields {
			if f.Key != "" && f.Condition != nil {
				out[f.Key] = domain.Condition{FieldID: f.Condition.FieldKey, Operator: f.Condition.Operator, Value: f.Condition.Value}
			}
		}
	}
	return out
}

// insertStages writes stages with fresh ids. Field ids in stages and in the
// condition map are treated as old ids and resolved through an IDMap once all
// fields exist. Conditions whose target is unknown are dropped.
func (e Engine) insertStages(ctx context.Context, tx *sql.Tx, stages []domain.Stage, conditions map[string]domain.Condition) error {
	ids := snapshot.NewIDMap()
	for _, s := range stages {
		s.ID = uuid.New().String()
		if err := e.Repo.InsertStageTx(ctx, tx, s); err != nil {
			return fmt.Errorf("insert stage %s: %w", s.DepartmentID, err)
		}
		for _, f := range s.Fields {
			oldID := f.ID
			f.ID = uuid.New().String()
			f.StageID = s.ID
			f.Condition = nil
			if err := e.Repo.InsertFieldTx(ctx, tx, f); err != nil {
				return fmt.Errorf("insert field %q: %w", f.Label, err)
			}
			ids.Put(snapshot.EntityField, oldID, f.ID)
		}
	}
	for oldID, c := range conditions {
		fieldID, ok := ids.Resolve(snapshot.EntityField, oldID)
		if !ok {
			continue
		}
		target, ok := ids.Resolve(snapshot.EntityField, c.FieldID)
		if !ok {
			continue
		}
		c.FieldID = target
		if err := e.Repo.UpdateFieldConditionTx(ctx, tx, fieldID, &c); err != nil {
			return fmt.Errorf("set condition: %w", err)
		}
	}
	return nil
}

// openProcess writes the first transition, the checklist and the opening event.
func (e Engine) openProcess(ctx context.Context, tx *sql.Tx, p domain.Process, actor auth.Actor, evt events.Event) error {
	if err := e.Repo.InsertTransitionTx(ctx, tx, domain.Transition{
		ID:           uuid.New().String(),
		ProcessID:    p.ID,
		DepartmentID: p.Flow[0],
		EnteredAt:    p.CreatedAt,
	}); err != nil {
		return fmt.Errorf("open transition: %w", err)
	}
	if checklist.Applies(p) {
		for _, c := range checklist.Build(p.ID, p.Flow) {
			if err := e.Repo.InsertChecklistEntryTx(ctx, tx, c); err != nil {
				return fmt.Errorf("insert checklist entry: %w", err)
			}
		}
	}
	evt.ProcessID = p.ID
	evt.ActorID = actor.ID
	evt.At = e.now()
	return e.Events.Append(ctx, tx, evt)
}

func (e Engine) notifyAssignment(ctx context.Context, p domain.Process, actor auth.Actor) {
	first := p.Flow[0]
	e.dispatch(ctx, notify.Notification{
		Kind:         notify.KindNewAssignment,
		ProcessID:    p.ID,
		ProcessTitle: p.Title,
		DepartmentID: first,
		Recipients:   notify.Recipients(actor.ID, e.managers(ctx, first), []string{deref(p.AssigneeID)}),
		ActorID:      actor.ID,
		Message:      fmt.Sprintf("new process %q assigned to %s", p.Title, first),
	})
}

// DuplicateProcess copies a process definition (stages and fields, not answers
// or documents) into a new process positioned at its first department.
func (e Engine) DuplicateProcess(ctx context.Context, processID string, actor auth.Actor) (domain.Process, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Process{}, err
	}
	defer tx.Rollback()

	src, err := e.Repo.GetProcessTx(ctx, tx, processID)
	if err != nil {
		return domain.Process{}, notFound(err, "process", processID)
	}
	if !e.involved(src, actor) {
		_ = tx.Rollback()
		return domain.Process{}, e.deny(ctx, src, actor, "duplicate")
	}
	stages, err := e.Repo.ListStagesTx(ctx, tx, src.ID)
	if err != nil {
		return domain.Process{}, err
	}
	now := e.stamp()
	p := src
	p.ID = uuid.New().String()
	p.Title = src.Title + " (copy)"
	p.CurrentIndex = 0
	p.Status = domain.StatusInProgress
	p.Progress = domain.Progress(0, len(p.Flow))
	p.CreatedBy = actor.ID
	p.Version = 1
	p.CreatedAt, p.UpdatedAt = now, now
	if p.CompanyID != nil {
		ok, err := e.Repo.CompanyExistsTx(ctx, tx, *p.CompanyID)
		if err != nil {
			return domain.Process{}, err
		}
		if !ok {
			p.CompanyID = nil
		}
	}
	if err := e.Repo.InsertProcessTx(ctx, tx, p); err != nil {
		return domain.Process{}, err
	}
	conditions := map[string]domain.Condition{}
	for i := range stages {
		stages[i].ProcessID = p.ID
		for _, f := range stages[i].Fields {
			if f.Condition != nil {
				conditions[f.ID] = *f.Condition
			}
		}
	}
	if err := e.insertStages(ctx, tx, stages, conditions); err != nil {
		return domain.Process{}, err
	}
	if err := e.openProcess(ctx, tx, p, actor, events.Event{
		Kind:        events.KindDuplicated,
		Description: fmt.Sprintf("duplicated from process %s", src.ID),
	}); err != nil {
		return domain.Process{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Process{}, err
	}
	e.logger().Info("process duplicated", zap.String("source_id", src.ID), zap.String("process_id", p.ID))
	e.notifyAssignment(ctx, p, actor)
	return p, nil
}

// SaveAnswers upserts answers keyed by field id.
func (e Engine) SaveAnswers(ctx context.Context, processID string, answers map[string]string, actor auth.Actor) ([]domain.Answer, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProcessTx(ctx, tx, processID)
	if err != nil {
		return nil, notFound(err, "process", processID)
	}
	if !e.involved(p, actor) {
		_ = tx.Rollback()
		return nil, e.deny(ctx, p, actor, "answer")
	}
	if p.Status == domain.StatusFinished || p.Status == domain.StatusCancelled {
		return nil, newError(KindInvalidState, "process %s is %s", p.ID, p.Status)
	}
	fieldIDs := make([]string, 0, len(answers))
	for id := range answers {
		fieldIDs = append(fieldIDs, id)
	}
	slices.Sort(fieldIDs)
	now := e.stamp()
	for _, fieldID := range fieldIDs {
		ok, err := e.Repo.FieldExistsTx(ctx, tx, p.ID, fieldID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, newError(KindNotFound, "field %s not found on process %s", fieldID, p.ID)
		}
		if err := e.Repo.UpsertAnswerTx(ctx, tx, domain.Answer{
			ID:        uuid.New().String(),
			ProcessID: p.ID,
			FieldID:   fieldID,
			Value:     answers[fieldID],
			UpdatedBy: actor.ID,
			UpdatedAt: now,
		}); err != nil {
			return nil, fmt.Errorf("save answer %s: %w", fieldID, err)
		}
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		ProcessID:   p.ID,
		Kind:        events.KindAnswersSaved,
		Description: fmt.Sprintf("%d answer(s) saved", len(fieldIDs)),
		ActorID:     actor.ID,
		At:          e.now(),
	}); err != nil {
		return nil, err
	}
	saved, err := e.Repo.ListAnswersTx(ctx, tx, p.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return saved, nil
}

func (e Engine) GetProcess(ctx context.Context, id string) (domain.Process, error) {
	p, err := e.Repo.GetProcess(ctx, id)
	if err != nil {
		return p, notFound(err, "process", id)
	}
	return p, nil
}

func (e Engine) ListProcesses(ctx context.Context, f repo.ProcessFilters) ([]domain.Process, error) {
	return e.Repo.ListProcesses(ctx, f)
}

// ProcessView is a process with its dependents, documents filtered for the viewer.
type ProcessView struct {
	Process     domain.Process          `json:"process"`
	Stages      []domain.Stage          `json:"stages"`
	Answers     []domain.Answer         `json:"answers"`
	Documents   []domain.Document       `json:"documents"`
	Comments    []domain.Comment        `json:"comments"`
	Checklist   []domain.ChecklistEntry `json:"checklist,omitempty"`
	Transitions []domain.Transition     `json:"transitions"`
}

func (e Engine) ProcessDetail(ctx context.Context, id string, actor auth.Actor) (ProcessView, error) {
	var v ProcessView
	p, err := e.GetProcess(ctx, id)
	if err != nil {
		return v, err
	}
	v.Process = p
	if v.Stages, err = e.Repo.ListStages(ctx, id); err != nil {
		return v, err
	}
	if v.Answers, err = e.Repo.ListAnswers(ctx, id); err != nil {
		return v, err
	}
	if v.Documents, err = e.ListDocuments(ctx, id, actor); err != nil {
		return v, err
	}
	if v.Comments, err = e.Repo.ListComments(ctx, id); err != nil {
		return v, err
	}
	if v.Checklist, err = e.Repo.ListChecklist(ctx, id); err != nil {
		return v, err
	}
	v.Transitions, err = e.Repo.ListTransitions(ctx, id)
	return v, err
}

type DocumentCreateOptions struct {
	ProcessID    string
	FieldID      string
	DepartmentID string
	Name         string
	Category     string
	StorageKey   string
	Visibility   string
	AllowedRoles []string
	AllowedUsers []string
	Actor        auth.Actor
}

func (e Engine) AddDocument(ctx context.Context, opts DocumentCreateOptions) (domain.Document, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Document{}, newError(KindInvalidInput, "document name is required")
	}
	if opts.Visibility == "" {
		opts.Visibility = domain.VisibilityPublic
	}
	opts.Visibility = strings.ToUpper(opts.Visibility)
	if !auth.ValidVisibility(opts.Visibility) {
		return domain.Document{}, newError(KindInvalidInput, "unknown visibility %q", opts.Visibility)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProcessTx(ctx, tx, opts.ProcessID)
	if err != nil {
		return domain.Document{}, notFound(err, "process", opts.ProcessID)
	}
	if !e.involved(p, opts.Actor) {
		_ = tx.Rollback()
		return domain.Document{}, e.deny(ctx, p, opts.Actor, "document upload")
	}
	if opts.FieldID != "" {
		ok, err := e.Repo.FieldExistsTx(ctx, tx, p.ID, opts.FieldID)
		if err != nil {
			return domain.Document{}, err
		}
		if !ok {
			return domain.Document{}, newError(KindNotFound, "field %s not found on process %s", opts.FieldID, p.ID)
		}
	}
	if opts.DepartmentID != "" && !slices.Contains(p.Flow, opts.DepartmentID) {
		return domain.Document{}, newError(KindInvalidInput, "department %s is not in the flow of process %s", opts.DepartmentID, p.ID)
	}
	d := domain.Document{
		ID:           uuid.New().String(),
		ProcessID:    p.ID,
		FieldID:      optionalString(opts.FieldID),
		DepartmentID: optionalString(opts.DepartmentID),
		Name:         strings.TrimSpace(opts.Name),
		Category:     strings.TrimSpace(opts.Category),
		StorageKey:   opts.StorageKey,
		Visibility:   opts.Visibility,
		AllowedRoles: opts.AllowedRoles,
		AllowedUsers: opts.AllowedUsers,
		UploadedBy:   opts.Actor.ID,
		CreatedAt:    e.stamp(),
	}
	if err := e.Repo.InsertDocumentTx(ctx, tx, d); err != nil {
		return domain.Document{}, fmt.Errorf("insert document: %w", err)
	}
	dept := opts.DepartmentID
	if dept == "" {
		dept = p.CurrentDepartment()
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		ProcessID:       p.ID,
		Kind:            events.KindDocumentAdded,
		Description:     fmt.Sprintf("document %q added", d.Name),
		ActorID:         opts.Actor.ID,
		DepartmentLabel: e.departmentLabel(ctx, tx, dept),
		At:              e.now(),
	}); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return d, nil
}

// ListDocuments returns the documents of a process the actor may see.
func (e Engine) ListDocuments(ctx context.Context, processID string, actor auth.Actor) ([]domain.Document, error) {
	if _, err := e.Repo.GetProcess(ctx, processID); err != nil {
		return nil, notFound(err, "process", processID)
	}
	docs, err := e.Repo.ListDocuments(ctx, processID)
	if err != nil {
		return nil, err
	}
	visible := docs[:0]
	for _, d := range docs {
		if e.canSeeDocument(d, actor) {
			visible = append(visible, d)
		}
	}
	return visible, nil
}

func (e Engine) GetDocument(ctx context.Context, id string, actor auth.Actor) (domain.Document, error) {
	d, err := e.Repo.GetDocument(ctx, id)
	if err != nil {
		return d, notFound(err, "document", id)
	}
	if !e.canSeeDocument(d, actor) {
		e.Metrics.RecordPermissionDenied("document read")
		return domain.Document{}, newError(KindPermissionDenied, "document %s is not visible to %s", id, actor.ID)
	}
	return d, nil
}

func (e Engine) AddComment(ctx context.Context, processID, body string, actor auth.Actor) (domain.Comment, error) {
	if strings.TrimSpace(body) == "" {
		return domain.Comment{}, newError(KindInvalidInput, "comment body is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProcessTx(ctx, tx, processID)
	if err != nil {
		return domain.Comment{}, notFound(err, "process", processID)
	}
	if !e.involved(p, actor) {
		_ = tx.Rollback()
		return domain.Comment{}, e.deny(ctx, p, actor, "comment")
	}
	c := domain.Comment{
		ID:        uuid.New().String(),
		ProcessID: p.ID,
		AuthorID:  actor.ID,
		Body:      body,
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertCommentTx(ctx, tx, c); err != nil {
		return domain.Comment{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		ProcessID:   p.ID,
		Kind:        events.KindCommented,
		Description: "comment added",
		ActorID:     actor.ID,
		At:          e.now(),
	}); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

// Timeline returns the audit trail of a process, newest first.
func (e Engine) Timeline(ctx context.Context, processID string, limit int) ([]domain.HistoryEvent, error) {
	if _, err := e.Repo.GetProcess(ctx, processID); err != nil {
		return nil, notFound(err, "process", processID)
	}
	return e.Repo.Timeline(ctx, processID, limit)
}
