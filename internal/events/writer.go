package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// History event kinds.
const (
	KindCreated          = "CREATED"
	KindAdvanced         = "ADVANCED"
	KindRolledBack       = "ROLLED_BACK"
	KindFinalized        = "FINALIZED"
	KindStatusChanged    = "STATUS_CHANGED"
	KindValidationFailed = "VALIDATION_FAILED"
	KindPermissionDenied = "PERMISSION_DENIED"
	KindChecklistUpdated = "CHECKLIST_UPDATED"
	KindDocumentAdded    = "DOCUMENT_ADDED"
	KindDocumentDeleted  = "DOCUMENT_DELETED"
	KindDocumentRestored = "DOCUMENT_RESTORED"
	KindRestored         = "RESTORED"
	KindDuplicated       = "DUPLICATED"
	KindAnswersSaved     = "ANSWERS_SAVED"
	KindCommented        = "COMMENTED"
)

// Event is one audit record. At defaults to the writer clock.
type Event struct {
	ProcessID       string
	Kind            string
	Description     string
	ActorID         string
	DepartmentLabel string
	At              time.Time
}

// Writer appends to the history table inside the caller's transaction. It
// never updates or deletes rows.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evt Event) error {
	if evt.ProcessID == "" || evt.Kind == "" {
		return errors.New("event process and kind required")
	}
	at := evt.At
	if at.IsZero() {
		if w.Now == nil {
			w.Now = time.Now
		}
		at = w.Now()
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO history(process_id,kind,description,actor_id,department_label,created_at) VALUES (?,?,?,?,?,?)`,
		evt.ProcessID, evt.Kind, evt.Description, evt.ActorID, nullable(evt.DepartmentLabel), at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("append %s event: %w", evt.Kind, err)
	}
	return nil
}

// AppendStandalone records an event in its own transaction. It is used for
// decisions that must be audited even though the triggering operation is rejected.
func (w Writer) AppendStandalone(ctx context.Context, evt Event) error {
	if w.DB == nil {
		return errors.New("events writer has no database")
	}
	tx, err := w.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := w.Append(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
