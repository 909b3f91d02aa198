package engine_test

import (
	"errors"
	"maps"
	"slices"
	"testing"
	"time"

	"processline/internal/domain"
	"processline/internal/engine"
	"processline/internal/events"
	"processline/internal/repo"
	"processline/internal/snapshot"
)

// populated creates a sales/legal process owned by ana with two answers,
// three documents (one attached to the Scan field) and a comment.
func populated(t *testing.T, env *testEnv) domain.Process {
	t.Helper()
	p := env.create(t, engine.ProcessCreateOptions{
		Flow:      []string{"sales", "legal"},
		CompanyID: "acme",
		Stages:    []engine.StageInput{conditionalStage()},
	})
	if _, err := env.Engine.SaveAnswers(env.Ctx, p.ID, map[string]string{
		env.fieldID(t, p.ID, "Summary"): "yes",
		env.fieldID(t, p.ID, "Detail"):  "net 30",
	}, ana); err != nil {
		t.Fatalf("save answers: %v", err)
	}
	scan := env.fieldID(t, p.ID, "Scan")
	for _, opts := range []engine.DocumentCreateOptions{
		{Name: "contract.pdf", Category: "contract"},
		{Name: "scan.png", FieldID: scan},
		{Name: "notes.txt", Visibility: domain.VisibilityUsers, AllowedUsers: []string{"cy"}},
	} {
		opts.ProcessID, opts.Actor = p.ID, ana
		if _, err := env.Engine.AddDocument(env.Ctx, opts); err != nil {
			t.Fatalf("add document %s: %v", opts.Name, err)
		}
	}
	if _, err := env.Engine.AddComment(env.Ctx, p.ID, "waiting on legal", ana); err != nil {
		t.Fatalf("add comment: %v", err)
	}
	return p
}

func expectTrashGone(t *testing.T, env *testEnv, trashID string) {
	t.Helper()
	if _, err := env.Engine.Repo.GetTrashItem(env.Ctx, trashID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("trash item %s still present: %v", trashID, err)
	}
}

func TestSoftDeleteAndRestoreProcess(t *testing.T) {
	env := newTestEnv(t)
	p := populated(t, env)
	oldDocs, err := env.Engine.ListDocuments(env.Ctx, p.ID, admin)
	if err != nil {
		t.Fatal(err)
	}
	if len(oldDocs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(oldDocs))
	}

	item, err := env.Engine.SoftDeleteProcess(env.Ctx, p.ID, ana)
	if err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if item.Kind != domain.TrashKindProcess || item.ExpiresAt != "2024-01-16T09:00:00Z" || item.DepartmentID != "sales" {
		t.Fatalf("unexpected trash item: %+v", item)
	}
	_, err = env.Engine.GetProcess(env.Ctx, p.ID)
	expectKind(t, err, engine.KindNotFound)

	res, err := env.Engine.Restore(env.Ctx, item.ID, ana)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(res.Warnings) != 0 || len(res.Skipped) != 0 {
		t.Fatalf("clean restore reported losses: %+v", res)
	}
	if res.ProcessID == p.ID {
		t.Fatal("restored process kept its old id")
	}

	view, err := env.Engine.ProcessDetail(env.Ctx, res.ProcessID, admin)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if view.Process.Title != p.Title {
		t.Fatalf("title = %q, want %q", view.Process.Title, p.Title)
	}
	if view.Process.CompanyID == nil || *view.Process.CompanyID != "acme" {
		t.Fatalf("company not restored: %v", view.Process.CompanyID)
	}
	if len(view.Documents) != 3 || len(view.Answers) != 2 || len(view.Comments) != 1 || len(view.Transitions) != 1 {
		t.Fatalf("unexpected restored counts: docs=%d answers=%d comments=%d transitions=%d",
			len(view.Documents), len(view.Answers), len(view.Comments), len(view.Transitions))
	}

	oldIDs := map[string]bool{}
	for _, d := range oldDocs {
		oldIDs[d.ID] = true
	}
	summary := env.fieldID(t, res.ProcessID, "Summary")
	scan := env.fieldID(t, res.ProcessID, "Scan")
	for _, d := range view.Documents {
		if oldIDs[d.ID] {
			t.Fatalf("document %s kept its id", d.Name)
		}
		if d.Name == "scan.png" && (d.FieldID == nil || *d.FieldID != scan) {
			t.Fatalf("scan.png not re-attached to the new Scan field: %v", d.FieldID)
		}
	}
	for _, f := range view.Stages[0].Fields {
		if f.Label == "Detail" && (f.Condition == nil || f.Condition.FieldID != summary) {
			t.Fatalf("Detail condition not remapped: %+v", f.Condition)
		}
	}

	kinds := env.kinds(t, res.ProcessID)
	if kinds[0] != events.KindRestored {
		t.Fatalf("latest event = %s, want %s", kinds[0], events.KindRestored)
	}
	if !slices.Contains(kinds, events.KindCreated) || !slices.Contains(kinds, events.KindAnswersSaved) {
		t.Fatalf("history not carried over: %v", kinds)
	}
	expectTrashGone(t, env, item.ID)
}

// rewriteSnapshot decodes a process trash item, lets fn edit it and stores it back.
func rewriteSnapshot(t *testing.T, env *testEnv, trashID string, fn func(*snapshot.ProcessSnapshot)) {
	t.Helper()
	item, err := env.Engine.Repo.GetTrashItem(env.Ctx, trashID)
	if err != nil {
		t.Fatal(err)
	}
	envl, err := snapshot.Decode(item.Snapshot)
	if err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	fn(envl.Process)
	data, err := snapshot.Encode(envl)
	if err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE trash_items SET snapshot=? WHERE id=?`, data, trashID); err != nil {
		t.Fatalf("store snapshot: %v", err)
	}
}

func TestRestoreIsLossyOnUnmappableDependents(t *testing.T) {
	env := newTestEnv(t)
	p := populated(t, env)
	item, err := env.Engine.SoftDeleteProcess(env.Ctx, p.ID, ana)
	if err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	answersBefore := 0
	rewriteSnapshot(t, env, item.ID, func(s *snapshot.ProcessSnapshot) {
		// An answer whose field is gone, a condition on a missing field, and
		// two checklist rows for the same department.
		s.Answers = append(s.Answers, domain.Answer{ID: "orphan", ProcessID: p.ID, FieldID: "ghost-field", Value: "lost"})
		answersBefore = len(s.Answers)
		for i, f := range s.Stages[0].Fields {
			if f.Label == "Detail" {
				s.Stages[0].Fields[i].Condition.FieldID = "ghost"
			}
		}
		row := domain.ChecklistEntry{ProcessID: p.ID, DepartmentID: "sales", Position: 0}
		s.Checklist = []domain.ChecklistEntry{row, row}
	})

	res, err := env.Engine.Restore(env.Ctx, item.ID, ana)
	if err != nil {
		t.Fatalf("restore must succeed despite dependent losses: %v", err)
	}
	if want := map[string]int{"answer": 1, "checklist": 1}; !maps.Equal(res.Skipped, want) {
		t.Fatalf("skipped = %v, want %v", res.Skipped, want)
	}
	if want := []engine.ReferentialGap{{Entity: "field", Field: "condition", Ref: "ghost"}}; !slices.Equal(res.Warnings, want) {
		t.Fatalf("warnings = %v, want %v", res.Warnings, want)
	}

	view, err := env.Engine.ProcessDetail(env.Ctx, res.ProcessID, admin)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(view.Documents) != 3 {
		t.Fatalf("expected every document back, got %d", len(view.Documents))
	}
	if len(view.Answers) != 2 || len(view.Answers) > answersBefore {
		t.Fatalf("expected the 2 mappable answers of %d, got %d", answersBefore, len(view.Answers))
	}
	for _, f := range view.Stages[0].Fields {
		if f.Label == "Detail" && f.Condition != nil {
			t.Fatalf("condition on a missing field should be dropped, got %+v", f.Condition)
		}
	}
	checklist, err := env.Engine.Checklist(env.Ctx, res.ProcessID)
	if err != nil {
		t.Fatal(err)
	}
	if len(checklist) != 1 {
		t.Fatalf("expected the first checklist row to survive, got %d", len(checklist))
	}
	if kinds := env.kinds(t, res.ProcessID); kinds[0] != events.KindRestored {
		t.Fatalf("latest event = %s, want %s", kinds[0], events.KindRestored)
	}
	expectTrashGone(t, env, item.ID)
}

func TestRestoreDropsMissingCompany(t *testing.T) {
	env := newTestEnv(t)
	p := populated(t, env)
	item, err := env.Engine.SoftDeleteProcess(env.Ctx, p.ID, ana)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.Repo.DeleteCompany(env.Ctx, "acme"); err != nil {
		t.Fatal(err)
	}

	res, err := env.Engine.Restore(env.Ctx, item.ID, admin)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	want := engine.ReferentialGap{Entity: "process", Field: "company_id", Ref: "acme"}
	if len(res.Warnings) != 1 || res.Warnings[0] != want {
		t.Fatalf("warnings = %v, want [%v]", res.Warnings, want)
	}
	restored, err := env.Engine.GetProcess(env.Ctx, res.ProcessID)
	if err != nil {
		t.Fatal(err)
	}
	if restored.CompanyID != nil {
		t.Fatalf("company should be dropped, got %s", *restored.CompanyID)
	}
}

func TestRestoreExpiry(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, engine.ProcessCreateOptions{Flow: []string{"sales"}})
	item, err := env.Engine.SoftDeleteProcess(env.Ctx, p.ID, ana)
	if err != nil {
		t.Fatal(err)
	}

	env.now = env.now.Add(15*24*time.Hour + time.Second)
	_, err = env.Engine.Restore(env.Ctx, item.ID, ana)
	expectKind(t, err, engine.KindExpiredResource)

	untouched, err := env.Engine.Repo.GetTrashItem(env.Ctx, item.ID)
	if err != nil {
		t.Fatalf("expired item should stay until purged: %v", err)
	}
	if string(untouched.Snapshot) != string(item.Snapshot) || untouched.ExpiresAt != item.ExpiresAt {
		t.Fatal("failed restore modified the trash item")
	}

	n, err := env.Engine.PurgeExpired(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	expectTrashGone(t, env, item.ID)
}

func TestRestoreOnExpiryBoundary(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, engine.ProcessCreateOptions{Flow: []string{"sales"}})
	item, err := env.Engine.SoftDeleteProcess(env.Ctx, p.ID, ana)
	if err != nil {
		t.Fatal(err)
	}

	env.now = env.now.Add(15 * 24 * time.Hour)
	n, err := env.Engine.PurgeExpired(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("purged %d items at the exact expiry instant", n)
	}
	if _, err := env.Engine.Restore(env.Ctx, item.ID, ana); err != nil {
		t.Fatalf("restore at expiry: %v", err)
	}
}

func TestProcessTrashAuthorization(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, engine.ProcessCreateOptions{Flow: []string{"sales", "legal"}})

	_, err := env.Engine.SoftDeleteProcess(env.Ctx, p.ID, cy)
	expectKind(t, err, engine.KindPermissionDenied)
	if got := env.kinds(t, p.ID)[0]; got != events.KindPermissionDenied {
		t.Fatalf("latest event = %s, want %s", got, events.KindPermissionDenied)
	}

	item, err := env.Engine.SoftDeleteProcess(env.Ctx, p.ID, dee)
	if err != nil {
		t.Fatalf("members of the current department may delete: %v", err)
	}

	_, err = env.Engine.Restore(env.Ctx, item.ID, cy)
	expectKind(t, err, engine.KindPermissionDenied)
	err = env.Engine.HardDelete(env.Ctx, item.ID, ana)
	expectKind(t, err, engine.KindPermissionDenied)

	if err := env.Engine.HardDelete(env.Ctx, item.ID, dee); err != nil {
		t.Fatalf("hard delete by deleter: %v", err)
	}
	_, err = env.Engine.Restore(env.Ctx, item.ID, dee)
	expectKind(t, err, engine.KindNotFound)
}

func TestDocumentTrashRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, engine.ProcessCreateOptions{Flow: []string{"sales", "finance"}})
	doc, err := env.Engine.AddDocument(env.Ctx, engine.DocumentCreateOptions{
		ProcessID: p.ID, Name: "board.pdf", Visibility: domain.VisibilityRoles, AllowedRoles: []string{"MANAGER"}, Actor: ana,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.Engine.SoftDeleteDocument(env.Ctx, doc.ID, dee)
	expectKind(t, err, engine.KindPermissionDenied) // authority without visibility
	_, err = env.Engine.SoftDeleteDocument(env.Ctx, doc.ID, bo)
	expectKind(t, err, engine.KindPermissionDenied) // visibility without authority

	item, err := env.Engine.SoftDeleteDocument(env.Ctx, doc.ID, ana)
	if err != nil {
		t.Fatalf("soft delete document: %v", err)
	}
	if item.Visibility != domain.VisibilityRoles || !slices.Equal(item.AllowedRoles, []string{"MANAGER"}) {
		t.Fatalf("trash item lost the document policy: %+v", item)
	}
	if got := env.kinds(t, p.ID)[0]; got != events.KindDocumentDeleted {
		t.Fatalf("latest event = %s, want %s", got, events.KindDocumentDeleted)
	}

	hidden, err := env.Engine.ListTrash(env.Ctx, dee)
	if err != nil {
		t.Fatal(err)
	}
	if len(hidden) != 0 {
		t.Fatalf("dee should not see the item, got %d", len(hidden))
	}
	visible, err := env.Engine.ListTrash(env.Ctx, bo)
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 1 {
		t.Fatalf("bo should see the item, got %d", len(visible))
	}

	_, err = env.Engine.Restore(env.Ctx, item.ID, dee)
	expectKind(t, err, engine.KindPermissionDenied)
	res, err := env.Engine.Restore(env.Ctx, item.ID, bo)
	if err != nil {
		t.Fatalf("restore by a viewer: %v", err)
	}
	if res.ProcessID != p.ID || res.DocumentID == doc.ID {
		t.Fatalf("unexpected restore result: %+v", res)
	}

	docs, err := env.Engine.ListDocuments(env.Ctx, p.ID, admin)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ID != res.DocumentID {
		t.Fatalf("restored document missing: %+v", docs)
	}
	if got := env.kinds(t, p.ID)[0]; got != events.KindDocumentRestored {
		t.Fatalf("latest event = %s, want %s", got, events.KindDocumentRestored)
	}
}

func TestDocumentRestoreNeedsParentProcess(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, engine.ProcessCreateOptions{Flow: []string{"sales"}})
	doc, err := env.Engine.AddDocument(env.Ctx, engine.DocumentCreateOptions{ProcessID: p.ID, Name: "a.pdf", Actor: ana})
	if err != nil {
		t.Fatal(err)
	}
	docItem, err := env.Engine.SoftDeleteDocument(env.Ctx, doc.ID, ana)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SoftDeleteProcess(env.Ctx, p.ID, ana); err != nil {
		t.Fatal(err)
	}

	_, err = env.Engine.Restore(env.Ctx, docItem.ID, ana)
	expectKind(t, err, engine.KindNotFound)
	if _, err := env.Engine.Repo.GetTrashItem(env.Ctx, docItem.ID); err != nil {
		t.Fatalf("failed restore should keep the item: %v", err)
	}
}

func TestDocumentRestoreFollowsRestoredProcess(t *testing.T) {
	env := newTestEnv(t)
	p := populated(t, env)
	docs, err := env.Engine.ListDocuments(env.Ctx, p.ID, admin)
	if err != nil {
		t.Fatal(err)
	}
	var scan domain.Document
	for _, d := range docs {
		if d.Name == "scan.png" {
			scan = d
		}
	}
	docItem, err := env.Engine.SoftDeleteDocument(env.Ctx, scan.ID, ana)
	if err != nil {
		t.Fatalf("soft delete document: %v", err)
	}

	// Two delete/restore cycles so the document has to follow a chain of ids.
	processID := p.ID
	for i := 0; i < 2; i++ {
		item, err := env.Engine.SoftDeleteProcess(env.Ctx, processID, ana)
		if err != nil {
			t.Fatalf("soft delete process (cycle %d): %v", i, err)
		}
		res, err := env.Engine.Restore(env.Ctx, item.ID, ana)
		if err != nil {
			t.Fatalf("restore process (cycle %d): %v", i, err)
		}
		processID = res.ProcessID
	}

	res, err := env.Engine.Restore(env.Ctx, docItem.ID, ana)
	if err != nil {
		t.Fatalf("restore document after its process came back: %v", err)
	}
	if res.ProcessID != processID {
		t.Fatalf("document restored onto %s, want %s", res.ProcessID, processID)
	}
	// The old Scan field id does not exist on the restored process.
	if want := []engine.ReferentialGap{{Entity: "document", Field: "field_id", Ref: *scan.FieldID}}; !slices.Equal(res.Warnings, want) {
		t.Fatalf("warnings = %v, want %v", res.Warnings, want)
	}

	restored, err := env.Engine.ListDocuments(env.Ctx, processID, admin)
	if err != nil {
		t.Fatal(err)
	}
	if len(restored) != 3 {
		t.Fatalf("expected 3 documents on the restored process, got %d", len(restored))
	}
	if got := env.kinds(t, processID)[0]; got != events.KindDocumentRestored {
		t.Fatalf("latest event = %s, want %s", got, events.KindDocumentRestored)
	}
	expectTrashGone(t, env, docItem.ID)
}

func TestListTrashForPrivilegedActor(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, engine.ProcessCreateOptions{Flow: []string{"sales"}})
	doc, err := env.Engine.AddDocument(env.Ctx, engine.DocumentCreateOptions{
		ProcessID: p.ID, Name: "secret.pdf", Visibility: domain.VisibilityNone, Actor: ana,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SoftDeleteDocument(env.Ctx, doc.ID, ana); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SoftDeleteProcess(env.Ctx, p.ID, ana); err != nil {
		t.Fatal(err)
	}

	all, err := env.Engine.ListTrash(env.Ctx, admin)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("admin sees %d items, want 2", len(all))
	}
	mine, err := env.Engine.ListTrash(env.Ctx, ana)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 {
		t.Fatalf("deleter sees %d items, want 2", len(mine))
	}
	others, err := env.Engine.ListTrash(env.Ctx, cy)
	if err != nil {
		t.Fatal(err)
	}
	// Process items are public; NONE documents are not.
	if len(others) != 1 || others[0].Kind != domain.TrashKindProcess {
		t.Fatalf("cy should see only the process item, got %+v", others)
	}
}

func TestDocumentEventsCarryDepartmentName(t *testing.T) {
	env := newTestEnv(t)
	p := env.create(t, engine.ProcessCreateOptions{Flow: []string{"sales", "finance"}})
	doc, err := env.Engine.AddDocument(env.Ctx, engine.DocumentCreateOptions{ProcessID: p.ID, Name: "quote.pdf", Actor: ana})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddDocument(env.Ctx, engine.DocumentCreateOptions{
		ProcessID: p.ID, Name: "budget.pdf", DepartmentID: "finance", Actor: ana,
	}); err != nil {
		t.Fatal(err)
	}
	item, err := env.Engine.SoftDeleteDocument(env.Ctx, doc.ID, ana)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Restore(env.Ctx, item.ID, ana); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.SoftDeleteProcess(env.Ctx, p.ID, cy)
	expectKind(t, err, engine.KindPermissionDenied)

	history, err := env.Engine.Timeline(env.Ctx, p.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string][]string{
		events.KindDocumentAdded:    {"Finance", "Sales"},
		events.KindDocumentDeleted:  {"Sales"},
		events.KindDocumentRestored: {"Sales"},
		events.KindPermissionDenied: {"Sales"},
	}
	got := map[string][]string{}
	for _, ev := range history {
		if _, ok := want[ev.Kind]; !ok {
			continue
		}
		if ev.DepartmentLabel == nil {
			t.Fatalf("%s event has no department label", ev.Kind)
		}
		got[ev.Kind] = append(got[ev.Kind], *ev.DepartmentLabel)
	}
	for kind, labels := range want {
		if !slices.Equal(got[kind], labels) {
			t.Fatalf("%s labels = %v, want %v", kind, got[kind], labels)
		}
	}
}
