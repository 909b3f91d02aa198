// Package checklist enforces flow-ordered sign-off for processes whose
// departments work in parallel.
package checklist

import (
	"errors"
	"fmt"
	"sort"

	"processline/internal/domain"
)

var (
	ErrOutOfOrder = errors.New("checklist out of order")
	ErrNotFound   = errors.New("checklist entry not found")
)

// OrderError names the entry that blocks the requested change.
type OrderError struct {
	DepartmentID string
	BlockedBy    string
	Completed    bool
}

func (e OrderError) Error() string {
	if e.Completed {
		return fmt.Sprintf("cannot complete %s before %s is completed", e.DepartmentID, e.BlockedBy)
	}
	return fmt.Sprintf("cannot reopen %s while %s is completed", e.DepartmentID, e.BlockedBy)
}

func (e OrderError) Is(target error) bool {
	return target == ErrOutOfOrder
}

// Applies reports whether checklist sequencing is in effect for the process.
func Applies(p domain.Process) bool {
	return p.ParallelMode && len(p.Flow) > 1
}

// Build returns one open entry per flow position.
func Build(processID string, flow []string) []domain.ChecklistEntry {
	out := make([]domain.ChecklistEntry, 0, len(flow))
	for i, dep := range flow {
		out = append(out, domain.ChecklistEntry{ProcessID: processID, DepartmentID: dep, Position: i})
	}
	return out
}

// Apply sets the completion flag of departmentID and returns the updated list
// ordered by position together with the changed entry. The input is not modified.
func Apply(entries []domain.ChecklistEntry, departmentID string, completed bool, now, actorID string) ([]domain.ChecklistEntry, domain.ChecklistEntry, error) {
	list := make([]domain.ChecklistEntry, len(entries))
	copy(list, entries)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Position < list[j].Position })

	idx := -1
	for i, e := range list {
		if e.DepartmentID == departmentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, domain.ChecklistEntry{}, fmt.Errorf("%w: %s", ErrNotFound, departmentID)
	}
	if completed {
		if idx > 0 && !list[idx-1].Completed {
			return nil, domain.ChecklistEntry{}, OrderError{DepartmentID: departmentID, BlockedBy: list[idx-1].DepartmentID, Completed: true}
		}
		at, by := now, actorID
		list[idx].Completed = true
		list[idx].CompletedAt = &at
		list[idx].CompletedBy = &by
		return list, list[idx], nil
	}
	for _, later := range list[idx+1:] {
		if later.Completed {
			return nil, domain.ChecklistEntry{}, OrderError{DepartmentID: departmentID, BlockedBy: later.DepartmentID}
		}
	}
	list[idx].Completed = false
	list[idx].CompletedAt = nil
	list[idx].CompletedBy = nil
	return list, list[idx], nil
}
