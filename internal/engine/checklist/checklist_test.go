package checklist_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"processline/internal/domain"
	"processline/internal/engine/checklist"
)

const now = "2024-01-01T00:00:00Z"

func TestCompleteRequiresPredecessor(t *testing.T) {
	list := checklist.Build("p1", []string{"d1", "d2", "d3"})

	_, _, err := checklist.Apply(list, "d2", true, now, "u")
	require.Error(t, err)
	assert.True(t, errors.Is(err, checklist.ErrOutOfOrder))
	var oe checklist.OrderError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "d1", oe.BlockedBy)

	list, entry, err := checklist.Apply(list, "d1", true, now, "u")
	require.NoError(t, err)
	assert.True(t, entry.Completed)
	require.NotNil(t, entry.CompletedAt)
	assert.Equal(t, now, *entry.CompletedAt)

	list, _, err = checklist.Apply(list, "d2", true, now, "u")
	require.NoError(t, err)
	assert.True(t, list[1].Completed)
	assert.False(t, list[2].Completed)
}

func TestFirstPositionAlwaysEligible(t *testing.T) {
	list := checklist.Build("p1", []string{"d1", "d2"})
	_, entry, err := checklist.Apply(list, "d1", true, now, "u")
	require.NoError(t, err)
	assert.Equal(t, "u", *entry.CompletedBy)
}

func TestUncompleteBlockedByLaterEntries(t *testing.T) {
	list := checklist.Build("p1", []string{"d1", "d2", "d3"})
	var err error
	for _, d := range []string{"d1", "d2", "d3"} {
		list, _, err = checklist.Apply(list, d, true, now, "u")
		require.NoError(t, err)
	}

	_, _, err = checklist.Apply(list, "d1", false, now, "u")
	assert.ErrorIs(t, err, checklist.ErrOutOfOrder)
	_, _, err = checklist.Apply(list, "d2", false, now, "u")
	assert.ErrorIs(t, err, checklist.ErrOutOfOrder)

	list, entry, err := checklist.Apply(list, "d3", false, now, "u")
	require.NoError(t, err)
	assert.False(t, entry.Completed)
	assert.Nil(t, entry.CompletedAt)

	_, _, err = checklist.Apply(list, "d2", false, now, "u")
	require.NoError(t, err)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	list := checklist.Build("p1", []string{"d1", "d2"})
	_, _, err := checklist.Apply(list, "d1", true, now, "u")
	require.NoError(t, err)
	assert.False(t, list[0].Completed)
}

func TestApplyOrdersByPosition(t *testing.T) {
	list := []domain.ChecklistEntry{
		{DepartmentID: "d2", Position: 1},
		{DepartmentID: "d1", Position: 0, Completed: true},
	}
	out, _, err := checklist.Apply(list, "d2", true, now, "u")
	require.NoError(t, err)
	assert.Equal(t, "d1", out[0].DepartmentID)
	assert.Equal(t, "d2", out[1].DepartmentID)
}

func TestUnknownDepartment(t *testing.T) {
	_, _, err := checklist.Apply(checklist.Build("p1", []string{"d1", "d2"}), "nope", true, now, "u")
	assert.ErrorIs(t, err, checklist.ErrNotFound)
}

func TestApplies(t *testing.T) {
	assert.False(t, checklist.Applies(domain.Process{ParallelMode: true, Flow: []string{"d1"}}))
	assert.False(t, checklist.Applies(domain.Process{Flow: []string{"d1", "d2"}}))
	assert.True(t, checklist.Applies(domain.Process{ParallelMode: true, Flow: []string{"d1", "d2"}}))
}
