package validate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"processline/internal/domain"
	"processline/internal/engine/validate"
)

func ptr(s string) *string { return &s }

func TestNoRequirementsAlwaysPasses(t *testing.T) {
	stage := domain.Stage{Fields: []domain.Field{{ID: "f1", Label: "Notes", Kind: domain.FieldKindText}}}
	res := validate.Validate(validate.Input{Stage: stage})
	assert.True(t, res.OK())
	assert.False(t, validate.HasRequirements(stage))
}

func TestRequiredTextField(t *testing.T) {
	stage := domain.Stage{Fields: []domain.Field{{ID: "f1", Label: "Budget code", Kind: domain.FieldKindText, Required: true}}}

	res := validate.Validate(validate.Input{Stage: stage})
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "f1", res.Issues[0].FieldID)
	assert.Equal(t, validate.SeverityError, res.Issues[0].Severity)
	assert.Contains(t, res.Issues[0].Message, "Budget code")

	res = validate.Validate(validate.Input{Stage: stage, Answers: []domain.Answer{{FieldID: "f1", Value: "   "}}})
	assert.False(t, res.OK(), "whitespace-only answer must not satisfy")

	res = validate.Validate(validate.Input{Stage: stage, Answers: []domain.Answer{{FieldID: "f1", Value: "CC-42"}}})
	assert.True(t, res.OK())
}

func TestFileFieldNeedsDocument(t *testing.T) {
	stage := domain.Stage{Fields: []domain.Field{{ID: "f1", Label: "Signed contract", Kind: domain.FieldKindFile, Required: true}}}

	res := validate.Validate(validate.Input{Stage: stage, Answers: []domain.Answer{{FieldID: "f1", Value: "contract.pdf"}}})
	require.Len(t, res.Issues, 1)

	res = validate.Validate(validate.Input{Stage: stage, Documents: []domain.Document{{ID: "d1", Name: "x.pdf", FieldID: ptr("other")}}})
	require.Len(t, res.Issues, 1)

	res = validate.Validate(validate.Input{Stage: stage, Documents: []domain.Document{{ID: "d1", Name: "x.pdf", FieldID: ptr("f1")}}})
	assert.True(t, res.OK())
}

func TestConditionalFieldExemption(t *testing.T) {
	stage := domain.Stage{Fields: []domain.Field{
		{ID: "kind", Label: "Kind", Kind: domain.FieldKindSelect},
		{ID: "reason", Label: "Reason", Kind: domain.FieldKindText, Required: true,
			Condition: &domain.Condition{FieldID: "kind", Operator: domain.OpEquals, Value: "other"}},
	}}

	res := validate.Validate(validate.Input{Stage: stage, Answers: []domain.Answer{{FieldID: "kind", Value: "standard"}}})
	assert.True(t, res.OK(), "hidden field is exempt")

	res = validate.Validate(validate.Input{Stage: stage, Answers: []domain.Answer{{FieldID: "kind", Value: "other"}}})
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "reason", res.Issues[0].FieldID)
}

func TestVisibleOperators(t *testing.T) {
	answers := map[string]string{"src": "alpha, beta"}
	field := func(op, value string) domain.Field {
		return domain.Field{ID: "x", Condition: &domain.Condition{FieldID: "src", Operator: op, Value: value}}
	}
	assert.True(t, validate.Visible(field(domain.OpEquals, "alpha, beta"), answers))
	assert.False(t, validate.Visible(field(domain.OpEquals, "alpha"), answers))
	assert.True(t, validate.Visible(field(domain.OpNotEquals, "alpha"), answers))
	assert.False(t, validate.Visible(field(domain.OpNotEquals, "alpha, beta"), answers))
	assert.True(t, validate.Visible(field(domain.OpContains, "beta"), answers))
	assert.False(t, validate.Visible(field(domain.OpContains, "gamma"), answers))
	assert.True(t, validate.Visible(field("greater_than", "1"), answers), "unknown operator keeps field visible")
	assert.True(t, validate.Visible(domain.Field{ID: "plain"}, answers))
}

func TestRequiredDocumentTypes(t *testing.T) {
	stage := domain.Stage{RequiredDocuments: []string{"Invoice", "Purchase order", " "}}
	docs := []domain.Document{
		{ID: "d1", Name: "scan.pdf", Category: "invoice"},
	}
	res := validate.Validate(validate.Input{Stage: stage, Documents: docs})
	require.Len(t, res.Issues, 1)
	assert.Equal(t, "Purchase order", res.Issues[0].Requirement)

	docs = append(docs, domain.Document{ID: "d2", Name: "ACME purchase order 2024.pdf"})
	res = validate.Validate(validate.Input{Stage: stage, Documents: docs})
	assert.True(t, res.OK())
}

func TestDocumentNameMatchesWholeWords(t *testing.T) {
	stage := domain.Stage{RequiredDocuments: []string{"ID"}}
	cases := []struct {
		name string
		ok   bool
	}{
		{"valid_receipt.pdf", false},
		{"idea.txt", false},
		{"ID.pdf", true},
		{"  id  ", true},
		{"passport id-scan.png", true},
		{".id", true},
	}
	for _, tc := range cases {
		res := validate.Validate(validate.Input{Stage: stage, Documents: []domain.Document{{ID: "d1", Name: tc.name}}})
		assert.Equal(t, tc.ok, res.OK(), "name %q", tc.name)
	}

	res := validate.Validate(validate.Input{Stage: stage, Documents: []domain.Document{{ID: "d1", Name: "x.pdf", Category: " id "}}})
	assert.True(t, res.OK(), "category compares case-insensitively after trimming")
}

func TestAggregatesEveryIssue(t *testing.T) {
	stage := domain.Stage{
		RequiredDocuments: []string{"Invoice"},
		Fields: []domain.Field{
			{ID: "a", Label: "A", Kind: domain.FieldKindText, Required: true},
			{ID: "b", Label: "B", Kind: domain.FieldKindNumber, Required: true},
			{ID: "c", Label: "C", Kind: domain.FieldKindFile, Required: true},
		},
	}
	res := validate.Validate(validate.Input{Stage: stage})
	assert.Len(t, res.Issues, 4)
	assert.Len(t, res.Messages(), 4)
}
