// Package validate decides whether a process may leave its current department.
package validate

import (
	"fmt"
	"path"
	"slices"
	"strings"
	"unicode"

	"processline/internal/domain"
)

const SeverityError = "error"

type Input struct {
	Stage     domain.Stage
	Documents []domain.Document
	Answers   []domain.Answer
}

// Issue is one unmet requirement. FieldID is set for questionnaire fields,
// Requirement for mandatory document types.
type Issue struct {
	FieldID     string `json:"field_id,omitempty"`
	Requirement string `json:"requirement,omitempty"`
	Message     string `json:"message"`
	Severity    string `json:"severity"`
}

type Result struct {
	Issues []Issue `json:"issues"`
}

func (r Result) OK() bool {
	return len(r.Issues) == 0
}

// Messages flattens the issues into their human-readable form.
func (r Result) Messages() []string {
	out := make([]string, 0, len(r.Issues))
	for _, is := range r.Issues {
		out = append(out, is.Message)
	}
	return out
}

// HasRequirements reports whether the stage declares anything mandatory.
func HasRequirements(stage domain.Stage) bool {
	if len(nonEmpty(stage.RequiredDocuments)) > 0 {
		return true
	}
	for _, f := range stage.Fields {
		if f.Required {
			return true
		}
	}
	return false
}

// Validate checks required fields and required document types of a stage.
// Stages with no mandatory requirements always pass.
func Validate(in Input) Result {
	var res Result
	if !HasRequirements(in.Stage) {
		return res
	}
	answers := make(map[string]string, len(in.Answers))
	for _, a := range in.Answers {
		answers[a.FieldID] = a.Value
	}
	for _, f := range in.Stage.Fields {
		if !f.Required || !Visible(f, answers) {
			continue
		}
		if satisfied(f, answers, in.Documents) {
			continue
		}
		msg := fmt.Sprintf("field %q is required", f.Label)
		if f.Kind == domain.FieldKindFile {
			msg = fmt.Sprintf("field %q requires an attached document", f.Label)
		}
		res.Issues = append(res.Issues, Issue{FieldID: f.ID, Message: msg, Severity: SeverityError})
	}
	for _, req := range nonEmpty(in.Stage.RequiredDocuments) {
		if documentPresent(req, in.Documents) {
			continue
		}
		res.Issues = append(res.Issues, Issue{
			Requirement: req,
			Message:     fmt.Sprintf("document %q is required", req),
			Severity:    SeverityError,
		})
	}
	return res
}

// Visible applies the field's conditional-visibility rule to the current answers.
// Fields without a rule, or with an unknown operator, are visible.
func Visible(f domain.Field, answers map[string]string) bool {
	c := f.Condition
	if c == nil || c.FieldID == "" {
		return true
	}
	got := strings.TrimSpace(answers[c.FieldID])
	want := strings.TrimSpace(c.Value)
	switch c.Operator {
	case domain.OpEquals:
		return got == want
	case domain.OpNotEquals:
		return got != want
	case domain.OpContains:
		return strings.Contains(got, want)
	default:
		return true
	}
}

func satisfied(f domain.Field, answers map[string]string, docs []domain.Document) bool {
	if f.Kind == domain.FieldKindFile {
		for _, d := range docs {
			if d.FieldID != nil && *d.FieldID == f.ID {
				return true
			}
		}
		return false
	}
	return strings.TrimSpace(answers[f.ID]) != ""
}

// documentPresent: a category equal to the requirement, or a file name whose
// words contain the requirement's words in order ("ACME purchase order.pdf"
// satisfies "Purchase order", "valid_receipt.pdf" does not satisfy "ID").
func documentPresent(req string, docs []domain.Document) bool {
	want := words(req)
	for _, d := range docs {
		if strings.EqualFold(strings.TrimSpace(d.Category), strings.TrimSpace(req)) {
			return true
		}
		name := strings.TrimSpace(d.Name)
		if ext := path.Ext(name); ext != "" && ext != name {
			name = strings.TrimSuffix(name, ext)
		}
		if containsRun(words(name), want) {
			return true
		}
	}
	return false
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsRun(haystack, needle []string) bool {
	if len(needle) == 0 {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if slices.Equal(haystack[i:i+len(needle)], needle) {
			return true
		}
	}
	return false
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
