package server

import (
	"processline/internal/domain"
	"processline/internal/engine"
)

// Request payloads

type CreateProcessRequest struct {
	Title        string              `json:"title" minLength:"1"`
	Description  string              `json:"description,omitempty"`
	Flow         []string            `json:"flow" minItems:"1"`
	Priority     string              `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH,URGENT"`
	ParallelMode bool                `json:"parallel_mode,omitempty"`
	AssigneeID   string              `json:"assignee_id,omitempty"`
	CompanyID    string              `json:"company_id,omitempty"`
	Stages       []engine.StageInput `json:"stages,omitempty"`
}

type SetStatusRequest struct {
	Status string `json:"status" enum:"IN_PROGRESS,PAUSED,CANCELLED"`
}

type SaveAnswersRequest struct {
	Answers map[string]string `json:"answers"`
}

type ChecklistRequest struct {
	Completed bool `json:"completed"`
}

type CreateDocumentRequest struct {
	Name         string   `json:"name" minLength:"1"`
	FieldID      string   `json:"field_id,omitempty"`
	DepartmentID string   `json:"department_id,omitempty"`
	Category     string   `json:"category,omitempty"`
	StorageKey   string   `json:"storage_key,omitempty"`
	Visibility   string   `json:"visibility,omitempty" enum:"PUBLIC,ROLES,USERS,NONE"`
	AllowedRoles []string `json:"allowed_roles,omitempty"`
	AllowedUsers []string `json:"allowed_users,omitempty"`
}

type CommentRequest struct {
	Body string `json:"body" minLength:"1"`
}

// Responses

type ProcessListResponse struct {
	Items []domain.Process `json:"items"`
}

type DocumentListResponse struct {
	Items []domain.Document `json:"items"`
}

type ChecklistResponse struct {
	Items []domain.ChecklistEntry `json:"items"`
}

type TimelineResponse struct {
	Items []domain.HistoryEvent `json:"items"`
}

type TrashListResponse struct {
	Items []domain.TrashItem `json:"items"`
}

type AnswersResponse struct {
	Items []domain.Answer `json:"items"`
}

type PurgeResponse struct {
	Purged int64 `json:"purged"`
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
