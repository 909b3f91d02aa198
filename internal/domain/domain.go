package domain

import "math"

// Process statuses.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusPaused     = "PAUSED"
	StatusFinished   = "FINISHED"
	StatusCancelled  = "CANCELLED"
)

// Document visibility modes.
const (
	VisibilityPublic = "PUBLIC"
	VisibilityRoles  = "ROLES"
	VisibilityUsers  = "USERS"
	VisibilityNone   = "NONE"
)

// Trash item kinds.
const (
	TrashKindProcess  = "PROCESS"
	TrashKindDocument = "DOCUMENT"
)

// Field kinds. FieldKindFile is satisfied by an attached document rather than an answer.
const (
	FieldKindText     = "text"
	FieldKindTextarea = "textarea"
	FieldKindNumber   = "number"
	FieldKindDate     = "date"
	FieldKindSelect   = "select"
	FieldKindCheckbox = "checkbox"
	FieldKindFile     = "file"
)

// Condition operators.
const (
	OpEquals    = "equals"
	OpNotEquals = "not_equals"
	OpContains  = "contains"
)

type Process struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Flow         []string `json:"flow"`
	CurrentIndex int      `json:"current_index"`
	Status       string   `json:"status" enum:"IN_PROGRESS,PAUSED,FINISHED,CANCELLED"`
	Priority     string   `json:"priority"`
	Progress     int      `json:"progress"`
	ParallelMode bool     `json:"parallel_mode"`
	CreatedBy    string   `json:"created_by"`
	AssigneeID   *string  `json:"assignee_id,omitempty"`
	CompanyID    *string  `json:"company_id,omitempty"`
	Version      int      `json:"version"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	UpdatedAt    string   `json:"updated_at" format:"date-time"`
}

// CurrentDepartment returns the department at CurrentIndex, or "" when the index is out of range.
func (p Process) CurrentDepartment() string {
	if p.CurrentIndex < 0 || p.CurrentIndex >= len(p.Flow) {
		return ""
	}
	return p.Flow[p.CurrentIndex]
}

// LastIndex is the index of the final department in the flow.
func (p Process) LastIndex() int {
	return len(p.Flow) - 1
}

// Progress derives the completion percentage for a position in a flow of the given length.
func Progress(index, flowLen int) int {
	if flowLen <= 0 {
		return 0
	}
	return int(math.Round(float64(index+1) / float64(flowLen) * 100))
}

type Condition struct {
	FieldID  string `json:"field_id"`
	Operator string `json:"operator" enum:"equals,not_equals,contains"`
	Value    string `json:"value"`
}

type Field struct {
	ID        string     `json:"id"`
	StageID   string     `json:"stage_id"`
	Position  int        `json:"position"`
	Label     string     `json:"label"`
	Kind      string     `json:"kind"`
	Required  bool       `json:"required"`
	Options   []string   `json:"options,omitempty"`
	Condition *Condition `json:"condition,omitempty"`
}

type Stage struct {
	ID                string   `json:"id"`
	ProcessID         string   `json:"process_id"`
	DepartmentID      string   `json:"department_id"`
	RequiredDocuments []string `json:"required_documents,omitempty"`
	Fields            []Field  `json:"fields"`
}

type Answer struct {
	ID        string `json:"id"`
	ProcessID string `json:"process_id"`
	FieldID   string `json:"field_id"`
	Value     string `json:"value"`
	UpdatedBy string `json:"updated_by"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Document struct {
	ID           string   `json:"id"`
	ProcessID    string   `json:"process_id"`
	FieldID      *string  `json:"field_id,omitempty"`
	DepartmentID *string  `json:"department_id,omitempty"`
	Name         string   `json:"name"`
	Category     string   `json:"category,omitempty"`
	StorageKey   string   `json:"storage_key,omitempty"`
	Visibility   string   `json:"visibility" enum:"PUBLIC,ROLES,USERS,NONE"`
	AllowedRoles []string `json:"allowed_roles,omitempty"`
	AllowedUsers []string `json:"allowed_users,omitempty"`
	UploadedBy   string   `json:"uploaded_by"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
}

type Comment struct {
	ID        string `json:"id"`
	ProcessID string `json:"process_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Transition struct {
	ID           string  `json:"id"`
	ProcessID    string  `json:"process_id"`
	DepartmentID string  `json:"department_id"`
	EnteredAt    string  `json:"entered_at" format:"date-time"`
	ExitedAt     *string `json:"exited_at,omitempty" format:"date-time"`
}

type ChecklistEntry struct {
	ProcessID    string  `json:"process_id"`
	DepartmentID string  `json:"department_id"`
	Position     int     `json:"position"`
	Completed    bool    `json:"completed"`
	CompletedAt  *string `json:"completed_at,omitempty" format:"date-time"`
	CompletedBy  *string `json:"completed_by,omitempty"`
}

type HistoryEvent struct {
	ID              int64   `json:"id"`
	ProcessID       string  `json:"process_id"`
	Kind            string  `json:"kind"`
	Description     string  `json:"description"`
	ActorID         string  `json:"actor_id"`
	DepartmentLabel *string `json:"department_label,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type TrashItem struct {
	ID            string   `json:"id"`
	Kind          string   `json:"kind" enum:"PROCESS,DOCUMENT"`
	EntityID      string   `json:"entity_id"`
	Title         string   `json:"title"`
	SchemaVersion int      `json:"schema_version"`
	Snapshot      []byte   `json:"-"`
	Visibility    string   `json:"visibility"`
	AllowedRoles  []string `json:"allowed_roles,omitempty"`
	AllowedUsers  []string `json:"allowed_users,omitempty"`
	DepartmentID  string   `json:"department_id,omitempty"`
	OwnerID       string   `json:"owner_id"`
	DeletedBy     string   `json:"deleted_by"`
	DeletedAt     string   `json:"deleted_at" format:"date-time"`
	ExpiresAt     string   `json:"expires_at" format:"date-time"`
}

type Department struct {
	ID                string   `json:"id" yaml:"id"`
	Name              string   `json:"name" yaml:"name"`
	RequiredDocuments []string `json:"required_documents,omitempty" yaml:"required_documents"`
}

type User struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name,omitempty" yaml:"name"`
	Email        string `json:"email,omitempty" yaml:"email"`
	Role         string `json:"role" yaml:"role"`
	DepartmentID string `json:"department_id,omitempty" yaml:"department_id"`
}

type Company struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}
