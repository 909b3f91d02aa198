package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"processline/internal/domain"
	"processline/internal/engine"
	"processline/internal/engine/auth"
	"processline/internal/observability"
	"processline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Metrics  *observability.Metrics
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"cannot advance from legal: 1 unmet requirement(s)"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope of every non-2xx response.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the processline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, errorDetails(errs))
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema violations are client input errors; 422 is kept for unmet requirements.
			status = http.StatusBadRequest
		}
		return newAPIError(status, "", msg, errorDetails(errs))
	}

	router := chi.NewRouter()
	if cfg.Metrics != nil {
		router.Use(cfg.Metrics.MetricsMiddleware)
	}
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	router.Use(requestLogger(logger))
	if cfg.Gatherer != nil {
		router.Method(http.MethodGet, "/metrics", observability.Handler(cfg.Gatherer))
	}
	hcfg := huma.DefaultConfig("Processline API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	hcfg.SchemasPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{e: cfg.Engine, log: logger}
	registerHealth(group)
	h.registerProcesses(group)
	h.registerWorkflow(group)
	h.registerChecklist(group)
	h.registerDocuments(group)
	h.registerTrash(group)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func errorDetails(errs []error) map[string]any {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return map[string]any{"errors": msgs}
}

var kindStatus = map[engine.ErrorKind]int{
	engine.KindNotFound:         http.StatusNotFound,
	engine.KindPermissionDenied: http.StatusForbidden,
	engine.KindInvalidState:     http.StatusConflict,
	engine.KindValidationFailed: http.StatusUnprocessableEntity,
	engine.KindOutOfOrder:       http.StatusConflict,
	engine.KindExpiredResource:  http.StatusGone,
	engine.KindConflict:         http.StatusConflict,
	engine.KindInvalidInput:     http.StatusBadRequest,
}

// handleError maps engine errors to the API envelope. Untyped errors are
// logged and reported as internal errors without their text.
func (h handlers) handleError(ctx context.Context, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ee *engine.Error
	if errors.As(err, &ee) {
		var details map[string]any
		if len(ee.Issues) > 0 {
			details = map[string]any{"issues": ee.Issues}
		}
		return newAPIError(kindStatus[ee.Kind], string(ee.Kind), ee.Message, details)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	observability.LoggerFrom(ctx, h.log).Error("request failed", zap.Error(err))
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "permission_denied"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// requestLogger scopes the logger to the request and, once authenticated, its actor.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := logger.With(zap.String("method", r.Method), zap.String("path", r.URL.Path))
			if a, ok := auth.ActorFrom(r.Context()); ok {
				l = l.With(zap.String("actor_id", a.ID))
			}
			next.ServeHTTP(w, r.WithContext(observability.WithLogger(r.Context(), l)))
		})
	}
}

func actorFromContext(ctx context.Context) (auth.Actor, huma.StatusError) {
	if a, ok := auth.ActorFrom(ctx); ok {
		return a, nil
	}
	return auth.Actor{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(specPath))
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(specURL string) string {
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <title>Processline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => { SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' }); };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type handlers struct {
	e   engine.Engine
	log *zap.Logger
}

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
}

type processPath struct {
	ID string `path:"id"`
}

type processBody struct {
	Body domain.Process `json:"body"`
}

func (h handlers) registerProcesses(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-process",
		Method:        http.MethodPost,
		Path:          "/processes",
		Summary:       "Create process",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProcessRequest `json:"body"`
	}) (*processBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := h.e.CreateProcess(ctx, engine.ProcessCreateOptions{
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			Flow:         input.Body.Flow,
			Priority:     input.Body.Priority,
			ParallelMode: input.Body.ParallelMode,
			AssigneeID:   input.Body.AssigneeID,
			CompanyID:    input.Body.CompanyID,
			Stages:       input.Body.Stages,
			Actor:        actor,
		})
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &processBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-processes",
		Method:      http.MethodGet,
		Path:        "/processes",
		Summary:     "List processes",
	}, func(ctx context.Context, input *struct {
		Status       string `query:"status" enum:"IN_PROGRESS,PAUSED,FINISHED,CANCELLED"`
		DepartmentID string `query:"department_id"`
		Limit        int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body ProcessListResponse `json:"body"`
	}, error) {
		items, err := h.e.ListProcesses(ctx, repo.ProcessFilters{Status: input.Status, DepartmentID: input.DepartmentID, Limit: input.Limit})
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body ProcessListResponse `json:"body"`
		}{Body: ProcessListResponse{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-process",
		Method:      http.MethodGet,
		Path:        "/processes/{id}",
		Summary:     "Get process with stages, answers, visible documents and checklist",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *processPath) (*struct {
		Body engine.ProcessView `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		v, err := h.e.ProcessDetail(ctx, input.ID, actor)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		v.Stages = nonNil(v.Stages)
		v.Answers = nonNil(v.Answers)
		v.Documents = nonNil(v.Documents)
		v.Comments = nonNil(v.Comments)
		v.Transitions = nonNil(v.Transitions)
		return &struct {
			Body engine.ProcessView `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "duplicate-process",
		Method:        http.MethodPost,
		Path:          "/processes/{id}/duplicate",
		Summary:       "Duplicate a process definition",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *processPath) (*processBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := h.e.DuplicateProcess(ctx, input.ID, actor)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &processBody{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "save-answers",
		Method:      http.MethodPut,
		Path:        "/processes/{id}/answers",
		Summary:     "Save field answers",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body SaveAnswersRequest `json:"body"`
	}) (*struct {
		Body AnswersResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		saved, err := h.e.SaveAnswers(ctx, input.ID, input.Body.Answers, actor)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body AnswersResponse `json:"body"`
		}{Body: AnswersResponse{Items: nonNil(saved)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/processes/{id}/comments",
		Summary:       "Comment on a process",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body CommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := h.e.AddComment(ctx, input.ID, input.Body.Body, actor)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "process-timeline",
		Method:      http.MethodGet,
		Path:        "/processes/{id}/timeline",
		Summary:     "Audit trail, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		Limit int    `query:"limit" default:"100" minimum:"1" maximum:"1000"`
	}) (*struct {
		Body TimelineResponse `json:"body"`
	}, error) {
		items, err := h.e.Timeline(ctx, input.ID, input.Limit)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body TimelineResponse `json:"body"`
		}{Body: TimelineResponse{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-process",
		Method:      http.MethodDelete,
		Path:        "/processes/{id}",
		Summary:     "Move a process to the trash",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *processPath) (*struct {
		Body domain.TrashItem `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, err := h.e.SoftDeleteProcess(ctx, input.ID, actor)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body domain.TrashItem `json:"body"`
		}{Body: item}, nil
	})
}

func (h handlers) registerWorkflow(api huma.API) {
	moves := []struct {
		id, summary string
		run         func(context.Context, string, auth.Actor) (domain.Process, error)
	}{
		{"advance", "Advance to the next department", h.e.Advance},
		{"rollback", "Send back to the previous department", h.e.Rollback},
		{"finalize", "Finish a process at its last department", h.e.Finalize},
	}
	for _, m := range moves {
		huma.Register(api, huma.Operation{
			OperationID: m.id + "-process",
			Method:      http.MethodPost,
			Path:        "/processes/{id}/" + m.id,
			Summary:     m.summary,
			Errors:      mutationErrors,
		}, func(ctx context.Context, input *processPath) (*processBody, error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			p, err := m.run(ctx, input.ID, actor)
			if err != nil {
				return nil, h.handleError(ctx, err)
			}
			return &processBody{Body: p}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "set-process-status",
		Method:      http.MethodPost,
		Path:        "/processes/{id}/status",
		Summary:     "Pause, resume or cancel",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body SetStatusRequest `json:"body"`
	}) (*processBody, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := h.e.SetStatus(ctx, input.ID, input.Body.Status, actor)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &processBody{Body: p}, nil
	})
}

func (h handlers) registerChecklist(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "get-checklist",
		Method:      http.MethodGet,
		Path:        "/processes/{id}/checklist",
		Summary:     "Checklist entries in flow order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *processPath) (*struct {
		Body ChecklistResponse `json:"body"`
	}, error) {
		items, err := h.e.Checklist(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body ChecklistResponse `json:"body"`
		}{Body: ChecklistResponse{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-checklist-entry",
		Method:      http.MethodPut,
		Path:        "/processes/{id}/checklist/{department_id}",
		Summary:     "Sign a department off or reopen it",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID           string           `path:"id"`
		DepartmentID string           `path:"department_id"`
		Body         ChecklistRequest `json:"body"`
	}) (*struct {
		Body ChecklistResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.SetChecklistEntry(ctx, input.ID, input.DepartmentID, input.Body.Completed, actor)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body ChecklistResponse `json:"body"`
		}{Body: ChecklistResponse{Items: items}}, nil
	})
}

func (h handlers) registerDocuments(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-document",
		Method:        http.MethodPost,
		Path:          "/processes/{id}/documents",
		Summary:       "Register a document",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body CreateDocumentRequest `json:"body"`
	}) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		d, err := h.e.AddDocument(ctx, engine.DocumentCreateOptions{
			ProcessID:    input.ID,
			FieldID:      b.FieldID,
			DepartmentID: b.DepartmentID,
			Name:         b.Name,
			Category:     b.Category,
			StorageKey:   b.StorageKey,
			Visibility:   b.Visibility,
			AllowedRoles: b.AllowedRoles,
			AllowedUsers: b.AllowedUsers,
			Actor:        actor,
		})
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/processes/{id}/documents",
		Summary:     "Documents visible to the caller",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *processPath) (*struct {
		Body DocumentListResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		docs, err := h.e.ListDocuments(ctx, input.ID, actor)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body DocumentListResponse `json:"body"`
		}{Body: DocumentListResponse{Items: nonNil(docs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/documents/{id}",
		Summary:     "Get a document",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *processPath) (*struct {
		Body domain.Document `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := h.e.GetDocument(ctx, input.ID, actor)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body domain.Document `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-document",
		Method:      http.MethodDelete,
		Path:        "/documents/{id}",
		Summary:     "Move a document to the trash",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *processPath) (*struct {
		Body domain.TrashItem `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		item, err := h.e.SoftDeleteDocument(ctx, input.ID, actor)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body domain.TrashItem `json:"body"`
		}{Body: item}, nil
	})
}

func (h handlers) registerTrash(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-trash",
		Method:      http.MethodGet,
		Path:        "/trash",
		Summary:     "Trash items visible to the caller",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TrashListResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.ListTrash(ctx, actor)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body TrashListResponse `json:"body"`
		}{Body: TrashListResponse{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-trash-item",
		Method:      http.MethodPost,
		Path:        "/trash/{id}/restore",
		Summary:     "Restore a trash item",
		Errors:      append([]int{http.StatusGone}, mutationErrors...),
	}, func(ctx context.Context, input *processPath) (*struct {
		Body engine.RestoreResult `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := h.e.Restore(ctx, input.ID, actor)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body engine.RestoreResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-trash-item",
		Method:        http.MethodDelete,
		Path:          "/trash/{id}",
		Summary:       "Permanently delete a trash item",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *processPath) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.HardDelete(ctx, input.ID, actor); err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "purge-trash",
		Method:      http.MethodPost,
		Path:        "/trash/purge",
		Summary:     "Remove expired trash items",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PurgeResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !h.e.Policy.IsPrivileged(actor) {
			return nil, newAPIError(http.StatusForbidden, "permission_denied", "purge requires a privileged role", nil)
		}
		n, err := h.e.PurgeExpired(ctx)
		if err != nil {
			return nil, h.handleError(ctx, err)
		}
		return &struct {
			Body PurgeResponse `json:"body"`
		}{Body: PurgeResponse{Purged: n}}, nil
	})
}
