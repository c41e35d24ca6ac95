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

	"parkline/internal/engine"
	"parkline/internal/lot"
	"parkline/internal/repo"
	"parkline/internal/vehicle"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"lot_full"`
	Message string         `json:"message" example:"lot full"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Parkline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Parkline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerEntries(group, cfg.Engine)
	registerExits(group, cfg.Engine)
	registerOccupancy(group, cfg.Engine)
	registerSessions(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ce *lot.CorruptionError
	switch {
	case errors.Is(err, lot.ErrLotFull):
		return newAPIError(http.StatusConflict, "lot_full", err.Error(), nil)
	case errors.Is(err, lot.ErrInvalidTicket):
		return newAPIError(http.StatusNotFound, "invalid_ticket", err.Error(), nil)
	case errors.Is(err, vehicle.ErrUnknownType):
		return newAPIError(http.StatusBadRequest, "unknown_vehicle_type", err.Error(), nil)
	case errors.As(err, &ce):
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{
			"reason":  ce.Reason,
			"spot_id": ce.SpotID,
		})
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "required") || strings.Contains(lowered, "invalid") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
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

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Parkline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
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

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Lot status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		counts, err := e.Repo.CountSessionsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{
			LotID:     e.Config.Lot.ID,
			Levels:    e.Occupancy(),
			Sessions:  counts,
			ActiveNow: len(e.Lot.ActiveTickets()),
		}}, nil
	})
}

func registerEntries(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "enter",
		Method:      http.MethodPost,
		Path:        "/entries",
		Summary:     "Admit a vehicle and issue a ticket",
	}, func(ctx context.Context, input *struct {
		Body EnterRequest
	}) (*struct {
		Body TicketResponse `json:"body"`
	}, error) {
		operatorID, authErr := operatorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.VehicleID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "vehicle_id is required", nil)
		}
		t, err := e.Enter(ctx, input.Body.VehicleType, input.Body.VehicleID, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TicketResponse `json:"body"`
		}{Body: ticketResponse(t)}, nil
	})
}

func registerExits(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "exit",
		Method:      http.MethodPost,
		Path:        "/exits",
		Summary:     "Close a session and bill the ticket",
	}, func(ctx context.Context, input *struct {
		Body ExitRequest
	}) (*struct {
		Body ReceiptResponse `json:"body"`
	}, error) {
		operatorID, authErr := operatorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.TicketID) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "ticket_id is required", nil)
		}
		rcpt, err := e.Exit(ctx, input.Body.TicketID, operatorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReceiptResponse `json:"body"`
		}{Body: receiptResponse(rcpt)}, nil
	})
}

func registerOccupancy(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "occupancy",
		Method:      http.MethodGet,
		Path:        "/occupancy",
		Summary:     "Per-level occupancy snapshot",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []lot.LevelOccupancy `json:"body"`
	}, error) {
		return &struct {
			Body []lot.LevelOccupancy `json:"body"`
		}{Body: e.Occupancy()}, nil
	})
}

func registerSessions(api huma.API, e engine.Engine) {
	type listInput struct {
		Status string `query:"status" enum:"active,closed,orphaned" required:"false"`
		Limit  int    `query:"limit" required:"false"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "sessions-list",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List session history",
	}, func(ctx context.Context, input *listInput) (*struct {
		Body []SessionResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListSessions(ctx, input.Status, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]SessionResponse, 0, len(items))
		for _, s := range items {
			out = append(out, sessionResponse(s))
		}
		return &struct {
			Body []SessionResponse `json:"body"`
		}{Body: out}, nil
	})

	type showInput struct {
		TicketID string `path:"ticket_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "sessions-show",
		Method:      http.MethodGet,
		Path:        "/sessions/{ticket_id}",
		Summary:     "Show one session",
	}, func(ctx context.Context, input *showInput) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		s, err := e.Repo.GetSession(ctx, input.TicketID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(s)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	type input struct {
		N          int    `query:"n" required:"false"`
		Type       string `query:"type" required:"false"`
		EntityKind string `query:"entity_kind" required:"false"`
		EntityID   string `query:"entity_id" required:"false"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the event log",
	}, func(ctx context.Context, in *input) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		n := in.N
		if n <= 0 {
			n = 20
		}
		items, err := e.Repo.LatestEvents(ctx, n, e.Config.Lot.ID, in.Type, in.EntityKind, in.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			out = append(out, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}
