package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/usecase"
)

type ctxKey string

const (
	actorCtxKey     ctxKey = "actor"
	maxJSONBodySize        = 1 << 20
)

// RequestObserver records request latency per route pattern.
type RequestObserver interface {
	ObserveRequest(method, route, status string, start time.Time)
}

type Handler struct {
	events  *usecase.EventService
	drafts  *usecase.DraftService
	custom  *usecase.CustomActionGateway
	auth    *usecase.AuthService
	logger  *slog.Logger
	metrics http.Handler
	observe RequestObserver
	ready   func(context.Context) error
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics mounts the exposition handler on /metrics and records request
// latency with observer.
func WithMetrics(exposition http.Handler, observer RequestObserver) Option {
	return func(h *Handler) {
		h.metrics = exposition
		h.observe = observer
	}
}

// WithReadiness makes /healthz run check.
func WithReadiness(check func(context.Context) error) Option {
	return func(h *Handler) { h.ready = check }
}

func NewHandler(events *usecase.EventService, drafts *usecase.DraftService, custom *usecase.CustomActionGateway, auth *usecase.AuthService, opts ...Option) *Handler {
	h := &Handler{events: events, drafts: drafts, custom: custom, auth: auth, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	r.Get("/healthz", h.healthz)
	r.Get("/openapi.json", h.openapi)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Group(func(pr chi.Router) {
		pr.Use(h.requireActor)
		pr.Post("/v1/events", h.createEvent)
		pr.Get("/v1/events/{eventID}", h.getEvent)
		pr.Post("/v1/events/{eventID}/actions", h.requestAction)
		pr.Post("/v1/events/{eventID}/assign", h.assign)
		pr.Post("/v1/events/{eventID}/unassign", h.unassign)
		pr.Get("/v1/events/{eventID}/custom-actions", h.availableCustomActions)
		pr.Post("/v1/events/{eventID}/custom-actions/{customType}", h.requestCustomAction)
		pr.Put("/v1/events/{eventID}/drafts/{actionType}", h.saveDraft)
		pr.Delete("/v1/events/{eventID}/drafts/{actionType}", h.discardDraft)
		pr.Post("/v1/events/{eventID}/drafts/{actionType}/commit", h.commitDraft)
		pr.Get("/v1/drafts", h.listDrafts)
		pr.Post("/v1/actions/{actionID}/finalize", h.finalizeAction)
	})

	return r
}

type assignRequest struct {
	TransactionID string `json:"transactionId"`
}

type finalizeRequest struct {
	Outcome    domain.FinalizeOutcome `json:"outcome"`
	Annotation domain.Fields          `json:"annotation,omitempty"`
}

type draftRequest struct {
	TransactionID string        `json:"transactionId"`
	Declaration   domain.Fields `json:"declaration,omitempty"`
	Annotation    domain.Fields `json:"annotation,omitempty"`
}

type customActionRequest struct {
	TransactionID string `json:"transactionId"`
	usecase.CustomActionPayload
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	var in domain.CreateInput
	if !decodeBody(w, r, &in) {
		return
	}
	doc, err := h.events.Create(r.Context(), in, actorFromContext(r.Context()))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	doc, err := h.events.Get(r.Context(), chi.URLParam(r, "eventID"), actorFromContext(r.Context()))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) requestAction(w http.ResponseWriter, r *http.Request) {
	var in domain.ActionInput
	if !decodeBody(w, r, &in) {
		return
	}
	doc, err := h.events.RequestAction(r.Context(), chi.URLParam(r, "eventID"), in, actorFromContext(r.Context()))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) finalizeAction(w http.ResponseWriter, r *http.Request) {
	var in finalizeRequest
	if !decodeBody(w, r, &in) {
		return
	}
	doc, err := h.events.FinalizeAction(r.Context(), chi.URLParam(r, "actionID"), in.Outcome, in.Annotation, actorFromContext(r.Context()))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	var in assignRequest
	if !decodeOptionalBody(w, r, &in) {
		return
	}
	doc, err := h.events.Assign(r.Context(), chi.URLParam(r, "eventID"), in.TransactionID, actorFromContext(r.Context()))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) unassign(w http.ResponseWriter, r *http.Request) {
	var in assignRequest
	if !decodeOptionalBody(w, r, &in) {
		return
	}
	doc, err := h.events.Unassign(r.Context(), chi.URLParam(r, "eventID"), in.TransactionID, actorFromContext(r.Context()))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) availableCustomActions(w http.ResponseWriter, r *http.Request) {
	actions, err := h.custom.Available(r.Context(), chi.URLParam(r, "eventID"), actorFromContext(r.Context()))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	if actions == nil {
		actions = []domain.ActionConfig{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

func (h *Handler) requestCustomAction(w http.ResponseWriter, r *http.Request) {
	var in customActionRequest
	if !decodeBody(w, r, &in) {
		return
	}
	doc, err := h.custom.RequestCustomAction(r.Context(), chi.URLParam(r, "eventID"), chi.URLParam(r, "customType"),
		in.CustomActionPayload, in.TransactionID, actorFromContext(r.Context()))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) saveDraft(w http.ResponseWriter, r *http.Request) {
	var in draftRequest
	if !decodeBody(w, r, &in) {
		return
	}
	draft, err := h.drafts.SaveDraft(r.Context(), chi.URLParam(r, "eventID"), usecase.DraftInput{
		ActionType:    domain.ActionType(chi.URLParam(r, "actionType")),
		TransactionID: in.TransactionID,
		Declaration:   in.Declaration,
		Annotation:    in.Annotation,
	}, actorFromContext(r.Context()))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (h *Handler) discardDraft(w http.ResponseWriter, r *http.Request) {
	err := h.drafts.DiscardDraft(r.Context(), chi.URLParam(r, "eventID"),
		domain.ActionType(chi.URLParam(r, "actionType")), actorFromContext(r.Context()))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) commitDraft(w http.ResponseWriter, r *http.Request) {
	var in usecase.CommitOptions
	if !decodeOptionalBody(w, r, &in) {
		return
	}
	doc, err := h.drafts.CommitDraft(r.Context(), chi.URLParam(r, "eventID"),
		domain.ActionType(chi.URLParam(r, "actionType")), in, actorFromContext(r.Context()))
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) listDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := h.drafts.ListDrafts(r.Context(), actorFromContext(r.Context()).ID)
	if err != nil {
		h.handleDomainError(w, r, err)
		return
	}
	if drafts == nil {
		drafts = []domain.Draft{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"drafts": drafts})
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ok": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) openapi(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, openapiSpec())
}

func (h *Handler) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := h.auth.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			if errors.Is(err, usecase.ErrUnauthorized) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
				return
			}
			h.logger.ErrorContext(r.Context(), "authenticate request", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
			return
		}
		ctx := context.WithValue(r.Context(), actorCtxKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if h.observe != nil {
			h.observe.ObserveRequest(r.Method, route, strconv.Itoa(status), start)
		}
		h.logger.DebugContext(r.Context(), "http request",
			"method", r.Method, "route", route, "status", status,
			"duration", time.Since(start), "request_id", middleware.GetReqID(r.Context()))
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeJSONBody(w, r, dst, false)
}

// decodeOptionalBody accepts an empty body as the zero value, whether or not
// the client announced its length.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decodeJSONBody(w, r, dst, true)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, string(domain.CodeBadRequest), "invalid json body")
		return false
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, string(domain.CodeBadRequest), "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("encode json response", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		slog.Error("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"code": code, "error": message})
}

func (h *Handler) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var violation *domain.ErrSchemaViolation
	if errors.As(err, &violation) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"code":    string(domain.CodeBadRequest),
			"error":   "declaration does not match the event schema",
			"details": violation.Errors,
		})
		return
	}
	if code, ok := domain.CodeOf(err); ok {
		writeError(w, statusFor(code), string(code), err.Error())
		return
	}
	switch {
	case errors.Is(err, usecase.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
	case errors.Is(err, domain.ErrVersionConflict):
		writeError(w, http.StatusConflict, "CONFLICT", "event is being modified concurrently, retry")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout, "CANCELED", "request canceled")
	default:
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeBadRequest:
		return http.StatusBadRequest
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeNotAssigned, domain.CodeIllegalTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

func actorFromContext(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(actorCtxKey).(domain.Actor)
	return actor
}

func openapiSpec() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "civreg",
			"version": "1.0.0",
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearer": map[string]any{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
		},
		"security": []any{map[string]any{"bearer": []any{}}},
		"paths": map[string]any{
			"/v1/events": map[string]any{
				"post": map[string]any{"summary": "Create an event, idempotent on (type, transactionId)"},
			},
			"/v1/events/{eventID}": map[string]any{
				"get": map[string]any{"summary": "Fetch the event document and record a READ"},
			},
			"/v1/events/{eventID}/actions": map[string]any{
				"post": map[string]any{"summary": "Request an action, idempotent on (actor, type, transactionId)"},
			},
			"/v1/events/{eventID}/assign": map[string]any{
				"post": map[string]any{"summary": "Assign the event to the caller"},
			},
			"/v1/events/{eventID}/unassign": map[string]any{
				"post": map[string]any{"summary": "Release the event assignment"},
			},
			"/v1/events/{eventID}/custom-actions": map[string]any{
				"get": map[string]any{"summary": "List custom actions the caller may submit"},
			},
			"/v1/events/{eventID}/custom-actions/{customType}": map[string]any{
				"post": map[string]any{"summary": "Request a configured custom action"},
			},
			"/v1/events/{eventID}/drafts/{actionType}": map[string]any{
				"put":    map[string]any{"summary": "Save the caller's draft"},
				"delete": map[string]any{"summary": "Discard the caller's draft"},
			},
			"/v1/events/{eventID}/drafts/{actionType}/commit": map[string]any{
				"post": map[string]any{"summary": "Submit the caller's draft as an action"},
			},
			"/v1/drafts": map[string]any{
				"get": map[string]any{"summary": "List the caller's drafts, oldest first"},
			},
			"/v1/actions/{actionID}/finalize": map[string]any{
				"post": map[string]any{"summary": "Accept or reject a Requested action"},
			},
		},
	}
}
