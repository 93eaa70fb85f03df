package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/civreg/internal/adapters/jwtauth"
	"github.com/atvirokodosprendimai/civreg/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/civreg/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/usecase"
	"github.com/atvirokodosprendimai/civreg/migrations"
)

const signingKey = "test-signing-key"

type staticConfigs map[string]domain.EventConfig

func (s staticConfigs) EventConfig(_ context.Context, _ domain.Actor, eventType string) (domain.EventConfig, error) {
	cfg, ok := s[eventType]
	if !ok {
		return domain.EventConfig{}, domain.Errorf(domain.CodeNotFound, "event type %q is not configured", eventType)
	}
	return cfg, nil
}

var testConfigs = staticConfigs{
	"birth": {
		ID: "birth",
		Actions: []domain.ActionConfig{
			{Type: domain.ActionCustom, CustomActionType: "ADD_NOTE", RequiredScopes: []string{"record.note"}},
		},
		DeclarationSchema: json.RawMessage(`{"type":"object","required":["child.name"]}`),
	},
}

type testServer struct {
	handler  http.Handler
	verifier *jwtauth.Verifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := gormsqlite.Open(filepath.Join(t.TempDir(), "civreg.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	wdb, err := db.WriteSQLDB()
	require.NoError(t, err)
	require.NoError(t, migrations.Up(context.Background(), wdb))

	store := sqlite.NewEventStore(db)
	events := usecase.NewEventService(store, usecase.NewStateMachine(testConfigs, usecase.NewSchemaService()))
	drafts := usecase.NewDraftService(sqlite.NewDraftRepository(db), store, events)
	verifier := jwtauth.NewVerifier(signingKey, "", "")

	h := NewHandler(events, drafts, usecase.NewCustomActionGateway(events), usecase.NewAuthService(verifier),
		WithReadiness(db.Ping))
	return &testServer{handler: h.Router(), verifier: verifier}
}

func (s *testServer) token(t *testing.T, userID string, scopes ...string) string {
	t.Helper()
	if len(scopes) == 0 {
		scopes = []string{
			domain.ScopeRecordRead, domain.ScopeRecordDeclare, domain.ScopeRecordValidate,
			domain.ScopeRecordRegister, domain.ScopeRecordAssign, domain.ScopeRecordUnassignOthers,
		}
	}
	token, err := s.verifier.Issue(domain.Actor{ID: userID, Role: "REGISTRAR", UserType: domain.UserTypeUser, Scopes: scopes}, time.Hour)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) createEvent(t *testing.T, token, tx string) domain.EventDocument {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/events", token, map[string]string{"type": "birth", "transactionId": tx})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[domain.EventDocument](t, rec)
}

func TestProtectedRouteWithoutAuth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/v1/drafts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/drafts", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndOpenAPIArePublic(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decode[map[string]any](t, rec)
	assert.Equal(t, "3.0.3", doc["openapi"])
}

func TestEventLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, "u1")

	created := s.createEvent(t, token, "tx-1")
	assert.Equal(t, domain.StatusCreated, created.Status)
	assert.Equal(t, "u1", created.AssignedTo())

	again := s.createEvent(t, token, "tx-1")
	assert.Equal(t, created.ID, again.ID)

	rec := s.do(t, http.MethodPost, "/v1/events/"+created.ID+"/actions", token, domain.ActionInput{
		Type:          domain.ActionDeclare,
		TransactionID: "tx-2",
		Declaration:   domain.Fields{"child.name": domain.String("Ada")},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	doc := decode[domain.EventDocument](t, rec)
	assert.Equal(t, domain.StatusDeclared, doc.Status)
	assert.Equal(t, "Ada", doc.Declaration["child.name"].String())

	rec = s.do(t, http.MethodGet, "/v1/events/"+created.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fetched := decode[domain.EventDocument](t, rec)
	assert.Equal(t, domain.ActionRead, fetched.Actions[len(fetched.Actions)-1].Type)
}

func TestDomainErrorsMapToStatus(t *testing.T) {
	s := newTestServer(t)
	owner := s.token(t, "u1")
	other := s.token(t, "u2")
	created := s.createEvent(t, owner, "tx-1")

	rec := s.do(t, http.MethodGet, "/v1/events/00000000-0000-0000-0000-000000000000", owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/events", owner, map[string]string{"type": "marriage", "transactionId": "tx-9"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/events/"+created.ID+"/actions", other, domain.ActionInput{
		Type:          domain.ActionDeclare,
		TransactionID: "tx-2",
		Declaration:   domain.Fields{"child.name": domain.String("Ada")},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(domain.CodeNotAssigned), decode[map[string]any](t, rec)["code"])

	rec = s.do(t, http.MethodPost, "/v1/events/"+created.ID+"/actions", owner, domain.ActionInput{
		Type:          domain.ActionDeclare,
		TransactionID: "tx-3",
		Declaration:   domain.Fields{"child.surname": domain.String("Lovelace")},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, string(domain.CodeBadRequest), body["code"])
	assert.NotEmpty(t, body["details"])

	readOnly := s.token(t, "u3", domain.ScopeRecordRead)
	rec = s.do(t, http.MethodPost, "/v1/events", readOnly, map[string]string{"type": "birth", "transactionId": "tx-4"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRejectsMalformedBodies(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, "u1")

	rec := s.do(t, http.MethodPost, "/v1/events", token, `{"type":"birth","transactionId":"tx-1","extra":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/events", token, `{"type":"birth","transactionId":"tx-1"}{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	created := s.createEvent(t, token, "tx-1")
	rec = s.do(t, http.MethodPost, "/v1/events/"+created.ID+"/actions", token,
		`{"type":"DECLARE","transactionId":"tx-2","declaration":{"tags":["a"]}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDraftRoutes(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, "u1")
	created := s.createEvent(t, token, "tx-1")
	draftPath := "/v1/events/" + created.ID + "/drafts/DECLARE"

	rec := s.do(t, http.MethodPut, draftPath, token, map[string]any{
		"transactionId": "tx-draft",
		"declaration":   map[string]any{"child.name": "Ada"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/v1/drafts", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[struct {
		Drafts []domain.Draft `json:"drafts"`
	}](t, rec)
	require.Len(t, listed.Drafts, 1)
	assert.Equal(t, domain.ActionDeclare, listed.Drafts[0].ActionType)

	rec = s.do(t, http.MethodGet, "/v1/drafts", s.token(t, "u2"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"drafts":[]}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, draftPath+"/commit", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.StatusDeclared, decode[domain.EventDocument](t, rec).Status)

	rec = s.do(t, http.MethodDelete, draftPath, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDraftRoutesAcceptLowercaseActionType(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, "u1")
	created := s.createEvent(t, token, "tx-1")

	validatePath := "/v1/events/" + created.ID + "/drafts/validate"
	rec := s.do(t, http.MethodPut, validatePath, token, map[string]any{"transactionId": "tx-v"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodDelete, validatePath, token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	declarePath := "/v1/events/" + created.ID + "/drafts/declare"
	rec = s.do(t, http.MethodPut, declarePath, token, map[string]any{
		"transactionId": "tx-d",
		"declaration":   map[string]any{"child.name": "Ada"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPost, declarePath+"/commit", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, domain.StatusDeclared, decode[domain.EventDocument](t, rec).Status)
}

func TestOptionalBodyWithoutContentLength(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, "u1")
	created := s.createEvent(t, token, "tx-1")

	unsized := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, io.NopCloser(strings.NewReader(body)))
		require.EqualValues(t, -1, req.ContentLength)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := unsized(http.MethodPost, "/v1/events/"+created.ID+"/unassign", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = unsized(http.MethodPost, "/v1/events/"+created.ID+"/assign", "  \n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "u1", decode[domain.EventDocument](t, rec).AssignedTo())

	rec = unsized(http.MethodPost, "/v1/events/"+created.ID+"/assign", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssignmentRoutes(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, "u1")
	created := s.createEvent(t, token, "tx-1")

	rec := s.do(t, http.MethodPost, "/v1/events/"+created.ID+"/unassign", token, map[string]string{"transactionId": "tx-u"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode[domain.EventDocument](t, rec).AssignedTo())

	rec = s.do(t, http.MethodPost, "/v1/events/"+created.ID+"/assign", token, map[string]string{"transactionId": "tx-a"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "u1", decode[domain.EventDocument](t, rec).AssignedTo())
}

func TestCustomActionRoutes(t *testing.T) {
	s := newTestServer(t)
	owner := s.token(t, "u1", domain.ScopeRecordDeclare, domain.ScopeRecordRead, "record.note")
	created := s.createEvent(t, owner, "tx-1")

	rec := s.do(t, http.MethodGet, "/v1/events/"+created.ID+"/custom-actions", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	available := decode[struct {
		Actions []domain.ActionConfig `json:"actions"`
	}](t, rec)
	require.Len(t, available.Actions, 1)
	assert.Equal(t, "ADD_NOTE", available.Actions[0].CustomActionType)

	rec = s.do(t, http.MethodPost, "/v1/events/"+created.ID+"/custom-actions/ADD_NOTE", owner, map[string]any{
		"transactionId": "tx-note",
		"annotation":    map[string]any{"note": "checked"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/v1/events/"+created.ID+"/custom-actions/UNKNOWN", owner, map[string]any{
		"transactionId": "tx-x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFinalizeUnknownActionIsNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/v1/actions/missing/finalize", s.token(t, "svc"), map[string]string{"outcome": "Accepted"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleDomainErrorMapping(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil)
	cases := []struct {
		err    error
		status int
	}{
		{domain.Errorf(domain.CodeIllegalTransition, "nope"), http.StatusConflict},
		{domain.ErrVersionConflict, http.StatusConflict},
		{usecase.ErrUnauthorized, http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.handleDomainError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
	}
}

func TestWriteJSONEncodeErrorHandled(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]any{"bad": make(chan int)})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
