package controller

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"procedure-assistant-be/internal/dto"
	"procedure-assistant-be/internal/pkg/serverutils"
	pkgEvents "procedure-assistant-be/pkg/events"
	"procedure-assistant-be/pkg/routing/cache"
	"procedure-assistant-be/pkg/routing/clarify"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAssistantService struct {
	askRes     *dto.AssistantResponse
	askErr     error
	resolveErr error
	cleared    string
	lastAsk    *dto.AskRequest
}

func (f *fakeAssistantService) Ask(ctx context.Context, req *dto.AskRequest) (*dto.AssistantResponse, error) {
	f.lastAsk = req
	return f.askRes, f.askErr
}

func (f *fakeAssistantService) ResolveClarification(ctx context.Context, req *dto.ResolveClarificationRequest) (*dto.AssistantResponse, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return &dto.AssistantResponse{Type: dto.ResponseTypeAnswer, SessionId: req.SessionId}, nil
}

func (f *fakeAssistantService) ClearSession(ctx context.Context, sessionID string) error {
	f.cleared = sessionID
	return nil
}

func newTestApp(register func(api fiber.Router)) *fiber.App {
	app := fiber.New()
	app.Use(serverutils.ErrorHandlerMiddleware())
	register(app.Group("/api"))
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) (int, serverutils.BaseResponse[json.RawMessage]) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out serverutils.BaseResponse[json.RawMessage]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestAssistantController_Ask(t *testing.T) {
	svc := &fakeAssistantService{askRes: &dto.AssistantResponse{
		Type:      dto.ResponseTypeClarification,
		SessionId: "s-1",
		Clarification: &dto.ClarificationResponse{
			Stage:   "collection_selection",
			Options: []dto.OptionResponse{{Id: "col:notarization", Kind: "collection", Label: "Notarization"}},
		},
	}}
	app := newTestApp(NewAssistantController(svc).RegisterRoutes)

	code, res := doJSON(t, app, "POST", "/api/assistant/v1/ask", `{"query":"how do I get a stamp","session_id":"s-1"}`, nil)
	assert.Equal(t, fiber.StatusOK, code)
	assert.True(t, res.Success)
	assert.Equal(t, "Clarification needed", res.Message)
	assert.Equal(t, "how do I get a stamp", svc.lastAsk.Query)

	var data dto.AssistantResponse
	require.NoError(t, json.Unmarshal(res.Data, &data))
	assert.Equal(t, dto.ResponseTypeClarification, data.Type)
	assert.Len(t, data.Clarification.Options, 1)
}

func TestAssistantController_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		svc      *fakeAssistantService
		wantCode int
	}{
		{
			name:     "missing query",
			path:     "/api/assistant/v1/ask",
			body:     `{"session_id":"s-1"}`,
			svc:      &fakeAssistantService{},
			wantCode: fiber.StatusBadRequest,
		},
		{
			name:     "malformed body",
			path:     "/api/assistant/v1/ask",
			body:     `{"query":`,
			svc:      &fakeAssistantService{},
			wantCode: fiber.StatusBadRequest,
		},
		{
			name:     "corrupt cache",
			path:     "/api/assistant/v1/ask",
			body:     `{"query":"renew passport"}`,
			svc:      &fakeAssistantService{askErr: &cache.CacheCorruptError{Path: "x", Reason: "bad header"}},
			wantCode: fiber.StatusServiceUnavailable,
		},
		{
			name:     "resolve needs an option or free text",
			path:     "/api/assistant/v1/clarification/resolve",
			body:     `{"session_id":"s-1"}`,
			svc:      &fakeAssistantService{},
			wantCode: fiber.StatusBadRequest,
		},
		{
			name:     "resolve without pending dialogue",
			path:     "/api/assistant/v1/clarification/resolve",
			body:     `{"session_id":"s-1","selected_option":"col:x"}`,
			svc:      &fakeAssistantService{resolveErr: clarify.ErrNoPendingClarification},
			wantCode: fiber.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(NewAssistantController(tt.svc).RegisterRoutes)
			code, res := doJSON(t, app, "POST", tt.path, tt.body, nil)
			assert.Equal(t, tt.wantCode, code)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantCode, res.Code)
		})
	}
}

func TestAssistantController_ClearSession(t *testing.T) {
	svc := &fakeAssistantService{}
	app := newTestApp(NewAssistantController(svc).RegisterRoutes)

	code, res := doJSON(t, app, "DELETE", "/api/assistant/v1/sessions/s-42", "", nil)
	assert.Equal(t, fiber.StatusOK, code)
	assert.True(t, res.Success)
	assert.Equal(t, "s-42", svc.cleared)
}

type fakeCacheService struct {
	requestedBy string
}

func (f *fakeCacheService) Status() *dto.RoutingCacheStatusResponse {
	return &dto.RoutingCacheStatusResponse{Loaded: true, EmbeddingModel: "nomic-embed-text", DocumentCount: 12}
}
func (f *fakeCacheService) EnsureFresh(ctx context.Context) error { return nil }
func (f *fakeCacheService) RequestRebuild(ctx context.Context, requestedBy string) (*dto.RebuildRoutingCacheResponse, error) {
	f.requestedBy = requestedBy
	return &dto.RebuildRoutingCacheResponse{RequestId: "r-1", Status: "queued"}, nil
}
func (f *fakeCacheService) Rebuild(ctx context.Context, trigger string) (*cache.Artifact, error) {
	return nil, nil
}
func (f *fakeCacheService) Consume(ctx context.Context) error { return nil }
func (f *fakeCacheService) HandleRemoteRebuild(ctx context.Context, event pkgEvents.Event) error {
	return nil
}

type fakeAuditService struct {
	window time.Duration
}

func (f *fakeAuditService) Summary(ctx context.Context, window time.Duration) (*dto.RoutingAuditSummaryResponse, error) {
	f.window = window
	return &dto.RoutingAuditSummaryResponse{Total: 3}, nil
}
func (f *fakeAuditService) RunRetention(ctx context.Context, retention, every time.Duration) {}

func operatorToken(t *testing.T, secret, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "operator-7",
		"role":    role,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func TestRoutingAdminController(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	cacheSvc := &fakeCacheService{}
	auditSvc := &fakeAuditService{}
	app := newTestApp(NewRoutingAdminController(cacheSvc, auditSvc).RegisterRoutes)
	auth := map[string]string{"Authorization": operatorToken(t, "test-secret", "operator")}

	code, _ := doJSON(t, app, "GET", "/api/admin/v1/routing-cache", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, code)

	code, _ = doJSON(t, app, "GET", "/api/admin/v1/routing-cache", "",
		map[string]string{"Authorization": operatorToken(t, "other-secret", "operator")})
	assert.Equal(t, fiber.StatusUnauthorized, code)

	code, _ = doJSON(t, app, "GET", "/api/admin/v1/routing-cache", "",
		map[string]string{"Authorization": operatorToken(t, "test-secret", "user")})
	assert.Equal(t, fiber.StatusForbidden, code)

	code, res := doJSON(t, app, "GET", "/api/admin/v1/routing-cache", "", auth)
	assert.Equal(t, fiber.StatusOK, code)
	var status dto.RoutingCacheStatusResponse
	require.NoError(t, json.Unmarshal(res.Data, &status))
	assert.Equal(t, 12, status.DocumentCount)

	code, _ = doJSON(t, app, "POST", "/api/admin/v1/routing-cache/rebuild", "", auth)
	assert.Equal(t, fiber.StatusAccepted, code)
	assert.Equal(t, "operator-7", cacheSvc.requestedBy)

	code, _ = doJSON(t, app, "GET", "/api/admin/v1/routing-audit?since=2h", "", auth)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, 2*time.Hour, auditSvc.window)

	code, _ = doJSON(t, app, "GET", "/api/admin/v1/routing-audit?since=soon", "", auth)
	assert.Equal(t, fiber.StatusBadRequest, code)
}
