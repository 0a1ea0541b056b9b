package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/calendai/calendai/internal/calendar"
	"github.com/calendai/calendai/internal/config"
	"github.com/calendai/calendai/internal/handshake"
	"github.com/calendai/calendai/internal/llm"
	"github.com/calendai/calendai/internal/orchestrator"
)

// fakeCompleter returns one canned assistant message, or an error.
type fakeCompleter struct {
	reply llm.Message
	err   error
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []llm.Message, tools []openai.Tool, toolChoice string) (llm.Message, error) {
	if f.err != nil {
		return llm.Message{}, f.err
	}
	return f.reply, nil
}

type testHarness struct {
	server *Server
	router http.Handler
	store  *handshake.Store
}

func newHarness(t *testing.T, completer orchestrator.Completer) *testHarness {
	t.Helper()

	cfg := &config.Config{
		ListenAddr:        ":0",
		Timezone:          "UTC",
		WindowDays:        7,
		PrometheusEnabled: true,
	}
	cfg.Google.ClientID = "client-id"
	cfg.Google.ClientSecret = "client-secret"

	// Fake Google OAuth endpoints.
	oauthBackend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","refresh_token":"rt-1","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(oauthBackend.Close)

	// Fake Calendar API, enough for gateway construction.
	calendarBackend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	t.Cleanup(calendarBackend.Close)

	store := handshake.NewStore(filepath.Join(t.TempDir(), "cache.json"), nil)

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  "http://localhost/oauth2callback",
		Scopes:       []string{"https://www.googleapis.com/auth/calendar"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  oauthBackend.URL + "/auth",
			TokenURL: oauthBackend.URL + "/token",
		},
	}

	newClient := func(ctx context.Context, bundle *handshake.CredentialBundle) (*calendar.Client, error) {
		svc, err := gcal.NewService(ctx,
			option.WithEndpoint(calendarBackend.URL),
			option.WithoutAuthentication(),
		)
		if err != nil {
			return nil, err
		}
		return calendar.NewClientWithService(svc, time.UTC, cfg.WindowDays, nil, nil), nil
	}

	srv := New(cfg, store, oauthCfg, orchestrator.New(completer, nil), nil, newClient, nil)
	return &testHarness{server: srv, router: srv.Router(), store: store}
}

func (h *testHarness) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

// authorize runs GET /authorize and returns the state parameter from the
// consent redirect.
func (h *testHarness) authorize(t *testing.T) string {
	t.Helper()
	rec := h.do(t, http.MethodGet, "/authorize", "")
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

// credentialToken walks the full handshake and returns the issued token.
func (h *testHarness) credentialToken(t *testing.T) string {
	t.Helper()
	state := h.authorize(t)
	rec := h.do(t, http.MethodGet, "/oauth2callback?state="+state+"&code=auth-code", "")
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "/chat", location.Path)
	token := location.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}

func TestAuthorizeRedirectsToConsent(t *testing.T) {
	h := newHarness(t, &fakeCompleter{})

	rec := h.do(t, http.MethodGet, "/authorize", "")
	require.Equal(t, http.StatusFound, rec.Code)

	location := rec.Header().Get("Location")
	assert.Contains(t, location, "access_type=offline")
	assert.Contains(t, location, "prompt=consent")
	assert.Contains(t, location, "state=")
}

func TestCallbackIssuesCredentialToken(t *testing.T) {
	h := newHarness(t, &fakeCompleter{})
	token := h.credentialToken(t)

	// The issued token resolves on GET /chat.
	rec := h.do(t, http.MethodGet, "/chat?token="+token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	h := newHarness(t, &fakeCompleter{})

	rec := h.do(t, http.MethodGet, "/oauth2callback?state=forged&code=auth-code", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Requisição inválida")
}

func TestCallbackStateIsSingleUse(t *testing.T) {
	h := newHarness(t, &fakeCompleter{})
	state := h.authorize(t)

	first := h.do(t, http.MethodGet, "/oauth2callback?state="+state+"&code=auth-code", "")
	require.Equal(t, http.StatusFound, first.Code)

	second := h.do(t, http.MethodGet, "/oauth2callback?state="+state+"&code=auth-code", "")
	assert.Equal(t, http.StatusBadRequest, second.Code)
}

func TestCallbackRequiresParams(t *testing.T) {
	h := newHarness(t, &fakeCompleter{})
	rec := h.do(t, http.MethodGet, "/oauth2callback", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatSessionWithoutTokenRedirects(t *testing.T) {
	h := newHarness(t, &fakeCompleter{})
	rec := h.do(t, http.MethodGet, "/chat", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/authorize", rec.Header().Get("Location"))
}

func TestChatRejectsMissingToken(t *testing.T) {
	h := newHarness(t, &fakeCompleter{})
	rec := h.do(t, http.MethodPost, "/chat", `{"message":"oi"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sessão expirada")
}

func TestChatRejectsUnknownToken(t *testing.T) {
	h := newHarness(t, &fakeCompleter{})
	rec := h.do(t, http.MethodPost, "/chat?token=forged", `{"message":"oi"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatTurn(t *testing.T) {
	h := newHarness(t, &fakeCompleter{
		reply: llm.Message{Role: llm.RoleAssistant, Content: "Olá! Como posso ajudar?"},
	})
	token := h.credentialToken(t)

	rec := h.do(t, http.MethodPost, "/chat?token="+token, `{"message":"oi"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Olá! Como posso ajudar?", resp.Reply)
	assert.NotEmpty(t, resp.ConversationID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, llm.RoleUser, resp.Messages[0].Role)
	assert.Equal(t, llm.RoleAssistant, resp.Messages[1].Role)
}

func TestChatAcceptsTrailingUserMessage(t *testing.T) {
	h := newHarness(t, &fakeCompleter{
		reply: llm.Message{Role: llm.RoleAssistant, Content: "claro"},
	})
	token := h.credentialToken(t)

	body := `{"messages":[{"role":"user","content":"oi"},{"role":"assistant","content":"Olá!"},{"role":"user","content":"liste minhas agendas"}]}`
	rec := h.do(t, http.MethodPost, "/chat?token="+token, body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// History preserved, user turn re-appended, assistant reply added.
	require.Len(t, resp.Messages, 4)
	assert.Equal(t, "liste minhas agendas", resp.Messages[2].Content)
}

func TestChatKeepsConversationID(t *testing.T) {
	h := newHarness(t, &fakeCompleter{
		reply: llm.Message{Role: llm.RoleAssistant, Content: "ok"},
	})
	token := h.credentialToken(t)

	rec := h.do(t, http.MethodPost, "/chat?token="+token, `{"message":"oi","conversation_id":"conv-42"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "conv-42", resp.ConversationID)
}

func TestChatBadBody(t *testing.T) {
	h := newHarness(t, &fakeCompleter{})
	token := h.credentialToken(t)

	rec := h.do(t, http.MethodPost, "/chat?token="+token, `{"message":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatEmptyTurn(t *testing.T) {
	h := newHarness(t, &fakeCompleter{})
	token := h.credentialToken(t)

	rec := h.do(t, http.MethodPost, "/chat?token="+token, `{"messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatServiceUnavailable(t *testing.T) {
	h := newHarness(t, &fakeCompleter{err: llm.ErrServiceUnavailable})
	token := h.credentialToken(t)

	rec := h.do(t, http.MethodPost, "/chat?token="+token, `{"message":"oi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "indisponível no momento")
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t, &fakeCompleter{})

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/readyz", "").Code)
}

func TestReadinessReflectsShutdown(t *testing.T) {
	h := newHarness(t, &fakeCompleter{})
	h.server.health.SetReady(false)
	h.server.health.SetShuttingDown()

	rec := h.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not ready")
}

func TestMetricsEndpointGated(t *testing.T) {
	h := newHarness(t, &fakeCompleter{})
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/metrics", "").Code)

	h.server.cfg.PrometheusEnabled = false
	router := h.server.Router()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
