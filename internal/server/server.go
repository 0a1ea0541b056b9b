package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/oauth2"

	"github.com/calendai/calendai/internal/calendar"
	"github.com/calendai/calendai/internal/config"
	"github.com/calendai/calendai/internal/google"
	"github.com/calendai/calendai/internal/handshake"
	"github.com/calendai/calendai/internal/instrumentation"
	"github.com/calendai/calendai/internal/llm"
	"github.com/calendai/calendai/internal/logging"
	"github.com/calendai/calendai/internal/orchestrator"
	"github.com/calendai/calendai/internal/tools"
)

// User-facing boundary messages, matching the assistant's voice.
const (
	msgInvalidRequest     = "Requisição inválida."
	msgSessionExpired     = "Sessão expirada."
	msgServiceUnavailable = "Desculpe, o serviço de IA está indisponível no momento."
	msgInternalError      = "Desculpe, ocorreu um erro inesperado e grave no servidor."
)

// clientBuilder constructs the calendar gateway for one resolved credential.
// It is a field so tests can point the gateway at a fake provider.
type clientBuilder func(ctx context.Context, bundle *handshake.CredentialBundle) (*calendar.Client, error)

// Server is the HTTP boundary: the OAuth handshake endpoints, the chat
// endpoint, health probes, and the optional metrics endpoint.
type Server struct {
	cfg       *config.Config
	store     *handshake.Store
	oauth     *oauth2.Config
	orch      *orchestrator.Orchestrator
	metrics   *instrumentation.Metrics
	logger    *slog.Logger
	health    *HealthChecker
	newClient clientBuilder
}

// New assembles the server from its collaborators.
func New(cfg *config.Config, store *handshake.Store, oauthCfg *oauth2.Config, orch *orchestrator.Orchestrator, metrics *instrumentation.Metrics, newClient clientBuilder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = &instrumentation.Metrics{}
	}
	return &Server{
		cfg:       cfg,
		store:     store,
		oauth:     oauthCfg,
		orch:      orch,
		metrics:   metrics,
		logger:    logger,
		health:    NewHealthChecker(),
		newClient: newClient,
	}
}

// Router builds the chi router with the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/authorize", s.handleAuthorize)
	r.Get("/oauth2callback", s.handleCallback)
	r.Get("/chat", s.handleChatSession)
	r.Post("/chat", s.handleChat)

	r.Method(http.MethodGet, "/healthz", s.health.LivenessHandler())
	r.Method(http.MethodGet, "/readyz", s.health.ReadinessHandler())

	if s.cfg.PrometheusEnabled {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}

	return r
}

// Run serves until the context is canceled, then drains gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Expired handshake states are swept in the background.
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		ticker := time.NewTicker(handshake.StateTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.store.Sweep(); err != nil {
					s.logger.Warn("handshake sweep failed", logging.Err(err))
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", s.cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.health.SetReady(false)
	s.health.SetShuttingDown()
	s.logger.Info("shutting down http server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-sweepDone
	return nil
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.Begin()
	if err != nil {
		s.logger.Error("beginning handshake", logging.Err(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msgInternalError})
		return
	}

	url := s.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
	http.Redirect(w, r, url, http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		s.metrics.RecordHandshake(ctx, instrumentation.HandshakeResultFailure)
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msgInvalidRequest})
		return
	}

	if err := s.store.Complete(state); err != nil {
		result := instrumentation.HandshakeResultFailure
		if handshake.IsAuthError(err, handshake.ReasonExpired) {
			result = instrumentation.HandshakeResultExpired
		}
		s.metrics.RecordHandshake(ctx, result)
		s.logger.Warn("handshake state rejected",
			slog.String("state", logging.SanitizeToken(state)),
			logging.Err(err),
		)
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msgInvalidRequest})
		return
	}

	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		s.metrics.RecordHandshake(ctx, instrumentation.HandshakeResultFailure)
		s.logger.Error("code exchange failed", logging.Err(err))
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msgInvalidRequest})
		return
	}

	credToken, err := s.store.IssueCredential(google.BundleFromToken(s.oauth, token))
	if err != nil {
		s.metrics.RecordHandshake(ctx, instrumentation.HandshakeResultFailure)
		s.logger.Error("issuing credential", logging.Err(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msgInternalError})
		return
	}

	s.metrics.RecordHandshake(ctx, instrumentation.HandshakeResultSuccess)
	http.Redirect(w, r, "/chat?token="+credToken, http.StatusFound)
}

// handleChatSession validates a credential token so clients landing from the
// OAuth redirect can confirm their session before posting messages.
func (s *Server) handleChatSession(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Redirect(w, r, "/authorize", http.StatusFound)
		return
	}
	if _, err := s.store.ResolveCredential(token); err != nil {
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": msgSessionExpired})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "token": token})
}

// chatRequest is one user turn. Message carries the new user input; Messages
// is the running transcript from previous turns. Clients that append the
// user input to Messages themselves may leave Message empty.
type chatRequest struct {
	Message        string        `json:"message"`
	Messages       []llm.Message `json:"messages"`
	ConversationID string        `json:"conversation_id"`
}

type chatResponse struct {
	Reply          string        `json:"reply"`
	Messages       []llm.Message `json:"messages"`
	ConversationID string        `json:"conversation_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.URL.Query().Get("token")
	if token == "" {
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": msgSessionExpired})
		return
	}
	bundle, err := s.store.ResolveCredential(token)
	if err != nil {
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": msgSessionExpired})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msgInvalidRequest})
		return
	}

	history, userMessage := splitTurn(req)
	if userMessage == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": msgInvalidRequest})
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	logger := s.logger.With(slog.String("conversation_id", conversationID))

	s.metrics.IncrementActiveConversations(ctx)
	defer s.metrics.DecrementActiveConversations(ctx)

	client, err := s.newClient(ctx, bundle)
	if err != nil {
		logger.Error("building calendar client", logging.Err(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"reply": msgInternalError})
		return
	}
	registry := tools.NewRegistry(client, s.metrics, logger)

	reply, transcript, err := s.orch.Run(ctx, registry, history, userMessage)
	if err != nil {
		if errors.Is(err, llm.ErrServiceUnavailable) {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"reply": msgServiceUnavailable})
			return
		}
		logger.Error("conversation turn failed", logging.Err(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"reply": msgInternalError})
		return
	}

	s.writeJSON(w, http.StatusOK, chatResponse{
		Reply:          reply,
		Messages:       transcript,
		ConversationID: conversationID,
	})
}

// splitTurn separates the new user input from the prior transcript. When the
// client appended its input as the final user message of Messages, that
// message is popped off the history instead.
func splitTurn(req chatRequest) ([]llm.Message, string) {
	if req.Message != "" {
		return req.Messages, req.Message
	}
	if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == llm.RoleUser {
		return req.Messages[:n-1], req.Messages[n-1].Content
	}
	return req.Messages, ""
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writing response", logging.Err(err))
	}
}
