package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"chats/internal/auth"
	"chats/internal/chat"
	"chats/internal/metrics"
	"chats/internal/models"
)

const maxBodyBytes = 1 << 20

// Config holds the HTTP-facing settings of the handlers.
type Config struct {
	CORSOrigin   string
	SecureCookie bool
	PageSize     int
	MaxPageSize  int
}

type Handlers struct {
	service *chat.Service
	tokens  *auth.TokenService
	metrics *metrics.Metrics
	ready   func(context.Context) error
	logger  *zap.Logger
	cfg     Config
}

func NewHandlers(service *chat.Service, tokens *auth.TokenService, m *metrics.Metrics, ready func(context.Context) error, cfg Config, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = 20
	}
	if cfg.MaxPageSize < cfg.PageSize {
		cfg.MaxPageSize = cfg.PageSize
	}
	return &Handlers{
		service: service,
		tokens:  tokens,
		metrics: m,
		ready:   ready,
		logger:  logger,
		cfg:     cfg,
	}
}

func (h *Handlers) setAuthCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

// Auth handlers
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, chat.OpCreate, err)
		return
	}

	user, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.fail(w, r, chat.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, chat.OpCreate, err)
		return
	}

	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, chat.OpCreate, err)
		return
	}

	token, expiresAt, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.fail(w, r, chat.OpCreate, err)
		return
	}
	h.setAuthCookie(w, token, int(h.tokens.TTL()/time.Second))

	writeJSON(w, http.StatusOK, models.LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      *user,
	})
}

func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.setAuthCookie(w, "", -1)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) HandleVerify(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CallerFromContext(r.Context()))
}

// User handlers
func (h *Handlers) HandleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.SearchUsers(r.Context(), CallerFromContext(r.Context()), r.URL.Query().Get("search"))
	if err != nil {
		h.fail(w, r, chat.OpList, err)
		return
	}

	response := make([]models.UserSummary, 0, len(users))
	for _, u := range users {
		response = append(response, models.UserSummary{
			ID:       u.ID,
			Username: u.Username,
			FullName: u.FullName(),
			Role:     u.Role,
		})
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handlers) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteAccount(r.Context(), CallerFromContext(r.Context())); err != nil {
		h.fail(w, r, chat.OpDelete, err)
		return
	}
	h.setAuthCookie(w, "", -1)
	w.WriteHeader(http.StatusNoContent)
}

// Conversation handlers
func (h *Handlers) HandleConversations(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r, h.cfg.PageSize, h.cfg.MaxPageSize)
	if err != nil {
		h.fail(w, r, chat.OpList, err)
		return
	}
	filter, err := parseConversationFilter(r)
	if err != nil {
		h.fail(w, r, chat.OpList, err)
		return
	}

	conversations, total, err := h.service.ListConversations(r.Context(), CallerFromContext(r.Context()), filter, page)
	if err != nil {
		h.fail(w, r, chat.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewPageResponse(conversations, total, page))
}

func (h *Handlers) HandleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req models.CreateConversationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, chat.OpCreate, err)
		return
	}

	conversation, err := h.service.CreateConversation(r.Context(), CallerFromContext(r.Context()), req.Participants)
	if err != nil {
		h.fail(w, r, chat.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, conversation)
}

func (h *Handlers) HandleConversation(w http.ResponseWriter, r *http.Request) {
	conversation, err := h.service.GetConversation(r.Context(), CallerFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, chat.OpRetrieve, err)
		return
	}
	writeJSON(w, http.StatusOK, conversation)
}

// Message handlers
func (h *Handlers) HandleMessages(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r, h.cfg.PageSize, h.cfg.MaxPageSize)
	if err != nil {
		h.fail(w, r, chat.OpList, err)
		return
	}
	filter, err := parseMessageFilter(r)
	if err != nil {
		h.fail(w, r, chat.OpList, err)
		return
	}

	messages, total, err := h.service.ListMessages(r.Context(), CallerFromContext(r.Context()), filter, page)
	if err != nil {
		h.fail(w, r, chat.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewPageResponse(messages, total, page))
}

func (h *Handlers) HandleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req models.SendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, chat.OpCreate, err)
		return
	}

	message, err := h.service.CreateMessage(r.Context(), CallerFromContext(r.Context()), req)
	if err != nil {
		h.fail(w, r, chat.OpCreate, err)
		return
	}
	h.metrics.MessagesCreated.Inc()
	writeJSON(w, http.StatusCreated, message)
}

func (h *Handlers) HandleMessage(w http.ResponseWriter, r *http.Request) {
	message, err := h.service.GetMessage(r.Context(), CallerFromContext(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, chat.OpRetrieve, err)
		return
	}
	writeJSON(w, http.StatusOK, message)
}

// HandleUpdateMessage serves both PUT and PATCH.
func (h *Handlers) HandleUpdateMessage(w http.ResponseWriter, r *http.Request) {
	op := chat.OperationForMethod(r.Method, true)

	var req models.UpdateMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, op, err)
		return
	}

	message, err := h.service.UpdateMessage(r.Context(), CallerFromContext(r.Context()), op, mux.Vars(r)["id"], req.Body)
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, message)
}

func (h *Handlers) HandleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteMessage(r.Context(), CallerFromContext(r.Context()), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, chat.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Probes
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.Warn("readiness_check_failed", zap.Error(err))
			writeJSONError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
