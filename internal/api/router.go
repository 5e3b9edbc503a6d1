package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// readMethods is shared by every read-only route. HEAD runs the GET handler
// and net/http drops the body.
var readMethods = []string{http.MethodGet, http.MethodHead}

type route struct {
	name    string
	methods []string
	path    string
	handler http.HandlerFunc
	public  bool
}

// routes is the operation table. Every protected entry runs behind
// requireUser; the chat service checks participation itself.
func (h *Handlers) routes() []route {
	return []route{
		{"register", []string{http.MethodPost}, "/api/auth/register", h.HandleRegister, true},
		{"login", []string{http.MethodPost}, "/api/auth/login", h.HandleLogin, true},
		{"logout", []string{http.MethodPost}, "/api/auth/logout", h.HandleLogout, true},
		{"verify", readMethods, "/api/auth/verify", h.HandleVerify, false},

		{"users", readMethods, "/api/users", h.HandleUsers, false},
		{"delete_account", []string{http.MethodDelete}, "/api/users/me", h.HandleDeleteAccount, false},

		{"conversations", readMethods, "/api/conversations", h.HandleConversations, false},
		{"create_conversation", []string{http.MethodPost}, "/api/conversations", h.HandleCreateConversation, false},
		{"conversation", readMethods, "/api/conversations/{id}", h.HandleConversation, false},

		{"messages", readMethods, "/api/messages", h.HandleMessages, false},
		{"create_message", []string{http.MethodPost}, "/api/messages", h.HandleCreateMessage, false},
		{"message", readMethods, "/api/messages/{id}", h.HandleMessage, false},
		{"update_message", []string{http.MethodPut, http.MethodPatch}, "/api/messages/{id}", h.HandleUpdateMessage, false},
		{"delete_message", []string{http.MethodDelete}, "/api/messages/{id}", h.HandleDeleteMessage, false},

		{"healthz", readMethods, "/healthz", h.HandleHealth, true},
		{"readyz", readMethods, "/readyz", h.HandleReady, true},
	}
}

// Router returns the routed handler wrapped in the middleware chain.
func (h *Handlers) Router() http.Handler {
	r := mux.NewRouter()

	for _, rt := range h.routes() {
		handler := rt.handler
		if !rt.public {
			handler = requireUser(handler)
		}
		r.Handle(rt.path, h.instrument(rt.path, handler)).
			Methods(rt.methods...).
			Name(rt.name)
	}
	r.Handle("/metrics", h.metrics.Handler()).Methods(readMethods...).Name("metrics")

	r.NotFoundHandler = h.instrument("unmatched", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, "Not found.")
	}))
	r.MethodNotAllowedHandler = h.instrument("unmatched", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method \""+r.Method+"\" not allowed.")
	}))

	return h.logRequest(h.WithCORS(h.WithAuth(r)))
}
