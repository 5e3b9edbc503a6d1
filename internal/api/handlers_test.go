package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chats/internal/auth"
	"chats/internal/chat"
	"chats/internal/db"
	"chats/internal/metrics"
	"chats/internal/models"
)

type testServer struct {
	handler http.Handler
	store   *db.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := db.NewDB(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	service := chat.NewService(store, chat.Options{}, zap.NewNop())
	tokens := auth.NewTokenService("test-secret", time.Hour)
	h := NewHandlers(service, tokens, metrics.New(), store.Ready, Config{
		CORSOrigin:  "http://localhost:3000",
		PageSize:    2,
		MaxPageSize: 5,
	}, zap.NewNop())
	return &testServer{handler: h.Router(), store: store}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

type account struct {
	user  models.User
	token string
}

func (s *testServer) signup(t *testing.T, name string) account {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/register", "", models.RegisterRequest{
		Email:     name + "@example.com",
		Username:  name,
		Password:  "password123",
		FirstName: name,
		LastName:  "Test",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{
		Email:    name + "@example.com",
		Password: "password123",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.LoginResponse
	decode(t, rec, &resp)
	return account{user: resp.User, token: resp.Token}
}

func (s *testServer) conversation(t *testing.T, owner account, members ...account) models.Conversation {
	t.Helper()
	ids := []string{}
	for _, m := range members {
		ids = append(ids, m.user.ID)
	}
	rec := s.do(t, http.MethodPost, "/api/conversations", owner.token, models.CreateConversationRequest{Participants: ids})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var conv models.Conversation
	decode(t, rec, &conv)
	return conv
}

func (s *testServer) send(t *testing.T, from account, convID, body string) models.Message {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/messages", from.token, models.SendMessageRequest{ConversationID: convID, Body: body})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var msg models.Message
	decode(t, rec, &msg)
	return msg
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestLoginSetsCookieAndVerify(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "alice")

	rec := s.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{Email: "alice@example.com", Password: "password123"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil)
	req.AddCookie(cookie)
	verify := httptest.NewRecorder()
	s.handler.ServeHTTP(verify, req)
	require.Equal(t, http.StatusOK, verify.Code)

	var me models.User
	decode(t, verify, &me)
	assert.Equal(t, "alice", me.Username)

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", models.LoginRequest{Email: "alice@example.com", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterValidationError(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/auth/register", "", models.RegisterRequest{Email: "bad", Username: "x", Password: "password123"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorResponse
	decode(t, rec, &body)
	assert.Equal(t, "email", body.Field)

	rec = s.do(t, http.MethodPost, "/api/auth/register", "", models.RegisterRequest{
		Email:     "long@example.com",
		Username:  "long",
		Password:  strings.Repeat("p", 80),
		FirstName: "Long",
		LastName:  "Password",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body = errorResponse{}
	decode(t, rec, &body)
	assert.Equal(t, "password", body.Field)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader("{"))
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnonymousIsRejected(t *testing.T) {
	s := newTestServer(t)
	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/messages"},
		{http.MethodPost, "/api/messages"},
		{http.MethodGet, "/api/messages/" + uuid.NewString()},
		{http.MethodGet, "/api/conversations"},
		{http.MethodGet, "/api/users"},
		{http.MethodGet, "/api/auth/verify"},
	}
	for _, p := range paths {
		rec := s.do(t, p.method, p.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, p.method+" "+p.path)
	}

	rec := s.do(t, http.MethodGet, "/api/messages", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestParticipantScoping(t *testing.T) {
	s := newTestServer(t)
	alice, bob, carol := s.signup(t, "alice"), s.signup(t, "bob"), s.signup(t, "carol")

	x := s.conversation(t, alice, alice, bob)
	msg := s.send(t, alice, x.ID, "hello bob")
	assert.Equal(t, alice.user.ID, msg.SenderID)

	rec := s.do(t, http.MethodGet, "/api/messages/"+msg.ID, carol.token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/messages", carol.token, models.SendMessageRequest{ConversationID: x.ID, Body: "hi"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/conversations/"+x.ID, carol.token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/messages?conversation="+x.ID, carol.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page models.PageResponse[models.Message]
	decode(t, rec, &page)
	assert.Zero(t, page.Count)
	assert.Empty(t, page.Results)

	rec = s.do(t, http.MethodGet, "/api/messages/"+msg.ID, bob.token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateMessageIgnoresSender(t *testing.T) {
	s := newTestServer(t)
	alice, bob := s.signup(t, "alice"), s.signup(t, "bob")
	x := s.conversation(t, alice, alice, bob)

	rec := s.do(t, http.MethodPost, "/api/messages", alice.token, models.SendMessageRequest{
		ConversationID: x.ID,
		SenderID:       bob.user.ID,
		Body:           "not from bob",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var msg models.Message
	decode(t, rec, &msg)
	assert.Equal(t, alice.user.ID, msg.SenderID)
}

func TestCreateMessageErrors(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice")
	x := s.conversation(t, alice, alice)

	rec := s.do(t, http.MethodPost, "/api/messages", alice.token, models.SendMessageRequest{ConversationID: uuid.NewString(), Body: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/messages", alice.token, models.SendMessageRequest{ConversationID: x.ID, Body: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	empty := s.conversation(t, alice)
	rec = s.do(t, http.MethodPost, "/api/messages", alice.token, models.SendMessageRequest{ConversationID: empty.ID, Body: "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	for _, id := range []string{x.ID, empty.ID} {
		conv, err := s.store.GetConversation(context.Background(), id)
		require.NoError(t, err)
		assert.Zero(t, conv.MessageCount, id)
	}
}

func TestHeadOnReadRoutes(t *testing.T) {
	s := newTestServer(t)
	alice, bob := s.signup(t, "alice"), s.signup(t, "bob")
	x := s.conversation(t, alice, alice, bob)
	m := s.send(t, alice, x.ID, "hi")

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodHead, "/api/messages/"+m.ID, bob.token, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodHead, "/api/conversations/"+x.ID, alice.token, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodHead, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodHead, "/api/messages/"+m.ID, "", nil).Code)

	carol := s.signup(t, "carol")
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodHead, "/api/messages/"+m.ID, carol.token, nil).Code)
}

func TestMessagePaginationAndFilters(t *testing.T) {
	s := newTestServer(t)
	alice, bob := s.signup(t, "alice"), s.signup(t, "bob")
	x := s.conversation(t, alice, alice, bob)
	s.send(t, alice, x.ID, "first")
	s.send(t, bob, x.ID, "second")
	s.send(t, alice, x.ID, "third")

	rec := s.do(t, http.MethodGet, "/api/messages", alice.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page models.PageResponse[models.Message]
	decode(t, rec, &page)
	assert.Equal(t, 3, page.Count)
	assert.Equal(t, 2, page.PageSize)
	assert.True(t, page.HasMore)
	require.Len(t, page.Results, 2)
	assert.Equal(t, "third", page.Results[0].Body)

	rec = s.do(t, http.MethodGet, "/api/messages?page=2", alice.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = models.PageResponse[models.Message]{}
	decode(t, rec, &page)
	assert.False(t, page.HasMore)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "first", page.Results[0].Body)

	rec = s.do(t, http.MethodGet, "/api/messages?sender="+bob.user.ID, alice.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = models.PageResponse[models.Message]{}
	decode(t, rec, &page)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "second", page.Results[0].Body)

	today := time.Now().UTC().Format(dateLayout)
	rec = s.do(t, http.MethodGet, "/api/messages?search=IR&end_date="+today, alice.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = models.PageResponse[models.Message]{}
	decode(t, rec, &page)
	assert.Equal(t, 2, page.Count)

	for _, q := range []string{"page=0", "page_size=6", "page=x", "sender=nope", "start_date=yesterday"} {
		rec = s.do(t, http.MethodGet, "/api/messages?"+q, alice.token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestUpdateAndDeleteMessage(t *testing.T) {
	s := newTestServer(t)
	alice, bob := s.signup(t, "alice"), s.signup(t, "bob")
	x := s.conversation(t, alice, alice, bob)
	msg := s.send(t, alice, x.ID, "draft")

	rec := s.do(t, http.MethodPatch, "/api/messages/"+msg.ID, alice.token, map[string]string{"body": "final"})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated models.Message
	decode(t, rec, &updated)
	assert.Equal(t, "final", updated.Body)

	rec = s.do(t, http.MethodPut, "/api/messages/"+msg.ID, alice.token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/messages/"+msg.ID, bob.token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/messages/"+msg.ID, alice.token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationEndpoints(t *testing.T) {
	s := newTestServer(t)
	alice, bob, carol := s.signup(t, "alice"), s.signup(t, "bob"), s.signup(t, "carol")
	x := s.conversation(t, alice, alice, bob)
	s.conversation(t, alice, bob, carol)

	rec := s.do(t, http.MethodGet, "/api/conversations", alice.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page models.PageResponse[models.Conversation]
	decode(t, rec, &page)
	assert.Equal(t, 1, page.Count)
	require.Len(t, page.Results, 1)
	assert.Equal(t, x.ID, page.Results[0].ID)

	rec = s.do(t, http.MethodGet, "/api/conversations/"+x.ID, bob.token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/conversations/"+uuid.NewString(), bob.token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/conversations", alice.token, models.CreateConversationRequest{Participants: []string{uuid.NewString()}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUsersAndAccountDeletion(t *testing.T) {
	s := newTestServer(t)
	alice, bob := s.signup(t, "alice"), s.signup(t, "bob")

	rec := s.do(t, http.MethodGet, "/api/users?search=bo", alice.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users []models.UserSummary
	decode(t, rec, &users)
	require.Len(t, users, 1)
	assert.Equal(t, bob.user.ID, users[0].ID)
	assert.Equal(t, "bob Test", users[0].FullName)
	assert.NotContains(t, rec.Body.String(), "@example.com")

	rec = s.do(t, http.MethodDelete, "/api/users/me", bob.token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/auth/verify", bob.token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoutingErrors(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice")

	rec := s.do(t, http.MethodPut, "/api/messages", alice.token, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/conversations/"+uuid.NewString(), alice.token, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/nowhere", alice.token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestProbesMetricsAndCORS(t *testing.T) {
	s := newTestServer(t)
	alice, bob, carol := s.signup(t, "alice"), s.signup(t, "bob"), s.signup(t, "carol")
	x := s.conversation(t, alice, alice, bob)
	s.send(t, alice, x.ID, "counted")
	s.do(t, http.MethodGet, "/api/conversations/"+x.ID, carol.token, nil)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/readyz", "", nil).Code)

	rec := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "chat_messages_created_total 1")
	assert.Contains(t, body, `chat_access_denied_total{operation="retrieve"} 1`)
	assert.Contains(t, body, `http_requests_total{method="POST",route="/api/messages",status="201"} 1`)

	req := httptest.NewRequest(http.MethodOptions, "/api/messages", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	pre := httptest.NewRecorder()
	s.handler.ServeHTTP(pre, req)
	assert.Equal(t, http.StatusNoContent, pre.Code)
	assert.Equal(t, "http://localhost:3000", pre.Header().Get("Access-Control-Allow-Origin"))

	require.NoError(t, s.store.Close())
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/readyz", "", nil).Code)
}

func TestProbesIgnoreCredentials(t *testing.T) {
	s := newTestServer(t)
	alice := s.signup(t, "alice")

	// With the store gone a user lookup would fail the request.
	require.NoError(t, s.store.Close())
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", alice.token, nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/metrics", alice.token, nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/readyz", alice.token, nil).Code)
	assert.Equal(t, http.StatusInternalServerError, s.do(t, http.MethodGet, "/api/auth/verify", alice.token, nil).Code)
}

func TestSafeHeadersRedactsCredentials(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Cookie", "auth_token=secret")
	req.Header.Set("Accept", "application/json")

	got := safeHeaders(req)
	assert.NotContains(t, got, "secret")
	assert.Contains(t, got, "Accept=application/json")
	assert.Contains(t, got, "Authorization=<redacted>")
}
