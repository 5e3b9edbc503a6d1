package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

type user struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	token string
}

type conversation struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
}

type messagePage struct {
	Count int `json:"count"`
}

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{baseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}
}

// call sends a JSON request and decodes the response into out when given.
func (c *client) call(ctx context.Context, method, path, token string, in, out interface{}, want int) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// signup registers a load-test user and logs it in.
func (c *client) signup(ctx context.Context, id int) (*user, error) {
	email := fmt.Sprintf("loadtest_user_%d@loadtest.local", id)
	password := "testpass123"

	u := &user{}
	err := c.call(ctx, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":      email,
		"username":   fmt.Sprintf("loadtest_user_%d", id),
		"password":   password,
		"first_name": "Load",
		"last_name":  fmt.Sprintf("User%d", id),
	}, u, http.StatusCreated)
	if err != nil {
		return nil, err
	}

	var login struct {
		Token string `json:"token"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, &login, http.StatusOK); err != nil {
		return nil, err
	}
	u.token = login.Token
	return u, nil
}

func (c *client) createConversation(ctx context.Context, owner *user, participants []string) (*conversation, error) {
	conv := &conversation{}
	err := c.call(ctx, http.MethodPost, "/api/conversations", owner.token, map[string]interface{}{
		"participants": participants,
	}, conv, http.StatusCreated)
	return conv, err
}

func (c *client) sendMessage(ctx context.Context, from *user, conversationID, body string) error {
	return c.call(ctx, http.MethodPost, "/api/messages", from.token, map[string]string{
		"conversation": conversationID,
		"body":         body,
	}, nil, http.StatusCreated)
}

func (c *client) listMessages(ctx context.Context, as *user, conversationID string) (*messagePage, error) {
	page := &messagePage{}
	q := url.Values{"conversation": {conversationID}}
	err := c.call(ctx, http.MethodGet, "/api/messages?"+q.Encode(), as.token, nil, page, http.StatusOK)
	return page, err
}
