package models

import (
	"strings"
	"time"
)

type Role string

const (
	RoleGuest Role = "guest"
	RoleHost  Role = "host"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	switch r {
	case RoleGuest, RoleHost, RoleAdmin:
		return true
	}
	return false
}

type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	Username     string    `json:"username" db:"username"`
	FirstName    string    `json:"first_name" db:"first_name"`
	LastName     string    `json:"last_name" db:"last_name"`
	PhoneNumber  string    `json:"phone_number" db:"phone_number"`
	Role         Role      `json:"role" db:"role"`
	PasswordHash string    `json:"-" db:"password"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// FullName mirrors how users are shown in participant lists.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type Conversation struct {
	ID           string    `json:"id" db:"id"`
	Participants []string  `json:"participants"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

type Message struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation" db:"conversation_id"`
	SenderID       string    `json:"sender" db:"sender_id"`
	Body           string    `json:"body" db:"body"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// MessageFilter narrows a caller's visible messages. Zero fields are ignored
// and the remaining ones are combined with AND.
type MessageFilter struct {
	ConversationID string
	SenderID       string
	Start          *time.Time
	End            *time.Time
	Search         string
}

// Matches applies the filter to a single message.
func (f MessageFilter) Matches(m *Message) bool {
	if f.ConversationID != "" && m.ConversationID != f.ConversationID {
		return false
	}
	if f.SenderID != "" && m.SenderID != f.SenderID {
		return false
	}
	if f.Start != nil && m.CreatedAt.Before(*f.Start) {
		return false
	}
	if f.End != nil && m.CreatedAt.After(*f.End) {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(m.Body), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

type ConversationFilter struct {
	ParticipantID string
}

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

type PageResponse[T any] struct {
	Count    int  `json:"count"`
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasMore  bool `json:"has_more"`
	Results  []T  `json:"results"`
}

// NewPageResponse wraps one page of results. A nil slice is encoded as [].
func NewPageResponse[T any](results []T, total int, page Page) PageResponse[T] {
	if results == nil {
		results = []T{}
	}
	return PageResponse[T]{
		Count:    total,
		Page:     page.Number,
		PageSize: page.Size,
		HasMore:  page.Offset()+len(results) < total,
		Results:  results,
	}
}

// Request/Response structures
type RegisterRequest struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
	Role        Role   `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

type CreateConversationRequest struct {
	Participants []string `json:"participants"`
}

// SendMessageRequest carries a sender field only so that it can be ignored;
// the sender of a new message is always the authenticated caller.
type SendMessageRequest struct {
	ConversationID string `json:"conversation"`
	SenderID       string `json:"sender,omitempty"`
	Body           string `json:"body"`
}

type UpdateMessageRequest struct {
	Body *string `json:"body"`
}

type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}
