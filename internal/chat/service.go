package chat

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chats/internal/auth"
	"chats/internal/db"
	"chats/internal/models"
)

const (
	minPasswordLength = 8
	maxPasswordBytes  = 72 // bcrypt input limit
	maxPhoneLength    = 15
	userSearchLimit   = 10
)

// Store is the persistence gateway the service needs. *db.DB implements it.
type Store interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	MissingUsers(ctx context.Context, ids []string) ([]string, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]*models.User, error)
	DeleteUser(ctx context.Context, id string) error

	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversationsByParticipant(ctx context.Context, userID string, filter models.ConversationFilter, page models.Page) ([]*models.Conversation, int, error)

	SaveMessage(ctx context.Context, message *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListVisibleMessages(ctx context.Context, userID string, filter models.MessageFilter, page models.Page) ([]*models.Message, int, error)
	UpdateMessageBody(ctx context.Context, id, body string) (*models.Message, error)
	DeleteMessage(ctx context.Context, id string) error
}

type Options struct {
	// AutoJoinCreator adds the caller to every conversation they create.
	AutoJoinCreator bool
}

type Service struct {
	store  Store
	opts   Options
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func NewService(store Store, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// translate maps store sentinels onto the service taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, db.ErrDuplicate):
		return ErrConflict
	}
	return err
}

// authorize loads conversationID and applies CanAccess to its participants.
func (s *Service) authorize(ctx context.Context, caller *models.User, op Operation, conversationID string) error {
	if caller == nil {
		return ErrUnauthenticated
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return translate(err)
	}
	if !CanAccess(caller, op, conv.Participants) {
		s.logger.Info("access_denied",
			zap.String("user_id", caller.ID),
			zap.String("operation", string(op)),
			zap.String("conversation_id", conversationID))
		return ErrForbidden
	}
	return nil
}

// Register creates a new identity. The password is only kept as a bcrypt hash.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" {
		return nil, NewValidationError("email", "This field is required.")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, NewValidationError("email", "Enter a valid email address.")
	}
	if strings.TrimSpace(req.Username) == "" {
		return nil, NewValidationError("username", "This field is required.")
	}
	if strings.TrimSpace(req.FirstName) == "" {
		return nil, NewValidationError("first_name", "This field is required.")
	}
	if strings.TrimSpace(req.LastName) == "" {
		return nil, NewValidationError("last_name", "This field is required.")
	}
	if utf8.RuneCountInString(req.Password) < minPasswordLength {
		return nil, NewValidationError("password", fmt.Sprintf("Ensure this field has at least %d characters.", minPasswordLength))
	}
	if len(req.Password) > maxPasswordBytes {
		return nil, NewValidationError("password", fmt.Sprintf("Ensure this field has no more than %d bytes.", maxPasswordBytes))
	}
	if utf8.RuneCountInString(req.PhoneNumber) > maxPhoneLength {
		return nil, NewValidationError("phone_number", fmt.Sprintf("Ensure this field has no more than %d characters.", maxPhoneLength))
	}
	role := req.Role
	if role == "" {
		role = models.RoleGuest
	}
	if !role.Valid() {
		return nil, NewValidationError("role", fmt.Sprintf("%q is not a valid choice.", role))
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		ID:           s.newID(),
		Email:        email,
		Username:     strings.TrimSpace(req.Username),
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		PhoneNumber:  strings.TrimSpace(req.PhoneNumber),
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil, NewValidationError("email", "user with this email address already exists.")
		}
		return nil, err
	}

	s.logger.Info("user_registered", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

// Authenticate checks an email/password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Identify resolves the user behind a verified token. A token for a deleted
// user no longer authenticates.
func (s *Service) Identify(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	return user, nil
}

func (s *Service) SearchUsers(ctx context.Context, caller *models.User, query string) ([]*models.User, error) {
	if caller == nil {
		return nil, ErrUnauthenticated
	}
	return s.store.SearchUsers(ctx, strings.TrimSpace(query), userSearchLimit)
}

// DeleteAccount removes the caller together with their sent messages.
func (s *Service) DeleteAccount(ctx context.Context, caller *models.User) error {
	if caller == nil {
		return ErrUnauthenticated
	}
	return translate(s.store.DeleteUser(ctx, caller.ID))
}

// ListConversations returns the conversations the caller participates in.
func (s *Service) ListConversations(ctx context.Context, caller *models.User, filter models.ConversationFilter, page models.Page) ([]*models.Conversation, int, error) {
	if caller == nil {
		return nil, 0, ErrUnauthenticated
	}
	return s.store.ListConversationsByParticipant(ctx, caller.ID, filter, page)
}

// CreateConversation creates a conversation with the given participants. The
// caller is not added unless AutoJoinCreator is set.
func (s *Service) CreateConversation(ctx context.Context, caller *models.User, participantIDs []string) (*models.Conversation, error) {
	if caller == nil {
		return nil, ErrUnauthenticated
	}

	seen := make(map[string]struct{}, len(participantIDs)+1)
	participants := make([]string, 0, len(participantIDs)+1)
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		participants = append(participants, id)
	}
	for _, id := range participantIDs {
		parsed, err := uuid.Parse(strings.TrimSpace(id))
		if err != nil {
			return nil, NewValidationError("participants", fmt.Sprintf("%q is not a valid UUID.", id))
		}
		add(parsed.String())
	}
	if s.opts.AutoJoinCreator {
		add(caller.ID)
	}

	missing, err := s.store.MissingUsers(ctx, participants)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, NewValidationError("participants", fmt.Sprintf("unknown user %q.", missing[0]))
	}

	conv := &models.Conversation{
		ID:           s.newID(),
		Participants: participants,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	s.logger.Info("conversation_created",
		zap.String("conversation_id", conv.ID),
		zap.String("created_by", caller.ID),
		zap.Int("participants", len(participants)))
	return conv, nil
}

func (s *Service) GetConversation(ctx context.Context, caller *models.User, id string) (*models.Conversation, error) {
	if caller == nil {
		return nil, ErrUnauthenticated
	}
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	if !CanAccess(caller, OpRetrieve, conv.Participants) {
		return nil, ErrForbidden
	}
	return conv, nil
}

// ListMessages returns the caller's visible messages narrowed by filter.
func (s *Service) ListMessages(ctx context.Context, caller *models.User, filter models.MessageFilter, page models.Page) ([]*models.Message, int, error) {
	if caller == nil {
		return nil, 0, ErrUnauthenticated
	}
	return s.store.ListVisibleMessages(ctx, caller.ID, filter, page)
}

// CreateMessage stores a message from the caller. Any sender in req is
// ignored. Membership is checked here only, at write time.
func (s *Service) CreateMessage(ctx context.Context, caller *models.User, req models.SendMessageRequest) (*models.Message, error) {
	if caller == nil {
		return nil, ErrUnauthenticated
	}
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		return nil, ErrNotFound
	}
	if err := s.authorize(ctx, caller, OpCreate, conversationID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, NewValidationError("body", "Message body cannot be empty.")
	}

	if req.SenderID != "" && req.SenderID != caller.ID {
		s.logger.Warn("sender_overridden",
			zap.String("user_id", caller.ID),
			zap.String("requested_sender", req.SenderID))
	}

	msg := &models.Message{
		ID:             s.newID(),
		ConversationID: conversationID,
		SenderID:       caller.ID,
		Body:           req.Body,
		CreatedAt:      s.now(),
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, translate(err)
	}
	return msg, nil
}

// loadMessage fetches a message and authorizes op against its conversation.
func (s *Service) loadMessage(ctx context.Context, caller *models.User, op Operation, id string) (*models.Message, error) {
	if caller == nil {
		return nil, ErrUnauthenticated
	}
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	if err := s.authorize(ctx, caller, op, msg.ConversationID); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Service) GetMessage(ctx context.Context, caller *models.User, id string) (*models.Message, error) {
	return s.loadMessage(ctx, caller, OpRetrieve, id)
}

// UpdateMessage replaces the body of a message. For OpPartialUpdate a nil body
// leaves the message unchanged; OpUpdate requires it.
func (s *Service) UpdateMessage(ctx context.Context, caller *models.User, op Operation, id string, body *string) (*models.Message, error) {
	if op != OpUpdate && op != OpPartialUpdate {
		return nil, ErrForbidden
	}
	msg, err := s.loadMessage(ctx, caller, op, id)
	if err != nil {
		return nil, err
	}
	if body == nil {
		if op == OpUpdate {
			return nil, NewValidationError("body", "This field is required.")
		}
		return msg, nil
	}
	if strings.TrimSpace(*body) == "" {
		return nil, NewValidationError("body", "Message body cannot be empty.")
	}
	updated, err := s.store.UpdateMessageBody(ctx, id, *body)
	if err != nil {
		return nil, translate(err)
	}
	return updated, nil
}

func (s *Service) DeleteMessage(ctx context.Context, caller *models.User, id string) error {
	if _, err := s.loadMessage(ctx, caller, OpDelete, id); err != nil {
		return err
	}
	return translate(s.store.DeleteMessage(ctx, id))
}

var _ Store = (*db.DB)(nil)
