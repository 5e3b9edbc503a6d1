package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chats/internal/models"
)

// CreateConversation inserts a conversation and its participants in one transaction.
func (db *DB) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := conv.CreatedAt.UTC()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO conversations (id, created_at) VALUES (?, ?)",
		conv.ID, createdAt,
	); err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	for _, userID := range conv.Participants {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO conversation_participants (conversation_id, user_id, joined_at) VALUES (?, ?, ?)",
			conv.ID, userID, createdAt,
		); err != nil {
			return fmt.Errorf("failed to add participant %s: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	db.logger.Debug("conversation_created",
		zap.String("conversation_id", conv.ID),
		zap.Int("participants", len(conv.Participants)))
	return nil
}

// GetConversation loads a conversation with its participants and message count.
func (db *DB) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := db.QueryRowContext(ctx, `
		SELECT c.id, c.created_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		FROM conversations c
		WHERE c.id = ?
	`, id).Scan(&conv.ID, &conv.CreatedAt, &conv.MessageCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}

	participants, err := db.GetConversationParticipantIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Participants = participants
	return conv, nil
}

// ListConversationsByParticipant returns one page of the conversations userID
// belongs to, newest first, together with the total number of matches.
func (db *DB) ListConversationsByParticipant(ctx context.Context, userID string, filter models.ConversationFilter, page models.Page) ([]*models.Conversation, int, error) {
	w := &where{}
	if filter.ParticipantID != "" {
		w.add(`EXISTS (SELECT 1 FROM conversation_participants f
			WHERE f.conversation_id = c.id AND f.user_id = ?)`, filter.ParticipantID)
	}
	scope := `
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id AND cp.user_id = ?` + w.String()
	args := append([]any{userID}, w.args...)

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*)"+scope, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT c.id, c.created_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)`+scope+`
		ORDER BY c.created_at DESC, c.rowid DESC
		LIMIT ? OFFSET ?
	`, append(args, page.Size, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query conversations: %w", err)
	}

	var conversations []*models.Conversation
	for rows.Next() {
		conv := &models.Conversation{}
		if err := rows.Scan(&conv.ID, &conv.CreatedAt, &conv.MessageCount); err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating conversations: %w", err)
	}

	if err := db.attachParticipants(ctx, conversations); err != nil {
		return nil, 0, err
	}
	return conversations, total, nil
}

func (db *DB) attachParticipants(ctx context.Context, conversations []*models.Conversation) error {
	if len(conversations) == 0 {
		return nil
	}
	byID := make(map[string]*models.Conversation, len(conversations))
	args := make([]any, 0, len(conversations))
	for _, conv := range conversations {
		conv.Participants = []string{}
		byID[conv.ID] = conv
		args = append(args, conv.ID)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT conversation_id, user_id
		FROM conversation_participants
		WHERE conversation_id IN (`+placeholders(len(args))+`)
		ORDER BY joined_at, user_id
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var convID, userID string
		if err := rows.Scan(&convID, &userID); err != nil {
			return fmt.Errorf("failed to scan participant: %w", err)
		}
		if conv, ok := byID[convID]; ok {
			conv.Participants = append(conv.Participants, userID)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating participants: %w", err)
	}
	return nil
}

// GetConversationParticipantIDs returns all participant IDs for a conversation
func (db *DB) GetConversationParticipantIDs(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT user_id
		FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY joined_at, user_id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	participantIDs := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan participant ID: %w", err)
		}
		participantIDs = append(participantIDs, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participants: %w", err)
	}

	return participantIDs, nil
}

// AddParticipant adds userID to an existing conversation.
func (db *DB) AddParticipant(ctx context.Context, conversationID, userID string) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO conversation_participants (conversation_id, user_id, joined_at) VALUES (?, ?, ?)",
		conversationID, userID, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to add participant %s: %w", userID, err)
	}
	return nil
}

// RemoveParticipant drops userID from the conversation. Existing messages stay.
func (db *DB) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	res, err := db.ExecContext(ctx,
		"DELETE FROM conversation_participants WHERE conversation_id = ? AND user_id = ?",
		conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove participant %s: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
