package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"chats/internal/models"
)

const messageColumns = `m.id, m.conversation_id, m.sender_id, m.body, m.created_at`

func scanMessage(row interface{ Scan(...any) error }) (*models.Message, error) {
	msg := &models.Message{}
	if err := row.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Body, &msg.CreatedAt); err != nil {
		return nil, err
	}
	return msg, nil
}

// SaveMessage saves a new message to the database
func (db *DB) SaveMessage(ctx context.Context, message *models.Message) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, message.ID, message.ConversationID, message.SenderID, message.Body, message.CreatedAt.UTC())
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("failed to save message: %w", ErrNotFound)
		}
		return fmt.Errorf("failed to save message: %w", err)
	}
	db.logger.Debug("message_saved",
		zap.String("message_id", message.ID),
		zap.String("conversation_id", message.ConversationID))
	return nil
}

func (db *DB) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg, err := scanMessage(db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM messages m WHERE m.id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	return msg, nil
}

// ListVisibleMessages returns one page of the messages in conversations userID
// participates in, narrowed by filter, newest first. The membership join is
// always applied, so the filter can only shrink the result.
func (db *DB) ListVisibleMessages(ctx context.Context, userID string, filter models.MessageFilter, page models.Page) ([]*models.Message, int, error) {
	w := &where{}
	if filter.ConversationID != "" {
		w.add("m.conversation_id = ?", filter.ConversationID)
	}
	if filter.SenderID != "" {
		w.add("m.sender_id = ?", filter.SenderID)
	}
	if filter.Start != nil {
		w.add("m.created_at >= ?", filter.Start.UTC())
	}
	if filter.End != nil {
		w.add("m.created_at <= ?", filter.End.UTC())
	}
	if filter.Search != "" {
		w.add(`m.body LIKE ? ESCAPE '\'`, "%"+escapeLike(filter.Search)+"%")
	}
	scope := `
		FROM messages m
		JOIN conversation_participants cp ON cp.conversation_id = m.conversation_id AND cp.user_id = ?` + w.String()
	args := append([]any{userID}, w.args...)

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*)"+scope, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT "+messageColumns+scope+`
		ORDER BY m.created_at DESC, m.rowid DESC
		LIMIT ? OFFSET ?
	`, append(args, page.Size, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, total, nil
}

// UpdateMessageBody replaces the body of a message and returns the stored row.
func (db *DB) UpdateMessageBody(ctx context.Context, id, body string) (*models.Message, error) {
	res, err := db.ExecContext(ctx, "UPDATE messages SET body = ? WHERE id = ?", body, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return db.GetMessage(ctx, id)
}

func (db *DB) DeleteMessage(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
