package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"chats/internal/chat"
	"chats/internal/models"
)

const dateLayout = "2006-01-02"

// parsePage reads page and page_size. page is 1-based.
func parsePage(r *http.Request, defaultSize, maxSize int) (models.Page, error) {
	page := models.Page{Number: 1, Size: defaultSize}
	q := r.URL.Query()

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return page, chat.NewValidationError("page", "Invalid page.")
		}
		page.Number = n
	}
	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxSize {
			return page, chat.NewValidationError("page_size", "page_size must be between 1 and "+strconv.Itoa(maxSize)+".")
		}
		page.Size = n
	}
	return page, nil
}

func parseUUIDParam(r *http.Request, name string) (string, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return "", nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return "", chat.NewValidationError(name, "Enter a valid UUID.")
	}
	return id.String(), nil
}

// parseTimeParam accepts RFC 3339 timestamps or bare dates. A bare date used
// as an upper bound covers the whole day.
func parseTimeParam(r *http.Request, name string, upper bool) (*time.Time, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, chat.NewValidationError(name, "Enter a valid date/time.")
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func parseMessageFilter(r *http.Request) (models.MessageFilter, error) {
	var (
		f   models.MessageFilter
		err error
	)
	if f.ConversationID, err = parseUUIDParam(r, "conversation"); err != nil {
		return f, err
	}
	if f.SenderID, err = parseUUIDParam(r, "sender"); err != nil {
		return f, err
	}
	if f.Start, err = parseTimeParam(r, "start_date", false); err != nil {
		return f, err
	}
	if f.End, err = parseTimeParam(r, "end_date", true); err != nil {
		return f, err
	}
	f.Search = strings.TrimSpace(r.URL.Query().Get("search"))
	return f, nil
}

func parseConversationFilter(r *http.Request) (models.ConversationFilter, error) {
	participant, err := parseUUIDParam(r, "participant")
	if err != nil {
		return models.ConversationFilter{}, err
	}
	return models.ConversationFilter{ParticipantID: participant}, nil
}
