package chat

import (
	"net/http"

	"chats/internal/models"
)

// Operation is the kind of request being authorized.
type Operation string

const (
	OpUnknown       Operation = ""
	OpList          Operation = "list"
	OpRetrieve      Operation = "retrieve"
	OpCreate        Operation = "create"
	OpUpdate        Operation = "update"
	OpPartialUpdate Operation = "partial_update"
	OpDelete        Operation = "delete"
)

// Safe reports whether op only reads.
func (op Operation) Safe() bool {
	return op == OpList || op == OpRetrieve
}

// Mutating reports whether op writes.
func (op Operation) Mutating() bool {
	switch op {
	case OpCreate, OpUpdate, OpPartialUpdate, OpDelete:
		return true
	}
	return false
}

// OperationForMethod maps an HTTP verb to an operation. hasID tells whether
// the request targets a single object. Unknown verbs yield OpUnknown.
func OperationForMethod(method string, hasID bool) Operation {
	switch method {
	case http.MethodGet, http.MethodHead:
		if hasID {
			return OpRetrieve
		}
		return OpList
	case http.MethodPost:
		return OpCreate
	case http.MethodPut:
		return OpUpdate
	case http.MethodPatch:
		return OpPartialUpdate
	case http.MethodDelete:
		return OpDelete
	}
	return OpUnknown
}

// CanAccess decides whether caller may perform op on a conversation with the
// given participants. For a message, pass the participants of its
// conversation. Roles are not consulted.
func CanAccess(caller *models.User, op Operation, participants []string) bool {
	if caller == nil || caller.ID == "" {
		return false
	}
	if !op.Safe() && !op.Mutating() {
		return false
	}
	for _, id := range participants {
		if id == caller.ID {
			return true
		}
	}
	return false
}

// FilterMessages returns the messages of visible that match every set field of f.
func FilterMessages(visible []*models.Message, f models.MessageFilter) []*models.Message {
	out := make([]*models.Message, 0, len(visible))
	for _, m := range visible {
		if f.Matches(m) {
			out = append(out, m)
		}
	}
	return out
}
