package domain

import (
	"strings"
	"time"
)

// Draft is a user's uncommitted payload for one action on one event.
type Draft struct {
	EventID       string     `json:"eventId"`
	CreatedBy     string     `json:"createdBy"`
	ActionType    ActionType `json:"actionType"`
	TransactionID string     `json:"transactionId"`
	Declaration   Fields     `json:"declaration,omitempty"`
	Annotation    Fields     `json:"annotation,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (d Draft) Key() DraftKey {
	return DraftKey{EventID: d.EventID, CreatedBy: d.CreatedBy, ActionType: d.ActionType}
}

type DraftKey struct {
	EventID    string
	CreatedBy  string
	ActionType ActionType
}

func (d Draft) Validate() error {
	if strings.TrimSpace(d.EventID) == "" {
		return Errorf(CodeBadRequest, "eventId is required")
	}
	if strings.TrimSpace(d.CreatedBy) == "" {
		return Errorf(CodeBadRequest, "createdBy is required")
	}
	if strings.TrimSpace(d.TransactionID) == "" {
		return Errorf(CodeBadRequest, "transactionId is required")
	}
	t, err := ParseActionType(string(d.ActionType))
	if err != nil {
		return err
	}
	switch t {
	case ActionCreate, ActionRead, ActionAssign, ActionUnassign, ActionCustom:
		return Errorf(CodeBadRequest, "drafts are not supported for %s", t)
	}
	return nil
}
