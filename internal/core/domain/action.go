package domain

import (
	"strings"
	"time"
)

type ActionType string

const (
	ActionCreate            ActionType = "CREATE"
	ActionNotify            ActionType = "NOTIFY"
	ActionDeclare           ActionType = "DECLARE"
	ActionValidate          ActionType = "VALIDATE"
	ActionRegister          ActionType = "REGISTER"
	ActionReject            ActionType = "REJECT"
	ActionArchive           ActionType = "ARCHIVE"
	ActionRequestCorrection ActionType = "REQUEST_CORRECTION"
	ActionApproveCorrection ActionType = "APPROVE_CORRECTION"
	ActionRejectCorrection  ActionType = "REJECT_CORRECTION"
	ActionPrintCertificate  ActionType = "PRINT_CERTIFICATE"
	ActionAssign            ActionType = "ASSIGN"
	ActionUnassign          ActionType = "UNASSIGN"
	ActionRead              ActionType = "READ"
	ActionCustom            ActionType = "CUSTOM"
)

// ActionTypes lists every action type in a stable order.
var ActionTypes = []ActionType{
	ActionCreate,
	ActionNotify,
	ActionDeclare,
	ActionValidate,
	ActionRegister,
	ActionReject,
	ActionArchive,
	ActionRequestCorrection,
	ActionApproveCorrection,
	ActionRejectCorrection,
	ActionPrintCertificate,
	ActionAssign,
	ActionUnassign,
	ActionRead,
	ActionCustom,
}

func ParseActionType(s string) (ActionType, error) {
	t := ActionType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range ActionTypes {
		if t == known {
			return t, nil
		}
	}
	return "", Errorf(CodeBadRequest, "unknown action type %q", s)
}

// RequiresAssignment reports whether the actor must hold the event's
// assignment before submitting an action of this type.
func (t ActionType) RequiresAssignment() bool {
	switch t {
	case ActionCreate, ActionRead, ActionNotify, ActionAssign, ActionUnassign:
		return false
	default:
		return true
	}
}

// ReleasesAssignment reports whether a successful action of this type frees
// the assignment unless the caller asks to keep it.
func (t ActionType) ReleasesAssignment() bool {
	switch t {
	case ActionDeclare, ActionValidate, ActionRegister, ActionReject, ActionArchive,
		ActionRequestCorrection, ActionApproveCorrection, ActionRejectCorrection, ActionPrintCertificate:
		return true
	default:
		return false
	}
}

// ValidatesDeclaration reports whether the merged declaration must satisfy
// the event type's form schema.
func (t ActionType) ValidatesDeclaration() bool {
	switch t {
	case ActionDeclare, ActionValidate, ActionRegister, ActionApproveCorrection:
		return true
	default:
		return false
	}
}

type ActionStatus string

const (
	ActionStatusRequested ActionStatus = "Requested"
	ActionStatusAccepted  ActionStatus = "Accepted"
	ActionStatusRejected  ActionStatus = "Rejected"
)

func (s ActionStatus) Valid() bool {
	switch s {
	case ActionStatusRequested, ActionStatusAccepted, ActionStatusRejected:
		return true
	default:
		return false
	}
}

// Reason accompanies REJECT and ARCHIVE actions.
type Reason struct {
	Message     string `json:"message"`
	IsDuplicate bool   `json:"isDuplicate,omitempty"`
}

// Action is one immutable entry of an event's log.
type Action struct {
	ID                string       `json:"id"`
	EventID           string       `json:"eventId"`
	TransactionID     string       `json:"transactionId"`
	Type              ActionType   `json:"type"`
	CustomActionType  string       `json:"customActionType,omitempty"`
	Status            ActionStatus `json:"status"`
	OriginalActionID  string       `json:"originalActionId,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
	CreatedBy         string       `json:"createdBy"`
	CreatedByRole     string       `json:"createdByRole,omitempty"`
	CreatedByUserType UserType     `json:"createdByUserType"`
	CreatedAtLocation string       `json:"createdAtLocation,omitempty"`
	AssignedTo        string       `json:"assignedTo,omitempty"`
	Declaration       Fields       `json:"declaration,omitempty"`
	Annotation        Fields       `json:"annotation,omitempty"`
	Reason            *Reason      `json:"reason,omitempty"`
	SchemaVersion     int          `json:"-"`
}

// Key identifies the action for idempotency checks.
func (a Action) Key() ActionKey {
	return ActionKey{CreatedBy: a.CreatedBy, Type: a.Type, TransactionID: a.TransactionID}
}

type ActionKey struct {
	CreatedBy     string
	Type          ActionType
	TransactionID string
}

// ActionInput is the caller supplied part of an action request.
type ActionInput struct {
	Type             ActionType `json:"type"`
	CustomActionType string     `json:"customActionType,omitempty"`
	TransactionID    string     `json:"transactionId"`
	Declaration      Fields     `json:"declaration,omitempty"`
	Annotation       Fields     `json:"annotation,omitempty"`
	Reason           *Reason    `json:"reason,omitempty"`
	KeepAssignment   bool       `json:"keepAssignment,omitempty"`
}

func (in ActionInput) Validate() error {
	if strings.TrimSpace(in.TransactionID) == "" {
		return Errorf(CodeBadRequest, "transactionId is required")
	}
	if _, err := ParseActionType(string(in.Type)); err != nil {
		return err
	}
	if in.Type == ActionCustom && strings.TrimSpace(in.CustomActionType) == "" {
		return Errorf(CodeBadRequest, "customActionType is required for CUSTOM actions")
	}
	if in.Type != ActionCustom && in.CustomActionType != "" {
		return Errorf(CodeBadRequest, "customActionType is only allowed on CUSTOM actions")
	}
	switch in.Type {
	case ActionCreate, ActionRead, ActionAssign, ActionUnassign:
		return Errorf(CodeBadRequest, "%s cannot be requested directly", in.Type)
	case ActionReject, ActionArchive:
		if in.Reason == nil || strings.TrimSpace(in.Reason.Message) == "" {
			return Errorf(CodeBadRequest, "%s requires a reason", in.Type)
		}
	}
	return nil
}

type FinalizeOutcome string

const (
	FinalizeAccept FinalizeOutcome = "Accepted"
	FinalizeReject FinalizeOutcome = "Rejected"
)

func (o FinalizeOutcome) Status() (ActionStatus, error) {
	switch o {
	case FinalizeAccept:
		return ActionStatusAccepted, nil
	case FinalizeReject:
		return ActionStatusRejected, nil
	default:
		return "", Errorf(CodeBadRequest, "unknown outcome %q", o)
	}
}
