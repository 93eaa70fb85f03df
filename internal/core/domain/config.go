package domain

import "encoding/json"

// EventConfig is the country supplied definition of one event type.
type EventConfig struct {
	ID                string          `json:"id"`
	Label             string          `json:"label,omitempty"`
	Actions           []ActionConfig  `json:"actions"`
	DeclarationSchema json.RawMessage `json:"declarationSchema,omitempty"`
}

// ActionConfig overrides the defaults of a core action or declares a custom one.
type ActionConfig struct {
	Type                 ActionType `json:"type"`
	CustomActionType     string     `json:"customActionType,omitempty"`
	RequiredScopes       []string   `json:"requiredScopes,omitempty"`
	RequiresConfirmation bool       `json:"requiresConfirmation,omitempty"`
	NotificationEnabled  bool       `json:"notificationEnabled,omitempty"`
}

// Action returns the entry for (t, custom). Custom actions match on both.
func (c EventConfig) Action(t ActionType, custom string) (ActionConfig, bool) {
	for _, a := range c.Actions {
		if a.Type != t {
			continue
		}
		if t == ActionCustom && a.CustomActionType != custom {
			continue
		}
		return a, true
	}
	return ActionConfig{}, false
}

// Scopes returns the scopes that allow submitting t. Configured scopes win
// over the built-in defaults.
func (c EventConfig) Scopes(t ActionType, custom string) []string {
	if a, ok := c.Action(t, custom); ok && len(a.RequiredScopes) > 0 {
		return a.RequiredScopes
	}
	return DefaultScopes(t)
}

func DefaultScopes(t ActionType) []string {
	switch t {
	case ActionCreate, ActionDeclare:
		return []string{ScopeRecordDeclare}
	case ActionNotify:
		return []string{ScopeRecordNotify, ScopeRecordDeclare}
	case ActionValidate:
		return []string{ScopeRecordValidate}
	case ActionRegister:
		return []string{ScopeRecordRegister}
	case ActionReject:
		return []string{ScopeRecordReject, ScopeRecordValidate, ScopeRecordRegister}
	case ActionArchive:
		return []string{ScopeRecordArchive}
	case ActionRequestCorrection:
		return []string{ScopeRecordCorrectionRequest}
	case ActionApproveCorrection, ActionRejectCorrection:
		return []string{ScopeRecordCorrectionReview}
	case ActionPrintCertificate:
		return []string{ScopeRecordPrint}
	case ActionRead:
		return []string{ScopeRecordRead}
	case ActionAssign:
		return []string{ScopeRecordAssign}
	case ActionUnassign:
		return []string{ScopeRecordAssign, ScopeRecordUnassignOthers}
	default:
		// Custom actions have no default and must be configured.
		return nil
	}
}
