package domain

import (
	"strings"
)

type UserType string

const (
	UserTypeUser   UserType = "user"
	UserTypeSystem UserType = "system"
)

const (
	ScopeRecordRead              = "record.read"
	ScopeRecordDeclare           = "record.declare"
	ScopeRecordNotify            = "record.notify"
	ScopeRecordValidate          = "record.validate"
	ScopeRecordRegister          = "record.register"
	ScopeRecordReject            = "record.reject"
	ScopeRecordArchive           = "record.archive"
	ScopeRecordCorrectionRequest = "record.correction.request"
	ScopeRecordCorrectionReview  = "record.correction.review"
	ScopeRecordPrint             = "record.print"
	ScopeRecordAssign            = "record.assign"
	ScopeRecordUnassignOthers    = "record.unassign-others"
	ScopeRecordConfirm           = "record.confirm"
)

// Actor is the authenticated caller, built from token claims.
type Actor struct {
	ID              string
	Role            string
	UserType        UserType
	PrimaryOfficeID string
	Scopes          []string
	// Token is forwarded to the configuration collaborator.
	Token string
}

func (a Actor) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return Errorf(CodeForbidden, "actor id is missing")
	}
	return nil
}

// HasScope reports whether the actor holds scope name for eventType.
func (a Actor) HasScope(name, eventType string) bool {
	for _, raw := range a.Scopes {
		s, ok := ParseScope(raw)
		if !ok || s.Name != name {
			continue
		}
		if s.Allows(eventType) {
			return true
		}
	}
	return false
}

// HasAnyScope reports whether the actor holds at least one of names for eventType.
func (a Actor) HasAnyScope(names []string, eventType string) bool {
	for _, name := range names {
		if a.HasScope(name, eventType) {
			return true
		}
	}
	return false
}

// Scope is a parsed scope claim such as "record.register[event=birth|death]".
type Scope struct {
	Name       string
	EventTypes []string
}

func ParseScope(raw string) (Scope, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Scope{}, false
	}
	open := strings.IndexByte(raw, '[')
	if open < 0 {
		return Scope{Name: raw}, true
	}
	if !strings.HasSuffix(raw, "]") || open == 0 {
		return Scope{}, false
	}
	s := Scope{Name: raw[:open]}
	for _, opt := range strings.Split(raw[open+1:len(raw)-1], ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(opt), "=")
		if !ok {
			return Scope{}, false
		}
		if key != "event" {
			continue
		}
		for _, v := range strings.Split(value, "|") {
			if v = strings.TrimSpace(v); v != "" {
				s.EventTypes = append(s.EventTypes, v)
			}
		}
	}
	return s, true
}

func (s Scope) Allows(eventType string) bool {
	if len(s.EventTypes) == 0 {
		return true
	}
	for _, t := range s.EventTypes {
		if t == "*" || t == eventType {
			return true
		}
	}
	return false
}
