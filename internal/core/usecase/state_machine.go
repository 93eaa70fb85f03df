package usecase

import (
	"context"
	"errors"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

// StateMachine decides whether an actor may submit an action against the
// current document of an event.
type StateMachine struct {
	configs ports.EventConfigProvider
	schemas *SchemaService
}

func NewStateMachine(configs ports.EventConfigProvider, schemas *SchemaService) *StateMachine {
	if schemas == nil {
		schemas = NewSchemaService()
	}
	return &StateMachine{configs: configs, schemas: schemas}
}

// Decision is the outcome of an accepted check.
type Decision struct {
	Config     domain.EventConfig
	Action     domain.ActionConfig
	Transition domain.Transition
}

// Config resolves the configuration of eventType. Unknown types and an
// unreachable collaborator are both reported as BAD_REQUEST.
func (m *StateMachine) Config(ctx context.Context, actor domain.Actor, eventType string) (domain.EventConfig, error) {
	cfg, err := m.configs.EventConfig(ctx, actor, eventType)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.EventConfig{}, domain.Errorf(domain.CodeBadRequest, "unknown event type %q", eventType)
	}
	if err != nil {
		return domain.EventConfig{}, domain.Wrap(domain.CodeBadRequest, "event configuration unavailable", err)
	}
	return cfg, nil
}

// CheckCreate authorizes creating an event of eventType.
func (m *StateMachine) CheckCreate(ctx context.Context, actor domain.Actor, eventType string) (Decision, error) {
	cfg, err := m.Config(ctx, actor, eventType)
	if err != nil {
		return Decision{}, err
	}
	if !actor.HasAnyScope(cfg.Scopes(domain.ActionCreate, ""), eventType) {
		return Decision{}, domain.Errorf(domain.CodeForbidden, "missing scope to create %s events", eventType)
	}
	ac, _ := cfg.Action(domain.ActionCreate, "")
	return Decision{Config: cfg, Action: ac, Transition: domain.NextStatus(domain.StatusUnspecified, domain.ActionCreate)}, nil
}

// Check runs the configuration, scope, transition and assignment checks in
// that order. Declaration validation is separate because it needs the payload.
func (m *StateMachine) Check(ctx context.Context, actor domain.Actor, doc domain.EventDocument, t domain.ActionType, custom string) (Decision, error) {
	cfg, err := m.Config(ctx, actor, doc.Type)
	if err != nil {
		return Decision{}, err
	}

	ac, configured := cfg.Action(t, custom)
	if t == domain.ActionCustom && !configured {
		return Decision{}, domain.Errorf(domain.CodeBadRequest, "custom action %q is not configured for %s", custom, doc.Type)
	}

	scopes := cfg.Scopes(t, custom)
	if len(scopes) == 0 || !actor.HasAnyScope(scopes, doc.Type) {
		return Decision{}, domain.Errorf(domain.CodeForbidden, "missing scope for %s on %s", actionName(t, custom), doc.Type)
	}

	tr := domain.NextStatus(doc.Status, t)
	if !tr.Allowed() {
		return Decision{}, domain.Errorf(domain.CodeIllegalTransition, "%s is not allowed in status %s", actionName(t, custom), doc.Status)
	}

	if t.RequiresAssignment() && doc.AssignedTo() != actor.ID {
		return Decision{}, domain.Errorf(domain.CodeNotAssigned, "%s requires the event to be assigned to %s", actionName(t, custom), actor.ID)
	}

	return Decision{Config: cfg, Action: ac, Transition: tr}, nil
}

// ValidateDeclaration checks the declaration the event would hold after the
// action against the event type's schema.
func (m *StateMachine) ValidateDeclaration(cfg domain.EventConfig, doc domain.EventDocument, t domain.ActionType, declaration domain.Fields) error {
	if !t.ValidatesDeclaration() {
		return nil
	}
	merged := doc.Declaration.Merge(nil)
	if t == domain.ActionApproveCorrection {
		merged = merged.Merge(doc.PendingCorrection)
	}
	return m.schemas.Validate(cfg, merged.Merge(declaration))
}

func actionName(t domain.ActionType, custom string) string {
	if t == domain.ActionCustom {
		return string(t) + ":" + custom
	}
	return string(t)
}
