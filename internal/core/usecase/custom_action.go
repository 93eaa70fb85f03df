package usecase

import (
	"context"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
)

// CustomActionGateway routes configuration-declared action types through the
// standard pipeline as CUSTOM actions.
type CustomActionGateway struct {
	events *EventService
}

func NewCustomActionGateway(events *EventService) *CustomActionGateway {
	return &CustomActionGateway{events: events}
}

type CustomActionPayload struct {
	Declaration    domain.Fields  `json:"declaration,omitempty"`
	Annotation     domain.Fields  `json:"annotation,omitempty"`
	Reason         *domain.Reason `json:"reason,omitempty"`
	KeepAssignment bool           `json:"keepAssignment,omitempty"`
}

func (g *CustomActionGateway) RequestCustomAction(ctx context.Context, eventID, customActionType string, payload CustomActionPayload, transactionID string, actor domain.Actor) (domain.EventDocument, error) {
	return g.events.RequestAction(ctx, eventID, domain.ActionInput{
		Type:             domain.ActionCustom,
		CustomActionType: customActionType,
		TransactionID:    transactionID,
		Declaration:      payload.Declaration,
		Annotation:       payload.Annotation,
		Reason:           payload.Reason,
		KeepAssignment:   payload.KeepAssignment,
	}, actor)
}

// Available lists the custom actions actor could submit on the event now.
// It does not record a read.
func (g *CustomActionGateway) Available(ctx context.Context, eventID string, actor domain.Actor) ([]domain.ActionConfig, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	_, doc, err := g.events.load(ctx, eventID)
	if err != nil {
		return nil, err
	}
	cfg, err := g.events.machine.Config(ctx, actor, doc.Type)
	if err != nil {
		return nil, err
	}

	var out []domain.ActionConfig
	for _, ac := range cfg.Actions {
		if ac.Type != domain.ActionCustom {
			continue
		}
		if _, err := g.events.machine.Check(ctx, actor, doc, domain.ActionCustom, ac.CustomActionType); err != nil {
			continue
		}
		out = append(out, ac)
	}
	return out, nil
}
