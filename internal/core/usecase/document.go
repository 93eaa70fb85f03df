package usecase

import (
	"errors"
	"fmt"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
)

var errMalformedLog = errors.New("malformed action log")

// BuildDocument folds the action log of ev into its current document. The
// fold is pure: the same log always yields the same document.
func BuildDocument(ev domain.Event) (domain.EventDocument, error) {
	if len(ev.Actions) == 0 || ev.Actions[0].Type != domain.ActionCreate {
		return domain.EventDocument{}, fmt.Errorf("event %s: %w: first action must be CREATE", ev.ID, errMalformedLog)
	}

	doc := domain.EventDocument{
		ID:          ev.ID,
		Type:        ev.Type,
		TrackingID:  ev.TrackingID,
		CreatedAt:   ev.CreatedAt,
		UpdatedAt:   ev.CreatedAt,
		Status:      domain.StatusUnspecified,
		Declaration: domain.Fields{},
		Annotation:  domain.Fields{},
		Actions:     append([]domain.Action(nil), ev.Actions...),
	}
	beforeCorrection := domain.StatusRegistered

	for i, a := range ev.Actions {
		if i > 0 && a.Type == domain.ActionCreate {
			return domain.EventDocument{}, fmt.Errorf("event %s: %w: duplicate CREATE at position %d", ev.ID, errMalformedLog, i)
		}
		if a.Status != domain.ActionStatusAccepted {
			continue
		}

		switch a.Type {
		case domain.ActionRead:
			continue
		case domain.ActionAssign:
			doc.Assignment = &domain.Assignment{UserID: a.AssignedTo, AssignedAt: a.CreatedAt}
			continue
		case domain.ActionUnassign:
			doc.Assignment = nil
			continue
		}

		t := domain.NextStatus(doc.Status, a.Type)
		if !t.Allowed() {
			continue
		}

		switch a.Type {
		case domain.ActionRequestCorrection:
			beforeCorrection = doc.Status
			doc.PendingCorrection = a.Declaration.Clone()
			if doc.PendingCorrection == nil {
				doc.PendingCorrection = domain.Fields{}
			}
		case domain.ActionApproveCorrection:
			doc.Declaration = doc.Declaration.Merge(doc.PendingCorrection).Merge(a.Declaration)
			doc.PendingCorrection = nil
		case domain.ActionRejectCorrection:
			doc.PendingCorrection = nil
		default:
			doc.Declaration = doc.Declaration.Merge(a.Declaration)
		}
		doc.Annotation = doc.Annotation.Merge(a.Annotation)

		switch t.Kind {
		case domain.TransitionMove:
			doc.Status = t.Next
		case domain.TransitionRestore:
			doc.Status = beforeCorrection
		}
		stampLegalStatus(&doc, a)
		doc.UpdatedAt = a.CreatedAt
	}
	return doc, nil
}

func stampLegalStatus(doc *domain.EventDocument, a domain.Action) {
	stamp := &domain.LegalStatus{CreatedAt: a.CreatedAt, CreatedBy: a.CreatedBy, CreatedAtLocation: a.CreatedAtLocation}
	switch a.Type {
	case domain.ActionDeclare, domain.ActionValidate:
		if doc.LegalStatuses.Declared == nil {
			doc.LegalStatuses.Declared = stamp
		}
	case domain.ActionRegister:
		if doc.LegalStatuses.Declared == nil {
			doc.LegalStatuses.Declared = stamp
		}
		doc.LegalStatuses.Registered = stamp
	}
}
