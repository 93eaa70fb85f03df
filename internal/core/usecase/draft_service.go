package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

// DraftService keeps per-user scratch payloads and commits them through the
// EventService pipeline.
type DraftService struct {
	repo   ports.DraftRepository
	store  ports.EventStore
	events *EventService
	now    func() time.Time
}

func NewDraftService(repo ports.DraftRepository, store ports.EventStore, events *EventService) *DraftService {
	return &DraftService{repo: repo, store: store, events: events, now: func() time.Time { return time.Now().UTC() }}
}

// DraftInput is the payload of a draft save.
type DraftInput struct {
	ActionType    domain.ActionType `json:"actionType"`
	TransactionID string            `json:"transactionId"`
	Declaration   domain.Fields     `json:"declaration,omitempty"`
	Annotation    domain.Fields     `json:"annotation,omitempty"`
}

// SaveDraft stores the latest payload for (event, actor, action type).
func (s *DraftService) SaveDraft(ctx context.Context, eventID string, in DraftInput, actor domain.Actor) (domain.Draft, error) {
	if err := actor.Validate(); err != nil {
		return domain.Draft{}, err
	}
	t, err := domain.ParseActionType(string(in.ActionType))
	if err != nil {
		return domain.Draft{}, err
	}
	now := s.now()
	draft := domain.Draft{
		EventID:       strings.TrimSpace(eventID),
		CreatedBy:     actor.ID,
		ActionType:    t,
		TransactionID: in.TransactionID,
		Declaration:   in.Declaration.Clone(),
		Annotation:    in.Annotation.Clone(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := draft.Validate(); err != nil {
		return domain.Draft{}, err
	}
	if _, err := s.store.GetEvent(ctx, draft.EventID); err != nil {
		return domain.Draft{}, err
	}
	return s.repo.Upsert(ctx, draft)
}

func (s *DraftService) DiscardDraft(ctx context.Context, eventID string, t domain.ActionType, actor domain.Actor) error {
	if err := actor.Validate(); err != nil {
		return err
	}
	t, err := domain.ParseActionType(string(t))
	if err != nil {
		return err
	}
	deleted, err := s.repo.Delete(ctx, domain.DraftKey{EventID: eventID, CreatedBy: actor.ID, ActionType: t})
	if err != nil {
		return err
	}
	if !deleted {
		return domain.Errorf(domain.CodeNotFound, "no %s draft for event %s", t, eventID)
	}
	return nil
}

// ListDrafts returns the user's drafts, oldest first.
func (s *DraftService) ListDrafts(ctx context.Context, userID string) ([]domain.Draft, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.Errorf(domain.CodeBadRequest, "user id is required")
	}
	drafts, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(drafts, func(i, j int) bool {
		return drafts[i].CreatedAt.Before(drafts[j].CreatedAt)
	})
	return drafts, nil
}

// CommitOptions carries the request fields a draft does not hold.
type CommitOptions struct {
	Reason         *domain.Reason `json:"reason,omitempty"`
	KeepAssignment bool           `json:"keepAssignment,omitempty"`
}

// CommitDraft requests the drafted action. The draft is removed in the same
// transaction as the append; if the request fails it stays untouched.
func (s *DraftService) CommitDraft(ctx context.Context, eventID string, t domain.ActionType, opts CommitOptions, actor domain.Actor) (domain.EventDocument, error) {
	if err := actor.Validate(); err != nil {
		return domain.EventDocument{}, err
	}
	t, err := domain.ParseActionType(string(t))
	if err != nil {
		return domain.EventDocument{}, err
	}
	key := domain.DraftKey{EventID: eventID, CreatedBy: actor.ID, ActionType: t}
	draft, err := s.repo.Get(ctx, key)
	if err != nil {
		return domain.EventDocument{}, err
	}
	doc, err := s.events.RequestAction(ctx, eventID, domain.ActionInput{
		Type:           draft.ActionType,
		TransactionID:  draft.TransactionID,
		Declaration:    draft.Declaration,
		Annotation:     draft.Annotation,
		Reason:         opts.Reason,
		KeepAssignment: opts.KeepAssignment,
	}, actor)
	if err != nil {
		return domain.EventDocument{}, err
	}
	// a transaction already on the log appends nothing, so the draft is
	// still there; drop it unless it was replaced meanwhile
	if err := s.dropCommitted(ctx, key, draft.TransactionID); err != nil {
		return domain.EventDocument{}, err
	}
	return doc, nil
}

func (s *DraftService) dropCommitted(ctx context.Context, key domain.DraftKey, transactionID string) error {
	left, err := s.repo.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if left.TransactionID != transactionID {
		return nil
	}
	_, err = s.repo.Delete(ctx, key)
	return err
}
