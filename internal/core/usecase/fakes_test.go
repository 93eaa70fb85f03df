package usecase

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

// memStore is an in-memory EventStore with the same conflict rules as the
// sql stores.
type memStore struct {
	mu     sync.Mutex
	events map[string]*domain.Event
	outbox []domain.OutboxMessage
	drafts *memDrafts

	// beforeAppend runs outside the lock ahead of every AppendActions call.
	beforeAppend func(eventID string)
	// trackingCollisions makes the next N creates fail with ErrTrackingIDTaken.
	trackingCollisions int
}

func newMemStore() *memStore {
	return &memStore{events: map[string]*domain.Event{}, drafts: newMemDrafts()}
}

func cloneEvent(ev *domain.Event) domain.Event {
	out := *ev
	out.Actions = append([]domain.Action(nil), ev.Actions...)
	return out
}

func (s *memStore) CreateEvent(_ context.Context, ev domain.Event, batch ports.AppendBatch) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.events {
		if existing.Type == ev.Type && existing.TransactionID == ev.TransactionID {
			return domain.Event{}, domain.ErrDuplicateTransaction
		}
		if existing.TrackingID == ev.TrackingID {
			return domain.Event{}, domain.ErrTrackingIDTaken
		}
	}
	if s.trackingCollisions > 0 {
		s.trackingCollisions--
		return domain.Event{}, domain.ErrTrackingIDTaken
	}
	stored := ev
	stored.Version = 1
	stored.Actions = append([]domain.Action(nil), batch.Actions...)
	s.events[ev.ID] = &stored
	s.outbox = append(s.outbox, batch.Outbox...)
	return cloneEvent(&stored), nil
}

func (s *memStore) GetEvent(_ context.Context, id string) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return domain.Event{}, domain.Errorf(domain.CodeNotFound, "event %s not found", id)
	}
	return cloneEvent(ev), nil
}

func (s *memStore) FindEventByTransaction(_ context.Context, eventType, transactionID string) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.Type == eventType && ev.TransactionID == transactionID {
			return cloneEvent(ev), nil
		}
	}
	return domain.Event{}, domain.Errorf(domain.CodeNotFound, "no event for transaction %s", transactionID)
}

func (s *memStore) FindEventByActionID(_ context.Context, actionID string) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if _, ok := ev.FindAction(actionID); ok {
			return cloneEvent(ev), nil
		}
	}
	return domain.Event{}, domain.Errorf(domain.CodeNotFound, "action %s not found", actionID)
}

func (s *memStore) AppendActions(ctx context.Context, eventID string, expectedVersion int64, batch ports.AppendBatch) (domain.Event, error) {
	if s.beforeAppend != nil {
		s.beforeAppend(eventID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok {
		return domain.Event{}, domain.Errorf(domain.CodeNotFound, "event %s not found", eventID)
	}
	if ev.Version != expectedVersion {
		return domain.Event{}, domain.ErrVersionConflict
	}
	for _, a := range batch.Actions {
		for _, existing := range ev.Actions {
			if existing.Key() == a.Key() {
				return domain.Event{}, domain.ErrDuplicateTransaction
			}
			if a.OriginalActionID != "" && existing.OriginalActionID == a.OriginalActionID {
				return domain.Event{}, domain.ErrDuplicateTransaction
			}
		}
	}
	ev.Actions = append(ev.Actions, batch.Actions...)
	ev.Version++
	s.outbox = append(s.outbox, batch.Outbox...)
	for _, key := range batch.DeleteDrafts {
		_, _ = s.drafts.Delete(ctx, key)
	}
	if len(batch.PurgeDraftTypes) > 0 {
		s.drafts.purge(eventID, batch.PurgeDraftTypes)
	}
	return cloneEvent(ev), nil
}

func (s *memStore) ListEventIDs(_ context.Context, afterID string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.events))
	for id := range s.events {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *memStore) topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.outbox))
	for _, m := range s.outbox {
		out = append(out, m.Topic)
	}
	return out
}

type memDrafts struct {
	mu     sync.Mutex
	drafts map[domain.DraftKey]domain.Draft
}

func newMemDrafts() *memDrafts {
	return &memDrafts{drafts: map[domain.DraftKey]domain.Draft{}}
}

func (r *memDrafts) Upsert(_ context.Context, d domain.Draft) (domain.Draft, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.drafts[d.Key()]; ok {
		d.CreatedAt = existing.CreatedAt
	}
	r.drafts[d.Key()] = d
	return d, nil
}

func (r *memDrafts) Get(_ context.Context, key domain.DraftKey) (domain.Draft, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drafts[key]
	if !ok {
		return domain.Draft{}, domain.Errorf(domain.CodeNotFound, "draft not found")
	}
	return d, nil
}

func (r *memDrafts) Delete(_ context.Context, key domain.DraftKey) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.drafts[key]
	delete(r.drafts, key)
	return ok, nil
}

func (r *memDrafts) ListByUser(_ context.Context, userID string) ([]domain.Draft, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Draft
	for _, d := range r.drafts {
		if d.CreatedBy == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memDrafts) purge(eventID string, types []domain.ActionType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.drafts {
		if key.EventID != eventID {
			continue
		}
		for _, t := range types {
			if key.ActionType == t {
				delete(r.drafts, key)
			}
		}
	}
}

type configStub struct {
	configs map[string]domain.EventConfig
	err     error
}

func (c *configStub) EventConfig(_ context.Context, _ domain.Actor, eventType string) (domain.EventConfig, error) {
	if c.err != nil {
		return domain.EventConfig{}, c.err
	}
	cfg, ok := c.configs[eventType]
	if !ok {
		return domain.EventConfig{}, domain.Errorf(domain.CodeNotFound, "event type %s not configured", eventType)
	}
	return cfg, nil
}

func testConfigs() *configStub {
	return &configStub{configs: map[string]domain.EventConfig{
		"birth": {
			ID: "birth",
			Actions: []domain.ActionConfig{
				{Type: domain.ActionRegister, NotificationEnabled: true},
				{Type: domain.ActionCustom, CustomActionType: "VERIFY_ID", RequiredScopes: []string{"record.verify"}, RequiresConfirmation: true},
				{Type: domain.ActionCustom, CustomActionType: "ADD_NOTE", RequiredScopes: []string{"record.note"}},
			},
			DeclarationSchema: json.RawMessage(`{"type":"object","required":["child.name"]}`),
		},
		"death": {ID: "death"},
	}}
}

var allScopes = []string{
	domain.ScopeRecordRead,
	domain.ScopeRecordDeclare,
	domain.ScopeRecordNotify,
	domain.ScopeRecordValidate,
	domain.ScopeRecordRegister,
	domain.ScopeRecordReject,
	domain.ScopeRecordArchive,
	domain.ScopeRecordCorrectionRequest,
	domain.ScopeRecordCorrectionReview,
	domain.ScopeRecordPrint,
	domain.ScopeRecordAssign,
	"record.verify",
	"record.note",
}

func officer(id string) domain.Actor {
	return domain.Actor{ID: id, Role: "REGISTRAR", UserType: domain.UserTypeUser, PrimaryOfficeID: "office-1", Scopes: allScopes}
}

func confirmer() domain.Actor {
	return domain.Actor{ID: "svc-verifier", Role: "SYSTEM", UserType: domain.UserTypeSystem}
}

func newTestService(store *memStore, configs ports.EventConfigProvider, opts ...EventServiceOption) *EventService {
	return NewEventService(store, NewStateMachine(configs, NewSchemaService()), opts...)
}
