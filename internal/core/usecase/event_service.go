package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
	"github.com/atvirokodosprendimai/civreg/internal/core/ports"
)

const defaultAppendAttempts = 5

// Outcome labels reported to ports.ActionMetrics.
const (
	OutcomeAccepted   = "accepted"
	OutcomeRequested  = "requested"
	OutcomeRejected   = "rejected"
	OutcomeIdempotent = "idempotent"
	OutcomeError      = "error"
)

// EventService is the entry point for creating events and appending actions.
// Every mutation reads the log, checks it against the materialized document
// and appends under the version the document was built from.
type EventService struct {
	store    ports.EventStore
	machine  *StateMachine
	codec    *EventCodec
	metrics  ports.ActionMetrics
	logger   *slog.Logger
	now      func() time.Time
	attempts int
}

type EventServiceOption func(*EventService)

func WithActionMetrics(m ports.ActionMetrics) EventServiceOption {
	return func(s *EventService) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithLogger(logger *slog.Logger) EventServiceOption {
	return func(s *EventService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) EventServiceOption {
	return func(s *EventService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithEventCodec(codec *EventCodec) EventServiceOption {
	return func(s *EventService) {
		if codec != nil {
			s.codec = codec
		}
	}
}

// WithAppendAttempts bounds the retries after a version conflict.
func WithAppendAttempts(n int) EventServiceOption {
	return func(s *EventService) {
		if n > 0 {
			s.attempts = n
		}
	}
}

func NewEventService(store ports.EventStore, machine *StateMachine, opts ...EventServiceOption) *EventService {
	s := &EventService{
		store:    store,
		machine:  machine,
		codec:    NewEventCodec(),
		metrics:  noopMetrics{},
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		attempts: defaultAppendAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new event. The creator is assigned in the same
// transaction. Repeating a transactionId returns the existing event.
func (s *EventService) Create(ctx context.Context, in domain.CreateInput, actor domain.Actor) (domain.EventDocument, error) {
	if err := actor.Validate(); err != nil {
		return domain.EventDocument{}, err
	}
	if err := in.Validate(); err != nil {
		return domain.EventDocument{}, err
	}
	if _, err := s.machine.CheckCreate(ctx, actor, in.Type); err != nil {
		s.observe(domain.ActionCreate, err)
		return domain.EventDocument{}, err
	}

	existing, err := s.store.FindEventByTransaction(ctx, in.Type, in.TransactionID)
	if err == nil {
		s.metrics.ActionProcessed(domain.ActionCreate, OutcomeIdempotent)
		return s.document(existing)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.EventDocument{}, fmt.Errorf("find event by transaction: %w", err)
	}

	for attempt := 1; attempt <= s.attempts; attempt++ {
		ev, batch, err := s.planCreate(in, actor)
		if err != nil {
			return domain.EventDocument{}, err
		}

		stored, err := s.store.CreateEvent(ctx, ev, batch)
		switch {
		case err == nil:
			s.metrics.ActionProcessed(domain.ActionCreate, OutcomeAccepted)
			s.logger.InfoContext(ctx, "event created",
				"event_id", stored.ID, "event_type", stored.Type, "tracking_id", stored.TrackingID, "actor", actor.ID)
			return s.document(stored)
		case errors.Is(err, domain.ErrDuplicateTransaction):
			existing, findErr := s.store.FindEventByTransaction(ctx, in.Type, in.TransactionID)
			if findErr != nil {
				return domain.EventDocument{}, fmt.Errorf("find event by transaction: %w", findErr)
			}
			s.metrics.ActionProcessed(domain.ActionCreate, OutcomeIdempotent)
			return s.document(existing)
		case errors.Is(err, domain.ErrTrackingIDTaken):
			s.logger.DebugContext(ctx, "tracking id collision", "tracking_id", ev.TrackingID, "attempt", attempt)
		default:
			return domain.EventDocument{}, fmt.Errorf("create event: %w", err)
		}
	}
	return domain.EventDocument{}, fmt.Errorf("create event: no free tracking id after %d attempts", s.attempts)
}

func (s *EventService) planCreate(in domain.CreateInput, actor domain.Actor) (domain.Event, ports.AppendBatch, error) {
	trackingID, err := domain.NewTrackingID()
	if err != nil {
		return domain.Event{}, ports.AppendBatch{}, err
	}
	now := s.now()
	ev := domain.Event{
		ID:            uuid.NewString(),
		Type:          in.Type,
		TrackingID:    trackingID,
		TransactionID: in.TransactionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	create := s.newAction(ev.ID, actor, domain.ActionCreate, in.TransactionID, now)
	assign := s.newAction(ev.ID, actor, domain.ActionAssign, in.TransactionID, now)
	assign.AssignedTo = actor.ID

	batch, err := s.withEffects(ev, domain.EventDocument{}, ports.AppendBatch{Actions: []domain.Action{create, assign}}, domain.ActionConfig{})
	return ev, batch, err
}

// Get returns the current document and records the read.
func (s *EventService) Get(ctx context.Context, eventID string, actor domain.Actor) (domain.EventDocument, error) {
	if err := actor.Validate(); err != nil {
		return domain.EventDocument{}, err
	}
	return s.mutate(ctx, eventID, domain.ActionRead, func(ev domain.Event, doc domain.EventDocument) (ports.AppendBatch, error) {
		if _, err := s.machine.Check(ctx, actor, doc, domain.ActionRead, ""); err != nil {
			return ports.AppendBatch{}, err
		}
		read := s.newAction(ev.ID, actor, domain.ActionRead, uuid.NewString(), s.now())
		return ports.AppendBatch{Actions: []domain.Action{read}}, nil
	})
}

// RequestAction validates and appends one action. Retrying with the same
// (actor, type, transactionId) returns the current document unchanged.
func (s *EventService) RequestAction(ctx context.Context, eventID string, in domain.ActionInput, actor domain.Actor) (domain.EventDocument, error) {
	if err := actor.Validate(); err != nil {
		return domain.EventDocument{}, err
	}
	if err := in.Validate(); err != nil {
		return domain.EventDocument{}, err
	}

	return s.mutate(ctx, eventID, in.Type, func(ev domain.Event, doc domain.EventDocument) (ports.AppendBatch, error) {
		if _, done := ev.FindByKey(domain.ActionKey{CreatedBy: actor.ID, Type: in.Type, TransactionID: in.TransactionID}); done {
			return ports.AppendBatch{}, nil
		}

		dec, err := s.machine.Check(ctx, actor, doc, in.Type, in.CustomActionType)
		if err != nil {
			return ports.AppendBatch{}, err
		}
		if err := s.machine.ValidateDeclaration(dec.Config, doc, in.Type, in.Declaration); err != nil {
			return ports.AppendBatch{}, err
		}

		now := s.now()
		a := s.newAction(ev.ID, actor, in.Type, in.TransactionID, now)
		a.CustomActionType = in.CustomActionType
		a.Declaration = in.Declaration.Clone()
		a.Annotation = in.Annotation.Clone()
		a.Reason = in.Reason
		if dec.Action.RequiresConfirmation {
			a.Status = domain.ActionStatusRequested
		}

		batch := ports.AppendBatch{
			Actions:      []domain.Action{a},
			DeleteDrafts: []domain.DraftKey{{EventID: ev.ID, CreatedBy: actor.ID, ActionType: in.Type}},
		}
		if in.Type.ReleasesAssignment() && !in.KeepAssignment && doc.AssignedTo() != "" {
			release := s.newAction(ev.ID, actor, domain.ActionUnassign, in.TransactionID, now)
			release.CreatedByUserType = domain.UserTypeSystem
			batch.Actions = append(batch.Actions, release)
		}
		return s.withEffects(ev, doc, batch, dec.Action)
	})
}

// FinalizeAction settles a Requested action by appending an Accepted or
// Rejected record that points back to it.
func (s *EventService) FinalizeAction(ctx context.Context, actionID string, outcome domain.FinalizeOutcome, annotation domain.Fields, actor domain.Actor) (domain.EventDocument, error) {
	if err := actor.Validate(); err != nil {
		return domain.EventDocument{}, err
	}
	status, err := outcome.Status()
	if err != nil {
		return domain.EventDocument{}, err
	}
	if strings.TrimSpace(actionID) == "" {
		return domain.EventDocument{}, domain.Errorf(domain.CodeBadRequest, "action id is required")
	}

	found, err := s.store.FindEventByActionID(ctx, actionID)
	if err != nil {
		return domain.EventDocument{}, err
	}
	orig, _ := found.FindAction(actionID)

	return s.mutate(ctx, found.ID, orig.Type, func(ev domain.Event, doc domain.EventDocument) (ports.AppendBatch, error) {
		if actor.UserType != domain.UserTypeSystem && !actor.HasScope(domain.ScopeRecordConfirm, doc.Type) {
			return ports.AppendBatch{}, domain.Errorf(domain.CodeForbidden, "missing scope to finalize actions on %s", doc.Type)
		}
		orig, ok := ev.FindAction(actionID)
		if !ok {
			return ports.AppendBatch{}, domain.Errorf(domain.CodeNotFound, "action %s not found", actionID)
		}
		if orig.OriginalActionID != "" {
			return ports.AppendBatch{}, domain.Errorf(domain.CodeBadRequest, "action %s is a finalization record", actionID)
		}
		if fin, done := ev.Finalization(orig.ID); done {
			if fin.Status == status {
				return ports.AppendBatch{}, nil
			}
			return ports.AppendBatch{}, domain.Errorf(domain.CodeIllegalTransition, "action %s was already finalized as %s", actionID, fin.Status)
		}
		if orig.Status != domain.ActionStatusRequested {
			return ports.AppendBatch{}, domain.Errorf(domain.CodeIllegalTransition, "action %s is not awaiting confirmation", actionID)
		}
		if status == domain.ActionStatusAccepted && !domain.NextStatus(doc.Status, orig.Type).Allowed() {
			return ports.AppendBatch{}, domain.Errorf(domain.CodeIllegalTransition, "%s is no longer allowed in status %s", actionName(orig.Type, orig.CustomActionType), doc.Status)
		}

		fin := s.newAction(ev.ID, actor, orig.Type, orig.ID, s.now())
		fin.CustomActionType = orig.CustomActionType
		fin.Status = status
		fin.OriginalActionID = orig.ID
		fin.Declaration = orig.Declaration.Clone()
		fin.Annotation = orig.Annotation.Merge(annotation)
		fin.Reason = orig.Reason

		var ac domain.ActionConfig
		if status == domain.ActionStatusAccepted {
			cfg, err := s.machine.Config(ctx, actor, ev.Type)
			if err != nil {
				s.logger.WarnContext(ctx, "finalize without configuration, notifications skipped", "event_id", ev.ID, "error", err)
			} else {
				ac, _ = cfg.Action(orig.Type, orig.CustomActionType)
			}
		}
		return s.withEffects(ev, doc, ports.AppendBatch{Actions: []domain.Action{fin}}, ac)
	})
}

// Assign takes the assignment of an event. Assigning to the current holder is
// a no-op. An empty transactionID gets a fresh one.
func (s *EventService) Assign(ctx context.Context, eventID, transactionID string, actor domain.Actor) (domain.EventDocument, error) {
	if err := actor.Validate(); err != nil {
		return domain.EventDocument{}, err
	}
	if transactionID == "" {
		transactionID = uuid.NewString()
	}
	return s.mutate(ctx, eventID, domain.ActionAssign, func(ev domain.Event, doc domain.EventDocument) (ports.AppendBatch, error) {
		if _, done := ev.FindByKey(domain.ActionKey{CreatedBy: actor.ID, Type: domain.ActionAssign, TransactionID: transactionID}); done {
			return ports.AppendBatch{}, nil
		}
		if _, err := s.machine.Check(ctx, actor, doc, domain.ActionAssign, ""); err != nil {
			return ports.AppendBatch{}, err
		}
		switch assignee := doc.AssignedTo(); assignee {
		case actor.ID:
			return ports.AppendBatch{}, nil
		case "":
		default:
			return ports.AppendBatch{}, domain.Errorf(domain.CodeNotAssigned, "event %s is assigned to another user", ev.ID)
		}

		a := s.newAction(ev.ID, actor, domain.ActionAssign, transactionID, s.now())
		a.AssignedTo = actor.ID
		return s.withEffects(ev, doc, ports.AppendBatch{Actions: []domain.Action{a}}, domain.ActionConfig{})
	})
}

// Unassign releases the assignment. Releasing someone else's assignment needs
// the unassign-others scope.
func (s *EventService) Unassign(ctx context.Context, eventID, transactionID string, actor domain.Actor) (domain.EventDocument, error) {
	if err := actor.Validate(); err != nil {
		return domain.EventDocument{}, err
	}
	if transactionID == "" {
		transactionID = uuid.NewString()
	}
	return s.mutate(ctx, eventID, domain.ActionUnassign, func(ev domain.Event, doc domain.EventDocument) (ports.AppendBatch, error) {
		if _, done := ev.FindByKey(domain.ActionKey{CreatedBy: actor.ID, Type: domain.ActionUnassign, TransactionID: transactionID}); done {
			return ports.AppendBatch{}, nil
		}
		if _, err := s.machine.Check(ctx, actor, doc, domain.ActionUnassign, ""); err != nil {
			return ports.AppendBatch{}, err
		}
		assignee := doc.AssignedTo()
		if assignee == "" {
			return ports.AppendBatch{}, domain.Errorf(domain.CodeNotAssigned, "event %s is not assigned", ev.ID)
		}
		if assignee != actor.ID && !actor.HasScope(domain.ScopeRecordUnassignOthers, doc.Type) {
			return ports.AppendBatch{}, domain.Errorf(domain.CodeNotAssigned, "event %s is assigned to another user", ev.ID)
		}

		a := s.newAction(ev.ID, actor, domain.ActionUnassign, transactionID, s.now())
		return s.withEffects(ev, doc, ports.AppendBatch{Actions: []domain.Action{a}}, domain.ActionConfig{})
	})
}

type planFunc func(ev domain.Event, doc domain.EventDocument) (ports.AppendBatch, error)

// mutate runs plan against the latest log and appends its batch under the
// version the log was read at. A conflict re-reads and re-plans, so the loser
// of a race is judged against the winner's state.
func (s *EventService) mutate(ctx context.Context, eventID string, t domain.ActionType, plan planFunc) (domain.EventDocument, error) {
	for attempt := 1; ; attempt++ {
		ev, doc, err := s.load(ctx, eventID)
		if err != nil {
			return domain.EventDocument{}, err
		}

		batch, err := plan(ev, doc)
		if err != nil {
			s.observe(t, err)
			return domain.EventDocument{}, err
		}
		if len(batch.Actions) == 0 {
			s.metrics.ActionProcessed(t, OutcomeIdempotent)
			return doc, nil
		}

		stored, err := s.store.AppendActions(ctx, ev.ID, ev.Version, batch)
		if err == nil {
			s.metrics.ActionProcessed(t, statusOutcome(batch.Actions[0].Status))
			if t != domain.ActionRead {
				s.logger.InfoContext(ctx, "action appended",
					"event_id", ev.ID, "action", actionName(batch.Actions[0].Type, batch.Actions[0].CustomActionType),
					"status", batch.Actions[0].Status, "actor", batch.Actions[0].CreatedBy, "version", stored.Version)
			}
			return s.document(stored)
		}
		if !errors.Is(err, domain.ErrVersionConflict) && !errors.Is(err, domain.ErrDuplicateTransaction) {
			return domain.EventDocument{}, fmt.Errorf("append actions to %s: %w", eventID, err)
		}
		s.metrics.AppendConflict()
		if attempt >= s.attempts {
			return domain.EventDocument{}, fmt.Errorf("append actions to %s after %d attempts: %w", eventID, attempt, err)
		}
		s.logger.DebugContext(ctx, "append conflict, retrying", "event_id", eventID, "attempt", attempt, "error", err)
	}
}

// withEffects derives the document the batch produces and adds the outbox
// messages and draft purges that follow from it.
func (s *EventService) withEffects(ev domain.Event, before domain.EventDocument, batch ports.AppendBatch, ac domain.ActionConfig) (ports.AppendBatch, error) {
	next := ev
	next.Actions = append(append([]domain.Action(nil), ev.Actions...), batch.Actions...)
	next.Version = ev.Version + 1
	doc, err := BuildDocument(next)
	if err != nil {
		return ports.AppendBatch{}, err
	}

	primary := batch.Actions[0]
	batch.Outbox = append(batch.Outbox, s.message(domain.SearchTopic(ev.Type), next, doc, primary))
	switch primary.Status {
	case domain.ActionStatusRequested:
		batch.Outbox = append(batch.Outbox, s.message(domain.ConfirmationTopic(ev.Type, primary), next, doc, primary))
	case domain.ActionStatusAccepted:
		if ac.NotificationEnabled {
			batch.Outbox = append(batch.Outbox, s.message(domain.NotificationTopic(ev.Type, primary.Type), next, doc, primary))
		}
	}

	if doc.Status != before.Status {
		batch.PurgeDraftTypes = domain.IllegalActionTypes(doc.Status)
	}
	return batch, nil
}

func (s *EventService) message(topic string, ev domain.Event, doc domain.EventDocument, a domain.Action) domain.OutboxMessage {
	return domain.OutboxMessage{
		Topic: topic,
		Envelope: domain.EventEnvelope{
			MessageID:     uuid.NewString(),
			SchemaVersion: domain.CurrentActionSchemaVersion,
			EventID:       ev.ID,
			EventType:     ev.Type,
			TrackingID:    ev.TrackingID,
			EventVersion:  ev.Version,
			OccurredAt:    a.CreatedAt,
			Action:        &a,
			Document:      &doc,
		},
	}
}

func (s *EventService) newAction(eventID string, actor domain.Actor, t domain.ActionType, transactionID string, at time.Time) domain.Action {
	userType := actor.UserType
	if userType == "" {
		userType = domain.UserTypeUser
	}
	return domain.Action{
		ID:                uuid.NewString(),
		EventID:           eventID,
		TransactionID:     transactionID,
		Type:              t,
		Status:            domain.ActionStatusAccepted,
		CreatedAt:         at,
		CreatedBy:         actor.ID,
		CreatedByRole:     actor.Role,
		CreatedByUserType: userType,
		CreatedAtLocation: actor.PrimaryOfficeID,
		SchemaVersion:     domain.CurrentActionSchemaVersion,
	}
}

func (s *EventService) load(ctx context.Context, eventID string) (domain.Event, domain.EventDocument, error) {
	if strings.TrimSpace(eventID) == "" {
		return domain.Event{}, domain.EventDocument{}, domain.Errorf(domain.CodeBadRequest, "event id is required")
	}
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, domain.EventDocument{}, err
	}
	ev, err = s.codec.NormalizeEvent(ev)
	if err != nil {
		return domain.Event{}, domain.EventDocument{}, err
	}
	doc, err := BuildDocument(ev)
	if err != nil {
		return domain.Event{}, domain.EventDocument{}, err
	}
	return ev, doc, nil
}

func (s *EventService) document(ev domain.Event) (domain.EventDocument, error) {
	ev, err := s.codec.NormalizeEvent(ev)
	if err != nil {
		return domain.EventDocument{}, err
	}
	return BuildDocument(ev)
}

func (s *EventService) observe(t domain.ActionType, err error) {
	s.metrics.ActionProcessed(t, errorOutcome(err))
}

func statusOutcome(status domain.ActionStatus) string {
	switch status {
	case domain.ActionStatusRequested:
		return OutcomeRequested
	case domain.ActionStatusRejected:
		return OutcomeRejected
	default:
		return OutcomeAccepted
	}
}

func errorOutcome(err error) string {
	for _, sentinel := range []*domain.Error{
		domain.ErrForbidden, domain.ErrNotAssigned, domain.ErrIllegalTransition, domain.ErrBadRequest, domain.ErrNotFound,
	} {
		if errors.Is(err, sentinel) {
			return strings.ToLower(string(sentinel.Code))
		}
	}
	return OutcomeError
}

type noopMetrics struct{}

func (noopMetrics) ActionProcessed(domain.ActionType, string) {}
func (noopMetrics) AppendConflict()                           {}
