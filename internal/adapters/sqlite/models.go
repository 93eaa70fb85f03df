package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/civreg/internal/core/domain"
)

type eventModel struct {
	ID            string    `gorm:"column:id;primaryKey"`
	Type          string    `gorm:"column:type;not null"`
	TrackingID    string    `gorm:"column:tracking_id;not null"`
	TransactionID string    `gorm:"column:transaction_id;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null"`
	Version       int64     `gorm:"column:version;not null"`
}

func (eventModel) TableName() string {
	return "events"
}

type actionModel struct {
	ID                string    `gorm:"column:id;primaryKey"`
	EventID           string    `gorm:"column:event_id;not null"`
	Seq               int       `gorm:"column:seq;not null"`
	TransactionID     string    `gorm:"column:transaction_id;not null"`
	Type              string    `gorm:"column:type;not null"`
	CustomActionType  string    `gorm:"column:custom_action_type;not null"`
	Status            string    `gorm:"column:status;not null"`
	OriginalActionID  *string   `gorm:"column:original_action_id"`
	CreatedAt         time.Time `gorm:"column:created_at;not null"`
	CreatedBy         string    `gorm:"column:created_by;not null"`
	CreatedByRole     string    `gorm:"column:created_by_role;not null"`
	CreatedByUserType string    `gorm:"column:created_by_user_type;not null"`
	CreatedAtLocation string    `gorm:"column:created_at_location;not null"`
	AssignedTo        string    `gorm:"column:assigned_to;not null"`
	DeclarationJSON   string    `gorm:"column:declaration_json;not null"`
	AnnotationJSON    string    `gorm:"column:annotation_json;not null"`
	ReasonJSON        *string   `gorm:"column:reason_json"`
	SchemaVersion     int       `gorm:"column:schema_version;not null"`
}

func (actionModel) TableName() string {
	return "actions"
}

type draftModel struct {
	EventID         string    `gorm:"column:event_id;primaryKey"`
	CreatedBy       string    `gorm:"column:created_by;primaryKey"`
	ActionType      string    `gorm:"column:action_type;primaryKey"`
	TransactionID   string    `gorm:"column:transaction_id;not null"`
	DeclarationJSON string    `gorm:"column:declaration_json;not null"`
	AnnotationJSON  string    `gorm:"column:annotation_json;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;not null"`
	UpdatedAt       time.Time `gorm:"column:updated_at;not null"`
}

func (draftModel) TableName() string {
	return "drafts"
}

type outboxEventModel struct {
	ID            int64      `gorm:"column:id;primaryKey;autoIncrement"`
	MessageID     string     `gorm:"column:message_id;not null"`
	EventID       string     `gorm:"column:event_id;not null"`
	Topic         string     `gorm:"column:topic;not null"`
	PayloadJSON   string     `gorm:"column:payload_json;not null"`
	Status        string     `gorm:"column:status;not null"`
	Attempts      int        `gorm:"column:attempts;not null"`
	NextAttemptAt time.Time  `gorm:"column:next_attempt_at;not null"`
	LastError     string     `gorm:"column:last_error;not null"`
	CreatedAt     time.Time  `gorm:"column:created_at;not null"`
	DispatchedAt  *time.Time `gorm:"column:dispatched_at"`
}

func (outboxEventModel) TableName() string {
	return "outbox_events"
}

func toActionModel(a domain.Action, seq int) (actionModel, error) {
	decl, err := fieldsJSON(a.Declaration)
	if err != nil {
		return actionModel{}, fmt.Errorf("action %s declaration: %w", a.ID, err)
	}
	annot, err := fieldsJSON(a.Annotation)
	if err != nil {
		return actionModel{}, fmt.Errorf("action %s annotation: %w", a.ID, err)
	}
	m := actionModel{
		ID:                a.ID,
		EventID:           a.EventID,
		Seq:               seq,
		TransactionID:     a.TransactionID,
		Type:              string(a.Type),
		CustomActionType:  a.CustomActionType,
		Status:            string(a.Status),
		CreatedAt:         a.CreatedAt.UTC(),
		CreatedBy:         a.CreatedBy,
		CreatedByRole:     a.CreatedByRole,
		CreatedByUserType: string(a.CreatedByUserType),
		CreatedAtLocation: a.CreatedAtLocation,
		AssignedTo:        a.AssignedTo,
		DeclarationJSON:   decl,
		AnnotationJSON:    annot,
		SchemaVersion:     a.SchemaVersion,
	}
	if m.SchemaVersion == 0 {
		m.SchemaVersion = domain.CurrentActionSchemaVersion
	}
	if a.OriginalActionID != "" {
		orig := a.OriginalActionID
		m.OriginalActionID = &orig
	}
	if a.Reason != nil {
		b, err := json.Marshal(a.Reason)
		if err != nil {
			return actionModel{}, fmt.Errorf("action %s reason: %w", a.ID, err)
		}
		reason := string(b)
		m.ReasonJSON = &reason
	}
	return m, nil
}

func (m actionModel) toDomain() (domain.Action, error) {
	a := domain.Action{
		ID:                m.ID,
		EventID:           m.EventID,
		TransactionID:     m.TransactionID,
		Type:              domain.ActionType(m.Type),
		CustomActionType:  m.CustomActionType,
		Status:            domain.ActionStatus(m.Status),
		CreatedAt:         m.CreatedAt.UTC(),
		CreatedBy:         m.CreatedBy,
		CreatedByRole:     m.CreatedByRole,
		CreatedByUserType: domain.UserType(m.CreatedByUserType),
		CreatedAtLocation: m.CreatedAtLocation,
		AssignedTo:        m.AssignedTo,
		SchemaVersion:     m.SchemaVersion,
	}
	if m.OriginalActionID != nil {
		a.OriginalActionID = *m.OriginalActionID
	}
	var err error
	if a.Declaration, err = parseFields(m.DeclarationJSON); err != nil {
		return domain.Action{}, fmt.Errorf("action %s declaration: %w", m.ID, err)
	}
	if a.Annotation, err = parseFields(m.AnnotationJSON); err != nil {
		return domain.Action{}, fmt.Errorf("action %s annotation: %w", m.ID, err)
	}
	if m.ReasonJSON != nil {
		var reason domain.Reason
		if err := json.Unmarshal([]byte(*m.ReasonJSON), &reason); err != nil {
			return domain.Action{}, fmt.Errorf("action %s reason: %w", m.ID, err)
		}
		a.Reason = &reason
	}
	return a, nil
}

func (m eventModel) toDomain(actions []actionModel) (domain.Event, error) {
	ev := domain.Event{
		ID:            m.ID,
		Type:          m.Type,
		TrackingID:    m.TrackingID,
		TransactionID: m.TransactionID,
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
		Version:       m.Version,
		Actions:       make([]domain.Action, 0, len(actions)),
	}
	for _, am := range actions {
		a, err := am.toDomain()
		if err != nil {
			return domain.Event{}, err
		}
		ev.Actions = append(ev.Actions, a)
	}
	return ev, nil
}

func toDraftModel(d domain.Draft) (draftModel, error) {
	decl, err := fieldsJSON(d.Declaration)
	if err != nil {
		return draftModel{}, err
	}
	annot, err := fieldsJSON(d.Annotation)
	if err != nil {
		return draftModel{}, err
	}
	return draftModel{
		EventID:         d.EventID,
		CreatedBy:       d.CreatedBy,
		ActionType:      string(d.ActionType),
		TransactionID:   d.TransactionID,
		DeclarationJSON: decl,
		AnnotationJSON:  annot,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}, nil
}

func (m draftModel) toDomain() (domain.Draft, error) {
	decl, err := parseFields(m.DeclarationJSON)
	if err != nil {
		return domain.Draft{}, err
	}
	annot, err := parseFields(m.AnnotationJSON)
	if err != nil {
		return domain.Draft{}, err
	}
	return domain.Draft{
		EventID:       m.EventID,
		CreatedBy:     m.CreatedBy,
		ActionType:    domain.ActionType(m.ActionType),
		TransactionID: m.TransactionID,
		Declaration:   decl,
		Annotation:    annot,
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}, nil
}

func fieldsJSON(f domain.Fields) (string, error) {
	if f == nil {
		return "{}", nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func parseFields(raw string) (domain.Fields, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var f domain.Fields
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, err
	}
	return f, nil
}
