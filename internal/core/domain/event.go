package domain

import (
	"strings"
	"time"
)

type EventStatus string

const (
	StatusUnspecified         EventStatus = "UNSPECIFIED"
	StatusCreated             EventStatus = "CREATED"
	StatusNotified            EventStatus = "NOTIFIED"
	StatusDeclared            EventStatus = "DECLARED"
	StatusValidated           EventStatus = "VALIDATED"
	StatusRegistered          EventStatus = "REGISTERED"
	StatusCertified           EventStatus = "CERTIFIED"
	StatusCorrectionRequested EventStatus = "CORRECTION_REQUESTED"
	StatusRejected            EventStatus = "REJECTED"
	StatusArchived            EventStatus = "ARCHIVED"
)

// EventStatuses lists every status in a stable order.
var EventStatuses = []EventStatus{
	StatusUnspecified,
	StatusCreated,
	StatusNotified,
	StatusDeclared,
	StatusValidated,
	StatusRegistered,
	StatusCertified,
	StatusCorrectionRequested,
	StatusRejected,
	StatusArchived,
}

// Event is the stored header of a registration plus its ordered action log.
type Event struct {
	ID            string
	Type          string
	TrackingID    string
	TransactionID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Version       int64
	Actions       []Action
}

// FindAction returns the action with the given id.
func (e Event) FindAction(id string) (Action, bool) {
	for _, a := range e.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// FindByKey returns the first action submitted under key.
func (e Event) FindByKey(key ActionKey) (Action, bool) {
	for _, a := range e.Actions {
		if a.OriginalActionID != "" {
			continue
		}
		if a.Key() == key {
			return a, true
		}
	}
	return Action{}, false
}

// Finalization returns the record that settled the Requested action id.
func (e Event) Finalization(id string) (Action, bool) {
	for _, a := range e.Actions {
		if a.OriginalActionID == id {
			return a, true
		}
	}
	return Action{}, false
}

type Assignment struct {
	UserID     string    `json:"userId"`
	AssignedAt time.Time `json:"assignedAt"`
}

type LegalStatus struct {
	CreatedAt         time.Time `json:"createdAt"`
	CreatedBy         string    `json:"createdBy"`
	CreatedAtLocation string    `json:"createdAtLocation,omitempty"`
}

type LegalStatuses struct {
	Declared   *LegalStatus `json:"declared,omitempty"`
	Registered *LegalStatus `json:"registered,omitempty"`
}

// EventDocument is the materialized view of an event. It is always derived
// from the action log and never stored as a source of truth.
type EventDocument struct {
	ID                string        `json:"id"`
	Type              string        `json:"type"`
	TrackingID        string        `json:"trackingId"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
	Status            EventStatus   `json:"status"`
	Declaration       Fields        `json:"declaration"`
	Annotation        Fields        `json:"annotation"`
	PendingCorrection Fields        `json:"pendingCorrection,omitempty"`
	Assignment        *Assignment   `json:"assignment,omitempty"`
	LegalStatuses     LegalStatuses `json:"legalStatuses"`
	Actions           []Action      `json:"actions"`
}

func (d EventDocument) AssignedTo() string {
	if d.Assignment == nil {
		return ""
	}
	return d.Assignment.UserID
}

// CreateInput is the caller supplied part of an event creation.
type CreateInput struct {
	Type          string `json:"type"`
	TransactionID string `json:"transactionId"`
}

func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.Type) == "" {
		return Errorf(CodeBadRequest, "event type is required")
	}
	if strings.TrimSpace(in.TransactionID) == "" {
		return Errorf(CodeBadRequest, "transactionId is required")
	}
	return nil
}
