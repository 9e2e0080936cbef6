// Package events defines event types for wizard session lifecycle
// notifications. Downstream consumers (audit, analytics) subscribe through
// the event bus; the engine publishes best-effort after successful saves.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const Topic = "stepflow.sessions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	SessionStartedEvent   EventType = "session.started"
	StepCompletedEvent    EventType = "session.step.completed"
	SessionCompletedEvent EventType = "session.completed"
	SessionAbandonedEvent EventType = "session.abandoned"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	SessionID  string    `json:"session_id"`
	WizardType string    `json:"wizard_type"`
}

func NewBase(eventType EventType, sessionID, wizardType string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		SessionID:  sessionID,
		WizardType: wizardType,
	}
}

type SessionStarted struct {
	BaseEvent

	TotalSteps int `json:"total_steps"`
}

func (e SessionStarted) GetType() EventType {
	return SessionStartedEvent
}

type StepCompleted struct {
	BaseEvent

	StepIndex int    `json:"step_index"`
	StepName  string `json:"step_name"`
	Terminal  bool   `json:"terminal"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type SessionCompleted struct {
	BaseEvent

	Activated bool          `json:"activated"`
	Duration  time.Duration `json:"duration"`
}

func (e SessionCompleted) GetType() EventType {
	return SessionCompletedEvent
}

type SessionAbandoned struct {
	BaseEvent

	Reason string `json:"reason"` // "cancelled" or "expired"
}

func (e SessionAbandoned) GetType() EventType {
	return SessionAbandonedEvent
}
