// Package shared contains common domain types, errors, and events used across
// all domain packages.
package shared

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that
// happened in the tracking domain; notification and role side effects hang
// off these so that delivery failures never touch state transitions.
const (
	// Session events
	EventSessionStarted EventType = "session.started"
	EventSessionEnded   EventType = "session.ended"

	// Progression events
	EventLevelUp     EventType = "progression.level_up"
	EventTitleEarned EventType = "progression.title_earned"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventID returns the unique identifier of this event instance.
	EventID() string

	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// EventHandler processes a single event. Returning an error is for logging
// and metrics only; the bus never retries on behalf of a handler.
type EventHandler func(event Event) error

// BaseEvent provides common event functionality.
type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
}

// EventID implements Event interface.
func (e BaseEvent) EventID() string {
	return e.ID
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event. The aggregate ID is the PlayerKey
// string of the (user, community) pair the event belongs to.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Session Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionStartedEvent is emitted when tracking of a play session begins.
type SessionStartedEvent struct {
	BaseEvent
	UserID       string    `json:"user_id"`
	CommunityID  string    `json:"community_id"`
	DisplayName  string    `json:"display_name"`
	Game         string    `json:"game"`
	ChannelLabel string    `json:"channel_label,omitempty"`
	StartedAt    time.Time `json:"started_at"`
}

// Payload implements Event interface.
func (e SessionStartedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"community_id":  e.CommunityID,
		"display_name":  e.DisplayName,
		"game":          e.Game,
		"channel_label": e.ChannelLabel,
		"started_at":    e.StartedAt,
	}
}

// NewSessionStartedEvent creates a new SessionStartedEvent.
func NewSessionStartedEvent(key PlayerKey, displayName, game, channelLabel string, startedAt time.Time) SessionStartedEvent {
	return SessionStartedEvent{
		BaseEvent:    NewBaseEvent(EventSessionStarted, key.String()),
		UserID:       key.UserID.String(),
		CommunityID:  key.CommunityID.String(),
		DisplayName:  displayName,
		Game:         game,
		ChannelLabel: channelLabel,
		StartedAt:    startedAt,
	}
}

// Reasons a play session ends, carried in SessionEndedEvent.Reason.
const (
	EndReasonLeftVoice      = "left voice"
	EndReasonStoppedPlaying = "stopped playing"
	EndReasonSwitchedGame   = "switched game"
)

// SessionEndedEvent is emitted after a play session has been committed.
type SessionEndedEvent struct {
	BaseEvent
	UserID          string `json:"user_id"`
	CommunityID     string `json:"community_id"`
	DisplayName     string `json:"display_name"`
	Game            string `json:"game"`
	DurationSeconds int64  `json:"duration_seconds"`
	TotalSeconds    int64  `json:"total_seconds"`
	Reason          string `json:"reason"`
}

// Payload implements Event interface.
func (e SessionEndedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":          e.UserID,
		"community_id":     e.CommunityID,
		"display_name":     e.DisplayName,
		"game":             e.Game,
		"duration_seconds": e.DurationSeconds,
		"total_seconds":    e.TotalSeconds,
		"reason":           e.Reason,
	}
}

// NewSessionEndedEvent creates a new SessionEndedEvent.
func NewSessionEndedEvent(key PlayerKey, displayName, game string, duration, total int64, reason string) SessionEndedEvent {
	return SessionEndedEvent{
		BaseEvent:       NewBaseEvent(EventSessionEnded, key.String()),
		UserID:          key.UserID.String(),
		CommunityID:     key.CommunityID.String(),
		DisplayName:     displayName,
		Game:            game,
		DurationSeconds: duration,
		TotalSeconds:    total,
		Reason:          reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progression Events
// ═══════════════════════════════════════════════════════════════════════════

// LevelUpEvent is emitted when a committed session pushes a player's total
// playtime across one or more level thresholds.
type LevelUpEvent struct {
	BaseEvent
	UserID       string `json:"user_id"`
	CommunityID  string `json:"community_id"`
	DisplayName  string `json:"display_name"`
	OldLevel     int    `json:"old_level"`
	NewLevel     int    `json:"new_level"`
	TotalSeconds int64  `json:"total_seconds"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"community_id":  e.CommunityID,
		"display_name":  e.DisplayName,
		"old_level":     e.OldLevel,
		"new_level":     e.NewLevel,
		"total_seconds": e.TotalSeconds,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(key PlayerKey, displayName string, oldLevel, newLevel int, total int64) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent:    NewBaseEvent(EventLevelUp, key.String()),
		UserID:       key.UserID.String(),
		CommunityID:  key.CommunityID.String(),
		DisplayName:  displayName,
		OldLevel:     oldLevel,
		NewLevel:     newLevel,
		TotalSeconds: total,
	}
}

// TitleEarnedEvent is emitted when a milestone rule grants a new title.
type TitleEarnedEvent struct {
	BaseEvent
	UserID      string `json:"user_id"`
	CommunityID string `json:"community_id"`
	DisplayName string `json:"display_name"`
	Title       string `json:"title"`
	Game        string `json:"game,omitempty"` // set for game-scoped milestones
}

// Payload implements Event interface.
func (e TitleEarnedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":      e.UserID,
		"community_id": e.CommunityID,
		"display_name": e.DisplayName,
		"title":        e.Title,
		"game":         e.Game,
	}
}

// NewTitleEarnedEvent creates a new TitleEarnedEvent.
func NewTitleEarnedEvent(key PlayerKey, displayName, title, game string) TitleEarnedEvent {
	return TitleEarnedEvent{
		BaseEvent:   NewBaseEvent(EventTitleEarned, key.String()),
		UserID:      key.UserID.String(),
		CommunityID: key.CommunityID.String(),
		DisplayName: displayName,
		Title:       title,
		Game:        game,
	}
}
