package domain

import "time"

// EventType identifies an upload-layer lifecycle event
type EventType string

const (
	EventTerritoryCreated EventType = "territory.created"
	EventTerritoryDeleted EventType = "territory.deleted"
	EventClipCreated      EventType = "clip.created"
	EventClipDeleted      EventType = "clip.deleted"
	EventProfileUpserted  EventType = "profile.upserted"
)

// Event is a message emitted by the upload/CRUD and identity layers. Only the
// fields relevant to Type are set.
type Event struct {
	Type        EventType  `json:"type"`
	TerritoryID string     `json:"territory_id,omitempty"`
	Name        string     `json:"name,omitempty"`
	ClipID      string     `json:"clip_id,omitempty"`
	UserID      string     `json:"user_id,omitempty"`
	Handle      string     `json:"handle,omitempty"`
	DisplayName string     `json:"display_name,omitempty"`
	OccurredAt  *time.Time `json:"occurred_at,omitempty"`
}
