package types

import "time"

// EventType defines the kind of change announced on the event bus.
type EventType string

const (
	EventProfileCreated  EventType = "profile_created"  // EventProfileCreated indicates a profile was added to the repository.
	EventProfileUpdated  EventType = "profile_updated"  // EventProfileUpdated indicates a profile's fields changed.
	EventProfileDeleted  EventType = "profile_deleted"  // EventProfileDeleted indicates a profile moved to the trash.
	EventProfileRestored EventType = "profile_restored" // EventProfileRestored indicates a trash entry became live again.
	EventProfilePurged   EventType = "profile_purged"   // EventProfilePurged indicates a trash entry was permanently removed.
	EventStatusChanged   EventType = "status_changed"   // EventStatusChanged indicates a session state-machine transition.
	EventSessionCrashed  EventType = "session_crashed"  // EventSessionCrashed indicates a session ended abruptly.
)

// Event is a typed notification emitted by the repository and the session
// orchestrator. The presentation layer subscribes to these instead of
// reaching into internal indices.
type Event struct {
	// Type indicates the kind of event.
	Type EventType

	// ProfileID identifies the profile the event concerns.
	ProfileID string

	// Status carries the new lifecycle state for status_changed events.
	Status ProfileStatus

	// Err carries failure detail for crash events; nil otherwise.
	Err error

	// Timestamp is when the transition happened.
	Timestamp time.Time
}

// NewProfileEvent builds a repository change event.
func NewProfileEvent(t EventType, profileID string) *Event {
	return &Event{Type: t, ProfileID: profileID, Timestamp: time.Now()}
}

// NewStatusEvent builds a session state-machine transition event.
func NewStatusEvent(profileID string, status ProfileStatus) *Event {
	return &Event{Type: EventStatusChanged, ProfileID: profileID, Status: status, Timestamp: time.Now()}
}

// NewCrashEvent builds an event for a session that ended abruptly.
func NewCrashEvent(profileID string, err error) *Event {
	return &Event{Type: EventSessionCrashed, ProfileID: profileID, Status: StatusError, Err: err, Timestamp: time.Now()}
}
