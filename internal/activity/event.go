// Package activity assembles activity events and routes application
// occurrences (auth, model mutations, requests, raw queries) into them.
package activity

// Event names emitted by the listener.
const (
	EventLogin             = "auth.login"
	EventFailed            = "auth.failed"
	EventLogout            = "auth.logout"
	EventModelCreated      = "model_created"
	EventModelUpdated      = "model_updated"
	EventModelDeleted      = "model_deleted"
	EventModelRestored     = "model_restored"
	EventModelForceDeleted = "model_force_deleted"
	EventRequest           = "request_activity"
	EventRecordCreated     = "record_created"
	EventRecordUpdated     = "record_updated"
	EventRecordDeleted     = "record_deleted"
)

// TimestampLayout is ISO-8601 UTC at second precision with a Z suffix.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Event is one assembled, scrubbed activity record. It is not modified after
// Assemble returns.
type Event map[string]any

// Name returns the event name, or "" if unset.
func (e Event) Name() string {
	name, _ := e["event"].(string)
	return name
}

// Timestamp returns the formatted assembly time.
func (e Event) Timestamp() string {
	ts, _ := e["timestamp"].(string)
	return ts
}
