package domain

import "time"

// Operation names used for job targeting and failure triage.
const (
	OpCreateNewsletter  = "createNewsletter"
	OpResyncNewsletter  = "resyncNewsletter"
	OpResyncCheck       = "resyncCheck"
	OpCreateDormant     = "createDormantNewsletter"
	OpUserGraph         = "addUserGraph"
	OpFollowUser        = "followUser"
	OpAddOlderPosts     = "addOlderPosts"
	OpActivateDormant   = "activateDormantNewsletter"
	OpAnnounce          = "announceNewsletter"
	OpAnnounceCheck     = "announceCheck"
	OpUpdateList        = "updateList"
	OpUpdateAllLists    = "updateAllLists"
	defaultFailPriority = 5
)

// operationPriority orders failure-log entries for triage, 1 being highest.
// The priority is static per operation and does not affect behavior.
var operationPriority = map[string]int{
	OpCreateNewsletter: 1,
	OpResyncNewsletter: 2,
	OpResyncCheck:      3,
	OpCreateDormant:    4,
	OpUserGraph:        5,
	OpFollowUser:       6,
	OpAddOlderPosts:    7,
	OpActivateDormant:  8,
}

// OperationPriority returns the triage priority for an operation name.
func OperationPriority(op string) int {
	if p, ok := operationPriority[op]; ok {
		return p
	}
	return defaultFailPriority
}

// FailureLogEntry is an append-only record of an operation that left
// irrecoverable partial state, written before the error is surfaced.
type FailureLogEntry struct {
	ID        int64     `db:"id"        json:"id"`
	Operation string    `db:"operation" json:"operation"`
	Payload   string    `db:"payload"   json:"payload"`
	Error     string    `db:"error"     json:"error"`
	Priority  int       `db:"priority"  json:"priority"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NewFailureLogEntry builds an entry with the priority derived from the
// operation table.
func NewFailureLogEntry(operation, payload, errText string) FailureLogEntry {
	return FailureLogEntry{
		Operation: operation,
		Payload:   payload,
		Error:     errText,
		Priority:  OperationPriority(operation),
		CreatedAt: time.Now().UTC(),
	}
}
