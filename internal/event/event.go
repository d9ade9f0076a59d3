package event

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/subwatch/internal/record"
)

// Kind classifies the operation that produced an event. The numeric
// values are the option-set codes persisted into notification records.
type Kind int

const (
	KindUpdate      Kind = 863910000
	KindCreate      Kind = 863910001
	KindAssign      Kind = 863910002
	KindDelete      Kind = 863910003
	KindUserMention Kind = 863910004
)

// KindOf maps an operation name to a Kind, case-insensitively. Unknown
// names classify as KindUserMention; there is no failure path.
func KindOf(operation string) Kind {
	switch strings.ToLower(operation) {
	case "create":
		return KindCreate
	case "update":
		return KindUpdate
	case "assign":
		return KindAssign
	case "delete":
		return KindDelete
	default:
		return KindUserMention
	}
}

// String returns the lower-case operation name for a Kind.
func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindAssign:
		return "assign"
	case KindDelete:
		return "delete"
	default:
		return "usermention"
	}
}

// Event is the canonical input for one dispatch. It is immutable once
// handed to the engine and discarded afterwards.
type Event struct {
	ID         string            `json:"id"`
	Operation  string            `json:"operation"`
	ActorID    uuid.UUID         `json:"actor_id"`
	Record     *record.Record    `json:"record,omitempty"`     // changed record, may be partial
	RecordRef  *record.Reference `json:"record_ref,omitempty"` // bare reference when no body (e.g. delete)
	PreImage   *record.Record    `json:"pre_image,omitempty"`  // pre-change snapshot
	ReceivedAt time.Time         `json:"-"`
}

// Kind classifies the event's operation name.
func (e *Event) Kind() Kind {
	return KindOf(e.Operation)
}

// Reference returns the changed record's identity: the record body's own
// reference when present, the bare reference otherwise, nil when neither
// is available.
func (e *Event) Reference() *record.Reference {
	if e.Record != nil {
		ref := e.Record.Ref()
		return &ref
	}
	return e.RecordRef
}
