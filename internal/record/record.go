package record

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Reference identifies a record without carrying its field values.
type Reference struct {
	Entity string    `json:"entity"`
	ID     uuid.UUID `json:"id"`
}

// IsZero reports whether the reference carries no usable identity.
func (r Reference) IsZero() bool {
	return r.ID == uuid.Nil
}

func (r Reference) String() string {
	return fmt.Sprintf("%s(%s)", r.Entity, r.ID)
}

// Record is a loosely-typed domain record: an entity name, an id, and a
// bag of named field values. Field names are tracked in insertion order
// so that serialized output is deterministic.
type Record struct {
	Entity string
	ID     uuid.UUID

	fields map[string]any
	names  []string // insertion order of fields
}

// New allocates an empty record of the given entity.
func New(entity string, id uuid.UUID) *Record {
	return &Record{
		Entity: entity,
		ID:     id,
		fields: make(map[string]any),
	}
}

// Ref returns the record's own reference.
func (r *Record) Ref() Reference {
	return Reference{Entity: r.Entity, ID: r.ID}
}

// Set stores a field value, preserving first-set order.
func (r *Record) Set(name string, value any) *Record {
	if r.fields == nil {
		r.fields = make(map[string]any)
	}
	if _, ok := r.fields[name]; !ok {
		r.names = append(r.names, name)
	}
	r.fields[name] = value
	return r
}

// Get returns a field value and whether it was present.
func (r *Record) Get(name string) (any, bool) {
	if r == nil || r.fields == nil {
		return nil, false
	}
	v, ok := r.fields[name]
	return v, ok
}

// Has reports whether the field is present.
func (r *Record) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// FieldNames returns the record's field names in insertion order.
func (r *Record) FieldNames() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len returns the number of fields.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.names)
}

// String returns a field coerced to string ("" when absent or non-string).
func (r *Record) String(name string) string {
	v, ok := r.Get(name)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// RefField returns a field holding a Reference. Store layers deserialize
// lookups as map[string]any, so that shape is accepted too.
func (r *Record) RefField(name string) (Reference, bool) {
	v, ok := r.Get(name)
	if !ok || v == nil {
		return Reference{}, false
	}
	switch ref := v.(type) {
	case Reference:
		if ref.IsZero() {
			return Reference{}, false
		}
		return ref, true
	case *Reference:
		if ref == nil || ref.IsZero() {
			return Reference{}, false
		}
		return *ref, true
	case map[string]any:
		return refFromMap(ref)
	}
	return Reference{}, false
}

func refFromMap(m map[string]any) (Reference, bool) {
	rawID, ok := m["id"]
	if !ok {
		return Reference{}, false
	}
	id, err := uuid.Parse(fmt.Sprintf("%v", rawID))
	if err != nil || id == uuid.Nil {
		return Reference{}, false
	}
	entity, _ := m["entity"].(string)
	return Reference{Entity: entity, ID: id}, true
}

// Fields returns a copy of the field map.
func (r *Record) Fields() map[string]any {
	out := make(map[string]any, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// recordJSON is the wire shape of a Record.
type recordJSON struct {
	Entity string         `json:"entity"`
	ID     uuid.UUID      `json:"id"`
	Fields map[string]any `json:"fields,omitempty"`
}

// MarshalJSON serializes entity, id, and fields.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordJSON{Entity: r.Entity, ID: r.ID, Fields: r.fields})
}

// UnmarshalJSON decodes the wire shape. JSON objects carry no field
// order, so names are sorted to keep downstream output deterministic.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Entity = raw.Entity
	r.ID = raw.ID
	r.fields = raw.Fields
	if r.fields == nil {
		r.fields = make(map[string]any)
	}
	r.names = r.names[:0]
	for name := range r.fields {
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return nil
}

func containsFold(set []string, name string) bool {
	for _, s := range set {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// FilterFieldNames returns the record's field names restricted to the
// allowed set, compared case-insensitively, preserving record order.
// A nil allowed set means no restriction.
func (r *Record) FilterFieldNames(allowed []string) []string {
	names := r.FieldNames()
	if allowed == nil {
		return names
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if containsFold(allowed, n) {
			out = append(out, n)
		}
	}
	return out
}
