package record

import (
	"context"

	"github.com/google/uuid"
)

// Operator is a filter comparison operator.
type Operator string

const (
	OpEqual    Operator = "eq"
	OpNotEqual Operator = "ne"
)

// Condition is a single field comparison within a Filter.
type Condition struct {
	Field string
	Op    Operator
	Value any
}

// Join describes a left-outer join from a field of the filtered entity to
// a field of another entity. Selected columns of the joined entity appear
// in result records under "<Alias>.<column>" field names.
type Join struct {
	FromField string
	ToEntity  string
	ToField   string
	Alias     string
	Columns   []string
	Joins     []Join // nested joins hang off the joined entity
}

// Filter restricts a Query. All conditions must hold (conjunction).
type Filter struct {
	Conditions []Condition
	Columns    []string // empty = all fields
	Joins      []Join
}

// Eq appends an equality condition and returns the filter for chaining.
func (f Filter) Eq(field string, value any) Filter {
	f.Conditions = append(f.Conditions, Condition{Field: field, Op: OpEqual, Value: value})
	return f
}

// Ne appends an inequality condition and returns the filter for chaining.
func (f Filter) Ne(field string, value any) Filter {
	f.Conditions = append(f.Conditions, Condition{Field: field, Op: OpNotEqual, Value: value})
	return f
}

// Store is the persistence boundary of the engine. Implementations must
// be safe for concurrent use; the engine itself never coordinates
// concurrent dispatches.
type Store interface {
	// Query returns all records of the entity matching the filter, in
	// store iteration order.
	Query(ctx context.Context, entity string, filter Filter) ([]*Record, error)

	// Create persists a new record and returns its id.
	Create(ctx context.Context, entity string, fields map[string]any) (uuid.UUID, error)

	// Delete removes a record by id. Deleting a missing record is an error.
	Delete(ctx context.Context, entity string, id uuid.UUID) error
}
