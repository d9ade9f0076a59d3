// Package memory provides an in-memory record.Store. It backs tests and
// embedded deployments where no database file is wanted.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/subwatch/internal/record"
)

// Store keeps records per entity in insertion order.
type Store struct {
	mu       sync.RWMutex
	entities map[string][]*record.Record
}

// New allocates an empty Store.
func New() *Store {
	return &Store{entities: make(map[string][]*record.Record)}
}

// Seed inserts a pre-built record, keeping its id. Intended for test
// fixtures.
func (s *Store) Seed(rec *record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[rec.Entity] = append(s.entities[rec.Entity], rec)
}

// All returns every record of an entity in insertion order.
func (s *Store) All(entity string) []*record.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*record.Record, len(s.entities[entity]))
	copy(out, s.entities[entity])
	return out
}

// Query returns matching records with joined columns resolved.
func (s *Store) Query(_ context.Context, entity string, filter record.Filter) ([]*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*record.Record
	for _, rec := range s.entities[entity] {
		ok, err := matches(rec, filter.Conditions)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		result := clone(rec, filter.Columns)
		if err := s.applyJoins(result, rec, filter.Joins); err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, nil
}

// Create persists a new record with a generated id. Field names are
// sorted so that created records serialize deterministically.
func (s *Store) Create(_ context.Context, entity string, fields map[string]any) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := record.New(entity, uuid.New())
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rec.Set(name, fields[name])
	}
	s.entities[entity] = append(s.entities[entity], rec)
	return rec.ID, nil
}

// Delete removes a record by id.
func (s *Store) Delete(_ context.Context, entity string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.entities[entity]
	for i, rec := range recs {
		if rec.ID == id {
			s.entities[entity] = append(recs[:i:i], recs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%s %s: not found", entity, id)
}

func (s *Store) applyJoins(result, source *record.Record, joins []record.Join) error {
	for _, j := range joins {
		srcID, ok := joinSourceID(source, j.FromField)
		if !ok {
			continue // left outer: no source value, no joined columns
		}
		joined := s.lookupJoined(j.ToEntity, j.ToField, srcID)
		if joined == nil {
			continue
		}
		for _, col := range j.Columns {
			if v, ok := joined.Get(col); ok {
				result.Set(j.Alias+"."+col, v)
			}
		}
		if err := s.applyJoins(result, joined, j.Joins); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) lookupJoined(entity, field string, id uuid.UUID) *record.Record {
	for _, rec := range s.entities[entity] {
		if field == "id" {
			if rec.ID == id {
				return rec
			}
			continue
		}
		if fid, ok := joinSourceID(rec, field); ok && fid == id {
			return rec
		}
	}
	return nil
}

// joinSourceID extracts the id a join navigates through: the record's
// own id for "id", otherwise the id inside a lookup field.
func joinSourceID(rec *record.Record, field string) (uuid.UUID, bool) {
	if field == "id" {
		return rec.ID, rec.ID != uuid.Nil
	}
	if ref, ok := rec.RefField(field); ok {
		return ref.ID, true
	}
	if v, ok := rec.Get(field); ok {
		if id, ok := asID(v); ok {
			return id, true
		}
	}
	return uuid.Nil, false
}

func matches(rec *record.Record, conds []record.Condition) (bool, error) {
	for _, c := range conds {
		v, _ := rec.Get(c.Field)
		eq := looseEqual(v, c.Value)
		switch c.Op {
		case record.OpEqual:
			if !eq {
				return false, nil
			}
		case record.OpNotEqual:
			if eq {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported operator %q", c.Op)
		}
	}
	return true, nil
}

// looseEqual compares ids, numbers, and strings across representations:
// a Reference field equals the uuid it points at, and int/float compare
// by value.
func looseEqual(left, right any) bool {
	if lid, ok := asID(left); ok {
		if rid, ok := asID(right); ok {
			return lid == rid
		}
	}
	lf, lok := asFloat(left)
	rf, rok := asFloat(right)
	if lok && rok {
		return math.Abs(lf-rf) < 1e-9
	}
	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func asID(v any) (uuid.UUID, bool) {
	switch t := v.(type) {
	case uuid.UUID:
		return t, t != uuid.Nil
	case record.Reference:
		return t.ID, !t.IsZero()
	case *record.Reference:
		if t == nil {
			return uuid.Nil, false
		}
		return t.ID, !t.IsZero()
	case string:
		id, err := uuid.Parse(t)
		return id, err == nil && id != uuid.Nil
	case map[string]any:
		if raw, ok := t["id"]; ok {
			return asID(raw)
		}
	}
	return uuid.Nil, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func clone(rec *record.Record, columns []string) *record.Record {
	out := record.New(rec.Entity, rec.ID)
	names := rec.FieldNames()
	if len(columns) > 0 {
		names = columns
	}
	for _, name := range names {
		if v, ok := rec.Get(name); ok {
			out.Set(name, v)
		}
	}
	return out
}
