// Package undo keeps a bounded stack of committed edit units.
package undo

import (
	"github.com/MarcoPoloResearchLab/cuesheet/internal/cues"
)

// DefaultCapacity bounds the stack when no capacity is configured.
const DefaultCapacity = 50

// Entry records the fields of one row before and after a committed write.
type Entry struct {
	RowID  string
	Before cues.FieldPatch
	After  cues.FieldPatch
}

// Unit is the set of entries produced by a single user action.
type Unit []Entry

// Inverse returns the per-row patches that restore the before state.
func (u Unit) Inverse() map[string]cues.FieldPatch {
	restore := make(map[string]cues.FieldPatch, len(u))
	for _, entry := range u {
		patch, ok := restore[entry.RowID]
		if !ok {
			patch = cues.FieldPatch{}
			restore[entry.RowID] = patch
		}
		for field, value := range entry.Before {
			patch[field] = value
		}
	}
	return restore
}

// Stack is a bounded LIFO of units. It is not safe for concurrent use; the owning
// session serializes access.
type Stack struct {
	capacity int
	units    []Unit
}

// NewStack creates a stack. Non-positive capacity falls back to DefaultCapacity.
func NewStack(capacity int) *Stack {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Stack{capacity: capacity}
}

// Push appends a unit, dropping the oldest when full. Empty units are ignored.
func (s *Stack) Push(unit Unit) {
	if len(unit) == 0 {
		return
	}
	s.units = append(s.units, cloneUnit(unit))
	if overflow := len(s.units) - s.capacity; overflow > 0 {
		s.units = append([]Unit(nil), s.units[overflow:]...)
	}
}

// Pop removes and returns the most recent unit.
func (s *Stack) Pop() (Unit, bool) {
	if len(s.units) == 0 {
		return nil, false
	}
	last := s.units[len(s.units)-1]
	s.units = s.units[:len(s.units)-1]
	return last, true
}

// Len reports the number of units held.
func (s *Stack) Len() int {
	return len(s.units)
}

// Capacity reports the bound.
func (s *Stack) Capacity() int {
	return s.capacity
}

func cloneUnit(unit Unit) Unit {
	copied := make(Unit, len(unit))
	for index, entry := range unit {
		copied[index] = Entry{RowID: entry.RowID, Before: entry.Before.Clone(), After: entry.After.Clone()}
	}
	return copied
}
