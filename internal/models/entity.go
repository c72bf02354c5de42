// Package models contains data structures for the application's domain models.
package models

import (
	"fmt"
	"strings"
)

// EntityType is the kind of external entity that can hold a standing.
type EntityType string

const (
	EntityTypeCharacter   EntityType = "character"
	EntityTypeCorporation EntityType = "corporation"
	EntityTypeAlliance    EntityType = "alliance"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeCharacter, EntityTypeCorporation, EntityTypeAlliance:
		return true
	}
	return false
}

// ParseEntityType parses an entity type name, case-insensitively.
func ParseEntityType(raw string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", NewValidationError(fmt.Sprintf("unknown entity type %q", raw))
	}
	return t, nil
}

// Label returns the display form of the entity type.
func (t EntityType) Label() string {
	switch t {
	case EntityTypeCharacter:
		return "Character"
	case EntityTypeCorporation:
		return "Corporation"
	case EntityTypeAlliance:
		return "Alliance"
	}
	return string(t)
}

// EntityRef identifies an external entity. Identity is the external id.
type EntityRef struct {
	ID   int64      `json:"entity_id"`
	Type EntityType `json:"entity_type"`
}

// Validate checks that the reference is usable.
func (r EntityRef) Validate() error {
	if r.ID <= 0 {
		return NewValidationError("entity_id must be a positive integer")
	}
	if !r.Type.Valid() {
		return NewValidationError(fmt.Sprintf("unknown entity type %q", r.Type))
	}
	return nil
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s#%d", r.Type, r.ID)
}
