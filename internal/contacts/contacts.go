// Package contacts models a character's external contact list and computes the changes
// needed to bring it in line with the organization's approved standings.
package contacts

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"standings/internal/models"
)

// LabelInfo is a contact label as defined on one character.
type LabelInfo struct {
	ID   int64  `json:"label_id"`
	Name string `json:"label_name"`
}

// Label is the organization's tag for managed contacts. Names match case-insensitively.
type Label struct {
	name string
}

// NewLabel returns the label with the given display name.
func NewLabel(name string) Label {
	return Label{name: strings.TrimSpace(name)}
}

// Name returns the configured display name.
func (l Label) Name() string {
	return l.name
}

// Matches reports whether name refers to this label.
func (l Label) Matches(name string) bool {
	return l.name != "" && strings.EqualFold(strings.TrimSpace(name), l.name)
}

// Find returns the first of labels that matches.
func (l Label) Find(labels []LabelInfo) (LabelInfo, bool) {
	for _, info := range labels {
		if l.Matches(info.Name) {
			return info, true
		}
	}
	return LabelInfo{}, false
}

// Contact is one entry of a character's contact list.
type Contact struct {
	ID       int64             `json:"contact_id"`
	Type     models.EntityType `json:"contact_type"`
	Standing float64           `json:"standing"`
	LabelIDs []int64           `json:"label_ids,omitempty"`
}

// Ref returns the contact's entity reference.
func (c Contact) Ref() models.EntityRef {
	return models.EntityRef{ID: c.ID, Type: c.Type}
}

// HasLabel reports whether the contact carries label id.
func (c Contact) HasLabel(id int64) bool {
	return slices.Contains(c.LabelIDs, id)
}

// Snapshot is what the external API reported for one character at read time.
type Snapshot struct {
	CharacterID int64
	Contacts    []Contact
	Labels      []LabelInfo
}

// Version returns a stable fingerprint of the contact list, independent of ordering.
func (s Snapshot) Version() string {
	lines := make([]string, 0, len(s.Contacts))
	for _, c := range s.Contacts {
		labels := slices.Clone(c.LabelIDs)
		slices.Sort(labels)
		lines = append(lines, fmt.Sprintf("%d|%s|%.4f|%v", c.ID, c.Type, c.Standing, labels))
	}
	slices.Sort(lines)
	sum := md5.Sum([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}

func (s Snapshot) index() map[int64]Contact {
	out := make(map[int64]Contact, len(s.Contacts))
	for _, c := range s.Contacts {
		out[c.ID] = c
	}
	return out
}

// Desired is one approved standing that should appear in contact lists.
type Desired struct {
	Ref      models.EntityRef
	Standing float64
}

// DesiredFromEntries converts approved standings into the desired set.
func DesiredFromEntries(entries []models.StandingsEntry) []Desired {
	out := make([]Desired, 0, len(entries))
	for _, e := range entries {
		out = append(out, Desired{Ref: e.Ref(), Standing: e.Standing})
	}
	return out
}
