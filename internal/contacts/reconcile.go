package contacts

import (
	"cmp"
	"math"
	"slices"

	"standings/internal/config"
	"standings/internal/models"
)

// standingEpsilon absorbs float noise from the external API's JSON encoding.
const standingEpsilon = 1e-6

// Change is one contact to add or update.
type Change struct {
	Ref      models.EntityRef
	Standing float64
	LabelIDs []int64
}

// Plan is the set of contact writes for one character.
type Plan struct {
	Mode    config.SyncMode
	Adds    []Change
	Updates []Change
	Deletes []models.EntityRef

	// LabelID is the organization label on this character, zero when LabelMissing.
	LabelID      int64
	LabelMissing bool

	// Skipped lists desired entities left alone because they exist as personal contacts.
	Skipped []models.EntityRef
}

// Empty reports whether the plan performs no writes.
func (p Plan) Empty() bool {
	return len(p.Adds) == 0 && len(p.Updates) == 0 && len(p.Deletes) == 0
}

// Counts returns the number of adds, updates and deletes.
func (p Plan) Counts() (adds, updates, deletes int) {
	return len(p.Adds), len(p.Updates), len(p.Deletes)
}

// Apply returns the snapshot the external API would report after the plan is written.
func (p Plan) Apply(s Snapshot) Snapshot {
	idx := s.index()
	for _, ref := range p.Deletes {
		delete(idx, ref.ID)
	}
	for _, ch := range p.Adds {
		idx[ch.Ref.ID] = Contact{ID: ch.Ref.ID, Type: ch.Ref.Type, Standing: ch.Standing, LabelIDs: slices.Clone(ch.LabelIDs)}
	}
	for _, ch := range p.Updates {
		c := idx[ch.Ref.ID]
		c.ID, c.Type, c.Standing = ch.Ref.ID, ch.Ref.Type, ch.Standing
		if ch.LabelIDs != nil {
			c.LabelIDs = slices.Clone(ch.LabelIDs)
		}
		idx[ch.Ref.ID] = c
	}

	out := Snapshot{CharacterID: s.CharacterID, Labels: slices.Clone(s.Labels)}
	for _, c := range idx {
		out.Contacts = append(out.Contacts, c)
	}
	slices.SortFunc(out.Contacts, func(a, b Contact) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Reconcile computes the writes that bring snap in line with desired under mode.
// The character never appears in its own contact list, so a desired entry for
// snap.CharacterID is ignored.
func Reconcile(mode config.SyncMode, label Label, snap Snapshot, desired []Desired) Plan {
	plan := Plan{Mode: mode}
	if info, ok := label.Find(snap.Labels); ok {
		plan.LabelID = info.ID
	} else {
		plan.LabelMissing = true
	}

	if mode == config.SyncModePreserve {
		return plan
	}

	want := make(map[int64]Desired, len(desired))
	for _, d := range desired {
		if d.Ref.ID == snap.CharacterID {
			continue
		}
		want[d.Ref.ID] = d
	}
	current := snap.index()

	switch mode {
	case config.SyncModeReplace:
		reconcileReplace(&plan, current, want)
	default:
		reconcileMerge(&plan, current, want)
	}

	sortChanges(plan.Adds)
	sortChanges(plan.Updates)
	sortRefs(plan.Deletes)
	sortRefs(plan.Skipped)
	return plan
}

// replace: the desired set is authoritative for the whole list, every desired entry is
// written every run.
func reconcileReplace(plan *Plan, current map[int64]Contact, want map[int64]Desired) {
	for id, c := range current {
		if _, ok := want[id]; !ok {
			plan.Deletes = append(plan.Deletes, c.Ref())
		}
	}
	for id, d := range want {
		c, exists := current[id]
		change := Change{Ref: d.Ref, Standing: d.Standing}
		switch {
		case !plan.LabelMissing:
			change.LabelIDs = []int64{plan.LabelID}
		case exists:
			change.LabelIDs = slices.Clone(c.LabelIDs)
		}
		if exists {
			plan.Updates = append(plan.Updates, change)
		} else {
			plan.Adds = append(plan.Adds, change)
		}
	}
}

// merge: only contacts carrying the organization label are managed. Unlabeled contacts
// are personal and never modified or deleted.
func reconcileMerge(plan *Plan, current map[int64]Contact, want map[int64]Desired) {
	if plan.LabelMissing {
		// Managed contacts cannot be told apart; write best effort, delete nothing.
		for id, d := range want {
			c, exists := current[id]
			switch {
			case !exists:
				plan.Adds = append(plan.Adds, Change{Ref: d.Ref, Standing: d.Standing})
			case !sameStanding(c.Standing, d.Standing):
				plan.Updates = append(plan.Updates, Change{Ref: d.Ref, Standing: d.Standing, LabelIDs: slices.Clone(c.LabelIDs)})
			}
		}
		return
	}

	for id, d := range want {
		c, exists := current[id]
		switch {
		case !exists:
			plan.Adds = append(plan.Adds, Change{Ref: d.Ref, Standing: d.Standing, LabelIDs: []int64{plan.LabelID}})
		case !c.HasLabel(plan.LabelID):
			plan.Skipped = append(plan.Skipped, d.Ref)
		case !sameStanding(c.Standing, d.Standing):
			plan.Updates = append(plan.Updates, Change{Ref: d.Ref, Standing: d.Standing, LabelIDs: slices.Clone(c.LabelIDs)})
		}
	}
	for id, c := range current {
		if !c.HasLabel(plan.LabelID) {
			continue
		}
		if _, ok := want[id]; !ok {
			plan.Deletes = append(plan.Deletes, c.Ref())
		}
	}
}

func sameStanding(a, b float64) bool {
	return math.Abs(a-b) < standingEpsilon
}

func sortChanges(list []Change) {
	slices.SortFunc(list, func(a, b Change) int { return cmp.Compare(a.Ref.ID, b.Ref.ID) })
}

func sortRefs(list []models.EntityRef) {
	slices.SortFunc(list, func(a, b models.EntityRef) int { return cmp.Compare(a.ID, b.ID) })
}
