// Package diff computes the added/changed/removed delta between two
// canonical network graphs.
//
// Nodes are matched by canonical identifier. Links are matched by their
// unordered endpoint pair, so a link reported as a->b matches one stored as
// b->a.
package diff

import (
	"linkgraph/internal/domain"
)

// Delta is one bucket of a diff
type Delta struct {
	Nodes []domain.GraphNode `json:"nodes"`
	Links []domain.GraphLink `json:"links"`
}

// Empty reports whether the bucket holds nothing
func (d Delta) Empty() bool {
	return len(d.Nodes) == 0 && len(d.Links) == 0
}

// Diff is the delta between a current and a next graph
type Diff struct {
	// Added holds entities present in next but not matched in current
	Added Delta `json:"added"`
	// Changed holds entities present in both whose attributes differ.
	// Entries carry the new values.
	Changed Delta `json:"changed"`
	// Removed holds entities present in current but absent from next.
	// Links carry only their endpoints.
	Removed Delta `json:"removed"`
}

// Empty reports a no-op diff
func (d *Diff) Empty() bool {
	return d.Added.Empty() && d.Changed.Empty() && d.Removed.Empty()
}

// Compute diffs current against next. A nil graph is treated as empty.
// Ordering of each bucket follows next (added, changed) or current (removed).
func Compute(current, next *domain.Graph) *Diff {
	if current == nil {
		current = &domain.Graph{}
	}
	if next == nil {
		next = &domain.Graph{}
	}

	d := &Diff{}
	diffNodes(d, current.Nodes, next.Nodes)
	diffLinks(d, current.Links, next.Links)
	return d
}

func diffNodes(d *Diff, current, next []domain.GraphNode) {
	currentByID := make(map[string]domain.GraphNode, len(current))
	for _, n := range current {
		currentByID[n.ID] = n
	}

	seen := make(map[string]struct{}, len(next))
	for _, n := range next {
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}

		old, ok := currentByID[n.ID]
		if !ok {
			d.Added.Nodes = append(d.Added.Nodes, n)
			continue
		}
		if nodeChanged(old, n) {
			d.Changed.Nodes = append(d.Changed.Nodes, n)
		}
	}

	for _, n := range current {
		if _, ok := seen[n.ID]; !ok {
			d.Removed.Nodes = append(d.Removed.Nodes, domain.GraphNode{ID: n.ID})
		}
	}
}

func diffLinks(d *Diff, current, next []domain.GraphLink) {
	currentByKey := make(map[string]domain.GraphLink, len(current))
	for _, l := range current {
		currentByKey[l.Key()] = l
	}

	seen := make(map[string]struct{}, len(next))
	for _, l := range next {
		key := l.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		old, ok := currentByKey[key]
		if !ok {
			d.Added.Links = append(d.Added.Links, l)
			continue
		}
		if linkChanged(old, l) {
			d.Changed.Links = append(d.Changed.Links, l)
		}
	}

	removed := make(map[string]struct{})
	for _, l := range current {
		key := l.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		if _, dup := removed[key]; dup {
			continue
		}
		removed[key] = struct{}{}
		d.Removed.Links = append(d.Removed.Links, domain.GraphLink{Source: l.Source, Target: l.Target})
	}
}

func nodeChanged(old, next domain.GraphNode) bool {
	return old.Label != next.Label ||
		!domain.AddressesEqual(old.LocalAddresses, next.LocalAddresses) ||
		!domain.PropertiesEqual(old.Properties, next.Properties)
}

func linkChanged(old, next domain.GraphLink) bool {
	return old.Cost != next.Cost ||
		old.CostText != next.CostText ||
		!domain.PropertiesEqual(old.Properties, next.Properties)
}
