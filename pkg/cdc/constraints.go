package cdc

import (
	"sort"
	"strings"
)

// NodeKeys selects the property names that form a node's merge identity.
//
// Only UNIQUE and NODE_KEY constraints on one of the node's labels qualify,
// and a qualifying constraint must be fully covered by the node's property
// keys. Among the qualifiers the smallest property set wins; ties break by
// the position of the constraint's label in labels, then lexicographically
// by the sorted property tuple. The result is sorted; it is empty when no
// constraint qualifies.
//
// The choice is observable: it decides which record fields become the merge
// key of the emitted statement.
func NodeKeys(labels []string, propertyKeys []string, constraints []Constraint) []string {
	available := make(map[string]struct{}, len(propertyKeys))
	for _, k := range propertyKeys {
		available[k] = struct{}{}
	}
	labelIndex := make(map[string]int, len(labels))
	for i, l := range labels {
		if _, ok := labelIndex[l]; !ok {
			labelIndex[l] = i
		}
	}

	best := -1
	var bestTuple string
	for i, c := range constraints {
		if !c.isUnique() {
			continue
		}
		if _, ok := labelIndex[c.Label]; !ok {
			continue
		}
		if !covered(c.Properties, available) {
			continue
		}
		tuple := sortedTuple(c.Properties)
		if best < 0 || less(c, tuple, constraints[best], bestTuple, labelIndex) {
			best = i
			bestTuple = tuple
		}
	}
	if best < 0 {
		return nil
	}

	keys := sortedCopy(constraints[best].Properties)
	return keys
}

// UniqueConstraints filters the unique-flavored constraints, preserving
// their source order.
func UniqueConstraints(constraints []Constraint) []Constraint {
	var out []Constraint
	for _, c := range constraints {
		if c.isUnique() {
			out = append(out, c)
		}
	}
	return out
}

// ConstrainedLabels returns the set of labels named by any unique
// constraint in the list.
func ConstrainedLabels(constraints []Constraint) map[string]struct{} {
	out := make(map[string]struct{})
	for _, c := range constraints {
		if c.isUnique() {
			out[c.Label] = struct{}{}
		}
	}
	return out
}

func covered(properties []string, available map[string]struct{}) bool {
	if len(properties) == 0 {
		return false
	}
	for _, p := range properties {
		if _, ok := available[p]; !ok {
			return false
		}
	}
	return true
}

// less orders candidate constraints: smaller property set first, then the
// earlier label in the entity's label order, then the lexicographically
// smaller property tuple.
func less(a Constraint, aTuple string, b Constraint, bTuple string, labelIndex map[string]int) bool {
	if len(a.Properties) != len(b.Properties) {
		return len(a.Properties) < len(b.Properties)
	}
	if labelIndex[a.Label] != labelIndex[b.Label] {
		return labelIndex[a.Label] < labelIndex[b.Label]
	}
	return aTuple < bTuple
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

func sortedTuple(in []string) string {
	return strings.Join(sortedCopy(in), "\x00")
}
