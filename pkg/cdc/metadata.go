package cdc

import (
	"sort"
	"strings"
)

// NodeSchemaMetadata is the grouping key for node change events: two
// events with equal metadata induce the same statement and may share one
// parameter list. Equality is structural; GroupKey renders the fields in a
// stable order so the metadata can key a map.
type NodeSchemaMetadata struct {
	// Constraints are the qualifying unique constraints, ordered by the
	// position of their label in the entity's label list.
	Constraints []Constraint
	// LabelsToAdd and LabelsToDelete are the label diffs not already
	// covered by a constraint.
	LabelsToAdd    []string
	LabelsToDelete []string
	// Keys are the merge key property names, sorted.
	Keys []string
}

// MergeLabels returns the distinct constraint labels in order; these are
// the labels the merge lookup matches on.
func (m NodeSchemaMetadata) MergeLabels() []string {
	var labels []string
	seen := make(map[string]struct{}, len(m.Constraints))
	for _, c := range m.Constraints {
		if _, ok := seen[c.Label]; !ok {
			seen[c.Label] = struct{}{}
			labels = append(labels, c.Label)
		}
	}
	return labels
}

// GroupKey returns a stable structural digest of the metadata.
func (m NodeSchemaMetadata) GroupKey() string {
	var b strings.Builder
	for _, c := range m.Constraints {
		b.WriteString(c.Label)
		b.WriteByte('\x01')
		b.WriteString(string(c.Type))
		b.WriteByte('\x01')
		b.WriteString(sortedTuple(c.Properties))
		b.WriteByte('\x02')
	}
	writeSection(&b, m.LabelsToAdd)
	writeSection(&b, m.LabelsToDelete)
	writeSection(&b, m.Keys)
	return b.String()
}

// RelationshipSchemaMetadata is the grouping key for relationship change
// events. Equality is structural.
type RelationshipSchemaMetadata struct {
	Label       string
	StartLabels []string
	EndLabels   []string
	// StartKeys and EndKeys are sorted merge key names per endpoint.
	StartKeys []string
	EndKeys   []string
}

// GroupKey returns a stable structural digest of the metadata.
func (m RelationshipSchemaMetadata) GroupKey() string {
	var b strings.Builder
	b.WriteString(m.Label)
	b.WriteByte('\x02')
	writeSection(&b, m.StartLabels)
	writeSection(&b, m.EndLabels)
	writeSection(&b, m.StartKeys)
	writeSection(&b, m.EndKeys)
	return b.String()
}

func writeSection(b *strings.Builder, items []string) {
	b.WriteString(strings.Join(items, "\x01"))
	b.WriteByte('\x02')
}

// sortLabelDiff returns a sorted copy of the set difference a − b − covered.
func sortLabelDiff(a, b []string, covered map[string]struct{}) []string {
	inB := make(map[string]struct{}, len(b))
	for _, l := range b {
		inB[l] = struct{}{}
	}
	var out []string
	for _, l := range a {
		if _, ok := inB[l]; ok {
			continue
		}
		if _, ok := covered[l]; ok {
			continue
		}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// LabelDiffs computes the add/remove label sets for a node change, leaving
// out labels already pinned by a unique constraint.
func LabelDiffs(before, after []string, constraints []Constraint) (add, remove []string) {
	covered := ConstrainedLabels(constraints)
	return sortLabelDiff(after, before, covered), sortLabelDiff(before, after, covered)
}

// QualifyingConstraints returns the unique constraints that can key the
// entity: label among labels and properties fully covered by the
// available property keys. The result is ordered by the position of the
// constraint's label in labels, then by property-set size, then by the
// sorted property tuple, so equal inputs always produce the same sequence.
func QualifyingConstraints(labels []string, propertyKeys []string, constraints []Constraint) []Constraint {
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

	var out []Constraint
	for _, c := range constraints {
		if !c.isUnique() {
			continue
		}
		if _, ok := labelIndex[c.Label]; !ok {
			continue
		}
		if !covered(c.Properties, available) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if labelIndex[out[i].Label] != labelIndex[out[j].Label] {
			return labelIndex[out[i].Label] < labelIndex[out[j].Label]
		}
		if len(out[i].Properties) != len(out[j].Properties) {
			return len(out[i].Properties) < len(out[j].Properties)
		}
		return sortedTuple(out[i].Properties) < sortedTuple(out[j].Properties)
	})
	return out
}
