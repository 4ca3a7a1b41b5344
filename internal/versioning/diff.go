package versioning

import (
	"fmt"
	"strings"

	"github.com/secretshub/policy-core/pkg/types"
)

// diffSnapshots computes field-level changes between two policy snapshots.
// Scalar attributes are compared directly; rules, targets, and conditions are
// compared by their serialized shape so a diff surfaces that they changed
// without exploding into per-element noise.
func diffSnapshots(oldContent, newContent *types.Policy) []types.FieldChange {
	var changes []types.FieldChange

	compareString := func(field, oldVal, newVal string) {
		if oldVal == newVal {
			return
		}
		changes = append(changes, stringChange(field, oldVal, newVal))
	}

	compareString("name", oldContent.Name, newContent.Name)
	compareString("description", oldContent.Description, newContent.Description)
	compareString("effect", string(oldContent.Effect), string(newContent.Effect))
	compareString("status", string(oldContent.Status), string(newContent.Status))
	compareString("metadata.category", oldContent.Metadata.Category, newContent.Metadata.Category)
	compareString("metadata.risk", oldContent.Metadata.Risk, newContent.Metadata.Risk)

	if oldContent.Priority != newContent.Priority {
		changes = append(changes, types.FieldChange{
			Field:    "priority",
			OldValue: oldContent.Priority,
			NewValue: newContent.Priority,
			Type:     types.FieldModified,
		})
	}

	compareString("rules", rulesFingerprint(oldContent.Rules), rulesFingerprint(newContent.Rules))
	compareString("targets", targetsFingerprint(oldContent.Targets), targetsFingerprint(newContent.Targets))
	compareString("conditions", strings.Join(oldContent.Conditions, "; "), strings.Join(newContent.Conditions, "; "))
	compareString("metadata.tags", strings.Join(oldContent.Metadata.Tags, ","), strings.Join(newContent.Metadata.Tags, ","))
	compareString("metadata.compliance", strings.Join(oldContent.Metadata.Compliance, ","), strings.Join(newContent.Metadata.Compliance, ","))

	return changes
}

// stringChange classifies a string transition as added, removed, or modified
func stringChange(field, oldVal, newVal string) types.FieldChange {
	change := types.FieldChange{Field: field, Type: types.FieldModified}
	switch {
	case oldVal == "":
		change.Type = types.FieldAdded
		change.NewValue = newVal
	case newVal == "":
		change.Type = types.FieldRemoved
		change.OldValue = oldVal
	default:
		change.OldValue = oldVal
		change.NewValue = newVal
	}
	return change
}

// rulesFingerprint renders a rule list into a stable comparable form
func rulesFingerprint(rules []*types.Rule) string {
	if len(rules) == 0 {
		return ""
	}
	parts := make([]string, len(rules))
	for i, r := range rules {
		parts[i] = fmt.Sprintf("%s %s [%s]", r.Type, r.Operator, strings.Join(r.Values, ","))
	}
	return strings.Join(parts, "; ")
}

// targetsFingerprint renders targets into a stable comparable form
func targetsFingerprint(t *types.Targets) string {
	if t == nil {
		return ""
	}
	dims := []struct {
		name   string
		values []string
	}{
		{"resources", t.Resources},
		{"actions", t.Actions},
		{"pathPrefixes", t.PathPrefixes},
		{"targetTypes", t.TargetTypes},
		{"providers", t.Providers},
		{"namespaces", t.Namespaces},
		{"projects", t.Projects},
	}

	var parts []string
	for _, d := range dims {
		if len(d.values) > 0 {
			parts = append(parts, fmt.Sprintf("%s=%s", d.name, strings.Join(d.values, ",")))
		}
	}
	return strings.Join(parts, "; ")
}

// buildDiff assembles the diff result for two stored versions
func buildDiff(policyID string, from, to *types.PolicyVersion) *types.VersionDiff {
	changes := diffSnapshots(from.Content, to.Content)

	summary := fmt.Sprintf("%d field(s) changed between version %d and %d", len(changes), from.Version, to.Version)
	if len(changes) == 0 {
		summary = fmt.Sprintf("no differences between version %d and %d", from.Version, to.Version)
	}

	return &types.VersionDiff{
		PolicyID:    policyID,
		FromVersion: from.Version,
		ToVersion:   to.Version,
		Changes:     changes,
		Summary:     summary,
	}
}
