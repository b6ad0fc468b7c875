package contract

import (
	"regexp"
	"sort"
	"strings"
)

var (
	projectPartyKey   = regexp.MustCompile(`(?i)^(owner|client|developer|owner_developer|customer|principal)$`)
	projectPartyLabel = regexp.MustCompile(`(?i)owner|client|developer|customer|principal`)
)

// containers in which directories keep project custom fields
var customFieldContainers = []string{"custom_fields", "custom_field_values", "project_custom_fields"}

// Candidates scans a project detail record for every plausible client name.
// The result is de-duplicated (case-insensitive) in order of discovery.
func (e *Extractor) Candidates(project Record) []string {
	var found []string
	for _, k := range project.keys {
		if !projectPartyKey.MatchString(k) {
			continue
		}
		found = append(found, partyValues(project.fields[k])...)
	}
	for _, container := range customFieldContainers {
		v, ok := project.Get(container)
		if !ok {
			continue
		}
		found = append(found, customFieldValues(v)...)
	}

	var out []string
	seen := make(map[string]bool)
	for _, name := range found {
		if !e.acceptable(name, project) {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(name))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(name))
	}
	return out
}

// partyValues reads a string, an object's name or label, or a list of either.
func partyValues(v any) []string {
	switch t := v.(type) {
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, partyValues(item)...)
		}
		return out
	case map[string]any:
		if n := stringOf(t["name"]); n != "" {
			return []string{n}
		}
		if l := stringOf(t["label"]); l != "" {
			return []string{l}
		}
		return nil
	default:
		if s := stringOf(v); s != "" {
			return []string{s}
		}
		return nil
	}
}

// customFieldValues extracts values of custom fields labelled like a client
// party. Containers are either a map keyed by field id or a list of fields.
func customFieldValues(v any) []string {
	var out []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			out = append(out, customField("", item)...)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, customField(k, t[k])...)
		}
	}
	return out
}

func customField(key string, v any) []string {
	field, ok := v.(map[string]any)
	if !ok {
		if projectPartyKey.MatchString(key) {
			return partyValues(v)
		}
		return nil
	}
	label := stringOf(field["label"])
	if label == "" {
		label = stringOf(field["name"])
	}
	if !projectPartyLabel.MatchString(label) && !projectPartyKey.MatchString(key) {
		return nil
	}
	if value, ok := field["value"]; ok {
		return partyValues(value)
	}
	return nil
}
