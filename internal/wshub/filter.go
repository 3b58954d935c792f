package wshub

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// RawFilter is the loosely-typed filter object a client supplies on
// subscribe, before normalization.
type RawFilter struct {
	Paths             []string `json:"paths,omitempty"`
	Extensions        []string `json:"extensions,omitempty"`
	Types             []string `json:"types,omitempty"`
	EventTypes        []string `json:"eventTypes,omitempty"`
	EntityTypes       []string `json:"entityTypes,omitempty"`
	RelationshipTypes []string `json:"relationshipTypes,omitempty"`
	SessionIDs        []string `json:"sessionIds,omitempty"`
	OperationIDs      []string `json:"operationIds,omitempty"`
	SessionEvents     []string `json:"sessionEvents,omitempty"`
	SessionEdgeTypes  []string `json:"sessionEdgeTypes,omitempty"`
}

// NormalizedFilter is the lowercase/trimmed projection of a RawFilter used
// at match time (spec §3).
type NormalizedFilter struct {
	Paths             []string
	AbsolutePaths     []string
	Extensions        []string
	Types             []string
	EventTypes        []string
	EntityTypes       []string
	RelationshipTypes []string
	SessionIDs        []string
	OperationIDs      []string
	SessionEvents     []string
	SessionEdgeTypes  []string
}

func lowerTrimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// NormalizeFilter projects a RawFilter into a NormalizedFilter.
// normalizeFilter(normalizeFilter(f)) is semantically idempotent: re-running
// it over its own output reproduces the same set of lowercase/trimmed
// values.
func NormalizeFilter(raw *RawFilter) *NormalizedFilter {
	if raw == nil {
		return &NormalizedFilter{}
	}
	paths := lowerTrimAll(raw.Paths)
	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		abs = append(abs, filepath.Clean(p))
	}
	extensions := make([]string, 0, len(raw.Extensions))
	for _, e := range lowerTrimAll(raw.Extensions) {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		extensions = append(extensions, e)
	}
	return &NormalizedFilter{
		Paths:             paths,
		AbsolutePaths:     abs,
		Extensions:        extensions,
		Types:             lowerTrimAll(raw.Types),
		EventTypes:        lowerTrimAll(raw.EventTypes),
		EntityTypes:       lowerTrimAll(raw.EntityTypes),
		RelationshipTypes: lowerTrimAll(raw.RelationshipTypes),
		SessionIDs:        lowerTrimAll(raw.SessionIDs),
		OperationIDs:      lowerTrimAll(raw.OperationIDs),
		SessionEvents:     lowerTrimAll(raw.SessionEvents),
		SessionEdgeTypes:  lowerTrimAll(raw.SessionEdgeTypes),
	}
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func pathMatches(filter *NormalizedFilter, path string) bool {
	if len(filter.Paths) == 0 && len(filter.AbsolutePaths) == 0 {
		return true
	}
	clean := filepath.Clean(strings.ToLower(path))
	for _, p := range filter.Paths {
		if clean == p || strings.HasPrefix(clean, p+string(filepath.Separator)) {
			return true
		}
	}
	for _, p := range filter.AbsolutePaths {
		if clean == p || strings.HasPrefix(clean, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func extensionMatches(filter *NormalizedFilter, path string) bool {
	if len(filter.Extensions) == 0 {
		return true
	}
	return contains(filter.Extensions, strings.ToLower(filepath.Ext(path)))
}

// MatchesEvent reports whether evt passes the per-topic semantics of filter,
// per spec §4.I.
func MatchesEvent(filter *NormalizedFilter, topic string, data map[string]any) bool {
	if filter == nil {
		return true
	}
	if len(filter.EventTypes) > 0 && !contains(filter.EventTypes, topic) {
		return false
	}

	switch {
	case topic == "file_change":
		if kind, ok := stringField(data, "type", "kind"); ok && len(filter.Types) > 0 && !contains(filter.Types, kind) {
			return false
		}
		if path, ok := stringField(data, "path"); ok {
			if !pathMatches(filter, path) || !extensionMatches(filter, path) {
				return false
			}
		}
		return true

	case strings.HasPrefix(topic, "entity_"):
		if len(filter.EntityTypes) == 0 {
			return true
		}
		entityType, ok := stringField(data, "entityType", "type")
		return ok && contains(filter.EntityTypes, entityType)

	case strings.HasPrefix(topic, "relationship_"):
		if len(filter.RelationshipTypes) == 0 {
			return true
		}
		relType, ok := stringField(data, "relationshipType", "type")
		return ok && contains(filter.RelationshipTypes, relType)

	case topic == "session_event":
		if len(filter.SessionIDs) > 0 {
			if sid, ok := stringField(data, "sessionId"); !ok || !contains(filter.SessionIDs, sid) {
				return false
			}
		}
		if len(filter.OperationIDs) > 0 {
			if oid, ok := stringField(data, "operationId"); !ok || !contains(filter.OperationIDs, oid) {
				return false
			}
		}
		if len(filter.SessionEvents) > 0 {
			if se, ok := stringField(data, "sessionEvent", "event"); !ok || !contains(filter.SessionEvents, se) {
				return false
			}
		}
		if len(filter.SessionEdgeTypes) > 0 {
			if !anyRelationshipMatches(filter, data) {
				return false
			}
		}
		return true

	default:
		return true
	}
}

func anyRelationshipMatches(filter *NormalizedFilter, data map[string]any) bool {
	rels, ok := data["relationships"].([]any)
	if !ok {
		return false
	}
	for _, r := range rels {
		rm, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if t, ok := stringField(rm, "type"); ok && contains(filter.SessionEdgeTypes, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

func stringField(data map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := data[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return strings.ToLower(s), true
			}
		}
	}
	return "", false
}

// ParseRawFilter decodes a raw JSON filter payload.
func ParseRawFilter(raw json.RawMessage) (*RawFilter, error) {
	if len(raw) == 0 {
		return &RawFilter{}, nil
	}
	var rf RawFilter
	if err := json.Unmarshal(raw, &rf); err != nil {
		return nil, err
	}
	return &rf, nil
}
