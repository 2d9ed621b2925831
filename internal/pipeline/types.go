// Package pipeline implements the four stateless stage handlers —
// discovery, gateway, process, finalize — that together form the
// photo-enhancement pipeline (spec.md §4.4). Each stage is grounded on its
// packages/snapflow/<stage>/__main__.py counterpart in original_source.
package pipeline

// BracketFileRef names a single source file inside a bracket, as addressed
// by either storage backend: path_lower for Dropbox, id/path_id for Google
// Drive.
type BracketFileRef struct {
	Name      string `json:"name"`
	PathLower string `json:"path_lower,omitempty"`
	ID        string `json:"id,omitempty"`
	PathID    string `json:"path_id,omitempty"`
}

// Identifier returns whichever address field is set, preferring path_lower
// then id then path_id — the same preference order as _process_enhancement's
// file_path lookup.
func (f BracketFileRef) Identifier() string {
	if f.PathLower != "" {
		return f.PathLower
	}
	if f.ID != "" {
		return f.ID
	}
	return f.PathID
}

// EnhancementRef is one bracket's submitted ticket, carried from process to
// finalize.
type EnhancementRef struct {
	EnhancementID string `json:"enhancement_id"`
	BracketIndex  int    `json:"bracket_index"`
	FileCount     int    `json:"file_count,omitempty"`
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getBool(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}
