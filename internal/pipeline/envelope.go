package pipeline

import "encoding/json"

// parseEventData unwraps the three shapes a stage invocation can arrive in
// (spec.md §6): a raw web-trigger carrying __ow_method/__ow_headers whose
// other top-level fields ARE the data, a {"body": "<json>"} or
// {"body": {...}} wrapper, or a direct top-level payload. Grounded on every
// original_source __main__.py's opening "parse event data" block, which
// tries each shape in this order.
func parseEventData(event map[string]any) (map[string]any, bool) {
	if _, hasMethod := event["__ow_method"]; hasMethod {
		return event, true
	}

	if rawBody, ok := event["body"]; ok {
		switch b := rawBody.(type) {
		case string:
			var parsed map[string]any
			if err := json.Unmarshal([]byte(b), &parsed); err == nil {
				return parsed, true
			}
			return nil, false
		case map[string]any:
			return b, true
		}
	}

	if len(event) > 0 {
		return event, true
	}
	return nil, false
}

// flattenCredentialEnvelope returns a copy of data with the contents of its
// storage_credentials / enhancement_credentials sub-objects (if present)
// copied up to the top level, so provider detection and required-field
// validation work uniformly whether the caller used the nested shape or the
// legacy flat "<field>_encrypted" shape.
func flattenCredentialEnvelope(data map[string]any) map[string]any {
	flat := make(map[string]any, len(data))
	for k, v := range data {
		flat[k] = v
	}
	for _, nestedKey := range []string{"storage_credentials", "enhancement_credentials"} {
		nested, ok := data[nestedKey].(map[string]any)
		if !ok {
			continue
		}
		for k, v := range nested {
			if _, exists := flat[k]; !exists {
				flat[k] = v
			}
		}
	}
	return flat
}

// decodeInto re-marshals raw (typically a map[string]any or []any obtained
// from a JSON payload) into target, the simplest way to recover a typed
// struct from a stage's otherwise-untyped map[string]any request body.
func decodeInto(raw any, target any) error {
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, target)
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	case bool:
		return t
	case float64:
		return t != 0
	default:
		return true
	}
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func boolOr(v any, fallback bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return fallback
}

func intOr(v any, fallback int) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	default:
		return fallback
	}
}
