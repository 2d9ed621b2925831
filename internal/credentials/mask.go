package credentials

// sensitiveFields lists every field name masked before a credential map is
// logged, per mask_credentials.
var sensitiveFields = []string{
	"dropbox_app_key", "dropbox_app_secret", "dropbox_refresh_token",
	"fotello_api_key", "autohdr_api_key",
	"google_drive_client_id", "google_drive_client_secret", "google_drive_refresh_token",
	"api_key", "access_token", "refresh_token", "client_secret",
}

// Mask returns a copy of data with sensitive string fields replaced by a
// first4...last4 preview (or "***" for values of length 8 or less),
// recursing into storage_credentials / enhancement_credentials. Safe to log.
func Mask(data map[string]any) map[string]any {
	masked := make(map[string]any, len(data))
	for k, v := range data {
		masked[k] = v
	}

	for _, field := range sensitiveFields {
		raw, ok := masked[field]
		if !ok {
			continue
		}
		value, ok := raw.(string)
		if !ok || value == "" {
			continue
		}
		masked[field] = maskValue(value)
	}

	for _, nestedKey := range []string{"storage_credentials", "enhancement_credentials"} {
		if nested, ok := masked[nestedKey].(map[string]any); ok {
			masked[nestedKey] = Mask(nested)
		}
	}

	return masked
}

func maskValue(value string) string {
	if len(value) > 8 {
		return value[:4] + "..." + value[len(value)-4:]
	}
	return "***"
}
