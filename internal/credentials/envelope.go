// Package credentials decrypts and masks the Fernet-encrypted tenant
// credential envelope delivered in a gateway payload (spec.md §4.5).
// Grounded on original_source/lib/shared/config/credentials.py.
package credentials

import (
	"fmt"
	"strings"

	"github.com/fernet/fernet-go"
)

// decryptValue decrypts a single Fernet token under key, mirroring
// decrypt_credential.
func decryptValue(encryptedValue, encryptionKey string) (string, error) {
	k, err := fernet.DecodeKey(encryptionKey)
	if err != nil {
		return "", fmt.Errorf("credentials: invalid encryption key: %w", err)
	}
	msg := fernet.VerifyAndDecrypt([]byte(encryptedValue), 0, []*fernet.Key{k})
	if msg == nil {
		return "", fmt.Errorf("credentials: failed to decrypt credential")
	}
	return string(msg), nil
}

// legacyEncryptedFields maps a flat envelope's "<field>_encrypted" keys to
// their decrypted field name, per _decrypt_legacy_format.
var legacyEncryptedFields = map[string]string{
	"dropbox_app_key_encrypted":             "dropbox_app_key",
	"dropbox_app_secret_encrypted":          "dropbox_app_secret",
	"dropbox_refresh_token_encrypted":       "dropbox_refresh_token",
	"google_drive_client_id_encrypted":      "google_drive_client_id",
	"google_drive_client_secret_encrypted":  "google_drive_client_secret",
	"google_drive_refresh_token_encrypted":  "google_drive_refresh_token",
	"fotello_api_key_encrypted":             "fotello_api_key",
	"autohdr_api_key_encrypted":             "autohdr_api_key",
}

// DecryptEnvelope decrypts every encrypted field in data, returning a new
// map with encrypted keys replaced by their decrypted counterparts.
// autohdr_email and any other plain field pass through untouched. Supports
// both the legacy flat shape and the nested storage_credentials /
// enhancement_credentials shape, auto-detected the same way
// decrypt_credentials does.
func DecryptEnvelope(data map[string]any, encryptionKey string) (map[string]any, error) {
	if _, err := fernet.DecodeKey(encryptionKey); err != nil {
		return nil, fmt.Errorf("credentials: invalid encryption key format: %w", err)
	}

	_, hasStorage := data["storage_credentials"]
	_, hasEnhancement := data["enhancement_credentials"]
	if hasStorage || hasEnhancement {
		return decryptNestedFormat(data, encryptionKey)
	}
	return decryptLegacyFormat(data, encryptionKey)
}

func decryptLegacyFormat(data map[string]any, encryptionKey string) (map[string]any, error) {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}

	for encryptedField, decryptedField := range legacyEncryptedFields {
		raw, ok := data[encryptedField]
		if !ok || raw == nil {
			continue
		}
		encryptedValue, ok := raw.(string)
		if !ok || encryptedValue == "" {
			continue
		}
		decrypted, err := decryptValue(encryptedValue, encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("credentials: failed to decrypt %s: %w", encryptedField, err)
		}
		out[decryptedField] = decrypted
		delete(out, encryptedField)
	}

	return out, nil
}

func decryptNestedFormat(data map[string]any, encryptionKey string) (map[string]any, error) {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}

	for _, nestedKey := range []string{"storage_credentials", "enhancement_credentials"} {
		raw, ok := data[nestedKey]
		if !ok || raw == nil {
			continue
		}
		creds, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		decrypted := make(map[string]any, len(creds))
		for k, v := range creds {
			if !strings.HasSuffix(k, "_encrypted") {
				decrypted[k] = v
				continue
			}
			encryptedValue, ok := v.(string)
			if !ok || encryptedValue == "" {
				continue
			}
			plain, err := decryptValue(encryptedValue, encryptionKey)
			if err != nil {
				return nil, fmt.Errorf("credentials: failed to decrypt %s %s: %w", nestedKey, k, err)
			}
			decrypted[strings.TrimSuffix(k, "_encrypted")] = plain
		}
		out[nestedKey] = decrypted
	}

	return out, nil
}

// FlatFields extracts a flattened string-keyed credential map suitable for
// a storage/enhancement provider factory, regardless of whether the source
// envelope used the legacy flat shape or the nested shape.
func FlatFields(decrypted map[string]any, nestedKey string) map[string]string {
	out := make(map[string]string)

	if nested, ok := decrypted[nestedKey].(map[string]any); ok {
		for k, v := range nested {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
		return out
	}

	for k, v := range decrypted {
		if strings.HasSuffix(k, "_encrypted") {
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
