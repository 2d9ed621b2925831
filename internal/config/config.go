package config

import (
	"fmt"
	"os"
	"strings"
)

// Config holds the environment-resident settings shared by every stage
// invocation. Unlike the teacher's Config, there is no database URL or
// Supabase project — the pipeline is stateless and tenant keys are looked
// up individually via EncryptionKeyFor, not collected eagerly.
type Config struct {
	ProcessFunctionURL  string
	FinalizeFunctionURL string

	Port        string
	Environment string
}

func Load() (*Config, error) {
	cfg := &Config{
		ProcessFunctionURL:  getEnv("PROCESS_FUNCTION_URL", ""),
		FinalizeFunctionURL: getEnv("FINALIZE_FUNCTION_URL", ""),
		Port:                getEnv("PORT", "8080"),
		Environment:         getEnv("ENVIRONMENT", "development"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ProcessFunctionURL == "" {
		return fmt.Errorf("PROCESS_FUNCTION_URL is required")
	}
	if c.FinalizeFunctionURL == "" {
		return fmt.Errorf("FINALIZE_FUNCTION_URL is required")
	}
	return nil
}

// EncryptionKeyFor looks up the per-tenant Fernet key from
// CLIENT_<TENANT>_ENCRYPTION_KEY, mirroring
// credentials.py::get_client_encryption_key. Returns the available tenant
// suffixes in the error so operators can spot a typo'd client id.
func EncryptionKeyFor(clientID string) (string, error) {
	if clientID == "" {
		return "", fmt.Errorf("client_id is required for multi-client setup")
	}

	envVar := "CLIENT_" + strings.ToUpper(clientID) + "_ENCRYPTION_KEY"
	key := os.Getenv(envVar)
	if key == "" {
		available := availableTenants()
		return "", fmt.Errorf("no encryption key found for client %q; available clients: %v", clientID, available)
	}
	return key, nil
}

func availableTenants() []string {
	var tenants []string
	for _, entry := range os.Environ() {
		name, _, found := strings.Cut(entry, "=")
		if !found {
			continue
		}
		if strings.HasPrefix(name, "CLIENT_") && strings.HasSuffix(name, "_ENCRYPTION_KEY") {
			tenant := strings.TrimSuffix(strings.TrimPrefix(name, "CLIENT_"), "_ENCRYPTION_KEY")
			tenants = append(tenants, tenant)
		}
	}
	return tenants
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
