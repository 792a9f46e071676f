package config

import (
	"context"
	"os"
)

// SecretProvider resolves secret identifiers (SSM parameter paths) to
// plaintext values. Keys that cannot be found are omitted from the result.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}

// EnvVarProvider resolves each key as an environment variable name. It lets
// local runs exercise the *_SSM_PARAM indirection without AWS.
type EnvVarProvider struct{}

// NewEnvVarProvider creates a new EnvVarProvider.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{}
}

// GetParametersBatch looks each key up with os.LookupEnv.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := os.LookupEnv(key); ok {
			result[key] = val
		}
	}
	return result, nil
}
