// Package secrets resolves credentials from environment variables or Azure Key Vault.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// ErrSecretNotFound is returned when a secret has no value in the active source
var ErrSecretNotFound = errors.New("secret not found")

type SecretSource string

const (
	SourceEnvironment SecretSource = "environment"
	SourceVault       SecretSource = "vault"
	// SourceAuto picks vault outside local development
	SourceAuto SecretSource = "auto"
)

// Provider reads secrets from a single resolved source
type Provider struct {
	source SecretSource
	vault  *VaultClient
	logger *zap.Logger
}

type ProviderConfig struct {
	Source       SecretSource
	VaultName    string
	Environment  string
	CacheEnabled bool
	CacheTTL     time.Duration
}

// ResolveSource turns SourceAuto into a concrete source for the environment
func ResolveSource(source SecretSource, environment string) SecretSource {
	if source != SourceAuto {
		return source
	}
	switch environment {
	case "", "development", "local", "test":
		return SourceEnvironment
	default:
		return SourceVault
	}
}

func NewProvider(cfg *ProviderConfig, logger *zap.Logger) (*Provider, error) {
	source := ResolveSource(cfg.Source, cfg.Environment)
	p := &Provider{source: source, logger: logger}

	switch source {
	case SourceEnvironment:
	case SourceVault:
		vault, err := NewVaultClient(&VaultConfig{
			VaultName:    cfg.VaultName,
			CacheEnabled: cfg.CacheEnabled,
			CacheTTL:     cfg.CacheTTL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("initialize vault client: %w", err)
		}
		p.vault = vault
	default:
		return nil, fmt.Errorf("unknown secret source %q", source)
	}

	logger.Info("secrets provider initialized",
		zap.String("source", string(source)),
		zap.String("environment", cfg.Environment))
	return p, nil
}

// GetSecret looks name up in the active source. For the environment source
// name is the variable name.
func (p *Provider) GetSecret(ctx context.Context, name string) (string, error) {
	if p.source == SourceVault {
		return p.vault.GetSecret(ctx, name)
	}
	value := os.Getenv(name)
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}
	return value, nil
}

// GetSecretOrEnv lets a set environment variable override the active source
func (p *Provider) GetSecretOrEnv(ctx context.Context, secretName, envName string) (string, error) {
	if value := os.Getenv(envName); value != "" {
		p.logger.Debug("secret overridden by environment", zap.String("env_name", envName))
		return value, nil
	}
	return p.GetSecret(ctx, secretName)
}

func (p *Provider) Source() SecretSource {
	return p.source
}
