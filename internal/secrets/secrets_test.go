package secrets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	values map[string]string
	calls  int
}

func (f *fakeFetcher) GetSecret(_ context.Context, name string, _ string, _ *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	f.calls++
	value, ok := f.values[name]
	if !ok {
		return azsecrets.GetSecretResponse{}, errors.New("404 secret not found")
	}
	return azsecrets.GetSecretResponse{Secret: azsecrets.Secret{Value: &value}}, nil
}

func TestResolveSource(t *testing.T) {
	assert.Equal(t, SourceEnvironment, ResolveSource(SourceAuto, ""))
	assert.Equal(t, SourceEnvironment, ResolveSource(SourceAuto, "development"))
	assert.Equal(t, SourceVault, ResolveSource(SourceAuto, "production"))
	assert.Equal(t, SourceEnvironment, ResolveSource(SourceEnvironment, "production"))
}

func TestProvider_Environment(t *testing.T) {
	p, err := NewProvider(&ProviderConfig{Source: SourceEnvironment}, zap.NewNop())
	require.NoError(t, err)

	t.Setenv("SALES_TEST_SECRET", "s3cret")
	value, err := p.GetSecret(context.Background(), "SALES_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", value)

	_, err = p.GetSecret(context.Background(), "SALES_TEST_MISSING")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	t.Setenv("SALES_TEST_OVERRIDE", "from-env")
	value, err = p.GetSecretOrEnv(context.Background(), "SALES_TEST_SECRET", "SALES_TEST_OVERRIDE")
	require.NoError(t, err)
	assert.Equal(t, "from-env", value)
}

func TestProvider_UnknownSource(t *testing.T) {
	_, err := NewProvider(&ProviderConfig{Source: "file"}, zap.NewNop())
	assert.Error(t, err)
}

func TestVaultClient_Cache(t *testing.T) {
	fetcher := &fakeFetcher{values: map[string]string{"session-secret": "abc"}}
	client := newVaultClient(fetcher, &VaultConfig{CacheEnabled: true, CacheTTL: time.Minute}, zap.NewNop())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		value, err := client.GetSecret(context.Background(), "session-secret")
		require.NoError(t, err)
		assert.Equal(t, "abc", value)
	}
	assert.Equal(t, 1, fetcher.calls)

	now = now.Add(2 * time.Minute)
	_, err := client.GetSecret(context.Background(), "session-secret")
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)

	client.ClearCache()
	_, err = client.GetSecret(context.Background(), "session-secret")
	require.NoError(t, err)
	assert.Equal(t, 3, fetcher.calls)
}

func TestVaultClient_Errors(t *testing.T) {
	fetcher := &fakeFetcher{values: map[string]string{"empty": ""}}
	client := newVaultClient(fetcher, &VaultConfig{}, zap.NewNop())

	_, err := client.GetSecret(context.Background(), "missing")
	assert.Error(t, err)

	_, err = client.GetSecret(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestNewVaultClient_RequiresName(t *testing.T) {
	_, err := NewVaultClient(&VaultConfig{}, zap.NewNop())
	assert.Error(t, err)
}
