package federation_test

import (
	"context"
	"testing"

	federation "github.com/goliatone/go-auth-federation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisionAccountCreatesLinkedAccount(t *testing.T) {
	repos := federation.NewMemoryRepositoryManager()
	sink := &recordingSink{}
	p := federation.NewProvisioner(repos, federation.ResolverConfig{}, federation.NopLogger(), sink)
	ctx := context.Background()

	claims := federation.FederatedClaims{
		ProviderUID:     "uid-1",
		NationalID:      "gode561231hdfrrn09",
		Email:           "Ana@Example.com",
		GivenName:       "Ana",
		FamilyNamePart1: "Gómez",
	}

	acc, err := p.ProvisionAccount(ctx, federation.ProviderLlaveMX, claims)
	require.NoError(t, err)
	assert.True(t, acc.Active)
	assert.Equal(t, testCURP, acc.NationalID)
	assert.Equal(t, testCURP, acc.Username)
	assert.Equal(t, "ana@example.com", acc.Email)
	assert.Equal(t, "Ana Gómez", acc.DisplayName)

	link, err := repos.Links().FindByProviderUID(ctx, federation.ProviderLlaveMX, "uid-1")
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, acc.ID, link.AccountID)
	assert.Equal(t, []federation.ActivityEventType{federation.ActivityEventProvisioned}, sink.types())

	// the next login resolves through the link
	r := federation.NewIdentityResolver(repos, federation.ResolverConfig{}, federation.WithResolverLogger(federation.NopLogger()))
	d, err := r.Resolve(ctx, federation.ProviderLlaveMX, claims)
	require.NoError(t, err)
	require.True(t, d.IsBound())
	assert.Equal(t, acc.ID, d.Account.ID)
	assert.Equal(t, federation.StepExistingLink, d.Step)

	_, err = p.ProvisionAccount(ctx, federation.ProviderLlaveMX, claims)
	assert.True(t, federation.IsError(err, federation.ErrAccountAlreadyFederated))
}

func TestProvisionAccountRefusesTakenNationalID(t *testing.T) {
	repos := federation.NewMemoryRepositoryManager()
	ctx := context.Background()
	_, err := repos.Accounts().Create(ctx, federation.Account{NationalID: testCURP, Active: true})
	require.NoError(t, err)

	p := federation.NewProvisioner(repos, federation.ResolverConfig{}, federation.NopLogger(), nil)
	_, err = p.ProvisionAccount(ctx, federation.ProviderLlaveMX, federation.FederatedClaims{ProviderUID: "uid-1", NationalID: testCURP})
	assert.True(t, federation.IsError(err, federation.ErrDuplicateIdentityBlocked))

	link, err := repos.Links().FindByProviderUID(ctx, federation.ProviderLlaveMX, "uid-1")
	require.NoError(t, err)
	assert.Nil(t, link)
}

func TestProvisionAccountDropsGenericNationalID(t *testing.T) {
	repos := federation.NewMemoryRepositoryManager()
	ctx := context.Background()
	_, err := repos.Accounts().Create(ctx, federation.Account{NationalID: federation.GenericNationalID, Active: true})
	require.NoError(t, err)

	p := federation.NewProvisioner(repos, federation.ResolverConfig{}, federation.NopLogger(), nil)
	acc, err := p.ProvisionAccount(ctx, federation.ProviderLlaveMX, federation.FederatedClaims{
		ProviderUID:     "uid-x",
		NationalID:      federation.GenericNationalID,
		LoginIdentifier: "foreigner@example.com",
	})
	require.NoError(t, err)
	assert.Empty(t, acc.NationalID)
	assert.Equal(t, "foreigner@example.com", acc.Username)
}

func TestProvisionAccountRequiresProviderUID(t *testing.T) {
	p := federation.NewProvisioner(federation.NewMemoryRepositoryManager(), federation.ResolverConfig{}, nil, nil)
	_, err := p.ProvisionAccount(context.Background(), federation.ProviderLlaveMX, federation.FederatedClaims{})
	assert.True(t, federation.IsError(err, federation.ErrInvalidUserInfo))
}

func TestProvisionAccountDerivesDeterministicID(t *testing.T) {
	ctx := context.Background()
	claims := federation.FederatedClaims{ProviderUID: "uid-7", LoginIdentifier: "ana"}

	expected, err := federation.ProvisionedAccountID(federation.ProviderLlaveMX, "uid-7")
	require.NoError(t, err)
	other, err := federation.ProvisionedAccountID(federation.ProviderLlaveMX, "uid-8")
	require.NoError(t, err)
	assert.NotEqual(t, expected, other)

	for i := 0; i < 2; i++ {
		p := federation.NewProvisioner(federation.NewMemoryRepositoryManager(), federation.ResolverConfig{}, federation.NopLogger(), nil)
		acc, err := p.ProvisionAccount(ctx, federation.ProviderLlaveMX, claims)
		require.NoError(t, err)
		assert.Equal(t, expected, acc.ID)
	}
}

func TestProvisionAccountReplayCollidesOnAccountID(t *testing.T) {
	repos := federation.NewMemoryRepositoryManager()
	ctx := context.Background()

	id, err := federation.ProvisionedAccountID(federation.ProviderLlaveMX, "uid-1")
	require.NoError(t, err)
	_, err = repos.Accounts().Create(ctx, federation.Account{ID: id, Username: "ana", Active: true})
	require.NoError(t, err)

	_, err = repos.Accounts().Create(ctx, federation.Account{ID: id, Username: "other"})
	require.Error(t, err)

	p := federation.NewProvisioner(repos, federation.ResolverConfig{}, federation.NopLogger(), nil)
	_, err = p.ProvisionAccount(ctx, federation.ProviderLlaveMX, federation.FederatedClaims{ProviderUID: "uid-1", LoginIdentifier: "ana"})
	assert.True(t, federation.IsError(err, federation.ErrAccountAlreadyFederated))

	link, err := repos.Links().FindByProviderUID(ctx, federation.ProviderLlaveMX, "uid-1")
	require.NoError(t, err)
	assert.Nil(t, link)
}
