package federation_test

import (
	"context"
	"errors"
	"testing"
	"time"

	federation "github.com/goliatone/go-auth-federation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCURP = "GODE561231HDFRRN09"

type resolverFixture struct {
	repos *federation.MemoryRepositoryManager
	base  time.Time
}

func newResolverFixture() *resolverFixture {
	return &resolverFixture{
		repos: federation.NewMemoryRepositoryManager(),
		base:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *resolverFixture) account(t *testing.T, nationalID, email string, active bool, age time.Duration) federation.Account {
	t.Helper()
	acc, err := f.repos.Accounts().Create(context.Background(), federation.Account{
		NationalID: nationalID,
		Email:      email,
		Active:     active,
		CreatedAt:  f.base.Add(-age),
	})
	require.NoError(t, err)
	return *acc
}

func (f *resolverFixture) resolver(cfg federation.ResolverConfig) *federation.IdentityResolver {
	return federation.NewIdentityResolver(f.repos, cfg, federation.WithResolverLogger(federation.NopLogger()))
}

func (f *resolverFixture) link(t *testing.T, uid string) *federation.IdentityLink {
	t.Helper()
	link, err := f.repos.Links().FindByProviderUID(context.Background(), federation.ProviderLlaveMX, uid)
	require.NoError(t, err)
	return link
}

func claimsFor(uid, nationalID, email string) federation.FederatedClaims {
	return federation.FederatedClaims{
		Provider:    federation.ProviderLlaveMX,
		ProviderUID: uid,
		NationalID:  nationalID,
		Email:       email,
	}
}

func TestResolveBindsByNationalIDAndIsIdempotent(t *testing.T) {
	f := newResolverFixture()
	acc := f.account(t, testCURP, "person@example.com", true, time.Hour)
	r := f.resolver(federation.ResolverConfig{})
	ctx := context.Background()

	first, err := r.Resolve(ctx, federation.ProviderLlaveMX, claimsFor("uid-1", "gode561231hdfrrn09", ""))
	require.NoError(t, err)
	require.True(t, first.IsBound())
	assert.Equal(t, acc.ID, first.Account.ID)
	assert.Equal(t, federation.StepNationalID, first.Step)
	assert.Equal(t, federation.WarningNone, first.Warning)

	second, err := r.Resolve(ctx, federation.ProviderLlaveMX, claimsFor("uid-1", testCURP, ""))
	require.NoError(t, err)
	require.True(t, second.IsBound())
	assert.Equal(t, acc.ID, second.Account.ID)
	assert.Equal(t, federation.StepExistingLink, second.Step)

	link := f.link(t, "uid-1")
	require.NotNil(t, link)
	assert.Equal(t, acc.ID, link.AccountID)
}

func TestResolveExistingLinkWinsOverNewClaims(t *testing.T) {
	f := newResolverFixture()
	linked := f.account(t, "", "linked@example.com", true, time.Hour)
	f.account(t, testCURP, "other@example.com", true, time.Hour)
	_, _, err := f.repos.Links().GetOrCreate(context.Background(), federation.ProviderLlaveMX, "uid-1", linked.ID)
	require.NoError(t, err)

	d, err := f.resolver(federation.ResolverConfig{}).Resolve(context.Background(), federation.ProviderLlaveMX, claimsFor("uid-1", testCURP, "other@example.com"))
	require.NoError(t, err)
	require.True(t, d.IsBound())
	assert.Equal(t, linked.ID, d.Account.ID)
}

func TestResolveDuplicateNationalIDBlocks(t *testing.T) {
	f := newResolverFixture()
	a := f.account(t, testCURP, "a@example.com", true, 2*time.Hour)
	b := f.account(t, testCURP, "b@example.com", true, time.Hour)
	r := f.resolver(federation.ResolverConfig{})
	ctx := context.Background()

	d, err := r.Resolve(ctx, federation.ProviderLlaveMX, claimsFor("uid-dup", testCURP, "a@example.com"))
	require.NoError(t, err)
	require.True(t, d.IsBlocked())
	assert.Equal(t, federation.BlockReasonDuplicateNationalID, d.Reason)
	assert.Nil(t, d.Account)
	assert.NotEmpty(t, d.CaseID)

	assert.Nil(t, f.link(t, "uid-dup"))

	open, err := f.repos.DuplicateCases().ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, d.CaseID, open[0].ID)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, open[0].CandidateIDs)
	assert.Equal(t, 1, open[0].Occurrences)

	again, err := r.Resolve(ctx, federation.ProviderLlaveMX, claimsFor("uid-dup", testCURP, ""))
	require.NoError(t, err)
	assert.True(t, again.IsBlocked())
	assert.Equal(t, d.CaseID, again.CaseID)

	open, err = f.repos.DuplicateCases().ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, 2, open[0].Occurrences)
	assert.Nil(t, f.link(t, "uid-dup"))
}

func TestResolveDuplicatePolicies(t *testing.T) {
	t.Run("no match", func(t *testing.T) {
		f := newResolverFixture()
		f.account(t, testCURP, "a@example.com", true, 2*time.Hour)
		f.account(t, testCURP, "b@example.com", true, time.Hour)

		d, err := f.resolver(federation.ResolverConfig{DuplicatePolicy: federation.PolicyNoMatchOnDuplicate}).
			Resolve(context.Background(), federation.ProviderLlaveMX, claimsFor("uid-1", testCURP, "a@example.com"))
		require.NoError(t, err)
		assert.True(t, d.IsNoMatch())
		assert.NotEmpty(t, d.CaseID)
		assert.Nil(t, f.link(t, "uid-1"))
	})

	t.Run("bind most recent", func(t *testing.T) {
		f := newResolverFixture()
		f.account(t, testCURP, "old@example.com", true, 2*time.Hour)
		recent := f.account(t, testCURP, "new@example.com", true, time.Hour)

		d, err := f.resolver(federation.ResolverConfig{DuplicatePolicy: federation.PolicyBindMostRecentWithWarning}).
			Resolve(context.Background(), federation.ProviderLlaveMX, claimsFor("uid-1", testCURP, ""))
		require.NoError(t, err)
		require.True(t, d.IsBound())
		assert.Equal(t, recent.ID, d.Account.ID)
		assert.Equal(t, federation.WarningDuplicateNationalID, d.Warning)
		assert.NotEmpty(t, d.CaseID)

		link := f.link(t, "uid-1")
		require.NotNil(t, link)
		assert.Equal(t, recent.ID, link.AccountID)
	})
}

func TestResolveGenericNationalIDNeverBinds(t *testing.T) {
	f := newResolverFixture()
	f.account(t, federation.GenericNationalID, "foreigner@example.com", true, time.Hour)

	d, err := f.resolver(federation.ResolverConfig{}).Resolve(context.Background(), federation.ProviderLlaveMX,
		claimsFor("uid-x", federation.GenericNationalID, "foreigner@example.com"))
	require.NoError(t, err)
	assert.True(t, d.IsNoMatch())
	assert.Equal(t, federation.StepGenericNationalID, d.Step)
	assert.Nil(t, f.link(t, "uid-x"))
}

func TestResolveCustomGenericNationalIDs(t *testing.T) {
	f := newResolverFixture()
	f.account(t, "XEXX010101MNEXXXA8", "", true, time.Hour)

	cfg := federation.ResolverConfig{GenericNationalIDs: []string{federation.GenericNationalID, "XEXX010101MNEXXXA8"}}
	d, err := f.resolver(cfg).Resolve(context.Background(), federation.ProviderLlaveMX, claimsFor("uid-x", "xexx010101mnexxxa8", ""))
	require.NoError(t, err)
	assert.True(t, d.IsNoMatch())
}

func TestResolveInactiveOnlyMatch(t *testing.T) {
	f := newResolverFixture()
	inactive := f.account(t, testCURP, "", false, time.Hour)

	d, err := f.resolver(federation.ResolverConfig{}).Resolve(context.Background(), federation.ProviderLlaveMX, claimsFor("uid-1", testCURP, ""))
	require.NoError(t, err)
	require.True(t, d.IsBound())
	assert.Equal(t, inactive.ID, d.Account.ID)
	assert.Equal(t, federation.WarningInactiveAccountBind, d.Warning)
	assert.False(t, d.Account.Active)
}

func TestResolveSeveralInactiveFallsThroughToEmail(t *testing.T) {
	f := newResolverFixture()
	f.account(t, testCURP, "", false, 2*time.Hour)
	f.account(t, testCURP, "", false, time.Hour)
	byEmail := f.account(t, "", "Person@Example.com", true, time.Hour)

	d, err := f.resolver(federation.ResolverConfig{}).Resolve(context.Background(), federation.ProviderLlaveMX, claimsFor("uid-1", testCURP, "person@example.com"))
	require.NoError(t, err)
	require.True(t, d.IsBound())
	assert.Equal(t, byEmail.ID, d.Account.ID)
	assert.Equal(t, federation.StepEmail, d.Step)
}

func TestResolveEmailStep(t *testing.T) {
	t.Run("inactive account binds with warning", func(t *testing.T) {
		f := newResolverFixture()
		acc := f.account(t, "", "person@example.com", false, time.Hour)

		d, err := f.resolver(federation.ResolverConfig{}).Resolve(context.Background(), federation.ProviderLlaveMX, claimsFor("uid-1", "", "person@example.com"))
		require.NoError(t, err)
		require.True(t, d.IsBound())
		assert.Equal(t, acc.ID, d.Account.ID)
		assert.Equal(t, federation.WarningInactiveAccountBind, d.Warning)
	})

	t.Run("synthesized email is ignored", func(t *testing.T) {
		f := newResolverFixture()
		f.account(t, "", "5512345678@placeholder.invalid", true, time.Hour)

		claims := claimsFor("uid-1", "", "5512345678@placeholder.invalid")
		claims.EmailSynthesized = true

		d, err := f.resolver(federation.ResolverConfig{}).Resolve(context.Background(), federation.ProviderLlaveMX, claims)
		require.NoError(t, err)
		assert.True(t, d.IsNoMatch())
		assert.Nil(t, f.link(t, "uid-1"))
	})
}

func TestResolveNoMatch(t *testing.T) {
	f := newResolverFixture()
	f.account(t, "OTHER000000HDFRRN0", "other@example.com", true, time.Hour)

	d, err := f.resolver(federation.ResolverConfig{}).Resolve(context.Background(), federation.ProviderLlaveMX, claimsFor("uid-1", testCURP, "new@example.com"))
	require.NoError(t, err)
	assert.True(t, d.IsNoMatch())
	assert.Empty(t, d.Step)
	assert.Nil(t, f.link(t, "uid-1"))
}

func TestResolveRequiresProviderUID(t *testing.T) {
	f := newResolverFixture()
	_, err := f.resolver(federation.ResolverConfig{}).Resolve(context.Background(), federation.ProviderLlaveMX, claimsFor("", testCURP, ""))
	assert.True(t, federation.IsError(err, federation.ErrInvalidUserInfo))
}

func TestResolveHonorsLinkCreatedConcurrently(t *testing.T) {
	f := newResolverFixture()
	winner := f.account(t, "", "winner@example.com", true, time.Hour)
	f.account(t, testCURP, "", true, time.Hour)
	_, _, err := f.repos.Links().GetOrCreate(context.Background(), federation.ProviderLlaveMX, "uid-1", winner.ID)
	require.NoError(t, err)

	cfg := federation.ResolverConfig{Steps: []federation.ResolutionStep{federation.NationalIDStep{}}}
	d, err := f.resolver(cfg).Resolve(context.Background(), federation.ProviderLlaveMX, claimsFor("uid-1", testCURP, ""))
	require.NoError(t, err)
	require.True(t, d.IsBound())
	assert.Equal(t, winner.ID, d.Account.ID)
}

type failingStep struct{}

func (failingStep) Name() string { return "failing" }

func (failingStep) Resolve(ctx context.Context, rc federation.ResolutionContext) (federation.ResolutionDecision, bool, error) {
	if _, err := rc.Repos.Accounts().Create(ctx, federation.Account{Email: "ghost@example.com", Active: true}); err != nil {
		return federation.ResolutionDecision{}, false, err
	}
	return federation.ResolutionDecision{}, false, errors.New("directory unavailable")
}

func TestResolveStepErrorRollsBack(t *testing.T) {
	f := newResolverFixture()
	cfg := federation.ResolverConfig{Steps: []federation.ResolutionStep{failingStep{}}}

	_, err := f.resolver(cfg).Resolve(context.Background(), federation.ProviderLlaveMX, claimsFor("uid-1", "", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolution step failing")

	acc, err := f.repos.Accounts().FindByEmail(context.Background(), "ghost@example.com")
	require.NoError(t, err)
	assert.Nil(t, acc)
}

func TestResolveCanceledContext(t *testing.T) {
	f := newResolverFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.resolver(federation.ResolverConfig{}).Resolve(ctx, federation.ProviderLlaveMX, claimsFor("uid-1", testCURP, ""))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryDuplicateCaseResolve(t *testing.T) {
	repos := federation.NewMemoryRepositoryManager()
	ctx := context.Background()

	dc, err := repos.DuplicateCases().RecordOrUpdate(ctx, federation.ProviderLlaveMX, "uid-1", testCURP, []string{"a", "b"})
	require.NoError(t, err)

	require.NoError(t, repos.DuplicateCases().Resolve(ctx, dc.ID, "merged accounts"))
	err = repos.DuplicateCases().Resolve(ctx, dc.ID, "again")
	assert.True(t, federation.IsError(err, federation.ErrDuplicateCaseNotFound))

	open, err := repos.DuplicateCases().ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	reopened, err := repos.DuplicateCases().RecordOrUpdate(ctx, federation.ProviderLlaveMX, "uid-1", testCURP, []string{"a", "b"})
	require.NoError(t, err)
	assert.NotEqual(t, dc.ID, reopened.ID)
	assert.Equal(t, 1, reopened.Occurrences)
}
