package federation

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
)

// Provisioner creates local accounts for federated identities that had no
// match.
type Provisioner struct {
	repos    RepositoryManager
	resolver ResolverConfig
	logger   Logger
	activity ActivitySink
	now      func() time.Time
}

// NewProvisioner creates a provisioner. cfg supplies the generic national
// ID list so shared IDs are never stored on new accounts.
func NewProvisioner(repos RepositoryManager, cfg ResolverConfig, logger Logger, sink ActivitySink) *Provisioner {
	return &Provisioner{
		repos:    repos,
		resolver: cfg.withDefaults(),
		logger:   normalizeLogger(logger),
		activity: normalizeActivitySink(sink),
		now:      time.Now,
	}
}

// ProvisionAccount creates an active account from claims and links it in
// one transaction. It refuses identities that are already linked or whose
// national ID belongs to an active account. The account ID is derived from
// provider:uid, so a replay targets the same row.
func (p *Provisioner) ProvisionAccount(ctx context.Context, provider Provider, claims FederatedClaims) (*Account, error) {
	if claims.ProviderUID == "" {
		return nil, withMetadata(ErrInvalidUserInfo, map[string]any{"reason": "missing provider uid"})
	}

	accountID, err := ProvisionedAccountID(provider, claims.ProviderUID)
	if err != nil {
		return nil, err
	}

	nationalID := NormalizeNationalID(claims.NationalID)
	if p.resolver.IsGenericNationalID(nationalID) {
		nationalID = ""
	}
	username := nationalID
	if username == "" {
		username = claims.LoginIdentifier
	}

	var created *Account
	err = p.repos.RunInTx(ctx, func(ctx context.Context, repos Repositories) error {
		link, err := repos.Links().FindByProviderUID(ctx, provider, claims.ProviderUID)
		if err != nil {
			return err
		}
		if link != nil {
			return withMetadata(ErrAccountAlreadyFederated, map[string]any{
				"provider":   provider.String(),
				"account_id": link.AccountID,
			})
		}

		if nationalID != "" {
			active, _, err := repos.Accounts().FindByNationalID(ctx, nationalID)
			if err != nil {
				return err
			}
			if len(active) > 0 {
				return withMetadata(ErrDuplicateIdentityBlocked, map[string]any{
					"provider":   provider.String(),
					"candidates": len(active),
				})
			}
		}

		existing, err := repos.Accounts().FindByID(ctx, accountID)
		if err != nil {
			return err
		}
		if existing != nil {
			return withMetadata(ErrAccountAlreadyFederated, map[string]any{
				"provider":   provider.String(),
				"account_id": existing.ID,
			})
		}

		created, err = repos.Accounts().Create(ctx, Account{
			ID:          accountID,
			Username:    username,
			Email:       NormalizeEmail(claims.Email),
			NationalID:  nationalID,
			DisplayName: claims.DisplayName(),
			Active:      true,
			CreatedAt:   p.now(),
		})
		if err != nil {
			return err
		}

		_, _, err = repos.Links().GetOrCreate(ctx, provider, claims.ProviderUID, created.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("federated account provisioned", "provider", provider, "account_id", created.ID)
	if err := p.activity.Record(ctx, ActivityEvent{
		EventType:   ActivityEventProvisioned,
		Provider:    provider,
		ProviderUID: claims.ProviderUID,
		AccountID:   created.ID,
		OccurredAt:  p.now(),
	}); err != nil {
		p.logger.Error("failed to record activity", "event", ActivityEventProvisioned, "error", err)
	}
	return created, nil
}

// ProvisionedAccountID returns the deterministic account ID for a provider
// identity.
func ProvisionedAccountID(provider Provider, providerUID string) (string, error) {
	id, err := hashid.NewUUID(provider.String() + ":" + providerUID)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "could not derive account id")
	}
	return id.String(), nil
}
