package repository

import (
	"context"
	"time"

	federation "github.com/goliatone/go-auth-federation"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type identityLinks struct {
	db bun.IDB
}

var _ federation.IdentityLinkStore = (*identityLinks)(nil)

func (l *identityLinks) FindByProviderUID(ctx context.Context, provider federation.Provider, providerUID string) (*federation.IdentityLink, error) {
	record := &IdentityLinkModel{}
	err := l.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ? AND ?TableAlias.provider_uid = ?", provider.String(), providerUID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return record.toLink(), nil
}

// GetOrCreate inserts the link unless the pair is already bound. A
// concurrent insert for the same pair keeps the first row.
func (l *identityLinks) GetOrCreate(ctx context.Context, provider federation.Provider, providerUID, accountID string) (*federation.IdentityLink, bool, error) {
	accID, err := uuid.Parse(accountID)
	if err != nil {
		return nil, false, err
	}

	record := &IdentityLinkModel{
		ID:          uuid.New(),
		Provider:    provider.String(),
		ProviderUID: providerUID,
		AccountID:   accID,
		CreatedAt:   time.Now().UTC(),
	}

	res, err := l.db.NewInsert().
		Model(record).
		On("CONFLICT (provider, provider_uid) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, false, err
	}

	created := false
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		created = true
	}

	link, err := l.FindByProviderUID(ctx, provider, providerUID)
	if err != nil {
		return nil, false, err
	}
	if link == nil {
		return nil, false, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"provider":     provider.String(),
				"provider_uid": providerUID,
			})
	}
	return link, created, nil
}
