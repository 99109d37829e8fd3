package repository

import (
	"context"
	"strings"

	federation "github.com/goliatone/go-auth-federation"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// NewAccountsRepository returns the generic repository used for account
// writes.
func NewAccountsRepository(db *bun.DB) repository.Repository[*AccountModel] {
	return repository.NewRepository[*AccountModel](db, repository.ModelHandlers[*AccountModel]{
		NewRecord: func() *AccountModel { return &AccountModel{} },
		GetID: func(m *AccountModel) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.ID
		},
		SetID: func(m *AccountModel, id uuid.UUID) {
			if m != nil {
				m.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})
}

type accounts struct {
	repo repository.Repository[*AccountModel]
	db   bun.IDB
}

var _ federation.AccountDirectory = (*accounts)(nil)

func (a *accounts) FindByNationalID(ctx context.Context, nationalID string) (active, inactive []federation.Account, err error) {
	nationalID = federation.NormalizeNationalID(nationalID)
	if nationalID == "" {
		return nil, nil, nil
	}

	var records []AccountModel
	err = a.db.NewSelect().
		Model(&records).
		Where("UPPER(?TableAlias.national_id) = ?", nationalID).
		OrderExpr("?TableAlias.created_at ASC").
		Scan(ctx)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, nil, err
	}

	for i := range records {
		acc := records[i].toAccount()
		if acc.Active {
			active = append(active, acc)
		} else {
			inactive = append(inactive, acc)
		}
	}
	return active, inactive, nil
}

func (a *accounts) FindByEmail(ctx context.Context, email string) (*federation.Account, error) {
	email = federation.NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	return a.findOne(ctx, "LOWER(?TableAlias.email) = ?", email)
}

func (a *accounts) FindByID(ctx context.Context, id string) (*federation.Account, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, nil
	}
	return a.findOne(ctx, "?TableAlias.id = ?", parsed)
}

func (a *accounts) Create(ctx context.Context, account federation.Account) (*federation.Account, error) {
	record, err := fromAccount(account)
	if err != nil {
		return nil, err
	}
	record, err = a.repo.CreateTx(ctx, a.db, record)
	if err != nil {
		return nil, err
	}
	out := record.toAccount()
	return &out, nil
}

func (a *accounts) findOne(ctx context.Context, where string, args ...any) (*federation.Account, error) {
	record := &AccountModel{}
	err := a.db.NewSelect().
		Model(record).
		Where(where, args...).
		OrderExpr("?TableAlias.created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out := record.toAccount()
	return &out, nil
}
