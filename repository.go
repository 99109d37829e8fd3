package federation

import (
	"context"
	"time"
)

// Account is the local account reference the resolver binds to.
type Account struct {
	ID          string    `json:"id"`
	Username    string    `json:"username,omitempty"`
	Email       string    `json:"email,omitempty"`
	NationalID  string    `json:"national_id,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// IdentityLink binds a provider identity to a local account. The pair
// (Provider, ProviderUID) is unique.
type IdentityLink struct {
	ID          string    `json:"id"`
	Provider    Provider  `json:"provider"`
	ProviderUID string    `json:"provider_uid"`
	AccountID   string    `json:"account_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// DuplicateCase records a login that matched several active accounts by
// national ID. One open case exists per (Provider, ProviderUID).
type DuplicateCase struct {
	ID           string     `json:"id"`
	Provider     Provider   `json:"provider"`
	ProviderUID  string     `json:"provider_uid"`
	NationalID   string     `json:"national_id"`
	CandidateIDs []string   `json:"candidate_ids"`
	Occurrences  int        `json:"occurrences"`
	Resolved     bool       `json:"resolved"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	ResolvedNote string     `json:"resolved_note,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// AccountDirectory is the local account store. Finders return nil, nil
// when nothing matches.
type AccountDirectory interface {
	// FindByNationalID matches case-insensitively and partitions by the
	// active flag.
	FindByNationalID(ctx context.Context, nationalID string) (active, inactive []Account, err error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	Create(ctx context.Context, account Account) (*Account, error)
}

// IdentityLinkStore persists provider links.
type IdentityLinkStore interface {
	FindByProviderUID(ctx context.Context, provider Provider, providerUID string) (*IdentityLink, error)
	// GetOrCreate returns the existing link for the pair or creates one
	// for accountID. created reports whether a row was written.
	GetOrCreate(ctx context.Context, provider Provider, providerUID, accountID string) (link *IdentityLink, created bool, err error)
}

// DuplicateCaseStore persists duplicate national ID cases.
type DuplicateCaseStore interface {
	// RecordOrUpdate creates the open case for the provider identity or
	// refreshes its candidates and bumps Occurrences.
	RecordOrUpdate(ctx context.Context, provider Provider, providerUID, nationalID string, candidateIDs []string) (*DuplicateCase, error)
	ListOpen(ctx context.Context) ([]DuplicateCase, error)
	Resolve(ctx context.Context, id, note string) error
}

// Repositories groups the stores reachable inside a transaction.
type Repositories interface {
	Accounts() AccountDirectory
	Links() IdentityLinkStore
	DuplicateCases() DuplicateCaseStore
}

// RepositoryManager exposes the stores and runs work atomically.
type RepositoryManager interface {
	Repositories
	// RunInTx runs fn with stores bound to a single transaction. Returning
	// an error rolls back every write done through repos.
	RunInTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
