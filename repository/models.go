package repository

import (
	"time"

	federation "github.com/goliatone/go-auth-federation"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountModel is the Bun model for local accounts.
type AccountModel struct {
	bun.BaseModel `bun:"table:accounts,alias:acc"`

	ID          uuid.UUID  `bun:"id,pk,nullzero,type:uuid"`
	Username    string     `bun:"username"`
	Email       string     `bun:"email"`
	NationalID  string     `bun:"national_id"`
	DisplayName string     `bun:"display_name"`
	Active      bool       `bun:"active,notnull"`
	CreatedAt   time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   *time.Time `bun:"updated_at"`
}

// IdentityLinkModel is the Bun model for provider links.
type IdentityLinkModel struct {
	bun.BaseModel `bun:"table:identity_links,alias:lnk"`

	ID          uuid.UUID `bun:"id,pk,nullzero,type:uuid"`
	Provider    string    `bun:"provider,notnull"`
	ProviderUID string    `bun:"provider_uid,notnull"`
	AccountID   uuid.UUID `bun:"account_id,notnull,type:uuid"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// DuplicateCaseModel is the Bun model for duplicate national ID cases.
// OpenKey is set while the case is open so at most one open case exists
// per provider identity.
type DuplicateCaseModel struct {
	bun.BaseModel `bun:"table:duplicate_cases,alias:dc"`

	ID           uuid.UUID  `bun:"id,pk,nullzero,type:uuid"`
	Provider     string     `bun:"provider,notnull"`
	ProviderUID  string     `bun:"provider_uid,notnull"`
	NationalID   string     `bun:"national_id,notnull"`
	CandidateIDs []string   `bun:"candidate_ids,notnull"`
	Occurrences  int        `bun:"occurrences,notnull"`
	OpenKey      *string    `bun:"open_key"`
	Resolved     bool       `bun:"resolved,notnull"`
	ResolvedAt   *time.Time `bun:"resolved_at"`
	ResolvedNote string     `bun:"resolved_note"`
	CreatedAt    time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func openKey(provider federation.Provider, providerUID string) *string {
	key := provider.String() + "|" + providerUID
	return &key
}

func (m *AccountModel) toAccount() federation.Account {
	return federation.Account{
		ID:          m.ID.String(),
		Username:    m.Username,
		Email:       m.Email,
		NationalID:  m.NationalID,
		DisplayName: m.DisplayName,
		Active:      m.Active,
		CreatedAt:   m.CreatedAt,
	}
}

func fromAccount(a federation.Account) (*AccountModel, error) {
	id := uuid.Nil
	if a.ID != "" {
		parsed, err := uuid.Parse(a.ID)
		if err != nil {
			return nil, err
		}
		id = parsed
	}
	if id == uuid.Nil {
		id = uuid.New()
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return &AccountModel{
		ID:          id,
		Username:    a.Username,
		Email:       a.Email,
		NationalID:  a.NationalID,
		DisplayName: a.DisplayName,
		Active:      a.Active,
		CreatedAt:   created,
	}, nil
}

func (m *IdentityLinkModel) toLink() *federation.IdentityLink {
	return &federation.IdentityLink{
		ID:          m.ID.String(),
		Provider:    federation.Provider(m.Provider),
		ProviderUID: m.ProviderUID,
		AccountID:   m.AccountID.String(),
		CreatedAt:   m.CreatedAt,
	}
}

func (m *DuplicateCaseModel) toCase() federation.DuplicateCase {
	return federation.DuplicateCase{
		ID:           m.ID.String(),
		Provider:     federation.Provider(m.Provider),
		ProviderUID:  m.ProviderUID,
		NationalID:   m.NationalID,
		CandidateIDs: append([]string(nil), m.CandidateIDs...),
		Occurrences:  m.Occurrences,
		Resolved:     m.Resolved,
		ResolvedAt:   m.ResolvedAt,
		ResolvedNote: m.ResolvedNote,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
