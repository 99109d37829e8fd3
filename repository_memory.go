package federation

import (
	"context"
	"sort"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// MemoryRepositoryManager keeps accounts, links and duplicate cases in
// memory. Transactions are serialized and roll back on error. Useful for
// tests and single process deployments.
type MemoryRepositoryManager struct {
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

type linkKey struct {
	provider Provider
	uid      string
}

type memoryState struct {
	accounts map[string]Account
	links    map[linkKey]IdentityLink
	cases    map[string]DuplicateCase
}

func newMemoryState() *memoryState {
	return &memoryState{
		accounts: map[string]Account{},
		links:    map[linkKey]IdentityLink{},
		cases:    map[string]DuplicateCase{},
	}
}

func (s *memoryState) clone() *memoryState {
	out := newMemoryState()
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.links {
		out.links[k] = v
	}
	for k, v := range s.cases {
		v.CandidateIDs = append([]string(nil), v.CandidateIDs...)
		out.cases[k] = v
	}
	return out
}

// NewMemoryRepositoryManager creates an empty in-memory store.
func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		state: newMemoryState(),
		now:   time.Now,
	}
}

// RunInTx implements RepositoryManager. fn must only use the stores it
// receives; calling back into the manager from fn deadlocks.
func (m *MemoryRepositoryManager) RunInTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(ctx, memoryRepos{state: m.state, now: m.now}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// Accounts implements Repositories. Each call runs in its own transaction.
func (m *MemoryRepositoryManager) Accounts() AccountDirectory {
	return txAccounts{m: m}
}

// Links implements Repositories.
func (m *MemoryRepositoryManager) Links() IdentityLinkStore {
	return txLinks{m: m}
}

// DuplicateCases implements Repositories.
func (m *MemoryRepositoryManager) DuplicateCases() DuplicateCaseStore {
	return txCases{m: m}
}

type memoryRepos struct {
	state *memoryState
	now   func() time.Time
}

func (r memoryRepos) Accounts() AccountDirectory         { return memoryAccounts(r) }
func (r memoryRepos) Links() IdentityLinkStore           { return memoryLinks(r) }
func (r memoryRepos) DuplicateCases() DuplicateCaseStore { return memoryCases(r) }

type memoryAccounts memoryRepos

func (a memoryAccounts) FindByNationalID(_ context.Context, nationalID string) ([]Account, []Account, error) {
	needle := NormalizeNationalID(nationalID)
	if needle == "" {
		return nil, nil, nil
	}

	var active, inactive []Account
	for _, acc := range a.sorted() {
		if NormalizeNationalID(acc.NationalID) != needle {
			continue
		}
		if acc.Active {
			active = append(active, acc)
		} else {
			inactive = append(inactive, acc)
		}
	}
	return active, inactive, nil
}

func (a memoryAccounts) FindByEmail(_ context.Context, email string) (*Account, error) {
	needle := NormalizeEmail(email)
	if needle == "" {
		return nil, nil
	}
	for _, acc := range a.sorted() {
		if NormalizeEmail(acc.Email) == needle {
			found := acc
			return &found, nil
		}
	}
	return nil, nil
}

func (a memoryAccounts) FindByID(_ context.Context, id string) (*Account, error) {
	acc, ok := a.state.accounts[id]
	if !ok {
		return nil, nil
	}
	return &acc, nil
}

func (a memoryAccounts) Create(_ context.Context, account Account) (*Account, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	if _, exists := a.state.accounts[account.ID]; exists {
		return nil, goerrors.New("account already exists", goerrors.CategoryConflict).
			WithCode(goerrors.CodeConflict).
			WithMetadata(map[string]any{"account_id": account.ID})
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = a.now()
	}
	account.NationalID = NormalizeNationalID(account.NationalID)
	a.state.accounts[account.ID] = account
	return &account, nil
}

// sorted returns accounts oldest first so lookups are deterministic.
func (a memoryAccounts) sorted() []Account {
	out := make([]Account, 0, len(a.state.accounts))
	for _, acc := range a.state.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

type memoryLinks memoryRepos

func (l memoryLinks) FindByProviderUID(_ context.Context, provider Provider, providerUID string) (*IdentityLink, error) {
	link, ok := l.state.links[linkKey{provider, providerUID}]
	if !ok {
		return nil, nil
	}
	return &link, nil
}

func (l memoryLinks) GetOrCreate(_ context.Context, provider Provider, providerUID, accountID string) (*IdentityLink, bool, error) {
	key := linkKey{provider, providerUID}
	if link, ok := l.state.links[key]; ok {
		return &link, false, nil
	}
	link := IdentityLink{
		ID:          uuid.NewString(),
		Provider:    provider,
		ProviderUID: providerUID,
		AccountID:   accountID,
		CreatedAt:   l.now(),
	}
	l.state.links[key] = link
	return &link, true, nil
}

type memoryCases memoryRepos

func (c memoryCases) RecordOrUpdate(_ context.Context, provider Provider, providerUID, nationalID string, candidateIDs []string) (*DuplicateCase, error) {
	now := c.now()
	for id, dc := range c.state.cases {
		if dc.Provider != provider || dc.ProviderUID != providerUID || dc.Resolved {
			continue
		}
		dc.NationalID = NormalizeNationalID(nationalID)
		dc.CandidateIDs = append([]string(nil), candidateIDs...)
		dc.Occurrences++
		dc.UpdatedAt = now
		c.state.cases[id] = dc
		return &dc, nil
	}

	dc := DuplicateCase{
		ID:           uuid.NewString(),
		Provider:     provider,
		ProviderUID:  providerUID,
		NationalID:   NormalizeNationalID(nationalID),
		CandidateIDs: append([]string(nil), candidateIDs...),
		Occurrences:  1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	c.state.cases[dc.ID] = dc
	return &dc, nil
}

func (c memoryCases) ListOpen(_ context.Context) ([]DuplicateCase, error) {
	var out []DuplicateCase
	for _, dc := range c.state.cases {
		if !dc.Resolved {
			out = append(out, dc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (c memoryCases) Resolve(_ context.Context, id, note string) error {
	dc, ok := c.state.cases[id]
	if !ok || dc.Resolved {
		return withMetadata(ErrDuplicateCaseNotFound, map[string]any{"case_id": id})
	}
	now := c.now()
	dc.Resolved = true
	dc.ResolvedAt = &now
	dc.ResolvedNote = note
	dc.UpdatedAt = now
	c.state.cases[id] = dc
	return nil
}

type txAccounts struct{ m *MemoryRepositoryManager }

func (t txAccounts) FindByNationalID(ctx context.Context, nationalID string) (active, inactive []Account, err error) {
	err = t.m.RunInTx(ctx, func(ctx context.Context, repos Repositories) error {
		var ferr error
		active, inactive, ferr = repos.Accounts().FindByNationalID(ctx, nationalID)
		return ferr
	})
	return active, inactive, err
}

func (t txAccounts) FindByEmail(ctx context.Context, email string) (acc *Account, err error) {
	err = t.m.RunInTx(ctx, func(ctx context.Context, repos Repositories) error {
		var ferr error
		acc, ferr = repos.Accounts().FindByEmail(ctx, email)
		return ferr
	})
	return acc, err
}

func (t txAccounts) FindByID(ctx context.Context, id string) (acc *Account, err error) {
	err = t.m.RunInTx(ctx, func(ctx context.Context, repos Repositories) error {
		var ferr error
		acc, ferr = repos.Accounts().FindByID(ctx, id)
		return ferr
	})
	return acc, err
}

func (t txAccounts) Create(ctx context.Context, account Account) (acc *Account, err error) {
	err = t.m.RunInTx(ctx, func(ctx context.Context, repos Repositories) error {
		var ferr error
		acc, ferr = repos.Accounts().Create(ctx, account)
		return ferr
	})
	return acc, err
}

type txLinks struct{ m *MemoryRepositoryManager }

func (t txLinks) FindByProviderUID(ctx context.Context, provider Provider, providerUID string) (link *IdentityLink, err error) {
	err = t.m.RunInTx(ctx, func(ctx context.Context, repos Repositories) error {
		var ferr error
		link, ferr = repos.Links().FindByProviderUID(ctx, provider, providerUID)
		return ferr
	})
	return link, err
}

func (t txLinks) GetOrCreate(ctx context.Context, provider Provider, providerUID, accountID string) (link *IdentityLink, created bool, err error) {
	err = t.m.RunInTx(ctx, func(ctx context.Context, repos Repositories) error {
		var ferr error
		link, created, ferr = repos.Links().GetOrCreate(ctx, provider, providerUID, accountID)
		return ferr
	})
	return link, created, err
}

type txCases struct{ m *MemoryRepositoryManager }

func (t txCases) RecordOrUpdate(ctx context.Context, provider Provider, providerUID, nationalID string, candidateIDs []string) (dc *DuplicateCase, err error) {
	err = t.m.RunInTx(ctx, func(ctx context.Context, repos Repositories) error {
		var ferr error
		dc, ferr = repos.DuplicateCases().RecordOrUpdate(ctx, provider, providerUID, nationalID, candidateIDs)
		return ferr
	})
	return dc, err
}

func (t txCases) ListOpen(ctx context.Context) (out []DuplicateCase, err error) {
	err = t.m.RunInTx(ctx, func(ctx context.Context, repos Repositories) error {
		var ferr error
		out, ferr = repos.DuplicateCases().ListOpen(ctx)
		return ferr
	})
	return out, err
}

func (t txCases) Resolve(ctx context.Context, id, note string) error {
	return t.m.RunInTx(ctx, func(ctx context.Context, repos Repositories) error {
		return repos.DuplicateCases().Resolve(ctx, id, note)
	})
}
