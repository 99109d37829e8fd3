package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	federation "github.com/goliatone/go-auth-federation"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// Manager implements federation.RepositoryManager on top of Bun.
type Manager struct {
	db        *bun.DB
	accounts  repository.Repository[*AccountModel]
	isolation sql.IsolationLevel
}

var _ federation.RepositoryManager = (*Manager)(nil)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithIsolation sets the isolation level used by RunInTx.
func WithIsolation(level sql.IsolationLevel) ManagerOption {
	return func(m *Manager) {
		m.isolation = level
	}
}

// NewRepositoryManager creates a manager. Postgres transactions default to
// serializable isolation.
func NewRepositoryManager(db *bun.DB, opts ...ManagerOption) *Manager {
	m := &Manager{
		db:        db,
		isolation: sql.LevelDefault,
	}
	if db != nil {
		m.accounts = NewAccountsRepository(db)
		if db.Dialect().Name() == dialect.PG {
			m.isolation = sql.LevelSerializable
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository database should be initialized")
	}

	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

// RunInTx binds every store to a single Bun transaction.
func (m *Manager) RunInTx(ctx context.Context, fn func(ctx context.Context, repos federation.Repositories) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, &sql.TxOptions{Isolation: m.isolation}, func(ctx context.Context, tx bun.Tx) error {
			return fn(ctx, m.bind(tx))
		})
	}
}

func (m *Manager) Accounts() federation.AccountDirectory {
	return m.bind(m.db).Accounts()
}

func (m *Manager) Links() federation.IdentityLinkStore {
	return m.bind(m.db).Links()
}

func (m *Manager) DuplicateCases() federation.DuplicateCaseStore {
	return m.bind(m.db).DuplicateCases()
}

func (m *Manager) bind(db bun.IDB) *stores {
	return &stores{
		accounts: &accounts{repo: m.accounts, db: db},
		links:    &identityLinks{db: db},
		cases:    &duplicateCases{db: db},
	}
}

type stores struct {
	accounts *accounts
	links    *identityLinks
	cases    *duplicateCases
}

func (s *stores) Accounts() federation.AccountDirectory         { return s.accounts }
func (s *stores) Links() federation.IdentityLinkStore           { return s.links }
func (s *stores) DuplicateCases() federation.DuplicateCaseStore { return s.cases }
