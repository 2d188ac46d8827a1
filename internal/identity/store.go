// Package identity is the in-memory account directory and the source of truth
// for whether a user exists.
package identity

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Tyrowin/corpchat/internal/chat"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Registration is the input of Create. PasswordHash is opaque to the store.
type Registration struct {
	Username     string `validate:"required,min=3,max=64"`
	Email        string `validate:"required,email"`
	FullName     string `validate:"required,max=128"`
	PasswordHash string `validate:"required"`
}

// Stats summarizes the accounts held by the store.
type Stats struct {
	Total          int
	Administrators int
	Members        int
}

// Store holds accounts keyed by ID, with a unique username index.
type Store struct {
	mu        sync.RWMutex
	accounts  map[string]*chat.Account
	usernames map[string]string
	order     []string
	// bootstrapped flips once, when the first account is created.
	bootstrapped bool
	validate     *validator.Validate
	log          *slog.Logger
	now          func() time.Time
}

// NewStore returns an empty store.
func NewStore(log *slog.Logger) *Store {
	return &Store{
		accounts:  make(map[string]*chat.Account),
		usernames: make(map[string]string),
		validate:  validator.New(),
		log:       log,
		now:       time.Now,
	}
}

// Create registers a new member account. The very first account ever created
// is promoted to administrator. The bootstrap check and the insert happen
// under the same lock so two concurrent first registrations cannot both win,
// and the promotion never repeats even if every account is later deleted.
func (s *Store) Create(reg Registration) (chat.Account, error) {
	if err := s.validate.Struct(reg); err != nil {
		return chat.Account{}, fmt.Errorf("%w: %v", chat.ErrValidation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usernames[reg.Username]; taken {
		return chat.Account{}, fmt.Errorf("%w: username %q", chat.ErrConflict, reg.Username)
	}

	role := chat.RoleMember
	if !s.bootstrapped {
		role = chat.RoleAdministrator
		s.bootstrapped = true
	}

	account := &chat.Account{
		ID:           uuid.NewString(),
		Username:     reg.Username,
		Email:        reg.Email,
		FullName:     reg.FullName,
		Role:         role,
		PasswordHash: reg.PasswordHash,
		CreatedAt:    s.now().UTC(),
	}
	s.accounts[account.ID] = account
	s.usernames[account.Username] = account.ID
	s.order = append(s.order, account.ID)

	s.log.Info("account created", "user_id", account.ID, "username", account.Username, "role", account.Role)
	return *account, nil
}

// Get returns the account with the given ID.
func (s *Store) Get(id string) (chat.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return chat.Account{}, fmt.Errorf("%w: user %s", chat.ErrNotFound, id)
	}
	return *account, nil
}

// GetByUsername returns the account registered under username.
func (s *Store) GetByUsername(username string) (chat.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return chat.Account{}, fmt.Errorf("%w: user %q", chat.ErrNotFound, username)
	}
	return *s.accounts[id], nil
}

// Exists reports whether an account with the given ID is registered.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[id]
	return ok
}

// List returns every account in registration order.
func (s *Store) List() []chat.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]chat.Account, 0, len(s.order))
	for _, id := range s.order {
		accounts = append(accounts, *s.accounts[id])
	}
	return accounts
}

// Update applies an administrative change to an account.
func (s *Store) Update(id string, update chat.AccountUpdate) (chat.Account, error) {
	if update.Role != nil && !update.Role.Valid() {
		return chat.Account{}, fmt.Errorf("%w: unknown role %q", chat.ErrValidation, *update.Role)
	}
	if update.Email != nil {
		if err := s.validate.Var(*update.Email, "email"); err != nil {
			return chat.Account{}, fmt.Errorf("%w: %v", chat.ErrValidation, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return chat.Account{}, fmt.Errorf("%w: user %s", chat.ErrNotFound, id)
	}
	if update.FullName != nil && *update.FullName != "" {
		account.FullName = *update.FullName
	}
	if update.Email != nil {
		account.Email = *update.Email
	}
	if update.Role != nil {
		account.Role = *update.Role
	}
	return *account, nil
}

// Delete removes an account. Messages it sent keep the dangling sender ID.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("%w: user %s", chat.ErrNotFound, id)
	}
	delete(s.accounts, id)
	delete(s.usernames, account.Username)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })

	s.log.Info("account deleted", "user_id", id, "username", account.Username)
	return nil
}

// Stats counts accounts by role.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Total: len(s.accounts)}
	for _, account := range s.accounts {
		if account.IsAdmin() {
			stats.Administrators++
		} else {
			stats.Members++
		}
	}
	return stats
}
