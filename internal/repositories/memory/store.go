// Package memory is a process-local store with the same conditional-update
// semantics as the Postgres repositories. Every operation holds one mutex.
package memory

import (
	"sync"

	"github.com/BradenHooton/mailgate/internal/models"
)

type Store struct {
	mu         sync.Mutex
	accounts   map[string]*models.Account
	history    map[string][]models.PasswordHistoryEntry
	sessions   map[string]*models.Session
	events     []*models.SecurityEvent
	recovery   map[string][]*models.RecoveryCode
	challenges map[string]*models.TwoFactorChallenge
	tokens     map[string]*models.ActionToken
}

func NewStore() *Store {
	return &Store{
		accounts:   make(map[string]*models.Account),
		history:    make(map[string][]models.PasswordHistoryEntry),
		sessions:   make(map[string]*models.Session),
		recovery:   make(map[string][]*models.RecoveryCode),
		challenges: make(map[string]*models.TwoFactorChallenge),
		tokens:     make(map[string]*models.ActionToken),
	}
}

func (s *Store) Accounts() *AccountRepository             { return &AccountRepository{s: s} }
func (s *Store) Sessions() *SessionRepository             { return &SessionRepository{s: s} }
func (s *Store) SecurityEvents() *SecurityEventRepository { return &SecurityEventRepository{s: s} }
func (s *Store) TwoFactor() *TwoFactorRepository          { return &TwoFactorRepository{s: s} }
func (s *Store) ActionTokens() *ActionTokenRepository     { return &ActionTokenRepository{s: s} }

func copyAccount(a *models.Account) *models.Account {
	c := *a
	c.TwoFactorSecret = append([]byte(nil), a.TwoFactorSecret...)
	c.TwoFactorNonce = append([]byte(nil), a.TwoFactorNonce...)
	if len(c.TwoFactorSecret) == 0 {
		c.TwoFactorSecret = nil
		c.TwoFactorNonce = nil
	}
	if a.LockoutUntil != nil {
		t := *a.LockoutUntil
		c.LockoutUntil = &t
	}
	if a.PasswordChangedAt != nil {
		t := *a.PasswordChangedAt
		c.PasswordChangedAt = &t
	}
	return &c
}

func copySession(s *models.Session) *models.Session {
	c := *s
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}

func copyEvent(e *models.SecurityEvent) *models.SecurityEvent {
	c := *e
	c.Details = make(models.EventDetails, len(e.Details))
	for k, v := range e.Details {
		c.Details[k] = v
	}
	return &c
}
