package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchapos/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {Username: "admin", Password: "admin123", Role: "admin", Active: true, CreatedAt: time.Now().UTC()},
		},
	}

	manager := NewAuthManager("test-secret-0123456789-abcdefghij", time.Hour, store)
	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.NotEqual(t, "admin123", users[0].Password)
	assert.True(t, strings.HasPrefix(users[0].Password, "$2"), "expected bcrypt hash, got %s", users[0].Password)
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {Username: "admin", Password: "admin123", Role: "admin", Active: true, CreatedAt: time.Now().UTC()},
		},
	}

	manager := NewAuthManager("test-secret-0123456789-abcdefghij", time.Hour, store)
	cashier, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "Kasir01", Password: "pass1234"})
	require.NoError(t, err)
	assert.Equal(t, "kasir01", cashier.Username)

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	var found *domain.UserAccount
	for i := range users {
		if users[i].Username == "kasir01" {
			found = &users[i]
		}
	}
	require.NotNil(t, found)
	assert.True(t, strings.HasPrefix(found.Password, "$2"))

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "kasir01", Password: "pass1234"})
	require.NoError(t, err)

	_, err = manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "kasir01", Password: "pass1234"})
	assert.ErrorContains(t, err, "already exists")

	cashiers := manager.ListCashiers(context.Background())
	require.Len(t, cashiers, 1)
	assert.Equal(t, "kasir01", cashiers[0].Username)
}

func TestLoginRejectsBadPasswordAndInactiveAccount(t *testing.T) {
	hash, err := hashPassword("secret99")
	require.NoError(t, err)
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"off": {Username: "off", Password: hash, Role: "cashier", Active: false},
			"on":  {Username: "on", Password: hash, Role: "cashier", Active: true},
		},
	}
	manager := NewAuthManager("test-secret-0123456789-abcdefghij", time.Hour, store)

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "on", Password: "nope"})
	assert.ErrorIs(t, err, errInvalidCredentials)
	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "off", Password: "secret99"})
	assert.ErrorIs(t, err, errInactiveAccount)
}

func TestTokenRoundTripAndForeignSecret(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{
		"admin": {Username: "admin", Password: "admin123", Role: "admin", Active: true},
	}}
	manager := NewAuthManager("test-secret-0123456789-abcdefghij", time.Hour, store)
	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "admin", Role: "admin"}, actor)

	other := NewAuthManager("another-secret-0123456789-abcdefgh", time.Hour, nil)
	_, err = other.ParseToken(resp.AccessToken)
	assert.Error(t, err)
}

type readOnlyUserStore struct {
	userStoreStub
}

func (s *readOnlyUserStore) UpdateUserPassword(context.Context, string, string) error {
	return errors.New("read-only replica")
}

func TestLegacyPasswordStillWorksWhenUpgradeCannotBeStored(t *testing.T) {
	store := &readOnlyUserStore{userStoreStub{users: map[string]domain.UserAccount{
		"Admin": {Username: "Admin", Password: "admin123", Role: "admin", Active: true},
	}}}
	manager := NewAuthManager("test-secret-0123456789-abcdefghij", time.Hour, store)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " ADMIN ", Password: "admin123"})
	require.NoError(t, err)
	assert.Equal(t, "admin", resp.Role)

	users, err := store.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "admin123", users[0].Password)
}

func TestListCashiersSortedAndSkipsAdmins(t *testing.T) {
	hash, err := hashPassword("secret99")
	require.NoError(t, err)
	store := &userStoreStub{users: map[string]domain.UserAccount{
		"zeta":  {Username: "zeta", Password: hash, Role: "cashier", Active: true},
		"admin": {Username: "admin", Password: hash, Role: "admin", Active: true},
		"alfa":  {Username: "alfa", Password: hash, Role: "cashier", Active: false},
	}}
	manager := NewAuthManager("test-secret-0123456789-abcdefghij", time.Hour, store)

	cashiers := manager.ListCashiers(context.Background())
	require.Len(t, cashiers, 2)
	assert.Equal(t, "alfa", cashiers[0].Username)
	assert.False(t, cashiers[0].Active)
	assert.Equal(t, "zeta", cashiers[1].Username)
}

func TestCreateCashierRejectsSlashInUsername(t *testing.T) {
	manager := NewAuthManager("test-secret-0123456789-abcdefghij", time.Hour, &userStoreStub{})
	_, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "till/02", Password: "pass1234"})
	assert.Error(t, err)
}
