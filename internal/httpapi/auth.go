package httpapi

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"matchapos/backend/internal/domain"
	"matchapos/backend/internal/logger"
)

const (
	roleCashier = "cashier"
	tokenIssuer = "matchapos"

	userSyncTimeout = 2 * time.Second
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errUsernameTaken      = errors.New("username already exists")
	errInvalidToken       = errors.New("invalid or expired token")
)

// UserStore persists staff accounts. The AuthManager re-reads it on every
// login so accounts created by another instance work immediately.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	store    UserStore

	mu       sync.RWMutex
	accounts map[string]domain.UserAccount
}

type staffClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	a := &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		store:    userStore,
		accounts: make(map[string]domain.UserAccount),
	}
	a.syncAccounts(context.Background())
	return a
}

func normalizeUsername(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (a *AuthManager) account(username string) (domain.UserAccount, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	user, ok := a.accounts[username]
	return user, ok
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.syncAccounts(ctx)

	user, ok := a.account(normalizeUsername(req.Username))
	if !ok || !checkPassword(user.Password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !user.Active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	now := time.Now().UTC()
	expiresAt := now.Add(a.tokenTTL)
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, staffClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.Username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: user.Role,
	}).SignedString(a.secret)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// ParseToken accepts only HS256 tokens issued by this service.
func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	var claims staffClaims
	_, err := jwtlib.ParseWithClaims(raw, &claims,
		func(*jwtlib.Token) (any, error) { return a.secret, nil },
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithExpirationRequired(),
	)
	if err != nil || claims.Subject == "" {
		return domain.Actor{}, errInvalidToken
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

func validateCashier(username string, password string) error {
	switch {
	case len(username) < 4:
		return errors.New("username must be at least 4 characters")
	case strings.ContainsAny(username, " \t\r\n/"):
		return errors.New("username must not contain spaces or slashes")
	case len(strings.TrimSpace(password)) < 6:
		return errors.New("password must be at least 6 characters")
	}
	return nil
}

func (a *AuthManager) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	username := normalizeUsername(req.Username)
	if err := validateCashier(username, req.Password); err != nil {
		return domain.CashierUser{}, err
	}

	a.syncAccounts(ctx)
	if _, taken := a.account(username); taken {
		return domain.CashierUser{}, errUsernameTaken
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.CashierUser{}, errors.New("failed to hash password")
	}
	user := domain.UserAccount{
		Username:  username,
		Password:  hash,
		Role:      roleCashier,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if a.store != nil {
		if err := a.store.CreateUser(ctx, user); err != nil {
			return domain.CashierUser{}, err
		}
	}

	a.mu.Lock()
	a.accounts[username] = user
	a.mu.Unlock()

	return toCashierUser(user), nil
}

func (a *AuthManager) ListCashiers(ctx context.Context) []domain.CashierUser {
	a.syncAccounts(ctx)

	a.mu.RLock()
	out := make([]domain.CashierUser, 0, len(a.accounts))
	for _, user := range a.accounts {
		if user.Role == roleCashier {
			out = append(out, toCashierUser(user))
		}
	}
	a.mu.RUnlock()

	slices.SortFunc(out, func(x, y domain.CashierUser) int {
		return strings.Compare(x.Username, y.Username)
	})
	return out
}

func toCashierUser(user domain.UserAccount) domain.CashierUser {
	return domain.CashierUser{
		Username:  user.Username,
		Role:      user.Role,
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
	}
}

// syncAccounts reloads the account table from the store. It hashes legacy
// plain-text passwords before taking the lock, since bcrypt is slow.
func (a *AuthManager) syncAccounts(ctx context.Context) {
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, userSyncTimeout)
	defer cancel()

	users, err := a.store.ListUsers(ctx)
	if err != nil {
		logger.Warn(ctx, "failed to load staff accounts", "error", err)
		return
	}

	loaded := make(map[string]domain.UserAccount, len(users))
	for _, user := range users {
		user.Username = normalizeUsername(user.Username)
		if user.Username == "" {
			continue
		}
		if !isBcryptHash(user.Password) {
			user.Password = a.upgradeLegacyPassword(ctx, user)
		}
		loaded[user.Username] = user
	}

	a.mu.Lock()
	maps.Copy(a.accounts, loaded)
	a.mu.Unlock()
}

// upgradeLegacyPassword stores a bcrypt hash in place of a plain-text
// password and returns the value to keep in memory.
func (a *AuthManager) upgradeLegacyPassword(ctx context.Context, user domain.UserAccount) string {
	hash, err := hashPassword(user.Password)
	if err != nil {
		logger.Warn(ctx, "failed to hash legacy password", "username", user.Username, "error", err)
		return ""
	}
	if err := a.store.UpdateUserPassword(ctx, user.Username, hash); err != nil {
		logger.Warn(ctx, "failed to upgrade stored password", "username", user.Username, "error", err)
	}
	return hash
}

func checkPassword(hash string, plain string) bool {
	if strings.TrimSpace(plain) == "" || !isBcryptHash(hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

func hashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(hash), err
}

func isBcryptHash(value string) bool {
	_, err := bcrypt.Cost([]byte(value))
	return err == nil
}
