package credentials

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tunedeck/tunedeck/errors"
	"github.com/tunedeck/tunedeck/spotify"
)

// expiryMargin is subtracted from upstream token lifetimes so a token is
// never handed out moments before it expires mid-request.
const expiryMargin = 60 * time.Second

// TokenStore persists refresh tokens for linked accounts.
type TokenStore interface {
	GetRefreshToken(userID string) (string, error)
	SaveRefreshToken(userID, refreshToken string) error
	DeleteAccount(userID string) error
	ListLinkedUsers() ([]string, error)
}

// Refresher exchanges a refresh token for a fresh access token.
type Refresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*spotify.TokenResponse, error)
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// Manager resolves per-user access tokens, refreshing and caching them
// as needed. Refresh tokens live in the store; access tokens only in
// memory.
type Manager struct {
	mu        sync.RWMutex
	tokens    map[string]cachedToken
	store     TokenStore
	refresher Refresher
	logger    *logrus.Logger
}

func NewManager(store TokenStore, refresher Refresher, logger *logrus.Logger) *Manager {
	return &Manager{
		tokens:    make(map[string]cachedToken),
		store:     store,
		refresher: refresher,
		logger:    logger,
	}
}

// AccessToken returns a valid access token for the user, refreshing via
// the stored refresh token when the cached one is absent or near expiry.
// A user with no stored refresh token gets ErrNotConnected.
func (m *Manager) AccessToken(ctx context.Context, userID string) (string, error) {
	m.mu.RLock()
	cached, ok := m.tokens[userID]
	m.mu.RUnlock()

	if ok && time.Now().Before(cached.expiresAt) {
		return cached.accessToken, nil
	}

	refreshToken, err := m.store.GetRefreshToken(userID)
	if err != nil {
		return "", err
	}
	if refreshToken == "" {
		return "", errors.ErrNotConnected.WithContext("userId", userID)
	}

	resp, err := m.refresher.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	expiresAt := time.Now().Add(time.Duration(resp.ExpiresIn)*time.Second - expiryMargin)
	m.mu.Lock()
	m.tokens[userID] = cachedToken{accessToken: resp.AccessToken, expiresAt: expiresAt}
	m.mu.Unlock()

	// The accounts endpoint may rotate the refresh token; persist the
	// replacement or the old one stops working.
	if resp.RefreshToken != "" && resp.RefreshToken != refreshToken {
		if err := m.store.SaveRefreshToken(userID, resp.RefreshToken); err != nil {
			m.logger.WithError(err).WithField("userId", userID).Error("Failed to persist rotated refresh token")
			return "", errors.ErrTokenPersist.WithContext("userId", userID)
		}
	}

	return resp.AccessToken, nil
}

// Link stores a refresh token for the user, replacing any existing link.
func (m *Manager) Link(userID, refreshToken string) error {
	if userID == "" || refreshToken == "" {
		return errors.ErrMissingParameter
	}
	if err := m.store.SaveRefreshToken(userID, refreshToken); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.tokens, userID)
	m.mu.Unlock()

	m.logger.WithField("userId", userID).Info("Linked streaming account")
	return nil
}

// Unlink removes the user's stored refresh token and cached access token.
func (m *Manager) Unlink(userID string) error {
	if err := m.store.DeleteAccount(userID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.tokens, userID)
	m.mu.Unlock()

	m.logger.WithField("userId", userID).Info("Unlinked streaming account")
	return nil
}

// ListUsers returns the ids of all users with a linked account.
func (m *Manager) ListUsers() ([]string, error) {
	return m.store.ListLinkedUsers()
}
