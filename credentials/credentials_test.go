package credentials

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/tunedeck/tunedeck/errors"
	"github.com/tunedeck/tunedeck/spotify"
)

type fakeStore struct {
	tokens    map[string]string
	saveCalls int
}

func (f *fakeStore) GetRefreshToken(userID string) (string, error) {
	return f.tokens[userID], nil
}

func (f *fakeStore) SaveRefreshToken(userID, refreshToken string) error {
	f.saveCalls++
	if f.tokens == nil {
		f.tokens = map[string]string{}
	}
	f.tokens[userID] = refreshToken
	return nil
}

func (f *fakeStore) DeleteAccount(userID string) error {
	delete(f.tokens, userID)
	return nil
}

func (f *fakeStore) ListLinkedUsers() ([]string, error) {
	var users []string
	for id := range f.tokens {
		users = append(users, id)
	}
	return users, nil
}

type fakeRefresher struct {
	calls    int
	response *spotify.TokenResponse
	err      error
}

func (f *fakeRefresher) RefreshAccessToken(ctx context.Context, refreshToken string) (*spotify.TokenResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func newTestManager(store *fakeStore, refresher *fakeRefresher) *Manager {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewManager(store, refresher, logger)
}

func TestAccessTokenNotConnected(t *testing.T) {
	m := newTestManager(&fakeStore{}, &fakeRefresher{})

	_, err := m.AccessToken(context.Background(), "stranger")
	if !errors.IsNotConnected(err) {
		t.Errorf("err = %v, want not-connected", err)
	}
}

func TestAccessTokenRefreshAndCache(t *testing.T) {
	store := &fakeStore{tokens: map[string]string{"u1": "rt"}}
	refresher := &fakeRefresher{response: &spotify.TokenResponse{AccessToken: "at", ExpiresIn: 3600}}
	m := newTestManager(store, refresher)

	token, err := m.AccessToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if token != "at" {
		t.Errorf("token = %q, want at", token)
	}

	// Second call hits the cache
	if _, err := m.AccessToken(context.Background(), "u1"); err != nil {
		t.Fatalf("cached AccessToken: %v", err)
	}
	if refresher.calls != 1 {
		t.Errorf("refresher calls = %d, want 1", refresher.calls)
	}
}

func TestAccessTokenShortLivedTokenNotCached(t *testing.T) {
	// Lifetime below the expiry margin means the cached entry is
	// already stale on the next call.
	store := &fakeStore{tokens: map[string]string{"u1": "rt"}}
	refresher := &fakeRefresher{response: &spotify.TokenResponse{AccessToken: "at", ExpiresIn: 10}}
	m := newTestManager(store, refresher)

	m.AccessToken(context.Background(), "u1")
	m.AccessToken(context.Background(), "u1")

	if refresher.calls != 2 {
		t.Errorf("refresher calls = %d, want 2", refresher.calls)
	}
}

func TestAccessTokenPersistsRotatedRefreshToken(t *testing.T) {
	store := &fakeStore{tokens: map[string]string{"u1": "rt-old"}}
	refresher := &fakeRefresher{response: &spotify.TokenResponse{
		AccessToken:  "at",
		RefreshToken: "rt-new",
		ExpiresIn:    3600,
	}}
	m := newTestManager(store, refresher)

	if _, err := m.AccessToken(context.Background(), "u1"); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if store.tokens["u1"] != "rt-new" {
		t.Errorf("stored refresh token = %q, want rotated rt-new", store.tokens["u1"])
	}
}

func TestAccessTokenRefreshFailure(t *testing.T) {
	store := &fakeStore{tokens: map[string]string{"u1": "rt"}}
	refresher := &fakeRefresher{err: errors.ErrTokenRefresh}
	m := newTestManager(store, refresher)

	_, err := m.AccessToken(context.Background(), "u1")
	if errors.GetErrorCode(err) != "TOKEN_REFRESH_FAILED" {
		t.Errorf("err = %v, want TOKEN_REFRESH_FAILED", err)
	}
}

func TestLinkValidatesAndClearsCache(t *testing.T) {
	store := &fakeStore{tokens: map[string]string{"u1": "rt-old"}}
	refresher := &fakeRefresher{response: &spotify.TokenResponse{AccessToken: "at-old", ExpiresIn: 3600}}
	m := newTestManager(store, refresher)

	if err := m.Link("", "rt"); err == nil {
		t.Error("empty user id must fail")
	}
	if err := m.Link("u1", ""); err == nil {
		t.Error("empty refresh token must fail")
	}

	// Warm the cache, then re-link; the old access token must not
	// survive the new link.
	m.AccessToken(context.Background(), "u1")
	refresher.response = &spotify.TokenResponse{AccessToken: "at-new", ExpiresIn: 3600}

	if err := m.Link("u1", "rt-new"); err != nil {
		t.Fatalf("Link: %v", err)
	}

	token, err := m.AccessToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("AccessToken after relink: %v", err)
	}
	if token != "at-new" {
		t.Errorf("token = %q, want at-new after relink", token)
	}
}

func TestUnlink(t *testing.T) {
	store := &fakeStore{tokens: map[string]string{"u1": "rt"}}
	refresher := &fakeRefresher{response: &spotify.TokenResponse{AccessToken: "at", ExpiresIn: 3600}}
	m := newTestManager(store, refresher)

	m.AccessToken(context.Background(), "u1")
	if err := m.Unlink("u1"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}

	_, err := m.AccessToken(context.Background(), "u1")
	if !errors.IsNotConnected(err) {
		t.Errorf("err = %v, want not-connected after unlink", err)
	}
}
