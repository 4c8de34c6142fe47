package engine

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tunedeck/tunedeck/errors"
	"github.com/tunedeck/tunedeck/models"
	"github.com/tunedeck/tunedeck/spotify"
)

type fakeHistory struct {
	records    []models.PlayRecord
	writeCalls int
}

func (f *fakeHistory) WritePlayRecords(records []models.PlayRecord) (int, error) {
	f.writeCalls++
	f.records = append(f.records, records...)
	return len(records), nil
}

func (f *fakeHistory) GetPlayHistory(userID string, cutoffMs int64) ([]models.PlayRecord, error) {
	var out []models.PlayRecord
	for _, r := range f.records {
		if r.UserID == userID && r.PlayedAt >= cutoffMs {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakePrefStore struct {
	prefs     map[string]*models.Preferences
	saveCalls int
}

func (f *fakePrefStore) GetPreferences(userID string) (*models.Preferences, error) {
	return f.prefs[userID], nil
}

func (f *fakePrefStore) SavePreferences(userID string, prefs models.Preferences) error {
	f.saveCalls++
	if f.prefs == nil {
		f.prefs = map[string]*models.Preferences{}
	}
	copied := prefs
	f.prefs[userID] = &copied
	return nil
}

type fakeCache struct {
	data        map[string][]byte
	invalidated int
	puts        int
}

func (f *fakeCache) GetCachedResult(userID, cacheKey string) ([]byte, bool, error) {
	data, ok := f.data[userID+"/"+cacheKey]
	return data, ok, nil
}

func (f *fakeCache) PutCachedResult(userID, cacheKey string, data []byte, ttl time.Duration) error {
	if f.data == nil {
		f.data = map[string][]byte{}
	}
	f.data[userID+"/"+cacheKey] = data
	f.puts++
	return nil
}

func (f *fakeCache) InvalidateCachedResult(userID, cacheKey string) error {
	delete(f.data, userID+"/"+cacheKey)
	f.invalidated++
	return nil
}

type fakeUpstream struct {
	recent          []spotify.PlayedTrack
	topTracks       []spotify.Track
	topArtists      []spotify.Artist
	catalog         []string
	recommendations []models.Track
	recommendCalls  int
	lastSeeds       models.SeedSet
}

func (f *fakeUpstream) RecentlyPlayed(ctx context.Context, token string) ([]spotify.PlayedTrack, error) {
	return f.recent, nil
}

func (f *fakeUpstream) TopTracks(ctx context.Context, token, timeRange string) ([]spotify.Track, error) {
	return f.topTracks, nil
}

func (f *fakeUpstream) TopArtists(ctx context.Context, token, timeRange string) ([]spotify.Artist, error) {
	return f.topArtists, nil
}

func (f *fakeUpstream) ArtistGenres(ctx context.Context, token string, artistIDs []string) map[string][]string {
	return map[string][]string{}
}

func (f *fakeUpstream) AvailableGenreSeeds(ctx context.Context, token string) ([]string, error) {
	return f.catalog, nil
}

func (f *fakeUpstream) Recommendations(ctx context.Context, token string, seeds models.SeedSet, params models.RecommendationParams) ([]models.Track, error) {
	f.recommendCalls++
	f.lastSeeds = seeds
	return f.recommendations, nil
}

func (f *fakeUpstream) Me(ctx context.Context, token string) (string, error) {
	return "spotify-user", nil
}

func (f *fakeUpstream) CreatePlaylist(ctx context.Context, token, spotifyUserID, name, description string) (string, string, error) {
	return "pl1", "https://open.spotify.com/playlist/pl1", nil
}

func (f *fakeUpstream) AddPlaylistTracks(ctx context.Context, token, playlistID string, uris []string) error {
	return nil
}

type fakeTokens struct {
	tokens map[string]string
	errs   map[string]error
	users  []string
}

func (f *fakeTokens) AccessToken(ctx context.Context, userID string) (string, error) {
	if err, ok := f.errs[userID]; ok {
		return "", err
	}
	if token, ok := f.tokens[userID]; ok {
		return token, nil
	}
	return "", errors.ErrNotConnected
}

func (f *fakeTokens) ListUsers() ([]string, error) {
	return f.users, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEngine(history *fakeHistory, prefs *fakePrefStore, cache *fakeCache, upstream *fakeUpstream, tokens *fakeTokens) *Engine {
	if history == nil {
		history = &fakeHistory{}
	}
	if prefs == nil {
		prefs = &fakePrefStore{}
	}
	if cache == nil {
		cache = &fakeCache{}
	}
	if upstream == nil {
		upstream = &fakeUpstream{}
	}
	if tokens == nil {
		tokens = &fakeTokens{tokens: map[string]string{"u1": "token"}}
	}
	return New(history, prefs, cache, upstream, tokens, testLogger())
}

func TestGetSuggestionsInsufficientDataSkipsFetch(t *testing.T) {
	upstream := &fakeUpstream{}
	eng := newTestEngine(nil, nil, nil, upstream, nil)

	result, err := eng.GetSuggestions(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("GetSuggestions: %v", err)
	}

	if len(result.Playlists) != len(Themes) {
		t.Fatalf("playlists = %d, want %d", len(result.Playlists), len(Themes))
	}
	for _, playlist := range result.Playlists {
		if len(playlist.Tracks) != 0 {
			t.Errorf("theme %s has tracks with no data", playlist.ID)
		}
		if playlist.Message == "" {
			t.Errorf("theme %s missing insufficient-data marker", playlist.ID)
		}
	}
	if upstream.recommendCalls != 0 {
		t.Errorf("recommendation endpoint called %d times with zero seeds", upstream.recommendCalls)
	}
}

func TestGetSuggestionsServesCache(t *testing.T) {
	cached := models.RecommendationResult{
		Stats: models.ResultStats{TotalPlays: 42},
	}
	data, _ := json.Marshal(cached)
	cache := &fakeCache{data: map[string][]byte{"u1/" + suggestionsCacheKey: data}}
	upstream := &fakeUpstream{}
	tokens := &fakeTokens{} // no tokens: a cache hit must not need one
	eng := newTestEngine(nil, nil, cache, upstream, tokens)

	result, err := eng.GetSuggestions(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("GetSuggestions: %v", err)
	}
	if result.Stats.TotalPlays != 42 {
		t.Errorf("TotalPlays = %d, want cached 42", result.Stats.TotalPlays)
	}
	if upstream.recommendCalls != 0 {
		t.Error("cache hit must not reach upstream")
	}
}

func TestGetSuggestionsForceBypassesCache(t *testing.T) {
	cached := models.RecommendationResult{Stats: models.ResultStats{TotalPlays: 42}}
	data, _ := json.Marshal(cached)
	cache := &fakeCache{data: map[string][]byte{"u1/" + suggestionsCacheKey: data}}
	eng := newTestEngine(nil, nil, cache, nil, nil)

	result, err := eng.GetSuggestions(context.Background(), "u1", true)
	if err != nil {
		t.Fatalf("GetSuggestions: %v", err)
	}
	if result.Stats.TotalPlays == 42 {
		t.Error("force=true served the cached result")
	}
	if cache.puts == 0 {
		t.Error("recomputed result was not cached")
	}
}

func TestGetSuggestionsNotConnected(t *testing.T) {
	eng := newTestEngine(nil, nil, nil, nil, &fakeTokens{})

	_, err := eng.GetSuggestions(context.Background(), "stranger", false)
	if !errors.IsNotConnected(err) {
		t.Errorf("err = %v, want not-connected", err)
	}
}

func TestGetSuggestionsFiltersListenedTracks(t *testing.T) {
	now := time.Now().UnixMilli()
	history := &fakeHistory{records: []models.PlayRecord{
		{UserID: "u1", PlayedAt: now, TrackID: "heard", ArtistIDs: []string{"a1"}},
	}}
	upstream := &fakeUpstream{
		catalog: []string{"ambient"},
		recommendations: []models.Track{
			{Name: "old", URI: "spotify:track:heard"},
			{Name: "new", URI: "spotify:track:fresh"},
		},
	}
	eng := newTestEngine(history, nil, nil, upstream, nil)

	result, err := eng.GetSuggestions(context.Background(), "u1", false)
	if err != nil {
		t.Fatalf("GetSuggestions: %v", err)
	}

	for _, playlist := range result.Playlists {
		for _, track := range playlist.Tracks {
			if track.Name == "old" {
				t.Errorf("theme %s contains an already-heard track", playlist.ID)
			}
		}
	}
}

func TestSetPreferencesRejectsUnknownTimeframe(t *testing.T) {
	saved := models.Preferences{Timeframe: "3m", ExcludeListened: true}
	prefStore := &fakePrefStore{prefs: map[string]*models.Preferences{"u1": &saved}}
	eng := newTestEngine(nil, prefStore, nil, nil, nil)

	bogus := "bogus"
	_, err := eng.SetPreferences(context.Background(), "u1", models.PreferencesUpdate{Timeframe: &bogus})
	if errors.GetErrorCode(err) != "INVALID_TIMEFRAME" {
		t.Fatalf("err = %v, want INVALID_TIMEFRAME", err)
	}
	if prefStore.saveCalls != 0 {
		t.Error("invalid update must not be written")
	}
	if prefStore.prefs["u1"].Timeframe != "3m" {
		t.Errorf("prior timeframe lost: %q", prefStore.prefs["u1"].Timeframe)
	}
}

func TestSetPreferencesRejectsOversizedList(t *testing.T) {
	eng := newTestEngine(nil, nil, nil, nil, nil)

	long := make([]string, maxPreferenceList+1)
	_, err := eng.SetPreferences(context.Background(), "u1", models.PreferencesUpdate{Genres: &long})
	if errors.GetErrorCode(err) != "LIST_TOO_LONG" {
		t.Errorf("err = %v, want LIST_TOO_LONG", err)
	}
}

func TestSetPreferencesPartialUpdateAndInvalidation(t *testing.T) {
	saved := models.Preferences{Timeframe: "3m", ExcludeListened: true, Genres: []string{"rock"}}
	prefStore := &fakePrefStore{prefs: map[string]*models.Preferences{"u1": &saved}}
	cache := &fakeCache{data: map[string][]byte{"u1/" + suggestionsCacheKey: []byte("{}")}}
	eng := newTestEngine(nil, prefStore, cache, nil, nil)

	exclude := false
	got, err := eng.SetPreferences(context.Background(), "u1", models.PreferencesUpdate{ExcludeListened: &exclude})
	if err != nil {
		t.Fatalf("SetPreferences: %v", err)
	}

	if got.Timeframe != "3m" || got.ExcludeListened || got.Genres[0] != "rock" {
		t.Errorf("merged preferences wrong: %+v", got)
	}
	if cache.invalidated == 0 {
		t.Error("preference change must invalidate the cached result")
	}
}

func TestSetPreferencesDefaultsForNewUser(t *testing.T) {
	prefStore := &fakePrefStore{}
	eng := newTestEngine(nil, prefStore, nil, nil, nil)

	tf := "2w"
	got, err := eng.SetPreferences(context.Background(), "fresh", models.PreferencesUpdate{Timeframe: &tf})
	if err != nil {
		t.Fatalf("SetPreferences: %v", err)
	}
	if got.Timeframe != "2w" || !got.ExcludeListened {
		t.Errorf("got %+v, want defaults plus new timeframe", got)
	}
}

func TestRegenerateInvalidatesAndRecomputes(t *testing.T) {
	cached := models.RecommendationResult{Stats: models.ResultStats{TotalPlays: 42}}
	data, _ := json.Marshal(cached)
	cache := &fakeCache{data: map[string][]byte{"u1/" + suggestionsCacheKey: data}}
	eng := newTestEngine(nil, nil, cache, nil, nil)

	result, err := eng.Regenerate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if result.Stats.TotalPlays == 42 {
		t.Error("regenerate served the stale cached result")
	}
	if cache.invalidated == 0 {
		t.Error("regenerate must invalidate the cache first")
	}
}

func TestRunScheduledRefreshIsolation(t *testing.T) {
	tokens := &fakeTokens{
		tokens: map[string]string{"u1": "t1", "u3": "t3"},
		errs:   map[string]error{"u2": errors.ErrTokenRefresh},
		users:  []string{"u1", "u2", "u3", "unlinked"},
	}
	cache := &fakeCache{}
	eng := newTestEngine(nil, nil, cache, nil, tokens)

	summary := eng.RunScheduledRefresh(context.Background())

	if summary.RunID == "" {
		t.Error("missing run id")
	}
	if summary.UsersProcessed != 2 {
		t.Errorf("UsersProcessed = %d, want 2", summary.UsersProcessed)
	}
	if summary.UsersFailed != 1 {
		t.Errorf("UsersFailed = %d, want 1 (unlinked users are skipped, not failed)", summary.UsersFailed)
	}
	if len(summary.Errors) != 1 {
		t.Errorf("Errors = %v, want one entry", summary.Errors)
	}
	if cache.puts != 2 {
		t.Errorf("cache puts = %d, want 2", cache.puts)
	}
}

func TestSavePlaylistValidation(t *testing.T) {
	eng := newTestEngine(nil, nil, nil, nil, nil)

	if _, _, err := eng.SavePlaylist(context.Background(), "u1", "", "", []string{"spotify:track:x"}); err == nil {
		t.Error("empty name must fail")
	}
	if _, _, err := eng.SavePlaylist(context.Background(), "u1", "Mix", "", nil); err == nil {
		t.Error("empty track list must fail")
	}

	id, url, err := eng.SavePlaylist(context.Background(), "u1", "Mix", "", []string{"spotify:track:x"})
	if err != nil {
		t.Fatalf("SavePlaylist: %v", err)
	}
	if id != "pl1" || url == "" {
		t.Errorf("got id=%q url=%q", id, url)
	}
}

func TestAccumulationIsBestEffort(t *testing.T) {
	// A user whose recently-played fetch yields nothing still gets a
	// result built from whatever exists.
	eng := newTestEngine(&fakeHistory{}, nil, nil, &fakeUpstream{}, nil)

	if _, err := eng.GetSuggestions(context.Background(), "u1", false); err != nil {
		t.Fatalf("GetSuggestions: %v", err)
	}
}
