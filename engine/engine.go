package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tunedeck/tunedeck/errors"
	"github.com/tunedeck/tunedeck/models"
	"github.com/tunedeck/tunedeck/spotify"
)

// HistoryStore persists and reads the per-user play-history log.
type HistoryStore interface {
	WritePlayRecords(records []models.PlayRecord) (int, error)
	GetPlayHistory(userID string, cutoffMs int64) ([]models.PlayRecord, error)
}

// PreferenceStore persists user-tunable playlist parameters.
type PreferenceStore interface {
	GetPreferences(userID string) (*models.Preferences, error)
	SavePreferences(userID string, prefs models.Preferences) error
}

// ResultCache memoizes generated results for a bounded interval.
type ResultCache interface {
	GetCachedResult(userID, cacheKey string) ([]byte, bool, error)
	PutCachedResult(userID, cacheKey string, data []byte, ttl time.Duration) error
	InvalidateCachedResult(userID, cacheKey string) error
}

// UpstreamClient is the streaming-service API surface the engine needs.
type UpstreamClient interface {
	RecentlyPlayed(ctx context.Context, token string) ([]spotify.PlayedTrack, error)
	TopTracks(ctx context.Context, token, timeRange string) ([]spotify.Track, error)
	TopArtists(ctx context.Context, token, timeRange string) ([]spotify.Artist, error)
	ArtistGenres(ctx context.Context, token string, artistIDs []string) map[string][]string
	AvailableGenreSeeds(ctx context.Context, token string) ([]string, error)
	Recommendations(ctx context.Context, token string, seeds models.SeedSet, params models.RecommendationParams) ([]models.Track, error)
	Me(ctx context.Context, token string) (string, error)
	CreatePlaylist(ctx context.Context, token, spotifyUserID, name, description string) (string, string, error)
	AddPlaylistTracks(ctx context.Context, token, playlistID string, uris []string) error
}

// TokenSource resolves access tokens for linked users.
type TokenSource interface {
	AccessToken(ctx context.Context, userID string) (string, error)
	ListUsers() ([]string, error)
}

// Engine generates the five curated playlists per user from local
// listening history, live upstream data, and saved preferences.
type Engine struct {
	history  HistoryStore
	prefs    PreferenceStore
	cache    ResultCache
	upstream UpstreamClient
	tokens   TokenSource
	logger   *logrus.Logger
}

func New(history HistoryStore, prefs PreferenceStore, cache ResultCache, upstream UpstreamClient, tokens TokenSource, logger *logrus.Logger) *Engine {
	return &Engine{
		history:  history,
		prefs:    prefs,
		cache:    cache,
		upstream: upstream,
		tokens:   tokens,
		logger:   logger,
	}
}

// GetSuggestions returns the user's five playlists, serving a cached
// result when one exists unless force is set.
func (e *Engine) GetSuggestions(ctx context.Context, userID string, force bool) (*models.RecommendationResult, error) {
	if !force {
		data, hit, err := e.cache.GetCachedResult(userID, suggestionsCacheKey)
		if err != nil {
			e.logger.WithError(err).WithField("userId", userID).Warn("Result cache read failed")
		} else if hit {
			var cached models.RecommendationResult
			if err := json.Unmarshal(data, &cached); err == nil {
				return &cached, nil
			}
			e.logger.WithField("userId", userID).Warn("Discarding undecodable cached result")
		}
	}

	token, err := e.tokens.AccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	result, err := e.buildResult(ctx, userID, token)
	if err != nil {
		return nil, err
	}

	e.cacheResult(userID, result)
	return result, nil
}

// Regenerate drops the cached result and recomputes from scratch.
func (e *Engine) Regenerate(ctx context.Context, userID string) (*models.RecommendationResult, error) {
	if err := e.cache.InvalidateCachedResult(userID, suggestionsCacheKey); err != nil {
		e.logger.WithError(err).WithField("userId", userID).Warn("Result cache invalidation failed")
	}
	return e.GetSuggestions(ctx, userID, true)
}

// buildResult runs the full generation pipeline for one user. Both the
// interactive and scheduled paths go through here.
func (e *Engine) buildResult(ctx context.Context, userID, token string) (*models.RecommendationResult, error) {
	prefs, err := e.loadPreferences(userID)
	if err != nil {
		return nil, err
	}

	// Accumulate before reading so this request sees its own plays.
	written := e.recordRecentPlays(ctx, userID, token)
	if written > 0 {
		e.logger.WithFields(logrus.Fields{"userId": userID, "plays": written}).Debug("Accumulated recent plays")
	}

	timeframe := Timeframes[prefs.Timeframe]
	cutoffMs := time.Now().Add(-time.Duration(timeframe.Days) * 24 * time.Hour).UnixMilli()

	records, err := e.history.GetPlayHistory(userID, cutoffMs)
	if err != nil {
		return nil, err
	}
	historyPlays := make([]models.PlayItem, 0, len(records))
	for _, record := range records {
		historyPlays = append(historyPlays, record.Item())
	}

	historyStats := computeStats(historyPlays)
	supplement := e.buildSupplement(ctx, token, prefs.Timeframe)

	exclusions := map[string]struct{}{}
	if prefs.ExcludeListened {
		exclusions = buildExclusionSet(historyPlays, supplement.Recent)
	}

	available := e.fetchCatalogGenres(ctx, token)
	availableSet := make(map[string]struct{}, len(available))
	for _, g := range available {
		availableSet[g] = struct{}{}
	}

	excludedGenres := make(map[string]struct{}, len(prefs.ExcludedGenres))
	for _, g := range prefs.ExcludedGenres {
		excludedGenres[g] = struct{}{}
	}

	merged := newLazyStats(func() models.TasteStats {
		return computeStats(mergePlays(historyPlays, supplement))
	})

	seedCtx := &seedContext{
		history:         historyStats,
		merged:          merged,
		available:       available,
		availableSet:    availableSet,
		userGenres:      filterByMembership(prefs.Genres, availableSet),
		discoveryGenres: filterByMembership(prefs.DiscoveryGenres, availableSet),
		excludedGenres:  excludedGenres,
		genresByArtist:  supplement.GenresByArtist,
	}

	playlists := make([]models.ThemePlaylist, 0, len(Themes))
	for _, theme := range Themes {
		playlists = append(playlists, e.buildThemePlaylist(ctx, token, theme, seedCtx, prefs.ExcludeListened, exclusions))
	}

	return &models.RecommendationResult{
		Playlists:   playlists,
		Preferences: prefs,
		Stats: models.ResultStats{
			TotalPlays:     historyStats.N,
			UniqueTracks:   historyStats.UniqueTracks,
			UniqueGenres:   historyStats.UniqueGenres,
			Timeframe:      prefs.Timeframe,
			TimeframeLabel: timeframe.Label,
			Supplemented:   merged.Used(),
		},
	}, nil
}

// buildThemePlaylist selects seeds and fetches one theme's tracks. A
// theme with no formable seeds yields an empty list with an explicit
// marker; a failed fetch yields an empty list. Neither fails the run.
func (e *Engine) buildThemePlaylist(ctx context.Context, token string, theme models.Theme, seedCtx *seedContext, excludeListened bool, exclusions map[string]struct{}) models.ThemePlaylist {
	playlist := models.ThemePlaylist{
		ID:          theme.ID,
		Name:        theme.Name,
		Description: theme.Description,
		Tracks:      []models.Track{},
	}

	seeds := selectSeeds(theme, seedCtx)
	if seeds.IsEmpty() {
		playlist.Message = insufficientDataMessage
		return playlist
	}

	tracks, err := e.upstream.Recommendations(ctx, token, seeds, theme.Params)
	if err != nil {
		e.logger.WithError(err).WithField("theme", theme.ID).Warn("Recommendation fetch failed")
		return playlist
	}

	if excludeListened && len(exclusions) > 0 {
		tracks = filterExclusions(tracks, exclusions)
	}
	if len(tracks) > maxTracksPerPlaylist {
		tracks = tracks[:maxTracksPerPlaylist]
	}
	playlist.Tracks = tracks
	return playlist
}

func (e *Engine) cacheResult(userID string, result *models.RecommendationResult) {
	data, err := json.Marshal(result)
	if err != nil {
		e.logger.WithError(err).Error("Failed to encode result for caching")
		return
	}
	if err := e.cache.PutCachedResult(userID, suggestionsCacheKey, data, ResultCacheTTL); err != nil {
		e.logger.WithError(err).WithField("userId", userID).Warn("Result cache write failed")
	}
}

// fetchCatalogGenres returns the sorted upstream genre catalog, empty on
// failure.
func (e *Engine) fetchCatalogGenres(ctx context.Context, token string) []string {
	genres, err := e.upstream.AvailableGenreSeeds(ctx, token)
	if err != nil {
		e.logger.WithError(err).Warn("Genre catalog fetch failed")
		return nil
	}
	sort.Strings(genres)
	return genres
}

func (e *Engine) loadPreferences(userID string) (models.Preferences, error) {
	stored, err := e.prefs.GetPreferences(userID)
	if err != nil {
		return models.Preferences{}, err
	}
	if stored == nil {
		return DefaultPreferences(), nil
	}
	return NormalizePreferences(*stored), nil
}

// GetPreferences returns the user's saved preferences together with the
// current genre catalog. The catalog is best effort; an unlinked user
// still sees their preferences.
func (e *Engine) GetPreferences(ctx context.Context, userID string) (models.Preferences, []string, error) {
	prefs, err := e.loadPreferences(userID)
	if err != nil {
		return models.Preferences{}, nil, err
	}

	var available []string
	if token, err := e.tokens.AccessToken(ctx, userID); err == nil {
		available = e.fetchCatalogGenres(ctx, token)
	}
	return prefs, available, nil
}

// SetPreferences applies a partial update on top of the stored
// preferences. Invalid values fail the write; nothing is coerced.
func (e *Engine) SetPreferences(ctx context.Context, userID string, update models.PreferencesUpdate) (models.Preferences, error) {
	prefs, err := e.loadPreferences(userID)
	if err != nil {
		return models.Preferences{}, err
	}

	if update.Timeframe != nil {
		prefs.Timeframe = *update.Timeframe
	}
	if update.ExcludeListened != nil {
		prefs.ExcludeListened = *update.ExcludeListened
	}
	if update.Genres != nil {
		prefs.Genres = *update.Genres
	}
	if update.DiscoveryGenres != nil {
		prefs.DiscoveryGenres = *update.DiscoveryGenres
	}
	if update.ExcludedGenres != nil {
		prefs.ExcludedGenres = *update.ExcludedGenres
	}

	if err := validatePreferences(prefs); err != nil {
		return models.Preferences{}, err
	}
	if err := e.prefs.SavePreferences(userID, prefs); err != nil {
		return models.Preferences{}, err
	}

	// Preferences shape the result; a stale cache would ignore them.
	if err := e.cache.InvalidateCachedResult(userID, suggestionsCacheKey); err != nil {
		e.logger.WithError(err).WithField("userId", userID).Warn("Result cache invalidation failed")
	}
	return prefs, nil
}

func validatePreferences(prefs models.Preferences) error {
	if _, ok := Timeframes[prefs.Timeframe]; !ok {
		return errors.ErrInvalidTimeframe.WithContext("timeframe", prefs.Timeframe)
	}
	for name, list := range map[string][]string{
		"genres":          prefs.Genres,
		"discoveryGenres": prefs.DiscoveryGenres,
		"excludedGenres":  prefs.ExcludedGenres,
	} {
		if len(list) > maxPreferenceList {
			return errors.ErrListTooLong.
				WithContext("field", name).
				WithContext("length", len(list))
		}
	}
	return nil
}

// AvailableGenres returns the sorted upstream genre catalog for the
// user.
func (e *Engine) AvailableGenres(ctx context.Context, userID string) ([]string, error) {
	token, err := e.tokens.AccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.upstream.AvailableGenreSeeds(ctx, token)
}

// SavePlaylist creates an upstream playlist with the given tracks and
// returns its id and share URL.
func (e *Engine) SavePlaylist(ctx context.Context, userID, name, description string, trackURIs []string) (string, string, error) {
	if name == "" {
		return "", "", errors.ErrMissingParameter.WithContext("field", "playlistName")
	}
	if len(trackURIs) == 0 {
		return "", "", errors.ErrMissingParameter.WithContext("field", "trackUris")
	}

	token, err := e.tokens.AccessToken(ctx, userID)
	if err != nil {
		return "", "", err
	}

	spotifyUserID, err := e.upstream.Me(ctx, token)
	if err != nil {
		return "", "", err
	}

	if description == "" {
		description = "Curated by TuneDeck"
	}
	playlistID, playlistURL, err := e.upstream.CreatePlaylist(ctx, token, spotifyUserID, name, description)
	if err != nil {
		return "", "", err
	}
	if err := e.upstream.AddPlaylistTracks(ctx, token, playlistID, trackURIs); err != nil {
		return "", "", err
	}
	return playlistID, playlistURL, nil
}

// RunScheduledRefresh regenerates cached results for every linked user.
// Users are processed sequentially; one user's failure never aborts the
// run, and unlinked or expired accounts are skipped.
func (e *Engine) RunScheduledRefresh(ctx context.Context) models.RefreshSummary {
	summary := models.RefreshSummary{
		RunID:  uuid.NewString(),
		Errors: []string{},
	}

	userIDs, err := e.tokens.ListUsers()
	if err != nil {
		e.logger.WithError(err).Error("Scheduled refresh: failed to list linked users")
		summary.Errors = append(summary.Errors, fmt.Sprintf("user listing failed: %v", err))
		return summary
	}

	log := e.logger.WithField("runId", summary.RunID)
	log.WithField("users", len(userIDs)).Info("Scheduled refresh started")

	for _, userID := range userIDs {
		token, err := e.tokens.AccessToken(ctx, userID)
		if err != nil {
			if errors.IsNotConnected(err) {
				continue
			}
			summary.UsersFailed++
			if len(summary.Errors) < maxErrorsReported {
				summary.Errors = append(summary.Errors, fmt.Sprintf("user %s: %v", userID, err))
			}
			continue
		}

		result, err := e.buildResult(ctx, userID, token)
		if err != nil {
			summary.UsersFailed++
			if len(summary.Errors) < maxErrorsReported {
				summary.Errors = append(summary.Errors, fmt.Sprintf("user %s: %v", userID, err))
			}
			continue
		}

		e.cacheResult(userID, result)
		summary.UsersProcessed++
	}

	log.WithFields(logrus.Fields{
		"processed": summary.UsersProcessed,
		"failed":    summary.UsersFailed,
	}).Info("Scheduled refresh finished")
	return summary
}

func filterByMembership(values []string, set map[string]struct{}) []string {
	var valid []string
	for _, v := range values {
		if _, ok := set[v]; ok {
			valid = append(valid, v)
		}
	}
	return valid
}
