package engine

import (
	"time"

	"github.com/tunedeck/tunedeck/models"
)

const (
	// HistoryRetention is slightly longer than the widest timeframe so
	// a 3-month window never reads partially expired data.
	HistoryRetention = 95 * 24 * time.Hour

	// ResultCacheTTL bounds how long a generated result is served
	// before recomputation.
	ResultCacheTTL = 72 * time.Hour

	// suggestionsCacheKey is the per-user cache slot for the full
	// five-playlist result.
	suggestionsCacheKey = "playlist_suggestions"

	// DefaultTimeframe is used when a user has no saved preferences or
	// a stored timeframe key is no longer configured.
	DefaultTimeframe = "1m"

	maxTracksPerPlaylist = 20
	maxPreferenceList    = 15
	maxErrorsReported    = 10

	insufficientDataMessage = "Not enough data to generate this playlist"
)

// Timeframes maps user-facing window keys to lookback and upstream
// ranking windows.
var Timeframes = map[string]models.TimeframeOption{
	"2w": {Days: 14, Label: "2 Weeks", SpotifyRange: "short_term"},
	"1m": {Days: 30, Label: "1 Month", SpotifyRange: "short_term"},
	"3m": {Days: 90, Label: "3 Months", SpotifyRange: "medium_term"},
}

// Themes is the fixed set of playlist archetypes, in display order.
var Themes = []models.Theme{
	{
		ID:          "essentials",
		Name:        "Your Essentials",
		Description: "A mix built from your top artists and tracks",
		Strategy:    models.SeedStrategyTaste,
		Params:      models.RecommendationParams{Limit: 20},
	},
	{
		ID:          "hidden_gems",
		Name:        "Hidden Gems",
		Description: "Popular tracks you haven't discovered yet in your genres",
		Strategy:    models.SeedStrategyGenres,
		Params:      models.RecommendationParams{Limit: 40, MinPopularity: 70},
	},
	{
		ID:          "energy_boost",
		Name:        "Energy Boost",
		Description: "High-energy bangers to power your day",
		Strategy:    models.SeedStrategyGenres,
		Params:      models.RecommendationParams{Limit: 40, TargetEnergy: 0.9, TargetDanceability: 0.8, MinTempo: 120},
	},
	{
		ID:          "chill_mode",
		Name:        "Chill Mode",
		Description: "Laid-back vibes for relaxation",
		Strategy:    models.SeedStrategyGenres,
		Params:      models.RecommendationParams{Limit: 40, TargetEnergy: 0.3, TargetAcousticness: 0.7, MaxTempo: 105},
	},
	{
		ID:          "discovery_mix",
		Name:        "Discovery Mix",
		Description: "Explore new genres outside your comfort zone",
		Strategy:    models.SeedStrategyDiscovery,
		Params:      models.RecommendationParams{Limit: 40, MinPopularity: 70},
	},
}

// DefaultPreferences returns the preferences applied to users who have
// never saved any.
func DefaultPreferences() models.Preferences {
	return models.Preferences{
		Timeframe:       DefaultTimeframe,
		ExcludeListened: true,
		Genres:          []string{},
		DiscoveryGenres: []string{},
		ExcludedGenres:  []string{},
	}
}

// NormalizePreferences repairs stored preferences that reference a
// timeframe key no longer configured and nil lists.
func NormalizePreferences(prefs models.Preferences) models.Preferences {
	if _, ok := Timeframes[prefs.Timeframe]; !ok {
		prefs.Timeframe = DefaultTimeframe
	}
	if prefs.Genres == nil {
		prefs.Genres = []string{}
	}
	if prefs.DiscoveryGenres == nil {
		prefs.DiscoveryGenres = []string{}
	}
	if prefs.ExcludedGenres == nil {
		prefs.ExcludedGenres = []string{}
	}
	return prefs
}
