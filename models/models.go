package models

// PlayRecord is one listening event in the durable per-user history log.
// (UserID, PlayedAt) is the primary key; overlapping fetches overwrite the
// same key instead of appending. Records past ExpiresAt are logically
// absent from reads.
type PlayRecord struct {
	UserID     string   `json:"userId"`
	PlayedAt   int64    `json:"playedAt"` // epoch milliseconds
	TrackID    string   `json:"trackId"`
	TrackName  string   `json:"trackName"`
	ArtistName string   `json:"artistName"`
	AlbumName  string   `json:"albumName"`
	ArtistIDs  []string `json:"artistIds"`
	Genres     []string `json:"genres"`
	ImageURL   string   `json:"imageUrl"`
	URI        string   `json:"uri"`
	SpotifyURL string   `json:"spotifyUrl"`
	ExpiresAt  int64    `json:"expiresAt"` // epoch seconds
}

// PlayItem is the minimal shared shape stats and merging operate on.
// Both history records and supplement tracks normalize to it.
type PlayItem struct {
	TrackID    string   `json:"trackId"`
	TrackName  string   `json:"trackName"`
	ArtistName string   `json:"artistName"`
	ArtistIDs  []string `json:"artistIds"`
	Genres     []string `json:"genres"`
}

// Item returns the PlayRecord normalized to the shared shape.
func (r PlayRecord) Item() PlayItem {
	return PlayItem{
		TrackID:    r.TrackID,
		TrackName:  r.TrackName,
		ArtistName: r.ArtistName,
		ArtistIDs:  r.ArtistIDs,
		Genres:     r.Genres,
	}
}

// FreqCount is a ranked (identifier, frequency) pair.
type FreqCount struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

// TasteStats holds frequency aggregates over a list of play items.
// Derived and ephemeral; never persisted.
type TasteStats struct {
	N            int                 `json:"n"`
	UniqueTracks int                 `json:"uniqueTracks"`
	UniqueGenres int                 `json:"uniqueGenres"`
	TopTracks    []FreqCount         `json:"topTracks"`  // capped at 20, desc by count
	TopArtists   []FreqCount         `json:"topArtists"` // capped at 20, desc by count
	GenreCounts  map[string]int      `json:"genreCounts"`
	TrackIDs     map[string]struct{} `json:"-"`
}

// SupplementArtist is an upstream top artist with resolved genres.
type SupplementArtist struct {
	ArtistID   string   `json:"artistId"`
	ArtistName string   `json:"artistName"`
	Genres     []string `json:"genres"`
}

// Supplement is live-fetched upstream data used when local history is
// statistically thin. Tracks holds recently-played followed by top tracks,
// genre-enriched; Recent holds the raw recently-played list only (the
// exclusion builder uses Recent, not Tracks).
type Supplement struct {
	Tracks         []PlayItem          `json:"tracks"`
	Recent         []PlayItem          `json:"recent"`
	Artists        []SupplementArtist  `json:"artists"`
	GenresByArtist map[string][]string `json:"genresByArtist"`
}

// SeedStrategy selects how a theme derives its recommendation seeds.
type SeedStrategy string

const (
	SeedStrategyTaste     SeedStrategy = "taste"
	SeedStrategyGenres    SeedStrategy = "genres"
	SeedStrategyDiscovery SeedStrategy = "discovery"
)

// RecommendationParams are a theme's upstream tuning parameters. Zero
// values mean "not set" and are omitted from the request.
type RecommendationParams struct {
	Limit              int     `json:"limit"`
	MinPopularity      int     `json:"minPopularity,omitempty"`
	TargetEnergy       float64 `json:"targetEnergy,omitempty"`
	TargetDanceability float64 `json:"targetDanceability,omitempty"`
	TargetAcousticness float64 `json:"targetAcousticness,omitempty"`
	MinTempo           int     `json:"minTempo,omitempty"`
	MaxTempo           int     `json:"maxTempo,omitempty"`
}

// Theme is a static playlist archetype. Exactly five exist; order matters
// only for display.
type Theme struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Strategy    SeedStrategy         `json:"strategy"`
	Params      RecommendationParams `json:"params"`
}

// TimeframeOption maps a user-facing window key to its lookback and the
// upstream ranking window to request when supplementing.
type TimeframeOption struct {
	Days         int    `json:"days"`
	Label        string `json:"label"`
	SpotifyRange string `json:"spotifyRange"` // "short_term" or "medium_term"
}

// Preferences are the user-tunable playlist parameters, persisted
// externally. Lists are capped at 15 entries; Timeframe must be a
// configured key. Invalid values fail the write.
type Preferences struct {
	Timeframe       string   `json:"timeframe"`
	ExcludeListened bool     `json:"excludeListened"`
	Genres          []string `json:"genres"`
	DiscoveryGenres []string `json:"discoveryGenres"`
	ExcludedGenres  []string `json:"excludedGenres"`
}

// PreferencesUpdate is a partial preferences write; nil fields are left
// unchanged.
type PreferencesUpdate struct {
	Timeframe       *string   `json:"timeframe,omitempty"`
	ExcludeListened *bool     `json:"excludeListened,omitempty"`
	Genres          *[]string `json:"genres,omitempty"`
	DiscoveryGenres *[]string `json:"discoveryGenres,omitempty"`
	ExcludedGenres  *[]string `json:"excludedGenres,omitempty"`
}

// SeedSet carries the up-to-5 combined seed identifiers passed to the
// upstream recommendation endpoint.
type SeedSet struct {
	Artists []string `json:"artists"`
	Tracks  []string `json:"tracks"`
	Genres  []string `json:"genres"`
}

// Total returns the combined seed count across all kinds.
func (s SeedSet) Total() int {
	return len(s.Artists) + len(s.Tracks) + len(s.Genres)
}

// IsEmpty reports whether no seeds of any kind could be formed.
func (s SeedSet) IsEmpty() bool {
	return s.Total() == 0
}

// Track is a recommended track as returned to the dashboard.
type Track struct {
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	URL        string `json:"url"`
	URI        string `json:"uri"`
	ImageURL   string `json:"image"`
	PreviewURL string `json:"previewUrl,omitempty"`
}

// ThemePlaylist is one theme's output. An empty track list with a
// non-empty Message is a valid, user-visible outcome, not an error.
type ThemePlaylist struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Tracks      []Track `json:"tracks"`
	Message     string  `json:"message,omitempty"`
}

// ResultStats summarizes the signal a recommendation run was built from.
type ResultStats struct {
	TotalPlays     int    `json:"totalPlays"`
	UniqueTracks   int    `json:"uniqueTracks"`
	UniqueGenres   int    `json:"uniqueGenres"`
	Timeframe      string `json:"timeframe"`
	TimeframeLabel string `json:"timeframeLabel"`
	Supplemented   bool   `json:"supplemented"`
}

// RecommendationResult is the per-request output across all five themes.
type RecommendationResult struct {
	Playlists   []ThemePlaylist `json:"playlists"`
	Preferences Preferences     `json:"preferences"`
	Stats       ResultStats     `json:"stats"`
}

// RefreshSummary reports a scheduled batch run. Errors is capped at the
// first ten per-user failures.
type RefreshSummary struct {
	RunID          string   `json:"runId"`
	UsersProcessed int      `json:"usersProcessed"`
	UsersFailed    int      `json:"usersFailed"`
	Errors         []string `json:"errors"`
}
