package spotify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tunedeck/tunedeck/errors"
	"github.com/tunedeck/tunedeck/models"
)

const (
	// ArtistBatchSize is the upstream cap on ids per artist lookup call.
	ArtistBatchSize = 50
	// MaxTotalSeeds is the hard upstream limit on combined seeds per
	// recommendation request.
	MaxTotalSeeds = 5
	// PlaylistAddBatchSize is the upstream cap on tracks per playlist
	// append call.
	PlaylistAddBatchSize = 100

	RecentlyPlayedLimit = 50
	TopItemsLimit       = 50

	requestTimeout = 15 * time.Second
)

// ArtistRef identifies an artist on a track.
type ArtistRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Track is a normalized upstream track.
type Track struct {
	ID         string
	Name       string
	URI        string
	SpotifyURL string
	AlbumName  string
	ImageURL   string
	PreviewURL string
	Artists    []ArtistRef
}

// PlayedTrack is one recently-played event: a track plus its upstream
// ISO-8601 play timestamp.
type PlayedTrack struct {
	Track    Track
	PlayedAt string
}

// Artist is a normalized upstream artist with genre tags.
type Artist struct {
	ID     string
	Name   string
	Genres []string
}

// TokenResponse is the accounts-endpoint reply to a token refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Client is a rate-limited Spotify Web API client.
type Client struct {
	http         *resty.Client
	apiURL       string
	accountsURL  string
	clientID     string
	clientSecret string
	limiter      *rate.Limiter
	logger       *logrus.Logger
}

// Config carries client construction parameters.
type Config struct {
	APIURL       string
	AccountsURL  string
	ClientID     string
	ClientSecret string
	RPS          float64
	Burst        int
}

func New(cfg Config, logger *logrus.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(requestTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &Client{
		http:         httpClient,
		apiURL:       strings.TrimRight(cfg.APIURL, "/"),
		accountsURL:  strings.TrimRight(cfg.AccountsURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		logger:       logger,
	}
}

// wire shapes

type trackJSON struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	URI          string `json:"uri"`
	PreviewURL   string `json:"preview_url"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
	Album struct {
		Name   string `json:"name"`
		Images []struct {
			URL string `json:"url"`
		} `json:"images"`
	} `json:"album"`
	Artists []ArtistRef `json:"artists"`
}

type artistJSON struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Genres []string `json:"genres"`
}

func (t trackJSON) normalize() Track {
	track := Track{
		ID:         t.ID,
		Name:       t.Name,
		URI:        t.URI,
		SpotifyURL: t.ExternalURLs.Spotify,
		AlbumName:  t.Album.Name,
		PreviewURL: t.PreviewURL,
		Artists:    t.Artists,
	}
	if len(t.Album.Images) > 0 {
		track.ImageURL = t.Album.Images[0].URL
	}
	return track
}

func (c *Client) get(ctx context.Context, token, path string, params map[string]string, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, errors.CategorySpotify, "RATE_LIMIT_WAIT", "rate limiter wait aborted")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParams(params).
		SetResult(result).
		Get(c.apiURL + path)
	if err != nil {
		return errors.Wrap(err, errors.CategorySpotify, "UPSTREAM_UNAVAILABLE", "upstream request failed").
			WithContext("path", path)
	}
	if resp.StatusCode() != http.StatusOK {
		return errors.ErrUpstreamStatus.
			WithContext("path", path).
			WithContext("status", resp.StatusCode())
	}
	return nil
}

// RecentlyPlayed fetches the user's most recent play events (max 50;
// the endpoint offers no time filtering).
func (c *Client) RecentlyPlayed(ctx context.Context, token string) ([]PlayedTrack, error) {
	var body struct {
		Items []struct {
			Track    trackJSON `json:"track"`
			PlayedAt string    `json:"played_at"`
		} `json:"items"`
	}

	err := c.get(ctx, token, "/me/player/recently-played",
		map[string]string{"limit": strconv.Itoa(RecentlyPlayedLimit)}, &body)
	if err != nil {
		return nil, err
	}

	played := make([]PlayedTrack, 0, len(body.Items))
	for _, item := range body.Items {
		played = append(played, PlayedTrack{Track: item.Track.normalize(), PlayedAt: item.PlayedAt})
	}
	return played, nil
}

// TopTracks fetches the user's top tracks for a ranking window
// ("short_term" or "medium_term").
func (c *Client) TopTracks(ctx context.Context, token, timeRange string) ([]Track, error) {
	var body struct {
		Items []trackJSON `json:"items"`
	}

	err := c.get(ctx, token, "/me/top/tracks",
		map[string]string{"limit": strconv.Itoa(TopItemsLimit), "time_range": timeRange}, &body)
	if err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, len(body.Items))
	for _, t := range body.Items {
		tracks = append(tracks, t.normalize())
	}
	return tracks, nil
}

// TopArtists fetches the user's top artists for a ranking window.
func (c *Client) TopArtists(ctx context.Context, token, timeRange string) ([]Artist, error) {
	var body struct {
		Items []artistJSON `json:"items"`
	}

	err := c.get(ctx, token, "/me/top/artists",
		map[string]string{"limit": strconv.Itoa(TopItemsLimit), "time_range": timeRange}, &body)
	if err != nil {
		return nil, err
	}

	artists := make([]Artist, 0, len(body.Items))
	for _, a := range body.Items {
		artists = append(artists, Artist{ID: a.ID, Name: a.Name, Genres: a.Genres})
	}
	return artists, nil
}

// ArtistGenres batch-resolves genre tags for a set of artist ids,
// issuing multiple calls when the set exceeds the upstream batch cap.
// Failed batches are logged and skipped so a partial map is still
// usable.
func (c *Client) ArtistGenres(ctx context.Context, token string, artistIDs []string) map[string][]string {
	genres := make(map[string][]string)

	for i := 0; i < len(artistIDs); i += ArtistBatchSize {
		end := i + ArtistBatchSize
		if end > len(artistIDs) {
			end = len(artistIDs)
		}
		batch := artistIDs[i:end]

		var body struct {
			Artists []artistJSON `json:"artists"`
		}
		err := c.get(ctx, token, "/artists", map[string]string{"ids": strings.Join(batch, ",")}, &body)
		if err != nil {
			c.logger.WithError(err).WithField("batch_size", len(batch)).Warn("Artist genre batch lookup failed")
			continue
		}

		for _, a := range body.Artists {
			if a.ID != "" {
				genres[a.ID] = a.Genres
			}
		}
	}

	return genres
}

// AvailableGenreSeeds fetches the catalog of valid genre seeds.
func (c *Client) AvailableGenreSeeds(ctx context.Context, token string) ([]string, error) {
	var body struct {
		Genres []string `json:"genres"`
	}

	err := c.get(ctx, token, "/recommendations/available-genre-seeds", nil, &body)
	if err != nil {
		return nil, err
	}
	return body.Genres, nil
}

// Recommendations fetches recommended tracks for up to 5 combined
// seeds. A request with zero seeds is refused locally.
func (c *Client) Recommendations(ctx context.Context, token string, seeds models.SeedSet, params models.RecommendationParams) ([]models.Track, error) {
	if seeds.IsEmpty() {
		return nil, errors.ErrNoSeeds
	}

	query := map[string]string{}
	if params.Limit > 0 {
		query["limit"] = strconv.Itoa(params.Limit)
	}
	if params.MinPopularity > 0 {
		query["min_popularity"] = strconv.Itoa(params.MinPopularity)
	}
	if params.TargetEnergy > 0 {
		query["target_energy"] = formatFloat(params.TargetEnergy)
	}
	if params.TargetDanceability > 0 {
		query["target_danceability"] = formatFloat(params.TargetDanceability)
	}
	if params.TargetAcousticness > 0 {
		query["target_acousticness"] = formatFloat(params.TargetAcousticness)
	}
	if params.MinTempo > 0 {
		query["min_tempo"] = strconv.Itoa(params.MinTempo)
	}
	if params.MaxTempo > 0 {
		query["max_tempo"] = strconv.Itoa(params.MaxTempo)
	}

	if len(seeds.Artists) > 0 {
		query["seed_artists"] = strings.Join(capSeeds(seeds.Artists), ",")
	}
	if len(seeds.Tracks) > 0 {
		query["seed_tracks"] = strings.Join(capSeeds(seeds.Tracks), ",")
	}
	if len(seeds.Genres) > 0 {
		query["seed_genres"] = strings.Join(capSeeds(seeds.Genres), ",")
	}

	var body struct {
		Tracks []trackJSON `json:"tracks"`
	}
	if err := c.get(ctx, token, "/recommendations", query, &body); err != nil {
		return nil, err
	}

	tracks := make([]models.Track, 0, len(body.Tracks))
	for _, t := range body.Tracks {
		normalized := t.normalize()
		tracks = append(tracks, models.Track{
			Name:       normalized.Name,
			Artist:     joinArtistNames(normalized.Artists),
			Album:      normalized.AlbumName,
			URL:        normalized.SpotifyURL,
			URI:        normalized.URI,
			ImageURL:   normalized.ImageURL,
			PreviewURL: normalized.PreviewURL,
		})
	}
	return tracks, nil
}

// Me returns the authenticated user's upstream profile id.
func (c *Client) Me(ctx context.Context, token string) (string, error) {
	var body struct {
		ID string `json:"id"`
	}
	if err := c.get(ctx, token, "/me", nil, &body); err != nil {
		return "", err
	}
	return body.ID, nil
}

// CreatePlaylist creates an empty public playlist for the given upstream
// user and returns its id and URL.
func (c *Client) CreatePlaylist(ctx context.Context, token, spotifyUserID, name, description string) (string, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", "", errors.Wrap(err, errors.CategorySpotify, "RATE_LIMIT_WAIT", "rate limiter wait aborted")
	}

	var body struct {
		ID           string `json:"id"`
		ExternalURLs struct {
			Spotify string `json:"spotify"`
		} `json:"external_urls"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]interface{}{
			"name":        name,
			"description": description,
			"public":      true,
		}).
		SetResult(&body).
		Post(fmt.Sprintf("%s/users/%s/playlists", c.apiURL, spotifyUserID))
	if err != nil {
		return "", "", errors.Wrap(err, errors.CategorySpotify, "UPSTREAM_UNAVAILABLE", "playlist creation request failed")
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return "", "", errors.ErrUpstreamStatus.
			WithContext("path", "/users/{id}/playlists").
			WithContext("status", resp.StatusCode())
	}

	return body.ID, body.ExternalURLs.Spotify, nil
}

// AddPlaylistTracks appends track URIs to a playlist in batches. A
// failed batch is logged and skipped; later batches still run.
func (c *Client) AddPlaylistTracks(ctx context.Context, token, playlistID string, uris []string) error {
	for i := 0; i < len(uris); i += PlaylistAddBatchSize {
		end := i + PlaylistAddBatchSize
		if end > len(uris) {
			end = len(uris)
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return errors.Wrap(err, errors.CategorySpotify, "RATE_LIMIT_WAIT", "rate limiter wait aborted")
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetBody(map[string]interface{}{"uris": uris[i:end]}).
			Post(fmt.Sprintf("%s/playlists/%s/tracks", c.apiURL, playlistID))
		if err != nil || (resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated) {
			c.logger.WithError(err).WithFields(logrus.Fields{
				"playlistId": playlistID,
				"batch":      i / PlaylistAddBatchSize,
			}).Warn("Failed to append playlist track batch")
			continue
		}
	}
	return nil
}

// RefreshAccessToken exchanges a refresh token for a new access token at
// the accounts endpoint.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CategorySpotify, "RATE_LIMIT_WAIT", "rate limiter wait aborted")
	}

	var body TokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.clientID, c.clientSecret).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
		}).
		SetResult(&body).
		Post(c.accountsURL + "/api/token")
	if err != nil {
		return nil, errors.Wrap(err, errors.CategorySpotify, "UPSTREAM_UNAVAILABLE", "token refresh request failed")
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errors.ErrTokenRefresh.WithContext("status", resp.StatusCode())
	}

	return &body, nil
}

// ParsePlayedAt converts an upstream ISO-8601 play timestamp to epoch
// milliseconds. Upstream timestamps are UTC ("Z" suffixed).
func ParsePlayedAt(playedAt string) (int64, error) {
	t, err := time.Parse(time.RFC3339Nano, playedAt)
	if err != nil {
		return 0, errors.Wrap(err, errors.CategorySpotify, "INVALID_TIMESTAMP", "failed to parse played_at timestamp").
			WithContext("played_at", playedAt)
	}
	return t.UnixMilli(), nil
}

func capSeeds(seeds []string) []string {
	if len(seeds) > MaxTotalSeeds {
		return seeds[:MaxTotalSeeds]
	}
	return seeds
}

func joinArtistNames(artists []ArtistRef) string {
	names := make([]string, 0, len(artists))
	for _, a := range artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
