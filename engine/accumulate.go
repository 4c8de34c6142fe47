package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/tunedeck/tunedeck/models"
	"github.com/tunedeck/tunedeck/spotify"
)

// recordRecentPlays captures the user's latest upstream play events into
// the durable history log, enriched with artist genres. Accumulation is
// best effort: any failure yields 0 and the request continues on
// whatever history already exists.
func (e *Engine) recordRecentPlays(ctx context.Context, userID, token string) int {
	played, err := e.upstream.RecentlyPlayed(ctx, token)
	if err != nil {
		e.logger.WithError(err).WithField("userId", userID).Warn("Failed to fetch recent plays for accumulation")
		return 0
	}
	if len(played) == 0 {
		return 0
	}

	artistIDs := uniqueArtistIDs(played)
	genresByArtist := e.upstream.ArtistGenres(ctx, token, artistIDs)

	expiresAt := time.Now().Add(HistoryRetention).Unix()
	records := make([]models.PlayRecord, 0, len(played))
	for _, item := range played {
		if item.Track.ID == "" || item.PlayedAt == "" {
			continue
		}
		playedAtMs, err := spotify.ParsePlayedAt(item.PlayedAt)
		if err != nil {
			e.logger.WithError(err).Debug("Skipping play event with unparseable timestamp")
			continue
		}

		ids := make([]string, 0, len(item.Track.Artists))
		names := make([]string, 0, len(item.Track.Artists))
		genreSet := make(map[string]struct{})
		for _, artist := range item.Track.Artists {
			if artist.ID != "" {
				ids = append(ids, artist.ID)
				for _, g := range genresByArtist[artist.ID] {
					genreSet[g] = struct{}{}
				}
			}
			names = append(names, artist.Name)
		}

		records = append(records, models.PlayRecord{
			UserID:     userID,
			PlayedAt:   playedAtMs,
			TrackID:    item.Track.ID,
			TrackName:  item.Track.Name,
			ArtistName: joinNames(names),
			AlbumName:  item.Track.AlbumName,
			ArtistIDs:  ids,
			Genres:     sortedKeys(genreSet),
			ImageURL:   item.Track.ImageURL,
			URI:        item.Track.URI,
			SpotifyURL: item.Track.SpotifyURL,
			ExpiresAt:  expiresAt,
		})
	}

	written, err := e.history.WritePlayRecords(records)
	if err != nil {
		e.logger.WithError(err).WithField("userId", userID).Warn("Failed to persist accumulated plays")
		return 0
	}
	return written
}

// buildSupplement pulls live upstream listening data for merging and
// exclusion. Each fetch degrades independently; a fully empty
// supplement is a valid outcome.
func (e *Engine) buildSupplement(ctx context.Context, token, timeframe string) models.Supplement {
	tf, ok := Timeframes[timeframe]
	if !ok {
		tf = Timeframes[DefaultTimeframe]
	}

	var recent []models.PlayItem
	played, err := e.upstream.RecentlyPlayed(ctx, token)
	if err != nil {
		e.logger.WithError(err).Warn("Supplement: recently-played fetch failed")
	} else {
		for _, item := range played {
			recent = append(recent, playItemFromTrack(item.Track))
		}
	}

	var top []models.PlayItem
	topTracks, err := e.upstream.TopTracks(ctx, token, tf.SpotifyRange)
	if err != nil {
		e.logger.WithError(err).Warn("Supplement: top-tracks fetch failed")
	} else {
		for _, track := range topTracks {
			top = append(top, playItemFromTrack(track))
		}
	}

	var artists []models.SupplementArtist
	genresByArtist := make(map[string][]string)
	topArtists, err := e.upstream.TopArtists(ctx, token, tf.SpotifyRange)
	if err != nil {
		e.logger.WithError(err).Warn("Supplement: top-artists fetch failed")
	} else {
		for _, artist := range topArtists {
			artists = append(artists, models.SupplementArtist{
				ArtistID:   artist.ID,
				ArtistName: artist.Name,
				Genres:     artist.Genres,
			})
			if artist.ID != "" {
				genresByArtist[artist.ID] = artist.Genres
			}
		}
	}

	tracks := make([]models.PlayItem, 0, len(recent)+len(top))
	tracks = append(tracks, recent...)
	tracks = append(tracks, top...)
	for i := range tracks {
		genreSet := make(map[string]struct{})
		for _, aid := range tracks[i].ArtistIDs {
			for _, g := range genresByArtist[aid] {
				genreSet[g] = struct{}{}
			}
		}
		tracks[i].Genres = sortedKeys(genreSet)
	}

	return models.Supplement{
		Tracks:         tracks,
		Recent:         recent,
		Artists:        artists,
		GenresByArtist: genresByArtist,
	}
}

func playItemFromTrack(track spotify.Track) models.PlayItem {
	ids := make([]string, 0, len(track.Artists))
	names := make([]string, 0, len(track.Artists))
	for _, artist := range track.Artists {
		if artist.ID != "" {
			ids = append(ids, artist.ID)
		}
		names = append(names, artist.Name)
	}
	return models.PlayItem{
		TrackID:    track.ID,
		TrackName:  track.Name,
		ArtistName: joinNames(names),
		ArtistIDs:  ids,
	}
}

func uniqueArtistIDs(played []spotify.PlayedTrack) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, item := range played {
		for _, artist := range item.Track.Artists {
			if artist.ID == "" {
				continue
			}
			if _, ok := seen[artist.ID]; ok {
				continue
			}
			seen[artist.ID] = struct{}{}
			ids = append(ids, artist.ID)
		}
	}
	return ids
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func joinNames(names []string) string {
	return strings.Join(names, ", ")
}
