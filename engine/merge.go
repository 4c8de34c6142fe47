package engine

import (
	"strings"

	"github.com/tunedeck/tunedeck/models"
)

// mergePlays combines local history with upstream supplement tracks.
// Local plays come first and win all conflicts; a supplement track is
// appended only when its id is not already present. Merging the result
// with the same supplement again is a no-op.
func mergePlays(history []models.PlayItem, supplement models.Supplement) []models.PlayItem {
	seen := make(map[string]struct{}, len(history))
	merged := make([]models.PlayItem, 0, len(history)+len(supplement.Tracks))

	for _, play := range history {
		merged = append(merged, play)
		if play.TrackID != "" {
			seen[play.TrackID] = struct{}{}
		}
	}

	for _, track := range supplement.Tracks {
		if track.TrackID == "" {
			continue
		}
		if _, ok := seen[track.TrackID]; ok {
			continue
		}
		merged = append(merged, track)
		seen[track.TrackID] = struct{}{}
	}

	return merged
}

// buildExclusionSet unions track ids the user has already heard: the
// windowed history plus the supplement's raw recently-played list. Top
// tracks are deliberately not excluded, only actual listens are.
func buildExclusionSet(history []models.PlayItem, recent []models.PlayItem) map[string]struct{} {
	excluded := make(map[string]struct{})
	for _, play := range history {
		if play.TrackID != "" {
			excluded[play.TrackID] = struct{}{}
		}
	}
	for _, track := range recent {
		if track.TrackID != "" {
			excluded[track.TrackID] = struct{}{}
		}
	}
	return excluded
}

// filterExclusions drops recommended tracks whose id resolves into the
// exclusion set. Tracks whose id cannot be resolved pass through.
func filterExclusions(tracks []models.Track, excluded map[string]struct{}) []models.Track {
	if len(excluded) == 0 {
		return tracks
	}

	filtered := make([]models.Track, 0, len(tracks))
	for _, track := range tracks {
		if tid := resolveTrackID(track); tid != "" {
			if _, ok := excluded[tid]; ok {
				continue
			}
		}
		filtered = append(filtered, track)
	}
	return filtered
}

// resolveTrackID extracts a track id from the URI, falling back to the
// last path segment of the share URL.
func resolveTrackID(track models.Track) string {
	if strings.HasPrefix(track.URI, "spotify:track:") {
		parts := strings.Split(track.URI, ":")
		return parts[len(parts)-1]
	}
	if track.URL != "" {
		trimmed := strings.TrimRight(track.URL, "/")
		if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
			segment := trimmed[idx+1:]
			if q := strings.Index(segment, "?"); q >= 0 {
				segment = segment[:q]
			}
			return segment
		}
	}
	return ""
}
