package engine

import (
	"sort"

	"github.com/tunedeck/tunedeck/models"
)

const topListCap = 20

// computeStats aggregates frequency statistics over a list of plays.
// Ranked lists break count ties by first appearance in the input so the
// same input always yields the same ordering.
func computeStats(plays []models.PlayItem) models.TasteStats {
	trackFreq := make(map[string]int)
	artistFreq := make(map[string]int)
	genreFreq := make(map[string]int)
	trackIDs := make(map[string]struct{})

	var trackOrder, artistOrder []string

	for _, play := range plays {
		if play.TrackID != "" {
			if _, seen := trackFreq[play.TrackID]; !seen {
				trackOrder = append(trackOrder, play.TrackID)
			}
			trackFreq[play.TrackID]++
			trackIDs[play.TrackID] = struct{}{}
		}
		for _, aid := range play.ArtistIDs {
			if aid == "" {
				continue
			}
			if _, seen := artistFreq[aid]; !seen {
				artistOrder = append(artistOrder, aid)
			}
			artistFreq[aid]++
		}
		for _, genre := range play.Genres {
			if genre != "" {
				genreFreq[genre]++
			}
		}
	}

	return models.TasteStats{
		N:            len(plays),
		UniqueTracks: len(trackIDs),
		UniqueGenres: len(genreFreq),
		TopTracks:    rankByCount(trackOrder, trackFreq),
		TopArtists:   rankByCount(artistOrder, artistFreq),
		GenreCounts:  genreFreq,
		TrackIDs:     trackIDs,
	}
}

func rankByCount(order []string, freq map[string]int) []models.FreqCount {
	ranked := make([]models.FreqCount, 0, len(order))
	for _, id := range order {
		ranked = append(ranked, models.FreqCount{ID: id, Count: freq[id]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if len(ranked) > topListCap {
		ranked = ranked[:topListCap]
	}
	return ranked
}

// topGenres returns genre names ranked by count descending, ties broken
// lexically for determinism.
func topGenres(genreCounts map[string]int) []string {
	genres := make([]string, 0, len(genreCounts))
	for g := range genreCounts {
		genres = append(genres, g)
	}
	sort.Slice(genres, func(i, j int) bool {
		if genreCounts[genres[i]] != genreCounts[genres[j]] {
			return genreCounts[genres[i]] > genreCounts[genres[j]]
		}
		return genres[i] < genres[j]
	})
	return genres
}
