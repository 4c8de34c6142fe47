package engine

import "github.com/tunedeck/tunedeck/models"

// Supplementation thresholds. Taste themes need enough repeat listens
// to rank artists and tracks; genre themes need enough genre spread.
const (
	tasteMinPlays        = 60
	tasteMinUniqueTracks = 25
	tastePlaysPerTrack   = 2.5

	genreMinPlays        = 80
	genreMinUniqueGenres = 8
	genrePlaysPerGenre   = 10
	genreCountFloor      = 8
	genreCountCeil       = 15
)

// shouldSupplement decides whether local history alone is statistically
// rich enough for a theme, or whether live upstream data must be merged
// in. Thresholds scale with observed history richness.
func shouldSupplement(stats models.TasteStats, strategy models.SeedStrategy, selectedGenres int) bool {
	if strategy == models.SeedStrategyTaste {
		threshold := tasteMinPlays
		if scaled := int(tastePlaysPerTrack * float64(stats.UniqueTracks)); scaled > threshold {
			threshold = scaled
		}
		return stats.N < threshold || stats.UniqueTracks < tasteMinUniqueTracks
	}

	g := selectedGenres
	if g < genreCountFloor {
		g = genreCountFloor
	}
	if g > genreCountCeil {
		g = genreCountCeil
	}
	threshold := genreMinPlays
	if scaled := genrePlaysPerGenre * g; scaled > threshold {
		threshold = scaled
	}
	return stats.N < threshold || stats.UniqueGenres < genreMinUniqueGenres
}
