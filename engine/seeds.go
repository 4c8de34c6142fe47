package engine

import "github.com/tunedeck/tunedeck/models"

const (
	maxTotalSeeds       = 5
	tasteArtistSeeds    = 3
	tasteTrackSeeds     = 2
	maxGenreSeeds       = 5
	fallbackArtistSeeds = 5
)

// seedContext carries the per-request inputs every theme's seed
// selection draws from.
type seedContext struct {
	history         models.TasteStats
	merged          *lazyStats
	available       []string
	availableSet    map[string]struct{}
	userGenres      []string
	discoveryGenres []string
	excludedGenres  map[string]struct{}
	genresByArtist  map[string][]string
}

// statsFor picks local or merged stats for one theme based on the
// supplementation policy.
func (c *seedContext) statsFor(strategy models.SeedStrategy, selectedGenres int) models.TasteStats {
	if shouldSupplement(c.history, strategy, selectedGenres) {
		return c.merged.Get()
	}
	return c.history
}

// selectSeeds builds a theme's seed set. Each strategy is independent;
// only the memoized merged stats are shared across themes.
func selectSeeds(theme models.Theme, ctx *seedContext) models.SeedSet {
	switch theme.Strategy {
	case models.SeedStrategyTaste:
		return tasteSeeds(ctx)
	case models.SeedStrategyGenres:
		return genreSeeds(ctx)
	case models.SeedStrategyDiscovery:
		return discoverySeeds(ctx)
	default:
		return models.SeedSet{}
	}
}

// tasteSeeds picks up to 3 top artists and 2 top tracks. Artists whose
// genres intersect the user's excluded genres are skipped during
// ranking when exclusions are set.
func tasteSeeds(ctx *seedContext) models.SeedSet {
	stats := ctx.statsFor(models.SeedStrategyTaste, len(ctx.userGenres))

	var artists []string
	if len(ctx.excludedGenres) > 0 && len(stats.TopArtists) > 0 {
		for _, candidate := range stats.TopArtists {
			if artistHasExcludedGenre(candidate.ID, ctx) {
				continue
			}
			artists = append(artists, candidate.ID)
			if len(artists) >= tasteArtistSeeds {
				break
			}
		}
	} else {
		for _, candidate := range stats.TopArtists {
			artists = append(artists, candidate.ID)
			if len(artists) >= tasteArtistSeeds {
				break
			}
		}
	}

	var tracks []string
	for _, candidate := range stats.TopTracks {
		tracks = append(tracks, candidate.ID)
		if len(tracks) >= tasteTrackSeeds {
			break
		}
	}
	if len(artists)+len(tracks) > maxTotalSeeds {
		keep := maxTotalSeeds - len(artists)
		if keep < 0 {
			keep = 0
		}
		tracks = tracks[:keep]
	}

	return models.SeedSet{Artists: artists, Tracks: tracks}
}

func artistHasExcludedGenre(artistID string, ctx *seedContext) bool {
	for _, genre := range ctx.genresByArtist[artistID] {
		if _, ok := ctx.excludedGenres[genre]; ok {
			return true
		}
	}
	return false
}

// genreSeeds prefers explicitly selected genres, then the top observed
// genres that are valid catalog entries, then top artists.
func genreSeeds(ctx *seedContext) models.SeedSet {
	stats := ctx.statsFor(models.SeedStrategyGenres, len(ctx.userGenres))

	if len(ctx.userGenres) > 0 {
		return models.SeedSet{Genres: capList(ctx.userGenres, maxGenreSeeds)}
	}

	var genres []string
	for _, genre := range topGenres(stats.GenreCounts) {
		if _, ok := ctx.availableSet[genre]; !ok {
			continue
		}
		genres = append(genres, genre)
		if len(genres) >= maxGenreSeeds {
			break
		}
	}
	if len(genres) > 0 {
		return models.SeedSet{Genres: genres}
	}

	var artists []string
	for _, candidate := range stats.TopArtists {
		artists = append(artists, candidate.ID)
		if len(artists) >= fallbackArtistSeeds {
			break
		}
	}
	return models.SeedSet{Artists: artists}
}

// discoverySeeds prefers selected discovery genres, then catalog genres
// the user has never been observed listening to, then the first catalog
// genres unconditionally.
func discoverySeeds(ctx *seedContext) models.SeedSet {
	stats := ctx.statsFor(models.SeedStrategyDiscovery, len(ctx.discoveryGenres))

	if len(ctx.discoveryGenres) > 0 {
		return models.SeedSet{Genres: capList(ctx.discoveryGenres, maxGenreSeeds)}
	}

	var genres []string
	for _, genre := range ctx.available {
		if _, heard := stats.GenreCounts[genre]; heard {
			continue
		}
		genres = append(genres, genre)
		if len(genres) >= maxGenreSeeds {
			break
		}
	}
	if len(genres) == 0 {
		genres = capList(ctx.available, maxGenreSeeds)
	}
	return models.SeedSet{Genres: genres}
}

func capList(list []string, max int) []string {
	if len(list) > max {
		return list[:max]
	}
	return list
}
