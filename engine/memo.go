package engine

import "github.com/tunedeck/tunedeck/models"

// lazyStats memoizes a merged-stats computation so at most one merge
// happens per request even when several themes need supplemented data.
type lazyStats struct {
	compute  func() models.TasteStats
	computed bool
	stats    models.TasteStats
}

func newLazyStats(compute func() models.TasteStats) *lazyStats {
	return &lazyStats{compute: compute}
}

func (l *lazyStats) Get() models.TasteStats {
	if !l.computed {
		l.stats = l.compute()
		l.computed = true
	}
	return l.stats
}

// Used reports whether the merged stats were ever materialized.
func (l *lazyStats) Used() bool {
	return l.computed
}
