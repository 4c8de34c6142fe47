package engine

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/tunedeck/tunedeck/models"
)

func play(trackID string, artistIDs []string, genres []string) models.PlayItem {
	return models.PlayItem{
		TrackID:   trackID,
		ArtistIDs: artistIDs,
		Genres:    genres,
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	stats := computeStats(nil)

	if stats.N != 0 {
		t.Errorf("N = %d, want 0", stats.N)
	}
	if stats.UniqueTracks != 0 || stats.UniqueGenres != 0 {
		t.Errorf("unique counts = %d/%d, want 0/0", stats.UniqueTracks, stats.UniqueGenres)
	}
	if len(stats.TopTracks) != 0 || len(stats.TopArtists) != 0 {
		t.Error("expected empty top lists for empty input")
	}
}

func TestComputeStatsCounts(t *testing.T) {
	plays := []models.PlayItem{
		play("t1", []string{"a1"}, []string{"rock"}),
		play("t1", []string{"a1"}, []string{"rock"}),
		play("t2", []string{"a1", "a2"}, []string{"rock", "jazz"}),
		play("t3", []string{"a2"}, []string{"jazz"}),
	}

	stats := computeStats(plays)

	if stats.N != 4 {
		t.Errorf("N = %d, want 4", stats.N)
	}
	if stats.UniqueTracks != 3 {
		t.Errorf("UniqueTracks = %d, want 3", stats.UniqueTracks)
	}
	if stats.UniqueGenres != 2 {
		t.Errorf("UniqueGenres = %d, want 2", stats.UniqueGenres)
	}
	if stats.GenreCounts["rock"] != 3 {
		t.Errorf("rock count = %d, want 3", stats.GenreCounts["rock"])
	}
	if stats.GenreCounts["jazz"] != 2 {
		t.Errorf("jazz count = %d, want 2", stats.GenreCounts["jazz"])
	}

	if stats.TopTracks[0].ID != "t1" || stats.TopTracks[0].Count != 2 {
		t.Errorf("top track = %+v, want t1 with count 2", stats.TopTracks[0])
	}
	if stats.TopArtists[0].ID != "a1" || stats.TopArtists[0].Count != 3 {
		t.Errorf("top artist = %+v, want a1 with count 3", stats.TopArtists[0])
	}

	if _, ok := stats.TrackIDs["t2"]; !ok {
		t.Error("TrackIDs missing t2")
	}
}

func TestComputeStatsTieOrderIsFirstSeen(t *testing.T) {
	plays := []models.PlayItem{
		play("t1", nil, nil),
		play("t2", nil, nil),
		play("t3", nil, nil),
	}

	stats := computeStats(plays)

	got := []string{stats.TopTracks[0].ID, stats.TopTracks[1].ID, stats.TopTracks[2].ID}
	want := []string{"t1", "t2", "t3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tie order = %v, want %v", got, want)
	}
}

func TestComputeStatsTopListCap(t *testing.T) {
	var plays []models.PlayItem
	for i := 0; i < 30; i++ {
		plays = append(plays, play(fmt.Sprintf("t%d", i), []string{fmt.Sprintf("a%d", i)}, nil))
	}

	stats := computeStats(plays)

	if len(stats.TopTracks) != topListCap {
		t.Errorf("len(TopTracks) = %d, want %d", len(stats.TopTracks), topListCap)
	}
	if len(stats.TopArtists) != topListCap {
		t.Errorf("len(TopArtists) = %d, want %d", len(stats.TopArtists), topListCap)
	}
	if stats.UniqueTracks != 30 {
		t.Errorf("UniqueTracks = %d, want 30", stats.UniqueTracks)
	}
}

func TestComputeStatsSkipsEmptyIdentifiers(t *testing.T) {
	plays := []models.PlayItem{
		play("", []string{""}, []string{""}),
		play("t1", []string{"a1"}, []string{"rock"}),
	}

	stats := computeStats(plays)

	if stats.N != 2 {
		t.Errorf("N = %d, want 2 (plays count regardless of ids)", stats.N)
	}
	if stats.UniqueTracks != 1 {
		t.Errorf("UniqueTracks = %d, want 1", stats.UniqueTracks)
	}
	if len(stats.TopArtists) != 1 {
		t.Errorf("len(TopArtists) = %d, want 1", len(stats.TopArtists))
	}
	if stats.UniqueGenres != 1 {
		t.Errorf("UniqueGenres = %d, want 1", stats.UniqueGenres)
	}
}

func TestTopGenres(t *testing.T) {
	counts := map[string]int{"jazz": 2, "rock": 5, "ambient": 2, "pop": 1}

	got := topGenres(counts)
	want := []string{"rock", "ambient", "jazz", "pop"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("topGenres = %v, want %v", got, want)
	}
}
