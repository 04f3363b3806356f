package probe

import (
	"context"
	"errors"
	"testing"

	"github.com/tailchase/tailchase/internal/wigle"
	"github.com/tailchase/tailchase/pkg/models"
	"go.uber.org/zap"
)

type fakeStore struct {
	stats []models.ProbeStat
	err   error
}

func (f *fakeStore) ProbeStats(context.Context) ([]models.ProbeStat, error) {
	return f.stats, f.err
}

type fakeLocator struct {
	calls    []string
	lastOpts *wigle.SearchOptions
	err      error
}

func (f *fakeLocator) SearchNetwork(_ context.Context, ssid string, opts *wigle.SearchOptions) (*wigle.SearchResponse, error) {
	f.calls = append(f.calls, ssid)
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &wigle.SearchResponse{
		Success: true,
		Results: []wigle.NetworkResult{{SSID: ssid, City: "Phoenix"}},
	}, nil
}

func TestAnalyze(t *testing.T) {
	store := &fakeStore{stats: []models.ProbeStat{
		{SSID: "HomeNet", Count: 12},
		{SSID: "police-van-3", Count: 2},
	}}
	loc := &fakeLocator{}

	a := NewAnalyzer(store, loc, nil, zap.NewNop())
	results, err := a.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	if results[0].Flagged {
		t.Error("ordinary SSID flagged")
	}
	if !results[1].Flagged || results[1].Reason == "" {
		t.Errorf("suspicious SSID not flagged: %+v", results[1])
	}
	if len(results[0].Locations) != 1 || results[0].Locations[0].City != "Phoenix" {
		t.Errorf("top SSID not geolocated: %+v", results[0])
	}
	if len(loc.calls) != 2 {
		t.Errorf("locator called %d times, want 2", len(loc.calls))
	}
}

func TestAnalyzeGeolocatesTopOnly(t *testing.T) {
	var stats []models.ProbeStat
	for i := 0; i < geolocateTop+5; i++ {
		stats = append(stats, models.ProbeStat{SSID: string(rune('a' + i)), Count: 100 - i})
	}
	loc := &fakeLocator{}

	a := NewAnalyzer(&fakeStore{stats: stats}, loc, nil, zap.NewNop())
	if _, err := a.Analyze(context.Background()); err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if len(loc.calls) != geolocateTop {
		t.Errorf("locator called %d times, want %d", len(loc.calls), geolocateTop)
	}
}

func TestAnalyzeLookupFailureNonFatal(t *testing.T) {
	store := &fakeStore{stats: []models.ProbeStat{{SSID: "HomeNet", Count: 1}}}
	loc := &fakeLocator{err: errors.New("quota exhausted")}

	a := NewAnalyzer(store, loc, nil, zap.NewNop())
	results, err := a.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if len(results) != 1 || results[0].Locations != nil {
		t.Errorf("results = %+v", results)
	}
}

func TestAnalyzeNoLocator(t *testing.T) {
	store := &fakeStore{stats: []models.ProbeStat{{SSID: "HomeNet", Count: 1}}}
	a := NewAnalyzer(store, nil, nil, zap.NewNop())

	results, err := a.Analyze(context.Background())
	if err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if results[0].Locations != nil {
		t.Error("locations set without a locator")
	}
}

func TestAnalyzeStoreError(t *testing.T) {
	a := NewAnalyzer(&fakeStore{err: errors.New("no such table")}, nil, nil, zap.NewNop())
	if _, err := a.Analyze(context.Background()); err == nil {
		t.Error("store failure should surface")
	}
}

func TestAnalyzeBoundsForwarded(t *testing.T) {
	store := &fakeStore{stats: []models.ProbeStat{{SSID: "HomeNet", Count: 1}}}
	loc := &fakeLocator{}
	bounds := &wigle.SearchOptions{
		LatRange1: 33.0, LatRange2: 34.0,
		LongRange1: -112.5, LongRange2: -111.5,
	}

	a := NewAnalyzer(store, loc, bounds, zap.NewNop())
	if _, err := a.Analyze(context.Background()); err != nil {
		t.Fatalf("Analyze() error: %v", err)
	}
	if loc.lastOpts != bounds {
		t.Errorf("bounds not forwarded: got %+v", loc.lastOpts)
	}
}
