package competitor

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengu/pricing-core/internal/database"
	"github.com/jengu/pricing-core/internal/store"
)

func newTestGraph(t *testing.T) *store.CompetitorGraphRepository {
	t.Helper()
	db, err := database.New(database.Config{Path: "file::memory:?cache=shared"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return store.NewCompetitorGraphRepository(db.Conn())
}

func floatPtr(v float64) *float64 { return &v }

type fakeSource struct {
	candidates []Candidate
	err        error
	lastLimit  int
}

func (f *fakeSource) Nearby(ctx context.Context, latitude, longitude float64, limit int) ([]Candidate, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.candidates, nil
}

func TestUnconfiguredAlwaysErrors(t *testing.T) {
	_, err := Unconfigured{}.Nearby(context.Background(), 40.7, -74.0, 10)
	assert.Error(t, err)
}

func TestRefreshRejectsPropertyWithoutCoordinates(t *testing.T) {
	s := &Scraper{Source: Unconfigured{}, Graph: newTestGraph(t)}
	property := &store.Property{PropertyID: "prop-1"}

	_, err := s.Refresh(context.Background(), property)
	assert.Error(t, err)
}

func TestRefreshPersistsCandidatesAsCompetitors(t *testing.T) {
	graph := newTestGraph(t)
	source := &fakeSource{candidates: []Candidate{
		{CompetitorID: "comp-1", DistanceKM: floatPtr(1.2), StarRating: floatPtr(4.5), ReviewScore: floatPtr(88)},
		{CompetitorID: "comp-2", DistanceKM: floatPtr(3.4), StarRating: floatPtr(3.9), ReviewScore: floatPtr(72)},
	}}
	s := &Scraper{Source: source, Graph: graph}
	lat, lon := 40.7128, -74.0060
	property := &store.Property{PropertyID: "prop-1", Latitude: &lat, Longitude: &lon}

	n, err := s.Refresh(context.Background(), property)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, MaxCompetitors, source.lastLimit)

	stored, err := graph.Graph("prop-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "comp-1", stored[0].CompetitorID)
}

func TestRefreshTruncatesToMaxCompetitors(t *testing.T) {
	candidates := make([]Candidate, MaxCompetitors+10)
	for i := range candidates {
		candidates[i] = Candidate{CompetitorID: "comp-" + strconv.Itoa(i)}
	}
	source := &fakeSource{candidates: candidates}
	s := &Scraper{Source: source, Graph: newTestGraph(t)}
	lat, lon := 10.0, 20.0
	property := &store.Property{PropertyID: "prop-2", Latitude: &lat, Longitude: &lon}

	n, err := s.Refresh(context.Background(), property)
	require.NoError(t, err)
	assert.Equal(t, MaxCompetitors, n)
}

func TestRefreshReplacesExistingGraph(t *testing.T) {
	graph := newTestGraph(t)
	lat, lon := 10.0, 20.0
	property := &store.Property{PropertyID: "prop-3", Latitude: &lat, Longitude: &lon}

	first := &fakeSource{candidates: []Candidate{{CompetitorID: "old-1"}}}
	s := &Scraper{Source: first, Graph: graph}
	_, err := s.Refresh(context.Background(), property)
	require.NoError(t, err)

	second := &fakeSource{candidates: []Candidate{{CompetitorID: "new-1"}}}
	s.Source = second
	_, err = s.Refresh(context.Background(), property)
	require.NoError(t, err)

	stored, err := graph.Graph("prop-3")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "new-1", stored[0].CompetitorID)
}

func TestRefreshPropagatesSourceError(t *testing.T) {
	source := &fakeSource{err: assert.AnError}
	s := &Scraper{Source: source, Graph: newTestGraph(t)}
	lat, lon := 10.0, 20.0
	property := &store.Property{PropertyID: "prop-4", Latitude: &lat, Longitude: &lon}

	_, err := s.Refresh(context.Background(), property)
	assert.Error(t, err)
}
