package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/jengu/pricing-core/internal/bus"
	"github.com/jengu/pricing-core/internal/competitor"
	"github.com/jengu/pricing-core/internal/database"
	"github.com/jengu/pricing-core/internal/enrichment"
	"github.com/jengu/pricing-core/internal/index"
	"github.com/jengu/pricing-core/internal/queue"
	"github.com/jengu/pricing-core/internal/store"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{Path: "file::memory:?cache=shared"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func floatPtr(v float64) *float64 { return &v }

type fakeCompetitorSource struct {
	candidates []competitor.Candidate
}

func (f *fakeCompetitorSource) Nearby(ctx context.Context, latitude, longitude float64, limit int) ([]competitor.Candidate, error) {
	return f.candidates, nil
}

func newTestRegistrar(t *testing.T, db *database.DB) *Registrar {
	t.Helper()
	properties := store.NewPropertyRepository(db.Conn())
	rows := store.NewPricingRowRepository(db.Conn())
	graph := store.NewCompetitorGraphRepository(db.Conn())

	return &Registrar{
		Properties: properties,
		Rows:       rows,
		Pipeline:   &enrichment.Pipeline{Properties: properties, Rows: rows, Log: zerolog.Nop()},
		Scraper:    &competitor.Scraper{Source: &fakeCompetitorSource{}, Graph: graph},
		IndexEng:   index.NewEngine(graph),
		Log:        zerolog.Nop(),
	}
}

func newTestJob(t *testing.T, payload any) *queue.Job {
	t.Helper()
	data, err := msgpack.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{Payload: data}
}

func newTestProgress() *queue.ProgressReporter {
	return queue.NewProgressReporter(bus.New(), "job-1", 0)
}

func TestHandleCompetitorScrapeRefreshesPropertiesWithoutGraph(t *testing.T) {
	db := newTestDB(t)
	reg := newTestRegistrar(t, db)
	lat, lon := 40.0, -73.0
	require.NoError(t, reg.Properties.Upsert(&store.Property{PropertyID: "prop-1", Latitude: &lat, Longitude: &lon}))

	reg.Scraper.Source = &fakeCompetitorSource{candidates: []competitor.Candidate{
		{CompetitorID: "c1", DistanceKM: floatPtr(1)},
		{CompetitorID: "c2", DistanceKM: floatPtr(2)},
		{CompetitorID: "c3", DistanceKM: floatPtr(3)},
	}}

	result, err := reg.handleCompetitorScrape(context.Background(), newTestJob(t, nil), newTestProgress())
	require.NoError(t, err)
	summary := result.(map[string]int)
	assert.Equal(t, 1, summary["refreshed"])
	assert.Equal(t, 0, summary["failed"])

	updated, err := reg.Properties.Get("prop-1")
	require.NoError(t, err)
	require.NotNil(t, updated.NextScrapeAt)
	assert.True(t, updated.NextScrapeAt.After(time.Now().UTC()))
}

func TestHandleCompetitorScrapeSkipsPropertiesWithoutCoordinates(t *testing.T) {
	db := newTestDB(t)
	reg := newTestRegistrar(t, db)
	require.NoError(t, reg.Properties.Upsert(&store.Property{PropertyID: "prop-no-coords"}))

	result, err := reg.handleCompetitorScrape(context.Background(), newTestJob(t, nil), newTestProgress())
	require.NoError(t, err)
	summary := result.(map[string]int)
	assert.Equal(t, 0, summary["refreshed"])
	assert.Equal(t, 1, summary["failed"])
}

func TestHandleIndexComputeSkipsPropertiesWithTooFewCompetitors(t *testing.T) {
	db := newTestDB(t)
	reg := newTestRegistrar(t, db)
	lat, lon := 40.0, -73.0
	property := &store.Property{PropertyID: "prop-2", Latitude: &lat, Longitude: &lon}
	require.NoError(t, reg.Properties.Upsert(property))
	require.NoError(t, reg.Rows.Insert(&store.PricingRow{RowID: "row-1", PropertyID: "prop-2", StayDate: "2026-06-01", Price: 150}))

	graph := store.NewCompetitorGraphRepository(db.Conn())
	require.NoError(t, graph.ReplaceGraph("prop-2", []*store.Competitor{
		{PropertyID: "prop-2", CompetitorID: "c1"},
	}))

	result, err := reg.handleIndexCompute(context.Background(), newTestJob(t, nil), newTestProgress())
	require.NoError(t, err)
	summary := result.(map[string]int)
	assert.Equal(t, 0, summary["computed"])
	assert.Equal(t, 1, summary["skipped"])
}

func TestHandleIndexComputeSkipsPropertiesWithoutRows(t *testing.T) {
	db := newTestDB(t)
	reg := newTestRegistrar(t, db)
	lat, lon := 40.0, -73.0
	property := &store.Property{PropertyID: "prop-3", Latitude: &lat, Longitude: &lon}
	require.NoError(t, reg.Properties.Upsert(property))

	graph := store.NewCompetitorGraphRepository(db.Conn())
	require.NoError(t, graph.ReplaceGraph("prop-3", []*store.Competitor{
		{PropertyID: "prop-3", CompetitorID: "c1"},
		{PropertyID: "prop-3", CompetitorID: "c2"},
		{PropertyID: "prop-3", CompetitorID: "c3"},
	}))

	result, err := reg.handleIndexCompute(context.Background(), newTestJob(t, nil), newTestProgress())
	require.NoError(t, err)
	summary := result.(map[string]int)
	assert.Equal(t, 0, summary["computed"])
	assert.Equal(t, 1, summary["skipped"])
}

func TestHandleAnalyticsSummaryComputesAverages(t *testing.T) {
	db := newTestDB(t)
	reg := newTestRegistrar(t, db)
	require.NoError(t, reg.Rows.Insert(&store.PricingRow{RowID: "row-1", PropertyID: "prop-4", StayDate: "2026-06-01", Price: 100, Occupancy: floatPtr(0.8)}))
	require.NoError(t, reg.Rows.Insert(&store.PricingRow{RowID: "row-2", PropertyID: "prop-4", StayDate: "2026-06-02", Price: 200, Occupancy: floatPtr(0.6)}))

	job := newTestJob(t, enrichRowPayload{PropertyID: "prop-4"})
	result, err := reg.handleAnalyticsSummary(context.Background(), job, newTestProgress())
	require.NoError(t, err)
	summary := result.(map[string]any)
	assert.Equal(t, 150.0, summary["avg_price"])
	assert.InDelta(t, 0.7, summary["avg_occupancy"], 0.0001)
}
