// Package jobs registers the four handlers the worker pool dispatches
// (enrich_row, competitor_scrape, analytics_summary, index_compute),
// wiring together the component packages (enrichment, competitor, index)
// the rest of the module implements in isolation.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/jengu/pricing-core/internal/competitor"
	"github.com/jengu/pricing-core/internal/enrichment"
	"github.com/jengu/pricing-core/internal/index"
	"github.com/jengu/pricing-core/internal/queue"
	"github.com/jengu/pricing-core/internal/store"
	"github.com/jengu/pricing-core/internal/worker"
)

// batchLimit bounds how many properties a single batch job (no specific
// property_id in its payload) processes per run, so a cron tick never
// blocks a worker goroutine indefinitely.
const batchLimit = 100

// Registrar holds everything the four handlers need and registers them
// onto a worker.Pool.
type Registrar struct {
	Properties *store.PropertyRepository
	Rows       *store.PricingRowRepository
	Pipeline   *enrichment.Pipeline
	Scraper    *competitor.Scraper
	IndexEng   *index.Engine
	Log        zerolog.Logger
}

type enrichRowPayload struct {
	PropertyID string `json:"property_id" msgpack:"property_id"`
}

// Register binds all four handlers onto pool, one per (queue, job name)
// pair (spec.md §4.E).
func (reg *Registrar) Register(pool *worker.Pool) {
	pool.Register(queue.QueueEnrichment, queue.JobNameEnrichRow, reg.handleEnrichRow)
	pool.Register(queue.QueueCompetitor, queue.JobNameCompetitorScrape, reg.handleCompetitorScrape)
	pool.Register(queue.QueueAnalytics, queue.JobNameAnalyticsSummary, reg.handleAnalyticsSummary)
	pool.Register(queue.QueueAnalytics, queue.JobNameIndexCompute, reg.handleIndexCompute)
}

// handleEnrichRow runs the weather/holiday enrichment pipeline for one
// property (spec.md §4.C), dispatched by POST /enrichment/start.
func (reg *Registrar) handleEnrichRow(ctx context.Context, job *queue.Job, progress *queue.ProgressReporter) (any, error) {
	var payload enrichRowPayload
	if err := msgpack.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode enrich_row payload: %w", err)
	}

	property, err := reg.Properties.Get(payload.PropertyID)
	if err != nil {
		return nil, err
	}
	if property.EnrichmentStatus != store.EnrichmentPending {
		if err := reg.Properties.TransitionStatus(property.PropertyID, store.EnrichmentPending, nil); err != nil {
			return nil, err
		}
	}
	if err := reg.Properties.TransitionStatus(property.PropertyID, store.EnrichmentProcessing, nil); err != nil {
		return nil, err
	}

	rows, err := reg.Rows.ForProperty(property.PropertyID)
	if err != nil {
		return nil, fmt.Errorf("load pricing rows for %q: %w", property.PropertyID, err)
	}

	result, runErr := reg.Pipeline.Run(ctx, property, rows, progress)
	if runErr != nil {
		errMsg := runErr.Error()
		_ = reg.Properties.TransitionStatus(property.PropertyID, store.EnrichmentFailed, &errMsg)
		return nil, runErr
	}

	for _, row := range rows {
		if err := reg.Rows.UpsertEnrichmentNullOnly(row); err != nil {
			reg.Log.Error().Err(err).Str("row_id", row.RowID).Msg("failed to persist enriched row")
		}
	}

	if err := reg.Properties.TransitionStatus(property.PropertyID, store.EnrichmentCompleted, nil); err != nil {
		return nil, err
	}

	return result, nil
}

// handleCompetitorScrape refreshes the competitor graph for every
// property due for a refresh and every property missing one altogether
// (the competitor-daily and graph-build schedules both land here, since
// refresh and first-build are the same operation over different sets).
func (reg *Registrar) handleCompetitorScrape(ctx context.Context, job *queue.Job, progress *queue.ProgressReporter) (any, error) {
	due, err := reg.Properties.DueForScrape(batchLimit)
	if err != nil {
		return nil, fmt.Errorf("load properties due for scrape: %w", err)
	}
	missing, err := reg.Properties.WithoutGraph(batchLimit)
	if err != nil {
		return nil, fmt.Errorf("load properties without graph: %w", err)
	}

	seen := make(map[string]bool, len(due)+len(missing))
	targets := make([]*store.Property, 0, len(due)+len(missing))
	for _, p := range append(due, missing...) {
		if seen[p.PropertyID] {
			continue
		}
		seen[p.PropertyID] = true
		targets = append(targets, p)
	}

	refreshed, failed := 0, 0
	for i, p := range targets {
		if _, err := reg.Scraper.Refresh(ctx, p); err != nil {
			reg.Log.Warn().Err(err).Str("property_id", p.PropertyID).Msg("competitor scrape failed")
			failed++
			continue
		}
		next := time.Now().UTC().Add(24 * time.Hour)
		p.NextScrapeAt = &next
		if err := reg.Properties.Upsert(p); err != nil {
			reg.Log.Warn().Err(err).Str("property_id", p.PropertyID).Msg("failed to persist next_scrape_at")
		}
		refreshed++
		progress.Report(i+1, len(targets), "scraping competitors")
	}

	return map[string]int{"refreshed": refreshed, "failed": failed}, nil
}

// handleAnalyticsSummary computes a per-property price/occupancy summary
// once enrichment finishes (auto-chained by enrichment.Pipeline.Run,
// spec.md §4.C scenario S7).
func (reg *Registrar) handleAnalyticsSummary(ctx context.Context, job *queue.Job, progress *queue.ProgressReporter) (any, error) {
	var payload enrichRowPayload
	if err := msgpack.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode analytics_summary payload: %w", err)
	}

	rows, err := reg.Rows.ForProperty(payload.PropertyID)
	if err != nil {
		return nil, fmt.Errorf("load pricing rows for %q: %w", payload.PropertyID, err)
	}

	var priceSum float64
	var occupancySum float64
	var occupancyCount int
	for _, row := range rows {
		priceSum += row.Price
		if row.Occupancy != nil {
			occupancySum += *row.Occupancy
			occupancyCount++
		}
	}

	summary := map[string]any{
		"property_id": payload.PropertyID,
		"row_count":   len(rows),
	}
	if len(rows) > 0 {
		summary["avg_price"] = priceSum / float64(len(rows))
	}
	if occupancyCount > 0 {
		summary["avg_occupancy"] = occupancySum / float64(occupancyCount)
	}

	reg.Log.Info().Interface("summary", summary).Msg("analytics summary computed")
	return summary, nil
}

// handleIndexCompute recomputes the neighborhood index for every property
// that has a competitor graph (spec.md §4.J), using each property's most
// recent pricing row as the current price.
func (reg *Registrar) handleIndexCompute(ctx context.Context, job *queue.Job, progress *queue.ProgressReporter) (any, error) {
	properties, err := reg.Properties.WithGraph()
	if err != nil {
		return nil, fmt.Errorf("load properties with graph: %w", err)
	}

	computed, skipped, failed := 0, 0, 0
	for i, p := range properties {
		rows, err := reg.Rows.ForProperty(p.PropertyID)
		if err != nil {
			failed++
			continue
		}
		if len(rows) == 0 {
			skipped++
			continue
		}
		latest := rows[len(rows)-1]

		today := time.Now().UTC().Format("2006-01-02")
		if _, err := reg.IndexEng.Compute(p.PropertyID, latest.Price, today); err != nil {
			if err == index.ErrInsufficientData {
				skipped++
				continue
			}
			reg.Log.Warn().Err(err).Str("property_id", p.PropertyID).Msg("index compute failed")
			failed++
			continue
		}
		computed++
		progress.Report(i+1, len(properties), "computing neighborhood index")
	}

	return map[string]int{"computed": computed, "skipped": skipped, "failed": failed}, nil
}
