package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 1000*time.Millisecond, NextBackoff(1000, 1))
	assert.Equal(t, 2000*time.Millisecond, NextBackoff(1000, 2))
	assert.Equal(t, 4000*time.Millisecond, NextBackoff(1000, 3))
	// attemptsMade below 1 is treated as the first attempt.
	assert.Equal(t, 1000*time.Millisecond, NextBackoff(1000, 0))
}

func TestValidJobName(t *testing.T) {
	assert.True(t, ValidJobName(QueueEnrichment, JobNameEnrichRow))
	assert.False(t, ValidJobName(QueueEnrichment, JobNameCompetitorScrape))
	assert.True(t, ValidJobName(QueueAnalytics, JobNameAnalyticsSummary))
	assert.True(t, ValidJobName(QueueAnalytics, JobNameIndexCompute))
	assert.False(t, ValidJobName("unknown_queue", JobNameEnrichRow))
}

func TestIDPrefix(t *testing.T) {
	assert.Equal(t, "enrich-", IDPrefix(JobNameEnrichRow))
	assert.Equal(t, "competitor-", IDPrefix(JobNameCompetitorScrape))
	assert.Equal(t, "analytics-", IDPrefix(JobNameAnalyticsSummary))
	assert.Equal(t, "index-", IDPrefix(JobNameIndexCompute))
}
