package services

import "sync"

// Stats is a point-in-time copy of the service counters
type Stats struct {
	SearchTotal   int64   `json:"search_total"`
	SearchErr     int64   `json:"search_err"`
	FeedbackTotal int64   `json:"feedback_total"`
	IndexTotal    int64   `json:"index_total"`
	AvgSearchMS   float64 `json:"avg_search_ms"`
}

// StatsTracker keeps service counters and an exponentially weighted
// moving average of search latency, all under one mutex.
type StatsTracker struct {
	mu    sync.Mutex
	stats Stats
}

// NewStatsTracker creates a zeroed tracker
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{}
}

// RecordSearch counts one search and folds its latency into the EMA
func (t *StatsTracker) RecordSearch(durationMS float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.SearchTotal++
	t.stats.AvgSearchMS = t.stats.AvgSearchMS*0.99 + durationMS*0.01
}

// RecordSearchError counts one failed search
func (t *StatsTracker) RecordSearchError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.SearchErr++
}

// IncrementIndex adds the number of chunks just ingested
func (t *StatsTracker) IncrementIndex(amount int) {
	if amount <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.IndexTotal += int64(amount)
}

// IncrementFeedback counts one feedback event
func (t *StatsTracker) IncrementFeedback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.FeedbackTotal++
}

// Snapshot returns a copy of the counters
func (t *StatsTracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}
