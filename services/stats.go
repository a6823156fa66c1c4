package services

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"fipe-harvester/models"
	"fipe-harvester/utils"
)

// StatsSnapshot is a point-in-time view of the upstream request counters.
type StatsSnapshot struct {
	Total             int
	Succeeded         int
	Throttled         int
	Failed            int
	SuccessRate       float64
	RequestsPerSecond float64
	Duration          time.Duration
	ByEndpoint        map[string]int
}

// Stats collects upstream request counters for reporting. Nothing in the
// crawl reads them back to make decisions.
type Stats struct {
	logger *utils.Logger
	every  int

	mu         sync.Mutex
	start      time.Time
	total      int
	succeeded  int
	throttled  int
	failed     int
	byEndpoint map[string]int
	recent     [2]time.Time
}

// NewStats creates a collector that logs a snapshot every `every` requests (0 disables).
func NewStats(logger *utils.Logger, every int) *Stats {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Stats{
		logger:     logger,
		every:      every,
		byEndpoint: make(map[string]int),
	}
}

// RequestIssued counts one outbound HTTP attempt.
func (s *Stats) RequestIssued(endpoint string) {
	s.mu.Lock()
	now := time.Now()
	if s.start.IsZero() {
		s.start = now
	}
	s.total++
	s.byEndpoint[endpoint]++
	s.recent[0], s.recent[1] = s.recent[1], now
	logNow := s.every > 0 && s.total%s.every == 0
	s.mu.Unlock()

	if logNow {
		s.logSnapshot("[stats] request statistics")
	}
}

// RequestSucceeded counts an attempt that returned a usable response.
func (s *Stats) RequestSucceeded(string) {
	s.mu.Lock()
	s.succeeded++
	s.mu.Unlock()
}

// RequestThrottled counts a 429 response and logs the current statistics.
func (s *Stats) RequestThrottled(endpoint string, wait time.Duration) {
	s.mu.Lock()
	s.throttled++
	s.mu.Unlock()

	s.logger.Warn("[stats] rate limit hit on %s, waiting %v", endpoint, wait)
	s.logSnapshot("[stats] statistics at rate limit")
}

// RequestFailed counts a transport-level or unexpected failure.
func (s *Stats) RequestFailed(string, error) {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Total:      s.total,
		Succeeded:  s.succeeded,
		Throttled:  s.throttled,
		Failed:     s.failed,
		ByEndpoint: make(map[string]int, len(s.byEndpoint)),
	}
	for k, v := range s.byEndpoint {
		snap.ByEndpoint[k] = v
	}
	if s.total > 0 {
		snap.SuccessRate = float64(s.succeeded) / float64(s.total) * 100
		snap.Duration = time.Since(s.start)
	}
	if !s.recent[0].IsZero() {
		if gap := s.recent[1].Sub(s.recent[0]).Seconds(); gap > 0 {
			snap.RequestsPerSecond = 1 / gap
		}
	}
	return snap
}

// Run logs a snapshot every interval until ctx is done.
func (s *Stats) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.logSnapshot("[stats] periodic statistics")
		}
	}
}

func (s *Stats) logSnapshot(msg string) {
	snap := s.Snapshot()
	s.logger.With(
		utils.Int("total_requests", snap.Total),
		utils.String("success_rate", fmt.Sprintf("%.2f%%", snap.SuccessRate)),
		utils.Int("errors_429", snap.Throttled),
		utils.String("requests_per_second", fmt.Sprintf("%.2f", snap.RequestsPerSecond)),
		utils.Duration("duration", snap.Duration.Round(time.Millisecond)),
	).Info(msg)
}

// Print writes the end-of-run report.
func (s *Stats) Print(w io.Writer, r *models.RunReport) {
	snap := s.Snapshot()
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n%s\n", sep)
	fmt.Fprintf(w, "  FIPE CRAWL REPORT  run %s\n", r.RunID)
	fmt.Fprintf(w, "%s\n\n", sep)

	fmt.Fprintf(w, "  Overview\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Resumed from      : %s\n", r.StartStage)
	fmt.Fprintf(w, "  Reference period  : %d (%s)\n", r.Reference.Code, r.Reference.Label)
	fmt.Fprintf(w, "  Duration          : %v\n", r.Duration().Round(time.Second))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  Stages              fetched  written   failed  skipped\n")
	fmt.Fprintf(w, "  %s\n", thin)
	for st := models.FromReference; st <= models.FromPrices; st++ {
		sr := r.Stage(st)
		fmt.Fprintf(w, "  %-18s %8d %8d %8d %8d\n", st, sr.Fetched, sr.Written, sr.Failed, sr.Skipped)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  Requests\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Total        : %d\n", snap.Total)
	fmt.Fprintf(w, "  Success rate : %.2f%%\n", snap.SuccessRate)
	fmt.Fprintf(w, "  429 errors   : %d\n", snap.Throttled)
	fmt.Fprintf(w, "  Failures     : %d\n", snap.Failed)

	endpoints := make([]string, 0, len(snap.ByEndpoint))
	for ep := range snap.ByEndpoint {
		endpoints = append(endpoints, ep)
	}
	sort.Strings(endpoints)
	for _, ep := range endpoints {
		fmt.Fprintf(w, "  %-36s %d\n", ep, snap.ByEndpoint[ep])
	}

	fmt.Fprintf(w, "\n%s\n\n", sep)
}
