package watch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/config"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/orchestrate"
)

// DefaultLookback is the number of days, today included, re-crawled on every follow run.
const DefaultLookback = 3

// CrawlFunc crawls start..stop on portals and returns one result per portal.
type CrawlFunc func(ctx context.Context, portals []config.PortalConfig, start, stop time.Time) []orchestrate.PortalResult

// OrchestratorCrawl returns a CrawlFunc that runs a fresh Orchestrator over res for each call.
// Follow runs never force: completed cases stay untouched.
func OrchestratorCrawl(appCfg *config.AppConfig, res *orchestrate.Resources, log *logrus.Entry) CrawlFunc {
	return func(ctx context.Context, portals []config.PortalConfig, start, stop time.Time) []orchestrate.PortalResult {
		return orchestrate.NewOrchestrator(appCfg, portals, res, log).Crawl(ctx, start, stop, false)
	}
}

// Scheduler keeps the most recent days of a set of portals archived
type Scheduler struct {
	portals      []config.PortalConfig
	interval     time.Duration
	lookback     int
	crawl        CrawlFunc
	log          *logrus.Entry
	stateManager *StateManager
	now          func() time.Time
}

// NewScheduler creates a follow scheduler. lookback below 1 means DefaultLookback.
func NewScheduler(stateDir string, portals []config.PortalConfig, interval time.Duration, lookback int, crawl CrawlFunc, log *logrus.Entry) *Scheduler {
	if lookback < 1 {
		lookback = DefaultLookback
	}
	return &Scheduler{
		portals:      portals,
		interval:     interval,
		lookback:     lookback,
		crawl:        crawl,
		log:          log.WithField("component", "follow"),
		stateManager: NewStateManager(stateDir),
		now:          time.Now,
	}
}

// Run blocks, crawling due portals on every tick, until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("follow interval must be positive, got %v", s.interval)
	}
	if err := s.stateManager.Load(); err != nil {
		s.log.Warnf("Failed to load follow state: %v (starting fresh)", err)
	}

	s.log.Infof("Following %d portals every %s, %d days back", len(s.portals), FormatInterval(s.interval), s.lookback)
	s.logSchedule()

	s.RunDue(ctx)

	ticker := time.NewTicker(s.calculateTickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Follow scheduler shutting down...")
			return nil
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// Window returns the date range a follow run covers when started at now.
func (s *Scheduler) Window(now time.Time) (start, stop time.Time) {
	stop = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	start = stop.AddDate(0, 0, -(s.lookback - 1))
	return start, stop
}

// RunDue crawls the portals that are due and records the outcome. A run cut short by
// cancellation is not recorded, so it is repeated on the next start.
func (s *Scheduler) RunDue(ctx context.Context) {
	due := s.getDuePortals()
	if len(due) == 0 {
		s.logNextRun()
		return
	}

	start, stop := s.Window(s.now())
	keys := make([]string, len(due))
	for i, p := range due {
		keys[i] = p.Key
	}
	s.log.Infof("Running crawl of %s .. %s for %d due portals: %v",
		start.Format("2006-01-02"), stop.Format("2006-01-02"), len(due), keys)

	results := s.crawl(ctx, due, start, stop)
	if ctx.Err() != nil {
		return
	}

	for _, result := range results {
		errorMsg := ""
		if result.Error != nil {
			errorMsg = result.Error.Error()
		}
		s.stateManager.UpdatePortalState(result.PortalKey, PortalState{
			LastRunTime:    s.now(),
			LastRunSuccess: result.Success,
			WindowStart:    start.Format("2006-01-02"),
			WindowStop:     stop.Format("2006-01-02"),
			CasesArchived:  result.Summary.CasesArchived,
			CasesFailed:    result.Summary.CasesFailed,
			ErrorMessage:   errorMsg,
		})
	}
	if err := s.stateManager.Save(); err != nil {
		s.log.Errorf("Failed to save follow state: %v", err)
	}
	s.logNextRun()
}

// getDuePortals returns portals that are due for a crawl
func (s *Scheduler) getDuePortals() []config.PortalConfig {
	now := s.now()
	var due []config.PortalConfig
	for _, p := range s.portals {
		if s.stateManager.ShouldRun(p.Key, s.interval, now) {
			due = append(due, p)
		}
	}
	return due
}

// calculateTickInterval returns how often to check for due portals
func (s *Scheduler) calculateTickInterval() time.Duration {
	checkInterval := s.interval / 10
	if checkInterval < time.Minute {
		checkInterval = time.Minute
	}
	if checkInterval > 10*time.Minute {
		checkInterval = 10 * time.Minute
	}
	return checkInterval
}

func (s *Scheduler) logSchedule() {
	now := s.now()
	s.log.Info("Follow schedule:")
	for _, p := range s.portals {
		state, exists := s.stateManager.GetPortalState(p.Key)
		if !exists {
			s.log.Infof("  %s: never run, will run immediately", p.Key)
			continue
		}
		status := "success"
		if !state.LastRunSuccess {
			status = "failed"
		}
		s.log.Infof("  %s: last run %v (%s, %d archived), next run %v",
			p.Key,
			state.LastRunTime.Format(time.RFC3339),
			status,
			state.CasesArchived,
			s.stateManager.GetNextRunTime(p.Key, s.interval, now).Format(time.RFC3339))
	}
}

func (s *Scheduler) logNextRun() {
	if len(s.portals) == 0 {
		return
	}
	now := s.now()
	type next struct {
		portal string
		at     time.Time
	}
	nextRuns := make([]next, 0, len(s.portals))
	for _, p := range s.portals {
		nextRuns = append(nextRuns, next{p.Key, s.stateManager.GetNextRunTime(p.Key, s.interval, now)})
	}
	sort.Slice(nextRuns, func(i, j int) bool {
		return nextRuns[i].at.Before(nextRuns[j].at)
	})

	n := nextRuns[0]
	until := n.at.Sub(now)
	if until < 0 {
		until = 0
	}
	s.log.Infof("Next crawl: %s in %v (at %s)", n.portal, until.Round(time.Second), n.at.Format("15:04:05"))
}

// GetStatus returns the current status of all followed portals
func (s *Scheduler) GetStatus() map[string]PortalStatus {
	now := s.now()
	status := make(map[string]PortalStatus, len(s.portals))
	for _, p := range s.portals {
		state, exists := s.stateManager.GetPortalState(p.Key)
		status[p.Key] = PortalStatus{
			PortalKey:   p.Key,
			State:       state,
			NextRunTime: s.stateManager.GetNextRunTime(p.Key, s.interval, now),
			NeverRun:    !exists,
		}
	}
	return status
}

// PortalStatus contains the status of a followed portal
type PortalStatus struct {
	PortalKey   string
	State       PortalState
	NextRunTime time.Time
	NeverRun    bool
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string with support for days
func ParseInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	var days int
	var remaining string
	n, _ := fmt.Sscanf(s, "%dd%s", &days, &remaining)
	if n >= 1 {
		d = time.Duration(days) * 24 * time.Hour
		if remaining != "" {
			extra, err := time.ParseDuration(remaining)
			if err != nil {
				return 0, fmt.Errorf("invalid interval format: %s", s)
			}
			d += extra
		}
		return d, nil
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
