package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/config"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/models"
)

// PortalResult contains the result of crawling a single portal
type PortalResult struct {
	PortalKey string
	Success   bool
	Error     error
	Summary   models.RunSummary
	Duration  time.Duration
}

// Orchestrator crawls several portals in parallel over shared resources. Each portal runs its own
// date walk; requests to one host stay bounded by the shared host pool and rate limiter.
type Orchestrator struct {
	appCfg  *config.AppConfig
	log     *logrus.Entry
	portals []config.PortalConfig
	res     *Resources
	runID   string

	results   []PortalResult
	resultsMu sync.Mutex
}

// NewOrchestrator creates an orchestrator for portals. All portal crawls share one run id.
func NewOrchestrator(appCfg *config.AppConfig, portals []config.PortalConfig, res *Resources, log *logrus.Entry) *Orchestrator {
	runID := uuid.NewString()
	return &Orchestrator{
		appCfg:  appCfg,
		log:     log.WithField("run_id", runID),
		portals: portals,
		res:     res,
		runID:   runID,
	}
}

// RunID identifies this orchestrated run.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Crawl walks start..stop on every portal and blocks until all of them finish or ctx is done.
// Results come back in portal order.
func (o *Orchestrator) Crawl(ctx context.Context, start, stop time.Time, force bool) []PortalResult {
	startTime := time.Now()
	keys := make([]string, len(o.portals))
	for i, p := range o.portals {
		keys[i] = p.Key
	}
	o.log.Infof("Starting parallel crawl of %d portals: %v", len(o.portals), keys)

	o.resultsMu.Lock()
	o.results = make([]PortalResult, len(o.portals))
	o.resultsMu.Unlock()

	var g errgroup.Group
	for i, portal := range o.portals {
		g.Go(func() error {
			result := o.crawlPortal(ctx, portal, start, stop, force)
			o.resultsMu.Lock()
			o.results[i] = result
			o.resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	o.logSummary(time.Since(startTime))
	return o.Results()
}

// Results returns a copy of the last Crawl's results.
func (o *Orchestrator) Results() []PortalResult {
	o.resultsMu.Lock()
	defer o.resultsMu.Unlock()
	out := make([]PortalResult, len(o.results))
	copy(out, o.results)
	return out
}

// crawlPortal crawls a single portal with shared resources
func (o *Orchestrator) crawlPortal(ctx context.Context, portal config.PortalConfig, start, stop time.Time, force bool) PortalResult {
	startTime := time.Now()
	result := PortalResult{PortalKey: portal.Key}

	c, err := o.res.NewCrawler(portal, o.runID)
	if err != nil {
		result.Error = fmt.Errorf("failed to create crawler for '%s': %w", portal.Key, err)
		o.log.Errorf("Failed to create crawler for portal '%s': %v", portal.Key, err)
		result.Duration = time.Since(startTime)
		return result
	}

	summary, err := c.Run(ctx, start, stop, force)
	result.Summary = summary
	result.Duration = time.Since(startTime)
	switch {
	case err != nil:
		result.Error = err
		o.log.Warnf("Crawl of portal '%s' stopped: %v", portal.Key, err)
	case summary.DatesFailed > 0:
		result.Error = fmt.Errorf("%d dates failed: %s", summary.DatesFailed, strings.Join(summary.FailedDates, ", "))
		o.log.Warnf("Crawl of portal '%s' finished with failed dates", portal.Key)
	default:
		result.Success = true
		o.log.Infof("Crawl completed for portal '%s'", portal.Key)
	}
	return result
}

// logSummary logs a summary of all crawl results
func (o *Orchestrator) logSummary(totalDuration time.Duration) {
	results := o.Results()
	o.log.Info("============================================")
	o.log.Infof("Parallel crawl completed in %v", totalDuration.Round(time.Millisecond))
	o.log.Info("Portal Results:")

	var totalCases, totalArchived int
	successCount, failCount := 0, 0
	for _, r := range results {
		status := "SUCCESS"
		switch {
		case errors.Is(r.Error, context.Canceled):
			status = "INTERRUPTED"
			failCount++
		case !r.Success:
			status = "FAILED"
			failCount++
		default:
			successCount++
		}
		totalCases += r.Summary.CasesTotal()
		totalArchived += r.Summary.CasesArchived

		o.log.Infof("  %s: %s - %d cases (%d archived) in %v", r.PortalKey, status,
			r.Summary.CasesTotal(), r.Summary.CasesArchived, r.Duration.Round(time.Millisecond))
		if r.Error != nil {
			o.log.Infof("    Error: %v", r.Error)
		}
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d portals (%d success, %d failed), %d cases seen, %d archived",
		len(results), successCount, failCount, totalCases, totalArchived)
	o.log.Info("============================================")
}

// ValidatePortalKeys checks that all provided portal keys exist in the config
func ValidatePortalKeys(appCfg *config.AppConfig, portalKeys []string) error {
	for _, key := range portalKeys {
		if _, err := appCfg.Portal(key); err != nil {
			return err
		}
	}
	return nil
}

// GetAllPortalKeys returns all portal keys from the config in sorted order
func GetAllPortalKeys(appCfg *config.AppConfig) []string {
	return appCfg.PortalKeys()
}

// AllSucceeded reports whether every result is a success.
func AllSucceeded(results []PortalResult) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}
