package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/archive"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/config"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/extract"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/fetch"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/models"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/storage"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

// Crawler archives one portal. It wires a Processor and a Walker to the shared fetch resources.
type Crawler struct {
	log        *logrus.Entry // Logger contextualized with portal and run_id
	appCfg     *config.AppConfig
	portal     config.PortalConfig
	runID      string
	store      storage.StateStore // nil when state recording is off
	politeness *fetch.Politeness

	processor *Processor
	walker    *Walker
}

// CrawlerOptions contains optional parameters for NewCrawler
type CrawlerOptions struct {
	Store      storage.StateStore // Shared by all portals of a run
	Politeness *fetch.Politeness  // Shared per host across portals
	Sniffer    archive.Sniffer
	Locks      *KeyedMutex
	RunID      string // Generated when empty
}

// NewCrawler creates a Crawler for portal. fetcher is usually a *fetch.Fetcher carrying the
// portal's user agent and the shared host pool and rate limiter.
func NewCrawler(appCfg *config.AppConfig, portal config.PortalConfig, baseLogger *logrus.Entry, fetcher PageGetter, opts *CrawlerOptions) (*Crawler, error) {
	if opts == nil {
		opts = &CrawlerOptions{}
	}
	if _, err := portal.Validate(); err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := baseLogger.WithFields(logrus.Fields{"portal": portal.Key, "run_id": runID})

	var store storage.StateStore
	if appCfg.StateRecordingEnabled() && opts.Store != nil {
		store = opts.Store
	}

	extractor := extract.New(extract.MarkersFrom(appCfg.Markers))

	procOpts := ProcessorOptions{Sniffer: opts.Sniffer, Locks: opts.Locks, RunID: runID}
	walkOpts := WalkerOptions{
		MaxPages:   appCfg.MaxListingPages,
		Workers:    appCfg.DateWorkers,
		Politeness: opts.Politeness,
		RunID:      runID,
	}
	if store != nil {
		procOpts.Store = store
		walkOpts.Store = store
	}

	processor := NewProcessor(portal, fetcher, extractor, logger, procOpts)
	walker := NewWalker(portal, fetcher, extractor, processor, logger, walkOpts)

	return &Crawler{
		log:        logger,
		appCfg:     appCfg,
		portal:     portal,
		runID:      runID,
		store:      store,
		politeness: opts.Politeness,
		processor:  processor,
		walker:     walker,
	}, nil
}

// RunID identifies this crawler's run in logs, store entries and the summary.
func (c *Crawler) RunID() string {
	return c.runID
}

func (c *Crawler) newSummary(start, stop string, force bool) models.RunSummary {
	return models.RunSummary{
		RunID:      c.runID,
		Portal:     c.portal.Key,
		PortalName: c.portal.Name,
		OutputDir:  c.portal.OutputDir,
		StartDate:  start,
		StopDate:   stop,
		Force:      force,
		StartedAt:  time.Now(),
	}
}

// Run crawls start..stop inclusive and blocks until completion or cancellation. The returned error
// is the context's, or an invalid range; case and date failures live in the summary.
func (c *Crawler) Run(ctx context.Context, start, stop time.Time, force bool) (models.RunSummary, error) {
	if stop.Before(start) {
		return models.RunSummary{}, fmt.Errorf("%w: stop date %s is before start date %s",
			utils.ErrInvalidDate, stop.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	summary := c.newSummary(start.Format("2006-01-02"), stop.Format("2006-01-02"), force)
	c.log.WithFields(logrus.Fields{
		"output_dir": c.portal.OutputDir,
		"force":      force,
		"workers":    c.walker.workers,
	}).Infof("Crawl starting: %s .. %s", summary.StartDate, summary.StopDate)

	rr := c.walker.WalkRange(ctx, start, stop, force)
	summary.Merge(rr.Summary)
	summary.Cancelled = rr.Summary.Cancelled
	summary.FinishedAt = time.Now()

	logSummary(c.log, summary)
	if c.appCfg.StateDir != "" {
		if _, err := WriteRunSummary(c.appCfg.StateDir, summary, c.log); err != nil {
			c.log.Warnf("Run summary not written: %v", err)
		}
	}
	return summary, ctx.Err()
}
