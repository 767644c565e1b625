package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/archive"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/config"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/extract"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/fetch"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/models"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/storage"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

// DefaultMaxListingPages bounds one date's pagination when no limit is configured.
const DefaultMaxListingPages = 500

// ListingURL returns the first listing page of portal for date.
func ListingURL(portal config.PortalConfig, date time.Time) string {
	return fmt.Sprintf("%s?response=journalpost_postliste&MId1=%s&scripturi=/innsyn.aspx&skin=infolink&fradato=%sT00:00:00",
		portal.BaseURL, url.QueryEscape(portal.PortalID), date.Format("2006-01-02"))
}

// DateResult describes one walked date.
type DateResult struct {
	Date    time.Time
	Pages   int
	Counts  models.RunSummary // Case counters only
	Err     error
	Skipped bool // Date was not started because the walk was cancelled
}

// RangeResult collects every date of a WalkRange call.
type RangeResult struct {
	Dates   []DateResult // In date order
	Summary models.RunSummary
}

// Walker drives the Processor across the paginated listings of a portal.
type Walker struct {
	portal     config.PortalConfig
	fetcher    PageGetter
	extractor  *extract.Extractor
	processor  *Processor
	politeness *fetch.Politeness
	store      storage.DateStore
	maxPages   int
	workers    int
	runID      string
	log        *logrus.Entry
}

// WalkerOptions holds the optional settings of a Walker.
type WalkerOptions struct {
	MaxPages   int               // Per date; DefaultMaxListingPages when zero
	Workers    int               // Dates walked in parallel; 1 when zero
	Politeness *fetch.Politeness // Pause after each date; nil disables it
	Store      storage.DateStore // Nil disables date recording
	RunID      string
}

// NewWalker creates a Walker.
func NewWalker(portal config.PortalConfig, fetcher PageGetter, extractor *extract.Extractor, processor *Processor, log *logrus.Entry, opts WalkerOptions) *Walker {
	w := &Walker{
		portal:     portal,
		fetcher:    fetcher,
		extractor:  extractor,
		processor:  processor,
		politeness: opts.Politeness,
		store:      opts.Store,
		maxPages:   opts.MaxPages,
		workers:    opts.Workers,
		runID:      opts.RunID,
		log:        log.WithField("component", "walker"),
	}
	if w.maxPages <= 0 {
		w.maxPages = DefaultMaxListingPages
	}
	if w.workers <= 0 {
		w.workers = 1
	}
	return w
}

// WalkDate processes every case on every listing page of date. A listing fetch failure stops this
// date and is returned; case failures are only counted.
func (w *Walker) WalkDate(ctx context.Context, date time.Time, force bool) (DateResult, error) {
	res := DateResult{Date: date}
	dateStr := date.Format("2006-01-02")
	dateLog := w.log.WithField("date", dateStr)
	dateDir := archive.DateDir(w.portal.OutputDir, date)

	err := w.walkPages(ctx, dateDir, force, &res, dateLog)
	res.Err = err
	w.recordDate(dateStr, res, dateLog)

	if err != nil {
		return res, err
	}
	dateLog.WithFields(logrus.Fields{
		"pages":    res.Pages,
		"archived": res.Counts.CasesArchived,
		"existing": res.Counts.CasesExisting,
		"failed":   res.Counts.CasesFailed,
	}).Info("Date done")
	return res, nil
}

func (w *Walker) walkPages(ctx context.Context, dateDir string, force bool, res *DateResult, dateLog *logrus.Entry) error {
	if err := archive.EnsureDir(dateDir); err != nil {
		return err
	}

	next := ListingURL(w.portal, res.Date)
	seen := make(map[string]bool)
	for next != "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		if seen[next] {
			dateLog.WithField("url", next).Warn("Listing links back to a page already walked, stopping")
			return nil
		}
		if res.Pages >= w.maxPages {
			dateLog.Warnf("Reached max_listing_pages (%d), stopping", w.maxPages)
			return nil
		}
		seen[next] = true

		body, err := w.fetcher.Get(ctx, next)
		if err != nil {
			return fmt.Errorf("listing page %d: %w", res.Pages+1, err)
		}
		doc, err := extract.ParseHTML(body)
		if err != nil {
			return fmt.Errorf("listing page %d: %w", res.Pages+1, err)
		}
		res.Pages++

		links := w.extractor.CaseLinks(doc, next)
		dateLog.WithField("url", next).Debugf("Listing page %d has %d cases", res.Pages, len(links))
		for _, link := range links {
			if err := ctx.Err(); err != nil {
				return err
			}
			res.Counts.Add(w.processor.Process(ctx, link, dateDir, force))
		}

		next, _ = w.extractor.NextPage(doc, next)
	}
	return nil
}

// recordDate stores the date outcome. A cancelled date is left unrecorded; it was neither walked nor failed.
func (w *Walker) recordDate(dateStr string, res DateResult, dateLog *logrus.Entry) {
	if w.store == nil {
		return
	}
	if res.Err != nil && (errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded)) {
		return
	}
	entry := &models.DateDBEntry{
		Portal:      w.portal.Key,
		Date:        dateStr,
		Status:      models.DateStatusSuccess,
		Pages:       res.Pages,
		Cases:       res.Counts.CasesTotal(),
		RunID:       w.runID,
		LastAttempt: time.Now(),
	}
	if res.Err != nil {
		entry.Status = models.DateStatusFailure
		entry.ErrorType = utils.CategorizeError(res.Err)
	}
	if err := w.store.UpdateDateStatus(entry); err != nil {
		dateLog.Errorf("Failed to record date status: %v", err)
	}
}

// WalkRange walks start..stop inclusive. Failed dates are logged and the walk moves on; cancellation
// stops it after the dates in flight.
func (w *Walker) WalkRange(ctx context.Context, start, stop time.Time, force bool) RangeResult {
	var (
		mu      sync.Mutex
		results []DateResult
	)
	host := w.portal.Host()

	var g errgroup.Group
	g.SetLimit(w.workers)
	for d := start; !d.After(stop); d = d.AddDate(0, 0, 1) {
		if ctx.Err() != nil {
			break
		}
		date := d
		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				results = append(results, DateResult{Date: date, Skipped: true})
				mu.Unlock()
				return nil
			}
			res, err := w.WalkDate(ctx, date, force)
			if err != nil && ctx.Err() == nil {
				w.log.WithFields(logrus.Fields{
					"date":       date.Format("2006-01-02"),
					"error_type": utils.CategorizeError(err),
				}).Errorf("Date failed: %v", err)
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()

			if w.politeness != nil && ctx.Err() == nil {
				_ = w.politeness.Pause(ctx, host) // Only fails on cancellation
			}
			return nil
		})
	}
	_ = g.Wait() // Workers report through results

	sort.Slice(results, func(i, j int) bool { return results[i].Date.Before(results[j].Date) })

	out := RangeResult{Dates: results}
	for _, r := range results {
		if r.Skipped {
			continue
		}
		out.Summary.Merge(r.Counts)
		out.Summary.ListingPages += r.Pages
		if r.Err != nil {
			if errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded) {
				continue
			}
			out.Summary.DatesFailed++
			out.Summary.FailedDates = append(out.Summary.FailedDates, r.Date.Format("2006-01-02"))
			continue
		}
		out.Summary.DatesWalked++
	}
	out.Summary.Cancelled = ctx.Err() != nil
	return out
}
