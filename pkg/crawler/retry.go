package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/archive"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/config"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/models"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

// Retry re-walks the failed dates and re-processes the failed cases recorded for this portal.
// Cases on a date that was re-walked successfully are not processed twice. A case archived with
// missing documents is repaired: only the missing documents are fetched.
func (c *Crawler) Retry(ctx context.Context, force bool) (models.RunSummary, error) {
	if c.store == nil {
		return models.RunSummary{}, fmt.Errorf("%w: retry needs the crawl state store (record_state is off)", utils.ErrConfigValidation)
	}

	dates, err := c.store.FailedDates(ctx, c.portal.Key)
	if err != nil {
		return models.RunSummary{}, err
	}
	cases, err := c.store.FailedCases(ctx, c.portal.Key)
	if err != nil {
		return models.RunSummary{}, err
	}

	summary := c.newSummary("", "", force)
	c.log.Infof("Retrying %d failed dates and %d failed cases", len(dates), len(cases))

	rewalked := make(map[string]bool, len(dates))
	host := c.portal.Host()
	for _, entry := range dates {
		if ctx.Err() != nil {
			break
		}
		date, err := config.ParseDate(entry.Date)
		if err != nil {
			c.log.WithField("date", entry.Date).Warnf("Ignoring stored date: %v", err)
			continue
		}
		c.extendRange(&summary, entry.Date)

		res, err := c.walker.WalkDate(ctx, date, force)
		summary.Merge(res.Counts)
		summary.ListingPages += res.Pages
		switch {
		case err == nil:
			summary.DatesWalked++
			rewalked[entry.Date] = true
		case ctx.Err() == nil:
			summary.DatesFailed++
			summary.FailedDates = append(summary.FailedDates, entry.Date)
			c.log.WithField("date", entry.Date).Errorf("Date failed again: %v", err)
		}

		if c.politeness != nil && ctx.Err() == nil {
			_ = c.politeness.Pause(ctx, host)
		}
	}

	for _, entry := range cases {
		if ctx.Err() != nil {
			break
		}
		partial := len(entry.FailedAttachments) > 0
		if rewalked[entry.Date] && !partial {
			continue
		}
		date, err := config.ParseDate(entry.Date)
		if err != nil || entry.CaseURL == "" {
			c.log.WithField("journalpost_id", entry.JournalpostID).Warn("Ignoring stored case without date or URL")
			continue
		}
		c.extendRange(&summary, entry.Date)
		dateDir := archive.DateDir(c.portal.OutputDir, date)
		if partial && !force {
			summary.Add(c.processor.Repair(ctx, entry.CaseURL, dateDir))
			continue
		}
		summary.Add(c.processor.Process(ctx, entry.CaseURL, dateDir, force))
	}

	summary.Cancelled = ctx.Err() != nil
	summary.FinishedAt = time.Now()
	logSummary(c.log, summary)
	return summary, ctx.Err()
}

// extendRange widens the summary's date span to include date.
func (c *Crawler) extendRange(s *models.RunSummary, date string) {
	if s.StartDate == "" || date < s.StartDate {
		s.StartDate = date
	}
	if s.StopDate == "" || date > s.StopDate {
		s.StopDate = date
	}
}
