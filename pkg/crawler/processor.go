package crawler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/archive"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/config"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/extract"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/models"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/storage"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

// PageGetter fetches the body of a URL. *fetch.Fetcher implements it.
type PageGetter interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// Processor archives single case pages into a date directory.
type Processor struct {
	portal    config.PortalConfig
	fetcher   PageGetter
	extractor *extract.Extractor
	sniffer   archive.Sniffer
	store     storage.CaseStore // nil disables state recording
	locks     *KeyedMutex
	runID     string
	log       *logrus.Entry
}

// ProcessorOptions holds the optional collaborators of a Processor.
type ProcessorOptions struct {
	Sniffer archive.Sniffer   // Defaults to archive.MimeSniffer
	Store   storage.CaseStore // Nil disables state recording
	Locks   *KeyedMutex       // Share one between processors that may see the same date directory
	RunID   string
}

// NewProcessor creates a Processor for one portal.
func NewProcessor(portal config.PortalConfig, fetcher PageGetter, extractor *extract.Extractor, log *logrus.Entry, opts ProcessorOptions) *Processor {
	p := &Processor{
		portal:    portal,
		fetcher:   fetcher,
		extractor: extractor,
		sniffer:   opts.Sniffer,
		store:     opts.Store,
		locks:     opts.Locks,
		runID:     opts.RunID,
		log:       log.WithField("component", "processor"),
	}
	if p.sniffer == nil {
		p.sniffer = archive.MimeSniffer{}
	}
	if p.locks == nil {
		p.locks = NewKeyedMutex()
	}
	return p
}

// Process fetches one case page and writes its directory under dateDir. Failures are reported in the
// result and never returned as errors: one bad case must not stop the walk.
func (p *Processor) Process(ctx context.Context, caseURL, dateDir string, force bool) models.ProcessResult {
	return p.process(ctx, caseURL, dateDir, force, force)
}

// Repair re-processes a case whose directory is complete but missing documents. Attachment files
// already on disk are kept; only the missing ones are fetched before details.txt is rewritten.
func (p *Processor) Repair(ctx context.Context, caseURL, dateDir string) models.ProcessResult {
	return p.process(ctx, caseURL, dateDir, true, false)
}

// process runs the case pipeline. refetch ignores the completion marker; overwrite replaces
// attachment files from earlier runs.
func (p *Processor) process(ctx context.Context, caseURL, dateDir string, refetch, overwrite bool) (res models.ProcessResult) {
	res.CaseURL = caseURL
	taskLog := p.log.WithField("url", caseURL)
	startTime := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = models.OutcomeFailed
			res.Err = fmt.Errorf("panic: %v", r)
			taskLog.WithFields(logrus.Fields{
				"panic_info":  r,
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered in Process")
		}
		p.finish(&res, dateDir, taskLog, time.Since(startTime))
	}()

	jpid, err := p.extractor.JournalpostID(caseURL)
	if err != nil {
		res.Outcome = models.OutcomeSkippedUnprocessable
		res.Err = err
		return res
	}
	res.JournalpostID = jpid
	taskLog = taskLog.WithField("journalpost_id", jpid)

	// Pre-fetch gate: a completed directory for this id means there is nothing to fetch
	if !refetch {
		if dir, ok := archive.FindCompleted(dateDir, jpid); ok {
			res.CaseDir = dir
			res.Outcome = models.OutcomeSkippedExisting
			return res
		}
	}

	body, err := p.fetcher.Get(ctx, caseURL)
	if err != nil {
		res.Outcome = models.OutcomeFailed
		res.Err = err
		return res
	}
	doc, err := extract.ParseHTML(body)
	if err != nil {
		res.Outcome = models.OutcomeFailed
		res.Err = err
		return res
	}
	page, err := p.extractor.ParseCase(doc, caseURL)
	if err != nil {
		res.Outcome = models.OutcomeFailed
		res.Err = err
		return res
	}

	ref, err := page.ArkivsakID()
	if err != nil {
		res.Outcome = models.OutcomeSkippedUnprocessable
		res.Err = err
		return res
	}

	caseDir := archive.CaseDir(dateDir, jpid, ref)
	unlock := p.locks.Lock(caseDir)
	defer unlock()

	if !refetch && archive.IsComplete(caseDir) {
		res.CaseDir = caseDir
		res.Outcome = models.OutcomeSkippedExisting
		return res
	}

	if err := archive.EnsureDir(caseDir); err != nil {
		res.Outcome = models.OutcomeFailed
		res.Err = err
		return res
	}
	res.CaseDir = caseDir
	res.Censored = page.Censored

	details := archive.Details{
		Fields:       p.detailFields(page.Fields),
		Censored:     page.Censored,
		CensorReason: page.CensorReason,
	}
	if page.Sender != "" {
		details.Sender = strings.Split(page.Sender, "\n")
	}

	if !page.Censored {
		res.Attachments, res.Failed = p.saveAttachments(ctx, page.Attachments, caseDir, overwrite, taskLog)
		// An interrupted download must not leave a directory that looks complete
		if err := ctx.Err(); err != nil {
			res.Outcome = models.OutcomeFailed
			res.Err = err
			return res
		}
		for _, a := range res.Attachments {
			details.Attachments = append(details.Attachments, a.Filename)
		}
	}

	// details.txt goes last; its presence marks the case complete
	if err := archive.WriteDetails(filepath.Join(caseDir, archive.DetailsFile), archive.FormatDetails(details)); err != nil {
		res.Outcome = models.OutcomeFailed
		res.Err = err
		return res
	}

	res.Outcome = models.OutcomeArchived
	return res
}

// detailFields converts extracted rows, normalizing the case reference value.
func (p *Processor) detailFields(rows []extract.Field) []archive.Field {
	refLabel := p.extractor.Markers().CaseReferenceLabel
	fields := make([]archive.Field, 0, len(rows))
	for _, r := range rows {
		v := r.Value
		if strings.Contains(r.Label, refLabel) {
			v = utils.Normalize(v)
		}
		fields = append(fields, archive.Field{Label: r.Label, Value: v})
	}
	return fields
}

// saveAttachments downloads the case's documents in page order. A document that cannot be fetched
// or written is logged and reported as a failure; the rest are still saved.
func (p *Processor) saveAttachments(ctx context.Context, links []extract.AttachmentLink, caseDir string, force bool, taskLog *logrus.Entry) ([]models.AttachmentRecord, []models.AttachmentFailure) {
	var records []models.AttachmentRecord
	var failures []models.AttachmentFailure
	fail := func(link extract.AttachmentLink, err error) {
		if ctx.Err() != nil {
			return
		}
		failures = append(failures, models.AttachmentFailure{Title: link.Title, URL: link.URL, ErrorType: utils.CategorizeError(err)})
	}
	claimed := make(map[string]bool, len(links))

	for _, link := range links {
		if ctx.Err() != nil {
			break
		}
		attLog := taskLog.WithField("attachment_url", link.URL)

		base := utils.SanitizeFilename(link.Title)
		var data []byte
		fetched := false

		// Without a declared suffix the name depends on the content
		if archive.DeclaredExtension(link.Title) == "" {
			var err error
			if data, err = p.fetcher.Get(ctx, link.URL); err != nil {
				attLog.WithField("error_type", utils.CategorizeError(err)).Warnf("Attachment download failed: %v", err)
				fail(link, err)
				continue
			}
			fetched = true
		}

		name := archive.AttachmentFilename(base, archive.ResolveExtension(link.Title, data, p.sniffer))
		if claimed[name] {
			attLog.WithField("filename", name).Warn("Attachment name already used in this case, skipping")
			continue
		}
		path := filepath.Join(caseDir, name)

		if !force {
			if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
				claimed[name] = true
				sum, err := utils.FileSHA256(path)
				if err != nil {
					attLog.WithField("filename", name).Debugf("Checksum of kept attachment failed: %v", err)
				}
				records = append(records, models.AttachmentRecord{Filename: name, SHA256: sum, Size: info.Size(), Kept: true})
				attLog.WithField("filename", name).Debug("Keeping attachment from an earlier run")
				continue
			}
		}

		if !fetched {
			var err error
			if data, err = p.fetcher.Get(ctx, link.URL); err != nil {
				attLog.WithField("error_type", utils.CategorizeError(err)).Warnf("Attachment download failed: %v", err)
				fail(link, err)
				continue
			}
		}

		if err := archive.WriteAttachment(path, data); err != nil {
			attLog.WithField("error_type", utils.CategorizeError(err)).Errorf("Attachment write failed: %v", err)
			fail(link, err)
			continue
		}
		claimed[name] = true
		records = append(records, models.AttachmentRecord{
			Filename: name,
			SHA256:   utils.BytesSHA256(data),
			Size:     int64(len(data)),
		})
		attLog.WithField("filename", name).Debugf("Saved attachment (%d bytes)", len(data))
	}
	return records, failures
}

// finish logs the outcome and records it in the state store.
func (p *Processor) finish(res *models.ProcessResult, dateDir string, taskLog *logrus.Entry, duration time.Duration) {
	logFields := logrus.Fields{"outcome": string(res.Outcome), "duration": duration.String()}
	errorType := ""
	if res.Err != nil {
		errorType = utils.CategorizeError(res.Err)
		logFields["error_type"] = errorType
	}

	switch {
	case res.Partial():
		errorType = "Attachment_" + res.Failed[0].ErrorType
		logFields["error_type"] = errorType
		taskLog.WithFields(logFields).Warnf("Archived %s with %d of %d attachments missing",
			filepath.Base(res.CaseDir), len(res.Failed), len(res.Failed)+len(res.Attachments))
	case res.Outcome == models.OutcomeArchived:
		taskLog.WithFields(logFields).Infof("Archived %s (%d attachments, censored=%t)",
			filepath.Base(res.CaseDir), len(res.Attachments), res.Censored)
	case res.Outcome == models.OutcomeSkippedExisting:
		taskLog.WithFields(logFields).Debug("Already processed")
	case res.Outcome == models.OutcomeSkippedUnprocessable:
		taskLog.WithFields(logFields).Warnf("Skipping unprocessable case: %v", res.Err)
	default:
		taskLog.WithFields(logFields).Warnf("Case failed: %v", res.Err)
	}

	if p.store == nil || res.JournalpostID == "" {
		return
	}
	if res.Outcome == models.OutcomeSkippedExisting {
		// Only overwrite a stale entry. A success already says everything, and a partial case
		// stays listed until its missing documents are fetched.
		status, prev, err := p.store.CheckCaseStatus(p.portal.Key, res.JournalpostID)
		if err == nil && (status == models.CaseStatusSuccess || (prev != nil && len(prev.FailedAttachments) > 0)) {
			return
		}
	}

	now := time.Now()
	entry := &models.CaseDBEntry{
		Portal:            p.portal.Key,
		JournalpostID:     res.JournalpostID,
		CaseURL:           res.CaseURL,
		Date:              dateFromDir(dateDir),
		CaseDir:           res.CaseDir,
		Status:            res.Outcome.CaseStatus(),
		ErrorType:         errorType,
		Censored:          res.Censored,
		Attachments:       res.Attachments,
		FailedAttachments: res.Failed,
		RunID:             p.runID,
		LastAttempt:       now,
	}
	if res.Partial() {
		entry.Status = models.CaseStatusFailure
	}
	if entry.Status == models.CaseStatusSuccess {
		entry.ProcessedAt = now
	}
	if err := p.store.UpdateCaseStatus(entry); err != nil && !errors.Is(err, context.Canceled) {
		taskLog.Errorf("Failed to record case status: %v", err)
	}
}

// dateFromDir turns ".../YYYY/MM/DD" back into "YYYY-MM-DD".
func dateFromDir(dateDir string) string {
	day := filepath.Base(dateDir)
	month := filepath.Base(filepath.Dir(dateDir))
	year := filepath.Base(filepath.Dir(filepath.Dir(dateDir)))
	return year + "-" + month + "-" + day
}
