package upload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/archive"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

// Indexer is the document index the uploader writes to.
type Indexer interface {
	UpsertDocument(ctx context.Context, doc Document) error
	UploadFile(ctx context.Context, id, path string) error
}

// Outcome of one case directory.
type Outcome string

const (
	OutcomeUploaded  Outcome = "uploaded"
	OutcomeProcessed Outcome = "already_processed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// Result counts what one upload pass did.
type Result struct {
	Cases               int
	Uploaded            int
	AlreadyProcessed    int
	Skipped             int
	Failed              int
	AttachmentsUploaded int
	AttachmentsFailed   int
	Renamed             int // documents stored under a suffixed id
	Cancelled           bool
	Duration            time.Duration
}

// Uploader walks archive trees and pushes every complete case to the index once.
type Uploader struct {
	index      Indexer
	processed  *ProcessedLog
	extensions []string
	log        *logrus.Entry
}

func NewUploader(index Indexer, processed *ProcessedLog, extensions []string, log *logrus.Entry) *Uploader {
	return &Uploader{
		index:      index,
		processed:  processed,
		extensions: extensions,
		log:        log.WithField("component", "uploader"),
	}
}

// Run uploads the cases under each root in lexical order. It stops early only when ctx is done.
func (u *Uploader) Run(ctx context.Context, roots []string) (Result, error) {
	start := time.Now()
	var res Result

	for _, root := range roots {
		caseDirs, err := FindCaseDirs(root)
		if err != nil {
			u.log.WithField("root", root).Errorf("Cannot walk archive root: %v", err)
			continue
		}
		u.log.WithField("root", root).Infof("Found %d complete cases", len(caseDirs))

		for _, dir := range caseDirs {
			if ctx.Err() != nil {
				break
			}
			res.Cases++
			cr, err := u.UploadCase(ctx, dir)
			res.AttachmentsUploaded += cr.AttachmentsUploaded
			res.AttachmentsFailed += cr.AttachmentsFailed
			if cr.Renamed() {
				res.Renamed++
			}
			switch cr.Outcome {
			case OutcomeUploaded:
				res.Uploaded++
			case OutcomeProcessed:
				res.AlreadyProcessed++
			case OutcomeSkipped:
				res.Skipped++
			case OutcomeFailed:
				if ctx.Err() == nil {
					res.Failed++
					u.log.WithField("case_dir", dir).WithField("error_type", utils.CategorizeError(err)).Errorf("Upload failed: %v", err)
				}
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	res.Cancelled = ctx.Err() != nil
	res.Duration = time.Since(start)
	u.log.WithFields(logrus.Fields{
		"uploaded":          res.Uploaded,
		"already_processed": res.AlreadyProcessed,
		"skipped":           res.Skipped,
		"failed":            res.Failed,
		"attachments":       res.AttachmentsUploaded,
	}).Infof("Upload pass finished in %v", res.Duration.Round(time.Millisecond))
	return res, ctx.Err()
}

// CaseResult describes the upload of one case directory.
type CaseResult struct {
	Outcome             Outcome
	ID                  string // DokumentID from details.txt
	StoredID            string // id the index accepted; differs from ID after a duplicate
	AttachmentsUploaded int
	AttachmentsFailed   int
}

// Renamed reports whether the document was stored under a suffixed id.
func (r CaseResult) Renamed() bool {
	return r.StoredID != "" && r.StoredID != r.ID
}

// UploadCase uploads one case directory: attachments first, then the document, then the
// ProcessedLog entry.
func (u *Uploader) UploadCase(ctx context.Context, caseDir string) (CaseResult, error) {
	res := CaseResult{Outcome: OutcomeFailed}
	abs, err := filepath.Abs(caseDir)
	if err != nil {
		return res, fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	log := u.log.WithField("case_dir", abs)

	if u.processed.Contains(abs) {
		log.Debug("Already uploaded")
		res.Outcome = OutcomeProcessed
		return res, nil
	}

	raw, err := os.ReadFile(filepath.Join(abs, archive.DetailsFile))
	if err != nil {
		return res, fmt.Errorf("%w: read details: %w", utils.ErrFilesystem, err)
	}
	details := archive.ParseDetails(string(raw))
	doc, ok := DocumentFromDetails(details)
	if !ok {
		log.Warn("Skipping case without DokumentID or ArkivsakID")
		res.Outcome = OutcomeSkipped
		return res, nil
	}
	res.ID = doc.ID
	log = log.WithField("id", doc.ID)

	files, err := Attachments(abs, details, u.extensions)
	if err != nil {
		return res, fmt.Errorf("%w: list attachments: %w", utils.ErrFilesystem, err)
	}
	for i, name := range files {
		attID := doc.ID + "-" + strconv.Itoa(i+1)
		if err := u.index.UploadFile(ctx, attID, filepath.Join(abs, name)); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.AttachmentsFailed++
			log.WithField("attachment", name).Warnf("Attachment upload failed: %v", err)
			continue
		}
		res.AttachmentsUploaded++
		doc.Attachments = append(doc.Attachments, name)
	}

	storedID, err := u.upsert(ctx, doc, log)
	if err != nil {
		return res, err
	}
	res.StoredID = storedID
	if err := u.processed.Append(abs); err != nil {
		return res, err
	}
	res.Outcome = OutcomeUploaded
	log.WithField("stored_id", storedID).Infof("Uploaded with %d attachments", len(doc.Attachments))
	return res, nil
}

// upsert stores doc, retrying a taken id as {id}-2, {id}-3, ... until the index accepts one.
func (u *Uploader) upsert(ctx context.Context, doc Document, log *logrus.Entry) (string, error) {
	original := doc.ID
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			doc.ID = original + "-" + strconv.Itoa(attempt)
		}
		err := u.index.UpsertDocument(ctx, doc)
		if err == nil {
			return doc.ID, nil
		}
		if !errors.Is(err, utils.ErrDuplicateID) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Debugf("Id %s taken, retrying with a suffix", doc.ID)
	}
}

// FindCaseDirs returns every directory under root that holds a details.txt, in lexical order.
func FindCaseDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() && d.Name() == archive.DetailsFile && d.Type().IsRegular() {
			dirs = append(dirs, filepath.Dir(path))
		}
		return nil
	})
	return dirs, err
}
