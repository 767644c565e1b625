package models

import "time"

// AttachmentRecord describes one attachment file written (or kept) in a case directory
type AttachmentRecord struct {
	Filename string `json:"filename" yaml:"filename"`
	SHA256   string `json:"sha256,omitempty" yaml:"sha256,omitempty"` // Empty when an earlier run's file was kept
	Size     int64  `json:"size" yaml:"size"`
	Kept     bool   `json:"kept,omitempty" yaml:"kept,omitempty"` // File existed from an interrupted run and was not refetched
}

// AttachmentFailure describes a listed document that could not be downloaded or written
type AttachmentFailure struct {
	Title     string `json:"title" yaml:"title"`
	URL       string `json:"url" yaml:"url"`
	ErrorType string `json:"error_type" yaml:"error_type"`
}

// CaseDBEntry stores the result of processing a journal entry in the database
type CaseDBEntry struct {
	Portal        string             `json:"portal"`
	JournalpostID string             `json:"journalpost_id"`
	CaseURL       string             `json:"case_url"`
	Date          string             `json:"date"`                 // Listing date, YYYY-MM-DD
	CaseDir       string             `json:"case_dir,omitempty"`   // Absent when the case was never materialized
	Status        CaseStatus         `json:"status"`               // "success", "failure" or "skipped"
	ErrorType     string             `json:"error_type,omitempty"` // Error category (on failure or skip)
	Censored      bool               `json:"censored,omitempty"`
	Attachments   []AttachmentRecord `json:"attachments,omitempty"`
	// Documents missing from a case directory that is otherwise complete
	FailedAttachments []AttachmentFailure `json:"failed_attachments,omitempty"`
	RunID             string              `json:"run_id,omitempty"`
	ProcessedAt       time.Time           `json:"processed_at,omitempty"` // Timestamp of successful processing
	LastAttempt       time.Time           `json:"last_attempt"`           // Timestamp of the last processing attempt
}

// DateDBEntry stores the result of walking one listing date in the database
type DateDBEntry struct {
	Portal      string     `json:"portal"`
	Date        string     `json:"date"`
	Status      DateStatus `json:"status"`
	ErrorType   string     `json:"error_type,omitempty"`
	Pages       int        `json:"pages"`
	Cases       int        `json:"cases"`
	RunID       string     `json:"run_id,omitempty"`
	LastAttempt time.Time  `json:"last_attempt"`
}

// ProcessResult is returned by the case processor for every case URL it is handed.
type ProcessResult struct {
	JournalpostID string
	CaseURL       string
	CaseDir       string // Set once the case reference is known
	Outcome       Outcome
	Censored      bool
	Attachments   []AttachmentRecord
	Failed        []AttachmentFailure // Documents that could not be saved
	Err           error               // Cause of a failure or unprocessable skip
}

// Partial reports whether an archived case is missing some of its documents.
func (r ProcessResult) Partial() bool {
	return r.Outcome == OutcomeArchived && len(r.Failed) > 0
}

// RunSummary is written as YAML after a crawl of one portal finishes.
type RunSummary struct {
	RunID      string    `yaml:"run_id"`
	Portal     string    `yaml:"portal"`
	PortalName string    `yaml:"portal_name,omitempty"`
	OutputDir  string    `yaml:"output_dir"`
	StartDate  string    `yaml:"start_date"`
	StopDate   string    `yaml:"stop_date"`
	Force      bool      `yaml:"force"`
	StartedAt  time.Time `yaml:"started_at"`
	FinishedAt time.Time `yaml:"finished_at"`
	Cancelled  bool      `yaml:"cancelled,omitempty"`

	DatesWalked  int `yaml:"dates_walked"`
	DatesFailed  int `yaml:"dates_failed"`
	ListingPages int `yaml:"listing_pages"`

	CasesArchived      int `yaml:"cases_archived"`
	CasesExisting      int `yaml:"cases_skipped_existing"`
	CasesUnprocessable int `yaml:"cases_skipped_unprocessable"`
	CasesFailed        int `yaml:"cases_failed"`
	CasesCensored      int `yaml:"cases_censored"`
	CasesPartial       int `yaml:"cases_partial"`
	AttachmentsWritten int `yaml:"attachments_written"`
	AttachmentsFailed  int `yaml:"attachments_failed"`

	FailedDates []string `yaml:"failed_dates,omitempty"`
}

// CasesTotal is the number of case URLs handed to the processor.
func (s *RunSummary) CasesTotal() int {
	return s.CasesArchived + s.CasesExisting + s.CasesUnprocessable + s.CasesFailed
}

// Add folds one processor result into the counters.
func (s *RunSummary) Add(r ProcessResult) {
	switch r.Outcome {
	case OutcomeArchived:
		s.CasesArchived++
		if r.Censored {
			s.CasesCensored++
		}
		for _, a := range r.Attachments {
			if !a.Kept {
				s.AttachmentsWritten++
			}
		}
		if r.Partial() {
			s.CasesPartial++
			s.AttachmentsFailed += len(r.Failed)
		}
	case OutcomeSkippedExisting:
		s.CasesExisting++
	case OutcomeSkippedUnprocessable:
		s.CasesUnprocessable++
	case OutcomeFailed:
		s.CasesFailed++
	}
}

// Merge adds another summary's counters to s. Identity fields are left alone.
func (s *RunSummary) Merge(o RunSummary) {
	s.DatesWalked += o.DatesWalked
	s.DatesFailed += o.DatesFailed
	s.ListingPages += o.ListingPages
	s.CasesArchived += o.CasesArchived
	s.CasesExisting += o.CasesExisting
	s.CasesUnprocessable += o.CasesUnprocessable
	s.CasesFailed += o.CasesFailed
	s.CasesCensored += o.CasesCensored
	s.CasesPartial += o.CasesPartial
	s.AttachmentsWritten += o.AttachmentsWritten
	s.AttachmentsFailed += o.AttachmentsFailed
	s.FailedDates = append(s.FailedDates, o.FailedDates...)
}
