package storage

import (
	"context"
	"io"
	"time"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/models"
)

// CaseStore records the outcome of each processed journal entry
type CaseStore interface {
	// CheckCaseStatus retrieves the status and details of a case
	// Returns status (CaseStatusSuccess, CaseStatusFailure, CaseStatusSkipped, CaseStatusNotFound, CaseStatusDBError),
	// the CaseDBEntry if found and parsed, and any error
	CheckCaseStatus(portal, journalpostID string) (models.CaseStatus, *models.CaseDBEntry, error)

	// UpdateCaseStatus stores entry under its portal and journal id, replacing any earlier outcome
	UpdateCaseStatus(entry *models.CaseDBEntry) error
}

// DateStore records the outcome of each walked listing date
type DateStore interface {
	CheckDateStatus(portal, date string) (models.DateStatus, *models.DateDBEntry, error)
	UpdateDateStatus(entry *models.DateDBEntry) error
}

// StoreAdmin handles lifecycle and reporting operations
type StoreAdmin interface {
	// Count returns the number of keys in the store
	Count() int

	// FailedCases returns the cases of portal whose latest outcome is a failure, ordered by date and id
	FailedCases(ctx context.Context, portal string) ([]models.CaseDBEntry, error)

	// FailedDates returns the listing dates of portal whose latest walk failed, in date order
	FailedDates(ctx context.Context, portal string) ([]models.DateDBEntry, error)

	// WriteFailedReport writes one tab separated line per failed date and case of portal
	WriteFailedReport(ctx context.Context, portal string, w io.Writer) (int, error)

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// StateStore combines all store interfaces for components that need full access
type StateStore interface {
	CaseStore
	DateStore
	StoreAdmin
}
