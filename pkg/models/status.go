package models

// CaseStatus represents the processing status of a journal entry in the database
type CaseStatus string

const (
	CaseStatusUnset    CaseStatus = ""          // Zero value = unset/unknown
	CaseStatusSuccess  CaseStatus = "success"   // Case archived (or already complete on disk)
	CaseStatusFailure  CaseStatus = "failure"   // Fetch or write failed, eligible for retry
	CaseStatusSkipped  CaseStatus = "skipped"   // Unprocessable page, e.g. no case file reference
	CaseStatusNotFound CaseStatus = "not_found" // Case not in database
	CaseStatusDBError  CaseStatus = "db_error"  // Database error occurred
)

// String implements fmt.Stringer for logging
func (s CaseStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s CaseStatus) IsValid() bool {
	switch s {
	case CaseStatusSuccess, CaseStatusFailure, CaseStatusSkipped:
		return true
	}
	return false
}

// DateStatus represents the processing status of one listing date in the database
type DateStatus string

const (
	DateStatusUnset    DateStatus = ""
	DateStatusSuccess  DateStatus = "success"   // Every listing page fetched
	DateStatusFailure  DateStatus = "failure"   // A listing page could not be fetched
	DateStatusNotFound DateStatus = "not_found" // Date not in database
	DateStatusDBError  DateStatus = "db_error"
)

// String implements fmt.Stringer for logging
func (s DateStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s DateStatus) IsValid() bool {
	switch s {
	case DateStatusSuccess, DateStatusFailure:
		return true
	}
	return false
}

// Outcome is what the case processor did with one case URL.
type Outcome string

const (
	OutcomeArchived             Outcome = "archived"
	OutcomeSkippedExisting      Outcome = "skipped_existing"
	OutcomeSkippedUnprocessable Outcome = "skipped_unprocessable"
	OutcomeFailed               Outcome = "failed"
)

// CaseStatus maps an outcome onto the status recorded in the state store.
func (o Outcome) CaseStatus() CaseStatus {
	switch o {
	case OutcomeArchived, OutcomeSkippedExisting:
		return CaseStatusSuccess
	case OutcomeSkippedUnprocessable:
		return CaseStatusSkipped
	case OutcomeFailed:
		return CaseStatusFailure
	}
	return CaseStatusUnset
}
