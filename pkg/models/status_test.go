package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCaseStatus_String(t *testing.T) {
	tests := []struct {
		status CaseStatus
		want   string
	}{
		{CaseStatusUnset, "unset"},
		{CaseStatusSuccess, "success"},
		{CaseStatusFailure, "failure"},
		{CaseStatusSkipped, "skipped"},
		{CaseStatusNotFound, "not_found"},
		{CaseStatusDBError, "db_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}

func TestCaseStatus_IsValid(t *testing.T) {
	tests := []struct {
		status CaseStatus
		want   bool
	}{
		{CaseStatusSuccess, true},
		{CaseStatusFailure, true},
		{CaseStatusSkipped, true},
		{CaseStatusUnset, false},
		{CaseStatusNotFound, false},
		{CaseStatusDBError, false},
		{CaseStatus("arbitrary"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.IsValid(), "CaseStatus(%q).IsValid()", string(tt.status))
	}
}

func TestDateStatus_IsValid(t *testing.T) {
	assert.True(t, DateStatusSuccess.IsValid())
	assert.True(t, DateStatusFailure.IsValid())
	assert.False(t, DateStatusNotFound.IsValid())
	assert.False(t, DateStatusUnset.IsValid())
	assert.Equal(t, "unset", DateStatusUnset.String())
}

func TestOutcome_CaseStatus(t *testing.T) {
	assert.Equal(t, CaseStatusSuccess, OutcomeArchived.CaseStatus())
	assert.Equal(t, CaseStatusSuccess, OutcomeSkippedExisting.CaseStatus())
	assert.Equal(t, CaseStatusSkipped, OutcomeSkippedUnprocessable.CaseStatus())
	assert.Equal(t, CaseStatusFailure, OutcomeFailed.CaseStatus())
	assert.Equal(t, CaseStatusUnset, Outcome("other").CaseStatus())
}
