package crawler

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/models"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

// RunSummaryPath is where the last run summary of a portal is kept.
func RunSummaryPath(stateDir, portalKey string) string {
	return filepath.Join(stateDir, utils.SanitizeKey(portalKey)+"_last_run.yaml")
}

// WriteRunSummary writes summary as YAML to RunSummaryPath, replacing the previous run's file.
func WriteRunSummary(stateDir string, summary models.RunSummary, log *logrus.Entry) (string, error) {
	path := RunSummaryPath(stateDir, summary.Portal)
	log.Debugf("Preparing to write run summary to: %s", path)

	yamlData, err := yaml.Marshal(&summary)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run summary to YAML for portal '%s': %w", summary.Portal, err)
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create state dir '%s': %w", utils.ErrFilesystem, stateDir, err)
	}
	if err := utils.WriteFileAtomic(path, yamlData, 0o644); err != nil {
		log.Errorf("Failed to write run summary file '%s': %v", path, err)
		return "", fmt.Errorf("failed to write run summary file '%s' for portal '%s': %w", path, summary.Portal, err)
	}

	log.Infof("Wrote run summary (%d cases) to %s", summary.CasesTotal(), path)
	return path, nil
}

// ReadRunSummary loads a summary written by WriteRunSummary.
func ReadRunSummary(path string) (models.RunSummary, error) {
	var summary models.RunSummary
	data, err := os.ReadFile(path)
	if err != nil {
		return summary, fmt.Errorf("%w: read run summary: %w", utils.ErrFilesystem, err)
	}
	if err := yaml.Unmarshal(data, &summary); err != nil {
		return summary, fmt.Errorf("%w: YAML run summary %s: %w", utils.ErrParsing, path, err)
	}
	return summary, nil
}

// logSummary prints the closing banner of a run.
func logSummary(log *logrus.Entry, s models.RunSummary) {
	log.Info("========================================================================")
	if s.Cancelled {
		log.Info("CRAWL INTERRUPTED")
	} else {
		log.Info("CRAWL FINISHED")
	}
	log.Infof("Portal:           %s (%s .. %s)", s.Portal, s.StartDate, s.StopDate)
	log.Infof("Duration:         %v", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	log.Infof("Dates:            %d walked, %d failed, %d listing pages", s.DatesWalked, s.DatesFailed, s.ListingPages)
	log.Infof("Cases:            %d archived, %d already present, %d unprocessable, %d failed (%d censored)",
		s.CasesArchived, s.CasesExisting, s.CasesUnprocessable, s.CasesFailed, s.CasesCensored)
	log.Infof("Attachments:      %d written, %d failed (%d cases incomplete)", s.AttachmentsWritten, s.AttachmentsFailed, s.CasesPartial)
	if len(s.FailedDates) > 0 {
		log.Warnf("Failed dates:     %v", s.FailedDates)
	}
	log.Info("========================================================================")
}
