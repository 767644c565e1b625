package archive

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

// DateDir returns root/YYYY/MM/DD for date.
func DateDir(root string, date time.Time) string {
	return filepath.Join(root, date.Format("2006"), date.Format("01"), date.Format("02"))
}

// CaseDirName is the directory name of one case: the sanitized "{journalpostId} {arkivsakId}".
func CaseDirName(journalpostID, arkivsakID string) string {
	return utils.SanitizeFilename(journalpostID + " " + arkivsakID)
}

// CaseDir returns the directory of one case inside dateDir.
func CaseDir(dateDir, journalpostID, arkivsakID string) string {
	return filepath.Join(dateDir, CaseDirName(journalpostID, arkivsakID))
}

// IsComplete reports whether caseDir holds a details.txt, i.e. the case finished writing.
func IsComplete(caseDir string) bool {
	return utils.FileExists(filepath.Join(caseDir, DetailsFile))
}

// FindCompleted returns the completed case directory for journalpostID in dateDir, if any.
// It lets a run skip a case before fetching its page, when the case reference is not yet known.
func FindCompleted(dateDir, journalpostID string) (string, bool) {
	prefix := utils.SanitizeFilename(journalpostID) + " "
	pattern := filepath.Join(escapeGlob(dateDir), escapeGlob(prefix)+"*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", false
	}
	sort.Strings(matches)
	for _, m := range matches {
		if !strings.HasPrefix(filepath.Base(m), prefix) {
			continue
		}
		if info, err := os.Stat(m); err == nil && info.IsDir() && IsComplete(m) {
			return m, true
		}
	}
	return "", false
}

// escapeGlob escapes the filepath.Match metacharacters in s.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
