package upload

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

// ProcessedLog is the append-only list of case directories already uploaded, one absolute path
// per line. A path is appended only after its document was accepted by the index.
type ProcessedLog struct {
	path string

	mu   sync.Mutex
	f    *os.File
	seen map[string]struct{}
}

// OpenProcessedLog loads the existing entries of path and opens it for appending.
func OpenProcessedLog(path string) (*ProcessedLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create processed log dir: %w", utils.ErrFilesystem, err)
	}

	seen := make(map[string]struct{})
	existing, err := os.Open(path)
	switch {
	case err == nil:
		scanner := bufio.NewScanner(existing)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				seen[line] = struct{}{}
			}
		}
		scanErr := scanner.Err()
		existing.Close()
		if scanErr != nil {
			return nil, fmt.Errorf("%w: read processed log %s: %w", utils.ErrFilesystem, path, scanErr)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("%w: open processed log %s: %w", utils.ErrFilesystem, path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open processed log %s for append: %w", utils.ErrFilesystem, path, err)
	}
	return &ProcessedLog{path: path, f: f, seen: seen}, nil
}

// Contains reports whether caseDir was already uploaded.
func (l *ProcessedLog) Contains(caseDir string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[caseDir]
	return ok
}

// Append records caseDir and syncs the file before returning.
func (l *ProcessedLog) Append(caseDir string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return fmt.Errorf("%w: processed log %s is closed", utils.ErrFilesystem, l.path)
	}
	if _, ok := l.seen[caseDir]; ok {
		return nil
	}
	if _, err := l.f.WriteString(caseDir + "\n"); err != nil {
		return fmt.Errorf("%w: append to %s: %w", utils.ErrFilesystem, l.path, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", utils.ErrFilesystem, l.path, err)
	}
	l.seen[caseDir] = struct{}{}
	return nil
}

// Len is the number of recorded case directories.
func (l *ProcessedLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Path is the file backing the log.
func (l *ProcessedLog) Path() string {
	return l.path
}

func (l *ProcessedLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
