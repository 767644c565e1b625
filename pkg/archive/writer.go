// Package archive owns the on-disk layout: root/YYYY/MM/DD/{journalpostId} {arkivsakId}/ holding
// attachment files and, written last, details.txt.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// EnsureDir creates dir and its parents.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("%w: mkdir %s: %w", utils.ErrFilesystem, dir, err)
	}
	return nil
}

// WriteDetails writes content, trimmed and followed by exactly one blank line, to path.
func WriteDetails(path, content string) error {
	return utils.WriteFileAtomic(filepath.Clean(path), []byte(strings.TrimSpace(content)+"\n\n"), filePerm)
}

// WriteAttachment writes data to path via a synced temp file and a rename, so a truncated
// attachment is never visible under its final name.
func WriteAttachment(path string, data []byte) error {
	return utils.WriteFileAtomic(filepath.Clean(path), data, filePerm)
}
