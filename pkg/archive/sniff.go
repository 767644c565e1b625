package archive

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// FallbackExtension is used when neither the title nor the content reveals a type.
const FallbackExtension = ".bin"

// DefaultAttachmentName replaces an attachment title that sanitizes to nothing.
const DefaultAttachmentName = "dokument"

// Sniffer maps leading content bytes to a file extension including the dot, or "" if unknown.
type Sniffer interface {
	SniffExtension(data []byte) string
}

// MimeSniffer detects types with gabriel-vasile/mimetype.
type MimeSniffer struct{}

// SniffExtension implements Sniffer.
func (MimeSniffer) SniffExtension(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	mt := mimetype.Detect(data)
	// Detect falls back to application/octet-stream, or text/plain for arbitrary text
	if mt.Is("application/octet-stream") {
		return ""
	}
	return mt.Extension()
}

// SnifferFunc adapts a function to Sniffer.
type SnifferFunc func(data []byte) string

// SniffExtension implements Sniffer.
func (f SnifferFunc) SniffExtension(data []byte) string { return f(data) }

// declaredExtensions are suffixes trusted when they appear in an attachment title.
var declaredExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".odt": true, ".ods": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".tif": true, ".tiff": true,
	".txt": true, ".rtf": true, ".msg": true, ".eml": true, ".zip": true, ".xml": true, ".csv": true,
}

// DeclaredExtension returns the known document extension at the end of title, lower-cased, or "".
func DeclaredExtension(title string) string {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(title)))
	if declaredExtensions[ext] {
		return ext
	}
	return ""
}

// ResolveExtension picks the extension for an attachment: a declared suffix in the title wins,
// otherwise the sniffed content type, otherwise FallbackExtension.
func ResolveExtension(title string, data []byte, sniffer Sniffer) string {
	if ext := DeclaredExtension(title); ext != "" {
		return ext
	}
	if sniffer != nil {
		if ext := sniffer.SniffExtension(data); ext != "" {
			return ext
		}
	}
	return FallbackExtension
}

// AttachmentFilename builds the on-disk name from a sanitized base name and an extension.
// The extension is only appended when the name does not already end with it.
func AttachmentFilename(base, ext string) string {
	if base == "" {
		base = DefaultAttachmentName
	}
	if ext != "" && strings.HasSuffix(strings.ToLower(base), strings.ToLower(ext)) {
		return base
	}
	return base + ext
}
