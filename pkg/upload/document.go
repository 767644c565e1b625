package upload

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/archive"
)

// Details labels mapped onto index fields.
const (
	labelDocumentID  = "DokumentID"
	labelCaseID      = "ArkivsakID"
	labelJournalDate = "Journaldato"
	labelLetterDate  = "Brevdato"
	labelResponsible = "Dokumentansvarlig"
)

// Segment is one entry of a document's content_segmented list.
type Segment struct {
	ContentSegment string `json:"content_segment"`
}

// Document is the record upserted into the index for one case.
type Document struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Authors           []string  `json:"authors"`
	Content           string    `json:"content"`
	ContentSegmented  []Segment `json:"content_segmented"`
	Attachments       []string  `json:"attachments"`
	JournalDate       string    `json:"journal_date,omitempty"`
	LetterDate        string    `json:"letter_date,omitempty"`
	ResponsiblePerson string    `json:"responsible_person,omitempty"`
}

// DocumentFromDetails maps a parsed details.txt onto a Document. ok is false when the case has
// no DokumentID or no ArkivsakID.
func DocumentFromDetails(d archive.Details) (doc Document, ok bool) {
	id, _ := d.Get(labelDocumentID)
	title, _ := d.Get(labelCaseID)
	id, title = strings.TrimSpace(id), strings.TrimSpace(title)
	if id == "" || title == "" {
		return Document{}, false
	}

	doc = Document{
		ID:               id,
		Title:            title,
		Authors:          nonBlank(d.Sender),
		Content:          contentOf(d, title),
		ContentSegmented: []Segment{{ContentSegment: "Details for " + title}},
		Attachments:      []string{},
	}
	doc.JournalDate, _ = d.Get(labelJournalDate)
	doc.LetterDate, _ = d.Get(labelLetterDate)
	doc.ResponsiblePerson, _ = d.Get(labelResponsible)
	for _, f := range d.Fields {
		if f.Label == labelDocumentID || f.Label == labelCaseID || strings.TrimSpace(f.Value) == "" {
			continue
		}
		doc.ContentSegmented = append(doc.ContentSegmented, Segment{ContentSegment: f.Label + ": " + f.Value})
	}
	return doc, true
}

func contentOf(d archive.Details, title string) string {
	var b strings.Builder
	b.WriteString("Document related to ")
	b.WriteString(title)
	if d.Censored && d.CensorReason != "" {
		b.WriteString("\n")
		b.WriteString(d.CensorReason)
	}
	return b.String()
}

func nonBlank(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

// Attachments lists the files of caseDir to upload with the document. Names listed in details.txt
// are used when present on disk; otherwise the directory is scanned for the given extensions.
func Attachments(caseDir string, d archive.Details, extensions []string) ([]string, error) {
	if d.Censored {
		return nil, nil
	}

	var listed []string
	for _, name := range d.Attachments {
		if name == "" || name != filepath.Base(name) {
			continue
		}
		if info, err := os.Stat(filepath.Join(caseDir, name)); err == nil && info.Mode().IsRegular() {
			listed = append(listed, name)
		}
	}
	if len(listed) > 0 {
		return listed, nil
	}

	entries, err := os.ReadDir(caseDir)
	if err != nil {
		return nil, err
	}
	var scanned []string
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name() == archive.DetailsFile {
			continue
		}
		if hasExtension(e.Name(), extensions) {
			scanned = append(scanned, e.Name())
		}
	}
	sort.Strings(scanned)
	return scanned, nil
}

func hasExtension(name string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range extensions {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}
