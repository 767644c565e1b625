package archive

import (
	"strings"
)

// DetailsFile is the name of the per-case metadata file. Its presence marks a case as complete.
const DetailsFile = "details.txt"

// Section headings inside details.txt.
const (
	senderHeading   = "Avsender(e):"
	documentHeading = "Tekstdokument"
)

// Field is one "Label: value" line of details.txt.
type Field struct {
	Label string
	Value string
}

// Details is the content of a details.txt file. The crawl writes it and the upload phase reads it back.
type Details struct {
	Fields       []Field  // Metadata rows in page order
	Sender       []string // One entry per sender line
	Censored     bool
	CensorReason string   // Set iff Censored
	Attachments  []string // Attachment filenames in the case directory; empty when Censored
}

// Get returns the value of the first field with the given label.
func (d Details) Get(label string) (string, bool) {
	for _, f := range d.Fields {
		if f.Label == label {
			return f.Value, true
		}
	}
	return "", false
}

// FormatDetails serializes d. Sections are separated by a blank line and the result always ends
// with exactly one blank line.
//
//	Label: value
//
//	Avsender(e):
//	sender line
//
//	Tekstdokument
//	censorship reason
//
// When the case is not censored, the last section lists attachment filenames instead.
func FormatDetails(d Details) string {
	var sections []string

	if len(d.Fields) > 0 {
		lines := make([]string, 0, len(d.Fields))
		for _, f := range d.Fields {
			lines = append(lines, f.Label+": "+f.Value)
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}

	if sender := nonEmpty(d.Sender); len(sender) > 0 {
		sections = append(sections, senderHeading+"\n"+strings.Join(sender, "\n"))
	}

	if d.Censored {
		sections = append(sections, documentHeading+"\n"+d.CensorReason)
	} else if files := nonEmpty(d.Attachments); len(files) > 0 {
		sections = append(sections, strings.Join(files, "\n"))
	}

	return strings.TrimSpace(strings.Join(sections, "\n\n")) + "\n\n"
}

// ParseDetails reads details.txt content. It also accepts files written by older archiver versions,
// where attachment titles could directly follow the field lines.
func ParseDetails(text string) Details {
	var d Details
	text = strings.ReplaceAll(text, "\r\n", "\n")

	for i, block := range splitBlocks(text) {
		switch {
		case block[0] == senderHeading:
			d.Sender = append(d.Sender, block[1:]...)

		case block[0] == documentHeading:
			d.Censored = true
			d.CensorReason = strings.Join(block[1:], " ")

		case i == 0:
			for _, line := range block {
				if label, value, ok := splitField(line); ok {
					d.Fields = append(d.Fields, Field{Label: label, Value: value})
					continue
				}
				d.Attachments = append(d.Attachments, line)
			}

		default:
			d.Attachments = append(d.Attachments, block...)
		}
	}

	if d.Censored {
		d.Attachments = nil
	}
	return d
}

// splitBlocks splits text into runs of non-blank, trimmed lines.
func splitBlocks(text string) [][]string {
	var blocks [][]string
	var cur []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if len(cur) > 0 {
				blocks = append(blocks, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		blocks = append(blocks, cur)
	}
	return blocks
}

// splitField splits "Label: value". Labels are a single run without ": " and attachment filenames
// never contain ':', so the two cannot be confused.
func splitField(line string) (string, string, bool) {
	label, value, ok := strings.Cut(line, ": ")
	if !ok || label == "" {
		if strings.HasSuffix(line, ":") && len(line) > 1 {
			return strings.TrimSuffix(line, ":"), "", true
		}
		return "", "", false
	}
	return label, value, true
}

func nonEmpty(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
