package archive

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pdfBytes = []byte("%PDF-1.7\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")

func TestFormatDetails_Attachments(t *testing.T) {
	d := Details{
		Fields: []Field{
			{"Journaldato", "2024-01-05"},
			{"ArkivsakID", "24/123"},
		},
		Attachments: []string{"Vedlegg 1.pdf"},
	}

	got := FormatDetails(d)

	assert.Equal(t, "Journaldato: 2024-01-05\nArkivsakID: 24/123\n\nVedlegg 1.pdf\n\n", got)
	assert.True(t, strings.HasSuffix(got, "\n\n"))
	assert.False(t, strings.HasSuffix(got, "\n\n\n"))
}

func TestFormatDetails_SenderAndCensored(t *testing.T) {
	d := Details{
		Fields:       []Field{{"ArkivsakID", "24/999"}},
		Sender:       []string{"Kari Nordmann", "  ", "8300 Svolvær"},
		Censored:     true,
		CensorReason: "Dokumentet er ikke offentlig. Offl. § 13",
		Attachments:  []string{"ignored.pdf"},
	}

	got := FormatDetails(d)

	assert.Equal(t, "ArkivsakID: 24/999\n\nAvsender(e):\nKari Nordmann\n8300 Svolvær\n\nTekstdokument\nDokumentet er ikke offentlig. Offl. § 13\n\n", got)
}

func TestFormatDetails_Empty(t *testing.T) {
	assert.Equal(t, "\n\n", FormatDetails(Details{}))
}

func TestParseDetails_RoundTrip(t *testing.T) {
	tests := []Details{
		{
			Fields:      []Field{{"Journaldato", "05.01.2024"}, {"ArkivsakID", "24/123"}, {"DokumentID", "2024001234"}, {"Tittel", "Vedr: søknad"}},
			Sender:      []string{"Kari Nordmann", "Storgata 1"},
			Attachments: []string{"Vedlegg 1.pdf", "Kart.pdf"},
		},
		{
			Fields:       []Field{{"ArkivsakID", "24/999"}},
			Censored:     true,
			CensorReason: "Dokumentet er ikke offentlig.",
		},
		{
			Fields: []Field{{"ArkivsakID", "24/1"}, {"Merknad", ""}},
		},
		{
			Attachments: []string{"dokument.bin"},
		},
	}

	for _, want := range tests {
		got := ParseDetails(FormatDetails(want))
		assert.Equal(t, want.Fields, got.Fields)
		assert.Equal(t, want.Sender, got.Sender)
		assert.Equal(t, want.Censored, got.Censored)
		assert.Equal(t, want.CensorReason, got.CensorReason)
		assert.Equal(t, want.Attachments, got.Attachments)
	}
}

func TestParseDetails_LegacyLayout(t *testing.T) {
	// Older files listed document titles straight after the fields when there was no sender
	legacy := "Journaldato: 05.01.2024\nArkivsakID: 24/123\nDokumentID: 77\nSøknad\nKart\n\n"

	d := ParseDetails(legacy)

	v, ok := d.Get("DokumentID")
	assert.True(t, ok)
	assert.Equal(t, "77", v)
	assert.Equal(t, []string{"Søknad", "Kart"}, d.Attachments)

	_, ok = d.Get("Brevdato")
	assert.False(t, ok)
}

func TestLayout(t *testing.T) {
	date := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	dateDir := DateDir("/archive-vagan", date)
	assert.Equal(t, filepath.Join("/archive-vagan", "2024", "01", "05"), dateDir)

	assert.Equal(t, "2024001234 24_123", CaseDirName("2024001234", "24/123"))
	assert.Equal(t, filepath.Join(dateDir, "2024001234 24_123"), CaseDir(dateDir, "2024001234", "24/123"))
}

func TestFindCompleted(t *testing.T) {
	dateDir := t.TempDir()

	_, ok := FindCompleted(dateDir, "77")
	assert.False(t, ok)

	incomplete := CaseDir(dateDir, "77", "24/1")
	require.NoError(t, EnsureDir(incomplete))
	_, ok = FindCompleted(dateDir, "77")
	assert.False(t, ok, "a directory without details.txt is not complete")

	// Journal id 770 shares the prefix but not the id
	other := CaseDir(dateDir, "770", "24/2")
	require.NoError(t, EnsureDir(other))
	require.NoError(t, WriteDetails(filepath.Join(other, DetailsFile), "ArkivsakID: 24/2"))
	_, ok = FindCompleted(dateDir, "77")
	assert.False(t, ok)

	require.NoError(t, WriteDetails(filepath.Join(incomplete, DetailsFile), "ArkivsakID: 24/1"))
	dir, ok := FindCompleted(dateDir, "77")
	assert.True(t, ok)
	assert.Equal(t, incomplete, dir)
	assert.True(t, IsComplete(dir))
}

func TestFindCompleted_GlobMetacharacters(t *testing.T) {
	root := filepath.Join(t.TempDir(), "arkiv [test]")
	dir := CaseDir(root, "5", "24/5")
	require.NoError(t, EnsureDir(dir))
	require.NoError(t, WriteDetails(filepath.Join(dir, DetailsFile), "x"))

	got, ok := FindCompleted(root, "5")
	assert.True(t, ok)
	assert.Equal(t, dir, got)
}

func TestWriteDetails_NormalizesTrailer(t *testing.T) {
	path := filepath.Join(t.TempDir(), DetailsFile)
	require.NoError(t, WriteDetails(path, "\nArkivsakID: 24/123\n\n\n\n"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ArkivsakID: 24/123\n\n", string(data))
}

func TestWriteAttachment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Vedlegg 1.pdf")

	require.NoError(t, WriteAttachment(path, pdfBytes))
	require.NoError(t, WriteAttachment(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestResolveExtension(t *testing.T) {
	tests := []struct {
		name  string
		title string
		data  []byte
		want  string
	}{
		{"declared suffix wins", "Kart.PDF", []byte("not a pdf"), ".pdf"},
		{"sniffed pdf", "Vedlegg 1", pdfBytes, ".pdf"},
		{"sniffed png", "Bilde", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), ".png"},
		{"unknown binary", "Vedlegg", []byte{0x00, 0x01, 0x02, 0xff, 0xfe}, ".bin"},
		{"empty body", "Vedlegg", nil, ".bin"},
		{"unrecognized dotted title", "Sak 24.123", pdfBytes, ".pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveExtension(tt.title, tt.data, MimeSniffer{}))
		})
	}

	stub := SnifferFunc(func([]byte) string { return ".docx" })
	assert.Equal(t, ".docx", ResolveExtension("Brev", nil, stub))
	assert.Equal(t, ".bin", ResolveExtension("Brev", pdfBytes, nil))
}

func TestAttachmentFilename(t *testing.T) {
	assert.Equal(t, "Vedlegg 1.pdf", AttachmentFilename("Vedlegg 1", ".pdf"))
	assert.Equal(t, "Kart.pdf", AttachmentFilename("Kart.pdf", ".pdf"))
	assert.Equal(t, "Kart.PDF", AttachmentFilename("Kart.PDF", ".pdf"))
	assert.Equal(t, "dokument.bin", AttachmentFilename("", ".bin"))
}
