package crawler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/archive"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/config"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/extract"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/fetch"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/models"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/storage"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

var jan5 = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestListingURL(t *testing.T) {
	portal := config.PortalConfig{BaseURL: "https://vagan.kommune.no/innsyn.aspx", PortalID: "731"}
	assert.Equal(t,
		"https://vagan.kommune.no/innsyn.aspx?response=journalpost_postliste&MId1=731&scripturi=/innsyn.aspx&skin=infolink&fradato=2024-01-05T00:00:00",
		ListingURL(portal, jan5))
}

func TestProcess_RoundTrip(t *testing.T) {
	portal := newFakePortal(t)
	portal.addCase("2024001234", standardCase())
	dateDir := archive.DateDir(t.TempDir(), jan5)

	res := newTestProcessor(portal, t.TempDir(), nil).Process(context.Background(), portal.caseURL("2024001234"), dateDir, false)

	require.NoError(t, res.Err)
	assert.Equal(t, models.OutcomeArchived, res.Outcome)
	assert.Equal(t, filepath.Join(dateDir, "2024001234 24_123"), res.CaseDir)

	details := readFile(t, filepath.Join(res.CaseDir, archive.DetailsFile))
	assert.Contains(t, details, "ArkivsakID: 24/123")
	assert.Contains(t, details, "Journaldato: 2024-01-05")
	assert.True(t, strings.HasSuffix(details, "\n\n"))
	assert.False(t, strings.HasSuffix(details, "\n\n\n"))

	assert.Equal(t, string(pdfBytes), readFile(t, filepath.Join(res.CaseDir, "Vedlegg 1.pdf")))
	require.Len(t, res.Attachments, 1)
	assert.Equal(t, "Vedlegg 1.pdf", res.Attachments[0].Filename)
	assert.Equal(t, utils.BytesSHA256(pdfBytes), res.Attachments[0].SHA256)

	parsed := archive.ParseDetails(details)
	assert.Equal(t, []string{"Vedlegg 1.pdf"}, parsed.Attachments)
	assert.False(t, parsed.Censored)
}

func TestProcess_ExistingCaseIsNotFetched(t *testing.T) {
	portal := newFakePortal(t)
	portal.addCase("2024001234", standardCase())
	dateDir := archive.DateDir(t.TempDir(), jan5)
	proc := newTestProcessor(portal, t.TempDir(), nil)

	first := proc.Process(context.Background(), portal.caseURL("2024001234"), dateDir, false)
	require.Equal(t, models.OutcomeArchived, first.Outcome)
	detailsPath := filepath.Join(first.CaseDir, archive.DetailsFile)
	before, err := os.Stat(detailsPath)
	require.NoError(t, err)

	portal.resetHits()
	second := proc.Process(context.Background(), portal.caseURL("2024001234"), dateDir, false)

	assert.Equal(t, models.OutcomeSkippedExisting, second.Outcome)
	assert.Equal(t, first.CaseDir, second.CaseDir)
	assert.Zero(t, portal.caseHits.Load(), "no network fetch for a completed case")
	assert.Zero(t, portal.docHits.Load())

	after, err := os.Stat(detailsPath)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
	assert.ElementsMatch(t, []string{archive.DetailsFile, "Vedlegg 1.pdf"}, dirNames(t, first.CaseDir))
}

func TestProcess_ForceOverwrites(t *testing.T) {
	portal := newFakePortal(t)
	portal.addCase("2024001234", standardCase())
	dateDir := archive.DateDir(t.TempDir(), jan5)
	proc := newTestProcessor(portal, t.TempDir(), nil)

	first := proc.Process(context.Background(), portal.caseURL("2024001234"), dateDir, false)
	require.Equal(t, models.OutcomeArchived, first.Outcome)
	require.NoError(t, os.WriteFile(filepath.Join(first.CaseDir, archive.DetailsFile), []byte("stale"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(first.CaseDir, "Vedlegg 1.pdf"), []byte("stale"), 0o644))

	portal.resetHits()
	res := proc.Process(context.Background(), portal.caseURL("2024001234"), dateDir, true)

	assert.Equal(t, models.OutcomeArchived, res.Outcome)
	assert.EqualValues(t, 1, portal.caseHits.Load())
	assert.EqualValues(t, 1, portal.docHits.Load())
	assert.Contains(t, readFile(t, filepath.Join(res.CaseDir, archive.DetailsFile)), "ArkivsakID: 24/123")
	assert.Equal(t, string(pdfBytes), readFile(t, filepath.Join(res.CaseDir, "Vedlegg 1.pdf")))
	assert.False(t, res.Attachments[0].Kept)
}

func TestProcess_Censored(t *testing.T) {
	portal := newFakePortal(t)
	notice := "Dokumentet er ikke offentlig. Offl. § 13"
	portal.addCase("2024000999", testCase{
		Fields:   [][2]string{{"ArkivsakID", "24/999"}},
		Sender:   []string{"Kari Nordmann", "8300 Svolvær"},
		Censored: "\n   Dokumentet er ikke offentlig.\n   Offl. § 13\n",
	})
	dateDir := archive.DateDir(t.TempDir(), jan5)

	res := newTestProcessor(portal, t.TempDir(), nil).Process(context.Background(), portal.caseURL("2024000999"), dateDir, false)

	require.Equal(t, models.OutcomeArchived, res.Outcome)
	assert.True(t, res.Censored)
	assert.Empty(t, res.Attachments)
	assert.Zero(t, portal.docHits.Load())
	assert.Equal(t, []string{archive.DetailsFile}, dirNames(t, res.CaseDir))

	details := readFile(t, filepath.Join(res.CaseDir, archive.DetailsFile))
	assert.Contains(t, details, notice)
	assert.Contains(t, details, "Avsender(e):\nKari Nordmann\n8300 Svolvær")
	assert.True(t, archive.ParseDetails(details).Censored)
}

func TestProcess_MissingReferenceCreatesNoDirectory(t *testing.T) {
	portal := newFakePortal(t)
	portal.addCase("2024000001", testCase{
		Fields: [][2]string{{"Journaldato", "2024-01-05"}},
		Docs:   []testDoc{{ID: "5", Title: "Brev.pdf", Data: pdfBytes}},
	})
	dateDir := archive.DateDir(t.TempDir(), jan5)
	require.NoError(t, archive.EnsureDir(dateDir))

	res := newTestProcessor(portal, t.TempDir(), nil).Process(context.Background(), portal.caseURL("2024000001"), dateDir, false)

	assert.Equal(t, models.OutcomeSkippedUnprocessable, res.Outcome)
	assert.ErrorIs(t, res.Err, utils.ErrMissingCaseReference)
	assert.Empty(t, res.CaseDir)
	assert.Empty(t, dirNames(t, dateDir))
	assert.Zero(t, portal.docHits.Load())
}

func TestProcess_FetchFailureIsRecorded(t *testing.T) {
	portal := newFakePortal(t)
	store := newTestStore(t)
	dateDir := archive.DateDir(t.TempDir(), jan5)

	res := newTestProcessor(portal, t.TempDir(), store).Process(context.Background(), portal.caseURL("404404"), dateDir, false)

	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, utils.ErrClientHTTPError)

	status, entry, err := store.CheckCaseStatus("testkommune", "404404")
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusFailure, status)
	assert.Equal(t, "HTTP_404", entry.ErrorType)
	assert.Equal(t, "2024-01-05", entry.Date)
	assert.Equal(t, portal.caseURL("404404"), entry.CaseURL)
}

// twoDocCase has declared suffixes so kept files need no fetch for sniffing.
func twoDocCase() testCase {
	return testCase{
		Fields: [][2]string{{"ArkivsakID", "24/500"}, {"DokumentID", "500"}},
		Docs: []testDoc{
			{ID: "1", Title: "Kart.pdf", Data: pdfBytes},
			{ID: "2", Title: "Brev.pdf", Data: pdfBytes},
		},
	}
}

func TestProcess_FailedAttachmentIsRecorded(t *testing.T) {
	portal := newFakePortal(t)
	portal.addCase("500", twoDocCase())
	portal.setFailDoc("2", true)
	store := newTestStore(t)
	dateDir := archive.DateDir(t.TempDir(), jan5)
	proc := newTestProcessor(portal, t.TempDir(), store)

	res := proc.Process(context.Background(), portal.caseURL("500"), dateDir, false)

	require.Equal(t, models.OutcomeArchived, res.Outcome)
	assert.True(t, res.Partial())
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "Brev.pdf", res.Failed[0].Title)
	assert.Equal(t, "HTTP_404", res.Failed[0].ErrorType)
	assert.Equal(t, []string{"Kart.pdf"}, archive.ParseDetails(readFile(t, filepath.Join(res.CaseDir, archive.DetailsFile))).Attachments)

	status, entry, err := store.CheckCaseStatus("testkommune", "500")
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusFailure, status)
	assert.Equal(t, "Attachment_HTTP_404", entry.ErrorType)
	require.Len(t, entry.FailedAttachments, 1)
	assert.Equal(t, portal.srv.URL+"/dok/hent.aspx?id=2", entry.FailedAttachments[0].URL)

	failed, err := store.FailedCases(context.Background(), "testkommune")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "500", failed[0].JournalpostID)

	// A plain rerun skips the case but must not clear the record
	portal.resetHits()
	again := proc.Process(context.Background(), portal.caseURL("500"), dateDir, false)
	assert.Equal(t, models.OutcomeSkippedExisting, again.Outcome)
	assert.Zero(t, portal.docHits.Load())
	status, _, err = store.CheckCaseStatus("testkommune", "500")
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusFailure, status)
}

func TestProcess_KeepsAttachmentFromInterruptedRun(t *testing.T) {
	portal := newFakePortal(t)
	portal.addCase("2024001234", testCase{
		Fields: [][2]string{{"ArkivsakID", "24/123"}},
		Docs: []testDoc{
			{ID: "1", Title: "Kart.pdf", Data: pdfBytes},
			{ID: "2", Title: "Brev.pdf", Data: pdfBytes},
		},
	})
	dateDir := archive.DateDir(t.TempDir(), jan5)
	caseDir := archive.CaseDir(dateDir, "2024001234", "24/123")
	require.NoError(t, archive.EnsureDir(caseDir))
	require.NoError(t, os.WriteFile(filepath.Join(caseDir, "Kart.pdf"), []byte("from earlier run"), 0o644))

	res := newTestProcessor(portal, t.TempDir(), nil).Process(context.Background(), portal.caseURL("2024001234"), dateDir, false)

	require.Equal(t, models.OutcomeArchived, res.Outcome)
	assert.EqualValues(t, 1, portal.docHits.Load(), "only the missing attachment is fetched")
	require.Len(t, res.Attachments, 2)
	assert.True(t, res.Attachments[0].Kept)
	assert.Equal(t, utils.BytesSHA256([]byte("from earlier run")), res.Attachments[0].SHA256)
	assert.Equal(t, "from earlier run", readFile(t, filepath.Join(caseDir, "Kart.pdf")))
	assert.Equal(t, []string{"Kart.pdf", "Brev.pdf"}, archive.ParseDetails(readFile(t, filepath.Join(caseDir, archive.DetailsFile))).Attachments)
}

func TestProcess_AttachmentNames(t *testing.T) {
	portal := newFakePortal(t)
	portal.addCase("2024001234", testCase{
		Fields: [][2]string{{"ArkivsakID", "24/123"}},
		Docs: []testDoc{
			{ID: "1", Title: "Vedlegg", Data: pdfBytes},
			{ID: "2", Title: "Vedlegg", Data: pdfBytes},
			{ID: "3", Title: "Ukjent", Data: []byte{0x00, 0x01, 0x02, 0xff}},
			{ID: "4", Title: "???", Data: pdfBytes},
			{ID: "5", Title: "Mangler", Data: nil},
		},
	})
	// Document 5 is not served
	portal.mu.Lock()
	delete(portal.docs, "5")
	portal.mu.Unlock()
	dateDir := archive.DateDir(t.TempDir(), jan5)

	res := newTestProcessor(portal, t.TempDir(), nil).Process(context.Background(), portal.caseURL("2024001234"), dateDir, false)

	require.Equal(t, models.OutcomeArchived, res.Outcome)
	names := make([]string, 0, len(res.Attachments))
	for _, a := range res.Attachments {
		names = append(names, a.Filename)
	}
	assert.Equal(t, []string{"Vedlegg.pdf", "Ukjent.bin", "___.pdf"}, names)
	assert.ElementsMatch(t, append(names, archive.DetailsFile), dirNames(t, res.CaseDir))
}

func TestProcess_CancelledDownloadLeavesCaseIncomplete(t *testing.T) {
	portal := newFakePortal(t)
	portal.addCase("2024001234", standardCase())
	dateDir := archive.DateDir(t.TempDir(), jan5)

	ctx, cancel := context.WithCancel(context.Background())
	getter := &cancelOnDocGetter{inner: testFetcher(portal), cancel: cancel}
	proc := NewProcessor(portal.portalConfig(t.TempDir()), getter, extract.New(extract.DefaultMarkers()), testLogger(), ProcessorOptions{})

	res := proc.Process(ctx, portal.caseURL("2024001234"), dateDir, false)

	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.False(t, archive.IsComplete(res.CaseDir))
}

// cancelOnDocGetter cancels the run as soon as an attachment is requested.
type cancelOnDocGetter struct {
	inner  PageGetter
	cancel context.CancelFunc
}

func (g *cancelOnDocGetter) Get(ctx context.Context, rawURL string) ([]byte, error) {
	if strings.Contains(rawURL, "/dok/") {
		g.cancel()
		return nil, ctx.Err()
	}
	return g.inner.Get(ctx, rawURL)
}

func newTestWalker(portal *fakePortal, outputDir string, opts WalkerOptions) *Walker {
	ex := extract.New(extract.DefaultMarkers())
	f := testFetcher(portal)
	procOpts := ProcessorOptions{}
	if opts.Store != nil {
		if cs, ok := opts.Store.(storage.CaseStore); ok {
			procOpts.Store = cs
		}
	}
	proc := NewProcessor(portal.portalConfig(outputDir), f, ex, testLogger(), procOpts)
	return NewWalker(portal.portalConfig(outputDir), f, ex, proc, testLogger(), opts)
}

func TestWalkDate_Pagination(t *testing.T) {
	portal := newFakePortal(t)
	for _, id := range []string{"101", "102", "103"} {
		c := standardCase()
		c.Fields[1][1] = "24/" + id
		c.Docs = nil
		portal.addCase(id, c)
	}

	t.Run("next link fetches a second page", func(t *testing.T) {
		portal.resetHits()
		portal.addListing("2024-01-05", "101,102", "103")
		out := t.TempDir()

		res, err := newTestWalker(portal, out, WalkerOptions{}).WalkDate(context.Background(), jan5, false)

		require.NoError(t, err)
		assert.Equal(t, 2, res.Pages)
		assert.EqualValues(t, 2, portal.listingHits.Load())
		assert.Equal(t, 3, res.Counts.CasesArchived)
		assert.Len(t, dirNames(t, archive.DateDir(out, jan5)), 3)
	})

	t.Run("no next link means one page", func(t *testing.T) {
		portal.resetHits()
		portal.addListing("2024-01-05", "101,102,103")

		res, err := newTestWalker(portal, t.TempDir(), WalkerOptions{}).WalkDate(context.Background(), jan5, false)

		require.NoError(t, err)
		assert.Equal(t, 1, res.Pages)
		assert.EqualValues(t, 1, portal.listingHits.Load())
		assert.Equal(t, 3, res.Counts.CasesArchived)
	})

	t.Run("empty listing still creates the date directory", func(t *testing.T) {
		out := t.TempDir()
		res, err := newTestWalker(portal, out, WalkerOptions{}).WalkDate(context.Background(), jan5.AddDate(0, 0, 1), false)

		require.NoError(t, err)
		assert.Equal(t, 1, res.Pages)
		assert.Zero(t, res.Counts.CasesTotal())
		assert.DirExists(t, archive.DateDir(out, jan5.AddDate(0, 0, 1)))
	})
}

func TestWalkDate_LoopGuards(t *testing.T) {
	portal := newFakePortal(t)
	portal.addCase("101", testCase{Fields: [][2]string{{"ArkivsakID", "24/1"}}})

	t.Run("repeated next URL", func(t *testing.T) {
		portal.addListing("2024-01-05", "101")
		portal.mu.Lock()
		portal.loops["2024-01-05"] = true
		portal.mu.Unlock()
		portal.resetHits()

		res, err := newTestWalker(portal, t.TempDir(), WalkerOptions{}).WalkDate(context.Background(), jan5, false)

		require.NoError(t, err)
		assert.Equal(t, 1, res.Pages)
		assert.EqualValues(t, 1, portal.listingHits.Load())
	})

	t.Run("max pages", func(t *testing.T) {
		portal.addListing("2024-01-06", "101", "101", "101", "101")
		portal.resetHits()

		res, err := newTestWalker(portal, t.TempDir(), WalkerOptions{MaxPages: 2}).WalkDate(context.Background(), jan5.AddDate(0, 0, 1), false)

		require.NoError(t, err)
		assert.Equal(t, 2, res.Pages)
		assert.EqualValues(t, 2, portal.listingHits.Load())
	})
}

func TestWalkDate_ListingFailureIsRecorded(t *testing.T) {
	portal := newFakePortal(t)
	portal.setFailDate("2024-01-05", true)
	store := newTestStore(t)

	_, err := newTestWalker(portal, t.TempDir(), WalkerOptions{Store: store}).WalkDate(context.Background(), jan5, false)

	require.Error(t, err)
	status, entry, err := store.CheckDateStatus("testkommune", "2024-01-05")
	require.NoError(t, err)
	assert.Equal(t, models.DateStatusFailure, status)
	assert.NotEmpty(t, entry.ErrorType)
}

func TestWalkRange(t *testing.T) {
	portal := newFakePortal(t)
	portal.addCase("201", testCase{Fields: [][2]string{{"ArkivsakID", "24/201"}}})
	portal.addCase("202", testCase{Fields: [][2]string{{"ArkivsakID", "24/202"}}})
	portal.addCase("203", testCase{Fields: [][2]string{{"ArkivsakID", "24/203"}}})
	portal.addListing("2024-01-05", "201")
	portal.addListing("2024-01-06", "202")
	portal.addListing("2024-01-07", "203")
	portal.setFailDate("2024-01-06", true)

	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			out := t.TempDir()
			limiter := fetch.NewRateLimiter(0, testLogger())
			politeness := fetch.NewPoliteness(limiter, fetch.NoDelay, testLogger())
			w := newTestWalker(portal, out, WalkerOptions{Workers: workers, Politeness: politeness})

			rr := w.WalkRange(context.Background(), jan5, jan5.AddDate(0, 0, 2), false)

			require.Len(t, rr.Dates, 3)
			assert.True(t, rr.Dates[0].Date.Equal(jan5))
			assert.Equal(t, 2, rr.Summary.DatesWalked)
			assert.Equal(t, 1, rr.Summary.DatesFailed)
			assert.Equal(t, []string{"2024-01-06"}, rr.Summary.FailedDates)
			assert.Equal(t, 2, rr.Summary.CasesArchived)
			assert.False(t, rr.Summary.Cancelled)
		})
	}
}

func TestWalkRange_Cancelled(t *testing.T) {
	portal := newFakePortal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rr := newTestWalker(portal, t.TempDir(), WalkerOptions{}).WalkRange(ctx, jan5, jan5.AddDate(0, 0, 30), false)

	assert.True(t, rr.Summary.Cancelled)
	assert.Zero(t, portal.listingHits.Load())
	assert.Zero(t, rr.Summary.DatesWalked)
}

func TestCrawler_RunAndRetry(t *testing.T) {
	portal := newFakePortal(t)
	portal.addCase("301", standardCase())
	portal.addCase("302", testCase{Fields: [][2]string{{"ArkivsakID", "24/302"}}})
	portal.addListing("2024-01-05", "301,302")
	portal.setFailCase("302", true)

	store := newTestStore(t)
	appCfg := testAppConfig()
	appCfg.StateDir = t.TempDir()
	out := t.TempDir()

	c, err := NewCrawler(appCfg, portal.portalConfig(out), testLogger(), testFetcher(portal), &CrawlerOptions{Store: store})
	require.NoError(t, err)
	require.NotEmpty(t, c.RunID())

	summary, err := c.Run(context.Background(), jan5, jan5, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CasesArchived)
	assert.Equal(t, 1, summary.CasesFailed)
	assert.Equal(t, "2024-01-05", summary.StartDate)

	written, err := ReadRunSummary(RunSummaryPath(appCfg.StateDir, "testkommune"))
	require.NoError(t, err)
	assert.Equal(t, c.RunID(), written.RunID)
	assert.Equal(t, 1, written.CasesFailed)

	failed, err := store.FailedCases(context.Background(), "testkommune")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "302", failed[0].JournalpostID)

	portal.setFailCase("302", false)
	portal.resetHits()
	retried, err := c.Retry(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, retried.CasesArchived)
	assert.EqualValues(t, 1, portal.caseHits.Load(), "only the failed case is refetched")

	failed, err = store.FailedCases(context.Background(), "testkommune")
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.True(t, archive.IsComplete(archive.CaseDir(archive.DateDir(out, jan5), "302", "24/302")))
}

func TestCrawler_RetryRepairsPartialCase(t *testing.T) {
	portal := newFakePortal(t)
	portal.addCase("500", twoDocCase())
	portal.addListing("2024-01-05", "500")
	portal.setFailDoc("2", true)

	store := newTestStore(t)
	appCfg := testAppConfig()
	appCfg.StateDir = t.TempDir()
	out := t.TempDir()

	c, err := NewCrawler(appCfg, portal.portalConfig(out), testLogger(), testFetcher(portal), &CrawlerOptions{Store: store})
	require.NoError(t, err)

	summary, err := c.Run(context.Background(), jan5, jan5, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CasesArchived)
	assert.Equal(t, 1, summary.CasesPartial)
	assert.Equal(t, 1, summary.AttachmentsFailed)

	caseDir := archive.CaseDir(archive.DateDir(out, jan5), "500", "24/500")
	require.NoError(t, os.WriteFile(filepath.Join(caseDir, "Kart.pdf"), []byte("kept"), 0o644))

	portal.setFailDoc("2", false)
	portal.resetHits()
	retried, err := c.Retry(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, retried.CasesArchived)
	assert.Zero(t, retried.CasesPartial)
	assert.EqualValues(t, 1, portal.caseHits.Load())
	assert.EqualValues(t, 1, portal.docHits.Load(), "only the missing document is fetched")

	assert.Equal(t, "kept", readFile(t, filepath.Join(caseDir, "Kart.pdf")))
	assert.FileExists(t, filepath.Join(caseDir, "Brev.pdf"))
	assert.Equal(t, []string{"Kart.pdf", "Brev.pdf"}, archive.ParseDetails(readFile(t, filepath.Join(caseDir, archive.DetailsFile))).Attachments)

	failed, err := store.FailedCases(context.Background(), "testkommune")
	require.NoError(t, err)
	assert.Empty(t, failed)
}

func TestCrawler_Errors(t *testing.T) {
	portal := newFakePortal(t)

	_, err := NewCrawler(testAppConfig(), config.PortalConfig{Key: "x"}, testLogger(), testFetcher(portal), nil)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)

	c, err := NewCrawler(testAppConfig(), portal.portalConfig(t.TempDir()), testLogger(), testFetcher(portal), nil)
	require.NoError(t, err)

	_, err = c.Run(context.Background(), jan5, jan5.AddDate(0, 0, -1), false)
	assert.ErrorIs(t, err, utils.ErrInvalidDate)

	_, err = c.Retry(context.Background(), false)
	assert.ErrorIs(t, err, utils.ErrConfigValidation, "retry without a store")
}

func TestKeyedMutex(t *testing.T) {
	km := NewKeyedMutex()
	counter := 0
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("/arkiv/2024/01/05/1 24-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, km.Len())

	unlockA := km.Lock("a")
	unlockB := km.Lock("b") // Different keys do not block each other
	assert.Equal(t, 2, km.Len())
	unlockA()
	unlockB()
}

func TestDateFromDir(t *testing.T) {
	assert.Equal(t, "2024-01-05", dateFromDir(archive.DateDir("/arkiv", jan5)))
}
