package crawler

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/config"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/extract"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/fetch"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/storage"
)

var pdfBytes = []byte("%PDF-1.7\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")

type testDoc struct {
	ID    string
	Title string
	Data  []byte
}

type testCase struct {
	Fields   [][2]string // label, value
	Sender   []string
	Censored string // Notice text; empty when public
	Docs     []testDoc
}

// fakePortal serves listing pages, case pages and documents the way an innsyn portal does.
type fakePortal struct {
	srv *httptest.Server

	listingHits atomic.Int32
	caseHits    atomic.Int32
	docHits     atomic.Int32

	mu       sync.Mutex
	listings map[string][]string // date -> journal ids per page
	loops    map[string]bool     // date whose "next" link points back at page 0
	failDate map[string]bool
	cases    map[string]testCase
	failCase map[string]bool
	failDoc  map[string]bool
	docs     map[string][]byte
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	p := &fakePortal{
		listings: make(map[string][]string),
		loops:    make(map[string]bool),
		failDate: make(map[string]bool),
		cases:    make(map[string]testCase),
		failCase: make(map[string]bool),
		failDoc:  make(map[string]bool),
		docs:     make(map[string][]byte),
	}
	p.srv = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.srv.Close)
	return p
}

// addListing registers the listing of date; each argument is one page of comma separated journal ids.
func (p *fakePortal) addListing(date string, pages ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listings[date] = pages
}

func (p *fakePortal) addCase(jpid string, c testCase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cases[jpid] = c
	for _, d := range c.Docs {
		p.docs[d.ID] = d.Data
	}
}

func (p *fakePortal) setFailCase(jpid string, fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failCase[jpid] = fail
}

func (p *fakePortal) setFailDoc(id string, fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failDoc[id] = fail
}

func (p *fakePortal) setFailDate(date string, fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failDate[date] = fail
}

func (p *fakePortal) resetHits() {
	p.listingHits.Store(0)
	p.caseHits.Store(0)
	p.docHits.Store(0)
}

func (p *fakePortal) portalConfig(outputDir string) config.PortalConfig {
	return config.PortalConfig{
		Key:       "testkommune",
		Name:      "Test kommune",
		BaseURL:   p.srv.URL + "/innsyn.aspx",
		PortalID:  "731",
		OutputDir: outputDir,
	}
}

func (p *fakePortal) caseURL(jpid string) string {
	return p.srv.URL + "/innsyn.aspx?response=journalpost_detaljer&journalpostid=" + jpid + "&MId1=731"
}

func (p *fakePortal) serve(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	q := r.URL.Query()
	switch {
	case r.URL.Path == "/dok/hent.aspx":
		p.docHits.Add(1)
		data, ok := p.docs[q.Get("id")]
		if !ok || p.failDoc[q.Get("id")] {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(data)

	case q.Get("response") == "journalpost_postliste":
		p.listingHits.Add(1)
		date := strings.TrimSuffix(q.Get("fradato"), "T00:00:00")
		if p.failDate[date] {
			http.Error(w, "feil", http.StatusInternalServerError)
			return
		}
		page, _ := strconv.Atoi(q.Get("page"))
		pages := p.listings[date]
		if page >= len(pages) {
			io.WriteString(w, "<html><body><p>Ingen treff</p></body></html>")
			return
		}
		next := ""
		if page+1 < len(pages) {
			next = fmt.Sprintf("?response=journalpost_postliste&amp;MId1=731&amp;fradato=%sT00:00:00&amp;page=%d", date, page+1)
		} else if p.loops[date] {
			next = fmt.Sprintf("?response=journalpost_postliste&amp;MId1=731&amp;scripturi=/innsyn.aspx&amp;skin=infolink&amp;fradato=%sT00:00:00", date)
		}
		io.WriteString(w, listingPageHTML(strings.Split(pages[page], ","), next))

	case q.Get("response") == "journalpost_detaljer":
		p.caseHits.Add(1)
		jpid := q.Get("journalpostid")
		if p.failCase[jpid] {
			http.Error(w, "feil", http.StatusInternalServerError)
			return
		}
		c, ok := p.cases[jpid]
		if !ok {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, casePageHTML(c))

	default:
		http.NotFound(w, r)
	}
}

func listingPageHTML(jpids []string, next string) string {
	var b strings.Builder
	b.WriteString("<html><body><div class=\"liste\">\n")
	for _, id := range jpids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		fmt.Fprintf(&b, "<div><a href=\"?response=journalpost_detaljer&amp;journalpostid=%s&amp;MId1=731\">Gå til journalposten</a></div>\n", id)
	}
	b.WriteString("</div>\n")
	if next != "" {
		fmt.Fprintf(&b, "<div class=\"paging\"><a href=\"?page=0\">1</a> <a href=\"%s\">Neste</a></div>\n", next)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func casePageHTML(c testCase) string {
	var b strings.Builder
	b.WriteString("<html><body>\n")
	if len(c.Fields) > 0 {
		b.WriteString("<table class=\"table hh i-bgw two\">\n")
		for _, f := range c.Fields {
			fmt.Fprintf(&b, "<tr><th>%s:</th><td>%s</td></tr>\n", f[0], f[1])
		}
		b.WriteString("</table>\n")
	}
	if len(c.Sender) > 0 {
		b.WriteString("<h2>Avsender(e)</h2>\n<div class=\"dokmottakere\">")
		for _, s := range c.Sender {
			fmt.Fprintf(&b, "<p>%s</p>", s)
		}
		b.WriteString("</div>\n")
	}
	b.WriteString("<h2>Tekstdokument</h2>\n")
	if c.Censored != "" {
		fmt.Fprintf(&b, "<div class=\"content-text\">%s</div>\n", c.Censored)
	} else {
		b.WriteString("<ul class=\"innsyn_dok\">\n")
		for _, d := range c.Docs {
			fmt.Fprintf(&b, "<li><a href=\"/dok/hent.aspx?id=%s\">%s</a></li>\n", d.ID, d.Title)
		}
		b.WriteString("</ul>\n")
	}
	b.WriteString("</body></html>")
	return b.String()
}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testAppConfig() *config.AppConfig {
	return &config.AppConfig{
		UserAgent:         "innsyn-test/1.0",
		MaxRetries:        0,
		InitialRetryDelay: 10 * time.Millisecond,
		MaxRetryDelay:     50 * time.Millisecond,
		DateWorkers:       1,
	}
}

func testFetcher(p *fakePortal) *fetch.Fetcher {
	return fetch.NewFetcher(p.srv.Client(), testAppConfig(), testLogger())
}

func newTestProcessor(p *fakePortal, outputDir string, store storage.CaseStore) *Processor {
	opts := ProcessorOptions{}
	if store != nil {
		opts.Store = store
	}
	return NewProcessor(p.portalConfig(outputDir), testFetcher(p), extract.New(extract.DefaultMarkers()), testLogger(), opts)
}

func newTestStore(t *testing.T) *storage.BadgerStore {
	t.Helper()
	store, err := storage.NewBadgerStore(t.TempDir(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// standardCase is the reference case: Journaldato 2024-01-05, ArkivsakID 24/123, one PDF "Vedlegg 1".
func standardCase() testCase {
	return testCase{
		Fields: [][2]string{{"Journaldato", "2024-01-05"}, {"ArkivsakID", "24/123"}, {"DokumentID", "2024001234"}},
		Docs:   []testDoc{{ID: "1", Title: "Vedlegg 1", Data: pdfBytes}},
	}
}
