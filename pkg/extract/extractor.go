// Package extract pulls case links, pagination and case details out of innsyn portal HTML.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/innsyn-arkiv/innsyn-archiver/pkg/config"
	"github.com/innsyn-arkiv/innsyn-archiver/pkg/utils"
)

// Markers are the literal texts and selectors the extractor looks for.
type Markers struct {
	CaseLinkText       string // Exact anchor text of a listing's case links
	NextLinkText       string // Anchor text of the next-page link, compared case-insensitively
	MetadataTable      string // Selector of the metadata table on a case page
	SenderHeading      string // Heading text that precedes the sender block
	SenderBlock        string // Selector of the sender block
	DocumentHeading    string // Heading text that precedes the documents or the censorship notice
	CensorBlock        string // Selector of the censorship notice
	CensorMarker       string // Substring that marks the notice as a censorship notice
	AttachmentList     string // Selector of the document list following the document heading
	CaseReferenceLabel string // Metadata label of the case file reference
	JournalIDParam     string // Case URL query parameter carrying the journal entry id
}

// DefaultMarkers returns the markers used by the live portals.
func DefaultMarkers() Markers {
	return Markers{
		CaseLinkText:       "Gå til journalposten",
		NextLinkText:       "neste",
		MetadataTable:      "table.table.hh.i-bgw.two",
		SenderHeading:      "Avsender(e)",
		SenderBlock:        "div.dokmottakere",
		DocumentHeading:    "Tekstdokument",
		CensorBlock:        "div.content-text",
		CensorMarker:       "ikke offentlig",
		AttachmentList:     "ul.innsyn_dok",
		CaseReferenceLabel: "ArkivsakID",
		JournalIDParam:     "journalpostid",
	}
}

// MarkersFrom overlays the non-empty config overrides on DefaultMarkers.
func MarkersFrom(cfg config.MarkersConfig) Markers {
	m := DefaultMarkers()
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&m.CaseLinkText, cfg.CaseLinkText)
	set(&m.NextLinkText, cfg.NextLinkText)
	set(&m.MetadataTable, cfg.MetadataTable)
	set(&m.SenderHeading, cfg.SenderHeading)
	set(&m.SenderBlock, cfg.SenderBlock)
	set(&m.DocumentHeading, cfg.DocumentHeading)
	set(&m.CensorBlock, cfg.CensorBlock)
	set(&m.CensorMarker, cfg.CensorMarker)
	set(&m.AttachmentList, cfg.AttachmentList)
	set(&m.CaseReferenceLabel, cfg.CaseReferenceLabel)
	set(&m.JournalIDParam, cfg.JournalIDParam)
	return m
}

// Field is one metadata table row.
type Field struct {
	Label string
	Value string
}

// AttachmentLink is one document anchor on a case page.
type AttachmentLink struct {
	URL   string // Absolute, resolved against the case page URL
	Title string // Trimmed anchor text
}

// CasePage is everything extracted from one case detail page.
type CasePage struct {
	URL           string
	JournalpostID string
	Fields        []Field // Table row order
	Sender        string  // Newline separated, empty if the page has no sender section
	Censored      bool
	CensorReason  string // Whitespace-normalized notice text, set iff Censored
	Attachments   []AttachmentLink

	referenceLabel string
}

// ArkivsakID returns the value of the case file reference row.
func (c *CasePage) ArkivsakID() (string, error) {
	for _, f := range c.Fields {
		if strings.Contains(f.Label, c.referenceLabel) {
			if v := utils.Normalize(f.Value); v != "" {
				return v, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no %q row on %s", utils.ErrMissingCaseReference, c.referenceLabel, c.URL)
}

// Extractor applies a set of Markers to parsed pages. It holds no mutable state.
type Extractor struct {
	m Markers
}

// New creates an Extractor.
func New(m Markers) *Extractor {
	return &Extractor{m: m}
}

// Markers returns the markers this extractor uses.
func (e *Extractor) Markers() Markers {
	return e.m
}

// ParseHTML parses a fetched page.
func ParseHTML(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: HTML: %w", utils.ErrParsing, err)
	}
	return doc, nil
}

// CaseLinks returns the absolute case detail URLs on a listing page, in document order, without duplicates.
func (e *Extractor) CaseLinks(doc *goquery.Document, base string) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}

	var links []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		if strings.TrimSpace(a.Text()) != e.m.CaseLinkText {
			return
		}
		abs, ok := resolve(baseURL, a.AttrOr("href", ""))
		if !ok || seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, abs)
	})
	return links
}

// NextPage returns the absolute URL of the listing's next-page link, if any.
func (e *Extractor) NextPage(doc *goquery.Document, base string) (string, bool) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", false
	}

	var next string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if !strings.EqualFold(strings.TrimSpace(a.Text()), e.m.NextLinkText) {
			return true
		}
		if abs, ok := resolve(baseURL, a.AttrOr("href", "")); ok {
			next = abs
			return false
		}
		return true
	})
	return next, next != ""
}

// JournalpostID reads the journal entry id from a case URL. The parameter name is matched case-insensitively.
func (e *Extractor) JournalpostID(caseURL string) (string, error) {
	u, err := url.Parse(caseURL)
	if err != nil {
		return "", fmt.Errorf("%w: URL %q: %w", utils.ErrParsing, caseURL, err)
	}
	for key, values := range u.Query() {
		if strings.EqualFold(key, e.m.JournalIDParam) && len(values) > 0 {
			if id := strings.TrimSpace(values[0]); id != "" {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("%w: URL %q has no %s parameter", utils.ErrParsing, caseURL, e.m.JournalIDParam)
}

// ParseCase extracts metadata, sender, censorship and attachments from a case page.
// Missing sections contribute nothing; only a case URL without a journal id is an error.
func (e *Extractor) ParseCase(doc *goquery.Document, caseURL string) (*CasePage, error) {
	jpid, err := e.JournalpostID(caseURL)
	if err != nil {
		return nil, err
	}
	baseURL, _ := url.Parse(caseURL) // JournalpostID already parsed it

	page := &CasePage{
		URL:            caseURL,
		JournalpostID:  jpid,
		Fields:         e.fields(doc),
		referenceLabel: e.m.CaseReferenceLabel,
	}

	order := documentOrder(doc)

	if h := findHeading(doc, e.m.SenderHeading); h != nil {
		if block := firstAfter(doc, order, h, e.m.SenderBlock); block != nil {
			page.Sender = strings.Join(textLines(block), "\n")
		}
	}

	docHeading := findHeading(doc, e.m.DocumentHeading)
	if docHeading == nil {
		return page, nil
	}
	if block := firstAfter(doc, order, docHeading, e.m.CensorBlock); block != nil {
		text := block.Text()
		if strings.Contains(text, e.m.CensorMarker) {
			page.Censored = true
			page.CensorReason = utils.Normalize(text)
			return page, nil
		}
	}

	if list := firstAfter(doc, order, docHeading, e.m.AttachmentList); list != nil {
		list.Find("a").Each(func(_ int, a *goquery.Selection) {
			href, ok := a.Attr("href")
			if !ok {
				return
			}
			abs, ok := resolve(baseURL, href)
			if !ok {
				return
			}
			page.Attachments = append(page.Attachments, AttachmentLink{URL: abs, Title: strings.TrimSpace(a.Text())})
		})
	}

	return page, nil
}

func (e *Extractor) fields(doc *goquery.Document) []Field {
	var fields []Field
	doc.Find(e.m.MetadataTable).First().Find("tr").Each(func(_ int, row *goquery.Selection) {
		th := row.Find("th").First()
		td := row.Find("td").First()
		if th.Length() == 0 || td.Length() == 0 {
			return
		}
		label := strings.TrimSpace(strings.TrimRight(utils.Normalize(th.Text()), ":"))
		if label == "" {
			return
		}
		fields = append(fields, Field{Label: label, Value: utils.Normalize(td.Text())})
	})
	return fields
}

func resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}

// findHeading returns the first h1-h4 whose trimmed text equals text.
func findHeading(doc *goquery.Document, text string) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("h1, h2, h3, h4").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if strings.TrimSpace(h.Text()) == text {
			found = h
			return false
		}
		return true
	})
	return found
}

// documentOrder numbers every element node in document order.
func documentOrder(doc *goquery.Document) map[*html.Node]int {
	order := make(map[*html.Node]int)
	doc.Find("*").Each(func(i int, s *goquery.Selection) {
		order[s.Get(0)] = i
	})
	return order
}

// firstAfter returns the first element matching selector that follows anchor in document order.
func firstAfter(doc *goquery.Document, order map[*html.Node]int, anchor *goquery.Selection, selector string) *goquery.Selection {
	pos, ok := order[anchor.Get(0)]
	if !ok {
		return nil
	}
	var found *goquery.Selection
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if order[s.Get(0)] > pos {
			found = s
			return false
		}
		return true
	})
	return found
}

// textLines returns the trimmed, non-empty text nodes under sel in order.
func textLines(sel *goquery.Selection) []string {
	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				lines = append(lines, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return lines
}
