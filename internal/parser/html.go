// Package parser turns downloaded pages into outbound links and word tokens.
package parser

import (
	"bytes"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/PentesterFlow/PoliteCrawler/internal/errors"
	"github.com/PentesterFlow/PoliteCrawler/internal/fetch"
)

// DefaultMinTokens is the token count below which a page is ignored.
const DefaultMinTokens = 130

// ErrThinContent is returned together with the page when it has fewer
// tokens than the processor's minimum.
var ErrThinContent = stderrors.New("page below minimum token count")

// Page is what the crawler keeps from a processed HTML document.
type Page struct {
	// Links are absolute, fragment-free and deduplicated, in document order.
	Links  []string
	Tokens []string
}

// Processor extracts links and tokens from HTML responses.
type Processor struct {
	minTokens int
}

// NewProcessor creates a processor that rejects pages with fewer than
// minTokens tokens. Zero or less disables the cutoff.
func NewProcessor(minTokens int) *Processor {
	return &Processor{minTokens: minTokens}
}

// MinTokens returns the configured cutoff.
func (p *Processor) MinTokens() int {
	return p.minTokens
}

// Process parses a 200 response. Non-HTML bodies yield a content_type
// error, undecodable ones an encoding error. A thin page is returned along
// with ErrThinContent.
func (p *Processor) Process(resp *fetch.Response) (*Page, error) {
	pageURL := resp.FinalURL
	if pageURL == "" {
		pageURL = resp.URL
	}

	contentType := resp.ContentType()
	if contentType == "" {
		contentType = http.DetectContentType(resp.Body)
	}
	if !isHTML(contentType) {
		return nil, errors.NewContentTypeError(pageURL, contentType)
	}

	text, err := decode(resp.Body, contentType)
	if err != nil {
		return nil, errors.NewEncodingError(pageURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return nil, errors.NewParseError(pageURL, "html_parse", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, errors.NewParseError(pageURL, "base_url", err)
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			base = base.ResolveReference(ref)
		}
	}

	page := &Page{
		Links:  extractLinks(doc, base),
		Tokens: Tokenize(visibleText(doc)),
	}

	if p.minTokens > 0 && len(page.Tokens) < p.minTokens {
		return page, ErrThinContent
	}
	return page, nil
}

func isHTML(contentType string) bool {
	mediatype, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(strings.ToLower(mediatype)) {
	case "text/html", "application/xhtml+xml":
		return true
	}
	return false
}

// decode converts body to UTF-8 using the declared or sniffed charset and
// falls back to replacing invalid UTF-8 sequences.
func decode(body []byte, contentType string) (string, error) {
	if len(body) == 0 {
		return "", nil
	}

	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err == nil {
		if decoded, err := io.ReadAll(r); err == nil && utf8.Valid(decoded) {
			return string(decoded), nil
		}
	}

	text := strings.ToValidUTF8(string(body), "\uFFFD")
	if strings.Count(text, "\uFFFD") > len(text)/2 {
		return "", stderrors.New("body is not text in any known encoding")
	}
	return text, nil
}

var linkAttrs = []struct {
	selector string
	attr     string
}{
	{"a[href]", "href"},
	{"area[href]", "href"},
	{"frame[src]", "src"},
	{"iframe[src]", "src"},
}

func extractLinks(doc *goquery.Document, base *url.URL) []string {
	links := make([]string, 0, 64)
	seen := make(map[string]bool)

	for _, la := range linkAttrs {
		doc.Find(la.selector).Each(func(_ int, s *goquery.Selection) {
			raw, _ := s.Attr(la.attr)
			link := resolveURL(strings.TrimSpace(raw), base)
			if link != "" && !seen[link] {
				seen[link] = true
				links = append(links, link)
			}
		})
	}
	return links
}

// resolveURL resolves href against base and strips the fragment. Links that
// cannot be fetched over HTTP resolve to "".
func resolveURL(href string, base *url.URL) string {
	if href == "" {
		return ""
	}

	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") ||
		strings.HasPrefix(lower, "data:") {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return resolved.String()
}

var invisible = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
}

// visibleText joins the text nodes of the document, skipping markup that is
// never rendered as words.
func visibleText(doc *goquery.Document) string {
	var sb strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
			return
		case html.ElementNode:
			if invisible[n.Data] {
				return
			}
		case html.CommentNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	for _, n := range doc.Nodes {
		walk(n)
	}
	return sb.String()
}

// Tokenize splits text on whitespace, trims leading and trailing runes that
// are not letters, digits or underscores, and lowercases what remains.
func Tokenize(text string) []string {
	fields := strings.Fields(text)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tok := strings.TrimFunc(f, func(r rune) bool { return !isWordRune(r) })
		if tok == "" {
			continue
		}
		tokens = append(tokens, strings.ToLower(tok))
	}
	return tokens
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
