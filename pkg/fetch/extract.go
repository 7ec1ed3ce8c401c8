package fetch

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageItem is one article-like block extracted from an index page: a link
// with a title and optional surrounding text.
type PageItem struct {
	Title string
	URL   string // absolute
	Text  string
}

// Page is the parsed form of a fetched HTML document.
type Page struct {
	Title      string
	Text       string // visible body text, scripts/styles/nav stripped
	FooterText string
	Items      []PageItem
	Links      []string // absolute hrefs in document order, deduplicated
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// ParsePage extracts the text, links and article-like blocks of an HTML
// document. baseURL resolves relative hrefs.
func ParsePage(body []byte, baseURL string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	page := &Page{
		Title: collapseWhitespace(doc.Find("title").First().Text()),
	}

	doc.Find("script, style, noscript, iframe").Remove()

	page.FooterText = collapseWhitespace(doc.Find("footer").Text())

	// Body text excludes chrome elements so change detection compares
	// content, not navigation.
	content := doc.Clone()
	content.Find("nav, header, footer, aside").Remove()
	page.Text = collapseWhitespace(content.Find("body").Text())
	if page.Text == "" {
		page.Text = collapseWhitespace(content.Text())
	}

	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		abs := resolveURL(base, href)
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		page.Links = append(page.Links, abs)
	})

	page.Items = extractItems(doc, base)

	return page, nil
}

// extractItems finds article-like blocks. Preference order: semantic
// <article> elements, then list items and divs that contain a titled link.
func extractItems(doc *goquery.Document, base *url.URL) []PageItem {
	var items []PageItem
	seen := make(map[string]bool)

	add := func(sel *goquery.Selection) {
		link := sel.Find("a[href]").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		abs := resolveURL(base, href)
		if abs == "" || seen[abs] {
			return
		}

		title := collapseWhitespace(sel.Find("h1, h2, h3, h4").First().Text())
		if title == "" {
			title = collapseWhitespace(link.Text())
		}
		if title == "" {
			return
		}

		seen[abs] = true
		items = append(items, PageItem{
			Title: title,
			URL:   abs,
			Text:  collapseWhitespace(sel.Text()),
		})
	}

	doc.Find("article").Each(func(_ int, sel *goquery.Selection) { add(sel) })
	if len(items) > 0 {
		return items
	}

	doc.Find("li, div.item, div.news-item, div.post, div.card").Each(func(_ int, sel *goquery.Selection) {
		if sel.Find("h1, h2, h3, h4").Length() == 0 {
			return
		}
		add(sel)
	})

	return items
}

func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}
