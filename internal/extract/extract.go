// Package extract pulls the page title and outbound links out of an HTML
// document.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/linkscraper/internal/scraper"
)

// Limits and placeholders applied to extracted values.
const (
	UntitledPage  = "Untitled Page"
	NoLinkText    = "No text"
	MaxNameRunes  = 255
	MaxURLLength  = 2048
	linkSelector  = "a[href]"
	titleSelector = "title"
)

// Document is the extracted content of one page.
type Document struct {
	Title string
	Links []scraper.Link
}

// Extract parses body and resolves every anchor against pageURL. Anchors with
// javascript: or mailto: targets, or hrefs that do not resolve, are skipped.
func Extract(pageURL string, body []byte) (Document, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return Document{}, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Document{}, fmt.Errorf("parse html: %w", err)
	}

	out := Document{Title: strings.TrimSpace(doc.Find(titleSelector).First().Text())}
	if out.Title == "" {
		out.Title = UntitledPage
	}

	doc.Find(linkSelector).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
			return
		}
		ref, err := base.Parse(href)
		if err != nil {
			return
		}
		out.Links = append(out.Links, scraper.Link{
			URL:  truncateBytes(ref.String(), MaxURLLength),
			Name: linkName(sel),
		})
	})
	return out, nil
}

// linkName picks the trimmed anchor text, then the first image alt, then the
// title attribute. Any non-empty attribute wins, even whitespace only, and
// collapses to a single space.
func linkName(sel *goquery.Selection) string {
	name := strings.TrimSpace(sel.Text())
	if name == "" {
		name, _ = sel.Find("img").First().Attr("alt")
	}
	if name == "" {
		name, _ = sel.Attr("title")
	}
	if name == "" {
		name = NoLinkText
	}
	return truncateRunes(collapseSpace(name), MaxNameRunes)
}

// collapseSpace replaces every whitespace run with one space.
func collapseSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
			}
			inSpace = true
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
