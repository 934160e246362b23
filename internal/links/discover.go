package links

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/noahxzhu/timetable-notify/internal/model"
)

const (
	defaultFilename = "schedule.xls"
	ancestorDepth   = 3
)

// Discover lists the spreadsheet links on the students page. Document cards
// are preferred; when the page has none every spreadsheet anchor is used and
// its description is built from the surrounding text.
func Discover(html, baseURL string) ([]model.Link, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	var found []model.Link
	doc.Find("div.gw-document-item").Each(func(_ int, item *goquery.Selection) {
		a := item.Find("a.gw-document-item__download-link[href]").First()
		if a.Length() == 0 {
			return
		}
		href, _ := a.Attr("href")
		if !isSpreadsheet(href) {
			return
		}

		var description string
		if overview := item.Find(".gw-document-item__overview").First(); overview.Length() > 0 {
			description = collapse(overview.Text())
		} else {
			description = collapse(a.Text())
		}
		found = append(found, newLink(baseURL, href, description))
	})
	if len(found) > 0 {
		return found, nil
	}

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !isSpreadsheet(href) {
			return
		}

		parts := []string{a.Text()}
		current := a
		for i := 0; i < ancestorDepth; i++ {
			parent := current.Parent()
			if parent.Length() == 0 {
				break
			}
			parts = append(parts, parent.Text())
			current = parent
		}
		found = append(found, newLink(baseURL, href, uniqueWords(strings.Join(parts, " "))))
	})
	return found, nil
}

func newLink(baseURL, href, description string) model.Link {
	name := filename(href)
	if description == "" {
		description = name
	}
	return model.Link{
		URL:         absolute(baseURL, href),
		Filename:    name,
		Description: description,
	}
}

func isSpreadsheet(href string) bool {
	return strings.Contains(strings.ToLower(href), ".xls")
}

func filename(href string) string {
	if i := strings.LastIndex(href, "/"); i >= 0 {
		href = href[i+1:]
	}
	if href == "" {
		return defaultFilename
	}
	return href
}

func absolute(baseURL, href string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return strings.TrimSuffix(baseURL, "/") + href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return strings.TrimSuffix(baseURL, "/") + href
	}
	return base.ResolveReference(ref).String()
}

// collapse joins the whitespace-separated words of s with single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// uniqueWords is collapse with repeated words dropped, first occurrence kept.
func uniqueWords(s string) string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range strings.Fields(s) {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return strings.Join(out, " ")
}
