package scrape

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/cromap-crawler/internal/crawler"
)

// Directory page selectors.
const (
	listEntrySelector   = ".media-heading"
	recordNameSelector  = ".panel-heading"
	recordDescSelector  = ".tab-content"
	recordLabelSelector = ".text-muted.uppercase"
	websiteAttribute    = "website"
)

// ParseList extracts the links of a list page. Each entry heading carries the
// link name on its first line and, for country and state entries, the kind
// label on its second line. The href comes from the heading's second child.
func ParseList(body []byte) ([]crawler.Link, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %w", crawler.ErrParse, err)
	}

	entries := doc.Find(listEntrySelector)
	links := make([]crawler.Link, 0, entries.Length())
	var parseErr error
	entries.EachWithBreak(func(i int, entry *goquery.Selection) bool {
		header := textLines(entry.Text())
		anchor := entry.Children().Eq(1)
		if anchor.Length() == 0 {
			parseErr = fmt.Errorf("%w: list entry %d has no link element", crawler.ErrParse, i)
			return false
		}
		href, _ := anchor.Attr("href")
		var name, label string
		if len(header) > 0 {
			name = header[0]
		}
		if len(header) > 1 {
			label = header[1]
		}
		links = append(links, crawler.NewLink(name, strings.TrimSpace(href), ParseLinkLabel(label)))
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return links, nil
}

// ParseLinkLabel maps a list entry label to a link kind. Only country and
// state labels mark list pages; everything else is a record.
func ParseLinkLabel(label string) crawler.LinkKind {
	kind := crawler.ParseLinkKind(label)
	if kind == crawler.KindRoot {
		return crawler.KindRecord
	}
	return kind
}

// ParseRecord extracts an organization from a record page.
func ParseRecord(body []byte) (crawler.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Record{}, fmt.Errorf("%w: parse html: %w", crawler.ErrParse, err)
	}

	heading := doc.Find(recordNameSelector).First()
	if heading.Length() == 0 {
		return crawler.Record{}, fmt.Errorf("%w: missing %s", crawler.ErrParse, recordNameSelector)
	}
	content := doc.Find(recordDescSelector).First()
	if content.Length() == 0 {
		return crawler.Record{}, fmt.Errorf("%w: missing %s", crawler.ErrParse, recordDescSelector)
	}

	attrs := map[string]string{}
	doc.Find(recordLabelSelector).Each(func(_ int, label *goquery.Selection) {
		key := attributeKey(label.Text())
		if key == "" {
			return
		}
		attrs[key] = attributeValue(label.Parent())
	})

	for k, v := range attrs {
		attrs[k] = validText(v)
	}
	record := crawler.Record{
		Name:         validText(heading.Text()),
		Website:      attrs[websiteAttribute],
		Attributes:   attrs,
		Descriptions: []string{validText(content.Text())},
	}
	return record, nil
}

// validText trims s and replaces invalid UTF-8 sequences with U+FFFD, so a
// record's fields survive JSON round trips unchanged.
func validText(s string) string {
	return strings.ToValidUTF8(strings.TrimSpace(s), "\uFFFD")
}

// attributeKey normalizes a section label such as "Phone Number:" into
// "phone_number".
func attributeKey(label string) string {
	key := strings.ToLower(validText(label))
	key = strings.ReplaceAll(key, ":", "")
	return strings.Join(strings.Fields(key), "_")
}

// attributeValue reads the value of a labelled section: the third child of the
// section (its href when it is a link, otherwise its text), or failing that
// the second non-empty line of the section text.
func attributeValue(section *goquery.Selection) string {
	if value := section.Children().Eq(2); value.Length() > 0 {
		if href, ok := value.Attr("href"); ok && href != "" {
			return strings.TrimSpace(href)
		}
		return strings.TrimSpace(value.Text())
	}
	lines := textLines(section.Text())
	if len(lines) > 1 {
		return lines[1]
	}
	return ""
}

// textLines splits text into trimmed, non-empty lines.
func textLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
