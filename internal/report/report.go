// Package report summarizes a dedup export: region and keyword filters, a
// per-region frequency table, and a CSV download.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/cromap-crawler/internal/crawler"
)

// CSVPreamble prefixes the CSV body so the file can be pasted as a data URI.
const CSVPreamble = "data:text/csv;charset=utf-8,"

// DefaultRegions is the region allow-list applied when none is given.
var DefaultRegions = []string{"united_states", "united_kingdom", "germany", "canada"}

// DefaultKeywords is the keyword list applied when none is given.
var DefaultKeywords = []string{"oncology", "cancer", "tumour", "immuno-oncology", "preclinical", "pre-clinical"}

// Entry pairs a record with its fingerprint.
type Entry struct {
	Fingerprint string
	Record      crawler.Record
}

// RegionCount is one row of the frequency table.
type RegionCount struct {
	Region string
	Count  int
}

// Entries flattens an export into fingerprint order.
func Entries(export map[string]crawler.Record) []Entry {
	out := make([]Entry, 0, len(export))
	for fp, rec := range export {
		out = append(out, Entry{Fingerprint: fp, Record: rec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out
}

// FilterRegions keeps entries whose region is one of regions.
func FilterRegions(entries []Entry, regions ...string) []Entry {
	allowed := make(map[string]struct{}, len(regions))
	for _, r := range regions {
		allowed[r] = struct{}{}
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := allowed[e.Record.Region]; ok {
			out = append(out, e)
		}
	}
	return out
}

// FilterKeywords keeps entries whose lowercased descriptions and name contain
// any of keywords.
func FilterKeywords(entries []Entry, keywords ...string) []Entry {
	needles := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			needles = append(needles, k)
		}
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		text := strings.ToLower(strings.Join(e.Record.Descriptions, " ") + " " + e.Record.Name)
		for _, n := range needles {
			if strings.Contains(text, n) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// RegionStats counts entries per region, largest first, ties by region name.
func RegionStats(entries []Entry) []RegionCount {
	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.Record.Region]++
	}
	out := make([]RegionCount, 0, len(counts))
	for region, n := range counts {
		out = append(out, RegionCount{Region: region, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Region < out[j].Region
	})
	return out
}

// WriteCSV writes the preamble followed by one name,website,region row per
// entry with CRLF line endings.
func WriteCSV(w io.Writer, entries []Entry) error {
	if _, err := io.WriteString(w, CSVPreamble); err != nil {
		return fmt.Errorf("write csv preamble: %w", err)
	}
	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	for _, e := range entries {
		if err := cw.Write([]string{e.Record.Name, e.Record.Website, e.Record.Region}); err != nil {
			return fmt.Errorf("write csv row %s: %w", e.Fingerprint, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// RenderStats renders the total and per-region counts as a table.
func RenderStats(w io.Writer, total int, stats []RegionCount) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Region", "Records"})
	for _, s := range stats {
		t.AppendRow(table.Row{s.Region, s.Count})
	}
	t.AppendFooter(table.Row{"Total", total})
	t.Render()
}
