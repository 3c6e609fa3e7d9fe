// Package crawler defines core types shared across subsystems.
package crawler

import (
	"encoding/json"
	"fmt"
	"strings"
)

// LinkKind identifies the level of a link in the directory hierarchy.
type LinkKind string

// Link kinds, labelled the way the directory site labels them.
const (
	KindRoot      LinkKind = "base"
	KindRegion    LinkKind = "country"
	KindSubRegion LinkKind = "state"
	KindRecord    LinkKind = "cro"
)

// ParseLinkKind maps a list-page header label onto a LinkKind. Anything that is
// not a country or state heading is a record link.
func ParseLinkKind(label string) LinkKind {
	switch LinkKind(strings.ToLower(strings.TrimSpace(label))) {
	case KindRegion:
		return KindRegion
	case KindSubRegion:
		return KindSubRegion
	case KindRoot:
		return KindRoot
	default:
		return KindRecord
	}
}

// Expands reports whether links of this kind point at list pages.
func (k LinkKind) Expands() bool {
	switch k {
	case KindRoot, KindRegion, KindSubRegion:
		return true
	default:
		return false
	}
}

// Link is a discovered crawl target. Links are immutable once created; the
// origin pointer is fixed at construction and never owned by the child.
type Link struct {
	Name string   `json:"name"`
	Href string   `json:"href"`
	Kind LinkKind `json:"link_type"`

	origin *Link
}

// NewLink builds a parentless link.
func NewLink(name, href string, kind LinkKind) Link {
	return Link{Name: name, Href: href, Kind: kind}
}

// WithOrigin returns a copy of l bound to parent.
func (l Link) WithOrigin(parent *Link) *Link {
	child := l
	child.origin = parent
	return &child
}

// Origin returns the link this one was discovered from, or nil for the seed.
func (l *Link) Origin() *Link {
	if l == nil {
		return nil
	}
	return l.origin
}

func (l *Link) String() string {
	if l == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %q (%s)", l.Kind, l.Name, l.Href)
}

// Record is an organization extracted from a record page.
type Record struct {
	Name         string            `json:"name"`
	Website      string            `json:"website"`
	Region       string            `json:"region,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	Descriptions []string          `json:"descriptions"`
}

// Result is the parsed outcome of fetching one URL. It is a closed sum type:
// the only implementations are LinkList and Extracted.
type Result interface {
	isResult()
}

// LinkList is the result of expanding a list page.
type LinkList []Link

// Extracted is the result of scraping a record page.
type Extracted struct {
	Record Record
}

func (LinkList) isResult()  {}
func (Extracted) isResult() {}

// resultEnvelope is the shape-discriminated wire form of a Result.
type resultEnvelope struct {
	Links  json.RawMessage `json:"links,omitempty"`
	Record json.RawMessage `json:"record,omitempty"`
}

// MarshalResult encodes a Result for the fetch cache.
func MarshalResult(res Result) (json.RawMessage, error) {
	var (
		env resultEnvelope
		err error
	)
	switch r := res.(type) {
	case LinkList:
		links := []Link(r)
		if links == nil {
			links = []Link{}
		}
		env.Links, err = json.Marshal(links)
	case Extracted:
		env.Record, err = json.Marshal(r.Record)
	default:
		return nil, fmt.Errorf("marshal result: unsupported type %T", res)
	}
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return data, nil
}

// UnmarshalResult decodes a cached Result, telling the variants apart by shape.
func UnmarshalResult(data []byte) (Result, error) {
	var env resultEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	switch {
	case len(env.Record) > 0:
		var rec Record
		if err := json.Unmarshal(env.Record, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		return Extracted{Record: rec}, nil
	case len(env.Links) > 0:
		var links []Link
		if err := json.Unmarshal(env.Links, &links); err != nil {
			return nil, fmt.Errorf("unmarshal links: %w", err)
		}
		if links == nil {
			links = []Link{}
		}
		return LinkList(links), nil
	default:
		return nil, fmt.Errorf("unmarshal result: entry is neither links nor record")
	}
}
