// Package dedup admits each distinct record once, keyed by a fingerprint of
// its canonical serialization.
package dedup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/JakeFAU/cromap-crawler/internal/crawler"
	"github.com/JakeFAU/cromap-crawler/internal/hash/sha256"
	"github.com/JakeFAU/cromap-crawler/internal/storage"
)

// DefaultPath is the object path of the persisted index.
const DefaultPath = "cro.json"

// canonicalRecord fixes the field order of the serialized form. encoding/json
// writes map keys sorted, so attribute order never affects the bytes.
type canonicalRecord struct {
	Name         string            `json:"name"`
	Website      string            `json:"website"`
	Region       string            `json:"region"`
	Attributes   map[string]string `json:"attributes"`
	Descriptions []string          `json:"descriptions"`
}

// Canonicalize returns the stable byte form of r. Nil and empty collections
// serialize identically. Fields holding invalid UTF-8 are rejected with
// crawler.ErrParse, since encoding/json would rewrite them and let distinct
// records collide.
func Canonicalize(r crawler.Record) ([]byte, error) {
	if field, ok := invalidUTF8(r); ok {
		return nil, fmt.Errorf("%w: record %q has invalid utf-8 in %s", crawler.ErrParse, r.Name, field)
	}
	c := canonicalRecord{
		Name:         r.Name,
		Website:      r.Website,
		Region:       r.Region,
		Attributes:   r.Attributes,
		Descriptions: r.Descriptions,
	}
	if c.Attributes == nil {
		c.Attributes = map[string]string{}
	}
	if c.Descriptions == nil {
		c.Descriptions = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("canonicalize record %q: %w", r.Name, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func invalidUTF8(r crawler.Record) (string, bool) {
	switch {
	case !utf8.ValidString(r.Name):
		return "name", true
	case !utf8.ValidString(r.Website):
		return "website", true
	case !utf8.ValidString(r.Region):
		return "region", true
	}
	for k, v := range r.Attributes {
		if !utf8.ValidString(k) || !utf8.ValidString(v) {
			return "attributes", true
		}
	}
	for _, d := range r.Descriptions {
		if !utf8.ValidString(d) {
			return "descriptions", true
		}
	}
	return "", false
}

// Index is a fingerprint-keyed set of records. It is safe for concurrent use.
type Index struct {
	hasher crawler.Hasher

	mu      sync.Mutex
	records map[string]crawler.Record
}

// New returns an empty index. A nil hasher defaults to SHA-256.
func New(hasher crawler.Hasher) *Index {
	return Restore(hasher, nil)
}

// Restore resumes an index from a prior export.
func Restore(hasher crawler.Hasher, records map[string]crawler.Record) *Index {
	if hasher == nil {
		hasher = sha256.New()
	}
	idx := &Index{
		hasher:  hasher,
		records: make(map[string]crawler.Record, len(records)),
	}
	for fp, rec := range records {
		idx.records[fp] = rec
	}
	return idx
}

// Fingerprint hashes the canonical form of r.
func (i *Index) Fingerprint(r crawler.Record) (string, error) {
	data, err := Canonicalize(r)
	if err != nil {
		return "", err
	}
	fp, err := i.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash record %q: %w", r.Name, err)
	}
	return fp, nil
}

// Insert adds r and returns its fingerprint. If an equal record is already
// indexed the stored entry is kept and crawler.ErrDuplicateKey is returned.
func (i *Index) Insert(r crawler.Record) (string, error) {
	fp, err := i.Fingerprint(r)
	if err != nil {
		return "", err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.records[fp]; ok {
		return fp, fmt.Errorf("insert %s: %w", fp, crawler.ErrDuplicateKey)
	}
	i.records[fp] = r
	return fp, nil
}

// Count reports the number of distinct records.
func (i *Index) Count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.records)
}

// Export returns a copy of the fingerprint to record mapping.
func (i *Index) Export() map[string]crawler.Record {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make(map[string]crawler.Record, len(i.records))
	for fp, rec := range i.records {
		out[fp] = rec
	}
	return out
}

// Save writes the index export to path as JSON.
func Save(ctx context.Context, store storage.BlobStore, path string, idx *Index) error {
	if path == "" {
		path = DefaultPath
	}
	data, err := json.MarshalIndent(idx.Export(), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode dedup index: %w", crawler.ErrPersist, err)
	}
	if _, err := store.PutObject(ctx, path, storage.ContentTypeJSON, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: write dedup index %s: %w", crawler.ErrPersist, path, err)
	}
	return nil
}

// ReadExport reads a persisted export. A missing object yields an empty map.
func ReadExport(ctx context.Context, store storage.BlobStore, path string) (map[string]crawler.Record, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := store.GetObject(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]crawler.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dedup index: %w", err)
	}
	records := map[string]crawler.Record{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode dedup index %s: %w", path, err)
	}
	return records, nil
}

// Load restores an index persisted by Save.
func Load(ctx context.Context, store storage.BlobStore, path string, hasher crawler.Hasher) (*Index, error) {
	records, err := ReadExport(ctx, store, path)
	if err != nil {
		return nil, err
	}
	return Restore(hasher, records), nil
}
